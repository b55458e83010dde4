package sender

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/RishiIRL/austream/internal/logging"
	"github.com/RishiIRL/austream/internal/recovery"
)

// client is one authenticated receiver. It owns a bounded send queue and
// a dedicated drain goroutine; the control loop updates lastSeen on
// heartbeats and the reaper tears the client down when heartbeats lapse.
type client struct {
	addr  *net.UDPAddr
	queue *packetQueue

	lastSeen atomic.Int64 // wall clock, UnixNano

	cancel context.CancelFunc
	done   chan struct{}
}

func newClient(addr *net.UDPAddr, queueDepth int) *client {
	c := &client{
		addr:  addr,
		queue: newPacketQueue(queueDepth),
		done:  make(chan struct{}),
	}
	c.touch()
	return c
}

// touch records receiver liveness.
func (c *client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// idle returns how long ago the receiver was last heard from.
func (c *client) idle() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

// stop cancels the drain goroutine and waits for it to exit, so that at
// most one drain task per remote endpoint ever runs.
func (c *client) stop() {
	c.cancel()
	<-c.done
}

// drain ships queued packets to the receiver until cancelled. Send
// failures are counted and the packet dropped; the client only goes away
// when its heartbeats lapse.
func (s *Session) drain(ctx context.Context, c *client) {
	defer close(c.done)
	defer recovery.RecoverWithLog(s.logger, s.metrics, "sender.drain")

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-c.queue.packets():
			if _, err := s.conn.WriteToUDP(p, c.addr); err != nil {
				s.stats.sendErrors.Add(1)
				s.metrics.RecordSendError()
				s.logger.Debug("datagram send failed",
					logging.KeyRemoteAddr, c.addr.String(), logging.KeyError, err)
				continue
			}
			s.stats.sent.Add(1)
			s.stats.bytes.Add(uint64(len(p)))
			s.metrics.RecordDatagramSent(len(p))
		}
	}
}
