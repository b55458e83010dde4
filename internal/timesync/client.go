package timesync

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/RishiIRL/austream/internal/logging"
	"github.com/RishiIRL/austream/internal/metrics"
	"github.com/RishiIRL/austream/internal/recovery"
)

const (
	// SyncInterval is the cadence of sync exchanges.
	SyncInterval = 2 * time.Second

	// syncTimeout bounds the wait for a reply. A dropped reply is retried
	// silently on the next cadence tick.
	syncTimeout = 1 * time.Second
)

// Client periodically measures the offset between the local monotonic
// clock and the sender's, plus the round-trip time. The latest measurement
// is readable atomically from any goroutine.
type Client struct {
	conn    *net.UDPConn
	logger  *slog.Logger
	metrics *metrics.Metrics

	nowFunc func() int64

	offset  atomic.Int64 // server minus local, nanoseconds
	rtt     atomic.Int64 // nanoseconds
	samples atomic.Uint64
}

// NewClient creates a clock-sync client talking to the sender's time port.
func NewClient(host string, port int, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("resolve time endpoint: %w", err)
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial time endpoint: %w", err)
	}

	return &Client{
		conn:    conn,
		logger:  logger,
		metrics: m,
		nowFunc: Nanotime,
	}, nil
}

// Run syncs once immediately and then every SyncInterval until the context
// is cancelled.
func (c *Client) Run(ctx context.Context) {
	defer recovery.RecoverWithLog(c.logger, c.metrics, "timesync.Client")

	if err := c.syncOnce(); err != nil {
		c.logger.Debug("clock sync failed", logging.KeyError, err)
	}

	ticker := time.NewTicker(SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.syncOnce(); err != nil {
				c.logger.Debug("clock sync failed", logging.KeyError, err)
			}
		}
	}
}

// Close releases the socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// syncOnce performs one request/response exchange and updates the offset
// and RTT estimates.
func (c *Client) syncOnce() error {
	t1 := c.nowFunc()
	if _, err := c.conn.Write(EncodeRequest(t1)); err != nil {
		return fmt.Errorf("send sync request: %w", err)
	}

	buf := make([]byte, 64)
	c.conn.SetReadDeadline(time.Now().Add(syncTimeout))
	n, err := c.conn.Read(buf)
	if err != nil {
		return fmt.Errorf("read sync response: %w", err)
	}
	t4 := c.nowFunc()

	t1Echo, t2, t3, err := DecodeResponse(buf[:n])
	if err != nil {
		return err
	}
	if t1Echo != t1 {
		return fmt.Errorf("sync response echoes %d, sent %d", t1Echo, t1)
	}

	offset := ((t2 - t1) + (t3 - t4)) / 2
	rtt := (t4 - t1) - (t3 - t2)

	c.offset.Store(offset)
	c.rtt.Store(rtt)
	c.samples.Add(1)

	if c.metrics != nil {
		c.metrics.SetClockOffset(time.Duration(offset))
		c.metrics.SetClockRTT(time.Duration(rtt))
	}

	c.logger.Debug("clock synced",
		logging.KeyOffset, time.Duration(offset).String(),
		logging.KeyRTT, time.Duration(rtt).String())

	return nil
}

// Offset returns the latest server-minus-local clock offset.
func (c *Client) Offset() time.Duration {
	return time.Duration(c.offset.Load())
}

// RTT returns the latest measured round-trip time.
func (c *Client) RTT() time.Duration {
	return time.Duration(c.rtt.Load())
}

// Synced reports whether at least one exchange has completed.
func (c *Client) Synced() bool {
	return c.samples.Load() > 0
}

// ServerToLocal converts a sender monotonic timestamp to the local clock
// using the current offset estimate. Play-out deadlines deliberately do not
// use this; it exists for display-quality time reasoning.
func (c *Client) ServerToLocal(serverTS int64) int64 {
	return serverTS - c.offset.Load()
}
