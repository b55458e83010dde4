package timesync

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/RishiIRL/austream/internal/logging"
	"github.com/RishiIRL/austream/internal/recovery"
)

const (
	// serverReadTimeout paces the receive loop so that context
	// cancellation and pruning both make progress.
	serverReadTimeout = 100 * time.Millisecond

	// activeEntryTTL is how long a client stays in the recently-active
	// set after its last request.
	activeEntryTTL = 60 * time.Second

	// pruneInterval is how often stale entries are removed.
	pruneInterval = 30 * time.Second
)

// Server answers clock-sync requests on the time port. It keeps no
// per-client protocol state; the recently-active set exists only so
// operators can see who is syncing.
type Server struct {
	conn   *net.UDPConn
	logger *slog.Logger

	nowFunc func() int64

	mu     sync.Mutex
	active map[string]time.Time

	lastPrune time.Time
}

// NewServer binds a clock-sync server to the given UDP port.
func NewServer(port int, logger *slog.Logger) (*Server, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind time port %d: %w", port, err)
	}

	return &Server{
		conn:      conn,
		logger:    logger,
		nowFunc:   Nanotime,
		active:    make(map[string]time.Time),
		lastPrune: time.Now(),
	}, nil
}

// Run serves sync requests until the context is cancelled.
func (s *Server) Run(ctx context.Context) {
	defer recovery.RecoverWithLog(s.logger, nil, "timesync.Server")

	buf := make([]byte, 64)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(serverReadTimeout))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.maybePrune()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("time socket read failed", logging.KeyError, err)
			continue
		}

		t2 := s.nowFunc()

		t1, err := DecodeRequest(buf[:n])
		if err != nil {
			s.logger.Debug("malformed sync request", logging.KeyRemoteAddr, addr.String(), logging.KeyError, err)
			continue
		}

		s.markActive(addr)

		t3 := s.nowFunc()
		if _, err := s.conn.WriteToUDP(EncodeResponse(t1, t2, t3), addr); err != nil {
			s.logger.Debug("sync reply failed", logging.KeyRemoteAddr, addr.String(), logging.KeyError, err)
		}

		s.maybePrune()
	}
}

// Close releases the socket. Run returns shortly after.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Port returns the bound UDP port.
func (s *Server) Port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// ActiveClients returns how many clients synced within the last minute.
func (s *Server) ActiveClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	cutoff := time.Now().Add(-activeEntryTTL)
	for _, seen := range s.active {
		if seen.After(cutoff) {
			n++
		}
	}
	return n
}

func (s *Server) markActive(addr *net.UDPAddr) {
	s.mu.Lock()
	s.active[addr.String()] = time.Now()
	s.mu.Unlock()
}

func (s *Server) maybePrune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastPrune) < pruneInterval {
		return
	}
	s.lastPrune = now

	cutoff := now.Add(-activeEntryTTL)
	for key, seen := range s.active {
		if seen.Before(cutoff) {
			delete(s.active, key)
		}
	}
}
