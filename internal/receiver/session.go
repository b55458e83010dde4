// Package receiver implements the playback side of an AuStream session:
// authentication against the sender, the encrypted ingress loop, loss
// accounting, and the deadline-driven play-out scheduler.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RishiIRL/austream/internal/audio"
	"github.com/RishiIRL/austream/internal/config"
	"github.com/RishiIRL/austream/internal/crypto"
	"github.com/RishiIRL/austream/internal/logging"
	"github.com/RishiIRL/austream/internal/metrics"
	"github.com/RishiIRL/austream/internal/pairing"
	"github.com/RishiIRL/austream/internal/protocol"
	"github.com/RishiIRL/austream/internal/recovery"
	"github.com/RishiIRL/austream/internal/timesync"
)

const (
	// handshakeTimeout bounds the wait for the sender's auth reply.
	handshakeTimeout = 3 * time.Second

	// streamReadTimeout paces the ingress loop so cancellation is
	// observed between datagrams.
	streamReadTimeout = 100 * time.Millisecond
)

// State is the receiver-visible connection state.
type State int32

const (
	StateNotAuthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateFailed
	StateDisconnected
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateNotAuthenticated:
		return "NOT_AUTHENTICATED"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateFailed:
		return "FAILED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// ErrHandshakeFailed is returned by Connect when authentication does not
// complete; FailReason carries the detail.
var ErrHandshakeFailed = errors.New("handshake failed")

// ReceivedPacket is one decrypted audio packet handed to the player.
type ReceivedPacket struct {
	Seq       uint32
	ServerTS  int64
	PCM       []byte
	RecvLocal int64
}

// Stats is a point-in-time snapshot of receiver counters.
type Stats struct {
	Received       uint64
	Lost           uint64
	DecryptErrors  uint64
	ProtocolErrors uint64
	FramesPlayed   uint64
	Underruns      uint64
	AnchorResets   uint64
	ClockOffset    time.Duration
	ClockRTT       time.Duration
}

// Options configures a receiver session.
type Options struct {
	Config  *config.Config
	Sink    audio.Sink
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Session is one receiver lifetime against one sender endpoint.
type Session struct {
	cfg     *config.Config
	sink    audio.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	target pairing.Info

	conn       *net.UDPConn
	cipher     *crypto.Cipher
	timeClient *timesync.Client
	player     *player

	state      atomic.Int32
	failReason atomic.Value // string

	bufferMs int

	received       atomic.Uint64
	lost           atomic.Uint64
	decryptErrors  atomic.Uint64
	protocolErrors atomic.Uint64

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates a session aimed at the given sender. Connect performs the
// handshake and starts the stream.
func New(opts Options, target pairing.Info) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Default()
	}

	s := &Session{
		cfg:     opts.Config,
		sink:    opts.Sink,
		logger:  logger.With(logging.KeyComponent, "receiver"),
		metrics: m,
		target:  target,
	}
	s.state.Store(int32(StateNotAuthenticated))
	s.failReason.Store("")
	return s
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// FailReason returns the failure detail when State is StateFailed.
func (s *Session) FailReason() string {
	return s.failReason.Load().(string)
}

// BufferMs returns the sender-suggested pre-roll depth once authenticated.
func (s *Session) BufferMs() int {
	return s.bufferMs
}

// SetVolume adjusts the sink gain.
func (s *Session) SetVolume(v float64) {
	s.sink.SetVolume(v)
}

// Stats returns a snapshot of the stream counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Received:       s.received.Load(),
		Lost:           s.lost.Load(),
		DecryptErrors:  s.decryptErrors.Load(),
		ProtocolErrors: s.protocolErrors.Load(),
	}
	if s.player != nil {
		st.FramesPlayed = s.player.played.Load()
		st.Underruns = s.player.underruns.Load()
		st.AnchorResets = s.player.anchorResets.Load()
	}
	if s.timeClient != nil {
		st.ClockOffset = s.timeClient.Offset()
		st.ClockRTT = s.timeClient.RTT()
	}
	return st
}

// Connect authenticates against the sender and, on success, starts the
// heartbeat, ingress, clock-sync and play-out tasks.
func (s *Session) Connect(ctx context.Context) error {
	if s.target.PIN == "" {
		return s.fail("no PIN provided")
	}

	s.state.Store(int32(StateAuthenticating))

	addr, err := net.ResolveUDPAddr("udp4",
		net.JoinHostPort(s.target.Host, fmt.Sprintf("%d", s.target.Port)))
	if err != nil {
		return s.fail(fmt.Sprintf("resolve sender: %v", err))
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return s.fail(fmt.Sprintf("dial sender: %v", err))
	}

	bufferMs, err := s.handshake(conn)
	if err != nil {
		conn.Close()
		return err
	}

	cipher, err := crypto.NewCipher(crypto.DeriveKey(s.target.PIN))
	if err != nil {
		conn.Close()
		return s.fail(fmt.Sprintf("crypto setup: %v", err))
	}

	timeClient, err := timesync.NewClient(s.target.Host,
		protocol.TimePort(s.target.Port), s.logger, s.metrics)
	if err != nil {
		conn.Close()
		return s.fail(fmt.Sprintf("clock sync setup: %v", err))
	}

	s.conn = conn
	s.cipher = cipher
	s.bufferMs = bufferMs
	s.timeClient = timeClient
	s.player = newPlayer(s.sink, bufferMs, s.logger, s.metrics)
	s.player.sink.SetVolume(s.cfg.Receiver.Volume)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.heartbeatLoop(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.ingressLoop(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.player.run(runCtx)
	}()

	go s.timeClient.Run(runCtx)

	s.state.Store(int32(StateAuthenticated))
	s.logger.Info("authenticated",
		logging.KeyRemoteAddr, conn.RemoteAddr().String(),
		"buffer_ms", bufferMs)

	return nil
}

// handshake sends the auth request and interprets the reply.
func (s *Session) handshake(conn *net.UDPConn) (int, error) {
	auth := protocol.BuildAuth(crypto.HashPIN(s.target.PIN))
	if _, err := conn.Write(auth); err != nil {
		return 0, s.fail(fmt.Sprintf("send auth: %v", err))
	}

	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, s.fail("handshake timed out")
		}
		return 0, s.fail(fmt.Sprintf("handshake read: %v", err))
	}

	reply := buf[:n]
	if protocol.IsFail(reply) {
		return 0, s.fail("Invalid PIN")
	}

	bufferMs, err := protocol.ParseOK(reply)
	if err != nil {
		return 0, s.fail("Unknown response")
	}

	return bufferMs, nil
}

func (s *Session) fail(reason string) error {
	s.failReason.Store(reason)
	s.state.Store(int32(StateFailed))
	s.logger.Warn("connection failed", logging.KeyReason, reason)
	return fmt.Errorf("%w: %s", ErrHandshakeFailed, reason)
}

// Stop cancels all tasks and closes the sockets.
func (s *Session) Stop() {
	if s.cancel == nil || s.stopped {
		return
	}
	s.stopped = true

	s.cancel()
	s.conn.Close()
	s.timeClient.Close()
	s.wg.Wait()

	s.state.Store(int32(StateDisconnected))
	s.logger.Info("disconnected")
}

// heartbeatLoop keeps the sender-side registration alive.
func (s *Session) heartbeatLoop(ctx context.Context) {
	defer recovery.RecoverWithLog(s.logger, s.metrics, "receiver.heartbeatLoop")

	interval := time.Duration(s.cfg.Receiver.HeartbeatInterval) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.conn.Write([]byte(protocol.MsgHeartbeat)); err != nil {
				s.logger.Debug("heartbeat send failed", logging.KeyError, err)
			}
		}
	}
}

// ingressLoop receives, validates and decrypts audio datagrams, accounts
// for losses, and hands packets to the player.
func (s *Session) ingressLoop(ctx context.Context) {
	defer recovery.RecoverWithLog(s.logger, s.metrics, "receiver.ingressLoop")

	buf := make([]byte, 2048)

	var lastSeq uint32
	haveSeq := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		n, err := s.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("stream read failed", logging.KeyError, err)
			continue
		}

		datagram := buf[:n]

		// Late control replies (e.g. a duplicated OK) share the socket;
		// they are not audio.
		if protocol.IsControl(datagram) {
			continue
		}

		pkt, err := protocol.Decode(datagram)
		if err != nil {
			s.protocolErrors.Add(1)
			s.metrics.RecordProtocolError()
			continue
		}

		pcm, err := s.cipher.Open(pkt.Payload)
		if err != nil {
			s.decryptErrors.Add(1)
			s.metrics.RecordDecryptError()
			continue
		}

		s.received.Add(1)
		s.metrics.RecordDatagramReceived(n)

		if haveSeq {
			// Sequence arithmetic is modulo 2^32; a gap of g means g-1
			// datagrams went missing.
			gap := pkt.Seq - lastSeq
			if gap > 1 && gap < 1<<31 {
				s.lost.Add(uint64(gap - 1))
				s.metrics.RecordPacketsLost(int(gap - 1))
			}
			if gap >= 1 && gap < 1<<31 {
				lastSeq = pkt.Seq
			}
		} else {
			haveSeq = true
			lastSeq = pkt.Seq
		}

		s.player.enqueue(&ReceivedPacket{
			Seq:       pkt.Seq,
			ServerTS:  pkt.Timestamp,
			PCM:       pcm,
			RecvLocal: timesync.Nanotime(),
		})
	}
}
