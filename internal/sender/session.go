// Package sender implements the distribution side of an AuStream session:
// the control plane on the audio socket, the silence gate, the keep-alive,
// and the per-client send scheduler.
package sender

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/RishiIRL/austream/internal/audio"
	"github.com/RishiIRL/austream/internal/config"
	"github.com/RishiIRL/austream/internal/crypto"
	"github.com/RishiIRL/austream/internal/logging"
	"github.com/RishiIRL/austream/internal/metrics"
	"github.com/RishiIRL/austream/internal/pairing"
	"github.com/RishiIRL/austream/internal/protocol"
	"github.com/RishiIRL/austream/internal/recovery"
	"github.com/RishiIRL/austream/internal/sysinfo"
	"github.com/RishiIRL/austream/internal/timesync"
)

const (
	// controlReadTimeout paces the control loop so heartbeat processing
	// and stale-client reaping progress even when no datagrams arrive.
	controlReadTimeout = 100 * time.Millisecond

	// reapInterval is the minimum spacing between reap passes.
	reapInterval = 100 * time.Millisecond

	// keepaliveCheckInterval is how often the idle span is evaluated.
	keepaliveCheckInterval = 500 * time.Millisecond
)

// ErrAlreadyStarted is returned when Start is called twice on one session.
var ErrAlreadyStarted = errors.New("session already started")

// Options configures a sender session.
type Options struct {
	Config  *config.Config
	Capture audio.Capture
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	Sent       uint64
	Bytes      uint64
	SendErrors uint64
	GateDrops  uint64
	QueueDrops uint64
	Keepalives uint64
}

type sessionStats struct {
	sent       atomic.Uint64
	bytes      atomic.Uint64
	sendErrors atomic.Uint64
	gateDrops  atomic.Uint64
	queueDrops atomic.Uint64
	keepalives atomic.Uint64
}

// Session is one sender lifetime: a fresh PIN and key at Start, all state
// cleared at Stop.
type Session struct {
	cfg     *config.Config
	capture audio.Capture
	logger  *slog.Logger
	metrics *metrics.Metrics

	conn       *net.UDPConn
	timeServer *timesync.Server

	pin     string
	pinHash string
	key     []byte
	cipher  *crypto.Cipher

	seq      atomic.Uint32
	lastSent atomic.Int64 // timesync.Nanotime of the last emitted datagram

	mu      sync.Mutex
	clients map[string]*client

	failLimiter *rate.Limiter
	kick        chan struct{}

	stats sessionStats

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	started bool
	stopped bool
	lastReap time.Time
}

// New creates a session. Start binds sockets and begins streaming.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Default()
	}

	return &Session{
		cfg:     opts.Config,
		capture: opts.Capture,
		logger:  logger.With(logging.KeyComponent, "sender"),
		metrics: m,
		clients: make(map[string]*client),
		// Wrong-PIN replies are throttled so a confused or hostile peer
		// cannot turn the sender into a reply sprayer.
		failLimiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		kick:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Start generates session key material, binds the audio and time sockets,
// and launches the control, fan-out and keep-alive tasks.
func (s *Session) Start(ctx context.Context) error {
	if s.started {
		return ErrAlreadyStarted
	}

	pin := s.cfg.Sender.PIN
	if pin == "" {
		var err error
		pin, err = pairing.NewPIN()
		if err != nil {
			return fmt.Errorf("session setup: %w", err)
		}
	}

	key := crypto.DeriveKey(pin)
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		return fmt.Errorf("session setup: %w", err)
	}

	var ip net.IP
	if s.cfg.Sender.ListenAddr != "" {
		ip = net.ParseIP(s.cfg.Sender.ListenAddr)
		if ip == nil {
			return fmt.Errorf("invalid listen address %q", s.cfg.Sender.ListenAddr)
		}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: s.cfg.Sender.AudioPort})
	if err != nil {
		return fmt.Errorf("bind audio port %d: %w", s.cfg.Sender.AudioPort, err)
	}

	timeServer, err := timesync.NewServer(protocol.TimePort(s.cfg.Sender.AudioPort), s.logger)
	if err != nil {
		conn.Close()
		return err
	}

	s.pin = pin
	s.pinHash = crypto.HashPIN(pin)
	s.key = key
	s.cipher = cipher
	s.conn = conn
	s.timeServer = timeServer
	s.seq.Store(0)
	s.lastSent.Store(timesync.Nanotime())
	s.lastReap = time.Now()

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.controlLoop(s.runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.fanOut(s.runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.keepaliveLoop(s.runCtx)
	}()

	go s.timeServer.Run(s.runCtx)

	s.logger.Info("session started",
		logging.KeyLocalAddr, conn.LocalAddr().String(),
		"time_port", timeServer.Port())

	return nil
}

// Stop cancels all tasks, closes the sockets, tears down every client and
// clears the session key material.
func (s *Session) Stop() {
	if !s.started || s.stopped {
		return
	}
	s.stopped = true

	s.cancel()
	s.capture.Close()
	s.conn.Close()
	s.timeServer.Close()
	s.wg.Wait()

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	for _, c := range clients {
		c.stop()
		s.metrics.RecordClientRemove(false)
	}

	crypto.ZeroBytes(s.key)
	s.key = nil
	s.cipher = nil
	s.pin = ""
	s.pinHash = ""
	s.seq.Store(0)

	s.logger.Info("session stopped")
}

// Done is closed when the fan-out task exits: the capture stream is
// exhausted or the session context ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// PIN returns the active session PIN for display.
func (s *Session) PIN() string {
	return s.pin
}

// PairingURL returns the austream:// string receivers scan or type.
func (s *Session) PairingURL() string {
	return pairing.Info{
		Host: localIPv4(),
		Port: s.cfg.Sender.AudioPort,
		PIN:  s.pin,
		Name: sysinfo.Hostname(),
	}.URL()
}

// ClientCount returns how many receivers are currently registered.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Sent:       s.stats.sent.Load(),
		Bytes:      s.stats.bytes.Load(),
		SendErrors: s.stats.sendErrors.Load(),
		GateDrops:  s.stats.gateDrops.Load(),
		QueueDrops: s.stats.queueDrops.Load(),
		Keepalives: s.stats.keepalives.Load(),
	}
}

// controlLoop serves probes, authentication, heartbeats and reaping on the
// shared audio socket.
func (s *Session) controlLoop(ctx context.Context) {
	defer recovery.RecoverWithLog(s.logger, s.metrics, "sender.controlLoop")

	buf := make([]byte, 2048)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(controlReadTimeout))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.reapStale()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("control socket read failed", logging.KeyError, err)
			continue
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])
		s.handleControl(msg, addr)
		s.reapStale()
	}
}

func (s *Session) handleControl(msg []byte, addr *net.UDPAddr) {
	switch {
	case protocol.IsProbe(msg):
		s.reply(protocol.BuildAlive(sysinfo.Hostname()), addr)

	case protocol.IsHeartbeat(msg):
		s.mu.Lock()
		c, ok := s.clients[addr.String()]
		s.mu.Unlock()
		if ok {
			c.touch()
		}

	case protocol.IsLegacyClient(msg):
		s.reply([]byte(protocol.MsgNeedPIN), addr)

	default:
		if hash, ok := protocol.ParseAuth(msg); ok {
			s.handleAuth(hash, addr)
			return
		}
		s.logger.Debug("unknown control message",
			logging.KeyRemoteAddr, addr.String(), "len", len(msg))
	}
}

func (s *Session) handleAuth(hash string, addr *net.UDPAddr) {
	if subtle.ConstantTimeCompare([]byte(hash), []byte(s.pinHash)) != 1 {
		s.metrics.RecordAuthFailure()
		s.logger.Info("authentication failed", logging.KeyRemoteAddr, addr.String())
		if s.failLimiter.Allow() {
			s.reply([]byte(protocol.MsgFail), addr)
		}
		return
	}

	s.reply(protocol.BuildOK(s.cfg.Sender.BufferMs), addr)
	s.addClient(addr)
}

// addClient registers a receiver, replacing any previous registration from
// the same endpoint so at most one drain task per endpoint exists.
func (s *Session) addClient(addr *net.UDPAddr) {
	key := addr.String()

	s.mu.Lock()
	old := s.clients[key]
	delete(s.clients, key)
	s.mu.Unlock()

	if old != nil {
		old.stop()
	}

	c := newClient(addr, s.cfg.Sender.QueueDepth)
	cctx, cancel := context.WithCancel(s.runCtx)
	c.cancel = cancel

	s.mu.Lock()
	s.clients[key] = c
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.drain(cctx, c)
	}()

	if old == nil {
		s.metrics.RecordClientAdd()
		s.logger.Info("receiver authenticated", logging.KeyRemoteAddr, key,
			logging.KeyClients, s.ClientCount())
	} else {
		s.logger.Info("receiver re-authenticated", logging.KeyRemoteAddr, key)
	}
}

// reapStale removes clients whose heartbeats lapsed. Called from the
// control loop only; throttled to one pass per reapInterval.
func (s *Session) reapStale() {
	now := time.Now()
	if now.Sub(s.lastReap) < reapInterval {
		return
	}
	s.lastReap = now

	timeout := time.Duration(s.cfg.Sender.ClientTimeout) * time.Second

	var stale []*client
	s.mu.Lock()
	for key, c := range s.clients {
		if c.idle() > timeout {
			delete(s.clients, key)
			stale = append(stale, c)
		}
	}
	s.mu.Unlock()

	for _, c := range stale {
		c.stop()
		s.metrics.RecordClientRemove(true)
		s.logger.Info("receiver reaped", logging.KeyRemoteAddr, c.addr.String(),
			"idle", c.idle().String())
	}
}

// fanOut runs the silence gate and distributes surviving frames to every
// client queue. It is the sole producer for all queues; keep-alive frames
// arrive through the kick channel so that property holds.
func (s *Session) fanOut(ctx context.Context) {
	defer recovery.RecoverWithLog(s.logger, s.metrics, "sender.fanOut")
	defer close(s.done)

	threshold := s.cfg.Sender.SilenceThreshold
	probes := s.cfg.Sender.SilenceProbes

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.kick:
			s.stats.keepalives.Add(1)
			s.metrics.RecordKeepalive()
			s.emit(audio.SilentFrame())

		case frame, ok := <-s.capture.Frames():
			if !ok {
				s.logger.Info("capture stream ended")
				return
			}
			if audio.MaxAbsSample(frame, probes) <= threshold {
				s.stats.gateDrops.Add(1)
				s.metrics.RecordGateDrop()
				continue
			}
			s.emit(frame)
		}
	}
}

// emit seals one frame, assigns the next sequence number and timestamp,
// and offers the datagram to every client queue without blocking.
func (s *Session) emit(frame []byte) {
	sealed, err := s.cipher.Seal(frame)
	if err != nil {
		s.logger.Warn("frame encrypt failed", logging.KeyError, err)
		return
	}

	pkt := &protocol.Packet{
		Seq:       s.seq.Add(1),
		Timestamp: timesync.Nanotime(),
		Payload:   sealed,
	}

	buf, err := pkt.Encode()
	if err != nil {
		s.logger.Warn("frame encode failed", logging.KeyError, err)
		return
	}

	s.lastSent.Store(pkt.Timestamp)

	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if dropped := c.queue.offer(buf); dropped > 0 {
			s.stats.queueDrops.Add(uint64(dropped))
			for i := 0; i < dropped; i++ {
				s.metrics.RecordQueueDrop()
			}
		}
	}
}

// keepaliveLoop kicks the fan-out to synthesize one silent frame whenever
// no audio has been emitted for the configured span while receivers are
// connected, so heartbeat and connectivity survive long silences.
func (s *Session) keepaliveLoop(ctx context.Context) {
	defer recovery.RecoverWithLog(s.logger, s.metrics, "sender.keepaliveLoop")

	idleSpan := time.Duration(s.cfg.Sender.KeepaliveInterval) * time.Second

	ticker := time.NewTicker(keepaliveCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.ClientCount() == 0 {
				continue
			}
			if timesync.Nanotime()-s.lastSent.Load() < int64(idleSpan) {
				continue
			}
			select {
			case s.kick <- struct{}{}:
			default:
			}
		}
	}
}

func (s *Session) reply(msg []byte, addr *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP(msg, addr); err != nil {
		s.logger.Debug("control reply failed",
			logging.KeyRemoteAddr, addr.String(), logging.KeyError, err)
	}
}

// localIPv4 returns the first non-loopback IPv4 address, for the pairing
// string shown to users.
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return "127.0.0.1"
}
