// Package metrics provides Prometheus metrics for AuStream.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "austream"
)

// Metrics contains all Prometheus metrics for sender and receiver roles.
// Only the metrics of the active role move; the rest stay at zero.
type Metrics struct {
	// Sender metrics
	ClientsConnected prometheus.Gauge
	ClientsTotal     prometheus.Counter
	ClientsReaped    prometheus.Counter
	AuthFailures     prometheus.Counter
	DatagramsSent    prometheus.Counter
	BytesSent        prometheus.Counter
	QueueDrops       prometheus.Counter
	SendErrors       prometheus.Counter
	GateDrops        prometheus.Counter
	KeepalivesSent   prometheus.Counter

	// Receiver metrics
	DatagramsReceived prometheus.Counter
	BytesReceived     prometheus.Counter
	PacketsLost       prometheus.Counter
	DecryptErrors     prometheus.Counter
	ProtocolErrors    prometheus.Counter
	FramesPlayed      prometheus.Counter
	Underruns         prometheus.Counter
	AnchorResets      prometheus.Counter
	BufferedEntries   prometheus.Gauge

	// Clock sync metrics
	ClockOffset prometheus.Gauge
	ClockRTT    prometheus.Gauge

	// Reliability metrics
	PanicsRecovered *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// Sender metrics
		ClientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clients_connected",
			Help:      "Number of currently authenticated receivers",
		}),
		ClientsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clients_total",
			Help:      "Total receivers authenticated over the process lifetime",
		}),
		ClientsReaped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clients_reaped_total",
			Help:      "Total receivers removed for missing heartbeats",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total authentication attempts with a wrong PIN hash",
		}),
		DatagramsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_sent_total",
			Help:      "Total audio datagrams handed to the network",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total audio bytes handed to the network",
		}),
		QueueDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drops_total",
			Help:      "Total packets evicted from full per-client queues",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Total per-datagram socket send failures",
		}),
		GateDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_drops_total",
			Help:      "Total frames suppressed by the silence gate",
		}),
		KeepalivesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalives_sent_total",
			Help:      "Total synthetic silence frames emitted during idle",
		}),

		// Receiver metrics
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total audio datagrams received and decrypted",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		PacketsLost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_lost_total",
			Help:      "Total sequence gaps observed in the stream",
		}),
		DecryptErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decrypt_errors_total",
			Help:      "Total datagrams failing AEAD authentication",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Total malformed datagrams",
		}),
		FramesPlayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_played_total",
			Help:      "Total frames written to the audio sink",
		}),
		Underruns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "underruns_total",
			Help:      "Total play-out iterations that found an empty buffer",
		}),
		AnchorResets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anchor_resets_total",
			Help:      "Total play-out anchor resets after extended silence",
		}),
		BufferedEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_entries",
			Help:      "Packets currently waiting in the play-out buffer",
		}),

		// Clock sync metrics
		ClockOffset: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock_offset_seconds",
			Help:      "Latest estimated sender-minus-local clock offset",
		}),
		ClockRTT: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock_rtt_seconds",
			Help:      "Latest measured clock-sync round-trip time",
		}),

		// Reliability metrics
		PanicsRecovered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_recovered_total",
			Help:      "Total panics recovered in pipeline goroutines",
		}, []string{"goroutine"}),
	}

	return m
}

// RecordClientAdd records a receiver authenticating.
func (m *Metrics) RecordClientAdd() {
	m.ClientsConnected.Inc()
	m.ClientsTotal.Inc()
}

// RecordClientRemove records a receiver leaving for any reason.
func (m *Metrics) RecordClientRemove(reaped bool) {
	m.ClientsConnected.Dec()
	if reaped {
		m.ClientsReaped.Inc()
	}
}

// RecordAuthFailure records a wrong-PIN authentication attempt.
func (m *Metrics) RecordAuthFailure() {
	m.AuthFailures.Inc()
}

// RecordDatagramSent records an audio datagram handed to the network.
func (m *Metrics) RecordDatagramSent(bytes int) {
	m.DatagramsSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

// RecordQueueDrop records a packet evicted from a full client queue.
func (m *Metrics) RecordQueueDrop() {
	m.QueueDrops.Inc()
}

// RecordSendError records a per-datagram socket failure.
func (m *Metrics) RecordSendError() {
	m.SendErrors.Inc()
}

// RecordGateDrop records a frame suppressed by the silence gate.
func (m *Metrics) RecordGateDrop() {
	m.GateDrops.Inc()
}

// RecordKeepalive records a synthetic silence frame emitted during idle.
func (m *Metrics) RecordKeepalive() {
	m.KeepalivesSent.Inc()
}

// RecordDatagramReceived records a successfully decrypted datagram.
func (m *Metrics) RecordDatagramReceived(bytes int) {
	m.DatagramsReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordPacketsLost records a sequence gap.
func (m *Metrics) RecordPacketsLost(n int) {
	m.PacketsLost.Add(float64(n))
}

// RecordDecryptError records an AEAD authentication failure.
func (m *Metrics) RecordDecryptError() {
	m.DecryptErrors.Inc()
}

// RecordProtocolError records a malformed datagram.
func (m *Metrics) RecordProtocolError() {
	m.ProtocolErrors.Inc()
}

// RecordFramePlayed records a frame written to the sink.
func (m *Metrics) RecordFramePlayed() {
	m.FramesPlayed.Inc()
}

// RecordUnderrun records an empty-buffer play-out iteration.
func (m *Metrics) RecordUnderrun() {
	m.Underruns.Inc()
}

// RecordAnchorReset records a play-out anchor reset.
func (m *Metrics) RecordAnchorReset() {
	m.AnchorResets.Inc()
}

// SetBufferedEntries sets the play-out buffer depth gauge.
func (m *Metrics) SetBufferedEntries(n int) {
	m.BufferedEntries.Set(float64(n))
}

// SetClockOffset sets the clock offset gauge.
func (m *Metrics) SetClockOffset(offset time.Duration) {
	m.ClockOffset.Set(offset.Seconds())
}

// SetClockRTT sets the clock RTT gauge.
func (m *Metrics) SetClockRTT(rtt time.Duration) {
	m.ClockRTT.Set(rtt.Seconds())
}

// RecordPanic records a panic recovered in the named goroutine.
func (m *Metrics) RecordPanic(goroutine string) {
	m.PanicsRecovered.WithLabelValues(goroutine).Inc()
}
