package receiver

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RishiIRL/austream/internal/audio"
	"github.com/RishiIRL/austream/internal/logging"
	"github.com/RishiIRL/austream/internal/metrics"
	"github.com/RishiIRL/austream/internal/recovery"
	"github.com/RishiIRL/austream/internal/timesync"
)

const (
	// maxBufferedEntries bounds the deadline map; beyond it the earliest
	// entry is evicted.
	maxBufferedEntries = 50

	// maxPreroll caps the initial buffering wait.
	maxPreroll = 3 * time.Second

	// refillTimeout bounds the wait for packets after an anchor reset.
	refillTimeout = 5 * time.Second

	// maxSleep keeps the play-out loop responsive to newly arrived
	// earlier deadlines.
	maxSleep = 10 * time.Millisecond

	// minSleep avoids busy-spinning right before a deadline.
	minSleep = time.Millisecond

	// underrunShortStreak and underrunLongStreak are the escalation
	// boundaries for consecutive empty-buffer iterations.
	underrunShortStreak = 10
	underrunLongStreak  = 30
)

// player turns server timestamps into local play-out deadlines and writes
// frames to the sink when their deadline arrives. The anchor model works
// on server-side timestamp deltas, so small drifts in the NTP offset
// between syncs cannot bend the schedule.
type player struct {
	sink    audio.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	bufferMs int

	mu            sync.Mutex
	buf           *playbackBuffer
	anchored      bool
	firstServerTS int64
	playbackStart int64

	played       atomic.Uint64
	underruns    atomic.Uint64
	anchorResets atomic.Uint64

	nowFunc func() int64
}

func newPlayer(sink audio.Sink, bufferMs int, logger *slog.Logger, m *metrics.Metrics) *player {
	return &player{
		sink:     sink,
		logger:   logger,
		metrics:  m,
		bufferMs: bufferMs,
		buf:      newPlaybackBuffer(maxBufferedEntries),
		nowFunc:  timesync.Nanotime,
	}
}

// minEntries is the packet count required before play-out starts or
// resumes after a reset.
func (p *player) minEntries() int {
	n := p.bufferMs / 10
	if n < 5 {
		n = 5
	}
	return n
}

// enqueue schedules one received packet. The first packet after
// (re)anchoring fixes the session anchors; every deadline is then the
// anchor start plus the packet's server-timestamp delta.
func (p *player) enqueue(pkt *ReceivedPacket) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.anchored {
		p.anchored = true
		p.firstServerTS = pkt.ServerTS
		p.playbackStart = p.nowFunc() + int64(p.bufferMs)*int64(time.Millisecond)
		p.logger.Debug("playback anchored", logging.KeySeq, pkt.Seq)
	}

	deadline := p.playbackStart + (pkt.ServerTS - p.firstServerTS)
	if p.buf.push(deadline, pkt.PCM) {
		p.logger.Debug("playback buffer overflow, earliest entry evicted")
	}
	p.metrics.SetBufferedEntries(p.buf.len())
}

// run is the play-out loop. It pre-rolls, then pops entries as their
// deadlines arrive, escalating through the under-run table when the
// buffer runs dry.
func (p *player) run(ctx context.Context) {
	defer recovery.RecoverWithLog(p.logger, p.metrics, "receiver.player")

	p.preroll(ctx)

	underrun := 0

	for ctx.Err() == nil {
		p.mu.Lock()
		head, ok := p.buf.peek()
		p.mu.Unlock()

		if !ok {
			underrun++
			p.underruns.Add(1)
			p.metrics.RecordUnderrun()

			switch {
			case underrun < underrunShortStreak:
				sleepCtx(ctx, 2*time.Millisecond)
			case underrun < underrunLongStreak:
				sleepCtx(ctx, 5*time.Millisecond)
			default:
				// The stream is paused. Drop the anchors, wait for
				// audio to return, then rebuild the lead-time.
				p.resetAnchors()
				p.awaitRefill(ctx)
				sleepCtx(ctx, time.Duration(p.bufferMs)*time.Millisecond)
				underrun = 0
			}
			continue
		}

		now := p.nowFunc()
		if now < head.deadline {
			d := time.Duration(head.deadline - now)
			if d > maxSleep {
				d = maxSleep
			}
			if d < minSleep {
				d = minSleep
			}
			sleepCtx(ctx, d)
			continue
		}

		p.mu.Lock()
		e, ok := p.buf.pop()
		p.metrics.SetBufferedEntries(p.buf.len())
		p.mu.Unlock()
		if !ok {
			continue
		}

		underrun = 0
		if err := p.sink.Write(audio.DecodePCM(e.pcm)); err != nil {
			p.logger.Debug("sink write failed", logging.KeyError, err)
			continue
		}
		p.played.Add(1)
		p.metrics.RecordFramePlayed()
	}
}

// preroll waits until enough packets are buffered and bufferMs of
// wall-clock lead has elapsed, capped at maxPreroll overall.
func (p *player) preroll(ctx context.Context) {
	need := p.minEntries()
	lead := time.Duration(p.bufferMs) * time.Millisecond
	start := time.Now()

	for ctx.Err() == nil && time.Since(start) < maxPreroll {
		p.mu.Lock()
		buffered := p.buf.len()
		p.mu.Unlock()

		if buffered >= need && time.Since(start) >= lead {
			return
		}
		sleepCtx(ctx, 5*time.Millisecond)
	}
}

// resetAnchors clears the session anchors and any stale entries keyed to
// them; the next packet re-anchors the schedule.
func (p *player) resetAnchors() {
	p.mu.Lock()
	p.anchored = false
	p.buf.clear()
	p.metrics.SetBufferedEntries(0)
	p.mu.Unlock()

	p.anchorResets.Add(1)
	p.metrics.RecordAnchorReset()
	p.logger.Info("stream paused, playback anchors cleared")
}

// awaitRefill blocks until the buffer holds minEntries packets again, or
// refillTimeout passes, or the context ends.
func (p *player) awaitRefill(ctx context.Context) {
	need := p.minEntries()
	deadline := time.Now().Add(refillTimeout)

	for ctx.Err() == nil && time.Now().Before(deadline) {
		p.mu.Lock()
		buffered := p.buf.len()
		p.mu.Unlock()

		if buffered >= need {
			return
		}
		sleepCtx(ctx, 10*time.Millisecond)
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
