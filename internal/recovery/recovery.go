// Package recovery keeps a panicking pipeline goroutine from taking the
// whole session down. A recovered panic is logged with its stack and
// counted in the session metrics, so it shows up in telemetry rather than
// only in a log line; the stream itself continues on the surviving tasks.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/RishiIRL/austream/internal/metrics"
)

// RecoverWithLog recovers from panics, logs them and bumps the
// panics_recovered counter for the named goroutine. Every long-running
// goroutine in the streaming pipeline defers this at its top so a single
// bad packet cannot end the session. m may be nil for components that
// carry no metrics handle.
//
// Example:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, m, "playoutLoop")
//	    // ... goroutine work
//	}()
func RecoverWithLog(logger *slog.Logger, m *metrics.Metrics, name string) {
	if r := recover(); r != nil {
		stack := string(debug.Stack())
		logger.Error("panic recovered",
			"goroutine", name,
			"panic", fmt.Sprintf("%v", r),
			"stack", stack)
		if m != nil {
			m.RecordPanic(name)
		}
	}
}
