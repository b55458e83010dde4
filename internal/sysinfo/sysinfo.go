// Package sysinfo exposes host identity and build version for probe
// replies and the CLI.
package sysinfo

import (
	"os"
	"runtime/debug"
	"time"
)

// Version identifies the build in CLI output and log lines. Release builds
// inject it via ldflags:
//
//	go build -ldflags="-X github.com/RishiIRL/austream/internal/sysinfo.Version=1.0.0"
//
// Dev builds get a VCS stamp appended so a sender and receiver binary pair
// can be told apart even without a release tag.
var Version = "dev"

var startTime = time.Now()

func init() {
	if Version != "dev" {
		return
	}

	rev, dirty := vcsRevision()
	if rev == "" {
		// Built outside a checkout (go test, plain go build of a copy):
		// fall back to the build instant.
		Version = "dev-" + startTime.UTC().Format("0601021504")
		return
	}

	Version = "dev-" + rev
	if dirty {
		Version += "+wip"
	}
}

// vcsRevision returns the short commit hash the Go tool recorded in the
// build info, and whether the working tree had local modifications. The
// hash is empty when no VCS stamp is available.
func vcsRevision() (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}

	var rev string
	var dirty bool
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			rev = s.Value
		}
		if s.Key == "vcs.modified" && s.Value == "true" {
			dirty = true
		}
	}

	if len(rev) > 8 {
		rev = rev[:8]
	}
	return rev, dirty
}

// Hostname returns the local hostname, or "unknown" when it cannot be
// determined. The value goes into probe replies and pairing strings.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}

// Uptime returns how long the process has been running.
func Uptime() time.Duration {
	return time.Since(startTime)
}
