package sysinfo

import (
	"strings"
	"testing"
	"time"
)

func TestVersionNotEmpty(t *testing.T) {
	if Version == "" {
		t.Error("Version is empty")
	}
	if Version == "dev" {
		t.Error("dev version was not enhanced")
	}
	if !strings.HasPrefix(Version, "dev") {
		t.Error("unexpected version format")
	}
}

func TestHostname(t *testing.T) {
	if Hostname() == "" {
		t.Error("Hostname() returned empty string")
	}
}

func TestUptime(t *testing.T) {
	if Uptime() <= 0 {
		t.Error("Uptime() not positive")
	}
	if Uptime() > 24*time.Hour {
		t.Error("Uptime() implausibly large for a test process")
	}
}
