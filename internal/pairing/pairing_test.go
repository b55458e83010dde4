package pairing

import (
	"testing"

	"github.com/RishiIRL/austream/internal/protocol"
)

func TestNewPIN(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 50; i++ {
		pin, err := NewPIN()
		if err != nil {
			t.Fatalf("NewPIN() error = %v", err)
		}
		if !ValidPIN(pin) {
			t.Fatalf("NewPIN() = %q, not six digits", pin)
		}
		seen[pin] = true
	}

	// 50 draws from a million values colliding down to a single PIN would
	// mean the generator is broken.
	if len(seen) < 2 {
		t.Error("NewPIN() keeps returning the same value")
	}
}

func TestValidPIN(t *testing.T) {
	tests := []struct {
		pin  string
		want bool
	}{
		{"123456", true},
		{"000000", true},
		{"12345", false},
		{"1234567", false},
		{"12345a", false},
		{"", false},
		{"12 456", false},
	}

	for _, tt := range tests {
		if got := ValidPIN(tt.pin); got != tt.want {
			t.Errorf("ValidPIN(%q) = %v, want %v", tt.pin, got, tt.want)
		}
	}
}

func TestURLRoundTrip(t *testing.T) {
	info := Info{Host: "192.168.1.10", Port: 5004, PIN: "123456", Name: "Studio PC"}

	parsed, err := Parse(info.URL())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if parsed != info {
		t.Errorf("round trip = %+v, want %+v", parsed, info)
	}
}

func TestParseDefaults(t *testing.T) {
	parsed, err := Parse("austream://192.168.1.10?name=pc")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if parsed.Port != protocol.DefaultAudioPort {
		t.Errorf("default port = %d, want %d", parsed.Port, protocol.DefaultAudioPort)
	}
	if parsed.PIN != "" {
		t.Errorf("PIN = %q, want empty", parsed.PIN)
	}
}

func TestParseBareHost(t *testing.T) {
	parsed, err := Parse("192.168.1.10")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Host != "192.168.1.10" || parsed.Port != protocol.DefaultAudioPort {
		t.Errorf("parsed = %+v", parsed)
	}

	parsed, err = Parse("192.168.1.10:6000")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Port != 6000 {
		t.Errorf("port = %d, want 6000", parsed.Port)
	}
}

func TestParseRejects(t *testing.T) {
	bad := []string{
		"http://192.168.1.10:5004",
		"austream://",
		"austream://host:notaport",
		"austream://192.168.1.10?pin=12",
		"",
	}

	for _, raw := range bad {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) succeeded", raw)
		}
	}
}
