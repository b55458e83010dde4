package protocol

import "testing"

func TestAliveRoundTrip(t *testing.T) {
	msg := BuildAlive("studio-pc")

	host, ok := ParseAlive(msg)
	if !ok {
		t.Fatal("ParseAlive() rejected a built message")
	}
	if host != "studio-pc" {
		t.Errorf("hostname = %q, want %q", host, "studio-pc")
	}

	if _, ok := ParseAlive([]byte("AUSTREAM_FAIL")); ok {
		t.Error("ParseAlive() accepted a FAIL message")
	}
}

func TestAuthRoundTrip(t *testing.T) {
	msg := BuildAuth("c29tZWhhc2g=")

	hash, ok := ParseAuth(msg)
	if !ok {
		t.Fatal("ParseAuth() rejected a built message")
	}
	if hash != "c29tZWhhc2g=" {
		t.Errorf("hash = %q", hash)
	}

	if _, ok := ParseAuth([]byte(MsgHeartbeat)); ok {
		t.Error("ParseAuth() accepted a heartbeat")
	}
}

func TestParseOK(t *testing.T) {
	bufferMs, err := ParseOK(BuildOK(50))
	if err != nil {
		t.Fatalf("ParseOK() error = %v", err)
	}
	if bufferMs != 50 {
		t.Errorf("bufferMs = %d, want 50", bufferMs)
	}

	bad := [][]byte{
		[]byte("AUSTREAM_OK:"),
		[]byte("AUSTREAM_OK:abc"),
		[]byte("AUSTREAM_OK:-5"),
		[]byte("AUSTREAM_OK:0"),
		[]byte(MsgFail),
	}
	for _, msg := range bad {
		if _, err := ParseOK(msg); err == nil {
			t.Errorf("ParseOK(%q) succeeded", msg)
		}
	}
}

func TestClassifiers(t *testing.T) {
	tests := []struct {
		msg       string
		control   bool
		probe     bool
		heartbeat bool
		legacy    bool
	}{
		{MsgProbe, true, true, false, false},
		{MsgHeartbeat, true, false, true, false},
		{"AUSTREAM_CLIENT", true, false, false, true},
		{"AUSTREAM_CLIENT:oldformat", true, false, false, true},
		{"AUSTREAM_AUTH:hash", true, false, false, false},
		{"random", false, false, false, false},
		{"", false, false, false, false},
	}

	for _, tt := range tests {
		msg := []byte(tt.msg)
		if got := IsControl(msg); got != tt.control {
			t.Errorf("IsControl(%q) = %v", tt.msg, got)
		}
		if got := IsProbe(msg); got != tt.probe {
			t.Errorf("IsProbe(%q) = %v", tt.msg, got)
		}
		if got := IsHeartbeat(msg); got != tt.heartbeat {
			t.Errorf("IsHeartbeat(%q) = %v", tt.msg, got)
		}
		if got := IsLegacyClient(msg); got != tt.legacy {
			t.Errorf("IsLegacyClient(%q) = %v", tt.msg, got)
		}
	}
}
