package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Control messages are short ASCII datagrams exchanged on the audio port.
// Receivers send PROBE, AUTH and HEARTBEAT; the sender answers with ALIVE,
// OK, FAIL or NEED_PIN.
const (
	// MsgProbe is a discovery request; any sender answers with ALIVE.
	MsgProbe = "AUSTREAM_PROBE"

	// MsgAlivePrefix prefixes a probe reply; the sender hostname follows.
	MsgAlivePrefix = "AUSTREAM_ALIVE:"

	// MsgAuthPrefix prefixes an authentication request; the base64 PIN
	// hash follows.
	MsgAuthPrefix = "AUSTREAM_AUTH:"

	// MsgOKPrefix prefixes a successful auth reply; the suggested buffer
	// depth in milliseconds follows.
	MsgOKPrefix = "AUSTREAM_OK:"

	// MsgFail is the reply to an auth request with a wrong PIN hash.
	MsgFail = "AUSTREAM_FAIL"

	// MsgNeedPIN is the reply to legacy clients that attempt to register
	// without authenticating.
	MsgNeedPIN = "AUSTREAM_NEED_PIN"

	// MsgHeartbeat keeps an authenticated client registered.
	MsgHeartbeat = "AUSTREAM_HEARTBEAT"

	// MsgLegacyClientPrefix identifies pre-PIN clients. They are never
	// registered; the sender tells them to upgrade.
	MsgLegacyClientPrefix = "AUSTREAM_CLIENT"

	// controlPrefix is shared by every control message and lets the
	// control plane distinguish text datagrams cheaply.
	controlPrefix = "AUSTREAM_"
)

// IsControl reports whether a datagram is a control message rather than
// an audio packet.
func IsControl(datagram []byte) bool {
	return bytes.HasPrefix(datagram, []byte(controlPrefix))
}

// BuildAlive builds a probe reply carrying the sender hostname.
func BuildAlive(hostname string) []byte {
	return []byte(MsgAlivePrefix + hostname)
}

// ParseAlive extracts the hostname from a probe reply.
func ParseAlive(msg []byte) (string, bool) {
	s := string(msg)
	if !strings.HasPrefix(s, MsgAlivePrefix) {
		return "", false
	}
	return s[len(MsgAlivePrefix):], true
}

// BuildAuth builds an authentication request from a PIN hash.
func BuildAuth(pinHash string) []byte {
	return []byte(MsgAuthPrefix + pinHash)
}

// ParseAuth extracts the PIN hash from an authentication request.
func ParseAuth(msg []byte) (string, bool) {
	s := string(msg)
	if !strings.HasPrefix(s, MsgAuthPrefix) {
		return "", false
	}
	return s[len(MsgAuthPrefix):], true
}

// BuildOK builds a successful auth reply carrying the buffer depth the
// receiver should honour.
func BuildOK(bufferMs int) []byte {
	return []byte(MsgOKPrefix + strconv.Itoa(bufferMs))
}

// ParseOK extracts the suggested buffer depth from an auth reply.
func ParseOK(msg []byte) (int, error) {
	s := string(msg)
	if !strings.HasPrefix(s, MsgOKPrefix) {
		return 0, fmt.Errorf("not an OK reply: %q", s)
	}

	bufferMs, err := strconv.Atoi(s[len(MsgOKPrefix):])
	if err != nil {
		return 0, fmt.Errorf("invalid buffer value in %q: %w", s, err)
	}
	if bufferMs <= 0 {
		return 0, fmt.Errorf("non-positive buffer value in %q", s)
	}

	return bufferMs, nil
}

// IsProbe reports whether a datagram is a discovery probe.
func IsProbe(msg []byte) bool {
	return string(msg) == MsgProbe
}

// IsFail reports whether a datagram is an auth rejection.
func IsFail(msg []byte) bool {
	return string(msg) == MsgFail
}

// IsHeartbeat reports whether a datagram is a client heartbeat.
func IsHeartbeat(msg []byte) bool {
	return string(msg) == MsgHeartbeat
}

// IsLegacyClient reports whether a datagram is a pre-PIN registration
// attempt.
func IsLegacyClient(msg []byte) bool {
	return bytes.HasPrefix(msg, []byte(MsgLegacyClientPrefix))
}
