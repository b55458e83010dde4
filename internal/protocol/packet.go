// Package protocol defines the AuStream wire formats: the audio datagram
// framing, the ASCII control messages shared by sender and receiver, and
// the default port assignments.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the audio datagram header size in bytes.
	HeaderSize = 14

	// MaxPayloadSize bounds the sealed payload carried in one datagram.
	// One sealed PCM frame is 1948 bytes; the bound keeps the whole
	// datagram comfortably under 2 KiB.
	MaxPayloadSize = 2048 - HeaderSize

	// DefaultAudioPort is the default UDP port for control and audio.
	DefaultAudioPort = 5004
)

// TimePort returns the clock-sync port paired with an audio port.
func TimePort(audioPort int) int {
	return audioPort + 1
}

var (
	// ErrDatagramShort is returned when a datagram cannot hold a header.
	ErrDatagramShort = errors.New("datagram shorter than header")

	// ErrLengthMismatch is returned when the header's payload length does
	// not match the datagram size.
	ErrLengthMismatch = errors.New("payload length does not match datagram")

	// ErrPacketTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrPacketTooLarge = errors.New("payload exceeds maximum size")
)

// Packet is one audio datagram.
// Header format (14 bytes, big-endian):
//
//	Seq       [4 bytes] - Sequence number, monotonic per session
//	Timestamp [8 bytes] - Sender monotonic clock at build, nanoseconds
//	Length    [2 bytes] - Payload length in bytes
//
// The payload is the AEAD output: nonce || ciphertext || tag.
type Packet struct {
	Seq       uint32
	Timestamp int64
	Payload   []byte
}

// Encode serializes the packet to bytes.
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, ErrPacketTooLarge
	}

	buf := make([]byte, HeaderSize+len(p.Payload))

	binary.BigEndian.PutUint32(buf[0:4], p.Seq)
	binary.BigEndian.PutUint64(buf[4:12], uint64(p.Timestamp))
	binary.BigEndian.PutUint16(buf[12:14], uint16(len(p.Payload)))

	copy(buf[HeaderSize:], p.Payload)

	return buf, nil
}

// Decode deserializes a packet from a received datagram. The datagram must
// contain exactly one packet: a 14-byte header followed by as many payload
// bytes as the header announces.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrDatagramShort, len(buf))
	}

	length := int(binary.BigEndian.Uint16(buf[12:14]))
	if length != len(buf)-HeaderSize {
		return nil, fmt.Errorf("%w: header says %d, datagram carries %d",
			ErrLengthMismatch, length, len(buf)-HeaderSize)
	}

	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:])

	return &Packet{
		Seq:       binary.BigEndian.Uint32(buf[0:4]),
		Timestamp: int64(binary.BigEndian.Uint64(buf[4:12])),
		Payload:   payload,
	}, nil
}

// String returns a debug representation of the packet.
func (p *Packet) String() string {
	return fmt.Sprintf("Packet{Seq=%d, Timestamp=%d, PayloadLen=%d}",
		p.Seq, p.Timestamp, len(p.Payload))
}
