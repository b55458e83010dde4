// Package crypto implements the shared-PIN key schedule and datagram
// encryption for AuStream sessions. Both peers derive the same AES-256 key
// from a 6-digit PIN with PBKDF2, and audio payloads are sealed with
// AES-256-GCM using a fresh random nonce per datagram.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32

	// NonceSize is the GCM nonce size in bytes.
	NonceSize = 12

	// TagSize is the GCM authentication tag size in bytes.
	TagSize = 16

	// Overhead is the total size added to each sealed payload.
	// The nonce (12 bytes) is prepended and the tag (16 bytes) appended.
	Overhead = NonceSize + TagSize

	// PBKDF2Iterations is the PBKDF2 iteration count for key derivation.
	PBKDF2Iterations = 10000

	// Salt is the fixed derivation salt. It must match on sender and
	// receiver or the derived keys diverge and every datagram fails to
	// authenticate.
	Salt = "AuStreamSalt2024"
)

var (
	// ErrCiphertextShort is returned when a sealed blob cannot even hold
	// a nonce and a tag.
	ErrCiphertextShort = errors.New("ciphertext too short")

	// ErrKeySize is returned when a key of the wrong length is supplied.
	ErrKeySize = errors.New("invalid key size")
)

// DeriveKey derives the 32-byte session key from a PIN using
// PBKDF2-HMAC-SHA256. The derivation is deterministic so that sender and
// receiver arrive at byte-identical keys.
func DeriveKey(pin string) []byte {
	return pbkdf2.Key([]byte(pin), []byte(Salt), PBKDF2Iterations, KeySize, sha256.New)
}

// HashPIN returns the base64-encoded SHA-256 digest of pin||Salt.
// This is what a receiver presents during authentication; the PIN itself
// never crosses the wire.
func HashPIN(pin string) string {
	sum := sha256.Sum256([]byte(pin + Salt))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Cipher seals and opens audio payloads with AES-256-GCM.
// It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrKeySize, len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns nonce || ciphertext || tag.
// A fresh 96-bit nonce is drawn from the system CSPRNG per call; at one
// datagram per 10 ms the birthday bound on random nonces is not a concern
// for session lengths this system targets.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	// Output: nonce || ciphertext || tag
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(rand.Reader, out[:NonceSize]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return c.aead.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. It returns an error if the blob
// is shorter than the nonce plus tag, or if authentication fails.
func (c *Cipher) Open(blob []byte) ([]byte, error) {
	if len(blob) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextShort, len(blob))
	}

	plaintext, err := c.aead.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	return plaintext, nil
}

// ZeroBytes zeroes out a byte slice to prevent key material from lingering
// in memory after a session ends.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
