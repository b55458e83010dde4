package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	k1 := DeriveKey("123456")
	k2 := DeriveKey("123456")

	if len(k1) != KeySize {
		t.Fatalf("DeriveKey() returned %d bytes, want %d", len(k1), KeySize)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same PIN derived different keys")
	}

	k3 := DeriveKey("654321")
	if bytes.Equal(k1, k3) {
		t.Error("different PINs derived the same key")
	}
}

func TestDeriveKeyKnownVector(t *testing.T) {
	// The derivation parameters are part of the wire contract; a silent
	// change to salt or iteration count would break interop with peers.
	key := DeriveKey("000000")

	// PBKDF2-HMAC-SHA256("000000", "AuStreamSalt2024", 10000 iterations, 32 bytes).
	want := "d0790b506ebb4565200d92d8ae8c5abdd40096f3da60b394b5104808d4922fa9"
	if got := hex.EncodeToString(key); got != want {
		t.Errorf("DeriveKey(\"000000\") = %s, want %s", got, want)
	}

	var zero [KeySize]byte
	if bytes.Equal(key, zero[:]) {
		t.Error("derived key is zero")
	}

	again := DeriveKey("000000")
	if !bytes.Equal(key, again) {
		t.Error("derivation is not stable")
	}
}

func TestHashPIN(t *testing.T) {
	pin := "123456"
	sum := sha256.Sum256([]byte(pin + Salt))
	want := base64.StdEncoding.EncodeToString(sum[:])

	if got := HashPIN(pin); got != want {
		t.Errorf("HashPIN(%q) = %s, want %s", pin, got, want)
	}

	if HashPIN("123456") == HashPIN("123457") {
		t.Error("different PINs produced the same hash")
	}
}

func TestNewCipherKeySize(t *testing.T) {
	if _, err := NewCipher(make([]byte, 16)); err == nil {
		t.Error("NewCipher accepted a 16-byte key")
	}
	if _, err := NewCipher(DeriveKey("123456")); err != nil {
		t.Errorf("NewCipher() error = %v", err)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewCipher(DeriveKey("123456"))
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}

	plaintext := make([]byte, 1920)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	sealed, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if len(sealed) != len(plaintext)+Overhead {
		t.Errorf("sealed length = %d, want %d", len(sealed), len(plaintext)+Overhead)
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if !bytes.Equal(opened, plaintext) {
		t.Error("round-trip plaintext mismatch")
	}
}

func TestSealUniqueNonces(t *testing.T) {
	c, _ := NewCipher(DeriveKey("123456"))

	plaintext := []byte("same input")
	a, _ := c.Seal(plaintext)
	b, _ := c.Seal(plaintext)

	if bytes.Equal(a[:NonceSize], b[:NonceSize]) {
		t.Error("two Seal calls used the same nonce")
	}
	if bytes.Equal(a, b) {
		t.Error("two Seal calls produced identical output")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	c, _ := NewCipher(DeriveKey("123456"))

	sealed, err := c.Seal([]byte("audio frame payload"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	// Flipping any single bit anywhere in the blob must fail authentication.
	for _, pos := range []int{0, NonceSize, NonceSize + 3, len(sealed) - 1} {
		tampered := make([]byte, len(sealed))
		copy(tampered, sealed)
		tampered[pos] ^= 0x01

		if _, err := c.Open(tampered); err == nil {
			t.Errorf("Open() accepted blob with bit flipped at offset %d", pos)
		}
	}
}

func TestOpenRejectsShortBlob(t *testing.T) {
	c, _ := NewCipher(DeriveKey("123456"))

	for _, n := range []int{0, 1, NonceSize, Overhead - 1} {
		if _, err := c.Open(make([]byte, n)); err == nil {
			t.Errorf("Open() accepted %d-byte blob", n)
		}
	}
}

func TestOpenWrongKey(t *testing.T) {
	c1, _ := NewCipher(DeriveKey("123456"))
	c2, _ := NewCipher(DeriveKey("000000"))

	sealed, _ := c1.Seal([]byte("payload"))
	if _, err := c2.Open(sealed); err == nil {
		t.Error("Open() with wrong key succeeded")
	}
}

func TestZeroBytes(t *testing.T) {
	key := DeriveKey("123456")
	ZeroBytes(key)

	for i, b := range key {
		if b != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}
}
