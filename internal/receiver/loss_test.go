package receiver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/RishiIRL/austream/internal/audio"
	"github.com/RishiIRL/austream/internal/crypto"
	"github.com/RishiIRL/austream/internal/protocol"
)

// TestLossAccounting authenticates against a scripted sender that emits
// seq 1..10 with seq 5 withheld, and verifies the receiver's counters.
func TestLossAccounting(t *testing.T) {
	srv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	cipher, err := crypto.NewCipher(crypto.DeriveKey("123456"))
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		buf := make([]byte, 2048)
		n, addr, err := srv.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if _, ok := protocol.ParseAuth(buf[:n]); !ok {
			return
		}
		srv.WriteToUDP(protocol.BuildOK(50), addr)

		frame := make([]byte, audio.FrameSize)
		frame[0] = 0x10 // loud enough to matter if anyone gates downstream
		frame[1] = 0x10

		base := int64(1_000_000_000)
		for seq := uint32(1); seq <= 10; seq++ {
			if seq == 5 {
				continue // the network "drops" this one
			}
			sealed, err := cipher.Seal(frame)
			if err != nil {
				return
			}
			pkt := &protocol.Packet{
				Seq:       seq,
				Timestamp: base + int64(seq)*10_000_000,
				Payload:   sealed,
			}
			datagram, err := pkt.Encode()
			if err != nil {
				return
			}
			srv.WriteToUDP(datagram, addr)
			time.Sleep(2 * time.Millisecond)
		}
	}()

	port := srv.LocalAddr().(*net.UDPAddr).Port
	s := newTestSession(t, port, "123456")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().Received >= 9 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats := s.Stats()
	if stats.Received != 9 {
		t.Errorf("received = %d, want 9", stats.Received)
	}
	if stats.Lost != 1 {
		t.Errorf("lost = %d, want 1", stats.Lost)
	}
	if stats.DecryptErrors != 0 {
		t.Errorf("decrypt errors = %d, want 0", stats.DecryptErrors)
	}
}

// TestDecryptErrorCounted sends a datagram sealed with the wrong key and
// verifies it is dropped and counted, not played.
func TestDecryptErrorCounted(t *testing.T) {
	srv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	wrongCipher, err := crypto.NewCipher(crypto.DeriveKey("654321"))
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		buf := make([]byte, 2048)
		n, addr, err := srv.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if _, ok := protocol.ParseAuth(buf[:n]); !ok {
			return
		}
		srv.WriteToUDP(protocol.BuildOK(50), addr)

		sealed, err := wrongCipher.Seal(make([]byte, audio.FrameSize))
		if err != nil {
			return
		}
		pkt := &protocol.Packet{Seq: 1, Timestamp: 1, Payload: sealed}
		datagram, _ := pkt.Encode()
		srv.WriteToUDP(datagram, addr)
	}()

	port := srv.LocalAddr().(*net.UDPAddr).Port
	s := newTestSession(t, port, "123456")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().DecryptErrors >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats := s.Stats()
	if stats.DecryptErrors != 1 {
		t.Errorf("decrypt errors = %d, want 1", stats.DecryptErrors)
	}
	if stats.Received != 0 {
		t.Errorf("received = %d, want 0", stats.Received)
	}
}
