package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestDigestKnownVectors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
		{"abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}
	for _, tt := range tests {
		got, err := Digest(SHA256, tt.in)
		if err != nil {
			t.Fatalf("Digest(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Digest(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestDigestDeterministic(t *testing.T) {
	a, err := Digest(SHA256, "nonce____1700000000____image")
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	b, _ := Digest(SHA256, "nonce____1700000000____image")
	if a != b {
		t.Errorf("Digest is not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64", len(a))
	}
}

func TestDigestSingleBitChange(t *testing.T) {
	a, _ := Digest(SHA256, "HOLYX-123456")
	// '6' (0x36) -> '7' (0x37) flips the lowest bit of the last byte
	b, _ := Digest(SHA256, "HOLYX-123457")
	if a == b {
		t.Error("digests of messages differing by one bit should differ")
	}
}

func TestDigestUnsupportedAlgorithm(t *testing.T) {
	_, err := Digest("MD5", "abc")
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("Digest(MD5) error = %v, want ErrUnsupportedAlgorithm", err)
	}
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(16)
	if err != nil {
		t.Fatalf("RandomBytes() error = %v", err)
	}
	if len(a) != 16 {
		t.Fatalf("len = %d, want 16", len(a))
	}
	b, _ := RandomBytes(16)
	if bytes.Equal(a, b) {
		t.Error("two RandomBytes(16) calls returned identical output")
	}

	empty, err := RandomBytes(0)
	if err != nil || len(empty) != 0 {
		t.Errorf("RandomBytes(0) = %v, %v; want empty, nil", empty, err)
	}
	if _, err := RandomBytes(-1); err == nil {
		t.Error("RandomBytes(-1) should fail")
	}
}

func TestRandomHex(t *testing.T) {
	h, err := RandomHex(16)
	if err != nil {
		t.Fatalf("RandomHex() error = %v", err)
	}
	if len(h) != 16 {
		t.Errorf("len = %d, want 16", len(h))
	}
	if _, err := RandomHex(15); err == nil {
		t.Error("RandomHex(15) should fail for odd length")
	}
}

func TestDeriveStoreKey(t *testing.T) {
	secret := make([]byte, 32)
	secret[0] = 0x42

	key, err := DeriveStoreKey(secret)
	if err != nil {
		t.Fatalf("DeriveStoreKey() error = %v", err)
	}
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}

	key2, _ := DeriveStoreKey(secret)
	if !bytes.Equal(key, key2) {
		t.Error("DeriveStoreKey is not deterministic")
	}

	if _, err := DeriveStoreKey(nil); err == nil {
		t.Error("DeriveStoreKey(nil) should fail")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	key[0] = 0x01
	key[31] = 0xFF

	plaintext := []byte("09:00,18:30")
	sealed, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("sealed value contains the plaintext")
	}

	opened, err := Open(key, sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}
}

func TestOpenWrongKey(t *testing.T) {
	key := make([]byte, 32)
	sealed, err := Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	wrongKey := make([]byte, 32)
	wrongKey[0] = 0xFF
	if _, err := Open(wrongKey, sealed); err == nil {
		t.Error("Open() with wrong key should fail")
	}
}

func TestOpenTampered(t *testing.T) {
	key := make([]byte, 32)
	sealed, err := Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	sealed[len(sealed)-1] ^= 0xFF // tamper
	if _, err := Open(key, sealed); err == nil {
		t.Error("Open() with tampered value should fail")
	}
	if _, err := Open(key, sealed[:4]); err == nil {
		t.Error("Open() with truncated value should fail")
	}
}
