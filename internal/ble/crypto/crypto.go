// Package crypto provides the cryptographic primitives used by the HOLYX sync
// protocol: SHA-256 hex digests for the frame authentication hash, secure
// random bytes for nonces, and AES-256-GCM sealing with an HKDF-SHA256 derived
// key for values kept in the local store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Algorithm names a digest algorithm.
type Algorithm string

// SHA256 is the only digest the peripheral firmware understands.
const SHA256 Algorithm = "SHA-256"

// ErrUnsupportedAlgorithm is returned by Digest for anything but SHA256.
var ErrUnsupportedAlgorithm = errors.New("ble/crypto: unsupported algorithm")

// Digest returns the lowercase hex digest of message. The result is always
// 64 characters long; an empty message is valid.
func Digest(alg Algorithm, message string) (string, error) {
	if alg != SHA256 {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:]), nil
}

// RandomBytes returns n bytes read from the system CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("ble/crypto: negative length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("ble/crypto: random bytes: %w", err)
	}
	return buf, nil
}

// RandomHex returns a hex string of exactly length characters built from
// length/2 random bytes. length must be even.
func RandomHex(length int) (string, error) {
	if length%2 != 0 {
		return "", fmt.Errorf("ble/crypto: hex length must be even, got %d", length)
	}
	b, err := RandomBytes(length / 2)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// DeriveStoreKey uses HKDF-SHA256 to derive a 32-byte AES key from secret.
func DeriveStoreKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("ble/crypto: empty secret")
	}
	r := hkdf.New(sha256.New, secret, nil, []byte("holyx-sync/store"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("ble/crypto: HKDF: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM and returns nonce || ciphertext || tag.
func Seal(key, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize()) // 12 bytes
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("ble/crypto: random nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func Open(key, sealed []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("ble/crypto: sealed value too short (%d bytes)", len(sealed))
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: decrypt: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: new GCM: %w", err)
	}
	return aead, nil
}
