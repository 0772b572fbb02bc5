package transport

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Cipher optionally authenticates and encrypts a datagram payload after
// encoding, mirroring pyraft/crypto.py's AbstractCryptor (AESCryptor in
// particular: both are AEAD ciphers keyed off a single shared secret).
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// SecretboxCipher is the Go-ecosystem analogue of pyraft's AESCryptor:
// an authenticated, symmetric, shared-secret cipher, here NaCl
// secretbox (XSalsa20-Poly1305) rather than AES-EAX, since that's the
// construction golang.org/x/crypto exposes as a single high-level call.
// A fresh random nonce is generated per Seal and prepended to the
// ciphertext, matching AESCryptor's per-message nonce discipline.
type SecretboxCipher struct {
	key [32]byte
}

// NewSecretboxCipher derives a 32-byte key from secret via SHA-256, so
// callers can pass a human-chosen passphrase the same way pyraft's
// CRYPTOR_SECRET setting does.
func NewSecretboxCipher(secret string) *SecretboxCipher {
	return &SecretboxCipher{key: sha256.Sum256([]byte(secret))}
}

func (c *SecretboxCipher) Seal(plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("transport: generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], plaintext, &nonce, &c.key)
	return out, nil
}

func (c *SecretboxCipher) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 24 {
		return nil, fmt.Errorf("transport: ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	plaintext, ok := secretbox.Open(nil, ciphertext[24:], &nonce, &c.key)
	if !ok {
		return nil, fmt.Errorf("transport: decryption failed (bad key or tampered datagram)")
	}
	return plaintext, nil
}
