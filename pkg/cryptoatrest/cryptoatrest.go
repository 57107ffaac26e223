// Package cryptoatrest provides AES-256-GCM encryption for data-at-rest plus
// an encrypted file vault with atomic-replace write semantics. The rest of
// the system treats it as an opaque blob store: writes are durable before
// they are reported complete, and reads return exactly the last successfully
// written bytes.
package cryptoatrest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

// Encryptor seals and opens byte payloads with AES-256-GCM.
type Encryptor struct {
	aead cipher.AEAD
}

// New creates an Encryptor from a 32-byte key.
func New(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cryptoatrest: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{aead: aead}, nil
}

// NewFromPassphrase derives a 32-byte key from an arbitrary-length passphrase
// with HKDF-SHA256 and a caller-supplied salt.
func NewFromPassphrase(passphrase, salt string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, errors.New("cryptoatrest: empty passphrase")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(passphrase), []byte(salt), []byte("typeauthn-at-rest"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return New(key)
}

// NewFromEnv builds an Encryptor from an environment variable holding either
// a raw/base64/hex 32-byte key or, failing that, a passphrase to derive one
// from.
func NewFromEnv(envKey string) (*Encryptor, error) {
	v := os.Getenv(envKey)
	if v == "" {
		return nil, errors.New("cryptoatrest: encryption key env not set: " + envKey)
	}
	if len(v) == 32 {
		if e, err := New([]byte(v)); err == nil {
			return e, nil
		}
	}
	if b, err := base64.StdEncoding.DecodeString(v); err == nil && len(b) == 32 {
		return New(b)
	}
	if b, err := hex.DecodeString(v); err == nil && len(b) == 32 {
		return New(b)
	}
	return NewFromPassphrase(v, envKey)
}

// Encrypt returns nonce||ciphertext for the plaintext.
func (e *Encryptor) Encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plain, nil), nil
}

// Decrypt accepts nonce||ciphertext and returns the plaintext. Tampered or
// truncated input fails authentication.
func (e *Encryptor) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < e.aead.NonceSize() {
		return nil, errors.New("cryptoatrest: ciphertext too short")
	}
	nonce := blob[:e.aead.NonceSize()]
	ct := blob[e.aead.NonceSize():]
	return e.aead.Open(nil, nonce, ct, nil)
}
