package storage

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const encryptionInfo = "blogpress storage v1"

// Encrypted storage seals values with XChaCha20-Poly1305 before passing them to the inner storage
// The key name is used as additional data, so a value copied under another key fails to open
type Encrypted struct {
	inner Storage
	aead  cipher.AEAD
}

// NewEncrypted derives the encryption key from the hex encoded secret
// Secret has to be at least 32 bytes long (64 hex chars); use `blogctl gensecret` to issue one
func NewEncrypted(inner Storage, secretHex string) (*Encrypted, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("secret key must be hex encoded. Err: %w", err)
	}
	if len(secret) < 32 {
		return nil, errors.New("secret key must be at least 32 bytes")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(encryptionInfo)), key); err != nil {
		return nil, fmt.Errorf("error while deriving key. Err: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("error while creating cipher. Err: %w", err)
	}

	return &Encrypted{inner: inner, aead: aead}, nil
}

func (e *Encrypted) Get(ctx context.Context, key string) (string, error) {
	sealed, err := e.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}

	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < e.aead.NonceSize()+e.aead.Overhead() {
		return "", fmt.Errorf("stored value for %q is not sealed", key)
	}

	nonce, ciphertext := raw[:e.aead.NonceSize()], raw[e.aead.NonceSize():]
	plain, err := e.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", fmt.Errorf("error while opening value for %q. Err: %w", key, err)
	}

	return string(plain), nil
}

func (e *Encrypted) Set(ctx context.Context, key string, value string) error {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(value)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("error while generating nonce. Err: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return e.inner.Set(ctx, key, base64.RawStdEncoding.EncodeToString(sealed))
}

func (e *Encrypted) Remove(ctx context.Context, keys ...string) error {
	return e.inner.Remove(ctx, keys...)
}
