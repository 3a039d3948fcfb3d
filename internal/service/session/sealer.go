package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	domain "github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer protects token values at rest.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type plainSealer struct{}

// NewPlainSealer stores values as-is. Used when no seal key is configured.
func NewPlainSealer() Sealer {
	return plainSealer{}
}

func (plainSealer) Seal(plaintext string) (string, error) { return plaintext, nil }
func (plainSealer) Open(sealed string) (string, error)    { return sealed, nil }

const sealedPrefix = "xc1."

type aeadSealer struct {
	key []byte
}

// NewAEADSealer seals with XChaCha20-Poly1305. key is base64 (std or url) of 32 bytes.
func NewAEADSealer(encodedKey string) (Sealer, error) {
	key, err := decodeKey(encodedKey)
	if err != nil {
		return nil, err
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, domain.ErrInvalidSealKey
	}
	return &aeadSealer{key: key}, nil
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, domain.ErrInvalidSealKey
}

func (s *aeadSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *aeadSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", domain.ErrCorruptSession
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", domain.ErrCorruptSession
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", domain.ErrCorruptSession
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", domain.ErrCorruptSession
	}
	return string(pt), nil
}
