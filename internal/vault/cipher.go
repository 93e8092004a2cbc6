package vault

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	sealPrefix = "v1:"
	hkdfInfo   = "agentprovision credential vault v1"
)

var errMalformed = errors.New("vault: malformed ciphertext")

// Cipher is an XChaCha20-Poly1305 AEAD with one HKDF-SHA256 subkey per
// tenant, derived from the process master key with the tenant ID as salt.
type Cipher struct {
	master []byte
	keys   sync.Map // uuid.UUID -> cipher.AEAD
}

func NewCipher(master []byte) (*Cipher, error) {
	if len(master) != 32 {
		return nil, fmt.Errorf("vault: master key must be 32 bytes, got %d", len(master))
	}
	return &Cipher{master: bytes.Clone(master)}, nil
}

func (c *Cipher) aead(tenantID uuid.UUID) (cipher.AEAD, error) {
	if v, ok := c.keys.Load(tenantID); ok {
		return v.(cipher.AEAD), nil
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.master, tenantID[:], []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	v, _ := c.keys.LoadOrStore(tenantID, aead)
	return v.(cipher.AEAD), nil
}

// Seal encrypts plaintext under tenantID's subkey, bound to aad, and returns
// a printable token.
func (c *Cipher) Seal(tenantID uuid.UUID, plaintext, aad []byte) (string, error) {
	aead, err := c.aead(tenantID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, plaintext, aad)
	return sealPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. A token sealed for another tenant or under different
// aad fails to open.
func (c *Cipher) Open(tenantID uuid.UUID, token string, aad []byte) ([]byte, error) {
	if !strings.HasPrefix(token, sealPrefix) {
		return nil, errMalformed
	}
	aead, err := c.aead(tenantID)
	if err != nil {
		return nil, err
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(token, sealPrefix))
	if err != nil || len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, errMalformed
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("vault: open: %w", err)
	}
	return pt, nil
}
