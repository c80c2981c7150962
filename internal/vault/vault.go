// Package vault seals CGM account passwords at rest.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/vitalsync/vitalsync/internal/config"
	"go.uber.org/fx"
	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrInvalidKey        = errors.New("invalid_vault_key")
	ErrInvalidCiphertext = errors.New("invalid_ciphertext")
)

// Vault provides synchronous, side-effect-free seal/unseal of secrets using
// a ChaCha20-Poly1305 AEAD with a random nonce prefix.
type Vault struct {
	key []byte
}

// New builds a Vault from a hex-encoded 32-byte key.
func New(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return &Vault{key: key}, nil
}

func (v *Vault) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) Unseal(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}

// NewFromConfig builds the vault from application configuration.
func NewFromConfig(cfg config.Config) (*Vault, error) {
	if cfg.VaultKey == "" {
		return nil, fmt.Errorf("%w: VAULT_KEY is not set", ErrInvalidKey)
	}
	return New(cfg.VaultKey)
}

// Module wires the credential vault.
var Module = fx.Module("vault",
	fx.Provide(NewFromConfig),
)
