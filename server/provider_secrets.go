package server

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
)

// Provider API keys are sealed at rest with AES-256-GCM. The key comes from
// QUILLFLOW_SECRET_KEY when set (base64, or a raw passphrase); without it
// the key is derived from the machine identity plus the store scope, so a
// single-host install needs no configuration but its database is not
// portable to another machine.
const (
	providerSecretEnvKey         = "QUILLFLOW_SECRET_KEY"
	providerEncryptedValuePrefix = "enc:v1:"
)

type providerSecretCodec struct {
	aead cipher.AEAD
}

func newProviderSecretCodec(scope string) (*providerSecretCodec, error) {
	sum := sha256.Sum256(secretKeyMaterial(scope))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &providerSecretCodec{aead: aead}, nil
}

// secretKeyMaterial returns the bytes hashed into the sealing key.
func secretKeyMaterial(scope string) []byte {
	if env := strings.TrimSpace(os.Getenv(providerSecretEnvKey)); env != "" {
		if decoded, err := base64.StdEncoding.DecodeString(env); err == nil && len(decoded) > 0 {
			return decoded
		}
		return []byte(env)
	}
	return []byte(strings.Join([]string{
		"quillflow.providers",
		hostIdentity(),
		strings.TrimSpace(scope),
	}, "|"))
}

// hostIdentity is the user@host pair used for derived keys.
func hostIdentity() string {
	username := "unknown"
	if current, err := user.Current(); err == nil && current != nil {
		username = current.Username
	}
	host, _ := os.Hostname()
	return username + "@" + host
}

// Encrypt seals a plaintext API key. Blank values and values already
// carrying the encrypted prefix pass through unchanged, so re-saving a
// provider record never double-encrypts.
func (c *providerSecretCodec) Encrypt(value string) (string, error) {
	if c == nil || c.aead == nil {
		return "", errors.New("provider secret codec not initialized")
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.HasPrefix(trimmed, providerEncryptedValuePrefix) {
		return value, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(value), nil)
	return providerEncryptedValuePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a sealed value. Values without the encrypted prefix are
// legacy plaintext rows and decrypt to themselves.
func (c *providerSecretCodec) Decrypt(value string) (string, error) {
	if c == nil || c.aead == nil {
		return "", errors.New("provider secret codec not initialized")
	}
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, providerEncryptedValuePrefix) {
		return value, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(trimmed, providerEncryptedValuePrefix))
	if err != nil {
		return "", fmt.Errorf("provider secret: %w", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(sealed) <= nonceSize {
		return "", errors.New("provider secret: sealed value truncated")
	}
	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("provider secret: %w", err)
	}
	return string(plaintext), nil
}
