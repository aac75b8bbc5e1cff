package server

import (
	"strings"
	"testing"
)

func TestProviderSecretCodecRoundTrip(t *testing.T) {
	t.Setenv(providerSecretEnvKey, "test-secret-key")

	codec, err := newProviderSecretCodec("providers.db")
	if err != nil {
		t.Fatal(err)
	}

	encrypted, err := codec.Encrypt("sk-live-abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(encrypted, providerEncryptedValuePrefix) {
		t.Fatalf("encrypted value %q missing prefix", encrypted)
	}
	if strings.Contains(encrypted, "sk-live-abc123") {
		t.Error("plaintext visible in ciphertext")
	}

	decrypted, err := codec.Decrypt(encrypted)
	if err != nil {
		t.Fatal(err)
	}
	if decrypted != "sk-live-abc123" {
		t.Errorf("decrypted = %q", decrypted)
	}
}

func TestProviderSecretCodecEncryptIdempotent(t *testing.T) {
	t.Setenv(providerSecretEnvKey, "test-secret-key")

	codec, err := newProviderSecretCodec("providers.db")
	if err != nil {
		t.Fatal(err)
	}

	once, err := codec.Encrypt("value")
	if err != nil {
		t.Fatal(err)
	}
	twice, err := codec.Encrypt(once)
	if err != nil {
		t.Fatal(err)
	}
	if once != twice {
		t.Errorf("re-encrypting an encrypted value changed it: %q vs %q", once, twice)
	}
}

func TestProviderSecretCodecPassthrough(t *testing.T) {
	t.Setenv(providerSecretEnvKey, "test-secret-key")

	codec, err := newProviderSecretCodec("providers.db")
	if err != nil {
		t.Fatal(err)
	}

	// Empty values are stored as-is.
	if got, err := codec.Encrypt(""); err != nil || got != "" {
		t.Errorf("Encrypt(\"\") = %q, %v", got, err)
	}
	// Legacy plaintext values decrypt to themselves.
	if got, err := codec.Decrypt("plain-old-key"); err != nil || got != "plain-old-key" {
		t.Errorf("Decrypt(plaintext) = %q, %v", got, err)
	}
}

func TestProviderSecretCodecTamperDetected(t *testing.T) {
	t.Setenv(providerSecretEnvKey, "test-secret-key")

	codec, err := newProviderSecretCodec("providers.db")
	if err != nil {
		t.Fatal(err)
	}

	encrypted, err := codec.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	tampered := encrypted[:len(encrypted)-2] + "AA"
	if tampered == encrypted {
		tampered = encrypted[:len(encrypted)-2] + "BB"
	}
	if _, err := codec.Decrypt(tampered); err == nil {
		t.Error("tampered ciphertext decrypted without error")
	}
}

func TestProviderSecretCodecScopeSeparation(t *testing.T) {
	// Without an env key the sealing key is derived from the store scope,
	// so codecs over different stores cannot read each other's values.
	t.Setenv(providerSecretEnvKey, "")

	first, err := newProviderSecretCodec("providers-a.db")
	if err != nil {
		t.Fatal(err)
	}
	second, err := newProviderSecretCodec("providers-b.db")
	if err != nil {
		t.Fatal(err)
	}

	encrypted, err := first.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := second.Decrypt(encrypted); err == nil {
		t.Error("codec for a different scope decrypted the value")
	}
	if got, err := first.Decrypt(encrypted); err != nil || got != "secret" {
		t.Errorf("same-scope decrypt = %q, %v", got, err)
	}
}

func TestProviderSecretCodecKeyMismatch(t *testing.T) {
	t.Setenv(providerSecretEnvKey, "key-one")
	first, err := newProviderSecretCodec("providers.db")
	if err != nil {
		t.Fatal(err)
	}
	encrypted, err := first.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv(providerSecretEnvKey, "key-two")
	second, err := newProviderSecretCodec("providers.db")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := second.Decrypt(encrypted); err == nil {
		t.Error("decryption with a different key succeeded")
	}
}
