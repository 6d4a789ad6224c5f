package wallet

import (
	"crypto/rand"
	"io"
	"path/filepath"
	"testing"
)

func randomSecret(t *testing.T) [32]byte {
	t.Helper()
	var secret [32]byte
	if _, err := io.ReadFull(rand.Reader, secret[:]); err != nil {
		t.Fatalf("read random secret: %v", err)
	}
	return secret
}

func TestSaveAndLoadSecretRoundTrips(t *testing.T) {
	secret := randomSecret(t)
	path := filepath.Join(t.TempDir(), "identity.keystore")

	if err := SaveSecret(path, "correct horse", secret); err != nil {
		t.Fatalf("SaveSecret: %v", err)
	}

	got, err := LoadSecret(path, "correct horse")
	if err != nil {
		t.Fatalf("LoadSecret: %v", err)
	}
	if got != secret {
		t.Fatal("loaded secret does not match saved secret")
	}
}

func TestLoadSecretWithWrongPasswordFails(t *testing.T) {
	secret := randomSecret(t)
	path := filepath.Join(t.TempDir(), "identity.keystore")

	if err := SaveSecret(path, "correct horse", secret); err != nil {
		t.Fatalf("SaveSecret: %v", err)
	}
	if _, err := LoadSecret(path, "wrong password"); err == nil {
		t.Fatal("expected error for wrong password")
	}
}
