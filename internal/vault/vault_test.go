package vault

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mtzanidakis/directorate/internal/config"
	"github.com/mtzanidakis/directorate/internal/store"
)

func mustVault(t *testing.T, passphrase string) *Vault {
	t.Helper()
	v, err := New(passphrase)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return v
}

func TestSealOpen(t *testing.T) {
	v := mustVault(t, "test-passphrase")
	for _, plaintext := range [][]byte{[]byte("sk-ant-api03-secret"), {}} {
		ct, nonce, err := v.Seal(plaintext)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		got, err := v.Open(ct, nonce)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if !bytes.Equal(plaintext, got) {
			t.Fatalf("got %q, want %q", got, plaintext)
		}
	}
}

func TestWrongPassphrase(t *testing.T) {
	ct, nonce, err := mustVault(t, "correct-passphrase").Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := mustVault(t, "wrong-passphrase").Open(ct, nonce); err == nil {
		t.Fatal("expected error opening with wrong passphrase")
	}
}

func TestSamePassphraseSameKey(t *testing.T) {
	if mustVault(t, "one").key != mustVault(t, "one").key {
		t.Fatal("same passphrase produced different keys")
	}
	if mustVault(t, "one").key == mustVault(t, "two").key {
		t.Fatal("different passphrases produced the same key")
	}
}

func TestEmptyPassphrase(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrNoPassphrase) {
		t.Fatalf("expected ErrNoPassphrase, got %v", err)
	}
}

func newSecrets(t *testing.T) *Secrets {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewSecrets(s, mustVault(t, "test-passphrase"))
}

func TestSecretsLifecycle(t *testing.T) {
	s := newSecrets(t)

	if err := s.Set("anthropic", "production key", "sk-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("anthropic", "", "sk-2"); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := s.Get("anthropic")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "sk-2" {
		t.Errorf("expected replaced value, got %q", got)
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Description != "production key" {
		t.Fatalf("expected one secret keeping its description, got %+v", list)
	}

	if err := s.Delete("anthropic"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get("anthropic"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got %v", err)
	}
	if err := s.Delete("anthropic"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound on second delete, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	s := newSecrets(t)
	if err := s.Set("openrouter", "", "or-key"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		ref, want string
		wantErr   bool
	}{
		{ref: "plain-key", want: "plain-key"},
		{ref: "secret:openrouter", want: "or-key"},
		{ref: "secret:missing", wantErr: true},
	}
	for _, tt := range tests {
		got, err := s.Resolve(tt.ref)
		if (err != nil) != tt.wantErr {
			t.Errorf("Resolve(%q) error = %v", tt.ref, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}
