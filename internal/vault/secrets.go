package vault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mtzanidakis/directorate/internal/store"
)

// SecretPrefix marks a config value that names a stored secret.
const SecretPrefix = "secret:"

var ErrSecretNotFound = errors.New("secret not found")

// Secrets stores named values sealed by a Vault.
type Secrets struct {
	store *store.Store
	vault *Vault
}

func NewSecrets(s *store.Store, v *Vault) *Secrets {
	return &Secrets{store: s, vault: v}
}

// Set creates or replaces the secret called name.
func (s *Secrets) Set(name, description, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("secret name is required")
	}
	ct, nonce, err := s.vault.Seal([]byte(value))
	if err != nil {
		return err
	}

	sec := &store.Secret{ID: uuid.New().String(), Name: name, Description: description, Value: ct, Nonce: nonce}
	existing, err := s.store.GetSecretByName(name)
	if err != nil {
		return err
	}
	if existing != nil {
		sec.ID = existing.ID
		if description == "" {
			sec.Description = existing.Description
		}
	}
	return s.store.SaveSecret(sec)
}

func (s *Secrets) Get(name string) (string, error) {
	sec, err := s.store.GetSecretByName(name)
	if err != nil {
		return "", err
	}
	if sec == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	plain, err := s.vault.Open(sec.Value, sec.Nonce)
	if err != nil {
		return "", fmt.Errorf("open secret %s: %w", name, err)
	}
	return string(plain), nil
}

// List returns secret metadata only.
func (s *Secrets) List() ([]store.Secret, error) {
	return s.store.ListSecrets()
}

func (s *Secrets) Delete(name string) error {
	sec, err := s.store.GetSecretByName(name)
	if err != nil {
		return err
	}
	if sec == nil {
		return fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return s.store.DeleteSecret(sec.ID)
}

// Resolve returns ref unchanged unless it has the "secret:" prefix, in which
// case the named secret is decrypted.
func (s *Secrets) Resolve(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, SecretPrefix)
	if !ok {
		return ref, nil
	}
	return s.Get(strings.TrimSpace(name))
}

// IsRef reports whether v names a stored secret.
func IsRef(v string) bool {
	return strings.HasPrefix(v, SecretPrefix)
}
