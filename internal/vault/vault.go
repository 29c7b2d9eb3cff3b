// Package vault keeps API keys encrypted at rest in the store.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var ErrNoPassphrase = errors.New("vault passphrase not configured")

// Vault seals values with AES-256-GCM under a key derived from a passphrase.
type Vault struct {
	key  [32]byte
	aead cipher.AEAD
}

// New derives the key with Argon2id. The salt is the SHA-256 of the
// passphrase so the same passphrase opens values written by earlier runs.
func New(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	salt := sha256.Sum256([]byte(passphrase))
	v := &Vault{}
	copy(v.key[:], argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32))

	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	v.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return v, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (v *Vault) Seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (v *Vault) Open(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != v.aead.NonceSize() {
		return nil, fmt.Errorf("decrypt: bad nonce length %d", len(nonce))
	}
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
