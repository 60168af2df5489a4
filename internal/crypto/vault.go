// Package crypto keeps secrets encrypted while they sit in process memory.
//
// A Vault owns one random XChaCha20-Poly1305 key that never leaves the
// process and is itself stored in a memguard enclave, so the key is only
// present in plaintext for the duration of a single Encrypt or Decrypt call.
// Every Vault generates its own key: ciphertext produced by one vault cannot
// be opened by another, which limits a memory disclosure to the secrets of a
// single token manager.
//
// Example usage:
//
//	vault, err := crypto.NewVault()
//	if err != nil {
//		return err
//	}
//	defer vault.Destroy()
//
//	sealed, err := vault.Encrypt(accessToken)
//	...
//	plain, err := vault.Decrypt(sealed)
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"

	apperrors "token-broker/internal/common/errors"
)

var (
	// ErrDecrypt is returned for ciphertext that is corrupted or was sealed by another vault
	ErrDecrypt = errors.New("decryption failed")
	// ErrVaultDestroyed is returned after Destroy
	ErrVaultDestroyed = errors.New("vault destroyed")
)

// Vault encrypts strings with an instance-scoped key.
//
// The vault is safe for concurrent use by multiple goroutines.
type Vault struct {
	mu  sync.RWMutex
	key *memguard.Enclave
}

// NewVault creates a vault with a fresh random key.
func NewVault() (*Vault, error) {
	key := memguard.NewEnclaveRandom(chacha20poly1305.KeySize)
	if key == nil {
		return nil, apperrors.InternalError("failed to generate vault key", nil)
	}
	return &Vault{key: key}, nil
}

// Encrypt seals plaintext and returns it base64 encoded, nonce first.
// Each call uses a new random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	var sealed []byte
	err := v.withCipher(func(aead aeadCipher) error {
		nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
		if _, err := rand.Read(nonce); err != nil {
			return apperrors.InternalError("failed to generate nonce", err)
		}
		sealed = aead.Seal(nonce, nonce, []byte(plaintext), nil)
		return nil
	})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext produced by Encrypt on the same vault.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", apperrors.InternalError("ciphertext is not valid base64", ErrDecrypt)
	}

	var plaintext []byte
	err = v.withCipher(func(aead aeadCipher) error {
		if len(data) < aead.NonceSize()+aead.Overhead() {
			return apperrors.InternalError("ciphertext too short", ErrDecrypt)
		}
		nonce, body := data[:aead.NonceSize()], data[aead.NonceSize():]
		out, openErr := aead.Open(nil, nonce, body, nil)
		if openErr != nil {
			return apperrors.InternalError("ciphertext authentication failed", ErrDecrypt)
		}
		plaintext = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Destroy drops the key. Encrypt and Decrypt fail afterwards.
func (v *Vault) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = nil
}

type aeadCipher interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// withCipher unseals the key for the duration of fn only
func (v *Vault) withCipher(fn func(aead aeadCipher) error) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.key == nil {
		return apperrors.InternalError("vault is no longer usable", ErrVaultDestroyed)
	}

	buf, err := v.key.Open()
	if err != nil {
		return apperrors.InternalError("failed to open vault key", err)
	}
	defer buf.Destroy()

	aead, err := chacha20poly1305.NewX(buf.Bytes())
	if err != nil {
		return apperrors.InternalError("failed to create cipher", err)
	}
	return fn(aead)
}
