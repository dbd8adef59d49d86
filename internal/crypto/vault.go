package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// SealedPrefix marks a history slot sealed by a Vault
const SealedPrefix = "sealed:v1:"

// Vault encrypts the local history slot at rest with a per-user key
type Vault struct {
	masterKey []byte
}

// NewVault creates a vault keyed from the shared secret
func NewVault(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault secret is required")
	}
	if len(secret) != 32 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidSecret, len(secret))
	}

	return &Vault{
		masterKey: []byte(secret),
	}, nil
}

// deriveUserKey derives a unique encryption key for a specific user
// using HKDF (HMAC-based Key Derivation Function)
func (v *Vault) deriveUserKey(userID string) ([]byte, error) {
	if userID == "" {
		return nil, errors.New("user ID is required for key derivation")
	}

	hkdfReader := hkdf.New(sha256.New, v.masterKey, []byte(userID), []byte("bienestar-history-slot"))

	userKey := make([]byte, 32) // AES-256 requires 32-byte key
	if _, err := io.ReadFull(hkdfReader, userKey); err != nil {
		return nil, fmt.Errorf("failed to derive user key: %w", err)
	}

	return userKey, nil
}

func (v *Vault) gcm(userID string) (cipher.AEAD, error) {
	userKey, err := v.deriveUserKey(userID)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(userKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext using AES-256-GCM with a user-specific key.
// Returns SealedPrefix followed by base64 of nonce+ciphertext.
func (v *Vault) Seal(userID string, plaintext []byte) (string, error) {
	gcm, err := v.gcm(userID)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal
func (v *Vault) Open(userID string, sealed string) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, errors.New("value is not sealed")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, SealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	gcm, err := v.gcm(userID)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// IsSealed reports whether a stored slot was written by a Vault
func IsSealed(s string) bool {
	return strings.HasPrefix(s, SealedPrefix)
}
