package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"querybridge/internal/utils"
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrInvalidKeyLength  = errors.New("encryption key must be 32 bytes for AES-256")
)

// SecretResolver turns an at-rest secret into plaintext. Callers must not log
// the result.
type SecretResolver interface {
	Decrypt(ciphertext string) (string, error)
}

// CredentialVault handles encryption and decryption of credentials
type CredentialVault struct {
	masterKey []byte
}

// NewCredentialVault creates a new credential vault with the given master key
// The master key should be 32 bytes for AES-256-GCM
func NewCredentialVault(masterKey []byte) (*CredentialVault, error) {
	if len(masterKey) != 32 {
		return nil, ErrInvalidKeyLength
	}
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &CredentialVault{masterKey: key}, nil
}

// Encrypt seals plaintext with AES-256-GCM and returns base64(nonce || ciphertext).
func (cv *CredentialVault) Encrypt(plaintext string) (string, error) {
	gcm, err := cv.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Malformed input or a wrong key
// yields a DecryptionError.
func (cv *CredentialVault) Decrypt(ciphertextB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", utils.NewDecryptionError(fmt.Errorf("failed to decode base64: %w", err))
	}

	gcm, err := cv.aead()
	if err != nil {
		return "", utils.NewDecryptionError(err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize+gcm.Overhead() {
		return "", utils.NewDecryptionError(ErrInvalidCiphertext)
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", utils.NewDecryptionError(fmt.Errorf("failed to decrypt: %w", err))
	}

	return string(plaintext), nil
}

func (cv *CredentialVault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(cv.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
