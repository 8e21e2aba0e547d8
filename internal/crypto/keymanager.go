// Package crypto provides encryption utilities for ClawTrace.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	// SecretLength is the length of generated agent secrets.
	// 32 bytes provides 256 bits of entropy.
	SecretLength = 32

	// NonceSize is the size of the AES-GCM nonce (12 bytes standard).
	NonceSize = 12

	// KeySize is the size of the AES-256 key (32 bytes).
	KeySize = 32
)

var (
	// ErrInvalidKeySize indicates the encryption key is not the correct size.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")
	// ErrInvalidCiphertext indicates the ciphertext is too short or malformed.
	ErrInvalidCiphertext = errors.New("ciphertext too short")
	// ErrDecryptionFailed indicates the decryption operation failed.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// KeyManager encrypts agent secrets at rest with a server-side master key.
type KeyManager struct {
	masterKey []byte
}

// NewKeyManager creates a new KeyManager with the given master key.
// The master key must be exactly 32 bytes (256 bits) for AES-256.
func NewKeyManager(masterKey []byte) (*KeyManager, error) {
	if len(masterKey) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return &KeyManager{masterKey: masterKey}, nil
}

// GenerateAgentSecret generates a cryptographically secure random secret for
// a newly registered agent.
func (km *KeyManager) GenerateAgentSecret() (string, error) {
	bytes := make([]byte, SecretLength)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// Encrypt encrypts plaintext using AES-256-GCM with the master key.
// Returns the ciphertext with the nonce prepended.
func (km *KeyManager) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(km.masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	// Seal appends the encrypted data to nonce, so the result is nonce + ciphertext + tag
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext encrypted with Encrypt.
// Expects the nonce to be prepended to the ciphertext.
func (km *KeyManager) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(km.masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := ciphertext[:NonceSize]
	encryptedData := ciphertext[NonceSize:]

	plaintext, err := gcm.Open(nil, nonce, encryptedData, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

// EncryptString encrypts a string and returns base64-encoded ciphertext.
func (km *KeyManager) EncryptString(plaintext string) (string, error) {
	ciphertext, err := km.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString decrypts base64-encoded ciphertext and returns the plaintext string.
func (km *KeyManager) DecryptString(encodedCiphertext string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encodedCiphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := km.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// GenerateMasterKey generates a new random master key for use with NewKeyManager.
// This should be done once during initial server setup and stored securely.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return key, nil
}

// MasterKeyFromHex decodes a hex-encoded master key.
func MasterKeyFromHex(encoded string) ([]byte, error) {
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return key, nil
}
