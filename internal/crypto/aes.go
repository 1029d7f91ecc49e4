// Package crypto provides the cryptographic operations behind configuration issuance.
// It includes AES-256-GCM encryption of rendered configuration payloads, loading of an
// existing certificate authority (PEM, PKCS#1, SEC1, PKCS#8 and encrypted keys), signing
// of per-device client certificates, and inline PKCS#12 export.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrDecryption is returned when a stored payload fails authenticated decryption.
// It indicates data corruption or a key mismatch.
var ErrDecryption = errors.New("payload decryption failed")

// EncryptPayload encrypts a payload using AES-256-GCM. The associated data is
// bound to the ciphertext and must be supplied again on decryption.
func EncryptPayload(plaintext []byte, key []byte, associatedData string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// nonce || ciphertext || tag
	return gcm.Seal(nonce, nonce, plaintext, []byte(associatedData)), nil
}

// DecryptPayload decrypts a payload produced by EncryptPayload
func DecryptPayload(encrypted []byte, key []byte, associatedData string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(encrypted) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	nonce, ciphertext := encrypted[:nonceSize], encrypted[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(associatedData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return plaintext, nil
}

// GenerateKey generates a new 32-byte (256-bit) payload encryption key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
