package settings

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// scryptKeyLen is the derived key length in bytes.
	scryptKeyLen = 32

	// saltLen is the length of the per-database random salt.
	saltLen = 16
)

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	return salt, nil
}

// deriveKey derives a 32-byte sealing key from the device id and salt
// using scrypt with N=32768, r=8, p=1.
func deriveKey(deviceID string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(deviceID), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	return key, nil
}

// zeroKey overwrites the key material in the given slice.
func zeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

func newGCM(deviceID string, salt []byte) (cipher.AEAD, error) {
	key, err := deriveKey(deviceID, salt)
	if err != nil {
		return nil, err
	}
	defer zeroKey(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return gcm, nil
}

// seal encrypts plaintext with a random IV.
// Returns [12-byte IV][ciphertext+GCM tag].
func seal(plaintext []byte, deviceID string, salt []byte) ([]byte, error) {
	gcm, err := newGCM(deviceID, salt)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}

	ciphertext := gcm.Seal(nil, iv, plaintext, nil)
	result := make([]byte, len(iv)+len(ciphertext))
	copy(result, iv)
	copy(result[len(iv):], ciphertext)

	return result, nil
}

// open decrypts data in the [12-byte IV][ciphertext+GCM tag] format.
func open(data []byte, deviceID string, salt []byte) ([]byte, error) {
	gcm, err := newGCM(deviceID, salt)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(data))
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	return plaintext, nil
}
