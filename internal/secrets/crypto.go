// Package secrets encrypts API keys persisted in the config file.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// SecretPrefix marks encrypted string fields in config files.
const SecretPrefix = "enc:"

const saltSize = 16

var (
	// ErrInvalidPassword is returned when the password cannot open the sealed value.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidPayload indicates the sealed value is malformed.
	ErrInvalidPayload = errors.New("invalid encrypted payload")
)

// scryptN is the scrypt cost parameter. Tests lower it.
var scryptN = 1 << 15

// IsEncrypted reports whether value carries the SecretPrefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, SecretPrefix)
}

// EncryptString seals value with AES-256-GCM under a scrypt-derived key.
// The result is SecretPrefix + base64(salt | nonce | ciphertext).
func EncryptString(value, password string) (string, error) {
	if value == "" {
		return "", nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := append(append(salt, nonce...), gcm.Seal(nil, nonce, []byte(value), nil)...)
	return SecretPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens a value produced by EncryptString. Values without the
// prefix are returned unchanged with decrypted=false.
func DecryptString(value, password string) (plain string, decrypted bool, err error) {
	if !IsEncrypted(value) {
		return value, false, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SecretPrefix))
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(raw) < saltSize {
		return "", true, ErrInvalidPayload
	}

	gcm, err := newGCM(password, raw[:saltSize])
	if err != nil {
		return "", true, err
	}
	rest := raw[saltSize:]
	if len(rest) < gcm.NonceSize() {
		return "", true, ErrInvalidPayload
	}

	out, err := gcm.Open(nil, rest[:gcm.NonceSize()], rest[gcm.NonceSize():], nil)
	if err != nil {
		return "", true, fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}
	return string(out), true, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
