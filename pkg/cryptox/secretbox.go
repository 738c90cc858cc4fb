package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// sealedPrefix marks values produced by Seal, so values stored before
// encryption was configured can still be told apart and read.
const sealedPrefix = "v1:"

var ErrSealedValue = errors.New("sealed value is malformed or was sealed with another key")

// SecretBox encrypts short secrets (TOTP seeds) for storage using
// AES-256-GCM. The output is [12-byte nonce][ciphertext][16-byte tag],
// base64 encoded behind a version prefix.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox derives the AES-256 key from keyMaterial with SHA-256.
func NewSecretBox(keyMaterial []byte) (*SecretBox, error) {
	if len(keyMaterial) == 0 {
		return nil, errors.New("secret box key material is empty")
	}
	key := sha256.Sum256(keyMaterial)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &SecretBox{aead: gcm}, nil
}

// LoadOrGenerateSecretBox reads key material from path, creating the file
// with a random key the first time. Losing the file makes every sealed
// value unreadable.
func LoadOrGenerateSecretBox(path string) (*SecretBox, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("secret key dir: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		material := strings.TrimSpace(string(data))
		if material == "" {
			return nil, fmt.Errorf("secret key file %s is empty", path)
		}
		return NewSecretBox([]byte(material))
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read secret key: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	material := base64.RawURLEncoding.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(material), 0600); err != nil {
		return nil, fmt.Errorf("write secret key: %w", err)
	}
	return NewSecretBox([]byte(material))
}

// Seal encrypts plaintext with a fresh random nonce.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the version prefix are returned as-is.
func (b *SecretBox) Open(value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, sealedPrefix)
	if !ok {
		return value, nil
	}

	data, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrSealedValue
	}
	nonceSize := b.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrSealedValue
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrSealedValue
	}
	return string(plaintext), nil
}
