package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// usernameCipher encrypts usernames at rest with AES-256-GCM under a
// single process key. Ciphertexts are random-nonce, so the same name
// encrypts differently every time; lookups always decrypt-and-compare.
type usernameCipher struct {
	aead cipher.AEAD
}

// loadKey reads the symmetric key file, generating it with 0600
// permissions on first run.
func loadKey(path string) ([]byte, error) {
	if raw, err := os.ReadFile(path); err == nil {
		key := make([]byte, 32)
		if n, err := base64.StdEncoding.Decode(key, raw); err == nil && n == 32 {
			return key, nil
		}
		return nil, fmt.Errorf("key file %s is corrupt", path)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	encoded := make([]byte, base64.StdEncoding.EncodedLen(32))
	base64.StdEncoding.Encode(encoded, key)
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}

func newUsernameCipher(keyPath string) (*usernameCipher, error) {
	key, err := loadKey(keyPath)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &usernameCipher{aead: aead}, nil
}

func (c *usernameCipher) encrypt(name string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(name), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

func (c *usernameCipher) decrypt(ciphertext string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// hashPassword derives a salted SHA-256 digest stored as "hash:salt".
func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	saltHex := hex.EncodeToString(salt)
	sum := sha256.Sum256([]byte(password + saltHex))
	return hex.EncodeToString(sum[:]) + ":" + saltHex, nil
}

// verifyPassword recomputes the digest with the stored salt and
// compares in constant time.
func verifyPassword(password, stored string) bool {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false
	}
	sum := sha256.Sum256([]byte(password + parts[1]))
	return hmac.Equal([]byte(hex.EncodeToString(sum[:])), []byte(parts[0]))
}
