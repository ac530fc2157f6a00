package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GeneratePassword returns a cryptographically random password of the given
// length. Generated credentials live only in memory for the duration of an
// allocation call; they are never persisted in plaintext.
func GeneratePassword(length int) (string, error) {
	if length < 16 {
		length = 16
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i := range b {
		b[i] = passwordAlphabet[int(b[i])%len(passwordAlphabet)]
	}
	return string(b), nil
}

// GenericHash computes a SHA-256 hex hash of a secret, used to fingerprint
// credentials in audit logs without exposing them.
func GenericHash(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%x", h)
}
