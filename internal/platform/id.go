package platform

import (
	"crypto/rand"

	"github.com/google/uuid"
)

const nameSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const nameSuffixLength = 10

// NewID returns a UUID for database primary keys.
func NewID() string {
	return uuid.New().String()
}

// NewName returns prefix plus a random lowercase suffix, suitable for
// deployment and resource names that must be DNS-safe.
func NewName(prefix string) string {
	b := make([]byte, nameSuffixLength)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = nameSuffixAlphabet[b[i]%byte(len(nameSuffixAlphabet))]
	}
	return prefix + string(b)
}
