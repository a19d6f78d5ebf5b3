// Package identifier generates short random public identifiers for
// image URLs. Uniqueness is not guaranteed here; the database unique
// index on public_id is the authority, and callers retry on collision.
package identifier

import (
	"crypto/rand"
	"fmt"
)

// New draws length random bytes and maps each into the alphabet by
// modulo reduction over the alphabet size.
func New(length int, alphabet string) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("identifier length must be positive, got %d", length)
	}
	if len(alphabet) == 0 {
		return "", fmt.Errorf("identifier alphabet is empty")
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	out := make([]byte, length)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
