// Package streamkey generates the opaque credentials handed to encoders.
package streamkey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Size is the number of random bytes in a key; the encoded key is twice as long.
const Size = 32

// New returns a hex-encoded key read from crypto/rand.
func New() (string, error) {
	return newFrom(rand.Reader)
}

func newFrom(r io.Reader) (string, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to generate stream key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
