package internal

import (
	"crypto/rand"
	"encoding/base64"
	"io"
)

// GenerateToken generates a random url-safe token suitable for
// authenticating a single connection.
func GenerateToken() string {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
