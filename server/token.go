package server

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// tokenBytes yields 256 bits of entropy for states, nonces, session IDs,
// and CSRF secrets.
const tokenBytes = 32

// newToken returns a URL-safe random token from a cryptographically secure
// source.
func newToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails if the OS entropy source is broken,
		// at which point the process cannot issue credentials at all.
		panic("token generation: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// hashClientValue one-way digests client metadata (IP address, user agent)
// before it is persisted.
func hashClientValue(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
