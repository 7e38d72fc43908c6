package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewToken mints an opaque bearer token.
func NewToken() string {
	return uuid.NewString()
}

// HashToken is what gets persisted; raw tokens are never stored.
func HashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}
