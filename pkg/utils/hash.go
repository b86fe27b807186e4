package utils

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashOrRead normalizes the ops credential to a bcrypt hash. OPS_PASSWORD
// may carry either a plaintext secret, hashed here once at startup, or an
// already computed bcrypt hash, which passes through untouched.
func HashOrRead(password string) ([]byte, error) {
	if strings.HasPrefix(password, "$2a$") || strings.HasPrefix(password, "$2b$") || strings.HasPrefix(password, "$2y$") {
		return []byte(password), nil // already bcrypt
	}
	return bcrypt.GenerateFromPassword([]byte(password), 10)
}
