package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// HashKey is a CLI helper for generating API_KEY_HASH values.
func HashKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(b), err
}

// VerifyKey checks a presented operator key against the configured
// bcrypt hash, or against the plain-text dev key when no hash is set.
func VerifyKey(presented, hash, plain string) bool {
	if hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)) == nil
	}
	if plain == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(plain)) == 1
}
