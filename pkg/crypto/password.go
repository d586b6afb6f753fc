// Package crypto wraps the bcrypt primitives used for proctor credentials.
package crypto

import "golang.org/x/crypto/bcrypt"

// HashPassword derives a bcrypt hash at the default cost. Only the hash is
// ever stored; the plaintext never leaves the signup/login handlers.
func HashPassword(plain string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
}

// ComparePassword checks plaintext against a stored hash in constant time.
func ComparePassword(hash []byte, plain string) error {
	return bcrypt.CompareHashAndPassword(hash, []byte(plain))
}
