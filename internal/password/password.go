package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt.DefaultCost (10) satisfies the minimum cost policy.
const hashCost = bcrypt.DefaultCost

var errNoPassword = errors.New("account has no password set")

// Hash derives a salted bcrypt hash from the plaintext.
func Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), hashCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify compares plaintext against a stored hash. An empty stored hash
// (Google-only account) fails closed: no supplied password ever matches.
func Verify(hash, plaintext string) error {
	if hash == "" {
		return errNoPassword
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
}
