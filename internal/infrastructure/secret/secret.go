package secret

import (
	"errors"

	"github.com/ipede/uma-auth-service/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// HashSecret hashes a client secret using bcrypt
func HashSecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckSecret checks a presented client secret against its stored hash
func CheckSecret(secret, hash string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return domain.ErrInvalidClient
		}
		return err
	}
	return nil
}
