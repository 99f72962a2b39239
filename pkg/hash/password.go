package hash

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Cost 12 keeps hashing around 250ms on current hardware, slow enough
// for credential storage without stalling login requests.
const cost = 12

func Hash(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hashed), nil
}

func Compare(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
