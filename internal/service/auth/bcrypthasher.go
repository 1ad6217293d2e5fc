package auth

import (
	"crypto/sha256"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinHashCost     = 10
	MaxHashCost     = 12
	defaultHashCost = 12
)

// DefaultHasher is used when the service config does not provide its own
var DefaultHasher = BcryptHasher{Cost: defaultHashCost}

// Bcrypt password hasher
// Passwords are pre-hashed with sha256 so inputs longer than the bcrypt
// 72 byte limit are still fully used
type BcryptHasher struct {
	// Work factor, clamped to [MinHashCost, MaxHashCost]
	Cost int
}

func (h BcryptHasher) cost() int {
	switch {
	case h.Cost == 0:
		return defaultHashCost
	case h.Cost < MinHashCost:
		return MinHashCost
	case h.Cost > MaxHashCost:
		return MaxHashCost
	}
	return h.Cost
}

func (h BcryptHasher) Hash(password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], h.cost())
	return string(hash), err
}

func (h BcryptHasher) Compare(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
}
