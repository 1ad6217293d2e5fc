package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is one issued refresh credential
// Only the hash of the secret is kept, the plaintext is returned to the client once and never persisted
type RefreshToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time // nil if token not revoked
	DeviceInfo string
	IPAddress  string
}

func (t RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// Active means the token may still be exchanged: not revoked and not expired
func (t RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && !t.Expired(now)
}
