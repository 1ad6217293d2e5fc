package models

import (
	"time"

	"github.com/google/uuid"
)

// User role tags
// Stored as plain text in the database
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleReviewer  Role = "REVIEWER"
	RoleApplicant Role = "APPLICANT"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleReviewer, RoleApplicant:
		return true
	}
	return false
}

// CanManageUsers reports whether the role is allowed to use admin user management
func (r Role) CanManageUsers() bool {
	return r == RoleAdmin
}

type User struct {
	ID              uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Email           string
	PasswordHash    string
	FirstName       string
	LastName        string
	PhoneNumber     string
	Role            Role
	IsActive        bool
	IsEmailVerified bool
	DeletedAt       *time.Time // nil if user not deleted
}

// CanAuthenticate reports whether the account may login or refresh tokens
// Deactivated and soft deleted users must never authenticate
func (u User) CanAuthenticate() bool {
	return u.IsActive && u.DeletedAt == nil
}

// PublicUser is the projection of User that is safe to put in responses
type PublicUser struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	FirstName       string    `json:"firstName,omitempty"`
	LastName        string    `json:"lastName,omitempty"`
	PhoneNumber     string    `json:"phoneNumber,omitempty"`
	Role            Role      `json:"role"`
	IsActive        bool      `json:"isActive"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Public projects the full user record to its public view
// The password hash and the soft delete marker must never leave the service
func (u User) Public() PublicUser {
	return PublicUser{
		ID:              u.ID,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		PhoneNumber:     u.PhoneNumber,
		Role:            u.Role,
		IsActive:        u.IsActive,
		IsEmailVerified: u.IsEmailVerified,
		CreatedAt:       u.CreatedAt,
	}
}
