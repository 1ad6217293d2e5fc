package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/nkiryanov/identity/internal/models"
)

type CreateUserParams struct {
	Email           string
	PasswordHash    string
	FirstName       string
	LastName        string
	PhoneNumber     string
	Role            models.Role
	IsActive        bool
	IsEmailVerified bool
}

// UpdateUserParams describes a partial update
// Nil fields keep current values
type UpdateUserParams struct {
	Email           *string
	PasswordHash    *string
	FirstName       *string
	LastName        *string
	PhoneNumber     *string
	Role            *models.Role
	IsActive        *bool
	IsEmailVerified *bool
}

type ListUsersFilter struct {
	Role           *models.Role
	IsActive       *bool
	IncludeDeleted bool
	Offset         int
	Limit          int
}

// User repository interface
type UserRepo interface {
	// Create user
	// If a not deleted user with the same email exists must return apperrors.ErrEmailAlreadyRegistered
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by id or email among not deleted users
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// List users newest first with the total count of matched rows
	ListUsers(ctx context.Context, filter ListUsersFilter) ([]models.User, int64, error)

	// Update not deleted user fields
	// If user not found must return apperrors.ErrUserNotFound
	UpdateUser(ctx context.Context, userID uuid.UUID, params UpdateUserParams) (models.User, error)

	// Mark user deleted
	// If user not found or deleted already must return apperrors.ErrUserNotFound
	SoftDeleteUser(ctx context.Context, userID uuid.UUID) (models.User, error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Save new token
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token by the hash of its secret even if it revoked or expired
	// If the token not exists must return apperrors.ErrRefreshTokenNotFound
	GetByHash(ctx context.Context, hash string) (models.RefreshToken, error)

	// Set revoked_at if it not set yet
	// Exactly one caller may win: the loser must get apperrors.ErrRefreshTokenRevoked
	// and the stored revocation time must not be overwritten
	Revoke(ctx context.Context, hash string) (models.RefreshToken, error)

	// Revoke every active token of the user, return the number of revoked tokens
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// Among active tokens of the user ordered newest first revoke all beyond 'keep'
	RevokeExcess(ctx context.Context, userID uuid.UUID, keep int) (int64, error)
}

// Storage combines repositories sharing one database connection
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo

	// Run fn in a database transaction
	InTx(ctx context.Context, fn func(Storage) error) error
}
