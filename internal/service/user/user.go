package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
	"github.com/nkiryanov/identity/internal/service/auth"
)

// Fields a user may change on their own profile
// Nil fields stay untouched
type UpdateProfileParams struct {
	Email       *string
	Password    *string
	FirstName   *string
	LastName    *string
	PhoneNumber *string
}

// Fields only an admin may change
type AdminUpdateParams struct {
	Role            *models.Role
	IsActive        *bool
	IsEmailVerified *bool
}

type CreateUserParams struct {
	Email       string
	Password    string
	Role        models.Role
	FirstName   string
	LastName    string
	PhoneNumber string
}

// User management service: profile updates and admin CRUD
type UserService struct {
	hasher  auth.PasswordHasher
	storage repository.Storage
}

func NewService(hasher auth.PasswordHasher, storage repository.Storage) *UserService {
	if hasher == nil {
		hasher = auth.DefaultHasher
	}

	return &UserService{
		hasher:  hasher,
		storage: storage,
	}
}

func (s *UserService) GetUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.storage.User().GetUserByID(ctx, userID)
}

func (s *UserService) ListUsers(ctx context.Context, filter repository.ListUsersFilter) ([]models.User, int64, error) {
	return s.storage.User().ListUsers(ctx, filter)
}

// CreateUser creates a user with an explicit role, for admin use
func (s *UserService) CreateUser(ctx context.Context, p CreateUserParams) (models.User, error) {
	var user models.User

	role := p.Role
	if role == "" {
		role = models.RoleApplicant
	}
	if !role.Valid() {
		return user, fmt.Errorf("unknown role %q", p.Role)
	}

	hash, err := s.hasher.Hash(p.Password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	return s.storage.User().CreateUser(ctx, repository.CreateUserParams{
		Email:        auth.NormalizeEmail(p.Email),
		PasswordHash: hash,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		PhoneNumber:  p.PhoneNumber,
		Role:         role,
		IsActive:     true,
	})
}

// UpdateProfile applies the user's own changes
// Changing email to an address of another alive user fails with apperrors.ErrEmailAlreadyRegistered
func (s *UserService) UpdateProfile(ctx context.Context, current models.User, p UpdateProfileParams) (models.User, error) {
	var user models.User

	update := repository.UpdateUserParams{
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		PhoneNumber: p.PhoneNumber,
	}

	if p.Email != nil {
		email := auth.NormalizeEmail(*p.Email)
		if email != auth.NormalizeEmail(current.Email) {
			existing, err := s.storage.User().GetUserByEmail(ctx, email)
			switch {
			case err == nil && existing.ID != current.ID:
				return user, apperrors.ErrEmailAlreadyRegistered
			case err != nil && !errors.Is(err, apperrors.ErrUserNotFound):
				return user, err
			}
		}
		update.Email = &email
	}

	if p.Password != nil {
		hash, err := s.hasher.Hash(*p.Password)
		if err != nil {
			return user, fmt.Errorf("can't use this as password. Err: %w", err)
		}
		update.PasswordHash = &hash
	}

	return s.storage.User().UpdateUser(ctx, current.ID, update)
}

// AdminUpdateUser changes role and account flags of any user
func (s *UserService) AdminUpdateUser(ctx context.Context, userID uuid.UUID, p AdminUpdateParams) (models.User, error) {
	var user models.User

	if p.Role != nil && !p.Role.Valid() {
		return user, fmt.Errorf("unknown role %q", *p.Role)
	}

	return s.storage.User().UpdateUser(ctx, userID, repository.UpdateUserParams{
		Role:            p.Role,
		IsActive:        p.IsActive,
		IsEmailVerified: p.IsEmailVerified,
	})
}

// SoftDeleteUser marks the user deleted and revokes their active refresh tokens
// so existing sessions cannot be refreshed anymore
func (s *UserService) SoftDeleteUser(ctx context.Context, userID uuid.UUID) error {
	return s.storage.InTx(ctx, func(st repository.Storage) error {
		if _, err := st.User().SoftDeleteUser(ctx, userID); err != nil {
			return err
		}

		if _, err := st.Refresh().RevokeAllForUser(ctx, userID); err != nil {
			return err
		}

		return nil
	})
}
