package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
	"github.com/nkiryanov/identity/internal/service/auth/tokenmanager"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type Config struct {
	// Hasher to use during registration or login
	// BcryptHasher with default cost is used if not set
	Hasher PasswordHasher
}

type RegisterParams struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
}

// Auth service
type AuthService struct {
	// Manager to issue and parse token pairs (access and refresh)
	token *tokenmanager.TokenManager

	// hasher to hash or compare user passwords
	hasher PasswordHasher

	// Repository to access long term user data
	userRepo repository.UserRepo

	// Hash compared against on login for unknown emails, so the miss path
	// costs the same as a wrong password
	dummyHash string
}

func NewService(cfg Config, token *tokenmanager.TokenManager, userRepo repository.UserRepo) (*AuthService, error) {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = DefaultHasher
	}

	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("hasher is not usable. Err: %w", err)
	}

	return &AuthService{
		token:     token,
		hasher:    hasher,
		userRepo:  userRepo,
		dummyHash: dummyHash,
	}, nil
}

// NormalizeEmail lowercases and trims the address the way every entry point must
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccessTokenTTL returns lifetime of issued access tokens
func (s *AuthService) AccessTokenTTL() time.Duration {
	return s.token.AccessTTL()
}

// Register creates a user with the default role
// Returns apperrors.ErrEmailAlreadyRegistered if the email is taken among alive users
func (s *AuthService) Register(ctx context.Context, p RegisterParams) (models.User, error) {
	var user models.User

	hash, err := s.hasher.Hash(p.Password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	user, err = s.userRepo.CreateUser(ctx, repository.CreateUserParams{
		Email:        NormalizeEmail(p.Email),
		PasswordHash: hash,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		PhoneNumber:  p.PhoneNumber,
		Role:         models.RoleApplicant,
		IsActive:     true,
	})
	if err != nil {
		return user, err
	}

	return user, nil
}

// Login verifies credentials and issues a token pair
// Unknown email and wrong password both return apperrors.ErrInvalidCredentials
// so responses do not reveal whether the account exists
func (s *AuthService) Login(ctx context.Context, email string, password string, device tokenmanager.DeviceContext) (models.User, models.TokenPair, error) {
	var pair models.TokenPair

	user, err := s.userRepo.GetUserByEmail(ctx, NormalizeEmail(email))
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		// Burn a comparison anyway to keep the timing close to the wrong password path
		_ = s.hasher.Compare(s.dummyHash, password)
		return user, pair, apperrors.ErrInvalidCredentials
	case err != nil:
		return user, pair, err
	}

	if !user.CanAuthenticate() {
		return user, pair, apperrors.ErrAccountInactive
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		return user, pair, apperrors.ErrInvalidCredentials
	}

	pair, err = s.token.IssuePair(ctx, user, device)
	if err != nil {
		return user, pair, fmt.Errorf("token could not be generated. Err: %w", err)
	}

	return user, pair, nil
}

// Refresh exchanges a valid refresh token for a fresh pair and revokes the presented one
//
// Presenting an already revoked token is treated as a theft signal: every
// active token of the owner is revoked before the call is rejected. A caller
// that loses the rotation race to a concurrent refresh gets the same
// treatment, the two cases are indistinguishable here.
func (s *AuthService) Refresh(ctx context.Context, refresh string, device tokenmanager.DeviceContext) (models.User, models.TokenPair, error) {
	var user models.User
	var pair models.TokenPair

	token, err := s.token.FindRefresh(ctx, refresh)
	if err != nil {
		return user, pair, err
	}

	if token.RevokedAt != nil {
		if _, err := s.token.RevokeAllForUser(ctx, token.UserID); err != nil {
			return user, pair, err
		}
		return user, pair, apperrors.ErrRefreshTokenRevoked
	}

	if token.Expired(time.Now()) {
		return user, pair, apperrors.ErrRefreshTokenExpired
	}

	user, err = s.userRepo.GetUserByID(ctx, token.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound): // owner deleted since the token was issued
		return user, pair, apperrors.ErrAccountInactive
	case err != nil:
		return user, pair, err
	}

	if !user.CanAuthenticate() {
		return user, pair, apperrors.ErrAccountInactive
	}

	// Rotation point: the conditional update lets exactly one concurrent caller through
	_, err = s.token.RotateRefresh(ctx, refresh)
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenRevoked):
		if _, err := s.token.RevokeAllForUser(ctx, token.UserID); err != nil {
			return user, pair, err
		}
		return user, pair, apperrors.ErrRefreshTokenRevoked
	case err != nil:
		return user, pair, err
	}

	pair, err = s.token.IssuePair(ctx, user, device)
	if err != nil {
		return user, pair, fmt.Errorf("token could not be generated. Err: %w", err)
	}

	return user, pair, nil
}

// Logout revokes the presented refresh token of the requesting user
//
// Unknown or already revoked tokens succeed silently so the call does not
// disclose whether a token ever existed. A token owned by another user is
// rejected with apperrors.ErrTokenOwnerMismatch.
func (s *AuthService) Logout(ctx context.Context, refresh string, userID uuid.UUID) error {
	token, err := s.token.FindRefresh(ctx, refresh)
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		return nil
	case err != nil:
		return err
	}

	if token.UserID != userID {
		return apperrors.ErrTokenOwnerMismatch
	}

	_, err = s.token.RotateRefresh(ctx, refresh)
	if err != nil && !errors.Is(err, apperrors.ErrRefreshTokenRevoked) {
		return err
	}

	return nil
}

// UserFromRequest authenticates the request by its bearer access token
func (s *AuthService) UserFromRequest(ctx context.Context, r *http.Request) (models.User, error) {
	var user models.User

	access, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || access == "" {
		return user, fmt.Errorf("no bearer token in request: %w", apperrors.ErrInvalidCredentials)
	}

	claims, err := s.token.ParseAccess(access)
	if err != nil {
		return user, fmt.Errorf("%w: %w", apperrors.ErrInvalidCredentials, err)
	}

	user, err = s.userRepo.GetUserByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return user, apperrors.ErrInvalidCredentials
	case err != nil:
		return user, err
	}

	if !user.CanAuthenticate() {
		return user, apperrors.ErrAccountInactive
	}

	return user, nil
}
