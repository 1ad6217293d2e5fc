package tokenmanager

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
	defaultSigningMethod   = "HS256"
	defaultMaxActiveTokens = 5

	// 32 random bytes give the refresh secret 256 bits of entropy
	refreshSecretLen = 32

	// Device metadata is client controlled, keep it bounded
	maxDeviceInfoLen = 500
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID   `json:"uid"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
}

// Request bound context saved next to the refresh token
type DeviceContext struct {
	IPAddress  string
	DeviceInfo string
}

// Token manager config with sensible defaults
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set then default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set then default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// How many active refresh tokens a user may hold at once
	// If not set then default is used
	MaxActiveTokens int
}

type TokenManager struct {
	// Secret key to sign access token
	key string

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	// Cap of active refresh tokens per user, oldest beyond it are revoked
	maxActive int

	// Refresh token repo
	refreshRepo repository.RefreshTokenRepo
}

func New(cfg Config, refreshRepo repository.RefreshTokenRepo) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.MaxActiveTokens == 0 {
		cfg.MaxActiveTokens = defaultMaxActiveTokens
	}

	return &TokenManager{
		key:         cfg.SecretKey,
		alg:         jwt.GetSigningMethod(cfg.Alg),
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		maxActive:   cfg.MaxActiveTokens,
		refreshRepo: refreshRepo,
	}, nil
}

// HashRefreshSecret is the deterministic digest stored and looked up instead of the plaintext secret
func HashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// AccessTTL returns the configured access token lifetime
func (m *TokenManager) AccessTTL() time.Duration {
	return m.accessTTL
}

// IssuePair mints a signed access token and a fresh refresh token for the user
// Only the hash of the refresh secret is persisted. After saving, tokens beyond
// the per user cap are revoked oldest first.
func (m *TokenManager) IssuePair(ctx context.Context, user models.User, device DeviceContext) (models.TokenPair, error) {
	var pair models.TokenPair

	// Postgres keeps microseconds; issuing at that precision keeps created_at
	// ordering exact so the pruning below revokes strictly oldest first
	now := time.Now().Truncate(time.Microsecond)
	accessExpiresAt := now.Add(m.accessTTL)
	refreshExpiresAt := now.Add(m.refreshTTL)

	// Generate JWT access token encoded as string
	accessToken := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   user.ID.String(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(accessExpiresAt),
			},
			UserID: user.ID,
			Email:  user.Email,
			Role:   user.Role,
		},
	)
	access, err := accessToken.SignedString([]byte(m.key))
	if err != nil {
		return pair, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	// Generate random refresh secret, the plaintext leaves this function exactly once
	b := make([]byte, refreshSecretLen)
	_, err = rand.Read(b)
	if err != nil {
		return pair, fmt.Errorf("error while generating refresh token. Err: %w", err)
	}
	refresh := hex.EncodeToString(b)

	deviceInfo := device.DeviceInfo
	if len(deviceInfo) > maxDeviceInfoLen {
		deviceInfo = deviceInfo[:maxDeviceInfoLen]
	}

	_, err = m.refreshRepo.Save(ctx, models.RefreshToken{
		ID:         uuid.New(),
		UserID:     user.ID,
		TokenHash:  HashRefreshSecret(refresh),
		CreatedAt:  now,
		ExpiresAt:  refreshExpiresAt,
		RevokedAt:  nil,
		DeviceInfo: deviceInfo,
		IPAddress:  device.IPAddress,
	})
	if err != nil {
		return pair, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	_, err = m.refreshRepo.RevokeExcess(ctx, user.ID, m.maxActive)
	if err != nil {
		return pair, fmt.Errorf("error while pruning excess refresh tokens. Err: %w", err)
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: refreshExpiresAt},
	}, nil
}

// FindRefresh returns the stored token for the presented secret whatever state it is in
func (m *TokenManager) FindRefresh(ctx context.Context, refresh string) (models.RefreshToken, error) {
	return m.refreshRepo.GetByHash(ctx, HashRefreshSecret(refresh))
}

// RotateRefresh revokes the presented token
// At most one concurrent caller succeeds, the others get apperrors.ErrRefreshTokenRevoked
func (m *TokenManager) RotateRefresh(ctx context.Context, refresh string) (models.RefreshToken, error) {
	return m.refreshRepo.Revoke(ctx, HashRefreshSecret(refresh))
}

// RevokeAllForUser revokes every active token of the user
// Used as the cascade on detected reuse of an already revoked token
func (m *TokenManager) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	return m.refreshRepo.RevokeAllForUser(ctx, userID)
}

// Parse and validate access token
func (m *TokenManager) ParseAccess(access string) (AccessTokenClaims, error) {
	claims := AccessTokenClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		&claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
	)
	if err != nil {
		return claims, fmt.Errorf("error while parsing or validating token. Err: %w", err)
	}

	return claims, nil
}
