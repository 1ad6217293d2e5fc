package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const tokenColumns = `id, user_id, token_hash, created_at, expires_at, revoked_at, device_info, ip_address`

const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at, revoked_at, device_info, ip_address)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + tokenColumns

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveToken,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.CreatedAt,
		token.ExpiresAt,
		token.RevokedAt,
		token.DeviceInfo,
		token.IPAddress,
	)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

const getTokenByHash = `-- name: GetRefreshTokenByHash
SELECT ` + tokenColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token by hash of its secret
// Returns the row even if the token revoked or expired, the caller classifies it
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, hash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenByHash, hash)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrRefreshTokenNotFound
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeToken = `-- name: RevokeRefreshToken
UPDATE refresh_tokens
SET revoked_at = COALESCE(revoked_at, $2)
WHERE token_hash = $1
RETURNING ` + tokenColumns

// Revoke sets revoked_at if it not set yet
// The COALESCE keeps the stored time when two callers race: only the one whose
// timestamp is returned back actually revoked the token, the other gets
// ErrRefreshTokenRevoked. This is the compare and swap the rotation relies on.
func (r *RefreshTokenRepo) Revoke(ctx context.Context, hash string) (models.RefreshToken, error) {
	// Postgres stores microseconds, truncate so the equality check below is exact
	now := time.Now().Truncate(time.Microsecond)

	rows, _ := r.DB.Query(ctx, revokeToken, hash, now)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil && token.RevokedAt != nil && token.RevokedAt.Equal(now):
		return token, nil
	case err == nil: // revoked_at kept an earlier time, somebody else revoked it first
		return token, apperrors.ErrRefreshTokenRevoked
	case errors.Is(err, pgx.ErrNoRows):
		return token, apperrors.ErrRefreshTokenNotFound
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeAllForUser = `-- name: RevokeAllRefreshTokensForUser
UPDATE refresh_tokens
SET revoked_at = $2
WHERE user_id = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID, time.Now().Truncate(time.Microsecond))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const revokeExcess = `-- name: RevokeExcessRefreshTokens
UPDATE refresh_tokens
SET revoked_at = $3
WHERE id IN (
    SELECT id
    FROM refresh_tokens
    WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $3
    ORDER BY created_at DESC
    OFFSET $2
)
`

// RevokeExcess keeps the 'keep' newest active tokens of the user and revokes the rest
func (r *RefreshTokenRepo) RevokeExcess(ctx context.Context, userID uuid.UUID, keep int) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeExcess, userID, keep, time.Now().Truncate(time.Microsecond))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt,
		&t.RevokedAt, &t.DeviceInfo, &t.IPAddress,
	)
	return t, err
}
