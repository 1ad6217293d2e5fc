package postgres

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
	"github.com/nkiryanov/identity/internal/testutil"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

// Tokens reference users, so every test needs an owner row first
func createTestUser(t *testing.T, tx pgx.Tx, email string) models.User {
	t.Helper()

	repo := UserRepo{DB: tx}
	user, err := repo.CreateUser(t.Context(), repository.CreateUserParams{
		Email:        email,
		PasswordHash: "hashed-password",
		Role:         models.RoleApplicant,
		IsActive:     true,
	})
	require.NoError(t, err, "user creation should not fail")
	return user
}

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	newToken := func(userID uuid.UUID) models.RefreshToken {
		return models.RefreshToken{
			ID:         uuid.New(),
			UserID:     userID,
			TokenHash:  uuid.NewString(),
			CreatedAt:  mustParseTime("2024-01-01 19:00:01Z"),
			ExpiresAt:  mustParseTime("2200-01-01 03:00:02Z"),
			RevokedAt:  nil,
			DeviceInfo: "Mozilla/5.0",
			IPAddress:  "192.0.2.10",
		}
	}

	t.Run("save token ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createTestUser(t, tx, "owner@example.com")
			token := newToken(user.ID)

			got, err := repo.Save(t.Context(), token)

			require.NoError(t, err)
			require.Equal(t, token.ID, got.ID)
			require.Equal(t, token.UserID, got.UserID)
			require.Equal(t, token.TokenHash, got.TokenHash)
			require.WithinDuration(t, token.CreatedAt, got.CreatedAt, time.Microsecond)
			require.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, time.Microsecond)
			require.Nil(t, got.RevokedAt, "RevokedAt should be nil cause original token has RevokedAt as nil")
			require.Equal(t, token.DeviceInfo, got.DeviceInfo)
			require.Equal(t, token.IPAddress, got.IPAddress)
		})
	})

	t.Run("get token by hash ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createTestUser(t, tx, "owner@example.com")
			token := newToken(user.ID)
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			got, err := repo.GetByHash(t.Context(), token.TokenHash)

			require.NoError(t, err)
			require.Equal(t, token.TokenHash, got.TokenHash)
			require.Equal(t, token.UserID, got.UserID)
			require.WithinDuration(t, token.CreatedAt, got.CreatedAt, 0)
			require.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, 0)
			require.Nil(t, got.RevokedAt)
		})
	})

	t.Run("get not existed token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			_, err := repo.GetByHash(t.Context(), "never-saved-hash")

			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("revoke token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createTestUser(t, tx, "owner@example.com")
			token := newToken(user.ID)
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			got, err := repo.Revoke(t.Context(), token.TokenHash)

			require.NoError(t, err, "no error must happen when revoking active token")
			require.NotNil(t, got.RevokedAt, "token must be marked revoked")
			require.WithinDuration(t, time.Now(), *got.RevokedAt, 50*time.Millisecond, "should be revoked close to now() enough")
			require.Equal(t, token.TokenHash, got.TokenHash)
			require.Equal(t, token.UserID, got.UserID)
		})
	})

	t.Run("revoke not existed token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			_, err := repo.Revoke(t.Context(), "never-saved-hash")

			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("revoke keeps first revocation time", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createTestUser(t, tx, "owner@example.com")
			token := newToken(user.ID)
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			tokenFirst, err := repo.Revoke(t.Context(), token.TokenHash)
			require.NoError(t, err, "no error should happen on first revoke")

			time.Sleep(100 * time.Millisecond)
			tokenSecond, err := repo.Revoke(t.Context(), token.TokenHash)
			require.Error(t, err, "revoking already revoked token has to return error")
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked, "should return ErrRefreshTokenRevoked error")

			assert.WithinDuration(t, *tokenFirst.RevokedAt, *tokenSecond.RevokedAt, 0, "should return same time for already revoked token")
		})
	})

	t.Run("revoke all for user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createTestUser(t, tx, "owner@example.com")
			other := createTestUser(t, tx, "other@example.com")

			var hashes []string
			for range 3 {
				token := newToken(user.ID)
				_, err := repo.Save(t.Context(), token)
				require.NoError(t, err)
				hashes = append(hashes, token.TokenHash)
			}
			otherToken := newToken(other.ID)
			_, err := repo.Save(t.Context(), otherToken)
			require.NoError(t, err)

			revoked, err := repo.RevokeAllForUser(t.Context(), user.ID)

			require.NoError(t, err)
			require.EqualValues(t, 3, revoked, "all three tokens of the user should be revoked")

			for _, hash := range hashes {
				got, err := repo.GetByHash(t.Context(), hash)
				require.NoError(t, err)
				require.NotNil(t, got.RevokedAt)
			}

			got, err := repo.GetByHash(t.Context(), otherToken.TokenHash)
			require.NoError(t, err)
			require.Nil(t, got.RevokedAt, "tokens of other users must stay active")
		})
	})

	t.Run("revoke excess keeps newest", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createTestUser(t, tx, "owner@example.com")

			// Seven tokens with growing creation time, hash encodes the index
			base := mustParseTime("2024-01-01 19:00:01Z")
			for i := range 7 {
				token := newToken(user.ID)
				token.TokenHash = fmt.Sprintf("token-%d", i)
				token.CreatedAt = base.Add(time.Duration(i) * time.Minute)
				_, err := repo.Save(t.Context(), token)
				require.NoError(t, err)
			}

			revoked, err := repo.RevokeExcess(t.Context(), user.ID, 5)

			require.NoError(t, err)
			require.EqualValues(t, 2, revoked, "two oldest tokens should be revoked")

			for i := range 7 {
				got, err := repo.GetByHash(t.Context(), fmt.Sprintf("token-%d", i))
				require.NoError(t, err)
				if i < 2 {
					require.NotNil(t, got.RevokedAt, "token-%d is among the oldest and should be revoked", i)
				} else {
					require.Nil(t, got.RevokedAt, "token-%d is among the newest five and should stay active", i)
				}
			}
		})
	})

	t.Run("revoke excess ignores expired", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createTestUser(t, tx, "owner@example.com")

			expired := newToken(user.ID)
			expired.TokenHash = "expired-token"
			expired.ExpiresAt = mustParseTime("2024-01-02 19:00:01Z")
			_, err := repo.Save(t.Context(), expired)
			require.NoError(t, err)

			active := newToken(user.ID)
			active.TokenHash = "active-token"
			_, err = repo.Save(t.Context(), active)
			require.NoError(t, err)

			revoked, err := repo.RevokeExcess(t.Context(), user.ID, 1)

			require.NoError(t, err)
			require.EqualValues(t, 0, revoked, "expired token does not count against the cap")
		})
	})
}
