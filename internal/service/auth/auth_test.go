package auth_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
	"github.com/nkiryanov/identity/internal/repository/postgres"
	"github.com/nkiryanov/identity/internal/service/auth"
	"github.com/nkiryanov/identity/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/identity/internal/testutil"
)

var testDevice = tokenmanager.DeviceContext{
	IPAddress:  "192.0.2.10",
	DeviceInfo: "Mozilla/5.0",
}

func updateParamsIsActive(isActive *bool) repository.UpdateUserParams {
	return repository.UpdateUserParams{IsActive: isActive}
}

func Test_AuthService(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Service bound to the test transaction
	// Override config lets single tests shorten token lifetimes
	newService := func(t *testing.T, tx pgx.Tx, cfg tokenmanager.Config) *auth.AuthService {
		t.Helper()

		if cfg.SecretKey == "" {
			cfg.SecretKey = "test-secret-key"
		}
		tm, err := tokenmanager.New(cfg, &postgres.RefreshTokenRepo{DB: tx})
		require.NoError(t, err)

		s, err := auth.NewService(
			auth.Config{Hasher: auth.BcryptHasher{Cost: auth.MinHashCost}},
			tm,
			&postgres.UserRepo{DB: tx},
		)
		require.NoError(t, err)
		return s
	}

	register := func(t *testing.T, s *auth.AuthService, email string) models.User {
		t.Helper()

		user, err := s.Register(t.Context(), auth.RegisterParams{
			Email:     email,
			Password:  "Sup3rStrong",
			FirstName: "Kate",
			LastName:  "Austen",
		})
		require.NoError(t, err)
		return user
	}

	t.Run("register", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})

			user, err := s.Register(t.Context(), auth.RegisterParams{
				Email:    "  Kate@Example.COM ",
				Password: "Sup3rStrong",
			})

			require.NoError(t, err)
			assert.Equal(t, "kate@example.com", user.Email, "email must be stored normalized")
			assert.Equal(t, models.RoleApplicant, user.Role, "self registration always yields the default role")
			assert.True(t, user.IsActive)
			assert.False(t, user.IsEmailVerified)
			assert.NotEqual(t, "Sup3rStrong", user.PasswordHash, "password must never be stored as is")
		})
	})

	t.Run("register duplicate email", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})
			register(t, s, "kate@example.com")

			_, err := s.Register(t.Context(), auth.RegisterParams{
				Email:    "KATE@example.com",
				Password: "An0therStrong",
			})

			require.ErrorIs(t, err, apperrors.ErrEmailAlreadyRegistered)
		})
	})

	t.Run("login ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})
			registered := register(t, s, "kate@example.com")

			user, pair, err := s.Login(t.Context(), "Kate@Example.com", "Sup3rStrong", testDevice)

			require.NoError(t, err, "email lookup must ignore case")
			assert.Equal(t, registered.ID, user.ID)
			assert.NotEmpty(t, pair.Access.Value)
			assert.NotEmpty(t, pair.Refresh.Value)
		})
	})

	t.Run("login unknown email and wrong password indistinguishable", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})
			register(t, s, "kate@example.com")

			_, _, errUnknown := s.Login(t.Context(), "nobody@example.com", "Sup3rStrong", testDevice)
			_, _, errWrongPwd := s.Login(t.Context(), "kate@example.com", "WrongPassw0rd", testDevice)

			require.ErrorIs(t, errUnknown, apperrors.ErrInvalidCredentials)
			require.ErrorIs(t, errWrongPwd, apperrors.ErrInvalidCredentials)
		})
	})

	t.Run("login deactivated user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})
			user := register(t, s, "kate@example.com")

			deactivate := false
			userRepo := postgres.UserRepo{DB: tx}
			_, err := userRepo.UpdateUser(t.Context(), user.ID, updateParamsIsActive(&deactivate))
			require.NoError(t, err)

			_, _, err = s.Login(t.Context(), "kate@example.com", "Sup3rStrong", testDevice)

			require.ErrorIs(t, err, apperrors.ErrAccountInactive)
		})
	})

	t.Run("refresh rotates the pair", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})
			registered := register(t, s, "kate@example.com")
			_, pair, err := s.Login(t.Context(), "kate@example.com", "Sup3rStrong", testDevice)
			require.NoError(t, err)

			user, fresh, err := s.Refresh(t.Context(), pair.Refresh.Value, testDevice)

			require.NoError(t, err)
			assert.Equal(t, registered.ID, user.ID)
			assert.NotEmpty(t, fresh.Access.Value)
			assert.NotEqual(t, pair.Refresh.Value, fresh.Refresh.Value, "refresh secret must change on every rotation")

			repo := postgres.RefreshTokenRepo{DB: tx}
			old, err := repo.GetByHash(t.Context(), tokenmanager.HashRefreshSecret(pair.Refresh.Value))
			require.NoError(t, err)
			assert.NotNil(t, old.RevokedAt, "presented token must be revoked by the rotation")
		})
	})

	t.Run("refresh reuse revokes the whole family", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})
			register(t, s, "kate@example.com")
			_, stolen, err := s.Login(t.Context(), "kate@example.com", "Sup3rStrong", testDevice)
			require.NoError(t, err)

			// Legitimate rotation, then the old secret shows up again
			_, fresh, err := s.Refresh(t.Context(), stolen.Refresh.Value, testDevice)
			require.NoError(t, err)

			_, _, err = s.Refresh(t.Context(), stolen.Refresh.Value, testDevice)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked, "replay must be rejected")

			repo := postgres.RefreshTokenRepo{DB: tx}
			current, err := repo.GetByHash(t.Context(), tokenmanager.HashRefreshSecret(fresh.Refresh.Value))
			require.NoError(t, err)
			require.NotNil(t, current.RevokedAt, "reuse must revoke even the tokens issued after the theft")

			_, _, err = s.Refresh(t.Context(), fresh.Refresh.Value, testDevice)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenRevoked)
		})
	})

	t.Run("refresh unknown token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})

			_, _, err := s.Refresh(t.Context(), "never-issued-secret", testDevice)

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("refresh expired token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{RefreshTTL: -time.Hour})
			register(t, s, "kate@example.com")
			_, pair, err := s.Login(t.Context(), "kate@example.com", "Sup3rStrong", testDevice)
			require.NoError(t, err)

			_, _, err = s.Refresh(t.Context(), pair.Refresh.Value, testDevice)

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenExpired)
		})
	})

	t.Run("refresh for deactivated user", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})
			user := register(t, s, "kate@example.com")
			_, pair, err := s.Login(t.Context(), "kate@example.com", "Sup3rStrong", testDevice)
			require.NoError(t, err)

			deactivate := false
			userRepo := postgres.UserRepo{DB: tx}
			_, err = userRepo.UpdateUser(t.Context(), user.ID, updateParamsIsActive(&deactivate))
			require.NoError(t, err)

			_, _, err = s.Refresh(t.Context(), pair.Refresh.Value, testDevice)

			require.ErrorIs(t, err, apperrors.ErrAccountInactive)
		})
	})

	t.Run("logout", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})
			user := register(t, s, "kate@example.com")
			_, pair, err := s.Login(t.Context(), "kate@example.com", "Sup3rStrong", testDevice)
			require.NoError(t, err)

			err = s.Logout(t.Context(), pair.Refresh.Value, user.ID)
			require.NoError(t, err)

			repo := postgres.RefreshTokenRepo{DB: tx}
			stored, err := repo.GetByHash(t.Context(), tokenmanager.HashRefreshSecret(pair.Refresh.Value))
			require.NoError(t, err)
			require.NotNil(t, stored.RevokedAt, "logout must revoke the token")

			err = s.Logout(t.Context(), pair.Refresh.Value, user.ID)
			require.NoError(t, err, "repeated logout of the same token must succeed")
		})
	})

	t.Run("logout unknown token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})
			user := register(t, s, "kate@example.com")

			err := s.Logout(t.Context(), "never-issued-secret", user.ID)

			require.NoError(t, err, "unknown token must not disclose anything, silent success")
		})
	})

	t.Run("logout foreign token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})
			register(t, s, "kate@example.com")
			intruder := register(t, s, "james@example.com")
			_, pair, err := s.Login(t.Context(), "kate@example.com", "Sup3rStrong", testDevice)
			require.NoError(t, err)

			err = s.Logout(t.Context(), pair.Refresh.Value, intruder.ID)

			require.ErrorIs(t, err, apperrors.ErrTokenOwnerMismatch)

			repo := postgres.RefreshTokenRepo{DB: tx}
			stored, err := repo.GetByHash(t.Context(), tokenmanager.HashRefreshSecret(pair.Refresh.Value))
			require.NoError(t, err)
			require.Nil(t, stored.RevokedAt, "foreign logout attempt must not touch the token")
		})
	})

	t.Run("user from request", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := newService(t, tx, tokenmanager.Config{})
			registered := register(t, s, "kate@example.com")
			_, pair, err := s.Login(t.Context(), "kate@example.com", "Sup3rStrong", testDevice)
			require.NoError(t, err)

			t.Run("valid bearer token", func(t *testing.T) {
				r := httptest.NewRequest("GET", "/api/users/me", nil)
				r.Header.Set("Authorization", "Bearer "+pair.Access.Value)

				user, err := s.UserFromRequest(t.Context(), r)

				require.NoError(t, err)
				assert.Equal(t, registered.ID, user.ID)
			})

			t.Run("no header", func(t *testing.T) {
				r := httptest.NewRequest("GET", "/api/users/me", nil)

				_, err := s.UserFromRequest(t.Context(), r)

				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
			})

			t.Run("malformed token", func(t *testing.T) {
				r := httptest.NewRequest("GET", "/api/users/me", nil)
				r.Header.Set("Authorization", "Bearer not-a-jwt")

				_, err := s.UserFromRequest(t.Context(), r)

				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
			})

			t.Run("deactivated user", func(t *testing.T) {
				deactivate := false
				userRepo := postgres.UserRepo{DB: tx}
				_, err := userRepo.UpdateUser(t.Context(), registered.ID, updateParamsIsActive(&deactivate))
				require.NoError(t, err)

				r := httptest.NewRequest("GET", "/api/users/me", nil)
				r.Header.Set("Authorization", "Bearer "+pair.Access.Value)

				_, err = s.UserFromRequest(t.Context(), r)

				require.ErrorIs(t, err, apperrors.ErrAccountInactive)
			})
		})
	})
}

func Test_NormalizeEmail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "kate@example.com", auth.NormalizeEmail("  Kate@Example.COM "))
	assert.Equal(t, "kate@example.com", auth.NormalizeEmail("kate@example.com"))
}
