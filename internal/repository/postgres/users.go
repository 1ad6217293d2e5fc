package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, created_at, updated_at, email, password_hash, first_name, last_name, phone_number, role, is_active, is_email_verified, deleted_at`

const createUser = `-- name: CreateUser
INSERT INTO users (id, email, password_hash, first_name, last_name, phone_number, role, is_active, is_email_verified)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + userColumns

func (r *UserRepo) CreateUser(ctx context.Context, params repository.CreateUserParams) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser,
		uuid.New(),
		params.Email,
		params.PasswordHash,
		params.FirstName,
		params.LastName,
		params.PhoneNumber,
		string(params.Role),
		params.IsActive,
		params.IsEmailVerified,
	)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrEmailAlreadyRegistered
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + `
FROM users
WHERE id = $1 AND deleted_at IS NULL
`

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, userID)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT ` + userColumns + `
FROM users
WHERE lower(email) = lower($1) AND deleted_at IS NULL
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, email)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

const listUsers = `-- name: ListUsers
SELECT ` + userColumns + `, count(*) OVER () AS total
FROM users
WHERE ($1::text IS NULL OR role = $1)
  AND ($2::boolean IS NULL OR is_active = $2)
  AND ($3::boolean OR deleted_at IS NULL)
ORDER BY created_at DESC
LIMIT $4 OFFSET $5
`

func (r *UserRepo) ListUsers(ctx context.Context, filter repository.ListUsersFilter) ([]models.User, int64, error) {
	var total int64

	rows, _ := r.DB.Query(ctx, listUsers,
		(*string)(filter.Role),
		filter.IsActive,
		filter.IncludeDeleted,
		filter.Limit,
		filter.Offset,
	)
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.User, error) {
		var u models.User
		err := row.Scan(
			&u.ID, &u.CreatedAt, &u.UpdatedAt, &u.Email, &u.PasswordHash,
			&u.FirstName, &u.LastName, &u.PhoneNumber, &u.Role,
			&u.IsActive, &u.IsEmailVerified, &u.DeletedAt, &total,
		)
		return u, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	return users, total, nil
}

const updateUser = `-- name: UpdateUser
UPDATE users
SET email             = COALESCE($2, email),
    password_hash     = COALESCE($3, password_hash),
    first_name        = COALESCE($4, first_name),
    last_name         = COALESCE($5, last_name),
    phone_number      = COALESCE($6, phone_number),
    role              = COALESCE($7, role),
    is_active         = COALESCE($8, is_active),
    is_email_verified = COALESCE($9, is_email_verified),
    updated_at        = now()
WHERE id = $1 AND deleted_at IS NULL
RETURNING ` + userColumns

func (r *UserRepo) UpdateUser(ctx context.Context, userID uuid.UUID, params repository.UpdateUserParams) (models.User, error) {
	rows, _ := r.DB.Query(ctx, updateUser,
		userID,
		params.Email,
		params.PasswordHash,
		params.FirstName,
		params.LastName,
		params.PhoneNumber,
		(*string)(params.Role),
		params.IsActive,
		params.IsEmailVerified,
	)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, apperrors.ErrEmailAlreadyRegistered
		}
		return user, fmt.Errorf("db error: %w", err)
	}
}

const softDeleteUser = `-- name: SoftDeleteUser
UPDATE users
SET deleted_at = now(), updated_at = now()
WHERE id = $1 AND deleted_at IS NULL
RETURNING ` + userColumns

func (r *UserRepo) SoftDeleteUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, softDeleteUser, userID)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.CreatedAt, &u.UpdatedAt, &u.Email, &u.PasswordHash,
		&u.FirstName, &u.LastName, &u.PhoneNumber, &u.Role,
		&u.IsActive, &u.IsEmailVerified, &u.DeletedAt,
	)
	return u, err
}
