// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taibuivan/kotoba/internal/platform/apperr"
	"github.com/taibuivan/kotoba/internal/platform/dberr"
	"github.com/taibuivan/kotoba/internal/platform/postgres"
)

// Unique indexes that map to client-facing conflicts.
const (
	constraintUsername = "users_username_key"
	constraintEmail    = "users_email_key"
)

const userColumns = `id, username, email, password_hash, role, status, created_at, updated_at`

const sessionColumns = `id, user_id, token_hash, family, user_agent, ip_address, created_at, expires_at, revoked_at`

// # User Repository

// PostgresUserRepository implements the UserRepository interface using pgx.
type PostgresUserRepository struct {
	db postgres.DB
}

// NewUserRepository creates a new PostgreSQL implementation of the UserRepository.
func NewUserRepository(db postgres.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

/*
Create persists a new user record into the users table.

Returns:
  - error: [ErrUsernameTaken], [ErrEmailTaken] or a storage failure
*/
func (repository *PostgresUserRepository) Create(ctx context.Context, user *User) error {
	const query = `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := repository.db.Exec(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Status,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if dberr.IsUniqueViolation(err) {
		switch dberr.ConstraintName(err) {
		case constraintUsername:
			return ErrUsernameTaken.WithCause(err)
		case constraintEmail:
			return ErrEmailTaken.WithCause(err)
		}
	}

	return dberr.Wrap(err, "User")
}

/*
FindByID retrieves a user record by their unique ID.
*/
func (repository *PostgresUserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return repository.findOne(ctx, query, id)
}

/*
FindByLogin retrieves a user by username or email, case-insensitively.
*/
func (repository *PostgresUserRepository) FindByLogin(ctx context.Context, login string) (*User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1)
		LIMIT 1`
	return repository.findOne(ctx, query, login)
}

func (repository *PostgresUserRepository) findOne(ctx context.Context, query string, argument string) (*User, error) {
	user := &User{}
	err := repository.db.QueryRow(ctx, query, argument).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, dberr.Wrap(err, "User")
	}

	return user, nil
}

// # Session Repository

// PostgresSessionRepository implements the SessionRepository interface.
type PostgresSessionRepository struct {
	db postgres.DB
}

// NewSessionRepository creates a new PostgreSQL implementation of SessionRepository.
func NewSessionRepository(db postgres.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

/*
Create persists a new session record into the sessions table.
*/
func (repository *PostgresSessionRepository) Create(ctx context.Context, session *Session) error {
	err := insertSession(ctx, repository.db, session)

	// A token hash collision means two tokens hashed alike; never a client conflict.
	if dberr.IsUniqueViolation(err) {
		return apperr.StorageFailure(err)
	}

	return dberr.Wrap(err, "Session")
}

/*
FindByHash resolves a refresh token hash into its session, whatever its state.
*/
func (repository *PostgresSessionRepository) FindByHash(ctx context.Context, tokenHash string) (*Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`

	session := &Session{}
	err := repository.db.QueryRow(ctx, query, tokenHash).Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.Family,
		&session.UserAgent,
		&session.IPAddress,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.RevokedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, dberr.Wrap(err, "Session")
	}

	return session, nil
}

/*
RevokeByHash marks a specific session as revoked. Already-revoked rows keep
their original timestamp.
*/
func (repository *PostgresSessionRepository) RevokeByHash(ctx context.Context, tokenHash string, at time.Time) error {
	const query = `UPDATE sessions SET revoked_at = $2 WHERE token_hash = $1 AND revoked_at IS NULL`
	_, err := repository.db.Exec(ctx, query, tokenHash, at)
	return dberr.Wrap(err, "Session")
}

/*
RevokeByFamily revokes every live session in a login lineage.
*/
func (repository *PostgresSessionRepository) RevokeByFamily(ctx context.Context, family string, at time.Time) (int64, error) {
	const query = `UPDATE sessions SET revoked_at = $2 WHERE family = $1 AND revoked_at IS NULL`
	tag, err := repository.db.Exec(ctx, query, family, at)
	if err != nil {
		return 0, dberr.Wrap(err, "Session")
	}
	return tag.RowsAffected(), nil
}

/*
Rotate swaps the session for oldHash with next inside one transaction.

The old row is read with FOR UPDATE so that concurrent rotations of the same
token serialize; the loser observes revoked_at and gets [ErrSessionRevoked].
*/
func (repository *PostgresSessionRepository) Rotate(ctx context.Context, oldHash string, next *Session, at time.Time) error {
	err := pgx.BeginFunc(ctx, repository.db, func(tx pgx.Tx) error {
		const lockQuery = `SELECT expires_at, revoked_at FROM sessions WHERE token_hash = $1 FOR UPDATE`

		var expiresAt time.Time
		var revokedAt *time.Time
		if err := tx.QueryRow(ctx, lockQuery, oldHash).Scan(&expiresAt, &revokedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrSessionNotFound
			}
			return err
		}

		switch {
		case revokedAt != nil:
			return ErrSessionRevoked
		case expiresAt.Before(at):
			return ErrSessionExpired
		}

		const revokeQuery = `UPDATE sessions SET revoked_at = $2 WHERE token_hash = $1`
		if _, err := tx.Exec(ctx, revokeQuery, oldHash, at); err != nil {
			return err
		}

		return insertSession(ctx, tx, next)
	})

	return dberr.Wrap(err, "Session")
}

/*
DeleteExpired permanently removes sessions that expired before the cutoff.
*/
func (repository *PostgresSessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at < $1`
	tag, err := repository.db.Exec(ctx, query, before)
	if err != nil {
		return 0, dberr.Wrap(err, "Session")
	}
	return tag.RowsAffected(), nil
}

// executor is the subset shared by pools and transactions.
type executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertSession(ctx context.Context, db executor, session *Session) error {
	const query = `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := db.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.TokenHash,
		session.Family,
		session.UserAgent,
		session.IPAddress,
		session.CreatedAt,
		session.ExpiresAt,
		session.RevokedAt,
	)
	return err
}
