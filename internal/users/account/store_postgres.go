// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package account (Postgres) implements the storage layer for account self-service.

# Schema Table Mapping
  - users: Identity, role and status.
  - sessions: Device sessions written by the auth package.
*/
package account

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/taibuivan/kotoba/internal/platform/dberr"
	"github.com/taibuivan/kotoba/internal/platform/postgres"
	"github.com/taibuivan/kotoba/internal/users/auth"
)

// # Repository Implementations

// PostgresAccountRepository implements [AccountRepository] using pgx.
type PostgresAccountRepository struct {
	db postgres.DB
}

// NewAccountRepository creates a new Postgres implementation for account management.
func NewAccountRepository(db postgres.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

// PostgresSessionRepository implements [SessionRepository] using pgx.
type PostgresSessionRepository struct {
	db postgres.DB
}

// NewSessionRepository creates a new Postgres implementation for session auditing.
func NewSessionRepository(db postgres.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

// # AccountRepository Methods

/*
FindByID retrieves a user by ID.

Returns:
  - *auth.User: The account
  - error: [auth.ErrUserNotFound] or a storage failure
*/
func (repository *PostgresAccountRepository) FindByID(ctx context.Context, id string) (*auth.User, error) {
	const query = `
		SELECT id, username, email, role, status, created_at, updated_at
		FROM users
		WHERE id = $1`

	user := &auth.User{}
	err := repository.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, dberr.Wrap(err, "User")
	}

	return user, nil
}

// UpdateStatus sets the status of a user and reports whether the row existed.
func (repository *PostgresAccountRepository) UpdateStatus(ctx context.Context, id string, status auth.UserStatus, at time.Time) (bool, error) {
	const query = `UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`

	tag, err := repository.db.Exec(ctx, query, id, status, at)
	if err != nil {
		return false, dberr.Wrap(err, "User")
	}
	return tag.RowsAffected() > 0, nil
}

// # SessionRepository Methods

/*
FindActiveByUserID retrieves all live device sessions for a user, newest first.

Returns:
  - []*auth.Session: Sessions neither revoked nor expired at now
  - error: Database retrieval failures
*/
func (repository *PostgresSessionRepository) FindActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*auth.Session, error) {
	const query = `
		SELECT id, user_id, token_hash, family, user_agent, ip_address, created_at, expires_at
		FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at >= $2
		ORDER BY created_at DESC`

	rows, err := repository.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, dberr.Wrap(err, "Session")
	}
	defer rows.Close()

	var sessions []*auth.Session
	for rows.Next() {
		session := &auth.Session{}
		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.TokenHash,
			&session.Family,
			&session.UserAgent,
			&session.IPAddress,
			&session.CreatedAt,
			&session.ExpiresAt,
		); err != nil {
			return nil, dberr.Wrap(err, "Session")
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, dberr.Wrap(err, "Session")
	}

	return sessions, nil
}

// RevokeByID revokes one live session, scoped to its owner so IDs cannot be probed across accounts.
func (repository *PostgresSessionRepository) RevokeByID(ctx context.Context, userID, sessionID string, at time.Time) (bool, error) {
	const query = `UPDATE sessions SET revoked_at = $3 WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL`

	tag, err := repository.db.Exec(ctx, query, sessionID, userID, at)
	if err != nil {
		return false, dberr.Wrap(err, "Session")
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeOthers revokes every live session of the user except keepHash. An empty keepHash revokes all.
func (repository *PostgresSessionRepository) RevokeOthers(ctx context.Context, userID, keepHash string, at time.Time) (int64, error) {
	const query = `UPDATE sessions SET revoked_at = $3 WHERE user_id = $1 AND token_hash <> $2 AND revoked_at IS NULL`

	tag, err := repository.db.Exec(ctx, query, userID, keepHash, at)
	if err != nil {
		return 0, dberr.Wrap(err, "Session")
	}
	return tag.RowsAffected(), nil
}
