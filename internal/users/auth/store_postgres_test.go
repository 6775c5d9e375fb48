// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/kotoba/internal/platform/apperr"
	"github.com/taibuivan/kotoba/internal/platform/sec"
	"github.com/taibuivan/kotoba/internal/users/auth"
)

var (
	userColumns    = []string{"id", "username", "email", "password_hash", "role", "status", "created_at", "updated_at"}
	sessionColumns = []string{"id", "user_id", "token_hash", "family", "user_agent", "ip_address", "created_at", "expires_at", "revoked_at"}
	fixedTime      = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
)

// TestUserRepository_Create covers conflict mapping by constraint name.
func TestUserRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repository := auth.NewUserRepository(mock)
	ctx := context.Background()
	user := &auth.User{
		ID: "u1", Username: "alice", Email: "alice@example.com", PasswordHash: "hash",
		Role: sec.RoleUser, Status: auth.StatusActive, CreatedAt: fixedTime, UpdatedAt: fixedTime,
	}
	args := []any{user.ID, user.Username, user.Email, user.PasswordHash, user.Role, user.Status, user.CreatedAt, user.UpdatedAt}

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		assert.NoError(t, repository.Create(ctx, user))
	})

	t.Run("duplicate username", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").WithArgs(args...).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})
		assert.ErrorIs(t, repository.Create(ctx, user), auth.ErrUsernameTaken)
	})

	t.Run("duplicate email", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").WithArgs(args...).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})
		assert.ErrorIs(t, repository.Create(ctx, user), auth.ErrEmailTaken)
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO users").WithArgs(args...).WillReturnError(fmt.Errorf("db error"))
		assert.True(t, apperr.HasCode(repository.Create(ctx, user), apperr.CodeStorageFailure))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestUserRepository_Find covers lookups by ID and by login.
func TestUserRepository_Find(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repository := auth.NewUserRepository(mock)
	ctx := context.Background()

	t.Run("by id", func(t *testing.T) {
		mock.ExpectQuery("FROM users WHERE id").WithArgs("u1").
			WillReturnRows(pgxmock.NewRows(userColumns).
				AddRow("u1", "alice", "alice@example.com", "hash", sec.RoleUser, auth.StatusInactive, fixedTime, fixedTime))

		user, err := repository.FindByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
		assert.False(t, user.IsActive())
	})

	t.Run("by login", func(t *testing.T) {
		mock.ExpectQuery("LOWER\\(username\\) = LOWER\\(\\$1\\) OR LOWER\\(email\\)").WithArgs("Alice@Example.com").
			WillReturnRows(pgxmock.NewRows(userColumns).
				AddRow("u1", "alice", "alice@example.com", "hash", sec.RoleAdmin, auth.StatusActive, fixedTime, fixedTime))

		user, err := repository.FindByLogin(ctx, "Alice@Example.com")
		require.NoError(t, err)
		assert.Equal(t, sec.RoleAdmin, user.Role)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("FROM users WHERE id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

		_, err := repository.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestSessionRepository_FindByHash returns revoked rows rather than hiding them.
func TestSessionRepository_FindByHash(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repository := auth.NewSessionRepository(mock)
	ctx := context.Background()
	revokedAt := fixedTime.Add(time.Minute)

	t.Run("revoked row", func(t *testing.T) {
		mock.ExpectQuery("FROM sessions WHERE token_hash").WithArgs("h1").
			WillReturnRows(pgxmock.NewRows(sessionColumns).
				AddRow("s1", "u1", "h1", "fam", "ua", "127.0.0.1", fixedTime, fixedTime.Add(time.Hour), &revokedAt))

		session, err := repository.FindByHash(ctx, "h1")
		require.NoError(t, err)
		assert.True(t, session.IsRevoked())
		assert.Equal(t, "fam", session.Family)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("FROM sessions WHERE token_hash").WithArgs("h2").WillReturnError(pgx.ErrNoRows)

		_, err := repository.FindByHash(ctx, "h2")
		assert.ErrorIs(t, err, auth.ErrSessionNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectQuery("FROM sessions WHERE token_hash").WithArgs("h3").WillReturnError(fmt.Errorf("conn reset"))

		_, err := repository.FindByHash(ctx, "h3")
		assert.True(t, apperr.HasCode(err, apperr.CodeStorageFailure))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestSessionRepository_Create treats a token hash collision as a storage failure.
func TestSessionRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repository := auth.NewSessionRepository(mock)
	session := &auth.Session{
		ID: "s1", UserID: "u1", TokenHash: "h1", Family: "fam", UserAgent: "ua", IPAddress: "ip",
		CreatedAt: fixedTime, ExpiresAt: fixedTime.Add(time.Hour),
	}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("s1", "u1", "h1", "fam", "ua", "ip", session.CreatedAt, session.ExpiresAt, session.RevokedAt).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "sessions_token_hash_key"})

	err = repository.Create(context.Background(), session)
	assert.True(t, apperr.HasCode(err, apperr.CodeStorageFailure))
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestSessionRepository_Revoke covers the single and family revocations.
func TestSessionRepository_Revoke(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repository := auth.NewSessionRepository(mock)
	ctx := context.Background()

	mock.ExpectExec("UPDATE sessions SET revoked_at = \\$2 WHERE token_hash = \\$1 AND revoked_at IS NULL").
		WithArgs("h1", fixedTime).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.NoError(t, repository.RevokeByHash(ctx, "h1", fixedTime))

	mock.ExpectExec("UPDATE sessions SET revoked_at = \\$2 WHERE family = \\$1 AND revoked_at IS NULL").
		WithArgs("fam", fixedTime).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	revoked, err := repository.RevokeByFamily(ctx, "fam", fixedTime)
	require.NoError(t, err)
	assert.Equal(t, int64(3), revoked)

	mock.ExpectExec("DELETE FROM sessions WHERE expires_at").
		WithArgs(fixedTime).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	deleted, err := repository.DeleteExpired(ctx, fixedTime)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)

	require.NoError(t, mock.ExpectationsWereMet())
}

// TestSessionRepository_Rotate covers the locked swap and its rejection paths.
func TestSessionRepository_Rotate(t *testing.T) {
	next := &auth.Session{
		ID: "s2", UserID: "u1", TokenHash: "h2", Family: "fam", UserAgent: "ua", IPAddress: "ip",
		CreatedAt: fixedTime, ExpiresAt: fixedTime.Add(time.Hour),
	}
	lockColumns := []string{"expires_at", "revoked_at"}
	revokedAt := fixedTime.Add(-time.Minute)

	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT expires_at, revoked_at FROM sessions WHERE token_hash = \\$1 FOR UPDATE").
			WithArgs("h1").
			WillReturnRows(pgxmock.NewRows(lockColumns).AddRow(fixedTime.Add(time.Hour), (*time.Time)(nil)))
		mock.ExpectExec("UPDATE sessions SET revoked_at").WithArgs("h1", fixedTime).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec("INSERT INTO sessions").
			WithArgs("s2", "u1", "h2", "fam", "ua", "ip", next.CreatedAt, next.ExpiresAt, next.RevokedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, auth.NewSessionRepository(mock).Rotate(context.Background(), "h1", next, fixedTime))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("h1").
			WillReturnRows(pgxmock.NewRows(lockColumns).AddRow(fixedTime.Add(time.Hour), &revokedAt))
		mock.ExpectRollback()

		err = auth.NewSessionRepository(mock).Rotate(context.Background(), "h1", next, fixedTime)
		assert.ErrorIs(t, err, auth.ErrSessionRevoked)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("h1").
			WillReturnRows(pgxmock.NewRows(lockColumns).AddRow(fixedTime.Add(-time.Hour), (*time.Time)(nil)))
		mock.ExpectRollback()

		err = auth.NewSessionRepository(mock).Rotate(context.Background(), "h1", next, fixedTime)
		assert.ErrorIs(t, err, auth.ErrSessionExpired)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WithArgs("h1").
			WillReturnRows(pgxmock.NewRows(lockColumns).AddRow(fixedTime.Add(time.Hour), (*time.Time)(nil)))
		mock.ExpectExec("UPDATE sessions SET revoked_at").WithArgs("h1", fixedTime).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec("INSERT INTO sessions").WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(fmt.Errorf("conn reset"))
		mock.ExpectRollback()

		err = auth.NewSessionRepository(mock).Rotate(context.Background(), "h1", next, fixedTime)
		assert.True(t, apperr.HasCode(err, apperr.CodeStorageFailure))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
