// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"time"
)

// # User Data Access

// UserRepository defines the data access contract for user accounts.
type UserRepository interface {

	/*
		FindByID returns the account with the given ID.

		Returns:
		  - *User: Hydrated entity
		  - error: [ErrUserNotFound] or storage failures
	*/
	FindByID(ctx context.Context, id string) (*User, error)

	/*
		FindByLogin returns the account whose username or email matches login,
		ignoring case.

		Returns:
		  - *User: Hydrated entity
		  - error: [ErrUserNotFound] or storage failures
	*/
	FindByLogin(ctx context.Context, login string) (*User, error)

	/*
		Create persists a brand-new user account.

		Returns:
		  - error: [ErrUsernameTaken], [ErrEmailTaken] or storage failures
	*/
	Create(ctx context.Context, user *User) error
}

// # Session Data Access

// SessionRepository persists one row per issued refresh token.
type SessionRepository interface {

	/*
		Create inserts a new session row. A duplicate token hash is a storage failure.
	*/
	Create(ctx context.Context, session *Session) error

	/*
		FindByHash returns the session for a token hash, revoked or expired rows included.

		Returns:
		  - *Session: Hydrated entity
		  - error: [ErrSessionNotFound] or storage failures
	*/
	FindByHash(ctx context.Context, tokenHash string) (*Session, error)

	/*
		RevokeByHash stamps revoked_at on the matching session. Revoking an
		already-revoked or unknown session is a no-op.
	*/
	RevokeByHash(ctx context.Context, tokenHash string, at time.Time) error

	/*
		RevokeByFamily stamps revoked_at on every non-revoked session in the family.

		Returns:
		  - int64: Number of sessions newly revoked
	*/
	RevokeByFamily(ctx context.Context, family string, at time.Time) (int64, error)

	/*
		Rotate atomically revokes the session for oldHash and inserts next.

		The old row is locked for the duration. A row that is already revoked
		yields [ErrSessionRevoked]; a missing row [ErrSessionNotFound]; an
		expired row [ErrSessionExpired].
	*/
	Rotate(ctx context.Context, oldHash string, next *Session, at time.Time) error

	/*
		DeleteExpired physically removes sessions that expired before the cutoff.

		Returns:
		  - int64: Number of rows removed
	*/
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// # Volatile Data Access

// LoginLimiter counts failed logins per key and locks the key out past a threshold.
type LoginLimiter interface {

	/*
		Allow reports how long the key remains locked out. Zero means allowed.
	*/
	Allow(ctx context.Context, key string) (time.Duration, error)

	/*
		RecordFailure counts a failed attempt and extends the window.
	*/
	RecordFailure(ctx context.Context, key string) error

	/*
		Reset forgets all failures for the key.
	*/
	Reset(ctx context.Context, key string) error
}
