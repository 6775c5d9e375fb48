// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package account exposes the signed-in learner's own identity and device sessions.

It lets a learner see who they are, review where they are signed in and sign
out other devices. Administrators can also suspend an account, which revokes
all of its sessions and makes the gateway reject its access tokens.

# Architecture

  - Entities: SessionInfo (DTO). The User and Session entities belong to auth.
  - Domain: This package reads and revokes rows written by the auth package.
  - Security: Every route sits behind the authentication gateway.
*/
package account

import (
	"context"
	"net/http"
	"time"

	"github.com/taibuivan/kotoba/internal/platform/apperr"
	"github.com/taibuivan/kotoba/internal/users/auth"
)

// # Domain Entities

// SessionInfo is the transport view of a device session. It never carries the token hash.
type SessionInfo struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsCurrent bool      `json:"is_current"` // The session behind the caller's refresh cookie
}

func newSessionInfo(session *auth.Session, currentHash string) SessionInfo {
	return SessionInfo{
		ID:        session.ID,
		UserAgent: session.UserAgent,
		IPAddress: session.IPAddress,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
		IsCurrent: currentHash != "" && session.TokenHash == currentHash,
	}
}

// # Errors

var (
	ErrSessionNotFound = apperr.NotFound("Session")
	ErrSelfStatus      = apperr.New(http.StatusUnprocessableEntity, "SELF_STATUS_CHANGE", "Administrators cannot change their own status")
)

// # Repository Contracts

// AccountRepository defines the persistence contract for user accounts.
type AccountRepository interface {
	/*
		FindByID retrieves a user record by their unique ID.

		Returns:
		  - *auth.User: Loaded account entity
		  - error: [auth.ErrUserNotFound] or storage failures
	*/
	FindByID(ctx context.Context, id string) (*auth.User, error)

	/*
		UpdateStatus sets the account status.

		Returns:
		  - bool: false when no such user exists
		  - error: Storage failures
	*/
	UpdateStatus(ctx context.Context, id string, status auth.UserStatus, at time.Time) (bool, error)
}

// SessionRepository defines the session queries available to account owners.
type SessionRepository interface {
	// FindActiveByUserID lists sessions that are neither revoked nor expired at now.
	FindActiveByUserID(ctx context.Context, userID string, now time.Time) ([]*auth.Session, error)

	// RevokeByID revokes one live session owned by userID. It reports false when none matched.
	RevokeByID(ctx context.Context, userID, sessionID string, at time.Time) (bool, error)

	// RevokeOthers revokes every live session of userID except the one with keepHash.
	RevokeOthers(ctx context.Context, userID, keepHash string, at time.Time) (int64, error)
}
