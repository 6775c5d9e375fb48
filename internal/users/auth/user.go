// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package auth implements the user identity and session management layer.

It defines the core domain entities (User, Session) and the logic for
registration, login, logout and the refresh-token state machine.

# Architecture

  - Service: Orchestrates business logic (Register, Login, Refresh, Logout).
  - Repository: Abstracted interfaces for Postgres (Users, Sessions) and Redis (login throttling).
  - Security: Bcrypt password hashes and RS256-signed JWTs via [sec.TokenService].

Only the SHA-256 digest of a refresh token is ever persisted.
*/
package auth

import (
	"time"

	"github.com/taibuivan/kotoba/internal/platform/sec"
)

// # Domain Entities

// UserStatus gates whether an account may authenticate.
type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusInactive UserStatus = "inactive"
)

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// User represents a registered learner.
type User struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"` // Explicitly omitted from JSON for security.
	Role         sec.UserRole `json:"role"`
	Status       UserStatus   `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsActive reports whether the account may hold a session.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// Session is the server-side record of one issued refresh token.
type Session struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"` // Hashed value of the refresh token. Omitted for security.
	Family    string     `json:"-"`
	UserAgent string     `json:"user_agent"`
	IPAddress string     `json:"ip_address"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsRevoked reports whether the session was explicitly invalidated.
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// IsExpired reports whether the session lifetime ended before now.
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// ClientInfo is the request metadata recorded on each session.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}
