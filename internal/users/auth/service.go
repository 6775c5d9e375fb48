// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/taibuivan/kotoba/internal/platform/apperr"
	"github.com/taibuivan/kotoba/internal/platform/ctxutil"
	"github.com/taibuivan/kotoba/internal/platform/sec"
	"github.com/taibuivan/kotoba/pkg/uuid"
)

// # Contracts & Types

// TokenIssuer mints and checks the signed tokens handed to clients.
type TokenIssuer interface {
	IssueAccessToken(userID string, role sec.UserRole) (sec.SignedToken, error)
	IssueRefreshToken(userID string, role sec.UserRole, family string) (sec.SignedToken, error)
	VerifyRefreshToken(tokenString string) (*sec.AuthClaims, error)
	AccessTTL() time.Duration
}

// Options tunes optional behavior of the [Service].
type Options struct {
	// Rotation issues a fresh refresh token on every refresh and revokes the old one.
	Rotation bool

	// Limiter throttles failed logins. Nil disables throttling.
	Limiter LoginLimiter

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Service implements user authentication use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to hashing, session
// issuance or the refresh state machine must be reviewed with care.
type Service struct {
	userRepository    UserRepository
	sessionRepository SessionRepository
	tokenIssuer       TokenIssuer
	limiter           LoginLimiter
	rotation          bool
	now               func() time.Time
}

// NewService constructs a new [Service] with necessary dependencies.
func NewService(users UserRepository, sessions SessionRepository, tokens TokenIssuer, options Options) *Service {
	if options.Now == nil {
		options.Now = time.Now
	}

	return &Service{
		userRepository:    users,
		sessionRepository: sessions,
		tokenIssuer:       tokens,
		limiter:           options.Limiter,
		rotation:          options.Rotation,
		now:               options.Now,
	}
}

// AuthResult is a successfully authenticated user together with their credentials.
type AuthResult struct {
	AccessToken sec.SignedToken

	// RefreshToken is set whenever a new session row was written. It is nil on
	// a non-rotating refresh, where the client keeps its existing cookie.
	RefreshToken *sec.SignedToken

	User *User
}

// AccessTTL is the lifetime of access tokens handed to clients.
func (service *Service) AccessTTL() time.Duration {
	return service.tokenIssuer.AccessTTL()
}

// # Registration Flow

// RegisterInput holds the data required to enroll a new learner.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Client   ClientInfo
}

/*
Register hashes the password, persists a new account and opens its first session.

Returns:
  - *AuthResult: Access token, refresh token and the created user
  - error: [ErrUsernameTaken], [ErrEmailTaken] or storage errors
*/
func (service *Service) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {

	// Prevent storing plain-text passwords.
	hashedPassword, err := sec.HashPassword(input.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	// Time-sortable ID to prevent PG index fragmentation.
	now := service.now()
	user := &User{
		ID:           uuid.New(),
		Username:     strings.TrimSpace(input.Username),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		PasswordHash: hashedPassword,
		Role:         sec.RoleUser,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Uniqueness is enforced by the store so concurrent registrations cannot both win.
	if err := service.userRepository.Create(ctx, user); err != nil {
		return nil, err
	}

	ctxutil.GetLogger(ctx).InfoContext(ctx, "user_registered", slog.String("user_id", user.ID))

	return service.openSession(ctx, user, input.Client)
}

// # Authentication Flow

// LoginInput defines credentials for an authentication attempt.
type LoginInput struct {
	Login    string // Username or email
	Password string
	Client   ClientInfo
}

/*
Login validates user credentials and opens a new session.

Unknown accounts and wrong passwords share one error so that callers cannot
enumerate usernames. Both count against the throttle.

Returns:
  - *AuthResult: Access token, refresh token and the user
  - error: [ErrInvalidCredentials], [ErrUserInactive], RATE_LIMITED or storage errors
*/
func (service *Service) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	throttleKey := input.Client.IPAddress + ":" + strings.ToLower(strings.TrimSpace(input.Login))

	if retryAfter := service.lockout(ctx, throttleKey); retryAfter > 0 {
		return nil, apperr.RateLimited(int(math.Ceil(retryAfter.Seconds())))
	}

	user, err := service.userRepository.FindByLogin(ctx, strings.TrimSpace(input.Login))
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		service.recordFailure(ctx, throttleKey)
		return nil, ErrInvalidCredentials
	}

	// bcrypt compares in constant time.
	if !sec.CheckPasswordHash(input.Password, user.PasswordHash) {
		service.recordFailure(ctx, throttleKey)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive() {
		return nil, ErrUserInactive
	}

	service.resetFailures(ctx, throttleKey)

	return service.openSession(ctx, user, input.Client)
}

/*
Logout revokes the session behind a refresh token.

It never fails from the caller's point of view: storage errors are logged and
swallowed because the client-visible outcome (cookie cleared) must hold
regardless. Only the presented session is revoked, not its family.
*/
func (service *Service) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}

	err := service.sessionRepository.RevokeByHash(ctx, sec.HashToken(refreshToken), service.now())
	if err != nil {
		ctxutil.GetLogger(ctx).ErrorContext(ctx, "logout_revoke_failed", slog.Any("error", err))
	}
}

/*
IsActive re-reads the account status from storage.

A missing account is reported as inactive rather than as an error.
*/
func (service *Service) IsActive(ctx context.Context, userID string) (bool, error) {
	user, err := service.userRepository.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsActive(), nil
}

// # Session Issuance

// openSession starts a new login lineage for the user.
func (service *Service) openSession(ctx context.Context, user *User, client ClientInfo) (*AuthResult, error) {
	refreshToken, session, err := service.newSession(user, uuid.New(), client)
	if err != nil {
		return nil, err
	}

	if err := service.sessionRepository.Create(ctx, session); err != nil {
		return nil, err
	}

	accessToken, err := service.tokenIssuer.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	return &AuthResult{AccessToken: accessToken, RefreshToken: &refreshToken, User: user}, nil
}

// newSession signs a refresh token and builds the row that records its hash.
func (service *Service) newSession(user *User, family string, client ClientInfo) (sec.SignedToken, *Session, error) {
	refreshToken, err := service.tokenIssuer.IssueRefreshToken(user.ID, user.Role, family)
	if err != nil {
		return sec.SignedToken{}, nil, apperr.Internal(fmt.Errorf("issue refresh token: %w", err))
	}

	session := &Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: sec.HashToken(refreshToken.Value),
		Family:    family,
		UserAgent: client.UserAgent,
		IPAddress: client.IPAddress,
		CreatedAt: service.now(),
		ExpiresAt: refreshToken.ExpiresAt,
	}

	return refreshToken, session, nil
}

// # Throttling

// The limiter fails open: a Redis outage must not lock every learner out.

func (service *Service) lockout(ctx context.Context, key string) time.Duration {
	if service.limiter == nil {
		return 0
	}

	retryAfter, err := service.limiter.Allow(ctx, key)
	if err != nil {
		ctxutil.GetLogger(ctx).WarnContext(ctx, "login_throttle_unavailable", slog.Any("error", err))
		return 0
	}
	return retryAfter
}

func (service *Service) recordFailure(ctx context.Context, key string) {
	if service.limiter == nil {
		return
	}

	if err := service.limiter.RecordFailure(ctx, key); err != nil {
		ctxutil.GetLogger(ctx).WarnContext(ctx, "login_throttle_unavailable", slog.Any("error", err))
	}
}

func (service *Service) resetFailures(ctx context.Context, key string) {
	if service.limiter == nil {
		return
	}

	if err := service.limiter.Reset(ctx, key); err != nil {
		ctxutil.GetLogger(ctx).WarnContext(ctx, "login_throttle_unavailable", slog.Any("error", err))
	}
}
