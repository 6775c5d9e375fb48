// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/kotoba/internal/platform/ctxutil"
	"github.com/taibuivan/kotoba/internal/users/auth"
)

// # Service Layer

// Service orchestrates account self-service and administrative status changes.
type Service struct {
	accountRepository AccountRepository
	sessionRepository SessionRepository
	now               func() time.Time
}

// NewService constructs a new [Service]. A nil now defaults to time.Now.
func NewService(accounts AccountRepository, sessions SessionRepository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}

	return &Service{
		accountRepository: accounts,
		sessionRepository: sessions,
		now:               now,
	}
}

// # Profile

// GetProfile retrieves the private identity of a user.
func (service *Service) GetProfile(ctx context.Context, userID string) (*auth.User, error) {
	user, err := service.accountRepository.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("account_service_get_profile_failed: %w", err)
	}
	return user, nil
}

/*
SetStatus activates or suspends an account on behalf of an administrator.

Suspension revokes every session of the target so that no refresh can
resurrect it; access tokens already issued are rejected by the gateway's
active-user check.

Returns:
  - *auth.User: The updated account
  - error: [ErrSelfStatus], [auth.ErrUserNotFound] or storage failures
*/
func (service *Service) SetStatus(ctx context.Context, actorID, userID string, status auth.UserStatus) (*auth.User, error) {
	if actorID == userID {
		return nil, ErrSelfStatus
	}

	now := service.now()
	found, err := service.accountRepository.UpdateStatus(ctx, userID, status, now)
	if err != nil {
		return nil, fmt.Errorf("account_service_set_status_failed: %w", err)
	}
	if !found {
		return nil, auth.ErrUserNotFound
	}

	logger := ctxutil.GetLogger(ctx)
	if status == auth.StatusInactive {
		// No live session carries an empty hash, so nothing is kept.
		revoked, err := service.sessionRepository.RevokeOthers(ctx, userID, "", now)
		if err != nil {
			return nil, fmt.Errorf("account_service_revoke_sessions_failed: %w", err)
		}
		logger.WarnContext(ctx, "user_suspended",
			slog.String("target_user_id", userID),
			slog.Int64("sessions_revoked", revoked),
		)
	} else {
		logger.InfoContext(ctx, "user_reactivated", slog.String("target_user_id", userID))
	}

	return service.GetProfile(ctx, userID)
}

// # Sessions

/*
ListSessions returns the user's live device sessions.

The session whose token hash equals currentHash is flagged as current.
*/
func (service *Service) ListSessions(ctx context.Context, userID, currentHash string) ([]SessionInfo, error) {
	sessions, err := service.sessionRepository.FindActiveByUserID(ctx, userID, service.now())
	if err != nil {
		return nil, fmt.Errorf("account_service_list_sessions_failed: %w", err)
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, newSessionInfo(session, currentHash))
	}
	return infos, nil
}

// RevokeSession signs out one of the user's devices.
func (service *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	found, err := service.sessionRepository.RevokeByID(ctx, userID, sessionID, service.now())
	if err != nil {
		return fmt.Errorf("account_service_revoke_session_failed: %w", err)
	}
	if !found {
		return ErrSessionNotFound
	}

	ctxutil.GetLogger(ctx).InfoContext(ctx, "session_revoked", slog.String("session_id", sessionID))
	return nil
}

// RevokeOtherSessions signs out every device except the one holding currentHash.
func (service *Service) RevokeOtherSessions(ctx context.Context, userID, currentHash string) (int64, error) {
	if currentHash == "" {
		return 0, auth.ErrMissingRefreshToken
	}

	revoked, err := service.sessionRepository.RevokeOthers(ctx, userID, currentHash, service.now())
	if err != nil {
		return 0, fmt.Errorf("account_service_revoke_others_failed: %w", err)
	}

	ctxutil.GetLogger(ctx).InfoContext(ctx, "sessions_revoked", slog.Int64("count", revoked))
	return revoked, nil
}
