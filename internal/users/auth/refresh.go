// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/taibuivan/kotoba/internal/platform/apperr"
	"github.com/taibuivan/kotoba/internal/platform/ctxutil"
	"github.com/taibuivan/kotoba/internal/platform/sec"
)

/*
Refresh exchanges a refresh token for a new access token.

# Flow
 1. Empty token: [ErrMissingRefreshToken].
 2. Look the session up by token hash; unknown or unverifiable: [ErrSessionNotFound].
 3. Revoked: the token was presented after revocation, so the whole family is
    revoked before answering [ErrSessionRevoked].
 4. Expired: [ErrSessionExpired], nothing is written.
 5. Owner missing: [ErrUserNotFound]; owner deactivated: [ErrUserInactive].
 6. Otherwise mint an access token. The session row is left untouched unless
    rotation is enabled, in which case it is swapped for a new row in the same family.

Every error is terminal for the call; the caller clears the refresh cookie.
*/
func (service *Service) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*AuthResult, error) {
	logger := ctxutil.GetLogger(ctx)

	// ── 1. Credential Presence ───────────────────────────────────────────
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}

	// ── 2. Session Lookup ────────────────────────────────────────────────
	// A token that fails signature checks cannot have been issued by us, so it
	// cannot be in the store either; skip the round-trip.
	if _, err := service.tokenIssuer.VerifyRefreshToken(refreshToken); err != nil {
		logger.DebugContext(ctx, "refresh_token_unverifiable", slog.Any("error", err))
		return nil, ErrSessionNotFound
	}

	tokenHash := sec.HashToken(refreshToken)
	session, err := service.sessionRepository.FindByHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}

	now := service.now()

	// ── 3. Reuse Detection ───────────────────────────────────────────────
	if session.IsRevoked() {
		return nil, service.revokeFamily(ctx, session)
	}

	// ── 4. Expiry ────────────────────────────────────────────────────────
	if session.IsExpired(now) {
		return nil, ErrSessionExpired
	}

	// ── 5. Owner ─────────────────────────────────────────────────────────
	user, err := service.userRepository.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return nil, ErrUserInactive
	}

	// ── 6. Issuance ──────────────────────────────────────────────────────
	accessToken, err := service.tokenIssuer.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	result := &AuthResult{AccessToken: accessToken, User: user}

	if service.rotation {
		nextToken, err := service.rotate(ctx, session, user, client, now)
		if err != nil {
			return nil, err
		}
		result.RefreshToken = &nextToken
	}

	return result, nil
}

// rotate replaces the session with a new one in the same family.
//
// Losing a concurrent rotation race surfaces as [ErrSessionRevoked] from the
// store and is handled exactly like reuse.
func (service *Service) rotate(ctx context.Context, session *Session, user *User, client ClientInfo, now time.Time) (sec.SignedToken, error) {
	nextToken, nextSession, err := service.newSession(user, session.Family, client)
	if err != nil {
		return sec.SignedToken{}, err
	}

	if err := service.sessionRepository.Rotate(ctx, session.TokenHash, nextSession, now); err != nil {
		if errors.Is(err, ErrSessionRevoked) {
			return sec.SignedToken{}, service.revokeFamily(ctx, session)
		}
		return sec.SignedToken{}, err
	}

	return nextToken, nil
}

// revokeFamily cascades revocation through a login lineage after detected reuse.
//
// The caller answers [ErrSessionRevoked] even when the cascade itself fails;
// the presented token is already dead and the failure is logged for follow-up.
func (service *Service) revokeFamily(ctx context.Context, session *Session) error {
	logger := ctxutil.GetLogger(ctx)

	revoked, err := service.sessionRepository.RevokeByFamily(ctx, session.Family, service.now())
	if err != nil {
		logger.ErrorContext(ctx, "session_family_revoke_failed",
			slog.String("user_id", session.UserID),
			slog.String("family", session.Family),
			slog.Any("error", err),
		)
		return ErrSessionRevoked
	}

	logger.WarnContext(ctx, "session_reuse_detected",
		slog.String("user_id", session.UserID),
		slog.String("family", session.Family),
		slog.Int64("sessions_revoked", revoked),
	)

	return ErrSessionRevoked
}
