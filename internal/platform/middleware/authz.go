// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/taibuivan/kotoba/internal/platform/apperr"
	"github.com/taibuivan/kotoba/internal/platform/constants"
	"github.com/taibuivan/kotoba/internal/platform/ctxutil"
	"github.com/taibuivan/kotoba/internal/platform/respond"
	"github.com/taibuivan/kotoba/internal/platform/sec"
)

// # Gateway Errors

var (
	ErrMissingCredential = apperr.New(http.StatusUnauthorized, "MISSING_CREDENTIAL", "Authentication required")
	ErrInvalidToken      = apperr.New(http.StatusForbidden, "INVALID_TOKEN", "Invalid access token")
	ErrTokenExpired      = apperr.New(http.StatusForbidden, "TOKEN_EXPIRED", "Access token expired")
	ErrUserInactive      = apperr.New(http.StatusForbidden, "USER_INACTIVE", "Account is not active")
	ErrInsufficientRole  = apperr.Forbidden("Insufficient permissions")
)

// TokenVerifier defines the interface needed to verify tokens in middleware.
//
// Defining TokenVerifier here decouples the middleware from [sec.TokenService],
// allowing fakes during unit testing.
type TokenVerifier interface {
	VerifyAccessToken(tokenString string) (*sec.AuthClaims, error)
}

// ActiveUserChecker re-reads account status from storage.
type ActiveUserChecker interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

// RequireAuth extracts and verifies the access token from the Authorization header.
//
// # Flow
//  1. Missing or non-bearer header aborts with 401 MISSING_CREDENTIAL.
//  2. Verify the JWT via [TokenVerifier]; expired aborts with 403 TOKEN_EXPIRED,
//     anything else with 403 INVALID_TOKEN.
//  3. Inject [*sec.AuthClaims] into the context and tag the request logger with user_id.
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			// ── 1. Credential Extraction ─────────────────────────────────────
			tokenString, ok := bearerToken(request)
			if !ok {
				respond.Error(writer, request, ErrMissingCredential)
				return
			}

			// ── 2. Token Verification ────────────────────────────────────────
			claims, err := verifier.VerifyAccessToken(tokenString)
			if err != nil {
				if errors.Is(err, sec.ErrTokenExpired) {
					respond.Error(writer, request, ErrTokenExpired)
					return
				}
				respond.Error(writer, request, ErrInvalidToken.WithCause(err))
				return
			}

			// ── 3. Context Injection ─────────────────────────────────────────
			ctx := ctxutil.WithAuthUser(request.Context(), claims)
			logger := ctxutil.GetLogger(ctx).With(slog.String("user_id", claims.UserID))
			ctx = ctxutil.WithLogger(ctx, logger)

			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// RequireActiveUser rejects requests whose account is no longer active.
//
// # Usage
//
// Must be registered AFTER [RequireAuth]. A token stays cryptographically valid
// after an account is deactivated, so status is checked against storage.
func RequireActiveUser(checker ActiveUserChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			claims := ctxutil.GetAuthUser(request.Context())
			if claims == nil {
				respond.Error(writer, request, ErrMissingCredential)
				return
			}

			active, err := checker.IsActive(request.Context(), claims.UserID)
			if err != nil {
				respond.Error(writer, request, err)
				return
			}
			if !active {
				respond.Error(writer, request, ErrUserInactive)
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}

// RequireRole blocks requests if the authenticated user doesn't have the required role.
//
// # Usage
//
// Must be registered in the router AFTER [RequireAuth].
func RequireRole(role sec.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			claims := ctxutil.GetAuthUser(request.Context())

			// ── 1. Authentication Check ──────────────────────────────────────
			if claims == nil {
				respond.Error(writer, request, ErrMissingCredential)
				return
			}

			// ── 2. Authorization Check ───────────────────────────────────────
			if !claims.Role.AtLeast(role) {
				respond.Error(writer, request, ErrInsufficientRole)
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}

// bearerToken returns the credential from 'Authorization: Bearer <token>'.
func bearerToken(request *http.Request) (string, bool) {
	header := request.Header.Get(constants.HeaderAuthorization)
	if len(header) < len(constants.BearerPrefix) ||
		!strings.EqualFold(header[:len(constants.BearerPrefix)], constants.BearerPrefix) {
		return "", false
	}

	token := strings.TrimSpace(header[len(constants.BearerPrefix):])
	return token, token != ""
}
