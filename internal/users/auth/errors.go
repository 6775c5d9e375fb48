// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"net/http"

	"github.com/taibuivan/kotoba/internal/platform/apperr"
)

// # Error Taxonomy

// Every refresh-path failure is terminal for the call and clears the refresh cookie.
var (
	ErrMissingRefreshToken = apperr.New(http.StatusUnauthorized, "MISSING_CREDENTIAL", "Refresh token not found")
	ErrSessionNotFound     = apperr.New(http.StatusUnauthorized, "SESSION_NOT_FOUND", "Invalid session")
	ErrSessionRevoked      = apperr.New(http.StatusForbidden, "SESSION_REVOKED", "Session revoked")
	ErrSessionExpired      = apperr.New(http.StatusForbidden, "SESSION_EXPIRED", "Session expired")
	ErrUserNotFound        = apperr.New(http.StatusNotFound, "USER_NOT_FOUND", "User not found")
	ErrUserInactive        = apperr.New(http.StatusForbidden, "USER_INACTIVE", "Account is not active")
	ErrInvalidCredentials  = apperr.New(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid login credentials")
	ErrUsernameTaken       = apperr.Conflict("Username is already taken")
	ErrEmailTaken          = apperr.Conflict("Email is already registered")
)
