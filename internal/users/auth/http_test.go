// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/kotoba/internal/platform/apperr"
	"github.com/taibuivan/kotoba/internal/platform/middleware"
	"github.com/taibuivan/kotoba/internal/platform/respond"
	"github.com/taibuivan/kotoba/internal/users/auth"
	"github.com/taibuivan/kotoba/internal/users/auth/authtest"
)

func newHandler(f *fixture) http.Handler {
	return auth.NewHandler(f.service, auth.CookieConfig{MaxAge: authtest.RefreshTTL}).Routes()
}

func post(handler http.Handler, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func refreshCookieOf(t *testing.T, recorder *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == "refreshToken" {
			return cookie
		}
	}
	return nil
}

type tokenEnvelope struct {
	Data auth.TokenResponse `json:"data"`
}

func errorCode(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	var body respond.ErrorEnvelope
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body.Code
}

const aliceBody = `{"username":"alice","email":"alice@example.com","password":"correct-horse-battery"}`

/*
TestHandler_RegisterSetsRefreshCookie checks the cookie contract and response shape.
*/
func TestHandler_RegisterSetsRefreshCookie(t *testing.T) {
	f := newFixture(t, auth.Options{})
	handler := newHandler(f)

	recorder := post(handler, "/register", aliceBody)
	require.Equal(t, http.StatusCreated, recorder.Code)

	cookie := refreshCookieOf(t, recorder)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, int(authtest.RefreshTTL/time.Second), cookie.MaxAge)
	assert.NotEmpty(t, cookie.Value)

	var body tokenEnvelope
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Data.AccessToken)
	assert.Equal(t, "Bearer", body.Data.TokenType)
	assert.Equal(t, int64(authtest.AccessTTL/time.Second), body.Data.ExpiresIn)
	assert.Equal(t, "alice", body.Data.User.Username)
	assert.NotContains(t, recorder.Body.String(), "password")
}

/*
TestHandler_RegisterValidation rejects malformed payloads with 400.
*/
func TestHandler_RegisterValidation(t *testing.T) {
	f := newFixture(t, auth.Options{})
	handler := newHandler(f)

	for name, body := range map[string]string{
		"bad_json":       `{"username":`,
		"short_password": `{"username":"alice","email":"alice@example.com","password":"short"}`,
		"bad_email":      `{"username":"alice","email":"alice","password":"correct-horse-battery"}`,
		"bad_username":   `{"username":"a l","email":"alice@example.com","password":"correct-horse-battery"}`,
		"long_password":  `{"username":"alice","email":"alice@example.com","password":"` + strings.Repeat("x", 73) + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			recorder := post(handler, "/register", body)
			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			assert.Equal(t, apperr.CodeValidation, errorCode(t, recorder))
		})
	}

	require.Equal(t, http.StatusCreated, post(handler, "/register", aliceBody).Code)
	assert.Equal(t, http.StatusConflict, post(handler, "/register", aliceBody).Code)
}

/*
TestHandler_RefreshKeepsCookieWhenNotRotating returns a new access token and no Set-Cookie.
*/
func TestHandler_RefreshKeepsCookieWhenNotRotating(t *testing.T) {
	f := newFixture(t, auth.Options{})
	handler := newHandler(f)

	cookie := refreshCookieOf(t, post(handler, "/register", aliceBody))

	recorder := post(handler, "/refresh", "", cookie)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Nil(t, refreshCookieOf(t, recorder))

	var body tokenEnvelope
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Data.AccessToken)
	assert.Equal(t, "alice", body.Data.User.Username)
}

/*
TestHandler_RefreshRotatingSetsNewCookie replaces the cookie under rotation.
*/
func TestHandler_RefreshRotatingSetsNewCookie(t *testing.T) {
	f := newFixture(t, auth.Options{Rotation: true})
	handler := newHandler(f)

	cookie := refreshCookieOf(t, post(handler, "/register", aliceBody))

	recorder := post(handler, "/refresh", "", cookie)
	require.Equal(t, http.StatusOK, recorder.Code)

	next := refreshCookieOf(t, recorder)
	require.NotNil(t, next)
	assert.NotEqual(t, cookie.Value, next.Value)
	assert.Positive(t, next.MaxAge)
}

/*
TestHandler_RefreshFailuresClearCookie asserts every failure path clears the cookie.
*/
func TestHandler_RefreshFailuresClearCookie(t *testing.T) {
	tests := []struct {
		name   string
		cookie func(f *fixture, issued *http.Cookie) *http.Cookie
		status int
		code   string
	}{
		{
			name:   "no_cookie",
			cookie: func(*fixture, *http.Cookie) *http.Cookie { return nil },
			status: http.StatusUnauthorized,
			code:   "MISSING_CREDENTIAL",
		},
		{
			name: "unknown_token",
			cookie: func(*fixture, *http.Cookie) *http.Cookie {
				return &http.Cookie{Name: "refreshToken", Value: "forged"}
			},
			status: http.StatusUnauthorized,
			code:   "SESSION_NOT_FOUND",
		},
		{
			name: "expired",
			cookie: func(f *fixture, issued *http.Cookie) *http.Cookie {
				f.clock.Advance(authtest.RefreshTTL + time.Second)
				return issued
			},
			status: http.StatusForbidden,
			code:   "SESSION_EXPIRED",
		},
		{
			name: "storage_failure",
			cookie: func(f *fixture, issued *http.Cookie) *http.Cookie {
				f.sessions.Err = apperr.StorageFailure(errors.New("connection reset"))
				return issued
			},
			status: http.StatusInternalServerError,
			code:   apperr.CodeStorageFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, auth.Options{})
			handler := newHandler(f)
			issued := refreshCookieOf(t, post(handler, "/register", aliceBody))

			var cookies []*http.Cookie
			if cookie := tt.cookie(f, issued); cookie != nil {
				cookies = append(cookies, cookie)
			}

			recorder := post(handler, "/refresh", "", cookies...)
			assert.Equal(t, tt.status, recorder.Code)
			assert.Equal(t, tt.code, errorCode(t, recorder))

			cleared := refreshCookieOf(t, recorder)
			require.NotNil(t, cleared)
			assert.Empty(t, cleared.Value)
			assert.Negative(t, cleared.MaxAge)
			assert.Contains(t, recorder.Header().Get("Set-Cookie"), "Max-Age=0")
		})
	}
}

/*
TestHandler_LogoutAlwaysSucceeds covers the cookie-clearing contract, including
storage failure and a missing cookie.
*/
func TestHandler_LogoutAlwaysSucceeds(t *testing.T) {
	f := newFixture(t, auth.Options{})
	handler := newHandler(f)
	issued := refreshCookieOf(t, post(handler, "/register", aliceBody))

	f.sessions.RevokeErr = apperr.StorageFailure(errors.New("disk full"))
	recorder := post(handler, "/logout", "", issued)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, refreshCookieOf(t, recorder).Value)

	recorder = post(handler, "/logout", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.NotNil(t, refreshCookieOf(t, recorder))

	f.sessions.RevokeErr = nil
	recorder = post(handler, "/logout", "", issued)
	assert.Equal(t, http.StatusOK, recorder.Code)

	recorder = post(handler, "/refresh", "", issued)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Equal(t, "SESSION_REVOKED", errorCode(t, recorder))
}

/*
TestHandler_LoginAcceptsEmail uses the username field for either identifier.
*/
func TestHandler_LoginAcceptsEmail(t *testing.T) {
	f := newFixture(t, auth.Options{})
	handler := newHandler(f)
	require.Equal(t, http.StatusCreated, post(handler, "/register", aliceBody).Code)

	recorder := post(handler, "/login", `{"username":"alice@example.com","password":"correct-horse-battery"}`)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.NotNil(t, refreshCookieOf(t, recorder))

	recorder = post(handler, "/login", `{"username":"alice","password":"nope-nope"}`)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, recorder))
	assert.Nil(t, refreshCookieOf(t, recorder))
}

/*
TestHandler_LoginThrottleIgnoresForwardedHeaders keeps the lockout keyed on the
peer address when callers rotate X-Forwarded-For on every attempt.
*/
func TestHandler_LoginThrottleIgnoresForwardedHeaders(t *testing.T) {
	limiter, _ := newRedisLimiter(t, 3, 15*time.Minute)
	f := newFixture(t, auth.Options{Limiter: limiter})
	handler := middleware.ClientIP(nil)(newHandler(f))
	require.Equal(t, http.StatusCreated, post(handler, "/register", aliceBody).Code)

	statuses := make([]int, 0, 6)
	for i := range 6 {
		request := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"alice","password":"nope-nope"}`))
		request.Header.Set("Content-Type", "application/json")
		request.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		statuses = append(statuses, recorder.Code)
	}

	assert.Equal(t, []int{401, 401, 401, 429, 429, 429}, statuses)
}
