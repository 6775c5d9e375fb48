// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package account_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/kotoba/internal/platform/constants"
	"github.com/taibuivan/kotoba/internal/platform/middleware"
	"github.com/taibuivan/kotoba/internal/platform/sec"
	"github.com/taibuivan/kotoba/internal/users/account"
	"github.com/taibuivan/kotoba/internal/users/auth"
)

func (f *fixture) router() http.Handler {
	handler := account.NewHandler(f.accounts)

	router := chi.NewRouter()
	router.Group(func(protected chi.Router) {
		protected.Use(middleware.RequireAuth(f.tokens))
		protected.Use(middleware.RequireActiveUser(f.auth))
		protected.Mount("/me", handler.Routes())

		protected.With(middleware.RequireRole(sec.RoleAdmin)).Mount("/users", handler.AdminRoutes())
	})
	return router
}

type call struct {
	method  string
	path    string
	body    string
	access  string
	refresh string
}

func (f *fixture) do(t *testing.T, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	request := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	request.Header.Set("Content-Type", "application/json")
	if c.access != "" {
		request.Header.Set(constants.HeaderAuthorization, constants.BearerPrefix+c.access)
	}
	if c.refresh != "" {
		request.AddCookie(&http.Cookie{Name: constants.RefreshTokenCookieName, Value: c.refresh})
	}

	recorder := httptest.NewRecorder()
	f.router().ServeHTTP(recorder, request)

	var envelope map[string]any
	if recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	}
	return recorder, envelope
}

func TestHandler_GetMe(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")

	recorder, envelope := f.do(t, call{method: http.MethodGet, path: "/me", access: alice.AccessToken.Value})
	require.Equal(t, http.StatusOK, recorder.Code)

	data := envelope["data"].(map[string]any)
	assert.Equal(t, "alice", data["username"])
	assert.NotContains(t, data, "password_hash")

	recorder, _ = f.do(t, call{method: http.MethodGet, path: "/me"})
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestHandler_Sessions(t *testing.T) {
	f := newFixture(t)
	laptop := f.register(t, "alice")
	phone := f.login(t, "alice", "phone")

	recorder, envelope := f.do(t, call{
		method: http.MethodGet, path: "/me/sessions",
		access: laptop.AccessToken.Value, refresh: laptop.RefreshToken.Value,
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	sessions := envelope["data"].([]any)
	require.Len(t, sessions, 2)
	for _, raw := range sessions {
		session := raw.(map[string]any)
		assert.NotContains(t, session, "token_hash")
		assert.Equal(t, session["user_agent"] == "laptop", session["is_current"])
	}

	phoneID := f.sessions.Get(phone.RefreshToken.Value).ID
	recorder, _ = f.do(t, call{method: http.MethodDelete, path: "/me/sessions/" + phoneID, access: laptop.AccessToken.Value})
	assert.Equal(t, http.StatusNoContent, recorder.Code)

	recorder, envelope = f.do(t, call{method: http.MethodDelete, path: "/me/sessions/" + phoneID, access: laptop.AccessToken.Value})
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "NOT_FOUND", envelope["code"])

	recorder, _ = f.do(t, call{method: http.MethodDelete, path: "/me/sessions/not-a-uuid", access: laptop.AccessToken.Value})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHandler_RevokeOthers(t *testing.T) {
	f := newFixture(t)
	laptop := f.register(t, "alice")
	phone := f.login(t, "alice", "phone")

	recorder, envelope := f.do(t, call{
		method: http.MethodPost, path: "/me/sessions/revoke-others",
		access: laptop.AccessToken.Value, refresh: laptop.RefreshToken.Value,
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.EqualValues(t, 1, envelope["data"].(map[string]any)["revoked"])
	assert.NotNil(t, f.sessions.Get(phone.RefreshToken.Value).RevokedAt)

	recorder, envelope = f.do(t, call{method: http.MethodPost, path: "/me/sessions/revoke-others", access: laptop.AccessToken.Value})
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, "MISSING_CREDENTIAL", envelope["code"])
}

func TestHandler_SetStatus(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	adminToken, err := f.tokens.IssueAccessToken(admin.ID, admin.Role)
	require.NoError(t, err)
	alice := f.register(t, "alice")

	path := "/users/" + alice.User.ID + "/status"

	// Learners cannot moderate.
	recorder, _ := f.do(t, call{method: http.MethodPut, path: path, body: `{"status":"inactive"}`, access: alice.AccessToken.Value})
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	recorder, _ = f.do(t, call{method: http.MethodPut, path: path, body: `{"status":"banned"}`, access: adminToken.Value})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder, envelope := f.do(t, call{method: http.MethodPut, path: path, body: `{"status":"inactive"}`, access: adminToken.Value})
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, string(auth.StatusInactive), envelope["data"].(map[string]any)["status"])

	// The suspended learner's still-valid access token is now refused.
	recorder, envelope = f.do(t, call{method: http.MethodGet, path: "/me", access: alice.AccessToken.Value})
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Equal(t, "USER_INACTIVE", envelope["code"])
}
