// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taibuivan/kotoba/internal/platform/sec"
	"github.com/taibuivan/kotoba/internal/users/auth"
	"github.com/taibuivan/kotoba/internal/users/auth/authtest"
)

type fixture struct {
	service  *auth.Service
	users    *authtest.UserStore
	sessions *authtest.SessionStore
	tokens   *sec.TokenService
	clock    *authtest.Clock
}

func newFixture(t *testing.T, options auth.Options) *fixture {
	t.Helper()

	clock := authtest.NewClock()
	tokens := authtest.NewTokenService(t, clock)
	users := authtest.NewUserStore()
	sessions := authtest.NewSessionStore()

	options.Now = clock.Now

	return &fixture{
		service:  auth.NewService(users, sessions, tokens, options),
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		clock:    clock,
	}
}

var client = auth.ClientInfo{UserAgent: "kotoba-test/1.0", IPAddress: "203.0.113.10"}

func (f *fixture) register(t *testing.T, username string) *auth.AuthResult {
	t.Helper()

	result, err := f.service.Register(context.Background(), auth.RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "correct-horse-battery",
		Client:   client,
	})
	require.NoError(t, err)
	require.NotNil(t, result.RefreshToken)
	return result
}
