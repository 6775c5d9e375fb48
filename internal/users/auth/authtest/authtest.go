// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package authtest provides in-memory auth stores, a controllable clock and a
// ready-made token service for tests across packages.
package authtest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/taibuivan/kotoba/internal/platform/sec"
	"github.com/taibuivan/kotoba/internal/users/auth"
)

// # Clock

// Clock is a manually advanced time source safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock pinned to a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// # Tokens

const (
	Issuer     = "kotoba-test"
	AccessTTL  = 15 * time.Minute
	RefreshTTL = 7 * 24 * time.Hour
)

var (
	keyOnce sync.Once
	key     *rsa.PrivateKey
	keyErr  error
)

// NewTokenService builds a token service on the fake clock. The RSA key is
// generated once per test binary.
func NewTokenService(t testing.TB, clock *Clock) *sec.TokenService {
	t.Helper()

	keyOnce.Do(func() {
		key, keyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if keyErr != nil {
		t.Fatalf("authtest: generate key: %v", keyErr)
	}

	service, err := sec.NewTokenService(sec.TokenConfig{
		PrivateKey: key,
		PublicKey:  &key.PublicKey,
		Issuer:     Issuer,
		AccessTTL:  AccessTTL,
		RefreshTTL: RefreshTTL,
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("authtest: token service: %v", err)
	}
	return service
}

// # Users

// UserStore is an in-memory [auth.UserRepository].
type UserStore struct {
	mu    sync.Mutex
	users map[string]*auth.User

	// Err, when set, is returned by every operation.
	Err error
}

// NewUserStore creates an empty store.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*auth.User)}
}

func (s *UserStore) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}

	for _, existing := range s.users {
		if strings.EqualFold(existing.Username, user.Username) {
			return auth.ErrUsernameTaken
		}
		if strings.EqualFold(existing.Email, user.Email) {
			return auth.ErrEmailTaken
		}
	}

	stored := *user
	s.users[user.ID] = &stored
	return nil
}

func (s *UserStore) FindByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}

	user, ok := s.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	found := *user
	return &found, nil
}

func (s *UserStore) FindByLogin(_ context.Context, login string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}

	for _, user := range s.users {
		if strings.EqualFold(user.Username, login) || strings.EqualFold(user.Email, login) {
			found := *user
			return &found, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

// UpdateStatus changes an account's status. It reports false for unknown users.
func (s *UserStore) UpdateStatus(_ context.Context, id string, status auth.UserStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return false, s.Err
	}

	user, ok := s.users[id]
	if !ok {
		return false, nil
	}
	user.Status = status
	user.UpdatedAt = at
	return true, nil
}

// Delete removes a user outright, leaving their sessions orphaned.
func (s *UserStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

// # Sessions

// SessionStore is an in-memory [auth.SessionRepository] keyed by token hash.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*auth.Session

	// Err, when set, is returned by every operation.
	Err error

	// RevokeErr, when set, is returned by RevokeByHash only.
	RevokeErr error
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*auth.Session)}
}

func (s *SessionStore) Create(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	return s.insert(session)
}

func (s *SessionStore) insert(session *auth.Session) error {
	if _, exists := s.sessions[session.TokenHash]; exists {
		return errDuplicateHash
	}
	stored := *session
	s.sessions[session.TokenHash] = &stored
	return nil
}

func (s *SessionStore) FindByHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}

	session, ok := s.sessions[tokenHash]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	return clone(session), nil
}

func (s *SessionStore) RevokeByHash(_ context.Context, tokenHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	if s.RevokeErr != nil {
		return s.RevokeErr
	}

	if session, ok := s.sessions[tokenHash]; ok && session.RevokedAt == nil {
		session.RevokedAt = &at
	}
	return nil
}

func (s *SessionStore) RevokeByFamily(_ context.Context, family string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return 0, s.Err
	}

	var revoked int64
	for _, session := range s.sessions {
		if session.Family == family && session.RevokedAt == nil {
			session.RevokedAt = &at
			revoked++
		}
	}
	return revoked, nil
}

func (s *SessionStore) Rotate(_ context.Context, oldHash string, next *auth.Session, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}

	session, ok := s.sessions[oldHash]
	switch {
	case !ok:
		return auth.ErrSessionNotFound
	case session.RevokedAt != nil:
		return auth.ErrSessionRevoked
	case session.ExpiresAt.Before(at):
		return auth.ErrSessionExpired
	}

	session.RevokedAt = &at
	return s.insert(next)
}

func (s *SessionStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return 0, s.Err
	}

	var deleted int64
	for hash, session := range s.sessions {
		if session.ExpiresAt.Before(before) {
			delete(s.sessions, hash)
			deleted++
		}
	}
	return deleted, nil
}

// FindActiveByUserID lists live sessions for a user.
func (s *SessionStore) FindActiveByUserID(_ context.Context, userID string, now time.Time) ([]*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}

	var active []*auth.Session
	for _, session := range s.sessions {
		if session.UserID == userID && session.RevokedAt == nil && !session.ExpiresAt.Before(now) {
			active = append(active, clone(session))
		}
	}
	return active, nil
}

// RevokeByID revokes one of the user's sessions. It reports false when none matched.
func (s *SessionStore) RevokeByID(_ context.Context, userID, sessionID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return false, s.Err
	}

	for _, session := range s.sessions {
		if session.ID == sessionID && session.UserID == userID && session.RevokedAt == nil {
			session.RevokedAt = &at
			return true, nil
		}
	}
	return false, nil
}

// RevokeOthers revokes every live session of the user except keepHash.
func (s *SessionStore) RevokeOthers(_ context.Context, userID, keepHash string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return 0, s.Err
	}

	var revoked int64
	for hash, session := range s.sessions {
		if session.UserID == userID && hash != keepHash && session.RevokedAt == nil {
			session.RevokedAt = &at
			revoked++
		}
	}
	return revoked, nil
}

// Get returns a copy of the session for a raw refresh token, or nil.
func (s *SessionStore) Get(rawToken string) *auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sec.HashToken(rawToken)]
	if !ok {
		return nil
	}
	return clone(session)
}

// All returns copies of every stored session.
func (s *SessionStore) All() []*auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*auth.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		all = append(all, clone(session))
	}
	return all
}

// Put stores a session as-is, for arranging expired or revoked fixtures.
func (s *SessionStore) Put(session *auth.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.TokenHash] = clone(session)
}

func clone(session *auth.Session) *auth.Session {
	copied := *session
	if session.RevokedAt != nil {
		revokedAt := *session.RevokedAt
		copied.RevokedAt = &revokedAt
	}
	return &copied
}
