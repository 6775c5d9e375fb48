// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// codeForbidden marks a role check failure, which a new token cannot fix.
const codeForbidden = "FORBIDDEN"

// tokenResponse mirrors the body of register, login and refresh.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	User        *User  `json:"user"`
}

// expiry reads the exp claim without verifying the signature; the server does that.
// It falls back to expires_in when the token carries no exp.
func (t tokenResponse) expiry(now time.Time) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(t.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// # Authenticated Requests

/*
Do sends request with the current access token.

A token inside the skew buffer is refreshed first. A 401 or 403 answer
triggers one refresh (shared with concurrent callers) and exactly one retry.
When the retry is rejected too, the session is torn down and the rejected
response is returned for the caller to inspect.

The request body is buffered so it can be replayed on retry.
*/
func (m *Manager) Do(ctx context.Context, request *http.Request) (*http.Response, error) {
	if err := rewindable(request); err != nil {
		return nil, err
	}

	// ── 1. Proactive refresh ─────────────────────────────────────────────
	token, expiry, _ := m.snapshot()
	if m.stale(token, expiry) {
		err := m.share(ctx, func() bool {
			current, currentExpiry, _ := m.snapshot()
			return current != token && !m.stale(current, currentExpiry)
		})
		if err != nil {
			return nil, err
		}
		token, _, _ = m.snapshot()
	}
	if token == "" {
		return nil, ErrNotAuthenticated
	}

	response, err := m.send(ctx, request, token)
	if err != nil || !m.rejected(response) {
		return response, err
	}
	discard(response)

	// ── 2. Reactive refresh ──────────────────────────────────────────────
	err = m.share(ctx, func() bool {
		current, _, _ := m.snapshot()
		return current != "" && current != token
	})
	if err != nil {
		return nil, err
	}

	current, _, generation := m.snapshot()
	if current == "" {
		return nil, ErrNotAuthenticated
	}

	// ── 3. Single retry ──────────────────────────────────────────────────
	response, err = m.send(ctx, request, current)
	if err != nil {
		return nil, err
	}
	if m.rejected(response) {
		m.forceLogout(ctx, generation)
	}
	return response, nil
}

func (m *Manager) send(ctx context.Context, request *http.Request, token string) (*http.Response, error) {
	outgoing := request.Clone(ctx)
	if request.GetBody != nil {
		body, err := request.GetBody()
		if err != nil {
			return nil, fmt.Errorf("authclient: replay body: %w", err)
		}
		outgoing.Body = body
	}
	outgoing.Header.Set("Authorization", "Bearer "+token)

	return m.client.Do(outgoing)
}

// rejected reports whether the response means the credential was refused.
// A 403 for a missing role is not a credential problem and is passed through.
func (m *Manager) rejected(response *http.Response) bool {
	switch response.StatusCode {
	case http.StatusUnauthorized:
		return true
	case http.StatusForbidden:
		data, err := io.ReadAll(response.Body)
		_ = response.Body.Close()
		response.Body = io.NopCloser(bytes.NewReader(data))
		if err != nil {
			return true
		}

		var envelope APIError
		return json.Unmarshal(data, &envelope) != nil || envelope.Code != codeForbidden
	default:
		return false
	}
}

// rewindable buffers a one-shot body so the request can be sent twice.
func rewindable(request *http.Request) error {
	if request.Body == nil || request.Body == http.NoBody || request.GetBody != nil {
		return nil
	}

	data, err := io.ReadAll(request.Body)
	_ = request.Body.Close()
	if err != nil {
		return fmt.Errorf("authclient: buffer body: %w", err)
	}

	request.Body = io.NopCloser(bytes.NewReader(data))
	request.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil
}

func discard(response *http.Response) {
	_, _ = io.Copy(io.Discard, response.Body)
	_ = response.Body.Close()
}

// # Session Endpoints

func (m *Manager) postTokens(ctx context.Context, path string, payload any) (tokenResponse, error) {
	var envelope struct {
		Data tokenResponse `json:"data"`
	}

	response, err := m.post(ctx, path, payload)
	if err != nil {
		return envelope.Data, err
	}
	defer discard(response)

	if response.StatusCode >= http.StatusMultipleChoices {
		return envelope.Data, decodeError(response)
	}

	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return envelope.Data, fmt.Errorf("authclient: decode %s: %w", path, err)
	}
	if envelope.Data.AccessToken == "" {
		return envelope.Data, fmt.Errorf("authclient: %s returned no access token", path)
	}
	return envelope.Data, nil
}

func (m *Manager) postLogout(ctx context.Context) error {
	response, err := m.post(context.WithoutCancel(ctx), "auth/logout", nil)
	if err != nil {
		return err
	}
	defer discard(response)

	if response.StatusCode != http.StatusOK {
		return decodeError(response)
	}
	return nil
}

func (m *Manager) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("authclient: encode %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL(path), body)
	if err != nil {
		return nil, fmt.Errorf("authclient: build %s: %w", path, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := m.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("authclient: %s: %w", path, err)
	}
	return response, nil
}

func decodeError(response *http.Response) error {
	apiError := &APIError{Status: response.StatusCode}
	if err := json.NewDecoder(response.Body).Decode(apiError); err != nil {
		apiError.Message = http.StatusText(response.StatusCode)
	}
	return apiError
}
