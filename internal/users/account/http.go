// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package account

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/kotoba/internal/platform/constants"
	requestutil "github.com/taibuivan/kotoba/internal/platform/request"
	"github.com/taibuivan/kotoba/internal/platform/respond"
	"github.com/taibuivan/kotoba/internal/platform/sec"
	"github.com/taibuivan/kotoba/internal/platform/validate"
	"github.com/taibuivan/kotoba/internal/users/auth"
)

// Handler implements the HTTP layer for account self-service.
type Handler struct {
	accountService *Service
}

// NewHandler constructs a new account [Handler].
func NewHandler(service *Service) *Handler {
	return &Handler{accountService: service}
}

// Routes returns the self-service endpoints. Mount behind the authentication gateway.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Get("/", handler.getMe)

	// Session Security
	router.Get("/sessions", handler.listSessions)
	router.Post("/sessions/revoke-others", handler.revokeOtherSessions)
	router.Delete("/sessions/{id}", handler.revokeSession)

	return router
}

// AdminRoutes returns the account moderation endpoints. Mount behind an admin role check.
func (handler *Handler) AdminRoutes() chi.Router {
	router := chi.NewRouter()
	router.Put("/{id}/status", handler.setStatus)
	return router
}

// # User Profile Endpoints

/*
GET /api/v1/me.

Response:
  - 200: User: The caller's profile
  - 404: USER_NOT_FOUND: Account deleted after the token was issued
*/
func (handler *Handler) getMe(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, err := handler.accountService.GetProfile(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, user)
}

// # Session Security Endpoints

/*
GET /api/v1/me/sessions.

Response:
  - 200: []SessionInfo: Live device sessions, the caller's flagged is_current
*/
func (handler *Handler) listSessions(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	sessions, err := handler.accountService.ListSessions(request.Context(), userID, currentHash(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, sessions)
}

/*
DELETE /api/v1/me/sessions/{id}.

Response:
  - 204: No Content: Session revoked
  - 404: NOT_FOUND: No live session with that ID belongs to the caller
*/
func (handler *Handler) revokeSession(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	sessionID := requestutil.Param(request, "id")
	if err := (&validate.Validator{}).UUID("id", sessionID).Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.accountService.RevokeSession(request.Context(), userID, sessionID); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

/*
POST /api/v1/me/sessions/revoke-others.

Response:
  - 200: {"revoked": n}
  - 401: MISSING_CREDENTIAL: No refresh cookie identifies the current device
*/
func (handler *Handler) revokeOtherSessions(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	revoked, err := handler.accountService.RevokeOtherSessions(request.Context(), userID, currentHash(request))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]int64{"revoked": revoked})
}

// # Moderation Endpoints

type setStatusRequest struct {
	Status string `json:"status"`
}

/*
PUT /api/v1/users/{id}/status.

Request:
  - body: {"status": "active" | "inactive"}

Response:
  - 200: User: The updated account
  - 404: USER_NOT_FOUND
  - 422: SELF_STATUS_CHANGE
*/
func (handler *Handler) setStatus(writer http.ResponseWriter, request *http.Request) {
	actorID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input setStatusRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	targetID := requestutil.Param(request, "id")
	v := &validate.Validator{}
	v.UUID("id", targetID).
		OneOf("status", input.Status, string(auth.StatusActive), string(auth.StatusInactive))
	if err := v.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, err := handler.accountService.SetStatus(request.Context(), actorID, targetID, auth.UserStatus(input.Status))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, user)
}

// currentHash identifies the caller's own session through its refresh cookie.
func currentHash(request *http.Request) string {
	cookie, err := request.Cookie(constants.RefreshTokenCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return sec.HashToken(cookie.Value)
}
