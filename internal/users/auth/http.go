// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/kotoba/internal/platform/constants"
	"github.com/taibuivan/kotoba/internal/platform/middleware"
	requestutil "github.com/taibuivan/kotoba/internal/platform/request"
	"github.com/taibuivan/kotoba/internal/platform/respond"
	"github.com/taibuivan/kotoba/internal/platform/validate"
)

// # Definitions & Constructors

// CookieConfig controls the refresh-token cookie attributes.
type CookieConfig struct {
	// Secure is enabled in production so the cookie only travels over HTTPS.
	Secure bool

	// MaxAge matches the refresh-token lifetime.
	MaxAge time.Duration
}

// Handler implements authentication-related HTTP endpoints.
//
// # Scope
//
// This handler manages the session entry points (Registration, Login) and the
// refresh-cookie lifecycle (Refresh, Logout).
type Handler struct {
	authService *Service
	cookie      CookieConfig
}

// NewHandler constructs a new [Handler] with its service dependency.
func NewHandler(service *Service, cookie CookieConfig) *Handler {
	return &Handler{authService: service, cookie: cookie}
}

// Routes returns a [chi.Router] configured with authentication-specific routes.
//
// # Endpoints
//   - POST /register : Creates a new account and session.
//   - POST /login    : Authenticates and opens a session.
//   - POST /refresh  : Exchanges the refresh cookie for an access token.
//   - POST /logout   : Revokes the session and clears the cookie.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/register", handler.register)
	router.Post("/login", handler.login)
	router.Post("/refresh", handler.refresh)
	router.Post("/logout", handler.logout)

	return router
}

// # Payloads

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest accepts either a username or an email in the username field.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is the body returned by register, login and refresh.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	User        *User  `json:"user"`
}

/*
Register handles the creation of a new user account.

POST /api/v1/auth/register

Request:
  - Body: registerRequest (Username, Email, Password)

Response:
  - 201: TokenResponse + refresh cookie
  - 400: VALIDATION_ERROR
  - 409: CONFLICT: Username or Email already exists
*/
func (handler *Handler) register(writer http.ResponseWriter, request *http.Request) {
	var input registerRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldUsername, input.Username).
		MinLen(FieldUsername, input.Username, UsernameMinLength).
		MaxLen(FieldUsername, input.Username, UsernameMaxLength).
		Username(FieldUsername, input.Username).
		Required(FieldEmail, input.Email).
		MaxLen(FieldEmail, input.Email, EmailMaxLength).
		Email(FieldEmail, input.Email).
		Required(FieldPassword, input.Password).
		MinLen(FieldPassword, input.Password, PasswordMinLength).
		Custom(FieldPassword, len(input.Password) > PasswordMaxLength, "Maximum 72 bytes")

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.authService.Register(request.Context(), RegisterInput{
		Username: input.Username,
		Email:    input.Email,
		Password: input.Password,
		Client:   clientInfo(request),
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.setRefreshCookie(writer, result.RefreshToken.Value)
	respond.Created(writer, handler.tokenResponse(result))
}

/*
Login authenticates a user and establishes a session.

POST /api/v1/auth/login

Request:
  - Body: loginRequest (Username, Password)

Response:
  - 200: TokenResponse + refresh cookie
  - 401: INVALID_CREDENTIALS
  - 403: USER_INACTIVE
  - 429: RATE_LIMITED
*/
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input loginRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldUsername, input.Username).
		Required(FieldPassword, input.Password)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.authService.Login(request.Context(), LoginInput{
		Login:    input.Username,
		Password: input.Password,
		Client:   clientInfo(request),
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.setRefreshCookie(writer, result.RefreshToken.Value)
	respond.OK(writer, handler.tokenResponse(result))
}

/*
Refresh issues a new access token using the refresh cookie.

POST /api/v1/auth/refresh

Response:
  - 200: TokenResponse (+ new refresh cookie when rotating)
  - 401: MISSING_CREDENTIAL, SESSION_NOT_FOUND
  - 403: SESSION_REVOKED, SESSION_EXPIRED, USER_INACTIVE
  - 404: USER_NOT_FOUND

Every failure clears the refresh cookie.
*/
func (handler *Handler) refresh(writer http.ResponseWriter, request *http.Request) {
	result, err := handler.authService.Refresh(request.Context(), refreshCookie(request), clientInfo(request))
	if err != nil {
		handler.clearRefreshCookie(writer)
		respond.Error(writer, request, err)
		return
	}

	if result.RefreshToken != nil {
		handler.setRefreshCookie(writer, result.RefreshToken.Value)
	}

	respond.OK(writer, handler.tokenResponse(result))
}

/*
Logout terminates the current user session.

POST /api/v1/auth/logout

Response:
  - 200: Message; the cookie is cleared whether or not a session was found
*/
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	handler.authService.Logout(request.Context(), refreshCookie(request))
	handler.clearRefreshCookie(writer)

	respond.OK(writer, map[string]string{
		FieldMessage: "Logged out",
	})
}

// # Cookie Helpers

func (handler *Handler) setRefreshCookie(writer http.ResponseWriter, value string) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    value,
		Path:     constants.RefreshTokenCookiePath,
		MaxAge:   int(handler.cookie.MaxAge.Seconds()),
		Secure:   handler.cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearRefreshCookie emits Max-Age=0 so the browser drops the cookie immediately.
func (handler *Handler) clearRefreshCookie(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    "",
		Path:     constants.RefreshTokenCookiePath,
		MaxAge:   -1,
		Secure:   handler.cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (handler *Handler) tokenResponse(result *AuthResult) TokenResponse {
	return TokenResponse{
		AccessToken: result.AccessToken.Value,
		TokenType:   constants.TokenType,
		ExpiresIn:   int64(handler.authService.AccessTTL().Seconds()),
		User:        result.User,
	}
}

func refreshCookie(request *http.Request) string {
	cookie, err := request.Cookie(constants.RefreshTokenCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func clientInfo(request *http.Request) ClientInfo {
	return ClientInfo{
		UserAgent: request.UserAgent(),
		IPAddress: middleware.RealIP(request),
	}
}
