// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

// # Field Identifiers

// Field names for validation and response mapping in the authentication domain.
const (
	FieldUsername    = "username"
	FieldEmail       = "email"
	FieldPassword    = "password"
	FieldAccessToken = "access_token"
	FieldTokenType   = "token_type"
	FieldExpiresIn   = "expires_in"
	FieldUser        = "user"
	FieldMessage     = "message"
)

// # Credential Constraints

const (
	UsernameMinLength = 3
	UsernameMaxLength = 32
	EmailMaxLength    = 254
	PasswordMinLength = 8

	// PasswordMaxLength is bcrypt's input limit in bytes; longer inputs are rejected
	// rather than silently truncated.
	PasswordMaxLength = 72
)
