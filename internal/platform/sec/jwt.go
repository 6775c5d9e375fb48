// Copyright (c) 2026 Kotoba. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package sec provides cryptographic primitives and token management.
//
// # Architecture
//
// This package isolates security-sensitive code (Hashing, JWT Signing) from
// the domain logic. It acts as an Infrastructure service injected into the
// auth service via the [auth.TokenIssuer] interface.
package sec

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taibuivan/kotoba/pkg/uuid"
)

// # Claims

// TokenUse distinguishes access tokens from refresh tokens signed with the same key.
type TokenUse string

const (
	UseAccess  TokenUse = "access"
	UseRefresh TokenUse = "refresh"
)

// AuthClaims represents the payload embedded inside access and refresh tokens.
//
// Access tokens carry {uid, rol, exp}; refresh tokens add the session family.
// Every token also carries a unique jti so two tokens minted within the same
// second still hash to different session keys.
type AuthClaims struct {
	jwt.RegisteredClaims

	UserID string   `json:"uid"`
	Role   UserRole `json:"rol"`
	Family string   `json:"fam,omitempty"`
	Use    TokenUse `json:"use"`
}

// # Errors

var (
	// ErrTokenInvalid covers bad signatures, malformed input and wrong token use.
	ErrTokenInvalid = errors.New("sec: invalid token")

	// ErrTokenExpired is returned for well-formed tokens past their exp claim.
	ErrTokenExpired = errors.New("sec: token expired")
)

// # Token Service

// TokenConfig holds the signing material and lifetimes for a [TokenService].
type TokenConfig struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// SignedToken is a freshly minted token together with its identity and expiry.
type SignedToken struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// TokenService handles generation and verification of JWT tokens using RS256.
type TokenService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	parser        *jwt.Parser
	refreshParser *jwt.Parser
}

// NewTokenService validates cfg and builds a [TokenService].
//
// Misconfiguration is reported here, once, so that signing never fails per call
// for configuration reasons.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.PrivateKey == nil || cfg.PublicKey == nil {
		return nil, errors.New("sec: signing key pair is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("sec: token lifetimes must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenService{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithTimeFunc(cfg.Now),
			jwt.WithExpirationRequired(),
		),
		refreshParser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// LoadRSAKeys reads a PEM-encoded RSA key pair from the filesystem.
func LoadRSAKeys(privateKeyPath, publicKeyPath string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privateKeyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("sec: failed to read private key from %s: %w", privateKeyPath, err)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyData)
	if err != nil {
		return nil, nil, fmt.Errorf("sec: failed to parse private key: %w", err)
	}

	publicKeyData, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("sec: failed to read public key from %s: %w", publicKeyPath, err)
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyData)
	if err != nil {
		return nil, nil, fmt.Errorf("sec: failed to parse public key: %w", err)
	}

	return privateKey, publicKey, nil
}

// AccessTTL returns the configured access-token lifetime.
func (service *TokenService) AccessTTL() time.Duration { return service.accessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (service *TokenService) RefreshTTL() time.Duration { return service.refreshTTL }

// IssueAccessToken signs a short-lived access token for the user.
func (service *TokenService) IssueAccessToken(userID string, role UserRole) (SignedToken, error) {
	return service.sign(AuthClaims{UserID: userID, Role: role, Use: UseAccess}, service.accessTTL)
}

// IssueRefreshToken signs a long-lived refresh token bound to a session family.
func (service *TokenService) IssueRefreshToken(userID string, role UserRole, family string) (SignedToken, error) {
	return service.sign(AuthClaims{UserID: userID, Role: role, Family: family, Use: UseRefresh}, service.refreshTTL)
}

// VerifyAccessToken checks signature, issuer, expiry and token use.
func (service *TokenService) VerifyAccessToken(tokenString string) (*AuthClaims, error) {
	claims := &AuthClaims{}
	if _, err := service.parser.ParseWithClaims(tokenString, claims, service.keyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.Use != UseAccess {
		return nil, fmt.Errorf("%w: unexpected token use %q", ErrTokenInvalid, claims.Use)
	}

	return claims, nil
}

// VerifyRefreshToken checks the signature and token use of a refresh token.
//
// Expiry is deliberately not enforced here: the session row is the authority on
// expiry and revocation, so an expired but authentic token still reaches it.
func (service *TokenService) VerifyRefreshToken(tokenString string) (*AuthClaims, error) {
	claims := &AuthClaims{}
	if _, err := service.refreshParser.ParseWithClaims(tokenString, claims, service.keyFunc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.Use != UseRefresh || claims.Issuer != service.issuer {
		return nil, fmt.Errorf("%w: not a refresh token", ErrTokenInvalid)
	}

	return claims, nil
}

// sign fills the registered claims and signs with the private key.
func (service *TokenService) sign(claims AuthClaims, timeToLive time.Duration) (SignedToken, error) {
	currentTime := service.now()
	expiresAt := currentTime.Add(timeToLive)
	tokenID := uuid.New()

	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        tokenID,
		Subject:   claims.UserID,
		Issuer:    service.issuer,
		IssuedAt:  jwt.NewNumericDate(currentTime),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(service.privateKey)
	if err != nil {
		return SignedToken{}, fmt.Errorf("sec: failed to sign token: %w", err)
	}

	return SignedToken{Value: signedToken, ID: tokenID, ExpiresAt: expiresAt}, nil
}

func (service *TokenService) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return service.publicKey, nil
}
