// Package auth provides JWT issuing/validation, bcrypt password hashing and
// the bearer-token middleware for the plantdoc API.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. Client registers with POST /register (username, email, password)
//  2. POST /login verifies the bcrypt hash and returns a signed JWT
//     (or an access/refresh pair when AUTH_MODE=pair)
//  3. Client sends "Authorization: Bearer <token>" on /analyze and /history
//  4. RequireAuth validates the token and puts the user id in the context
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<userID>","iss":"plantdoc","typ":"access","exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
//
// The server verifies the signature without any DB lookup, only the secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "plantdoc"

// TokenType separates short-lived access tokens from refresh tokens. A token
// of one type is never accepted where the other is expected.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

var (
	// ErrTokenExpired is returned for a well-formed, correctly signed token
	// whose exp is in the past.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid covers every other rejection: bad signature, wrong
	// issuer, wrong type, malformed input.
	ErrTokenInvalid = errors.New("auth: invalid token")
)

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret used to sign and verify tokens, and the lifetimes
// of both token types. In single-token mode only the access lifetime is used.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenService creates a TokenService.
// Example secret: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// claims is the JWT payload: the registered claims plus our token type.
// "sub" (Subject) carries the internal user ID.
type claims struct {
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// GenerateAccess signs an access token for userID.
func (s *TokenService) GenerateAccess(userID string) (string, error) {
	return s.GenerateWithDuration(userID, TokenAccess, s.accessTTL)
}

// GenerateRefresh signs a refresh token for userID.
func (s *TokenService) GenerateRefresh(userID string) (string, error) {
	return s.GenerateWithDuration(userID, TokenRefresh, s.refreshTTL)
}

// GenerateWithDuration signs a token of the given type with a custom expiry.
// Tests use it with a negative duration to produce expired tokens.
func (s *TokenService) GenerateWithDuration(userID string, typ TokenType, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate verifies an access token and returns the userID it carries.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	return s.validate(tokenStr, TokenAccess)
}

// ValidateRefresh verifies a refresh token and returns the userID it carries.
func (s *TokenService) ValidateRefresh(tokenStr string) (string, error) {
	return s.validate(tokenStr, TokenRefresh)
}

// validate parses and verifies a JWT string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired and has an exp claim at all
//   - Issuer matches "plantdoc"
//   - Algorithm is HS256 (prevents "alg":"none" algorithm confusion)
//
// Then the typ claim must match want.
func (s *TokenService) validate(tokenStr string, want TokenType) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: bad claims", ErrTokenInvalid)
	}
	if c.Type != want {
		return "", fmt.Errorf("%w: got %q token, want %q", ErrTokenInvalid, c.Type, want)
	}
	if c.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrTokenInvalid)
	}

	return c.Subject, nil
}
