// Package service holds the business logic between the HTTP handlers and the
// repositories/upstream clients:
//
//	handler (HTTP) → service (rules) → repository (DB)
//	                                 ↘ upstream (classifier, recommender)
//
// Services never touch http.Request or status codes; they return apperror
// values and handler.writeError maps them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/plantdoc/internal/apperror"
	"github.com/sakif/plantdoc/internal/auth"
	"github.com/sakif/plantdoc/internal/model"
	"github.com/sakif/plantdoc/internal/repository"
)

// msgBadCredentials is used for both unknown email and wrong password so a
// caller cannot probe which emails are registered.
const msgBadCredentials = "Invalid email or password"

// AuthService handles registration, login and token refresh.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	pairMode  bool
	logger    *slog.Logger
}

// NewAuthService wires the auth dependencies. pairMode selects access/refresh
// token pairs instead of a single token at login.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	pairMode bool,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		pairMode:  pairMode,
		logger:    logger,
	}
}

// RegisterInput carries the POST /register body.
type RegisterInput struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// LoginInput carries the POST /login body.
type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResult holds either Token (single mode) or AccessToken/RefreshToken
// (pair mode). The JSON tags produce exactly the body clients expect.
type LoginResult struct {
	Token        string `json:"token,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// PairMode reports whether logins issue access/refresh pairs.
func (s *AuthService) PairMode() bool {
	return s.pairMode
}

// Register creates an account. No token is issued; the client logs in next.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	// validator's max counts runes; bcrypt's limit is in bytes.
	if len(in.Password) > auth.MaxPasswordBytes {
		return nil, apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at most %d bytes", auth.MaxPasswordBytes))
	}

	// Fast path for the common case; the UNIQUE constraint still catches
	// a concurrent registration that slips past this check.
	if _, err := s.users.GetUserByEmail(ctx, in.Email); err == nil {
		return nil, apperror.Conflict("Email in use")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: checking email: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Login verifies credentials and issues tokens.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(msgBadCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized(msgBadCredentials)
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	res := &LoginResult{}
	if s.pairMode {
		if res.AccessToken, err = s.tokens.GenerateAccess(user.ID); err != nil {
			return nil, fmt.Errorf("service/auth: %w", err)
		}
		if res.RefreshToken, err = s.tokens.GenerateRefresh(user.ID); err != nil {
			return nil, fmt.Errorf("service/auth: %w", err)
		}
	} else {
		if res.Token, err = s.tokens.GenerateAccess(user.ID); err != nil {
			return nil, fmt.Errorf("service/auth: %w", err)
		}
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return res, nil
}

// Refresh exchanges a valid refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if !s.pairMode {
		return "", apperror.NotFound("route", "/refresh")
	}
	if strings.TrimSpace(refreshToken) == "" {
		return "", apperror.Unauthorized(auth.MsgNoToken)
	}

	userID, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return "", apperror.Unauthorized(auth.MsgTokenExpired)
		}
		return "", apperror.Unauthorized(auth.MsgInvalidToken)
	}

	// A refresh token outlives its user if the account is removed.
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", apperror.Unauthorized(auth.MsgInvalidToken)
		}
		return "", fmt.Errorf("service/auth: looking up user %s: %w", userID, err)
	}

	access, err := s.tokens.GenerateAccess(userID)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	return access, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
