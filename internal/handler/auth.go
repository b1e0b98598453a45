// Package handler contains the HTTP handlers of the plantdoc API.
//
// Handlers are glue: they parse the request, call one service method, and
// write the response through writeJSON/writeError. Business rules live in
// the service package.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/plantdoc/internal/model"
	"github.com/sakif/plantdoc/internal/service"
)

// Authenticator is the part of service.AuthService the handlers use.
type Authenticator interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.User, error)
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// AuthHandler serves /register, /login and /refresh.
type AuthHandler struct {
	auth   Authenticator
	logger *slog.Logger
}

func NewAuthHandler(auth Authenticator, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// HandleRegister creates an account.
//
// HTTP: POST /register {username, email, password} → 201 {message}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if _, err := h.auth.Register(r.Context(), in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "Registered"})
}

// HandleLogin verifies credentials.
//
// HTTP: POST /login {email, password} → 200 {token} | {accessToken, refreshToken}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.Login(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// HandleRefresh issues a new access token. Mounted only in pair mode.
//
// HTTP: POST /refresh {refreshToken} → 200 {accessToken}
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	access, err := h.auth.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"accessToken": access})
}
