package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// contextKey is an unexported type used for context keys in this package.
//
// context.WithValue uses any as the key type. A package-private key type means
// only this package can read or write the user id stored under it.
type contextKey string

const userIDKey contextKey = "userID"

// Messages returned in the 401 body. Clients match on them to decide whether
// to refresh or to send the user back to the login screen.
const (
	MsgNoToken      = "No token provided"
	MsgTokenExpired = "Token expired"
	MsgInvalidToken = "Invalid token"
)

// RequireAuth is a middleware that enforces authentication on protected routes.
//
// It reads the token from the Authorization header, accepting both
// "Bearer <token>" and the bare token, validates it, and stores the userID in
// the request context. Otherwise it answers 401 and stops the chain.
//
// MIDDLEWARE PATTERN IN GO:
//
//	func Middleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // ... before ...
//	        next.ServeHTTP(w, r)
//	        // ... after ...
//	    })
//	}
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := TokenFromHeader(r.Header.Get("Authorization"))
			if raw == "" {
				writeUnauthorized(w, MsgNoToken)
				return
			}

			userID, err := tokens.Validate(raw)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					writeUnauthorized(w, MsgTokenExpired)
					return
				}
				writeUnauthorized(w, MsgInvalidToken)
				return
			}

			ctx := WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromHeader extracts the token from an Authorization header value.
// The "Bearer" scheme is optional and matched case-insensitively.
func TokenFromHeader(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		header = header[7:]
	}
	return strings.TrimSpace(header)
}

// WithUserID returns a copy of ctx carrying userID. Handler tests use it to
// skip the middleware.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the authenticated user's ID from the request context.
//
// Returns ("", false) when no authenticated user is present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
