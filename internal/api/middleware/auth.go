package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const operatorKey contextKey = "operator"

// Operator is the authenticated caller of the control API.
type Operator struct {
	ID       int64
	Username string
}

// RequireAuth returns middleware that validates HS256 bearer tokens. With
// an empty secret authentication is disabled and every request passes.
// The token may also be given as the access_token query parameter, which
// browsers need for WebSocket upgrades.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(secret) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			claims, err := ParseToken(secret, tokenString)
			if err != nil {
				slog.Debug("api auth: rejected token", "error", err, "path", r.URL.Path)
				writeAuthError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, &Operator{
				ID:       claims.OperatorID,
				Username: claims.Username,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t, true
	}
	return "", false
}

// OperatorFromContext returns the authenticated operator, or nil when
// authentication is disabled.
func OperatorFromContext(ctx context.Context) *Operator {
	op, _ := ctx.Value(operatorKey).(*Operator)
	return op
}

// authEnvelope matches the api package's envelope format for error responses.
type authEnvelope struct {
	Error string `json:"error,omitempty"`
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(authEnvelope{Error: msg}) //nolint:errcheck
}
