package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/flowpbx/telephony/internal/api/middleware"
	"github.com/flowpbx/telephony/internal/database"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

// handleLogin exchanges operator credentials for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if len(s.jwtSecret) == 0 || s.operators == nil {
		writeError(w, http.StatusNotFound, "authentication is not enabled")
		return
	}

	var req loginRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := firstError(
		validateRequiredStringLen("username", req.Username, 64),
		validateRequiredStringLen("password", req.Password, 256),
	); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	op, err := s.operators.GetByUsername(r.Context(), req.Username)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("failed to look up operator", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	ok, err := database.CheckPassword(req.Password, op.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash is unreadable", "username", op.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		s.logger.Warn("operator login failed", "username", req.Username, "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := middleware.GenerateToken(s.jwtSecret, op.ID, op.Username)
	if err != nil {
		s.logger.Error("failed to sign token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("operator logged in", "username", op.Username)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt, Username: op.Username})
}
