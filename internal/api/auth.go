package api

import (
	"errors"
	"net/http"
	"time"

	"hotelcctv/internal/auth"
	"hotelcctv/internal/middleware"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, expiresAt, err := s.auth.Authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrAuthDisabled):
		writeError(w, http.StatusUnauthorized, "Authentication is disabled")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"enabled":       s.auth.IsEnabled(),
		"authenticated": false,
	}
	if claims := middleware.GetUserFromContext(r.Context()); claims != nil {
		resp["authenticated"] = true
		resp["username"] = claims.Username
	}
	writeJSON(w, http.StatusOK, resp)
}
