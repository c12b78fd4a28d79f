package api

import (
	"net/http"
	"strings"

	"washbook/internal/metrics"
)

type checkEmailRequest struct {
	Email string `json:"email"`
}

type checkEmailResponse struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}

// handleCheckEmail opens a session for an allowlisted email.
// POST /check_email
func (s *HTTPServer) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("check_email")

	var req checkEmailRequest
	if err := readJSON(w, r, &req); err != nil {
		metrics.IncLogin("invalid")
		writeJSON(w, http.StatusBadRequest, checkEmailResponse{Allowed: false, Message: "invalid JSON body"})
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		metrics.IncLogin("invalid")
		writeJSON(w, http.StatusOK, checkEmailResponse{Allowed: false, Message: "email is required"})
		return
	}

	if !s.deps.Allowlist.IsAllowed(email) {
		metrics.IncLogin("denied")
		s.logger.Info().Str("email", email).Msg("Email not on allowlist")
		writeJSON(w, http.StatusOK, checkEmailResponse{Allowed: false, Message: "email not authorized"})
		return
	}

	token, err := s.deps.Sessions.Create(r.Context(), email)
	if err != nil {
		metrics.IncLogin("error")
		s.internalError(w, r, err)
		return
	}

	metrics.IncLogin("allowed")
	s.setCookie(w, token)
	writeJSON(w, http.StatusOK, checkEmailResponse{Allowed: true})
}

// handleLogout drops the session and its cookie.
// POST /logout
func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("logout")

	if cookie, err := r.Cookie(s.opts.CookieName); err == nil && cookie.Value != "" {
		if err := s.deps.Sessions.Delete(r.Context(), cookie.Value); err != nil {
			s.logger.Warn().Err(err).Msg("Session delete failed")
		}
	}
	s.clearCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
