package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/opensyndicate/syndicate/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// login handles POST /api/login, exchanging static credentials for a bearer
// token.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	token, err := s.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		// The reason is never detailed; unknown user and wrong password
		// must be indistinguishable.
		s.writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	s.writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(s.auth.TTL()),
	})
}

// protected handles GET /api/protected, echoing the authenticated subject.
func (s *Server) protected(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"subject": claims.Subject})
}
