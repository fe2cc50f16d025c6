package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/opensyndicate/syndicate/internal/docstore"
)

const (
	// stateKeyPrefix namespaces pending authorization states in the
	// document store.
	stateKeyPrefix = "twitter/oauth-state/"
	// tagOAuthState marks those documents for inspection and cleanup.
	tagOAuthState = "oauth-state"
)

// oauthState is the stored half of the PKCE exchange. The verifier never
// leaves the server; only its S256 challenge travels to the authorization
// page.
type oauthState struct {
	Verifier string `json:"verifier"`
}

// twitterLogin handles GET /api/twitter/login: it parks a one-shot state with
// its PKCE verifier and redirects the operator to the authorization page.
func (s *Server) twitterLogin(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		s.writeError(w, http.StatusBadRequest, "twitter oauth2 app is not configured")
		return
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	value, err := json.Marshal(oauthState{Verifier: verifier})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "encode oauth state failed")
		return
	}
	doc := docstore.Document{
		Key:   stateKeyPrefix + state,
		Value: value,
		Tags:  []string{tagOAuthState},
	}
	if err := s.docs.Put(r.Context(), &doc); err != nil {
		s.logger.Error("store oauth state failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "store oauth state failed")
		return
	}

	authURL := s.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// twitterCallback handles GET /api/twitter/callback: it validates the state,
// exchanges the code, and persists the user token for the posting client.
func (s *Server) twitterCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil || s.tokens == nil {
		s.writeError(w, http.StatusBadRequest, "twitter oauth2 app is not configured")
		return
	}

	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("authorization refused: %s", denied))
		return
	}
	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		s.writeError(w, http.StatusBadRequest, "state and code are required")
		return
	}

	verifier, err := s.consumeState(r.Context(), state)
	if err != nil {
		s.logger.Warn("oauth state rejected", zap.Error(err))
		s.writeError(w, http.StatusBadRequest, "unknown or expired state")
		return
	}

	tok, err := s.oauth.Exchange(r.Context(), code, oauth2.VerifierOption(verifier))
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			s.logger.Warn("token exchange rejected",
				zap.Int("status", rerr.Response.StatusCode),
				zap.ByteString("body", rerr.Body),
			)
		} else {
			s.logger.Error("token exchange failed", zap.Error(err))
		}
		s.writeError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	if err := s.tokens.Save(r.Context(), tok); err != nil {
		s.logger.Error("persist twitter token failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "persist token failed")
		return
	}

	s.logger.Info("twitter authorization stored", zap.Time("token_expiry", tok.Expiry))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}

// consumeState loads and deletes the pending state in one step so a replayed
// callback cannot exchange twice.
func (s *Server) consumeState(ctx context.Context, state string) (string, error) {
	doc, err := s.docs.GetByKey(ctx, stateKeyPrefix+state)
	if err != nil {
		return "", fmt.Errorf("load state: %w", err)
	}
	if err := s.docs.Delete(ctx, doc.ID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return "", fmt.Errorf("consume state: %w", err)
	}
	if time.Since(doc.CreatedAt) > s.stateTTL {
		return "", fmt.Errorf("state issued %s ago", time.Since(doc.CreatedAt).Round(time.Second))
	}
	var st oauthState
	if err := json.Unmarshal(doc.Value, &st); err != nil {
		return "", fmt.Errorf("decode state: %w", err)
	}
	if st.Verifier == "" {
		return "", fmt.Errorf("state has no verifier")
	}
	return st.Verifier, nil
}
