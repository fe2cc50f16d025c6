package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/opensyndicate/syndicate/internal/config"
	"github.com/opensyndicate/syndicate/internal/docstore"
)

const (
	// TokenKey addresses the stored OAuth2 user token document.
	TokenKey = "twitter/oauth2-token"
	// TagCredentials marks credential documents so they never leak into
	// content listings.
	TagCredentials = "credentials"
)

// OAuthEndpoint is Twitter's OAuth2 authorization-code endpoint pair.
var OAuthEndpoint = oauth2.Endpoint{
	AuthURL:  "https://twitter.com/i/oauth2/authorize",
	TokenURL: "https://api.twitter.com/2/oauth2/token",
}

// NewOAuthConfig builds the x/oauth2 config for the login/callback routes
// and token refresh. Returns nil when no OAuth2 app is configured.
func NewOAuthConfig(cfg config.TwitterOAuthConfig) *oauth2.Config {
	if !cfg.Configured() {
		return nil
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		Endpoint:     OAuthEndpoint,
	}
}

// TokenStore persists the OAuth2 user token as a document so posting
// survives restarts. The callback route writes it; the client reads and
// refreshes it.
type TokenStore struct {
	docs docstore.Store
}

// NewTokenStore wraps the document store.
func NewTokenStore(docs docstore.Store) *TokenStore {
	return &TokenStore{docs: docs}
}

// Load returns the stored token or docstore.ErrNotFound.
func (s *TokenStore) Load(ctx context.Context) (*oauth2.Token, error) {
	doc, err := s.docs.GetByKey(ctx, TokenKey)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(doc.Value, &tok); err != nil {
		return nil, fmt.Errorf("decode stored token: %w", err)
	}
	return &tok, nil
}

// Save stores the token, replacing any previous one in place.
func (s *TokenStore) Save(ctx context.Context, tok *oauth2.Token) error {
	value, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	existing, err := s.docs.GetByKey(ctx, TokenKey)
	switch {
	case err == nil:
		existing.Value = value
		existing.Tags = []string{TagCredentials}
		return s.docs.Update(ctx, &existing)
	case errors.Is(err, docstore.ErrNotFound):
		doc := docstore.Document{Key: TokenKey, Value: value, Tags: []string{TagCredentials}}
		return s.docs.Put(ctx, &doc)
	default:
		return err
	}
}
