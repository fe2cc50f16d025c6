package twitter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/opensyndicate/syndicate/internal/docstore"
	"github.com/opensyndicate/syndicate/internal/docstore/memory"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	docs := memory.New()
	store := NewTokenStore(docs)

	_, err := store.Load(ctx)
	require.ErrorIs(t, err, docstore.ErrNotFound)

	first := &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "bearer",
		Expiry:       time.Now().Add(2 * time.Hour).UTC(),
	}
	require.NoError(t, store.Save(ctx, first))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-1", got.AccessToken)
	require.Equal(t, "refresh-1", got.RefreshToken)

	second := &oauth2.Token{AccessToken: "access-2", RefreshToken: "refresh-2", TokenType: "bearer"}
	require.NoError(t, store.Save(ctx, second))

	got, err = store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-2", got.AccessToken)

	docsList, err := docs.List(ctx, docstore.Query{Tags: []string{TagCredentials}})
	require.NoError(t, err)
	require.Len(t, docsList, 1, "saving replaces the token in place")
}

func TestNewOAuthConfig(t *testing.T) {
	t.Parallel()

	require.Nil(t, NewOAuthConfig(configOAuth("", "")))

	cfg := NewOAuthConfig(configOAuth("client-id", "https://svc.example/api/twitter/callback"))
	require.NotNil(t, cfg)
	require.Equal(t, "client-id", cfg.ClientID)
	require.Equal(t, OAuthEndpoint.AuthURL, cfg.Endpoint.AuthURL)
}

func TestTokenStoreCorruptValue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	docs := memory.New()
	doc := docstore.Document{Key: TokenKey, Value: []byte("not json"), Tags: []string{TagCredentials}}
	require.NoError(t, docs.Put(ctx, &doc))

	_, err := NewTokenStore(docs).Load(ctx)
	require.Error(t, err)
	require.False(t, errors.Is(err, docstore.ErrNotFound))
}
