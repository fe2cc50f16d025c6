package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/opensyndicate/syndicate/internal/docstore"
)

// tokenEndpoint fakes the twitter token endpoint and records the exchange
// form it received.
type tokenEndpoint struct {
	srv *httptest.Server

	mu   sync.Mutex
	form url.Values
}

func newTokenEndpoint(t *testing.T) *tokenEndpoint {
	t.Helper()
	te := &tokenEndpoint{}
	te.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		te.mu.Lock()
		te.form = r.PostForm
		te.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-123","token_type":"bearer","refresh_token":"rt-456","expires_in":7200}`)
	}))
	t.Cleanup(te.srv.Close)
	return te
}

func (te *tokenEndpoint) lastForm() url.Values {
	te.mu.Lock()
	defer te.mu.Unlock()
	return te.form
}

func newOAuthEnv(t *testing.T, tokenURL string) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	deps := env.deps
	deps.OAuth = &oauth2.Config{
		ClientID:    "client-id",
		RedirectURL: "http://app.example/api/twitter/callback",
		Scopes:      []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://twitter.example/i/oauth2/authorize",
			TokenURL: tokenURL,
		},
	}
	env.deps = deps
	env.server = NewServer(deps, env.cfg, zap.NewNop())
	return env
}

// startLogin walks the redirect leg and returns the state parked for it.
func startLogin(t *testing.T, env *testEnv) string {
	t.Helper()
	rec := env.do(t, env.authed(httptest.NewRequest(http.MethodGet, "/api/twitter/login", nil)))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	q := loc.Query()
	require.NotEmpty(t, q.Get("state"))
	return q.Get("state")
}

func TestServer_TwitterLogin_RedirectsWithChallenge(t *testing.T) {
	t.Parallel()

	env := newOAuthEnv(t, "https://twitter.example/2/oauth2/token")
	rec := env.do(t, env.authed(httptest.NewRequest(http.MethodGet, "/api/twitter/login", nil)))

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "twitter.example", loc.Host)

	q := loc.Query()
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "client-id", q.Get("client_id"))
	require.NotEmpty(t, q.Get("state"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))

	// The verifier is parked server-side under the state.
	docs, err := env.docs.List(context.Background(), docstore.Query{Tags: []string{"oauth-state"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "twitter/oauth-state/"+q.Get("state"), docs[0].Key)
}

func TestServer_TwitterCallback_StoresToken(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint(t)
	env := newOAuthEnv(t, te.srv.URL+"/token")
	state := startLogin(t, env)

	rec := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/twitter/callback?state="+state+"&code=code-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"authorized"`)

	form := te.lastForm()
	require.Equal(t, "authorization_code", form.Get("grant_type"))
	require.Equal(t, "code-1", form.Get("code"))
	require.NotEmpty(t, form.Get("code_verifier"))

	tok, err := env.tokens.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "at-123", tok.AccessToken)
	require.Equal(t, "rt-456", tok.RefreshToken)

	// The state is consumed.
	docs, err := env.docs.List(context.Background(), docstore.Query{Tags: []string{"oauth-state"}})
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestServer_TwitterCallback_RejectsReplay(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint(t)
	env := newOAuthEnv(t, te.srv.URL+"/token")
	state := startLogin(t, env)

	path := "/api/twitter/callback?state=" + state + "&code=code-1"
	first := env.do(t, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, first.Code)

	second := env.do(t, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusBadRequest, second.Code)
	require.Contains(t, second.Body.String(), "unknown or expired state")
}

func TestServer_TwitterCallback_RejectsUnknownState(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint(t)
	env := newOAuthEnv(t, te.srv.URL+"/token")

	rec := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/twitter/callback?state=never-issued&code=code-1", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown or expired state")
}

func TestServer_TwitterCallback_RejectsExpiredState(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint(t)
	env := newOAuthEnv(t, te.srv.URL+"/token")
	env.server.stateTTL = -time.Second

	state := startLogin(t, env)
	rec := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/twitter/callback?state="+state+"&code=code-1", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown or expired state")
}

func TestServer_TwitterCallback_RefusedAuthorization(t *testing.T) {
	t.Parallel()

	te := newTokenEndpoint(t)
	env := newOAuthEnv(t, te.srv.URL+"/token")

	rec := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/twitter/callback?error=access_denied", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "authorization refused: access_denied")
}

func TestServer_TwitterCallback_ExchangeFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client"}`)
	}))
	t.Cleanup(srv.Close)

	env := newOAuthEnv(t, srv.URL+"/token")
	state := startLogin(t, env)

	rec := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/twitter/callback?state="+state+"&code=code-1", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "token exchange failed")
}

func TestServer_TwitterOAuth_NotConfigured(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	login := env.do(t, env.authed(httptest.NewRequest(http.MethodGet, "/api/twitter/login", nil)))
	require.Equal(t, http.StatusBadRequest, login.Code)

	callback := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/twitter/callback?state=x&code=y", nil))
	require.Equal(t, http.StatusBadRequest, callback.Code)
	require.Contains(t, callback.Body.String(), "not configured")
}
