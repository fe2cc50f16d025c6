package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/opensyndicate/syndicate/internal/auth"
	blobmemory "github.com/opensyndicate/syndicate/internal/blob/memory"
	"github.com/opensyndicate/syndicate/internal/broadcast"
	"github.com/opensyndicate/syndicate/internal/config"
	"github.com/opensyndicate/syndicate/internal/docstore"
	docmemory "github.com/opensyndicate/syndicate/internal/docstore/memory"
	"github.com/opensyndicate/syndicate/internal/files"
	"github.com/opensyndicate/syndicate/internal/hash/sha256"
	iduuid "github.com/opensyndicate/syndicate/internal/id/uuid"
	"github.com/opensyndicate/syndicate/internal/platform/rss"
	"github.com/opensyndicate/syndicate/internal/platform/twitter"
)

type stubPoster struct {
	target broadcast.Target
	resp   broadcast.PostResponse
	err    error
	calls  atomic.Int32
}

func (p *stubPoster) Target() broadcast.Target { return p.target }

func (p *stubPoster) CreatePost(_ context.Context, _ broadcast.PostRequest) (broadcast.PostResponse, error) {
	p.calls.Add(1)
	if p.err != nil {
		return broadcast.PostResponse{}, p.err
	}
	return p.resp, nil
}

func okPoster(target broadcast.Target) *stubPoster {
	return &stubPoster{
		target: target,
		resp: broadcast.PostResponse{
			URI: "https://" + string(target) + ".example/status/1",
			ID:  "1",
		},
	}
}

type testEnv struct {
	server *Server
	deps   Deps
	cfg    config.Config
	docs   *docmemory.Store
	feed   *rss.Client
	tokens *twitter.TokenStore
	token  string
}

// newTestEnv builds a server over in-memory stores. Posters default to one
// succeeding stub per platform, with the real feed client covering rss.
func newTestEnv(t *testing.T, posters ...broadcast.Poster) *testEnv {
	t.Helper()

	docs := docmemory.New()
	blobs := blobmemory.New()

	fileSvc := files.NewService(blobs, docs, nil, sha256.New(), files.Config{
		MaxUploadBytes: 1 << 20,
		MaxWidth:       1600,
		MaxHeight:      1600,
	}, zap.NewNop())

	feed, err := rss.New(config.RSSConfig{
		BaseURL:   "http://feeds.example",
		Title:     "Syndicate",
		FeedLimit: 20,
	}, docs, fileSvc, nil, zap.NewNop())
	require.NoError(t, err)

	if len(posters) == 0 {
		posters = []broadcast.Poster{
			okPoster(broadcast.TargetMastodon),
			okPoster(broadcast.TargetBluesky),
			okPoster(broadcast.TargetTwitter),
			feed,
		}
	}
	broadcaster := broadcast.New(posters, nil, nil, nil, iduuid.New(), nil,
		broadcast.Config{MaxContentLength: 1000}, zap.NewNop())

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	mgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       strings.Repeat("s", 32),
		TokenTTLMinutes: 15,
		Issuer:          "syndicate-test",
		Users:           []config.UserConfig{{Username: "ops", PasswordHash: string(hash)}},
	})
	require.NoError(t, err)
	token, err := mgr.Authenticate("ops", "s3cret")
	require.NoError(t, err)

	deps := Deps{
		Broadcaster: broadcaster,
		Files:       fileSvc,
		Feed:        feed,
		Auth:        mgr,
		Tokens:      twitter.NewTokenStore(docs),
		Docs:        docs,
	}
	cfg := config.Config{
		Server: config.ServerConfig{RequestTimeoutSeconds: 5},
		Files:  config.FilesConfig{MaxUploadMB: 1},
	}

	return &testEnv{
		server: NewServer(deps, cfg, zap.NewNop()),
		deps:   deps,
		cfg:    cfg,
		docs:   docs,
		feed:   feed,
		tokens: deps.Tokens,
		token:  token,
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+e.token)
	return req
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
}

func TestServer_Readyz_PingsDocstore(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	deps := env.deps
	deps.Docs = unreachableStore{env.deps.Docs}
	down := NewServer(deps, env.cfg, zap.NewNop())

	rec = httptest.NewRecorder()
	down.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type unreachableStore struct {
	docstore.Store
}

func (unreachableStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

func TestServer_Metrics_Exposed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	// A completed request guarantees the HTTP counters carry samples.
	env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RequestID_Assigned(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = env.do(t, req)
	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_RecoverMiddleware_Returns500(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	h := env.server.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestServer_APIRoutes_RequireAuth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/multiple/post"},
		{http.MethodPost, "/api/mastodon/post"},
		{http.MethodPost, "/api/files/upload"},
		{http.MethodGet, "/api/protected"},
		{http.MethodGet, "/api/twitter/login"},
	} {
		rec := env.do(t, httptest.NewRequest(route.method, route.path, nil))
		require.Equalf(t, http.StatusUnauthorized, rec.Code, "%s %s", route.method, route.path)
	}
}
