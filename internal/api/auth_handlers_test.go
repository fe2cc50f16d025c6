package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServer_Login_IssuesToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"ops","password":"s3cret"}`))
	rec := env.do(t, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	require.True(t, resp.ExpiresAt.After(time.Now()))

	// The fresh token must pass the guard.
	pr := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
	pr.Header.Set("Authorization", "Bearer "+resp.Token)
	prec := env.do(t, pr)
	require.Equal(t, http.StatusOK, prec.Code)
	require.Contains(t, prec.Body.String(), `"subject":"ops"`)
}

func TestServer_Login_RejectsBadPassword(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for _, body := range []string{
		`{"username":"ops","password":"wrong"}`,
		`{"username":"nobody","password":"s3cret"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
		rec := env.do(t, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid username or password")
	}
}

func TestServer_Login_InvalidJSON(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username"`))
	rec := env.do(t, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Protected_RejectsGarbageToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := env.do(t, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, `Bearer realm="syndicate"`, rec.Header().Get("WWW-Authenticate"))
}
