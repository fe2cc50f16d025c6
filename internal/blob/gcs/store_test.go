package gcs_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/opensyndicate/syndicate/internal/blob"
	"github.com/opensyndicate/syndicate/internal/blob/gcs"
)

// newTestStore creates a Store whose client talks to a test server standing
// in for the GCS JSON/XML APIs.
func newTestStore(t *testing.T, cfg gcs.Config, handler http.Handler) *gcs.Store {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gstorage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestNew(t *testing.T) {
	t.Run("MissingClient", func(t *testing.T) {
		_, err := gcs.New(nil, gcs.Config{Bucket: "media"})
		assert.Error(t, err)
	})

	t.Run("MissingBucket", func(t *testing.T) {
		client := &gstorage.Client{}
		_, err := gcs.New(client, gcs.Config{})
		assert.Error(t, err)
	})
}

func TestPut(t *testing.T) {
	objectData := []byte("png-bytes")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		assert.Equal(t, "media/files/abc123", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), string(objectData))
		assert.Contains(t, string(body), "image/png")

		fmt.Fprintln(w, `{"name": "media/files/abc123", "bucket": "test-bucket"}`)
	})

	store := newTestStore(t, gcs.Config{Bucket: "test-bucket", Prefix: "/media/"}, handler)

	uri, err := store.Put(context.Background(), "files/abc123", "image/png", bytes.NewReader(objectData))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/media/files/abc123", uri)
}

func TestPut_ServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store := newTestStore(t, gcs.Config{Bucket: "test-bucket"}, handler)

	_, err := store.Put(context.Background(), "files/abc123", "image/png", strings.NewReader("data"))
	assert.Error(t, err)
}

func TestPut_EmptyKey(t *testing.T) {
	handler := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL)
	})

	store := newTestStore(t, gcs.Config{Bucket: "test-bucket"}, handler)

	_, err := store.Put(context.Background(), "  ", "image/png", strings.NewReader("data"))
	assert.Error(t, err)
}

func TestGet(t *testing.T) {
	objectData := []byte("stored-bytes")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "test-bucket")
		assert.Contains(t, r.URL.Path, "abc123")
		_, _ = w.Write(objectData)
	})

	store := newTestStore(t, gcs.Config{Bucket: "test-bucket"}, handler)

	data, err := store.Get(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, objectData, data)
}

func TestGet_NotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	store := newTestStore(t, gcs.Config{Bucket: "test-bucket"}, handler)

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, blob.ErrNotFound))
}

func TestExists(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.URL.Path, "/storage/v1/b/test-bucket/o/")
			fmt.Fprintln(w, `{"name": "abc123", "bucket": "test-bucket"}`)
		})

		store := newTestStore(t, gcs.Config{Bucket: "test-bucket"}, handler)

		ok, err := store.Exists(context.Background(), "abc123")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Missing", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		store := newTestStore(t, gcs.Config{Bucket: "test-bucket"}, handler)

		ok, err := store.Exists(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
