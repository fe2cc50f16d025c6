package mastodon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opensyndicate/syndicate/internal/broadcast"
	"github.com/opensyndicate/syndicate/internal/config"
	"github.com/opensyndicate/syndicate/internal/files"
)

type stubImages struct {
	images map[string]broadcast.Image
}

func (s stubImages) Image(_ context.Context, id string) (broadcast.Image, error) {
	img, ok := s.images[id]
	if !ok {
		return broadcast.Image{}, fmt.Errorf("file %s: %w", id, files.ErrNotFound)
	}
	return img, nil
}

func testClient(t *testing.T, server string, pollRetries int, images broadcast.ImageSource) *Client {
	t.Helper()
	c, err := New(config.MastodonConfig{
		Enabled:          true,
		Server:           server,
		AccessToken:      "test-token",
		Visibility:       "public",
		TimeoutSeconds:   5,
		MediaPollMs:      1,
		MediaPollRetries: pollRetries,
	}, images, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewMissingCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(config.MastodonConfig{Server: "https://mastodon.example"}, nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "access_token")
}

func TestCreatePostComposesStatus(t *testing.T) {
	t.Parallel()

	var gotStatus, gotVisibility, gotLanguage string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/statuses", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotStatus = r.FormValue("status")
		gotVisibility = r.FormValue("visibility")
		gotLanguage = r.FormValue("language")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"9","uri":"tag:mastodon.example,2026:9","url":"https://mastodon.example/@me/9"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(t, srv.URL, 30, nil)
	resp, err := c.CreatePost(context.Background(), broadcast.PostRequest{
		Content:  "hello fediverse",
		Link:     "https://example.com/article",
		Language: "en",
	})
	require.NoError(t, err)
	require.Equal(t, "hello fediverse\n\nhttps://example.com/article", gotStatus)
	require.Equal(t, "public", gotVisibility)
	require.Equal(t, "en", gotLanguage)
	require.Equal(t, "9", resp.ID)
	require.Equal(t, "https://mastodon.example/@me/9", resp.URI)
}

func TestCreatePostUploadsMedia(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	var gotDescription, gotAuth string
	var gotMediaIDs []string

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/media", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotDescription = r.FormValue("description")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"id":"42"}`)
	})
	mux.HandleFunc("/api/v1/media/42", func(w http.ResponseWriter, _ *http.Request) {
		// Five not-ready answers, then done on the sixth poll.
		if polls.Add(1) <= 5 {
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{}`)
			return
		}
		fmt.Fprint(w, `{"id":"42","url":"https://files.mastodon.example/42.png"}`)
	})
	mux.HandleFunc("/api/v1/statuses", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotMediaIDs = r.Form["media_ids[]"]
		fmt.Fprint(w, `{"id":"10","url":"https://mastodon.example/@me/10"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	source := stubImages{images: map[string]broadcast.Image{
		"img-1": {Name: "cat.png", ContentType: "image/png", Alt: "a cat", Data: []byte("png-bytes")},
	}}
	c := testClient(t, srv.URL, 30, source)

	resp, err := c.CreatePost(context.Background(), broadcast.PostRequest{
		Content: "with media",
		Images:  []string{"img-1"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 6, polls.Load(), "five processing answers plus the final one")
	require.Equal(t, "a cat", gotDescription)
	require.Equal(t, "Bearer test-token", gotAuth)
	require.Equal(t, []string{"42"}, gotMediaIDs)
	require.Equal(t, "10", resp.ID)
}

func TestCreatePostPollExhausted(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/media", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"id":"42"}`)
	})
	mux.HandleFunc("/api/v1/media/42", func(w http.ResponseWriter, _ *http.Request) {
		polls.Add(1)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	source := stubImages{images: map[string]broadcast.Image{
		"img-1": {Name: "cat.png", Data: []byte("png")},
	}}
	c := testClient(t, srv.URL, 3, source)

	_, err := c.CreatePost(context.Background(), broadcast.PostRequest{
		Content: "with media",
		Images:  []string{"img-1"},
	})
	var re *broadcast.RequestError
	require.ErrorAs(t, err, &re)
	require.EqualValues(t, 3, polls.Load())
	require.Contains(t, re.Message, "not ready after 3 polls")
	require.Equal(t, http.StatusBadGateway, re.StatusCode(), "a 202 is no usable error status")
}

func TestCreatePostUploadRejected(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/media", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	source := stubImages{images: map[string]broadcast.Image{
		"img-1": {Name: "cat.png", Data: []byte("png")},
	}}
	c := testClient(t, srv.URL, 3, source)

	_, err := c.CreatePost(context.Background(), broadcast.PostRequest{
		Content: "with media",
		Images:  []string{"img-1"},
	})
	var re *broadcast.RequestError
	require.ErrorAs(t, err, &re)
	require.Equal(t, http.StatusRequestEntityTooLarge, re.Status)
	require.Contains(t, re.Body, "file too large")
}

func TestCreatePostStatusRejected(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/statuses", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"Validation failed"}`, http.StatusUnprocessableEntity)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(t, srv.URL, 3, nil)
	_, err := c.CreatePost(context.Background(), broadcast.PostRequest{Content: "nope"})
	var re *broadcast.RequestError
	require.ErrorAs(t, err, &re)
	require.Contains(t, re.Message, "post status")
	require.Equal(t, http.StatusBadGateway, re.StatusCode(), "the SDK hides the upstream status")
}

func TestCreatePostUnknownImage(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 3, stubImages{})
	_, err := c.CreatePost(context.Background(), broadcast.PostRequest{
		Content: "with media",
		Images:  []string{"ghost"},
	})
	var ve *broadcast.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Zero(t, hits.Load(), "unknown attachments fail before any network call")
}
