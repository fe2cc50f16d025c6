// Package mastodon posts statuses to a Mastodon instance. Status creation
// goes through the go-mastodon SDK; media upload talks to the v2 endpoint
// directly because asynchronous processing is signaled by the HTTP status
// code, which the SDK does not expose.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	mastodonapi "github.com/mattn/go-mastodon"
	"go.uber.org/zap"

	"github.com/opensyndicate/syndicate/internal/broadcast"
	"github.com/opensyndicate/syndicate/internal/config"
	"github.com/opensyndicate/syndicate/internal/platform"
)

const (
	defaultVisibility   = "public"
	defaultPollInterval = 200 * time.Millisecond
	defaultPollRetries  = 30
)

// Client posts to one Mastodon server on behalf of one account.
type Client struct {
	api          *mastodonapi.Client
	server       string
	token        string
	visibility   string
	pollInterval time.Duration
	pollRetries  int
	images       broadcast.ImageSource
	logger       *zap.Logger
}

// New builds a Mastodon client from validated credentials. The caller is
// expected to register the disabled variant instead when credentials are
// missing.
func New(cfg config.MastodonConfig, images broadcast.ImageSource, logger *zap.Logger) (*Client, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("mastodon config incomplete: %s", strings.Join(missing, ", "))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api := mastodonapi.NewClient(&mastodonapi.Config{
		Server:       cfg.Server,
		AccessToken:  cfg.AccessToken,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})
	if cfg.TimeoutSeconds > 0 {
		api.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	c := &Client{
		api:          api,
		server:       strings.TrimRight(cfg.Server, "/"),
		token:        cfg.AccessToken,
		visibility:   cfg.Visibility,
		pollInterval: time.Duration(cfg.MediaPollMs) * time.Millisecond,
		pollRetries:  cfg.MediaPollRetries,
		images:       images,
		logger:       logger,
	}
	if c.visibility == "" {
		c.visibility = defaultVisibility
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.pollRetries <= 0 {
		c.pollRetries = defaultPollRetries
	}
	return c, nil
}

// Target names the platform.
func (c *Client) Target() broadcast.Target { return broadcast.TargetMastodon }

// CreatePost uploads the referenced images one by one, then publishes the
// status with their media IDs attached.
func (c *Client) CreatePost(ctx context.Context, req broadcast.PostRequest) (broadcast.PostResponse, error) {
	images, err := platform.ResolveImages(ctx, broadcast.TargetMastodon, c.images, req.Images)
	if err != nil {
		return broadcast.PostResponse{}, err
	}

	mediaIDs := make([]mastodonapi.ID, 0, len(images))
	for _, img := range images {
		id, err := c.uploadMedia(ctx, img)
		if err != nil {
			return broadcast.PostResponse{}, err
		}
		mediaIDs = append(mediaIDs, mastodonapi.ID(id))
	}

	status, err := c.api.PostStatus(ctx, &mastodonapi.Toot{
		Status:     platform.ComposeStatus(req.Content, req.Link),
		MediaIDs:   mediaIDs,
		Visibility: c.visibility,
		Language:   req.Language,
	})
	if err != nil {
		return broadcast.PostResponse{}, &broadcast.RequestError{
			Platform: broadcast.TargetMastodon,
			Message:  fmt.Sprintf("post status: %v", err),
		}
	}

	uri := status.URL
	if uri == "" {
		uri = status.URI
	}
	c.logger.Info("status posted",
		zap.String("status_id", string(status.ID)),
		zap.String("uri", uri),
		zap.Int("media", len(mediaIDs)),
	)
	return broadcast.PostResponse{URI: uri, ID: string(status.ID)}, nil
}

// mediaStatus is the slice of the attachment payload the client needs.
type mediaStatus struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (c *Client) uploadMedia(ctx context.Context, img broadcast.Image) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	name := img.Name
	if name == "" {
		name = "upload"
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("build media form: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return "", fmt.Errorf("build media form: %w", err)
	}
	if img.Alt != "" {
		if err := mw.WriteField("description", img.Alt); err != nil {
			return "", fmt.Errorf("build media form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build media form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+"/api/v2/media", &body)
	if err != nil {
		return "", fmt.Errorf("build media request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.api.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read media response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var m mediaStatus
		if err := json.Unmarshal(raw, &m); err != nil {
			return "", fmt.Errorf("decode media response: %w", err)
		}
		return m.ID, nil
	case http.StatusAccepted:
		var m mediaStatus
		if err := json.Unmarshal(raw, &m); err != nil {
			return "", fmt.Errorf("decode media response: %w", err)
		}
		return c.awaitMedia(ctx, m.ID)
	default:
		return "", &broadcast.RequestError{
			Platform: broadcast.TargetMastodon,
			Status:   resp.StatusCode,
			Message:  "media upload rejected",
			Body:     string(raw),
		}
	}
}

// awaitMedia polls the v1 media endpoint until the server reports the
// attachment ready. The server answers 200 when processing is done and
// 202/206 while it is still working.
func (c *Client) awaitMedia(ctx context.Context, id string) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.pollRetries; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		status, body, err := c.pollMedia(ctx, id)
		if err != nil {
			return "", err
		}
		switch status {
		case http.StatusOK:
			c.logger.Debug("media ready",
				zap.String("media_id", id),
				zap.Int("polls", attempt),
			)
			return id, nil
		case http.StatusAccepted, http.StatusPartialContent:
			continue
		default:
			return "", &broadcast.RequestError{
				Platform: broadcast.TargetMastodon,
				Status:   status,
				Message:  fmt.Sprintf("media %s poll failed", id),
				Body:     body,
			}
		}
	}
	return "", &broadcast.RequestError{
		Platform: broadcast.TargetMastodon,
		Status:   http.StatusAccepted,
		Message:  fmt.Sprintf("media %s not ready after %d polls", id, c.pollRetries),
	}
}

func (c *Client) pollMedia(ctx context.Context, id string) (int, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.server+"/api/v1/media/"+id, nil)
	if err != nil {
		return 0, "", fmt.Errorf("build media poll: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.api.Do(httpReq)
	if err != nil {
		return 0, "", fmt.Errorf("poll media %s: %w", id, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("read media poll: %w", err)
	}
	return resp.StatusCode, string(raw), nil
}
