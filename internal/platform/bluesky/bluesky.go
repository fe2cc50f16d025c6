// Package bluesky posts to an AT Protocol PDS through the indigo xrpc
// client. Each post runs on a fresh session so access tokens never go stale
// between broadcasts.
package bluesky

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
	"go.uber.org/zap"

	"github.com/opensyndicate/syndicate/internal/broadcast"
	"github.com/opensyndicate/syndicate/internal/config"
	"github.com/opensyndicate/syndicate/internal/platform"
	"github.com/opensyndicate/syndicate/internal/preview"
)

const (
	postCollection = "app.bsky.feed.post"
	userAgent      = "syndicate/1.0"
	defaultTimeout = 30 * time.Second
)

// CardSource builds link cards for external embeds. *preview.Builder
// satisfies it; nil disables cards.
type CardSource interface {
	Build(ctx context.Context, rawURL string) (preview.Card, error)
	FetchImage(ctx context.Context, imageURL string) ([]byte, string, error)
}

// Client posts to one PDS on behalf of one account.
type Client struct {
	host     string
	handle   string
	password string
	timeout  time.Duration
	images   broadcast.ImageSource
	cards    CardSource
	logger   *zap.Logger
}

// New builds a Bluesky client from validated credentials.
func New(cfg config.BlueskyConfig, images broadcast.ImageSource, cards CardSource, logger *zap.Logger) (*Client, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("bluesky config incomplete: %s", strings.Join(missing, ", "))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = "https://bsky.social"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		host:     host,
		handle:   cfg.Handle,
		password: cfg.AppPassword,
		timeout:  timeout,
		images:   images,
		cards:    cards,
		logger:   logger,
	}, nil
}

// Target names the platform.
func (c *Client) Target() broadcast.Target { return broadcast.TargetBluesky }

// CreatePost logs in, uploads any referenced images as blobs, and writes the
// post record. A link on an image-free post becomes an external-embed card;
// card failures fall back to the link in the text.
func (c *Client) CreatePost(ctx context.Context, req broadcast.PostRequest) (broadcast.PostResponse, error) {
	images, err := platform.ResolveImages(ctx, broadcast.TargetBluesky, c.images, req.Images)
	if err != nil {
		return broadcast.PostResponse{}, err
	}

	client, err := c.login(ctx)
	if err != nil {
		return broadcast.PostResponse{}, err
	}

	post := &bsky.FeedPost{
		Text:      req.Content,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if req.Language != "" {
		post.Langs = []string{req.Language}
	}

	switch {
	case len(images) > 0:
		embed, err := c.embedImages(ctx, client, images)
		if err != nil {
			return broadcast.PostResponse{}, err
		}
		post.Embed = &bsky.FeedPost_Embed{EmbedImages: embed}
		post.Text = platform.ComposeStatus(post.Text, req.Link)
	case req.Link != "":
		if embed := c.embedExternal(ctx, client, req.Link); embed != nil {
			post.Embed = &bsky.FeedPost_Embed{EmbedExternal: embed}
		} else {
			post.Text = platform.ComposeStatus(post.Text, req.Link)
		}
	}

	out, err := atproto.RepoCreateRecord(ctx, client, &atproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       client.Auth.Did,
		Record:     &util.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		return broadcast.PostResponse{}, classify("create record", err)
	}

	c.logger.Info("post created",
		zap.String("uri", out.Uri),
		zap.String("cid", out.Cid),
	)
	return broadcast.PostResponse{URI: out.Uri, ID: recordKey(out.Uri), CID: out.Cid}, nil
}

// login opens a fresh authenticated session.
func (c *Client) login(ctx context.Context) (*xrpc.Client, error) {
	ua := userAgent
	client := &xrpc.Client{
		Client:    &http.Client{Timeout: c.timeout},
		Host:      c.host,
		UserAgent: &ua,
	}
	session, err := atproto.ServerCreateSession(ctx, client, &atproto.ServerCreateSession_Input{
		Identifier: c.handle,
		Password:   c.password,
	})
	if err != nil {
		return nil, classify("create session", err)
	}
	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  session.AccessJwt,
		RefreshJwt: session.RefreshJwt,
		Handle:     session.Handle,
		Did:        session.Did,
	}
	return client, nil
}

func (c *Client) embedImages(ctx context.Context, client *xrpc.Client, images []broadcast.Image) (*bsky.EmbedImages, error) {
	embedded := make([]*bsky.EmbedImages_Image, 0, len(images))
	for _, img := range images {
		resp, err := atproto.RepoUploadBlob(ctx, client, bytes.NewReader(img.Data))
		if err != nil {
			return nil, classify(fmt.Sprintf("upload blob %s", img.Name), err)
		}
		if resp.Blob == nil {
			return nil, fmt.Errorf("upload blob %s: empty response", img.Name)
		}
		embedded = append(embedded, &bsky.EmbedImages_Image{
			Alt:   img.Alt,
			Image: resp.Blob,
		})
	}
	return &bsky.EmbedImages{Images: embedded}, nil
}

// embedExternal builds the link card. Returning nil means the caller keeps
// the plain link; preview problems never fail the post.
func (c *Client) embedExternal(ctx context.Context, client *xrpc.Client, link string) *bsky.EmbedExternal {
	if c.cards == nil {
		return nil
	}
	card, err := c.cards.Build(ctx, link)
	if err != nil {
		c.logger.Debug("link card build failed",
			zap.String("url", link),
			zap.Error(err),
		)
		return nil
	}
	external := &bsky.EmbedExternal_External{
		Uri:         card.URL,
		Title:       card.Title,
		Description: card.Description,
	}
	if card.ImageURL != "" {
		external.Thumb = c.uploadThumb(ctx, client, card.ImageURL)
	}
	return &bsky.EmbedExternal{External: external}
}

func (c *Client) uploadThumb(ctx context.Context, client *xrpc.Client, imageURL string) *util.LexBlob {
	data, _, err := c.cards.FetchImage(ctx, imageURL)
	if err != nil {
		c.logger.Debug("card thumb fetch failed",
			zap.String("url", imageURL),
			zap.Error(err),
		)
		return nil
	}
	resp, err := atproto.RepoUploadBlob(ctx, client, bytes.NewReader(data))
	if err != nil || resp.Blob == nil {
		c.logger.Debug("card thumb upload failed",
			zap.String("url", imageURL),
			zap.Error(err),
		)
		return nil
	}
	return resp.Blob
}

// recordKey extracts the rkey from an at:// URI.
func recordKey(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 && i+1 < len(uri) {
		return uri[i+1:]
	}
	return uri
}

// classify maps xrpc failures onto the error taxonomy. Anything that is not
// an upstream answer stays a plain error for CaughtError classification.
func classify(op string, err error) error {
	var xe *xrpc.Error
	if errors.As(err, &xe) {
		return &broadcast.RequestError{
			Platform: broadcast.TargetBluesky,
			Status:   xe.StatusCode,
			Message:  op,
			Body:     xe.Error(),
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
