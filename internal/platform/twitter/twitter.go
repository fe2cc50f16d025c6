// Package twitter posts tweets through gotwi. Authentication prefers an
// OAuth2 user token stored by the login/callback routes and falls back to
// OAuth1 user-context credentials from configuration; media goes through the
// chunked INIT/APPEND/FINALIZE upload.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/media/upload"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/opensyndicate/syndicate/internal/broadcast"
	"github.com/opensyndicate/syndicate/internal/config"
	"github.com/opensyndicate/syndicate/internal/docstore"
	"github.com/opensyndicate/syndicate/internal/platform"
)

const (
	metadataEndpoint = "https://upload.twitter.com/1.1/media/metadata/create.json"
	statusURLPrefix  = "https://twitter.com/i/web/status/"
	defaultTimeout   = 30 * time.Second
)

// Client posts on behalf of one account. The gotwi handle is rebuilt per
// post so a token refreshed or newly authorized between posts is picked up
// without a restart.
type Client struct {
	cfg    config.TwitterConfig
	oauth  *oauth2.Config
	tokens *TokenStore
	images broadcast.ImageSource
	http   *http.Client
	logger *zap.Logger
}

// New builds a Twitter client. tokens may be nil when no OAuth2 app is
// configured.
func New(cfg config.TwitterConfig, tokens *TokenStore, images broadcast.ImageSource, logger *zap.Logger) (*Client, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("twitter config incomplete: %s", strings.Join(missing, ", "))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:    cfg,
		oauth:  NewOAuthConfig(cfg.OAuth2),
		tokens: tokens,
		images: images,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// Target names the platform.
func (c *Client) Target() broadcast.Target { return broadcast.TargetTwitter }

// CreatePost uploads the referenced images and publishes the tweet with
// their media IDs attached.
func (c *Client) CreatePost(ctx context.Context, req broadcast.PostRequest) (broadcast.PostResponse, error) {
	images, err := platform.ResolveImages(ctx, broadcast.TargetTwitter, c.images, req.Images)
	if err != nil {
		return broadcast.PostResponse{}, err
	}

	api, err := c.api(ctx)
	if err != nil {
		return broadcast.PostResponse{}, err
	}

	mediaIDs := make([]string, 0, len(images))
	for _, img := range images {
		id, err := c.uploadMedia(ctx, api, img)
		if err != nil {
			return broadcast.PostResponse{}, err
		}
		mediaIDs = append(mediaIDs, id)
	}

	input := &managetweettypes.CreateInput{
		Text: gotwi.String(platform.ComposeStatus(req.Content, req.Link)),
	}
	if len(mediaIDs) > 0 {
		input.Media = &managetweettypes.CreateInputMedia{MediaIDs: mediaIDs}
	}

	res, err := managetweet.Create(ctx, api, input)
	if err != nil {
		return broadcast.PostResponse{}, classify("create tweet", err)
	}
	var id string
	if res != nil && res.Data.ID != nil {
		id = *res.Data.ID
	}

	c.logger.Info("tweet posted",
		zap.String("tweet_id", id),
		zap.Int("media", len(mediaIDs)),
	)
	return broadcast.PostResponse{ID: id, URI: statusURLPrefix + id}, nil
}

// api builds the gotwi handle for this post. A stored OAuth2 user token
// wins; otherwise OAuth1 user-context credentials from configuration.
func (c *Client) api(ctx context.Context) (*gotwi.Client, error) {
	if c.oauth != nil && c.tokens != nil {
		tok, err := c.tokens.Load(ctx)
		switch {
		case err == nil:
			fresh, err := c.refresh(ctx, tok)
			if err != nil {
				return nil, err
			}
			api, err := gotwi.NewClientWithAccessToken(&gotwi.NewClientWithAccessTokenInput{
				HTTPClient:  c.http,
				AccessToken: fresh.AccessToken,
			})
			if err != nil {
				return nil, fmt.Errorf("build twitter client: %w", err)
			}
			return api, nil
		case errors.Is(err, docstore.ErrNotFound):
			// No token authorized yet; OAuth1 below may still serve.
		default:
			return nil, fmt.Errorf("load stored token: %w", err)
		}
	}

	if !c.hasOAuth1() {
		return nil, &broadcast.ValidationError{
			Platform: broadcast.TargetTwitter,
			Reason:   "no usable credentials: authorize via the twitter login route or configure oauth1 keys",
		}
	}
	api, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           c.http,
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           c.cfg.AccessToken,
		OAuthTokenSecret:     c.cfg.AccessTokenSecret,
		APIKey:               c.cfg.APIKey,
		APIKeySecret:         c.cfg.APIKeySecret,
	})
	if err != nil {
		return nil, fmt.Errorf("build twitter client: %w", err)
	}
	return api, nil
}

func (c *Client) hasOAuth1() bool {
	return c.cfg.APIKey != "" && c.cfg.APIKeySecret != "" &&
		c.cfg.AccessToken != "" && c.cfg.AccessTokenSecret != ""
}

// refresh lets the oauth2 source renew an expired token and persists
// renewals so the next post starts from the fresh one.
func (c *Client) refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	fresh, err := c.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			return nil, &broadcast.RequestError{
				Platform: broadcast.TargetTwitter,
				Status:   rerr.Response.StatusCode,
				Message:  "refresh stored token",
				Body:     string(rerr.Body),
			}
		}
		return nil, fmt.Errorf("refresh stored token: %w", err)
	}
	if fresh.AccessToken != tok.AccessToken {
		if err := c.tokens.Save(ctx, fresh); err != nil {
			c.logger.Warn("persist refreshed token failed", zap.Error(err))
		} else {
			c.logger.Info("stored token refreshed")
		}
	}
	return fresh, nil
}

func (c *Client) uploadMedia(ctx context.Context, api *gotwi.Client, img broadcast.Image) (string, error) {
	mediaType, category, err := resolveMediaType(img)
	if err != nil {
		return "", err
	}

	initRes, err := upload.Initialize(ctx, api, &uploadtypes.InitializeInput{
		MediaType:     mediaType,
		TotalBytes:    len(img.Data),
		MediaCategory: category,
	})
	if err != nil {
		return "", classify("initialize upload", err)
	}
	if err := partialError(initRes.Errors); err != nil {
		return "", fmt.Errorf("initialize upload: %w", err)
	}
	mediaID := initRes.Data.MediaID
	if mediaID == "" {
		return "", fmt.Errorf("initialize upload: no media id returned")
	}

	appendIn := &uploadtypes.AppendInput{
		MediaID:      mediaID,
		Media:        bytes.NewReader(img.Data),
		SegmentIndex: 0,
	}
	appendIn.GenerateBoundary()
	appendRes, err := upload.Append(ctx, api, appendIn)
	if err != nil {
		return "", classify("append upload", err)
	}
	if err := partialError(appendRes.Errors); err != nil {
		return "", fmt.Errorf("append upload: %w", err)
	}

	finalizeRes, err := upload.Finalize(ctx, api, &uploadtypes.FinalizeInput{MediaID: mediaID})
	if err != nil {
		return "", classify("finalize upload", err)
	}
	if err := partialError(finalizeRes.Errors); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	if err := c.awaitProcessing(ctx, finalizeRes); err != nil {
		return "", err
	}

	if alt := strings.TrimSpace(img.Alt); alt != "" {
		if err := c.setAltText(ctx, api, mediaID, alt); err != nil {
			return "", err
		}
	}

	c.logger.Debug("media uploaded",
		zap.String("media_id", mediaID),
		zap.String("name", img.Name),
	)
	return mediaID, nil
}

// awaitProcessing waits out the advertised processing window. Images finish
// within it; video would need a status poll loop.
func (c *Client) awaitProcessing(ctx context.Context, res *uploadtypes.FinalizeOutput) error {
	state := res.Data.ProcessingInfo.State
	switch state {
	case "", resources.ProcessingInfoStateSucceeded:
		return nil
	case resources.ProcessingInfoStateInProgress, resources.ProcessingInfoStatePending:
		wait := time.Duration(res.Data.ProcessingInfo.CheckAfterSecs) * time.Second
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	default:
		return &broadcast.RequestError{
			Platform: broadcast.TargetTwitter,
			Status:   http.StatusUnprocessableEntity,
			Message:  fmt.Sprintf("media processing failed: state=%s", state),
		}
	}
}

func (c *Client) setAltText(ctx context.Context, api *gotwi.Client, mediaID, alt string) error {
	params := &metadataParams{mediaID: mediaID, altText: alt}
	if err := api.CallAPI(ctx, metadataEndpoint, http.MethodPost, params, &metadataResponse{}); err != nil {
		return classify("set alt text", err)
	}
	return nil
}

func resolveMediaType(img broadcast.Image) (uploadtypes.MediaType, uploadtypes.MediaCategory, error) {
	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	switch {
	case strings.Contains(contentType, "jpeg"):
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(contentType, "png"):
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(contentType, "gif"):
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF, nil
	case strings.Contains(contentType, "webp"):
		return uploadtypes.MediaTypeWebP, uploadtypes.MediaCategoryTweetImage, nil
	}
	return "", "", &broadcast.ValidationError{
		Platform: broadcast.TargetTwitter,
		Reason:   fmt.Sprintf("unsupported image type %q for %s", contentType, img.Name),
	}
}

// partialError flattens the partial errors some upload responses carry.
func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(partials))
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		}
	}
	if len(msgs) == 0 {
		msgs = append(msgs, "unknown upload error")
	}
	return errors.New(strings.Join(msgs, "; "))
}

// classify maps gotwi failures onto the error taxonomy.
func classify(op string, err error) error {
	var ge *gotwi.GotwiError
	if errors.As(err, &ge) {
		return &broadcast.RequestError{
			Platform: broadcast.TargetTwitter,
			Status:   ge.StatusCode,
			Message:  op,
			Body:     ge.Error(),
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// metadataParams carries the alt-text call for gotwi's CallAPI, which has no
// typed binding for the v1.1 metadata endpoint.
type metadataParams struct {
	mediaID     string
	altText     string
	accessToken string
}

func (p *metadataParams) SetAccessToken(token string) { p.accessToken = token }

func (p *metadataParams) AccessToken() string { return p.accessToken }

func (p *metadataParams) ResolveEndpoint(endpointBase string) string { return endpointBase }

func (p *metadataParams) Body() (io.Reader, error) {
	body := struct {
		MediaID string `json:"media_id"`
		AltText struct {
			Text string `json:"text"`
		} `json:"alt_text"`
	}{}
	body.MediaID = p.mediaID
	body.AltText.Text = p.altText

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

func (p *metadataParams) ParameterMap() map[string]string { return map[string]string{} }

type metadataResponse struct{}

func (metadataResponse) HasPartialError() bool { return false }
