// Package preview builds open-graph link cards for outbound posts. A static
// fetch covers most pages; JS-app shells are promoted to a headless render
// when one is configured.
package preview

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/opensyndicate/syndicate/internal/metrics"
)

// Card is the preview attached to a link: open-graph fields plus the
// resolved image URL.
type Card struct {
	URL         string
	Title       string
	Description string
	ImageURL    string
}

// Empty reports whether extraction found nothing usable.
func (c Card) Empty() bool {
	return c.Title == "" && c.Description == ""
}

// Page is one fetched document.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Fetcher retrieves a URL without executing JavaScript.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Detector decides whether a fetched page is a JS-app shell that needs
// rendering before extraction.
type Detector interface {
	NeedsJS(ctx context.Context, page Page) bool
}

// Renderer executes a page in a headless browser and returns the DOM
// snapshot.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
	Close(ctx context.Context) error
}

// Builder orchestrates fetch, extraction, and the optional headless
// promotion. Renderer and detector may be nil.
type Builder struct {
	fetcher       Fetcher
	detector      Detector
	renderer      Renderer
	maxImageBytes int
	logger        *zap.Logger
}

// NewBuilder wires a Builder.
func NewBuilder(fetcher Fetcher, detector Detector, renderer Renderer, maxImageBytes int, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		fetcher:       fetcher,
		detector:      detector,
		renderer:      renderer,
		maxImageBytes: maxImageBytes,
		logger:        logger,
	}
}

// Build fetches the URL and extracts a card. When static extraction yields
// no title and the page looks like a JS shell, the page is re-rendered
// headless and extracted again.
func (b *Builder) Build(ctx context.Context, rawURL string) (Card, error) {
	page, err := b.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		metrics.ObservePreviewFetch(rawURL, "error")
		return Card{}, fmt.Errorf("preview fetch %s: %w", rawURL, err)
	}
	if page.StatusCode >= http.StatusBadRequest {
		metrics.ObservePreviewFetch(rawURL, "error")
		return Card{}, fmt.Errorf("preview fetch %s: status %d", rawURL, page.StatusCode)
	}
	metrics.ObservePreviewFetch(rawURL, "ok")

	card := ExtractCard(page)
	if card.Title != "" || b.renderer == nil {
		return b.finish(rawURL, card)
	}
	if b.detector != nil && !b.detector.NeedsJS(ctx, page) {
		return b.finish(rawURL, card)
	}

	rendered, err := b.renderer.Render(ctx, rawURL)
	if err != nil {
		metrics.ObserveHeadlessRender("error")
		b.logger.Debug("headless render failed, keeping static card",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return b.finish(rawURL, card)
	}
	metrics.ObserveHeadlessRender("ok")
	if renderedCard := ExtractCard(rendered); renderedCard.Title != "" {
		card = renderedCard
	}
	return b.finish(rawURL, card)
}

// FetchImage downloads a card image, bounded by the configured size, and
// returns the bytes with their content type.
func (b *Builder) FetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	if imageURL == "" {
		return nil, "", fmt.Errorf("image url is empty")
	}
	page, err := b.fetcher.Fetch(ctx, imageURL)
	if err != nil {
		return nil, "", fmt.Errorf("fetch card image %s: %w", imageURL, err)
	}
	if page.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("fetch card image %s: status %d", imageURL, page.StatusCode)
	}
	if len(page.Body) == 0 {
		return nil, "", fmt.Errorf("fetch card image %s: empty body", imageURL)
	}
	if b.maxImageBytes > 0 && len(page.Body) > b.maxImageBytes {
		return nil, "", fmt.Errorf("card image %s: %d bytes exceeds limit %d", imageURL, len(page.Body), b.maxImageBytes)
	}
	contentType := page.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(page.Body)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("card image %s: unexpected content type %s", imageURL, contentType)
	}
	return page.Body, contentType, nil
}

// Close releases the renderer, if any.
func (b *Builder) Close(ctx context.Context) error {
	if b.renderer == nil {
		return nil
	}
	return b.renderer.Close(ctx)
}

func (b *Builder) finish(rawURL string, card Card) (Card, error) {
	if card.Empty() {
		return Card{}, fmt.Errorf("no preview metadata at %s", rawURL)
	}
	return card, nil
}
