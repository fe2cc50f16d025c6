package preview

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opensyndicate/syndicate/internal/metrics"
)

type fakeFetcher struct {
	pages map[string]Page
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (Page, error) {
	f.calls++
	if f.err != nil {
		return Page{}, f.err
	}
	page, ok := f.pages[rawURL]
	if !ok {
		return Page{URL: rawURL, StatusCode: http.StatusNotFound}, nil
	}
	return page, nil
}

type fakeRenderer struct {
	page  Page
	err   error
	calls int
}

func (r *fakeRenderer) Render(_ context.Context, _ string) (Page, error) {
	r.calls++
	if r.err != nil {
		return Page{}, r.err
	}
	return r.page, nil
}

func (r *fakeRenderer) Close(context.Context) error { return nil }

func staticPage(url string) Page {
	return Page{
		URL:        url,
		FinalURL:   url,
		StatusCode: http.StatusOK,
		Body: []byte(`<html><head>
			<meta property="og:title" content="Static Title"/>
			<meta property="og:description" content="Static description"/>
		</head><body><p>text</p></body></html>`),
	}
}

func shellPage(url string) Page {
	return Page{
		URL:        url,
		FinalURL:   url,
		StatusCode: http.StatusOK,
		Body:       []byte(`<html><body><div id="root"></div></body></html>`),
	}
}

func TestBuilderStaticCard(t *testing.T) {
	metrics.Init()

	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://example.com/a": staticPage("https://example.com/a"),
	}}
	renderer := &fakeRenderer{}
	b := NewBuilder(fetcher, NewDefaultDetector(), renderer, 0, zap.NewNop())

	card, err := b.Build(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, "Static Title", card.Title)
	require.Equal(t, "Static description", card.Description)
	require.Zero(t, renderer.calls, "static page must not be rendered")
}

func TestBuilderPromotesShellToRender(t *testing.T) {
	metrics.Init()

	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://app.example.com": shellPage("https://app.example.com"),
	}}
	renderer := &fakeRenderer{page: Page{
		URL:        "https://app.example.com",
		FinalURL:   "https://app.example.com",
		StatusCode: http.StatusOK,
		Body: []byte(`<html><head>
			<meta property="og:title" content="Rendered Title"/>
		</head><body><p>hydrated</p></body></html>`),
	}}
	b := NewBuilder(fetcher, NewDefaultDetector(), renderer, 0, zap.NewNop())

	card, err := b.Build(context.Background(), "https://app.example.com")
	require.NoError(t, err)
	require.Equal(t, "Rendered Title", card.Title)
	require.Equal(t, 1, renderer.calls)
}

func TestBuilderRenderFailureFallsBack(t *testing.T) {
	metrics.Init()

	fetcher := &fakeFetcher{pages: map[string]Page{
		"https://app.example.com": shellPage("https://app.example.com"),
	}}
	renderer := &fakeRenderer{err: errors.New("browser crashed")}
	b := NewBuilder(fetcher, NewDefaultDetector(), renderer, 0, zap.NewNop())

	// The shell has no static metadata either, so the build fails without
	// failing loudly about the renderer.
	_, err := b.Build(context.Background(), "https://app.example.com")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no preview metadata")
}

func TestBuilderFetchErrors(t *testing.T) {
	metrics.Init()

	b := NewBuilder(&fakeFetcher{err: errors.New("dns broke")}, nil, nil, 0, zap.NewNop())
	_, err := b.Build(context.Background(), "https://example.com")
	require.Error(t, err)

	b = NewBuilder(&fakeFetcher{pages: map[string]Page{}}, nil, nil, 0, zap.NewNop())
	_, err = b.Build(context.Background(), "https://example.com/missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 404")
}

func TestBuilderFetchImage(t *testing.T) {
	metrics.Init()

	img := Page{
		URL:        "https://cdn.example.com/hero.jpg",
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"image/jpeg"}},
		Body:       []byte("jpeg-bytes"),
	}
	fetcher := &fakeFetcher{pages: map[string]Page{img.URL: img}}
	b := NewBuilder(fetcher, nil, nil, 1024, zap.NewNop())

	data, contentType, err := b.FetchImage(context.Background(), img.URL)
	require.NoError(t, err)
	require.Equal(t, []byte("jpeg-bytes"), data)
	require.Equal(t, "image/jpeg", contentType)
}

func TestBuilderFetchImageLimits(t *testing.T) {
	metrics.Init()

	big := Page{
		URL:        "https://cdn.example.com/huge.jpg",
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"image/jpeg"}},
		Body:       make([]byte, 2048),
	}
	notImage := Page{
		URL:        "https://cdn.example.com/page.html",
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"text/html"}},
		Body:       []byte("<html></html>"),
	}
	fetcher := &fakeFetcher{pages: map[string]Page{big.URL: big, notImage.URL: notImage}}
	b := NewBuilder(fetcher, nil, nil, 1024, zap.NewNop())

	_, _, err := b.FetchImage(context.Background(), big.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds limit")

	_, _, err = b.FetchImage(context.Background(), notImage.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected content type")

	_, _, err = b.FetchImage(context.Background(), "")
	require.Error(t, err)
}
