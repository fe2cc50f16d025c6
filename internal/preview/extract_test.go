package preview

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractCardOpenGraph(t *testing.T) {
	t.Parallel()

	body := `<!doctype html><html><head>
		<title>Fallback Title</title>
		<meta property="og:title" content="The Real Title"/>
		<meta property="og:description" content="A fine description."/>
		<meta property="og:image" content="https://cdn.example.com/hero.jpg"/>
		<meta property="og:url" content="https://example.com/canonical"/>
	</head><body></body></html>`

	card := ExtractCard(Page{URL: "https://example.com/story", Body: []byte(body)})
	require.Equal(t, "The Real Title", card.Title)
	require.Equal(t, "A fine description.", card.Description)
	require.Equal(t, "https://cdn.example.com/hero.jpg", card.ImageURL)
	require.Equal(t, "https://example.com/canonical", card.URL)
}

func TestExtractCardFallsBackToTitleTag(t *testing.T) {
	t.Parallel()

	body := `<!doctype html><html><head>
		<title>  Plain Page  </title>
		<meta name="description" content="From the meta tag."/>
	</head><body><p>content</p></body></html>`

	card := ExtractCard(Page{URL: "https://example.com/plain", Body: []byte(body)})
	require.Equal(t, "Plain Page", card.Title)
	require.Equal(t, "From the meta tag.", card.Description)
	require.Empty(t, card.ImageURL)
	require.Equal(t, "https://example.com/plain", card.URL)
}

func TestExtractCardResolvesRelativeImage(t *testing.T) {
	t.Parallel()

	body := `<html><head>
		<meta property="og:title" content="Relative"/>
		<meta property="og:image" content="/img/hero.png"/>
	</head></html>`

	card := ExtractCard(Page{
		URL:      "https://example.com/story",
		FinalURL: "https://example.com/articles/story",
		Body:     []byte(body),
	})
	require.Equal(t, "https://example.com/img/hero.png", card.ImageURL)
}

func TestExtractCardEmptyBody(t *testing.T) {
	t.Parallel()

	card := ExtractCard(Page{URL: "https://example.com/x"})
	require.True(t, card.Empty())
	require.Equal(t, "https://example.com/x", card.URL)
}
