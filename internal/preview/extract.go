package preview

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractCard pulls open-graph metadata out of a fetched page. Missing og:
// tags fall back to <title> and the description meta tag. Relative image
// URLs are resolved against the final page URL.
func ExtractCard(page Page) Card {
	base := page.FinalURL
	if base == "" {
		base = page.URL
	}
	card := Card{URL: base}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return card
	}

	card.Title = metaProperty(doc, "og:title")
	card.Description = metaProperty(doc, "og:description")
	card.ImageURL = metaProperty(doc, "og:image")

	if card.Title == "" {
		card.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if card.Description == "" {
		if v, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
			card.Description = strings.TrimSpace(v)
		}
	}
	if canonical := metaProperty(doc, "og:url"); canonical != "" {
		card.URL = canonical
	}
	card.ImageURL = resolveURL(base, card.ImageURL)
	return card
}

func metaProperty(doc *goquery.Document, property string) string {
	if v, ok := doc.Find(`meta[property="` + property + `"]`).Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// resolveURL makes ref absolute against base; unparseable inputs come back
// unchanged.
func resolveURL(base, ref string) string {
	if ref == "" || strings.Contains(ref, "://") {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}
