package broadcast

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CleanHTML strips markup from content, keeping the rendered text. Content
// without markup passes through unchanged, as does anything the parser
// cannot make sense of.
func CleanHTML(content string) string {
	if !strings.ContainsAny(content, "<&") {
		return content
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p").AppendHtml("\n")
	text := doc.Text()
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
