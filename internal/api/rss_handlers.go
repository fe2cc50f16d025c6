package api

import (
	"errors"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opensyndicate/syndicate/internal/broadcast"
	"github.com/opensyndicate/syndicate/internal/docstore"
	"github.com/opensyndicate/syndicate/internal/platform/rss"
)

// rssFeed handles GET /rss.
func (s *Server) rssFeed(w http.ResponseWriter, r *http.Request) {
	s.renderFeed(w, r, "")
}

// rssTargetFeed handles GET /rss/target/{target}, filtering the feed to posts
// that were also delivered to the named platform.
func (s *Server) rssTargetFeed(w http.ResponseWriter, r *http.Request) {
	s.renderFeed(w, r, chi.URLParam(r, "target"))
}

func (s *Server) renderFeed(w http.ResponseWriter, r *http.Request, target string) {
	if s.feed == nil {
		s.writeError(w, http.StatusNotFound, "rss feed is disabled")
		return
	}
	xml, err := s.feed.Feed(r.Context(), target)
	if err != nil {
		var verr *broadcast.ValidationError
		if errors.As(err, &verr) {
			s.writeError(w, http.StatusBadRequest, verr.Reason)
			return
		}
		s.logger.Error("render feed failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "render feed failed")
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, xml); err != nil {
		s.logger.Debug("write feed response failed", zap.Error(err))
	}
}

// rssEntry handles GET /rss/{uuid}: the HTML permalink page feed items link
// to.
func (s *Server) rssEntry(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		s.writeError(w, http.StatusNotFound, "rss feed is disabled")
		return
	}
	id := chi.URLParam(r, "uuid")
	entry, err := s.feed.Entry(r.Context(), id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "post not found")
			return
		}
		s.logger.Error("load post failed", zap.String("post_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "load post failed")
		return
	}

	page := entryPage{
		Title:     rss.Headline(entry.Item.Content),
		Content:   entry.Item.Content,
		Link:      entry.Item.Link,
		Published: entry.CreatedAt,
	}
	for _, img := range entry.Item.Images {
		page.Images = append(page.Images, entryImage{
			Src: s.feed.FileURL(img.ID),
			Alt: img.Alt,
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := entryTemplate.Execute(w, page); err != nil {
		s.logger.Error("render post page failed", zap.String("post_id", id), zap.Error(err))
	}
}

type entryPage struct {
	Title     string
	Content   string
	Link      string
	Published time.Time
	Images    []entryImage
}

type entryImage struct {
	Src string
	Alt string
}

var entryTemplate = template.Must(template.New("entry").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<article>
<p>{{.Content}}</p>
{{range .Images}}<img src="{{.Src}}" alt="{{.Alt}}">
{{end}}{{if .Link}}<p><a href="{{.Link}}" rel="noopener">{{.Link}}</a></p>
{{end}}<footer><time datetime="{{.Published.Format "2006-01-02T15:04:05Z07:00"}}">{{.Published.Format "Jan 2, 2006"}}</time></footer>
</article>
</body>
</html>
`))
