// Package rss serves posts back as a locally generated RSS 2.0 feed. The
// poster stores each post as a document; the feed and permalink pages read
// them back, so delivery here is a local write and never a network call.
package rss

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"go.uber.org/zap"

	"github.com/opensyndicate/syndicate/internal/broadcast"
	"github.com/opensyndicate/syndicate/internal/config"
	"github.com/opensyndicate/syndicate/internal/docstore"
	"github.com/opensyndicate/syndicate/internal/platform"
)

const (
	// KeyPost groups stored post documents.
	KeyPost = "post"
	// TagRSS marks documents that belong to the feed.
	TagRSS = "rss"

	defaultFeedLimit = 20
	headlineRunes    = 80
)

// ItemImage records one attachment so enclosures render without reading the
// blob back.
type ItemImage struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Alt         string `json:"alt,omitempty"`
}

// Item is the stored post payload.
type Item struct {
	Content  string      `json:"content"`
	Link     string      `json:"link,omitempty"`
	Language string      `json:"language,omitempty"`
	Images   []ItemImage `json:"images,omitempty"`
}

// Entry is one post read back with its document metadata.
type Entry struct {
	ID        string
	Item      Item
	CreatedAt time.Time
}

// Client is both the feed's poster and its reader.
type Client struct {
	docs    docstore.Store
	images  broadcast.ImageSource
	title   string
	desc    string
	baseURL string
	limit   int
	clock   broadcast.Clock
	logger  *zap.Logger
}

// New builds the RSS client. images may be nil when uploads are disabled.
func New(cfg config.RSSConfig, docs docstore.Store, images broadcast.ImageSource, clock broadcast.Clock, logger *zap.Logger) (*Client, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("rss config incomplete: %s", strings.Join(missing, ", "))
	}
	if docs == nil {
		return nil, fmt.Errorf("rss requires a document store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.FeedLimit
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	return &Client{
		docs:    docs,
		images:  images,
		title:   cfg.Title,
		desc:    cfg.Description,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limit:   limit,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Target names the platform.
func (c *Client) Target() broadcast.Target { return broadcast.TargetRSS }

// CreatePost stores the post as a document tagged for the feed, plus one tag
// per sibling target so per-platform feeds can filter.
func (c *Client) CreatePost(ctx context.Context, req broadcast.PostRequest) (broadcast.PostResponse, error) {
	images, err := platform.ResolveImages(ctx, broadcast.TargetRSS, c.images, req.Images)
	if err != nil {
		return broadcast.PostResponse{}, err
	}

	item := Item{Content: req.Content, Link: req.Link, Language: req.Language}
	for i, img := range images {
		item.Images = append(item.Images, ItemImage{
			ID:          req.Images[i],
			ContentType: img.ContentType,
			Size:        int64(len(img.Data)),
			Alt:         img.Alt,
		})
	}

	value, err := json.Marshal(item)
	if err != nil {
		return broadcast.PostResponse{}, fmt.Errorf("encode post: %w", err)
	}
	doc := docstore.Document{Key: KeyPost, Value: value, Tags: c.tags(req)}
	if err := c.docs.Put(ctx, &doc); err != nil {
		return broadcast.PostResponse{}, fmt.Errorf("store post: %w", err)
	}

	c.logger.Debug("post stored", zap.String("post_id", doc.ID))
	return broadcast.PostResponse{URI: c.Permalink(doc.ID), ID: doc.ID}, nil
}

func (c *Client) tags(req broadcast.PostRequest) []string {
	tags := []string{TagRSS}
	targets, err := broadcast.NormalizeTargets(req.Targets)
	if err != nil {
		// Validated upstream; an unparsable list just loses target tags.
		return tags
	}
	for _, t := range targets {
		if string(t) == TagRSS {
			continue
		}
		tags = append(tags, string(t))
	}
	return tags
}

// Feed renders the newest posts as RSS 2.0 XML. target filters to posts
// that were also delivered to that platform; empty means all.
func (c *Client) Feed(ctx context.Context, target string) (string, error) {
	tags := []string{TagRSS}
	if target != "" {
		name := strings.ToLower(strings.TrimSpace(target))
		if !broadcast.KnownTarget(name) {
			return "", &broadcast.ValidationError{Reason: fmt.Sprintf("unknown target %q", target)}
		}
		if name != TagRSS {
			tags = append(tags, name)
		}
	}

	docs, err := c.docs.List(ctx, docstore.Query{Tags: tags, Limit: c.limit})
	if err != nil {
		return "", fmt.Errorf("list posts: %w", err)
	}

	feed := &feeds.Feed{
		Title:       c.title,
		Link:        &feeds.Link{Href: c.baseURL + "/rss"},
		Description: c.desc,
		Created:     c.now(),
	}
	for _, doc := range docs {
		entry, err := decodeEntry(doc)
		if err != nil {
			c.logger.Warn("skipping undecodable post",
				zap.String("post_id", doc.ID),
				zap.Error(err),
			)
			continue
		}
		feed.Items = append(feed.Items, c.feedItem(entry))
	}

	xml, err := feed.ToRss()
	if err != nil {
		return "", fmt.Errorf("render feed: %w", err)
	}
	return xml, nil
}

// Entry returns one stored post for the permalink page.
func (c *Client) Entry(ctx context.Context, id string) (Entry, error) {
	doc, err := c.docs.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if doc.Key != KeyPost || !hasTag(doc.Tags, TagRSS) {
		return Entry{}, docstore.ErrNotFound
	}
	return decodeEntry(doc)
}

// Permalink is the public URL of one post's HTML page.
func (c *Client) Permalink(id string) string {
	return c.baseURL + "/rss/" + id
}

// FileURL is the public URL of an uploaded file.
func (c *Client) FileURL(id string) string {
	return c.baseURL + "/files/" + id
}

func (c *Client) feedItem(e Entry) *feeds.Item {
	item := &feeds.Item{
		Id:          e.ID,
		Title:       Headline(e.Item.Content),
		Link:        &feeds.Link{Href: c.Permalink(e.ID)},
		Description: e.Item.Content,
		Created:     e.CreatedAt,
	}
	if len(e.Item.Images) > 0 {
		img := e.Item.Images[0]
		item.Enclosure = &feeds.Enclosure{
			Url:    c.FileURL(img.ID),
			Type:   img.ContentType,
			Length: strconv.FormatInt(img.Size, 10),
		}
	}
	return item
}

func (c *Client) now() time.Time {
	if c.clock != nil {
		return c.clock.Now()
	}
	return time.Now().UTC()
}

func decodeEntry(doc docstore.Document) (Entry, error) {
	var item Item
	if err := json.Unmarshal(doc.Value, &item); err != nil {
		return Entry{}, fmt.Errorf("decode post %s: %w", doc.ID, err)
	}
	return Entry{ID: doc.ID, Item: item, CreatedAt: doc.CreatedAt}, nil
}

// Headline derives the item title from the first line of content, bounded
// to headlineRunes.
func Headline(content string) string {
	line := strings.TrimSpace(content)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	runes := []rune(line)
	if len(runes) > headlineRunes {
		return string(runes[:headlineRunes-1]) + "…"
	}
	return line
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
