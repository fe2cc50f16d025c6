// Package broadcast defines the post types shared across subsystems and the
// fan-out engine that delivers one post to several platforms at once.
package broadcast

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Target names a platform a post can be delivered to.
type Target string

// Platforms known to the service.
const (
	TargetMastodon Target = "mastodon"
	TargetBluesky  Target = "bluesky"
	TargetTwitter  Target = "twitter"
	TargetRSS      Target = "rss"
)

// TargetAll is the request keyword that expands to every known platform.
const TargetAll = "all"

// AllTargets lists every known platform in canonical order. Requests that
// omit targets (or name "all") expand to this set.
var AllTargets = []Target{TargetMastodon, TargetBluesky, TargetTwitter, TargetRSS}

// KnownTarget reports whether name is one of the supported platforms.
func KnownTarget(name string) bool {
	switch Target(strings.ToLower(strings.TrimSpace(name))) {
	case TargetMastodon, TargetBluesky, TargetTwitter, TargetRSS:
		return true
	}
	return false
}

// NormalizeTargets lowercases, expands the "all" keyword, and deduplicates
// while preserving first-seen order. An empty input expands to AllTargets.
// Unknown names yield a ValidationError.
func NormalizeTargets(names []string) ([]Target, error) {
	if len(names) == 0 {
		return append([]Target(nil), AllTargets...), nil
	}
	seen := make(map[Target]struct{}, len(names))
	out := make([]Target, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if name == TargetAll {
			for _, t := range AllTargets {
				if _, ok := seen[t]; !ok {
					seen[t] = struct{}{}
					out = append(out, t)
				}
			}
			continue
		}
		if !KnownTarget(name) {
			return nil, &ValidationError{Reason: fmt.Sprintf("unknown target %q", raw)}
		}
		t := Target(name)
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return append([]Target(nil), AllTargets...), nil
	}
	return out, nil
}

// PostRequest is one inbound publication request. Targets holds raw platform
// names as submitted; the broadcaster normalizes them. Images holds
// identifiers of previously uploaded files.
type PostRequest struct {
	Content     string   `json:"content"`
	Link        string   `json:"link,omitempty"`
	Language    string   `json:"language,omitempty"`
	Targets     []string `json:"targets,omitempty"`
	Images      []string `json:"images,omitempty"`
	CleanupHTML bool     `json:"cleanup_html,omitempty"`
}

// Validate checks the request before any platform is contacted. maxContent
// bounds the content length in runes; zero means DefaultMaxContentLength.
func (r PostRequest) Validate(maxContent int) error {
	if maxContent <= 0 {
		maxContent = DefaultMaxContentLength
	}
	if strings.TrimSpace(r.Content) == "" {
		return &ValidationError{Reason: "content is required"}
	}
	if n := utf8.RuneCountInString(r.Content); n > maxContent {
		return &ValidationError{Reason: fmt.Sprintf("content length %d exceeds limit %d", n, maxContent)}
	}
	if r.Link != "" {
		u, err := url.Parse(r.Link)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ValidationError{Reason: fmt.Sprintf("link %q is not an absolute url", r.Link)}
		}
	}
	return nil
}

// DefaultMaxContentLength caps post content when no limit is configured.
// Individual platforms enforce their own, stricter limits server-side.
const DefaultMaxContentLength = 5000

// PostResponse is the success payload returned by a platform client.
type PostResponse struct {
	Module Target `json:"module"`
	URI    string `json:"uri,omitempty"`
	ID     string `json:"id,omitempty"`
	CID    string `json:"cid,omitempty"`
}

// PlatformResult records one platform's outcome. Exactly one of Response and
// Err is set.
type PlatformResult struct {
	Target   Target
	Response *PostResponse
	Err      error
}

// Succeeded reports whether the platform accepted the post.
func (r PlatformResult) Succeeded() bool {
	return r.Err == nil && r.Response != nil
}

// CompositeResult aggregates one PlatformResult per requested target, in
// request order. The composite itself is never persisted.
type CompositeResult struct {
	BroadcastID string
	Results     []PlatformResult
}

// Failed reports whether any platform failed.
func (c CompositeResult) Failed() bool {
	for _, r := range c.Results {
		if !r.Succeeded() {
			return true
		}
	}
	return false
}

// Err returns a CompositeError carrying every per-platform result, or nil
// when all platforms succeeded.
func (c CompositeResult) Err() error {
	if !c.Failed() {
		return nil
	}
	return &CompositeError{Results: c.Results}
}

// StatusCode computes the HTTP status for the whole broadcast: 200 when all
// platforms succeeded, otherwise the worst status among the failures.
func (c CompositeResult) StatusCode() int {
	if !c.Failed() {
		return 200
	}
	return (&CompositeError{Results: c.Results}).StatusCode()
}

// Payload flattens results into the wire shape: an object keyed by platform
// name whose values are success or error payloads.
func (c CompositeResult) Payload() map[string]any {
	out := make(map[string]any, len(c.Results))
	for _, r := range c.Results {
		if r.Succeeded() {
			out[string(r.Target)] = r.Response
			continue
		}
		out[string(r.Target)] = NewErrorPayload(r.Target, r.Err)
	}
	return out
}

// CompletionSummary is the message published after a broadcast finishes. It
// carries per-platform outcomes but never the post content.
type CompletionSummary struct {
	BroadcastID string          `json:"broadcast_id"`
	FinishedAt  time.Time       `json:"finished_at"`
	Status      int             `json:"status"`
	Targets     []TargetOutcome `json:"targets"`
}

// TargetOutcome is one platform's slice of the completion summary.
type TargetOutcome struct {
	Target Target `json:"target"`
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	URI    string `json:"uri,omitempty"`
}

// Summary converts the composite into its published form.
func (c CompositeResult) Summary(finishedAt time.Time) CompletionSummary {
	targets := make([]TargetOutcome, 0, len(c.Results))
	for _, r := range c.Results {
		outcome := TargetOutcome{Target: r.Target, OK: r.Succeeded(), Status: 200}
		if r.Succeeded() {
			outcome.URI = r.Response.URI
		} else {
			outcome.Status = Classify(r.Target, r.Err).StatusCode()
		}
		targets = append(targets, outcome)
	}
	return CompletionSummary{
		BroadcastID: c.BroadcastID,
		FinishedAt:  finishedAt,
		Status:      c.StatusCode(),
		Targets:     targets,
	}
}
