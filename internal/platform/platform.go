// Package platform hosts the per-platform posting clients. Each subpackage
// wraps one third-party API behind the broadcast.Poster contract; this
// package carries what they share.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/opensyndicate/syndicate/internal/broadcast"
	"github.com/opensyndicate/syndicate/internal/files"
)

// Disabled stands in for a platform that is toggled off or missing
// credentials. CreatePost answers immediately with a ValidationError and
// never touches the network, so targeting a disabled platform still yields
// exactly one result.
type Disabled struct {
	target broadcast.Target
	reason string
}

// NewDisabled builds the stand-in for target. An empty reason gets a
// generic message.
func NewDisabled(target broadcast.Target, reason string) *Disabled {
	if reason == "" {
		reason = "platform disabled"
	}
	return &Disabled{target: target, reason: reason}
}

// Target names the platform this stand-in covers.
func (d *Disabled) Target() broadcast.Target { return d.target }

// CreatePost always fails with a ValidationError naming the platform.
func (d *Disabled) CreatePost(context.Context, broadcast.PostRequest) (broadcast.PostResponse, error) {
	return broadcast.PostResponse{}, &broadcast.ValidationError{Platform: d.target, Reason: d.reason}
}

// ResolveImages loads every referenced upload in request order. Referencing
// an unknown file is the caller's mistake and maps to a ValidationError;
// storage failures pass through for CaughtError classification.
func ResolveImages(ctx context.Context, target broadcast.Target, source broadcast.ImageSource, ids []string) ([]broadcast.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if source == nil {
		return nil, &broadcast.ValidationError{Platform: target, Reason: "image attachments are not available"}
	}
	images := make([]broadcast.Image, 0, len(ids))
	for _, id := range ids {
		img, err := source.Image(ctx, id)
		if err != nil {
			if errors.Is(err, files.ErrNotFound) {
				return nil, &broadcast.ValidationError{Platform: target, Reason: fmt.Sprintf("image %q not found", id)}
			}
			return nil, fmt.Errorf("load image %s: %w", id, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// ComposeStatus appends the link below the content for platforms that carry
// links inline.
func ComposeStatus(content, link string) string {
	if link == "" {
		return content
	}
	return content + "\n\n" + link
}
