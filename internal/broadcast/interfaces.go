package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Poster publishes a single post to one platform. Implementations resolve
// their errors into the APIError taxonomy; anything else is treated as a
// CaughtError by the broadcaster.
type Poster interface {
	Target() Target
	CreatePost(ctx context.Context, req PostRequest) (PostResponse, error)
}

// Limiter gates outbound platform calls.
type Limiter interface {
	Wait(ctx context.Context, platform string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces broadcast IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Image is an uploaded attachment resolved from the file service. Data is
// fully buffered; platform clients re-read it per upload attempt.
type Image struct {
	Name        string
	ContentType string
	Alt         string
	Data        []byte
}

// ImageSource resolves an uploaded file ID into its bytes and metadata.
type ImageSource interface {
	Image(ctx context.Context, id string) (Image, error)
}

// Publisher announces completed broadcasts to an external channel. An empty
// topic selects the publisher's default.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
