package platform

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opensyndicate/syndicate/internal/broadcast"
	"github.com/opensyndicate/syndicate/internal/files"
)

type stubImages struct {
	images map[string]broadcast.Image
	err    error
	calls  int
}

func (s *stubImages) Image(_ context.Context, id string) (broadcast.Image, error) {
	s.calls++
	if s.err != nil {
		return broadcast.Image{}, s.err
	}
	img, ok := s.images[id]
	if !ok {
		return broadcast.Image{}, fmt.Errorf("file %s: %w", id, files.ErrNotFound)
	}
	return img, nil
}

func TestDisabledCreatePost(t *testing.T) {
	t.Parallel()

	d := NewDisabled(broadcast.TargetTwitter, "no credentials configured")
	require.Equal(t, broadcast.TargetTwitter, d.Target())

	_, err := d.CreatePost(context.Background(), broadcast.PostRequest{Content: "hi"})
	var ve *broadcast.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, broadcast.TargetTwitter, ve.Platform)
	require.Contains(t, ve.Error(), "no credentials configured")
	require.Equal(t, 400, ve.StatusCode())
}

func TestDisabledDefaultReason(t *testing.T) {
	t.Parallel()

	d := NewDisabled(broadcast.TargetMastodon, "")
	_, err := d.CreatePost(context.Background(), broadcast.PostRequest{})
	require.Contains(t, err.Error(), "platform disabled")
}

func TestResolveImages(t *testing.T) {
	t.Parallel()

	source := &stubImages{images: map[string]broadcast.Image{
		"a": {Name: "a.png", ContentType: "image/png", Data: []byte{1}},
		"b": {Name: "b.jpg", ContentType: "image/jpeg", Data: []byte{2}},
	}}

	images, err := ResolveImages(context.Background(), broadcast.TargetMastodon, source, []string{"b", "a"})
	require.NoError(t, err)
	require.Len(t, images, 2)
	require.Equal(t, "b.jpg", images[0].Name, "order follows the request")
	require.Equal(t, "a.png", images[1].Name)
}

func TestResolveImagesEmpty(t *testing.T) {
	t.Parallel()

	images, err := ResolveImages(context.Background(), broadcast.TargetMastodon, nil, nil)
	require.NoError(t, err)
	require.Nil(t, images)
}

func TestResolveImagesNilSource(t *testing.T) {
	t.Parallel()

	_, err := ResolveImages(context.Background(), broadcast.TargetMastodon, nil, []string{"a"})
	var ve *broadcast.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestResolveImagesNotFound(t *testing.T) {
	t.Parallel()

	source := &stubImages{images: map[string]broadcast.Image{}}
	_, err := ResolveImages(context.Background(), broadcast.TargetBluesky, source, []string{"missing"})
	var ve *broadcast.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Contains(t, ve.Error(), "missing")
}

func TestResolveImagesStorageFailure(t *testing.T) {
	t.Parallel()

	source := &stubImages{err: errors.New("disk on fire")}
	_, err := ResolveImages(context.Background(), broadcast.TargetBluesky, source, []string{"a"})
	require.Error(t, err)
	var ve *broadcast.ValidationError
	require.False(t, errors.As(err, &ve), "storage failures are not the caller's fault")
}

func TestComposeStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hello", ComposeStatus("hello", ""))
	require.Equal(t, "hello\n\nhttps://example.com", ComposeStatus("hello", "https://example.com"))
}
