package broadcast

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorStatusCodes(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusBadRequest, (&ValidationError{Reason: "bad"}).StatusCode())
	require.Equal(t, http.StatusNotFound, (&RequestError{Status: 404}).StatusCode())
	require.Equal(t, http.StatusTooManyRequests, (&RequestError{Status: 429}).StatusCode())
	// Upstream answered but without a usable error status.
	require.Equal(t, http.StatusBadGateway, (&RequestError{Status: 0}).StatusCode())
	require.Equal(t, http.StatusBadGateway, (&RequestError{Status: 302}).StatusCode())
	require.Equal(t, http.StatusInternalServerError, (&CaughtError{Err: errors.New("x")}).StatusCode())
}

func TestClassify(t *testing.T) {
	t.Parallel()

	ve := &ValidationError{Platform: TargetTwitter, Reason: "disabled"}
	require.Same(t, ve, Classify(TargetTwitter, ve).(*ValidationError))

	wrapped := fmt.Errorf("call failed: %w", &RequestError{Platform: TargetMastodon, Status: 422})
	re, ok := Classify(TargetMastodon, wrapped).(*RequestError)
	require.True(t, ok)
	require.Equal(t, 422, re.Status)

	plain := errors.New("socket closed")
	caught, ok := Classify(TargetBluesky, plain).(*CaughtError)
	require.True(t, ok)
	require.Equal(t, TargetBluesky, caught.Platform)
	require.ErrorIs(t, caught, plain)
}

func TestCompositeErrorWorstStatusWins(t *testing.T) {
	t.Parallel()

	composite := &CompositeError{Results: []PlatformResult{
		{Target: TargetMastodon, Response: &PostResponse{URI: "ok"}},
		{Target: TargetTwitter, Err: &ValidationError{Platform: TargetTwitter, Reason: "disabled"}},
		{Target: TargetBluesky, Err: &RequestError{Platform: TargetBluesky, Status: 503}},
	}}
	require.Equal(t, 503, composite.StatusCode())
	require.Equal(t, "2 of 3 platforms failed: twitter, bluesky", composite.Error())

	validationOnly := &CompositeError{Results: []PlatformResult{
		{Target: TargetTwitter, Err: &ValidationError{Platform: TargetTwitter, Reason: "disabled"}},
	}}
	require.Equal(t, http.StatusBadRequest, validationOnly.StatusCode())
}

func TestNewErrorPayload(t *testing.T) {
	t.Parallel()

	payload := NewErrorPayload(TargetMastodon, &RequestError{
		Platform: TargetMastodon,
		Status:   422,
		Message:  "Validation failed",
		Body:     `{"error":"Text limit exceeded"}`,
	})
	require.Equal(t, TargetMastodon, payload.Module)
	require.Equal(t, 422, payload.Status)
	require.Contains(t, payload.Body, "Text limit exceeded")

	payload = NewErrorPayload(TargetBluesky, errors.New("dial tcp: refused"))
	require.Equal(t, http.StatusInternalServerError, payload.Status)
	require.Empty(t, payload.Body)
	require.Contains(t, payload.Message, "unexpected")
}
