package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensyndicate/syndicate/internal/blob"
)

func TestPutGetExists(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()

	uri, err := store.Put(ctx, "files/abc", "image/jpeg", bytes.NewReader([]byte("jpeg")))
	require.NoError(t, err)
	assert.Equal(t, "memory://files/abc", uri)

	data, err := store.Get(ctx, "files/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	// Mutating the returned slice must not affect the stored copy.
	data[0] = 'X'
	again, err := store.Get(ctx, "files/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), again)

	ok, err := store.Exists(ctx, "files/abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}
