package memory

import (
	"context"
	"testing"
	"time"

	"livecast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRepository_CRUD(t *testing.T) {
	repo := NewStreamRepository()
	ctx := context.Background()

	stream := &domain.Stream{
		ID:            "s1",
		BroadcasterID: "host-1",
		Kind:          domain.StreamKindVideo,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, stream))

	assert.ErrorIs(t, repo.Create(ctx, stream), domain.ErrStreamExists)

	got, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, stream.BroadcasterID, got.BroadcasterID)

	// Mutating the returned copy must not leak into the store.
	got.IsLive = true
	again, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, again.IsLive)

	got.IsLive = true
	require.NoError(t, repo.Update(ctx, got))
	updated, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, updated.IsLive)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrStreamNotFound)
	assert.ErrorIs(t, repo.Update(ctx, &domain.Stream{ID: "missing"}), domain.ErrStreamNotFound)
}

func TestViewerCountStore(t *testing.T) {
	store := NewViewerCountStore()
	ctx := context.Background()

	n, err := store.Increment(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Increment(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.Decrement(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Decrement(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Never below zero, even with unbalanced decrements.
	n, err = store.Decrement(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = store.Get(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
