package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryExclusivityReclaim(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExclusivity()

	// An empty expected holder matches a free slot.
	swapped, err := s.Reclaim(ctx, "user-1", "", "sess-a")
	require.NoError(t, err)
	assert.True(t, swapped)

	// A stale expectation loses the swap.
	swapped, err = s.Reclaim(ctx, "user-1", "sess-ghost", "sess-b")
	require.NoError(t, err)
	assert.False(t, swapped)

	swapped, err = s.Reclaim(ctx, "user-1", "sess-a", "sess-b")
	require.NoError(t, err)
	assert.True(t, swapped)

	holder, err := s.Holder(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-b", holder)
}
