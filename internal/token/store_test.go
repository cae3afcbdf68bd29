package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveAndValid(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "jti-1", 10*time.Minute))

	live, err := store.Valid(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, live)

	live, err = store.Valid(ctx, "jti-unknown")
	require.NoError(t, err)
	assert.False(t, live)
}

func TestMemoryStore_ExpiryEvicts(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "jti-1", 10*time.Minute))
	clock.Advance(10*time.Minute + time.Second)

	live, err := store.Valid(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, live)

	// Rewinding cannot resurrect it; the entry was evicted.
	clock.Advance(-5 * time.Minute)
	live, err = store.Valid(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, live)
}
