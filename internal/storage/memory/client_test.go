package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersPerUserAndDay(t *testing.T) {
	c := New()
	ctx := context.Background()

	n, err := c.IncrMessages(ctx, "alice", "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.IncrMessages(ctx, "alice", "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Another day and another user count separately.
	n, err = c.IncrMessages(ctx, "alice", "2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.IncrImages(ctx, "bob", "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msgs, imgs, err := c.Counts(ctx, "alice", "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, int64(2), msgs)
	assert.Equal(t, int64(0), imgs)

	msgs, imgs, err = c.Counts(ctx, "carol", "2026-08-30")
	require.NoError(t, err)
	assert.Zero(t, msgs)
	assert.Zero(t, imgs)
}

func TestConcurrentIncrements(t *testing.T) {
	c := New()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.IncrMessages(ctx, "alice", "2026-08-30")
		}()
	}
	wg.Wait()

	msgs, _, err := c.Counts(ctx, "alice", "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, int64(n), msgs)
}
