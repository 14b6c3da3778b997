package persist_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/warmcache/pkg/persist"
)

// countingStore wraps Memory and counts sweeps, optionally failing them.
type countingStore struct {
	*persist.Memory
	err    error
	sweeps atomic.Int32
}

func (c *countingStore) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	c.sweeps.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return c.Memory.Sweep(ctx, maxAge)
}

func TestSweeper_RunOnce(t *testing.T) {
	t.Parallel()

	store := &countingStore{Memory: persist.NewMemory()}
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Set(ctx, persist.Record{Key: "old", StoredAt: now.Add(-time.Hour), FetchedAt: now, TTL: -1}))
	require.NoError(t, store.Set(ctx, persist.Record{Key: "new", FetchedAt: now, TTL: -1}))

	sw := persist.NewSweeper(store, time.Minute)
	removed, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Equal(t, 1, store.Len())
}

func TestSweeper_RunOnceError(t *testing.T) {
	t.Parallel()

	boom := errors.New("backend down")
	store := &countingStore{Memory: persist.NewMemory(), err: boom}

	_, err := persist.NewSweeper(store, time.Minute).RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestSweeper_StartStop(t *testing.T) {
	t.Parallel()

	store := &countingStore{Memory: persist.NewMemory(), err: errors.New("keeps failing")}
	sw := persist.NewSweeper(store, time.Minute, persist.WithSweepInterval(10*time.Millisecond))

	sw.Start(context.Background())
	sw.Start(context.Background())

	require.Eventually(t, func() bool {
		return store.sweeps.Load() >= 2
	}, time.Second, 5*time.Millisecond, "sweeper keeps running after failures")

	sw.Stop()
	after := store.sweeps.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, after, store.sweeps.Load())
}
