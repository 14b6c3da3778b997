package prefetch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/warmcache/pkg/prefetch"
)

func TestQueue_Attach(t *testing.T) {
	t.Parallel()

	t.Run("enter enqueues at medium priority", func(t *testing.T) {
		t.Parallel()

		log := &settledLog{}
		q := prefetch.New(func(context.Context, string) error { return nil }, prefetch.WithOnSettled(log.record))
		defer q.Close()

		src := prefetch.NewManualSource()
		q.Attach(src)

		src.Enter("item:1")
		require.Eventually(t, func() bool { return q.Prefetched("item:1") }, time.Second, time.Millisecond)
	})

	t.Run("hover is debounced", func(t *testing.T) {
		t.Parallel()

		q := prefetch.New(func(context.Context, string) error { return nil },
			prefetch.WithHoverDebounce(30*time.Millisecond))
		defer q.Close()

		src := prefetch.NewManualSource()
		q.Attach(src)

		src.Hover("item:1")
		time.Sleep(10 * time.Millisecond)
		src.Hover("item:1")
		time.Sleep(10 * time.Millisecond)
		require.False(t, q.Prefetched("item:1"), "debounce window restarted")
		require.Zero(t, q.Stats().Enqueued)

		require.Eventually(t, func() bool { return q.Prefetched("item:1") }, time.Second, time.Millisecond)
		require.Equal(t, int64(1), q.Stats().Enqueued)
	})

	t.Run("idle enqueues registered candidates", func(t *testing.T) {
		t.Parallel()

		q := prefetch.New(func(context.Context, string) error { return nil })
		defer q.Close()

		src := prefetch.NewManualSource()
		q.Attach(src)
		q.WhenIdle("a", "b", "a")

		src.Idle()
		require.Eventually(t, func() bool {
			return q.Prefetched("a") && q.Prefetched("b")
		}, time.Second, time.Millisecond)
		require.Equal(t, int64(2), q.Stats().Enqueued)

		src.Idle()
		time.Sleep(10 * time.Millisecond)
		require.Equal(t, int64(2), q.Stats().Enqueued, "prefetched candidates are not re-enqueued")
	})

	t.Run("close stops pending hovers", func(t *testing.T) {
		t.Parallel()

		q := prefetch.New(func(context.Context, string) error { return nil },
			prefetch.WithHoverDebounce(20*time.Millisecond))

		src := prefetch.NewManualSource()
		q.Attach(src)
		src.Hover("item:1")
		require.NoError(t, q.Close())

		time.Sleep(40 * time.Millisecond)
		require.Zero(t, q.Stats().Enqueued)
	})
}

func TestCronSource(t *testing.T) {
	t.Parallel()

	t.Run("invalid schedule", func(t *testing.T) {
		t.Parallel()

		_, err := prefetch.NewCronSource("not a schedule")
		require.ErrorIs(t, err, prefetch.ErrInvalidCron)
	})

	t.Run("fires idle ticks", func(t *testing.T) {
		t.Parallel()

		src, err := prefetch.NewCronSource("@every 1s")
		require.NoError(t, err)

		q := prefetch.New(func(context.Context, string) error { return nil })
		defer q.Close()
		q.Attach(src)
		q.WhenIdle("report:daily")

		src.Start()
		defer src.Stop()

		require.Eventually(t, func() bool { return q.Prefetched("report:daily") }, 3*time.Second, 10*time.Millisecond)
	})
}
