package prefetch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/warmcache/pkg/prefetch"
)

// settledLog records final task states in the order the worker produced them.
type settledLog struct {
	targets []string
	states  []prefetch.State
	mu      sync.Mutex
}

func (l *settledLog) record(task prefetch.Task, state prefetch.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.targets = append(l.targets, task.Target)
	l.states = append(l.states, state)
}

func (l *settledLog) snapshot() ([]string, []prefetch.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.targets...), append([]prefetch.State(nil), l.states...)
}

func (l *settledLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.targets)
}

// gatedExecutor blocks on the "gate" target until release is closed.
func gatedExecutor(release <-chan struct{}) prefetch.Executor {
	return func(ctx context.Context, target string) error {
		if target == "gate" {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

// --- Queue: ordering ---

func TestQueue_PriorityOrdering(t *testing.T) {
	t.Parallel()

	log := &settledLog{}
	release := make(chan struct{})
	q := prefetch.New(gatedExecutor(release), prefetch.WithOnSettled(log.record))
	defer q.Close()

	_, err := q.Enqueue("gate")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)

	for _, tc := range []struct {
		target   string
		priority prefetch.Priority
	}{
		{"low-1", prefetch.PriorityLow},
		{"high-1", prefetch.PriorityHigh},
		{"medium-1", prefetch.PriorityMedium},
		{"low-2", prefetch.PriorityLow},
		{"medium-2", prefetch.PriorityMedium},
	} {
		_, err := q.Enqueue(tc.target, prefetch.WithPriority(tc.priority))
		require.NoError(t, err)
	}
	require.Equal(t, 5, q.Len())

	close(release)
	require.Eventually(t, func() bool { return log.len() == 6 }, time.Second, time.Millisecond)

	targets, _ := log.snapshot()
	require.Equal(t, []string{"gate", "high-1", "medium-1", "medium-2", "low-1", "low-2"}, targets)
}

func TestQueue_HighPriorityIsFIFO(t *testing.T) {
	t.Parallel()

	log := &settledLog{}
	release := make(chan struct{})
	q := prefetch.New(gatedExecutor(release), prefetch.WithOnSettled(log.record))
	defer q.Close()

	_, err := q.Enqueue("gate")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)

	for _, target := range []string{"medium", "high-1", "high-2", "high-3"} {
		p := prefetch.PriorityHigh
		if target == "medium" {
			p = prefetch.PriorityMedium
		}
		_, err := q.Enqueue(target, prefetch.WithPriority(p))
		require.NoError(t, err)
	}

	close(release)
	require.Eventually(t, func() bool { return log.len() == 5 }, time.Second, time.Millisecond)

	targets, _ := log.snapshot()
	require.Equal(t, []string{"gate", "high-1", "high-2", "high-3", "medium"}, targets)
}

func TestQueue_LowThenHigh(t *testing.T) {
	t.Parallel()

	log := &settledLog{}
	release := make(chan struct{})
	q := prefetch.New(gatedExecutor(release), prefetch.WithOnSettled(log.record))
	defer q.Close()

	_, err := q.Enqueue("gate")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)

	_, err = q.Enqueue("low", prefetch.WithPriority(prefetch.PriorityLow))
	require.NoError(t, err)
	_, err = q.Enqueue("high", prefetch.WithPriority(prefetch.PriorityHigh))
	require.NoError(t, err)

	close(release)
	require.Eventually(t, func() bool { return log.len() == 3 }, time.Second, time.Millisecond)

	targets, _ := log.snapshot()
	require.Equal(t, []string{"gate", "high", "low"}, targets)
}

// --- Queue: Enqueue ---

func TestQueue_Enqueue(t *testing.T) {
	t.Parallel()

	t.Run("rejects duplicates and prefetched targets", func(t *testing.T) {
		t.Parallel()

		log := &settledLog{}
		release := make(chan struct{})
		q := prefetch.New(gatedExecutor(release), prefetch.WithOnSettled(log.record))
		defer q.Close()

		_, err := q.Enqueue("gate")
		require.NoError(t, err)
		_, err = q.Enqueue("gate")
		require.ErrorIs(t, err, prefetch.ErrAlreadyKnown, "running target")

		_, err = q.Enqueue("a")
		require.NoError(t, err)
		_, err = q.Enqueue("a", prefetch.WithPriority(prefetch.PriorityHigh))
		require.ErrorIs(t, err, prefetch.ErrAlreadyKnown, "queued target")

		close(release)
		require.Eventually(t, func() bool { return q.Prefetched("a") }, time.Second, time.Millisecond)

		_, err = q.Enqueue("a")
		require.ErrorIs(t, err, prefetch.ErrAlreadyKnown, "prefetched target")

		_, err = q.Enqueue("a", prefetch.Forced())
		require.NoError(t, err)

		require.Eventually(t, func() bool { return log.len() == 3 }, time.Second, time.Millisecond)
		q.Forget("a")
		require.False(t, q.Prefetched("a"))
	})

	t.Run("rejects empty target", func(t *testing.T) {
		t.Parallel()

		q := prefetch.New(func(context.Context, string) error { return nil })
		defer q.Close()

		_, err := q.Enqueue("")
		require.ErrorIs(t, err, prefetch.ErrEmptyTarget)
	})

	t.Run("rejects when full", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		defer close(release)
		q := prefetch.New(gatedExecutor(release), prefetch.WithMaxLen(1))
		defer q.Close()

		_, err := q.Enqueue("gate")
		require.NoError(t, err)
		require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)

		_, err = q.Enqueue("a")
		require.NoError(t, err)
		_, err = q.Enqueue("b")
		require.ErrorIs(t, err, prefetch.ErrQueueFull)
	})
}

// --- Queue: task lifecycle ---

func TestQueue_TaskStates(t *testing.T) {
	t.Parallel()

	boom := errors.New("origin down")
	log := &settledLog{}
	q := prefetch.New(func(_ context.Context, target string) error {
		if target == "bad" {
			return boom
		}
		return nil
	}, prefetch.WithOnSettled(log.record))
	defer q.Close()

	_, err := q.Enqueue("skip", prefetch.WithCondition(func() bool { return false }))
	require.NoError(t, err)
	_, err = q.Enqueue("bad")
	require.NoError(t, err)
	_, err = q.Enqueue("good")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return log.len() == 3 }, time.Second, time.Millisecond)

	targets, states := log.snapshot()
	require.Equal(t, []string{"skip", "bad", "good"}, targets)
	require.Equal(t, []prefetch.State{prefetch.StateSkipped, prefetch.StateFailed, prefetch.StateCompleted}, states)

	require.False(t, q.Prefetched("skip"))
	require.False(t, q.Prefetched("bad"))
	require.True(t, q.Prefetched("good"))

	stats := q.Stats()
	require.Equal(t, int64(3), stats.Enqueued)
	require.Equal(t, int64(1), stats.Completed)
	require.Equal(t, int64(1), stats.Skipped)
	require.Equal(t, int64(1), stats.Failed)
}

func TestQueue_Delay(t *testing.T) {
	t.Parallel()

	ran := make(chan time.Time, 1)
	q := prefetch.New(func(context.Context, string) error {
		ran <- time.Now()
		return nil
	})
	defer q.Close()

	start := time.Now()
	_, err := q.Enqueue("a", prefetch.WithDelay(50*time.Millisecond))
	require.NoError(t, err)

	select {
	case at := <-ran:
		require.GreaterOrEqual(t, at.Sub(start), 50*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestQueue_Close(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	cancelled := make(chan error, 1)
	q := prefetch.New(func(ctx context.Context, target string) error {
		close(started)
		<-ctx.Done()
		cancelled <- ctx.Err()
		return ctx.Err()
	})

	_, err := q.Enqueue("a")
	require.NoError(t, err)
	<-started

	_, err = q.Enqueue("b")
	require.NoError(t, err)

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	require.ErrorIs(t, <-cancelled, context.Canceled)
	require.Zero(t, q.Len())

	_, err = q.Enqueue("c")
	require.ErrorIs(t, err, prefetch.ErrClosed)
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	require.Equal(t, prefetch.PriorityHigh, prefetch.ParsePriority("HIGH"))
	require.Equal(t, prefetch.PriorityLow, prefetch.ParsePriority(" low "))
	require.Equal(t, prefetch.PriorityMedium, prefetch.ParsePriority("medium"))
	require.Equal(t, prefetch.PriorityMedium, prefetch.ParsePriority("bogus"))
	require.Equal(t, "high", prefetch.PriorityHigh.String())
}
