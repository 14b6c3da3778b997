package batch_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/warmcache/pkg/batch"
)

// recorder captures the batches a processor sees.
type recorder struct {
	sizes []int
	times []time.Time
	mu    sync.Mutex
}

func (r *recorder) process(_ context.Context, items []int) ([]string, error) {
	r.mu.Lock()
	r.sizes = append(r.sizes, len(items))
	r.times = append(r.times, time.Now())
	r.mu.Unlock()

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = strconv.Itoa(it * 10)
	}
	return out, nil
}

func (r *recorder) snapshot() ([]int, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.sizes...), append([]time.Time(nil), r.times...)
}

// --- Batcher: grouping ---

func TestBatcher_Grouping(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	b := batch.New(rec.process, batch.WithMaxBatchSize(3), batch.WithMaxWaitTime(50*time.Millisecond))
	defer b.Close()

	start := time.Now()
	chans := make([]<-chan batch.Result[string], 5)
	for i := range chans {
		chans[i] = b.Submit(i)
	}

	for i, ch := range chans {
		res := <-ch
		require.NoError(t, res.Err)
		require.Equal(t, strconv.Itoa(i*10), res.Value)
	}

	sizes, times := rec.snapshot()
	require.Equal(t, []int{3, 2}, sizes)
	require.Less(t, times[0].Sub(start), 40*time.Millisecond, "full window flushes immediately")
	require.GreaterOrEqual(t, times[1].Sub(start), 50*time.Millisecond, "partial window waits for the timer")

	stats := b.Stats()
	require.Equal(t, int64(2), stats.Batches)
	require.Equal(t, int64(5), stats.Items)
	require.Zero(t, stats.Failed)
	require.Zero(t, stats.Pending)
}

func TestBatcher_Add(t *testing.T) {
	t.Parallel()

	t.Run("blocks until the batch settles", func(t *testing.T) {
		t.Parallel()

		rec := &recorder{}
		b := batch.New(rec.process, batch.WithMaxWaitTime(10*time.Millisecond))
		defer b.Close()

		var wg sync.WaitGroup
		results := make([]string, 4)
		for i := range results {
			wg.Go(func() {
				v, err := b.Add(context.Background(), i+1)
				require.NoError(t, err)
				results[i] = v
			})
		}
		wg.Wait()

		require.Equal(t, []string{"10", "20", "30", "40"}, results)
		sizes, _ := rec.snapshot()
		require.Equal(t, []int{4}, sizes)
	})

	t.Run("returns when ctx ends", func(t *testing.T) {
		t.Parallel()

		b := batch.New(func(ctx context.Context, items []int) ([]int, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, batch.WithMaxWaitTime(time.Millisecond))
		defer b.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := b.Add(ctx, 1)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestBatcher_Flush(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	b := batch.New(rec.process, batch.WithMaxWaitTime(time.Hour))
	defer b.Close()

	ch := b.Submit(7)
	b.Flush()

	select {
	case res := <-ch:
		require.NoError(t, res.Err)
		require.Equal(t, "70", res.Value)
	case <-time.After(time.Second):
		t.Fatal("flush did not process the window")
	}
}

// --- Batcher: failures ---

func TestBatcher_Failures(t *testing.T) {
	t.Parallel()

	t.Run("processor error rejects every item", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("bulk api down")
		b := batch.New(func(context.Context, []int) ([]int, error) {
			return nil, boom
		}, batch.WithMaxBatchSize(3))
		defer b.Close()

		chans := []<-chan batch.Result[int]{b.Submit(1), b.Submit(2), b.Submit(3)}
		for _, ch := range chans {
			res := <-ch
			require.ErrorIs(t, res.Err, batch.ErrBatchFailed)
			require.ErrorIs(t, res.Err, boom)
		}
		require.Equal(t, int64(1), b.Stats().Failed)
	})

	t.Run("short result slice yields ErrMissingResult", func(t *testing.T) {
		t.Parallel()

		b := batch.New(func(_ context.Context, items []int) ([]int, error) {
			return []int{items[0] * 2}, nil
		}, batch.WithMaxBatchSize(2))
		defer b.Close()

		first, second := b.Submit(4), b.Submit(5)

		res := <-first
		require.NoError(t, res.Err)
		require.Equal(t, 8, res.Value)

		res = <-second
		require.ErrorIs(t, res.Err, batch.ErrMissingResult)
	})

	t.Run("processor timeout fails the batch", func(t *testing.T) {
		t.Parallel()

		stuck := make(chan struct{})
		defer close(stuck)

		b := batch.New(func(context.Context, []int) ([]int, error) {
			<-stuck
			return nil, nil
		}, batch.WithMaxBatchSize(1), batch.WithTimeout(20*time.Millisecond))
		defer b.Close()

		res := <-b.Submit(1)
		require.ErrorIs(t, res.Err, batch.ErrBatchFailed)
		require.ErrorIs(t, res.Err, batch.ErrTimeout)
	})
}

// --- Batcher: concurrency ---

func TestBatcher_SequentialBatches(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	b := batch.New(func(_ context.Context, items []int) ([]int, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return items, nil
	}, batch.WithMaxBatchSize(2))
	defer b.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			v, err := b.Add(context.Background(), i)
			require.NoError(t, err)
			require.Equal(t, i, v)
		})
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInFlight.Load())
}

// --- Batcher: Close ---

func TestBatcher_Close(t *testing.T) {
	t.Parallel()

	t.Run("rejects unflushed items", func(t *testing.T) {
		t.Parallel()

		rec := &recorder{}
		b := batch.New(rec.process, batch.WithMaxWaitTime(time.Hour))

		ch := b.Submit(1)
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())

		res := <-ch
		require.ErrorIs(t, res.Err, batch.ErrClosed)

		res = <-b.Submit(2)
		require.ErrorIs(t, res.Err, batch.ErrClosed)

		sizes, _ := rec.snapshot()
		require.Empty(t, sizes)
	})

	t.Run("cancels the batch in flight", func(t *testing.T) {
		t.Parallel()

		started := make(chan struct{})
		b := batch.New(func(ctx context.Context, _ []int) ([]int, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, batch.WithMaxBatchSize(1))

		ch := b.Submit(1)
		<-started
		require.NoError(t, b.Close())

		res := <-ch
		require.ErrorIs(t, res.Err, batch.ErrClosed)
	})
}
