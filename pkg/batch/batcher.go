package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Processor handles a whole batch. results[i] answers items[i].
// An error rejects every item of the batch.
type Processor[I, R any] func(ctx context.Context, items []I) ([]R, error)

// Result is delivered to each submitter once its batch settles.
type Result[R any] struct {
	Value R
	Err   error
}

// Stats holds batcher counters.
type Stats struct {
	Batches int64
	Items   int64
	Failed  int64
	Pending int
}

type waiter[I, R any] struct {
	item I
	out  chan Result[R]
}

// Batcher merges items that arrive close together into one processor call.
// A single worker processes flushed windows in order, so batches never overlap.
type Batcher[I, R any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	process Processor[I, R]
	opts    *options
	timer   *time.Timer
	signal  chan struct{}
	window  []waiter[I, R]
	queued  [][]waiter[I, R]
	wg      sync.WaitGroup
	mu      sync.Mutex
	gen     uint64
	closed  bool

	batches atomic.Int64
	items   atomic.Int64
	failed  atomic.Int64
}

// New creates a Batcher and starts its worker.
func New[I, R any](process Processor[I, R], opts ...Option) *Batcher[I, R] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Batcher[I, R]{
		ctx:     ctx,
		cancel:  cancel,
		process: process,
		opts:    o,
		signal:  make(chan struct{}, 1),
	}

	b.wg.Add(1)
	go b.worker()

	return b
}

// Add submits item and blocks until its batch settles or ctx ends.
func (b *Batcher[I, R]) Add(ctx context.Context, item I) (R, error) {
	select {
	case res := <-b.Submit(item):
		return res.Value, res.Err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Submit adds item to the current window and returns a channel that receives
// exactly one Result.
func (b *Batcher[I, R]) Submit(item I) <-chan Result[R] {
	out := make(chan Result[R], 1)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		out <- Result[R]{Err: ErrClosed}
		return out
	}

	b.window = append(b.window, waiter[I, R]{item: item, out: out})

	switch {
	case len(b.window) >= b.opts.maxBatchSize:
		b.flushLocked()
	case len(b.window) == 1:
		gen := b.gen
		b.timer = time.AfterFunc(b.opts.maxWaitTime, func() { b.expire(gen) })
	}

	return out
}

// Flush hands the current window to the worker without waiting for the timer.
func (b *Batcher[I, R]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed && len(b.window) > 0 {
		b.flushLocked()
	}
}

// Stats returns a snapshot of the counters.
func (b *Batcher[I, R]) Stats() Stats {
	b.mu.Lock()
	pending := len(b.window)
	for _, q := range b.queued {
		pending += len(q)
	}
	b.mu.Unlock()

	return Stats{
		Batches: b.batches.Load(),
		Items:   b.items.Load(),
		Failed:  b.failed.Load(),
		Pending: pending,
	}
}

// Close rejects unprocessed items with ErrClosed, cancels the batch in
// flight and waits for the worker. Close is idempotent.
func (b *Batcher[I, R]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	rejected := b.window
	for _, q := range b.queued {
		rejected = append(rejected, q...)
	}
	b.window, b.queued = nil, nil
	b.mu.Unlock()

	for _, w := range rejected {
		w.out <- Result[R]{Err: ErrClosed}
	}

	b.cancel()
	b.wg.Wait()
	return nil
}

// expire flushes the window the timer was started for, if it is still open.
func (b *Batcher[I, R]) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed && b.gen == gen && len(b.window) > 0 {
		b.flushLocked()
	}
}

func (b *Batcher[I, R]) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.queued = append(b.queued, b.window)
	b.window = nil
	b.gen++

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *Batcher[I, R]) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.signal:
		}

		for {
			b.mu.Lock()
			if len(b.queued) == 0 {
				b.mu.Unlock()
				break
			}
			next := b.queued[0]
			b.queued = b.queued[1:]
			b.mu.Unlock()

			b.run(next)
		}
	}
}

type outcome[R any] struct {
	results []R
	err     error
}

// run processes one batch and settles every waiter in it.
func (b *Batcher[I, R]) run(batch []waiter[I, R]) {
	id := uuid.New()
	ctx, cancel := context.WithTimeout(b.ctx, b.opts.timeout)
	defer cancel()

	items := make([]I, len(batch))
	for i, w := range batch {
		items[i] = w.item
	}

	done := make(chan outcome[R], 1)
	go func() {
		results, err := b.process(ctx, items)
		done <- outcome[R]{results: results, err: err}
	}()

	var res outcome[R]
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	b.batches.Add(1)
	b.items.Add(int64(len(batch)))

	if res.err != nil {
		b.failed.Add(1)
		err := b.classify(ctx, res.err)
		b.opts.logger.Warn("batch failed",
			slog.String("batch_id", id.String()),
			slog.Int("size", len(batch)),
			slog.Any("error", res.err),
		)
		for _, w := range batch {
			w.out <- Result[R]{Err: err}
		}
		return
	}

	for i, w := range batch {
		if i < len(res.results) {
			w.out <- Result[R]{Value: res.results[i]}
			continue
		}
		w.out <- Result[R]{Err: ErrMissingResult}
	}
}

func (b *Batcher[I, R]) classify(ctx context.Context, err error) error {
	switch {
	case b.ctx.Err() != nil:
		return ErrClosed
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.Join(ErrBatchFailed, ErrTimeout, err)
	default:
		return errors.Join(ErrBatchFailed, err)
	}
}
