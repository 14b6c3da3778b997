// Package arena owns the background goroutines of a cache instance.
//
// Every task started through an Arena shares one context. Close cancels it
// and waits for all tasks, so no background work outlives its owner.
package arena

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Arena runs fire-and-forget tasks under a shared, cancellable context.
type Arena struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	group   errgroup.Group
	mu      sync.Mutex
	active  atomic.Int64
	dropped atomic.Int64
	closed  bool
}

// New creates an arena. limit caps concurrently running tasks; zero or less
// means no cap. Tasks over the cap are dropped, never queued.
func New(limit int, logger *slog.Logger) *Arena {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Arena{ctx: ctx, cancel: cancel, logger: logger}
	if limit > 0 {
		a.group.SetLimit(limit)
	}
	return a
}

// Go starts fn in the background. It never blocks. It reports false when
// the arena is closed or full. Errors returned by fn are logged, not
// propagated.
func (a *Arena) Go(name string, fn func(ctx context.Context) error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false
	}

	started := a.group.TryGo(func() error {
		a.active.Add(1)
		defer a.active.Add(-1)

		if err := fn(a.ctx); err != nil && a.ctx.Err() == nil {
			a.logger.WarnContext(a.ctx, "background task failed",
				slog.String("task", name),
				slog.Any("error", err),
			)
		}
		return nil
	})
	if !started {
		a.dropped.Add(1)
		a.logger.Debug("background task dropped", slog.String("task", name))
	}
	return started
}

// Context returns the arena context. It is cancelled by Close.
func (a *Arena) Context() context.Context {
	return a.ctx
}

// Active returns the number of running tasks.
func (a *Arena) Active() int {
	return int(a.active.Load())
}

// Dropped returns how many tasks were rejected because the arena was full.
func (a *Arena) Dropped() int64 {
	return a.dropped.Load()
}

// Close cancels the shared context and waits for every task to return.
// Close is idempotent.
func (a *Arena) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	_ = a.group.Wait()
}
