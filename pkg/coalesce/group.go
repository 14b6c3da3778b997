package coalesce

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Func is the work a Group de-duplicates. It receives a context bounded by
// the group timeout, not by the caller that started it.
type Func[V any] func(ctx context.Context) (V, error)

type call[V any] struct {
	finishedAt time.Time
	done       chan struct{}
	val        V
	err        error
	completed  bool
}

type failure struct {
	last    time.Time
	lastErr error
	count   int
}

// Group runs at most one call per key at a time and shares its result with
// every caller that arrives while it is in flight or within the grace delay
// after it completes.
type Group[V any] struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     *options
	calls    map[string]*call[V]
	failures map[string]*failure
	wg       sync.WaitGroup
	mu       sync.Mutex
	inflight int
	closed   bool
}

// New creates a Group and starts its bookkeeping sweeper.
func New[V any](opts ...Option) *Group[V] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Group[V]{
		ctx:      ctx,
		cancel:   cancel,
		opts:     o,
		calls:    make(map[string]*call[V]),
		failures: make(map[string]*failure),
	}

	g.wg.Add(1)
	go g.sweeper()

	return g
}

// Do returns the result of fn for key, running fn only if no call for key is
// in flight or recently completed. A caller whose ctx ends stops waiting
// without affecting other waiters or the running call.
func (g *Group[V]) Do(ctx context.Context, key string, fn Func[V]) (V, error) {
	var zero V
	now := g.opts.now()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return zero, ErrClosed
	}

	if c, ok := g.calls[key]; ok {
		if !c.completed || now.Sub(c.finishedAt) <= g.opts.graceDelay {
			g.mu.Unlock()
			return g.wait(ctx, c)
		}
		delete(g.calls, key)
	}

	if f, ok := g.failures[key]; ok && g.opts.maxRetries > 0 && f.count >= g.opts.maxRetries {
		if now.Sub(f.last) < g.opts.cooldown {
			lastErr := f.lastErr
			g.mu.Unlock()
			return zero, errors.Join(ErrMaxRetriesExceeded, lastErr)
		}
	}

	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	g.inflight++
	g.wg.Add(1)
	g.mu.Unlock()

	go g.run(key, c, fn)

	return g.wait(ctx, c)
}

// Forget drops any in-flight or completed call for key, so the next Do
// starts a fresh call. A running call still completes for its waiters.
func (g *Group[V]) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.calls, key)
}

// Reset clears the failure count of key.
func (g *Group[V]) Reset(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, key)
}

// Failures returns the consecutive failure count of key.
func (g *Group[V]) Failures(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.failures[key]; ok {
		return f.count
	}
	return 0
}

// Pending returns the number of calls currently in flight, including
// forgotten calls that have not returned yet.
func (g *Group[V]) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight
}

// Close fails current waiters with ErrClosed and rejects further calls.
// It waits for the group's goroutines; functions that ignore their context
// may keep running after Close returns. Close is idempotent.
func (g *Group[V]) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.cancel()
	g.wg.Wait()
	return nil
}

func (g *Group[V]) wait(ctx context.Context, c *call[V]) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

type result[V any] struct {
	val V
	err error
}

func (g *Group[V]) run(key string, c *call[V], fn Func[V]) {
	defer g.wg.Done()

	ctx, cancel := context.WithTimeout(g.ctx, g.opts.timeout)
	defer cancel()

	out := make(chan result[V], 1)
	go func() {
		v, err := fn(ctx)
		out <- result[V]{val: v, err: err}
	}()

	var res result[V]
	select {
	case res = <-out:
	case <-ctx.Done():
		if g.ctx.Err() != nil {
			res.err = ErrClosed
		} else {
			res.err = ErrTimeout
			g.opts.logger.Warn("coalesced call timed out",
				slog.String("key", key),
				slog.Duration("timeout", g.opts.timeout),
			)
		}
	}

	g.finish(key, c, res)
}

func (g *Group[V]) finish(key string, c *call[V], res result[V]) {
	now := g.opts.now()

	g.mu.Lock()
	c.val, c.err = res.val, res.err
	c.completed = true
	c.finishedAt = now
	g.inflight--

	switch {
	case res.err == nil:
		delete(g.failures, key)
	case !errors.Is(res.err, ErrClosed):
		f, ok := g.failures[key]
		if !ok {
			f = &failure{}
			g.failures[key] = f
		}
		f.count++
		f.last = now
		f.lastErr = res.err
		if g.opts.maxRetries > 0 && f.count == g.opts.maxRetries {
			g.opts.logger.Warn("coalesced key reached retry limit",
				slog.String("key", key),
				slog.Int("failures", f.count),
				slog.Duration("cooldown", g.opts.cooldown),
			)
		}
	}

	if g.opts.graceDelay == 0 && g.calls[key] == c {
		delete(g.calls, key)
	}
	g.mu.Unlock()

	close(c.done)
}

func (g *Group[V]) sweeper() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.opts.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

// sweep drops completed calls past their grace delay and failure records
// older than the cooldown.
func (g *Group[V]) sweep() {
	now := g.opts.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for key, c := range g.calls {
		if c.completed && now.Sub(c.finishedAt) > g.opts.graceDelay {
			delete(g.calls, key)
		}
	}
	for key, f := range g.failures {
		if now.Sub(f.last) >= g.opts.cooldown {
			delete(g.failures, key)
		}
	}
}
