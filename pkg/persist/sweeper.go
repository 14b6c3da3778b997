package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often Sweep runs. Default: 10 minutes.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweepTimeout bounds a single sweep run. Default: 30 seconds.
func WithSweepTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSweepLogger sets the logger for sweep results and failures.
func WithSweepLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// Sweeper periodically removes records older than maxAge from a Store.
// Failures are logged and retried on the next tick.
type Sweeper struct {
	store    Store
	logger   *slog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	maxAge   time.Duration
	interval time.Duration
	timeout  time.Duration
	mu       sync.Mutex
}

// NewSweeper creates a sweeper for store. It does nothing until Start.
func NewSweeper(store Store, maxAge time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:    store,
		maxAge:   maxAge,
		interval: 10 * time.Minute,
		timeout:  30 * time.Second,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends the loop and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// RunOnce performs one bounded sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	removed, err := s.store.Sweep(ctx, s.maxAge)
	if err != nil {
		s.logger.WarnContext(ctx, "persistent sweep failed",
			slog.Duration("max_age", s.maxAge),
			slog.Any("error", err),
		)
		return removed, err
	}

	if removed > 0 {
		s.logger.DebugContext(ctx, "persistent sweep removed records",
			slog.Int("removed", removed),
		)
	}
	return removed, nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}
