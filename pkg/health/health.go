package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultTimeout = 3 * time.Second

	// StatusHealthy indicates all checks passed.
	StatusHealthy = "healthy"
	// StatusDegraded indicates only non-critical checks failed. The cache
	// still serves from memory, so the instance stays ready.
	StatusDegraded = "degraded"
	// StatusUnhealthy indicates a critical check failed.
	StatusUnhealthy = "unhealthy"
)

// CheckFunc matches the Healthcheck closures of pkg/db, pkg/redis and the
// persistent stores.
type CheckFunc func(ctx context.Context) error

// Checks is a map of named health check functions.
type Checks map[string]CheckFunc

// Response is the aggregated result of a readiness run.
type Response struct {
	Checks map[string]Check `json:"checks,omitempty"`
	Status string           `json:"status"`
}

// Check is the result of a single named check.
type Check struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Critical bool   `json:"critical"`
}

type config struct {
	logger   *slog.Logger
	optional Checks
	timeout  time.Duration
}

// Option configures health check behavior.
type Option func(*config)

// WithTimeout bounds a whole run of checks. Default: 3 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger for failed checks.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOptional adds checks whose failure degrades the status instead of
// making the instance unready. Persistent cache tiers belong here.
func WithOptional(checks Checks) Option {
	return func(c *config) {
		if c.optional == nil {
			c.optional = make(Checks, len(checks))
		}
		for name, fn := range checks {
			c.optional[name] = fn
		}
	}
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		timeout: defaultTimeout,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Run executes critical and optional checks in parallel.
func Run(ctx context.Context, critical Checks, opts ...Option) *Response {
	return runChecks(ctx, critical, newConfig(opts...))
}

func runChecks(ctx context.Context, critical Checks, cfg *config) *Response {
	if len(critical) == 0 && len(cfg.optional) == 0 {
		return &Response{Status: StatusHealthy}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]Check, len(critical)+len(cfg.optional))
		status  = StatusHealthy
	)

	run := func(name string, check CheckFunc, isCritical bool) {
		result := Check{Status: StatusHealthy, Critical: isCritical}
		err := check(ctx)
		if err != nil {
			result.Status = StatusUnhealthy
			result.Error = err.Error()
			cfg.logger.WarnContext(ctx, "health check failed",
				slog.String("check", name),
				slog.Bool("critical", isCritical),
				slog.String("error", err.Error()),
			)
		}

		mu.Lock()
		defer mu.Unlock()
		results[name] = result
		switch {
		case err == nil:
		case isCritical:
			status = StatusUnhealthy
		case status == StatusHealthy:
			status = StatusDegraded
		}
	}

	for name, check := range critical {
		wg.Go(func() { run(name, check, true) })
	}
	for name, check := range cfg.optional {
		wg.Go(func() { run(name, check, false) })
	}
	wg.Wait()

	return &Response{
		Status: status,
		Checks: results,
	}
}
