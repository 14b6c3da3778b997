package hints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/warmcache/pkg/prefetch"
)

// Sink receives delivered hints. (*prefetch.Queue).Enqueue satisfies it.
type Sink func(target string, opts ...prefetch.TaskOption) (uuid.UUID, error)

// Consumer delivers hints from River into a prefetch queue. It also
// publishes, so one process can do both.
type Consumer struct {
	*Publisher
	logger *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewConsumer creates a River client that works the hint queue and hands
// every hint to sink. Hints can be published before Start.
func NewConsumer(pool *pgxpool.Pool, sink Sink, opts ...Option) (*Consumer, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}
	if sink == nil {
		return nil, ErrSinkRequired
	}

	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	var periodicJobs []*river.PeriodicJob
	for _, p := range cfg.periodics {
		schedule, err := parseCronSchedule(p.schedule)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, p.schedule, err)
		}
		for _, h := range p.hints {
			periodicJobs = append(periodicJobs, river.NewPeriodicJob(
				schedule,
				func() (river.JobArgs, *river.InsertOpts) {
					return &hintArgs{Hint: h}, &river.InsertOpts{Queue: cfg.queue}
				},
				&river.PeriodicJobOpts{RunOnStart: false},
			))
		}
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &hintWorker{sink: sink, logger: cfg.logger})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			cfg.queue: {MaxWorkers: cfg.workers},
		},
		Workers:      workers,
		PeriodicJobs: periodicJobs,
		Logger:       cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("hints: create consumer client: %w", err)
	}

	return &Consumer{
		Publisher: &Publisher{
			pool:   pool,
			client: client,
			logger: cfg.logger,
			queue:  cfg.queue,
		},
		logger: cfg.logger,
	}, nil
}

// Start begins delivering hints.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	if err := c.client.Start(ctx); err != nil {
		return fmt.Errorf("hints: start client: %w", err)
	}

	c.started = true
	c.logger.Info("hint consumer started", slog.String("queue", c.queue))
	return nil
}

// Stop waits for in-progress deliveries and stops fetching new hints.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return ErrNotStarted
	}
	if err := c.client.Stop(ctx); err != nil {
		return fmt.Errorf("hints: stop client: %w", err)
	}

	c.started = false
	c.logger.Info("hint consumer stopped")
	return nil
}

type hintWorker struct {
	river.WorkerDefaults[hintArgs]
	sink   Sink
	logger *slog.Logger
}

// Work hands the hint to the sink. A target the queue already knows counts
// as delivered. A closed queue cancels the job instead of retrying it.
func (w *hintWorker) Work(ctx context.Context, job *river.Job[hintArgs]) error {
	id, err := w.sink(job.Args.Target, job.Args.taskOptions()...)
	switch {
	case err == nil:
		w.logger.DebugContext(ctx, "prefetch hint delivered",
			slog.String("target", job.Args.Target),
			slog.String("task_id", id.String()),
			slog.Int64("job_id", job.ID),
		)
		return nil
	case errors.Is(err, prefetch.ErrAlreadyKnown):
		return nil
	case errors.Is(err, prefetch.ErrClosed), errors.Is(err, prefetch.ErrEmptyTarget):
		return river.JobCancel(err)
	default:
		w.logger.WarnContext(ctx, "prefetch hint not delivered",
			slog.String("target", job.Args.Target),
			slog.Int64("job_id", job.ID),
			slog.Int("attempt", job.Attempt),
			slog.Any("error", err),
		)
		return err
	}
}

type cronScheduleAdapter struct {
	schedule cron.Schedule
}

func (a *cronScheduleAdapter) Next(current time.Time) time.Time {
	return a.schedule.Next(current)
}

func parseCronSchedule(expr string) (river.PeriodicSchedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &cronScheduleAdapter{schedule: schedule}, nil
}
