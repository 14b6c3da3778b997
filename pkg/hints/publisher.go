package hints

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// Publisher inserts hints without processing them. Use it in processes
// that only know what will be needed soon, not in the ones holding the cache.
type Publisher struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	logger *slog.Logger
	queue  string
}

// NewPublisher creates an insert-only River client.
func NewPublisher(pool *pgxpool.Pool, opts ...Option) (*Publisher, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}

	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("hints: create publisher client: %w", err)
	}

	return &Publisher{
		pool:   pool,
		client: client,
		logger: cfg.logger,
		queue:  cfg.queue,
	}, nil
}

// Publish inserts a hint for the consumers of the queue.
func (p *Publisher) Publish(ctx context.Context, h Hint, opts ...PublishOption) error {
	args, insertOpts, err := buildInsert(p.queue, h, opts...)
	if err != nil {
		return err
	}

	if _, err := p.client.Insert(ctx, args, insertOpts); err != nil {
		return fmt.Errorf("hints: publish: %w", err)
	}

	p.logger.DebugContext(ctx, "prefetch hint published",
		slog.String("target", h.Target),
		slog.String("priority", h.Priority),
	)
	return nil
}

// PublishTx inserts a hint within tx. The hint becomes visible on commit,
// so a write and the prefetch of what it affects land together.
func (p *Publisher) PublishTx(ctx context.Context, tx pgx.Tx, h Hint, opts ...PublishOption) error {
	args, insertOpts, err := buildInsert(p.queue, h, opts...)
	if err != nil {
		return err
	}

	if _, err := p.client.InsertTx(ctx, tx, args, insertOpts); err != nil {
		return fmt.Errorf("hints: publish tx: %w", err)
	}
	return nil
}

func buildInsert(queue string, h Hint, opts ...PublishOption) (*hintArgs, *river.InsertOpts, error) {
	if h.Target == "" {
		return nil, nil, ErrEmptyTarget
	}

	pc := &publishConfig{}
	for _, opt := range opts {
		opt(pc)
	}

	args := &hintArgs{Hint: h}
	insertOpts := &river.InsertOpts{Queue: queue}
	if pc.scheduledAt != nil {
		insertOpts.ScheduledAt = *pc.scheduledAt
	}
	if pc.maxAttempts > 0 {
		insertOpts.MaxAttempts = pc.maxAttempts
	}
	if pc.uniqueFor > 0 {
		args.UniqueKey = h.Target
		insertOpts.UniqueOpts = river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: pc.uniqueFor,
		}
	}

	return args, insertOpts, nil
}
