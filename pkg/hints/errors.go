package hints

import "errors"

var (
	// ErrPoolRequired is returned when a publisher or consumer is created
	// without a database pool.
	ErrPoolRequired = errors.New("hints: pool is required")

	// ErrSinkRequired is returned when a consumer is created without a sink.
	ErrSinkRequired = errors.New("hints: sink is required")

	// ErrEmptyTarget is returned when publishing a hint without a target.
	ErrEmptyTarget = errors.New("hints: empty target")

	// ErrInvalidSchedule is returned for a periodic hint whose cron
	// expression cannot be parsed.
	ErrInvalidSchedule = errors.New("hints: invalid cron schedule")

	// ErrAlreadyStarted is returned when starting a running consumer.
	ErrAlreadyStarted = errors.New("hints: already started")

	// ErrNotStarted is returned when stopping a consumer that is not running.
	ErrNotStarted = errors.New("hints: not started")

	// ErrHealthcheckFailed is returned when the consumer health check fails.
	ErrHealthcheckFailed = errors.New("hints: healthcheck failed")
)
