package hints

import (
	"context"
	"errors"
)

var (
	errConsumerNil        = errors.New("consumer is nil")
	errConsumerNotStarted = errors.New("consumer not started")
)

// Healthcheck verifies the consumer runs and its database answers.
// Compatible with health.CheckFunc.
func Healthcheck(c *Consumer) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if c == nil {
			return errors.Join(ErrHealthcheckFailed, errConsumerNil)
		}

		c.mu.Lock()
		started := c.started
		c.mu.Unlock()

		if !started {
			return errors.Join(ErrHealthcheckFailed, errConsumerNotStarted)
		}
		if err := c.pool.Ping(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
