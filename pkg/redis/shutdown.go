package redis

import (
	"context"
	"io"
)

// Shutdown returns a hook that closes the client. The daemon runs it after
// the cache has flushed its pending persistent writes.
func Shutdown(client io.Closer) func(ctx context.Context) error {
	return func(context.Context) error {
		if client == nil {
			return nil
		}
		return client.Close()
	}
}
