package warmcache

import "errors"

var (
	ErrInvalidConfig = errors.New("warmcache: invalid config")
	ErrClosed        = errors.New("warmcache: cache is shut down")
	ErrNilFetcher    = errors.New("warmcache: fetcher is nil")
	ErrMarshalerType = errors.New("warmcache: marshaler or sizer does not match the cache value type")
	ErrUnknownTarget = errors.New("warmcache: no fetcher for prefetch target")
)
