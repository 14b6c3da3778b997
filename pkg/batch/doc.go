// Package batch merges small calls into bulk operations.
//
// A [Batcher] collects submitted items into a window. The window is flushed
// when it reaches the maximum batch size, or when the maximum wait time has
// passed since its first item arrived. The processor receives the items in
// submission order and answers them by index.
//
//	b := batch.New(func(ctx context.Context, ids []string) ([]Item, error) {
//		return api.GetMany(ctx, ids)
//	}, batch.WithMaxBatchSize(50), batch.WithMaxWaitTime(10*time.Millisecond))
//	defer b.Close()
//
//	item, err := b.Add(ctx, "42")
//
// Batches are all-or-nothing: a processor error reaches every item in the
// batch wrapped in [ErrBatchFailed]. Items beyond the returned results get
// [ErrMissingResult]. A single worker runs one batch at a time, bounding the
// load on the backing API.
package batch
