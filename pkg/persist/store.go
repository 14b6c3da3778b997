package persist

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Store is the durable tier contract. Every method may fail; callers treat
// failures as a cache miss and keep serving from memory.
type Store interface {
	// Get returns the record stored under key or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// Set writes the record, replacing any previous one for the same key.
	Set(ctx context.Context, rec Record) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every record owned by the store.
	Clear(ctx context.Context) error

	// Sweep removes records stored more than maxAge ago and reports
	// how many were removed.
	Sweep(ctx context.Context, maxAge time.Duration) (int, error)

	// Close releases resources owned by the store.
	Close() error
}

// Record is a serialized cache entry as held by a persistent tier.
// Data is an independent copy of the value, never shared with memory.
type Record struct {
	FetchedAt time.Time     `json:"fetched_at"`
	StoredAt  time.Time     `json:"stored_at"`
	Key       string        `json:"key"`
	Data      []byte        `json:"data"`
	TTL       time.Duration `json:"ttl"`
	Version   uint64        `json:"version"`
}

// Expired reports whether the record outlived its TTL at the given time.
// A negative TTL never expires.
func (r Record) Expired(now time.Time) bool {
	if r.TTL < 0 {
		return false
	}
	return now.Sub(r.FetchedAt) > r.TTL
}

// Remaining returns how long the record stays valid after now.
// It returns a negative duration for records that never expire.
func (r Record) Remaining(now time.Time) time.Duration {
	if r.TTL < 0 {
		return -1
	}
	return r.TTL - now.Sub(r.FetchedAt)
}

// Size is the number of bytes the record counts against a store's size
// budget: the length of its serialized value.
func (r Record) Size() int64 {
	return int64(len(r.Data))
}

func encodeRecord(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Join(ErrEncode, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, errors.Join(ErrDecode, err)
	}
	return rec, nil
}
