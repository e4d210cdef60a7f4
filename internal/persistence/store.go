// Package persistence synchronizes the cache's in-memory working set with a
// durable key-value store. The memory tier is always authoritative: every
// write here is best-effort and failures surface only in logs.
package persistence

import (
	"context"
	"time"
)

// Record is the wire form of a cache entry. Request, result and metadata
// travel as the JSON the cache already produced for size estimation, so the
// store never needs to understand their shape.
type Record struct {
	Key          string   `json:"key"`
	ID           string   `json:"id"`
	RequestJSON  []byte   `json:"request"`
	ResultJSON   []byte   `json:"result"`
	MetadataJSON []byte   `json:"metadata"`
	Tags         []string `json:"tags,omitempty"`
	Priority     int      `json:"priority"`
	Persistent   bool     `json:"persistent"`
	CreatedAt    int64    `json:"created_at"`    // milliseconds since epoch
	LastAccessed int64    `json:"last_accessed"` // milliseconds since epoch
	AccessCount  uint64   `json:"access_count"`
	Size         int64    `json:"size"`
}

// Age returns how long ago the record was created, relative to now.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(r.CreatedAt))
}

// DurableStore is the contract the cache needs from a persistence engine:
// bulk load at startup, per-entry upsert and delete, full clear. The cache
// is the sole writer of its records; no transaction semantics are required,
// only eventual persistence.
type DurableStore interface {
	// LoadAll returns every persisted record. Called once at cache
	// initialization; an error here is the one persistence failure that
	// propagates to the caller.
	LoadAll(ctx context.Context) ([]Record, error)

	// Put persists a single record, overwriting any record with the same key.
	Put(ctx context.Context, record Record) error

	// Delete removes the record with the given key. Deleting an absent key
	// is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every persisted record.
	Clear(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
