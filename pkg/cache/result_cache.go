package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/youming-ai/parsify.dev-sub013/internal/capacity"
	"github.com/youming-ai/parsify.dev-sub013/internal/eviction"
	"github.com/youming-ai/parsify.dev-sub013/internal/fingerprint"
	"github.com/youming-ai/parsify.dev-sub013/internal/index"
	"github.com/youming-ai/parsify.dev-sub013/internal/logging"
	"github.com/youming-ai/parsify.dev-sub013/internal/persistence"
	"github.com/youming-ai/parsify.dev-sub013/internal/similarity"
)

// ResultCache is the semantic result cache. All operations are safe for
// concurrent use; a single mutex serializes mutations so the capacity
// invariant holds at every observable point.
type ResultCache struct {
	mu     sync.RWMutex
	config Config

	entries map[string]*Entry
	nextSeq uint64

	tracker *capacity.Tracker
	indexes *index.Manager
	bridge  *persistence.Bridge

	hits      uint64
	misses    uint64
	evictions uint64

	accessTime time.Duration
	accessOps  uint64

	initialized bool
	closed      bool

	// now is overridable in tests; all TTL and recency decisions go
	// through it.
	now func() time.Time
}

// New constructs a cache over the given durable store. A nil store is
// valid and leaves persistence disabled regardless of configuration.
// The cache is usable immediately; Initialize additionally restores
// persisted entries and starts the write-behind worker.
func New(config Config, store persistence.DurableStore) (*ResultCache, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("cache config: %w", err)
	}
	if store == nil {
		config.EnablePersistence = false
	}
	return &ResultCache{
		config:  config,
		entries: make(map[string]*Entry),
		tracker: capacity.NewTracker(config.MaxSize, config.MaxEntries),
		indexes: index.NewManager(),
		bridge:  persistence.NewBridge(store, config.EnablePersistence, config.PersistenceInterval),
		now:     time.Now,
	}, nil
}

// Initialize restores persisted entries, starts the write-behind worker,
// and marks the cache ready. Calling it again is a no-op.
func (c *ResultCache) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	if c.closed {
		return fmt.Errorf("cache is closed")
	}

	records, err := c.bridge.Load(ctx, c.config.TTL)
	if err != nil {
		return fmt.Errorf("restore persisted entries: %w", err)
	}

	restored := 0
	for _, rec := range records {
		entry, err := entryFromRecord(rec)
		if err != nil {
			logging.Warn(ctx, logging.ComponentPersistence, logging.ActionRestore,
				"Skipping unreadable persisted record", map[string]any{
					"key":   rec.Key,
					"error": err.Error(),
				})
			continue
		}
		if _, exists := c.entries[entry.Key]; exists {
			continue
		}
		if !c.tracker.CanAccommodate(entry.Size) {
			logging.Warn(ctx, logging.ComponentPersistence, logging.ActionRestore,
				"Skipping persisted record that no longer fits", map[string]any{
					"key":  entry.Key,
					"size": entry.Size,
				})
			continue
		}
		entry.seq = c.nextSeq
		c.nextSeq++
		c.entries[entry.Key] = entry
		c.indexes.Index(entry.Key, entry.Tags, modelName(entry.Metadata), entry.Metadata.Language)
		c.tracker.Add(entry.Size)
		restored++
	}

	c.bridge.Start(c.snapshotRecords)
	c.initialized = true

	logging.Info(ctx, logging.ComponentCache, logging.ActionInitialize,
		"Cache initialized", map[string]any{
			"restored_entries":    restored,
			"max_size":            c.config.MaxSize,
			"max_entries":         c.config.MaxEntries,
			"eviction_policy":     string(c.config.EvictionPolicy),
			"persistence_enabled": c.bridge.Enabled(),
		})
	return nil
}

// Get returns the cached result for the request, or false on a miss. An
// expired entry is removed on the spot and reported as a miss. The
// returned result is a copy the caller owns.
func (c *ResultCache) Get(ctx context.Context, request ProcessingRequest) (*ProcessingResult, bool) {
	start := time.Now()
	canonical := canonicalForm(request)
	key := fingerprint.Hash(canonical)

	c.mu.Lock()
	defer func() {
		c.accessTime += time.Since(start)
		c.accessOps++
		c.mu.Unlock()
	}()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.expiredLocked(entry) {
		c.removeLocked(entry)
		logging.Debug(ctx, logging.ComponentCache, logging.ActionExpire,
			"Removed expired entry on access", map[string]any{"key": key})
		c.misses++
		return nil, false
	}
	if entry.canonical != canonical {
		// Distinct requests hashing to the same key. The stored entry
		// stays; this request is simply not cached.
		logging.Warn(ctx, logging.ComponentCache, logging.ActionGet,
			"Key collision between distinct requests", map[string]any{"key": key})
		c.misses++
		return nil, false
	}

	entry.LastAccessed = c.now()
	entry.AccessCount++
	c.hits++

	result := cloneResult(entry.Result)
	return &result, true
}

// Set inserts the result for the request. The insert is silently skipped
// when deduplication finds a sufficiently similar existing entry, or when
// the entry cannot fit even after eviction. Storing under an existing key
// replaces the previous entry without counting as an eviction.
func (c *ResultCache) Set(ctx context.Context, request ProcessingRequest, result ProcessingResult, metadata ResultMetadata, opts ...SetOption) {
	options := defaultSetOptions()
	for _, opt := range opts {
		opt(&options)
	}

	canonical := canonicalForm(request)
	key := fingerprint.Hash(canonical)

	reqJSON, err := json.Marshal(request)
	if err != nil {
		logging.Error(ctx, logging.ComponentCache, logging.ActionSet,
			"Request not serializable, entry not stored", err, map[string]any{"key": key})
		return
	}
	resJSON, err := json.Marshal(result)
	if err != nil {
		logging.Error(ctx, logging.ComponentCache, logging.ActionSet,
			"Result not serializable, entry not stored", err, map[string]any{"key": key})
		return
	}
	size := int64(len(reqJSON) + len(resJSON))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if c.config.EnableDeduplication {
		if dupKey, score, found := c.findDuplicateLocked(request, key); found {
			logging.Debug(ctx, logging.ComponentCache, logging.ActionDedup,
				"Suppressed near-duplicate entry", map[string]any{
					"key":          key,
					"duplicate_of": dupKey,
					"similarity":   score,
					"threshold":    c.config.SimilarityThreshold,
				})
			return
		}
	}

	// A same-key replacement is not removed until the new entry is known to
	// fit: its bytes count as reclaimable during the capacity check, and a
	// declined replacement leaves the old entry intact.
	old, replacing := c.entries[key]
	var reclaim int64
	if replacing {
		reclaim = old.Size
	}

	if !c.fitsLocked(size, reclaim, replacing) {
		c.makeRoomLocked(ctx, key, size, reclaim)
		if !c.fitsLocked(size, reclaim, replacing) {
			logging.Warn(ctx, logging.ComponentCache, logging.ActionSet,
				"Entry does not fit after eviction, not stored", map[string]any{
					"key":         key,
					"size":        size,
					"max_size":    c.tracker.MaxSize(),
					"max_entries": c.tracker.MaxEntries(),
				})
			return
		}
	}

	if replacing {
		c.removeLocked(old)
	}

	now := c.now()
	entry := &Entry{
		ID:           uuid.New().String(),
		Key:          key,
		Request:      cloneRequest(request),
		Result:       cloneResult(result),
		Metadata:     cloneMetadata(metadata),
		CreatedAt:    now,
		LastAccessed: now,
		Size:         size,
		Tags:         options.tags,
		Priority:     options.priority,
		Persistent:   options.persistent,
		canonical:    canonical,
		opsSig:       opsSignature(request),
		seq:          c.nextSeq,
	}
	c.nextSeq++
	if entry.Metadata.InputHash == "" {
		entry.Metadata.InputHash = fingerprint.Hash(fingerprint.Normalize(request.Text))
	}

	c.entries[key] = entry
	c.indexes.Index(key, entry.Tags, modelName(entry.Metadata), entry.Metadata.Language)
	c.tracker.Add(size)

	if level := c.tracker.Level(); level >= capacity.PressureWarning {
		logging.Warn(ctx, logging.ComponentCapacity, logging.ActionSet,
			"Cache under memory pressure", map[string]any{
				"level":    level.String(),
				"pressure": c.tracker.Pressure(),
			})
	}

	if rec, err := toRecord(entry, reqJSON, resJSON); err == nil {
		c.bridge.Upsert(rec)
	} else {
		logging.Error(ctx, logging.ComponentPersistence, logging.ActionPersist,
			"Entry stored but not queued for persistence", err, map[string]any{"key": key})
	}

	logging.Debug(ctx, logging.ComponentCache, logging.ActionSet,
		"Stored entry", map[string]any{
			"key":   key,
			"size":  size,
			"total": c.tracker.Entries(),
		})
}

// Delete removes the entry stored under key, reporting whether it existed.
func (c *ResultCache) Delete(ctx context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(entry)
	logging.Debug(ctx, logging.ComponentCache, logging.ActionDelete,
		"Deleted entry", map[string]any{"key": key})
	return true
}

// DeleteByTag removes every entry carrying the tag and returns the number
// removed.
func (c *ResultCache) DeleteByTag(ctx context.Context, tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.indexes.ByTag(tag)
	for _, key := range keys {
		if entry, ok := c.entries[key]; ok {
			c.removeLocked(entry)
		}
	}
	if len(keys) > 0 {
		logging.Info(ctx, logging.ComponentIndex, logging.ActionDelete,
			"Invalidated entries by tag", map[string]any{"tag": tag, "count": len(keys)})
	}
	return len(keys)
}

// Clear removes every entry and resets all statistics counters.
func (c *ResultCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := len(c.entries)
	c.entries = make(map[string]*Entry)
	c.indexes.Reset()
	c.tracker.Reset()
	c.hits = 0
	c.misses = 0
	c.evictions = 0
	c.accessTime = 0
	c.accessOps = 0
	c.bridge.ClearAll()

	logging.Info(ctx, logging.ComponentCache, logging.ActionClear,
		"Cleared cache", map[string]any{"removed_entries": count})
}

// Config returns a copy of the current configuration.
func (c *ResultCache) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// UpdateConfig applies a partial configuration update and returns the
// resulting configuration. Shrinking the capacity limits evicts entries
// immediately until the cache fits again.
func (c *ResultCache) UpdateConfig(ctx context.Context, patch ConfigPatch) (Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.config.applied(patch)
	if err := next.validate(); err != nil {
		return c.config, fmt.Errorf("config update: %w", err)
	}

	c.config = next
	c.tracker.SetLimits(next.MaxSize, next.MaxEntries)
	c.enforceCapacityLocked(ctx)

	logging.Info(ctx, logging.ComponentConfig, logging.ActionInitialize,
		"Configuration updated", map[string]any{
			"max_size":        next.MaxSize,
			"max_entries":     next.MaxEntries,
			"eviction_policy": string(next.EvictionPolicy),
		})
	return c.config, nil
}

// Len returns the number of live entries.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracker.Entries()
}

// SizeBytes returns the summed serialized size of all live entries.
func (c *ResultCache) SizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracker.Size()
}

// Close flushes outstanding persistence work and stops the write-behind
// worker. The cache rejects Initialize afterwards; in-memory reads keep
// working but nothing is persisted anymore.
func (c *ResultCache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.bridge.Close()
	logging.Info(context.Background(), logging.ComponentCache, logging.ActionClose,
		"Cache closed", map[string]any{"entries": c.Len()})
}

// findDuplicateLocked scans for an existing live entry with an identical
// operation-type signature whose normalized text is at least
// SimilarityThreshold similar. selfKey excludes the exact-key entry, which
// is a replacement rather than a duplicate.
func (c *ResultCache) findDuplicateLocked(request ProcessingRequest, selfKey string) (string, float64, bool) {
	sig := opsSignature(request)
	normText := fingerprint.Normalize(request.Text)
	for key, e := range c.entries {
		if key == selfKey || e.opsSig != sig || c.expiredLocked(e) {
			continue
		}
		score := similarity.Score(normText, fingerprint.Normalize(e.Request.Text))
		if score >= c.config.SimilarityThreshold {
			return key, score, true
		}
	}
	return "", 0, false
}

// fitsLocked reports whether a new entry of the given size fits under both
// limits, counting the bytes of a same-key entry being replaced as
// reclaimable. A replacement never changes the entry count.
func (c *ResultCache) fitsLocked(size, reclaim int64, replacing bool) bool {
	if c.tracker.Size()-reclaim+size > c.tracker.MaxSize() {
		return false
	}
	if !replacing && c.tracker.Entries()+1 > c.tracker.MaxEntries() {
		return false
	}
	return true
}

// makeRoomLocked evicts victims to make room for a new entry of the given
// size. Byte overflow drives a byte target; when only the entry-count limit
// binds, exactly the surplus number of entries is evicted so a small
// policy-first victim does not cascade into further evictions.
func (c *ResultCache) makeRoomLocked(ctx context.Context, excludeKey string, size, reclaim int64) {
	cands := c.candidatesLocked(excludeKey)

	var victims []eviction.Candidate
	if over := c.tracker.Size() - reclaim + size - c.tracker.MaxSize(); over > 0 {
		target := size - reclaim
		if target < over {
			target = over
		}
		victims = eviction.SelectVictims(cands, c.config.EvictionPolicy, target, c.config.PreservePersistent)
	} else {
		surplus := c.tracker.Entries() + 1 - c.tracker.MaxEntries()
		victims = eviction.SelectVictimsByCount(cands, c.config.EvictionPolicy, surplus, c.config.PreservePersistent)
	}
	for _, v := range victims {
		if e, ok := c.entries[v.Key]; ok {
			c.removeLocked(e)
			c.evictions++
			logging.Debug(ctx, logging.ComponentEviction, logging.ActionEvict,
				"Evicted entry", map[string]any{
					"key":    v.Key,
					"size":   v.Size,
					"policy": string(c.config.EvictionPolicy),
				})
		}
	}
}

// enforceCapacityLocked evicts until the cache satisfies both limits or no
// eligible victims remain.
func (c *ResultCache) enforceCapacityLocked(ctx context.Context) {
	for c.tracker.Overflow() > 0 || c.tracker.EntryOverflow() > 0 {
		var victims []eviction.Candidate
		if over := c.tracker.Overflow(); over > 0 {
			victims = eviction.SelectVictims(c.candidatesLocked(""), c.config.EvictionPolicy, over, c.config.PreservePersistent)
		} else {
			victims = eviction.SelectVictimsByCount(c.candidatesLocked(""), c.config.EvictionPolicy, c.tracker.EntryOverflow(), c.config.PreservePersistent)
		}
		if len(victims) == 0 {
			logging.Warn(ctx, logging.ComponentEviction, logging.ActionEvict,
				"Cache over capacity but no eligible victims remain", map[string]any{
					"size":    c.tracker.Size(),
					"entries": c.tracker.Entries(),
				})
			return
		}
		for _, v := range victims {
			if e, ok := c.entries[v.Key]; ok {
				c.removeLocked(e)
				c.evictions++
			}
		}
	}
}

func (c *ResultCache) candidatesLocked(excludeKey string) []eviction.Candidate {
	cands := make([]eviction.Candidate, 0, len(c.entries))
	for _, e := range c.entries {
		if excludeKey != "" && e.Key == excludeKey {
			continue
		}
		cands = append(cands, eviction.Candidate{
			Key:          e.Key,
			Size:         e.Size,
			CreatedAt:    e.CreatedAt,
			LastAccessed: e.LastAccessed,
			AccessCount:  e.AccessCount,
			Weight:       e.Priority.Weight(),
			Persistent:   e.Persistent,
			Seq:          e.seq,
		})
	}
	return cands
}

func (c *ResultCache) expiredLocked(e *Entry) bool {
	if c.config.TTL <= 0 {
		return false
	}
	return c.now().Sub(e.CreatedAt) >= c.config.TTL
}

// removeLocked detaches an entry from the map, indexes, capacity tracker,
// and persistence queue.
func (c *ResultCache) removeLocked(e *Entry) {
	delete(c.entries, e.Key)
	c.indexes.Unindex(e.Key, e.Tags, modelName(e.Metadata), e.Metadata.Language)
	c.tracker.Remove(e.Size)
	c.bridge.Remove(e.Key)
}

// snapshotRecords converts the live entry set into durable records for a
// periodic flush. Access bookkeeping reaches disk only through this path.
func (c *ResultCache) snapshotRecords() []persistence.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]persistence.Record, 0, len(c.entries))
	for _, e := range c.entries {
		rec, err := toRecord(e, nil, nil)
		if err != nil {
			logging.Error(context.Background(), logging.ComponentPersistence, logging.ActionFlush,
				"Skipping entry in flush snapshot", err, map[string]any{"key": e.Key})
			continue
		}
		records = append(records, rec)
	}
	return records
}

func modelName(md ResultMetadata) string {
	if md.Model == nil {
		return ""
	}
	return md.Model.Name
}
