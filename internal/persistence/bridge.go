package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/youming-ai/parsify.dev-sub013/internal/logging"
)

type opKind int

const (
	opUpsert opKind = iota
	opRemove
	opClearAll
)

type bridgeOp struct {
	kind   opKind
	record Record
	key    string
}

// Bridge connects the cache to a DurableStore with write-behind semantics:
// upserts and removals are queued to a worker goroutine so the caller never
// waits on store I/O, and a periodic flush writes the full in-memory
// snapshot. Persistence faults are logged and swallowed; the memory tier
// stays authoritative.
type Bridge struct {
	store    DurableStore
	enabled  bool
	interval time.Duration

	ops  chan bridgeOp
	done chan struct{}
	wg   sync.WaitGroup

	snapshot func() []Record

	startOnce sync.Once
	closeOnce sync.Once
}

// NewBridge creates a bridge over store. A nil store or enabled=false turns
// every operation into a no-op.
func NewBridge(store DurableStore, enabled bool, interval time.Duration) *Bridge {
	if store == nil {
		enabled = false
	}
	return &Bridge{
		store:    store,
		enabled:  enabled,
		interval: interval,
		ops:      make(chan bridgeOp, 256),
		done:     make(chan struct{}),
	}
}

// Enabled reports whether the bridge performs any persistence work.
func (b *Bridge) Enabled() bool { return b.enabled }

// Load reads all persisted records, discarding those whose age already
// exceeds ttl (expired entries are never reintroduced into the live set).
// A ttl of zero disables the age filter. This is the one bridge operation
// whose error propagates: the cache cannot initialize without it.
func (b *Bridge) Load(ctx context.Context, ttl time.Duration) ([]Record, error) {
	if !b.enabled {
		return nil, nil
	}

	records, err := b.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	if ttl <= 0 {
		return records, nil
	}

	now := time.Now()
	live := records[:0]
	expired := 0
	for _, rec := range records {
		if rec.Age(now) >= ttl {
			expired++
			continue
		}
		live = append(live, rec)
	}
	if expired > 0 {
		logging.Info(ctx, logging.ComponentPersistence, logging.ActionRestore,
			"discarded expired records during load", map[string]any{
				"expired": expired,
				"loaded":  len(live),
			})
	}
	return live, nil
}

// Start launches the write-behind worker and, when a flush interval is
// configured, the periodic flush. snapshot must return a consistent view of
// the live entries; the cache supplies a function that takes its own lock.
func (b *Bridge) Start(snapshot func() []Record) {
	if !b.enabled {
		return
	}
	b.startOnce.Do(func() {
		b.snapshot = snapshot
		b.wg.Add(1)
		go b.run()
	})
}

func (b *Bridge) run() {
	defer b.wg.Done()

	var ticker *time.Ticker
	var tick <-chan time.Time
	if b.interval > 0 {
		ticker = time.NewTicker(b.interval)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case op := <-b.ops:
			b.apply(op)
		case <-tick:
			b.flush()
		case <-b.done:
			// Drain queued operations before exiting; in-flight writes
			// complete or fail silently, never force-aborted.
			for {
				select {
				case op := <-b.ops:
					b.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) apply(op bridgeOp) {
	ctx := context.Background()
	switch op.kind {
	case opUpsert:
		if err := b.store.Put(ctx, op.record); err != nil {
			logging.Warn(ctx, logging.ComponentPersistence, logging.ActionPersist,
				"failed to persist entry", map[string]any{
					"key":   op.record.Key,
					"error": err.Error(),
				})
		}
	case opRemove:
		if err := b.store.Delete(ctx, op.key); err != nil {
			logging.Warn(ctx, logging.ComponentPersistence, logging.ActionDelete,
				"failed to remove persisted entry", map[string]any{
					"key":   op.key,
					"error": err.Error(),
				})
		}
	case opClearAll:
		if err := b.store.Clear(ctx); err != nil {
			logging.Warn(ctx, logging.ComponentPersistence, logging.ActionClear,
				"failed to clear persisted entries", map[string]any{
					"error": err.Error(),
				})
		}
	}
}

// flush mirrors the full snapshot into the durable store, continuing past
// per-record errors: live records are written, and durable records no longer
// in the snapshot are deleted. The pruning step makes a dropped removal
// impossible to resurrect on the next load.
func (b *Bridge) flush() {
	if b.snapshot == nil {
		return
	}

	ctx := logging.WithCorrelationID(context.Background(), logging.NewCorrelationID())
	start := time.Now()
	records := b.snapshot()

	live := make(map[string]struct{}, len(records))
	failures := 0
	for _, rec := range records {
		live[rec.Key] = struct{}{}
		if err := b.store.Put(ctx, rec); err != nil {
			failures++
			logging.Warn(ctx, logging.ComponentPersistence, logging.ActionFlush,
				"flush write failed", map[string]any{
					"key":   rec.Key,
					"error": err.Error(),
				})
		}
	}

	pruned := 0
	stored, err := b.store.LoadAll(ctx)
	if err != nil {
		logging.Warn(ctx, logging.ComponentPersistence, logging.ActionFlush,
			"flush could not list durable records, skipping prune", map[string]any{
				"error": err.Error(),
			})
	} else {
		for _, rec := range stored {
			if _, ok := live[rec.Key]; ok {
				continue
			}
			if err := b.store.Delete(ctx, rec.Key); err != nil {
				failures++
				logging.Warn(ctx, logging.ComponentPersistence, logging.ActionFlush,
					"flush prune failed", map[string]any{
						"key":   rec.Key,
						"error": err.Error(),
					})
				continue
			}
			pruned++
		}
	}

	logging.Debug(ctx, logging.ComponentPersistence, logging.ActionFlush,
		"flush complete", map[string]any{
			"records":     len(records),
			"pruned":      pruned,
			"failures":    failures,
			"duration_ms": time.Since(start).Milliseconds(),
		})
}

// enqueue hands an operation to the worker without blocking the caller.
// When the queue is full the operation is dropped; the next flush rewrites
// the snapshot and prunes deleted keys, repairing the durable copy.
func (b *Bridge) enqueue(op bridgeOp) {
	select {
	case b.ops <- op:
	default:
		key := op.key
		if op.kind == opUpsert {
			key = op.record.Key
		}
		logging.Warn(context.Background(), logging.ComponentPersistence, logging.ActionPersist,
			"write-behind queue full, dropping operation", map[string]any{
				"key": key,
			})
	}
}

// Upsert queues a record write.
func (b *Bridge) Upsert(record Record) {
	if !b.enabled {
		return
	}
	b.enqueue(bridgeOp{kind: opUpsert, record: record})
}

// Remove queues a record deletion.
func (b *Bridge) Remove(key string) {
	if !b.enabled {
		return
	}
	b.enqueue(bridgeOp{kind: opRemove, key: key})
}

// ClearAll queues a full clear of the durable store.
func (b *Bridge) ClearAll() {
	if !b.enabled {
		return
	}
	b.enqueue(bridgeOp{kind: opClearAll})
}

// Close cancels the flush timer, drains the write-behind queue, and runs a
// final flush so the durable store matches the last snapshot even when
// operations were dropped under queue pressure.
func (b *Bridge) Close() {
	if !b.enabled {
		return
	}
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		b.flush()
	})
}
