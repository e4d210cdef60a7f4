package cache

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/youming-ai/parsify.dev-sub013/internal/eviction"
	"github.com/youming-ai/parsify.dev-sub013/internal/persistence"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

// newTestCache builds an initialized in-memory cache with deduplication off
// so capacity tests can use arbitrary texts. Tests that exercise dedup turn
// it back on through mutate.
func newTestCache(t *testing.T, mutate func(*Config)) (*ResultCache, *fakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EnableDeduplication = false
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clk := newFakeClock()
	c.now = clk.now
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c, clk
}

func req(text string, ops ...string) ProcessingRequest {
	r := ProcessingRequest{Text: text}
	for _, op := range ops {
		r.Operations = append(r.Operations, Operation{Type: op})
	}
	return r
}

func result(content string) ProcessingResult {
	return ProcessingResult{Content: content}
}

// entrySize mirrors the serialize-then-measure size estimate Set uses.
func entrySize(t *testing.T, r ProcessingRequest, out ProcessingResult) int64 {
	t.Helper()
	reqJSON, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	resJSON, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	return int64(len(reqJSON) + len(resJSON))
}

func TestGetMissOnEmpty(t *testing.T) {
	c, _ := newTestCache(t, nil)
	if _, ok := c.Get(context.Background(), req("anything", "trim")); ok {
		t.Error("hit on empty cache")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	r := req("hello world", "trim", "lowercase")
	c.Set(ctx, r, result("HELLO"), ResultMetadata{})

	got, ok := c.Get(ctx, r)
	if !ok {
		t.Fatal("miss for the request just stored")
	}
	if got.Content != "HELLO" {
		t.Errorf("Content = %q, want HELLO", got.Content)
	}
}

func TestEquivalentRequestsHit(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, req("hello   world", "trim", "lowercase"), result("out"), ResultMetadata{})

	// Whitespace variation and operation order must map to the same key.
	if _, ok := c.Get(ctx, req("  hello world ", "lowercase", "trim")); !ok {
		t.Error("equivalent request missed")
	}
	// A different operation set must not.
	if _, ok := c.Get(ctx, req("hello world", "trim")); ok {
		t.Error("request with different operations hit")
	}
}

func TestConfigParticipatesInKey(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	r1 := req("same text", "trim")
	r2 := req("same text", "trim")
	r2.Config.Mode = "strict"

	c.Set(ctx, r1, result("one"), ResultMetadata{})
	c.Set(ctx, r2, result("two"), ResultMetadata{})

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2 distinct entries", c.Len())
	}
	got, _ := c.Get(ctx, r2)
	if got == nil || got.Content != "two" {
		t.Errorf("config variant returned %v, want two", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	r := req("copy test", "trim")
	c.Set(ctx, r, ProcessingResult{Content: "original", Extra: map[string]string{"k": "v"}}, ResultMetadata{})

	first, _ := c.Get(ctx, r)
	first.Content = "mutated"
	first.Extra["k"] = "mutated"

	second, _ := c.Get(ctx, r)
	if second.Content != "original" || second.Extra["k"] != "v" {
		t.Error("caller mutation leaked into the cache")
	}
}

func TestTTLExpiry(t *testing.T) {
	c, clk := newTestCache(t, func(cfg *Config) {
		cfg.TTL = time.Hour
	})
	ctx := context.Background()

	r := req("short lived", "trim")
	c.Set(ctx, r, result("out"), ResultMetadata{})

	clk.advance(59 * time.Minute)
	if _, ok := c.Get(ctx, r); !ok {
		t.Fatal("entry expired before its ttl")
	}

	clk.advance(2 * time.Minute)
	if _, ok := c.Get(ctx, r); ok {
		t.Fatal("expired entry still served")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, Len = %d", c.Len())
	}

	_, misses, _ := c.Counters()
	if misses != 1 {
		t.Errorf("misses = %d, want 1 (expiry counts as a miss)", misses)
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	c, clk := newTestCache(t, func(cfg *Config) {
		cfg.TTL = 0
	})
	ctx := context.Background()

	r := req("immortal", "trim")
	c.Set(ctx, r, result("out"), ResultMetadata{})
	clk.advance(10000 * time.Hour)

	if _, ok := c.Get(ctx, r); !ok {
		t.Error("entry expired with ttl disabled")
	}
}

func TestReplaceSameKey(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	r := req("replace me", "trim")
	c.Set(ctx, r, result("old"), ResultMetadata{})
	c.Set(ctx, r, result("new"), ResultMetadata{})

	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after replacement", c.Len())
	}
	got, _ := c.Get(ctx, r)
	if got == nil || got.Content != "new" {
		t.Errorf("got %v, want the replacement result", got)
	}
	if _, _, evictions := c.Counters(); evictions != 0 {
		t.Errorf("evictions = %d, replacement must not count as eviction", evictions)
	}
}

func TestDedupSuppressesSimilar(t *testing.T) {
	c, _ := newTestCache(t, func(cfg *Config) {
		cfg.EnableDeduplication = true
		cfg.SimilarityThreshold = 0.5
	})
	ctx := context.Background()

	c.Set(ctx, req("the quick brown fox jumps", "trim"), result("first"), ResultMetadata{})
	// Same operation types, clearly similar text: suppressed.
	c.Set(ctx, req("the quick brown fox runs", "trim"), result("second"), ResultMetadata{})

	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (near-duplicate suppressed)", c.Len())
	}
	if _, ok := c.Get(ctx, req("the quick brown fox runs", "trim")); ok {
		t.Error("suppressed entry is retrievable")
	}
	if got, _ := c.Get(ctx, req("the quick brown fox jumps", "trim")); got == nil || got.Content != "first" {
		t.Error("original entry lost to dedup")
	}
}

func TestDedupRequiresSameOperations(t *testing.T) {
	c, _ := newTestCache(t, func(cfg *Config) {
		cfg.EnableDeduplication = true
		cfg.SimilarityThreshold = 0.5
	})
	ctx := context.Background()

	c.Set(ctx, req("identical text here", "trim"), result("first"), ResultMetadata{})
	c.Set(ctx, req("identical text here", "uppercase"), result("second"), ResultMetadata{})

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2 (different operations are never duplicates)", c.Len())
	}
}

func TestDedupAllowsExactKeyReplacement(t *testing.T) {
	c, _ := newTestCache(t, func(cfg *Config) {
		cfg.EnableDeduplication = true
		cfg.SimilarityThreshold = 0.5
	})
	ctx := context.Background()

	r := req("replace with dedup on", "trim")
	c.Set(ctx, r, result("old"), ResultMetadata{})
	c.Set(ctx, r, result("new"), ResultMetadata{})

	got, _ := c.Get(ctx, r)
	if got == nil || got.Content != "new" {
		t.Error("exact-key replacement blocked by dedup")
	}
}

func TestDedupDisabled(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, req("almost the same text", "trim"), result("first"), ResultMetadata{})
	c.Set(ctx, req("almost the same texts", "trim"), result("second"), ResultMetadata{})

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2 with dedup disabled", c.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	r1, r2, r3, r4 := req("entry a1", "op"), req("entry b2", "op"), req("entry c3", "op"), req("entry d4", "op")
	out := result("12345678")
	size := entrySize(t, r1, out)

	c, clk := newTestCache(t, func(cfg *Config) {
		cfg.MaxSize = 3 * size
		cfg.EvictionPolicy = eviction.PolicyLRU
	})
	ctx := context.Background()

	for _, r := range []ProcessingRequest{r1, r2, r3} {
		c.Set(ctx, r, out, ResultMetadata{})
		clk.advance(time.Minute)
	}
	// Touch r1 and r3 so r2 becomes least recently used.
	c.Get(ctx, r1)
	clk.advance(time.Minute)
	c.Get(ctx, r3)
	clk.advance(time.Minute)

	c.Set(ctx, r4, out, ResultMetadata{})

	if _, ok := c.Get(ctx, r2); ok {
		t.Error("least recently used entry survived")
	}
	for _, r := range []ProcessingRequest{r1, r3, r4} {
		if _, ok := c.Get(ctx, r); !ok {
			t.Errorf("entry %q evicted unexpectedly", r.Text)
		}
	}
	if _, _, evictions := c.Counters(); evictions != 1 {
		t.Errorf("evictions = %d, want 1", evictions)
	}
}

func TestFIFOEviction(t *testing.T) {
	r1, r2, r3 := req("entry a1", "op"), req("entry b2", "op"), req("entry c3", "op")
	out := result("12345678")
	size := entrySize(t, r1, out)

	c, clk := newTestCache(t, func(cfg *Config) {
		cfg.MaxSize = 2 * size
		cfg.EvictionPolicy = eviction.PolicyFIFO
	})
	ctx := context.Background()

	c.Set(ctx, r1, out, ResultMetadata{})
	clk.advance(time.Minute)
	c.Set(ctx, r2, out, ResultMetadata{})
	clk.advance(time.Minute)
	// Accessing r1 must not save it under FIFO.
	c.Get(ctx, r1)
	clk.advance(time.Minute)
	c.Set(ctx, r3, out, ResultMetadata{})

	if _, ok := c.Get(ctx, r1); ok {
		t.Error("oldest entry survived under fifo")
	}
	if _, ok := c.Get(ctx, r2); !ok {
		t.Error("second entry evicted under fifo")
	}
}

func TestLFUEviction(t *testing.T) {
	r1, r2, r3 := req("entry a1", "op"), req("entry b2", "op"), req("entry c3", "op")
	out := result("12345678")
	size := entrySize(t, r1, out)

	c, clk := newTestCache(t, func(cfg *Config) {
		cfg.MaxSize = 2 * size
		cfg.EvictionPolicy = eviction.PolicyLFU
	})
	ctx := context.Background()

	c.Set(ctx, r1, out, ResultMetadata{})
	c.Set(ctx, r2, out, ResultMetadata{})
	c.Get(ctx, r1)
	c.Get(ctx, r1)
	c.Get(ctx, r2)
	clk.advance(time.Minute)

	c.Set(ctx, r3, out, ResultMetadata{})

	if _, ok := c.Get(ctx, r2); ok {
		t.Error("least frequently used entry survived")
	}
	if _, ok := c.Get(ctx, r1); !ok {
		t.Error("frequently used entry evicted")
	}
}

func TestPriorityEviction(t *testing.T) {
	r1, r2, r3 := req("entry a1", "op"), req("entry b2", "op"), req("entry c3", "op")
	out := result("12345678")
	size := entrySize(t, r1, out)

	c, _ := newTestCache(t, func(cfg *Config) {
		cfg.MaxSize = 2 * size
		cfg.EvictionPolicy = eviction.PolicyPriority
	})
	ctx := context.Background()

	c.Set(ctx, r1, out, ResultMetadata{}, WithPriority(PriorityHigh))
	c.Set(ctx, r2, out, ResultMetadata{}, WithPriority(PriorityLow))
	c.Set(ctx, r3, out, ResultMetadata{}, WithPriority(PriorityNormal))

	if _, ok := c.Get(ctx, r2); ok {
		t.Error("low priority entry survived")
	}
	if _, ok := c.Get(ctx, r1); !ok {
		t.Error("high priority entry evicted")
	}
}

func TestCapacityInvariant(t *testing.T) {
	out := result("payload-payload-payload")
	size := entrySize(t, req("entry 00", "op"), out)

	c, clk := newTestCache(t, func(cfg *Config) {
		cfg.MaxSize = 4 * size
		cfg.MaxEntries = 3
	})
	ctx := context.Background()

	texts := []string{"entry 01", "entry 02", "entry 03", "entry 04", "entry 05", "entry 06"}
	for _, text := range texts {
		c.Set(ctx, req(text, "op"), out, ResultMetadata{})
		clk.advance(time.Second)

		if c.SizeBytes() > c.Config().MaxSize {
			t.Fatalf("size %d exceeds limit %d", c.SizeBytes(), c.Config().MaxSize)
		}
		if c.Len() > c.Config().MaxEntries {
			t.Fatalf("entries %d exceed limit %d", c.Len(), c.Config().MaxEntries)
		}
	}
}

func TestEntryLimitEviction(t *testing.T) {
	c, clk := newTestCache(t, func(cfg *Config) {
		cfg.MaxEntries = 2
	})
	ctx := context.Background()

	c.Set(ctx, req("entry one", "op"), result("a"), ResultMetadata{})
	clk.advance(time.Minute)
	c.Set(ctx, req("entry two", "op"), result("b"), ResultMetadata{})
	clk.advance(time.Minute)
	c.Set(ctx, req("entry six", "op"), result("c"), ResultMetadata{})

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.Get(ctx, req("entry one", "op")); ok {
		t.Error("lru entry survived the entry-limit eviction")
	}
}

func TestEntryLimitEvictsExactlySurplus(t *testing.T) {
	// With ample byte capacity only the entry-count limit binds, so storing
	// a large entry over a small first victim must evict exactly one entry
	// regardless of the size difference.
	c, clk := newTestCache(t, func(cfg *Config) {
		cfg.MaxEntries = 2
		cfg.EvictionPolicy = eviction.PolicyFIFO
	})
	ctx := context.Background()

	r1, r2, r3 := req("first entry", "op"), req("second entry", "op"), req("third entry", "op")
	c.Set(ctx, r1, result("a"), ResultMetadata{})
	clk.advance(time.Minute)
	c.Set(ctx, r2, result("b"), ResultMetadata{})
	clk.advance(time.Minute)
	c.Set(ctx, r3, result(strings.Repeat("x", 64)), ResultMetadata{})

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.Get(ctx, r1); ok {
		t.Error("oldest entry survived under fifo")
	}
	if _, ok := c.Get(ctx, r2); !ok {
		t.Error("second entry evicted alongside the fifo victim")
	}
	if _, ok := c.Get(ctx, r3); !ok {
		t.Error("new entry not stored")
	}
	if _, _, evictions := c.Counters(); evictions != 1 {
		t.Errorf("evictions = %d, want 1", evictions)
	}
}

func TestOversizedEntryDeclined(t *testing.T) {
	c, _ := newTestCache(t, func(cfg *Config) {
		cfg.MaxSize = 64
	})
	ctx := context.Background()

	big := result(strings.Repeat("x", 256))
	c.Set(ctx, req("too big", "op"), big, ResultMetadata{})

	if c.Len() != 0 {
		t.Errorf("oversized entry stored, Len = %d", c.Len())
	}
}

func TestOversizedReplacementKeepsOldEntry(t *testing.T) {
	r := req("replace guard", "op")
	small := result("tiny")
	size := entrySize(t, r, small)

	c, _ := newTestCache(t, func(cfg *Config) {
		cfg.MaxSize = size
	})
	ctx := context.Background()

	c.Set(ctx, r, small, ResultMetadata{})
	// A replacement too large for the cache is declined; the entry it would
	// have replaced must survive.
	c.Set(ctx, r, result(strings.Repeat("x", 512)), ResultMetadata{})

	got, ok := c.Get(ctx, r)
	if !ok {
		t.Fatal("declined replacement removed the original entry")
	}
	if got.Content != "tiny" {
		t.Errorf("Content = %q, want the original result", got.Content)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestReplacementReclaimsOldSize(t *testing.T) {
	r := req("replace fit", "op")
	old := result("aaaa")
	size := entrySize(t, r, old)

	c, _ := newTestCache(t, func(cfg *Config) {
		cfg.MaxSize = size
	})
	ctx := context.Background()

	c.Set(ctx, r, old, ResultMetadata{})
	// Same-size replacement fills the freed bytes exactly.
	c.Set(ctx, r, result("bbbb"), ResultMetadata{})

	got, ok := c.Get(ctx, r)
	if !ok || got.Content != "bbbb" {
		t.Error("equal-size replacement declined despite reclaimable bytes")
	}
	if c.SizeBytes() != size {
		t.Errorf("SizeBytes = %d, want %d", c.SizeBytes(), size)
	}
}

func TestPersistentEntriesPreserved(t *testing.T) {
	r1, r2, r3 := req("entry a1", "op"), req("entry b2", "op"), req("entry c3", "op")
	out := result("12345678")
	size := entrySize(t, r1, out)

	c, clk := newTestCache(t, func(cfg *Config) {
		cfg.MaxSize = 2 * size
		cfg.PreservePersistent = true
	})
	ctx := context.Background()

	c.Set(ctx, r1, out, ResultMetadata{}, WithPersistent())
	clk.advance(time.Minute)
	c.Set(ctx, r2, out, ResultMetadata{})
	clk.advance(time.Minute)
	c.Set(ctx, r3, out, ResultMetadata{})

	if _, ok := c.Get(ctx, r1); !ok {
		t.Error("persistent entry evicted")
	}
	if _, ok := c.Get(ctx, r2); ok {
		t.Error("non-persistent entry survived instead")
	}
}

func TestAllPersistentDeclinesNewEntry(t *testing.T) {
	r1, r2, r3 := req("entry a1", "op"), req("entry b2", "op"), req("entry c3", "op")
	out := result("12345678")
	size := entrySize(t, r1, out)

	c, _ := newTestCache(t, func(cfg *Config) {
		cfg.MaxSize = 2 * size
	})
	ctx := context.Background()

	c.Set(ctx, r1, out, ResultMetadata{}, WithPersistent())
	c.Set(ctx, r2, out, ResultMetadata{}, WithPersistent())
	c.Set(ctx, r3, out, ResultMetadata{})

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2 (new entry declined)", c.Len())
	}
	if _, ok := c.Get(ctx, r3); ok {
		t.Error("declined entry is retrievable")
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	r := req("delete me", "op")
	c.Set(ctx, r, result("out"), ResultMetadata{})

	if !c.Delete(ctx, DeriveKey(r)) {
		t.Error("Delete returned false for existing entry")
	}
	if c.Delete(ctx, DeriveKey(r)) {
		t.Error("Delete returned true for missing entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after delete", c.Len())
	}
}

func TestDeleteByTag(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, req("tagged one", "op"), result("a"), ResultMetadata{}, WithTags("batch-7"))
	c.Set(ctx, req("tagged two", "op"), result("b"), ResultMetadata{}, WithTags("batch-7", "other"))
	c.Set(ctx, req("untagged", "op"), result("c"), ResultMetadata{})

	if removed := c.DeleteByTag(ctx, "batch-7"); removed != 2 {
		t.Errorf("DeleteByTag removed %d, want 2", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if removed := c.DeleteByTag(ctx, "batch-7"); removed != 0 {
		t.Errorf("second DeleteByTag removed %d, want 0", removed)
	}
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, req("one", "op"), result("a"), ResultMetadata{})
	c.Get(ctx, req("one", "op"))
	c.Get(ctx, req("missing", "op"))
	c.Clear(ctx)

	if c.Len() != 0 || c.SizeBytes() != 0 {
		t.Errorf("Len=%d Size=%d after Clear", c.Len(), c.SizeBytes())
	}
	hits, misses, evictions := c.Counters()
	if hits+misses+evictions != 0 {
		t.Error("Clear did not reset counters")
	}
	stats := c.Statistics()
	if stats.HitRate != 0 || stats.TotalEntries != 0 {
		t.Error("statistics not reset by Clear")
	}
}

func TestUpdateConfigShrinkEvicts(t *testing.T) {
	c, clk := newTestCache(t, nil)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		c.Set(ctx, req(text, "op"), result("x"), ResultMetadata{})
		clk.advance(time.Minute)
	}

	one := 1
	cfg, err := c.UpdateConfig(ctx, ConfigPatch{MaxEntries: &one})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if cfg.MaxEntries != 1 {
		t.Errorf("MaxEntries = %d, want 1", cfg.MaxEntries)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d after shrink, want 1", c.Len())
	}
	// LRU keeps the most recently stored entry.
	if _, ok := c.Get(ctx, req("three", "op")); !ok {
		t.Error("newest entry evicted by shrink")
	}
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	bad := 2.0
	if _, err := c.UpdateConfig(ctx, ConfigPatch{SimilarityThreshold: &bad}); err == nil {
		t.Error("invalid threshold accepted")
	}
	if c.Config().SimilarityThreshold == bad {
		t.Error("invalid value applied")
	}

	badPolicy := eviction.Policy("mru")
	if _, err := c.UpdateConfig(ctx, ConfigPatch{EvictionPolicy: &badPolicy}); err == nil {
		t.Error("invalid policy accepted")
	}
}

func TestInputHashDefaulted(t *testing.T) {
	c, _ := newTestCache(t, nil)
	ctx := context.Background()

	r := req("hash source", "op")
	c.Set(ctx, r, result("x"), ResultMetadata{})

	entries := c.Search(ctx, SearchQuery{})
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Metadata.InputHash == "" {
		t.Error("input hash not defaulted")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	openStore := func() *persistence.FileStore {
		t.Helper()
		store, err := persistence.NewFileStore(persistence.FileStoreConfig{Dir: dir, SyncPolicy: "always"})
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}
		return store
	}

	cfg := DefaultConfig()
	cfg.EnableDeduplication = false
	cfg.EnablePersistence = true
	cfg.PersistenceInterval = time.Hour // periodic flush out of the way

	store := openStore()
	c, err := New(cfg, store)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	c.Set(ctx, req("persist one", "op"), result("first"), ResultMetadata{}, WithTags("durable"))
	c.Set(ctx, req("persist two", "op"), result("second"), ResultMetadata{})
	c.Close()
	store.Close()

	reopened := openStore()
	defer reopened.Close()
	c2, err := New(cfg, reopened)
	if err != nil {
		t.Fatal(err)
	}
	if err := c2.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	if c2.Len() != 2 {
		t.Fatalf("restored %d entries, want 2", c2.Len())
	}
	got, ok := c2.Get(ctx, req("persist one", "op"))
	if !ok || got.Content != "first" {
		t.Errorf("restored entry wrong: %v %v", got, ok)
	}
	// Tags survive the round trip and keep working.
	if removed := c2.DeleteByTag(ctx, "durable"); removed != 1 {
		t.Errorf("DeleteByTag after restore removed %d, want 1", removed)
	}
}

func TestDeleteReachesDurableStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.EnableDeduplication = false
	cfg.EnablePersistence = true
	cfg.PersistenceInterval = time.Hour

	store, err := persistence.NewFileStore(persistence.FileStoreConfig{Dir: dir, SyncPolicy: "always"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(cfg, store)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	r := req("durable delete", "op")
	c.Set(ctx, r, result("x"), ResultMetadata{})
	c.Delete(ctx, DeriveKey(r))
	c.Close()
	store.Close()

	reopened, err := persistence.NewFileStore(persistence.FileStoreConfig{Dir: dir, SyncPolicy: "always"})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	records, err := reopened.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Errorf("deleted entry still durable: %d records", len(records))
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 0
	if _, err := New(cfg, nil); err == nil {
		t.Error("zero max size accepted")
	}

	cfg = DefaultConfig()
	cfg.EvictionPolicy = "rando"
	if _, err := New(cfg, nil); err == nil {
		t.Error("unknown policy accepted")
	}
}
