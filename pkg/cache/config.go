package cache

import (
	"fmt"
	"time"

	"github.com/youming-ai/parsify.dev-sub013/internal/eviction"
)

// Config is the runtime configuration of a ResultCache.
type Config struct {
	// MaxSize caps the summed serialized size of all entries, in bytes.
	MaxSize int64
	// MaxEntries caps the number of entries.
	MaxEntries int
	// TTL is the absolute lifetime of an entry from creation. Zero
	// disables expiry.
	TTL time.Duration
	// EvictionPolicy selects the victim ordering when capacity is exceeded.
	EvictionPolicy eviction.Policy
	// SimilarityThreshold is the Jaccard score at or above which a new
	// request is considered a duplicate of an existing entry.
	SimilarityThreshold float64
	// EnableDeduplication toggles the similarity check on Set.
	EnableDeduplication bool
	// EnablePersistence activates the write-behind persistence bridge.
	EnablePersistence bool
	// PersistenceInterval is the write-behind flush period.
	PersistenceInterval time.Duration
	// PreservePersistent exempts persistent entries from eviction.
	PreservePersistent bool
}

// DefaultConfig returns the configuration used when callers have no
// specific requirements: 64MB, 1000 entries, 24h TTL, LRU.
func DefaultConfig() Config {
	return Config{
		MaxSize:             64 * 1024 * 1024,
		MaxEntries:          1000,
		TTL:                 24 * time.Hour,
		EvictionPolicy:      eviction.PolicyLRU,
		SimilarityThreshold: 0.85,
		EnableDeduplication: true,
		EnablePersistence:   false,
		PersistenceInterval: 30 * time.Second,
		PreservePersistent:  true,
	}
}

func (c Config) validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("max size must be positive, got %d", c.MaxSize)
	}
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max entries must be positive, got %d", c.MaxEntries)
	}
	if c.TTL < 0 {
		return fmt.Errorf("ttl must not be negative, got %v", c.TTL)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0,1], got %g", c.SimilarityThreshold)
	}
	if _, err := eviction.ParsePolicy(string(c.EvictionPolicy)); err != nil {
		return err
	}
	if c.EnablePersistence && c.PersistenceInterval <= 0 {
		return fmt.Errorf("persistence interval must be positive, got %v", c.PersistenceInterval)
	}
	return nil
}

// ConfigPatch is a partial configuration update. Nil fields keep their
// current values.
type ConfigPatch struct {
	MaxSize             *int64
	MaxEntries          *int
	TTL                 *time.Duration
	EvictionPolicy      *eviction.Policy
	SimilarityThreshold *float64
	EnableDeduplication *bool
	PreservePersistent  *bool
}

func (c Config) applied(p ConfigPatch) Config {
	out := c
	if p.MaxSize != nil {
		out.MaxSize = *p.MaxSize
	}
	if p.MaxEntries != nil {
		out.MaxEntries = *p.MaxEntries
	}
	if p.TTL != nil {
		out.TTL = *p.TTL
	}
	if p.EvictionPolicy != nil {
		out.EvictionPolicy = *p.EvictionPolicy
	}
	if p.SimilarityThreshold != nil {
		out.SimilarityThreshold = *p.SimilarityThreshold
	}
	if p.EnableDeduplication != nil {
		out.EnableDeduplication = *p.EnableDeduplication
	}
	if p.PreservePersistent != nil {
		out.PreservePersistent = *p.PreservePersistent
	}
	return out
}
