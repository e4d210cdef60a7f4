// Package config loads and validates the cache engine's configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Cache       CacheConfig       `yaml:"cache"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CacheConfig controls the in-memory cache behavior.
type CacheConfig struct {
	MaxSize             string        `yaml:"max_size"` // human-readable, e.g. "64MB"
	MaxEntries          int           `yaml:"max_entries"`
	TTL                 time.Duration `yaml:"ttl"`
	EvictionPolicy      string        `yaml:"eviction_policy"` // lru, lfu, fifo, priority
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	EnableDeduplication bool          `yaml:"enable_deduplication"`
	PreservePersistent  bool          `yaml:"preserve_persistent"`
}

// PersistenceConfig controls the durable store and flush behavior.
type PersistenceConfig struct {
	Enabled           bool          `yaml:"enabled"`
	DataDirectory     string        `yaml:"data_directory"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	SyncPolicy        string        `yaml:"sync_policy"`       // "always", "everysec", "no"
	CompactThreshold  string        `yaml:"compact_threshold"` // AOF size before compaction
	SnapshotRetention int           `yaml:"snapshot_retention"`
	CompressionLevel  int           `yaml:"compression_level"` // 0-9
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level         string `yaml:"level"` // debug, info, warn, error
	EnableConsole bool   `yaml:"enable_console"`
	EnableFile    bool   `yaml:"enable_file"`
	LogFile       string `yaml:"log_file"`
	BufferSize    int    `yaml:"buffer_size"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			MaxSize:             "64MB",
			MaxEntries:          1000,
			TTL:                 24 * time.Hour,
			EvictionPolicy:      "lru",
			SimilarityThreshold: 0.85,
			EnableDeduplication: true,
			PreservePersistent:  true,
		},
		Persistence: PersistenceConfig{
			Enabled:           false, // opt-in for safety
			DataDirectory:     "./data",
			FlushInterval:     30 * time.Second,
			SyncPolicy:        "everysec",
			CompactThreshold:  "4MB",
			SnapshotRetention: 3,
			CompressionLevel:  1,
		},
		Logging: LoggingConfig{
			Level:         "info",
			EnableConsole: true,
			EnableFile:    false,
			LogFile:       "",
			BufferSize:    1000,
		},
	}
}

// Load reads the configuration file at path, overlaying it on the defaults.
// A missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if _, err := ParseSize(c.Cache.MaxSize); err != nil {
		return fmt.Errorf("cache.max_size: %w", err)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be greater than 0")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl cannot be negative")
	}
	if !isValidEvictionPolicy(c.Cache.EvictionPolicy) {
		return fmt.Errorf("invalid eviction policy: %s", c.Cache.EvictionPolicy)
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold must be between 0 and 1")
	}

	if c.Persistence.Enabled {
		if c.Persistence.DataDirectory == "" {
			return fmt.Errorf("persistence.data_directory cannot be empty")
		}
		if c.Persistence.FlushInterval <= 0 {
			return fmt.Errorf("persistence.flush_interval must be greater than 0")
		}
		if !isValidSyncPolicy(c.Persistence.SyncPolicy) {
			return fmt.Errorf("invalid persistence sync policy: %s", c.Persistence.SyncPolicy)
		}
		if _, err := ParseSize(c.Persistence.CompactThreshold); err != nil {
			return fmt.Errorf("persistence.compact_threshold: %w", err)
		}
		if c.Persistence.CompressionLevel < 0 || c.Persistence.CompressionLevel > 9 {
			return fmt.Errorf("persistence.compression_level must be between 0 and 9")
		}
	}

	return nil
}

func isValidEvictionPolicy(policy string) bool {
	switch policy {
	case "lru", "lfu", "fifo", "priority":
		return true
	}
	return false
}

func isValidSyncPolicy(policy string) bool {
	switch policy {
	case "always", "everysec", "no":
		return true
	}
	return false
}

// ParseSize converts a human-readable size string like "100MB" into bytes.
// A bare number is taken as bytes.
func ParseSize(sizeStr string) (int64, error) {
	if sizeStr == "" {
		return 0, fmt.Errorf("size cannot be empty")
	}

	multipliers := map[string]int64{
		"B":  1,
		"KB": 1024,
		"MB": 1024 * 1024,
		"GB": 1024 * 1024 * 1024,
		"TB": 1024 * 1024 * 1024 * 1024,
	}

	var size int64
	var unit string

	n, err := fmt.Sscanf(sizeStr, "%d%s", &size, &unit)
	if err != nil && n < 1 {
		return 0, fmt.Errorf("invalid size format %q", sizeStr)
	}
	if size < 0 {
		return 0, fmt.Errorf("size cannot be negative: %q", sizeStr)
	}
	if n == 1 {
		return size, nil
	}

	multiplier, ok := multipliers[unit]
	if !ok {
		return 0, fmt.Errorf("unknown size unit %q in %q", unit, sizeStr)
	}
	return size * multiplier, nil
}
