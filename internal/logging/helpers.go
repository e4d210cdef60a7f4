package logging

import "strings"

// LogLevelFromString converts a configuration string to a LogLevel.
func LogLevelFromString(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Component names used across the cache engine.
const (
	ComponentCache       = "cache"
	ComponentEviction    = "eviction"
	ComponentIndex       = "index"
	ComponentCapacity    = "capacity"
	ComponentPersistence = "persistence"
	ComponentConfig      = "config"
)

// Action names used in log entries.
const (
	ActionInitialize = "initialize"
	ActionGet        = "get"
	ActionSet        = "set"
	ActionDelete     = "delete"
	ActionClear      = "clear"
	ActionSearch     = "search"
	ActionEvict      = "evict"
	ActionDedup      = "dedup"
	ActionExpire     = "expire"
	ActionPersist    = "persist"
	ActionRestore    = "restore"
	ActionFlush      = "flush"
	ActionSnapshot   = "snapshot"
	ActionCompaction = "compaction"
	ActionClose      = "close"
)

// LogConfig mirrors the logging section of the configuration file.
type LogConfig struct {
	Level         string
	EnableConsole bool
	EnableFile    bool
	LogFile       string
	BufferSize    int
}

// InitializeFromConfig builds a logger from configuration and installs it as
// the global logger.
func InitializeFromConfig(cacheID string, logConfig LogConfig) *Logger {
	logger := NewLogger(Config{
		Level:         LogLevelFromString(logConfig.Level),
		CacheID:       cacheID,
		LogFile:       logConfig.LogFile,
		EnableConsole: logConfig.EnableConsole,
		EnableFile:    logConfig.EnableFile,
		BufferSize:    logConfig.BufferSize,
	})
	SetGlobalLogger(logger)
	return logger
}
