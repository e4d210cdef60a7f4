package persistence

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/youming-ai/parsify.dev-sub013/internal/logging"
)

const (
	aofName        = "resultcache.aof"
	snapshotGlob   = "resultcache-snapshot-*.snap"
	snapshotFormat = "resultcache-snapshot-%s.snap"

	opSet   = "SET"
	opDel   = "DEL"
	opClear = "CLEAR"
)

// FileStoreConfig controls the file-backed durable store.
type FileStoreConfig struct {
	Dir               string
	SyncPolicy        string // "always", "everysec", "no"
	CompactThreshold  int64  // AOF bytes before snapshot compaction; 0 = 4MB
	SnapshotRetention int    // old snapshots kept after compaction
	CompressionLevel  int    // gzip level 0-9; 0 disables compression
}

// FileStoreStats tracks store activity.
type FileStoreStats struct {
	EntriesWritten   int64
	EntriesRecovered int64
	CompactionRuns   int64
	LastSnapshot     time.Time
}

// FileStore implements DurableStore with an append-only operation log plus
// periodic compacted snapshots. Recovery loads the latest snapshot and
// replays the log on top of it.
type FileStore struct {
	config FileStoreConfig

	mu       sync.Mutex
	records  map[string]Record
	logFile  *os.File
	writer   *bufio.Writer
	logSize  int64
	lastSync time.Time
	stats    FileStoreStats
}

type logLine struct {
	Op     string  `json:"op"`
	Key    string  `json:"key,omitempty"`
	Record *Record `json:"record,omitempty"`
}

type snapshotHeader struct {
	Version     int
	CreatedAt   time.Time
	RecordCount int
	Compressed  bool
}

// NewFileStore opens (or creates) the store under config.Dir and recovers
// its state from the latest snapshot plus the operation log.
func NewFileStore(config FileStoreConfig) (*FileStore, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("file store directory cannot be empty")
	}
	if config.CompactThreshold <= 0 {
		config.CompactThreshold = 4 * 1024 * 1024
	}
	if config.SyncPolicy == "" {
		config.SyncPolicy = "everysec"
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	fs := &FileStore{
		config:  config,
		records: make(map[string]Record),
	}

	if err := fs.recover(); err != nil {
		return nil, err
	}

	if err := fs.openLog(); err != nil {
		return nil, err
	}

	return fs, nil
}

// LoadAll returns every persisted record, ordered by key for determinism.
func (fs *FileStore) LoadAll(ctx context.Context) ([]Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	records := make([]Record, 0, len(fs.records))
	for _, rec := range fs.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// Put persists a record, overwriting any previous record with the same key.
func (fs *FileStore) Put(ctx context.Context, record Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.records[record.Key] = record
	if err := fs.appendLine(logLine{Op: opSet, Record: &record}); err != nil {
		return err
	}
	fs.stats.EntriesWritten++

	if fs.logSize > fs.config.CompactThreshold {
		if err := fs.compactLocked(); err != nil {
			return fmt.Errorf("compaction failed: %w", err)
		}
	}
	return nil
}

// Delete removes the record with the given key.
func (fs *FileStore) Delete(ctx context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.records[key]; !ok {
		return nil
	}
	delete(fs.records, key)
	return fs.appendLine(logLine{Op: opDel, Key: key})
}

// Clear removes every persisted record, the log and all snapshots.
func (fs *FileStore) Clear(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.records = make(map[string]Record)

	if err := fs.truncateLog(); err != nil {
		return err
	}

	snapshots, err := filepath.Glob(filepath.Join(fs.config.Dir, snapshotGlob))
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	for _, snap := range snapshots {
		if err := os.Remove(snap); err != nil {
			return fmt.Errorf("failed to remove snapshot %s: %w", snap, err)
		}
	}
	return nil
}

// Close flushes and closes the operation log.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.writer != nil {
		fs.writer.Flush()
		fs.writer = nil
	}
	if fs.logFile != nil {
		err := fs.logFile.Close()
		fs.logFile = nil
		return err
	}
	return nil
}

// Stats returns a copy of the store's activity counters.
func (fs *FileStore) Stats() FileStoreStats {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.stats
}

func (fs *FileStore) openLog() error {
	logPath := filepath.Join(fs.config.Dir, aofName)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open operation log: %w", err)
	}

	fs.logFile = file
	fs.writer = bufio.NewWriterSize(file, 64*1024)

	if info, err := file.Stat(); err == nil {
		fs.logSize = info.Size()
	}
	return nil
}

func (fs *FileStore) truncateLog() error {
	if fs.writer != nil {
		fs.writer.Flush()
	}
	if fs.logFile != nil {
		fs.logFile.Close()
	}
	logPath := filepath.Join(fs.config.Dir, aofName)
	if err := os.Remove(logPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to truncate operation log: %w", err)
	}
	fs.logSize = 0
	return fs.openLog()
}

func (fs *FileStore) appendLine(line logLine) error {
	if fs.writer == nil {
		return fmt.Errorf("operation log not open")
	}

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to encode log line: %w", err)
	}

	n, err := fs.writer.Write(append(data, '\n'))
	if err != nil {
		return fmt.Errorf("failed to write log line: %w", err)
	}
	fs.logSize += int64(n)

	switch fs.config.SyncPolicy {
	case "always":
		if err := fs.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush operation log: %w", err)
		}
		if err := fs.logFile.Sync(); err != nil {
			return fmt.Errorf("failed to sync operation log: %w", err)
		}
	case "everysec":
		if time.Since(fs.lastSync) >= time.Second {
			fs.writer.Flush()
			fs.logFile.Sync()
			fs.lastSync = time.Now()
		}
	default: // "no": buffered, the OS decides when to flush
	}
	return nil
}

// recover rebuilds the in-memory mirror from the latest snapshot plus the
// operation log. Called once before the log is opened for appending.
func (fs *FileStore) recover() error {
	if err := fs.loadLatestSnapshot(); err != nil {
		return err
	}
	return fs.replayLog()
}

func (fs *FileStore) loadLatestSnapshot() error {
	latest, err := fs.findLatestSnapshot()
	if err != nil || latest == "" {
		return err
	}

	file, err := os.Open(latest)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	var reader interface{ Read([]byte) (int, error) } = file

	// gzip magic bytes decide whether the snapshot was compressed.
	magic := make([]byte, 2)
	if _, err := io.ReadFull(file, magic); err != nil {
		return fmt.Errorf("snapshot %s is truncated: %w", filepath.Base(latest), err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind snapshot %s: %w", filepath.Base(latest), err)
	}
	if magic[0] == 0x1f && magic[1] == 0x8b {
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("failed to open compressed snapshot: %w", err)
		}
		defer gzReader.Close()
		reader = gzReader
	}

	decoder := gob.NewDecoder(reader)

	var header snapshotHeader
	if err := decoder.Decode(&header); err != nil {
		return fmt.Errorf("failed to decode snapshot header: %w", err)
	}

	var records []Record
	if err := decoder.Decode(&records); err != nil {
		return fmt.Errorf("failed to decode snapshot records: %w", err)
	}

	for _, rec := range records {
		fs.records[rec.Key] = rec
	}
	fs.stats.EntriesRecovered += int64(len(records))

	logging.Debug(context.Background(), logging.ComponentPersistence, logging.ActionSnapshot,
		"Loaded snapshot", map[string]any{
			"records":  len(records),
			"snapshot": filepath.Base(latest),
		})
	return nil
}

func (fs *FileStore) replayLog() error {
	logPath := filepath.Join(fs.config.Dir, aofName)
	file, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open operation log for replay: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		var line logLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return fmt.Errorf("failed to parse log line %d: %w", lineNum, err)
		}

		switch line.Op {
		case opSet:
			if line.Record != nil {
				fs.records[line.Record.Key] = *line.Record
				fs.stats.EntriesRecovered++
			}
		case opDel:
			delete(fs.records, line.Key)
		case opClear:
			fs.records = make(map[string]Record)
		default:
			return fmt.Errorf("unknown operation %q at log line %d", line.Op, lineNum)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading operation log: %w", err)
	}
	return nil
}

// compactLocked writes a snapshot of the current records and truncates the
// operation log. Caller must hold fs.mu.
func (fs *FileStore) compactLocked() error {
	start := time.Now()

	timestamp := start.Format("20060102-150405.000000000")
	finalPath := filepath.Join(fs.config.Dir, fmt.Sprintf(snapshotFormat, timestamp))
	tempPath := finalPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}

	var writer interface{ Write([]byte) (int, error) } = file
	var gzWriter *gzip.Writer
	if fs.config.CompressionLevel > 0 {
		gzWriter, err = gzip.NewWriterLevel(file, fs.config.CompressionLevel)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		writer = gzWriter
	}

	records := make([]Record, 0, len(fs.records))
	for _, rec := range fs.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	encoder := gob.NewEncoder(writer)
	header := snapshotHeader{
		Version:     1,
		CreatedAt:   start,
		RecordCount: len(records),
		Compressed:  fs.config.CompressionLevel > 0,
	}
	if err := encoder.Encode(header); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode snapshot header: %w", err)
	}
	if err := encoder.Encode(records); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode snapshot records: %w", err)
	}

	if gzWriter != nil {
		gzWriter.Close()
	}
	file.Sync()
	file.Close()

	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}

	if err := fs.truncateLog(); err != nil {
		return err
	}

	fs.cleanupOldSnapshots()
	fs.stats.CompactionRuns++
	fs.stats.LastSnapshot = start

	logging.Info(context.Background(), logging.ComponentPersistence, logging.ActionCompaction,
		"Compacted operation log into snapshot", map[string]any{
			"records":     len(records),
			"snapshot":    filepath.Base(finalPath),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	return nil
}

func (fs *FileStore) findLatestSnapshot() (string, error) {
	files, err := filepath.Glob(filepath.Join(fs.config.Dir, snapshotGlob))
	if err != nil {
		return "", fmt.Errorf("failed to search for snapshots: %w", err)
	}
	if len(files) == 0 {
		return "", nil
	}

	var latest string
	var latestTime time.Time
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latest = file
		}
	}
	return latest, nil
}

func (fs *FileStore) cleanupOldSnapshots() {
	retain := fs.config.SnapshotRetention
	if retain <= 0 {
		retain = 1
	}

	files, err := filepath.Glob(filepath.Join(fs.config.Dir, snapshotGlob))
	if err != nil || len(files) <= retain {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		fi, errI := os.Stat(files[i])
		fj, errJ := os.Stat(files[j])
		if errI != nil || errJ != nil {
			return files[i] < files[j]
		}
		return fi.ModTime().Before(fj.ModTime())
	})

	for _, file := range files[:len(files)-retain] {
		os.Remove(file)
	}
}
