package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/youming-ai/parsify.dev-sub013/internal/persistence"
)

// toRecord converts an entry to its durable form. The request and result
// JSON are passed in because Set already produced them for size
// estimation; flush-time conversions marshal fresh.
func toRecord(e *Entry, reqJSON, resJSON []byte) (persistence.Record, error) {
	var err error
	if reqJSON == nil {
		reqJSON, err = json.Marshal(e.Request)
		if err != nil {
			return persistence.Record{}, fmt.Errorf("marshal request for key %s: %w", e.Key, err)
		}
	}
	if resJSON == nil {
		resJSON, err = json.Marshal(e.Result)
		if err != nil {
			return persistence.Record{}, fmt.Errorf("marshal result for key %s: %w", e.Key, err)
		}
	}
	mdJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return persistence.Record{}, fmt.Errorf("marshal metadata for key %s: %w", e.Key, err)
	}
	return persistence.Record{
		Key:          e.Key,
		ID:           e.ID,
		RequestJSON:  reqJSON,
		ResultJSON:   resJSON,
		MetadataJSON: mdJSON,
		Tags:         append([]string(nil), e.Tags...),
		Priority:     int(e.Priority),
		Persistent:   e.Persistent,
		CreatedAt:    e.CreatedAt.UnixMilli(),
		LastAccessed: e.LastAccessed.UnixMilli(),
		AccessCount:  e.AccessCount,
		Size:         e.Size,
	}, nil
}

// entryFromRecord rebuilds a live entry from its durable form. The
// canonical form and dedup signature are recomputed rather than stored.
func entryFromRecord(rec persistence.Record) (*Entry, error) {
	var req ProcessingRequest
	if err := json.Unmarshal(rec.RequestJSON, &req); err != nil {
		return nil, fmt.Errorf("unmarshal request for key %s: %w", rec.Key, err)
	}
	var res ProcessingResult
	if err := json.Unmarshal(rec.ResultJSON, &res); err != nil {
		return nil, fmt.Errorf("unmarshal result for key %s: %w", rec.Key, err)
	}
	var md ResultMetadata
	if len(rec.MetadataJSON) > 0 {
		if err := json.Unmarshal(rec.MetadataJSON, &md); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for key %s: %w", rec.Key, err)
		}
	}

	createdAt := time.UnixMilli(rec.CreatedAt)
	lastAccessed := time.UnixMilli(rec.LastAccessed)
	if lastAccessed.Before(createdAt) {
		lastAccessed = createdAt
	}

	e := &Entry{
		ID:           rec.ID,
		Key:          rec.Key,
		Request:      req,
		Result:       res,
		Metadata:     md,
		CreatedAt:    createdAt,
		LastAccessed: lastAccessed,
		AccessCount:  rec.AccessCount,
		Size:         rec.Size,
		Tags:         rec.Tags,
		Priority:     Priority(rec.Priority),
		Persistent:   rec.Persistent,
	}
	e.canonical = canonicalForm(req)
	e.opsSig = opsSignature(req)
	if e.Size <= 0 {
		e.Size = int64(len(rec.RequestJSON) + len(rec.ResultJSON))
	}
	return e, nil
}
