// Package cache implements the semantic result cache: derived-key lookup of
// processing results with similarity-based deduplication, multi-policy
// eviction under byte and entry limits, and write-behind persistence.
package cache

import (
	"fmt"
	"sort"
	"time"

	"github.com/youming-ai/parsify.dev-sub013/internal/fingerprint"
)

// Operation identifies one processing step requested by a caller.
type Operation struct {
	Type   string            `json:"type"`
	Params map[string]string `json:"params,omitempty"`
}

// ProcessingConfig carries the pipeline settings that influence output and
// therefore participate in key derivation.
type ProcessingConfig struct {
	Mode   string `json:"mode,omitempty"`
	Locale string `json:"locale,omitempty"`
	Strict bool   `json:"strict,omitempty"`
}

// ProcessingRequest is the input descriptor handed to the processing
// pipeline. The cache only requires that it is serializable and that Text
// is tokenizable for similarity comparison.
type ProcessingRequest struct {
	Text       string           `json:"text"`
	Operations []Operation      `json:"operations"`
	Config     ProcessingConfig `json:"config"`
}

// ProcessingResult is the pipeline's output. Opaque to the cache beyond
// being serializable for size estimation.
type ProcessingResult struct {
	Content  string            `json:"content"`
	MimeType string            `json:"mime_type,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// ModelInfo identifies the model that produced a result.
type ModelInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// QualityMetrics are optional per-result quality scores.
type QualityMetrics struct {
	Accuracy     *float64 `json:"accuracy,omitempty"`
	Completeness *float64 `json:"completeness,omitempty"`
	Consistency  *float64 `json:"consistency,omitempty"`
}

// PerformanceMetrics are optional per-result resource measurements.
type PerformanceMetrics struct {
	MemoryUsage     *int64   `json:"memory_usage,omitempty"`
	CPUUsage        *float64 `json:"cpu_usage,omitempty"`
	NetworkRequests *int     `json:"network_requests,omitempty"`
}

// ResultMetadata describes how a result was produced. Purely descriptive:
// it never participates in key derivation or entry equality.
type ResultMetadata struct {
	ProcessingTime time.Duration       `json:"processing_time"`
	Confidence     *float64            `json:"confidence,omitempty"`
	Model          *ModelInfo          `json:"model,omitempty"`
	InputHash      string              `json:"input_hash,omitempty"`
	OutputHash     string              `json:"output_hash,omitempty"`
	Language       string              `json:"language,omitempty"`
	Quality        *QualityMetrics     `json:"quality,omitempty"`
	Performance    *PerformanceMetrics `json:"performance,omitempty"`
}

// Entry is the unit of storage. The cache owns its entries exclusively;
// callers only ever receive copies.
type Entry struct {
	ID           string
	Key          string
	Request      ProcessingRequest
	Result       ProcessingResult
	Metadata     ResultMetadata
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  uint64
	Size         int64
	Tags         []string
	Priority     Priority
	Persistent   bool

	canonical string // canonical request form; re-verified on every hit
	opsSig    string // sorted operation-type signature for dedup checks
	seq       uint64 // insertion sequence; eviction tie-break
}

// SearchQuery filters and ranks live entries. Empty fields do not filter.
type SearchQuery struct {
	Text          string
	Operations    []string // operation types that must all be present
	Model         string
	Language      string
	MinConfidence *float64
	Tags          []string // tags that must all be present
	DateRange     *DateRange
	// SimilarityThreshold overrides the configured threshold for the Text
	// filter when set.
	SimilarityThreshold *float64
}

// DateRange bounds entries by creation time. Zero bounds are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Statistics is the derived view over the live entry set and the running
// hit/miss/eviction counters.
type Statistics struct {
	TotalEntries        int
	TotalSize           int64
	HitRate             float64
	MissRate            float64
	EvictionRate        float64
	AverageAccessTimeMs float64
	OldestEntry         *time.Time
	NewestEntry         *time.Time
	SizeDistribution    map[string]int
	TagDistribution     map[string]int
	ModelDistribution   map[string]int
}

// canonicalParts renders the pieces of a request that feed key derivation:
// the normalized text, the full operation identifiers, and a fixed-order
// rendering of the processing configuration.
func canonicalParts(req ProcessingRequest) (text string, ops []string, cfg string) {
	ops = make([]string, len(req.Operations))
	for i, op := range req.Operations {
		ops[i] = operationID(op)
	}
	cfg = fmt.Sprintf("mode=%s;locale=%s;strict=%t", req.Config.Mode, req.Config.Locale, req.Config.Strict)
	return req.Text, ops, cfg
}

// operationID renders an operation with its parameters in sorted order so
// parameter map iteration never influences the derived key.
func operationID(op Operation) string {
	if len(op.Params) == 0 {
		return op.Type
	}
	keys := make([]string, 0, len(op.Params))
	for k := range op.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	id := op.Type + "{"
	for i, k := range keys {
		if i > 0 {
			id += ","
		}
		id += k + "=" + op.Params[k]
	}
	return id + "}"
}

// opsSignature is the sorted operation-type list; exact signature equality
// is the hard prerequisite before similarity is ever computed.
func opsSignature(req ProcessingRequest) string {
	types := make([]string, len(req.Operations))
	for i, op := range req.Operations {
		types[i] = op.Type
	}
	sort.Strings(types)
	sig := ""
	for i, t := range types {
		if i > 0 {
			sig += ","
		}
		sig += t
	}
	return sig
}

// canonicalForm is the full canonical serialization a key is derived from.
func canonicalForm(req ProcessingRequest) string {
	text, ops, cfg := canonicalParts(req)
	return fingerprint.Canonical(text, ops, cfg)
}

// DeriveKey exposes the cache key a request maps to. Useful for Delete and
// for tests.
func DeriveKey(req ProcessingRequest) string {
	return fingerprint.Hash(canonicalForm(req))
}

// Deep-copy helpers: the cache takes ownership of copies on Set and hands
// out copies on Get/Search so no caller ever aliases internal storage.

func cloneRequest(req ProcessingRequest) ProcessingRequest {
	out := req
	if req.Operations != nil {
		out.Operations = make([]Operation, len(req.Operations))
		for i, op := range req.Operations {
			out.Operations[i] = Operation{Type: op.Type, Params: cloneStringMap(op.Params)}
		}
	}
	return out
}

func cloneResult(res ProcessingResult) ProcessingResult {
	out := res
	out.Extra = cloneStringMap(res.Extra)
	return out
}

func cloneMetadata(md ResultMetadata) ResultMetadata {
	out := md
	if md.Confidence != nil {
		v := *md.Confidence
		out.Confidence = &v
	}
	if md.Model != nil {
		m := *md.Model
		out.Model = &m
	}
	if md.Quality != nil {
		q := QualityMetrics{
			Accuracy:     cloneFloat(md.Quality.Accuracy),
			Completeness: cloneFloat(md.Quality.Completeness),
			Consistency:  cloneFloat(md.Quality.Consistency),
		}
		out.Quality = &q
	}
	if md.Performance != nil {
		p := PerformanceMetrics{
			CPUUsage: cloneFloat(md.Performance.CPUUsage),
		}
		if md.Performance.MemoryUsage != nil {
			v := *md.Performance.MemoryUsage
			p.MemoryUsage = &v
		}
		if md.Performance.NetworkRequests != nil {
			v := *md.Performance.NetworkRequests
			p.NetworkRequests = &v
		}
		out.Performance = &p
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// snapshot returns a caller-safe copy of the entry.
func (e *Entry) snapshot() Entry {
	out := *e
	out.Request = cloneRequest(e.Request)
	out.Result = cloneResult(e.Result)
	out.Metadata = cloneMetadata(e.Metadata)
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	return out
}
