package cache

import (
	"context"
	"sort"
	"time"

	"github.com/youming-ai/parsify.dev-sub013/internal/fingerprint"
	"github.com/youming-ai/parsify.dev-sub013/internal/logging"
	"github.com/youming-ai/parsify.dev-sub013/internal/similarity"
)

// Search returns copies of the live entries matching every set filter,
// ordered by descending relevance. Expired entries never match but are
// left in place for Get or eviction to reclaim.
func (c *ResultCache) Search(ctx context.Context, query SearchQuery) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	threshold := c.config.SimilarityThreshold
	if query.SimilarityThreshold != nil {
		threshold = *query.SimilarityThreshold
	}
	queryText := fingerprint.Normalize(query.Text)
	now := c.now()

	type scored struct {
		entry *Entry
		score float64
	}
	var matches []scored
	for _, e := range c.entries {
		if c.expiredLocked(e) {
			continue
		}
		if !c.matchesLocked(e, query, queryText, threshold) {
			continue
		}
		matches = append(matches, scored{entry: e, score: relevance(e, now)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		if !matches[i].entry.CreatedAt.Equal(matches[j].entry.CreatedAt) {
			return matches[i].entry.CreatedAt.After(matches[j].entry.CreatedAt)
		}
		return matches[i].entry.Key < matches[j].entry.Key
	})

	out := make([]Entry, len(matches))
	for i, m := range matches {
		out[i] = m.entry.snapshot()
	}

	logging.Debug(ctx, logging.ComponentCache, logging.ActionSearch,
		"Search complete", map[string]any{
			"matches": len(out),
			"scanned": len(c.entries),
		})
	return out
}

func (c *ResultCache) matchesLocked(e *Entry, query SearchQuery, queryText string, threshold float64) bool {
	if query.Text != "" {
		if similarity.Score(queryText, fingerprint.Normalize(e.Request.Text)) < threshold {
			return false
		}
	}
	if len(query.Operations) > 0 {
		have := make(map[string]struct{}, len(e.Request.Operations))
		for _, op := range e.Request.Operations {
			have[op.Type] = struct{}{}
		}
		for _, want := range query.Operations {
			if _, ok := have[want]; !ok {
				return false
			}
		}
	}
	if query.Model != "" && modelName(e.Metadata) != query.Model {
		return false
	}
	if query.Language != "" && e.Metadata.Language != query.Language {
		return false
	}
	if query.MinConfidence != nil {
		if e.Metadata.Confidence == nil || *e.Metadata.Confidence < *query.MinConfidence {
			return false
		}
	}
	if len(query.Tags) > 0 {
		have := make(map[string]struct{}, len(e.Tags))
		for _, t := range e.Tags {
			have[t] = struct{}{}
		}
		for _, want := range query.Tags {
			if _, ok := have[want]; !ok {
				return false
			}
		}
	}
	if query.DateRange != nil {
		if !query.DateRange.From.IsZero() && e.CreatedAt.Before(query.DateRange.From) {
			return false
		}
		if !query.DateRange.To.IsZero() && e.CreatedAt.After(query.DateRange.To) {
			return false
		}
	}
	return true
}

// relevance combines recency, confidence, and access frequency. Recency
// decays linearly over 24 hours for up to 10 points, confidence
// contributes up to 5, and frequency up to 5 at 20 accesses.
func relevance(e *Entry, now time.Time) float64 {
	score := 0.0

	hours := now.Sub(e.LastAccessed).Hours()
	if hours < 0 {
		hours = 0
	}
	if hours < 24 {
		score += (24 - hours) / 24 * 10
	}

	if e.Metadata.Confidence != nil {
		score += *e.Metadata.Confidence * 5
	}

	freq := e.AccessCount
	if freq > 20 {
		freq = 20
	}
	score += float64(freq) * 0.25

	return score
}
