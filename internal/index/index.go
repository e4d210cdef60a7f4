// Package index maintains the cache's secondary indexes: tag, model name,
// and language, each mapping an attribute value to the set of cache keys
// carrying it.
package index

import "sort"

// Manager holds the three secondary indexes. Not safe for concurrent use;
// the owning cache serializes access alongside its primary table so the two
// never diverge.
type Manager struct {
	byTag      map[string]map[string]struct{}
	byModel    map[string]map[string]struct{}
	byLanguage map[string]map[string]struct{}
}

// NewManager creates an empty index manager.
func NewManager() *Manager {
	return &Manager{
		byTag:      make(map[string]map[string]struct{}),
		byModel:    make(map[string]map[string]struct{}),
		byLanguage: make(map[string]map[string]struct{}),
	}
}

// Index adds key to the buckets for each of its tags, its model name and
// language when present. Empty attribute values are not indexed.
func (m *Manager) Index(key string, tags []string, model, language string) {
	for _, tag := range tags {
		if tag != "" {
			addTo(m.byTag, tag, key)
		}
	}
	if model != "" {
		addTo(m.byModel, model, key)
	}
	if language != "" {
		addTo(m.byLanguage, language, key)
	}
}

// Unindex is the exact inverse of Index: it removes key from each bucket and
// deletes buckets left empty.
func (m *Manager) Unindex(key string, tags []string, model, language string) {
	for _, tag := range tags {
		removeFrom(m.byTag, tag, key)
	}
	if model != "" {
		removeFrom(m.byModel, model, key)
	}
	if language != "" {
		removeFrom(m.byLanguage, language, key)
	}
}

// ByTag returns the keys indexed under tag, sorted for determinism.
func (m *Manager) ByTag(tag string) []string { return keysOf(m.byTag[tag]) }

// ByModel returns the keys indexed under the model name, sorted.
func (m *Manager) ByModel(model string) []string { return keysOf(m.byModel[model]) }

// ByLanguage returns the keys indexed under the language, sorted.
func (m *Manager) ByLanguage(language string) []string { return keysOf(m.byLanguage[language]) }

// Tags returns all tags currently holding at least one key, sorted.
func (m *Manager) Tags() []string {
	tags := make([]string, 0, len(m.byTag))
	for tag := range m.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Reset drops all buckets.
func (m *Manager) Reset() {
	m.byTag = make(map[string]map[string]struct{})
	m.byModel = make(map[string]map[string]struct{})
	m.byLanguage = make(map[string]map[string]struct{})
}

func addTo(idx map[string]map[string]struct{}, attr, key string) {
	bucket, ok := idx[attr]
	if !ok {
		bucket = make(map[string]struct{})
		idx[attr] = bucket
	}
	bucket[key] = struct{}{}
}

func removeFrom(idx map[string]map[string]struct{}, attr, key string) {
	bucket, ok := idx[attr]
	if !ok {
		return
	}
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(idx, attr)
	}
}

func keysOf(bucket map[string]struct{}) []string {
	keys := make([]string, 0, len(bucket))
	for key := range bucket {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
