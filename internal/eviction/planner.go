// Package eviction selects victim entries when the cache must free space.
//
// The planner is pure: it never touches cache storage. The cache hands it a
// snapshot of candidate views and removes whatever comes back, mirroring how
// the store and eviction policy are decoupled elsewhere in this codebase.
package eviction

import (
	"fmt"
	"sort"
	"time"
)

// Policy names a victim-ordering rule.
type Policy string

const (
	PolicyLRU      Policy = "lru"      // oldest lastAccessed first
	PolicyLFU      Policy = "lfu"      // lowest accessCount first
	PolicyFIFO     Policy = "fifo"     // oldest createdAt first
	PolicyPriority Policy = "priority" // lowest priority weight first
)

// ParsePolicy validates and converts a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyLRU, PolicyLFU, PolicyFIFO, PolicyPriority:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown eviction policy: %q", s)
	}
}

// Candidate is the planner's view of a cache entry. Seq is the entry's
// insertion sequence number; ties within a policy are broken by it so
// eviction stays deterministic.
type Candidate struct {
	Key          string
	Size         int64
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  uint64
	Weight       int // priority weight; lower is evicted first
	Persistent   bool
	Seq          uint64
}

// SelectVictims orders the eligible candidates by policy and greedily picks
// them until the accumulated freed bytes reach targetBytes or candidates run
// out. Running out without meeting the target is not an error; the caller
// re-checks capacity afterwards. When preservePersistent is set, persistent
// candidates are never selected.
func SelectVictims(candidates []Candidate, policy Policy, targetBytes int64, preservePersistent bool) []Candidate {
	eligible := ordered(candidates, policy, preservePersistent)

	var victims []Candidate
	var freed int64
	for _, c := range eligible {
		if freed >= targetBytes {
			break
		}
		victims = append(victims, c)
		freed += c.Size
	}
	return victims
}

// SelectVictimsByCount returns the first targetCount policy-ordered eligible
// candidates. Used when only the entry-count limit is exceeded: a byte
// target there would cascade past a small first victim and evict more
// entries than the count surplus requires.
func SelectVictimsByCount(candidates []Candidate, policy Policy, targetCount int, preservePersistent bool) []Candidate {
	if targetCount <= 0 {
		return nil
	}
	eligible := ordered(candidates, policy, preservePersistent)
	if targetCount > len(eligible) {
		targetCount = len(eligible)
	}
	return eligible[:targetCount]
}

// ordered filters out preserved candidates and sorts the rest by policy.
// Candidates are pre-ordered by insertion so the stable sort's tie-break is
// insertion order regardless of the order candidates arrived in.
func ordered(candidates []Candidate, policy Policy, preservePersistent bool) []Candidate {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if preservePersistent && c.Persistent {
			continue
		}
		eligible = append(eligible, c)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Seq < eligible[j].Seq
	})
	sort.SliceStable(eligible, less(policy, eligible))
	return eligible
}

func less(policy Policy, cands []Candidate) func(i, j int) bool {
	switch policy {
	case PolicyLFU:
		return func(i, j int) bool { return cands[i].AccessCount < cands[j].AccessCount }
	case PolicyFIFO:
		return func(i, j int) bool { return cands[i].CreatedAt.Before(cands[j].CreatedAt) }
	case PolicyPriority:
		return func(i, j int) bool { return cands[i].Weight < cands[j].Weight }
	default: // PolicyLRU
		return func(i, j int) bool { return cands[i].LastAccessed.Before(cands[j].LastAccessed) }
	}
}
