package cache

import "sort"

// Priority orders entries for the priority eviction policy. Higher
// priorities are evicted later.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// Weight converts a priority into the ascending sort key the eviction
// planner consumes. Out-of-range values clamp to the nearest bound.
func (p Priority) Weight() int {
	switch {
	case p < PriorityLow:
		return int(PriorityLow)
	case p > PriorityCritical:
		return int(PriorityCritical)
	default:
		return int(p)
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// SetOption customizes a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	tags       []string
	priority   Priority
	persistent bool
}

func defaultSetOptions() setOptions {
	return setOptions{priority: PriorityNormal}
}

// WithTags attaches invalidation tags to the entry. Duplicates are
// collapsed and the stored set is sorted.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) {
		seen := make(map[string]struct{}, len(tags))
		for _, t := range tags {
			if t == "" {
				continue
			}
			seen[t] = struct{}{}
		}
		out := make([]string, 0, len(seen))
		for t := range seen {
			out = append(out, t)
		}
		sort.Strings(out)
		o.tags = out
	}
}

// WithPriority sets the entry's eviction priority.
func WithPriority(p Priority) SetOption {
	return func(o *setOptions) {
		o.priority = p
	}
}

// WithPersistent marks the entry as protected from eviction while the
// cache is configured to preserve persistent entries. Protected entries
// are still subject to TTL expiry and explicit deletion.
func WithPersistent() SetOption {
	return func(o *setOptions) {
		o.persistent = true
	}
}
