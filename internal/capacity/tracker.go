// Package capacity tracks the cache's aggregate byte size and entry count
// against configured limits. All size and count mutations flow through the
// Tracker so it stays authoritative.
package capacity

// Pressure thresholds, matching the levels at which the cache escalates
// its logging around evictions.
const (
	warningThreshold  = 0.85
	criticalThreshold = 0.90
	panicThreshold    = 0.95
)

// PressureLevel classifies how close the tracker is to its byte limit.
type PressureLevel int

const (
	PressureNone PressureLevel = iota
	PressureWarning
	PressureCritical
	PressurePanic
)

func (p PressureLevel) String() string {
	switch p {
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	case PressurePanic:
		return "panic"
	default:
		return "none"
	}
}

// Tracker is pure bookkeeping: it never stores entries, only their
// aggregate footprint. Not safe for concurrent use; the owning cache
// serializes access.
type Tracker struct {
	maxSize    int64
	maxEntries int

	currentSize    int64
	currentEntries int
}

// NewTracker creates a tracker with the given byte and entry limits.
func NewTracker(maxSize int64, maxEntries int) *Tracker {
	return &Tracker{maxSize: maxSize, maxEntries: maxEntries}
}

// CanAccommodate reports whether one additional entry of the given size fits
// within both limits.
func (t *Tracker) CanAccommodate(size int64) bool {
	return t.currentSize+size <= t.maxSize && t.currentEntries+1 <= t.maxEntries
}

// Add records an inserted entry of the given size.
func (t *Tracker) Add(size int64) {
	t.currentSize += size
	t.currentEntries++
}

// Remove records a removed entry of the given size, symmetric with Add.
func (t *Tracker) Remove(size int64) {
	t.currentSize -= size
	t.currentEntries--
	if t.currentSize < 0 {
		t.currentSize = 0
	}
	if t.currentEntries < 0 {
		t.currentEntries = 0
	}
}

// Reset clears both counters.
func (t *Tracker) Reset() {
	t.currentSize = 0
	t.currentEntries = 0
}

// SetLimits replaces the configured limits. Callers are responsible for
// evicting down to the new limits afterwards.
func (t *Tracker) SetLimits(maxSize int64, maxEntries int) {
	t.maxSize = maxSize
	t.maxEntries = maxEntries
}

// Size returns the current aggregate byte size.
func (t *Tracker) Size() int64 { return t.currentSize }

// Entries returns the current entry count.
func (t *Tracker) Entries() int { return t.currentEntries }

// MaxSize returns the configured byte limit.
func (t *Tracker) MaxSize() int64 { return t.maxSize }

// MaxEntries returns the configured entry limit.
func (t *Tracker) MaxEntries() int { return t.maxEntries }

// Overflow returns how many bytes the tracker is over its byte limit,
// or 0 when within limits.
func (t *Tracker) Overflow() int64 {
	if over := t.currentSize - t.maxSize; over > 0 {
		return over
	}
	return 0
}

// EntryOverflow returns how many entries the tracker is over its count
// limit, or 0 when within limits.
func (t *Tracker) EntryOverflow() int {
	if over := t.currentEntries - t.maxEntries; over > 0 {
		return over
	}
	return 0
}

// Pressure returns the fraction of the byte limit currently in use,
// in [0, 1]. A zero byte limit reports full pressure.
func (t *Tracker) Pressure() float64 {
	if t.maxSize <= 0 {
		return 1.0
	}
	p := float64(t.currentSize) / float64(t.maxSize)
	if p > 1.0 {
		p = 1.0
	}
	return p
}

// Level classifies the current pressure against the escalation thresholds.
func (t *Tracker) Level() PressureLevel {
	p := t.Pressure()
	switch {
	case p >= panicThreshold:
		return PressurePanic
	case p >= criticalThreshold:
		return PressureCritical
	case p >= warningThreshold:
		return PressureWarning
	default:
		return PressureNone
	}
}
