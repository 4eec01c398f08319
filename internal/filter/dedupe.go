package filter

import (
	"sync"
	"time"
)

// DedupeFilter collapses repeated identical helper output lines
type DedupeFilter struct {
	mu          sync.Mutex
	window      time.Duration // Time window for deduplication (0 = consecutive only)
	now         func() time.Time
	seen        map[string]*dedupeEntry
	lastMessage string
}

type dedupeEntry struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// NewDedupeFilter creates a new deduplication filter
// window=0 means only collapse consecutive identical lines
// window>0 means collapse identical lines within the time window
func NewDedupeFilter(window time.Duration) *DedupeFilter {
	return &DedupeFilter{
		window: window,
		now:    time.Now,
		seen:   make(map[string]*dedupeEntry),
	}
}

// DedupeResult holds the result of a dedupe check
type DedupeResult struct {
	ShouldEmit bool      // Whether this line should be emitted
	Count      int       // Number of duplicates (1 = first occurrence)
	FirstSeen  time.Time // First occurrence timestamp
	LastSeen   time.Time // Last occurrence timestamp (same as FirstSeen if count=1)
	// Collapsed is the number of suppressed repeats of the previous line,
	// reported when a different line breaks a consecutive run.
	Collapsed int
	Previous  string
}

// Check determines if a line should be emitted or suppressed
func (f *DedupeFilter) Check(line string) DedupeResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()

	// Clean up old entries if using window mode
	if f.window > 0 {
		f.cleanOldEntries(now)
	}

	if existing, ok := f.seen[line]; ok {
		// In window mode, always suppress duplicates within window.
		// In consecutive mode, only suppress if same as last line.
		if f.window > 0 || f.lastMessage == line {
			existing.count++
			existing.lastSeen = now
			return DedupeResult{
				ShouldEmit: false,
				Count:      existing.count,
				FirstSeen:  existing.firstSeen,
				LastSeen:   existing.lastSeen,
			}
		}
	}

	res := DedupeResult{
		ShouldEmit: true,
		Count:      1,
		FirstSeen:  now,
		LastSeen:   now,
	}
	if f.window == 0 && f.lastMessage != "" {
		if prev, ok := f.seen[f.lastMessage]; ok && prev.count > 1 {
			res.Collapsed = prev.count - 1
			res.Previous = f.lastMessage
		}
		// consecutive mode only needs to remember the current run
		delete(f.seen, f.lastMessage)
	}

	f.seen[line] = &dedupeEntry{
		count:     1,
		firstSeen: now,
		lastSeen:  now,
	}
	f.lastMessage = line
	return res
}

// Reset clears the deduplication state
func (f *DedupeFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = make(map[string]*dedupeEntry)
	f.lastMessage = ""
}

// cleanOldEntries removes entries outside the time window
func (f *DedupeFilter) cleanOldEntries(now time.Time) {
	cutoff := now.Add(-f.window)
	for key, entry := range f.seen {
		if entry.lastSeen.Before(cutoff) {
			delete(f.seen, key)
		}
	}
}
