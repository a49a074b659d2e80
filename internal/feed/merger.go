// Package feed holds the canonical in-memory feed: a deduplicating,
// time-ordered merger fed by a live subscription and a backward-paginating
// historical loader, plus the session glue that owns both.
package feed

import (
	"sort"
	"sync"

	"github.com/lensfeed/lensfeed/internal/models"
)

// DefaultMaxLive is the live-path bound on resident events.
const DefaultMaxLive = 100

// Merger merges live events and historical batches into one deduplicated
// sequence sorted by CreatedAt descending, ties keeping merge order. The
// seen-set only grows during a session: identifiers of evicted events stay
// in it so an evicted event cannot resurface. All operations share one
// mutex; the live path and the historical path may call in concurrently.
type Merger struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	events  []models.FeedEvent
	maxLive int
}

// NewMerger creates a merger bounded to maxLive resident events on the live
// path; non-positive means DefaultMaxLive.
func NewMerger(maxLive int) *Merger {
	if maxLive <= 0 {
		maxLive = DefaultMaxLive
	}
	return &Merger{
		seen:    make(map[string]struct{}),
		maxLive: maxLive,
	}
}

// MergeLive inserts one live event at its sorted position and reports
// whether it was inserted; an already-seen ID is a no-op. When the sequence
// outgrows the live bound the oldest overflow is dropped.
func (m *Merger) MergeLive(ev models.FeedEvent) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.seen[ev.ID]; dup {
		return false
	}
	m.seen[ev.ID] = struct{}{}

	// First index strictly older than the event; equal timestamps stay
	// ahead, so the earlier merge keeps its position. The linear shift
	// after the search is fine at the bounded resident scale.
	i := sort.Search(len(m.events), func(i int) bool {
		return m.events[i].CreatedAt < ev.CreatedAt
	})
	m.events = append(m.events, models.FeedEvent{})
	copy(m.events[i+1:], m.events[i:])
	m.events[i] = ev

	if len(m.events) > m.maxLive {
		m.events = m.events[:m.maxLive]
	}
	return true
}

// MergeBatch merges a historical batch: already-seen IDs are dropped
// (including duplicates within the batch itself), the remainder is appended
// and the whole sequence re-sorted. Historical merges never truncate;
// pagination grows the feed past the live bound on purpose. Returns the
// events actually merged.
func (m *Merger) MergeBatch(events []models.FeedEvent) []models.FeedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var added []models.FeedEvent
	for _, ev := range events {
		if _, dup := m.seen[ev.ID]; dup {
			continue
		}
		m.seen[ev.ID] = struct{}{}
		added = append(added, ev)
	}
	if len(added) == 0 {
		return nil
	}

	// Batches arrive out of order relative to the live path; re-sort
	// everything. The stable sort keeps first-merged ties ahead.
	m.events = append(m.events, added...)
	sort.SliceStable(m.events, func(i, j int) bool {
		return m.events[i].CreatedAt > m.events[j].CreatedAt
	})
	return added
}

// Snapshot returns a copy of the current sequence, newest first.
func (m *Merger) Snapshot() []models.FeedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.FeedEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Oldest returns the minimum CreatedAt among resident events; ok is false
// while the feed is empty.
func (m *Merger) Oldest() (models.Timestamp, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.events) == 0 {
		return 0, false
	}
	return m.events[len(m.events)-1].CreatedAt, true
}

// Seen reports whether an identifier has been merged this session,
// including identifiers of since-evicted events.
func (m *Merger) Seen(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.seen[id]
	return ok
}

// Len returns the number of resident events.
func (m *Merger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.events)
}
