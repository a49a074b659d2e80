package feed

import (
	"fmt"
	"sync"
	"testing"

	"github.com/lensfeed/lensfeed/internal/models"
)

func ev(id string, ts models.Timestamp) models.FeedEvent {
	return models.FeedEvent{
		ID:        id,
		Kind:      models.KindPicture,
		CreatedAt: ts,
		Media:     []models.MediaDescriptor{{URL: "https://x/" + id, MimeType: "image/jpeg"}},
	}
}

func assertDescending(t *testing.T, events []models.FeedEvent) {
	t.Helper()
	for i := 1; i < len(events); i++ {
		if events[i-1].CreatedAt < events[i].CreatedAt {
			t.Fatalf("snapshot not descending at %d: %d < %d", i, events[i-1].CreatedAt, events[i].CreatedAt)
		}
	}
}

func TestMergeLive_Idempotent(t *testing.T) {
	m := NewMerger(10)

	if !m.MergeLive(ev("a", 100)) {
		t.Fatal("first merge rejected")
	}
	if m.MergeLive(ev("a", 100)) {
		t.Fatal("second merge of same ID accepted")
	}

	snap := m.Snapshot()
	if len(snap) != 1 || snap[0].ID != "a" {
		t.Fatalf("snapshot = %+v, want single event a", snap)
	}
}

func TestMergeLive_KeepsDescendingOrder(t *testing.T) {
	m := NewMerger(10)
	for _, e := range []models.FeedEvent{ev("a", 50), ev("b", 80), ev("c", 20), ev("d", 65)} {
		m.MergeLive(e)
	}

	snap := m.Snapshot()
	assertDescending(t, snap)
	want := []string{"b", "d", "a", "c"}
	for i, id := range want {
		if snap[i].ID != id {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].ID, id)
		}
	}
}

func TestMergeLive_TiesKeepMergeOrder(t *testing.T) {
	m := NewMerger(10)
	m.MergeLive(ev("first", 100))
	m.MergeLive(ev("second", 100))
	m.MergeLive(ev("third", 100))

	snap := m.Snapshot()
	for i, id := range []string{"first", "second", "third"} {
		if snap[i].ID != id {
			t.Errorf("snapshot[%d] = %s, want %s (first-merged wins)", i, snap[i].ID, id)
		}
	}
}

func TestMergeLive_BoundEvictsOldest(t *testing.T) {
	m := NewMerger(3)
	for i := 0; i < 5; i++ {
		m.MergeLive(ev(fmt.Sprintf("e%d", i), models.Timestamp(100+i)))
	}

	snap := m.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d, want bound 3", len(snap))
	}
	if snap[0].ID != "e4" || snap[2].ID != "e2" {
		t.Errorf("kept %s..%s, want e4..e2", snap[0].ID, snap[2].ID)
	}

	// Evicted identifiers stay in the seen-set: the event cannot resurface.
	if m.MergeLive(ev("e0", 100)) {
		t.Error("evicted event was re-inserted")
	}
	if !m.Seen("e0") {
		t.Error("evicted ID dropped from seen-set")
	}
	if m.Len() != 3 {
		t.Errorf("len = %d after resurrection attempt", m.Len())
	}
}

func TestMergeBatch_DedupAndResort(t *testing.T) {
	m := NewMerger(10)
	for i := 0; i < 5; i++ {
		m.MergeLive(ev(fmt.Sprintf("live%d", i), models.Timestamp(200+i)))
	}

	batch := []models.FeedEvent{
		ev("live1", 201), // already seen
		ev("old1", 150),
		ev("live3", 203), // already seen
	}
	added := m.MergeBatch(batch)
	if len(added) != 1 || added[0].ID != "old1" {
		t.Fatalf("added = %+v, want just old1", added)
	}

	snap := m.Snapshot()
	if len(snap) != 6 {
		t.Fatalf("len = %d, want 6 unique", len(snap))
	}
	assertDescending(t, snap)
	if snap[5].ID != "old1" {
		t.Errorf("oldest = %s, want old1", snap[5].ID)
	}
}

func TestMergeBatch_DuplicateWithinBatch(t *testing.T) {
	m := NewMerger(10)
	added := m.MergeBatch([]models.FeedEvent{ev("a", 10), ev("a", 10), ev("b", 20)})
	if len(added) != 2 {
		t.Fatalf("added = %d, want 2", len(added))
	}
	if m.Len() != 2 {
		t.Errorf("len = %d, want 2", m.Len())
	}
}

func TestMergeBatch_MayExceedLiveBound(t *testing.T) {
	m := NewMerger(3)
	for i := 0; i < 3; i++ {
		m.MergeLive(ev(fmt.Sprintf("live%d", i), models.Timestamp(300+i)))
	}

	batch := make([]models.FeedEvent, 0, 4)
	for i := 0; i < 4; i++ {
		batch = append(batch, ev(fmt.Sprintf("old%d", i), models.Timestamp(100+i)))
	}
	m.MergeBatch(batch)

	if m.Len() != 7 {
		t.Fatalf("len = %d, want 7: historical merges ignore the live bound", m.Len())
	}
	assertDescending(t, m.Snapshot())
}

func TestMergeLive_ReclampsAfterBatchGrowth(t *testing.T) {
	m := NewMerger(3)
	m.MergeBatch([]models.FeedEvent{
		ev("h1", 400), ev("h2", 300), ev("h3", 200), ev("h4", 100),
	})
	if m.Len() != 4 {
		t.Fatalf("len = %d after batch, want 4", m.Len())
	}

	// The live bound applies on every live merge, so the next live event
	// clamps the grown sequence back and the oldest history falls off.
	m.MergeLive(ev("live", 500))
	snap := m.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d after live merge, want bound 3", len(snap))
	}
	if snap[0].ID != "live" || snap[2].ID != "h2" {
		t.Errorf("kept %s..%s, want live..h2", snap[0].ID, snap[2].ID)
	}
	if !m.Seen("h4") {
		t.Error("clamped ID dropped from seen-set")
	}
}

func TestOldest(t *testing.T) {
	m := NewMerger(10)
	if _, ok := m.Oldest(); ok {
		t.Fatal("Oldest on empty merger reported ok")
	}

	m.MergeLive(ev("a", 500))
	m.MergeLive(ev("b", 300))
	m.MergeLive(ev("c", 400))

	ts, ok := m.Oldest()
	if !ok || ts != 300 {
		t.Fatalf("Oldest = %d, %v; want 300, true", ts, ok)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	m := NewMerger(10)
	m.MergeLive(ev("a", 100))

	snap := m.Snapshot()
	snap[0].ID = "mutated"

	if got := m.Snapshot()[0].ID; got != "a" {
		t.Errorf("internal state mutated through snapshot: %s", got)
	}
}

func TestMerger_ConcurrentPaths(t *testing.T) {
	m := NewMerger(50)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			m.MergeLive(ev(fmt.Sprintf("live%d", i), models.Timestamp(1000+i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			batch := []models.FeedEvent{
				ev(fmt.Sprintf("hist%d-a", i), models.Timestamp(500+i)),
				ev(fmt.Sprintf("hist%d-b", i), models.Timestamp(400+i)),
			}
			m.MergeBatch(batch)
		}
	}()
	wg.Wait()

	assertDescending(t, m.Snapshot())
	seen := make(map[string]bool)
	for _, e := range m.Snapshot() {
		if seen[e.ID] {
			t.Fatalf("duplicate ID %s in snapshot", e.ID)
		}
		seen[e.ID] = true
	}
}
