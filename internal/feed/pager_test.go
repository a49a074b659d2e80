package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lensfeed/lensfeed/internal/models"
)

type fakeQuerier struct {
	mu    sync.Mutex
	calls []models.Filter
	fn    func(call int, f models.Filter) ([]models.RawRecord, error)
}

func (q *fakeQuerier) QueryHistorical(_ context.Context, f models.Filter) ([]models.RawRecord, error) {
	q.mu.Lock()
	call := len(q.calls)
	q.calls = append(q.calls, f)
	q.mu.Unlock()
	return q.fn(call, f)
}

func (q *fakeQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

func (q *fakeQuerier) call(i int) models.Filter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls[i]
}

// rawPic builds a picture record that classifies into a feed event with the
// given id.
func rawPic(id string, ts models.Timestamp) models.RawRecord {
	return models.RawRecord{
		ID:        id,
		Author:    "author-a",
		CreatedAt: ts,
		Kind:      models.KindPicture,
		Tags: []models.Tag{
			{"imeta", "url https://cdn.example/" + id + ".jpg", "m image/jpeg"},
		},
	}
}

func testPager(t *testing.T, q HistoricalQuerier, m *Merger) *Pager {
	t.Helper()
	return NewPager(q, m, PagerConfig{
		RetryDelay:    time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestPagerAnchorsCursorAtOldestEvent(t *testing.T) {
	m := NewMerger(0)
	m.MergeLive(ev("a", 1000))
	m.MergeLive(ev("b", 900))
	m.MergeLive(ev("c", 800))

	q := &fakeQuerier{fn: func(call int, f models.Filter) ([]models.RawRecord, error) {
		return []models.RawRecord{rawPic("older", 700)}, nil
	}}
	p := testPager(t, q, m)

	res, err := p.LoadOlder(context.Background(), 10)
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if res.Appended != 1 || res.Exhausted {
		t.Fatalf("got result %+v, want 1 appended and not exhausted", res)
	}

	f := q.call(0)
	if f.Until == nil || *f.Until != 800 {
		t.Errorf("query bound = %v, want inclusive 800 (oldest merged event)", f.Until)
	}
	if f.Limit != 10 {
		t.Errorf("query limit = %d, want 10", f.Limit)
	}
	if len(f.Kinds) != 2 || f.Kinds[0] != models.KindPicture || f.Kinds[1] != models.KindShortVideo {
		t.Errorf("query kinds = %v, want feed kinds", f.Kinds)
	}

	if cursor, ok := p.Cursor(); !ok || cursor != 700 {
		t.Errorf("cursor after merge = %d (set %t), want 700", cursor, ok)
	}
	if got, _ := m.Oldest(); got != 700 {
		t.Errorf("oldest merged = %d, want 700", got)
	}
}

func TestPagerRefusesEmptyFeed(t *testing.T) {
	q := &fakeQuerier{fn: func(int, models.Filter) ([]models.RawRecord, error) {
		return nil, nil
	}}
	p := testPager(t, q, NewMerger(0))

	if _, err := p.LoadOlder(context.Background(), 10); !errors.Is(err, ErrFeedEmpty) {
		t.Fatalf("got %v, want ErrFeedEmpty", err)
	}
	if q.callCount() != 0 {
		t.Errorf("querier called %d times before the cursor could anchor", q.callCount())
	}
}

func TestPagerExhaustionIsTerminal(t *testing.T) {
	m := NewMerger(0)
	m.MergeLive(ev("a", 1000))

	q := &fakeQuerier{fn: func(int, models.Filter) ([]models.RawRecord, error) {
		return []models.RawRecord{}, nil
	}}
	p := testPager(t, q, m)

	res, err := p.LoadOlder(context.Background(), 0)
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if !res.Exhausted || res.Appended != 0 {
		t.Fatalf("got result %+v, want exhausted with nothing appended", res)
	}
	if f := q.call(0); f.Limit != DefaultPageSize {
		t.Errorf("limit for page size 0 = %d, want default %d", f.Limit, DefaultPageSize)
	}
	if !p.Exhausted() {
		t.Error("pager not marked exhausted")
	}

	// Later calls answer from state without touching the sources.
	res, err = p.LoadOlder(context.Background(), 10)
	if err != nil || !res.Exhausted {
		t.Fatalf("second call got (%+v, %v), want exhausted and nil error", res, err)
	}
	if q.callCount() != 1 {
		t.Errorf("querier called %d times, want 1", q.callCount())
	}
}

func TestPagerStepsCursorPastKnownRecords(t *testing.T) {
	m := NewMerger(0)
	m.MergeLive(ev("a", 900))
	m.MergeLive(ev("b", 800))

	q := &fakeQuerier{fn: func(call int, f models.Filter) ([]models.RawRecord, error) {
		if call == 0 {
			// A page the live path has already delivered.
			return []models.RawRecord{rawPic("a", 900), rawPic("b", 800)}, nil
		}
		return []models.RawRecord{rawPic("fresh", 400)}, nil
	}}
	p := testPager(t, q, m)

	res, err := p.LoadOlder(context.Background(), 10)
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if res.Appended != 1 {
		t.Fatalf("appended %d events, want 1", res.Appended)
	}
	if q.callCount() != 2 {
		t.Fatalf("querier called %d times, want 2", q.callCount())
	}
	if f := q.call(0); *f.Until != 800 {
		t.Errorf("first bound = %d, want 800", *f.Until)
	}
	if f := q.call(1); *f.Until != 800-24*60*60 {
		t.Errorf("second bound = %d, want one day before 800", *f.Until)
	}
	if cursor, _ := p.Cursor(); cursor != 400 {
		t.Errorf("cursor = %d, want 400", cursor)
	}
}

func TestPagerReportsNoProgressAfterDuplicateBudget(t *testing.T) {
	m := NewMerger(0)
	m.MergeLive(ev("a", 900))

	q := &fakeQuerier{fn: func(int, models.Filter) ([]models.RawRecord, error) {
		return []models.RawRecord{rawPic("a", 900)}, nil
	}}
	p := testPager(t, q, m)

	res, err := p.LoadOlder(context.Background(), 10)
	if !errors.Is(err, ErrNoProgress) {
		t.Fatalf("got %v, want ErrNoProgress", err)
	}
	if res.Appended != 0 || res.Exhausted {
		t.Errorf("got result %+v, want zero result", res)
	}
	if q.callCount() != 3 {
		t.Errorf("querier called %d times, want 3 before giving up", q.callCount())
	}
	if p.Exhausted() {
		t.Error("no-progress must not mark the pager exhausted")
	}

	// The cursor keeps its stepped-back position, so the next call probes
	// further history with a fresh budget.
	day := models.Timestamp(24 * 60 * 60)
	if cursor, _ := p.Cursor(); cursor != 900-3*day {
		t.Fatalf("cursor = %d, want %d", cursor, 900-3*day)
	}
	q.fn = func(int, models.Filter) ([]models.RawRecord, error) {
		return []models.RawRecord{rawPic("deep", 100)}, nil
	}
	res, err = p.LoadOlder(context.Background(), 10)
	if err != nil || res.Appended != 1 {
		t.Fatalf("follow-up got (%+v, %v), want one appended", res, err)
	}
	if f := q.call(3); *f.Until != 900-3*day {
		t.Errorf("follow-up bound = %d, want %d", *f.Until, 900-3*day)
	}
}

func TestPagerTreatsIneligibleRecordsAsNoProgress(t *testing.T) {
	m := NewMerger(0)
	m.MergeLive(ev("a", 900))

	q := &fakeQuerier{fn: func(call int, f models.Filter) ([]models.RawRecord, error) {
		if call == 0 {
			// Non-empty page, but nothing classifies into a feed event.
			return []models.RawRecord{{ID: "note", Author: "x", CreatedAt: 500, Kind: 1, Content: "hi"}}, nil
		}
		return []models.RawRecord{rawPic("fresh", 300)}, nil
	}}
	p := testPager(t, q, m)

	res, err := p.LoadOlder(context.Background(), 10)
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if res.Appended != 1 || q.callCount() != 2 {
		t.Fatalf("got %d appended in %d calls, want 1 appended in 2 calls", res.Appended, q.callCount())
	}
}

func TestPagerRetriesTransientFailures(t *testing.T) {
	m := NewMerger(0)
	m.MergeLive(ev("a", 900))

	q := &fakeQuerier{fn: func(call int, f models.Filter) ([]models.RawRecord, error) {
		if call < 2 {
			return nil, errors.New("connection reset")
		}
		return []models.RawRecord{rawPic("fresh", 500)}, nil
	}}
	p := testPager(t, q, m)

	res, err := p.LoadOlder(context.Background(), 10)
	if err != nil {
		t.Fatalf("LoadOlder: %v", err)
	}
	if res.Appended != 1 {
		t.Errorf("appended %d events, want 1", res.Appended)
	}
	if q.callCount() != 3 {
		t.Errorf("querier called %d times, want 3", q.callCount())
	}
}

func TestPagerKeepsStateWhenRetriesRunOut(t *testing.T) {
	m := NewMerger(0)
	m.MergeLive(ev("a", 900))

	q := &fakeQuerier{fn: func(int, models.Filter) ([]models.RawRecord, error) {
		return nil, errors.New("boom")
	}}
	p := testPager(t, q, m)

	_, err := p.LoadOlder(context.Background(), 10)
	if err == nil {
		t.Fatal("want an error after the retry budget runs out")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q does not surface the query failure", err)
	}
	if q.callCount() != 3 {
		t.Errorf("querier called %d times, want 3", q.callCount())
	}
	if p.Exhausted() {
		t.Error("query failure must not mark the pager exhausted")
	}
	if cursor, _ := p.Cursor(); cursor != 900 {
		t.Errorf("cursor = %d after failure, want unchanged 900", cursor)
	}

	// Same position is retried once the sources recover.
	q.fn = func(int, models.Filter) ([]models.RawRecord, error) {
		return []models.RawRecord{rawPic("fresh", 500)}, nil
	}
	res, err := p.LoadOlder(context.Background(), 10)
	if err != nil || res.Appended != 1 {
		t.Fatalf("recovery got (%+v, %v), want one appended", res, err)
	}
	if f := q.call(3); *f.Until != 900 {
		t.Errorf("recovery bound = %d, want 900", *f.Until)
	}
}

func TestPagerSuppressesConcurrentLoads(t *testing.T) {
	m := NewMerger(0)
	m.MergeLive(ev("a", 900))

	entered := make(chan struct{})
	release := make(chan struct{})
	q := &fakeQuerier{fn: func(call int, f models.Filter) ([]models.RawRecord, error) {
		if call == 0 {
			close(entered)
			<-release
		}
		return []models.RawRecord{rawPic("fresh", 500)}, nil
	}}
	p := testPager(t, q, m)

	done := make(chan error, 1)
	go func() {
		_, err := p.LoadOlder(context.Background(), 10)
		done <- err
	}()

	<-entered
	if _, err := p.LoadOlder(context.Background(), 10); !errors.Is(err, ErrAlreadyLoading) {
		t.Errorf("overlapping call got %v, want ErrAlreadyLoading", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first load: %v", err)
	}

	// The in-flight flag clears once the load finishes.
	if _, err := p.LoadOlder(context.Background(), 10); errors.Is(err, ErrAlreadyLoading) {
		t.Error("pager still reports a load in flight")
	}
}
