package profiles

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/lensfeed/lensfeed/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeQuerier struct {
	calls   int
	lastF   models.Filter
	records []models.RawRecord
	err     error
}

func (q *fakeQuerier) QueryHistorical(_ context.Context, f models.Filter) ([]models.RawRecord, error) {
	q.calls++
	q.lastF = f
	return q.records, q.err
}

func profileRecord(author string, ts models.Timestamp, content string) models.RawRecord {
	return models.RawRecord{
		ID:        "meta-" + author,
		Author:    author,
		CreatedAt: ts,
		Kind:      models.KindProfile,
		Content:   content,
	}
}

func TestMemCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemCache()

	if _, ok := c.Get(ctx, "alice"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put(ctx, models.Profile{Author: "alice", Name: "Alice"})
	p, ok := c.Get(ctx, "alice")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if p.Name != "Alice" {
		t.Fatalf("got name %q, want Alice", p.Name)
	}
	if _, ok := c.Get(ctx, "bob"); ok {
		t.Fatal("expected miss for other author")
	}
}

func TestResolverCacheHit(t *testing.T) {
	ctx := context.Background()
	q := &fakeQuerier{}
	cache := NewMemCache()
	cache.Put(ctx, models.Profile{Author: "alice", Name: "Alice"})

	r := NewResolver(q, cache, testLogger())
	p, ok := r.Resolve(ctx, "alice")
	if !ok || p.Name != "Alice" {
		t.Fatalf("got (%+v, %v), want cached profile", p, ok)
	}
	if q.calls != 0 {
		t.Fatalf("querier called %d times on a cache hit", q.calls)
	}
}

func TestResolverQueriesOnMiss(t *testing.T) {
	ctx := context.Background()
	q := &fakeQuerier{records: []models.RawRecord{
		profileRecord("alice", 1000, `{"name":"Alice","picture":"https://cdn.example/alice.png"}`),
	}}
	r := NewResolver(q, NewMemCache(), testLogger())

	p, ok := r.Resolve(ctx, "alice")
	if !ok {
		t.Fatal("expected a profile")
	}
	if p.Author != "alice" || p.Name != "Alice" || p.Picture != "https://cdn.example/alice.png" {
		t.Fatalf("unexpected profile: %+v", p)
	}

	f := q.lastF
	if len(f.Kinds) != 1 || f.Kinds[0] != models.KindProfile {
		t.Fatalf("queried kinds %v, want [%d]", f.Kinds, models.KindProfile)
	}
	if len(f.Authors) != 1 || f.Authors[0] != "alice" {
		t.Fatalf("queried authors %v, want [alice]", f.Authors)
	}
	if f.Limit != 1 {
		t.Fatalf("queried limit %d, want 1", f.Limit)
	}

	// A second resolve answers from the cache.
	if _, ok := r.Resolve(ctx, "alice"); !ok {
		t.Fatal("expected cached profile on second resolve")
	}
	if q.calls != 1 {
		t.Fatalf("querier called %d times, want 1", q.calls)
	}
}

func TestResolverPicksNewestRecord(t *testing.T) {
	// Several sources may answer, each with its own newest record.
	q := &fakeQuerier{records: []models.RawRecord{
		profileRecord("alice", 500, `{"name":"Old Alice"}`),
		profileRecord("bob", 2000, `{"name":"Bob"}`),
		profileRecord("alice", 1500, `{"name":"New Alice"}`),
	}}
	r := NewResolver(q, NewMemCache(), testLogger())

	p, ok := r.Resolve(context.Background(), "alice")
	if !ok {
		t.Fatal("expected a profile")
	}
	if p.Name != "New Alice" {
		t.Fatalf("got name %q, want New Alice", p.Name)
	}
}

func TestResolverLookupFailure(t *testing.T) {
	ctx := context.Background()
	q := &fakeQuerier{err: errors.New("all sources failed")}
	cache := NewMemCache()
	r := NewResolver(q, cache, testLogger())

	if _, ok := r.Resolve(ctx, "alice"); ok {
		t.Fatal("expected no profile on lookup failure")
	}
	if _, ok := cache.Get(ctx, "alice"); ok {
		t.Fatal("failure must not populate the cache")
	}

	// Recovery: the next resolve tries the sources again.
	q.err = nil
	q.records = []models.RawRecord{profileRecord("alice", 1000, `{"name":"Alice"}`)}
	if _, ok := r.Resolve(ctx, "alice"); !ok {
		t.Fatal("expected a profile once the sources recover")
	}
}

func TestResolverUnknownAuthor(t *testing.T) {
	q := &fakeQuerier{}
	r := NewResolver(q, NewMemCache(), testLogger())

	if _, ok := r.Resolve(context.Background(), "nobody"); ok {
		t.Fatal("expected no profile for an unknown author")
	}
	if q.calls != 1 {
		t.Fatalf("querier called %d times, want 1", q.calls)
	}
}

func TestResolverMalformedContent(t *testing.T) {
	q := &fakeQuerier{records: []models.RawRecord{
		profileRecord("alice", 1000, `{"name":`),
	}}
	r := NewResolver(q, NewMemCache(), testLogger())

	p, ok := r.Resolve(context.Background(), "alice")
	if !ok {
		t.Fatal("malformed content still identifies the author")
	}
	if p.Author != "alice" || p.Name != "" {
		t.Fatalf("unexpected profile: %+v", p)
	}
}
