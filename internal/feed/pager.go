package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/lensfeed/lensfeed/internal/classify"
	"github.com/lensfeed/lensfeed/internal/models"
)

const (
	// DefaultPageSize is the historical page size when the caller passes
	// a non-positive one.
	DefaultPageSize = 25

	// defaultCursorStep is how far the cursor jumps back after a page of
	// nothing but already-seen records: one day in record timestamp
	// units.
	defaultCursorStep = models.Timestamp(24 * 60 * 60)

	// defaultDuplicateBudget bounds consecutive all-duplicate pages
	// before the pager reports ErrNoProgress.
	defaultDuplicateBudget = 3

	// defaultRetryAttempts bounds attempts of a failing historical
	// query; the delay doubles between attempts.
	defaultRetryAttempts = 3

	defaultRetryDelay    = time.Second
	defaultRetryMaxDelay = 15 * time.Second
)

var (
	// ErrAlreadyLoading reports a suppressed call: one page load may be
	// in flight per pager.
	ErrAlreadyLoading = errors.New("page load already in flight")

	// ErrFeedEmpty reports that no event has been merged yet, so the
	// cursor has nothing to anchor on.
	ErrFeedEmpty = errors.New("feed is empty, cursor cannot initialize")

	// ErrNoProgress reports that the duplicate-page budget was spent
	// without finding a single unseen event. Recoverable: the cursor
	// keeps its stepped-back position and a later call probes further
	// history with a fresh budget. The caller may choose to treat it as
	// exhaustion.
	ErrNoProgress = errors.New("only already-seen events within the duplicate-page budget")
)

// HistoricalQuerier runs one bounded backward query across the connected
// sources. Implemented by sources.Pool.
type HistoricalQuerier interface {
	QueryHistorical(ctx context.Context, f models.Filter) ([]models.RawRecord, error)
}

// PageResult is the outcome of one LoadOlder call.
type PageResult struct {
	Appended  int  `json:"appended"`
	Exhausted bool `json:"exhausted"`
}

// PagerConfig tunes a Pager. Zero values select the defaults above.
type PagerConfig struct {
	Kinds           []int
	CursorStep      models.Timestamp
	DuplicateBudget int
	RetryAttempts   uint
	RetryDelay      time.Duration
	RetryMaxDelay   time.Duration
	Logger          *slog.Logger
}

// Pager drives backward historical fetches with a moving time cursor. The
// cursor starts at the oldest merged event, only ever moves backward, and
// is retired for good once a source-level query comes back empty.
type Pager struct {
	querier HistoricalQuerier
	merger  *Merger
	logger  *slog.Logger

	kinds         []int
	step          models.Timestamp
	dupBudget     int
	retryAttempts uint
	retryDelay    time.Duration
	retryMaxDelay time.Duration

	mu         sync.Mutex
	loading    bool
	cursor     models.Timestamp
	cursorSet  bool
	exhausted  bool
	duplicates int
}

// NewPager wires a pager to its querier and merger.
func NewPager(querier HistoricalQuerier, merger *Merger, cfg PagerConfig) *Pager {
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = models.FeedKinds
	}
	if cfg.CursorStep <= 0 {
		cfg.CursorStep = defaultCursorStep
	}
	if cfg.DuplicateBudget <= 0 {
		cfg.DuplicateBudget = defaultDuplicateBudget
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pager{
		querier:       querier,
		merger:        merger,
		logger:        cfg.Logger,
		kinds:         cfg.Kinds,
		step:          cfg.CursorStep,
		dupBudget:     cfg.DuplicateBudget,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		retryMaxDelay: cfg.RetryMaxDelay,
	}
}

// LoadOlder fetches, classifies and merges one page of history older than
// the cursor.
//
// Outcomes: events merged (cursor advances to their oldest timestamp);
// empty source reply (pager marked exhausted for good); page of nothing but
// known records (cursor steps back a day and the fetch repeats, bounded by
// the duplicate budget, then ErrNoProgress); query failure after the retry
// budget (error returned, cursor and budget untouched so the same call can
// be retried). A load already in flight is suppressed with
// ErrAlreadyLoading.
func (p *Pager) LoadOlder(ctx context.Context, pageSize int) (PageResult, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	p.mu.Lock()
	if p.exhausted {
		p.mu.Unlock()
		return PageResult{Exhausted: true}, nil
	}
	if p.loading {
		p.mu.Unlock()
		return PageResult{}, ErrAlreadyLoading
	}
	if !p.cursorSet {
		oldest, ok := p.merger.Oldest()
		if !ok {
			p.mu.Unlock()
			return PageResult{}, ErrFeedEmpty
		}
		p.cursor = oldest
		p.cursorSet = true
	}
	p.loading = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.loading = false
		p.mu.Unlock()
	}()

	for {
		records, err := p.fetchPage(ctx, pageSize)
		if err != nil {
			// Cursor and duplicate budget untouched: a later call
			// resumes from the same position.
			return PageResult{}, fmt.Errorf("load older page: %w", err)
		}
		if len(records) == 0 {
			p.mu.Lock()
			p.exhausted = true
			cursor := p.cursor
			p.mu.Unlock()
			p.logger.Info("[Pager] History exhausted",
				slog.Int64("cursor", int64(cursor)))
			return PageResult{Exhausted: true}, nil
		}

		added := p.merger.MergeBatch(classify.Records(records))
		if len(added) > 0 {
			oldest := added[0].CreatedAt
			for _, e := range added[1:] {
				if e.CreatedAt < oldest {
					oldest = e.CreatedAt
				}
			}
			p.mu.Lock()
			p.cursor = oldest
			p.duplicates = 0
			p.mu.Unlock()
			p.logger.Info("[Pager] Merged historical page",
				slog.Int("candidates", len(records)),
				slog.Int("appended", len(added)),
				slog.Int64("cursor", int64(oldest)))
			return PageResult{Appended: len(added)}, nil
		}

		// Every candidate was already known or not feed-eligible. Not
		// exhaustion: the source's pagination window overlaps what the
		// live path delivered. Step the cursor back and probe again.
		p.mu.Lock()
		p.cursor -= p.step
		p.duplicates++
		spent := p.duplicates >= p.dupBudget
		if spent {
			p.duplicates = 0
		}
		cursor := p.cursor
		dups := p.duplicates
		p.mu.Unlock()

		if spent {
			p.logger.Warn("[Pager] Duplicate-page budget spent",
				slog.Int64("cursor", int64(cursor)))
			return PageResult{}, ErrNoProgress
		}
		p.logger.Debug("[Pager] Page held only known records, stepping cursor back",
			slog.Int("consecutive", dups),
			slog.Int64("cursor", int64(cursor)))
	}
}

// Exhausted reports whether a source-level query has signalled end of
// history. Terminal for the pager's lifetime.
func (p *Pager) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exhausted
}

// Cursor returns the current cursor; ok is false before the first
// successful anchor.
func (p *Pager) Cursor() (models.Timestamp, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor, p.cursorSet
}

func (p *Pager) fetchPage(ctx context.Context, pageSize int) ([]models.RawRecord, error) {
	p.mu.Lock()
	until := p.cursor
	p.mu.Unlock()

	filter := models.Filter{Kinds: p.kinds, Until: &until, Limit: pageSize}

	var records []models.RawRecord
	err := retry.Do(
		func() error {
			recs, err := p.querier.QueryHistorical(ctx, filter)
			if err != nil {
				return err
			}
			records = recs
			return nil
		},
		retry.Attempts(p.retryAttempts),
		retry.Delay(p.retryDelay),
		retry.MaxDelay(p.retryMaxDelay),
		retry.MaxJitter(p.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("[Pager] Historical query failed, backing off",
				slog.Int("attempt", int(n)+1),
				slog.Int64("until", int64(until)),
				slog.String("error", err.Error()))
		}),
	)
	if err != nil {
		return nil, err
	}
	return records, nil
}
