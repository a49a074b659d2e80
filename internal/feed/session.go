package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lensfeed/lensfeed/internal/classify"
	"github.com/lensfeed/lensfeed/internal/models"
	"github.com/lensfeed/lensfeed/internal/sources"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultQueryTimeout   = 30 * time.Second
)

// SessionPool is the slice of the source pool a session drives.
type SessionPool interface {
	ConnectAll(ctx context.Context) (sources.ConnectReport, error)
	QueryHistorical(ctx context.Context, f models.Filter) ([]models.RawRecord, error)
	SubscribeLive(ctx context.Context, f models.Filter, onRecord func(models.RawRecord), onClosed func(source string, err error)) (*sources.Subscription, error)
	Close() error
}

// ProfileResolver looks up author metadata for Session.Profile.
type ProfileResolver interface {
	Resolve(ctx context.Context, author string) (models.Profile, bool)
}

// SessionConfig configures Open. Zero values mean: feed kinds, the default
// live bound, the default page size, and slog.Default().
type SessionConfig struct {
	Pool            SessionPool
	Resolver        ProfileResolver // optional
	Kinds           []int
	MaxLive         int
	InitialPageSize int
	Pager           PagerConfig
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
	Logger          *slog.Logger
}

// Session owns one feed: a merger fed by a live subscription on one side and
// a pager on the other, over a shared source pool.
type Session struct {
	pool     SessionPool
	merger   *Merger
	pager    *Pager
	resolver ProfileResolver
	logger   *slog.Logger

	cancel context.CancelFunc
	sub    *sources.Subscription

	closeOnce sync.Once
	closeErr  error
}

// Open connects the pool, seeds the feed with one bounded historical query,
// and starts the live subscription. Connecting fails hard only when every
// source fails; a failed seed or a refused live subscription degrades to an
// emptier session rather than an error.
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("[Session] Pool is required")
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = models.FeedKinds
	}
	if cfg.InitialPageSize <= 0 {
		cfg.InitialPageSize = DefaultPageSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancelConnect()
	report, err := cfg.Pool.ConnectAll(connectCtx)
	if err != nil {
		return nil, fmt.Errorf("[Session] Connecting sources: %w", err)
	}
	cfg.Logger.Info("[Session] Sources connected",
		slog.Int("connected", len(report.Succeeded)),
		slog.Int("failed", len(report.Failed)))

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		pool:     cfg.Pool,
		merger:   NewMerger(cfg.MaxLive),
		resolver: cfg.Resolver,
		logger:   cfg.Logger,
		cancel:   cancel,
	}

	pagerCfg := cfg.Pager
	if len(pagerCfg.Kinds) == 0 {
		pagerCfg.Kinds = cfg.Kinds
	}
	if pagerCfg.Logger == nil {
		pagerCfg.Logger = cfg.Logger
	}
	s.pager = NewPager(cfg.Pool, s.merger, pagerCfg)

	s.seed(ctx, cfg)
	s.subscribe(sessionCtx, cfg)

	return s, nil
}

// seed anchors the feed on the newest records the sources hold. Failure
// leaves the feed empty; live delivery re-anchors it as events arrive.
func (s *Session) seed(ctx context.Context, cfg SessionConfig) {
	queryCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
	defer cancel()

	now := models.Now()
	records, err := s.pool.QueryHistorical(queryCtx, models.Filter{
		Kinds: cfg.Kinds,
		Until: &now,
		Limit: cfg.InitialPageSize,
	})
	if err != nil {
		s.logger.Warn("[Session] Seed query failed, starting empty",
			slog.Any("error", err))
		return
	}

	merged := s.merger.MergeBatch(classify.Records(records))
	s.logger.Info("[Session] Feed seeded",
		slog.Int("records", len(records)),
		slog.Int("events", len(merged)))
}

func (s *Session) subscribe(ctx context.Context, cfg SessionConfig) {
	sub, err := s.pool.SubscribeLive(ctx, models.Filter{Kinds: cfg.Kinds},
		func(r models.RawRecord) {
			ev := classify.Record(r)
			if ev == nil {
				return
			}
			if s.merger.MergeLive(*ev) {
				s.logger.Debug("[Session] Live event merged",
					slog.String("id", ev.ID),
					slog.String("author", ev.Author))
			}
		},
		func(source string, err error) {
			if err != nil {
				s.logger.Warn("[Session] Live source closed",
					slog.String("source", source),
					slog.Any("error", err))
				return
			}
			s.logger.Info("[Session] Live source stopped",
				slog.String("source", source))
		})
	if err != nil {
		s.logger.Warn("[Session] Live subscription refused, serving historical only",
			slog.Any("error", err))
		return
	}
	s.sub = sub
}

// Snapshot returns the feed newest-first.
func (s *Session) Snapshot() []models.FeedEvent {
	return s.merger.Snapshot()
}

// LoadOlder extends the feed backward by one page.
func (s *Session) LoadOlder(ctx context.Context, pageSize int) (PageResult, error) {
	return s.pager.LoadOlder(ctx, pageSize)
}

// Profile resolves author metadata. Without a resolver every author is
// unknown.
func (s *Session) Profile(ctx context.Context, author string) (models.Profile, bool) {
	if s.resolver == nil {
		return models.Profile{}, false
	}
	return s.resolver.Resolve(ctx, author)
}

// Close stops the live subscription and releases the sources. Safe to call
// more than once; later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.sub != nil {
			s.sub.Close()
		}
		s.closeErr = s.pool.Close()
		s.logger.Info("[Session] Closed")
	})
	return s.closeErr
}
