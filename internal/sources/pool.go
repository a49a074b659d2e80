package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/lensfeed/lensfeed/internal/models"
)

// Pool owns a fixed set of sources and fans operations out across the ones
// that connected. All methods are safe for concurrent use.
type Pool struct {
	logger  *slog.Logger
	sources []Source

	mu        sync.Mutex
	connected []Source
}

// NewPool builds a pool over the given sources. A nil logger falls back to
// slog.Default.
func NewPool(srcs []Source, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{logger: logger, sources: srcs}
}

// ConnectAll connects every source concurrently and tallies the outcome.
// The pool stays usable when some sources fail; the returned error is
// ErrAllSourcesFailed only when none succeeded.
func (p *Pool) ConnectAll(ctx context.Context) (ConnectReport, error) {
	report := ConnectReport{Failed: make(map[string]error)}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, src := range p.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.Connect(ctx); err != nil {
				p.logger.Warn("[SourcePool] Source failed to connect",
					slog.String("source", src.Name()),
					slog.String("error", err.Error()))
				mu.Lock()
				report.Failed[src.Name()] = err
				mu.Unlock()
				return
			}
			mu.Lock()
			report.Succeeded = append(report.Succeeded, src.Name())
			mu.Unlock()
		}()
	}
	wg.Wait()

	p.mu.Lock()
	p.connected = p.connected[:0]
	for _, src := range p.sources {
		if _, failed := report.Failed[src.Name()]; !failed {
			p.connected = append(p.connected, src)
		}
	}
	p.mu.Unlock()

	if len(report.Succeeded) == 0 {
		return report, fmt.Errorf("connect: %w", ErrAllSourcesFailed)
	}
	p.logger.Info("[SourcePool] Connected",
		slog.Int("succeeded", len(report.Succeeded)),
		slog.Int("failed", len(report.Failed)))
	return report, nil
}

// QueryHistorical fans one bounded query out to every connected source and
// concatenates the replies. Per-source failures are logged and tolerated;
// only every source failing is an error. An empty result with at least one
// answering source means the sources hold no further history.
func (p *Pool) QueryHistorical(ctx context.Context, f models.Filter) ([]models.RawRecord, error) {
	connected := p.connectedSources()
	if len(connected) == 0 {
		return nil, fmt.Errorf("historical query: %w", ErrAllSourcesFailed)
	}

	type reply struct {
		source  string
		records []models.RawRecord
		err     error
	}
	replies := make(chan reply, len(connected))

	var wg sync.WaitGroup
	for _, src := range connected {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := src.QueryHistorical(ctx, f)
			replies <- reply{source: src.Name(), records: records, err: err}
		}()
	}
	wg.Wait()
	close(replies)

	var out []models.RawRecord
	answered := 0
	for r := range replies {
		if r.err != nil {
			p.logger.Warn("[SourcePool] Historical query failed",
				slog.String("source", r.source),
				slog.String("error", r.err.Error()))
			continue
		}
		answered++
		out = append(out, r.records...)
	}
	if answered == 0 {
		return nil, fmt.Errorf("historical query: %w", ErrAllSourcesFailed)
	}
	p.logger.Debug("[SourcePool] Historical query answered",
		slog.Int("sources", answered),
		slog.Int("records", len(out)))
	return out, nil
}

// Subscription is one live fan-out across the pool. Close stops delivery
// from every participating source; it is idempotent. The zero Subscription
// is a usable no-op.
type Subscription struct {
	ID string

	logger *slog.Logger
	once   sync.Once
	stops  []func()
}

// Close stops the subscription on every source.
func (s *Subscription) Close() {
	s.once.Do(func() {
		for _, stop := range s.stops {
			stop()
		}
		if s.logger != nil {
			s.logger.Info("[SourcePool] Live subscription closed",
				slog.String("subscription", s.ID))
		}
	})
}

// SubscribeLive starts live delivery from every connected source into
// onRecord. onClosed (nillable) runs once per source whose delivery loop
// terminates, with a nil error for a deliberate stop. Sources that fail to
// subscribe are logged and skipped; every source failing is an error.
func (p *Pool) SubscribeLive(ctx context.Context, f models.Filter, onRecord func(models.RawRecord), onClosed func(source string, err error)) (*Subscription, error) {
	connected := p.connectedSources()
	if len(connected) == 0 {
		return nil, fmt.Errorf("live subscribe: %w", ErrAllSourcesFailed)
	}

	sub := &Subscription{ID: uuid.NewString(), logger: p.logger}
	for _, src := range connected {
		name := src.Name()
		stop, err := src.SubscribeLive(ctx, f, onRecord, func(err error) {
			if onClosed != nil {
				onClosed(name, err)
			}
		})
		if err != nil {
			p.logger.Warn("[SourcePool] Live subscribe failed",
				slog.String("source", name),
				slog.String("error", err.Error()))
			continue
		}
		sub.stops = append(sub.stops, stop)
	}
	if len(sub.stops) == 0 {
		return nil, fmt.Errorf("live subscribe: %w", ErrAllSourcesFailed)
	}
	p.logger.Info("[SourcePool] Live subscription started",
		slog.String("subscription", sub.ID),
		slog.Int("sources", len(sub.stops)))
	return sub, nil
}

// Close closes every source in the pool, connected or not.
func (p *Pool) Close() error {
	var errs []error
	for _, src := range p.sources {
		if err := src.Close(); err != nil {
			p.logger.Warn("[SourcePool] Source close failed",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pool) connectedSources() []Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Source, len(p.connected))
	copy(out, p.connected)
	return out
}
