package profiles

import (
	"context"
	"log/slog"

	"github.com/lensfeed/lensfeed/internal/models"
)

// Querier is the slice of the source pool the resolver needs.
type Querier interface {
	QueryHistorical(ctx context.Context, f models.Filter) ([]models.RawRecord, error)
}

// Resolver looks up author profiles, caching what it finds.
type Resolver struct {
	querier Querier
	cache   Cache
	logger  *slog.Logger
}

func NewResolver(querier Querier, cache Cache, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewMemCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{querier: querier, cache: cache, logger: logger}
}

// Resolve returns the author's profile. Cache misses query the sources for
// the newest profile record; lookup failures and unknown authors both
// report no profile rather than an error, so feed serving never blocks on
// profile trouble.
func (r *Resolver) Resolve(ctx context.Context, author string) (models.Profile, bool) {
	if p, ok := r.cache.Get(ctx, author); ok {
		return p, true
	}

	records, err := r.querier.QueryHistorical(ctx, models.Filter{
		Kinds:   []int{models.KindProfile},
		Authors: []string{author},
		Limit:   1,
	})
	if err != nil {
		r.logger.Warn("[ProfileResolver] Lookup failed",
			slog.String("author", author),
			slog.Any("error", err))
		return models.Profile{}, false
	}

	// Sources may each answer with their own newest record; keep the most
	// recent one for this author.
	var newest *models.RawRecord
	for i := range records {
		rec := &records[i]
		if rec.Author != author || rec.Kind != models.KindProfile {
			continue
		}
		if newest == nil || rec.CreatedAt > newest.CreatedAt {
			newest = rec
		}
	}
	if newest == nil {
		return models.Profile{}, false
	}

	p := models.ProfileFromRecord(*newest)
	r.cache.Put(ctx, p)
	return p, true
}
