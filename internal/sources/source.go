// Package sources connects the feed engine to the places records come from.
// A Source is one backend (HTTP records API, Kafka topic, DynamoDB table,
// RSS document); the Pool fans operations out across every configured source
// and tolerates individual failures, so one dead backend never takes the
// feed down.
package sources

import (
	"context"
	"errors"

	"github.com/lensfeed/lensfeed/internal/models"
)

// ErrAllSourcesFailed reports that not a single source could serve the
// operation. Partial failure is tolerated everywhere; total failure is not.
var ErrAllSourcesFailed = errors.New("all sources failed")

// Source is one record backend. Implementations are safe for concurrent use
// once Connect has returned.
type Source interface {
	// Name identifies the source in logs and connect reports.
	Name() string

	// Connect establishes or verifies connectivity. Called once, before
	// any query or subscription.
	Connect(ctx context.Context) error

	// QueryHistorical returns records matching f. An empty reply means
	// the backend holds nothing at or below f.Until.
	QueryHistorical(ctx context.Context, f models.Filter) ([]models.RawRecord, error)

	// SubscribeLive delivers matching records to onRecord, from the
	// source's own goroutine, until stop is called or ctx is cancelled.
	// onClosed (nillable) fires exactly once when the delivery loop
	// exits: a nil error for a deliberate stop, non-nil for a fatal
	// failure.
	SubscribeLive(ctx context.Context, f models.Filter, onRecord func(models.RawRecord), onClosed func(error)) (stop func(), err error)

	// Close releases the backend's resources.
	Close() error
}

// ConnectReport tallies a fan-out connect across the pool.
type ConnectReport struct {
	Succeeded []string
	Failed    map[string]error
}
