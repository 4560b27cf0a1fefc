// Package store provides the durable metadata cache and the ingested-award
// tables, backed by embedded SQLite or a shared Postgres database.
package store

import (
	"context"

	"github.com/sells-group/awardsync/internal/model"
)

// CacheStats summarizes the metadata cache contents.
type CacheStats struct {
	Entries  int            `json:"entries"`
	BySource map[string]int `json:"by_source"`
}

// Store is the persistence interface for the enrichment pipeline. The
// metadata cache is the single source of truth for "have we already fetched
// this": keyed by (source, external key), last write wins.
type Store interface {
	// Metadata cache
	GetMetadata(ctx context.Context, source, key string) (*model.ExternalMetadata, error)
	PutMetadata(ctx context.Context, source, key string, meta *model.ExternalMetadata) error
	CacheStats(ctx context.Context) (*CacheStats, error)

	// Ingested awards
	UpsertAwards(ctx context.Context, awards []model.Award) (int, error)
	CountAwards(ctx context.Context, periodID string) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
