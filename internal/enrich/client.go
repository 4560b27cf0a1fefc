// Package enrich attaches external metadata to ingested award records,
// guarding each outbound source with its own pacer and circuit breaker.
package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/awardsync/internal/model"
)

// ErrNotFound is returned by a MetadataClient when the source answered but
// holds no record for the key. It is not a transient failure: the source is
// healthy, the key simply has no match.
var ErrNotFound = eris.New("enrich: no metadata found for key")

// MetadataClient looks up one external source by key. Implementations live
// in pkg/ (one per source) and translate their wire errors into
// resilience.TransientError or ErrNotFound.
type MetadataClient interface {
	Lookup(ctx context.Context, key string) (*model.ExternalMetadata, error)
}

// MetadataCache is the slice of the store the orchestrator needs.
type MetadataCache interface {
	GetMetadata(ctx context.Context, source, key string) (*model.ExternalMetadata, error)
	PutMetadata(ctx context.Context, source, key string, meta *model.ExternalMetadata) error
}
