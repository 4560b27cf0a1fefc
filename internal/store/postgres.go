package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/awardsync/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgx, for deployments where several
// workers share one cache.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool (used by tests).
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS external_metadata (
	source       TEXT NOT NULL,
	external_key TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	keywords     JSONB NOT NULL DEFAULT '[]',
	org_name     TEXT NOT NULL DEFAULT '',
	retrieved_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source, external_key)
);

CREATE TABLE IF NOT EXISTS awards (
	id                TEXT NOT NULL,
	period_id         TEXT NOT NULL,
	agency_code       TEXT NOT NULL DEFAULT '',
	uei               TEXT NOT NULL DEFAULT '',
	award_number      TEXT NOT NULL DEFAULT '',
	recipient_name    TEXT NOT NULL DEFAULT '',
	recipient_address TEXT NOT NULL DEFAULT '',
	amount_usd        DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (id, period_id)
);

CREATE INDEX IF NOT EXISTS idx_awards_period ON awards(period_id);
CREATE INDEX IF NOT EXISTS idx_awards_uei ON awards(uei);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetMetadata(ctx context.Context, source, key string) (*model.ExternalMetadata, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT source, external_key, description, keywords, org_name, retrieved_at
		 FROM external_metadata WHERE source = $1 AND external_key = $2`,
		source, key,
	)

	var rec model.ExternalMetadata
	var keywordsJSON []byte
	err := row.Scan(&rec.Source, &rec.Key, &rec.Description, &keywordsJSON, &rec.OrgName, &rec.RetrievedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get metadata")
	}
	if err := json.Unmarshal(keywordsJSON, &rec.Keywords); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal keywords")
	}
	return &rec, nil
}

func (s *PostgresStore) PutMetadata(ctx context.Context, source, key string, meta *model.ExternalMetadata) error {
	keywords := meta.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	keywordsJSON, err := json.Marshal(keywords)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal keywords")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO external_metadata (source, external_key, description, keywords, org_name, retrieved_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (source, external_key) DO UPDATE SET
		   description = EXCLUDED.description,
		   keywords = EXCLUDED.keywords,
		   org_name = EXCLUDED.org_name,
		   retrieved_at = EXCLUDED.retrieved_at`,
		source, key, meta.Description, keywordsJSON, meta.OrgName, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: put metadata")
}

func (s *PostgresStore) CacheStats(ctx context.Context) (*CacheStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, COUNT(*) FROM external_metadata GROUP BY source`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cache stats")
	}
	defer rows.Close()

	stats := &CacheStats{BySource: make(map[string]int)}
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cache stats")
		}
		stats.BySource[source] = n
		stats.Entries += n
	}
	return stats, eris.Wrap(rows.Err(), "postgres: cache stats iterate")
}

func (s *PostgresStore) UpsertAwards(ctx context.Context, awards []model.Award) (int, error) {
	now := time.Now().UTC()
	for _, a := range awards {
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO awards (id, period_id, agency_code, uei, award_number,
			                     recipient_name, recipient_address, amount_usd, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id, period_id) DO UPDATE SET
			   agency_code = EXCLUDED.agency_code,
			   uei = EXCLUDED.uei,
			   award_number = EXCLUDED.award_number,
			   recipient_name = EXCLUDED.recipient_name,
			   recipient_address = EXCLUDED.recipient_address,
			   amount_usd = EXCLUDED.amount_usd,
			   updated_at = EXCLUDED.updated_at`,
			a.ID, a.PeriodID, a.AgencyCode, a.UEI, a.AwardNumber,
			a.RecipientName, a.RecipientAddress, a.AmountUSD, now,
		); err != nil {
			return 0, eris.Wrapf(err, "postgres: upsert award %s", a.ID)
		}
	}
	return len(awards), nil
}

func (s *PostgresStore) CountAwards(ctx context.Context, periodID string) (int, error) {
	query := `SELECT COUNT(*) FROM awards`
	var args []any
	if periodID != "" {
		query += ` WHERE period_id = $1`
		args = append(args, periodID)
	}

	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "postgres: count awards")
	}
	return n, nil
}
