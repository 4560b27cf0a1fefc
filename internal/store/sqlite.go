package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/awardsync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. The cache survives
// process restarts; WAL mode keeps concurrent readers off the writers' path.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS external_metadata (
	source       TEXT NOT NULL,
	external_key TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	keywords     TEXT NOT NULL DEFAULT '[]',
	org_name     TEXT NOT NULL DEFAULT '',
	retrieved_at DATETIME NOT NULL,
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
	amount_usd        REAL NOT NULL DEFAULT 0,
	updated_at        DATETIME NOT NULL,
	PRIMARY KEY (id, period_id)
);

CREATE INDEX IF NOT EXISTS idx_awards_period ON awards(period_id);
CREATE INDEX IF NOT EXISTS idx_awards_uei ON awards(uei);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetMetadata returns the cached record for (source, key), or (nil, nil) on
// a cache miss.
func (s *SQLiteStore) GetMetadata(ctx context.Context, source, key string) (*model.ExternalMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source, external_key, description, keywords, org_name, retrieved_at
		 FROM external_metadata WHERE source = ? AND external_key = ?`,
		source, key,
	)

	var rec model.ExternalMetadata
	var keywordsJSON string
	err := row.Scan(&rec.Source, &rec.Key, &rec.Description, &keywordsJSON, &rec.OrgName, &rec.RetrievedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get metadata")
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &rec.Keywords); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal keywords")
	}
	return &rec, nil
}

// PutMetadata upserts the record for (source, key). Last write wins.
func (s *SQLiteStore) PutMetadata(ctx context.Context, source, key string, meta *model.ExternalMetadata) error {
	keywords := meta.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	keywordsJSON, err := json.Marshal(keywords)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal keywords")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO external_metadata (source, external_key, description, keywords, org_name, retrieved_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source, external_key) DO UPDATE SET
		   description = excluded.description,
		   keywords = excluded.keywords,
		   org_name = excluded.org_name,
		   retrieved_at = excluded.retrieved_at`,
		source, key, meta.Description, string(keywordsJSON), meta.OrgName, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put metadata")
}

func (s *SQLiteStore) CacheStats(ctx context.Context) (*CacheStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM external_metadata GROUP BY source`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache stats")
	}
	defer rows.Close()

	stats := &CacheStats{BySource: make(map[string]int)}
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cache stats")
		}
		stats.BySource[source] = n
		stats.Entries += n
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: cache stats iterate")
}

// UpsertAwards writes ingested awards, replacing prior rows for the same
// (id, period) pair. Returns the number of rows written.
func (s *SQLiteStore) UpsertAwards(ctx context.Context, awards []model.Award) (int, error) {
	if len(awards) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert awards")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO awards (id, period_id, agency_code, uei, award_number,
		                     recipient_name, recipient_address, amount_usd, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id, period_id) DO UPDATE SET
		   agency_code = excluded.agency_code,
		   uei = excluded.uei,
		   award_number = excluded.award_number,
		   recipient_name = excluded.recipient_name,
		   recipient_address = excluded.recipient_address,
		   amount_usd = excluded.amount_usd,
		   updated_at = excluded.updated_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert awards")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, a := range awards {
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.PeriodID, a.AgencyCode, a.UEI, a.AwardNumber,
			a.RecipientName, a.RecipientAddress, a.AmountUSD, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert award %s", a.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert awards")
	}
	return len(awards), nil
}

func (s *SQLiteStore) CountAwards(ctx context.Context, periodID string) (int, error) {
	query := `SELECT COUNT(*) FROM awards`
	var args []any
	if periodID != "" {
		query += ` WHERE period_id = ?`
		args = append(args, periodID)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count awards")
	}
	return n, nil
}
