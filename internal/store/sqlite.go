// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/skillsift/matchtrail/internal/events"
	_ "modernc.org/sqlite" // Pure Go driver
)

const schema = `
CREATE TABLE IF NOT EXISTS correlated_records (
	correlation_id       TEXT PRIMARY KEY,
	query                TEXT NOT NULL,
	query_occurred_at    INTEGER NOT NULL,
	match_type           TEXT NOT NULL,
	match_score          INTEGER NOT NULL,
	reasoning            TEXT NOT NULL DEFAULT '',
	match_count          INTEGER NOT NULL DEFAULT 0,
	response_occurred_at INTEGER NOT NULL,
	period_bucket        TEXT NOT NULL,
	created_at           INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_correlated_period ON correlated_records(period_bucket);
`

// SQLiteFinal is the SQLite-backed FinalStore.
type SQLiteFinal struct {
	db *sql.DB
}

// SQLiteConfig defines operational parameters for the final store.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns the recommended pool configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25,
	}
}

// OpenSQLiteFinal opens (or creates) the final store at dbPath with
// mandatory PRAGMAs applied through the DSN so they hold for every
// connection in the pool.
func OpenSQLiteFinal(dbPath string, cfg SQLiteConfig) (*SQLiteFinal, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	return &SQLiteFinal{db: db}, nil
}

// Upsert implements FinalStore. The ON CONFLICT clause makes redelivery
// a harmless repeated write of identical content.
func (s *SQLiteFinal) Upsert(ctx context.Context, rec CorrelatedRecord) error {
	const q = `
INSERT INTO correlated_records (
	correlation_id, query, query_occurred_at, match_type, match_score,
	reasoning, match_count, response_occurred_at, period_bucket, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(correlation_id) DO UPDATE SET
	query                = excluded.query,
	query_occurred_at    = excluded.query_occurred_at,
	match_type           = excluded.match_type,
	match_score          = excluded.match_score,
	reasoning            = excluded.reasoning,
	match_count          = excluded.match_count,
	response_occurred_at = excluded.response_occurred_at,
	period_bucket        = excluded.period_bucket`

	_, err := s.db.ExecContext(ctx, q,
		rec.CorrelationID, rec.Query, rec.QueryOccurredAt, string(rec.MatchType),
		rec.MatchScore, rec.Reasoning, rec.MatchCount, rec.ResponseOccurredAt,
		rec.PeriodBucket, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("final upsert %s: %w", rec.CorrelationID, err)
	}
	return nil
}

// Get implements FinalStore.
func (s *SQLiteFinal) Get(ctx context.Context, correlationID string) (CorrelatedRecord, bool, error) {
	const q = `
SELECT correlation_id, query, query_occurred_at, match_type, match_score,
       reasoning, match_count, response_occurred_at, period_bucket
FROM correlated_records WHERE correlation_id = ?`

	var rec CorrelatedRecord
	var matchType string
	err := s.db.QueryRowContext(ctx, q, correlationID).Scan(
		&rec.CorrelationID, &rec.Query, &rec.QueryOccurredAt, &matchType,
		&rec.MatchScore, &rec.Reasoning, &rec.MatchCount,
		&rec.ResponseOccurredAt, &rec.PeriodBucket,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return CorrelatedRecord{}, false, nil
	}
	if err != nil {
		return CorrelatedRecord{}, false, fmt.Errorf("final get %s: %w", correlationID, err)
	}
	rec.MatchType = matchTypeFromString(matchType)
	return rec, true, nil
}

// ListByPeriod implements FinalStore.
func (s *SQLiteFinal) ListByPeriod(ctx context.Context, periodBucket string) ([]CorrelatedRecord, error) {
	const q = `
SELECT correlation_id, query, query_occurred_at, match_type, match_score,
       reasoning, match_count, response_occurred_at, period_bucket
FROM correlated_records WHERE period_bucket = ?
ORDER BY response_occurred_at`

	rows, err := s.db.QueryContext(ctx, q, periodBucket)
	if err != nil {
		return nil, fmt.Errorf("final list %s: %w", periodBucket, err)
	}
	defer rows.Close()

	var records []CorrelatedRecord
	for rows.Next() {
		var rec CorrelatedRecord
		var matchType string
		if err := rows.Scan(
			&rec.CorrelationID, &rec.Query, &rec.QueryOccurredAt, &matchType,
			&rec.MatchScore, &rec.Reasoning, &rec.MatchCount,
			&rec.ResponseOccurredAt, &rec.PeriodBucket,
		); err != nil {
			return nil, fmt.Errorf("final list scan: %w", err)
		}
		rec.MatchType = matchTypeFromString(matchType)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("final list rows: %w", err)
	}
	return records, nil
}

// Close releases the underlying pool.
func (s *SQLiteFinal) Close() error {
	return s.db.Close()
}

func matchTypeFromString(s string) events.MatchType {
	// Rows only ever hold validated values; pass through verbatim so a
	// manually tampered row surfaces as-is for triage.
	return events.MatchType(s)
}
