// Package store persists completed forecast records to Postgres and
// loads the externally maintained model quality table.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/helioquant/horizon/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS forecast_records (
    id            BIGSERIAL PRIMARY KEY,
    symbol        TEXT        NOT NULL,
    forecast_date DATE        NOT NULL,
    config_hash   TEXT        NOT NULL,
    record        JSONB       NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (symbol, forecast_date, config_hash)
);

CREATE TABLE IF NOT EXISTS model_quality (
    model_id   TEXT PRIMARY KEY,
    quality    DOUBLE PRECISION NOT NULL CHECK (quality >= 0 AND quality <= 1),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store wraps the Postgres connection. All methods are safe for
// concurrent use; sqlx pools connections underneath.
type Store struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// Open connects to the DSN, verifies the connection and ensures the
// schema exists.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db, log: log.With().Str("component", "store").Logger()}, nil
}

// SaveRecord upserts one forecast record. Re-running the same request
// with the same config overwrites the stored copy rather than
// duplicating it.
func (s *Store) SaveRecord(ctx context.Context, rec *domain.ForecastRecord, configHash string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode forecast record: %w", err)
	}

	const q = `
        INSERT INTO forecast_records (symbol, forecast_date, config_hash, record)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (symbol, forecast_date, config_hash)
        DO UPDATE SET record = EXCLUDED.record, created_at = now()`

	_, err = s.db.ExecContext(ctx, q,
		rec.Symbol, rec.ForecastDate.Time(), configHash, data)
	if err != nil {
		return fmt.Errorf("save forecast record %s: %w", rec.Symbol, err)
	}

	s.log.Debug().
		Str("symbol", rec.Symbol).
		Time("forecast_date", rec.ForecastDate.Time()).
		Msg("forecast record saved")
	return nil
}

// LoadRecord fetches the stored record for one (symbol, date, config)
// triple. Returns (nil, false, nil) when absent.
func (s *Store) LoadRecord(ctx context.Context, symbol string, date time.Time, configHash string) (*domain.ForecastRecord, bool, error) {
	const q = `
        SELECT record FROM forecast_records
        WHERE symbol = $1 AND forecast_date = $2 AND config_hash = $3`

	var data []byte
	err := s.db.GetContext(ctx, &data, q, symbol, date, configHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load forecast record %s: %w", symbol, err)
	}

	var rec domain.ForecastRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decode forecast record %s: %w", symbol, err)
	}
	return &rec, true, nil
}

// ModelQuality loads the retraining process's held-out quality scores
// keyed by model id. An empty table returns an empty map; callers
// fall back to the configured defaults.
func (s *Store) ModelQuality(ctx context.Context) (map[string]float64, error) {
	type row struct {
		ModelID string  `db:"model_id"`
		Quality float64 `db:"quality"`
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT model_id, quality FROM model_quality`); err != nil {
		return nil, fmt.Errorf("load model quality: %w", err)
	}

	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.ModelID] = r.Quality
	}
	return out, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
