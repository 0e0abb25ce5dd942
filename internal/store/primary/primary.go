package primary

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS batch_runs (
	id                UUID PRIMARY KEY,
	status            TEXT NOT NULL,
	sources           TEXT[] NOT NULL DEFAULT '{}',
	total_sources     INTEGER NOT NULL DEFAULT 0,
	processed_sources INTEGER NOT NULL DEFAULT 0,
	failed_sources    INTEGER NOT NULL DEFAULT 0,
	articles_fetched  INTEGER NOT NULL DEFAULT 0,
	articles_selected INTEGER NOT NULL DEFAULT 0,
	error             TEXT,
	report            JSONB,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	finished_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_sources (
	run_id            UUID NOT NULL REFERENCES batch_runs(id) ON DELETE CASCADE,
	position          INTEGER NOT NULL,
	source_id         TEXT NOT NULL,
	source_title      TEXT NOT NULL,
	articles_fetched  INTEGER NOT NULL,
	articles_selected INTEGER NOT NULL,
	fetch_time_ms     BIGINT NOT NULL,
	filter_time_ms    BIGINT NOT NULL,
	error             TEXT,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS ai_usage_logs (
	id             BIGSERIAL PRIMARY KEY,
	timestamp      TIMESTAMPTZ NOT NULL,
	provider_name  TEXT NOT NULL,
	service_type   TEXT NOT NULL,
	model_name     TEXT NOT NULL,
	input_tokens   INTEGER NOT NULL,
	output_tokens  INTEGER NOT NULL,
	cost           DOUBLE PRECISION NOT NULL,
	related_run_id UUID
);

CREATE INDEX IF NOT EXISTS ai_usage_logs_run_idx ON ai_usage_logs (related_run_id);
`

// StoreImpl implements the run and cost stores on PostgreSQL.
type StoreImpl struct {
	db *pgxpool.Pool
}

// NewPrimaryStore connects to dsn and makes sure the schema exists.
func NewPrimaryStore(ctx context.Context, dsn string) (*StoreImpl, error) {
	if dsn == "" {
		return nil, errors.New("database DSN cannot be empty")
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database DSN: %w", err)
	}

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &StoreImpl{db: dbpool}
	if err := s.EnsureSchema(ctx); err != nil {
		dbpool.Close()
		return nil, err
	}
	return s, nil
}

func (s *StoreImpl) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	log.Debug("Database schema is up to date")
	return nil
}

// Ping checks the database connection.
func (s *StoreImpl) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection pool.
func (s *StoreImpl) Close() {
	s.db.Close()
}
