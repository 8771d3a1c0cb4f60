package logsink

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink persists Entries to a Postgres table via a pgx connection
// pool, for deployments that want queryable history instead of (or in
// addition to) the flat-file sink.
type PostgresSink struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS gateway_log (
	id            BIGSERIAL PRIMARY KEY,
	request_id    TEXT NOT NULL,
	path          TEXT NOT NULL,
	method        TEXT NOT NULL,
	model         TEXT,
	provider      TEXT,
	status        TEXT NOT NULL,
	status_code   INT NOT NULL,
	latency_ms    BIGINT NOT NULL,
	streaming     BOOLEAN NOT NULL,
	failover      TEXT[],
	error         TEXT,
	tokens_in     BIGINT,
	tokens_out    BIGINT,
	tokens_total  BIGINT,
	tokens_cache  BIGINT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgresSink connects to dsn and ensures the log table exists.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("logsink: connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("logsink: creating gateway_log table: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// Record inserts one row describing a dispatch attempt.
func (s *PostgresSink) Record(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gateway_log
			(request_id, path, method, model, provider, status, status_code,
			 latency_ms, streaming, failover, error,
			 tokens_in, tokens_out, tokens_total, tokens_cache)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		e.RequestID, e.Path, e.Method, e.Model, e.Provider, e.Status, e.StatusCode,
		e.LatencyMS, e.Streaming, e.Failover, e.Error,
		e.Usage.TokensIn, e.Usage.TokensOut, e.Usage.TokensTotal, e.Usage.TokensCache,
	)
	if err != nil {
		return fmt.Errorf("logsink: inserting entry: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
