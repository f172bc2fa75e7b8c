package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresSink stores audit records in a Postgres table
type PostgresSink struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresSink connects, pings and creates the audit table if needed
func NewPostgresSink(connStr string, timeout time.Duration) (*PostgresSink, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := NewPostgresSinkFromDB(db, timeout)
	if err := s.initTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	return s, nil
}

// NewPostgresSinkFromDB wraps an existing connection pool; tables are not created
func NewPostgresSinkFromDB(db *sql.DB, timeout time.Duration) *PostgresSink {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &PostgresSink{db: db, timeout: timeout}
}

// Write inserts one record. Duplicate ids are ignored so retries are safe.
func (s *PostgresSink) Write(rec Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	query := `
        INSERT INTO guardian_audit (id, kind, ts, payload)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO NOTHING
    `
	if _, err := s.db.ExecContext(ctx, query, rec.ID, string(rec.Kind), rec.Timestamp, []byte(rec.Payload)); err != nil {
		return fmt.Errorf("failed to insert audit record %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns the newest records of the given kind, newest first
func (s *PostgresSink) Recent(ctx context.Context, kind Kind, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, ts, payload FROM guardian_audit WHERE kind = $1 ORDER BY seq DESC LIMIT $2`,
		string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			k       string
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &k, &rec.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Kind = Kind(k)
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the connection pool
func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func (s *PostgresSink) initTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS guardian_audit (
			seq BIGSERIAL PRIMARY KEY,
			id UUID UNIQUE NOT NULL,
			kind VARCHAR(40) NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS guardian_audit_kind_ts ON guardian_audit (kind, ts)`,
	}
	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}
