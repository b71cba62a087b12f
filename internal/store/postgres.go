package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abdelilah771/devsecops-pipeline/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultTimeout bounds every store call
	DefaultTimeout = 5 * time.Second
	// DefaultListLimit is used when ListVulnerabilities gets no limit
	DefaultListLimit = 100
	// MaxListLimit caps ListVulnerabilities
	MaxListLimit = 1000
)

// ErrNilPool is returned when the store has no database pool
var ErrNilPool = errors.New("store: database pool is nil")

// DBPool abstracts *pgxpool.Pool so the store can be tested with pgxmock
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS vulnerabilities (
    vuln_id           TEXT PRIMARY KEY,
    run_id            TEXT NOT NULL,
    owasp_category    TEXT NOT NULL,
    severity          TEXT NOT NULL,
    description       TEXT NOT NULL,
    suggested_fix_key TEXT NOT NULL DEFAULT '',
    location          JSONB NOT NULL DEFAULT '{}',
    evidence          JSONB NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_vulnerabilities_run_id ON vulnerabilities (run_id);
`

const insertSQL = `
INSERT INTO vulnerabilities (vuln_id, run_id, owasp_category, severity, description, suggested_fix_key, location, evidence)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (vuln_id) DO NOTHING
`

const listSQL = `
SELECT vuln_id, run_id, owasp_category, severity, description, suggested_fix_key, location, evidence
FROM vulnerabilities
WHERE ($1 = '' OR run_id = $1)
ORDER BY created_at DESC, vuln_id
LIMIT $2
`

const statsSQL = `
SELECT severity, COUNT(*)
FROM vulnerabilities
GROUP BY severity
`

// Stats summarises stored vulnerabilities
type Stats struct {
	TotalVulnerabilities int64                    `json:"total_vulnerabilities"`
	SeverityCounts       map[model.Severity]int64 `json:"severity_counts"`
}

// Store persists vulnerabilities in PostgreSQL
type Store struct {
	pool    DBPool
	timeout time.Duration
	logger  *slog.Logger
}

// Connect opens a pgx pool for uri and returns a store verified with a ping
func Connect(ctx context.Context, uri string, timeout time.Duration, logger *slog.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := New(ctx, pool, timeout, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// Open wraps pool without contacting the database
func Open(pool DBPool, timeout time.Duration, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{pool: pool, timeout: timeout, logger: logger}, nil
}

// New creates a new store and verifies the connection
func New(ctx context.Context, pool DBPool, timeout time.Duration, logger *slog.Logger) (*Store, error) {
	s, err := Open(pool, timeout, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrNilPool
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// EnsureSchema creates the vulnerabilities table and its index
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrNilPool
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.logger.Info("Database schema ready")
	return nil
}

// InsertVulnerabilities stores vulns in a single transaction. Rows whose
// vuln_id already exists are left untouched.
func (s *Store) InsertVulnerabilities(ctx context.Context, vulns []model.Vulnerability) error {
	if s == nil || s.pool == nil {
		return ErrNilPool
	}
	if len(vulns) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := insertRows(ctx, tx, vulns); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("Failed to rollback transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertRows(ctx context.Context, tx pgx.Tx, vulns []model.Vulnerability) error {
	for _, v := range vulns {
		location, err := json.Marshal(v.Location)
		if err != nil {
			return fmt.Errorf("failed to encode location of %s: %w", v.VulnID, err)
		}
		evidence, err := json.Marshal(v.Evidence)
		if err != nil {
			return fmt.Errorf("failed to encode evidence of %s: %w", v.VulnID, err)
		}
		_, err = tx.Exec(ctx, insertSQL,
			v.VulnID, v.RunID, v.OWASPCategory, string(v.Severity),
			v.Description, v.SuggestedFixKey, location, evidence)
		if err != nil {
			return fmt.Errorf("failed to insert vulnerability %s: %w", v.VulnID, err)
		}
	}
	return nil
}

// ListVulnerabilities returns stored vulnerabilities, newest first. An empty
// runID lists across all runs.
func (s *Store) ListVulnerabilities(ctx context.Context, runID string, limit int) ([]model.Vulnerability, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNilPool
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, listSQL, runID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query vulnerabilities: %w", err)
	}
	defer rows.Close()

	vulns := make([]model.Vulnerability, 0)
	for rows.Next() {
		var (
			v        model.Vulnerability
			severity string
			location []byte
			evidence []byte
		)
		if err := rows.Scan(&v.VulnID, &v.RunID, &v.OWASPCategory, &severity,
			&v.Description, &v.SuggestedFixKey, &location, &evidence); err != nil {
			return nil, fmt.Errorf("failed to scan vulnerability row: %w", err)
		}
		v.Severity = model.Severity(severity)
		if err := json.Unmarshal(location, &v.Location); err != nil {
			return nil, fmt.Errorf("failed to decode location of %s: %w", v.VulnID, err)
		}
		if err := json.Unmarshal(evidence, &v.Evidence); err != nil {
			return nil, fmt.Errorf("failed to decode evidence of %s: %w", v.VulnID, err)
		}
		vulns = append(vulns, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return vulns, nil
}

// Stats counts stored vulnerabilities in total and per severity
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if s == nil || s.pool == nil {
		return Stats{}, ErrNilPool
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, statsSQL)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{SeverityCounts: make(map[model.Severity]int64, len(model.Severities))}
	for _, sev := range model.Severities {
		stats.SeverityCounts[sev] = 0
	}
	for rows.Next() {
		var (
			severity string
			count    int64
		)
		if err := rows.Scan(&severity, &count); err != nil {
			return Stats{}, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.TotalVulnerabilities += count
		if sev := model.Severity(severity); sev.Valid() {
			stats.SeverityCounts[sev] = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("error during row iteration: %w", err)
	}
	return stats, nil
}

// ClampLimit applies the default and maximum list limits
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
