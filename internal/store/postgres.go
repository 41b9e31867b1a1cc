package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datallboy/mediafetch/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id          TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    name        TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL,
    handle_ref  TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    bytes_done  BIGINT NOT NULL DEFAULT 0,
    total_bytes BIGINT NOT NULL DEFAULT 0,
    strategy    TEXT NOT NULL DEFAULT '',
    output_path TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    attempts    TEXT NOT NULL DEFAULT '[]',
    created_at  BIGINT NOT NULL,
    finished_at BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);
`

// PostgresStore is the JobStore for deployments sharing one database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveJob(ctx context.Context, job *domain.Job) error {
	row, err := jobFromDomain(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	query := `INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			handle_ref = EXCLUDED.handle_ref,
			status = EXCLUDED.status,
			bytes_done = EXCLUDED.bytes_done,
			total_bytes = EXCLUDED.total_bytes,
			strategy = EXCLUDED.strategy,
			output_path = EXCLUDED.output_path,
			error = EXCLUDED.error,
			attempts = EXCLUDED.attempts,
			finished_at = EXCLUDED.finished_at`

	_, err = s.pool.Exec(ctx, query, row.args()...)
	return err
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobDBO
	err := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id).Scan(row.scanDest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}
	return row.ToDomain()
}

func (s *PostgresStore) GetJobs(ctx context.Context) ([]*domain.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id ASC`)
}

func (s *PostgresStore) GetActiveJobs(ctx context.Context) ([]*domain.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status NOT IN ('completed', 'failed')
		ORDER BY id ASC`)
}

func (s *PostgresStore) queryJobs(ctx context.Context, query string) ([]*domain.Job, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		var row jobDBO
		if err := rows.Scan(row.scanDest()...); err != nil {
			return nil, err
		}
		job, err := row.ToDomain()
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
