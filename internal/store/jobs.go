package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/datallboy/mediafetch/internal/domain"
)

func (s *PersistentStore) SaveJob(ctx context.Context, job *domain.Job) error {
	row, err := jobFromDomain(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	query := `INSERT OR REPLACE INTO jobs (` + jobColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query, row.args()...)
	return err
}

func (s *PersistentStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ? LIMIT 1`

	var row jobDBO
	err := s.db.QueryRowContext(ctx, query, id).Scan(row.scanDest()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Return nil, nil to indicate "Not found"
		}
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}

	job, err := row.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return job, nil
}

// GetJobs returns every job, oldest first. KSUIDs sort chronologically.
func (s *PersistentStore) GetJobs(ctx context.Context) ([]*domain.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id ASC`)
}

// GetActiveJobs returns jobs that never reached a final status.
func (s *PersistentStore) GetActiveJobs(ctx context.Context) ([]*domain.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status NOT IN ('completed', 'failed')
		ORDER BY id ASC`)
}

func (s *PersistentStore) queryJobs(ctx context.Context, query string) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query)
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
			// skip the broken record rather than failing the whole listing
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}
