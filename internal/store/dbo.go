package store

import (
	"encoding/json"
	"time"

	"github.com/datallboy/mediafetch/internal/domain"
)

// jobDBO maps to the jobs table. Times are unix milliseconds, 0 meaning unset.
type jobDBO struct {
	ID         string `db:"id"`
	URL        string `db:"url"`
	Name       string `db:"name"`
	Kind       string `db:"kind"`
	HandleRef  string `db:"handle_ref"`
	Status     string `db:"status"`
	BytesDone  int64  `db:"bytes_done"`
	TotalBytes int64  `db:"total_bytes"`
	Strategy   string `db:"strategy"`
	OutputPath string `db:"output_path"`
	Error      string `db:"error"`
	Attempts   string `db:"attempts"`
	CreatedAt  int64  `db:"created_at"`
	FinishedAt int64  `db:"finished_at"`
}

const jobColumns = `id, url, name, kind, handle_ref, status, bytes_done, total_bytes,
	strategy, output_path, error, attempts, created_at, finished_at`

// scanDest returns the scan targets in jobColumns order.
func (r *jobDBO) scanDest() []any {
	return []any{
		&r.ID, &r.URL, &r.Name, &r.Kind, &r.HandleRef, &r.Status, &r.BytesDone, &r.TotalBytes,
		&r.Strategy, &r.OutputPath, &r.Error, &r.Attempts, &r.CreatedAt, &r.FinishedAt,
	}
}

// args returns the insert arguments in jobColumns order.
func (r *jobDBO) args() []any {
	return []any{
		r.ID, r.URL, r.Name, r.Kind, r.HandleRef, r.Status, r.BytesDone, r.TotalBytes,
		r.Strategy, r.OutputPath, r.Error, r.Attempts, r.CreatedAt, r.FinishedAt,
	}
}

func jobFromDomain(j *domain.Job) (*jobDBO, error) {
	attempts := j.Attempts
	if attempts == nil {
		attempts = []string{}
	}
	attemptsJSON, err := json.Marshal(attempts)
	if err != nil {
		return nil, err
	}

	r := &jobDBO{
		ID:         j.ID,
		URL:        j.URL,
		Name:       j.Name,
		Kind:       string(j.Kind),
		Status:     string(j.Status),
		BytesDone:  int64(j.BytesDone.Load()),
		TotalBytes: int64(j.TotalBytes.Load()),
		Strategy:   j.Strategy,
		OutputPath: j.OutputPath,
		Error:      j.Error,
		Attempts:   string(attemptsJSON),
		CreatedAt:  toMillis(j.CreatedAt),
		FinishedAt: toMillis(j.FinishedAt),
	}
	if j.Request.Handle != nil {
		r.HandleRef = j.Request.Handle.SourceRef()
	}
	return r, nil
}

// ToDomain rebuilds the job. Only bare references survive as handles.
func (r *jobDBO) ToDomain() (*domain.Job, error) {
	j := &domain.Job{
		ID:         r.ID,
		URL:        r.URL,
		Name:       r.Name,
		Kind:       domain.MediaKind(r.Kind),
		Status:     domain.JobStatus(r.Status),
		Strategy:   r.Strategy,
		OutputPath: r.OutputPath,
		Error:      r.Error,
		CreatedAt:  fromMillis(r.CreatedAt),
		FinishedAt: fromMillis(r.FinishedAt),
	}
	j.BytesDone.Store(uint64(r.BytesDone))
	j.TotalBytes.Store(uint64(r.TotalBytes))

	if err := json.Unmarshal([]byte(r.Attempts), &j.Attempts); err != nil {
		return nil, err
	}

	j.Request = domain.Request{URL: r.URL, SuggestedName: r.Name, Kind: j.Kind}
	if r.HandleRef != "" {
		j.Request.Handle = domain.SourceRef(r.HandleRef)
	}
	return j, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
