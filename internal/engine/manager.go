package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/sync/errgroup"

	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/logger"
)

// Acquirer runs one acquisition to completion.
type Acquirer interface {
	Acquire(ctx context.Context, req domain.Request, l domain.Listener) (*Result, error)
}

// JobStore is the persistence the queue needs. Unknown ids return nil, nil.
type JobStore interface {
	SaveJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	GetActiveJobs(ctx context.Context) ([]*domain.Job, error)
}

type QueueManager struct {
	mu       sync.RWMutex
	acquirer Acquirer
	store    JobStore
	log      *logger.Logger
	workers  int
	queue    []*domain.Job

	newJobChan chan struct{}
}

// NewQueueManager initializes a QueueManager.
// If loadExisting is true, jobs that never finished are loaded from the store
// and run again; the CLI skips the lookup.
func NewQueueManager(acquirer Acquirer, store JobStore, workers int, log *logger.Logger, loadExisting bool) *QueueManager {
	if workers <= 0 {
		workers = 1
	}
	m := &QueueManager{
		acquirer:   acquirer,
		store:      store,
		log:        log.With("queue"),
		workers:    workers,
		newJobChan: make(chan struct{}, workers),
	}

	if loadExisting {
		active, err := store.GetActiveJobs(context.Background())
		if err != nil {
			m.log.Error("Could not load unfinished jobs: %v", err)
		}
		for _, job := range active {
			// an interrupted download starts over
			job.Status = domain.StatusPending
			job.BytesDone.Store(0)
			m.queue = append(m.queue, job)
		}
		if len(m.queue) > 0 {
			m.log.Info("Resuming %d unfinished job(s)", len(m.queue))
		}
	}
	return m
}

// Submit creates a pending job for req and wakes a worker.
func (m *QueueManager) Submit(req domain.Request) (JobView, error) {
	if !req.Kind.Valid() {
		return JobView{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedKind, req.Kind)
	}
	if req.URL == "" {
		return JobView{}, errors.New("url is required")
	}

	job := &domain.Job{
		ID:        ksuid.New().String(),
		URL:       req.URL,
		Name:      req.SuggestedName,
		Kind:      req.Kind,
		Status:    domain.StatusPending,
		Request:   req,
		CreatedAt: time.Now(),
	}

	if err := m.store.SaveJob(context.Background(), job); err != nil {
		return JobView{}, fmt.Errorf("failed to save job to database: %w", err)
	}

	view := NewJobView(job)
	m.mu.Lock()
	m.queue = append(m.queue, job)
	m.mu.Unlock()

	m.signal()
	return view, nil
}

// Start runs the workers until ctx is cancelled.
func (m *QueueManager) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < m.workers; w++ {
		g.Go(func() error {
			m.worker(gctx)
			return nil
		})
	}
	m.signal()
	return g.Wait()
}

func (m *QueueManager) worker(ctx context.Context) {
	for {
		next, jobCtx := m.claim(ctx)
		if next == nil {
			select {
			case <-m.newJobChan:
				continue
			case <-ctx.Done():
				return
			}
		}

		m.run(jobCtx, next)
	}
}

// claim marks the oldest pending job as downloading and returns it.
func (m *QueueManager) claim(ctx context.Context) (*domain.Job, context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.queue {
		if job.Status != domain.StatusPending {
			continue
		}
		jobCtx, cancel := context.WithCancel(ctx)
		job.CancelFunc = cancel
		job.Status = domain.StatusDownloading
		m.save(job)
		return job, jobCtx
	}
	return nil, nil
}

func (m *QueueManager) run(ctx context.Context, job *domain.Job) {
	listener := domain.ListenerFuncs{
		OnProgress: func(offset, total uint64) {
			job.BytesDone.Store(offset)
			job.TotalBytes.Store(total)
		},
	}

	m.log.Info("Starting job %s: %s", job.ID, job.URL)
	res, err := m.acquirer.Acquire(ctx, job.Request, listener)
	m.finalizeJob(job, res, err)
}

// JobView is a point in time copy of a job, safe to hand to other goroutines.
type JobView struct {
	ID         string
	URL        string
	Name       string
	Kind       domain.MediaKind
	Status     domain.JobStatus
	BytesDone  uint64
	TotalBytes uint64
	Strategy   string
	OutputPath string
	Error      string
	Attempts   []string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// NewJobView snapshots job. Callers must not race with its writers.
func NewJobView(job *domain.Job) JobView {
	return JobView{
		ID:         job.ID,
		URL:        job.URL,
		Name:       job.Name,
		Kind:       job.Kind,
		Status:     job.Status,
		BytesDone:  job.BytesDone.Load(),
		TotalBytes: job.TotalBytes.Load(),
		Strategy:   job.Strategy,
		OutputPath: job.OutputPath,
		Error:      job.Error,
		Attempts:   append([]string(nil), job.Attempts...),
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
}

// GetItem searches the live queue, then the store.
func (m *QueueManager) GetItem(id string) (JobView, bool) {
	m.mu.RLock()
	for _, job := range m.queue {
		if job.ID == id {
			view := NewJobView(job)
			m.mu.RUnlock()
			return view, true
		}
	}
	m.mu.RUnlock()

	// Get from DB as a fallback
	job, err := m.store.GetJob(context.Background(), id)
	if err == nil && job != nil {
		return NewJobView(job), true
	}
	return JobView{}, false
}

// GetAllItems returns the live queue, oldest first.
func (m *QueueManager) GetAllItems() []JobView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]JobView, 0, len(m.queue))
	for _, job := range m.queue {
		items = append(items, NewJobView(job))
	}
	return items
}

// Cancel stops a queued or running job. It returns false for unknown or
// finished jobs.
func (m *QueueManager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.queue {
		if job.ID != id {
			continue
		}
		if job.Status.IsFinished() {
			return false
		}

		if job.CancelFunc != nil {
			job.CancelFunc()
			return true
		}

		// never started: finish it here
		job.Status = domain.StatusFailed
		job.Error = "Cancelled by user"
		job.FinishedAt = time.Now()
		m.save(job)
		m.removeFromLiveQueue(job.ID)
		return true
	}
	return false
}

func (m *QueueManager) finalizeJob(job *domain.Job, res *Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.FinishedAt = time.Now()
	if job.CancelFunc != nil {
		job.CancelFunc()
	}

	if err != nil {
		job.Status = domain.StatusFailed
		if errors.Is(err, context.Canceled) {
			job.Error = "Cancelled by user"
		} else {
			job.Error = err.Error()
		}

		var exhausted *domain.ExhaustedError
		if errors.As(err, &exhausted) {
			job.Attempts = attemptLines(exhausted.Attempts)
		}
	} else {
		job.Status = domain.StatusCompleted
		job.Name = res.Name
		job.Strategy = res.Strategy
		job.OutputPath = res.Path
		job.Attempts = attemptLines(res.Attempts)
		job.BytesDone.Store(uint64(res.Size))
		job.TotalBytes.Store(uint64(res.Size))
	}

	// Persist the final outcome
	m.save(job)
	m.removeFromLiveQueue(job.ID)
}

// save persists job. Callers hold m.mu.
func (m *QueueManager) save(job *domain.Job) {
	if err := m.store.SaveJob(context.Background(), job); err != nil {
		m.log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func (m *QueueManager) signal() {
	select {
	case m.newJobChan <- struct{}{}:
	default:
		// Signal already pending, no need to block
	}
}

// removeFromLiveQueue keeps the live slice small by removing finished jobs
func (m *QueueManager) removeFromLiveQueue(id string) {
	for i, job := range m.queue {
		if job.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
}

func attemptLines(attempts []*domain.StrategyError) []string {
	lines := make([]string, 0, len(attempts))
	for _, a := range attempts {
		lines = append(lines, a.Error())
	}
	return lines
}
