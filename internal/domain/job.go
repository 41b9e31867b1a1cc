package domain

import (
	"context"
	"sync/atomic"
	"time"
)

type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
)

// IsFinished returns true for completed and failed jobs
func (s JobStatus) IsFinished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the queue's record of one acquisition.
type Job struct {
	ID     string
	URL    string
	Name   string
	Kind   MediaKind
	Status JobStatus

	// Request is only held in memory; presentation handles cannot be persisted.
	Request Request

	BytesDone  atomic.Uint64
	TotalBytes atomic.Uint64

	Strategy   string
	OutputPath string
	Error      string
	Attempts   []string

	CreatedAt  time.Time
	FinishedAt time.Time

	CancelFunc context.CancelFunc
}
