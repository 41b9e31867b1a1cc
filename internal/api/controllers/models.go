package controllers

import "time"

// AcquireRequest is the body of POST /api/acquire.
type AcquireRequest struct {
	URL           string `json:"url"`
	SuggestedName string `json:"name"`
	Kind          string `json:"kind"`
	// HandleRef names a presentation handle: a "blob:" reference returned by
	// POST /api/blobs, or a stream URL live capture can open.
	HandleRef string `json:"handle_ref"`
}

type JobResponse struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Name       string     `json:"name"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	BytesDone  uint64     `json:"bytes_done"`
	TotalBytes uint64     `json:"total_bytes"`
	Percent    int        `json:"percent"`
	Strategy   string     `json:"strategy,omitempty"`
	OutputPath string     `json:"output_path,omitempty"`
	Error      string     `json:"error,omitempty"`
	Attempts   []string   `json:"attempts,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type BlobResponse struct {
	Ref  string `json:"ref"`
	Size int64  `json:"size"`
}
