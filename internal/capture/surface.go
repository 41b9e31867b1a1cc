package capture

import (
	"context"
	"image"
	"time"

	"github.com/datallboy/mediafetch/internal/domain"
)

// FrameSurface is a presentation handle that renders a still image.
type FrameSurface interface {
	domain.PresentationHandle
	// Dimensions blocks until the surface knows its intrinsic size.
	Dimensions(ctx context.Context) (width, height int, err error)
	// Frame returns what the surface currently displays.
	Frame(ctx context.Context) (image.Image, error)
}

// StreamSurface is a presentation handle that plays back timed media.
type StreamSurface interface {
	domain.PresentationHandle
	// WaitMetadata blocks until the surface has loaded its stream metadata.
	WaitMetadata(ctx context.Context) error
	CaptureStream(ctx context.Context) (MediaStream, error)
}

type Track interface {
	Kind() string
	Stop()
}

// MediaStream is a live capture of a StreamSurface.
type MediaStream interface {
	Tracks() []Track
	// Ended is closed when the source reaches its natural end.
	Ended() <-chan struct{}
}

type RecorderOptions struct {
	MimeType  string
	Bitrate   int
	Timeslice time.Duration
}

// RecorderRuntime encodes media streams.
type RecorderRuntime interface {
	Supports(mimeType string) bool
	NewRecorder(stream MediaStream, opts RecorderOptions) (Recorder, error)
}

type Recorder interface {
	// Start begins recording. A segment is delivered roughly every timeslice and
	// the channel is closed once the recorder has flushed after Stop or the
	// stream ended.
	Start(ctx context.Context) (<-chan []byte, error)
	Stop() error
}
