// Package capture grabs still frames and records live streams from
// presentation surfaces when nothing can be fetched from the origin.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"golang.org/x/image/draw"

	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/config"
	"github.com/datallboy/mediafetch/internal/infra/logger"
)

// stopGrace bounds how long a stopped recorder may take to flush and exit
// before it is killed.
const stopGrace = 5 * time.Second

type Engine struct {
	runtime   RecorderRuntime
	cfg       config.CaptureConfig
	log       *logger.Logger
	stopGrace time.Duration
}

// NewEngine creates a capture engine. runtime may be nil, in which case every
// video capture fails with StreamUnavailable.
func NewEngine(runtime RecorderRuntime, cfg config.CaptureConfig, log *logger.Logger) *Engine {
	return &Engine{runtime: runtime, cfg: cfg, log: log.With("capture"), stopGrace: stopGrace}
}

// job is the state of one video recording. It never outlives CaptureVideo.
type job struct {
	stream   MediaStream
	encoding string
	segments [][]byte
	deadline time.Duration
}

// CaptureImage draws the surface behind h at its natural size and encodes it as PNG.
func (e *Engine) CaptureImage(ctx context.Context, h domain.PresentationHandle) (*domain.Outcome, error) {
	surface, ok := h.(FrameSurface)
	if !ok {
		return nil, fmt.Errorf("%w: handle has no renderable surface", domain.ErrStreamUnavailable)
	}

	wait := e.cfg.ImageLoadTimeout
	if wait <= 0 {
		wait = e.cfg.MetadataTimeout
	}

	var width, height int
	err := waitBounded(ctx, wait, func(ctx context.Context) error {
		var err error
		width, height, err = surface.Dimensions(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: surface reports %dx%d", domain.ErrEmptyFrame, width, height)
	}

	src, err := surface.Frame(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read frame: %v", domain.ErrEmptyFrame, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	if src.Bounds().Dx() == width && src.Bounds().Dy() == height {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}

	if blank(dst.Pix) {
		return nil, fmt.Errorf("%w: %dx%d frame has no content", domain.ErrEmptyFrame, width, height)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEncodeFailure, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: encoder produced no output", domain.ErrEncodeFailure)
	}

	e.log.Debug("Captured %dx%d frame from %s (%d bytes)", width, height, h.SourceRef(), buf.Len())
	return &domain.Outcome{Payload: buf.Bytes(), MimeType: "image/png", Extension: "png"}, nil
}

// CaptureVideo records the stream behind h until it ends or the record
// deadline passes. Every track of the captured stream is stopped before it returns.
func (e *Engine) CaptureVideo(ctx context.Context, h domain.PresentationHandle) (*domain.Outcome, error) {
	surface, ok := h.(StreamSurface)
	if !ok {
		return nil, fmt.Errorf("%w: handle has no playable surface", domain.ErrStreamUnavailable)
	}
	if e.runtime == nil {
		return nil, fmt.Errorf("%w: no recorder runtime available", domain.ErrStreamUnavailable)
	}

	if err := waitBounded(ctx, e.cfg.MetadataTimeout, surface.WaitMetadata); err != nil {
		return nil, err
	}

	stream, err := surface.CaptureStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStreamUnavailable, err)
	}
	if stream == nil {
		return nil, fmt.Errorf("%w: surface returned no stream", domain.ErrStreamUnavailable)
	}
	defer stopTracks(stream)

	if len(stream.Tracks()) == 0 {
		return nil, fmt.Errorf("%w: stream has no tracks", domain.ErrStreamUnavailable)
	}

	encoding, ok := e.selectEncoding()
	if !ok {
		return nil, fmt.Errorf("%w: none of %v", domain.ErrNoSupportedEncoding, e.cfg.Encodings)
	}

	j := &job{stream: stream, encoding: encoding, deadline: e.cfg.RecordDeadline}
	if err := e.record(ctx, j); err != nil {
		return nil, err
	}

	payload := bytes.Join(j.segments, nil)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: recording produced no data", domain.ErrEncodeFailure)
	}

	major, minor, _ := domain.SplitMediaType(encoding)
	e.log.Info("Recorded %d segment(s), %d bytes as %s", len(j.segments), len(payload), encoding)
	return &domain.Outcome{
		Payload:   payload,
		MimeType:  major + "/" + minor,
		Extension: minor,
	}, nil
}

func (e *Engine) record(ctx context.Context, j *job) error {
	rec, err := e.runtime.NewRecorder(j.stream, RecorderOptions{
		MimeType:  j.encoding,
		Bitrate:   e.cfg.VideoBitrate,
		Timeslice: e.cfg.Timeslice,
	})
	if err != nil {
		return fmt.Errorf("%w: create recorder for %s: %v", domain.ErrEncodeFailure, j.encoding, err)
	}

	recCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	segments, err := rec.Start(recCtx)
	if err != nil {
		return fmt.Errorf("%w: start recorder: %v", domain.ErrEncodeFailure, err)
	}

	var deadline <-chan time.Time
	if j.deadline > 0 {
		timer := time.NewTimer(j.deadline)
		defer timer.Stop()
		deadline = timer.C
	}

	ended := j.stream.Ended()
	var grace <-chan time.Time
	var graceTimer *time.Timer
	defer func() {
		if graceTimer != nil {
			graceTimer.Stop()
		}
	}()

	stopped := false
	stop := func(reason string) {
		if stopped {
			return
		}
		stopped = true
		e.log.Debug("Stopping recorder: %s", reason)
		if err := rec.Stop(); err != nil {
			e.log.Warn("Recorder stop: %v", err)
		}
		ended, deadline = nil, nil

		graceTimer = time.NewTimer(e.stopGrace)
		grace = graceTimer.C
	}

	for {
		select {
		case seg, ok := <-segments:
			if !ok {
				return nil
			}
			if len(seg) > 0 {
				j.segments = append(j.segments, seg)
			}
		case <-ended:
			stop("source ended")
		case <-deadline:
			e.log.Warn("Record deadline of %s reached, keeping %d segment(s)", j.deadline, len(j.segments))
			stop("deadline")
		case <-grace:
			e.log.Warn("Recorder did not finish within %s of stop, killing it with %d segment(s)", e.stopGrace, len(j.segments))
			cancel()
			return nil
		case <-ctx.Done():
			stop("cancelled")
			return ctx.Err()
		}
	}
}

func (e *Engine) selectEncoding() (string, bool) {
	for _, enc := range e.cfg.Encodings {
		if e.runtime.Supports(enc) {
			return enc, true
		}
	}
	return "", false
}

// waitBounded runs wait with a timeout and maps the timeout to MetadataTimeout.
// Cancellation of the parent context is returned unchanged.
func waitBounded(ctx context.Context, timeout time.Duration, wait func(context.Context) error) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := wait(waitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || waitCtx.Err() != nil {
		return fmt.Errorf("%w: no metadata after %s", domain.ErrMetadataTimeout, timeout)
	}
	return fmt.Errorf("%w: %v", domain.ErrStreamUnavailable, err)
}

func stopTracks(stream MediaStream) {
	for _, t := range stream.Tracks() {
		t.Stop()
	}
}

func blank(pix []byte) bool {
	for _, b := range pix {
		if b != 0 {
			return false
		}
	}
	return true
}
