package engine

import (
	"context"
	"fmt"

	"github.com/datallboy/mediafetch/internal/domain"
)

// Attempt is what one strategy gets to work with. Session is shared along the
// chain so that the winner's naming decisions carry into finalization.
type Attempt struct {
	Request  domain.Request
	Session  *domain.Session
	Progress domain.ProgressFunc
}

// Strategy is one way of acquiring a resource. A failed attempt is final for
// that strategy; the orchestrator moves on and never retries it.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, a *Attempt) (*domain.Outcome, error)
}

// Strategy names as they appear in logs, job records and metrics.
const (
	StrategyDirect       = "direct"
	StrategyRange        = "range"
	StrategyWhole        = "whole"
	StrategyLocal        = "local"
	StrategyInline       = "inline"
	StrategyCaptureImage = "capture-image"
	StrategyCaptureVideo = "capture-video"
)

type RangeFetcher interface {
	Fetch(ctx context.Context, url string, s *domain.Session, progress domain.ProgressFunc) (*domain.Outcome, error)
}

// WholeFetcher is satisfied by both fetch.WholeFetcher and fetch.DirectFetcher.
type WholeFetcher interface {
	Fetch(ctx context.Context, url string, kind domain.MediaKind) (*domain.Outcome, error)
}

type LocalExtractor interface {
	Extract(ctx context.Context, h domain.PresentationHandle, kind domain.MediaKind) (*domain.Outcome, error)
}

type Capturer interface {
	CaptureImage(ctx context.Context, h domain.PresentationHandle) (*domain.Outcome, error)
	CaptureVideo(ctx context.Context, h domain.PresentationHandle) (*domain.Outcome, error)
}

type rangeStrategy struct{ f RangeFetcher }

func (s rangeStrategy) Name() string { return StrategyRange }

func (s rangeStrategy) Attempt(ctx context.Context, a *Attempt) (*domain.Outcome, error) {
	return s.f.Fetch(ctx, a.Request.URL, a.Session, a.Progress)
}

type wholeStrategy struct {
	name string
	f    WholeFetcher
}

func (s wholeStrategy) Name() string { return s.name }

func (s wholeStrategy) Attempt(ctx context.Context, a *Attempt) (*domain.Outcome, error) {
	return s.f.Fetch(ctx, a.Request.URL, a.Request.Kind)
}

type localStrategy struct{ x LocalExtractor }

func (s localStrategy) Name() string { return StrategyLocal }

func (s localStrategy) Attempt(ctx context.Context, a *Attempt) (*domain.Outcome, error) {
	return s.x.Extract(ctx, a.Request.Handle, a.Request.Kind)
}

// blobURLStrategy extracts the local buffer named by a blob: request URL.
// A handle carrying the same reference is preferred, it may hold the bytes in memory.
type blobURLStrategy struct{ x LocalExtractor }

func (s blobURLStrategy) Name() string { return StrategyLocal }

func (s blobURLStrategy) Attempt(ctx context.Context, a *Attempt) (*domain.Outcome, error) {
	h := a.Request.Handle
	if h == nil || h.SourceRef() != a.Request.URL {
		h = domain.SourceRef(a.Request.URL)
	}
	if s.x == nil {
		return nil, fmt.Errorf("%w: no local buffer store for %s", domain.ErrNoLocalHandle, a.Request.URL)
	}
	return s.x.Extract(ctx, h, a.Request.Kind)
}

// inlineStrategy decodes a data: request URL in place.
type inlineStrategy struct{}

func (inlineStrategy) Name() string { return StrategyInline }

func (inlineStrategy) Attempt(_ context.Context, a *Attempt) (*domain.Outcome, error) {
	payload, mediaType, err := domain.ParseDataURL(a.Request.URL)
	if err != nil {
		return nil, err
	}
	out := &domain.Outcome{Payload: payload}
	if major, minor, ok := domain.SplitMediaType(mediaType); ok && major == string(a.Request.Kind) {
		out.MimeType = major + "/" + minor
		out.Extension = minor
	}
	return out, nil
}

type captureImageStrategy struct{ c Capturer }

func (s captureImageStrategy) Name() string { return StrategyCaptureImage }

func (s captureImageStrategy) Attempt(ctx context.Context, a *Attempt) (*domain.Outcome, error) {
	return s.c.CaptureImage(ctx, a.Request.Handle)
}

type captureVideoStrategy struct{ c Capturer }

func (s captureVideoStrategy) Name() string { return StrategyCaptureVideo }

func (s captureVideoStrategy) Attempt(ctx context.Context, a *Attempt) (*domain.Outcome, error) {
	return s.c.CaptureVideo(ctx, a.Request.Handle)
}
