package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/logger"
	"github.com/datallboy/mediafetch/internal/metrics"
)

// Components are the acquisition facilities the orchestrator chains together.
// Nil facilities are left out of the chain, except Capture whose absence turns
// the capture attempts into StreamUnavailable failures.
type Components struct {
	Direct  WholeFetcher
	Range   RangeFetcher
	Whole   WholeFetcher
	Local   LocalExtractor
	Capture Capturer
	// Surfaces opens remote handle references for live capture.
	Surfaces SurfaceOpener
	Sink     domain.Sink
	Metrics  *metrics.Observer
}

// SurfaceOpener turns a handle reference into a live presentation surface.
type SurfaceOpener interface {
	Open(ref string) domain.PresentationHandle
}

type SurfaceOpenerFunc func(ref string) domain.PresentationHandle

func (f SurfaceOpenerFunc) Open(ref string) domain.PresentationHandle { return f(ref) }

// Result describes a finished acquisition.
type Result struct {
	Name     string
	Path     string
	Strategy string
	MimeType string
	Size     int
	// Attempts holds the strategies that failed before the winner.
	Attempts []*domain.StrategyError
}

type Orchestrator struct {
	c          Components
	classifier *Classifier
	namePrefix string
	log        *logger.Logger
	now        func() time.Time
}

func NewOrchestrator(c Components, classifier *Classifier, namePrefix string, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		c:          c,
		classifier: classifier,
		namePrefix: namePrefix,
		log:        log.With("engine"),
		now:        time.Now,
	}
}

// Acquire runs the strategy chain for req until one strategy succeeds, then
// hands the payload to the sink. The listener sees progress, then exactly one
// of Completed or Failed.
func (o *Orchestrator) Acquire(ctx context.Context, req domain.Request, l domain.Listener) (*Result, error) {
	if l == nil {
		l = domain.ListenerFuncs{}
	}
	started := o.now()

	res, err := o.acquire(ctx, req, l)
	if err != nil {
		o.c.Metrics.RecordAcquisition(req.Kind, "", 0, err)
		o.log.Error("Acquisition of %s failed after %s: %v", req.URL, o.now().Sub(started).Truncate(time.Millisecond), err)
		l.Failed(err)
		return nil, err
	}

	o.c.Metrics.RecordAcquisition(req.Kind, res.Strategy, res.Size, nil)
	o.log.Info("Completed: %s via %s (%d bytes)", res.Name, res.Strategy, res.Size)
	l.Completed(res.Name)
	return res, nil
}

func (o *Orchestrator) acquire(ctx context.Context, req domain.Request, l domain.Listener) (*Result, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedKind, req.Kind)
	}

	req = o.openHandle(req)
	session := o.newSession(req)
	chain := o.Chain(req)
	o.log.Info("Acquiring %s %s as %s (%d strategies)", req.Kind, req.URL, session.Name, len(chain))

	reported := false
	attempt := &Attempt{
		Request: req,
		Session: session,
		Progress: func(offset, total uint64) {
			reported = true
			l.Progress(offset, total)
		},
	}

	var failures []*domain.StrategyError
	for i, st := range chain {
		o.log.Debug("Attempt %d/%d: %s", i+1, len(chain), st.Name())
		reported = false

		begin := o.now()
		out, err := st.Attempt(ctx, attempt)
		o.c.Metrics.RecordAttempt(st.Name(), o.now().Sub(begin), err)

		if err == nil {
			if !reported {
				size := uint64(out.Size())
				l.Progress(size, size)
			}
			return o.finalize(ctx, session, st.Name(), out, failures)
		}

		// Cancellation ends the acquisition, it is not a strategy failure
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("acquisition of %s stopped during %s: %w", req.URL, st.Name(), ctxErr)
		}

		serr := domain.NewStrategyError(st.Name(), err)
		failures = append(failures, serr)
		o.log.Warn("Strategy %s failed: %v", st.Name(), serr)
	}

	return nil, &domain.ExhaustedError{URL: req.URL, Attempts: failures}
}

// Chain returns the strategies for req in the order they will be attempted.
// Inline data: URLs and local blob: URLs never touch the network.
func (o *Orchestrator) Chain(req domain.Request) []Strategy {
	switch {
	case domain.IsDataURL(req.URL):
		return []Strategy{inlineStrategy{}}
	case domain.IsLocalRef(req.URL):
		return []Strategy{blobURLStrategy{x: o.c.Local}}
	}

	var chain []Strategy

	if o.c.Direct != nil && !o.classifier.Restricted(req.URL) {
		chain = append(chain, wholeStrategy{name: StrategyDirect, f: o.c.Direct})
	}

	switch req.Kind {
	case domain.KindImage:
		chain = append(chain, captureImageStrategy{c: o.capturer()})
	case domain.KindVideo:
		if o.c.Range != nil {
			chain = append(chain, rangeStrategy{f: o.c.Range})
		}
		if o.c.Whole != nil {
			chain = append(chain, wholeStrategy{name: StrategyWhole, f: o.c.Whole})
		}
		if o.c.Local != nil && req.HasHandle() {
			chain = append(chain, localStrategy{x: o.c.Local})
		}
		chain = append(chain, captureVideoStrategy{c: o.capturer()})
	}
	return chain
}

// openHandle upgrades a bare remote reference to a live surface. Local buffer
// references stay as they are, the local strategy reads them directly.
func (o *Orchestrator) openHandle(req domain.Request) domain.Request {
	ref, ok := req.Handle.(domain.SourceRef)
	if !ok || ref == "" || o.c.Surfaces == nil || domain.IsLocalRef(string(ref)) {
		return req
	}
	req.Handle = o.c.Surfaces.Open(string(ref))
	return req
}

// newSession names the target: stream metadata in the URL beats the
// suggested name, and a generated name is used when neither exists.
func (o *Orchestrator) newSession(req domain.Request) *domain.Session {
	named := req
	meta, hasMeta := domain.ParseStreamMetadata(req.URL)
	if hasMeta && meta.FileName != "" {
		named.SuggestedName = meta.FileName
	}
	if named.SuggestedName == "" {
		named.SuggestedName = domain.DefaultName(o.namePrefix, req.Kind, o.now())
	}

	s := domain.NewSession(named)
	if hasMeta && meta.MimeType != "" {
		s.ApplyContentType(meta.MimeType)
	}
	return s
}

func (o *Orchestrator) finalize(ctx context.Context, s *domain.Session, strategy string, out *domain.Outcome, failures []*domain.StrategyError) (*Result, error) {
	name := s.Name
	if out.Name != "" {
		name = out.Name
	}
	if out.Extension != "" {
		name = domain.ReplaceExtension(name, out.Extension)
	}

	mimeType := out.MimeType
	if mimeType == "" {
		mimeType = s.MimeType
	}

	if o.c.Sink == nil {
		return nil, fmt.Errorf("%w: no sink configured", domain.ErrSink)
	}
	path, err := o.c.Sink.Save(ctx, name, out.Payload)
	if err != nil {
		if errors.Is(err, domain.ErrSink) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrSink, err)
	}

	// the sink may have picked a different name to avoid overwriting
	if path != "" {
		name = filepath.Base(path)
	}

	return &Result{
		Name:     name,
		Path:     path,
		Strategy: strategy,
		MimeType: mimeType,
		Size:     out.Size(),
		Attempts: failures,
	}, nil
}

func (o *Orchestrator) capturer() Capturer {
	if o.c.Capture == nil {
		return noCapture{}
	}
	return o.c.Capture
}

// noCapture stands in when no capture runtime is installed.
type noCapture struct{}

func (noCapture) CaptureImage(context.Context, domain.PresentationHandle) (*domain.Outcome, error) {
	return nil, fmt.Errorf("%w: live capture is disabled", domain.ErrStreamUnavailable)
}

func (noCapture) CaptureVideo(context.Context, domain.PresentationHandle) (*domain.Outcome, error) {
	return nil, fmt.Errorf("%w: live capture is disabled", domain.ErrStreamUnavailable)
}
