package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/datallboy/mediafetch/internal/capture"
	"github.com/datallboy/mediafetch/internal/capture/ffmpeg"
	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/engine"
	"github.com/datallboy/mediafetch/internal/fetch"
	"github.com/datallboy/mediafetch/internal/infra/config"
	"github.com/datallboy/mediafetch/internal/infra/logger"
	"github.com/datallboy/mediafetch/internal/local"
	"github.com/datallboy/mediafetch/internal/metrics"
	"github.com/datallboy/mediafetch/internal/platform"
	"github.com/datallboy/mediafetch/internal/sink"
	"github.com/datallboy/mediafetch/internal/store"
)

// Context hold the core environment and shared resources for mediafetch.
// It acts as the "Single Source of Truth" for the application state.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Orchestrator *engine.Orchestrator
	Queue        *engine.QueueManager
	Store        store.JobStore
	Blobs        *store.BlobStore
	Metrics      *metrics.Observer

	CaptureEnabled bool
}

// Options tune NewContext for the command being run.
type Options struct {
	// ResumeJobs reloads unfinished jobs into the queue.
	ResumeJobs bool
	// Registry receives the acquisition metrics. A fresh one is used when nil.
	Registry *prometheus.Registry
}

// NewContext wires every acquisition facility from cfg.
func NewContext(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*Context, error) {
	a := &Context{Config: cfg, Logger: log}

	doer, err := fetch.NewDoer(cfg.HTTP)
	if err != nil {
		return nil, fmt.Errorf("http transport: %w", err)
	}
	client, err := fetch.NewClient(doer, cfg.HTTP)
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}

	classifier, err := engine.NewClassifier(cfg.Classify.RestrictedPatterns)
	if err != nil {
		return nil, err
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if a.Metrics, err = metrics.NewObserver("mediafetch", reg); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	if a.Blobs, err = store.NewBlobStore(cfg.Store.BlobDir); err != nil {
		return nil, err
	}

	fileSink, err := sink.NewFileSink(cfg.Download.OutDir, log)
	if err != nil {
		return nil, err
	}

	whole := fetch.NewWholeFetcher(client, log)
	components := engine.Components{
		Direct:  fetch.NewDirectFetcher(whole, cfg.HTTP.DirectRetries, log),
		Range:   fetch.NewRangeFetcher(client, log),
		Whole:   whole,
		Local:   local.NewExtractor(a.Blobs, log),
		Sink:    fileSink,
		Metrics: a.Metrics,
	}

	deps := platform.ValidateDependencies(cfg.Capture.FFmpegPath, cfg.Capture.FFprobePath, log)
	if deps.CaptureEnabled() {
		rt := ffmpeg.NewRuntime(deps.FFmpeg, deps.FFprobe, log)
		components.Capture = capture.NewEngine(rt, cfg.Capture, log)
		components.Surfaces = engine.SurfaceOpenerFunc(func(ref string) domain.PresentationHandle {
			return rt.Open(ref)
		})
		a.CaptureEnabled = true
	}

	a.Orchestrator = engine.NewOrchestrator(components, classifier, cfg.Download.NamePrefix, log)

	if a.Store, err = store.Open(ctx, cfg.Store); err != nil {
		return nil, fmt.Errorf("job store: %w", err)
	}
	a.Queue = engine.NewQueueManager(a.Orchestrator, a.Store, cfg.Download.Workers, log, opts.ResumeJobs)

	return a, nil
}

// Close releases the job store.
func (a *Context) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
