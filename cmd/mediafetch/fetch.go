package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datallboy/mediafetch/internal/app"
	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/engine"
)

func newFetchCmd() *cobra.Command {
	var (
		kind   string
		name   string
		handle string
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Acquire one resource and write it to the output directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaKind, err := domain.ParseMediaKind(kind)
			if err != nil {
				return err
			}

			cfg, log, err := loadEnvironment()
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.NewContext(ctx, cfg, log, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			req := domain.Request{URL: args[0], SuggestedName: name, Kind: mediaKind}
			if handle != "" {
				if req.Handle, err = resolveHandle(ctx, a, handle); err != nil {
					return err
				}
			}

			progress := engine.NewCLIProgress(os.Stdout)
			progressCtx, stopProgress := context.WithCancel(ctx)
			go progress.Run(progressCtx)

			res, err := a.Orchestrator.Acquire(ctx, req, progress.Listener(nil))
			stopProgress()
			if err != nil {
				var exhausted *domain.ExhaustedError
				if errors.As(err, &exhausted) {
					fmt.Fprintln(os.Stderr, exhausted.Error())
					return errors.New("all acquisition strategies failed")
				}
				return err
			}

			progress.Finish()
			fmt.Printf("Saved %s (%d bytes) via %s\n", res.Path, res.Size, res.Strategy)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "video", "media kind: image or video")
	cmd.Flags().StringVarP(&name, "name", "n", "", "suggested file name")
	cmd.Flags().StringVar(&handle, "handle", "", "presentation handle: a local file, a blob: ref, or a stream URL")
	return cmd
}

// resolveHandle registers a local file as a buffer so the local strategy can
// read it. Anything else is passed through as a reference.
func resolveHandle(ctx context.Context, a *app.Context, handle string) (domain.PresentationHandle, error) {
	info, err := os.Stat(handle)
	if err != nil || info.IsDir() {
		return domain.SourceRef(handle), nil
	}

	f, err := os.Open(handle)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ref, _, err := a.Blobs.PutBuffer(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", handle, err)
	}
	return domain.SourceRef(ref), nil
}
