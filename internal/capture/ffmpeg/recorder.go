package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/datallboy/mediafetch/internal/capture"
)

type recorder struct {
	rt     *Runtime
	stream *mediaStream
	plan   encodingPlan
	opts   capture.RecorderOptions

	mu     sync.Mutex
	stdin  io.WriteCloser
	exited bool
}

// Start launches ffmpeg and slices its stdout into timeslice sized segments.
// When ffmpeg exits on its own the stream is marked ended.
func (r *recorder) Start(ctx context.Context) (<-chan []byte, error) {
	procCtx, cancel := context.WithCancel(r.stream.ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-procCtx.Done():
		}
		cancel()
	}()

	cmd := exec.CommandContext(procCtx, r.rt.FFmpegPath, recordArgs(r.stream.ref, r.plan, r.opts.Bitrate)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	r.mu.Lock()
	r.stdin = stdin
	r.mu.Unlock()

	reads := make(chan []byte)
	go func() {
		defer close(reads)
		buf := make([]byte, 64*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case reads <- chunk:
				case <-procCtx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	timeslice := r.opts.Timeslice
	if timeslice <= 0 {
		timeslice = time.Second
	}

	segments := make(chan []byte)
	go func() {
		defer close(segments)
		waited := false
		defer func() {
			cancel()
			if !waited {
				_ = cmd.Wait()
			}
		}()

		ticker := time.NewTicker(timeslice)
		defer ticker.Stop()

		var pending []byte
		flush := func() bool {
			if len(pending) == 0 {
				return true
			}
			select {
			case segments <- pending:
				pending = nil
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case chunk, ok := <-reads:
				if !ok {
					r.markExited()
					waited = true
					if err := cmd.Wait(); err != nil && !errors.Is(procCtx.Err(), context.Canceled) {
						r.rt.log.Warn("ffmpeg exited: %v", err)
					}
					r.stream.markEnded()
					flush()
					return
				}
				pending = append(pending, chunk...)
			case <-ticker.C:
				if !flush() {
					return
				}
			}
		}
	}()

	return segments, nil
}

// markExited records that ffmpeg closed its output. Wait owns the stdin pipe from here on.
func (r *recorder) markExited() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exited = true
	r.stdin = nil
}

// Stop asks ffmpeg to finish the container and exit. It is a no-op once
// ffmpeg has exited.
func (r *recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exited || r.stdin == nil {
		return nil
	}
	_, err := io.WriteString(r.stdin, "q")
	closeErr := r.stdin.Close()
	r.stdin = nil
	if err == nil {
		err = closeErr
	}
	if exitedPipe(err) {
		return nil
	}
	return err
}

// exitedPipe reports errors from writing to a process that is already gone.
func exitedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
