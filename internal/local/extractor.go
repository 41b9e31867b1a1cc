// Package local re-materializes resources the caller already holds in a local
// buffer, without contacting the origin.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/logger"
)

// BufferResolver opens the buffer behind a "blob:" reference. It returns an
// error wrapping os.ErrNotExist for unknown references.
type BufferResolver interface {
	OpenBuffer(ctx context.Context, ref string) (io.ReadCloser, error)
}

// BufferedHandle is a presentation handle that carries its buffer in memory.
type BufferedHandle interface {
	domain.PresentationHandle
	Buffer() ([]byte, bool)
}

type Extractor struct {
	resolver BufferResolver
	log      *logger.Logger
}

func NewExtractor(resolver BufferResolver, log *logger.Logger) *Extractor {
	return &Extractor{resolver: resolver, log: log.With("local")}
}

// Extract copies the full local buffer behind h.
func (e *Extractor) Extract(ctx context.Context, h domain.PresentationHandle, kind domain.MediaKind) (*domain.Outcome, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: request has no presentation handle", domain.ErrNoLocalHandle)
	}

	ref := h.SourceRef()
	if !domain.IsLocalRef(ref) {
		return nil, fmt.Errorf("%w: source %q is still remote", domain.ErrNoLocalHandle, ref)
	}

	data, err := e.read(ctx, h, ref)
	if err != nil {
		return nil, err
	}

	// copy so later writes by the owner of the buffer cannot reach the artifact
	payload := make([]byte, len(data))
	copy(payload, data)

	out := &domain.Outcome{Payload: payload}
	if major, minor, ok := domain.SplitMediaType(http.DetectContentType(payload)); ok && major == string(kind) {
		out.MimeType = major + "/" + minor
		out.Extension = minor
	}

	e.log.Debug("Extracted %d bytes from %s", len(payload), ref)
	return out, nil
}

func (e *Extractor) read(ctx context.Context, h domain.PresentationHandle, ref string) ([]byte, error) {
	if bh, ok := h.(BufferedHandle); ok {
		if data, ok := bh.Buffer(); ok {
			return data, nil
		}
	}

	if e.resolver == nil {
		return nil, fmt.Errorf("%w: no buffer store for %s", domain.ErrNoLocalHandle, ref)
	}

	rc, err := e.resolver.OpenBuffer(ctx, ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: buffer %s not found", domain.ErrNoLocalHandle, ref)
		}
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrNoLocalHandle, ref, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrNoLocalHandle, ref, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: buffer %s is empty", domain.ErrNoLocalHandle, ref)
	}
	return data, nil
}
