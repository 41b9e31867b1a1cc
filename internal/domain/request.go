package domain

import (
	"context"
	"strings"
)

// PresentationHandle references a live rendering surface or a buffered local
// copy of the resource. Capture and local extraction probe it for richer
// capabilities with type assertions.
type PresentationHandle interface {
	SourceRef() string
}

// SourceRef is a bare reference with no surface behind it, e.g. "blob:<id>".
type SourceRef string

func (r SourceRef) SourceRef() string { return string(r) }

// IsLocalRef reports whether ref points at a locally buffered resource.
func IsLocalRef(ref string) bool {
	return strings.HasPrefix(ref, "blob:")
}

// Request is one acquisition as handed over by the caller. It is not modified
// after creation.
type Request struct {
	URL           string
	SuggestedName string
	Kind          MediaKind
	Handle        PresentationHandle
}

// HasHandle reports whether a usable presentation handle was supplied.
func (r Request) HasHandle() bool {
	return r.Handle != nil && r.Handle.SourceRef() != ""
}

// Outcome is the payload produced by a successful strategy.
type Outcome struct {
	Payload   []byte
	MimeType  string
	Extension string
	// Name overrides the session name when the strategy resolved a better one.
	Name string
}

func (o *Outcome) Size() int {
	if o == nil {
		return 0
	}
	return len(o.Payload)
}

// ProgressFunc receives the byte offset reached and the total size of the resource.
type ProgressFunc func(offset, total uint64)

// Listener receives the events of one acquisition.
type Listener interface {
	Progress(offset, total uint64)
	Completed(finalName string)
	Failed(err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnProgress func(offset, total uint64)
	OnComplete func(finalName string)
	OnFailure  func(err error)
}

func (l ListenerFuncs) Progress(offset, total uint64) {
	if l.OnProgress != nil {
		l.OnProgress(offset, total)
	}
}

func (l ListenerFuncs) Completed(finalName string) {
	if l.OnComplete != nil {
		l.OnComplete(finalName)
	}
}

func (l ListenerFuncs) Failed(err error) {
	if l.OnFailure != nil {
		l.OnFailure(err)
	}
}

// Sink persists a finished payload. It returns where the payload ended up.
type Sink interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}
