package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind names the cause of a failed strategy attempt.
type ErrorKind string

const (
	KindUnexpectedStatus     ErrorKind = "UnexpectedStatus"
	KindDiscontinuousRange   ErrorKind = "DiscontinuousRange"
	KindSizeMismatch         ErrorKind = "SizeMismatch"
	KindTransientFetch       ErrorKind = "TransientFetchError"
	KindNoLocalHandle        ErrorKind = "NoLocalHandle"
	KindEmptyFrame           ErrorKind = "EmptyFrame"
	KindEncodeFailure        ErrorKind = "EncodeFailure"
	KindStreamUnavailable    ErrorKind = "StreamUnavailable"
	KindNoSupportedEncoding  ErrorKind = "NoSupportedEncoding"
	KindMetadataTimeout      ErrorKind = "MetadataTimeout"
	KindAcquisitionExhausted ErrorKind = "AcquisitionExhausted"
	KindUnsupportedKind      ErrorKind = "UnsupportedKind"
	KindInvalidRequest       ErrorKind = "InvalidRequest"
	KindUnknown              ErrorKind = "Unknown"
)

var (
	// ErrUnexpectedStatus indicates the origin answered with a status the strategy cannot use
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrDiscontinuousRange indicates the origin skipped or repeated bytes
	ErrDiscontinuousRange = errors.New("discontinuous range")
	// ErrSizeMismatch indicates the origin changed the reported resource size mid-session
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrTransientFetch wraps connection resets, timeouts and body read failures
	ErrTransientFetch = errors.New("transient fetch error")
	ErrNoLocalHandle  = errors.New("no local handle")
	// ErrEmptyFrame indicates a capture produced an all-zero raster
	ErrEmptyFrame          = errors.New("empty frame")
	ErrEncodeFailure       = errors.New("encode failure")
	ErrStreamUnavailable   = errors.New("stream unavailable")
	ErrNoSupportedEncoding = errors.New("no supported encoding")
	ErrMetadataTimeout     = errors.New("metadata timeout")
	// ErrAcquisitionExhausted is matched by *ExhaustedError
	ErrAcquisitionExhausted = errors.New("acquisition exhausted")
	ErrUnsupportedKind      = errors.New("unsupported media kind")
	// ErrInvalidRequest marks failures no retry can fix, such as a malformed
	// URL or an unsupported scheme
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSink indicates the sink refused the finished payload
	ErrSink = errors.New("sink failure")
)

var kindSentinels = []struct {
	kind ErrorKind
	err  error
}{
	{KindUnexpectedStatus, ErrUnexpectedStatus},
	{KindDiscontinuousRange, ErrDiscontinuousRange},
	{KindSizeMismatch, ErrSizeMismatch},
	{KindTransientFetch, ErrTransientFetch},
	{KindNoLocalHandle, ErrNoLocalHandle},
	{KindEmptyFrame, ErrEmptyFrame},
	{KindEncodeFailure, ErrEncodeFailure},
	{KindStreamUnavailable, ErrStreamUnavailable},
	{KindNoSupportedEncoding, ErrNoSupportedEncoding},
	{KindMetadataTimeout, ErrMetadataTimeout},
	{KindAcquisitionExhausted, ErrAcquisitionExhausted},
	{KindUnsupportedKind, ErrUnsupportedKind},
	{KindInvalidRequest, ErrInvalidRequest},
}

// KindOf maps an error to its ErrorKind by walking the wrap chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return KindAcquisitionExhausted
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindUnknown
}

// StrategyError records why one strategy in the chain failed.
type StrategyError struct {
	Strategy string
	Kind     ErrorKind
	Err      error
}

func NewStrategyError(strategy string, err error) *StrategyError {
	return &StrategyError{Strategy: strategy, Kind: KindOf(err), Err: err}
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Strategy, e.Kind, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every strategy in the chain failed.
// Attempts are kept in the order they were tried.
type ExhaustedError struct {
	URL      string
	Attempts []*StrategyError
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "acquisition exhausted for %s after %d attempt(s)", e.URL, len(e.Attempts))
	for i, a := range e.Attempts {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, a.Error())
	}
	return b.String()
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAcquisitionExhausted
}

func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a)
	}
	return errs
}

// Causes lists the kinds of each attempt, in attempt order.
func (e *ExhaustedError) Causes() []ErrorKind {
	kinds := make([]ErrorKind, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}
