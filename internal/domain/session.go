package domain

import (
	"bytes"
	"fmt"
)

type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

// Session is the mutable state of one acquisition. It is owned by a single
// goroutine and never persisted.
//
// Chunks concatenated always equal bytes [0, NextOffset) of the resource.
type Session struct {
	Name      string
	Kind      MediaKind
	MimeType  string
	Extension string
	Status    SessionStatus

	NextOffset uint64
	Chunks     [][]byte

	totalSize  uint64
	totalKnown bool
}

func NewSession(req Request) *Session {
	return &Session{
		Name:      req.SuggestedName,
		Kind:      req.Kind,
		Extension: req.Kind.DefaultExtension(),
		Status:    SessionPending,
	}
}

// TotalSize returns the resource size once an origin has reported it.
func (s *Session) TotalSize() (uint64, bool) {
	return s.totalSize, s.totalKnown
}

// ApplyContentType re-derives the mime type and extension when the reported
// media type matches the session kind, renaming the target accordingly.
func (s *Session) ApplyContentType(contentType string) bool {
	major, minor, ok := SplitMediaType(contentType)
	if !ok || major != string(s.Kind) {
		return false
	}
	s.MimeType = major + "/" + minor
	s.Extension = minor
	s.Name = ReplaceExtension(s.Name, minor)
	return true
}

// AcceptRange validates a Content-Range against the cursor and appends the
// body as the next chunk.
func (s *Session) AcceptRange(start, end, size uint64, body []byte) error {
	if start != s.NextOffset {
		return fmt.Errorf("%w: expected offset %d, origin sent %d", ErrDiscontinuousRange, s.NextOffset, start)
	}
	if s.totalKnown && size != s.totalSize {
		return fmt.Errorf("%w: total was %d, origin now reports %d", ErrSizeMismatch, s.totalSize, size)
	}
	if end < start || end >= size {
		return fmt.Errorf("%w: range %d-%d does not fit size %d", ErrSizeMismatch, start, end, size)
	}
	if want := end - start + 1; uint64(len(body)) != want {
		return fmt.Errorf("%w: range %d-%d announced %d bytes, body has %d", ErrDiscontinuousRange, start, end, want, len(body))
	}

	s.Chunks = append(s.Chunks, body)
	s.NextOffset = end + 1
	s.totalSize = size
	s.totalKnown = true
	return nil
}

// AcceptWhole takes a body that represents the entire resource. contentLength
// is negative when the origin did not send one.
func (s *Session) AcceptWhole(body []byte, contentLength int64) error {
	if contentLength >= 0 && int64(len(body)) != contentLength {
		return fmt.Errorf("%w: content-length %d, body has %d", ErrSizeMismatch, contentLength, len(body))
	}

	// The origin restarted from zero, anything buffered so far is superseded.
	s.Chunks = [][]byte{body}
	s.NextOffset = uint64(len(body))
	if contentLength >= 0 {
		s.totalSize = uint64(contentLength)
		s.totalKnown = true
	} else {
		s.totalKnown = false
	}
	return nil
}

// More reports whether another range request is needed.
func (s *Session) More() bool {
	return s.totalKnown && s.NextOffset < s.totalSize
}

// Assemble concatenates the chunks in order.
func (s *Session) Assemble() []byte {
	return bytes.Join(s.Chunks, nil)
}

// Reset drops buffered chunks and rewinds the cursor.
func (s *Session) Reset() {
	s.Chunks = nil
	s.NextOffset = 0
	s.totalSize = 0
	s.totalKnown = false
}
