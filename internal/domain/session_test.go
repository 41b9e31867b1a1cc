package domain

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVideoSession() *Session {
	return NewSession(Request{URL: "https://example.org/v", SuggestedName: "clip.mp4", Kind: KindVideo})
}

func TestSessionAcceptRangeContinuity(t *testing.T) {
	s := newVideoSession()

	require.NoError(t, s.AcceptRange(0, 999, 5000, make([]byte, 1000)))
	assert.Equal(t, uint64(1000), s.NextOffset)
	assert.True(t, s.More())

	err := s.AcceptRange(1500, 2499, 5000, make([]byte, 1000))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDiscontinuousRange))
	assert.Equal(t, uint64(1000), s.NextOffset, "cursor must not move on rejection")
	assert.Len(t, s.Chunks, 1)
}

func TestSessionAcceptRangeSizeMismatch(t *testing.T) {
	s := newVideoSession()
	require.NoError(t, s.AcceptRange(0, 99, 300, make([]byte, 100)))

	err := s.AcceptRange(100, 199, 400, make([]byte, 100))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestSessionAcceptRangeRejectsShortBody(t *testing.T) {
	s := newVideoSession()
	err := s.AcceptRange(0, 99, 300, make([]byte, 40))
	assert.ErrorIs(t, err, ErrDiscontinuousRange)
}

func TestSessionAcceptRangeRejectsEndBeyondSize(t *testing.T) {
	s := newVideoSession()
	err := s.AcceptRange(0, 500, 300, make([]byte, 501))
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestSessionAssembleCompleteness(t *testing.T) {
	s := newVideoSession()
	first := bytes.Repeat([]byte{1}, 1000)
	second := bytes.Repeat([]byte{2}, 4000)

	require.NoError(t, s.AcceptRange(0, 999, 5000, first))
	require.NoError(t, s.AcceptRange(1000, 4999, 5000, second))
	assert.False(t, s.More())

	payload := s.Assemble()
	total, known := s.TotalSize()
	require.True(t, known)
	assert.Len(t, payload, int(total))
	assert.Equal(t, byte(1), payload[999])
	assert.Equal(t, byte(2), payload[1000])
}

func TestSessionAcceptWhole(t *testing.T) {
	s := newVideoSession()
	require.NoError(t, s.AcceptRange(0, 9, 100, make([]byte, 10)))

	body := make([]byte, 100)
	require.NoError(t, s.AcceptWhole(body, 100))
	assert.Len(t, s.Chunks, 1)
	assert.Equal(t, uint64(100), s.NextOffset)
	assert.False(t, s.More())

	assert.ErrorIs(t, s.AcceptWhole(body, 99), ErrSizeMismatch)

	require.NoError(t, s.AcceptWhole(body, -1))
	_, known := s.TotalSize()
	assert.False(t, known)
	assert.False(t, s.More())
}

func TestSessionApplyContentType(t *testing.T) {
	s := newVideoSession()

	assert.False(t, s.ApplyContentType("application/octet-stream"))
	assert.Equal(t, "clip.mp4", s.Name)

	assert.True(t, s.ApplyContentType("video/webm; charset=binary"))
	assert.Equal(t, "video/webm", s.MimeType)
	assert.Equal(t, "webm", s.Extension)
	assert.Equal(t, "clip.webm", s.Name)
}
