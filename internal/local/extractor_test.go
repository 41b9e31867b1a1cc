package local

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/logger"
)

type mapResolver map[string][]byte

func (m mapResolver) OpenBuffer(_ context.Context, ref string) (io.ReadCloser, error) {
	data, ok := m[ref]
	if !ok {
		return nil, fmt.Errorf("buffer %s: %w", ref, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type memHandle struct {
	ref  string
	data []byte
}

func (h memHandle) SourceRef() string      { return h.ref }
func (h memHandle) Buffer() ([]byte, bool) { return h.data, h.data != nil }

func TestExtractFromResolver(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n rest of image")
	ex := NewExtractor(mapResolver{"blob:abc": png}, logger.Discard())

	out, err := ex.Extract(context.Background(), domain.SourceRef("blob:abc"), domain.KindImage)
	require.NoError(t, err)
	assert.Equal(t, png, out.Payload)
	assert.Equal(t, "image/png", out.MimeType)
	assert.Equal(t, "png", out.Extension)
}

func TestExtractCopiesInMemoryBuffer(t *testing.T) {
	data := []byte("opaque local bytes")
	ex := NewExtractor(nil, logger.Discard())

	out, err := ex.Extract(context.Background(), memHandle{ref: "blob:x", data: data}, domain.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, data, out.Payload)
	assert.Empty(t, out.MimeType, "sniffed type is not a video")

	data[0] = 'X'
	assert.Equal(t, byte('o'), out.Payload[0])
}

func TestExtractFailures(t *testing.T) {
	ex := NewExtractor(mapResolver{"blob:empty": {}}, logger.Discard())

	cases := []struct {
		name   string
		handle domain.PresentationHandle
	}{
		{"no handle", nil},
		{"remote source", domain.SourceRef("https://cdn.example/v.mp4")},
		{"unknown buffer", domain.SourceRef("blob:missing")},
		{"empty buffer", domain.SourceRef("blob:empty")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ex.Extract(context.Background(), tc.handle, domain.KindVideo)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrNoLocalHandle)
			assert.Equal(t, domain.KindNoLocalHandle, domain.KindOf(err))
		})
	}
}
