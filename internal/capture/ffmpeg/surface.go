package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/datallboy/mediafetch/internal/capture"
)

// Surface is a source URL (or file) presented to ffmpeg. It satisfies both
// capture.FrameSurface and capture.StreamSurface.
type Surface struct {
	ref string
	rt  *Runtime

	mu      sync.Mutex
	streams []probeStream
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type probeResult struct {
	Streams []probeStream `json:"streams"`
}

func (s *Surface) SourceRef() string { return s.ref }

func (s *Surface) Dimensions(ctx context.Context) (int, int, error) {
	streams, err := s.probe(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, st := range streams {
		if st.CodecType == "video" && st.Width > 0 && st.Height > 0 {
			return st.Width, st.Height, nil
		}
	}
	return 0, 0, fmt.Errorf("%s has no visual stream", s.ref)
}

// Frame decodes the first frame of the source.
func (s *Surface) Frame(ctx context.Context) (image.Image, error) {
	out, err := s.rt.run(ctx, s.rt.FFmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", s.ref,
		"-frames:v", "1",
		"-f", "image2pipe", "-vcodec", "png",
		"pipe:1",
	)
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(out))
}

func (s *Surface) WaitMetadata(ctx context.Context) error {
	_, err := s.probe(ctx)
	return err
}

func (s *Surface) CaptureStream(ctx context.Context) (capture.MediaStream, error) {
	streams, err := s.probe(ctx)
	if err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	ms := &mediaStream{ref: s.ref, ctx: procCtx, cancel: cancel, ended: make(chan struct{})}
	for _, st := range streams {
		if st.CodecType == "video" || st.CodecType == "audio" {
			ms.tracks = append(ms.tracks, &track{kind: st.CodecType, stream: ms})
		}
	}
	return ms, nil
}

// probe runs ffprobe once and caches the stream list.
func (s *Surface) probe(ctx context.Context) ([]probeStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams != nil {
		return s.streams, nil
	}

	out, err := s.rt.run(ctx, s.rt.FFprobePath,
		"-v", "error",
		"-show_entries", "stream=codec_type,width,height",
		"-of", "json",
		s.ref,
	)
	if err != nil {
		return nil, err
	}
	streams, err := parseProbe(out)
	if err != nil {
		return nil, err
	}
	s.streams = streams
	return streams, nil
}

func parseProbe(out []byte) ([]probeStream, error) {
	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if res.Streams == nil {
		res.Streams = []probeStream{}
	}
	return res.Streams, nil
}

// mediaStream owns the recording process context. Stopping any track stops
// the whole process since ffmpeg reads every track from one input.
type mediaStream struct {
	ref    string
	tracks []*track
	ctx    context.Context
	cancel context.CancelFunc

	endOnce sync.Once
	ended   chan struct{}
}

func (m *mediaStream) Tracks() []capture.Track {
	out := make([]capture.Track, len(m.tracks))
	for i, t := range m.tracks {
		out[i] = t
	}
	return out
}

func (m *mediaStream) Ended() <-chan struct{} { return m.ended }

func (m *mediaStream) markEnded() {
	m.endOnce.Do(func() { close(m.ended) })
}

type track struct {
	kind   string
	stream *mediaStream
}

func (t *track) Kind() string { return t.kind }

func (t *track) Stop() { t.stream.cancel() }
