package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/config"
	"github.com/datallboy/mediafetch/internal/infra/logger"
)

type fakeFrame struct {
	width, height int
	img           image.Image
	delay         time.Duration
}

func (f *fakeFrame) SourceRef() string { return "https://origin.example/a/photo" }

func (f *fakeFrame) Dimensions(ctx context.Context) (int, int, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		}
	}
	return f.width, f.height, nil
}

func (f *fakeFrame) Frame(context.Context) (image.Image, error) { return f.img, nil }

type fakeTrack struct {
	kind    string
	stopped atomic.Bool
}

func (t *fakeTrack) Kind() string { return t.kind }
func (t *fakeTrack) Stop()        { t.stopped.Store(true) }

type fakeStream struct {
	tracks   []*fakeTrack
	ended    chan struct{}
	captured atomic.Bool
}

func newFakeStream(kinds ...string) *fakeStream {
	s := &fakeStream{ended: make(chan struct{})}
	for _, k := range kinds {
		s.tracks = append(s.tracks, &fakeTrack{kind: k})
	}
	return s
}

func (s *fakeStream) Tracks() []Track {
	out := make([]Track, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

func (s *fakeStream) Ended() <-chan struct{} { return s.ended }

// live counts tracks that were handed out and never stopped.
func (s *fakeStream) live() int {
	if !s.captured.Load() {
		return 0
	}
	n := 0
	for _, t := range s.tracks {
		if !t.stopped.Load() {
			n++
		}
	}
	return n
}

type fakeVideo struct {
	stream      *fakeStream
	metadataErr error
	neverReady  bool
}

func (v *fakeVideo) SourceRef() string { return "https://origin.example/a/progressive/clip" }

func (v *fakeVideo) WaitMetadata(ctx context.Context) error {
	if v.neverReady {
		<-ctx.Done()
		return ctx.Err()
	}
	return v.metadataErr
}

func (v *fakeVideo) CaptureStream(context.Context) (MediaStream, error) {
	if v.stream == nil {
		return nil, errors.New("no source attached")
	}
	v.stream.captured.Store(true)
	return v.stream, nil
}

// fakeRuntime emits one segment per tick until stopped or the stream ends.
type fakeRuntime struct {
	supported map[string]bool
	tick      time.Duration
	maxSegs   int
	lastOpts  RecorderOptions
	// ignoreStop makes recorders run until their context is cancelled
	ignoreStop bool
}

func (r *fakeRuntime) Supports(mimeType string) bool { return r.supported[mimeType] }

func (r *fakeRuntime) NewRecorder(stream MediaStream, opts RecorderOptions) (Recorder, error) {
	r.lastOpts = opts
	return &fakeRecorder{tick: r.tick, maxSegs: r.maxSegs, ignoreStop: r.ignoreStop, stop: make(chan struct{})}, nil
}

type fakeRecorder struct {
	tick       time.Duration
	maxSegs    int
	ignoreStop bool
	stop       chan struct{}
	once       sync.Once
}

func (r *fakeRecorder) Start(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		ticker := time.NewTicker(r.tick)
		defer ticker.Stop()
		sent := 0
		for {
			select {
			case <-ticker.C:
				if r.maxSegs > 0 && sent >= r.maxSegs {
					continue
				}
				select {
				case out <- []byte("seg"):
					sent++
				case <-ctx.Done():
					return
				}
			case <-r.stop:
				// final flush
				select {
				case out <- []byte("tail"):
				case <-ctx.Done():
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *fakeRecorder) Stop() error {
	if r.ignoreStop {
		return nil
	}
	r.once.Do(func() { close(r.stop) })
	return nil
}

func testConfig() config.CaptureConfig {
	return config.CaptureConfig{
		MetadataTimeout:  50 * time.Millisecond,
		ImageLoadTimeout: 50 * time.Millisecond,
		RecordDeadline:   time.Second,
		Timeslice:        10 * time.Millisecond,
		VideoBitrate:     2500000,
		Encodings:        append([]string(nil), config.DefaultEncodings...),
	}
}

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestCaptureImageEncodesPNGAtNaturalSize(t *testing.T) {
	e := NewEngine(nil, testConfig(), logger.Discard())
	surface := &fakeFrame{width: 800, height: 600, img: solid(800, 600, color.RGBA{R: 200, G: 10, B: 10, A: 255})}

	out, err := e.CaptureImage(context.Background(), surface)
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.MimeType)
	assert.Equal(t, "png", out.Extension)

	decoded, err := png.Decode(bytes.NewReader(out.Payload))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 800, 600), decoded.Bounds())
	r, _, _, _ := decoded.At(400, 300).RGBA()
	assert.Equal(t, uint32(200*0x101), r)
}

func TestCaptureImageScalesToIntrinsicDimensions(t *testing.T) {
	e := NewEngine(nil, testConfig(), logger.Discard())
	surface := &fakeFrame{width: 40, height: 30, img: solid(80, 60, color.White)}

	out, err := e.CaptureImage(context.Background(), surface)
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(out.Payload))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 30, cfg.Height)
}

func TestCaptureImageRejectsBlankFrame(t *testing.T) {
	e := NewEngine(nil, testConfig(), logger.Discard())
	surface := &fakeFrame{width: 10, height: 10, img: image.NewRGBA(image.Rect(0, 0, 10, 10))}

	_, err := e.CaptureImage(context.Background(), surface)
	assert.ErrorIs(t, err, domain.ErrEmptyFrame)
}

func TestCaptureImageMetadataTimeout(t *testing.T) {
	e := NewEngine(nil, testConfig(), logger.Discard())
	surface := &fakeFrame{width: 10, height: 10, img: solid(10, 10, color.White), delay: time.Second}

	_, err := e.CaptureImage(context.Background(), surface)
	assert.ErrorIs(t, err, domain.ErrMetadataTimeout)
}

func TestCaptureImageNeedsFrameSurface(t *testing.T) {
	e := NewEngine(nil, testConfig(), logger.Discard())

	_, err := e.CaptureImage(context.Background(), domain.SourceRef("https://origin.example/img"))
	assert.ErrorIs(t, err, domain.ErrStreamUnavailable)
}

func TestCaptureVideoUntilSourceEnds(t *testing.T) {
	rt := &fakeRuntime{supported: map[string]bool{"video/webm;codecs=vp8,opus": true}, tick: 5 * time.Millisecond, maxSegs: 3}
	stream := newFakeStream("video", "audio")
	e := NewEngine(rt, testConfig(), logger.Discard())

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(stream.ended)
	}()

	out, err := e.CaptureVideo(context.Background(), &fakeVideo{stream: stream})
	require.NoError(t, err)
	assert.Equal(t, "video/webm", out.MimeType)
	assert.Equal(t, "webm", out.Extension)
	assert.Equal(t, "segsegsegtail", string(out.Payload))
	assert.Equal(t, "video/webm;codecs=vp8,opus", rt.lastOpts.MimeType)
	assert.Equal(t, 2500000, rt.lastOpts.Bitrate)
	assert.Zero(t, stream.live())
}

func TestCaptureVideoStopsAtDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.RecordDeadline = 30 * time.Millisecond
	rt := &fakeRuntime{supported: map[string]bool{"video/mp4": true}, tick: 5 * time.Millisecond}
	stream := newFakeStream("video")
	e := NewEngine(rt, cfg, logger.Discard())

	start := time.Now()
	out, err := e.CaptureVideo(context.Background(), &fakeVideo{stream: stream})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "mp4", out.Extension)
	assert.NotEmpty(t, out.Payload)
	assert.Zero(t, stream.live())
}

func TestCaptureVideoKillsRecorderThatIgnoresStop(t *testing.T) {
	cfg := testConfig()
	cfg.RecordDeadline = 50 * time.Millisecond
	rt := &fakeRuntime{supported: map[string]bool{"video/webm": true}, tick: 5 * time.Millisecond, ignoreStop: true}
	stream := newFakeStream("video", "audio")
	e := NewEngine(rt, cfg, logger.Discard())
	e.stopGrace = 50 * time.Millisecond

	start := time.Now()
	out, err := e.CaptureVideo(context.Background(), &fakeVideo{stream: stream})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.NotEmpty(t, out.Payload, "segments recorded before the kill are kept")
	assert.Zero(t, stream.live())
}

func TestCaptureVideoFailuresReleaseTracks(t *testing.T) {
	cases := []struct {
		name    string
		runtime *fakeRuntime
		video   func(*fakeStream) *fakeVideo
		want    error
	}{
		{
			name:    "no supported encoding",
			runtime: &fakeRuntime{supported: map[string]bool{}},
			video:   func(s *fakeStream) *fakeVideo { return &fakeVideo{stream: s} },
			want:    domain.ErrNoSupportedEncoding,
		},
		{
			name:    "metadata timeout",
			runtime: &fakeRuntime{supported: map[string]bool{"video/webm": true}},
			video:   func(s *fakeStream) *fakeVideo { return &fakeVideo{stream: s, neverReady: true} },
			want:    domain.ErrMetadataTimeout,
		},
		{
			name:    "no stream",
			runtime: &fakeRuntime{supported: map[string]bool{"video/webm": true}},
			video:   func(*fakeStream) *fakeVideo { return &fakeVideo{} },
			want:    domain.ErrStreamUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stream := newFakeStream("video", "audio")
			e := NewEngine(tc.runtime, testConfig(), logger.Discard())

			_, err := e.CaptureVideo(context.Background(), tc.video(stream))
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, stream.live())
		})
	}
}

func TestCaptureVideoZeroTracks(t *testing.T) {
	rt := &fakeRuntime{supported: map[string]bool{"video/webm": true}}
	e := NewEngine(rt, testConfig(), logger.Discard())

	_, err := e.CaptureVideo(context.Background(), &fakeVideo{stream: newFakeStream()})
	assert.ErrorIs(t, err, domain.ErrStreamUnavailable)
}

func TestCaptureVideoCancelled(t *testing.T) {
	rt := &fakeRuntime{supported: map[string]bool{"video/webm": true}, tick: 5 * time.Millisecond}
	stream := newFakeStream("video")
	e := NewEngine(rt, testConfig(), logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.CaptureVideo(ctx, &fakeVideo{stream: stream})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, stream.live())
}

func TestCaptureVideoWithoutRuntime(t *testing.T) {
	e := NewEngine(nil, testConfig(), logger.Discard())

	_, err := e.CaptureVideo(context.Background(), &fakeVideo{stream: newFakeStream("video")})
	assert.ErrorIs(t, err, domain.ErrStreamUnavailable)
}
