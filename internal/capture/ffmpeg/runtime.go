// Package ffmpeg implements the capture runtime on top of the ffmpeg and
// ffprobe binaries.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/datallboy/mediafetch/internal/capture"
	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/logger"
)

// codecEncoders maps the codecs= names used in mime types to ffmpeg encoders.
var codecEncoders = map[string]string{
	"vp9":    "libvpx-vp9",
	"vp09":   "libvpx-vp9",
	"vp8":    "libvpx",
	"opus":   "libopus",
	"vorbis": "libvorbis",
	"h264":   "libx264",
	"avc1":   "libx264",
	"aac":    "aac",
	"mp4a":   "aac",
}

// containerDefaults are used when a mime type names no codecs.
var containerDefaults = map[string][2]string{
	"webm": {"libvpx", "libopus"},
	"mp4":  {"libx264", "aac"},
}

type Runtime struct {
	FFmpegPath  string
	FFprobePath string
	log         *logger.Logger

	once     sync.Once
	encoders map[string]bool
	loadErr  error
}

func NewRuntime(ffmpegPath, ffprobePath string, log *logger.Logger) *Runtime {
	return &Runtime{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, log: log.With("ffmpeg")}
}

// Open returns a surface for a source ffmpeg can read, typically a stream URL.
func (r *Runtime) Open(ref string) *Surface {
	return &Surface{ref: ref, rt: r}
}

func (r *Runtime) Supports(mimeType string) bool {
	plan, ok := planEncoding(mimeType)
	if !ok {
		return false
	}

	r.once.Do(r.loadEncoders)
	if r.loadErr != nil {
		r.log.Warn("Listing encoders failed: %v", r.loadErr)
		return false
	}
	return r.encoders[plan.video] && r.encoders[plan.audio]
}

func (r *Runtime) NewRecorder(stream capture.MediaStream, opts capture.RecorderOptions) (capture.Recorder, error) {
	s, ok := stream.(*mediaStream)
	if !ok {
		return nil, fmt.Errorf("stream %T was not captured by ffmpeg", stream)
	}
	plan, ok := planEncoding(opts.MimeType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoSupportedEncoding, opts.MimeType)
	}
	return &recorder{rt: r, stream: s, plan: plan, opts: opts}, nil
}

func (r *Runtime) loadEncoders() {
	out, err := exec.Command(r.FFmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		r.loadErr = fmt.Errorf("%s -encoders: %w", r.FFmpegPath, err)
		return
	}
	r.encoders = parseEncoders(out)
	r.log.Debug("ffmpeg reports %d encoders", len(r.encoders))
}

// parseEncoders reads the table printed by "ffmpeg -encoders". Entries follow
// the "------" separator and start with a flags column.
func parseEncoders(out []byte) map[string]bool {
	encoders := make(map[string]bool)
	inTable := false

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !inTable {
			inTable = strings.HasPrefix(line, "---")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

type encodingPlan struct {
	format string
	video  string
	audio  string
}

// planEncoding turns "video/webm;codecs=vp9,opus" into ffmpeg encoders.
func planEncoding(mimeType string) (encodingPlan, bool) {
	major, container, ok := domain.SplitMediaType(mimeType)
	if !ok || major != string(domain.KindVideo) {
		return encodingPlan{}, false
	}
	defaults, ok := containerDefaults[container]
	if !ok {
		return encodingPlan{}, false
	}
	plan := encodingPlan{format: container, video: defaults[0], audio: defaults[1]}

	_, params, _ := strings.Cut(mimeType, ";")
	for _, p := range strings.Split(params, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(p), "=")
		if !found || !strings.EqualFold(key, "codecs") {
			continue
		}
		for _, c := range strings.Split(strings.Trim(value, `"`), ",") {
			name := strings.ToLower(strings.TrimSpace(c))
			if i := strings.Index(name, "."); i != -1 {
				name = name[:i]
			}
			enc, known := codecEncoders[name]
			if !known {
				return encodingPlan{}, false
			}
			switch name {
			case "opus", "vorbis", "aac", "mp4a":
				plan.audio = enc
			default:
				plan.video = enc
			}
		}
	}
	return plan, true
}

// recordArgs builds the ffmpeg command line that encodes ref to stdout.
func recordArgs(ref string, plan encodingPlan, bitrate int) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", ref,
		"-map", "0:v?", "-map", "0:a?",
		"-c:v", plan.video,
	}
	if bitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(bitrate))
	}
	args = append(args, "-c:a", plan.audio)
	if plan.format == "mp4" {
		// mp4 needs a fragmented layout to be written to a pipe
		args = append(args, "-movflags", "frag_keyframe+empty_moov")
	}
	return append(args, "-f", plan.format, "pipe:1")
}

func (r *Runtime) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w\nOutput: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
