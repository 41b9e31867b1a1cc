package platform

import (
	"os/exec"

	"github.com/datallboy/mediafetch/internal/infra/logger"
)

// CaptureBinaries lists the external binaries live capture needs. Without
// them the capture strategies fail with StreamUnavailable.
var CaptureBinaries = []string{
	"ffmpeg",
	"ffprobe",
}

// Dependencies holds resolved binary paths. Empty fields were not found.
type Dependencies struct {
	FFmpeg  string
	FFprobe string
}

// CaptureEnabled reports whether every capture binary was found.
func (d Dependencies) CaptureEnabled() bool {
	return d.FFmpeg != "" && d.FFprobe != ""
}

// ValidateDependencies resolves the capture binaries, preferring the
// configured paths over PATH lookup. Missing binaries only disable capture.
func ValidateDependencies(ffmpegPath, ffprobePath string, log *logger.Logger) Dependencies {
	deps := Dependencies{
		FFmpeg:  lookup(ffmpegPath, "ffmpeg"),
		FFprobe: lookup(ffprobePath, "ffprobe"),
	}

	for bin, path := range map[string]string{"ffmpeg": deps.FFmpeg, "ffprobe": deps.FFprobe} {
		if path == "" {
			log.Info("%s not found. Live capture will be disabled.", bin)
		}
	}
	return deps
}

func lookup(configured, name string) string {
	if configured == "" {
		configured = name
	}
	path, err := exec.LookPath(configured)
	if err != nil {
		return ""
	}
	return path
}
