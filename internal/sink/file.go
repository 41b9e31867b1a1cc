// Package sink persists finished payloads.
package sink

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/logger"
)

var badChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f]`)

// FileSink writes payloads into one directory. Each payload is written to its
// own temporary .part file and renamed once it is complete on disk.
type FileSink struct {
	dir string
	log *logger.Logger

	// mu serializes claiming a free final name
	mu sync.Mutex
}

func NewFileSink(dir string, log *logger.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", domain.ErrSink, dir, err)
	}
	return &FileSink{dir: dir, log: log.With("sink")}, nil
}

func (s *FileSink) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	clean := SanitizeFileName(name)
	if clean == "" {
		return "", fmt.Errorf("%w: empty file name", domain.ErrSink)
	}

	partPath, err := writePart(s.dir, clean, data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSink, err)
	}

	finalPath, err := s.claim(clean, partPath)
	if err != nil {
		_ = os.Remove(partPath)
		return "", fmt.Errorf("%w: finalize %s: %v", domain.ErrSink, clean, err)
	}

	s.log.Info("Saved: %s (%d bytes)", finalPath, len(data))
	return finalPath, nil
}

// writePart writes data to a fresh temp file next to the final name and
// checks the size on disk before returning its path.
func writePart(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("could not open part file: %w", err)
	}
	path := f.Name()

	fail := func(err error) (string, error) {
		f.Close()
		_ = os.Remove(path)
		return "", err
	}

	if _, err := f.Write(data); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}

	// Quick integrity check before the rename makes the file visible
	info, err := f.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat %s: %w", path, err))
	}
	if info.Size() != int64(len(data)) {
		return fail(fmt.Errorf("wrote %d of %d bytes to %s", info.Size(), len(data), path))
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// claim picks a free final name and moves the part file onto it.
func (s *FileSink) claim(name, partPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	finalPath := s.uniquePath(name)
	if err := os.Rename(partPath, finalPath); err != nil {
		return "", err
	}
	return finalPath, nil
}

// uniquePath appends " (n)" before the extension until the name is free.
func (s *FileSink) uniquePath(name string) string {
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := filepath.Join(s.dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// SanitizeFileName removes OS-illegal characters and path components.
func SanitizeFileName(name string) string {
	res := html.UnescapeString(name)
	res = badChars.ReplaceAllString(res, "_")
	res = strings.TrimSpace(res)
	res = strings.Trim(res, ".")
	return strings.TrimSpace(res)
}
