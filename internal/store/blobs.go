package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/segmentio/ksuid"
)

const blobPrefix = "blob:"

// BlobStore keeps locally registered media buffers on disk and resolves
// "blob:<id>" references to them.
type BlobStore struct {
	dir string
}

func NewBlobStore(dir string) (*BlobStore, error) {
	// Ensure the blob directory exist
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// PutBuffer copies r into a new blob and returns its reference.
func (b *BlobStore) PutBuffer(ctx context.Context, r io.Reader) (string, int64, error) {
	id := ksuid.New().String()
	path := b.path(id)

	f, err := os.Create(path + ".part")
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, readerWithContext(ctx, r))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path + ".part")
		return "", 0, fmt.Errorf("write blob %s: %w", id, err)
	}
	if err := os.Rename(path+".part", path); err != nil {
		return "", 0, err
	}
	return blobPrefix + id, n, nil
}

// OpenBuffer returns the blob behind ref. Unknown references wrap os.ErrNotExist.
func (b *BlobStore) OpenBuffer(_ context.Context, ref string) (io.ReadCloser, error) {
	id, err := blobID(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(b.path(id))
}

// Exists reports whether ref resolves to a stored blob.
func (b *BlobStore) Exists(ref string) bool {
	id, err := blobID(ref)
	if err != nil {
		return false
	}
	_, err = os.Stat(b.path(id))
	return err == nil
}

// Delete removes the blob behind ref.
func (b *BlobStore) Delete(ref string) error {
	id, err := blobID(ref)
	if err != nil {
		return err
	}
	return os.Remove(b.path(id))
}

// blobID validates ref so that it can never name a path outside the blob dir.
func blobID(ref string) (string, error) {
	id, ok := strings.CutPrefix(ref, blobPrefix)
	if !ok {
		return "", fmt.Errorf("%q is not a blob reference: %w", ref, os.ErrNotExist)
	}
	if _, err := ksuid.Parse(id); err != nil {
		return "", fmt.Errorf("blob %q: %w", id, os.ErrNotExist)
	}
	return id, nil
}

func (b *BlobStore) path(id string) string {
	return filepath.Join(b.dir, id+".bin")
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
