package fetch

import (
	"context"
	"net/http"

	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/logger"
)

// WholeFetcher issues a single plain GET for the entire resource.
type WholeFetcher struct {
	client *Client
	log    *logger.Logger
}

func NewWholeFetcher(client *Client, log *logger.Logger) *WholeFetcher {
	return &WholeFetcher{client: client, log: log.With("whole")}
}

func (f *WholeFetcher) Fetch(ctx context.Context, url string, kind domain.MediaKind) (*domain.Outcome, error) {
	resp, err := f.client.Get(ctx, url, http.Header{"Accept": {kind.Accept()}})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	out := &domain.Outcome{Payload: resp.Body}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}
	if major, minor, ok := domain.SplitMediaType(contentType); ok && major == string(kind) {
		out.MimeType = major + "/" + minor
		out.Extension = minor
	}

	f.log.Debug("Fetched %d bytes (%s) from %s", len(resp.Body), contentType, url)
	return out, nil
}
