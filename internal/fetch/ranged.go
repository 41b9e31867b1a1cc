package fetch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/logger"
)

// RangeFetcher walks a resource with successive open-ended range requests,
// validating that every response continues exactly where the last one ended.
type RangeFetcher struct {
	client *Client
	log    *logger.Logger
}

func NewRangeFetcher(client *Client, log *logger.Logger) *RangeFetcher {
	return &RangeFetcher{client: client, log: log.With("range")}
}

// Fetch drives s until the resource is complete. Requests are strictly
// sequential, each one starting at s.NextOffset.
func (f *RangeFetcher) Fetch(ctx context.Context, url string, s *domain.Session, progress domain.ProgressFunc) (*domain.Outcome, error) {
	s.Status = domain.SessionInProgress

	for {
		if err := ctx.Err(); err != nil {
			s.Status = domain.SessionFailed
			return nil, err
		}

		f.log.Debug("Requesting bytes=%d- from %s", s.NextOffset, url)

		resp, err := f.client.Get(ctx, url, http.Header{
			"Range": {fmt.Sprintf("bytes=%d-", s.NextOffset)},
		})
		if err != nil {
			s.Status = domain.SessionFailed
			return nil, err
		}

		if err := f.accept(s, resp, progress); err != nil {
			s.Status = domain.SessionFailed
			return nil, err
		}

		if !s.More() {
			break
		}
	}

	payload := s.Assemble()
	s.Status = domain.SessionCompleted
	f.log.Debug("Assembled %d bytes from %d chunk(s)", len(payload), len(s.Chunks))

	return &domain.Outcome{
		Payload:   payload,
		MimeType:  s.MimeType,
		Extension: s.Extension,
		Name:      s.Name,
	}, nil
}

// accept applies one response to the session.
func (f *RangeFetcher) accept(s *domain.Session, resp *Response, progress domain.ProgressFunc) error {
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	if s.ApplyContentType(resp.Header.Get("Content-Type")) {
		f.log.Debug("Origin reports %s, target renamed to %s", s.MimeType, s.Name)
	}

	if cr, ok := ParseContentRange(resp.Header.Get("Content-Range")); ok {
		if err := s.AcceptRange(cr.Start, cr.End, cr.Size, resp.Body); err != nil {
			return err
		}
		total, _ := s.TotalSize()
		f.log.Debug("Progress %d%% (%d/%d bytes)", Percent(s.NextOffset, total), s.NextOffset, total)
		if progress != nil {
			progress(s.NextOffset, total)
		}
		return nil
	}

	if resp.StatusCode == http.StatusOK {
		// the origin ignored the range and sent everything
		f.log.Debug("No Content-Range on 200, treating body as the whole resource")
		return s.AcceptWhole(resp.Body, resp.ContentLength)
	}

	return fmt.Errorf("%w: partial content without a usable Content-Range (%q)",
		domain.ErrDiscontinuousRange, resp.Header.Get("Content-Range"))
}

// Percent rounds offset/total to a whole percentage.
func Percent(offset, total uint64) int {
	if total == 0 {
		return 0
	}
	return int((offset*100 + total/2) / total)
}
