package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/config"
	"github.com/datallboy/mediafetch/internal/infra/logger"
)

// scripted is one canned origin response.
type scripted struct {
	status       int
	contentRange string
	contentType  string
	body         []byte
}

// scriptServer replays responses in order and records the Range headers it saw.
type scriptServer struct {
	mu      sync.Mutex
	steps   []scripted
	ranges  []string
	cookies []string
}

func (s *scriptServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	idx := len(s.ranges)
	s.ranges = append(s.ranges, r.Header.Get("Range"))
	s.cookies = append(s.cookies, r.Header.Get("Cookie"))
	s.mu.Unlock()

	if idx >= len(s.steps) {
		http.Error(w, "script exhausted", http.StatusTeapot)
		return
	}
	step := s.steps[idx]
	if step.contentRange != "" {
		w.Header().Set("Content-Range", step.contentRange)
	}
	if step.contentType != "" {
		w.Header().Set("Content-Type", step.contentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(step.body)))
	w.WriteHeader(step.status)
	_, _ = w.Write(step.body)
}

func newTestClient(t *testing.T, cfg config.HTTPConfig) *Client {
	t.Helper()
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	hc, err := NewHTTPClient(cfg.RequestTimeout)
	require.NoError(t, err)
	c, err := NewClient(hc, cfg)
	require.NoError(t, err)
	return c
}

func videoSession(name string) *domain.Session {
	return domain.NewSession(domain.Request{URL: "x", SuggestedName: name, Kind: domain.KindVideo})
}

func TestRangeFetcherTwoChunks(t *testing.T) {
	first := bytes.Repeat([]byte{0xA}, 1000)
	second := bytes.Repeat([]byte{0xB}, 4000)
	srv := &scriptServer{steps: []scripted{
		{status: 206, contentRange: "bytes 0-999/5000", contentType: "video/mp4", body: first},
		{status: 206, contentRange: "bytes 1000-4999/5000", contentType: "video/mp4", body: second},
	}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	f := NewRangeFetcher(newTestClient(t, config.HTTPConfig{}), logger.Discard())
	s := videoSession("clip.mp4")

	var percents []int
	out, err := f.Fetch(context.Background(), ts.URL, s, func(offset, total uint64) {
		percents = append(percents, Percent(offset, total))
	})
	require.NoError(t, err)

	assert.Len(t, out.Payload, 5000)
	assert.Equal(t, append(first, second...), out.Payload)
	assert.Equal(t, []int{20, 100}, percents)
	assert.Equal(t, []string{"bytes=0-", "bytes=1000-"}, srv.ranges)
	assert.Equal(t, domain.SessionCompleted, s.Status)
	assert.Equal(t, "clip.mp4", out.Name)
	assert.Equal(t, "video/mp4", out.MimeType)
}

func TestRangeFetcherRejectsGap(t *testing.T) {
	srv := &scriptServer{steps: []scripted{
		{status: 206, contentRange: "bytes 0-999/5000", body: make([]byte, 1000)},
		{status: 206, contentRange: "bytes 1500-2499/5000", body: make([]byte, 1000)},
	}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	f := NewRangeFetcher(newTestClient(t, config.HTTPConfig{}), logger.Discard())
	s := videoSession("clip.mp4")

	out, err := f.Fetch(context.Background(), ts.URL, s, nil)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, domain.ErrDiscontinuousRange)
	assert.Equal(t, domain.SessionFailed, s.Status)
	assert.Equal(t, uint64(1000), s.NextOffset)
}

func TestRangeFetcherRejectsSizeChange(t *testing.T) {
	srv := &scriptServer{steps: []scripted{
		{status: 206, contentRange: "bytes 0-99/300", body: make([]byte, 100)},
		{status: 206, contentRange: "bytes 100-199/400", body: make([]byte, 100)},
	}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	f := NewRangeFetcher(newTestClient(t, config.HTTPConfig{}), logger.Discard())
	_, err := f.Fetch(context.Background(), ts.URL, videoSession("a.mp4"), nil)
	assert.ErrorIs(t, err, domain.ErrSizeMismatch)
}

func TestRangeFetcherWholeBodyOn200(t *testing.T) {
	body := bytes.Repeat([]byte{7}, 321)
	srv := &scriptServer{steps: []scripted{
		{status: 200, contentType: "video/webm", body: body},
	}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	f := NewRangeFetcher(newTestClient(t, config.HTTPConfig{}), logger.Discard())
	s := videoSession("clip.mp4")

	out, err := f.Fetch(context.Background(), ts.URL, s, nil)
	require.NoError(t, err)
	assert.Equal(t, body, out.Payload)
	assert.Equal(t, "clip.webm", out.Name)
	assert.Equal(t, "webm", out.Extension)
	assert.Len(t, srv.ranges, 1)
}

func TestRangeFetcherUnexpectedStatus(t *testing.T) {
	srv := &scriptServer{steps: []scripted{{status: 403, body: []byte("denied")}}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	f := NewRangeFetcher(newTestClient(t, config.HTTPConfig{}), logger.Discard())
	_, err := f.Fetch(context.Background(), ts.URL, videoSession("a.mp4"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnexpectedStatus)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 403, statusErr.Code)
}

func TestRangeFetcherPartialWithoutContentRange(t *testing.T) {
	srv := &scriptServer{steps: []scripted{{status: 206, body: make([]byte, 10)}}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	f := NewRangeFetcher(newTestClient(t, config.HTTPConfig{}), logger.Discard())
	_, err := f.Fetch(context.Background(), ts.URL, videoSession("a.mp4"), nil)
	assert.ErrorIs(t, err, domain.ErrDiscontinuousRange)
}

type failingDoer struct{ err error }

func (d failingDoer) Do(*http.Request) (*http.Response, error) { return nil, d.err }

func TestRangeFetcherTransientError(t *testing.T) {
	c, err := NewClient(failingDoer{err: errors.New("connection reset by peer")}, config.HTTPConfig{RequestTimeout: time.Second})
	require.NoError(t, err)

	f := NewRangeFetcher(c, logger.Discard())
	_, err = f.Fetch(context.Background(), "https://origin.example/v", videoSession("a.mp4"), nil)
	assert.ErrorIs(t, err, domain.ErrTransientFetch)
	assert.Equal(t, domain.KindTransientFetch, domain.KindOf(err))
}

func TestClientCredentialsAndRelativeURL(t *testing.T) {
	srv := &scriptServer{steps: []scripted{{status: 200, body: []byte("ok")}}}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	c := newTestClient(t, config.HTTPConfig{
		BaseURL: ts.URL,
		Cookies: []config.CookieConfig{{Host: req.URL.Hostname(), Value: "session=abc"}},
	})

	resp, err := c.Get(context.Background(), "/a/progressive/document", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), resp.Body)
	assert.Equal(t, []string{"session=abc"}, srv.cookies)

	noBase := newTestClient(t, config.HTTPConfig{})
	_, err = noBase.Get(context.Background(), "/relative", nil)
	assert.Error(t, err)
}

func TestWholeFetcher(t *testing.T) {
	var accept string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		if r.Header.Get("Range") != "" {
			http.Error(w, "no ranges here", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("movie"))
	}))
	defer ts.Close()

	f := NewWholeFetcher(newTestClient(t, config.HTTPConfig{}), logger.Discard())
	out, err := f.Fetch(context.Background(), ts.URL, domain.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, []byte("movie"), out.Payload)
	assert.Equal(t, "mp4", out.Extension)
	assert.Equal(t, "video/*", accept)
}

func TestWholeFetcherNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	f := NewWholeFetcher(newTestClient(t, config.HTTPConfig{}), logger.Discard())
	_, err := f.Fetch(context.Background(), ts.URL, domain.KindImage)
	assert.ErrorIs(t, err, domain.ErrUnexpectedStatus)
}

func TestDirectFetcherRetriesServerErrors(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	defer ts.Close()

	d := NewDirectFetcher(NewWholeFetcher(newTestClient(t, config.HTTPConfig{}), logger.Discard()), 3, logger.Discard())
	d.buildBackoff = fastBackoff

	out, err := d.Fetch(context.Background(), ts.URL, domain.KindImage)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), out.Payload)
	assert.Equal(t, 3, calls)
}

func TestDirectFetcherDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	d := NewDirectFetcher(NewWholeFetcher(newTestClient(t, config.HTTPConfig{}), logger.Discard()), 3, logger.Discard())
	d.buildBackoff = fastBackoff

	_, err := d.Fetch(context.Background(), ts.URL, domain.KindImage)
	assert.ErrorIs(t, err, domain.ErrUnexpectedStatus)
	assert.Equal(t, 1, calls)
}

// countingDoer counts the requests that reach the transport.
type countingDoer struct {
	Doer
	n atomic.Int32
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.n.Add(1)
	return d.Doer.Do(req)
}

func TestClientUnsupportedSchemeIsPermanent(t *testing.T) {
	hc, err := NewHTTPClient(time.Second)
	require.NoError(t, err)
	doer := &countingDoer{Doer: hc}
	c, err := NewClient(doer, config.HTTPConfig{RequestTimeout: time.Second})
	require.NoError(t, err)

	for _, raw := range []string{"ftp://origin.example/a.png", "blob:https://web.telegram.org/abc"} {
		_, err := c.Get(context.Background(), raw, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest, raw)
		assert.NotErrorIs(t, err, domain.ErrTransientFetch, raw)
		assert.Equal(t, domain.KindInvalidRequest, domain.KindOf(err), raw)
	}

	d := NewDirectFetcher(NewWholeFetcher(c, logger.Discard()), 3, logger.Discard())
	d.buildBackoff = fastBackoff
	doer.n.Store(0)

	_, err = d.Fetch(context.Background(), "ftp://origin.example/a.png", domain.KindImage)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Equal(t, int32(1), doer.n.Load(), "permanent failures are not retried")
}

func TestClientSlowBodyWithinIdleTimeout(t *testing.T) {
	chunk := bytes.Repeat([]byte{0x5}, 1024)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for i := 0; i < 8; i++ {
			_, _ = w.Write(chunk)
			flusher.Flush()
			select {
			case <-time.After(40 * time.Millisecond):
			case <-r.Context().Done():
				return
			}
		}
	}))
	defer ts.Close()

	// the transfer takes about 320ms, far beyond the timeout, but never stalls for 150ms
	c := newTestClient(t, config.HTTPConfig{RequestTimeout: 150 * time.Millisecond})
	resp, err := c.Get(context.Background(), ts.URL, nil)
	require.NoError(t, err)
	assert.Len(t, resp.Body, 8*len(chunk))
}

func TestClientStalledBodyIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("first bytes"))
		w.(http.Flusher).Flush()
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	c := newTestClient(t, config.HTTPConfig{RequestTimeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := c.Get(context.Background(), ts.URL, nil)
	assert.ErrorIs(t, err, domain.ErrTransientFetch)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClientHeaderTimeoutIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	c := newTestClient(t, config.HTTPConfig{RequestTimeout: 100 * time.Millisecond})
	_, err := c.Get(context.Background(), ts.URL, nil)
	assert.ErrorIs(t, err, domain.ErrTransientFetch)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", fmt.Errorf("%w: reset", domain.ErrTransientFetch), true},
		{"http 429", &StatusError{Code: 429}, true},
		{"http 503", &StatusError{Code: 503}, true},
		{"http 404", &StatusError{Code: 404}, false},
		{"invalid request", fmt.Errorf("%w: unsupported protocol scheme", domain.ErrInvalidRequest), false},
		{"other", errors.New("something"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header string
		want   ContentRange
		ok     bool
	}{
		{"bytes 0-999/5000", ContentRange{0, 999, 5000}, true},
		{"bytes 1000-4999/5000", ContentRange{1000, 4999, 5000}, true},
		{"bytes */5000", ContentRange{}, false},
		{"bytes 0-999/*", ContentRange{}, false},
		{"bytes=0-999/5000", ContentRange{}, false},
		{" bytes 0-1/2", ContentRange{}, false},
		{"bytes 0-99999999999999999999/1", ContentRange{}, false},
		{"", ContentRange{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := ParseContentRange(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 20, Percent(1000, 5000))
	assert.Equal(t, 100, Percent(5000, 5000))
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 0, Percent(10, 0))
}

func fastBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 5 * time.Millisecond
	return b
}
