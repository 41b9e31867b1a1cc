package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/datallboy/mediafetch/internal/domain"
	"github.com/datallboy/mediafetch/internal/infra/config"
)

// Doer is satisfied by *http.Client and BrowserDoer.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is a fully read origin response.
type Response struct {
	StatusCode    int
	Status        string
	Header        http.Header
	ContentLength int64
	Body          []byte
}

// StatusError carries the status code of a response no strategy could use.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("HTTP %s", e.Status)
	}
	return fmt.Sprintf("HTTP %d", e.Code)
}

func (e *StatusError) Unwrap() error { return domain.ErrUnexpectedStatus }

// Client sends credentialed GETs against the origin. It is safe for concurrent
// use; sessions share it read-only.
type Client struct {
	doer      Doer
	base      *url.URL
	userAgent string
	headers   map[string]string
	cookies   map[string]string
	timeout   time.Duration
	limiter   *rate.Limiter
}

// NewHTTPClient builds the standard transport with a public-suffix aware cookie
// jar. headerTimeout bounds the wait for response headers, bodies are not bounded.
func NewHTTPClient(headerTimeout time.Duration) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Jar: jar, Transport: transport}, nil
}

// NewDoer picks the transport named in cfg.Transport.
func NewDoer(cfg config.HTTPConfig) (Doer, error) {
	if cfg.Transport == "browser" {
		return NewBrowserDoer()
	}
	return NewHTTPClient(cfg.RequestTimeout)
}

func NewClient(doer Doer, cfg config.HTTPConfig) (*Client, error) {
	c := &Client{
		doer:      doer,
		userAgent: cfg.UserAgent,
		headers:   cfg.Headers,
		cookies:   make(map[string]string, len(cfg.Cookies)),
		timeout:   cfg.RequestTimeout,
	}

	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid http.base_url: %w", err)
		}
		c.base = base
	}

	for _, ck := range cfg.Cookies {
		c.cookies[strings.ToLower(ck.Host)] = ck.Value
	}

	if cfg.ChunkRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.ChunkRate), 1)
	}

	return c, nil
}

// Resolve turns origin-relative references into absolute URLs.
func (c *Client) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if c.base == nil {
		return "", fmt.Errorf("relative url %q needs http.base_url", ref)
	}
	return c.base.ResolveReference(u).String(), nil
}

// Get issues one GET and reads the whole body. The request timeout bounds the
// wait for response headers and every gap between body reads, never the
// whole transfer. Transport and read failures are wrapped with
// domain.ErrTransientFetch, requests no retry can fix with domain.ErrInvalidRequest.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	target, err := c.Resolve(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrTransientFetch, err)
		}
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var watchdog *time.Timer
	if c.timeout > 0 {
		watchdog = time.AfterFunc(c.timeout, cancel)
		defer watchdog.Stop()
	}
	// stalled reports whether the watchdog, not the caller, ended the request
	stalled := func() bool { return ctx.Err() == nil && reqCtx.Err() != nil }

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrInvalidRequest, err)
	}
	c.decorate(req)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		if stalled() {
			return nil, fmt.Errorf("%w: no response headers within %s", domain.ErrTransientFetch, c.timeout)
		}
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if watchdog != nil {
		watchdog.Reset(c.timeout)
		body = &idleReader{r: resp.Body, watchdog: watchdog, idle: c.timeout}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		if stalled() {
			return nil, fmt.Errorf("%w: read body: no data for %s after %d bytes", domain.ErrTransientFetch, c.timeout, len(data))
		}
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrTransientFetch, err)
	}

	return &Response{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          data,
	}, nil
}

// idleReader pushes the watchdog back every time the body yields data.
type idleReader struct {
	r        io.Reader
	watchdog *time.Timer
	idle     time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.watchdog.Reset(r.idle)
	}
	return n, err
}

// classifyTransportError separates failures of the exchange itself from
// requests that can never succeed, such as an unsupported scheme or a
// certificate the origin will keep presenting.
func classifyTransportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && !networkCause(urlErr.Err) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrTransientFetch, err)
}

func networkCause(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// decorate applies the user agent and the configured credentials.
func (c *Client) decorate(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if cookie, ok := c.cookies[strings.ToLower(req.URL.Hostname())]; ok {
		req.Header.Add("Cookie", cookie)
	}
}
