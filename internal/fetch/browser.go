package fetch

import (
	"fmt"
	"net/http"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// BrowserDoer sends requests with a Chrome TLS fingerprint. Some origins gate
// media behind fingerprint checks that the standard transport does not pass.
type BrowserDoer struct {
	client tls_client.HttpClient
}

// NewBrowserDoer creates a Chrome 131 impersonating client with its own cookie jar.
// It sets no overall timeout: Client bounds header waits and body stalls
// through the request context.
func NewBrowserDoer() (*BrowserDoer, error) {
	opts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(0),
		tls_client.WithClientProfile(profiles.Chrome_131),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
	}
	client, err := tls_client.NewHttpClient(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("tls-client init: %w", err)
	}
	return &BrowserDoer{client: client}, nil
}

// Do converts req to the fhttp fork, sends it, and converts the response back.
func (b *BrowserDoer) Do(req *http.Request) (*http.Response, error) {
	freq, err := fhttp.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	freq.Header = fhttp.Header(req.Header.Clone())

	// Chrome-like header order matters for fingerprinting
	freq.Header[fhttp.HeaderOrderKey] = []string{
		"accept",
		"accept-language",
		"accept-encoding",
		"range",
		"referer",
		"cookie",
		"authorization",
		"user-agent",
	}

	resp, err := b.client.Do(freq)
	if err != nil {
		return nil, fmt.Errorf("tls request: %w", err)
	}

	return &http.Response{
		Status:        resp.Status,
		StatusCode:    resp.StatusCode,
		Proto:         resp.Proto,
		ProtoMajor:    resp.ProtoMajor,
		ProtoMinor:    resp.ProtoMinor,
		Header:        http.Header(resp.Header),
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		Request:       req,
	}, nil
}
