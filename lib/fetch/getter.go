// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Getter opens a remote file for reading.
type Getter interface {
	Get(ctx context.Context, url string) (io.ReadCloser, error)
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// HTTPGetter fetches over HTTP(S).
type HTTPGetter struct {
	client    *http.Client
	transport http.RoundTripper
	timeout   time.Duration
	userAgent string
}

// Option configures an HTTPGetter.
type Option func(*HTTPGetter)

// WithTimeout bounds each request, including reading the body.
func WithTimeout(timeout time.Duration) Option {
	return func(g *HTTPGetter) { g.timeout = timeout }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(g *HTTPGetter) { g.userAgent = userAgent }
}

// WithTransport replaces the default transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(g *HTTPGetter) { g.transport = transport }
}

// NewHTTPGetter returns a getter sharing one client across requests.
func NewHTTPGetter(options ...Option) *HTTPGetter {
	getter := &HTTPGetter{userAgent: "bureau-assets"}
	for _, option := range options {
		option(getter)
	}
	transport := getter.transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	getter.client = &http.Client{Transport: transport, Timeout: getter.timeout}
	return getter
}

// Get issues a GET and returns the response body. Non-2xx responses
// return a *StatusError.
func (g *HTTPGetter) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	if g.userAgent != "" {
		request.Header.Set("User-Agent", g.userAgent)
	}

	response, err := g.client.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(response.Body, 4096))
		response.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: response.StatusCode, Status: response.Status}
	}
	return response.Body, nil
}

// GetBytes reads a whole remote file of at most limit bytes. A
// non-positive limit means no limit.
func GetBytes(ctx context.Context, getter Getter, url string, limit int64) ([]byte, error) {
	body, err := getter.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	reader := io.Reader(body)
	if limit > 0 {
		reader = io.LimitReader(body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("reading %s: response exceeds %d bytes", url, limit)
	}
	return data, nil
}

// JoinURL appends a file name to a base URL.
func JoinURL(base, name string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(name, "/")
}
