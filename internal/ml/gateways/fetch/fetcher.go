// Package fetch downloads corpus sources over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haukened/rr-dnsml/internal/ml/common/log"
	"github.com/haukened/rr-dnsml/internal/ml/repos/corpus"
)

const userAgent = "rr-dnsml/1 (+corpus fetch)"

// ErrStatus is wrapped by StatusError.
var ErrStatus = errors.New("unexpected http status")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s: %d %s", ErrStatus, e.URL, e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Fetcher performs GET requests with a per-fetch deadline that covers the
// whole body read.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	logger  log.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithTimeout bounds each fetch. Zero disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

func WithLogger(l log.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New returns a Fetcher with a default client and a 60 second timeout.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  NewClient(DefaultClientConfig()),
		timeout: 60 * time.Second,
		logger:  log.GetLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch issues a GET for url. The returned body must be closed; closing it
// also releases the fetch deadline.
func (f *Fetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	cancel := context.CancelFunc(func() {})
	if f.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	f.logger.Debug(map[string]any{
		"url":            url,
		"status":         resp.StatusCode,
		"content_length": resp.ContentLength,
		"header_time":    time.Since(start).String(),
	}, "fetch_response")
	return &body{ReadCloser: resp.Body, cancel: cancel}, nil
}

type body struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *body) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

var _ corpus.Fetcher = (*Fetcher)(nil)
