// Package transform holds the HTTP plumbing shared by the remote image
// services and the original-image fetcher.
package transform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aliskhannn/image-transformer/internal/failure"
)

// maxErrorBody bounds how much of a provider error body is kept for diagnostics.
const maxErrorBody = 64 << 10

// NewHTTPClient returns a client for calling remote services.
// A zero timeout means no client-side deadline.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// ReadErrorBody reads at most 64KB of a failed response body.
func ReadErrorBody(r io.Reader) []byte {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return body
}

// ReadBody reads a successful response body, refusing anything larger than limit
// when limit is positive.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response exceeds %d bytes", limit)
	}

	return data, nil
}

// HTTPFetcher downloads objects through their access URLs.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates a fetcher. maxBytes <= 0 disables the size guard.
func NewHTTPFetcher(client *http.Client, maxBytes int64) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

// Fetch performs a GET on rawURL and returns the body.
// Failures are tagged as storage failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	const op = "fetch object"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, failure.Wrap(failure.StageStorage, op, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, failure.Wrap(failure.StageStorage, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, failure.HTTP(failure.StageStorage, op, resp.StatusCode, ReadErrorBody(resp.Body))
	}

	data, err := ReadBody(resp.Body, f.maxBytes)
	if err != nil {
		return nil, failure.Wrap(failure.StageStorage, op, err)
	}

	return data, nil
}
