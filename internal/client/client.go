// Package client talks to the image transformer API and waits for jobs to finish.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transformer/internal/model"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 60
)

// ErrPollExhausted is returned when a job is still processing after the last poll.
var ErrPollExhausted = errors.New("job did not finish in time")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	PollInterval time.Duration
	PollAttempts int
	HTTPClient   *http.Client // optional; its Jar is replaced if unset
}

// Client is an API client that keeps the session cookie between calls,
// so jobs it uploads stay visible to it.
type Client struct {
	baseURL  string
	http     *http.Client
	interval time.Duration
	attempts int
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		hc.Jar = jar
	}

	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     hc,
		interval: opts.PollInterval,
		attempts: opts.PollAttempts,
	}
	if c.interval <= 0 {
		c.interval = DefaultPollInterval
	}
	if c.attempts <= 0 {
		c.attempts = DefaultPollAttempts
	}

	return c, nil
}

type uploadResult struct {
	ID     uuid.UUID    `json:"id"`
	Status model.Status `json:"status"`
}

// Upload sends an image and returns the ID of the created job.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (uuid.UUID, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upload: failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return uuid.Nil, fmt.Errorf("upload: failed to read image: %w", err)
	}
	if err := w.Close(); err != nil {
		return uuid.Nil, fmt.Errorf("upload: failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", &body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upload: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var res uploadResult
	if err := c.do(req, &res); err != nil {
		return uuid.Nil, fmt.Errorf("upload: %w", err)
	}

	return res.ID, nil
}

// Get returns the current state of a job.
func (c *Client) Get(ctx context.Context, id uuid.UUID) (model.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/images/"+id.String(), nil)
	if err != nil {
		return model.Job{}, fmt.Errorf("get: failed to build request: %w", err)
	}

	var job model.Job
	if err := c.do(req, &job); err != nil {
		return model.Job{}, fmt.Errorf("get: %w", err)
	}

	return job, nil
}

// Poll fetches the job at a fixed interval until it reaches a terminal state,
// the attempts run out or ctx is done. A failed fetch uses up an attempt.
func (c *Client) Poll(ctx context.Context, id uuid.UUID) (model.Job, error) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		job, err := c.Get(ctx, id)
		switch {
		case err == nil && job.Status.Terminal():
			return job, nil
		case err != nil:
			if ctx.Err() != nil {
				return model.Job{}, ctx.Err()
			}
			lastErr = err
			zlog.Logger.Debug().Err(err).Int("attempt", attempt).Msg("poll failed")
		}

		if attempt == c.attempts {
			break
		}

		select {
		case <-ctx.Done():
			return model.Job{}, ctx.Err()
		case <-ticker.C:
		}
	}

	if lastErr != nil {
		return model.Job{}, fmt.Errorf("%w: last error: %v", ErrPollExhausted, lastErr)
	}

	return model.Job{}, ErrPollExhausted
}

// do sends req and decodes the "result" field of a successful response into out.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}

		return &APIError{StatusCode: resp.StatusCode, Message: e.Message}
	}

	envelope := struct {
		Result interface{} `json:"result"`
	}{Result: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
