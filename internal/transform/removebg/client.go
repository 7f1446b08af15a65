package removebg

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/aliskhannn/image-transformer/internal/failure"
	"github.com/aliskhannn/image-transformer/internal/transform"
)

// DefaultEndpoint is the remove.bg background removal API.
const DefaultEndpoint = "https://api.remove.bg/v1.0/removebg"

// Client calls the remove.bg API.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New creates a Client. An empty endpoint selects DefaultEndpoint.
func New(endpoint, apiKey string, httpClient *http.Client) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{endpoint: endpoint, apiKey: apiKey, http: httpClient}
}

// RemoveBackground uploads image and returns the PNG with its background removed.
// Errors are tagged with the background removal stage and, for rejected
// requests, the HTTP status and provider body.
func (c *Client) RemoveBackground(ctx context.Context, image []byte, filename string) ([]byte, error) {
	const op = "remove background"

	body, contentType, err := multipartBody(image, filename)
	if err != nil {
		return nil, failure.Wrap(failure.StageBackgroundRemoval, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, failure.Wrap(failure.StageBackgroundRemoval, op, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, failure.Wrap(failure.StageBackgroundRemoval, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, failure.HTTP(failure.StageBackgroundRemoval, op, resp.StatusCode, transform.ReadErrorBody(resp.Body))
	}

	data, err := transform.ReadBody(resp.Body, 0)
	if err != nil {
		return nil, failure.Wrap(failure.StageBackgroundRemoval, op, fmt.Errorf("read response: %w", err))
	}

	return data, nil
}

func multipartBody(image []byte, filename string) (*bytes.Buffer, string, error) {
	if filename == "" {
		filename = "image"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("size", "auto"); err != nil {
		return nil, "", err
	}

	part, err := w.CreateFormFile("image_file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}
