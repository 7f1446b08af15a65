package pixelixe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aliskhannn/image-transformer/internal/failure"
	"github.com/aliskhannn/image-transformer/internal/transform"
)

// DefaultEndpoint is the Pixelixe flip API.
const DefaultEndpoint = "https://studio.pixelixe.com/api/flip/v1"

// Client calls the Pixelixe flip API. Pixelixe fetches the source image
// itself, so it is given a URL rather than bytes.
type Client struct {
	endpoint   string
	apiKey     string
	horizontal bool
	vertical   bool
	http       *http.Client
}

// New creates a Client flipping horizontally. An empty endpoint selects DefaultEndpoint.
func New(endpoint, apiKey string, httpClient *http.Client) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{endpoint: endpoint, apiKey: apiKey, horizontal: true, http: httpClient}
}

// Flip asks Pixelixe to flip the PNG reachable at imageURL and returns the result.
func (c *Client) Flip(ctx context.Context, imageURL string) ([]byte, error) {
	const op = "flip image"

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, failure.Wrap(failure.StageFlip, op, fmt.Errorf("parse endpoint: %w", err))
	}

	q := u.Query()
	q.Set("horizontal", strconv.FormatBool(c.horizontal))
	q.Set("vertical", strconv.FormatBool(c.vertical))
	q.Set("imageType", "png")
	q.Set("imageUrl", imageURL)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, failure.Wrap(failure.StageFlip, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, failure.Wrap(failure.StageFlip, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, failure.HTTP(failure.StageFlip, op, resp.StatusCode, transform.ReadErrorBody(resp.Body))
	}

	data, err := transform.ReadBody(resp.Body, 0)
	if err != nil {
		return nil, failure.Wrap(failure.StageFlip, op, fmt.Errorf("read response: %w", err))
	}

	return data, nil
}
