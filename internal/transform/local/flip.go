// Package local implements image transforms in-process. It is used when no
// remote flip provider is configured and in development setups.
package local

import (
	"bytes"
	"context"
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/aliskhannn/image-transformer/internal/failure"
)

// fetcher downloads the source image by URL.
type fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Flipper mirrors images using the imaging library.
type Flipper struct {
	fetcher    fetcher
	horizontal bool
	vertical   bool
}

// NewFlipper creates a Flipper that mirrors horizontally.
func NewFlipper(f fetcher) *Flipper {
	return &Flipper{fetcher: f, horizontal: true}
}

// Flip loads the image at imageURL, mirrors it and returns it encoded as PNG.
func (p *Flipper) Flip(ctx context.Context, imageURL string) ([]byte, error) {
	const op = "flip image"

	// Load the source image.
	data, err := p.fetcher.Fetch(ctx, imageURL)
	if err != nil {
		return nil, failure.Wrap(failure.StageFlip, op, fmt.Errorf("failed to load source image: %w", err))
	}

	return p.FlipBytes(data)
}

// FlipBytes mirrors an encoded image and returns it encoded as PNG.
func (p *Flipper) FlipBytes(data []byte) ([]byte, error) {
	const op = "flip image"

	// Decode into an image object.
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, failure.Wrap(failure.StageFlip, op, fmt.Errorf("failed to decode image: %w", err))
	}

	if p.horizontal {
		img = imaging.FlipH(img)
	}
	if p.vertical {
		img = imaging.FlipV(img)
	}

	// Encode as PNG to keep the transparency produced by background removal.
	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		return nil, failure.Wrap(failure.StageFlip, op, fmt.Errorf("failed to encode flipped image: %w", err))
	}

	return buf.Bytes(), nil
}
