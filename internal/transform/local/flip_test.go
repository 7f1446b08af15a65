package local

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/image-transformer/internal/failure"
)

type stubFetcher struct {
	data []byte
	err  error
}

func (s stubFetcher) Fetch(context.Context, string) ([]byte, error) {
	return s.data, s.err
}

var (
	red  = color.NRGBA{R: 255, A: 255}
	blue = color.NRGBA{B: 255, A: 255}
)

func twoPixelPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, red)
	img.SetNRGBA(1, 0, blue)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

func TestFlipMirrorsHorizontally(t *testing.T) {
	f := NewFlipper(stubFetcher{data: twoPixelPNG(t)})

	out, err := f.Flip(context.Background(), "https://storage.local/temp/x.png")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	assert.Equal(t, blue, color.NRGBAModel.Convert(img.At(0, 0)))
	assert.Equal(t, red, color.NRGBAModel.Convert(img.At(1, 0)))
}

func TestFlipTagsFetchFailureAsFlip(t *testing.T) {
	fetchErr := failure.HTTP(failure.StageStorage, "fetch object", 403, nil)
	f := NewFlipper(stubFetcher{err: fetchErr})

	_, err := f.Flip(context.Background(), "https://storage.local/temp/x.png")
	require.Error(t, err)

	var fe *failure.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, failure.StageFlip, fe.Stage)
	assert.ErrorIs(t, err, fetchErr)

	// An expired temp URL reads the same as a provider that cannot reach the image.
	assert.Equal(t, failure.KindImageUnreachable, failure.Classify(err).Kind)
}

func TestFlipRejectsGarbage(t *testing.T) {
	_, err := NewFlipper(stubFetcher{data: []byte("not an image")}).Flip(context.Background(), "u")
	require.Error(t, err)
	assert.Equal(t, failure.KindFlip, failure.Classify(err).Kind)
}
