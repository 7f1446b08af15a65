package validate

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/image-transformer/internal/failure"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	return buf.Bytes()
}

func TestValidateAcceptsPNG(t *testing.T) {
	v := New(0, nil)

	res, err := v.Validate("Photo.PNG", pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, "png", res.Extension)
}

func TestValidateFallsBackToDetectedExtension(t *testing.T) {
	v := New(0, nil)

	res, err := v.Validate("noext", pngBytes(t))
	require.NoError(t, err)
	assert.Equal(t, "png", res.Extension)
}

func TestValidateRejects(t *testing.T) {
	v := New(1<<20, nil)

	tests := []struct {
		name    string
		data    []byte
		message string
	}{
		{"empty", nil, "No file provided"},
		{"too large", bytes.Repeat([]byte{0xFF}, 1<<20+1), "File is too large. Maximum size is 1MB."},
		{"text", []byte("hello, world"), "Invalid file type. Please upload a JPG, PNG, GIF, BMP, or TIFF image."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate("file.png", tt.data)
			require.Error(t, err)

			var fe *failure.Error
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, failure.StageValidation, fe.Stage)

			c := failure.Classify(err)
			assert.Equal(t, failure.KindValidation, c.Kind)
			assert.Equal(t, tt.message, c.Message)
			assert.False(t, c.Retryable)
		})
	}
}

func TestValidateDefaultCeilingIsTenMegabytes(t *testing.T) {
	v := New(0, nil)
	assert.Equal(t, int64(10*1024*1024), v.MaxSize())
}
