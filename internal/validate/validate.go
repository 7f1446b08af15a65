package validate

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/aliskhannn/image-transformer/internal/failure"
)

// DefaultMaxSize is the upload ceiling (10MB).
const DefaultMaxSize int64 = 10 << 20

// DefaultAllowedTypes lists the accepted image mime types.
var DefaultAllowedTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/gif",
	"image/bmp",
	"image/tiff",
}

// Validator checks uploaded images before a job is created.
type Validator struct {
	maxSize int64
	allowed []string
}

// Result describes an accepted upload.
type Result struct {
	ContentType string
	Extension   string // without the leading dot
}

// New creates a Validator. Zero values fall back to the defaults.
func New(maxSize int64, allowed []string) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}

	return &Validator{maxSize: maxSize, allowed: allowed}
}

// MaxSize returns the configured size ceiling in bytes.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// Validate sniffs the content type of data and checks it against the allowlist
// and the size ceiling. Rejections are returned as validation failures.
func (v *Validator) Validate(filename string, data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, failure.Validation("No file provided")
	}

	if int64(len(data)) > v.maxSize {
		return Result{}, failure.Validation(fmt.Sprintf("File is too large. Maximum size is %dMB.", v.maxSize>>20))
	}

	mt := mimetype.Detect(data)
	contentType := mt.String()
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}

	if !slices.Contains(v.allowed, contentType) {
		return Result{}, failure.Validation("Invalid file type. Please upload a JPG, PNG, GIF, BMP, or TIFF image.")
	}

	return Result{ContentType: contentType, Extension: extension(filename, mt.Extension())}, nil
}

// extension picks the key extension from the filename, then the sniffed type.
func extension(filename, detected string) string {
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")); ext != "" {
		return ext
	}
	if ext := strings.TrimPrefix(detected, "."); ext != "" {
		return ext
	}

	return "png"
}
