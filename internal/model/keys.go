package model

import (
	"fmt"

	"github.com/google/uuid"
)

// OriginalKey returns the storage key of an uploaded original.
func OriginalKey(id uuid.UUID, ext string) string {
	return fmt.Sprintf("original/%s.%s", id, ext)
}

// TempKey returns the storage key of the intermediate, background-free image.
func TempKey(id uuid.UUID) string {
	return fmt.Sprintf("temp/%s-no-bg.png", id)
}

// ProcessedKey returns the storage key of the final image.
func ProcessedKey(id uuid.UUID) string {
	return fmt.Sprintf("processed/%s.png", id)
}
