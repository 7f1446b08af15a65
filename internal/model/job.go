package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a transformation job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyTerminal is returned when a terminal write targets a job that already has one.
	ErrAlreadyTerminal = errors.New("job already in a terminal state")
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job in status s may move to next.
// Only processing -> completed and processing -> failed are allowed.
func (s Status) CanTransition(next Status) bool {
	return s == StatusProcessing && next.Terminal()
}

// Job represents one user-initiated transformation request and its lifecycle record.
type Job struct {
	ID               uuid.UUID `json:"id"`
	OwnerToken       string    `json:"-"`
	OriginalFilename string    `json:"originalFilename"`
	OriginalKey      string    `json:"originalS3Key"`
	OriginalURL      string    `json:"originalUrl"`
	ProcessedKey     string    `json:"processedS3Key,omitempty"`
	ProcessedURL     string    `json:"processedUrl,omitempty"`
	Status           Status    `json:"status"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// TerminalPatch carries the fields written together with a terminal status.
type TerminalPatch struct {
	ProcessedKey string
	ProcessedURL string
	ErrorMessage string
}

// Completed builds the patch for a successful run.
func Completed(processedKey, processedURL string) TerminalPatch {
	return TerminalPatch{ProcessedKey: processedKey, ProcessedURL: processedURL}
}

// Failed builds the patch for a failed run.
func Failed(message string) TerminalPatch {
	return TerminalPatch{ErrorMessage: message}
}

// Check verifies that the patch matches the target status:
// a processed key exactly when completed, an error message exactly when failed.
func (p TerminalPatch) Check(status Status) error {
	switch status {
	case StatusCompleted:
		if p.ProcessedKey == "" {
			return fmt.Errorf("%w: completed job requires processed key", ErrInvalidTransition)
		}
		if p.ErrorMessage != "" {
			return fmt.Errorf("%w: completed job cannot carry an error message", ErrInvalidTransition)
		}
	case StatusFailed:
		if p.ErrorMessage == "" {
			return fmt.Errorf("%w: failed job requires error message", ErrInvalidTransition)
		}
		if p.ProcessedKey != "" {
			return fmt.Errorf("%w: failed job cannot carry a processed key", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: %q is not terminal", ErrInvalidTransition, status)
	}

	return nil
}

// Apply moves the job to a terminal status, enforcing the transition rules.
func (j *Job) Apply(status Status, patch TerminalPatch, at time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, j.Status)
	}
	if !j.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}
	if err := patch.Check(status); err != nil {
		return err
	}

	j.Status = status
	j.ProcessedKey = patch.ProcessedKey
	j.ProcessedURL = patch.ProcessedURL
	j.ErrorMessage = patch.ErrorMessage
	j.UpdatedAt = at

	return nil
}

// Validate checks the field invariants that must hold for any stored job.
func (j Job) Validate() error {
	if j.ID == uuid.Nil {
		return errors.New("job id is required")
	}
	if j.OriginalKey == "" {
		return errors.New("original key is required")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("unknown status %q", j.Status)
	}
	if (j.ProcessedKey != "") != (j.Status == StatusCompleted) {
		return errors.New("processed key must be set exactly when completed")
	}
	if (j.ErrorMessage != "") != (j.Status == StatusFailed) {
		return errors.New("error message must be set exactly when failed")
	}

	return nil
}

// OwnedBy reports whether token is the non-empty owner token of the job.
func (j Job) OwnedBy(token string) bool {
	return token != "" && j.OwnerToken == token
}

// Keys returns the storage keys currently referenced by the job.
func (j Job) Keys() []string {
	keys := []string{j.OriginalKey}
	if j.ProcessedKey != "" {
		keys = append(keys, j.ProcessedKey)
	}

	return keys
}
