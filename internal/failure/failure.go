// Package failure tags pipeline errors with the stage that produced them and
// turns them into stable, user-facing messages.
package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Stage identifies where in the pipeline an error originated.
type Stage string

const (
	StageValidation        Stage = "validation"
	StageUpload            Stage = "upload"
	StageStorage           Stage = "storage"
	StageBackgroundRemoval Stage = "background_removal"
	StageFlip              Stage = "flip"
	StageUnknown           Stage = "unknown"
)

// Error is a stage-tagged error. Fields are set at the call site so that the
// classifier never has to look at rendered error text.
type Error struct {
	Stage        Stage
	Op           string // short operation name, e.g. "put temp object"
	HTTPStatus   int    // status returned by a remote service, 0 if none
	ProviderBody []byte // raw error body returned by a remote service
	Message      string // user-facing override, used by validation
	Err          error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Stage))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, ": status %d", e.HTTPStatus)
	}
	if len(e.ProviderBody) > 0 {
		fmt.Fprintf(&b, ": %s", truncate(e.ProviderBody, 512))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	} else if e.Message != "" && e.HTTPStatus == 0 {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with stage and op. It returns nil for a nil err.
func Wrap(stage Stage, op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Stage: stage, Op: op, Err: err}
}

// HTTP builds an error for a non-successful response from a remote service.
func HTTP(stage Stage, op string, status int, body []byte) *Error {
	return &Error{Stage: stage, Op: op, HTTPStatus: status, ProviderBody: body}
}

// Validation builds a validation error with a user-facing message.
func Validation(message string) *Error {
	return &Error{Stage: StageValidation, Op: "validate", Message: message}
}

// Kind is the classification of a failure.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindUpload            Kind = "upload"
	KindStorage           Kind = "storage"
	KindAuthentication    Kind = "authentication"
	KindAccessDenied      Kind = "access_denied"
	KindQuota             Kind = "quota"
	KindRateLimit         Kind = "rate_limit"
	KindUnavailable       Kind = "unavailable"
	KindInvalidImage      Kind = "invalid_image"
	KindImageTooLarge     Kind = "image_too_large"
	KindImageUnreachable  Kind = "image_unreachable"
	KindBackgroundRemoval Kind = "background_removal"
	KindFlip              Kind = "flip"
	KindUnknown           Kind = "unknown"
)

// Classified is the outcome of Classify. Only Message is meant for end users;
// Detail keeps the technical description for server-side logs.
type Classified struct {
	Stage     Stage
	Kind      Kind
	Message   string
	Retryable bool
	Detail    string
}

const (
	msgUnknown           = "An unexpected error occurred. Please try again."
	msgStorage           = "Image storage service is temporarily unavailable. Please try again."
	msgUpload            = "Failed to upload image. Please check your connection and try again."
	msgAuthentication    = "Image processing failed: Authentication error. Please contact support."
	msgAccessDenied      = "Image processing failed: Access denied. Please contact support."
	msgQuota             = "Image processing failed: Service quota exceeded. Please try again later."
	msgRateLimit         = "Image processing failed: Too many requests. Please try again in a moment."
	msgUnavailable       = "Image processing failed: Service temporarily unavailable. Please try again."
	msgInvalidImage      = "Image processing failed: Invalid image format. Please upload a valid image."
	msgImageTooLarge     = "Image processing failed: File is too large. Maximum size is 10MB."
	msgImageUnreachable  = "Image processing failed: Unable to access image. Please try uploading again."
	msgBackgroundRemoval = "Image processing failed: Unable to remove background."
	msgFlip              = "Image processing failed: Unable to flip image."
)

// Classify maps err to a stable user-facing classification.
func Classify(err error) Classified {
	var fe *Error
	if !errors.As(err, &fe) {
		detail := ""
		if err != nil {
			detail = err.Error()
		}

		return Classified{Stage: StageUnknown, Kind: KindUnknown, Message: msgUnknown, Retryable: true, Detail: detail}
	}

	c := Classified{Stage: fe.Stage, Detail: fe.Error()}

	switch fe.Stage {
	case StageValidation:
		c.Kind, c.Message, c.Retryable = KindValidation, fe.Message, false
		if c.Message == "" {
			c.Message = "Invalid image file."
		}
	case StageUpload:
		c.Kind, c.Message, c.Retryable = KindUpload, msgUpload, true
	case StageStorage:
		c.Kind, c.Message, c.Retryable = KindStorage, msgStorage, true
	case StageBackgroundRemoval:
		c.Kind, c.Message, c.Retryable = classifyProvider(fe, KindBackgroundRemoval, msgBackgroundRemoval)
	case StageFlip:
		c.Kind, c.Message, c.Retryable = classifyProvider(fe, KindFlip, msgFlip)
	default:
		c.Stage, c.Kind, c.Message, c.Retryable = StageUnknown, KindUnknown, msgUnknown, true
	}

	return c
}

// classifyProvider classifies a failed call to a remote transform service.
func classifyProvider(fe *Error, fallback Kind, fallbackMsg string) (Kind, string, bool) {
	status := fe.HTTPStatus

	// A flip that could not read its source from storage.
	var inner *Error
	if fe.Stage == StageFlip && status == 0 && errors.As(fe.Err, &inner) && inner.Stage == StageStorage {
		return KindImageUnreachable, msgImageUnreachable, true
	}

	switch {
	case status == http.StatusUnauthorized:
		return KindAuthentication, msgAuthentication, false
	case status == http.StatusForbidden:
		return KindAccessDenied, msgAccessDenied, false
	case status == http.StatusPaymentRequired:
		return KindQuota, msgQuota, false
	case status == http.StatusTooManyRequests:
		return KindRateLimit, msgRateLimit, true
	case status >= http.StatusInternalServerError:
		return KindUnavailable, msgUnavailable, true
	case status == http.StatusRequestEntityTooLarge:
		return KindImageTooLarge, msgImageTooLarge, false
	case status == http.StatusBadRequest:
		return classifyBadRequest(fe)
	}

	return fallback, fallbackMsg, true
}

// classifyBadRequest refines a 400 response using the provider's error code.
func classifyBadRequest(fe *Error) (Kind, string, bool) {
	body := parseProviderBody(fe.ProviderBody)

	if fe.Stage == StageFlip {
		// The flip service fetches the temp object by URL itself; a 400 almost
		// always means it could not read that URL.
		return KindImageUnreachable, msgImageUnreachable, true
	}

	switch body.Code {
	case "file_too_large", "image_too_large":
		return KindImageTooLarge, msgImageTooLarge, false
	case "auth_failed":
		return KindAuthentication, msgAuthentication, false
	case "insufficient_credits":
		return KindQuota, msgQuota, false
	}

	return KindInvalidImage, msgInvalidImage, false
}

// ProviderError is the normalized view of a remote service's JSON error body.
type ProviderError struct {
	Code    string
	Message string
}

// parseProviderBody understands both
// {"errors":[{"title":"...","code":"..."}]} and {"message":"...","code":"..."}.
func parseProviderBody(body []byte) ProviderError {
	if len(body) == 0 {
		return ProviderError{}
	}

	var raw struct {
		Errors []struct {
			Title string `json:"title"`
			Code  string `json:"code"`
		} `json:"errors"`
		Error *struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ProviderError{}
	}

	switch {
	case len(raw.Errors) > 0:
		return ProviderError{Code: raw.Errors[0].Code, Message: raw.Errors[0].Title}
	case raw.Error != nil:
		return ProviderError{Code: raw.Error.Code, Message: raw.Error.Message}
	default:
		return ProviderError{Code: raw.Code, Message: raw.Message}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}

	return string(b[:n]) + "..."
}
