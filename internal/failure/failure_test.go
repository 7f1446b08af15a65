package failure

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyProviderStatus(t *testing.T) {
	tests := []struct {
		name      string
		stage     Stage
		status    int
		body      string
		kind      Kind
		retryable bool
	}{
		{"bg unauthorized", StageBackgroundRemoval, http.StatusUnauthorized, "", KindAuthentication, false},
		{"bg forbidden", StageBackgroundRemoval, http.StatusForbidden, "", KindAccessDenied, false},
		{"bg payment", StageBackgroundRemoval, http.StatusPaymentRequired, "", KindQuota, false},
		{"bg rate limit", StageBackgroundRemoval, http.StatusTooManyRequests, "", KindRateLimit, true},
		{"bg server error", StageBackgroundRemoval, http.StatusBadGateway, "", KindUnavailable, true},
		{"bg invalid image", StageBackgroundRemoval, http.StatusBadRequest, `{"errors":[{"title":"Could not identify foreground","code":"unknown_foreground"}]}`, KindInvalidImage, false},
		{"bg too large", StageBackgroundRemoval, http.StatusBadRequest, `{"errors":[{"title":"File too large","code":"file_too_large"}]}`, KindImageTooLarge, false},
		{"bg credits", StageBackgroundRemoval, http.StatusBadRequest, `{"errors":[{"code":"insufficient_credits"}]}`, KindQuota, false},
		{"flip unauthorized", StageFlip, http.StatusUnauthorized, `{"message":"bad api key"}`, KindAuthentication, false},
		{"flip rate limit", StageFlip, http.StatusTooManyRequests, "", KindRateLimit, true},
		{"flip bad request", StageFlip, http.StatusBadRequest, `{"message":"cannot read imageUrl"}`, KindImageUnreachable, true},
		{"flip server error", StageFlip, http.StatusInternalServerError, "", KindUnavailable, true},
		{"flip other status", StageFlip, http.StatusTeapot, "", KindFlip, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fmt.Errorf("run: %w", HTTP(tt.stage, "call", tt.status, []byte(tt.body)))

			c := Classify(err)
			assert.Equal(t, tt.stage, c.Stage)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.retryable, c.Retryable)
			assert.NotEmpty(t, c.Message)
			assert.Contains(t, c.Detail, fmt.Sprintf("status %d", tt.status))
		})
	}
}

func TestClassifyMessagesDoNotLeakDetail(t *testing.T) {
	err := HTTP(StageBackgroundRemoval, "remove background", http.StatusUnauthorized, []byte(`{"errors":[{"title":"API Key invalid"}]}`))

	c := Classify(err)
	assert.Equal(t, "Image processing failed: Authentication error. Please contact support.", c.Message)
	assert.NotContains(t, c.Message, "API Key")
	assert.Contains(t, c.Detail, "API Key invalid")
}

func TestClassifyStorageAndUpload(t *testing.T) {
	cause := errors.New("connection reset by peer")

	c := Classify(Wrap(StageStorage, "put temp object", cause))
	assert.Equal(t, KindStorage, c.Kind)
	assert.True(t, c.Retryable)
	assert.Equal(t, "Image storage service is temporarily unavailable. Please try again.", c.Message)

	c = Classify(Wrap(StageUpload, "put original", cause))
	assert.Equal(t, KindUpload, c.Kind)
	assert.Equal(t, "Failed to upload image. Please check your connection and try again.", c.Message)
}

func TestClassifyTransportErrorWithoutStatus(t *testing.T) {
	c := Classify(Wrap(StageBackgroundRemoval, "remove background", errors.New("dial tcp: i/o timeout")))
	assert.Equal(t, KindBackgroundRemoval, c.Kind)
	assert.Equal(t, "Image processing failed: Unable to remove background.", c.Message)
	assert.True(t, c.Retryable)
}

func TestClassifyUntagged(t *testing.T) {
	c := Classify(errors.New("boom"))
	assert.Equal(t, KindUnknown, c.Kind)
	assert.Equal(t, StageUnknown, c.Stage)
	assert.Equal(t, "boom", c.Detail)
	assert.Equal(t, "An unexpected error occurred. Please try again.", c.Message)
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(StageStorage, "noop", nil))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := Wrap(StageFlip, "flip", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "flip: flip: cause", err.Error())
}

func TestClassifyFlipSourceUnreadable(t *testing.T) {
	fetchErr := HTTP(StageStorage, "fetch object", 403, []byte("<Error><Code>AccessDenied</Code></Error>"))
	c := Classify(Wrap(StageFlip, "flip image", fetchErr))

	assert.Equal(t, StageFlip, c.Stage)
	assert.Equal(t, KindImageUnreachable, c.Kind)
	assert.True(t, c.Retryable)
	assert.Equal(t, "Image processing failed: Unable to access image. Please try uploading again.", c.Message)
}
