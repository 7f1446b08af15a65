package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/image-transformer/internal/model"
)

const cookieName = "image_transform_session_id"

func newClient(t *testing.T, srv *httptest.Server, attempts int) *Client {
	t.Helper()

	c, err := New(Options{BaseURL: srv.URL, PollInterval: time.Millisecond, PollAttempts: attempts})
	require.NoError(t, err)
	return c
}

func writeResult(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": v})
}

func TestUploadKeepsSessionCookie(t *testing.T) {
	id := uuid.New()
	token := uuid.NewString()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		f, h, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "cat.png", h.Filename)
		assert.Equal(t, "img", string(data))

		http.SetCookie(w, &http.Cookie{Name: cookieName, Value: token, Path: "/"})
		writeResult(w, map[string]interface{}{"id": id, "status": "processing"})
	})
	mux.HandleFunc("/api/images/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		c, err := r.Cookie(cookieName)
		if err != nil || c.Value != token {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"access denied"}`))
			return
		}
		writeResult(w, model.Job{ID: id, Status: model.StatusCompleted, ProcessedKey: "processed/x.png"})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newClient(t, srv, 3)
	ctx := context.Background()

	got, err := c.Upload(ctx, "cat.png", strings.NewReader("img"))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	job, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, job.Status)
}

func TestGetReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"image not found"}`))
	}))
	defer srv.Close()

	_, err := newClient(t, srv, 1).Get(context.Background(), uuid.New())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "image not found", apiErr.Message)
}

func TestPollStopsOnTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := model.StatusProcessing
		if calls.Add(1) >= 3 {
			status = model.StatusFailed
		}
		writeResult(w, model.Job{Status: status, ErrorMessage: "nope"})
	}))
	defer srv.Close()

	job, err := newClient(t, srv, 10).Poll(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, job.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeResult(w, model.Job{Status: model.StatusProcessing})
	}))
	defer srv.Close()

	_, err := newClient(t, srv, 4).Poll(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrPollExhausted)
	assert.Equal(t, int32(4), calls.Load())
}

func TestPollCountsFetchErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(t, srv, 3).Poll(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrPollExhausted)
	assert.Equal(t, int32(3), calls.Load())

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestPollHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, model.Job{Status: model.StatusProcessing})
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, PollInterval: time.Hour, PollAttempts: 5})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Poll(ctx, uuid.New())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
