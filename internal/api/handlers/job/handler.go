package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transformer/internal/api/respond"
	"github.com/aliskhannn/image-transformer/internal/failure"
	"github.com/aliskhannn/image-transformer/internal/model"
	jobrepo "github.com/aliskhannn/image-transformer/internal/repository/job"
	jobsvc "github.com/aliskhannn/image-transformer/internal/service/job"
)

// service defines the job operations exposed over HTTP.
type service interface {
	Create(ctx context.Context, owner, filename string, data []byte) (model.Job, error)
	Get(ctx context.Context, owner string, id uuid.UUID) (model.Job, error)
	List(ctx context.Context, owner string) ([]model.Job, error)
	Delete(ctx context.Context, owner string, id uuid.UUID) error
}

// sessions resolves the caller's owner token.
type sessions interface {
	Token(c *ginext.Context) string
	Ensure(c *ginext.Context) string
}

// Handler provides HTTP handlers for job endpoints.
type Handler struct {
	service  service
	sessions sessions
	maxSize  int64
}

// NewHandler creates a new Handler. maxSize caps the accepted request body.
func NewHandler(s service, ss sessions, maxSize int64) *Handler {
	return &Handler{service: s, sessions: ss, maxSize: maxSize}
}

// UploadResponse is returned once a job has been accepted.
type UploadResponse struct {
	ID     uuid.UUID    `json:"id"`
	Status model.Status `json:"status"`
}

// Upload accepts an image in the multipart field "file" and starts a job.
// It responds as soon as the job is recorded; processing continues in the background.
func (h *Handler) Upload(c *ginext.Context) {
	// Leave room for multipart framing on top of the image itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+1<<20)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Fail(c, http.StatusBadRequest, fmt.Errorf("File is too large. Maximum size is %dMB.", h.maxSize>>20))
			return
		}

		zlog.Logger.Warn().Err(err).Msg("no file in upload")
		respond.Fail(c, http.StatusBadRequest, errors.New("No file provided"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to read the uploaded file")
		respond.Fail(c, http.StatusBadRequest, errors.New("failed to read the file"))
		return
	}

	owner := h.sessions.Ensure(c)

	job, err := h.service.Create(c.Request.Context(), owner, header.Filename, data)
	if err != nil {
		cl := failure.Classify(err)
		if cl.Kind == failure.KindValidation {
			respond.Fail(c, http.StatusBadRequest, errors.New(cl.Message))
			return
		}

		zlog.Logger.Err(err).Str("stage", string(cl.Stage)).Msg("failed to create job")
		respond.Fail(c, http.StatusInternalServerError, errors.New(cl.Message))
		return
	}

	respond.OK(c, UploadResponse{ID: job.ID, Status: job.Status})
}

// Get returns one job of the caller with fresh access URLs.
func (h *Handler) Get(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	job, err := h.service.Get(c.Request.Context(), h.sessions.Token(c), id)
	if err != nil {
		h.fail(c, err, "failed to get job")
		return
	}

	respond.OK(c, job)
}

// List returns the caller's jobs, newest first.
func (h *Handler) List(c *ginext.Context) {
	jobs, err := h.service.List(c.Request.Context(), h.sessions.Token(c))
	if err != nil {
		h.fail(c, err, "failed to list jobs")
		return
	}

	respond.OK(c, jobs)
}

// Delete removes a job of the caller together with its stored images.
func (h *Handler) Delete(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), h.sessions.Token(c), id); err != nil {
		h.fail(c, err, "failed to delete job")
		return
	}

	respond.NoContent(c)
}

func parseID(c *ginext.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		zlog.Logger.Warn().Str("id", c.Param("id")).Msg("invalid job id")
		respond.Fail(c, http.StatusBadRequest, errors.New("invalid id"))
		return uuid.Nil, false
	}

	return id, true
}

// fail maps service errors to HTTP responses.
func (h *Handler) fail(c *ginext.Context, err error, msg string) {
	switch {
	case errors.Is(err, jobrepo.ErrJobNotFound):
		respond.Fail(c, http.StatusNotFound, errors.New("image not found"))
	case errors.Is(err, jobsvc.ErrUnauthorized):
		respond.Fail(c, http.StatusUnauthorized, errors.New("unauthorized"))
	case errors.Is(err, jobsvc.ErrForbidden):
		respond.Fail(c, http.StatusForbidden, errors.New("access denied"))
	default:
		zlog.Logger.Err(err).Msg(msg)
		respond.Fail(c, http.StatusInternalServerError, errors.New("internal server error"))
	}
}
