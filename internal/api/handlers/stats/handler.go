package stats

import (
	"context"
	"errors"
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-transformer/internal/api/respond"
	"github.com/aliskhannn/image-transformer/internal/model"
)

type service interface {
	Get(ctx context.Context) (model.Stats, error)
}

// Handler serves usage statistics.
type Handler struct {
	service service
	render  func([]model.DailyCount) ([]byte, error)
}

// NewHandler creates a Handler. render draws the histogram for Chart.
func NewHandler(s service, render func([]model.DailyCount) ([]byte, error)) *Handler {
	return &Handler{service: s, render: render}
}

// Get returns the current statistics as JSON.
func (h *Handler) Get(c *ginext.Context) {
	st, err := h.service.Get(c.Request.Context())
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to get stats")
		respond.Fail(c, http.StatusInternalServerError, errors.New("failed to get stats"))
		return
	}

	respond.JSON(c, http.StatusOK, st)
}

// Chart returns the daily histogram as a PNG image.
func (h *Handler) Chart(c *ginext.Context) {
	st, err := h.service.Get(c.Request.Context())
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to get stats")
		respond.Fail(c, http.StatusInternalServerError, errors.New("failed to get stats"))
		return
	}

	img, err := h.render(st.ChartData)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to render chart")
		respond.Fail(c, http.StatusInternalServerError, errors.New("failed to render chart"))
		return
	}

	c.Header("Cache-Control", "no-cache")
	respond.PNG(c, http.StatusOK, img)
}
