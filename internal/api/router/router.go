package router

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/image-transformer/internal/api/handlers/job"
	"github.com/aliskhannn/image-transformer/internal/api/handlers/stats"
)

// Setup registers the API routes.
func Setup(jh *job.Handler, sh *stats.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.GET("/healthz", func(c *ginext.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := r.Group("/api")

	api.POST("/upload", jh.Upload)        // create a job
	api.GET("/images", jh.List)           // caller's jobs
	api.GET("/images/:id", jh.Get)        // one job
	api.DELETE("/images/:id", jh.Delete)  // delete a job and its images
	api.GET("/stats", sh.Get)             // usage accounting
	api.GET("/stats/chart.png", sh.Chart) // daily histogram

	return r
}
