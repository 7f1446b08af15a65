package server

import (
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/wb-go/wbf/ginext"
)

// New creates the HTTP server. When allowedOrigins is non-empty, browsers on
// those origins may call the API with credentials so the session cookie is sent.
func New(addr string, router *ginext.Engine, allowedOrigins []string) *http.Server {
	var handler http.Handler = router
	if len(allowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
		}).Handler(router)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
