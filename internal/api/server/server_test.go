package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/ginext"
)

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := ginext.New()
	r.GET("/api/images", func(c *ginext.Context) { c.Status(http.StatusOK) })

	s := New(":0", r, []string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/images", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestNoCORSWithoutOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := ginext.New()

	s := New(":0", r, nil)

	assert.Same(t, http.Handler(r), s.Handler)
}
