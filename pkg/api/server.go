// Package api exposes the orchestration core over HTTP: streaming query
// endpoints (NDJSON or SSE), approval resume, runtime reinit, and health.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docsight/docsight/pkg/core"
)

// Server is the HTTP front end over the core.
type Server struct {
	core   *core.Core
	router *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

// NewServer creates the API server and registers its routes.
func NewServer(c *core.Core) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		core:   c,
		router: router,
		logger: slog.Default(),
	}

	v1 := router.Group("/api/v1")
	v1.POST("/stream", s.handleStream)
	v1.POST("/resume", s.handleResume)
	v1.POST("/reinit", s.handleReinit)
	v1.GET("/health", s.handleHealth)

	return s
}

// Start begins serving on addr and blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// requestLogger logs one line per completed request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
