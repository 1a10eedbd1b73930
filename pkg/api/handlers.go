package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docsight/docsight/pkg/core"
)

// resumeRequest continues an approval-interrupted thread.
type resumeRequest struct {
	ThreadID string `json:"thread_id"`
	Approved bool   `json:"approved"`
}

// handleStream runs one query and streams its events until the terminal.
func (s *Server) handleStream(c *gin.Context) {
	var req core.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	stream, err := s.core.Stream(ctx, req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.streamEvents(c, stream)
}

// handleResume continues a thread paused for tool approval.
func (s *Server) handleResume(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	stream, err := s.core.Resume(ctx, req.ThreadID, req.Approved)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.streamEvents(c, stream)
}

// handleReinit applies runtime reconfiguration.
func (s *Server) handleReinit(c *gin.Context) {
	var opts core.ReinitOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := s.core.Reinit(c.Request.Context(), opts); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleHealth reports aggregate subsystem status.
func (s *Server) handleHealth(c *gin.Context) {
	report := s.core.Health(c.Request.Context())
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// writeError maps core errors to HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
