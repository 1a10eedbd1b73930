package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/docsight/docsight/pkg/events"
)

// streamEvents writes the event stream to the client, choosing the wire
// format from the Accept header: text/event-stream gets SSE, everything
// else gets NDJSON. Each event is flushed as it arrives so clients see
// tokens immediately. A disconnected client cancels the request context,
// which unwinds the pipeline.
func (s *Server) streamEvents(c *gin.Context, stream <-chan events.Event) {
	sse := strings.Contains(c.GetHeader("Accept"), "text/event-stream")
	if sse {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
	} else {
		c.Header("Content-Type", "application/x-ndjson")
	}
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	ctx := c.Request.Context()

	for ev := range stream {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("Failed to marshal event", "type", ev.EventType(), "error", err)
			continue
		}

		if sse {
			if _, err := c.Writer.WriteString("data: "); err != nil {
				return
			}
		}
		if _, err := c.Writer.Write(payload); err != nil {
			return
		}
		terminator := "\n"
		if sse {
			terminator = "\n\n"
		}
		if _, err := c.Writer.WriteString(terminator); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}

		if ctx.Err() != nil {
			return
		}
	}
}
