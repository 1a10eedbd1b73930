package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/docsight/docsight/pkg/checkpoint"
	"github.com/docsight/docsight/pkg/model"
	"github.com/docsight/docsight/pkg/tools"
)

// Kind classifies a failure for retry policy and reporting.
type Kind string

const (
	KindTransport       Kind = "transport_error"
	KindRateLimit       Kind = "rate_limit"
	KindModelTimeout    Kind = "model_timeout"
	KindToolUnavailable Kind = "tool_unavailable"
	KindToolError       Kind = "tool_error"
	KindSchemaError     Kind = "schema_error"
	KindBudgetExceeded  Kind = "budget_exceeded"
	KindValidation      Kind = "validation_error"
	KindNotFound        Kind = "not_found"
	KindInternal        Kind = "internal"
)

// ErrValidation marks malformed requests; the HTTP layer maps it to 400.
var ErrValidation = errors.New("invalid request")

// ErrNotFound marks missing resources; the HTTP layer maps it to 404.
var ErrNotFound = errors.New("not found")

// Classify maps an error to its kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound), errors.Is(err, checkpoint.ErrNotFound):
		return KindNotFound
	case errors.Is(err, tools.ErrUnknownTool):
		return KindToolUnavailable
	case errors.Is(err, tools.ErrSchema):
		return KindSchemaError
	case errors.Is(err, model.ErrRateLimited), errors.Is(err, tools.ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, context.DeadlineExceeded):
		return KindModelTimeout
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "budget"):
			return KindBudgetExceeded
		case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") ||
			strings.Contains(msg, "no such host"):
			return KindTransport
		case strings.Contains(msg, "tool"):
			return KindToolError
		default:
			return KindInternal
		}
	}
}

// errorHistorySize bounds the retained error records.
const errorHistorySize = 100

// ErrorRecord is one classified failure.
type ErrorRecord struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ErrorHistory is a bounded ring of recent failures, exposed through
// Health for operators.
type ErrorHistory struct {
	mu      sync.Mutex
	records []ErrorRecord
	next    int
	full    bool
}

// NewErrorHistory creates an empty history.
func NewErrorHistory() *ErrorHistory {
	return &ErrorHistory{records: make([]ErrorRecord, errorHistorySize)}
}

// Record adds one failure, overwriting the oldest when full.
func (h *ErrorHistory) Record(kind Kind, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[h.next] = ErrorRecord{Kind: kind, Message: message, At: time.Now().UTC()}
	h.next = (h.next + 1) % len(h.records)
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns the stored records, oldest first.
func (h *ErrorHistory) Recent() []ErrorRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]ErrorRecord, h.next)
		copy(out, h.records[:h.next])
		return out
	}
	out := make([]ErrorRecord, 0, len(h.records))
	out = append(out, h.records[h.next:]...)
	out = append(out, h.records[:h.next]...)
	return out
}
