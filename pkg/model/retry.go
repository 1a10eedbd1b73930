package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/docsight/docsight/pkg/config"
)

// ErrRateLimited marks a rate-limit response. Rate limits surface
// immediately — retrying into a throttle only makes it worse.
var ErrRateLimited = errors.New("model rate limited")

// RetryingClient wraps a Client with the standard retry policy: capped
// exponential backoff (base 1s, cap 60s, factor 2) up to MaxRetries, with
// the global model timeout applied per attempt.
type RetryingClient struct {
	inner      Client
	maxRetries int
	timeout    time.Duration
	logger     *slog.Logger
}

// NewRetryingClient wraps inner with the configured retry policy.
func NewRetryingClient(inner Client, cfg config.ModelConfig) *RetryingClient {
	return &RetryingClient{
		inner:      inner,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		logger:     slog.Default(),
	}
}

// Generate retries stream establishment on transport-class failures.
// Once a stream is open, mid-stream errors are not retried here — the
// engine sees the ErrorChunk and decides (a timed-out call is retried at
// most once by the engine's iteration loop).
func (c *RetryingClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.MaxInterval = 60 * time.Second
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0 // bounded by attempt count, not wall time

	var stream <-chan Chunk
	attempts := 0
	operation := func() error {
		attempts++

		callCtx := ctx
		var cancel context.CancelFunc
		if c.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		s, err := c.inner.Generate(callCtx, input)
		if err != nil {
			if cancel != nil {
				cancel()
			}
			if isRateLimitError(err) {
				return backoff.Permanent(fmt.Errorf("%w: %s", ErrRateLimited, err))
			}
			if !isTransportError(err) || attempts > c.maxRetries {
				return backoff.Permanent(err)
			}
			c.logger.Warn("Model call failed, retrying",
				"attempt", attempts, "max_retries", c.maxRetries, "error", err)
			return err
		}
		// The timeout context must outlive this function — it bounds the
		// stream itself. Tie cancellation to stream drain.
		if cancel != nil {
			stream = cancelOnClose(s, cancel)
		} else {
			stream = s
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return stream, nil
}

// cancelOnClose forwards chunks and releases the attempt context when the
// upstream channel closes.
func cancelOnClose(in <-chan Chunk, cancel context.CancelFunc) <-chan Chunk {
	out := make(chan Chunk, 32)
	go func() {
		defer cancel()
		defer close(out)
		for chunk := range in {
			out <- chunk
		}
	}()
	return out
}

// isTransportError reports whether err is a connection, DNS, TLS, or
// timeout failure worth retrying.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused", "connection reset", "broken pipe",
		"no such host", "tls", "ssl", "timeout", "deadline exceeded",
		"eof", "502", "503", "504",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit")
}
