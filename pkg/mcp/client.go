// Package mcp connects the engine to the MCP tool aggregator: a single
// streamable-HTTP endpoint that fronts every MCP server deployed beside
// the backend. The package owns the session lifecycle, a health checker
// with staleness-driven re-probing, and the bridge that surfaces
// aggregator tools through the tool registry.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docsight/docsight/pkg/version"
)

const (
	initTimeout      = 30 * time.Second
	operationTimeout = 60 * time.Second
)

// Client manages the SDK session against the aggregator endpoint.
// Thread-safe; the session is created lazily and recreated on demand
// after transport failures.
type Client struct {
	endpoint string

	mu      sync.Mutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession

	logger *slog.Logger
}

// NewClient creates a client for the aggregator at endpoint. No network
// activity happens until the first call.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		logger:   slog.Default(),
	}
}

// ensureSession connects if no session exists. Caller must hold mu.
func (c *Client) ensureSessionLocked(ctx context.Context) (*mcpsdk.ClientSession, error) {
	if c.session != nil {
		return c.session, nil
	}
	if c.endpoint == "" {
		return nil, fmt.Errorf("no aggregator endpoint configured")
	}

	transport := &mcpsdk.StreamableClientTransport{Endpoint: c.endpoint}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := any(transport).(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("failed to connect to aggregator at %q: %w", c.endpoint, err)
	}

	c.client = client
	c.session = session
	c.logger.Info("MCP aggregator connected", "endpoint", c.endpoint)
	return session, nil
}

func (c *Client) getSession(ctx context.Context) (*mcpsdk.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureSessionLocked(ctx)
}

// ListTools returns the aggregator's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	session, err := c.getSession(ctx)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		c.dropSession()
		return nil, fmt.Errorf("failed to list aggregator tools: %w", err)
	}
	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	return tools, nil
}

// CallTool executes one tool call on the aggregator. A transport failure
// drops the session so the next call reconnects; one immediate retry is
// attempted on a fresh session.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: args,
	}

	result, err := c.callOnce(ctx, params)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	c.logger.Info("MCP call failed, reconnecting and retrying",
		"tool", toolName, "error", err)
	c.dropSession()

	result, err = c.callOnce(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %q: %w", toolName, err)
	}
	return result, nil
}

func (c *Client) callOnce(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	session, err := c.getSession(ctx)
	if err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	return session.CallTool(opCtx, params)
}

func (c *Client) dropSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
		c.client = nil
	}
}

// Connected reports whether a live session exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Close shuts down the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.client = nil
	return err
}
