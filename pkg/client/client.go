// Package client talks to the app manager control API over its Unix socket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultSocket  = "/run/app/app-manager.sock"
	DefaultTimeout = 90 * time.Second

	// baseURL is a placeholder host; the transport always dials the socket.
	baseURL = "http://app-manager"
)

// Client provides access to the control API of a running app manager.
type Client struct {
	socket string
	client *http.Client
	logger *slog.Logger
}

// Config holds client configuration
type Config struct {
	Socket  string
	Timeout time.Duration // covers the whole request; actions wait for scripts
	Logger  *slog.Logger  // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{Socket: DefaultSocket, Timeout: DefaultTimeout}
}

// APIError is returned when the daemon answers with a non-200 status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// New creates a client for the socket in config.
func New(config Config) *Client {
	if config.Socket == "" {
		config.Socket = DefaultSocket
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	socket := config.Socket
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		},
		DisableKeepAlives: true,
	}
	return &Client{
		socket: socket,
		logger: config.Logger,
		client: &http.Client{Timeout: config.Timeout, Transport: transport},
	}
}

// IsReachable checks if the daemon is running and answering on its socket.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.List(ctx)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "socket", c.socket, "error", err)
	}
	return err == nil
}

// List returns the status of every registered application.
func (c *Client) List(ctx context.Context) ([]AppStatus, error) {
	var out ListResponse
	if err := c.do(ctx, http.MethodGet, "/apps", &out); err != nil {
		return nil, err
	}
	if out.Apps == nil {
		out.Apps = []AppStatus{}
	}
	return out.Apps, nil
}

// Status returns the status summary of one application.
func (c *Client) Status(ctx context.Context, name string) (AppStatus, error) {
	var out AppStatus
	err := c.do(ctx, http.MethodGet, "/apps/"+url.PathEscape(name), &out)
	return out, err
}

// Health runs a fresh health check of one application.
func (c *Client) Health(ctx context.Context, name string) (Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/apps/"+url.PathEscape(name)+"/health", &out)
	return out, err
}

// Start, Stop and Restart request a lifecycle action. A failed action is
// reported in the result with a nil error; err is set only when the request
// itself fails or the application is unknown.

func (c *Client) Start(ctx context.Context, name string) (ActionResult, error) {
	return c.action(ctx, name, "start")
}

func (c *Client) Stop(ctx context.Context, name string) (ActionResult, error) {
	return c.action(ctx, name, "stop")
}

func (c *Client) Restart(ctx context.Context, name string) (ActionResult, error) {
	return c.action(ctx, name, "restart")
}

func (c *Client) action(ctx context.Context, name, act string) (ActionResult, error) {
	c.logger.Debug("Requesting action", "app", name, "action", act)
	var out ActionResult
	err := c.do(ctx, http.MethodPost, "/apps/"+url.PathEscape(name)+"/"+act, &out)
	return out, err
}

// do performs the request and decodes a 200 body into out.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}
