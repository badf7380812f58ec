// Package http implements the agent registry client over plain HTTP. The
// registry speaks a tool-style protocol: every operation returns a free-form
// string, and failures surface as response text rather than errors so the
// registration loop can apply its prefix-based failure detection uniformly.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quadracode/quadracode/runtime/registration"
)

type (
	// Option configures the HTTP client.
	Option func(*Client)

	// Client implements registration.Client against an HTTP registry.
	Client struct {
		baseURL string
		http    *http.Client
		headers http.Header
	}
)

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) Option {
	return func(cl *Client) {
		if cl.headers == nil {
			cl.headers = make(http.Header)
		}
		cl.headers.Add(name, value)
	}
}

// WithBearerToken configures the client to send an Authorization Bearer token.
func WithBearerToken(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

// New constructs a Client talking to the registry at baseURL (for example,
// "http://registry.internal:9100").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("registry base URL is required")
	}
	cl := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(http.Header),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	if cl.http == nil {
		cl.http = &http.Client{Timeout: 30 * time.Second}
	}
	return cl, nil
}

// Ensure Client implements registration.Client.
var _ registration.Client = (*Client)(nil)

// RegisterAgent announces the agent and its health endpoint to the registry.
func (c *Client) RegisterAgent(ctx context.Context, agentID, host string, port int) (string, error) {
	return c.post(ctx, "/register_agent", map[string]any{
		"agent_id": agentID,
		"host":     host,
		"port":     port,
	})
}

// Heartbeat refreshes the agent's registry record.
func (c *Client) Heartbeat(ctx context.Context, agentID, status string) (string, error) {
	return c.post(ctx, "/heartbeat", map[string]any{
		"agent_id": agentID,
		"status":   status,
	})
}

// UnregisterAgent removes the agent's registry record.
func (c *Client) UnregisterAgent(ctx context.Context, agentID string) (string, error) {
	return c.post(ctx, "/unregister_agent", map[string]any{
		"agent_id": agentID,
	})
}

// post issues the request and translates outcomes into the registry's string
// protocol: transport failures and non-2xx statuses become failure-prefixed
// response text, never Go errors.
func (c *Client) post(ctx context.Context, path string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Sprintf("unable to reach registry at %s: %v", url, err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	text, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Sprintf("registry request failed: reading response: %v", err), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Sprintf("registry request failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(text))), nil
	}
	return string(text), nil
}
