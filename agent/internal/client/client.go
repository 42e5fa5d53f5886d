// Package client provides the control plane API client for agents.
//
// # Operations
//
// - Register: Initial agent registration
// - Heartbeat: Periodic health reporting
// - GetTasks: Fetch the tasks visible to this agent
// - GetSystemVariables: Fetch tenant system variables for api programs
// - ReportResult: Submit one execution result
//
// All responses use the `{code, data, message}` envelope; code 0 is success.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/probenet-io/probenet/pkg/types"
)

// Client communicates with the control plane.
type Client struct {
	baseURL    string
	httpClient *http.Client
	agentID    string
	authToken  string
}

// Config for the client.
type Config struct {
	BaseURL    string
	AgentID    string
	AuthToken  string
	HTTPClient *http.Client
}

// NewClient creates a new control plane client.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		agentID:    cfg.AgentID,
		authToken:  cfg.AuthToken,
	}
}

// envelope is the server's standard response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Register announces the agent to the control plane. Safe to repeat; the
// server upserts by agent_id.
func (c *Client) Register(ctx context.Context, req types.RegisterRequest) error {
	return c.call(ctx, http.MethodPost, "/api/v1/nodes/register", req, nil)
}

// Heartbeat sends a health report.
func (c *Client) Heartbeat(ctx context.Context, hb types.Heartbeat) error {
	return c.call(ctx, http.MethodPost, "/api/v1/nodes/heartbeat", hb, nil)
}

// GetTasks fetches the tasks currently visible to this agent. Config payloads
// arrive raw and are decoded per task type here, on the consuming side.
func (c *Client) GetTasks(ctx context.Context) ([]types.Task, error) {
	path := "/api/v1/tasks/agent?agent_id=" + url.QueryEscape(c.agentID)
	var tasks []types.Task
	if err := c.call(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].Config.Decode(tasks[i].Type)
	}
	return tasks, nil
}

// GetSystemVariables fetches tenant system variables as a name-to-value map.
func (c *Client) GetSystemVariables(ctx context.Context) (map[string]string, error) {
	var vars []types.SystemVariable
	if err := c.call(ctx, http.MethodGet, "/api/v1/system-variables", nil, &vars); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(vars))
	for _, v := range vars {
		out[v.Name] = v.Value
	}
	return out, nil
}

// ReportResult submits one execution result.
func (c *Client) ReportResult(ctx context.Context, result *types.Result) error {
	return c.call(ctx, http.MethodPost, "/api/v1/results", result, nil)
}

// Ping tests connectivity to the control plane.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

// call performs a request and decodes the envelope. out, when non-nil,
// receives the envelope's data field.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "probenet-agent/1.0")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if c.agentID != "" {
		req.Header.Set("X-Agent-ID", c.agentID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, truncate(raw, 512))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("%s %s server error %d: %s", method, path, env.Code, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding data: %w", err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
