// Package cli implements the HTTP client behind the recoveryctl command.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a recoveryd API server.
type Client struct {
	base string
	http *http.Client
}

// NewClient validates the base URL and returns a Client.
func NewClient(base string) (*Client, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return nil, errors.New("api base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	return &Client{
		base: base,
		http: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// StartExecution creates an execution and returns its id.
func (c *Client) StartExecution(ctx context.Context, planID, mode string) (string, error) {
	var out struct {
		ExecutionID string `json:"execution_id"`
	}
	body := map[string]string{"plan_id": planID, "mode": mode}
	if err := c.do(ctx, http.MethodPost, "/v1/executions", body, &out); err != nil {
		return "", err
	}
	return out.ExecutionID, nil
}

// Execution fetches the full execution record as raw JSON for display.
func (c *Client) Execution(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Pause requests a pause for the execution.
func (c *Client) Pause(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/executions/"+url.PathEscape(id)+"/pause", nil, nil)
}

// Resume moves a paused execution back to running.
func (c *Client) Resume(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/executions/"+url.PathEscape(id)+"/resume", nil, nil)
}

// Cancel requests cooperative cancellation.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/executions/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// ReportURL returns a presigned download link for a terminal execution's
// report.
func (c *Client) ReportURL(ctx context.Context, id string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+url.PathEscape(id)+"/report", nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// Capacity fetches the combined capacity view for a target account.
func (c *Client) Capacity(ctx context.Context, accountID string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/capacity/"+url.PathEscape(accountID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}

	if dest == nil {
		return nil
	}
	return json.Unmarshal(payload, dest)
}
