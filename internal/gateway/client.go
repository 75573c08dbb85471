// Package gateway wraps the HTTP round trip to the remote reasoning
// server. Non-200 responses are hard failures for the caller; the client
// does not retry.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/SohamRatnaparkhi/navigator-ai/pkg/models"
)

const defaultTimeout = 30 * time.Second

// Client talks to the reasoning server
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a gateway client. A zero timeout falls back to the
// default; the update call otherwise rides this transport timeout.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateTask registers a new task and returns the server-assigned task id
func (c *Client) CreateTask(ctx context.Context, task string) (string, error) {
	var resp models.TaskCreateResponse
	if err := c.post(ctx, "/tasks/create", models.TaskCreateRequest{Task: task}, &resp); err != nil {
		return "", fmt.Errorf("task creation failed: %w", err)
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("task creation returned no task_id")
	}

	c.logger.Info("task created", zap.String("task_id", resp.TaskID))
	return resp.TaskID, nil
}

// SendUpdate round-trips one DOM update and returns the server's plan
func (c *Client) SendUpdate(ctx context.Context, update models.DOMUpdateRequest) (*models.DOMUpdateResponse, error) {
	var resp models.DOMUpdateResponse
	if err := c.post(ctx, "/tasks/update", update, &resp); err != nil {
		return nil, fmt.Errorf("task update failed: %w", err)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
