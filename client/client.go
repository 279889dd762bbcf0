// Package client provides a Go client for a remote workflow engine
// exposed through the HTTP API.
//
// Usage:
//
//	c := client.New("http://localhost:8080")
//
//	instID, err := c.CreateInstance(ctx, client.CreateInstanceRequest{
//	    WorkflowKey: "order-pipeline",
//	    Start:       true,
//	})
//	...
//	err = c.CompleteActivity(ctx, instID, "reserve-stock", vars.Map{"reserved": true})
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nightBaker/fleans-sub002/backoff"
	"github.com/nightBaker/fleans-sub002/definition"
	"github.com/nightBaker/fleans-sub002/id"
	"github.com/nightBaker/fleans-sub002/instance"
	"github.com/nightBaker/fleans-sub002/vars"
)

// Client calls a remote engine's HTTP API.
type Client struct {
	baseURL string
	httpc   *http.Client

	maxAttempts int
	retryDelay  backoff.Strategy
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// New creates a client for the engine API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpc:       &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 1,
		retryDelay:  backoff.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateInstanceRequest describes a new workflow instance. A non-empty
// WorkflowKey assigns the definition on creation; Start additionally
// starts execution. Version zero resolves to the latest version.
type CreateInstanceRequest struct {
	WorkflowKey string `json:"workflow_key,omitempty"`
	Version     int    `json:"version,omitempty"`
	Start       bool   `json:"start,omitempty"`
}

// RegisterDefinition uploads a process definition and returns its
// server-assigned ID.
func (c *Client) RegisterDefinition(ctx context.Context, def *definition.ProcessDefinition) (id.DefinitionID, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/definitions", def, &resp); err != nil {
		return id.Nil, err
	}
	return id.ParseDefinitionID(resp.ID)
}

// CreateInstance creates a workflow instance.
func (c *Client) CreateInstance(ctx context.Context, req CreateInstanceRequest) (id.InstanceID, error) {
	var resp struct {
		InstanceID string `json:"instance_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/instances", req, &resp); err != nil {
		return id.Nil, err
	}
	return id.ParseInstanceID(resp.InstanceID)
}

// StartWorkflow starts execution of an instance whose workflow is set.
func (c *Client) StartWorkflow(ctx context.Context, instID id.InstanceID) error {
	return c.do(ctx, http.MethodPost, "/v1/instances/"+instID.String()+"/start", nil, nil)
}

// CompleteActivity reports an external task as done, merging the given
// variables into the instance before routing continues.
func (c *Client) CompleteActivity(ctx context.Context, instID id.InstanceID, activityID string, variables vars.Map) error {
	body := struct {
		Variables vars.Map `json:"variables,omitempty"`
	}{Variables: variables}
	return c.do(ctx, http.MethodPost,
		"/v1/instances/"+instID.String()+"/activities/"+activityID+"/complete", body, nil)
}

// FailActivity reports an external task failure with a business error
// code and message, triggering error routing.
func (c *Client) FailActivity(ctx context.Context, instID id.InstanceID, activityID string, code int, message string) error {
	body := struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{Code: code, Message: message}
	return c.do(ctx, http.MethodPost,
		"/v1/instances/"+instID.String()+"/activities/"+activityID+"/fail", body, nil)
}

// Instance fetches the current snapshot of an instance.
func (c *Client) Instance(ctx context.Context, instID id.InstanceID) (*instance.Snapshot, error) {
	var snap instance.Snapshot
	if err := c.do(ctx, http.MethodGet, "/v1/instances/"+instID.String(), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Instances lists instance snapshots. A non-nil completed filters by
// completion state.
func (c *Client) Instances(ctx context.Context, completed *bool) ([]instance.Snapshot, error) {
	path := "/v1/instances"
	if completed != nil {
		path += fmt.Sprintf("?completed=%t", *completed)
	}
	var snaps []instance.Snapshot
	if err := c.do(ctx, http.MethodGet, path, nil, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// do sends one API request, retrying transport failures and gateway
// errors per the configured backoff.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.retryDelay.Delay(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var retryable bool
		retryable, lastErr = c.once(ctx, method, path, payload, out)
		if lastErr == nil || !retryable {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) (retryable bool, err error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return false, fmt.Errorf("client: build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return true, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		// Gateway-class statuses are worth retrying; everything else is
		// a definitive answer from the engine.
		retryable := resp.StatusCode == http.StatusBadGateway ||
			resp.StatusCode == http.StatusServiceUnavailable ||
			resp.StatusCode == http.StatusGatewayTimeout
		return retryable, &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("client: decode response: %w", err)
		}
	}
	return false, nil
}
