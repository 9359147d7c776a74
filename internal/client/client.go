// Package client is a Go client for the scrapeflow HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/api"
	"github.com/JakeFAU/scrapeflow/internal/task"
)

// Error is a non-2xx API answer.
type Error struct {
	StatusCode int
	Message    string
	TaskID     string
}

func (e *Error) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("scrapeflow api: status %d: %s (task %s)", e.StatusCode, e.Message, e.TaskID)
	}
	return fmt.Sprintf("scrapeflow api: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status code onto the task error taxonomy. Only provider
// failures carry a task id on a non-500 answer, and their status is the
// provider's own.
func (e *Error) Unwrap() error {
	switch {
	case e.TaskID != "" && e.StatusCode != http.StatusInternalServerError:
		return task.ErrProvider
	case e.StatusCode == http.StatusBadRequest:
		return task.ErrInvalidInput
	case e.StatusCode == http.StatusUnauthorized:
		return task.ErrUnauthorized
	case e.StatusCode == http.StatusForbidden:
		return task.ErrInactiveKey
	case e.StatusCode == http.StatusNotFound:
		return task.ErrNotFound
	default:
		return nil
	}
}

// Client calls the API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a Client. A nil httpClient gets a default one with a timeout
// long enough for a synchronous submit.
func New(baseURL, token string, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, token: token, httpClient: httpClient, logger: logger.Named("api_client")}, nil
}

// Submit starts a crawl. When the server created a task before failing, the
// returned result carries its id next to the error.
func (c *Client) Submit(ctx context.Context, rawURL string) (task.SubmitResult, error) {
	var resp api.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/v1/crawl", api.SubmitRequest{URL: rawURL}, &resp)
	res := task.SubmitResult{
		TaskID:      resp.TaskID,
		Status:      resp.Status,
		URL:         resp.URL,
		Completed:   resp.Completed,
		Total:       resp.Total,
		CreditsUsed: resp.CreditsUsed,
		ExpiresAt:   resp.ExpiresAt,
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && res.TaskID == "" {
		res.TaskID = apiErr.TaskID
	}
	return res, err
}

// GetStatus reads a task and its items.
func (c *Client) GetStatus(ctx context.Context, taskID string) (task.Snapshot, error) {
	var resp api.StatusResponse
	if err := c.do(ctx, http.MethodPost, "/v1/crawl/status", api.StatusRequest{TaskID: taskID}, &resp); err != nil {
		return task.Snapshot{}, err
	}
	items := resp.Data
	if items == nil {
		items = []task.Item{}
	}
	return task.Snapshot{Task: resp.Task, Items: items}, nil
}

// Recent lists the caller's newest tasks. A non-positive limit uses the
// server default.
func (c *Client) Recent(ctx context.Context, limit int) ([]task.Task, error) {
	path := "/v1/tasks"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp api.RecentResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Export streams the export document of a task into w.
func (c *Client) Export(ctx context.Context, taskID string, w io.Writer) error {
	resp, err := c.send(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(taskID)+"/export", nil)
	if err != nil {
		return err
	}
	defer c.closeBody(resp)
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read export: %w", err)
	}
	return nil
}

// VerifyKey resolves the owner of an API key. The key is sent as the bearer
// credential in place of the client token.
func (c *Client) VerifyKey(ctx context.Context, key string) (string, error) {
	keyed := *c
	keyed.token = key
	var resp api.VerifyKeyResponse
	if err := keyed.do(ctx, http.MethodPost, "/v1/keys/verify", nil, &resp); err != nil {
		return "", err
	}
	return resp.UserID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer c.closeBody(resp)
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return resp, nil
	}
	defer c.closeBody(resp)
	apiErr := &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var errBody api.ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &errBody) == nil {
		if errBody.Error != "" {
			apiErr.Message = errBody.Error
		}
		apiErr.TaskID = errBody.TaskID
	}
	c.logger.Debug("api error", zap.String("path", path), zap.Int("status_code", resp.StatusCode), zap.String("message", apiErr.Message))
	return nil, apiErr
}

func (c *Client) closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		c.logger.Debug("failed to close response body", zap.Error(err))
	}
}
