// Package fabricate talks to the remote data generation service: it submits
// a JSONL generate task, polls it until it completes and downloads the
// result.
package fabricate

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mcncl/jsonflat/internal/errors"
	"github.com/mcncl/jsonflat/internal/httpclient"
)

const (
	// DefaultPollInterval is the pause between two task status checks
	DefaultPollInterval = time.Second
	// DefaultRequestTimeout bounds task create and status requests
	DefaultRequestTimeout = 60 * time.Second

	maxResponseBody = 1 << 20
)

var errNotCompleted = stderrors.New("task not completed yet")

// Job identifies the table whose data is generated
type Job struct {
	Workspace string
	Database  string
	Entity    string
}

// Task is the status of a generate task as reported by the service
type Task struct {
	ID        string          `json:"id"`
	Completed bool            `json:"completed"`
	Progress  int             `json:"progress"`
	DataURL   *string         `json:"data_url"`
	Err       json.RawMessage `json:"error"`
}

// ErrorText returns the task error as text, or "" when the service reported
// none.
func (t *Task) ErrorText() string {
	return rawText(t.Err)
}

// rawText unquotes a JSON string and returns any other non-null JSON value
// verbatim.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Client is a remote service client. It is safe for concurrent use.
type Client struct {
	apiURL       string
	apiKey       string
	api          *http.Client
	download     *http.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the client used for task requests
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.api = c
	}
}

// WithDownloadClient replaces the client used to fetch task results
func WithDownloadClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.download = c
	}
}

// WithPollInterval sets the pause between status checks
func WithPollInterval(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.pollInterval = d
		}
	}
}

// WithLogger sets the logger used for progress reporting
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a client for the API rooted at apiURL (for example
// https://fabricate.tonic.ai/api/v1) authenticating with apiKey.
func NewClient(apiURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		apiURL:       strings.TrimSuffix(apiURL, "/"),
		apiKey:       apiKey,
		api:          httpclient.NewClient(httpclient.WithTimeout(DefaultRequestTimeout), httpclient.WithUserAgent(userAgent)),
		download:     httpclient.NewClient(httpclient.WithUserAgent(userAgent)),
		pollInterval: DefaultPollInterval,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const userAgent = "jsonflat"

type createTaskRequest struct {
	Format    string `json:"format"`
	Database  string `json:"database"`
	Workspace string `json:"workspace"`
	Entity    string `json:"entity"`
}

type createTaskResponse struct {
	ID  json.RawMessage `json:"id"`
	Err json.RawMessage `json:"error"`
}

// CreateTask submits a JSONL generate task for job and returns its id.
// Submissions are never retried.
func (c *Client) CreateTask(ctx context.Context, job Job) (string, error) {
	payload, err := json.Marshal(createTaskRequest{
		Format:    "jsonl",
		Database:  job.Database,
		Workspace: job.Workspace,
		Entity:    job.Entity,
	})
	if err != nil {
		return "", errors.NewRemoteError("failed to encode generate task", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/generate_tasks", bytes.NewReader(payload))
	if err != nil {
		return "", errors.NewRemoteError("failed to create generate task", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.doAPI(req, "failed to create generate task")
	if err != nil {
		return "", err
	}

	var resp createTaskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.NewRemoteError("failed to decode generate task response", err)
	}
	if msg := rawText(resp.Err); msg != "" {
		return "", errors.NewRemoteError("API error: "+msg, nil)
	}
	id := rawText(resp.ID)
	if id == "" {
		return "", errors.NewRemoteError("generate task response has no id", nil)
	}
	return id, nil
}

// GetTask fetches the current status of task id
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/generate_tasks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, errors.NewRemoteError("failed to poll task", err)
	}

	body, err := c.doAPI(req, "failed to poll task")
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, errors.NewRemoteError("failed to decode task status", err)
	}
	if task.ID == "" {
		task.ID = id
	}
	return &task, nil
}

// WaitForTask polls task id until it completes. A task that reports an
// error before completing, or any failed status request, ends the wait.
// Only the status check is repeated; ctx bounds the total wait.
func (c *Client) WaitForTask(ctx context.Context, id string) (*Task, error) {
	var done *Task
	op := func() error {
		task, err := c.GetTask(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if task.Completed {
			done = task
			return nil
		}
		if msg := task.ErrorText(); msg != "" {
			return backoff.Permanent(errors.NewRemoteError("task error: "+msg, errors.ErrTaskFailed))
		}
		c.logger.Info(fmt.Sprintf("Waiting for %s to complete... %d%%", id, task.Progress))
		return errNotCompleted
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.pollInterval), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return done, nil
}

func (c *Client) doAPI(req *http.Request, action string) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	c.logger.Debug("remote request", zap.String("method", req.Method), zap.String("url", req.URL.String()))

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, errors.NewRemoteError(action, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, errors.NewRemoteError(action, err)
	}
	c.logger.Debug("remote response", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(body)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewRemoteError(
			fmt.Sprintf("%s: %s\nResponse: %s", action, resp.Status, strings.TrimSpace(string(body))),
			fmt.Errorf("%w: %d", errors.ErrUnexpectedStatus, resp.StatusCode),
		)
	}
	return body, nil
}
