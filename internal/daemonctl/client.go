// Package daemonctl talks to a running scribe daemon over its HTTP API and
// manages the daemon process lifecycle for the CLI.
package daemonctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"scribe/internal/api"
	"scribe/internal/assistant"
	"scribe/internal/config"
	"scribe/internal/retrieval"
)

// ErrDaemonNotRunning indicates the daemon API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
	Hint       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

// Client is a thin HTTP client for the daemon API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New builds a client for the daemon listening on addr. addr may be a bare
// host:port or a full URL.
func New(addr, token string, opts ...Option) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		baseURL:    base,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig builds a client from the api_bind and api_token settings.
func FromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if strings.TrimSpace(cfg.Paths.APIBind) == "" {
		return nil, errors.New("api_bind is empty; the daemon API is disabled")
	}
	return New(cfg.Paths.APIBind, cfg.Paths.APIToken, opts...), nil
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var resp api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit enqueues a media reference.
func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (*api.SubmitResponse, error) {
	var resp api.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListJobs returns jobs filtered by status and media id. Zero values mean no filter.
func (c *Client) ListJobs(ctx context.Context, statuses []string, mediaID int64, limit int) ([]api.Job, error) {
	query := url.Values{}
	if len(statuses) > 0 {
		query.Set("status", strings.Join(statuses, ","))
	}
	if mediaID > 0 {
		query.Set("media_id", strconv.FormatInt(mediaID, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp api.JobListResponse
	if err := c.do(ctx, http.MethodGet, withQuery("/api/jobs", query), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Job fetches one job.
func (c *Client) Job(ctx context.Context, id string) (*api.Job, error) {
	return c.jobCall(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id))
}

// CancelJob requests cancellation of a job.
func (c *Client) CancelJob(ctx context.Context, id string) (*api.Job, error) {
	return c.jobCall(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel")
}

// RetryJob resubmits a failed job and returns the new job.
func (c *Client) RetryJob(ctx context.Context, id string) (*api.Job, error) {
	return c.jobCall(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/retry")
}

func (c *Client) jobCall(ctx context.Context, method, path string) (*api.Job, error) {
	var resp api.JobResponse
	if err := c.do(ctx, method, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// Media fetches a media item, optionally with its transcript text.
func (c *Client) Media(ctx context.Context, id int64, withTranscript bool) (*api.Media, error) {
	path := "/api/media/" + strconv.FormatInt(id, 10)
	if withTranscript {
		path += "?transcript=1"
	}
	var resp api.MediaResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Media, nil
}

// Search runs a hybrid search.
func (c *Client) Search(ctx context.Context, req retrieval.Request) ([]retrieval.Result, error) {
	var resp api.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/search", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Ask asks a question answered from indexed transcripts.
func (c *Client) Ask(ctx context.Context, req assistant.Request) (*assistant.Answer, error) {
	var resp api.AskResponse
	if err := c.do(ctx, http.MethodPost, "/api/ask", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Progress fetches progress events after since. When wait is set the daemon
// holds the request until an event arrives or its wait window elapses.
func (c *Client) Progress(ctx context.Context, since uint64, mediaID int64, limit int, wait bool) (*api.ProgressResponse, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatUint(since, 10))
	if mediaID > 0 {
		query.Set("media_id", strconv.FormatInt(mediaID, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if wait {
		query.Set("wait", "1")
	}
	var resp api.ProgressResponse
	if err := c.do(ctx, http.MethodGet, withQuery("/api/progress", query), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.baseURL == "" {
		return ErrDaemonNotRunning
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isUnavailable(err) {
			return fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var payload api.ErrorResponse
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Kind = payload.Kind
		apiErr.Hint = payload.Hint
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

func isUnavailable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

func withQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}
