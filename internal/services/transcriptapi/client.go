// Package transcriptapi is a client for the official transcript service that
// backs the second resolver tier.
package transcriptapi

import (
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
)

const (
	defaultHTTPTimeout = 45 * time.Second
	defaultUserAgent   = "scribe/dev"
	transcriptsPath    = "v1/transcripts"
)

var (
	// ErrNoTranscript means the service has no transcript for the reference.
	ErrNoTranscript = errors.New("transcriptapi: no transcript available")
	// ErrMediaGone means the service reports the media as removed or blocked.
	ErrMediaGone = errors.New("transcriptapi: media unavailable")
)

// Config describes the client configuration.
type Config struct {
	BaseURL    string
	APIKey     string
	UserAgent  string
	HTTPClient *http.Client
}

// Client calls the transcript API.
type Client struct {
	baseURL   *url.URL
	apiKey    string
	userAgent string
	http      *http.Client
}

// New creates a Client. BaseURL is required.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("transcriptapi: base url is required")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("transcriptapi: parse base url: %w", err)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		baseURL:   baseURL,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		userAgent: userAgent,
		http:      client,
	}, nil
}

// Cue is one timed line of the transcript.
type Cue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the service response body.
type Transcript struct {
	Ref      string `json:"ref"`
	Language string `json:"language"`
	Cues     []Cue  `json:"cues"`
}

// Text joins cue text with single spaces.
func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.Cues))
	for _, cue := range t.Cues {
		if text := strings.Join(strings.Fields(cue.Text), " "); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// StatusError reports a non-success HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
	After      time.Duration
}

func (e *StatusError) Error() string {
	body := e.Body
	if body == "" {
		body = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("transcriptapi: status %d: %s", e.StatusCode, body)
}

// Throttled reports upstream rate limiting.
func (e *StatusError) Throttled() bool { return e.StatusCode == http.StatusTooManyRequests }

// RetryAfter returns the Retry-After hint, if any.
func (e *StatusError) RetryAfter() time.Duration { return e.After }

// Fetch retrieves the transcript for ref in one of langs.
//
// 404 and 204 map to ErrNoTranscript. 410 and 451 map to ErrMediaGone. Other
// failures return *StatusError or the transport error.
func (c *Client) Fetch(ctx context.Context, ref string, langs []string) (Transcript, error) {
	if c == nil {
		return Transcript{}, errors.New("transcriptapi: client is nil")
	}
	endpoint := c.baseURL.JoinPath(transcriptsPath)
	params := url.Values{}
	params.Set("ref", ref)
	if len(langs) > 0 {
		params.Set("lang", strings.Join(langs, ","))
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcriptapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcriptapi: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return Transcript{}, ErrNoTranscript
	case http.StatusGone, http.StatusUnavailableForLegalReasons:
		return Transcript{}, fmt.Errorf("%w (status %d)", ErrMediaGone, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); convErr == nil && seconds > 0 {
			statusErr.After = time.Duration(seconds) * time.Second
		}
		return Transcript{}, statusErr
	}

	var payload Transcript
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Transcript{}, fmt.Errorf("transcriptapi: decode response: %w", err)
	}
	if len(payload.Cues) == 0 || payload.Text() == "" {
		return Transcript{}, ErrNoTranscript
	}
	return payload, nil
}

// IsRetriable reports whether err is worth retrying: throttling, server
// errors, and network timeouts.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, token := range []string{"connection reset", "connection refused", "temporary failure", "eof"} {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}
