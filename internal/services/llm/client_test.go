package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"scribe/internal/gateway"
)

type capturedRequest struct {
	Path           string
	Auth           string
	Title          string
	Model          string           `json:"model"`
	Messages       []map[string]any `json:"messages"`
	ResponseFormat map[string]any   `json:"response_format"`
}

func newCompletionServer(t *testing.T, reply func(w http.ResponseWriter, req capturedRequest)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		req.Path = r.URL.Path
		req.Auth = r.Header.Get("Authorization")
		req.Title = r.Header.Get("X-Title")
		w.Header().Set("Content-Type", "application/json")
		reply(w, req)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeContent(w http.ResponseWriter, content, finishReason string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "cmpl-1",
		"object":  "chat.completion",
		"choices": []any{map[string]any{"index": 0, "finish_reason": finishReason, "message": map[string]any{"role": "assistant", "content": content}}},
	})
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": message, "type": "error"}})
}

func TestCompleteSendsPromptsAndHeaders(t *testing.T) {
	var seen capturedRequest
	server := newCompletionServer(t, func(w http.ResponseWriter, req capturedRequest) {
		seen = req
		writeContent(w, "The lecture covers recursion [1].", "stop")
	})

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "demo", Title: "scribe"})
	got, err := client.Complete(context.Background(), "Answer from context.", "What is covered?")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "The lecture covers recursion [1]." {
		t.Fatalf("Complete = %q", got)
	}
	if seen.Path != "/chat/completions" || seen.Auth != "Bearer k" || seen.Title != "scribe" || seen.Model != "demo" {
		t.Fatalf("unexpected request %+v", seen)
	}
	if seen.ResponseFormat != nil {
		t.Fatalf("free-text completion requested a response format: %v", seen.ResponseFormat)
	}
	if len(seen.Messages) != 2 || seen.Messages[1]["content"] != "What is covered?" {
		t.Fatalf("unexpected messages %+v", seen.Messages)
	}
}

func TestBaseURLWithCompletionsPathIsTrimmed(t *testing.T) {
	var path string
	server := newCompletionServer(t, func(w http.ResponseWriter, req capturedRequest) {
		path = req.Path
		writeContent(w, "ok", "stop")
	})
	client := NewClient(Config{APIKey: "k", BaseURL: server.URL + "/chat/completions"})
	if _, err := client.Complete(context.Background(), "sys", "user"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if path != "/chat/completions" {
		t.Fatalf("path = %q", path)
	}
}

func TestCompleteJSONRequestsJSONObject(t *testing.T) {
	server := newCompletionServer(t, func(w http.ResponseWriter, req capturedRequest) {
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("response_format = %v", req.ResponseFormat)
		}
		writeContent(w, "```json\n{\"summary\":\"intro\"}\n```", "stop")
	})

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	var out struct {
		Summary string `json:"summary"`
	}
	if err := client.CompleteJSONInto(context.Background(), "sys", "user", &out); err != nil {
		t.Fatalf("CompleteJSONInto: %v", err)
	}
	if out.Summary != "intro" {
		t.Fatalf("summary = %q", out.Summary)
	}
}

func newModelsServer(t *testing.T, ids ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/models" {
			writeAPIError(w, http.StatusNotFound, "no route "+r.URL.Path)
			return
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			writeAPIError(w, http.StatusUnauthorized, "bad key")
			return
		}
		data := make([]any, 0, len(ids))
		for _, id := range ids {
			data = append(data, map[string]any{"id": id, "object": "model", "created": 0, "owned_by": "test"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHealthCheckListsModelsWithoutInference(t *testing.T) {
	server := newModelsServer(t, "other/model", "demo")

	if err := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "demo"}).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	err := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "missing"}).HealthCheck(context.Background())
	if err == nil || !strings.Contains(err.Error(), `"missing"`) {
		t.Fatalf("expected unlisted model error, got %v", err)
	}
	err = NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"}).HealthCheck(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 status error, got %v", err)
	}
}

func TestThrottlingIsReportedAfterOneRequest(t *testing.T) {
	var calls atomic.Int32
	server := newCompletionServer(t, func(w http.ResponseWriter, _ capturedRequest) {
		calls.Add(1)
		w.Header().Set("Retry-After", "7")
		writeAPIError(w, http.StatusTooManyRequests, "slow down")
	})

	_, err := NewClient(Config{APIKey: "k", BaseURL: server.URL}).Complete(context.Background(), "sys", "user")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if !statusErr.Throttled() || statusErr.Transient() || statusErr.RetryAfter() != 7*time.Second {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("provider saw %d requests, want 1", calls.Load())
	}
}

func TestServerErrorIsTransientAndNotRepeated(t *testing.T) {
	var calls atomic.Int32
	server := newCompletionServer(t, func(w http.ResponseWriter, _ capturedRequest) {
		calls.Add(1)
		writeAPIError(w, http.StatusBadGateway, "upstream")
	})

	_, err := NewClient(Config{APIKey: "k", BaseURL: server.URL}).Complete(context.Background(), "sys", "user")
	if !gateway.IsTransient(err) || gateway.IsThrottled(err) {
		t.Fatalf("expected transient, unthrottled error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("provider saw %d requests, want 1", calls.Load())
	}
}

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

// countingWindow counts the reservations the gateway is granted.
type countingWindow struct {
	gateway.Window
	admitted int
}

func (w *countingWindow) Reserve(ctx context.Context, now time.Time, units int) (time.Duration, error) {
	wait, err := w.Window.Reserve(ctx, now, units)
	if err == nil && wait <= 0 {
		w.admitted++
	}
	return wait, err
}

func TestGatewayChargesEveryProviderRequest(t *testing.T) {
	var calls atomic.Int32
	server := newCompletionServer(t, func(w http.ResponseWriter, _ capturedRequest) {
		if calls.Add(1) < 3 {
			writeAPIError(w, http.StatusInternalServerError, "overloaded")
			return
		}
		writeContent(w, `{"ok":true}`, "stop")
	})

	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	window := &countingWindow{Window: gateway.NewMemoryWindow(gateway.Limits{MaxCalls: 1, Span: time.Minute})}
	gw := gateway.New(window, gateway.Options{MaxRetries: 3, BackoffBase: time.Second}, gateway.WithClock(clock))
	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})

	start := clock.now
	got, err := gateway.Call(context.Background(), gw, "llm", 1, func(ctx context.Context) (string, error) {
		return client.CompleteJSON(ctx, "sys", "user")
	})
	if err != nil || got != `{"ok":true}` {
		t.Fatalf("Call = %q, %v", got, err)
	}
	if int(calls.Load()) != window.admitted || window.admitted != 3 {
		t.Fatalf("provider requests = %d, admissions = %d", calls.Load(), window.admitted)
	}
	if elapsed := clock.now.Sub(start); elapsed < 2*time.Minute {
		t.Fatalf("three calls under a one-per-minute cap finished after %v", elapsed)
	}
}

func TestEmptyReplyReportsFinishReason(t *testing.T) {
	server := newCompletionServer(t, func(w http.ResponseWriter, _ capturedRequest) {
		writeContent(w, "", "length")
	})
	_, err := NewClient(Config{APIKey: "k", BaseURL: server.URL}).CompleteJSON(context.Background(), "sys", "user")
	if err == nil || !strings.Contains(err.Error(), `finish_reason="length"`) {
		t.Fatalf("expected empty content error with finish reason, got %v", err)
	}
	if !gateway.IsTransient(err) {
		t.Fatalf("empty reply should be transient: %v", err)
	}
}

func TestRequestValidation(t *testing.T) {
	if _, err := NewClient(Config{}).Complete(context.Background(), "sys", "user"); err == nil {
		t.Fatal("expected missing api key error")
	}
	if _, err := NewClient(Config{APIKey: "k"}).Complete(context.Background(), "", "user"); err == nil {
		t.Fatal("expected missing system prompt error")
	}
}

func TestDecodeLLMJSON(t *testing.T) {
	var out struct {
		Seconds float64 `json:"content_start_seconds"`
	}
	if err := DecodeLLMJSON(`Sure! {"content_start_seconds": 42.5} Hope that helps.`, &out); err != nil {
		t.Fatalf("DecodeLLMJSON: %v", err)
	}
	if out.Seconds != 42.5 {
		t.Fatalf("seconds = %v", out.Seconds)
	}
	if err := DecodeLLMJSON("   ", &out); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if err := DecodeLLMJSON("no json here", &out); err == nil {
		t.Fatal("expected error without a json value")
	}
}
