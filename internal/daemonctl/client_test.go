package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"scribe/internal/api"
	"scribe/internal/retrieval"
)

func TestClientSendsTokenAndDecodes(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		if r.Method != http.MethodGet || r.URL.Path != "/api/jobs" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(api.JobListResponse{Jobs: []api.Job{{ID: "j1", Status: "queued"}}})
	}))
	defer srv.Close()

	client := New(srv.URL, "secret")
	jobs, err := client.ListJobs(context.Background(), []string{"queued", "running"}, 7, 5)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j1" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if gotQuery != "limit=5&media_id=7&status=queued%2Crunning" {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestClientPostsSearchBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req retrieval.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Query != "gravity" || req.TopK != 3 {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(api.SearchResponse{Results: []retrieval.Result{{SegmentID: 9, Text: "gravity waves"}}})
	}))
	defer srv.Close()

	results, err := New(srv.URL, "").Search(context.Background(), retrieval.Request{Query: "gravity", TopK: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].SegmentID != 9 {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestClientReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "job missing not found", Kind: "not_found"})
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Job(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Kind != "not_found" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestClientReportsUnreachableDaemon(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()

	_, err := New(addr, "").Status(context.Background())
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadPID(filepath.Join(dir, "missing.pid")); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("missing pid file: got %v", err)
	}

	bad := filepath.Join(dir, "bad.pid")
	if err := os.WriteFile(bad, []byte("nope\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPID(bad); err == nil {
		t.Fatal("expected error for malformed pid file")
	}

	self := filepath.Join(dir, "self.pid")
	if err := os.WriteFile(self, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPID(self); err == nil {
		t.Fatal("expected refusal for current pid")
	}

	good := filepath.Join(dir, "good.pid")
	if err := os.WriteFile(good, []byte("4242\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	pid, err := ReadPID(good)
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPID = %d, %v", pid, err)
	}
}
