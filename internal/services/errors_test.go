package services_test

import (
	"errors"
	"strings"
	"testing"

	"scribe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "transcription", "whisperx", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcription", "whisperx", "failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "indexing", "embed", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !services.Retryable(err) {
		t.Fatal("expected transient error to be retryable")
	}
}

func TestDetailsClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind services.ErrorKind
	}{
		{"policy", services.Wrap(services.ErrPolicy, "validation", "duration", "too short", nil), services.KindPolicy},
		{"cancelled", services.Wrap(services.ErrCancelled, "analysis", "", "cancelled by operator", nil), services.KindCancelled},
		{"timeout", services.Wrap(services.ErrTimeout, "metadata", "probe", "", errors.New("deadline")), services.KindTimeout},
		{"plain", errors.New("plain"), services.KindUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			details := services.Details(tc.err)
			if details.Kind != tc.kind {
				t.Fatalf("kind = %q, want %q", details.Kind, tc.kind)
			}
			if details.Hint == "" {
				t.Fatal("expected hint")
			}
		})
	}
}

func TestDetailsMessageOmitsMarker(t *testing.T) {
	err := services.Wrap(services.ErrPolicy, "validation", "duration window", "duration 200s below minimum 300s", nil)
	details := services.Details(err)
	if details.Stage != "validation" {
		t.Fatalf("stage = %q", details.Stage)
	}
	if details.Message != "duration window: duration 200s below minimum 300s" {
		t.Fatalf("unexpected message %q", details.Message)
	}
	if services.Retryable(err) {
		t.Fatal("policy violations must not be retryable")
	}
}
