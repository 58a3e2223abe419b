package testsupport

import (
	"context"
	"strings"
	"testing"

	"scribe/internal/config"
	"scribe/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewMedia creates a media item for tests using the provided store.
func NewMedia(t testing.TB, st *store.Store, ref, scope string) *store.MediaItem {
	t.Helper()

	item, err := st.EnsureMedia(context.Background(), ref, scope)
	if err != nil {
		t.Fatalf("store.EnsureMedia: %v", err)
	}
	return item
}

// Words returns n space-separated words, cycling through vocabulary.
func Words(n int, vocabulary ...string) string {
	if len(vocabulary) == 0 {
		vocabulary = []string{"alpha", "bravo", "charlie", "delta", "echo"}
	}
	words := make([]string, n)
	for i := range words {
		words[i] = vocabulary[i%len(vocabulary)]
	}
	return strings.Join(words, " ")
}
