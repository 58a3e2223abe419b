package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"scribe/internal/services"
	"scribe/internal/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.OpenPath(filepath.Join(t.TempDir(), "scribe.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s.DB(), WithPollInterval(10*time.Millisecond)), s
}

func TestEnqueueDequeueIsFIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if _, err := q.Enqueue(ctx, Message{JobID: fmt.Sprintf("job-%d", i), MediaID: i}); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	if n, err := q.Len(ctx); err != nil || n != 3 {
		t.Fatalf("Len = %d, err %v", n, err)
	}
	for i := int64(1); i <= 3; i++ {
		d, err := q.Dequeue(ctx, time.Second)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if d == nil || d.Message.MediaID != i {
			t.Fatalf("expected media %d, got %+v", i, d)
		}
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("queue should be empty, has %d", n)
	}
}

func TestEnqueuedAtUsesStoreLayout(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	// a whole second formats without a fraction under RFC3339Nano
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	q.now = func() time.Time { return at }

	id, err := q.Enqueue(ctx, Message{JobID: "job-ts", MediaID: 9})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	var raw string
	if err := s.DB().QueryRowContext(ctx, `SELECT enqueued_at FROM queue_messages WHERE id = ?`, id).Scan(&raw); err != nil {
		t.Fatalf("read enqueued_at: %v", err)
	}
	if raw != store.FormatTime(at) || len(raw) != len(store.FormatTime(at.Add(123*time.Nanosecond))) {
		t.Fatalf("enqueued_at = %q, want fixed-width %q", raw, store.FormatTime(at))
	}

	d, err := q.Dequeue(ctx, time.Second)
	if err != nil || d == nil {
		t.Fatalf("Dequeue: %v, %v", d, err)
	}
	if !d.EnqueuedAt.Equal(at) {
		t.Fatalf("EnqueuedAt = %v, want %v", d.EnqueuedAt, at)
	}
}

func TestDequeueTimesOutWithoutError(t *testing.T) {
	q, _ := newTestQueue(t)
	timeout := 150 * time.Millisecond

	start := time.Now()
	d, err := q.Dequeue(context.Background(), timeout)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("expected no error on timeout, got %v", err)
	}
	if d != nil {
		t.Fatalf("expected no delivery, got %+v", d)
	}
	if elapsed < timeout {
		t.Fatalf("returned after %v, before the %v timeout", elapsed, timeout)
	}
}

func TestDequeueWakesOnEnqueue(t *testing.T) {
	q, _ := newTestQueue(t)
	q.pollInterval = time.Hour
	ctx := context.Background()

	done := make(chan *Delivery, 1)
	go func() {
		d, _ := q.Dequeue(ctx, 5*time.Second)
		done <- d
	}()
	time.Sleep(20 * time.Millisecond)
	if _, err := q.Enqueue(ctx, Message{JobID: "wake", MediaID: 9}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case d := <-done:
		if d == nil || d.Message.JobID != "wake" {
			t.Fatalf("unexpected delivery %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked dequeue did not wake on enqueue")
	}
}

func TestDequeuePicksUpRowsFromOtherWriters(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	if _, err := s.DB().Exec(`INSERT INTO queue_messages (payload, enqueued_at) VALUES (?, ?)`,
		`{"job_id":"external","media_id":4,"reprocess":true}`, store.FormatTime(time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	d, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d == nil || !d.Message.Reprocess || d.Message.JobID != "external" {
		t.Fatalf("unexpected delivery %+v", d)
	}
}

func TestDequeueSkipsMalformedPayloads(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	now := store.FormatTime(time.Now())
	for _, payload := range []string{`not json`, `{"media_id":1}`} {
		if _, err := s.DB().Exec(`INSERT INTO queue_messages (payload, enqueued_at) VALUES (?, ?)`, payload, now); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := q.Enqueue(ctx, Message{JobID: "good", MediaID: 2}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d == nil || d.Message.JobID != "good" {
		t.Fatalf("expected the valid message, got %+v", d)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Fatalf("malformed rows should be consumed, %d left", n)
	}
}

func TestEnqueueRejectsInvalidMessage(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.Enqueue(context.Background(), Message{MediaID: 1})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestConcurrentConsumersReceiveEachMessageOnce(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	const total = 20
	for i := 1; i <= total; i++ {
		if _, err := q.Enqueue(ctx, Message{JobID: "j", MediaID: int64(i)}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				d, err := q.Dequeue(ctx, 50*time.Millisecond)
				if err != nil || d == nil {
					return
				}
				mu.Lock()
				seen[d.Message.MediaID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("delivered %d distinct messages, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("message %d delivered %d times", id, n)
		}
	}
}

func TestDequeueHonoursContextCancellation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := q.Dequeue(ctx, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
