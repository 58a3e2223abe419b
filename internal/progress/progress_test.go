package progress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

func startBroadcaster(t *testing.T, opts Options, sinks ...Sink) (*Broadcaster, context.CancelFunc) {
	t.Helper()
	b := NewBroadcaster(opts, nil, nil, sinks...)
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)
	t.Cleanup(func() {
		cancel()
		b.Wait()
	})
	return b, cancel
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatalf("subscription closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestBroadcasterFansOutInOrder(t *testing.T) {
	b, _ := startBroadcaster(t, Options{})
	all := b.Subscribe(0)
	only7 := b.Subscribe(7)

	b.Publish(Event{MediaID: 7, Stage: 1, Percent: 10, Status: StatusRunning})
	b.Publish(Event{MediaID: 8, Stage: 1, Percent: 10, Status: StatusRunning})
	b.Publish(Event{MediaID: 7, Stage: 2, Percent: 20, Status: StatusRunning})

	first, second, third := receive(t, all.C), receive(t, all.C), receive(t, all.C)
	if first.Seq != 1 || second.Seq != 2 || third.Seq != 3 {
		t.Fatalf("unexpected sequence: %d %d %d", first.Seq, second.Seq, third.Seq)
	}
	if a, c := receive(t, only7.C), receive(t, only7.C); a.Stage != 1 || c.Stage != 2 || c.MediaID != 7 {
		t.Fatalf("filtered subscriber got %+v %+v", a, c)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b, _ := startBroadcaster(t, Options{SubscriberBuffer: 1})
	slow := b.Subscribe(0)

	for i := 1; i <= 5; i++ {
		b.Publish(Event{MediaID: 1, Stage: i})
	}
	waitForSeq(t, b, 5)

	if got := receive(t, slow.C); got.Seq != 1 {
		t.Fatalf("slow subscriber should keep only the first event, got seq %d", got.Seq)
	}
	select {
	case evt := <-slow.C:
		t.Fatalf("unexpected buffered event %+v", evt)
	default:
	}
}

func TestRunDrainsAndClosesOnShutdown(t *testing.T) {
	b := NewBroadcaster(Options{}, nil, nil)
	sub := b.Subscribe(0)
	b.Publish(Event{MediaID: 1, Status: StatusCompleted})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	if evt := receive(t, sub.C); evt.Status != StatusCompleted {
		t.Fatalf("queued event lost: %+v", evt)
	}
	if _, ok := <-sub.C; ok {
		t.Fatalf("subscription should be closed")
	}
	b.Publish(Event{MediaID: 2})
	if b.History().Last() != 1 {
		t.Fatalf("publish after stop must be dropped")
	}
}

func TestPublishDropsWhenBufferFullBeforeRun(t *testing.T) {
	b := NewBroadcaster(Options{Buffer: 2}, nil, nil)

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 1; i <= 5; i++ {
			b.Publish(Event{MediaID: 1, Stage: i})
		}
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
	if got := b.Dropped(); got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)
	if b.History().Last() != 2 {
		t.Fatalf("buffered events delivered = %d, want 2", b.History().Last())
	}
	b.Publish(Event{MediaID: 1})
	if got := b.Dropped(); got != 4 {
		t.Fatalf("publish after stop not counted, dropped = %d", got)
	}
}

func TestHistoryFetchWaitsForMatchingEvent(t *testing.T) {
	h := NewHistory(4)
	h.Append(Event{MediaID: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		h.Append(Event{MediaID: 2})
		h.Append(Event{MediaID: 3})
	}()

	events, next, err := h.Fetch(ctx, 1, 10, 3, true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 1 || events[0].MediaID != 3 || next != 3 {
		t.Fatalf("unexpected fetch result %+v next=%d", events, next)
	}
}

func TestHistoryFetchHonoursContextAndCapacity(t *testing.T) {
	h := NewHistory(2)
	for i := 0; i < 5; i++ {
		h.Append(Event{MediaID: int64(i)})
	}
	events, next, _ := h.Fetch(context.Background(), 0, 0, 0, false)
	if len(events) != 2 || events[0].Seq != 4 || next != 5 {
		t.Fatalf("ring should keep the newest two: %+v next=%d", events, next)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, _, err := h.Fetch(ctx, 5, 10, 0, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkKeysByMedia(t *testing.T) {
	w := &fakeWriter{}
	sink := &KafkaSink{writer: w, topic: "t"}
	b, cancel := startBroadcaster(t, Options{}, sink)
	sub := b.Subscribe(0)

	b.Publish(Event{MediaID: 42, Stage: 6, Percent: 100, Status: StatusCompleted})
	receive(t, sub.C)
	cancel()
	b.Wait()

	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "42" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	var evt Event
	if err := json.Unmarshal(w.msgs[0].Value, &evt); err != nil || evt.Percent != 100 || evt.Status != StatusCompleted {
		t.Fatalf("bad payload %s: %v", w.msgs[0].Value, err)
	}
	if !w.closed {
		t.Fatalf("sink should be closed on shutdown")
	}
}

func TestNewKafkaSinkRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaSink([]string{" "}, ""); err == nil {
		t.Fatalf("expected error without brokers")
	}
	sink, err := NewKafkaSink([]string{"localhost:9092"}, "")
	if err != nil || sink.topic != DefaultKafkaTopic {
		t.Fatalf("unexpected sink %+v err=%v", sink, err)
	}
	_ = sink.Close()
}

func TestWebSocketStreamsFilteredEvents(t *testing.T) {
	b, _ := startBroadcaster(t, Options{})
	b.Publish(Event{MediaID: 5, Stage: 1, Status: StatusRunning})
	waitForSeq(t, b, 1)

	srv := httptest.NewServer(WebSocketHandler(b, nil))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?media_id=5&since=0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the handler time to subscribe before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for subscriberCount(b) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(Event{MediaID: 6, Stage: 2})
	b.Publish(Event{MediaID: 5, Stage: 2, Status: StatusRunning})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if evt.MediaID != 5 || evt.Stage != 2 {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestWebSocketRejectsBadMediaID(t *testing.T) {
	b, _ := startBroadcaster(t, Options{})
	srv := httptest.NewServer(WebSocketHandler(b, nil))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?media_id=x", nil)
	if err == nil || resp == nil || resp.StatusCode != 400 {
		t.Fatalf("expected 400, got resp=%v err=%v", resp, err)
	}
}

func waitForSeq(t *testing.T, b *Broadcaster, seq uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.History().Last() < seq {
		if time.Now().After(deadline) {
			t.Fatalf("sequence %d never reached", seq)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func subscriberCount(b *Broadcaster) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
