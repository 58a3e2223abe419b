package progress

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/metrics"
)

const component = "progress"

// Sink is an external destination that receives every event in order.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
	Close() error
}

// Options size the broadcaster's buffers.
type Options struct {
	Buffer           int
	HistorySize      int
	SubscriberBuffer int
	SinkTimeout      time.Duration
}

// OptionsFromConfig reads the progress section.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		HistorySize:      cfg.Progress.HistorySize,
		SubscriberBuffer: cfg.Progress.SubscriberBuffer,
	}
}

// Subscription receives events until it is cancelled or the broadcaster
// stops, at which point C is closed.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	mediaID int64
	b       *Broadcaster
	once    sync.Once
}

// Cancel detaches the subscription.
func (s *Subscription) Cancel() {
	s.once.Do(func() { s.b.unsubscribe(s) })
}

// Broadcaster is the progress fan-out.
type Broadcaster struct {
	in      chan Event
	stopped chan struct{}
	dropped atomic.Int64

	// inMu guards stopping. Publish holds it shared while sending so the
	// shutdown drain sees every accepted event.
	inMu     sync.RWMutex
	stopping bool

	history *History
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
	sinks       []Sink
	closed      bool
}

// NewBroadcaster builds a broadcaster. Call Run to start delivery.
func NewBroadcaster(opts Options, logger *slog.Logger, m *metrics.Metrics, sinks ...Sink) *Broadcaster {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &Broadcaster{
		in:          make(chan Event, opts.Buffer),
		stopped:     make(chan struct{}),
		history:     NewHistory(opts.HistorySize),
		opts:        opts,
		logger:      logger.With(logging.String(logging.FieldComponent, component)),
		metrics:     m,
		subscribers: make(map[*Subscription]struct{}),
	}
	for _, sink := range sinks {
		if sink != nil {
			b.sinks = append(b.sinks, sink)
		}
	}
	return b
}

// History exposes the event ring for polling.
func (b *Broadcaster) History() *History { return b.history }

// Publish queues evt for delivery without blocking. The event is dropped and
// counted when the buffer is full or the broadcaster has stopped.
func (b *Broadcaster) Publish(evt Event) {
	b.inMu.RLock()
	defer b.inMu.RUnlock()
	if b.stopping {
		b.drop(evt, "stopped")
		return
	}
	select {
	case b.in <- evt:
	default:
		b.drop(evt, "buffer")
	}
}

// Dropped reports how many events Publish has discarded.
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }

func (b *Broadcaster) drop(evt Event, reason string) {
	n := b.dropped.Add(1)
	b.metrics.ProgressDrop(reason)
	b.logger.Debug("progress event dropped",
		logging.String("reason", reason),
		logging.Int64(logging.FieldMediaID, evt.MediaID),
		logging.String(logging.FieldJobID, evt.JobID),
		logging.Int64("dropped_total", n),
	)
}

// Subscribe registers an in-process subscriber. mediaID 0 receives every
// event.
func (b *Broadcaster) Subscribe(mediaID int64) *Subscription {
	ch := make(chan Event, b.opts.SubscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, mediaID: mediaID, b: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subscribers[sub] = struct{}{}
	return sub
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub.ch)
	}
}

// Run delivers events until ctx ends, then drains what is already queued,
// closes subscriptions and sinks.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.stopped)
	for {
		select {
		case evt := <-b.in:
			b.deliver(evt)
		case <-ctx.Done():
			b.inMu.Lock()
			b.stopping = true
			b.inMu.Unlock()
			for {
				select {
				case evt := <-b.in:
					b.deliver(evt)
				default:
					b.shutdown()
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (b *Broadcaster) Wait() { <-b.stopped }

func (b *Broadcaster) deliver(evt Event) {
	evt = b.history.Append(evt)

	b.mu.Lock()
	for sub := range b.subscribers {
		if sub.mediaID != 0 && sub.mediaID != evt.MediaID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.metrics.ProgressDrop("subscriber")
		}
	}
	sinks := b.sinks
	b.mu.Unlock()

	for _, sink := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.SinkTimeout)
		err := sink.Send(ctx, evt)
		cancel()
		if err != nil {
			b.metrics.ProgressDrop(sink.Name())
			logging.WarnWithContext(b.logger, "progress sink send failed", "progress_sink_failed",
				logging.String("sink", sink.Name()),
				logging.Int64(logging.FieldMediaID, evt.MediaID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check sink connectivity"),
				logging.String(logging.FieldImpact, "external subscribers missed an event"),
			)
		}
	}
	b.metrics.ProgressSent()
}

func (b *Broadcaster) shutdown() {
	b.mu.Lock()
	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, sub)
	}
	sinks := b.sinks
	b.sinks = nil
	b.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			b.logger.Debug("progress sink close failed", logging.String("sink", sink.Name()), logging.Error(err))
		}
	}
}
