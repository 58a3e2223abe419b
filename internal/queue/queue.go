package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scribe/internal/logging"
	"scribe/internal/metrics"
	"scribe/internal/services"
	"scribe/internal/store"
)

const defaultPollInterval = 250 * time.Millisecond

// Message is the job descriptor carried by the queue.
type Message struct {
	JobID       string `json:"job_id"`
	MediaID     int64  `json:"media_id"`
	ExternalRef string `json:"external_ref,omitempty"`
	Reprocess   bool   `json:"reprocess"`
}

// Validate reports whether the message carries enough to locate its job.
func (m Message) Validate() error {
	if m.JobID == "" {
		return errors.New("job_id is required")
	}
	if m.MediaID <= 0 {
		return errors.New("media_id must be positive")
	}
	return nil
}

// Delivery is a popped message with its queue metadata.
type Delivery struct {
	ID         int64
	Message    Message
	EnqueuedAt time.Time
}

// Queue is a durable FIFO backed by SQLite.
type Queue struct {
	db           *sql.DB
	logger       *slog.Logger
	metrics      *metrics.Metrics
	pollInterval time.Duration
	now          func() time.Time

	mu     sync.Mutex
	notify chan struct{}
}

// Option customizes a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithMetrics attaches collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithPollInterval sets how often a blocked dequeue re-checks the table.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// New returns a queue over the pipeline database. The schema is created by
// store.Open.
func New(db *sql.DB, opts ...Option) *Queue {
	q := &Queue{
		db:           db,
		logger:       logging.NewNop(),
		pollInterval: defaultPollInterval,
		now:          time.Now,
		notify:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With(logging.String(logging.FieldComponent, "queue"))
	return q
}

// Enqueue appends msg to the tail and returns its queue position id.
func (q *Queue) Enqueue(ctx context.Context, msg Message) (int64, error) {
	if err := msg.Validate(); err != nil {
		return 0, services.Wrap(services.ErrValidation, "queue", "enqueue", "invalid message", err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}
	var id int64
	err = store.RetryOnBusy(ctx, func() error {
		res, execErr := q.db.ExecContext(ctx,
			`INSERT INTO queue_messages (payload, enqueued_at) VALUES (?, ?)`,
			string(payload), store.FormatTime(q.now()),
		)
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "queue", "enqueue", "insert message", err)
	}
	q.metrics.Enqueued()
	q.broadcast()
	q.logger.Debug("message enqueued",
		logging.Int64("queue_id", id),
		logging.String(logging.FieldJobID, msg.JobID),
		logging.Int64(logging.FieldMediaID, msg.MediaID),
	)
	return id, nil
}

// Dequeue pops the head of the queue, blocking up to timeout for a message.
// It returns (nil, nil) when the timeout expires with the queue still empty.
// A non-positive timeout makes a single attempt.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		wake := q.waitChan()
		delivery, err := q.pop(ctx)
		if err != nil {
			return nil, err
		}
		if delivery != nil {
			return delivery, nil
		}
		if deadline == nil {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-wake:
		case <-ticker.C:
		}
	}
}

// pop removes the head row. Malformed payloads are discarded and the next row
// is tried.
func (q *Queue) pop(ctx context.Context) (*Delivery, error) {
	for {
		var (
			id      int64
			payload string
			rawTime string
			found   bool
		)
		err := store.RetryOnBusy(ctx, func() error {
			row := q.db.QueryRowContext(ctx,
				`DELETE FROM queue_messages
                 WHERE id = (SELECT MIN(id) FROM queue_messages)
                 RETURNING id, payload, enqueued_at`)
			scanErr := row.Scan(&id, &payload, &rawTime)
			if errors.Is(scanErr, sql.ErrNoRows) {
				found = false
				return nil
			}
			if scanErr != nil {
				return scanErr
			}
			found = true
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, services.Wrap(services.ErrTransient, "queue", "dequeue", "pop message", err)
		}
		if !found {
			return nil, nil
		}

		q.metrics.Dequeued()
		msg, decodeErr := decodeMessage(payload)
		if decodeErr == nil {
			enqueuedAt, _ := store.ParseTime(rawTime)
			return &Delivery{ID: id, Message: msg, EnqueuedAt: enqueuedAt}, nil
		}
		q.logger.Warn("discarding malformed queue message",
			logging.Int64("queue_id", id),
			logging.String("payload", payload),
			logging.Error(decodeErr),
			logging.String(logging.FieldEventType, "queue_message_malformed"),
			logging.String(logging.FieldErrorHint, "producers must write job descriptors with job_id and media_id"),
		)
		q.metrics.Malformed()
	}
}

func decodeMessage(payload string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Len reports the number of waiting messages.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return count, nil
}

func (q *Queue) waitChan() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notify
}

func (q *Queue) broadcast() {
	q.mu.Lock()
	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()
}
