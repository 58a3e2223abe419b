package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/metrics"
	"scribe/internal/services"
)

// Throttled is implemented by errors that report upstream rate limiting.
type Throttled interface {
	Throttled() bool
}

// IsThrottled reports whether err, or anything it wraps, signals throttling.
func IsThrottled(err error) bool {
	var t Throttled
	return errors.As(err, &t) && t.Throttled()
}

// Transient is implemented by errors that may succeed if the call is repeated,
// such as provider 5xx answers and timeouts.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether err, or anything it wraps, is worth repeating.
func IsTransient(err error) bool {
	var t Transient
	return errors.As(err, &t) && t.Transient()
}

// RetryAfter extracts an upstream retry hint from err.
func RetryAfter(err error) time.Duration {
	var hinted interface{ RetryAfter() time.Duration }
	if errors.As(err, &hinted) {
		return hinted.RetryAfter()
	}
	return 0
}

// ThrottleError is a ready-made throttled error for clients.
type ThrottleError struct {
	Service string
	After   time.Duration
	Err     error
}

func (e *ThrottleError) Error() string {
	msg := e.Service + " throttled"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ThrottleError) Unwrap() error             { return e.Err }
func (e *ThrottleError) Throttled() bool           { return true }
func (e *ThrottleError) RetryAfter() time.Duration { return e.After }

// Options tune retry behaviour.
type Options struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Gateway admits calls against a Window and retries throttled ones.
type Gateway struct {
	window  Window
	clock   Clock
	opts    Options
	tokens  *TokenCounter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(g *Gateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics attaches collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithTokenCounter sets the counter used by CountTokens.
func WithTokenCounter(counter *TokenCounter) Option {
	return func(g *Gateway) {
		if counter != nil {
			g.tokens = counter
		}
	}
}

// New builds a gateway over window.
func New(window Window, opts Options, options ...Option) *Gateway {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	g := &Gateway{
		window: window,
		clock:  RealClock(),
		opts:   opts,
		tokens: ApproximateCounter(),
		logger: logging.NewNop(),
	}
	for _, opt := range options {
		opt(g)
	}
	g.logger = g.logger.With(logging.String(logging.FieldComponent, "gateway"))
	return g
}

// FromConfig assembles the gateway described by cfg. db is required when the
// shared budget is enabled.
func FromConfig(cfg *config.Config, db *sql.DB, logger *slog.Logger, m *metrics.Metrics) (*Gateway, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "gateway", "init", "configuration unavailable", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	limits := Limits{
		MaxCalls:  cfg.Gateway.MaxCallsPerMinute,
		MaxTokens: cfg.Gateway.MaxTokensPerMinute,
		Span:      DefaultSpan,
	}
	var window Window
	if cfg.Gateway.SharedBudget {
		if db == nil {
			return nil, services.Wrap(services.ErrConfiguration, "gateway", "init", "shared budget requires the pipeline database", nil)
		}
		window = NewSharedWindow(db, "external", limits)
	} else {
		window = NewMemoryWindow(limits)
	}

	counter, err := NewTokenCounter(cfg.Gateway.TokenEncoding)
	if err != nil {
		logger.Warn("token encoding unavailable; using character estimate",
			logging.Error(err),
			logging.String(logging.FieldEventType, "token_encoding_unavailable"),
			logging.String(logging.FieldErrorHint, "set TIKTOKEN_CACHE_DIR to a directory holding the BPE file for offline hosts"),
			logging.String(logging.FieldImpact, "token budget uses a four-characters-per-token estimate"),
		)
		counter = ApproximateCounter()
	}

	return New(window, Options{
		MaxRetries:  cfg.Gateway.MaxRetries,
		BackoffBase: time.Duration(cfg.Gateway.BackoffBaseMS) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Gateway.BackoffMaxMS) * time.Millisecond,
	}, WithLogger(logger), WithMetrics(m), WithTokenCounter(counter)), nil
}

// CountTokens estimates the token cost of texts.
func (g *Gateway) CountTokens(texts ...string) int {
	if g == nil {
		return ApproximateCounter().Count(texts...)
	}
	return g.tokens.Count(texts...)
}

// Usage reports the current window occupancy.
func (g *Gateway) Usage(ctx context.Context) (Usage, error) {
	return g.window.Usage(ctx, g.clock.Now())
}

// Acquire blocks until units fit the budget and records the reservation.
func (g *Gateway) Acquire(ctx context.Context, operation string, units int) error {
	if g == nil {
		return nil
	}
	start := g.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, err := g.window.Reserve(ctx, g.clock.Now(), units)
		if err != nil {
			return services.Wrap(services.ErrTransient, "gateway", operation, "reserve budget", err)
		}
		if wait <= 0 {
			g.metrics.GatewayAdmitted(operation, units, g.clock.Now().Sub(start))
			return nil
		}
		g.logger.Debug("budget exhausted; waiting",
			logging.String("operation", operation),
			logging.Int("units", units),
			logging.Duration("wait", wait),
		)
		if err := g.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Do admits fn under the budget and retries it while it reports throttling or
// a transient failure. Every attempt is admitted separately, so fn must make
// at most one upstream request. Other errors are returned unchanged. A nil
// Gateway calls fn directly.
func (g *Gateway) Do(ctx context.Context, operation string, units int, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("gateway call unavailable")
	}
	if g == nil {
		return fn(ctx)
	}
	attempt := 0
	for {
		if err := g.Acquire(ctx, operation, units); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		throttled := IsThrottled(err)
		if !throttled && !IsTransient(err) {
			return err
		}
		event, hint := "gateway_transient", "check the provider status; repeated failures fail the stage"
		if throttled {
			g.metrics.Throttled(operation)
			event, hint = "gateway_throttled", "lower max_calls_per_minute or max_tokens_per_minute to match the provider quota"
		}
		if attempt >= g.opts.MaxRetries {
			return services.Wrap(services.ErrTransient, "gateway", operation,
				fmt.Sprintf("still failing after %d retries", attempt), err)
		}
		attempt++
		backoff := g.backoff(attempt, RetryAfter(err))
		g.logger.Warn("external call failed, retrying",
			logging.String("operation", operation),
			logging.Bool("throttled", throttled),
			logging.Duration("backoff", backoff),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", g.opts.MaxRetries),
			logging.Error(err),
			logging.String(logging.FieldEventType, event),
			logging.String(logging.FieldErrorHint, hint),
		)
		if err := g.clock.Sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func (g *Gateway) backoff(attempt int, hint time.Duration) time.Duration {
	backoff := g.opts.BackoffBase * time.Duration(1<<uint(min(attempt-1, 30)))
	if backoff > g.opts.BackoffMax || backoff <= 0 {
		backoff = g.opts.BackoffMax
	}
	if hint > backoff {
		backoff = hint
	}
	return backoff
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, g *Gateway, operation string, units int, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := g.Do(ctx, operation, units, func(ctx context.Context) error {
		var callErr error
		result, callErr = fn(ctx)
		return callErr
	})
	return result, err
}
