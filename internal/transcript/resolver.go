package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"scribe/internal/logging"
	"scribe/internal/metrics"
	"scribe/internal/services"
)

const stageName = "transcription"

// RetryPolicy bounds in-tier retries of transient outcomes.
type RetryPolicy struct {
	// Attempts is the total number of tries per tier, including the first.
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (p RetryPolicy) delay(retry int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay * time.Duration(1<<uint(min(retry-1, 20)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Cache stores resolved transcripts and per-tier misses.
type Cache interface {
	Lookup(ctx context.Context, ref string) (Result, bool, error)
	Store(ctx context.Context, ref string, result Result) error
	MissCached(ctx context.Context, tier, ref string) (string, bool, error)
	StoreMiss(ctx context.Context, tier, ref, reason string) error
}

// Resolver tries tiers in order and returns the first transcript produced.
type Resolver struct {
	tiers   []Tier
	retry   RetryPolicy
	cache   Cache
	sleep   func(context.Context, time.Duration) error
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithRetry sets the in-tier retry policy.
func WithRetry(policy RetryPolicy) Option {
	return func(r *Resolver) { r.retry = policy }
}

// WithCache enables result and miss caching.
func WithCache(cache Cache) Option {
	return func(r *Resolver) { r.cache = cache }
}

// WithLogger sets the resolver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics attaches collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithSleeper replaces the backoff sleep, for tests.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(r *Resolver) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewResolver builds a resolver over tiers, tried in slice order.
func NewResolver(tiers []Tier, opts ...Option) *Resolver {
	r := &Resolver{
		tiers:  tiers,
		retry:  RetryPolicy{Attempts: 1},
		sleep:  sleepContext,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retry.Attempts < 1 {
		r.retry.Attempts = 1
	}
	return r
}

// Tiers returns the configured tiers in resolution order.
func (r *Resolver) Tiers() []Tier {
	return append([]Tier(nil), r.tiers...)
}

// Resolve returns the first transcript any tier produces. bypassCache skips
// cache reads; results are still written back.
func (r *Resolver) Resolve(ctx context.Context, req Request, bypassCache bool) (Result, error) {
	if len(r.tiers) == 0 {
		return Result{}, services.Wrap(services.ErrConfiguration, stageName, "resolve", "no transcription tiers configured", nil)
	}
	if strings.TrimSpace(req.Ref) == "" {
		return Result{}, services.Wrap(services.ErrValidation, stageName, "resolve", "media reference is empty", nil)
	}
	logger := logging.WithContext(ctx, r.logger)

	if r.cache != nil && !bypassCache {
		cached, ok, err := r.cache.Lookup(ctx, req.Ref)
		if err != nil {
			logging.WarnWithContext(logger, "transcript cache lookup failed", "transcript_cache_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "resolution proceeds without the cache"),
			)
		} else if ok && cached.Source.Valid() && cached.Text != "" {
			logger.Info("transcript served from cache",
				logging.Args(logging.DecisionAttrs("transcript_cache", "hit", string(cached.Source))...)...)
			return cached, nil
		}
	}

	var misses []string
	last := len(r.tiers) - 1
	for i, tier := range r.tiers {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if r.cache != nil && !bypassCache {
			if reason, ok, err := r.cache.MissCached(ctx, tier.Name(), req.Ref); err == nil && ok {
				logger.Info("tier skipped by cached miss",
					logging.Args(append(logging.DecisionAttrs("transcript_tier", "cached_miss", reason),
						logging.String("tier", tier.Name()))...)...)
				misses = append(misses, tier.Name()+": "+reason)
				continue
			}
		}

		outcome := r.attempt(ctx, logger, tier, req)
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		r.metrics.TierOutcome(tier.Name(), outcome.Kind.String())

		switch outcome.Kind {
		case KindSuccess:
			result := Result{
				Text:      outcome.Text,
				Cues:      outcome.Cues,
				Language:  outcome.Language,
				WordCount: outcome.WordCount,
				Source:    tier.Source(),
			}
			logger.Info("transcript resolved",
				logging.Args(append(logging.DecisionAttrs("transcript_tier", "success", tier.Name()),
					logging.String("source", string(result.Source)),
					logging.Int("word_count", result.WordCount))...)...)
			if r.cache != nil {
				if err := r.cache.Store(ctx, req.Ref, result); err != nil {
					logger.Debug("transcript cache write failed", logging.Error(err))
				}
			}
			return result, nil

		case KindMiss:
			logger.Info("tier missed; falling through",
				logging.Args(append(logging.DecisionAttrs("transcript_tier", "miss", outcome.Reason),
					logging.String("tier", tier.Name()))...)...)
			misses = append(misses, tier.Name()+": "+outcome.Reason)
			if r.cache != nil {
				if err := r.cache.StoreMiss(ctx, tier.Name(), req.Ref, outcome.Reason); err != nil {
					logger.Debug("miss cache write failed", logging.Error(err))
				}
			}

		case KindTransient:
			if i == last {
				return Result{}, services.Wrap(services.ErrTransient, stageName, tier.Name(),
					fmt.Sprintf("still failing after %d attempts", r.retry.Attempts), outcome.Err)
			}
			logging.WarnWithContext(logger, "tier kept failing; falling through", "transcript_tier_exhausted",
				logging.String("tier", tier.Name()),
				logging.Error(outcome.Err),
				logging.String(logging.FieldErrorHint, "check network access to the media host"),
				logging.String(logging.FieldImpact, "a slower transcription tier will be used"),
			)
			misses = append(misses, tier.Name()+": "+outcome.Reason)

		case KindFatal:
			if outcome.Unusable {
				return Result{}, services.Wrap(services.ErrPolicy, stageName, tier.Name(),
					"source media is unavailable", outcome.Err)
			}
			if i == last {
				return Result{}, services.Wrap(services.ErrExternalTool, stageName, tier.Name(),
					"transcription failed", outcome.Err)
			}
			logging.WarnWithContext(logger, "tier failed; falling through", "transcript_tier_failed",
				logging.String("tier", tier.Name()),
				logging.Error(outcome.Err),
				logging.String(logging.FieldImpact, "a slower transcription tier will be used"),
			)
			misses = append(misses, tier.Name()+": "+outcome.Reason)
		}
	}
	return Result{}, services.Wrap(services.ErrExternalTool, stageName, "resolve",
		"no tier produced a transcript ("+strings.Join(misses, "; ")+")", nil)
}

// attempt runs one tier, retrying transient outcomes with backoff.
func (r *Resolver) attempt(ctx context.Context, logger *slog.Logger, tier Tier, req Request) Outcome {
	var outcome Outcome
	for try := 1; try <= r.retry.Attempts; try++ {
		outcome = tier.Attempt(ctx, req)
		if outcome.Kind != KindTransient || try == r.retry.Attempts {
			return outcome
		}
		delay := r.retry.delay(try)
		logger.Warn("tier attempt failed transiently, retrying",
			logging.String("tier", tier.Name()),
			logging.Int("attempt", try),
			logging.Int("max_attempts", r.retry.Attempts),
			logging.Duration("backoff", delay),
			logging.Error(outcome.Err),
			logging.String(logging.FieldEventType, "transcript_tier_retry"),
			logging.String(logging.FieldErrorHint, "upstream throttling or network trouble"),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return Transient(err)
		}
	}
	return outcome
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
