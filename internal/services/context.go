package services

import "context"

type contextKey int

const (
	jobIDKey contextKey = iota
	mediaIDKey
	stageKey
	workerKey
	requestIDKey
)

func withValue[T comparable](ctx context.Context, key contextKey, v T) context.Context {
	var zero T
	if v == zero {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func valueFrom[T comparable](ctx context.Context, key contextKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	var zero T
	return v, ok && v != zero
}

// WithJobID stores the pipeline job id. Empty ids leave ctx unchanged, as do
// zero values for every helper below.
func WithJobID(ctx context.Context, id string) context.Context {
	return withValue(ctx, jobIDKey, id)
}

// JobIDFromContext returns the job id set by WithJobID.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return valueFrom[string](ctx, jobIDKey)
}

// WithMediaID stores the media item id.
func WithMediaID(ctx context.Context, id int64) context.Context {
	return withValue(ctx, mediaIDKey, id)
}

// MediaIDFromContext returns the media item id set by WithMediaID.
func MediaIDFromContext(ctx context.Context) (int64, bool) {
	return valueFrom[int64](ctx, mediaIDKey)
}

// WithStage stores the running stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) {
	return valueFrom[string](ctx, stageKey)
}

// WithWorker stores the worker name.
func WithWorker(ctx context.Context, worker string) context.Context {
	return withValue(ctx, workerKey, worker)
}

func WorkerFromContext(ctx context.Context) (string, bool) {
	return valueFrom[string](ctx, workerKey)
}

// WithRequestID stores an HTTP request correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	return valueFrom[string](ctx, requestIDKey)
}
