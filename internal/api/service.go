package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"scribe/internal/assistant"
	"scribe/internal/logging"
	"scribe/internal/queue"
	"scribe/internal/retrieval"
	"scribe/internal/services"
	"scribe/internal/store"
)

const component = "api"

// Searcher runs hybrid retrieval.
type Searcher interface {
	Search(ctx context.Context, req retrieval.Request) ([]retrieval.Result, error)
}

// Asker composes retrieval-augmented answers.
type Asker interface {
	Ask(ctx context.Context, req assistant.Request) (*assistant.Answer, error)
}

// Service exposes producer and query operations over the pipeline state.
type Service struct {
	store    *store.Store
	queue    *queue.Queue
	searcher Searcher
	asker    Asker
	logger   *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithSearcher enables Search.
func WithSearcher(s Searcher) Option {
	return func(svc *Service) { svc.searcher = s }
}

// WithAsker enables Ask.
func WithAsker(a Asker) Option {
	return func(svc *Service) { svc.asker = a }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(svc *Service) {
		if logger != nil {
			svc.logger = logger
		}
	}
}

// NewService constructs a Service around the store and queue.
func NewService(st *store.Store, q *queue.Queue, opts ...Option) *Service {
	svc := &Service{store: st, queue: q, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(svc)
	}
	svc.logger = svc.logger.With(logging.String(logging.FieldComponent, component))
	return svc
}

// Submit upserts the media item, creates a queued job and enqueues it. It is
// rejected while the media item already has a queued or running job.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	ref := strings.TrimSpace(req.ExternalRef)
	if ref == "" {
		return nil, services.Wrap(services.ErrValidation, component, "submit", "external_ref is required", nil)
	}
	media, err := s.store.EnsureMedia(ctx, ref, strings.TrimSpace(req.ScopeID))
	if err != nil {
		return nil, err
	}
	job, err := s.enqueue(ctx, media, req.Reprocess)
	if err != nil {
		return nil, err
	}
	return &SubmitResponse{Job: FromJob(job), Media: FromMedia(media, 0, false)}, nil
}

// enqueue creates and queues a job for media. A media item has at most one
// queued or running job; a second request is rejected naming the active one.
func (s *Service) enqueue(ctx context.Context, media *store.MediaItem, reprocess bool) (*store.Job, error) {
	active, err := s.store.ActiveJob(ctx, media.ID)
	switch {
	case err == nil:
		return nil, activeJobError(media.ID, active.ID, store.ErrActiveJob)
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	job := &store.Job{MediaID: media.ID, Reprocess: reprocess}
	if err := s.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrActiveJob) {
			return nil, activeJobError(media.ID, "", err)
		}
		return nil, err
	}
	msg := queue.Message{JobID: job.ID, MediaID: media.ID, ExternalRef: media.ExternalRef, Reprocess: reprocess}
	if _, err := s.queue.Enqueue(ctx, msg); err != nil {
		s.abandon(ctx, job, err)
		return nil, err
	}
	s.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int64(logging.FieldMediaID, media.ID),
		logging.String("external_ref", media.ExternalRef),
		logging.Bool("reprocess", reprocess),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	return job, nil
}

func activeJobError(mediaID int64, jobID string, cause error) error {
	message := fmt.Sprintf("media %d already has an active job", mediaID)
	if jobID != "" {
		message += " (" + jobID + ")"
	}
	return services.Wrap(services.ErrValidation, component, "enqueue", message, cause)
}

// abandon fails a job whose message never reached the queue so it does not
// sit in queued forever.
func (s *Service) abandon(ctx context.Context, job *store.Job, cause error) {
	job.Status = store.StatusFailed
	job.ErrorMessage = "enqueue failed: " + cause.Error()
	if err := s.store.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		logging.ErrorWithContext(s.logger, "failed to mark unqueued job", "job_abandon_failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "cancel or retry the job manually"),
		)
	}
}

// ListJobs returns jobs newest first, filtered by status names and media.
func (s *Service) ListJobs(ctx context.Context, statuses []string, mediaID int64, limit int) ([]Job, error) {
	filter := store.JobFilter{MediaID: mediaID, Limit: limit}
	for _, raw := range statuses {
		status := store.Status(strings.ToLower(strings.TrimSpace(raw)))
		if !status.Valid() {
			return nil, services.Wrap(services.ErrValidation, component, "list jobs",
				fmt.Sprintf("unknown status %q", raw), nil)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	jobs, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// DescribeJob fetches one job.
func (s *Service) DescribeJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.GetJob(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, notFound("job", id, err)
	}
	dto := FromJob(job)
	return &dto, nil
}

// CancelJob requests cooperative cancellation. The worker fails the job at
// the next stage boundary.
func (s *Service) CancelJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.RequestCancel(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, store.ErrJobTerminal) {
			return nil, services.Wrap(services.ErrValidation, component, "cancel job",
				fmt.Sprintf("job %s is already %s", id, job.Status), err)
		}
		return nil, notFound("job", id, err)
	}
	s.logger.Info("job cancellation requested",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldEventType, "job_cancel_requested"),
	)
	dto := FromJob(job)
	return &dto, nil
}

// RetryJob submits a new reprocessing job for the failed job's media item.
// The failed job itself is left untouched.
func (s *Service) RetryJob(ctx context.Context, id string) (*Job, error) {
	prior, err := s.store.GetJob(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, notFound("job", id, err)
	}
	if prior.Status != store.StatusFailed {
		return nil, services.Wrap(services.ErrValidation, component, "retry job",
			fmt.Sprintf("job %s is %s; only failed jobs can be retried", prior.ID, prior.Status), nil)
	}
	media, err := s.store.GetMedia(ctx, prior.MediaID)
	if err != nil {
		return nil, notFound("media", fmt.Sprint(prior.MediaID), err)
	}
	job, err := s.enqueue(ctx, media, true)
	if err != nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// DescribeMedia fetches one media item with its segment count.
func (s *Service) DescribeMedia(ctx context.Context, id int64, withTranscript bool) (*Media, error) {
	item, err := s.store.GetMedia(ctx, id)
	if err != nil {
		return nil, notFound("media", fmt.Sprint(id), err)
	}
	count, err := s.store.CountSegments(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := FromMedia(item, count, withTranscript)
	return &dto, nil
}

// JobCounts returns job counts for every status.
func (s *Service) JobCounts(ctx context.Context) (map[string]int, error) {
	counts, err := s.store.CountJobsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return MergeJobCounts(counts), nil
}

// Search runs hybrid retrieval.
func (s *Service) Search(ctx context.Context, req retrieval.Request) (*SearchResponse, error) {
	if s.searcher == nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "search", "retrieval is not configured", nil)
	}
	results, err := s.searcher.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []retrieval.Result{}
	}
	return &SearchResponse{Results: results}, nil
}

// Ask answers a question from indexed transcripts.
func (s *Service) Ask(ctx context.Context, req assistant.Request) (*AskResponse, error) {
	if s.asker == nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "ask", "assistant is not configured", nil)
	}
	return s.asker.Ask(ctx, req)
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return services.Wrap(services.ErrNotFound, component, "lookup", fmt.Sprintf("%s %s not found", kind, id), err)
	}
	return err
}
