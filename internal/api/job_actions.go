package api

import (
	"context"
	"errors"

	"scribe/internal/services"
	"scribe/internal/store"
)

// JobActionService captures the per-job operations batch actions need.
type JobActionService interface {
	DescribeJob(ctx context.Context, id string) (*Job, error)
	CancelJob(ctx context.Context, id string) (*Job, error)
	RetryJob(ctx context.Context, id string) (*Job, error)
}

type RetryJobOutcome string

const (
	RetryJobSubmitted RetryJobOutcome = "retried"
	RetryJobNotFound  RetryJobOutcome = "not_found"
	RetryJobNotFailed RetryJobOutcome = "not_failed"
	RetryJobActive    RetryJobOutcome = "already_active"
)

type RetryJobResult struct {
	ID       string          `json:"id"`
	Outcome  RetryJobOutcome `json:"outcome"`
	NewJobID string          `json:"new_job_id,omitempty"`
}

type RetryJobsResult struct {
	Submitted int              `json:"submitted"`
	Jobs      []RetryJobResult `json:"jobs"`
}

type CancelJobOutcome string

const (
	CancelJobRequested        CancelJobOutcome = "cancel_requested"
	CancelJobNotFound         CancelJobOutcome = "not_found"
	CancelJobAlreadyCompleted CancelJobOutcome = "already_completed"
	CancelJobAlreadyFailed    CancelJobOutcome = "already_failed"
)

type CancelJobResult struct {
	ID          string           `json:"id"`
	Outcome     CancelJobOutcome `json:"outcome"`
	PriorStatus string           `json:"prior_status,omitempty"`
}

type CancelJobsResult struct {
	Requested int               `json:"requested"`
	Jobs      []CancelJobResult `json:"jobs"`
}

// RetryFailedJobs submits a reprocessing job for each failed job in ids.
func RetryFailedJobs(ctx context.Context, service JobActionService, ids []string) (RetryJobsResult, error) {
	result := RetryJobsResult{Jobs: make([]RetryJobResult, 0, len(ids))}
	for _, id := range ids {
		job, err := service.DescribeJob(ctx, id)
		if errors.Is(err, services.ErrNotFound) {
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFound})
			continue
		}
		if err != nil {
			return RetryJobsResult{}, err
		}
		if job.Status != string(store.StatusFailed) {
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFailed})
			continue
		}
		next, err := service.RetryJob(ctx, id)
		if errors.Is(err, store.ErrActiveJob) {
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobActive})
			continue
		}
		if err != nil {
			return RetryJobsResult{}, err
		}
		result.Submitted++
		result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobSubmitted, NewJobID: next.ID})
	}
	return result, nil
}

// CancelJobs requests cancellation for each job in ids unless already terminal.
func CancelJobs(ctx context.Context, service JobActionService, ids []string) (CancelJobsResult, error) {
	result := CancelJobsResult{Jobs: make([]CancelJobResult, 0, len(ids))}
	for _, id := range ids {
		job, err := service.DescribeJob(ctx, id)
		if errors.Is(err, services.ErrNotFound) {
			result.Jobs = append(result.Jobs, CancelJobResult{ID: id, Outcome: CancelJobNotFound})
			continue
		}
		if err != nil {
			return CancelJobsResult{}, err
		}
		switch job.Status {
		case string(store.StatusCompleted):
			result.Jobs = append(result.Jobs, CancelJobResult{ID: id, Outcome: CancelJobAlreadyCompleted, PriorStatus: job.Status})
			continue
		case string(store.StatusFailed):
			result.Jobs = append(result.Jobs, CancelJobResult{ID: id, Outcome: CancelJobAlreadyFailed, PriorStatus: job.Status})
			continue
		}

		if _, err := service.CancelJob(ctx, id); err != nil {
			if errors.Is(err, services.ErrValidation) {
				// finished between the lookup and the update
				result.Jobs = append(result.Jobs, CancelJobResult{ID: id, Outcome: CancelJobAlreadyFailed, PriorStatus: job.Status})
				continue
			}
			return CancelJobsResult{}, err
		}
		result.Requested++
		result.Jobs = append(result.Jobs, CancelJobResult{ID: id, Outcome: CancelJobRequested, PriorStatus: job.Status})
	}
	return result, nil
}
