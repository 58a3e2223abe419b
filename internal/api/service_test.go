package api

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"scribe/internal/assistant"
	"scribe/internal/queue"
	"scribe/internal/retrieval"
	"scribe/internal/services"
	"scribe/internal/store"
	"scribe/internal/testsupport"
)

func newService(t *testing.T, opts ...Option) (*Service, *store.Store, *queue.Queue) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(st.DB(), queue.WithPollInterval(10*time.Millisecond))
	return NewService(st, q, opts...), st, q
}

func failJob(t *testing.T, st *store.Store, id string) {
	t.Helper()
	job, err := st.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	job.Status = store.StatusFailed
	job.ErrorMessage = "transcription: no tier produced a transcript"
	job.FailedStage = "transcription"
	if err := st.UpdateJob(context.Background(), job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
}

func TestSubmitCreatesJobAndMessage(t *testing.T) {
	svc, st, q := newService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, SubmitRequest{ExternalRef: " https://video.example/talk ", ScopeID: "course-1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Job.Status != string(store.StatusQueued) || resp.Job.MediaID != resp.Media.ID {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Media.ExternalRef != "https://video.example/talk" || resp.Media.ScopeID != "course-1" {
		t.Fatalf("unexpected media: %+v", resp.Media)
	}

	delivery, err := q.Dequeue(ctx, time.Second)
	if err != nil || delivery == nil {
		t.Fatalf("Dequeue: %v, %v", delivery, err)
	}
	msg := delivery.Message
	if msg.JobID != resp.Job.ID || msg.MediaID != resp.Media.ID || msg.ExternalRef != "https://video.example/talk" || msg.Reprocess {
		t.Fatalf("unexpected message: %+v", msg)
	}

	failJob(t, st, resp.Job.ID)
	again, err := svc.Submit(ctx, SubmitRequest{ExternalRef: "https://video.example/talk"})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if again.Media.ID != resp.Media.ID || again.Job.ID == resp.Job.ID {
		t.Fatal("resubmission should reuse the media item and create a new job")
	}
	jobs, err := st.ListJobs(ctx, store.JobFilter{MediaID: resp.Media.ID})
	if err != nil || len(jobs) != 2 {
		t.Fatalf("ListJobs = %d, %v", len(jobs), err)
	}
}

func TestSubmitRejectsSecondActiveJob(t *testing.T) {
	svc, st, q := newService(t)
	ctx := context.Background()

	first, err := svc.Submit(ctx, SubmitRequest{ExternalRef: "https://video.example/dup"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err = svc.Submit(ctx, SubmitRequest{ExternalRef: "https://video.example/dup"})
	if !errors.Is(err, services.ErrValidation) || !errors.Is(err, store.ErrActiveJob) {
		t.Fatalf("expected active job rejection, got %v", err)
	}
	if !strings.Contains(err.Error(), first.Job.ID) {
		t.Fatalf("rejection should name the active job: %v", err)
	}
	jobs, _ := st.ListJobs(ctx, store.JobFilter{MediaID: first.Media.ID})
	if len(jobs) != 1 {
		t.Fatalf("jobs for media = %d, want 1", len(jobs))
	}
	if _, err := q.Dequeue(ctx, time.Second); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if delivery, _ := q.Dequeue(ctx, 50*time.Millisecond); delivery != nil {
		t.Fatalf("rejected submit left a message: %+v", delivery.Message)
	}

	// the store refuses the row even when the service check is bypassed
	err = st.CreateJob(ctx, &store.Job{MediaID: first.Media.ID})
	if !errors.Is(err, store.ErrActiveJob) {
		t.Fatalf("CreateJob with an active job = %v", err)
	}
}

func TestSubmitRequiresRef(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Submit(context.Background(), SubmitRequest{ExternalRef: "  "})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListJobsFilters(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	first, _ := svc.Submit(ctx, SubmitRequest{ExternalRef: "https://video.example/a"})
	svc.Submit(ctx, SubmitRequest{ExternalRef: "https://video.example/b"})
	failJob(t, st, first.Job.ID)

	failed, err := svc.ListJobs(ctx, []string{"FAILED"}, 0, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != first.Job.ID || failed[0].FailedStage != "transcription" {
		t.Fatalf("unexpected failed jobs: %+v", failed)
	}
	all, _ := svc.ListJobs(ctx, nil, 0, 0)
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}
	if _, err := svc.ListJobs(ctx, []string{"paused"}, 0, 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDescribeJobNotFound(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.DescribeJob(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.DescribeMedia(context.Background(), 404, false); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelJob(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	resp, _ := svc.Submit(ctx, SubmitRequest{ExternalRef: "https://video.example/a"})

	job, err := svc.CancelJob(ctx, resp.Job.ID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if !job.CancelRequested {
		t.Fatal("cancel flag not set")
	}

	failJob(t, st, resp.Job.ID)
	if _, err := svc.CancelJob(ctx, resp.Job.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("cancelling a failed job should be rejected, got %v", err)
	}
}

func TestRetryJobSubmitsReprocess(t *testing.T) {
	svc, st, q := newService(t)
	ctx := context.Background()
	resp, _ := svc.Submit(ctx, SubmitRequest{ExternalRef: "https://video.example/a"})
	if _, err := q.Dequeue(ctx, time.Second); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if _, err := svc.RetryJob(ctx, resp.Job.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("retrying a queued job should be rejected, got %v", err)
	}

	failJob(t, st, resp.Job.ID)
	next, err := svc.RetryJob(ctx, resp.Job.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if next.ID == resp.Job.ID || !next.Reprocess || next.MediaID != resp.Media.ID {
		t.Fatalf("unexpected retry job: %+v", next)
	}
	prior, _ := st.GetJob(ctx, resp.Job.ID)
	if prior.Status != store.StatusFailed || prior.ErrorMessage == "" {
		t.Fatalf("failed job must not be mutated: %+v", prior)
	}
	delivery, err := q.Dequeue(ctx, time.Second)
	if err != nil || delivery == nil {
		t.Fatalf("Dequeue: %v, %v", delivery, err)
	}
	if delivery.Message.JobID != next.ID || !delivery.Message.Reprocess {
		t.Fatalf("unexpected retry message: %+v", delivery.Message)
	}
}

func TestDescribeMediaCountsSegments(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	media := testsupport.NewMedia(t, st, "https://video.example/a", "")
	if err := media.SetTranscript("hello there general kenobi", "", store.SourceTier1); err != nil {
		t.Fatalf("SetTranscript: %v", err)
	}
	if err := st.UpdateMedia(ctx, media); err != nil {
		t.Fatalf("UpdateMedia: %v", err)
	}
	segs := []store.Segment{
		{SequenceIndex: 0, StartOffset: 0, EndOffset: 11, WordCount: 2, Text: "hello there", Embedding: []float32{1, 0}},
		{SequenceIndex: 1, StartOffset: 12, EndOffset: 26, WordCount: 2, Text: "general kenobi", Embedding: []float32{0, 1}},
	}
	if err := st.ReplaceSegments(ctx, media.ID, segs); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}

	dto, err := svc.DescribeMedia(ctx, media.ID, false)
	if err != nil {
		t.Fatalf("DescribeMedia: %v", err)
	}
	if dto.SegmentCount != 2 || dto.TranscriptWords != 4 || dto.TranscriptSource != "tier1" || dto.Transcript != "" {
		t.Fatalf("unexpected media dto: %+v", dto)
	}
	full, _ := svc.DescribeMedia(ctx, media.ID, true)
	if full.Transcript != "hello there general kenobi" {
		t.Fatalf("transcript = %q", full.Transcript)
	}
}

type stubSearcher struct{ results []retrieval.Result }

func (s stubSearcher) Search(context.Context, retrieval.Request) ([]retrieval.Result, error) {
	return s.results, nil
}

type stubAsker struct{}

func (stubAsker) Ask(_ context.Context, req assistant.Request) (*assistant.Answer, error) {
	return &assistant.Answer{Answer: "echo: " + req.Question}, nil
}

func TestSearchAndAskRequireBackends(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Search(ctx, retrieval.Request{Query: "q"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := svc.Ask(ctx, assistant.Request{Question: "q"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	svc, _, _ = newService(t, WithSearcher(stubSearcher{}), WithAsker(stubAsker{}))
	resp, err := svc.Search(ctx, retrieval.Request{Query: "q"})
	if err != nil || resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("Search = %+v, %v", resp, err)
	}
	answer, err := svc.Ask(ctx, assistant.Request{Question: "why?"})
	if err != nil || answer.Answer != "echo: why?" {
		t.Fatalf("Ask = %+v, %v", answer, err)
	}
}

func TestBatchJobActions(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()
	queued, _ := svc.Submit(ctx, SubmitRequest{ExternalRef: "https://video.example/a"})
	failed, _ := svc.Submit(ctx, SubmitRequest{ExternalRef: "https://video.example/b"})
	failJob(t, st, failed.Job.ID)

	cancelled, err := CancelJobs(ctx, svc, []string{queued.Job.ID, failed.Job.ID, "missing"})
	if err != nil {
		t.Fatalf("CancelJobs: %v", err)
	}
	if cancelled.Requested != 1 {
		t.Fatalf("requested = %d", cancelled.Requested)
	}
	want := []CancelJobOutcome{CancelJobRequested, CancelJobAlreadyFailed, CancelJobNotFound}
	for i, outcome := range want {
		if cancelled.Jobs[i].Outcome != outcome {
			t.Fatalf("cancel outcome %d = %s, want %s", i, cancelled.Jobs[i].Outcome, outcome)
		}
	}

	retried, err := RetryFailedJobs(ctx, svc, []string{queued.Job.ID, failed.Job.ID, "missing"})
	if err != nil {
		t.Fatalf("RetryFailedJobs: %v", err)
	}
	if retried.Submitted != 1 || retried.Jobs[1].Outcome != RetryJobSubmitted || retried.Jobs[1].NewJobID == "" {
		t.Fatalf("unexpected retry result: %+v", retried)
	}
	if retried.Jobs[0].Outcome != RetryJobNotFailed || retried.Jobs[2].Outcome != RetryJobNotFound {
		t.Fatalf("unexpected retry outcomes: %+v", retried.Jobs)
	}

	again, err := RetryFailedJobs(ctx, svc, []string{failed.Job.ID})
	if err != nil {
		t.Fatalf("second RetryFailedJobs: %v", err)
	}
	if again.Submitted != 0 || again.Jobs[0].Outcome != RetryJobActive {
		t.Fatalf("retry while the earlier retry is queued = %+v", again)
	}
}
