package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/progress"
	"scribe/internal/queue"
	"scribe/internal/services"
	"scribe/internal/stage"
	"scribe/internal/store"
	"scribe/internal/testsupport"
	"scribe/internal/workflow"
)

type stubStage struct {
	name        string
	log         *callLog
	executeHook func(*stage.Run)
	prepareErr  error
	executeErr  error
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (s *stubStage) Prepare(context.Context, *stage.Run) error { return s.prepareErr }

func (s *stubStage) Execute(_ context.Context, run *stage.Run) error {
	s.log.add(s.name)
	if s.executeHook != nil {
		s.executeHook(run)
	}
	return s.executeErr
}

func (s *stubStage) HealthCheck(context.Context) stage.Health { return stage.Healthy(s.name) }

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Publish(evt progress.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

type harness struct {
	cfg    *config.Config
	store  *store.Store
	queue  *queue.Queue
	mgr    *workflow.Manager
	events *recorder
	log    *callLog
	stages map[string]*stubStage
}

func newHarness(t *testing.T, opts ...workflow.ManagerOption) *harness {
	t.Helper()
	return newConfiguredHarness(t, nil, opts...)
}

func newConfiguredHarness(t *testing.T, cfgOpts []testsupport.ConfigOption, opts ...workflow.ManagerOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	st := testsupport.MustOpenStore(t, cfg)
	h := &harness{
		cfg:    cfg,
		store:  st,
		queue:  queue.New(st.DB(), queue.WithPollInterval(10*time.Millisecond)),
		events: &recorder{},
		log:    &callLog{},
		stages: make(map[string]*stubStage),
	}
	for _, name := range []string{
		workflow.StageMetadata, workflow.StageValidation, workflow.StageTranscription,
		workflow.StageContentStart, workflow.StageAnalysis, workflow.StageIndexing,
	} {
		h.stages[name] = &stubStage{name: name, log: h.log}
	}
	opts = append([]workflow.ManagerOption{
		workflow.WithPublisher(h.events),
		workflow.WithoutPreflight(),
		workflow.WithDequeueTimeout(50 * time.Millisecond),
	}, opts...)
	h.mgr = workflow.NewManager(cfg, st, h.queue, nil, opts...)
	h.mgr.ConfigureStages(workflow.StageSet{
		Metadata:      h.stages[workflow.StageMetadata],
		Validation:    h.stages[workflow.StageValidation],
		Transcription: h.stages[workflow.StageTranscription],
		ContentStart:  h.stages[workflow.StageContentStart],
		Analysis:      h.stages[workflow.StageAnalysis],
		Indexing:      h.stages[workflow.StageIndexing],
	})
	return h
}

func (h *harness) submit(t *testing.T, ref string) queue.Message {
	t.Helper()
	media := testsupport.NewMedia(t, h.store, ref, "")
	job := &store.Job{MediaID: media.ID}
	if err := h.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return queue.Message{JobID: job.ID, MediaID: media.ID, ExternalRef: ref}
}

func (h *harness) job(t *testing.T, id string) *store.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return job
}

func TestProcessRunsStagesInOrder(t *testing.T) {
	h := newHarness(t)
	msg := h.submit(t, "https://video.example/a")

	if err := h.mgr.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := []string{"metadata", "validation", "transcription", "content_start", "analysis", "indexing"}
	if got := h.log.snapshot(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("stage order = %v, want %v", got, want)
	}

	job := h.job(t, msg.JobID)
	if job.Status != store.StatusCompleted || job.CurrentStage != 6 || job.ProgressPercent != 100 {
		t.Fatalf("unexpected job state: %+v", job)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("expected start and completion timestamps: %+v", job)
	}
	media, _ := h.store.GetMedia(context.Background(), msg.MediaID)
	if media.Status != store.StatusCompleted {
		t.Fatalf("media status = %s", media.Status)
	}

	events := h.events.snapshot()
	percents := []int{10, 20, 50, 60, 70, 90, 100}
	if len(events) != len(percents) {
		t.Fatalf("expected %d events, got %d: %+v", len(percents), len(events), events)
	}
	for i, evt := range events {
		if evt.Percent != percents[i] || evt.MediaID != msg.MediaID {
			t.Fatalf("event %d = %+v, want percent %d", i, evt, percents[i])
		}
		if i < 6 && (evt.Stage != i+1 || evt.Status != progress.StatusRunning) {
			t.Fatalf("event %d = %+v", i, evt)
		}
	}
	last := events[len(events)-1]
	if last.Stage != 6 || last.Status != progress.StatusCompleted {
		t.Fatalf("final event = %+v", last)
	}
}

func TestProcessPersistsBeforeNextStage(t *testing.T) {
	h := newHarness(t)
	msg := h.submit(t, "https://video.example/persist")

	var seen []int
	h.stages[workflow.StageTranscription].executeHook = func(run *stage.Run) {
		job := h.job(t, run.Job.ID)
		seen = append(seen, job.CurrentStage, job.ProgressPercent)
	}
	if err := h.mgr.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(seen) != 2 || seen[0] != 2 || seen[1] != 20 {
		t.Fatalf("transcription saw persisted stage/percent %v, want [2 20]", seen)
	}
}

func TestProcessResumesAfterCurrentStage(t *testing.T) {
	h := newHarness(t)
	media := testsupport.NewMedia(t, h.store, "https://video.example/resume", "")
	job := &store.Job{MediaID: media.ID, CurrentStage: 3, ProgressPercent: 50}
	if err := h.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := h.mgr.Process(context.Background(), queue.Message{JobID: job.ID, MediaID: media.ID}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := "content_start,analysis,indexing"
	if got := strings.Join(h.log.snapshot(), ","); got != want {
		t.Fatalf("resumed stages = %s, want %s", got, want)
	}
	if events := h.events.snapshot(); events[0].Stage != 4 {
		t.Fatalf("first event should be stage 4, got %+v", events[0])
	}
}

func TestProcessSkipsTerminalJob(t *testing.T) {
	h := newHarness(t)
	msg := h.submit(t, "https://video.example/done")
	if err := h.mgr.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	before := len(h.log.snapshot())

	if err := h.mgr.Process(context.Background(), msg); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if after := len(h.log.snapshot()); after != before {
		t.Fatalf("terminal job was re-run: %d stage calls, want %d", after, before)
	}
}

func TestProcessCreatesMissingRows(t *testing.T) {
	h := newHarness(t)
	msg := queue.Message{JobID: store.NewJobID(), MediaID: 42, ExternalRef: "https://video.example/new", Reprocess: true}

	var reprocess bool
	h.stages[workflow.StageMetadata].executeHook = func(run *stage.Run) { reprocess = run.Reprocess }
	if err := h.mgr.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	job := h.job(t, msg.JobID)
	if job.MediaID != 42 || job.Status != store.StatusCompleted || !job.Reprocess {
		t.Fatalf("unexpected job: %+v", job)
	}
	media, err := h.store.GetMedia(context.Background(), 42)
	if err != nil || media.ExternalRef != msg.ExternalRef {
		t.Fatalf("media not created: %+v err=%v", media, err)
	}
	if !reprocess {
		t.Fatal("reprocess flag should reach the stages")
	}
}

func TestProcessRejectsUnknownMediaWithoutRef(t *testing.T) {
	h := newHarness(t)
	err := h.mgr.Process(context.Background(), queue.Message{JobID: store.NewJobID(), MediaID: 7})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if len(h.log.snapshot()) != 0 {
		t.Fatal("no stage should run")
	}
}

func TestStageFailureStopsPipeline(t *testing.T) {
	h := newHarness(t)
	msg := h.submit(t, "https://video.example/short")
	h.stages[workflow.StageValidation].executeErr = services.Wrap(services.ErrPolicy, "validation", "check duration",
		"duration 3m20s below minimum 5m0s", nil)

	if err := h.mgr.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := strings.Join(h.log.snapshot(), ","); got != "metadata,validation" {
		t.Fatalf("stages run = %s", got)
	}

	job := h.job(t, msg.JobID)
	if job.Status != store.StatusFailed || job.FailedStage != "validation" || job.CurrentStage != 1 {
		t.Fatalf("unexpected job: %+v", job)
	}
	if !strings.HasPrefix(job.ErrorMessage, "validation: ") || !strings.Contains(job.ErrorMessage, "below minimum") {
		t.Fatalf("error message = %q", job.ErrorMessage)
	}
	media, _ := h.store.GetMedia(context.Background(), msg.MediaID)
	if media.Status != store.StatusFailed || media.ErrorMessage != job.ErrorMessage {
		t.Fatalf("media should mirror the failure: %+v", media)
	}

	events := h.events.snapshot()
	last := events[len(events)-1]
	if last.Status != progress.StatusFailed || last.Stage != 2 || last.Percent != 10 || last.Detail != job.ErrorMessage {
		t.Fatalf("failure event = %+v", last)
	}
}

func TestPrepareFailureIsRecorded(t *testing.T) {
	h := newHarness(t)
	msg := h.submit(t, "https://video.example/prepare")
	h.stages[workflow.StageMetadata].prepareErr = errors.New("no media state")

	if err := h.mgr.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	job := h.job(t, msg.JobID)
	if job.Status != store.StatusFailed || job.ErrorMessage != "metadata: no media state" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if len(h.log.snapshot()) != 0 {
		t.Fatal("execute must not run after a failed prepare")
	}
}

func TestRejectedStageResultFailsJob(t *testing.T) {
	h := newHarness(t)
	msg := h.submit(t, "https://video.example/empty-transcript")
	h.stages[workflow.StageTranscription].executeHook = func(run *stage.Run) {
		run.Media.TranscriptSource = store.SourceTier1
		run.Media.TranscriptText = ""
	}

	if err := h.mgr.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := strings.Join(h.log.snapshot(), ","); got != "metadata,validation,transcription" {
		t.Fatalf("stages run = %s", got)
	}
	job := h.job(t, msg.JobID)
	if job.Status != store.StatusFailed || job.FailedStage != "transcription" || job.CurrentStage != 2 {
		t.Fatalf("unexpected job: %+v", job)
	}
	if !strings.HasPrefix(job.ErrorMessage, "transcription: ") ||
		!strings.Contains(job.ErrorMessage, store.ErrInvalidTranscript.Error()) {
		t.Fatalf("error message = %q", job.ErrorMessage)
	}

	var failed []progress.Event
	for _, evt := range h.events.snapshot() {
		if evt.Status == progress.StatusFailed {
			failed = append(failed, evt)
		}
	}
	if len(failed) != 1 || failed[0].Stage != 3 || failed[0].Detail != job.ErrorMessage {
		t.Fatalf("failed events = %+v", failed)
	}
}

func TestCancellationCheckedBetweenStages(t *testing.T) {
	h := newHarness(t)
	msg := h.submit(t, "https://video.example/cancel")
	h.stages[workflow.StageValidation].executeHook = func(run *stage.Run) {
		if _, err := h.store.RequestCancel(context.Background(), run.Job.ID); err != nil {
			t.Errorf("RequestCancel: %v", err)
		}
	}

	if err := h.mgr.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := strings.Join(h.log.snapshot(), ","); got != "metadata,validation" {
		t.Fatalf("stages run = %s", got)
	}
	job := h.job(t, msg.JobID)
	if job.Status != store.StatusFailed || job.ErrorMessage != "cancelled by operator before transcription" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.CurrentStage != 2 {
		t.Fatalf("validation's completion should be kept, current stage %d", job.CurrentStage)
	}
}

func TestWorkersDrainQueue(t *testing.T) {
	h := newHarness(t, workflow.WithWorkers(2))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []string
	for _, ref := range []string{"https://v.example/1", "https://v.example/2", "https://v.example/3"} {
		msg := h.submit(t, ref)
		ids = append(ids, msg.JobID)
		if _, err := h.queue.Enqueue(ctx, msg); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	if err := h.mgr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.mgr.Stop)
	if err := h.mgr.Start(ctx); err == nil {
		t.Fatal("second Start should fail")
	}

	deadline := time.Now().Add(10 * time.Second)
	for _, id := range ids {
		for h.job(t, id).Status != store.StatusCompleted {
			if time.Now().After(deadline) {
				t.Fatalf("job %s did not complete", id)
			}
			time.Sleep(20 * time.Millisecond)
		}
	}

	status := h.mgr.Status(ctx)
	if !status.Running || status.Workers != 2 || status.JobCounts[store.StatusCompleted] != 3 || status.QueueDepth != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(status.StageHealth) != 6 || !status.StageHealth["indexing"].Ready {
		t.Fatalf("unexpected stage health: %+v", status.StageHealth)
	}
}

func TestStartRequiresAllStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	mgr := workflow.NewManager(cfg, st, queue.New(st.DB()), nil, workflow.WithoutPreflight())
	if err := mgr.Start(context.Background()); err == nil {
		mgr.Stop()
		t.Fatal("Start without stages should fail")
	}
}
