package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"scribe/internal/analysis"
	"scribe/internal/contentstart"
	"scribe/internal/indexer"
	"scribe/internal/metadata"
	"scribe/internal/progress"
	"scribe/internal/queue"
	"scribe/internal/services"
	"scribe/internal/services/ytdlp"
	"scribe/internal/store"
	"scribe/internal/testsupport"
	"scribe/internal/transcript"
	"scribe/internal/workflow"
)

type fixedProber struct {
	meta ytdlp.Metadata
}

func (p fixedProber) Probe(context.Context, string) (ytdlp.Metadata, error) { return p.meta, nil }

type scriptedTier struct {
	name    string
	source  store.TranscriptSource
	outcome transcript.Outcome
	log     *callLog
}

func (t *scriptedTier) Source() store.TranscriptSource { return t.source }
func (t *scriptedTier) Name() string                   { return t.name }

func (t *scriptedTier) Attempt(context.Context, transcript.Request) transcript.Outcome {
	t.log.add(t.name)
	return t.outcome
}

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	vec := make([]float32, 8)
	vec[len(text)%8] = 1
	return vec, nil
}

func (e *countingEmbedder) Dimensions() int { return 8 }

// speechCues spreads words evenly over duration, ten words per cue.
func speechCues(words int, duration float64) []transcript.Cue {
	all := strings.Fields(testsupport.Words(words))
	step := duration / float64((words+9)/10)
	var cues []transcript.Cue
	for i := 0; i < len(all); i += 10 {
		end := min(i+10, len(all))
		n := float64(len(cues))
		cues = append(cues, transcript.Cue{Start: n * step, End: (n + 1) * step, Text: strings.Join(all[i:end], " ")})
	}
	return cues
}

type pipeline struct {
	*harness
	tiers    *callLog
	embedder *countingEmbedder
}

func newPipeline(t *testing.T, duration float64, minSeconds, words int) *pipeline {
	t.Helper()
	h := newConfiguredHarness(t, []testsupport.ConfigOption{testsupport.WithDurationWindow(minSeconds, 0)})
	p := &pipeline{harness: h, tiers: &callLog{}, embedder: &countingEmbedder{}}

	resolver := transcript.NewResolver([]transcript.Tier{
		&scriptedTier{name: "captions", source: store.SourceTier1, outcome: transcript.Miss("no captions"), log: p.tiers},
		&scriptedTier{name: "transcript_api", source: store.SourceTier2, outcome: transcript.Miss("no transcript"), log: p.tiers},
		&scriptedTier{name: "speech_to_text", source: store.SourceTier3, outcome: transcript.Success(speechCues(words, duration), "en"), log: p.tiers},
	})
	ix := indexer.New(p.embedder, h.store)
	h.mgr.ConfigureStages(workflow.StageSet{
		Metadata:      metadata.NewProbeStage(fixedProber{meta: ytdlp.Metadata{Title: "Lecture", Duration: duration}}, nil, nil),
		Validation:    metadata.NewValidationStage(metadata.WindowFromConfig(h.cfg), nil),
		Transcription: transcript.NewStage(resolver, h.cfg.Paths.WorkDir, []string{"en"}, nil),
		ContentStart:  contentstart.NewStage(nil, nil, nil),
		Analysis:      analysis.NewStage(nil, nil, nil),
		Indexing:      indexer.NewStage(ix, nil),
	})
	return p
}

func TestLongVideoFallsThroughToSpeechAndIndexes(t *testing.T) {
	const words = 14288
	p := newPipeline(t, 5715, 300, words)
	msg := p.submit(t, "https://video.example/lecture")

	if err := p.mgr.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := strings.Join(p.tiers.snapshot(), ","); got != "captions,transcript_api,speech_to_text" {
		t.Fatalf("tier order = %s", got)
	}

	job := p.job(t, msg.JobID)
	if job.Status != store.StatusCompleted {
		t.Fatalf("job not completed: %+v", job)
	}
	media, err := p.store.GetMedia(context.Background(), msg.MediaID)
	if err != nil {
		t.Fatalf("GetMedia: %v", err)
	}
	if media.DurationSeconds != 5715 || media.TranscriptSource != store.SourceTier3 || media.ContentHash == "" {
		t.Fatalf("unexpected media: duration=%v source=%s hash=%q", media.DurationSeconds, media.TranscriptSource, media.ContentHash)
	}
	if media.ContentStart() != 0 {
		t.Fatalf("content start should fall back to 0, got %v", media.ContentStart())
	}

	wantSegments := (words + 249) / 250
	count, err := p.store.CountSegments(context.Background(), msg.MediaID)
	if err != nil {
		t.Fatalf("CountSegments: %v", err)
	}
	if count != wantSegments || p.embedder.calls != wantSegments {
		t.Fatalf("segments = %d, embed calls = %d, want %d", count, p.embedder.calls, wantSegments)
	}
}

func TestShortVideoFailsValidationBeforeTranscription(t *testing.T) {
	p := newPipeline(t, 200, 300, 500)
	msg := p.submit(t, "https://video.example/short")

	if err := p.mgr.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if calls := p.tiers.snapshot(); len(calls) != 0 {
		t.Fatalf("transcription must not run, tiers called: %v", calls)
	}
	job := p.job(t, msg.JobID)
	if job.Status != store.StatusFailed || job.FailedStage != workflow.StageValidation {
		t.Fatalf("unexpected job: %+v", job)
	}
	if !strings.Contains(job.ErrorMessage, "below minimum") {
		t.Fatalf("error message = %q", job.ErrorMessage)
	}
	media, _ := p.store.GetMedia(context.Background(), msg.MediaID)
	if media.HasTranscript() || media.TranscriptSource != store.SourceNone {
		t.Fatal("failed validation must not leave a transcript")
	}

	events := p.events.snapshot()
	last := events[len(events)-1]
	if last.Status != progress.StatusFailed || last.Stage != 2 {
		t.Fatalf("unexpected final event: %+v", last)
	}
}

func TestValidationPolicyErrorIsNotRetryable(t *testing.T) {
	err := metadata.Window{MinSeconds: 300}.Check(200)
	if !errors.Is(err, services.ErrPolicy) || services.Retryable(err) {
		t.Fatalf("expected non-retryable policy error, got %v", err)
	}
}

func TestRerunWithReprocessSupersedesSegments(t *testing.T) {
	p := newPipeline(t, 1200, 0, 1000)
	msg := p.submit(t, "https://video.example/again")
	if err := p.mgr.Process(context.Background(), msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	first, _ := p.store.ListSegments(context.Background(), msg.MediaID)

	retry := &store.Job{MediaID: msg.MediaID, Reprocess: true}
	if err := p.store.CreateJob(context.Background(), retry); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := p.mgr.Process(context.Background(), queue.Message{JobID: retry.ID, MediaID: msg.MediaID, Reprocess: true}); err != nil {
		t.Fatalf("Process retry: %v", err)
	}
	second, _ := p.store.ListSegments(context.Background(), msg.MediaID)
	if len(first) != 4 || len(second) != len(first) {
		t.Fatalf("segment counts %d then %d, want 4 both times", len(first), len(second))
	}
	for i := range first {
		if first[i].StartOffset != second[i].StartOffset || first[i].EndOffset != second[i].EndOffset {
			t.Fatalf("segment %d boundaries moved", i)
		}
	}
	if got := len(p.tiers.snapshot()); got != 6 {
		t.Fatalf("reprocess should resolve the transcript again, tier calls = %d", got)
	}
}
