package metadata

import (
	"context"
	"errors"
	"testing"

	"scribe/internal/media/ffprobe"
	"scribe/internal/services"
	"scribe/internal/services/ytdlp"
	"scribe/internal/stage"
	"scribe/internal/store"
	"scribe/internal/testsupport"
)

type stubRemote struct {
	meta  ytdlp.Metadata
	err   error
	calls int
}

func (s *stubRemote) Probe(context.Context, string) (ytdlp.Metadata, error) {
	s.calls++
	return s.meta, s.err
}

func newRun(ref string) *stage.Run {
	return &stage.Run{Job: &store.Job{ID: "job-1", MediaID: 1}, Media: &store.MediaItem{ID: 1, ExternalRef: ref}}
}

func TestProbeStageRemote(t *testing.T) {
	remote := &stubRemote{meta: ytdlp.Metadata{Title: "Lecture 4", Duration: 5715, Language: "en-US"}}
	s := NewProbeStage(remote, nil, nil)
	run := newRun("https://www.youtube.com/watch?v=abc")

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Media.DurationSeconds != 5715 || run.Media.Title != "Lecture 4" || run.Media.Language != "en" {
		t.Fatalf("unexpected media: %+v", run.Media)
	}
}

func TestProbeStageLocalUsesFFprobe(t *testing.T) {
	remote := &stubRemote{}
	local := func(_ context.Context, path string) (ffprobe.Result, error) {
		if path != "/srv/media/talk.mkv" {
			t.Fatalf("unexpected path %q", path)
		}
		return ffprobe.Result{
			Format:  ffprobe.Format{Duration: "1800.5", Tags: map[string]string{"TITLE": "Talk"}},
			Streams: []ffprobe.Stream{{CodecType: "audio", Tags: map[string]string{"language": "deu"}}},
		}, nil
	}
	s := NewProbeStage(remote, local, nil)
	run := newRun("file:///srv/media/talk.mkv")

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if remote.calls != 0 {
		t.Fatalf("remote prober should not run for local files")
	}
	if run.Media.DurationSeconds != 1800.5 || run.Media.Title != "Talk" || run.Media.Language != "de" {
		t.Fatalf("unexpected media: %+v", run.Media)
	}
}

func TestProbeStageSkipsKnownDurationUnlessReprocess(t *testing.T) {
	remote := &stubRemote{meta: ytdlp.Metadata{Duration: 60}}
	s := NewProbeStage(remote, nil, nil)
	run := newRun("yt:abc")
	run.Media.DurationSeconds = 300

	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if remote.calls != 0 || run.Media.DurationSeconds != 300 {
		t.Fatalf("expected reuse, calls=%d duration=%v", remote.calls, run.Media.DurationSeconds)
	}

	run.Reprocess = true
	if err := s.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute reprocess: %v", err)
	}
	if remote.calls != 1 || run.Media.DurationSeconds != 60 {
		t.Fatalf("expected re-probe, calls=%d duration=%v", remote.calls, run.Media.DurationSeconds)
	}
}

func TestProbeStageClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unavailable", &ytdlp.CommandError{Op: "probe", Kind: ytdlp.FailureUnavailable}, services.ErrPolicy},
		{"transient", &ytdlp.CommandError{Op: "probe", Kind: ytdlp.FailureTransient}, services.ErrTransient},
		{"other", &ytdlp.CommandError{Op: "probe", Kind: ytdlp.FailureOther}, services.ErrExternalTool},
		{"deadline", context.DeadlineExceeded, services.ErrTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewProbeStage(&stubRemote{err: tc.err}, nil, nil)
			err := s.Execute(context.Background(), newRun("yt:x"))
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestProbeStageRejectsMissingDuration(t *testing.T) {
	s := NewProbeStage(&stubRemote{meta: ytdlp.Metadata{Title: "live"}}, nil, nil)
	if err := s.Execute(context.Background(), newRun("yt:live")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWindowCheck(t *testing.T) {
	w := Window{MinSeconds: 300, MaxSeconds: 4 * 3600}
	tests := []struct {
		duration float64
		want     error
	}{
		{200, services.ErrPolicy},
		{300, nil},
		{5715, nil},
		{4*3600 + 1, services.ErrPolicy},
		{0, services.ErrValidation},
	}
	for _, tc := range tests {
		err := w.Check(tc.duration)
		if tc.want == nil && err != nil {
			t.Fatalf("duration %v: unexpected error %v", tc.duration, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("duration %v: got %v, want %v", tc.duration, err, tc.want)
		}
	}
	if err := (Window{}).Check(1); err != nil {
		t.Fatalf("unbounded window rejected: %v", err)
	}
}

func TestValidationStageRejectsShortMedia(t *testing.T) {
	s := NewValidationStage(Window{MinSeconds: 300}, nil)
	run := newRun("yt:short")
	run.Media.DurationSeconds = 200

	err := s.Execute(context.Background(), run)
	if !errors.Is(err, services.ErrPolicy) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatalf("policy violation must not be retryable")
	}
	if h := NewValidationStage(Window{MinSeconds: 10, MaxSeconds: 5}, nil).HealthCheck(context.Background()); h.Ready {
		t.Fatalf("inverted window should be unhealthy")
	}
}

func TestWindowFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDurationWindow(300, 7200))
	w := WindowFromConfig(cfg)
	if w.MinSeconds != 300 || w.MaxSeconds != 7200 {
		t.Fatalf("unexpected window %+v", w)
	}
	if got := WindowFromConfig(nil); got != (Window{}) {
		t.Fatalf("nil config should disable bounds, got %+v", got)
	}
}
