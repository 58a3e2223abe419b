package ytdlp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProbeDecodesMetadata(t *testing.T) {
	var gotArgs []string
	svc := New("").WithRunner(RunnerFunc(func(_ context.Context, name string, args ...string) (CommandResult, error) {
		if name != DefaultBinary {
			t.Fatalf("unexpected binary %q", name)
		}
		gotArgs = args
		return CommandResult{Stdout: `{"id":"abc","title":"Talk","duration":912.5,"language":"en",
			"subtitles":{"en":[{"ext":"vtt"}],"live_chat":[{"ext":"json"}]},
			"automatic_captions":{"de":[{"ext":"vtt"}],"en":[{"ext":"vtt"}]}}`}, nil
	}))

	meta, err := svc.Probe(context.Background(), "https://example.test/watch?v=abc")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if meta.Title != "Talk" || meta.Duration != 912.5 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if gotArgs[len(gotArgs)-1] != "https://example.test/watch?v=abc" || gotArgs[len(gotArgs)-2] != "--" {
		t.Fatalf("ref must follow --, got %v", gotArgs)
	}
	if got := strings.Join(meta.CaptionLanguages(false), ","); got != "en" {
		t.Fatalf("manual languages = %q", got)
	}
	if got := strings.Join(meta.CaptionLanguages(true), ","); got != "en,de" {
		t.Fatalf("all languages = %q", got)
	}
}

func TestRunFailureIsClassified(t *testing.T) {
	cases := map[string]FailureKind{
		"ERROR: [youtube] abc: Video unavailable":           FailureUnavailable,
		"ERROR: [youtube] abc: Private video. Sign in":      FailureUnavailable,
		"ERROR: unable to download webpage: HTTP Error 429": FailureTransient,
		"ERROR: Read timed out":                             FailureTransient,
		"ERROR: something strange happened":                 FailureOther,
	}

	for stderr, want := range cases {
		svc := New("yt").WithRunner(RunnerFunc(func(context.Context, string, ...string) (CommandResult, error) {
			return CommandResult{Stderr: stderr, ExitCode: 1}, errors.New("exit status 1")
		}))
		_, err := svc.Probe(context.Background(), "ref")
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			t.Fatalf("%q: expected CommandError, got %v", stderr, err)
		}
		if cmdErr.Kind != want {
			t.Fatalf("%q: kind = %s, want %s", stderr, cmdErr.Kind, want)
		}
	}
}

func TestCommandErrorThrottled(t *testing.T) {
	err := &CommandError{Op: "captions", Kind: FailureTransient, Stderr: "HTTP Error 429: Too Many Requests"}
	if !err.Throttled() {
		t.Fatal("expected throttled")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("error text should carry stderr detail: %v", err)
	}
}

func TestDownloadCaptionsPicksPreferredLanguage(t *testing.T) {
	dir := t.TempDir()
	svc := New("").WithRunner(RunnerFunc(func(_ context.Context, _ string, args ...string) (CommandResult, error) {
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "--write-auto-subs") {
			t.Fatalf("expected auto captions flag: %s", joined)
		}
		if !strings.Contains(joined, "--sub-langs de,de-.*,en,en-.*") {
			t.Fatalf("unexpected sub-langs: %s", joined)
		}
		for _, lang := range []string{"en", "de"} {
			path := filepath.Join(dir, "captions."+lang+".vtt")
			if err := os.WriteFile(path, []byte("WEBVTT\n"), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
		return CommandResult{}, nil
	}))

	file, err := svc.DownloadCaptions(context.Background(), CaptionRequest{
		Ref:         "ref",
		Languages:   []string{"de", "en"},
		IncludeAuto: true,
		OutputDir:   dir,
	})
	if err != nil {
		t.Fatalf("DownloadCaptions: %v", err)
	}
	if file.Language != "de" || filepath.Base(file.Path) != "captions.de.vtt" {
		t.Fatalf("unexpected caption file %+v", file)
	}
}

func TestDownloadCaptionsNone(t *testing.T) {
	svc := New("").WithRunner(RunnerFunc(func(context.Context, string, ...string) (CommandResult, error) {
		return CommandResult{}, nil
	}))
	_, err := svc.DownloadCaptions(context.Background(), CaptionRequest{Ref: "ref", OutputDir: t.TempDir()})
	if !errors.Is(err, ErrNoCaptions) {
		t.Fatalf("expected ErrNoCaptions, got %v", err)
	}
}

func TestDownloadAudioUsesPrintedPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "audio.m4a")
	svc := New("").WithRunner(RunnerFunc(func(context.Context, string, ...string) (CommandResult, error) {
		if err := os.WriteFile(target, []byte("data"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return CommandResult{Stdout: target + "\n"}, nil
	}))
	path, err := svc.DownloadAudio(context.Background(), "ref", dir)
	if err != nil {
		t.Fatalf("DownloadAudio: %v", err)
	}
	if path != target {
		t.Fatalf("path = %q, want %q", path, target)
	}
}

func TestContextCancellationWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := New("").WithRunner(RunnerFunc(func(context.Context, string, ...string) (CommandResult, error) {
		return CommandResult{ExitCode: -1}, errors.New("signal: killed")
	}))
	if _, err := svc.Probe(ctx, "ref"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
