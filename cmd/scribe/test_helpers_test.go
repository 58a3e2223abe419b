package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/daemon"
	"scribe/internal/metrics"
	"scribe/internal/progress"
	"scribe/internal/queue"
	"scribe/internal/stage"
	"scribe/internal/store"
	"scribe/internal/testsupport"
	"scribe/internal/workflow"
)

type noopStage struct{ name string }

func (noopStage) Prepare(context.Context, *stage.Run) error { return nil }
func (noopStage) Execute(context.Context, *stage.Run) error { return nil }
func (s noopStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(s.name)
}

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	daemon     *daemon.Daemon
	configPath string
}

// setupCLITestEnv serves a daemon API on an httptest listener without
// starting workers, so submitted jobs stay queued.
func setupCLITestEnv(t *testing.T, token string) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Paths.APIToken = token
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(st.DB(), queue.WithPollInterval(10*time.Millisecond))
	m := metrics.New()
	b := progress.NewBroadcaster(progress.OptionsFromConfig(cfg), nil, m)
	mgr := workflow.NewManager(cfg, st, q, nil, workflow.WithPublisher(b), workflow.WithoutPreflight())
	mgr.ConfigureStages(workflow.StageSet{
		Metadata:      noopStage{workflow.StageMetadata},
		Validation:    noopStage{workflow.StageValidation},
		Transcription: noopStage{workflow.StageTranscription},
		ContentStart:  noopStage{workflow.StageContentStart},
		Analysis:      noopStage{workflow.StageAnalysis},
		Indexing:      noopStage{workflow.StageIndexing},
	})

	d, err := daemon.New(cfg, daemon.Components{
		Store:       st,
		Workflow:    mgr,
		Broadcaster: b,
		Service:     api.NewService(st, q),
		Metrics:     m,
	}, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	server := httptest.NewServer(d.Handler())
	t.Cleanup(server.Close)
	cfg.Paths.APIBind = strings.TrimPrefix(server.URL, "http://")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, store: st, daemon: d, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\nwork_dir = %q\ncache_dir = %q\napi_bind = %q\napi_token = %q\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.WorkDir,
		cfg.Paths.CacheDir,
		cfg.Paths.APIBind,
		cfg.Paths.APIToken,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
