// Package daemonrun builds every pipeline component from configuration and
// runs the scribe daemon until it receives a termination signal.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"scribe/internal/analysis"
	"scribe/internal/api"
	"scribe/internal/assistant"
	"scribe/internal/config"
	"scribe/internal/contentstart"
	"scribe/internal/daemon"
	"scribe/internal/daemonctl"
	"scribe/internal/deps"
	"scribe/internal/embedding"
	"scribe/internal/gateway"
	"scribe/internal/indexer"
	"scribe/internal/logging"
	"scribe/internal/metadata"
	"scribe/internal/metrics"
	"scribe/internal/pgindex"
	"scribe/internal/progress"
	"scribe/internal/queue"
	"scribe/internal/retrieval"
	"scribe/internal/services/llm"
	"scribe/internal/services/ytdlp"
	"scribe/internal/store"
	"scribe/internal/transcript"
	"scribe/internal/transcriptcache"
	"scribe/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the scribe daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logDependencySnapshot(logger, cfg)

	pidPath := daemonctl.PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	comp, err := Build(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("build components", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, comp, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, the api_bind address and database access"),
			logging.String(logging.FieldImpact, "no jobs will be processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("scribe daemon shutting down")
	return nil
}

// Build assembles the daemon components described by cfg. Resources opened
// here are released by the returned Closers and the store.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (comp daemon.Components, err error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := metrics.New()
	comp.Metrics = m

	st, err := store.Open(cfg)
	if err != nil {
		return comp, fmt.Errorf("open store: %w", err)
	}
	comp.Store = st
	defer func() {
		if err != nil {
			closeAll(comp)
		}
	}()

	q := queue.New(st.DB(), queue.WithLogger(logger), queue.WithMetrics(m))
	gw, err := gateway.FromConfig(cfg, st.DB(), logger, m)
	if err != nil {
		return comp, err
	}

	var cache transcript.Cache
	if cfg.Transcription.CacheEnabled {
		c, err := transcriptcache.Open(transcriptcache.Options{
			Dir:       cfg.TranscriptCacheDir(),
			ResultTTL: time.Duration(cfg.Transcription.CacheTTLHours) * time.Hour,
			MissTTL:   time.Duration(cfg.Transcription.MissTTLHours) * time.Hour,
			Logger:    logger,
		})
		if err != nil {
			return comp, err
		}
		comp.Closers = append(comp.Closers, c.Close)
		cache = c
	}
	resolver, err := transcript.FromConfig(cfg, logger, m, cache)
	if err != nil {
		return comp, err
	}

	embedder, err := embedding.FromConfig(cfg, gw)
	if err != nil {
		return comp, err
	}
	indexOpts := []indexer.Option{
		indexer.WithWindowWords(cfg.Embedding.WindowWords),
		indexer.WithConcurrency(cfg.Embedding.Concurrency),
		indexer.WithLogger(logger),
		indexer.WithMetrics(m),
	}
	var source retrieval.Source = retrieval.NewStoreSource(st)
	if strings.EqualFold(cfg.Retrieval.Backend, "postgres") {
		pg, err := pgindex.Open(ctx, cfg.Retrieval.PostgresDSN, cfg.Embedding.Dimensions)
		if err != nil {
			return comp, err
		}
		comp.Closers = append(comp.Closers, func() error { pg.Close(); return nil })
		indexOpts = append(indexOpts, indexer.WithMirror(pg))
		source = pg
	}
	ix := indexer.New(embedder, st, indexOpts...)
	engine := retrieval.NewEngine(source, embedder, retrieval.OptionsFromConfig(cfg), logger, m)

	var (
		startCompleter    contentstart.Completer
		analysisCompleter analysis.Completer
		answerCompleter   assistant.Completer
	)
	if cfg.LLMEnabled() {
		client := llm.NewClient(llm.Config(cfg.GetLLM()))
		startCompleter, analysisCompleter, answerCompleter = client, client, client
	}

	var sinks []progress.Sink
	if len(cfg.Progress.KafkaBrokers) > 0 {
		sink, err := progress.NewKafkaSink(cfg.Progress.KafkaBrokers, cfg.Progress.KafkaTopic)
		if err != nil {
			return comp, err
		}
		sinks = append(sinks, sink)
	}
	broadcaster := progress.NewBroadcaster(progress.OptionsFromConfig(cfg), logger, m, sinks...)
	comp.Broadcaster = broadcaster

	mgr := workflow.NewManager(cfg, st, q, logger,
		workflow.WithPublisher(broadcaster),
		workflow.WithMetrics(m),
	)
	mgr.ConfigureStages(workflow.StageSet{
		Metadata:      metadata.NewProbeStage(ytdlp.New(cfg.Transcription.YtDlpBinary), metadata.FFprobe(cfg.Transcription.FFprobeBinary), logger),
		Validation:    metadata.NewValidationStage(metadata.WindowFromConfig(cfg), logger),
		Transcription: transcript.NewStage(resolver, cfg.Paths.WorkDir, cfg.Transcription.CaptionLanguages, logger),
		ContentStart:  contentstart.NewStage(startCompleter, gw, logger),
		Analysis:      analysis.NewStage(analysisCompleter, gw, logger),
		Indexing:      indexer.NewStage(ix, logger),
	})
	comp.Workflow = mgr
	comp.Reclaimer = workflow.NewReclaimer(st, filepath.Join(cfg.Paths.DataDir, "reclaimer.lock"),
		time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second, 0, broadcaster, logger, m)

	comp.Service = api.NewService(st, q,
		api.WithSearcher(engine),
		api.WithAsker(assistant.New(engine, answerCompleter, gw, logger)),
		api.WithLogger(logger),
	)
	return comp, nil
}

func closeAll(comp daemon.Components) {
	for _, closer := range comp.Closers {
		_ = closer()
	}
	if comp.Store != nil {
		_ = comp.Store.Close()
	}
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if opts.LogLevel == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "scribe.log")
	return logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	attrs := []any{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("llm_key_present", cfg.LLMEnabled()),
		logging.Bool("transcript_api_configured", strings.TrimSpace(cfg.Transcription.APIBaseURL) != ""),
		logging.String("embedding_provider", cfg.Embedding.Provider),
		logging.String("retrieval_backend", cfg.Retrieval.Backend),
		logging.Bool("kafka_enabled", len(cfg.Progress.KafkaBrokers) > 0),
	}
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		attrs = append(attrs, logging.Bool(strings.ToLower(status.Name)+"_available", status.Available))
	}
	logger.Info("dependency snapshot", attrs...)
}
