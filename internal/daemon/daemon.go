package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/deps"
	"scribe/internal/logging"
	"scribe/internal/metrics"
	"scribe/internal/progress"
	"scribe/internal/store"
	"scribe/internal/workflow"
)

// Components are the services the daemon runs. Store, Workflow and Service
// are required.
type Components struct {
	Store       *store.Store
	Workflow    *workflow.Manager
	Reclaimer   *workflow.Reclaimer
	Broadcaster *progress.Broadcaster
	Service     *api.Service
	Metrics     *metrics.Metrics
	// Closers run after shutdown in order, for pools and caches.
	Closers []func() error
}

// Daemon coordinates background processing and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	comp   Components

	lockPath string
	lock     *flock.Flock
	server   *apiServer

	running      atomic.Bool
	cancel       context.CancelFunc
	stopProgress context.CancelFunc
	wg           sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
	Dependencies []deps.Status
}

// New constructs a daemon around already-built components.
func New(cfg *config.Config, comp Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || comp.Store == nil || comp.Workflow == nil || comp.Service == nil {
		return nil, errors.New("daemon requires config, store, workflow manager, and api service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.DataDir, "scribed.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		comp:     comp,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches workers, the reclaimer, the
// progress broadcaster and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scribe daemon instance is already running")
	}

	// The broadcaster outlives the workers so their final events still go out.
	progressCtx, stopProgress := context.WithCancel(context.WithoutCancel(ctx))
	if b := d.comp.Broadcaster; b != nil {
		go b.Run(progressCtx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.comp.Workflow.Start(runCtx); err != nil {
		cancel()
		stopProgress()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if r := d.comp.Reclaimer; r != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			r.Run(runCtx)
		}()
	}
	if err := d.server.start(runCtx); err != nil {
		cancel()
		d.comp.Workflow.Stop()
		d.wg.Wait()
		stopProgress()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.stopProgress = stopProgress
	d.running.Store(true)
	d.logger.Info("scribe daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.server.stop()
	d.cancel()
	d.comp.Workflow.Stop()
	d.wg.Wait()
	d.stopProgress()
	if b := d.comp.Broadcaster; b != nil {
		b.Wait()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("scribe daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases every component.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	for _, closer := range d.comp.Closers {
		if closer == nil {
			continue
		}
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.comp.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Handler returns the API handler without binding a listener.
func (d *Daemon) Handler() http.Handler {
	return d.server.routes()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.comp.Workflow.Status(ctx),
		DatabasePath: d.comp.Store.Path(),
		LockFilePath: d.lockPath,
		Dependencies: deps.CheckBinaries(deps.Requirements(d.cfg)),
	}
}
