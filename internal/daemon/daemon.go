// internal/daemon/daemon.go
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/colebrumley/amitrigger/internal/catalog"
	"github.com/colebrumley/amitrigger/internal/config"
	"github.com/colebrumley/amitrigger/internal/engine"
	"github.com/colebrumley/amitrigger/internal/logging"
	"github.com/colebrumley/amitrigger/internal/security"
	"github.com/colebrumley/amitrigger/internal/state"
	"github.com/colebrumley/amitrigger/internal/telemetry"
	"github.com/colebrumley/amitrigger/internal/trigger"
)

const serviceName = "amitriggerd"

var (
	ErrTriggerNotFound = errors.New("trigger not found")
	ErrTriggerDisabled = errors.New("trigger is disabled")
	ErrQueueFull       = errors.New("event queue is full")
)

// runtime is what the daemon keeps for one enabled definition.
type runtime struct {
	def     *config.TriggerDef
	engine  *engine.Engine
	sources *trigger.Set
	cancel  context.CancelFunc
}

// Daemon polls the image catalog for every enabled trigger definition and
// starts actions when new images show up.
type Daemon struct {
	configPath  string
	triggersDir string
	statePath   string
	version     string

	config   *config.Global
	triggers map[string]*runtime
	disabled map[string]*config.TriggerDef // listed by the API, never polled
	webhooks map[string]*trigger.Webhook
	events   chan trigger.Event

	pool      *catalog.Pool
	stateDB   *state.DB
	logger    *slog.Logger
	logCloser io.Closer

	httpServer *http.Server
	startTime  time.Time
	mu         sync.RWMutex

	actionSem chan struct{} // concurrency limiter
	actionMu  sync.Mutex
	inFlight  map[string]bool // triggers with a queued or running action

	passes  sync.WaitGroup
	actions sync.WaitGroup
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithStatePath overrides state.path from the global config.
func WithStatePath(path string) Option {
	return func(d *Daemon) { d.statePath = path }
}

// WithLogger skips the configured log setup.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// WithCatalogPool replaces the EC2-backed client pool.
func WithCatalogPool(p *catalog.Pool) Option {
	return func(d *Daemon) { d.pool = p }
}

// WithConfig uses cfg instead of reading the config file.
func WithConfig(cfg *config.Global) Option {
	return func(d *Daemon) { d.config = cfg }
}

func WithVersion(v string) Option {
	return func(d *Daemon) { d.version = v }
}

// New creates a new daemon instance
func New(configPath, triggersDir string, opts ...Option) *Daemon {
	d := &Daemon{
		configPath:  configPath,
		triggersDir: triggersDir,
		version:     "dev",
		triggers:    make(map[string]*runtime),
		disabled:    make(map[string]*config.TriggerDef),
		webhooks:    make(map[string]*trigger.Webhook),
		events:      make(chan trigger.Event, 100),
		inFlight:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.startTime = time.Now()

	if err := d.init(); err != nil {
		return err
	}
	defer d.closeLog()

	if err := telemetry.Init(ctx, telemetry.FromEnv(d.config.Telemetry), serviceName, d.version); err != nil {
		d.logger.Warn("telemetry disabled", "error", err)
	}

	d.logger.Info("starting daemon", "config", d.configPath, "triggers_dir", d.triggersDir, "version", d.version)

	// Unsafe permissions are logged but do not stop the daemon.
	if err := security.ValidateTriggersDir(d.triggersDir); err != nil {
		d.logger.Error("CRITICAL: triggers directory has unsafe permissions", "error", err, "path", d.triggersDir)
	}
	if d.configPath != "" {
		if err := security.ValidateFilePermissions(d.configPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Error("CRITICAL: config file has unsafe permissions", "error", err, "path", d.configPath)
		}
	}

	if err := d.loadTriggers(ctx); err != nil {
		d.shutdown()
		return fmt.Errorf("loading triggers: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.serveHTTP(gctx) })
	g.Go(func() error {
		d.watchTriggers(gctx)
		return nil
	})
	g.Go(func() error {
		d.cleanupLoop(gctx)
		return nil
	})

	d.fireLifecycleEvent(trigger.SourceDaemonStart)

	d.mu.RLock()
	d.logger.Info("daemon started", "triggers_loaded", len(d.triggers), "triggers_disabled", len(d.disabled))
	d.mu.RUnlock()

	d.loop(gctx)

	err := g.Wait()
	d.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// init loads the config, logger, client pool and state database.
func (d *Daemon) init() error {
	if d.config == nil {
		cfg, err := config.LoadGlobal(d.configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		d.config = cfg
	}

	if d.logger == nil {
		logger, closer, err := logging.Setup(d.config.Logging.Format, d.config.Daemon.LogLevel,
			d.config.Logging.File, d.config.Logging.MaxSizeMB)
		if err != nil {
			logger = logging.NewLogger(d.config.Logging.Format, d.config.Daemon.LogLevel, os.Stdout)
			logger.Warn("failed to initialize rotating log writer, using stdout", "error", err)
		}
		d.logger, d.logCloser = logger, closer
	}

	if d.pool == nil {
		d.pool = catalog.NewPool(d.logger)
	}

	limit := d.config.Actions.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	d.actionSem = make(chan struct{}, limit)

	if d.statePath == "" {
		d.statePath = d.config.State.Path
	}
	db, err := state.Open(d.statePath)
	if err != nil {
		d.logger.Warn("failed to open state database, trigger state is kept in memory only", "error", err)
		return nil
	}
	d.stateDB = db
	return nil
}

// loop hands each poll request to its engine until ctx is done.
func (d *Daemon) loop(ctx context.Context) {
	for {
		select {
		case event := <-d.events:
			d.passes.Add(1)
			go func() {
				defer d.passes.Done()
				d.handleEvent(ctx, event)
			}()
		case <-ctx.Done():
			d.logger.Info("daemon stopping, waiting for in-flight passes")
			d.passes.Wait()
			return
		}
	}
}

// handleEvent runs one evaluation pass and records its outcome.
func (d *Daemon) handleEvent(ctx context.Context, event trigger.Event) {
	d.mu.RLock()
	rt, ok := d.triggers[event.Trigger]
	d.mu.RUnlock()
	if !ok {
		d.logger.Warn("poll for unknown or disabled trigger", "trigger", event.Trigger, "source", event.Source)
		return
	}

	logger := logging.WithTrigger(d.logger, event.Trigger)
	logger.Debug("poll requested", "source", event.Source)

	started := time.Now()
	pass, err := rt.engine.Evaluate(ctx)
	d.recordEvaluation(ctx, event, started, pass, err)

	switch {
	case errors.Is(err, engine.ErrPassInProgress):
		logger.Info("poll skipped, previous pass still running", "source", event.Source)
	case errors.Is(err, engine.ErrClosed):
		logger.Info("poll skipped, trigger stopped or reloaded", "source", event.Source)
	case err != nil:
		logger.Error("evaluation failed", "source", event.Source, "error", err)
	case pass.Cause != nil:
		logger.Info("evaluation matched", "source", event.Source,
			"matches", pass.Matches(), "action_started", pass.ActionStarted)
	}
}

// newEngine builds the engine for def. A zero lastRun is replaced by the
// persisted marker when there is one.
func (d *Daemon) newEngine(ctx context.Context, def *config.TriggerDef, lastRun time.Time) (*engine.Engine, error) {
	cat, err := d.pool.Get(ctx, catalog.ConfigFor(d.config, def))
	if err != nil {
		return nil, fmt.Errorf("catalog client for %s: %w", def.Name, err)
	}

	if lastRun.IsZero() && d.stateDB != nil {
		st, ok, err := d.stateDB.GetTriggerState(ctx, def.Name)
		if err != nil {
			d.logger.Warn("could not load trigger state", "trigger", def.Name, "error", err)
		} else if ok {
			lastRun = st.LastRun
		}
	}

	return engine.New(def.Name, def.Filters, cat, &host{d: d, def: def},
		engine.WithLogger(logging.WithTrigger(d.logger, def.Name)),
		engine.WithLastRun(lastRun),
	)
}

// startTrigger creates the engine and poll sources for def. Callers hold d.mu.
func (d *Daemon) startTrigger(ctx context.Context, def *config.TriggerDef, lastRun time.Time) error {
	eng, err := d.newEngine(ctx, def, lastRun)
	if err != nil {
		return err
	}
	sources, err := trigger.New(def)
	if err != nil {
		return fmt.Errorf("creating poll sources for %s: %w", def.Name, err)
	}

	tctx, cancel := context.WithCancel(ctx)
	d.triggers[def.Name] = &runtime{def: def, engine: eng, sources: sources, cancel: cancel}
	if sources.Webhook != nil {
		d.webhooks[sources.Webhook.ListenPath()] = sources.Webhook
	}

	for _, t := range sources.All() {
		go func(t trigger.Trigger) {
			if err := t.Start(tctx, d.events); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("poll source error", "trigger", t.TriggerName(), "error", err)
			}
		}(t)
	}

	d.logger.Info("trigger started", "trigger", def.Name, "schedule", sources.Scheduled.Spec(), "engine", eng.String())
	return nil
}

// stopTrigger stops the poll sources of name and waits for its in-flight
// pass. Callers hold d.mu.
func (d *Daemon) stopTrigger(name string) {
	rt, ok := d.triggers[name]
	if !ok {
		return
	}
	rt.cancel()
	for _, t := range rt.sources.All() {
		t.Stop()
	}
	rt.engine.Close()
	if rt.sources.Webhook != nil {
		delete(d.webhooks, rt.sources.Webhook.ListenPath())
	}
	delete(d.triggers, name)
}

func (d *Daemon) fireLifecycleEvent(eventType string) {
	d.mu.RLock()
	lifecycles := make([]*trigger.Lifecycle, 0, len(d.triggers))
	for _, rt := range d.triggers {
		lifecycles = append(lifecycles, rt.sources.Lifecycle)
	}
	d.mu.RUnlock()

	for _, l := range lifecycles {
		if l.ShouldFireOn(eventType) && !l.Fire(eventType, d.events) {
			d.logger.Warn("event queue full, lifecycle poll dropped", "trigger", l.TriggerName(), "event", eventType)
		}
	}
}

// Poll queues a manual poll for name.
func (d *Daemon) Poll(name string, data map[string]any) error {
	d.mu.RLock()
	rt, ok := d.triggers[name]
	_, off := d.disabled[name]
	d.mu.RUnlock()
	if !ok {
		if off {
			return fmt.Errorf("%w: %s", ErrTriggerDisabled, name)
		}
		return fmt.Errorf("%w: %s", ErrTriggerNotFound, name)
	}
	if !rt.sources.Manual.Fire(d.events, data) {
		return ErrQueueFull
	}
	return nil
}

// cleanupLoop prunes old history once at start and then daily.
func (d *Daemon) cleanupLoop(ctx context.Context) {
	if d.stateDB == nil {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		if deleted, err := d.stateDB.Cleanup(ctx, d.config.State.RetentionDays); err != nil {
			d.logger.Warn("state cleanup failed", "error", err)
		} else if deleted > 0 {
			d.logger.Info("cleaned up old history records", "deleted", deleted)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Daemon) shutdown() {
	d.mu.Lock()
	for name := range d.triggers {
		d.stopTrigger(name)
	}
	d.mu.Unlock()

	d.actions.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("telemetry shutdown failed", "error", err)
	}

	if d.stateDB != nil {
		d.stateDB.Close()
	}
	d.logger.Info("daemon stopped")
}

func (d *Daemon) closeLog() {
	if d.logCloser != nil {
		d.logCloser.Close()
	}
}
