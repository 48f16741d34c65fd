// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/colebrumley/amitrigger/internal/ami"
	"github.com/colebrumley/amitrigger/internal/telemetry"
)

const scopeName = "github.com/colebrumley/amitrigger/engine"

var (
	// ErrPassInProgress is returned when Evaluate is called while a pass runs.
	ErrPassInProgress = errors.New("evaluation pass already in progress")
	// ErrCatalog wraps catalog failures. The pass is discarded.
	ErrCatalog = errors.New("catalog query failed")
	// ErrPersist wraps host persistence failures. The action is not started.
	ErrPersist = errors.New("persisting trigger state failed")
	// ErrClosed is returned by Evaluate after Close.
	ErrClosed = errors.New("engine closed")
)

// Pass describes one completed (or aborted) evaluation.
type Pass struct {
	ID            string
	Trigger       string
	StartedAt     time.Time
	Duration      time.Duration
	Cause         *ami.Cause
	ActionStarted bool
}

// Matches returns the number of matches the pass produced.
func (p *Pass) Matches() int {
	if p == nil || p.Cause == nil {
		return 0
	}
	return len(p.Cause.Matches)
}

// Engine evaluates one trigger's filters against a catalog.
type Engine struct {
	name    string
	filters []ami.Filter
	catalog ami.Catalog
	host    Host
	logger  *slog.Logger
	now     func() time.Time

	fresh  *Freshness
	pass   sync.Mutex
	closed bool // guarded by pass

	tracer  trace.Tracer
	passes  metric.Int64Counter
	matches metric.Int64Counter
	actions metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLastRun seeds the freshness marker, typically from persisted state.
// A zero time is ignored.
func WithLastRun(t time.Time) Option {
	return func(e *Engine) {
		if !t.IsZero() {
			e.fresh = NewFreshness(t)
		}
	}
}

// New creates an engine for the named trigger. Filters are copied; their
// order determines the positional suffix of exported variables.
func New(name string, filters []ami.Filter, catalog ami.Catalog, host Host, opts ...Option) (*Engine, error) {
	if catalog == nil {
		return nil, fmt.Errorf("engine %s: catalog is required", name)
	}
	if host == nil {
		return nil, fmt.Errorf("engine %s: host is required", name)
	}
	e := &Engine{
		name:    name,
		filters: append([]ami.Filter(nil), filters...),
		catalog: catalog,
		host:    host,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fresh == nil {
		e.fresh = NewFreshness(e.now())
	}

	m := telemetry.Meter(scopeName)
	e.tracer = telemetry.Tracer(scopeName)
	e.passes, _ = m.Int64Counter("amitrigger.engine.passes",
		metric.WithDescription("Evaluation passes by outcome"),
	)
	e.matches, _ = m.Int64Counter("amitrigger.engine.matches",
		metric.WithDescription("Filter matches on new images"),
	)
	e.actions, _ = m.Int64Counter("amitrigger.engine.actions",
		metric.WithDescription("Actions requested from the host"),
	)
	return e, nil
}

func (e *Engine) Name() string { return e.name }

// Filters returns a copy of the configured filters.
func (e *Engine) Filters() []ami.Filter {
	return append([]ami.Filter(nil), e.filters...)
}

// LastRun returns the freshness marker.
func (e *Engine) LastRun() time.Time {
	return e.fresh.LastRun()
}

// Running reports whether a pass is in progress.
func (e *Engine) Running() bool {
	if e.pass.TryLock() {
		e.pass.Unlock()
		return false
	}
	return true
}

// Close waits for an in-flight pass to finish and makes later calls to
// Evaluate fail with ErrClosed. LastRun is final once Close returns.
func (e *Engine) Close() {
	e.pass.Lock()
	e.closed = true
	e.pass.Unlock()
}

// Evaluate runs one pass: every filter is queried in order and the newest
// image of each result is checked for freshness. When anything matched, the
// marker advances to now, the host persists the state and one action is
// started for all matches. A catalog error discards the pass without
// touching the marker. A persistence error leaves the marker advanced and
// skips the action.
func (e *Engine) Evaluate(ctx context.Context) (*Pass, error) {
	if !e.pass.TryLock() {
		return nil, ErrPassInProgress
	}
	defer e.pass.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	start := e.now()
	cause := ami.NewCause(e.name, start)
	p := &Pass{ID: cause.ID, Trigger: e.name, StartedAt: start}
	defer func() { p.Duration = e.now().Sub(start) }()

	ctx, span := e.tracer.Start(ctx, "engine.Evaluate", trace.WithAttributes(
		attribute.String("trigger", e.name),
		attribute.String("pass.id", p.ID),
		attribute.Int("filters", len(e.filters)),
	))
	defer span.End()

	log := e.logger.With("pass", p.ID)
	log.Debug("evaluation started", "filters", len(e.filters), "last_run", e.fresh.LastRun())

	for i, f := range e.filters {
		criteria, skipped := f.QueryCriteria()
		for _, seg := range skipped {
			log.Warn("ignoring malformed tag segment", "filter", i+1, "segment", seg)
		}

		images, err := e.catalog.ListImagesSortedByRecency(ctx, criteria)
		if err != nil {
			e.fail(ctx, span, "catalog_error", err)
			log.Error("catalog query failed, pass discarded", "filter", i+1, "error", err)
			return p, fmt.Errorf("%w: filter %d: %w", ErrCatalog, i+1, err)
		}
		if len(images) == 0 {
			log.Debug("no images matched", "filter", i+1)
			continue
		}

		head := images[0]
		if !e.fresh.IsNew(&head) {
			log.Debug("newest image already seen", "filter", i+1, "image", head.ID, "created", head.CreationDate)
			continue
		}
		log.Info("new image matched", "filter", i+1, "image", head.ID, "name", head.Name)
		cause.AddMatch(f, head)
	}

	if !cause.HasMatches() {
		e.passes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "no_match")))
		log.Debug("evaluation finished without matches")
		return p, nil
	}

	p.Cause = cause
	e.matches.Add(ctx, int64(len(cause.Matches)), metric.WithAttributes(attribute.String("trigger", e.name)))
	span.SetAttributes(attribute.Int("matches", len(cause.Matches)))

	now := e.now()
	e.fresh.Advance(now)

	state := State{Trigger: e.name, LastRun: now, PassID: p.ID}
	if err := e.host.PersistState(ctx, state); err != nil {
		e.fail(ctx, span, "persist_error", err)
		log.Warn("could not persist trigger state, action not started", "error", err)
		return p, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	p.ActionStarted = e.host.StartAction(ctx, cause)
	e.actions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("started", p.ActionStarted)))
	e.passes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "matched")))
	log.Info("action requested", "summary", cause.ShortSummary(), "started", p.ActionStarted)
	return p, nil
}

func (e *Engine) fail(ctx context.Context, span trace.Span, outcome string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.passes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// String renders the engine in Engine[field=value,...] form for logs.
func (e *Engine) String() string {
	filters := make([]string, 0, len(e.filters))
	for _, f := range e.filters {
		filters = append(filters, f.String())
	}
	return fmt.Sprintf("Engine[trigger=%s,filters=[%s],lastRun=%s]",
		e.name, strings.Join(filters, ","), e.LastRun().Format(time.RFC3339))
}
