package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/utafrali/catalogindex/internal/cores"
	"github.com/utafrali/catalogindex/internal/engine"
	"github.com/utafrali/catalogindex/internal/evalctx"
	"github.com/utafrali/catalogindex/internal/structure"
	apperrors "github.com/utafrali/catalogindex/pkg/errors"
	"github.com/utafrali/catalogindex/pkg/logger"
	"github.com/utafrali/catalogindex/pkg/pagination"
	"github.com/utafrali/catalogindex/pkg/tracing"
)

// State is the phase a rebuild is in.
type State string

const (
	StateIdle       State = "idle"
	StatePurging    State = "purging"
	StatePaging     State = "paging"
	StateOptimizing State = "optimizing"
	StateSwapping   State = "swapping"
)

// Run describes one rebuild.
type Run struct {
	ID         string        `json:"id"`
	Namespace  string        `json:"namespace"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	Total      int           `json:"total"`
	Pages      int           `json:"pages"`
	Documents  int           `json:"documents"`
	Core       string        `json:"core"`
	Error      string        `json:"error,omitempty"`
}

// Status is a snapshot of the coordinator.
type Status struct {
	Namespace string     `json:"namespace"`
	State     State      `json:"state"`
	Cores     cores.Pair `json:"cores"`
	Running   *Run       `json:"running,omitempty"`
	LastRun   *Run       `json:"last_run,omitempty"`
	// CacheSize is the approximate catalog structure cache size of the running rebuild.
	CacheSize int `json:"cache_size_bytes"`
}

// Notifier is told about every successful rebuild.
type Notifier interface {
	IndexRebuilt(ctx context.Context, run Run) error
}

// CoordinatorConfig holds the settings fixed for every rebuild.
type CoordinatorConfig struct {
	Namespace string
	PageSize  int
	UseSku    bool
}

// Coordinator runs full rebuilds of one namespace.
type Coordinator struct {
	cfg      CoordinatorConfig
	deps     Dependencies
	indexer  *Indexer
	guard    Guard
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.RWMutex
	state   State
	running *Run
	lastRun *Run
	cache   atomic.Pointer[structure.Cache]
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithGuard replaces the default process-local rebuild guard.
func WithGuard(g Guard) CoordinatorOption {
	return func(c *Coordinator) { c.guard = g }
}

// WithNotifier sets the notifier told about successful rebuilds.
func WithNotifier(n Notifier) CoordinatorOption {
	return func(c *Coordinator) { c.notifier = n }
}

// WithClock sets the clock the rebuild pins as its evaluation time.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg CoordinatorConfig, deps Dependencies, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cfg:     cfg,
		deps:    deps,
		indexer: NewIndexer(cfg.Namespace, cfg.UseSku, deps),
		guard:   NewLocalGuard(),
		now:     time.Now,
		logger:  deps.Logger,
		state:   StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Indexer returns the indexer used for pages and single items.
func (c *Coordinator) Indexer() *Indexer {
	return c.indexer
}

// State returns the current rebuild phase.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a snapshot of the coordinator.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	s := Status{
		Namespace: c.cfg.Namespace,
		State:     c.state,
		Cores:     c.deps.Cores.Current(),
	}
	if c.running != nil {
		r := *c.running
		s.Running = &r
	}
	if c.lastRun != nil {
		r := *c.lastRun
		s.LastRun = &r
	}
	c.mu.RUnlock()

	if cache := c.cache.Load(); cache != nil {
		s.CacheSize = cache.SizeEstimate()
	}
	return s
}

func (c *Coordinator) transition(ctx context.Context, to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "rebuild state transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

func (c *Coordinator) updateRun(fn func(*Run)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running != nil {
		fn(c.running)
	}
}

// Rebuild rebuilds the whole namespace into the staging core and makes it
// the active one. In single-core mode the only core is purged first and
// nothing is swapped. A failed rebuild never swaps.
//
// The caller's context is not modified: the rebuild evaluates against a
// derived context with its own locale, pricing considerations and clock.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	_, err := c.RebuildRun(ctx)
	return err
}

// RebuildRun is Rebuild returning the record of this run, failed or not.
// The run is empty when the rebuild never started.
func (c *Coordinator) RebuildRun(ctx context.Context) (result Run, err error) {
	if c.cfg.PageSize <= 0 {
		return Run{}, apperrors.InvalidInput(fmt.Sprintf("page size must be positive, got %d", c.cfg.PageSize))
	}

	release, err := c.guard.Acquire(ctx, c.cfg.Namespace)
	if err != nil {
		return Run{}, err
	}
	defer release()

	// Another process may have swapped since this one started.
	if err := c.SyncCores(ctx); err != nil {
		return Run{}, err
	}

	run := &Run{ID: uuid.NewString(), Namespace: c.cfg.Namespace, StartedAt: c.now()}
	ctx = logger.WithRunID(ctx, run.ID)
	ctx = evalctx.Derive(ctx, func(ec *evalctx.Context) {
		ec.LocaleCode = ""
		ec.PricingConsiderations = map[string]string{}
		ec.Now = run.StartedAt
	})

	ctx, span := tracing.Tracer(tracerName).Start(ctx, "index.Rebuild")
	span.SetAttributes(
		attribute.String("namespace", c.cfg.Namespace),
		attribute.String("run_id", run.ID),
	)

	l := logger.WithContext(ctx, c.logger)
	start := time.Now()

	pair := c.deps.Cores.Current()
	single := pair.Active == pair.Staging
	run.Core = pair.Staging

	c.mu.Lock()
	c.running = run
	c.mu.Unlock()

	defer func() {
		duration := time.Since(start)
		c.deps.Metrics.observeRebuild(c.cfg.Namespace, duration, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		c.mu.Lock()
		run.FinishedAt = c.now()
		run.Duration = duration
		if err != nil {
			run.Error = err.Error()
		}
		c.lastRun = run
		c.running = nil
		result = *run
		c.mu.Unlock()

		c.transition(ctx, StateIdle)
	}()

	l.InfoContext(ctx, "rebuilding the search index",
		slog.String("namespace", c.cfg.Namespace),
		slog.String("core", pair.Staging),
		slog.Bool("single_core", single),
		slog.Bool("use_sku", c.cfg.UseSku),
	)

	// Single-core mode has no spare core; the live one is cleared first.
	if single {
		c.transition(ctx, StatePurging)
		if err := c.purge(ctx, pair.Staging); err != nil {
			return Run{}, err
		}
	}

	c.transition(ctx, StatePaging)
	if err := c.page(ctx, l, pair.Staging); err != nil {
		return Run{}, err
	}

	c.transition(ctx, StateOptimizing)
	if err := c.deps.Backend.Optimize(ctx, pair.Staging); err != nil {
		return Run{}, apperrors.ServiceFailure(fmt.Sprintf("could not optimize core %s", pair.Staging), err)
	}

	if !single {
		c.transition(ctx, StateSwapping)
		if err := c.swap(ctx, l, pair); err != nil {
			return Run{}, err
		}

		// The previously active core is now staging; it is emptied for the next rebuild.
		c.transition(ctx, StatePurging)
		if err := c.purge(ctx, pair.Active); err != nil {
			return Run{}, err
		}
	}

	c.mu.RLock()
	finished := *run
	c.mu.RUnlock()
	finished.Duration = time.Since(start)

	l.InfoContext(ctx, "finished rebuilding the search index",
		slog.String("namespace", c.cfg.Namespace),
		slog.Int("documents", finished.Documents),
		slog.Int("pages", finished.Pages),
		slog.Duration("duration", finished.Duration),
	)

	if c.notifier != nil {
		if nerr := c.notifier.IndexRebuilt(ctx, finished); nerr != nil {
			l.WarnContext(ctx, "failed to publish index rebuilt notification", slog.String("error", nerr.Error()))
		}
	}
	return finished, nil
}

func (c *Coordinator) page(ctx context.Context, l *slog.Logger, core string) error {
	cache := structure.New()
	c.cache.Store(cache)
	defer func() {
		c.cache.Store(nil)
		size := cache.Release()
		c.deps.Metrics.cacheReleased(c.cfg.Namespace, size)
		l.InfoContext(ctx, "released catalog structure cache", slog.Int("approx_size_bytes", size))
	}()

	total, err := c.indexer.Count(ctx)
	if err != nil {
		return err
	}
	c.updateRun(func(r *Run) { r.Total = total })

	for w := (pagination.Window{Page: 0, Size: c.cfg.PageSize}); w.Within(total); w = w.Next() {
		pageStart := time.Now()

		n, err := c.indexer.BuildPage(ctx, cache, w.Page, w.Size, core)
		if err != nil {
			return err
		}

		c.deps.Metrics.page(c.cfg.Namespace, n)
		c.updateRun(func(r *Run) {
			r.Pages++
			r.Documents += n
		})
		l.DebugContext(ctx, "indexed page",
			slog.Int("page", w.Page),
			slog.Int("page_size", w.Size),
			slog.Int("documents", n),
			slog.Duration("duration", time.Since(pageStart)),
		)
	}
	return nil
}

// purge deletes every document of the namespace from core.
func (c *Coordinator) purge(ctx context.Context, core string) error {
	q := engine.Query{Namespace: c.cfg.Namespace}
	if err := c.deps.Backend.DeleteByQuery(ctx, core, q); err != nil {
		return apperrors.ServiceFailure(fmt.Sprintf("could not delete documents from core %s", core), err)
	}
	if err := c.deps.Backend.Commit(ctx, core); err != nil {
		return apperrors.ServiceFailure(fmt.Sprintf("could not commit core %s", core), err)
	}
	return nil
}

// SyncCores aligns the registry with the core the backend's read alias
// points to, so rebuilds never page into the core readers are served from.
// Backends without an alias, and single-core mode, have nothing to align.
func (c *Coordinator) SyncCores(ctx context.Context) error {
	m, ok := c.deps.Backend.(engine.AliasMover)
	if !ok || m.Alias() == "" || c.deps.Cores.SingleCoreMode() {
		return nil
	}
	target, err := m.ResolveAlias(ctx)
	if err != nil {
		return apperrors.ServiceFailure(fmt.Sprintf("could not resolve alias %s", m.Alias()), err)
	}
	if target == "" {
		return nil
	}
	pair, changed, err := c.deps.Cores.Align(target)
	if err != nil {
		return fmt.Errorf("alias %s: %w", m.Alias(), err)
	}
	if changed {
		c.logger.InfoContext(ctx, "aligned search cores with read alias",
			slog.String("alias", m.Alias()),
			slog.String("active", pair.Active),
			slog.String("staging", pair.Staging),
		)
	}
	return nil
}

// swap points the read alias at the freshly built core, when the backend
// serves reads through one, and then exchanges the active and staging cores.
func (c *Coordinator) swap(ctx context.Context, l *slog.Logger, pair cores.Pair) error {
	if m, ok := c.deps.Backend.(engine.AliasMover); ok && m.Alias() != "" {
		if err := m.PointAlias(ctx, pair.Staging); err != nil {
			return apperrors.ServiceFailure(fmt.Sprintf("could not point alias %s to core %s", m.Alias(), pair.Staging), err)
		}
	}
	next := c.deps.Cores.Swap()
	l.InfoContext(ctx, "swapped search cores",
		slog.String("active", next.Active),
		slog.String("staging", next.Staging),
		slog.Uint64("generation", next.Generation),
	)
	return nil
}
