package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/utafrali/catalogindex/internal/domain"
)

// ErrCircuitOpen is returned when the breaker rejects a call without reaching the backend.
var ErrCircuitOpen = gobreaker.ErrOpenState

// BreakerConfig holds configuration for the backend circuit breaker.
type BreakerConfig struct {
	// Name identifies this breaker in metrics and logs.
	Name string

	// MaxRequests is the number of calls allowed in the half-open state.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration

	// Timeout is how long the breaker stays open before moving to half-open.
	Timeout time.Duration

	// FailureRatio trips the breaker once at least MinRequests calls were made.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns the defaults used when nothing is configured.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// BreakerMetrics exports the breaker state (0=closed, 1=half-open, 2=open).
type BreakerMetrics struct {
	state *prometheus.GaugeVec
}

// NewBreakerMetrics creates and registers the breaker gauge with reg.
func NewBreakerMetrics(reg prometheus.Registerer) (*BreakerMetrics, error) {
	m := &BreakerMetrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "search_backend_circuit_breaker_state",
			Help: "Current state of the search backend circuit breaker (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
	}
	if err := reg.Register(m.state); err != nil {
		return nil, err
	}
	return m, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Breaker wraps a Backend with circuit breaker protection. Alias moves are
// forwarded when the wrapped backend supports them.
type Breaker struct {
	next    Backend
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker wraps next. metrics may be nil.
func NewBreaker(next Backend, cfg BreakerConfig, metrics *BreakerMetrics, logger *slog.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if metrics != nil {
				metrics.state.WithLabelValues(name).Set(stateToFloat(to))
			}
		},
		// A caller giving up is not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	if metrics != nil {
		metrics.state.WithLabelValues(cfg.Name).Set(0)
	}

	return &Breaker{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

func (b *Breaker) do(fn func() error) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (b *Breaker) AddDocuments(ctx context.Context, core string, docs []domain.Document) error {
	return b.do(func() error { return b.next.AddDocuments(ctx, core, docs) })
}

func (b *Breaker) Commit(ctx context.Context, core string) error {
	return b.do(func() error { return b.next.Commit(ctx, core) })
}

func (b *Breaker) Optimize(ctx context.Context, core string) error {
	return b.do(func() error { return b.next.Optimize(ctx, core) })
}

func (b *Breaker) DeleteByQuery(ctx context.Context, core string, q Query) error {
	return b.do(func() error { return b.next.DeleteByQuery(ctx, core, q) })
}

// Ping bypasses the breaker so health checks report the real backend state.
func (b *Breaker) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

// Alias returns the alias of the wrapped backend, or "" when it has none.
func (b *Breaker) Alias() string {
	if m, ok := b.next.(AliasMover); ok {
		return m.Alias()
	}
	return ""
}

// PointAlias moves the wrapped backend's alias to core.
func (b *Breaker) PointAlias(ctx context.Context, core string) error {
	m, ok := b.next.(AliasMover)
	if !ok {
		return nil
	}
	return b.do(func() error { return m.PointAlias(ctx, core) })
}

// ResolveAlias returns the core the wrapped backend's alias points to.
func (b *Breaker) ResolveAlias(ctx context.Context) (string, error) {
	m, ok := b.next.(AliasMover)
	if !ok {
		return "", nil
	}
	var target string
	err := b.do(func() error {
		var err error
		target, err = m.ResolveAlias(ctx)
		return err
	})
	return target, err
}
