package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/utafrali/catalogindex/internal/domain"
	"github.com/utafrali/catalogindex/internal/engine"
)

// Engine is an in-memory implementation of engine.Backend.
// Changes are queued per core and applied in order on Commit.
// Thread-safe via sync.RWMutex.
type Engine struct {
	mu          sync.RWMutex
	cores       map[string]*core
	fixed       bool
	alias       string
	aliasTarget string
}

type core struct {
	docs      map[string]domain.Document
	pending   []op
	commits   int
	optimizes int
}

type op struct {
	add domain.Document
	del *engine.Query
}

// Option configures an Engine.
type Option func(*Engine)

// WithCores restricts the engine to the named cores; any other core name
// fails with engine.ErrUnknownCore. Without it cores are created on first use.
func WithCores(names ...string) Option {
	return func(e *Engine) {
		e.fixed = true
		for _, n := range names {
			e.cores[n] = newCore()
		}
	}
}

// WithAlias makes the engine serve reads through the named alias.
func WithAlias(name string) Option {
	return func(e *Engine) { e.alias = name }
}

// New creates a new in-memory engine.
func New(opts ...Option) *Engine {
	e := &Engine{cores: make(map[string]*core)}
	for _, o := range opts {
		o(e)
	}
	return e
}

func newCore() *core {
	return &core{docs: make(map[string]domain.Document)}
}

func (e *Engine) core(name string) (*core, error) {
	c, ok := e.cores[name]
	if ok {
		return c, nil
	}
	if e.fixed {
		return nil, fmt.Errorf("memory engine: %w: %s", engine.ErrUnknownCore, name)
	}
	c = newCore()
	e.cores[name] = c
	return c, nil
}

// AddDocuments queues documents for the core.
func (e *Engine) AddDocuments(_ context.Context, coreName string, docs []domain.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.core(coreName)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if d.ID() == "" {
			return fmt.Errorf("memory engine: document without %s field", domain.FieldID)
		}
		c.pending = append(c.pending, op{add: maps.Clone(d)})
	}
	return nil
}

// Commit applies queued changes to the core.
func (e *Engine) Commit(_ context.Context, coreName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.core(coreName)
	if err != nil {
		return err
	}
	for _, o := range c.pending {
		if o.del != nil {
			for id, d := range c.docs {
				if o.del.Matches(d) {
					delete(c.docs, id)
				}
			}
			continue
		}
		c.docs[o.add.ID()] = o.add
	}
	c.pending = nil
	c.commits++
	return nil
}

// Optimize only counts calls; there is nothing to compact in memory.
func (e *Engine) Optimize(_ context.Context, coreName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.core(coreName)
	if err != nil {
		return err
	}
	c.optimizes++
	return nil
}

// DeleteByQuery queues a delete of every document matched by q.
func (e *Engine) DeleteByQuery(_ context.Context, coreName string, q engine.Query) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.core(coreName)
	if err != nil {
		return err
	}
	q.DocumentIDs = append([]string(nil), q.DocumentIDs...)
	c.pending = append(c.pending, op{del: &q})
	return nil
}

// Ping always succeeds.
func (e *Engine) Ping(_ context.Context) error {
	return nil
}

// Alias returns the configured alias, or "".
func (e *Engine) Alias() string {
	return e.alias
}

// PointAlias moves the alias to core.
func (e *Engine) PointAlias(_ context.Context, coreName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.core(coreName); err != nil {
		return err
	}
	e.aliasTarget = coreName
	return nil
}

// ResolveAlias returns the core the alias points to.
func (e *Engine) ResolveAlias(_ context.Context) (string, error) {
	return e.AliasTarget(), nil
}

// AliasTarget returns the core the alias currently points to.
func (e *Engine) AliasTarget() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.aliasTarget
}

// Documents returns the committed documents of the core ordered by id.
func (e *Engine) Documents(coreName string) []domain.Document {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.cores[coreName]
	if !ok {
		return nil
	}
	out := make([]domain.Document, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, maps.Clone(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Document returns a committed document by id.
func (e *Engine) Document(coreName, id string) (domain.Document, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.cores[coreName]
	if !ok {
		return nil, false
	}
	d, ok := c.docs[id]
	if !ok {
		return nil, false
	}
	return maps.Clone(d), true
}

// Pending returns the number of queued, uncommitted changes on the core.
func (e *Engine) Pending(coreName string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if c, ok := e.cores[coreName]; ok {
		return len(c.pending)
	}
	return 0
}

// Commits returns how many times the core was committed.
func (e *Engine) Commits(coreName string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if c, ok := e.cores[coreName]; ok {
		return c.commits
	}
	return 0
}

// Optimizations returns how many times the core was optimized.
func (e *Engine) Optimizations(coreName string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if c, ok := e.cores[coreName]; ok {
		return c.optimizes
	}
	return 0
}
