// Package cores tracks which physical search core is active and which one
// is being rebuilt.
package cores

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrUnknownCore is returned by Align for a core outside the pair.
var ErrUnknownCore = errors.New("core is not part of the registry")

// Pair is an immutable (active, staging) assignment.
type Pair struct {
	Active  string `json:"active"`
	Staging string `json:"staging"`
	// Generation counts swaps since startup.
	Generation uint64 `json:"generation"`
}

// Registry hands out the current Pair. Readers always observe a complete
// pair; Swap replaces it in a single atomic store.
type Registry struct {
	pair atomic.Pointer[Pair]
}

// NewRegistry creates a registry with primary active and reindex staging.
// Equal names select single-core mode, where rebuilds write to the live core.
func NewRegistry(primary, reindex string) (*Registry, error) {
	if primary == "" || reindex == "" {
		return nil, fmt.Errorf("core names must not be empty")
	}
	r := &Registry{}
	r.pair.Store(&Pair{Active: primary, Staging: reindex})
	return r, nil
}

// Current returns the current pair.
func (r *Registry) Current() Pair {
	return *r.pair.Load()
}

// Active returns the core serving reads.
func (r *Registry) Active() string {
	return r.pair.Load().Active
}

// Staging returns the core rebuilds write into.
func (r *Registry) Staging() string {
	return r.pair.Load().Staging
}

// SingleCoreMode reports whether active and staging are the same core.
func (r *Registry) SingleCoreMode() bool {
	p := r.pair.Load()
	return p.Active == p.Staging
}

// Swap exchanges active and staging and returns the new pair. In
// single-core mode only the generation advances.
func (r *Registry) Swap() Pair {
	for {
		old := r.pair.Load()
		next := &Pair{Active: old.Staging, Staging: old.Active, Generation: old.Generation + 1}
		if r.pair.CompareAndSwap(old, next) {
			return *next
		}
	}
}

// Align makes active the active core. It reports whether the pair changed.
// The generation is kept, since no rebuild produced the change.
func (r *Registry) Align(active string) (Pair, bool, error) {
	for {
		old := r.pair.Load()
		switch active {
		case old.Active:
			return *old, false, nil
		case old.Staging:
		default:
			return *old, false, fmt.Errorf("%w: %s", ErrUnknownCore, active)
		}
		next := &Pair{Active: old.Staging, Staging: old.Active, Generation: old.Generation}
		if r.pair.CompareAndSwap(old, next) {
			return *next, true, nil
		}
	}
}
