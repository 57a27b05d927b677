// Package cache memoizes analysis reports between writes.
//
// Reports are keyed by the caller. Concurrent requests for the same key share a
// single computation, and any write through InvalidatingWriter drops every
// cached report. A computation that was running while a write landed is
// returned to its callers but never stored.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

// Reports is an in-process report cache. The zero value is not usable; call New.
type Reports struct {
	mu         sync.RWMutex
	entries    map[string]any
	generation uint64
	group      singleflight.Group
	disabled   bool
}

// New creates a report cache. A disabled cache computes every request and
// stores nothing, while still sharing concurrent computations.
func New(enabled bool) *Reports {
	return &Reports{
		entries:  make(map[string]any),
		disabled: !enabled,
	}
}

// Get returns the cached report for key, computing it with compute on a miss.
// A nil r always computes.
func Get[T any](ctx context.Context, r *Reports, key string, compute func(context.Context) (T, error)) (T, error) {
	if r == nil {
		return compute(ctx)
	}
	logger := logging.From(ctx)

	r.mu.RLock()
	gen := r.generation
	cached, ok := r.entries[key]
	r.mu.RUnlock()

	if ok {
		if v, ok := cached.(T); ok {
			logger.Debug("report cache hit", "key", key)
			return v, nil
		}
	}

	// The generation is part of the flight key so callers arriving after a
	// write never join a computation that started before it.
	flight := key + "@" + strconv.FormatUint(gen, 10)
	v, err, shared := r.group.Do(flight, func() (any, error) {
		logger.Debug("report cache miss", "key", key, "generation", gen)
		out, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		r.store(key, gen, out)
		return out, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if shared {
		logger.Debug("report computation shared", "key", key)
	}

	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cached report %q has type %T", key, v)
	}
	return out, nil
}

func (r *Reports) store(key string, gen uint64, v any) {
	if r.disabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		return
	}
	r.entries[key] = v
}

// Invalidate drops every cached report.
func (r *Reports) Invalidate() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	if len(r.entries) > 0 {
		r.entries = make(map[string]any)
	}
}

// Len returns the number of cached reports.
func (r *Reports) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Generation returns how many times the cache has been invalidated.
func (r *Reports) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}
