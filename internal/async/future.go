// Package async spawns the auxiliary goroutines behind ASYNC_CALL and
// tracks which frames are currently blocked in AWAIT so the collector can
// root them (spec.md §7).
package async

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"embervm/internal/heap"
)

// Worker runs a freshly spawned function body on its own goroutine, using
// an interpreter instance that shares the caller's heap, string pool, and
// globals (spec.md §7.2). Invoke is supplied by internal/interp so this
// package never needs to import it back (which would cycle).
type Invoke func(fn *heap.Function, args []any) (any, error)

// Registry tracks outstanding Futures so the collector can root blocked
// AWAITs and so a clean shutdown can drain in-flight workers.
type Registry struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*heap.Future
	wg      sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[uuid.UUID]*heap.Future)}
}

// Spawn runs fn(args) on a new goroutine and returns a Future that
// resolves with its result. A panic inside fn resolves the Future with an
// error instead of crashing the process, matching the VM's top-level
// recover discipline in cmd/ember.
func (r *Registry) Spawn(invoke Invoke, fn *heap.Function, args []any) *heap.Future {
	fut := heap.NewFuture()
	id := uuid.New()

	r.mu.Lock()
	r.pending[id] = fut
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.pending, id)
			r.mu.Unlock()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				fut.Resolve(nil, fmt.Errorf("async call panicked: %v", rec))
			}
		}()
		result, err := invoke(fn, args)
		if err != nil {
			fut.Resolve(nil, err)
			return
		}
		fut.Resolve(result, nil)
	}()

	return fut
}

// WalkPending calls visit on every Future still outstanding, letting the
// collector treat blocked AWAITs and their in-flight results as roots.
func (r *Registry) WalkPending(visit func(*heap.Future)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.pending {
		visit(f)
	}
}

// Drain blocks until every spawned worker has resolved its Future; called
// at VM shutdown so no goroutine outlives the process (spec.md §7.4 — no
// thread leaks, by construction of sync.WaitGroup rather than by discipline).
func (r *Registry) Drain() {
	r.wg.Wait()
}
