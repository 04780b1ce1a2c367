// Package hashlock provides a process-wide per-digest mutual exclusion
// primitive used to serialize concurrent save and delete of the same blob.
package hashlock

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// entry is the per-digest lock slot: refs tracks how many goroutines are
// currently holding or waiting on mu, so the registry knows when it is
// safe to drop the entry.
type entry struct {
	mu   sync.Mutex
	refs int64
}

// Registry is a process-wide mapping from digest to a refcounted mutex.
// The zero value is not usable; construct with New.
type Registry struct {
	// insmu serializes entry insertion and removal; per-digest waiting
	// happens on the entry's own mutex and never blocks insmu.
	insmu sync.Mutex
	slots *xsync.MapOf[string, *entry]
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{slots: xsync.NewMapOf[string, *entry]()}
}

// Hold acquires exclusive access to digest, blocking until any other
// holder releases it. The returned release func must be called exactly
// once on every exit path (success, failure, or cancellation) to avoid
// leaking the slot.
//
// Hold returns ctx.Err() without acquiring anything if ctx is already
// done.
func (r *Registry) Hold(ctx context.Context, digest string) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.insmu.Lock()
	e, _ := r.slots.LoadOrCompute(digest, func() *entry { return &entry{} })
	e.refs++
	r.insmu.Unlock()

	e.mu.Lock()

	var once sync.Once
	release = func() {
		once.Do(func() {
			e.mu.Unlock()
			r.insmu.Lock()
			defer r.insmu.Unlock()
			e.refs--
			if e.refs == 0 {
				r.slots.Delete(digest)
			}
		})
	}
	return release, nil
}

// Len reports the number of digests currently held or awaited. Exposed
// for tests asserting that released locks do not leak entries.
func (r *Registry) Len() int {
	return r.slots.Size()
}
