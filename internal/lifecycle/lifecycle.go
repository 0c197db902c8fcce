// Package lifecycle implements the single-shot destroy contract shared by
// every stateful CLSP component (§4.3): destroy is idempotent,
// concurrency-safe, and guarantees that once it returns every owned
// resource has been released. It generalizes the sync.Once-gated
// Start/Stop shape used by this codebase's long-running workers into a
// reusable building block embedded by value.
package lifecycle

import "sync"

// Destroyable is embedded by components that need the destroy-once
// contract. It is zero-value-ready; no constructor is required.
type Destroyable struct {
	once      sync.Once
	mu        sync.RWMutex
	destroyed bool
	complete  bool
}

// IsDestroyed reports whether destruction has begun. True as soon as the
// first Destroy call starts, before teardown finishes.
func (d *Destroyable) IsDestroyed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.destroyed
}

// IsDestroyComplete reports whether a Destroy call has fully returned.
func (d *Destroyable) IsDestroyComplete() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.complete
}

// Destroy runs teardown exactly once, regardless of how many goroutines
// call it concurrently. sync.Once.Do blocks every concurrent caller until
// the one running teardown returns, so by the time any call to Destroy
// returns, IsDestroyComplete is already true — satisfying L1 (destroy is
// idempotent; a second caller observes identical, fully-torn-down state).
// teardown must release every resource it owns even if a sub-step fails;
// callers are expected to log and swallow internal teardown errors
// (§7) rather than surface them, since Destroy has no error return.
func (d *Destroyable) Destroy(teardown func()) {
	d.mu.Lock()
	d.destroyed = true
	d.mu.Unlock()

	d.once.Do(func() {
		if teardown != nil {
			teardown()
		}
		d.mu.Lock()
		d.complete = true
		d.mu.Unlock()
	})
}
