// Package registry implements the IOV Registry (§4.8): a process-
// wide session map plus event-driven retry supervision, grounded on
// internal/poller.Poller's mutex-guarded-map-plus-reactive-loop shape,
// generalized from polling media servers to reacting to session-level
// retry-trigger events.
package registry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"clspiov/internal/clsperrors"
	"clspiov/internal/eventbus"
	"clspiov/internal/lifecycle"
	"clspiov/internal/models"
	"clspiov/internal/session"
)

// retryBurst/retryRefillPeriod bound the retry-supervision budget per
// logical stream (§9, resolving §9's open question:
// "max 5 attempts per 60s per logical stream").
const (
	retryBurst        = 5
	retryRefillPeriod = 60 * time.Second
)

// SessionFactory constructs a fresh Session for id, wires
// initializeElements(elements) on it, and returns whatever error that
// raised. Supplied by the host application (cmd/clspiovd), which alone
// knows how to build the DOM/Environment/CollectionFactory collaborators
// a Session needs.
type SessionFactory func(id models.SessionId, elements session.ElementsConfig) (*session.Session, error)

type lineage struct {
	limiter *rate.Limiter
}

// Registry is the process-wide IOV Registry (§4.8).
type Registry struct {
	lifecycle.Destroyable

	bus        *eventbus.Bus
	newSession SessionFactory
	ids        models.SessionIdGenerator

	mu             sync.Mutex
	sessions       map[models.SessionId]*session.Session
	pendingRemoval map[models.SessionId]struct{}
	elements       map[models.SessionId]session.ElementsConfig
	lineageOf      map[models.SessionId]models.SessionId
	lineages       map[models.SessionId]*lineage
}

// New constructs a Registry. bus must whitelist
// models.EventRetryBudgetExhausted, models.EventSessionCreated,
// models.EventSessionRemoved, models.EventRetryFired,
// models.EventHandoffComplete, and models.EventMetric: the Registry
// emits on all of them as sessions are created, removed, and replayed
// through retry supervision.
func New(bus *eventbus.Bus, newSession SessionFactory) *Registry {
	return &Registry{
		bus:            bus,
		newSession:     newSession,
		sessions:       make(map[models.SessionId]*session.Session),
		pendingRemoval: make(map[models.SessionId]struct{}),
		elements:       make(map[models.SessionId]session.ElementsConfig),
		lineageOf:      make(map[models.SessionId]models.SessionId),
		lineages:       make(map[models.SessionId]*lineage),
	}
}

// On subscribes handler to name on the registry's own event bus (e.g.
// models.EventRetryBudgetExhausted), for the control plane's live feed.
func (r *Registry) On(name string, handler eventbus.Handler) error {
	return r.bus.On(name, handler)
}

// Create allocates a fresh SessionId, constructs a Session, registers
// retry handlers, and adds it to the map (§4.8).
func (r *Registry) Create(elements session.ElementsConfig) (*session.Session, error) {
	return r.createForLineage(elements, 0)
}

// createForLineage is Create generalized with an explicit lineage id:
// lineage==0 means "start a new lineage, rooted at the id about to be
// issued"; a nonzero lineage is threaded through by retry supervision so
// a chain of replacement sessions shares one rate.Limiter (§9).
func (r *Registry) createForLineage(elements session.ElementsConfig, lin models.SessionId) (*session.Session, error) {
	if r.IsDestroyed() {
		return nil, fmt.Errorf("registry: create: %w", clsperrors.ErrAlreadyDestroyed)
	}

	id := r.ids.Next()
	sess, err := r.newSession(id, elements)
	if err != nil {
		return nil, fmt.Errorf("registry: create: %w", err)
	}

	if lin == 0 {
		lin = id
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.elements[id] = elements
	r.lineageOf[id] = lin
	if _, ok := r.lineages[lin]; !ok {
		r.lineages[lin] = &lineage{
			limiter: rate.NewLimiter(rate.Every(retryRefillPeriod/retryBurst), retryBurst),
		}
	}
	r.mu.Unlock()

	r.wireRetry(id, sess)
	r.bus.Emit(models.EventSessionCreated, id)
	r.bus.Emit(models.EventMetric, models.MetricEvent{
		SessionID: id,
		Kind:      models.MetricSessionCreated,
		Detail:    fmt.Sprintf("lineage=%d", lin),
	})
	return sess, nil
}

// wireRetry registers the retry-trigger event names a Session forwards
// from its Player (§4.8: "On each of IFRAME_DESTROYED_EXTERNALLY,
// REINITIALZE_ERROR, NO_STREAM_CONFIGURATION, RETRY_ERROR...").
func (r *Registry) wireRetry(id models.SessionId, sess *session.Session) {
	names := []string{
		models.EventIframeDestroyedExternally,
		models.EventReinitializeError,
		models.EventNoStreamConfiguration,
		models.EventRetryError,
	}
	for _, name := range names {
		if err := sess.On(name, func(eventbus.Event) { r.onRetryTrigger(id) }); err != nil {
			log.Printf("registry: wiring %s for session %d: %v", name, id, err)
		}
	}

	if err := sess.On(models.EventFirstFrameShown, func(eventbus.Event) {
		r.bus.Emit(models.EventHandoffComplete, id)
		r.bus.Emit(models.EventMetric, models.MetricEvent{
			SessionID:  id,
			Kind:       models.MetricHandoffComplete,
			StreamName: sess.StreamName(),
		})
	}); err != nil {
		log.Printf("registry: wiring %s for session %d: %v", models.EventFirstFrameShown, id, err)
	}
}

// onRetryTrigger implements §4.8's retry supervision steps 1-5.
func (r *Registry) onRetryTrigger(id models.SessionId) {
	if !r.Has(id) {
		return
	}

	r.mu.Lock()
	sess := r.sessions[id]
	elements := r.elements[id]
	lin := r.lineageOf[id]
	lineageState := r.lineages[lin]
	r.mu.Unlock()

	if sess == nil {
		return
	}

	target, ok := sess.LastTarget()

	r.Remove(id)

	if !ok {
		log.Printf("registry: session %d: retry trigger with no target to replay", id)
		return
	}

	if lineageState != nil && !lineageState.limiter.Allow() {
		log.Printf("registry: lineage %d: retry budget exhausted", lin)
		r.bus.Emit(models.EventRetryBudgetExhausted, lin)
		r.bus.Emit(models.EventMetric, models.MetricEvent{
			SessionID:  lin,
			Kind:       models.MetricRetryExhausted,
			StreamName: target.StreamName(),
		})
		return
	}

	replacement, err := r.createForLineage(elements, lin)
	if err != nil {
		log.Printf("registry: session %d: creating replacement: %v", id, err)
		return
	}
	r.bus.Emit(models.EventRetryFired, replacement.ID())
	r.bus.Emit(models.EventMetric, models.MetricEvent{
		SessionID:  replacement.ID(),
		Kind:       models.MetricRetryFired,
		StreamName: target.StreamName(),
	})

	if err := replacement.ChangeSrc(context.Background(), target); err != nil {
		log.Printf("registry: session %d: replacement changeSrc: %v", id, err)
	}
}

// Retry forces the same retry path bounded retry supervision takes for
// id (§4.9's POST /api/sessions/{id}/retry), bypassing the
// lineage's rate budget since this is an explicit operator action
// rather than an automatic reaction to a fault. It returns once the
// replacement session exists; the replacement's changeSrc runs in the
// background and its error is logged, as in supervision.
func (r *Registry) Retry(id models.SessionId) error {
	if !r.Has(id) {
		return fmt.Errorf("registry: retry: session %d: %w", id, clsperrors.ErrNotFound)
	}

	r.mu.Lock()
	sess := r.sessions[id]
	elements := r.elements[id]
	lin := r.lineageOf[id]
	r.mu.Unlock()

	target, ok := sess.LastTarget()
	r.Remove(id)
	if !ok {
		return fmt.Errorf("registry: retry: session %d: no target to replay", id)
	}

	replacement, err := r.createForLineage(elements, lin)
	if err != nil {
		return fmt.Errorf("registry: retry: creating replacement: %w", err)
	}
	r.bus.Emit(models.EventRetryFired, replacement.ID())
	r.bus.Emit(models.EventMetric, models.MetricEvent{
		SessionID:  replacement.ID(),
		Kind:       models.MetricRetryFired,
		StreamName: target.StreamName(),
	})
	go func() {
		if err := replacement.ChangeSrc(context.Background(), target); err != nil {
			log.Printf("registry: retry: session %d: replacement changeSrc: %v", id, err)
		}
	}()
	return nil
}

// Has reports whether id is a live, non-pending-removal session: false
// if pendingRemoval[id], else true iff present in sessions.
func (r *Registry) Has(id models.SessionId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, pending := r.pendingRemoval[id]; pending {
		return false
	}
	_, ok := r.sessions[id]
	return ok
}

// Get returns the session for id, or false if absent or pending removal.
func (r *Registry) Get(id models.SessionId) (*session.Session, bool) {
	if !r.Has(id) {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove idempotently tears down the session for id (§4.8): moves
// id to pendingRemoval, deletes it from sessions, destroys it, then
// clears pendingRemoval. Errors during destroy are logged, not
// rethrown.
func (r *Registry) Remove(id models.SessionId) {
	r.mu.Lock()
	if _, already := r.pendingRemoval[id]; already {
		r.mu.Unlock()
		return
	}
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.pendingRemoval[id] = struct{}{}
	delete(r.sessions, id)
	r.mu.Unlock()

	streamName := sess.StreamName()
	sess.Destroy(context.Background())

	r.mu.Lock()
	delete(r.pendingRemoval, id)
	delete(r.elements, id)
	delete(r.lineageOf, id)
	r.mu.Unlock()

	r.bus.Emit(models.EventSessionRemoved, id)
	r.bus.Emit(models.EventMetric, models.MetricEvent{
		SessionID:  id,
		Kind:       models.MetricSessionRemoved,
		StreamName: streamName,
	})
}

// Destroy removes every session; after Destroy, Create fails (§4.8).
func (r *Registry) Destroy() {
	r.Destroyable.Destroy(func() {
		r.mu.Lock()
		ids := make([]models.SessionId, 0, len(r.sessions))
		for id := range r.sessions {
			ids = append(ids, id)
		}
		r.mu.Unlock()
		for _, id := range ids {
			r.Remove(id)
		}
	})
}

// Sessions returns a snapshot of every live session, for the control
// plane's GET /api/sessions (§4.9).
func (r *Registry) Sessions() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}
