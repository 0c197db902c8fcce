// Package playercollection implements changeSrc handoff (§4.6): a
// collection of Players sharing one event bus, where starting a new
// player never waits for its first frame, and an older player is torn
// down only once the new one proves it is actually rendering.
package playercollection

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clspiov/internal/clspconfig"
	"clspiov/internal/clsperrors"
	"clspiov/internal/conduit"
	"clspiov/internal/eventbus"
	"clspiov/internal/lifecycle"
	"clspiov/internal/models"
	"clspiov/internal/player"
)

// DefaultShowNextVideoDelay is SHOW_NEXT_VIDEO_DELAY's default (§6).
const DefaultShowNextVideoDelay = 500 * time.Millisecond

// Container is the out-of-scope DOM container collaborator the owning
// Session has already resolved (§4.7's initializeElements). Create
// accepts it but neither stores it nor calls methods on it.
type Container any

// ConduitFactory builds a fresh Conduit emitting on conduitBus for one
// player's connection lifetime. A fresh Conduit (and bus) per player
// keeps an old, handed-off player's reconnect chatter from leaking onto
// the new player's subscriptions.
type ConduitFactory func(conduitBus *eventbus.Bus) *conduit.Conduit

type entry struct {
	id         models.PlayerId
	player     *player.Player
	conduitBus *eventbus.Bus
}

// Collection owns a set of Players that all emit onto the same bus
// (§4.6: "Emits FIRST_FRAME_SHOWN with {id}" — Session correlates
// on it across the whole collection, not per player).
type Collection struct {
	lifecycle.Destroyable

	bus           *eventbus.Bus
	newConduit    ConduitFactory
	ids           models.PlayerIdGenerator
	showNextDelay time.Duration

	mu      sync.Mutex
	order   []models.PlayerId
	players map[models.PlayerId]*entry
}

// Option configures a Collection at construction.
type Option func(*Collection)

// WithShowNextVideoDelay overrides SHOW_NEXT_VIDEO_DELAY.
func WithShowNextVideoDelay(d time.Duration) Option {
	return func(c *Collection) { c.showNextDelay = d }
}

// New constructs a Collection whose players emit on bus; bus must
// whitelist FIRST_FRAME_SHOWN and the event names Player forwards.
func New(bus *eventbus.Bus, newConduit ConduitFactory, opts ...Option) *Collection {
	c := &Collection{
		bus:           bus,
		newConduit:    newConduit,
		showNextDelay: DefaultShowNextVideoDelay,
		players:       make(map[models.PlayerId]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	// Errors here only occur if bus doesn't whitelist FIRST_FRAME_SHOWN,
	// a wiring mistake the caller should see immediately.
	if err := bus.On(models.EventFirstFrameShown, c.onFirstFrameShown); err != nil {
		log.Printf("playercollection: wiring FIRST_FRAME_SHOWN: %v", err)
	}
	return c
}

// Create constructs a player bound to surface (conceptually hosted in
// container), starts its play flow, and returns its id without waiting
// for first frame (§4.6).
func (c *Collection) Create(ctx context.Context, container Container, surface player.VideoSurface, cfg clspconfig.StreamConfiguration) (models.PlayerId, error) {
	if c.IsDestroyed() {
		return 0, fmt.Errorf("playercollection: create: %w", clsperrors.ErrAlreadyDestroyed)
	}

	id := c.ids.Next()
	conduitBus := eventbus.New(
		models.EventConnected,
		models.EventDisconnected,
		models.EventInitSegment,
		models.EventMediaSegment,
		models.EventReconnectNeeded,
		models.EventIframeDestroyedExternally,
	)
	cd := c.newConduit(conduitBus)
	p := player.New(id, c.bus, cd, surface)
	if err := p.WireConduitEvents(conduitBus); err != nil {
		return 0, fmt.Errorf("playercollection: create: %w", err)
	}

	e := &entry{id: id, player: p, conduitBus: conduitBus}
	c.mu.Lock()
	c.players[id] = e
	c.order = append(c.order, id)
	c.mu.Unlock()

	if err := p.Play(ctx, cfg); err != nil {
		c.mu.Lock()
		delete(c.players, id)
		c.removeFromOrderLocked(id)
		c.mu.Unlock()
		return 0, fmt.Errorf("playercollection: create: %w", err)
	}
	return id, nil
}

// onFirstFrameShown implements the handoff rule: every tracked player
// created before the one that emitted (a lower id) is scheduled for
// destruction after ShowNextVideoDelay; newer players are kept. It does
// not block the caller awaiting the new player's own first frame:
// destruction of old players never blocks changeSrc's resolve.
func (c *Collection) onFirstFrameShown(ev eventbus.Event) {
	payload, ok := ev.Payload.(models.FirstFrameShownPayload)
	if !ok {
		return
	}

	c.mu.Lock()
	var stale []*entry
	for _, id := range c.order {
		if id >= payload.ID {
			break
		}
		if e, ok := c.players[id]; ok {
			stale = append(stale, e)
		}
	}
	c.mu.Unlock()

	if len(stale) == 0 {
		return
	}

	go func() {
		time.Sleep(c.showNextDelay)
		for _, e := range stale {
			c.destroyEntry(e)
		}
	}()
}

func (c *Collection) destroyEntry(e *entry) {
	c.mu.Lock()
	if _, ok := c.players[e.id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.players, e.id)
	c.removeFromOrderLocked(e.id)
	c.mu.Unlock()

	e.player.Destroy(context.Background())
	e.conduitBus.RemoveAllListeners()
}

func (c *Collection) removeFromOrderLocked(id models.PlayerId) {
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// RemoveAll stops and destroys every player, in any order; errors are
// swallowed individually (§4.6), fanned out with an errgroup in the
// fan-out-and-wait shape of internal/server/api_stats.go.
func (c *Collection) RemoveAll(ctx context.Context) {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.players))
	for _, e := range c.players {
		entries = append(entries, e)
	}
	c.players = make(map[models.PlayerId]*entry)
	c.order = nil
	c.mu.Unlock()

	var g errgroup.Group
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if err := e.player.Stop(ctx); err != nil {
				log.Printf("playercollection: removeAll: stop player %d: %v", e.id, err)
			}
			e.player.Destroy(ctx)
			e.conduitBus.RemoveAllListeners()
			return nil
		})
	}
	_ = g.Wait()
}

// ActiveState returns the state of the most recently created tracked
// player, for the control plane's session listing (§4.9). The
// most recent entry is always the one a viewer is converging on: during
// handoff it is the incoming player; otherwise it is the only player.
func (c *Collection) ActiveState() (models.PlayerState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return "", false
	}
	e, ok := c.players[c.order[len(c.order)-1]]
	if !ok {
		return "", false
	}
	return e.player.State(), true
}

// Destroy tears down every player and marks the collection destroyed;
// after Destroy, Create fails with ErrAlreadyDestroyed (§4.6).
func (c *Collection) Destroy(ctx context.Context) {
	c.Destroyable.Destroy(func() {
		c.RemoveAll(ctx)
	})
}
