// Package session implements the IOV Session (§4.7): surface
// initialization, environment-event reactivity (document visibility,
// network connectivity, fullscreen), and the user-visible changeSrc/
// stop/restart surface built on top of a playercollection.Collection.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"clspiov/internal/clspconfig"
	"clspiov/internal/clsperrors"
	"clspiov/internal/eventbus"
	"clspiov/internal/lifecycle"
	"clspiov/internal/models"
	"clspiov/internal/player"
	"clspiov/internal/playercollection"
)

// DefaultConnectionChangePlayDelay is CONNECTION_CHANGE_PLAY_DELAY's
// default (§6): browser-reported "online" events precede actual
// network readiness, so restart is deliberately delayed.
const DefaultConnectionChangePlayDelay = 5 * time.Second

const (
	classContainer = "clsp-player-container"
	classPlayer    = "clsp-player"
)

// Container is the out-of-scope DOM container collaborator (§4.7).
type Container interface {
	AddClass(name string)
}

// Surface is the out-of-scope rendering-surface collaborator: a
// player.VideoSurface plus the marker-class hooks Session applies on
// initializeElements and strips again on destroy of a retained (caller-
// owned) surface. Embedding player.VideoSurface lets a Surface value be
// passed anywhere a player.VideoSurface is expected, e.g. into
// playercollection.Collection.Create.
type Surface interface {
	player.VideoSurface
	AddClass(name string)
	RemoveClass(name string)
}

// DOM resolves ids to handles and performs the operations the player
// surface itself doesn't own: creating a fresh surface inside a
// container, and fullscreen requests (§4.7: "requested on the
// container ... because the video surface is destroyed during each
// player handoff").
type DOM interface {
	ResolveContainer(id string) (Container, bool)
	ResolveSurface(id string) (Surface, bool)
	CreateSurface(container Container) (Surface, error)
	RequestFullscreen(container Container) error
	ExitFullscreen() error
}

// Environment is the out-of-scope collaborator for document visibility
// and network connectivity signals (§4.7).
type Environment interface {
	// VisibilityChanges delivers true when the document becomes hidden,
	// false when it becomes visible again.
	VisibilityChanges() <-chan bool
	// ConnectivityChanges delivers true when the network becomes
	// reachable again, false on going offline.
	ConnectivityChanges() <-chan bool
	// IsHidden reports the document's visibility at the instant of the
	// call (§4.7 step 4 of changeSrc: "If the document is
	// currently hidden...").
	IsHidden() bool
}

// ElementsConfig is initializeElements' input (§4.7): any one of
// {containerElementId, containerElement, videoElementId, videoElement}.
type ElementsConfig struct {
	ContainerElementID string
	ContainerElement   Container
	VideoElementID     string
	VideoElement       Surface
}

// CollectionFactory builds the playercollection.Collection a Session
// drives, given the bus the session forwards player events onto.
type CollectionFactory func(bus *eventbus.Bus) *playercollection.Collection

// Session is the IOV Session (§4.7).
type Session struct {
	lifecycle.Destroyable

	id                        models.SessionId
	bus                       *eventbus.Bus
	dom                       DOM
	env                       Environment
	collection                *playercollection.Collection
	connectionChangePlayDelay time.Duration

	mu                                  sync.Mutex
	container                           Container
	surface                             Surface
	shouldRetainSurface                 bool
	streamConfiguration                 *clspconfig.StreamConfiguration
	pendingChangeSrcStreamConfiguration *clspconfig.StreamConfiguration
	isStopping                          bool
	firstFrameWaiters                   map[models.PlayerId]chan struct{}

	envCtx    context.Context
	envCancel context.CancelFunc
}

// Option configures a Session at construction.
type Option func(*Session)

// WithConnectionChangePlayDelay overrides CONNECTION_CHANGE_PLAY_DELAY.
func WithConnectionChangePlayDelay(d time.Duration) Option {
	return func(s *Session) { s.connectionChangePlayDelay = d }
}

// New constructs a Session, wiring the environment watchers if env is
// non-nil. bus must whitelist the names documented in §4.7.
func New(id models.SessionId, bus *eventbus.Bus, dom DOM, env Environment, newCollection CollectionFactory, opts ...Option) *Session {
	s := &Session{
		id:                        id,
		bus:                       bus,
		dom:                       dom,
		env:                       env,
		connectionChangePlayDelay: DefaultConnectionChangePlayDelay,
		firstFrameWaiters:         make(map[models.PlayerId]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.collection = newCollection(bus)

	// One long-lived subscription dispatches FIRST_FRAME_SHOWN to
	// whichever changeSrc call is currently waiting on that player's id,
	// rather than registering (and leaking) a fresh bus handler per
	// changeSrc call.
	if err := bus.On(models.EventFirstFrameShown, s.onFirstFrameShown); err != nil {
		log.Printf("session %d: wiring FIRST_FRAME_SHOWN: %v", id, err)
	}

	if env != nil {
		s.envCtx, s.envCancel = context.WithCancel(context.Background())
		go s.watchEnvironment(s.envCtx)
	}
	return s
}

// ID returns this session's id, used by the Registry to correlate retry
// events against the session that raised them.
func (s *Session) ID() models.SessionId { return s.id }

// LastTarget returns the configuration retry supervision should replay
// on a replacement session: the in-flight changeSrc target if one
// exists, else the last committed one (§4.8 step 2:
// "pendingChangeSrcStreamConfiguration ?? streamConfiguration").
func (s *Session) LastTarget() (clspconfig.StreamConfiguration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingChangeSrcStreamConfiguration != nil {
		return *s.pendingChangeSrcStreamConfiguration, true
	}
	if s.streamConfiguration != nil {
		return *s.streamConfiguration, true
	}
	return clspconfig.StreamConfiguration{}, false
}

// StreamName reports the current target's stream name, or "" if none
// has been set yet (used by the control plane's session listing).
func (s *Session) StreamName() string {
	cfg, ok := s.LastTarget()
	if !ok {
		return ""
	}
	return cfg.StreamName()
}

// PlayerState reports the current player's state, or false if no player
// has been created yet (used by the control plane's session listing).
func (s *Session) PlayerState() (models.PlayerState, bool) {
	return s.collection.ActiveState()
}

// On subscribes handler to name on the session's event bus (§6:
// "Session.on(eventName, handler)").
func (s *Session) On(name string, handler eventbus.Handler) error {
	return s.bus.On(name, handler)
}

// InitializeElements resolves the rendering surface (§4.7).
func (s *Session) InitializeElements(cfg ElementsConfig) error {
	var (
		container Container
		surface   Surface
		retain    bool
	)

	switch {
	case cfg.VideoElement != nil:
		surface, retain = cfg.VideoElement, true
	case cfg.VideoElementID != "":
		resolved, ok := s.dom.ResolveSurface(cfg.VideoElementID)
		if !ok {
			return fmt.Errorf("session: initializeElements: %w", clsperrors.ErrNoSurface)
		}
		surface, retain = resolved, true
	case cfg.ContainerElement != nil:
		container = cfg.ContainerElement
	case cfg.ContainerElementID != "":
		resolved, ok := s.dom.ResolveContainer(cfg.ContainerElementID)
		if !ok {
			return fmt.Errorf("session: initializeElements: %w", clsperrors.ErrNoSurface)
		}
		container = resolved
	default:
		return fmt.Errorf("session: initializeElements: %w", clsperrors.ErrNoSurface)
	}

	if surface == nil {
		if container == nil {
			return fmt.Errorf("session: initializeElements: %w", clsperrors.ErrNoSurface)
		}
		created, err := s.dom.CreateSurface(container)
		if err != nil {
			return fmt.Errorf("session: initializeElements: %w", clsperrors.ErrNoSurface)
		}
		surface = created
	}

	if container != nil {
		container.AddClass(classContainer)
	}
	surface.AddClass(classPlayer)
	surface.SetMuted(true)
	surface.SetPlaysInline(true)

	s.mu.Lock()
	s.container = container
	s.surface = surface
	s.shouldRetainSurface = retain
	s.mu.Unlock()
	return nil
}

// ChangeSrc implements §4.7's changeSrc. arg is either a
// clspconfig.StreamConfiguration or a raw clsp(s):// URL string.
func (s *Session) ChangeSrc(ctx context.Context, arg any) error {
	if s.IsDestroyed() {
		return fmt.Errorf("session: changeSrc: %w", clsperrors.ErrAlreadyDestroyed)
	}

	cfg, err := s.resolveTarget(arg)
	if err != nil {
		return err
	}

	if s.env != nil && s.env.IsHidden() {
		s.mu.Lock()
		s.pendingChangeSrcStreamConfiguration = &cfg
		s.mu.Unlock()
		return nil
	}

	return s.startPlayer(ctx, cfg)
}

func (s *Session) resolveTarget(arg any) (clspconfig.StreamConfiguration, error) {
	switch v := arg.(type) {
	case clspconfig.StreamConfiguration:
		return v, nil
	case string:
		if v == "" {
			return clspconfig.StreamConfiguration{}, fmt.Errorf("session: changeSrc: %w", clsperrors.ErrMissingURL)
		}
		cfg, err := clspconfig.FromURL(v)
		if err != nil {
			return clspconfig.StreamConfiguration{}, err
		}
		return cfg, nil
	default:
		return clspconfig.StreamConfiguration{}, fmt.Errorf("session: changeSrc: %w", clsperrors.ErrMissingURL)
	}
}

// startPlayer creates a new player via the collection and resolves only
// once FIRST_FRAME_SHOWN names the specific player it created; events
// from any prior player are ignored.
func (s *Session) startPlayer(ctx context.Context, cfg clspconfig.StreamConfiguration) error {
	s.mu.Lock()
	s.streamConfiguration = &cfg
	s.pendingChangeSrcStreamConfiguration = nil
	container, surface := s.container, s.surface
	s.mu.Unlock()

	id, err := s.collection.Create(ctx, container, surface, cfg)
	if err != nil {
		return fmt.Errorf("session: changeSrc: %w: %v", clsperrors.ErrChangeSrcFailed, err)
	}

	wait := make(chan struct{})
	s.mu.Lock()
	s.firstFrameWaiters[id] = wait
	s.mu.Unlock()

	select {
	case <-wait:
		s.bus.Emit(models.EventMetric, models.MetricEvent{
			SessionID:  s.id,
			Kind:       models.MetricChangeSrc,
			StreamName: cfg.StreamName(),
			Detail:     fmt.Sprintf("host=%s:%d", cfg.Host(), cfg.Port()),
		})
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.firstFrameWaiters, id)
		s.mu.Unlock()
		return fmt.Errorf("session: changeSrc: %w", ctx.Err())
	}
}

// onFirstFrameShown resolves whichever changeSrc call is waiting on this
// specific player's id; events from any other player (a stale handoff)
// are ignored.
func (s *Session) onFirstFrameShown(ev eventbus.Event) {
	payload, ok := ev.Payload.(models.FirstFrameShownPayload)
	if !ok {
		return
	}
	s.mu.Lock()
	wait, ok := s.firstFrameWaiters[payload.ID]
	if ok {
		delete(s.firstFrameWaiters, payload.ID)
	}
	s.mu.Unlock()
	if ok {
		close(wait)
	}
}

// Stop idempotently tears down the current player (§4.7): a second
// concurrent call observes isStopping and returns without a second
// teardown.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.isStopping {
		s.mu.Unlock()
		return nil
	}
	s.isStopping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isStopping = false
		s.mu.Unlock()
	}()

	s.collection.RemoveAll(ctx)
	return nil
}

// Restart is stop() followed by changeSrc(pendingChangeSrcStreamConfiguration
// ?? streamConfiguration); stop errors are logged and swallowed, changeSrc
// errors propagate (§4.7). Preferring the pending target is what
// actually applies a changeSrc that arrived while the document was
// hidden (§4.7 step 4) once the document becomes visible again.
func (s *Session) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		log.Printf("session %d: restart: stop: %v", s.id, err)
	}

	s.mu.Lock()
	cfg := s.pendingChangeSrcStreamConfiguration
	if cfg == nil {
		cfg = s.streamConfiguration
	}
	s.mu.Unlock()
	if cfg == nil {
		return nil
	}
	return s.ChangeSrc(ctx, *cfg)
}

// EnterFullscreen requests fullscreen on the container, not the
// rendering surface, because the surface is destroyed and replaced
// during every handoff (§4.7). ExitFullscreen delegates to the DOM.
// Session has no toggle method.
func (s *Session) EnterFullscreen() error {
	s.mu.Lock()
	container := s.container
	s.mu.Unlock()
	if container == nil {
		return fmt.Errorf("session: enterFullscreen: %w", clsperrors.ErrNoSurface)
	}
	return s.dom.RequestFullscreen(container)
}

func (s *Session) ExitFullscreen() error {
	return s.dom.ExitFullscreen()
}

func (s *Session) watchEnvironment(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case hidden, ok := <-s.env.VisibilityChanges():
			if !ok {
				return
			}
			s.onVisibilityChange(ctx, hidden)
		case online, ok := <-s.env.ConnectivityChanges():
			if !ok {
				return
			}
			s.onConnectionChange(ctx, online)
		}
	}
}

// onVisibilityChange: hidden -> stop(); visible again -> restart().
// Errors are logged, never thrown to the caller (§4.7).
func (s *Session) onVisibilityChange(ctx context.Context, hidden bool) {
	if hidden {
		if err := s.Stop(ctx); err != nil {
			log.Printf("session %d: onVisibilityChange: stop: %v", s.id, err)
		}
		return
	}
	if err := s.Restart(ctx); err != nil {
		log.Printf("session %d: onVisibilityChange: restart: %v", s.id, err)
	}
}

// onConnectionChange: offline -> stop(); online -> sleep
// CONNECTION_CHANGE_PLAY_DELAY then restart() (§4.7: "browser-
// reported online events precede actual network readiness").
func (s *Session) onConnectionChange(ctx context.Context, online bool) {
	if !online {
		if err := s.Stop(ctx); err != nil {
			log.Printf("session %d: onConnectionChange: stop: %v", s.id, err)
		}
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.connectionChangePlayDelay):
		}
		if err := s.Restart(ctx); err != nil {
			log.Printf("session %d: onConnectionChange: restart: %v", s.id, err)
		}
	}()
}

// Destroy tears the Session down exactly once: stops and destroys every
// player, then either releases a session-owned surface or, for a
// retained (caller-owned) surface, leaves it attached but strips the
// marker class initializeElements applied, so the surface persists for
// its owner without looking like a live CLSP player (§4.7, boundary
// case: destroying a session must not detach a surface it doesn't own).
func (s *Session) Destroy(ctx context.Context) {
	s.Destroyable.Destroy(func() {
		if s.envCancel != nil {
			s.envCancel()
		}
		s.collection.Destroy(ctx)

		s.mu.Lock()
		surface, retain := s.surface, s.shouldRetainSurface
		s.mu.Unlock()
		if surface == nil {
			return
		}
		if retain {
			surface.RemoveClass(classPlayer)
			return
		}
		surface.ClearSource()
		surface.Detach()
	})
}
