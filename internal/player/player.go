package player

import (
	"context"
	"fmt"
	"log"
	"sync"

	"clspiov/internal/clspconfig"
	"clspiov/internal/clsperrors"
	"clspiov/internal/eventbus"
	"clspiov/internal/lifecycle"
	"clspiov/internal/models"
)

// conduit is the subset of *conduit.Conduit the Player needs; kept as an
// interface so tests can drive the state machine without a real
// MQTT/websocket transport.
type conduit interface {
	Connect(ctx context.Context, cfg clspconfig.StreamConfiguration) error
	Resync(ctx context.Context) error
	Stop(ctx context.Context) error
	Destroy(ctx context.Context)
}

// conduitEvents is the subset of *eventbus.Bus subscription behavior the
// Player needs from its Conduit's own bus, so it can listen for
// CONNECTED/INIT_SEGMENT/MEDIA_SEGMENT/RECONNECT_NEEDED/
// IFRAME_DESTROYED_EXTERNALLY without owning the Conduit's bus directly.
type conduitEvents interface {
	On(name string, handler eventbus.Handler) error
}

// maxAppendRetries bounds repeated append failures before the Player
// gives up and moves to Dead (§4.5: "at most N=3 retries").
const maxAppendRetries = 3

// evictThresholdSeconds is the minimum buffered range length the feeder
// will evict to recover from a quota-exceeded append (§4.5).
const evictThresholdSeconds = 10.0

// maxQueueDepth bounds the feeder's pending-append queue (§4.5:
// "bounded append queue").
const maxQueueDepth = 32

// Player owns one Conduit and one VideoSurface-bound buffer feeder
// (§4.5).
type Player struct {
	lifecycle.Destroyable

	id      models.PlayerId
	bus     *eventbus.Bus
	conduit conduit
	surface VideoSurface

	mu            sync.Mutex
	state         models.PlayerState
	retryCount    int
	firstFrameSet bool
	videoInfoSet  bool

	queue *segmentQueue
}

// New constructs a Player with the given id, emitting on bus, owning
// conduit and surface. The caller (PlayerCollection) subscribes conduit's
// own event bus via WireConduitEvents before calling Play.
func New(id models.PlayerId, bus *eventbus.Bus, c conduit, surface VideoSurface) *Player {
	return &Player{
		id:      id,
		bus:     bus,
		conduit: c,
		surface: surface,
		state:   models.PlayerCreated,
		queue:   newSegmentQueue(maxQueueDepth),
	}
}

// ID returns this player's id, used by Session/PlayerCollection to
// correlate FIRST_FRAME_SHOWN payloads.
func (p *Player) ID() models.PlayerId { return p.id }

func (p *Player) State() models.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) setState(s models.PlayerState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// WireConduitEvents subscribes the Player's handlers onto the Conduit's
// event source. Kept separate from Play so PlayerCollection can wire
// events before starting the connect, avoiding a race where an event
// fires before any handler is registered.
func (p *Player) WireConduitEvents(conduitBus conduitEvents) error {
	subs := []struct {
		name    string
		handler eventbus.Handler
	}{
		{models.EventConnected, func(eventbus.Event) { p.onConnected() }},
		{models.EventInitSegment, func(ev eventbus.Event) { p.onInitSegment(ev.Payload.([]byte)) }},
		{models.EventMediaSegment, func(ev eventbus.Event) { p.onMediaSegment(ev.Payload.([]byte)) }},
		{models.EventReconnectNeeded, func(eventbus.Event) { p.onReconnectNeeded() }},
		{models.EventIframeDestroyedExternally, func(eventbus.Event) { p.onIframeDestroyedExternally() }},
	}
	for _, s := range subs {
		if err := conduitBus.On(s.name, s.handler); err != nil {
			return err
		}
	}
	return nil
}

// Play begins the play flow (§4.5): connect conduit, subscribe, wait
// for init segment (asynchronously, via bus events), attach the media
// source, append init, then stream segments. Play itself only drives the
// Created -> Connecting transition and starts the feeder goroutine; the
// remaining transitions happen as Conduit/surface events arrive.
func (p *Player) Play(ctx context.Context, cfg clspconfig.StreamConfiguration) error {
	if p.IsDestroyed() {
		return fmt.Errorf("player: play: %w", clsperrors.ErrAlreadyDestroyed)
	}
	p.setState(models.PlayerConnecting)
	go p.runFeeder(ctx)
	if err := p.conduit.Connect(ctx, cfg); err != nil {
		p.setState(models.PlayerDead)
		return fmt.Errorf("player: play: %w", err)
	}
	return nil
}

func (p *Player) onConnected() {
	if p.State() == models.PlayerConnecting {
		p.setState(models.PlayerSubscribed)
	}
}

func (p *Player) onReconnectNeeded() {
	// The Conduit owns its own reconnect/backoff; the Player just
	// reflects that streaming is momentarily interrupted.
	if p.State() == models.PlayerStreaming {
		p.setState(models.PlayerSubscribed)
	}
}

func (p *Player) onIframeDestroyedExternally() {
	p.bus.Emit(models.EventIframeDestroyedExternally, nil)
	p.setState(models.PlayerDead)
}

func (p *Player) onInitSegment(data []byte) {
	if p.State() != models.PlayerSubscribed && p.State() != models.PlayerReceivingInit {
		return
	}
	p.setState(models.PlayerReceivingInit)

	if err := p.surface.AttachMediaSource("video/mp4"); err != nil {
		log.Printf("player %d: attach media source: %v", p.id, err)
		p.fail()
		return
	}
	if err := p.surface.AppendInitSegment(data); err != nil {
		log.Printf("player %d: append init segment: %v", p.id, err)
		p.fail()
		return
	}

	p.bus.Emit(models.EventVideoReceived, nil)
	p.maybeEmitVideoInfo()

	p.setState(models.PlayerStreaming)
	p.surface.OnFirstFrame(p.onFirstFrame)
}

// fail abandons the player after an unrecoverable error during init
// segment handling, matching the terminal Dead+RETRY_ERROR transition
// registerAppendFailure reaches after exhausting the media-segment retry
// budget.
func (p *Player) fail() {
	p.setState(models.PlayerDead)
	p.bus.Emit(models.EventRetryError, nil)
}

func (p *Player) maybeEmitVideoInfo() {
	p.mu.Lock()
	if p.videoInfoSet {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	mime, ok := p.surface.CodecInfo()
	if !ok {
		return
	}
	p.mu.Lock()
	p.videoInfoSet = true
	p.mu.Unlock()
	p.bus.Emit(models.EventVideoInfoReceived, mime)
}

// onFirstFrame fires the first time the surface reports a rendered frame.
// §3/§4.5: "Only Streaming emits FIRST_FRAME_SHOWN (exactly once per
// player)."
func (p *Player) onFirstFrame() {
	p.mu.Lock()
	if p.firstFrameSet || p.state != models.PlayerStreaming {
		p.mu.Unlock()
		return
	}
	p.firstFrameSet = true
	p.mu.Unlock()
	p.bus.Emit(models.EventFirstFrameShown, models.FirstFrameShownPayload{ID: p.id})
}

func (p *Player) onMediaSegment(data []byte) {
	if p.State() != models.PlayerStreaming {
		return
	}
	if dropped := p.queue.push(data); dropped {
		log.Printf("player %d: append queue overrun, dropped oldest segment", p.id)
		go func() {
			if err := p.conduit.Resync(context.Background()); err != nil {
				log.Printf("player %d: resync after overrun: %v", p.id, err)
			}
		}()
	}
}

// runFeeder is the owner goroutine draining the bounded append queue into
// the surface, one segment at a time (§5: "a single owner task
// per session awaiting typed channel events").
func (p *Player) runFeeder(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.queue.notify:
		}
		for {
			seg, ok := p.queue.pop()
			if !ok {
				break
			}
			p.appendMediaSegment(seg)
			if p.State() == models.PlayerDead || p.State() == models.PlayerStopping {
				return
			}
		}
	}
}

// appendMediaSegment appends data to the surface, making up to
// maxAppendRetries attempts in total at the same segment on a non-quota
// failure before giving up (§4.5: "Streaming -> Stalled on repeated append
// failure, with at most N=3 retries before emitting RETRY_ERROR and
// moving to Dead").
func (p *Player) appendMediaSegment(data []byte) {
	err := p.surface.AppendMediaSegment(data)
	if err == nil {
		p.bus.Emit(models.EventVideoReceived, nil)
		p.mu.Lock()
		p.retryCount = 0
		p.mu.Unlock()
		if p.State() == models.PlayerStalled {
			p.setState(models.PlayerStreaming)
		}
		return
	}

	if err == ErrQuotaExceeded {
		p.recoverFromQuotaExceeded(data)
		return
	}

	p.registerAppendFailure(data, err)
}

// recoverFromQuotaExceeded implements §4.5: "evict the oldest
// buffered range >= a fixed threshold, then retry the append exactly
// once; if that fails, stall and emit REINITIALZE_ERROR."
func (p *Player) recoverFromQuotaExceeded(data []byte) {
	ranges := p.surface.BufferedRanges()
	evicted := false
	for _, r := range ranges {
		if r.End-r.Start >= evictThresholdSeconds {
			if err := p.surface.EvictRange(r.Start, r.End); err != nil {
				log.Printf("player %d: evict range: %v", p.id, err)
				continue
			}
			evicted = true
			break
		}
	}
	if !evicted {
		log.Printf("player %d: quota exceeded with no evictable range", p.id)
	}

	if err := p.surface.AppendMediaSegment(data); err != nil {
		log.Printf("player %d: append retry after eviction failed: %v", p.id, err)
		p.setState(models.PlayerStalled)
		p.bus.Emit(models.EventReinitializeError, nil)
		return
	}
	p.bus.Emit(models.EventVideoReceived, nil)
}

// registerAppendFailure retries appending the same segment internally, up
// to maxAppendRetries attempts total, rather than waiting for a further
// MEDIA_SEGMENT event: onMediaSegment only accepts new segments while
// Streaming, so a single failure that moved the player to Stalled would
// otherwise strand any later segments in that same retry budget.
func (p *Player) registerAppendFailure(data []byte, err error) {
	p.setState(models.PlayerStalled)
	attempt := 1
	log.Printf("player %d: append failed (attempt %d/%d): %v", p.id, attempt, maxAppendRetries, err)

	for attempt < maxAppendRetries {
		attempt++
		err = p.surface.AppendMediaSegment(data)
		if err == nil {
			p.bus.Emit(models.EventVideoReceived, nil)
			p.mu.Lock()
			p.retryCount = 0
			p.mu.Unlock()
			p.setState(models.PlayerStreaming)
			return
		}
		if err == ErrQuotaExceeded {
			p.recoverFromQuotaExceeded(data)
			return
		}
		log.Printf("player %d: append failed (attempt %d/%d): %v", p.id, attempt, maxAppendRetries, err)
	}

	p.setState(models.PlayerDead)
	p.bus.Emit(models.EventRetryError, nil)
}

// Stop publishes stop on the conduit, unsubscribes, and disconnects
// (§4.5).
func (p *Player) Stop(ctx context.Context) error {
	p.setState(models.PlayerStopping)
	return p.conduit.Stop(ctx)
}

// Destroy tears the Player down exactly once: stops the conduit,
// releases the surface's buffer references in the load-bearing order
// §9 documents (ClearSource before Detach), and marks Dead. Detach
// only removes the media-source binding — it never destroys the surface
// element itself, so it runs regardless of whether the Session that owns
// the surface intends to retain or discard the element afterward.
func (p *Player) Destroy(ctx context.Context) {
	p.Destroyable.Destroy(func() {
		p.setState(models.PlayerStopping)
		if err := p.conduit.Stop(ctx); err != nil {
			log.Printf("player %d: destroy: stop: %v", p.id, err)
		}
		p.conduit.Destroy(ctx)

		// §9: "the order of operations ... clearing the surface
		// source before detaching it ... is load-bearing for
		// memory-leak prevention on buffer-backed surfaces."
		p.surface.ClearSource()
		p.surface.Detach()
		p.setState(models.PlayerDead)
	})
}
