package conduit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"clspiov/internal/clspconfig"
	"clspiov/internal/clsperrors"
	"clspiov/internal/eventbus"
	"clspiov/internal/lifecycle"
	"clspiov/internal/models"
)

// HostWatcher is the out-of-scope external collaborator that notices when
// the DOM host backing the MQTT transport (an iframe, in the browser
// original) is removed from the document out-of-band, rather than through
// Conduit's own Stop. It is optional; nil means the signal never fires.
type HostWatcher interface {
	// Removed returns a channel that is closed the moment the host is
	// torn down externally.
	Removed() <-chan struct{}
}

// minBackoff/maxBackoff bound the reconnect loop's exponential backoff,
// grounded on internal/media/plex/websocket.go's wsLoop (backoff :=
// time.Second; min(backoff*2, 30*time.Second)).
const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Conduit wraps one MQTT-over-WebSocket connection to an SFS for one
// stream subscription (§4.4).
type Conduit struct {
	lifecycle.Destroyable

	bus     *eventbus.Bus
	factory ClientFactory
	host    HostWatcher

	mu      sync.Mutex
	client  MQTTClient
	topics  topics
	cfg     clspconfig.StreamConfiguration
	stopped bool
}

// New constructs a Conduit emitting on bus. factory builds a fresh
// MQTTClient per connection attempt; host, if non-nil, is watched for
// out-of-band removal for the lifetime of the Conduit.
func New(bus *eventbus.Bus, factory ClientFactory, host HostWatcher) *Conduit {
	return &Conduit{bus: bus, factory: factory, host: host}
}

// Connect starts the reconnect-supervised dial to the SFS for cfg and
// returns immediately; CONNECTED, INIT_SEGMENT and MEDIA_SEGMENT are
// delivered asynchronously on bus as the connection and subscriptions
// come up. Callers that need to wait for the subscribe-ack (Player does)
// subscribe to CONNECTED before calling Connect.
func (c *Conduit) Connect(ctx context.Context, cfg clspconfig.StreamConfiguration) error {
	if c.IsDestroyed() {
		return fmt.Errorf("conduit: connect: %w", clsperrors.ErrAlreadyDestroyed)
	}

	c.mu.Lock()
	c.cfg = cfg
	c.topics = newTopics(cfg.StreamName(), uuid.NewString())
	c.mu.Unlock()

	if c.host != nil {
		go c.watchHost(ctx)
	}

	go c.runLoop(ctx)
	return nil
}

func (c *Conduit) watchHost(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-c.host.Removed():
		c.bus.Emit(models.EventIframeDestroyedExternally, nil)
	}
}

// runLoop owns the reconnect-with-backoff cycle for the lifetime of the
// Conduit, directly grounded on wsLoop in internal/media/plex/websocket.go:
// connect, run until the connection drops, back off, retry — until ctx is
// done or Stop/Destroy is called.
func (c *Conduit) runLoop(ctx context.Context) {
	backoff := minBackoff
	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil || c.stoppedLocked() {
			return
		}
		if err != nil {
			log.Printf("conduit: connection to %s: %v", c.brokerURL(), err)
		}
		c.bus.Emit(models.EventReconnectNeeded, nil)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}
	}
}

func (c *Conduit) stoppedLocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Conduit) brokerURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	scheme := "ws"
	if c.cfg.UseSSL() {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Host(), c.cfg.Port())
}

func (c *Conduit) connectOnce(ctx context.Context) error {
	client := c.factory(c.brokerURL())

	c.mu.Lock()
	c.client = client
	tp := c.topics
	c.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %v", clsperrors.ErrTransport, err)
	}

	if err := client.Subscribe(ctx, tp.init(), func(payload []byte) {
		c.bus.Emit(models.EventInitSegment, payload)
	}); err != nil {
		return fmt.Errorf("%w: subscribing init topic: %v", clsperrors.ErrTransport, err)
	}

	if err := client.Subscribe(ctx, tp.media(), func(payload []byte) {
		c.bus.Emit(models.EventMediaSegment, payload)
	}); err != nil {
		return fmt.Errorf("%w: subscribing media topic: %v", clsperrors.ErrTransport, err)
	}

	c.bus.Emit(models.EventConnected, nil)
	defer c.bus.Emit(models.EventDisconnected, nil)

	if err := c.publish(ctx, client, tp, "play"); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case <-client.Done():
		return nil
	}
}

func (c *Conduit) publish(ctx context.Context, client MQTTClient, tp topics, command string) error {
	if err := client.Publish(ctx, tp.command(), []byte(command)); err != nil {
		return fmt.Errorf("%w: publishing %s: %v", clsperrors.ErrTransport, command, err)
	}
	return nil
}

// Resync publishes a resync command on the current command topic, used by
// the Player when its buffer feeder detects a stall (§4.4).
func (c *Conduit) Resync(ctx context.Context) error {
	c.mu.Lock()
	client, tp := c.client, c.topics
	c.mu.Unlock()
	if client == nil {
		return fmt.Errorf("conduit: resync: %w: not connected", clsperrors.ErrTransport)
	}
	return c.publish(ctx, client, tp, "resync")
}

// Stop publishes stop, unsubscribes both topics, and disconnects
// (§4.4: "Topics must be unsubscribed on session teardown").
func (c *Conduit) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	client, tp := c.client, c.topics
	c.mu.Unlock()

	if client == nil {
		return nil
	}

	var firstErr error
	if err := c.publish(ctx, client, tp, "stop"); err != nil {
		firstErr = err
	}
	if err := client.Unsubscribe(ctx, tp.init()); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: unsubscribing init topic: %v", clsperrors.ErrTransport, err)
	}
	if err := client.Unsubscribe(ctx, tp.media()); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: unsubscribing media topic: %v", clsperrors.ErrTransport, err)
	}
	client.Disconnect()
	return firstErr
}

// Destroy tears down the Conduit exactly once (§4.3). Any in-flight
// connection is disconnected; stop errors are logged, not propagated,
// matching §7's policy for teardown-path errors.
func (c *Conduit) Destroy(ctx context.Context) {
	c.Destroyable.Destroy(func() {
		if err := c.Stop(ctx); err != nil {
			log.Printf("conduit: destroy: stop: %v", err)
		}
	})
}
