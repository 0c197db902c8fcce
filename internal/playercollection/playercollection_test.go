package playercollection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clspiov/internal/clspconfig"
	"clspiov/internal/clsperrors"
	"clspiov/internal/conduit"
	"clspiov/internal/eventbus"
	"clspiov/internal/models"
	"clspiov/internal/player"
)

// fakeSurface is a minimal VideoSurface double, grounded on the same
// hand-rolled-fake convention as internal/player/fakes_test.go.
type fakeSurface struct {
	mu       sync.Mutex
	detached bool
}

func (s *fakeSurface) AttachMediaSource(string) error         { return nil }
func (s *fakeSurface) AppendInitSegment([]byte) error         { return nil }
func (s *fakeSurface) AppendMediaSegment([]byte) error        { return nil }
func (s *fakeSurface) BufferedRanges() []player.BufferedRange { return nil }
func (s *fakeSurface) CodecInfo() (string, bool)              { return "", false }
func (s *fakeSurface) EvictRange(float64, float64) error      { return nil }
func (s *fakeSurface) OnFirstFrame(func())                    {}
func (s *fakeSurface) SetMuted(bool)                           {}
func (s *fakeSurface) SetPlaysInline(bool)                     {}
func (s *fakeSurface) ClearSource()                            {}
func (s *fakeSurface) Detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}

// fakeMQTTClient never actually talks to a broker; it satisfies
// conduit.MQTTClient just well enough that Conduit's reconnect loop can
// run for the duration of a test without panicking on a nil client or
// actually dialing anything (the transport itself is exercised in
// internal/conduit's own tests against a real websocket fake broker).
type fakeMQTTClient struct {
	done chan struct{}
}

func newFakeMQTTClient(string) conduit.MQTTClient {
	return &fakeMQTTClient{done: make(chan struct{})}
}

func (c *fakeMQTTClient) Connect(context.Context) error { return nil }
func (c *fakeMQTTClient) Subscribe(context.Context, string, func([]byte)) error {
	return nil
}
func (c *fakeMQTTClient) Publish(context.Context, string, []byte) error   { return nil }
func (c *fakeMQTTClient) Unsubscribe(context.Context, string) error       { return nil }
func (c *fakeMQTTClient) Disconnect()                                     {}
func (c *fakeMQTTClient) Done() <-chan struct{}                           { return c.done }

func fakeConduitFactory(conduitBus *eventbus.Bus) *conduit.Conduit {
	return conduit.New(conduitBus, newFakeMQTTClient, nil)
}

func testBus() *eventbus.Bus {
	return eventbus.New(
		models.EventFirstFrameShown,
		models.EventVideoReceived,
		models.EventVideoInfoReceived,
		models.EventReinitializeError,
		models.EventRetryError,
		models.EventIframeDestroyedExternally,
	)
}

func testCfg(t *testing.T) clspconfig.StreamConfiguration {
	t.Helper()
	cfg, err := clspconfig.New("sfs.example.com", 8443, true, "stream-a", nil)
	if err != nil {
		t.Fatalf("building config: %v", err)
	}
	return cfg
}

func TestCreateReturnsIDWithoutWaitingForFirstFrame(t *testing.T) {
	c := New(testBus(), fakeConduitFactory)

	id, err := c.Create(context.Background(), nil, &fakeSurface{}, testCfg(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero player id")
	}
}

func TestCreateFailsAfterDestroy(t *testing.T) {
	c := New(testBus(), fakeConduitFactory)
	c.Destroy(context.Background())

	_, err := c.Create(context.Background(), nil, &fakeSurface{}, testCfg(t))
	if !errors.Is(err, clsperrors.ErrAlreadyDestroyed) {
		t.Fatalf("create after destroy: got %v, want ErrAlreadyDestroyed", err)
	}
}

func TestHandoffDestroysPriorPlayersAfterDelay(t *testing.T) {
	c := New(testBus(), fakeConduitFactory, WithShowNextVideoDelay(10*time.Millisecond))
	bus := c.bus

	oldSurface := &fakeSurface{}
	oldID, err := c.Create(context.Background(), nil, oldSurface, testCfg(t))
	if err != nil {
		t.Fatalf("create old: %v", err)
	}

	newSurface := &fakeSurface{}
	newID, err := c.Create(context.Background(), nil, newSurface, testCfg(t))
	if err != nil {
		t.Fatalf("create new: %v", err)
	}
	if newID == oldID {
		t.Fatal("expected distinct ids")
	}

	bus.Emit(models.EventFirstFrameShown, models.FirstFrameShownPayload{ID: newID})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		oldSurface.mu.Lock()
		detached := oldSurface.detached
		oldSurface.mu.Unlock()
		if detached {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("old player was never torn down after handoff")
}
