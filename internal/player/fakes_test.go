package player

import (
	"context"
	"sync"

	"clspiov/internal/clspconfig"
	"clspiov/internal/eventbus"
)

// fakeConduit is a minimal in-process double for the conduit interface,
// grounded on the mockServer pattern in
// internal/poller/poller_test.go (a hand-rolled fake satisfying the
// production interface, driven directly by the test).
type fakeConduit struct {
	bus *eventbus.Bus

	mu          sync.Mutex
	connectErr  error
	resyncCalls int
	stopCalls   int
	destroyed   bool
}

func newFakeConduit(bus *eventbus.Bus) *fakeConduit {
	return &fakeConduit{bus: bus}
}

func (c *fakeConduit) Connect(ctx context.Context, cfg clspconfig.StreamConfiguration) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.bus.Emit("CONNECTED", nil)
	return nil
}

func (c *fakeConduit) Resync(ctx context.Context) error {
	c.mu.Lock()
	c.resyncCalls++
	c.mu.Unlock()
	return nil
}

func (c *fakeConduit) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopCalls++
	c.mu.Unlock()
	return nil
}

func (c *fakeConduit) Destroy(ctx context.Context) {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
}

// fakeSurface is a minimal in-process double for VideoSurface.
type fakeSurface struct {
	mu sync.Mutex

	quotaExceededOnce bool
	appendErr         error
	buffered          []BufferedRange
	codecMime         string
	codecReady        bool

	appended     [][]byte
	initAppended [][]byte
	firstFrameCB func()
	cleared      bool
	detached     bool
	evicted      []BufferedRange
	evictErr     error
}

func (s *fakeSurface) AttachMediaSource(mimeCodec string) error { return nil }

func (s *fakeSurface) AppendInitSegment(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initAppended = append(s.initAppended, data)
	return nil
}

func (s *fakeSurface) AppendMediaSegment(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quotaExceededOnce {
		s.quotaExceededOnce = false
		return ErrQuotaExceeded
	}
	if s.appendErr != nil {
		return s.appendErr
	}
	s.appended = append(s.appended, data)
	return nil
}

func (s *fakeSurface) BufferedRanges() []BufferedRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}

func (s *fakeSurface) CodecInfo() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codecMime, s.codecReady
}

func (s *fakeSurface) EvictRange(start, end float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evictErr != nil {
		return s.evictErr
	}
	s.evicted = append(s.evicted, BufferedRange{Start: start, End: end})
	return nil
}

func (s *fakeSurface) OnFirstFrame(cb func()) {
	s.mu.Lock()
	s.firstFrameCB = cb
	s.mu.Unlock()
}

func (s *fakeSurface) fireFirstFrame() {
	s.mu.Lock()
	cb := s.firstFrameCB
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (s *fakeSurface) SetMuted(bool)      {}
func (s *fakeSurface) SetPlaysInline(bool) {}

func (s *fakeSurface) ClearSource() {
	s.mu.Lock()
	s.cleared = true
	s.mu.Unlock()
}

func (s *fakeSurface) Detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}
