package player

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clspiov/internal/clspconfig"
	"clspiov/internal/eventbus"
	"clspiov/internal/models"
)

func newTestPlayer(t *testing.T) (*Player, *fakeConduit, *fakeSurface, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(
		models.EventConnected,
		models.EventDisconnected,
		models.EventInitSegment,
		models.EventMediaSegment,
		models.EventReconnectNeeded,
		models.EventIframeDestroyedExternally,
		models.EventFirstFrameShown,
		models.EventVideoReceived,
		models.EventVideoInfoReceived,
		models.EventReinitializeError,
		models.EventRetryError,
	)
	conduit := newFakeConduit(bus)
	surface := &fakeSurface{codecMime: "video/mp4; codecs=\"avc1.64001f\"", codecReady: true}
	p := New(1, bus, conduit, surface)
	if err := p.WireConduitEvents(bus); err != nil {
		t.Fatalf("wiring conduit events: %v", err)
	}
	return p, conduit, surface, bus
}

func testCfg(t *testing.T) clspconfig.StreamConfiguration {
	t.Helper()
	cfg, err := clspconfig.New("sfs.example.com", 8443, true, "stream-a", nil)
	if err != nil {
		t.Fatalf("building config: %v", err)
	}
	return cfg
}

func subscribeCollect(t *testing.T, bus *eventbus.Bus, name string) chan eventbus.Event {
	t.Helper()
	ch := make(chan eventbus.Event, 8)
	if err := bus.On(name, func(ev eventbus.Event) { ch <- ev }); err != nil {
		t.Fatalf("subscribing %s: %v", name, err)
	}
	return ch
}

func TestPlayerReachesStreamingAndEmitsFirstFrameOnce(t *testing.T) {
	p, _, surface, bus := newTestPlayer(t)
	firstFrame := subscribeCollect(t, bus, models.EventFirstFrameShown)
	videoInfo := subscribeCollect(t, bus, models.EventVideoInfoReceived)

	ctx := context.Background()
	if err := p.Play(ctx, testCfg(t)); err != nil {
		t.Fatalf("play: %v", err)
	}

	if p.State() != models.PlayerSubscribed {
		t.Fatalf("state = %v, want Subscribed", p.State())
	}

	bus.Emit(models.EventInitSegment, []byte("init-bytes"))

	if p.State() != models.PlayerStreaming {
		t.Fatalf("state = %v, want Streaming", p.State())
	}

	select {
	case ev := <-videoInfo:
		if ev.Payload.(string) == "" {
			t.Fatal("expected non-empty codec info")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for VIDEO_INFO_RECEIVED")
	}

	surface.fireFirstFrame()
	surface.fireFirstFrame() // must not emit a second time

	select {
	case ev := <-firstFrame:
		payload := ev.Payload.(models.FirstFrameShownPayload)
		if payload.ID != p.ID() {
			t.Fatalf("first frame id = %v, want %v", payload.ID, p.ID())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for FIRST_FRAME_SHOWN")
	}

	select {
	case <-firstFrame:
		t.Fatal("FIRST_FRAME_SHOWN emitted a second time")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPlayerStreamsMediaSegments(t *testing.T) {
	p, _, surface, bus := newTestPlayer(t)
	videoReceived := subscribeCollect(t, bus, models.EventVideoReceived)

	ctx := context.Background()
	_ = p.Play(ctx, testCfg(t))
	bus.Emit(models.EventInitSegment, []byte("init-bytes"))
	<-videoReceived // init append

	bus.Emit(models.EventMediaSegment, []byte("segment-1"))

	select {
	case <-videoReceived:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for VIDEO_RECEIVED on media segment")
	}

	if len(surface.appended) != 1 || string(surface.appended[0]) != "segment-1" {
		t.Fatalf("unexpected appended segments: %v", surface.appended)
	}
}

// TestPlayerBufferEvictionPolicy covers the quota-exceeded recovery
// path's eviction choice across a table of buffered-range layouts: the
// oldest range at or above evictThresholdSeconds is evicted, and the
// append is retried exactly once regardless of outcome.
func TestPlayerBufferEvictionPolicy(t *testing.T) {
	tests := []struct {
		name          string
		buffered      []BufferedRange
		wantEvicted   *BufferedRange
		wantRecovered bool
	}{
		{
			name:          "single range above threshold is evicted",
			buffered:      []BufferedRange{{Start: 0, End: 20}},
			wantEvicted:   &BufferedRange{Start: 0, End: 20},
			wantRecovered: true,
		},
		{
			name: "oldest of several eligible ranges is evicted",
			buffered: []BufferedRange{
				{Start: 0, End: 15},
				{Start: 15, End: 40},
			},
			wantEvicted:   &BufferedRange{Start: 0, End: 15},
			wantRecovered: true,
		},
		{
			name: "range below threshold is skipped in favor of the next eligible one",
			buffered: []BufferedRange{
				{Start: 0, End: 5},
				{Start: 5, End: 30},
			},
			wantEvicted:   &BufferedRange{Start: 5, End: 30},
			wantRecovered: true,
		},
		{
			name:          "no evictable range still retries the append once",
			buffered:      []BufferedRange{{Start: 0, End: 3}},
			wantEvicted:   nil,
			wantRecovered: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, surface, bus := newTestPlayer(t)
			videoReceived := subscribeCollect(t, bus, models.EventVideoReceived)
			reinit := subscribeCollect(t, bus, models.EventReinitializeError)

			ctx := context.Background()
			require.NoError(t, p.Play(ctx, testCfg(t)))
			bus.Emit(models.EventInitSegment, []byte("init-bytes"))
			<-videoReceived

			surface.mu.Lock()
			surface.quotaExceededOnce = true
			surface.buffered = tt.buffered
			surface.mu.Unlock()

			bus.Emit(models.EventMediaSegment, []byte("segment-1"))

			if tt.wantRecovered {
				select {
				case <-videoReceived:
				case <-time.After(time.Second):
					t.Fatal("timed out waiting for recovery VIDEO_RECEIVED")
				}
				select {
				case <-reinit:
					t.Fatal("unexpected REINITIALZE_ERROR after successful recovery")
				case <-time.After(100 * time.Millisecond):
				}
			}

			surface.mu.Lock()
			evicted := surface.evicted
			surface.mu.Unlock()

			if tt.wantEvicted == nil {
				assert.Empty(t, evicted, "expected no range to be evicted")
			} else {
				require.Len(t, evicted, 1)
				assert.Equal(t, *tt.wantEvicted, evicted[0])
			}
		})
	}
}

func TestPlayerGivesUpAfterRepeatedAppendFailures(t *testing.T) {
	p, _, surface, bus := newTestPlayer(t)
	videoReceived := subscribeCollect(t, bus, models.EventVideoReceived)
	retryErr := subscribeCollect(t, bus, models.EventRetryError)

	ctx := context.Background()
	_ = p.Play(ctx, testCfg(t))
	bus.Emit(models.EventInitSegment, []byte("init-bytes"))
	<-videoReceived

	surface.mu.Lock()
	surface.appendErr = errors.New("surface: permanently broken")
	surface.mu.Unlock()

	// A single incoming segment drives all maxAppendRetries attempts
	// internally; onMediaSegment would otherwise drop any further
	// segments once state leaves Streaming after the first failure.
	bus.Emit(models.EventMediaSegment, []byte("segment"))

	select {
	case <-retryErr:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RETRY_ERROR")
	}

	if p.State() != models.PlayerDead {
		t.Fatalf("state = %v, want Dead", p.State())
	}
}
