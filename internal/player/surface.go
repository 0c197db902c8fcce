// Package player implements the Player (§4.5): one Conduit plus one
// media-buffer feeder bound to a video rendering surface, the resync/
// handoff state machine, and the bounded append queue with quota-exceeded
// recovery.
package player

import "errors"

// ErrQuotaExceeded is returned by VideoSurface.AppendMediaSegment /
// AppendInitSegment when the browser's buffer-quota policy rejects an
// append (§4.5: "On 'quota exceeded' from the buffer...").
var ErrQuotaExceeded = errors.New("player: buffer quota exceeded")

// BufferedRange is one contiguous range currently held by the surface's
// media source buffer, in surface-reported time units.
type BufferedRange struct {
	Start float64
	End   float64
}

// VideoSurface is the out-of-scope DOM/video-surface collaborator
// (§1): the rendering element and its attached media-source buffer.
// Player never constructs one; Session resolves/creates it and hands it
// to the PlayerCollection, which hands it to each Player in turn.
type VideoSurface interface {
	// AttachMediaSource binds a fresh media source to the surface for
	// mimeCodec, replacing whatever was previously attached.
	AttachMediaSource(mimeCodec string) error
	// AppendInitSegment appends the MP4 init segment. Must be called
	// exactly once, before any AppendMediaSegment.
	AppendInitSegment(data []byte) error
	// AppendMediaSegment appends one fMP4 media segment.
	AppendMediaSegment(data []byte) error
	// BufferedRanges reports the buffer's currently-held ranges.
	BufferedRanges() []BufferedRange
	// CodecInfo reports the codec/dimensions string parsed from the init
	// segment, once known; ok is false beforehand.
	CodecInfo() (mimeCodec string, ok bool)
	// EvictRange removes [start, end) from the buffer, used to recover
	// from ErrQuotaExceeded.
	EvictRange(start, end float64) error
	// OnFirstFrame registers a one-shot callback invoked the first time
	// the surface reports a frame has actually been rendered.
	OnFirstFrame(cb func())
	// SetMuted/SetPlaysInline mirror the "muted = true; playsinline =
	// true" setup §4.7 requires on initializeElements.
	SetMuted(bool)
	SetPlaysInline(bool)
	// ClearSource sets the surface's source to the empty sentinel,
	// releasing buffer references. §9 flags the ordering of this
	// relative to Detach as load-bearing for memory-leak prevention:
	// ClearSource must be called before Detach.
	ClearSource()
	// Detach removes the media source binding from the surface without
	// destroying the surface element itself.
	Detach()
}
