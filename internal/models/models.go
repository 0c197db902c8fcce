// Package models holds the value types shared across the CLSP IOV core:
// identifiers, state enums, and the whitelisted event names each
// component emits. Centralizing these here lets every package import one
// shared set of types rather than each declaring its own copies.
package models

import "sync/atomic"

// SessionId is unique within the process for the lifetime of the
// Registry that issued it: never reused, even after removal.
type SessionId uint64

// PlayerId is unique within a Session.
type PlayerId uint64

// SessionIdGenerator issues monotonically increasing SessionIds. §9
// flags the source's session counter as having "a known overflow hazard";
// this generator uses an unsigned 64-bit counter specifically so wraparound
// is not a practical concern (§3, §9: "document that wrap is a
// defect, not a feature").
type SessionIdGenerator struct {
	next atomic.Uint64
}

// Next returns a fresh SessionId, starting at 1.
func (g *SessionIdGenerator) Next() SessionId {
	return SessionId(g.next.Add(1))
}

// PlayerIdGenerator issues PlayerIds unique within one Session.
type PlayerIdGenerator struct {
	next atomic.Uint64
}

// Next returns a fresh PlayerId, starting at 1.
func (g *PlayerIdGenerator) Next() PlayerId {
	return PlayerId(g.next.Add(1))
}

// PlayerState is one state in the Player state machine (§3).
type PlayerState string

const (
	PlayerCreated        PlayerState = "created"
	PlayerConnecting     PlayerState = "connecting"
	PlayerSubscribed     PlayerState = "subscribed"
	PlayerReceivingInit  PlayerState = "receiving_init"
	PlayerStreaming      PlayerState = "streaming"
	PlayerStalled        PlayerState = "stalled"
	PlayerStopping       PlayerState = "stopping"
	PlayerDead           PlayerState = "dead"
)

// Event names whitelisted on the Conduit's bus (§4.4).
const (
	EventConnected                = "CONNECTED"
	EventDisconnected             = "DISCONNECTED"
	EventInitSegment              = "INIT_SEGMENT"
	EventMediaSegment              = "MEDIA_SEGMENT"
	EventReconnectNeeded           = "RECONNECT_NEEDED"
	EventIframeDestroyedExternally = "IFRAME_DESTROYED_EXTERNALLY"
)

// Event names whitelisted on the Player's bus (§4.5), beyond the
// Conduit names it re-emits.
const (
	EventFirstFrameShown   = "FIRST_FRAME_SHOWN"
	EventVideoReceived     = "VIDEO_RECEIVED"
	EventVideoInfoReceived = "VIDEO_INFO_RECEIVED"
	// EventReinitializeError preserves the source's misspelling verbatim
	// (§4.5: "the source uses this spelling; the new implementation
	// should retain the wire-level event name if compatibility matters").
	EventReinitializeError = "REINITIALZE_ERROR"
	EventRetryError        = "RETRY_ERROR"
)

// Event names whitelisted on the Session's bus (§4.7), beyond the
// ones it forwards from its Player.
const (
	EventMetric               = "METRIC"
	EventNoStreamConfiguration = "NO_STREAM_CONFIGURATION"
)

// Event names emitted by the Registry on its own bus, consumed by the
// control plane's live event feed (§4.9).
const (
	EventRetryBudgetExhausted = "RETRY_BUDGET_EXHAUSTED"
	EventSessionCreated       = "SESSION_CREATED"
	EventSessionRemoved       = "SESSION_REMOVED"
	EventRetryFired           = "RETRY_FIRED"
	EventHandoffComplete      = "HANDOFF_COMPLETE"
)

// FirstFrameShownPayload is the payload carried by EventFirstFrameShown.
// The id must be present so callers can correlate it against the
// specific player they are awaiting.
type FirstFrameShownPayload struct {
	ID PlayerId
}

// MetricKind distinguishes the diagnostic events recorded by
// internal/metricsstore when ENABLE_METRICS is set (§3.1).
type MetricKind string

const (
	MetricSessionCreated   MetricKind = "session_created"
	MetricSessionRemoved   MetricKind = "session_removed"
	MetricChangeSrc        MetricKind = "change_src"
	MetricHandoffComplete  MetricKind = "handoff_complete"
	MetricRetryFired       MetricKind = "retry_fired"
	MetricRetryExhausted   MetricKind = "retry_exhausted"
)

// MetricEvent is one row of operator diagnostic history (§3.1).
// It is never read back to reconstruct session/player/registry state.
type MetricEvent struct {
	SessionID  SessionId
	Kind       MetricKind
	StreamName string
	Detail     string
}

// GeoResult is an approximate geolocation for an SFS host's IP address,
// attached to control-plane diagnostics by internal/geoip (§3.1).
type GeoResult struct {
	IP      string
	Lat     float64
	Lng     float64
	City    string
	Country string
}
