// Package headlessdom provides the DOM/Environment collaborators
// cmd/clspiovd wires the core against when it runs with no browser
// attached (§1: "a small reference binary that wires the core
// to a real transport and exposes an operator-facing control plane").
// A real embedding host (e.g. a wasm binding layer) supplies its own
// session.DOM/session.Environment; this package exists purely so the
// daemon's Registry/control-plane wiring can be exercised end-to-end
// without one. All surfaces are no-ops: nothing ever renders, so a
// headless session never reaches FIRST_FRAME_SHOWN on its own.
package headlessdom

import (
	"fmt"

	"clspiov/internal/player"
	"clspiov/internal/session"
)

// Container is the no-op session.Container.
type Container struct{}

// AddClass is a no-op.
func (Container) AddClass(string) {}

// Surface is the no-op session.Surface: every media operation succeeds
// without actually buffering or rendering anything.
type Surface struct{}

func (Surface) AddClass(string)                       {}
func (Surface) RemoveClass(string)                    {}
func (Surface) AttachMediaSource(string) error         { return nil }
func (Surface) AppendInitSegment([]byte) error         { return nil }
func (Surface) AppendMediaSegment([]byte) error        { return nil }
func (Surface) BufferedRanges() []player.BufferedRange { return nil }
func (Surface) CodecInfo() (string, bool)              { return "", false }
func (Surface) EvictRange(float64, float64) error      { return nil }
func (Surface) OnFirstFrame(func())                    {}
func (Surface) SetMuted(bool)                          {}
func (Surface) SetPlaysInline(bool)                    {}
func (Surface) ClearSource()                           {}
func (Surface) Detach()                                {}

// DOM resolves every container/surface id to a fresh headless Container
// or Surface; it never fails to resolve, since there is no real document
// to fail against.
type DOM struct{}

func (DOM) ResolveContainer(string) (session.Container, bool) { return Container{}, true }
func (DOM) ResolveSurface(string) (session.Surface, bool)      { return Surface{}, true }
func (DOM) CreateSurface(session.Container) (session.Surface, error) {
	return Surface{}, nil
}
func (DOM) RequestFullscreen(session.Container) error {
	return fmt.Errorf("headlessdom: fullscreen unsupported")
}
func (DOM) ExitFullscreen() error { return nil }

// Environment never reports visibility or connectivity changes: a
// headless process has no document to hide and no browser connectivity
// events to observe.
type Environment struct{}

func (Environment) VisibilityChanges() <-chan bool   { return nil }
func (Environment) ConnectivityChanges() <-chan bool { return nil }
func (Environment) IsHidden() bool                   { return false }
