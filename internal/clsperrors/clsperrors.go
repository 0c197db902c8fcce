// Package clsperrors collects the sentinel error kinds shared across the
// CLSP IOV core. Components wrap these with fmt.Errorf("...: %w", ...)
// rather than defining their own ad-hoc error strings, so callers can
// errors.Is against a stable kind regardless of which component raised it.
package clsperrors

import "errors"

var (
	ErrInvalidURL             = errors.New("clsp: invalid stream url")
	ErrMissingURL             = errors.New("clsp: missing url or configuration")
	ErrNoSurface              = errors.New("clsp: no rendering surface available")
	ErrUnsupportedEnvironment = errors.New("clsp: unsupported environment")
	ErrAlreadyDestroyed       = errors.New("clsp: already destroyed")
	ErrChangeSrcFailed        = errors.New("clsp: changeSrc failed")
	ErrTransport              = errors.New("clsp: transport error")
	ErrBuffer                 = errors.New("clsp: buffer error")
	ErrUnknownEvent           = errors.New("clsp: unknown event name")
	ErrMissingHandler         = errors.New("clsp: missing event handler")
	ErrNotFound               = errors.New("clsp: session not found")
)
