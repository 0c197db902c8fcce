// Package clspconfig implements StreamConfiguration (§3, §4.1): an
// immutable value parsed from a clsp(s):// URL or validated directly,
// never mutated after construction. URL validation follows the same
// scheme/host checking shape used elsewhere in this codebase for
// outbound integration endpoints, generalized to CLSP's own scheme set.
package clspconfig

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"clspiov/internal/clsperrors"
)

const (
	schemeCLSP  = "clsp"
	schemeCLSPS = "clsps"
)

// TokenConfig carries whatever authorization token the transport itself
// requires to subscribe; the core never interprets it beyond passing it
// through to the Conduit (§1 non-goals: no authentication layer on
// top of what the transport carries).
type TokenConfig struct {
	Token string
}

// StreamConfiguration is the immutable, fully-validated target of a
// session: {host, port, tls, streamName, tokenConfig}. Two configurations
// compare equal iff every field is equal.
type StreamConfiguration struct {
	host       string
	port       int
	useSSL     bool
	streamName string
	token      *TokenConfig
}

// FromURL parses and validates a raw CLSP URL, returning
// clsperrors.ErrInvalidURL wrapped with detail when the scheme is not
// clsp/clsps or the host/streamName is empty.
func FromURL(raw string) (StreamConfiguration, error) {
	if strings.TrimSpace(raw) == "" {
		return StreamConfiguration{}, fmt.Errorf("clspconfig: empty url: %w", clsperrors.ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return StreamConfiguration{}, fmt.Errorf("clspconfig: parsing %q: %w: %v", raw, clsperrors.ErrInvalidURL, err)
	}

	useSSL, ok := sslForScheme(u.Scheme)
	if !ok {
		return StreamConfiguration{}, fmt.Errorf("clspconfig: scheme %q: %w", u.Scheme, clsperrors.ErrInvalidURL)
	}

	if u.Hostname() == "" {
		return StreamConfiguration{}, fmt.Errorf("clspconfig: missing host in %q: %w", raw, clsperrors.ErrInvalidURL)
	}

	streamName := strings.Trim(u.Path, "/")
	if streamName == "" {
		return StreamConfiguration{}, fmt.Errorf("clspconfig: missing stream name in %q: %w", raw, clsperrors.ErrInvalidURL)
	}

	port := defaultPort(useSSL)
	if p := u.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return StreamConfiguration{}, fmt.Errorf("clspconfig: invalid port %q: %w", p, clsperrors.ErrInvalidURL)
		}
		port = parsed
	}

	var token *TokenConfig
	if t := u.Query().Get("token"); t != "" {
		token = &TokenConfig{Token: t}
	}

	return StreamConfiguration{
		host:       u.Hostname(),
		port:       port,
		useSSL:     useSSL,
		streamName: streamName,
		token:      token,
	}, nil
}

// New constructs an already-validated StreamConfiguration directly,
// rejecting empty host/streamName the same way FromURL does.
func New(host string, port int, useSSL bool, streamName string, token *TokenConfig) (StreamConfiguration, error) {
	if host == "" {
		return StreamConfiguration{}, fmt.Errorf("clspconfig: empty host: %w", clsperrors.ErrInvalidURL)
	}
	if streamName == "" {
		return StreamConfiguration{}, fmt.Errorf("clspconfig: empty stream name: %w", clsperrors.ErrInvalidURL)
	}
	if port == 0 {
		port = defaultPort(useSSL)
	}
	return StreamConfiguration{
		host:       host,
		port:       port,
		useSSL:     useSSL,
		streamName: streamName,
		token:      token,
	}, nil
}

func sslForScheme(scheme string) (useSSL bool, ok bool) {
	switch strings.ToLower(scheme) {
	case schemeCLSPS:
		return true, true
	case schemeCLSP:
		return false, true
	default:
		return false, false
	}
}

func defaultPort(useSSL bool) int {
	if useSSL {
		return 8443
	}
	return 8080
}

// IsStreamConfiguration reports whether x is already a validated
// StreamConfiguration, so callers (Session.changeSrc) can skip FromURL.
func IsStreamConfiguration(x any) bool {
	_, ok := x.(StreamConfiguration)
	return ok
}

func (c StreamConfiguration) Host() string       { return c.host }
func (c StreamConfiguration) Port() int           { return c.port }
func (c StreamConfiguration) UseSSL() bool        { return c.useSSL }
func (c StreamConfiguration) StreamName() string  { return c.streamName }
func (c StreamConfiguration) Token() *TokenConfig { return c.token }

// Equal reports field-wise equality, per §3: "Two configurations
// compare equal iff all fields are equal."
func (c StreamConfiguration) Equal(other StreamConfiguration) bool {
	if c.host != other.host || c.port != other.port || c.useSSL != other.useSSL || c.streamName != other.streamName {
		return false
	}
	switch {
	case c.token == nil && other.token == nil:
		return true
	case c.token == nil || other.token == nil:
		return false
	default:
		return *c.token == *other.token
	}
}

// URL renders the canonical clsp(s):// form of the configuration.
func (c StreamConfiguration) URL() string {
	scheme := schemeCLSP
	if c.useSSL {
		scheme = schemeCLSPS
	}
	u := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", c.host, c.port),
		Path:   "/" + c.streamName,
	}
	if c.token != nil {
		q := u.Query()
		q.Set("token", c.token.Token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c StreamConfiguration) String() string {
	return c.URL()
}
