// Package buildinfo reports the running build's version and polls for
// newer releases on a GitHub-releases endpoint, pointed at the clspiov
// repository for the control plane's GET /api/build (§4.9).
package buildinfo

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"clspiov/internal/httputil"
)

const defaultReleaseAPI = "https://api.github.com/repos/clspiov/clspiov/releases/latest"

// Info holds version information reported to operators. BreakingChange
// is set when the latest release bumps the major version component: a
// CLSP wire/protocol break an operator should not roll out under
// sessions that retry supervision is actively keeping alive, unlike an
// ordinary UpdateAvailable which is safe to apply without disrupting
// in-flight sessions.
type Info struct {
	Current         string `json:"version"`
	Latest          string `json:"latest_version,omitempty"`
	UpdateAvailable bool   `json:"update_available"`
	BreakingChange  bool   `json:"breaking_change,omitempty"`
	ReleaseURL      string `json:"release_url,omitempty"`
}

type gitHubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Checker polls GitHub for the latest release and compares it against
// the version the process was built with.
type Checker struct {
	current    string
	releaseAPI string
	client     *http.Client

	mu         sync.RWMutex
	latest     string
	releaseURL string
}

// NewChecker creates a checker for currentVersion. Set
// BUILDINFO_CHECK_URL to override the GitHub API endpoint for testing.
func NewChecker(currentVersion string) *Checker {
	api := defaultReleaseAPI
	if u := os.Getenv("BUILDINFO_CHECK_URL"); u != "" {
		api = u
	}
	return &Checker{
		current:    strings.TrimPrefix(currentVersion, "v"),
		releaseAPI: api,
		client:     httputil.NewClient(),
	}
}

// Start checks immediately, then every 6 hours, until ctx is cancelled.
func (c *Checker) Start(ctx context.Context) {
	c.check(ctx)
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

// Info returns the current version state.
func (c *Checker) Info() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := Info{Current: c.current}
	if c.latest != "" {
		info.Latest = c.latest
		info.ReleaseURL = c.releaseURL
		if c.current != "dev" && compareSemver(c.latest, c.current) > 0 {
			info.UpdateAvailable = true
			info.BreakingChange = majorVersion(c.latest) > majorVersion(c.current)
		}
	}
	return info
}

// majorVersion extracts the leading dotted component of v (stripping
// any pre-release suffix first), defaulting to 0 when it isn't numeric.
func majorVersion(v string) int {
	parts := strings.Split(stripPreRelease(v), ".")
	if len(parts) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(parts[0])
	return n
}

// compareSemver compares two dotted version strings numerically,
// stripping any pre-release suffix first. Returns -1, 0, or 1.
func compareSemver(a, b string) int {
	a = stripPreRelease(a)
	b = stripPreRelease(b)
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")
	for i := 0; i < 3; i++ {
		av, bv := 0, 0
		if i < len(aParts) {
			av, _ = strconv.Atoi(aParts[i])
		}
		if i < len(bParts) {
			bv, _ = strconv.Atoi(bParts[i])
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

func stripPreRelease(v string) string {
	if i := strings.IndexAny(v, "-+"); i != -1 {
		return v[:i]
	}
	return v
}

func (c *Checker) check(ctx context.Context) {
	if c.current == "dev" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.releaseAPI, nil)
	if err != nil {
		log.Printf("buildinfo: %v", err)
		return
	}
	req.Header.Set("User-Agent", "clspiov/"+c.current)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("buildinfo: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("buildinfo: GitHub returned %d", resp.StatusCode)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.Printf("buildinfo: read error: %v", err)
		return
	}

	var release gitHubRelease
	if err := json.Unmarshal(body, &release); err != nil {
		log.Printf("buildinfo: parse error: %v", err)
		return
	}

	latest := strings.TrimPrefix(release.TagName, "v")

	c.mu.Lock()
	c.latest = latest
	c.releaseURL = release.HTMLURL
	c.mu.Unlock()
}
