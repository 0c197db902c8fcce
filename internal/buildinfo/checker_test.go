package buildinfo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInfoInitialState(t *testing.T) {
	c := NewChecker("1.0.0")
	info := c.Info()
	if info.Current != "1.0.0" {
		t.Fatalf("expected current=1.0.0, got %s", info.Current)
	}
	if info.UpdateAvailable {
		t.Fatal("expected no update available initially")
	}
	if info.Latest != "" {
		t.Fatalf("expected empty latest, got %s", info.Latest)
	}
}

func TestInfoDevVersion(t *testing.T) {
	c := NewChecker("dev")
	info := c.Info()
	if info.Current != "dev" {
		t.Fatalf("expected current=dev, got %s", info.Current)
	}
}

func TestNewCheckerStripsVPrefix(t *testing.T) {
	c := NewChecker("v1.2.3")
	info := c.Info()
	if info.Current != "1.2.3" {
		t.Fatalf("expected current=1.2.3, got %s", info.Current)
	}
}

func TestCompareNewerAvailable(t *testing.T) {
	c := NewChecker("1.0.0")
	c.mu.Lock()
	c.latest = "1.1.0"
	c.releaseURL = "https://github.com/example/releases/tag/v1.1.0"
	c.mu.Unlock()

	info := c.Info()
	if !info.UpdateAvailable {
		t.Fatal("expected update available")
	}
	if info.Latest != "1.1.0" {
		t.Fatalf("expected latest=1.1.0, got %s", info.Latest)
	}
}

func TestCompareSameVersion(t *testing.T) {
	c := NewChecker("1.0.0")
	c.mu.Lock()
	c.latest = "1.0.0"
	c.mu.Unlock()

	if c.Info().UpdateAvailable {
		t.Fatal("expected no update when versions are the same")
	}
}

func TestCompareDevSkipped(t *testing.T) {
	c := NewChecker("dev")
	c.mu.Lock()
	c.latest = "1.0.0"
	c.mu.Unlock()

	if c.Info().UpdateAvailable {
		t.Fatal("expected no update for dev version")
	}
}

func TestCompareMultiDigitVersions(t *testing.T) {
	tests := []struct {
		current string
		latest  string
		want    bool
	}{
		{"1.9.0", "1.10.0", true},
		{"1.10.0", "1.9.0", false},
		{"2.0.0", "10.0.0", true},
		{"0.9.9", "0.10.0", true},
		{"1.0.0", "1.0.1", true},
	}
	for _, tt := range tests {
		c := NewChecker(tt.current)
		c.mu.Lock()
		c.latest = tt.latest
		c.mu.Unlock()

		if got := c.Info().UpdateAvailable; got != tt.want {
			t.Fatalf("current=%s latest=%s: got %v, want %v", tt.current, tt.latest, got, tt.want)
		}
	}
}

func TestInfoFlagsBreakingChangeOnMajorBump(t *testing.T) {
	tests := []struct {
		current string
		latest  string
		want    bool
	}{
		{"1.4.0", "1.5.0", false},
		{"1.4.0", "2.0.0", true},
		{"1.9.9", "1.10.0", false},
		{"1.0.0-rc1", "2.0.0", true},
	}
	for _, tt := range tests {
		c := NewChecker(tt.current)
		c.mu.Lock()
		c.latest = tt.latest
		c.mu.Unlock()

		if got := c.Info().BreakingChange; got != tt.want {
			t.Fatalf("current=%s latest=%s: got BreakingChange=%v, want %v", tt.current, tt.latest, got, tt.want)
		}
	}
}

func TestCompareSemver(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.0.1", "1.0.0", 1},
		{"1.9.0", "1.10.0", -1},
		{"1.0.0-rc1", "1.0.0", 0},
		{"1.2.0+build123", "1.2.0", 0},
	}
	for _, tt := range tests {
		if got := compareSemver(tt.a, tt.b); got != tt.want {
			t.Fatalf("compareSemver(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCheckHTTPMock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "clspiov/1.0.0" {
			t.Errorf("expected User-Agent=clspiov/1.0.0, got %s", ua)
		}
		resp := gitHubRelease{TagName: "v2.0.0", HTMLURL: "https://github.com/example/releases/tag/v2.0.0"}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewChecker("1.0.0")
	c.releaseAPI = srv.URL
	c.check(context.Background())

	info := c.Info()
	if !info.UpdateAvailable || info.Latest != "2.0.0" {
		t.Fatalf("unexpected info after check: %+v", info)
	}
}

func TestCheckHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewChecker("1.0.0")
	c.releaseAPI = srv.URL
	c.check(context.Background())

	if c.Info().UpdateAvailable {
		t.Fatal("expected no update on HTTP error")
	}
}

func TestCheckMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>error page</html>"))
	}))
	defer srv.Close()

	c := NewChecker("1.0.0")
	c.releaseAPI = srv.URL
	c.check(context.Background())

	if c.Info().UpdateAvailable {
		t.Fatal("expected no update on malformed JSON")
	}
}

func TestCheckDevSkipsHTTP(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewChecker("dev")
	c.releaseAPI = srv.URL
	c.check(context.Background())

	if called {
		t.Fatal("expected dev version to skip HTTP check")
	}
}

func TestStartCancellation(t *testing.T) {
	c := NewChecker("dev")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
