// Package httputil collects small HTTP client helpers shared by the
// ambient services around the CLSP core (currently buildinfo's GitHub
// polling), adapted directly from the teacher's internal/httputil.
package httputil

import (
	"io"
	"net/http"
	"time"
)

const DefaultTimeout = 10 * time.Second

// MaxResponseBody bounds how much of an external response body callers
// read into memory.
const MaxResponseBody = 2 << 20 // 2 MiB

// NewClient returns an http.Client with DefaultTimeout.
func NewClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// NewClientWithTimeout returns an http.Client with the given timeout.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// DrainBody ensures the connection can be reused for keep-alive.
func DrainBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}
