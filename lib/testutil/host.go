// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Host serves a directory over HTTP and counts requests per file.
type Host struct {
	// Directory is served at the root of URL.
	Directory string

	// URL is the base URL of the server.
	URL string

	mu       sync.Mutex
	requests map[string]int
	down     bool
}

// NewHost starts a Host over a fresh temporary directory. The server
// is closed when the test ends.
//
//	host := testutil.NewHost(t)
//	release.WriteHost(host.Directory, "game")
//	source := fetch.Source{Primary: host.URL}
func NewHost(t *testing.T) *Host {
	t.Helper()
	host := &Host{
		Directory: t.TempDir(),
		requests:  make(map[string]int),
	}
	files := http.FileServer(http.Dir(host.Directory))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host.mu.Lock()
		host.requests[strings.TrimPrefix(r.URL.Path, "/")]++
		down := host.down
		host.mu.Unlock()
		if down {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		files.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)
	host.URL = server.URL
	return host
}

// Requests returns how many times name was requested, whether or not
// the request succeeded.
func (h *Host) Requests(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests[name]
}

// Total returns the number of requests served.
func (h *Host) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, count := range h.requests {
		total += count
	}
	return total
}

// SetDown makes every request fail with 503 while down is true.
func (h *Host) SetDown(down bool) {
	h.mu.Lock()
	h.down = down
	h.mu.Unlock()
}
