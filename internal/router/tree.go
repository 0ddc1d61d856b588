// Package router implements the compiled routing tree: a two-level lookup
// by host, then by longest registered path prefix. A tree is immutable
// once built; reconfiguration compiles a new tree and swaps it in.
package router

import (
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/wudi/apigate/internal/errors"
)

// Wildcard is the host bucket used when a route has no host constraint.
const Wildcard = "*"

// mount is one registered prefix under a host.
type mount struct {
	prefix   string
	segments []string
	strip    bool
	handler  http.Handler
	idx      int // insertion order for tie-breaking
}

type hostRoutes struct {
	mounts []*mount
	sorted bool
}

// Tree is the compiled host+path lookup structure.
type Tree struct {
	hosts   map[string]*hostRoutes
	nextIdx int
	mu      sync.Mutex // guards Add during compilation only
}

// New creates an empty routing tree.
func New() *Tree {
	return &Tree{hosts: make(map[string]*hostRoutes)}
}

// Add registers a handler under a host (empty ⇒ wildcard) and path prefix.
// With strip, the matched prefix is removed from the request URI before the
// handler sees it.
func (t *Tree) Add(host, path string, strip bool, handler http.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if host == "" {
		host = Wildcard
	}
	hr, ok := t.hosts[host]
	if !ok {
		hr = &hostRoutes{}
		t.hosts[host] = hr
	}
	hr.mounts = append(hr.mounts, &mount{
		prefix:   path,
		segments: splitPath(path),
		strip:    strip,
		handler:  handler,
		idx:      t.nextIdx,
	})
	t.nextIdx++
	hr.sorted = false
}

// sortMounts orders mounts longest-prefix first, insertion order breaking
// ties. Called once per host bucket after compilation completes.
func (hr *hostRoutes) sortMounts() {
	if hr.sorted {
		return
	}
	sort.SliceStable(hr.mounts, func(i, j int) bool {
		if len(hr.mounts[i].segments) != len(hr.mounts[j].segments) {
			return len(hr.mounts[i].segments) > len(hr.mounts[j].segments)
		}
		return hr.mounts[i].idx < hr.mounts[j].idx
	})
	hr.sorted = true
}

// Finalize sorts every host bucket. The compiler calls it before the tree
// starts serving; after that the tree is read-only.
func (t *Tree) Finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, hr := range t.hosts {
		hr.sortMounts()
	}
}

// match finds the mount for a request, trying the literal host bucket
// first and the wildcard bucket second.
func (t *Tree) match(r *http.Request) *mount {
	segments := splitPath(r.URL.Path)

	if host := requestHost(r); host != "" {
		if hr, ok := t.hosts[host]; ok {
			if m := hr.match(segments); m != nil {
				return m
			}
		}
	}
	if hr, ok := t.hosts[Wildcard]; ok {
		return hr.match(segments)
	}
	return nil
}

func (hr *hostRoutes) match(segments []string) *mount {
	for _, m := range hr.mounts {
		if pathHasPrefix(segments, m.segments) {
			return m
		}
	}
	return nil
}

// ServeHTTP dispatches to the matched mount, applying strip semantics.
// Unmatched requests get a 404 at tree level.
func (t *Tree) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m := t.match(r)
	if m == nil {
		errors.ErrNotFound.WriteJSON(w)
		return
	}

	if m.strip {
		r2 := r.Clone(r.Context())
		r2.URL.Path = stripPrefix(m.prefix, r.URL.Path)
		r2.URL.RawPath = ""
		m.handler.ServeHTTP(w, r2)
		return
	}
	m.handler.ServeHTTP(w, r)
}

// requestHost returns the request's host without any port.
func requestHost(r *http.Request) string {
	host := r.Host
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// splitPath splits a URL path into non-empty segments.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// pathHasPrefix checks if reqSegments starts with prefixSegments.
func pathHasPrefix(reqSegments, prefixSegments []string) bool {
	if len(reqSegments) < len(prefixSegments) {
		return false
	}
	for i, seg := range prefixSegments {
		if reqSegments[i] != seg {
			return false
		}
	}
	return true
}

// stripPrefix removes the mount's path prefix from the request path.
// The result always starts with "/".
func stripPrefix(pattern, path string) string {
	pattern = strings.Trim(pattern, "/")
	path = strings.Trim(path, "/")

	if pattern == "" {
		return "/" + path
	}

	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(pathParts) <= len(patternParts) {
		return "/"
	}

	suffix := strings.Join(pathParts[len(patternParts):], "/")
	if suffix == "" {
		return "/"
	}
	return "/" + suffix
}
