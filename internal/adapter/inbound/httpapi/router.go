// Package httpapi implements the HTTP API Router (spec §4.5): resources
// are registered by (subspacePath, {methods}, fn), and a common wrapper
// enforces the 503/405/200 envelope around every one of them. Projection
// timing is reported to the caller through WithProjectionObserver; this
// package registers no metrics itself.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Resource is one registered handler: fn returns the JSON-able value the
// wrapper encodes as the 200 response body.
type Resource struct {
	Path    []string
	Methods map[string]struct{}
	Fn      func(r *http.Request) any
}

// NewResource builds a Resource from a subspace path and method list.
func NewResource(path []string, methods []string, fn func(r *http.Request) any) Resource {
	m := make(map[string]struct{}, len(methods))
	for _, method := range methods {
		m[method] = struct{}{}
	}
	return Resource{Path: path, Methods: m, Fn: fn}
}

// StoreUnavailable is implemented by whatever the router holds a weak
// reference to (the Store), so the wrapper can answer 503 once the Store
// has gone away at shutdown.
type StoreUnavailable interface {
	Unavailable() bool
}

// Router matches request paths against registered resources, longest
// match first, falling back to the catch-all ({}) resource.
type Router struct {
	resources []Resource
	available StoreUnavailable
}

// New builds a Router. available may be nil, in which case the 503 check
// is skipped (used in tests that don't model shutdown).
func New(available StoreUnavailable) *Router {
	return &Router{available: available}
}

// Register adds res to the router. A request path matches a resource's
// subspace if the subspace is a prefix of it (spec §4.5: "Subspace
// {"data"}, GET" answers for /data and everything below it); the
// longest matching subspace wins, with the empty catch-all subspace as
// the fallback.
func (rt *Router) Register(res Resource) {
	rt.resources = append(rt.resources, res)
}

// ServeHTTP implements http.Handler, applying the 503/405/200 envelope
// described in spec §4.5; the catch-all resource is answered with 404.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rt.available != nil && rt.available.Unavailable() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "Store unavailable"})
		return
	}

	segments := splitPath(r.URL.Path)
	res, ok := rt.match(segments)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "No such resource defined"})
		return
	}

	if len(res.Path) > 0 {
		if _, allowed := res.Methods[r.Method]; !allowed {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "Method not allowed"})
			return
		}
	}

	body := res.Fn(r)
	if len(res.Path) == 0 {
		// The catch-all resource answers for paths no other resource claims.
		writeJSON(w, http.StatusNotFound, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (rt *Router) match(segments []string) (Resource, bool) {
	best := -1
	bestLen := -1
	for i, res := range rt.resources {
		if !isPrefix(res.Path, segments) {
			continue
		}
		if len(res.Path) > bestLen {
			best = i
			bestLen = len(res.Path)
		}
	}
	if best < 0 {
		return Resource{}, false
	}
	return rt.resources[best], true
}

// isPrefix reports whether path is a prefix of segments (the empty path
// is a prefix of everything, matching the catch-all subspace).
func isPrefix(path, segments []string) bool {
	if len(path) > len(segments) {
		return false
	}
	for i := range path {
		if path[i] != segments[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	if status >= 200 && status < 300 {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
