// Package module mounts prefixed HTTP sub-applications, each with its own
// middleware stack, onto a single top-level router.
package module

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/QWERTYjc/GradeOS-sub003/pkg/middleware"
)

// Module serves an inner router beneath a single-segment prefix such as
// "/api". The inner router sees paths with the prefix removed.
type Module struct {
	prefix  string
	router  http.Handler
	stack   middleware.System
	handler func() http.Handler
}

// New panics when prefix is not exactly one leading-slash segment.
func New(prefix string, router http.Handler) *Module {
	if prefix == "" || prefix[0] != '/' || strings.Contains(prefix[1:], "/") || len(prefix) == 1 {
		panic(fmt.Sprintf("module prefix must be a single segment like /api, got %q", prefix))
	}

	m := &Module{prefix: prefix, router: router, stack: middleware.New()}
	m.handler = sync.OnceValue(func() http.Handler {
		return m.stack.Apply(http.StripPrefix(m.prefix, rootPath(m.router)))
	})
	return m
}

func (m *Module) Prefix() string { return m.prefix }

// Use appends middleware. The chain is fixed on the first request, so all
// Use calls must happen during setup.
func (m *Module) Use(mw func(http.Handler) http.Handler) {
	m.stack.Use(mw)
}

func (m *Module) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler().ServeHTTP(w, r)
}

// rootPath maps the empty path left by stripping "/api" itself to "/".
func rootPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" {
			r.URL.Path = "/"
		}
		next.ServeHTTP(w, r)
	})
}

// Router sends each request to the module owning its first path segment and
// everything else, such as /healthz, to a plain ServeMux.
type Router struct {
	modules map[string]*Module
	native  *http.ServeMux
}

func NewRouter() *Router {
	return &Router{modules: map[string]*Module{}, native: http.NewServeMux()}
}

// Handle registers pattern on the fallback mux.
func (r *Router) Handle(pattern string, handler http.Handler) {
	r.native.Handle(pattern, handler)
}

// Mount panics if another module already owns m's prefix.
func (r *Router) Mount(m *Module) {
	if _, dup := r.modules[m.prefix]; dup {
		panic(fmt.Sprintf("module prefix already mounted: %s", m.prefix))
	}
	r.modules[m.prefix] = m
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if p := req.URL.Path; len(p) > 1 && strings.HasSuffix(p, "/") {
		req.URL.Path = strings.TrimSuffix(p, "/")
		req.URL.RawPath = ""
	}

	first, _, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	if m, ok := r.modules["/"+first]; ok {
		m.ServeHTTP(w, req)
		return
	}
	r.native.ServeHTTP(w, req)
}
