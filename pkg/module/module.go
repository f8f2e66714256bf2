// Package module mounts self-contained HTTP surfaces under single-level path
// prefixes, each with its own middleware stack.
package module

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JaimeStill/steward/pkg/middleware"
	"github.com/JaimeStill/steward/pkg/routes"
)

// Module strips its prefix and delegates to an inner mux wrapped in the
// module's middleware.
type Module struct {
	prefix     string
	mux        *http.ServeMux
	patterns   []string
	middleware middleware.Stack
}

// New creates a Module under prefix (e.g. "/api") and registers groups on a
// fresh mux. The prefix must be a single path segment.
func New(prefix string, groups ...routes.Group) (*Module, error) {
	if err := validatePrefix(prefix); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	return &Module{
		prefix:     prefix,
		mux:        mux,
		patterns:   routes.Register(mux, groups...),
	}, nil
}

// Handler returns the inner mux wrapped with the module's middleware stack.
func (m *Module) Handler() http.Handler {
	return m.middleware.Then(m.mux)
}

// Prefix returns the module's path prefix.
func (m *Module) Prefix() string {
	return m.prefix
}

// Patterns lists the registered route patterns with the module prefix applied.
func (m *Module) Patterns() []string {
	out := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		method, path, _ := strings.Cut(p, " ")
		out[i] = method + " " + m.prefix + path
	}
	return out
}

// Serve strips the module prefix from the request path and dispatches to the inner mux.
func (m *Module) Serve(w http.ResponseWriter, req *http.Request) {
	m.Handler().ServeHTTP(w, stripPrefix(req, m.prefix))
}

// Use appends middleware to the module's stack.
func (m *Module) Use(mw ...middleware.Func) {
	m.middleware.Use(mw...)
}

func stripPrefix(req *http.Request, prefix string) *http.Request {
	path := strings.TrimPrefix(req.URL.Path, prefix)
	if path == "" {
		path = "/"
	}
	r := req.Clone(req.Context())
	r.URL = new(url.URL)
	*r.URL = *req.URL
	r.URL.Path = path
	r.URL.RawPath = ""
	return r
}

func validatePrefix(prefix string) error {
	switch {
	case prefix == "":
		return fmt.Errorf("module prefix cannot be empty")
	case !strings.HasPrefix(prefix, "/"):
		return fmt.Errorf("module prefix must start with /: %s", prefix)
	case strings.Count(prefix, "/") != 1:
		return fmt.Errorf("module prefix must be single-level sub-path: %s", prefix)
	}
	return nil
}
