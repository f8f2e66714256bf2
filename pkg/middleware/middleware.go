// Package middleware provides the HTTP middleware shared by steward modules:
// panic recovery, CORS, acting-user extraction and request logging.
package middleware

import (
	"net/http"
	"slices"
)

// Func wraps an http.Handler.
type Func func(http.Handler) http.Handler

// Stack is an ordered middleware chain. Middleware added first runs outermost.
type Stack struct {
	funcs []Func
}

// Use appends mw to the chain.
func (s *Stack) Use(mw ...Func) {
	s.funcs = append(s.funcs, mw...)
}

// Then wraps h in the chain.
func (s *Stack) Then(h http.Handler) http.Handler {
	for _, mw := range slices.Backward(s.funcs) {
		h = mw(h)
	}
	return h
}
