package routes

import "net/http"

// Route binds an HTTP method and pattern to a handler.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}

// Get is shorthand for a GET route.
func Get(pattern string, h http.HandlerFunc) Route {
	return Route{Method: http.MethodGet, Pattern: pattern, Handler: h}
}

// Post is shorthand for a POST route.
func Post(pattern string, h http.HandlerFunc) Route {
	return Route{Method: http.MethodPost, Pattern: pattern, Handler: h}
}
