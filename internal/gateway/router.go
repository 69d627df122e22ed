package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Protocols the router distinguishes.
const (
	ProtocolHTTP      = "http"
	ProtocolWebSocket = "websocket"
)

type routeKey struct {
	protocol string
	path     string
}

// Router dispatches by (protocol, path). Anything unmatched falls
// through to the legacy handler, which keeps plain HTTP (index page,
// static assets) alive next to the websocket endpoints. Boundary glue
// only.
type Router struct {
	handlers map[routeKey]http.Handler
	legacy   http.Handler
}

// NewRouter builds a router with the given fallthrough handler.
func NewRouter(legacy http.Handler) *Router {
	return &Router{
		handlers: make(map[routeKey]http.Handler),
		legacy:   legacy,
	}
}

// Handle registers a handler for one (protocol, path). Re-registration
// overwrites silently.
func (r *Router) Handle(protocol, path string, h http.Handler) {
	r.handlers[routeKey{protocol: protocol, path: path}] = h
}

// HandleFunc is Handle for plain functions.
func (r *Router) HandleFunc(protocol, path string, h http.HandlerFunc) {
	r.Handle(protocol, path, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	protocol := ProtocolHTTP
	if websocket.IsWebSocketUpgrade(req) {
		protocol = ProtocolWebSocket
	}
	if h, ok := r.handlers[routeKey{protocol: protocol, path: req.URL.Path}]; ok {
		h.ServeHTTP(w, req)
		return
	}
	r.legacy.ServeHTTP(w, req)
}
