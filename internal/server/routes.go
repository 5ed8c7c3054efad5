// Package server wires HTTP handlers into a ServeMux for the presence
// gateway via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up handlers for health check, WebSocket endpoint, presence snapshot and test page.
func SetupRoutes(gw *Gateway) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", NewWebSocketHandler(gw))
	mux.HandleFunc("/presence", NewPresenceHandler(gw))
	mux.HandleFunc("/test", NewTestPageHandler(gw.log))
	return mux
}
