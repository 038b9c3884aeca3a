// Package server wires HTTP handlers into a ServeMux via routing helpers.
package server

import (
	"net/http"

	"github.com/Tyrowin/gochat-rooms/internal/registry"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
// It sets up handlers for health check, status report and the WebSocket endpoint.
func SetupRoutes(hub *Hub, reg *registry.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/status", StatusHandler(reg, hub))
	mux.HandleFunc("/ws", hub.ServeWS)
	return mux
}
