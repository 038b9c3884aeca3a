// Package server exposes HTTP handlers: the WebSocket gateway upgrade, a
// health check and a status report.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Tyrowin/gochat-rooms/internal/registry"
	"github.com/gorilla/websocket"
)

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.check,
	}
}

// ServeWS handles WebSocket upgrade requests. It validates that the request
// uses the GET method, upgrades the connection, and registers a Client with
// its own endpoint.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h, h.nextEndpoint(r.RemoteAddr))

	// The hub launches the pump goroutines.
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

// Status is the body of the /status endpoint.
type Status struct {
	Sessions         int `json:"sessions"`
	Rooms            int `json:"rooms"`
	WebSocketClients int `json:"websocket_clients"`
}

// StatusHandler reports live counters as JSON.
func StatusHandler(reg *registry.Registry, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := Status{
			Sessions:         reg.SessionCount(),
			Rooms:            len(reg.ListRooms()),
			WebSocketClients: hub.ClientCount(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			hub.logger.Warn("error writing status response", "error", err)
		}
	}
}
