// Package server coordinates WebSocket client registration, outbound delivery,
// and connection cleanup for the gateway via the Hub type.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
)

// SchemeWS is the endpoint scheme of WebSocket clients.
const SchemeWS = "ws"

// Hub manages all WebSocket client connections and delivers replies and
// forwards to them. Every connection is its own endpoint; commands read from
// a connection are submitted to the sink.
type Hub struct {
	clients    map[domain.Endpoint]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	sink    InboundSink
	cfg     *Config
	origins *originPolicy
	logger  *slog.Logger
	seq     atomic.Uint64
}

// NewHub creates a Hub that submits commands to sink. The returned Hub is
// ready to manage WebSocket connections once Run is started.
func NewHub(sink InboundSink, cfg *Config, logger *slog.Logger) *Hub {
	logger = orDiscard(logger).With("component", "gateway")
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[domain.Endpoint]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		sink:       sink,
		cfg:        cfg,
		origins:    newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:     logger,
	}
}

func (h *Hub) nextEndpoint(remote string) domain.Endpoint {
	return domain.NewEndpoint(SchemeWS, fmt.Sprintf("%s#%d", remote, h.seq.Add(1)))
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Send implements Sender. A client whose send buffer is full is dropped.
func (h *Hub) Send(ep domain.Endpoint, payload []byte) error {
	h.mutex.RLock()
	client, ok := h.clients[ep]
	h.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no websocket client %s", domain.ErrTransport, ep)
	}

	if !h.safeSend(client, payload) {
		h.removeClient(client, "send buffer full")
		return fmt.Errorf("%w: websocket client %s is not keeping up", domain.ErrTransport, ep)
	}
	return nil
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send so removeClient cannot close the
	// channel underneath us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client.endpoint]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. This method should be called in a separate goroutine as
// it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client.endpoint] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("client registered", "endpoint", client.endpoint.String(), "clients", clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.removeClient(client, "disconnected")
		}
	}
}

// removeClient deletes the client, closes its send channel and drops its
// session. It is a no-op for clients already removed.
func (h *Hub) removeClient(client *Client, reason string) {
	h.mutex.Lock()
	current, ok := h.clients[client.endpoint]
	if !ok || current != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.endpoint)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.sink.Disconnected(client.endpoint)
	h.logger.Info("client unregistered", "endpoint", client.endpoint.String(), "reason", reason, "clients", clientCount)
}

// unregisterClient hands client to Run, or removes it directly once Run has
// stopped.
func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.removeClient(client, "hub stopped")
	}
}

// shutdownClients closes all active client connections.
func (h *Hub) shutdownClients() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.logger.Warn("error closing client connection", "endpoint", client.endpoint.String(), "error", err)
				}
			}
		}
	}

	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
