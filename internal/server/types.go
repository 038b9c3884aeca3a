// Package server defines the values exchanged between transports and the
// dispatcher, and the outbound router that picks a transport per endpoint.
package server

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
)

// Message is the optional JSON envelope accepted from WebSocket clients.
// Plain text frames are accepted as well.
type Message struct {
	Content string `json:"content"`
}

// Inbound is one command received by a transport.
type Inbound struct {
	From    domain.Endpoint
	Payload []byte
}

// Sender delivers a payload to an endpoint. Implementations must not block
// for long: a slow or unreachable peer may not stall the caller.
type Sender interface {
	Send(ep domain.Endpoint, payload []byte) error
}

// InboundSink accepts commands from transports and learns about endpoints
// that went away.
type InboundSink interface {
	Submit(in Inbound) bool
	Disconnected(ep domain.Endpoint)
}

// outboundRouter dispatches sends to the transport registered for the
// endpoint's scheme.
type outboundRouter struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

func newOutboundRouter() *outboundRouter {
	return &outboundRouter{senders: make(map[string]Sender)}
}

// Handle registers the sender for scheme, replacing any previous one.
func (o *outboundRouter) Handle(scheme string, s Sender) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.senders[scheme] = s
}

// Send implements Sender.
func (o *outboundRouter) Send(ep domain.Endpoint, payload []byte) error {
	o.mu.RLock()
	s, ok := o.senders[ep.Scheme()]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no transport for endpoint %s", domain.ErrTransport, ep)
	}
	return s.Send(ep, payload)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
