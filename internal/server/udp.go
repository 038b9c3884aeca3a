package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
)

// SchemeUDP is the endpoint scheme of datagram peers.
const SchemeUDP = "udp"

const (
	udpWriteTimeout = time.Second
	// maxUDPPayload is the largest payload of one IPv4 datagram.
	maxUDPPayload = 65507
)

// UDPTransport reads one command per datagram and submits it to the sink.
// Each peer address is its own endpoint.
type UDPTransport struct {
	conn    net.PacketConn
	sink    InboundSink
	limiter *endpointLimiter
	maxSize int64
	logger  *slog.Logger
	closed  atomic.Bool
}

// ListenUDP binds addr for the control channel.
func ListenUDP(addr string, sink InboundSink, cfg *Config, logger *slog.Logger) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp on %s: %w", addr, err)
	}
	return &UDPTransport{
		conn:    conn,
		sink:    sink,
		limiter: newEndpointLimiter(cfg.RateLimit, 0),
		maxSize: cfg.MaxMessageSize,
		logger:  orDiscard(logger).With("component", "udp"),
	}, nil
}

// Addr returns the bound address.
func (u *UDPTransport) Addr() net.Addr {
	return u.conn.LocalAddr()
}

// Serve reads datagrams until Close is called.
func (u *UDPTransport) Serve() error {
	buf := make([]byte, u.maxSize+1)
	for {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			if u.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			u.logger.Warn("read datagram", "error", err)
			continue
		}

		ep := domain.NewEndpoint(SchemeUDP, addr.String())
		if int64(n) > u.maxSize {
			u.logger.Info("dropping oversized datagram", "from", ep.String(), "limit", u.maxSize)
			continue
		}
		if !u.limiter.allow(ep) {
			u.logger.Info("rate limit exceeded, discarding datagram", "from", ep.String())
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		u.sink.Submit(Inbound{From: ep, Payload: payload})
	}
}

// Send writes payload as one datagram to ep.
func (u *UDPTransport) Send(ep domain.Endpoint, payload []byte) error {
	if len(payload) > maxUDPPayload {
		return fmt.Errorf("%w: %d bytes for %s", domain.ErrReplyTooLarge, len(payload), ep)
	}
	addr, err := net.ResolveUDPAddr("udp", ep.Addr())
	if err != nil {
		return fmt.Errorf("%w: bad udp endpoint %s: %v", domain.ErrTransport, ep, err)
	}
	if err := u.conn.SetWriteDeadline(time.Now().Add(udpWriteTimeout)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	if _, err := u.conn.WriteTo(payload, addr); err != nil {
		return fmt.Errorf("%w: send to %s: %v", domain.ErrTransport, ep, err)
	}
	return nil
}

// Close stops Serve and releases the socket.
func (u *UDPTransport) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}
	return u.conn.Close()
}
