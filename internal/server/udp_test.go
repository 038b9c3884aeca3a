package server

import (
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
	"github.com/Tyrowin/gochat-rooms/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startUDP(t *testing.T, cfg *Config) (*UDPTransport, *recordingSink) {
	t.Helper()

	sink := &recordingSink{}
	udp, err := ListenUDP("127.0.0.1:0", sink, cfg, nil)
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- udp.Serve() }()
	t.Cleanup(func() {
		require.NoError(t, udp.Close())
		require.NoError(t, <-served)
	})
	return udp, sink
}

func TestUDPTransportRoundTrip(t *testing.T) {
	t.Parallel()

	udp, sink := startUDP(t, NewConfig())
	client := testhelpers.DialUDP(t, udp.Addr().String())

	client.Send("login alice p1")
	require.Eventually(t, func() bool { return len(sink.payloads()) == 1 }, 2*time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	from := sink.inbound[0].From
	sink.mu.Unlock()
	assert.Equal(t, domain.NewEndpoint(SchemeUDP, client.LocalAddr()), from)

	require.NoError(t, udp.Send(from, []byte("OK login alice t registered")))
	assert.Equal(t, "OK login alice t registered", client.Receive(2*time.Second))
}

func TestUDPTransportDropsOversizedDatagrams(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.MaxMessageSize = 32
	udp, sink := startUDP(t, cfg)
	client := testhelpers.DialUDP(t, udp.Addr().String())

	client.Send(strings.Repeat("x", 33))
	client.Send(strings.Repeat("y", 32))
	require.Eventually(t, func() bool { return len(sink.payloads()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{strings.Repeat("y", 32)}, sink.payloads())
}

func TestUDPTransportRateLimitsPerPeer(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.RateLimit = RateLimitConfig{Burst: 2, RefillInterval: time.Hour}
	udp, sink := startUDP(t, cfg)
	noisy := testhelpers.DialUDP(t, udp.Addr().String())
	quiet := testhelpers.DialUDP(t, udp.Addr().String())

	for range 4 {
		noisy.Send("ping")
	}
	quiet.Send("help")

	require.Eventually(t, func() bool { return len(sink.payloads()) == 3 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.ElementsMatch(t, []string{"ping", "ping", "help"}, sink.payloads())
}

func TestUDPTransportSendRejectsBadEndpoint(t *testing.T) {
	t.Parallel()

	udp, _ := startUDP(t, NewConfig())
	err := udp.Send(domain.NewEndpoint(SchemeUDP, "not an address"), []byte("x"))
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestUDPTransportRejectsPayloadOverDatagramLimit(t *testing.T) {
	t.Parallel()

	udp, _ := startUDP(t, NewConfig())
	client := testhelpers.DialUDP(t, udp.Addr().String())
	ep := domain.NewEndpoint(SchemeUDP, client.LocalAddr())

	err := udp.Send(ep, []byte(strings.Repeat("x", maxUDPPayload+1)))
	require.ErrorIs(t, err, domain.ErrReplyTooLarge)
	client.ExpectSilence(100 * time.Millisecond)

	require.NoError(t, udp.Send(ep, []byte("small")))
	assert.Equal(t, "small", client.Receive(2*time.Second))
}

func TestOutboundRouterPicksTransportByScheme(t *testing.T) {
	t.Parallel()

	router := newOutboundRouter()
	udp := testhelpers.NewRecordingSender()
	ws := testhelpers.NewRecordingSender()
	router.Handle(SchemeUDP, udp)
	router.Handle(SchemeWS, ws)

	a := domain.NewEndpoint(SchemeUDP, "127.0.0.1:1")
	b := domain.NewEndpoint(SchemeWS, "127.0.0.1:2#1")
	require.NoError(t, router.Send(a, []byte("to udp")))
	require.NoError(t, router.Send(b, []byte("to ws")))
	assert.Equal(t, []string{"to udp"}, udp.Messages(a))
	assert.Equal(t, []string{"to ws"}, ws.Messages(b))

	err := router.Send(domain.NewEndpoint("tcp", "127.0.0.1:3"), []byte("nowhere"))
	assert.ErrorIs(t, err, domain.ErrTransport)
}
