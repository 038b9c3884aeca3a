// Package testhelpers provides common utilities for testing the chat server.
//
// It holds clients for both control channel transports, a recording Sender
// for driving the dispatcher without sockets, and small HTTP assertions, so
// test files do not each grow their own copies.
package testhelpers

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultOrigin is the origin test WebSocket clients present.
const DefaultOrigin = "http://localhost:8080"

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "make request")
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	require.Equal(t, expected, resp.StatusCode, "status code")
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	require.Equal(t, expected, resp.Header.Get("Content-Type"), "content type")
}

// ConnectWebSocket creates a WebSocket connection to the specified URL,
// presenting origin. The connection is closed when the test ends.
func ConnectWebSocket(t *testing.T, url, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

// SendCommand writes one command as a text frame.
func SendCommand(t *testing.T, conn *websocket.Conn, line string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(line)))
}

// ReceiveText reads the next text frame, failing the test after timeout.
func ReceiveText(t *testing.T, conn *websocket.Conn, timeout time.Duration) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "read websocket frame")
	return string(data)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// UDPClient speaks the datagram control channel.
type UDPClient struct {
	t    *testing.T
	conn *net.UDPConn
}

// DialUDP opens a client socket connected to addr.
func DialUDP(t *testing.T, addr string) *UDPClient {
	t.Helper()

	raddr, err := net.ResolveUDPAddr("udp", addr)
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, raddr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &UDPClient{t: t, conn: conn}
}

// LocalAddr returns the client's own address, as the server sees it.
func (c *UDPClient) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// Send writes line as one datagram.
func (c *UDPClient) Send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line))
	require.NoError(c.t, err)
}

// Receive reads one datagram, failing the test after timeout.
func (c *UDPClient) Receive(timeout time.Duration) string {
	c.t.Helper()

	buf := make([]byte, 64*1024)
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(timeout)))
	n, err := c.conn.Read(buf)
	require.NoError(c.t, err, "read datagram")
	return string(buf[:n])
}

// Exchange sends line and returns the next datagram.
func (c *UDPClient) Exchange(line string) string {
	c.t.Helper()
	c.Send(line)
	return c.Receive(2 * time.Second)
}

// ExpectSilence fails the test if a datagram arrives within wait.
func (c *UDPClient) ExpectSilence(wait time.Duration) {
	c.t.Helper()

	buf := make([]byte, 64*1024)
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(wait)))
	n, err := c.conn.Read(buf)
	require.Error(c.t, err, "unexpected datagram %q", string(buf[:n]))
}

// RecordingSender stores every payload sent to an endpoint. Endpoints
// marked with Fail reject sends with a transport error.
type RecordingSender struct {
	mu      sync.Mutex
	sent    map[domain.Endpoint][]string
	failing map[domain.Endpoint]bool
}

// NewRecordingSender returns an empty RecordingSender.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{
		sent:    make(map[domain.Endpoint][]string),
		failing: make(map[domain.Endpoint]bool),
	}
}

// Send records payload for ep.
func (s *RecordingSender) Send(ep domain.Endpoint, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing[ep] {
		return fmt.Errorf("%w: %s unreachable", domain.ErrTransport, ep)
	}
	s.sent[ep] = append(s.sent[ep], string(payload))
	return nil
}

// Fail makes every later send to ep fail.
func (s *RecordingSender) Fail(ep domain.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[ep] = true
}

// Messages returns the payloads recorded for ep.
func (s *RecordingSender) Messages(ep domain.Endpoint) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent[ep]...)
}

// Total returns the number of payloads recorded across all endpoints.
func (s *RecordingSender) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msgs := range s.sent {
		n += len(msgs)
	}
	return n
}

// Reset forgets everything recorded so far.
func (s *RecordingSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = make(map[domain.Endpoint][]string)
}

// Lines splits a multi-line reply.
func Lines(reply string) []string {
	return strings.Split(reply, "\n")
}
