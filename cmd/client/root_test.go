package main

import (
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every datagram with "echo: <payload>" and records what
// it received.
func echoServer(t *testing.T) (string, <-chan string) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	received := make(chan string, 16)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			received <- string(buf[:n])
			_, _ = conn.WriteTo([]byte("echo: "+string(buf[:n])), addr)
		}
	}()
	return conn.LocalAddr().String(), received
}

func executeCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd(strings.NewReader(stdin))
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestClientSendsLinesAndPrintsReplies(t *testing.T) {
	t.Parallel()

	addr, received := echoServer(t)
	stdout, err := executeCLI(t, "ping\n\nlistrooms\n", addr, "--name", "alice", "--secret", "p1", "--linger", "300ms")
	require.NoError(t, err)

	assert.Equal(t, "login alice p1", <-received)
	assert.Equal(t, "ping", <-received)
	assert.Equal(t, "listrooms", <-received)
	assert.Equal(t, "echo: login alice p1\necho: ping\necho: listrooms\n", stdout)
}

func TestClientRequiresNameAndSecretTogether(t *testing.T) {
	t.Parallel()

	_, err := executeCLI(t, "", "127.0.0.1:4041", "--name", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--name and --secret")
}

func TestClientRequiresServerAddress(t *testing.T) {
	t.Parallel()

	_, err := executeCLI(t, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
