package server

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
	"github.com/Tyrowin/gochat-rooms/internal/registry"
	"github.com/Tyrowin/gochat-rooms/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRendezvous = "127.0.0.1:4042"

func newTestDispatcher(t *testing.T) (*Dispatcher, *registry.Registry, *testhelpers.RecordingSender) {
	t.Helper()

	var n atomic.Int64
	reg := registry.New(registry.Options{
		MaxRooms: 20,
		NewToken: func() string { return fmt.Sprintf("token-%d", n.Add(1)) },
	})
	sender := testhelpers.NewRecordingSender()
	d := NewDispatcher(reg, sender, DispatcherOptions{QueueSize: 8, Rendezvous: testRendezvous}, nil)
	return d, reg, sender
}

func udpEndpoint(port int) domain.Endpoint {
	return domain.NewEndpoint(SchemeUDP, fmt.Sprintf("127.0.0.1:%d", port))
}

func assertCode(t *testing.T, reply, code string) {
	t.Helper()
	assert.True(t, strings.HasPrefix(reply, "ERR "+code+" "), "reply %q should carry code %s", reply, code)
}

func TestLoginRegistersThenAuthenticates(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)
	alice := udpEndpoint(5001)

	assert.Equal(t, "OK login alice token-1 registered", d.Handle(alice, "login alice p1"))
	assert.Equal(t, "OK login alice token-2 authenticated", d.Handle(alice, "@login alice p1"))
}

func TestScenarioBadSecretKeepsOriginal(t *testing.T) {
	t.Parallel()

	d, reg, _ := newTestDispatcher(t)
	alice := udpEndpoint(5001)

	d.Handle(alice, "login alice p1")
	assertCode(t, d.Handle(udpEndpoint(5002), "login alice p2"), "bad_secret")
	assert.True(t, reg.Verify("alice", "p1"))
	assert.False(t, reg.Verify("alice", "p2"))

	sess, ok := reg.Resolve(alice)
	require.True(t, ok, "failed login must not disturb the live session")
	assert.Equal(t, "alice", sess.Name)
}

func TestScenarioRoomCapacity(t *testing.T) {
	t.Parallel()

	d, reg, _ := newTestDispatcher(t)
	alice, bob, carol := udpEndpoint(5001), udpEndpoint(5002), udpEndpoint(5003)
	d.Handle(alice, "login alice p1")
	d.Handle(bob, "login bob p2")
	d.Handle(carol, "login carol p3")

	assert.Equal(t, "OK createroom general 2", d.Handle(alice, "createroom general 2"))
	assert.Equal(t, "OK joinroom general", d.Handle(bob, "joinroom general"))
	assertCode(t, d.Handle(carol, "joinroom general"), "capacity")

	members, err := reg.ListMembers("general")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)
	assert.Equal(t, "OK listrooms 1\ngeneral 2/2", d.Handle(carol, "listrooms"))
}

func TestScenarioMessageToOfflineAccount(t *testing.T) {
	t.Parallel()

	d, _, sender := newTestDispatcher(t)
	alice, bob := udpEndpoint(5001), udpEndpoint(5002)
	d.Handle(bob, "login bob p2")
	d.Handle(bob, "logout")
	d.Handle(alice, "login alice p1")

	assertCode(t, d.Handle(alice, "message &bob hello"), "target_offline")
	assertCode(t, d.Handle(alice, "message &nobody hello"), "not_found")
	assert.Zero(t, sender.Total())
}

func TestScenarioRoomBroadcast(t *testing.T) {
	t.Parallel()

	d, _, sender := newTestDispatcher(t)
	alice, bob, carol := udpEndpoint(5001), udpEndpoint(5002), udpEndpoint(5003)
	d.Handle(alice, "login alice p1")
	d.Handle(bob, "login bob p2")
	d.Handle(carol, "login carol p3")
	d.Handle(alice, "createroom general 5")
	d.Handle(bob, "joinroom general")

	assert.Equal(t, "OK roomsg general 1", d.Handle(alice, "roomsg general hi"))
	assert.Equal(t, []string{"[general] alice: hi"}, sender.Messages(bob))
	assert.Empty(t, sender.Messages(alice))
	assert.Empty(t, sender.Messages(carol))

	assertCode(t, d.Handle(carol, "roomsg general hey"), "not_member")
}

func TestPrivateMessageDelivery(t *testing.T) {
	t.Parallel()

	d, _, sender := newTestDispatcher(t)
	alice, bob := udpEndpoint(5001), udpEndpoint(5002)
	d.Handle(alice, "login alice p1")
	d.Handle(bob, "login bob p2")

	assert.Equal(t, "OK message bob", d.Handle(alice, "message &bob hello  there"))
	assert.Equal(t, []string{"[private] alice: hello  there"}, sender.Messages(bob))

	sender.Fail(bob)
	assertCode(t, d.Handle(alice, "message &bob again"), "transport")
}

func TestRoomBroadcastCountsOnlyDelivered(t *testing.T) {
	t.Parallel()

	d, _, sender := newTestDispatcher(t)
	alice, bob, carol := udpEndpoint(5001), udpEndpoint(5002), udpEndpoint(5003)
	for i, ep := range []domain.Endpoint{alice, bob, carol} {
		d.Handle(ep, fmt.Sprintf("login user%d pw", i))
	}
	d.Handle(alice, "createroom lobby 3")
	d.Handle(bob, "joinroom lobby")
	d.Handle(carol, "joinroom lobby")

	sender.Fail(carol)
	assert.Equal(t, "OK roomsg lobby 1", d.Handle(alice, "roomsg lobby hi all"))
	assert.Equal(t, []string{"[lobby] user0: hi all"}, sender.Messages(bob))
}

func TestAuthGate(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)
	stranger := udpEndpoint(6000)

	gated := []string{
		"logout", "whoami", "message &bob hi", "createroom r 2", "joinroom r",
		"leaveroom r", "listrooms", "listmembers r", "roomsg r hi",
		"upload a.txt", "download a.txt", "shutdown",
	}
	for _, line := range gated {
		t.Run(line, func(t *testing.T) {
			assertCode(t, d.Handle(stranger, line), "not_logged_in")
		})
	}

	assert.Equal(t, "OK pong", d.Handle(stranger, "ping"))
	assert.True(t, strings.HasPrefix(d.Handle(stranger, "help"), "OK help "))
	assert.True(t, strings.HasPrefix(d.Handle(stranger, "credits"), "OK credits "))
}

func TestMalformedCommandsAreRejected(t *testing.T) {
	t.Parallel()

	d, reg, _ := newTestDispatcher(t)
	ep := udpEndpoint(5001)

	for _, line := range []string{"", "frobnicate", "login alice", "login a b c", "message bob hi", "createroom r zero"} {
		reply := d.Handle(ep, line)
		assertCode(t, reply, "validation")
	}
	_, ok := reg.FindByName("alice")
	assert.False(t, ok)
}

func TestSessionMigrationNotifiesPreviousEndpoint(t *testing.T) {
	t.Parallel()

	d, reg, sender := newTestDispatcher(t)
	laptop, phone := udpEndpoint(5001), udpEndpoint(5002)

	d.Handle(laptop, "login alice p1")
	assert.Equal(t, "OK login alice token-2 authenticated", d.Handle(phone, "login alice p1"))
	assert.Equal(t, []string{"NOTICE session moved"}, sender.Messages(laptop))

	_, ok := reg.Resolve(laptop)
	assert.False(t, ok)
	assertCode(t, d.Handle(laptop, "whoami"), "not_logged_in")
}

func TestWhoAmIAndLogout(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)
	ep := udpEndpoint(5001)
	d.Handle(ep, "login alice p1")

	assert.Equal(t, "OK whoami alice -", d.Handle(ep, "whoami"))
	d.Handle(ep, "createroom general 3")
	d.Handle(ep, "createroom random 3")
	assert.Equal(t, "OK whoami alice general,random", d.Handle(ep, "whoami"))
	assert.Equal(t, "OK leaveroom random", d.Handle(ep, "leaveroom random"))
	assertCode(t, d.Handle(ep, "leaveroom random"), "not_member")

	assert.Equal(t, "OK listmembers 1\nalice", d.Handle(ep, "listmembers general"))
	assert.Equal(t, "OK logout", d.Handle(ep, "logout"))
	assertCode(t, d.Handle(ep, "whoami"), "not_logged_in")
}

func TestTransferRendezvous(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)
	ep := udpEndpoint(5001)
	d.Handle(ep, "login alice p1")

	assert.Equal(t, "OK upload notes.txt "+testRendezvous+" token-1", d.Handle(ep, "upload notes.txt"))
	assert.Equal(t, "OK download notes.txt "+testRendezvous+" token-1", d.Handle(ep, "download notes.txt"))
	assertCode(t, d.Handle(ep, "upload ../etc/passwd"), "validation")

	disabled := NewDispatcher(registry.New(registry.Options{}), testhelpers.NewRecordingSender(), DispatcherOptions{}, nil)
	disabled.Handle(ep, "login alice p1")
	assertCode(t, disabled.Handle(ep, "upload notes.txt"), "transport")
}

func TestShutdownRequiresAdmin(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)
	alice, admin := udpEndpoint(5001), udpEndpoint(5002)
	d.Handle(alice, "login alice p1")
	d.Handle(admin, "login admin root")

	assertCode(t, d.Handle(alice, "shutdown"), "forbidden")
	select {
	case <-d.ShutdownRequested():
		t.Fatal("shutdown must not be requested by a regular account")
	default:
	}

	assert.Equal(t, "OK shutdown", d.Handle(admin, "shutdown"))
	assert.Equal(t, "OK shutdown", d.Handle(admin, "shutdown"))
	select {
	case <-d.ShutdownRequested():
	default:
		t.Fatal("admin shutdown should be signalled")
	}
}

func TestRunDeliversRepliesThroughSender(t *testing.T) {
	t.Parallel()

	d, _, sender := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	ep := udpEndpoint(5001)
	require.True(t, d.Submit(Inbound{From: ep, Payload: []byte("ping")}))
	require.Eventually(t, func() bool {
		return len(sender.Messages(ep)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"OK pong"}, sender.Messages(ep))

	cancel()
	<-d.Done()
	assert.False(t, d.Submit(Inbound{From: ep, Payload: []byte("ping")}), "stopped dispatcher accepts nothing")
}

func TestSubmitDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	d, _, _ := newTestDispatcher(t)
	ep := udpEndpoint(5001)
	for range 8 {
		require.True(t, d.Submit(Inbound{From: ep, Payload: []byte("ping")}))
	}
	assert.False(t, d.Submit(Inbound{From: ep, Payload: []byte("ping")}))
}

func TestDisconnectedDropsSession(t *testing.T) {
	t.Parallel()

	d, reg, _ := newTestDispatcher(t)
	ep := domain.NewEndpoint(SchemeWS, "127.0.0.1:7000#1")
	d.Handle(ep, "login alice p1")
	require.Equal(t, 1, reg.SessionCount())

	d.Disconnected(ep)
	assert.Zero(t, reg.SessionCount())
	d.Disconnected(ep)
}

func TestNamesStayUniqueUnderRepeatedCommands(t *testing.T) {
	t.Parallel()

	d, reg, _ := newTestDispatcher(t)
	for i := range 20 {
		ep := udpEndpoint(5000 + i%4)
		d.Handle(ep, fmt.Sprintf("login user%d pw", i%3))
		d.Handle(ep, fmt.Sprintf("createroom room%d 2", i%5))
		d.Handle(ep, fmt.Sprintf("joinroom room%d", (i+1)%5))
	}

	st := reg.Snapshot()
	assert.Len(t, st.Accounts, 3)
	assert.Len(t, st.Rooms, 5)
	require.NoError(t, reg.CheckConsistency())
}
