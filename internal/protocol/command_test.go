package protocol

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidCommands(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		line string
		want Command
	}{
		{name: "login", line: "login alice p1", want: Command{Keyword: Login, Name: "alice", Secret: "p1"}},
		{name: "legacy at prefix", line: "@login alice p1\r\n", want: Command{Keyword: Login, Name: "alice", Secret: "p1"}},
		{name: "keyword case", line: "LOGIN alice p1", want: Command{Keyword: Login, Name: "alice", Secret: "p1"}},
		{name: "secret with colon", line: "login alice a:b", want: Command{Keyword: Login, Name: "alice", Secret: "a:b"}},
		{name: "message", line: "message &bob hello there", want: Command{Keyword: Message, Recipient: "bob", Body: "hello there"}},
		{name: "message keeps inner spacing", line: "message\t&bob  a  b", want: Command{Keyword: Message, Recipient: "bob", Body: "a  b"}},
		{name: "createroom", line: "createroom general 2", want: Command{Keyword: CreateRoom, Name: "general", Capacity: 2}},
		{name: "joinroom", line: "joinroom general", want: Command{Keyword: JoinRoom, Name: "general"}},
		{name: "leaveroom", line: "  leaveroom   general  ", want: Command{Keyword: LeaveRoom, Name: "general"}},
		{name: "listrooms", line: "listrooms", want: Command{Keyword: ListRooms}},
		{name: "listmembers", line: "listmembers general", want: Command{Keyword: ListMembers, Name: "general"}},
		{name: "roomsg", line: "roomsg general hi all", want: Command{Keyword: RoomMsg, Name: "general", Body: "hi all"}},
		{name: "upload", line: "upload notes.txt", want: Command{Keyword: Upload, Filename: "notes.txt"}},
		{name: "download", line: "download notes.txt", want: Command{Keyword: Download, Filename: "notes.txt"}},
		{name: "ping", line: "ping", want: Command{Keyword: Ping}},
		{name: "shutdown", line: "shutdown", want: Command{Keyword: Shutdown}},
		{name: "whoami", line: "whoami", want: Command{Keyword: WhoAmI}},
		{name: "logout", line: "logout", want: Command{Keyword: Logout}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.line)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRejectsMalformedCommands(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		line    string
		wantErr string
	}{
		{name: "empty", line: "", wantErr: "empty command"},
		{name: "blank", line: " \t ", wantErr: "empty command"},
		{name: "unknown", line: "dance now", wantErr: "unknown command"},
		{name: "lone at", line: "@", wantErr: "unknown command"},
		{name: "login missing secret", line: "login alice", wantErr: "usage: login <name> <secret>"},
		{name: "login extra field", line: "login alice p1 extra", wantErr: "too many arguments"},
		{name: "login bad name", line: "login al:ice p1", wantErr: "invalid name"},
		{name: "message without ampersand", line: "message bob hi", wantErr: "recipient must start with"},
		{name: "message lone ampersand", line: "message & hi", wantErr: "invalid recipient"},
		{name: "message without body", line: "message &bob", wantErr: "missing text"},
		{name: "message without recipient", line: "message", wantErr: "missing recipient"},
		{name: "createroom zero", line: "createroom general 0", wantErr: "positive integer"},
		{name: "createroom text capacity", line: "createroom general many", wantErr: "positive integer"},
		{name: "createroom missing capacity", line: "createroom general", wantErr: "missing argument"},
		{name: "joinroom missing", line: "joinroom", wantErr: "usage: joinroom <room>"},
		{name: "roomsg missing body", line: "roomsg general", wantErr: "missing text"},
		{name: "roomsg comma room", line: "roomsg a,b hi", wantErr: "invalid room name"},
		{name: "listrooms args", line: "listrooms now", wantErr: "too many arguments"},
		{name: "upload traversal", line: "upload ..", wantErr: "invalid filename"},
		{name: "download path", line: "download ../etc/passwd", wantErr: "invalid filename"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.line)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrValidation))
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestAuthExempt(t *testing.T) {
	t.Parallel()

	exempt := map[Keyword]bool{Login: true, Ping: true, Help: true, Credits: true}
	for _, kw := range Keywords {
		assert.Equal(t, exempt[kw], AuthExempt(kw), string(kw))
	}
}

func TestReplies(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "OK ping", OK(Ping))
	assert.Equal(t, "OK roomsg general 1", OK(RoomMsg, "general", "1"))
	assert.Equal(t, "OK listrooms 2\ngeneral 1/2\nrandom 0/5", OKList(ListRooms, []string{
		RoomListItem("general", 1, 2),
		RoomListItem("random", 0, 5),
	}))
	assert.Equal(t, "[general] alice: hi", RoomLine("general", "alice", "hi"))
	assert.Equal(t, "[private] alice: hello", PrivateLine("alice", "hello"))
	assert.Equal(t, "ERR target_offline bob: auth error: target offline", Error(errTargetOffline("bob")))
}

func errTargetOffline(name string) error {
	return fmt.Errorf("%s: %w", name, domain.ErrTargetOffline)
}

func TestHelpListsEveryCommand(t *testing.T) {
	t.Parallel()

	help := HelpText()
	lines := strings.Split(help, "\n")
	require.Len(t, lines, len(Keywords)+1)
	for _, kw := range Keywords {
		assert.Contains(t, help, Usage(kw))
	}
	assert.Contains(t, help, "shutdown  (login required) (admin only)")
}
