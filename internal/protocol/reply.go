package protocol

import (
	"fmt"
	"strings"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
)

// OK formats a success reply for kw.
func OK(kw Keyword, args ...string) string {
	if len(args) == 0 {
		return "OK " + string(kw)
	}
	return "OK " + string(kw) + " " + strings.Join(args, " ")
}

// OKList formats a multi-line success reply: a header with the item count
// followed by one item per line.
func OKList(kw Keyword, items []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OK %s %d", kw, len(items))
	for _, item := range items {
		b.WriteByte('\n')
		b.WriteString(item)
	}
	return b.String()
}

// Error formats an error reply. The second word is the wire code of err.
func Error(err error) string {
	return "ERR " + domain.Code(err) + " " + err.Error()
}

// Notice formats an unsolicited server notice.
func Notice(text string) string {
	return "NOTICE " + text
}

// PrivateLine is what the recipient of a private message receives.
func PrivateLine(sender, body string) string {
	return "[private] " + sender + ": " + body
}

// RoomLine is what room members receive for a broadcast.
func RoomLine(room, sender, body string) string {
	return "[" + room + "] " + sender + ": " + body
}

// RoomListItem formats one row of a listrooms reply.
func RoomListItem(name string, members, capacity int) string {
	return fmt.Sprintf("%s %d/%d", name, members, capacity)
}

// Pong is the reply to ping.
func Pong() string {
	return "OK pong"
}
