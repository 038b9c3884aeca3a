package protocol

import "strings"

const creditsText = "gochat-rooms: presence-aware chat over datagrams, rooms and private messages"

// HelpText returns the help reply listing every command with its usage.
func HelpText() string {
	lines := make([]string, 0, len(Keywords))
	for _, kw := range Keywords {
		line := usages[kw]
		if !AuthExempt(kw) {
			line += "  (login required)"
		}
		if kw == Shutdown {
			line += " (admin only)"
		}
		lines = append(lines, line)
	}
	return OKList(Help, lines)
}

// CreditsText returns the credits reply.
func CreditsText() string {
	return OK(Credits, strings.Fields(creditsText)...)
}
