// Package protocol implements the line-oriented command grammar spoken on
// the control channel, and the text of the replies sent back.
//
// One datagram carries one command:
//
//	command   = ["@"] keyword *( sep field ) [ sep body ]
//	sep       = 1*( " " / "\t" )
//	field     = 1*( any byte except space, tab, CR, LF )
//	body      = the rest of the line, verbatim, non-empty
//
// Keywords are case-insensitive. Only message and roomsg take a body.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
)

// Keyword names a command.
type Keyword string

// Recognised keywords.
const (
	Login       Keyword = "login"
	Logout      Keyword = "logout"
	Message     Keyword = "message"
	CreateRoom  Keyword = "createroom"
	JoinRoom    Keyword = "joinroom"
	LeaveRoom   Keyword = "leaveroom"
	ListRooms   Keyword = "listrooms"
	ListMembers Keyword = "listmembers"
	RoomMsg     Keyword = "roomsg"
	Upload      Keyword = "upload"
	Download    Keyword = "download"
	Ping        Keyword = "ping"
	Help        Keyword = "help"
	Credits     Keyword = "credits"
	WhoAmI      Keyword = "whoami"
	Shutdown    Keyword = "shutdown"
)

// RecipientPrefix marks the target of a private message.
const RecipientPrefix = "&"

// MaxFilenameLength bounds upload and download file names.
const MaxFilenameLength = 255

var usages = map[Keyword]string{
	Login:       "login <name> <secret>",
	Logout:      "logout",
	Message:     "message &<recipient> <text>",
	CreateRoom:  "createroom <room> <capacity>",
	JoinRoom:    "joinroom <room>",
	LeaveRoom:   "leaveroom <room>",
	ListRooms:   "listrooms",
	ListMembers: "listmembers <room>",
	RoomMsg:     "roomsg <room> <text>",
	Upload:      "upload <filename>",
	Download:    "download <filename>",
	Ping:        "ping",
	Help:        "help",
	Credits:     "credits",
	WhoAmI:      "whoami",
	Shutdown:    "shutdown",
}

// Keywords lists every command in the order help shows them.
var Keywords = []Keyword{
	Login, Logout, Message, CreateRoom, JoinRoom, LeaveRoom, ListRooms,
	ListMembers, RoomMsg, Upload, Download, WhoAmI, Ping, Help, Credits, Shutdown,
}

// Usage returns the usage line of kw.
func Usage(kw Keyword) string {
	return usages[kw]
}

// AuthExempt reports whether kw may be used before logging in.
func AuthExempt(kw Keyword) bool {
	switch kw {
	case Login, Ping, Help, Credits:
		return true
	default:
		return false
	}
}

// Command is a parsed command. Only the fields its keyword uses are set.
type Command struct {
	Keyword   Keyword
	Name      string // account name for login, room name for room commands
	Secret    string
	Recipient string
	Body      string
	Capacity  int
	Filename  string
}

// Parse reads one command line. Every syntax problem is reported as a
// domain.ErrValidation carrying the usage of the command when it is known.
func Parse(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	fields, _ := splitFields(line, 1)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty command (try: help)", domain.ErrValidation)
	}

	kw := Keyword(strings.ToLower(strings.TrimPrefix(fields[0], "@")))
	if _, known := usages[kw]; !known {
		return Command{}, fmt.Errorf("%w: unknown command %q (try: help)", domain.ErrValidation, fields[0])
	}
	_, args := splitFields(line, 1)

	cmd := Command{Keyword: kw}
	var err error
	switch kw {
	case Login:
		err = cmd.parseLogin(args)
	case Message:
		err = cmd.parseMessage(args)
	case CreateRoom:
		err = cmd.parseCreateRoom(args)
	case JoinRoom, LeaveRoom, ListMembers:
		err = cmd.parseRoomName(args)
	case RoomMsg:
		err = cmd.parseRoomMsg(args)
	case Upload, Download:
		err = cmd.parseFilename(args)
	default:
		err = expectFields(kw, args, 0)
	}
	if err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func (c *Command) parseLogin(args string) error {
	fields, err := fixedFields(Login, args, 2)
	if err != nil {
		return err
	}
	if !domain.ValidName(fields[0]) {
		return invalidf(Login, "invalid name %q", fields[0])
	}
	if !domain.ValidSecret(fields[1]) {
		return invalidf(Login, "invalid secret")
	}
	c.Name, c.Secret = fields[0], fields[1]
	return nil
}

func (c *Command) parseMessage(args string) error {
	fields, body := splitFields(args, 1)
	if len(fields) == 0 {
		return invalidf(Message, "missing recipient")
	}
	recipient, ok := strings.CutPrefix(fields[0], RecipientPrefix)
	if !ok {
		return invalidf(Message, "recipient must start with %q", RecipientPrefix)
	}
	if !domain.ValidName(recipient) {
		return invalidf(Message, "invalid recipient %q", recipient)
	}
	if body == "" {
		return invalidf(Message, "missing text")
	}
	c.Recipient, c.Body = recipient, body
	return nil
}

func (c *Command) parseCreateRoom(args string) error {
	fields, err := fixedFields(CreateRoom, args, 2)
	if err != nil {
		return err
	}
	if !domain.ValidName(fields[0]) {
		return invalidf(CreateRoom, "invalid room name %q", fields[0])
	}
	capacity, convErr := strconv.Atoi(fields[1])
	if convErr != nil || capacity < 1 {
		return invalidf(CreateRoom, "capacity must be a positive integer, got %q", fields[1])
	}
	c.Name, c.Capacity = fields[0], capacity
	return nil
}

func (c *Command) parseRoomName(args string) error {
	fields, err := fixedFields(c.Keyword, args, 1)
	if err != nil {
		return err
	}
	if !domain.ValidName(fields[0]) {
		return invalidf(c.Keyword, "invalid room name %q", fields[0])
	}
	c.Name = fields[0]
	return nil
}

func (c *Command) parseRoomMsg(args string) error {
	fields, body := splitFields(args, 1)
	if len(fields) == 0 {
		return invalidf(RoomMsg, "missing room")
	}
	if !domain.ValidName(fields[0]) {
		return invalidf(RoomMsg, "invalid room name %q", fields[0])
	}
	if body == "" {
		return invalidf(RoomMsg, "missing text")
	}
	c.Name, c.Body = fields[0], body
	return nil
}

func (c *Command) parseFilename(args string) error {
	fields, err := fixedFields(c.Keyword, args, 1)
	if err != nil {
		return err
	}
	if !ValidFilename(fields[0]) {
		return invalidf(c.Keyword, "invalid filename %q", fields[0])
	}
	c.Filename = fields[0]
	return nil
}

// ValidFilename reports whether name is a plain file name: no directory
// separators, not "." or "..", no control characters.
func ValidFilename(name string) bool {
	if name == "" || name == "." || name == ".." || len(name) > MaxFilenameLength {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '/' || c == '\\' || c <= ' ' || c == 0x7f {
			return false
		}
	}
	return true
}

func fixedFields(kw Keyword, args string, n int) ([]string, error) {
	fields := strings.FieldsFunc(args, isSep)
	if len(fields) < n {
		return nil, invalidf(kw, "missing argument")
	}
	if len(fields) > n {
		return nil, invalidf(kw, "too many arguments")
	}
	return fields, nil
}

func expectFields(kw Keyword, args string, n int) error {
	_, err := fixedFields(kw, args, n)
	return err
}

// splitFields takes up to n separator-delimited fields from the front of s
// and returns them with the remainder, whose leading separators are gone.
func splitFields(s string, n int) ([]string, string) {
	var fields []string
	rest := strings.TrimLeftFunc(s, isSep)
	for len(fields) < n && rest != "" {
		end := strings.IndexFunc(rest, isSep)
		if end < 0 {
			fields = append(fields, rest)
			rest = ""
			break
		}
		fields = append(fields, rest[:end])
		rest = strings.TrimLeftFunc(rest[end:], isSep)
	}
	return fields, rest
}

func isSep(r rune) bool {
	return r == ' ' || r == '\t'
}

func invalidf(kw Keyword, format string, args ...any) error {
	return fmt.Errorf("%w: %s (usage: %s)", domain.ErrValidation, fmt.Sprintf(format, args...), usages[kw])
}
