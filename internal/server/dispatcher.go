package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
	"github.com/Tyrowin/gochat-rooms/internal/protocol"
	"github.com/Tyrowin/gochat-rooms/internal/registry"
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// QueueSize bounds the inbound queue. Commands arriving while it is full
	// are dropped.
	QueueSize int
	// Rendezvous is the host:port clients dial for file transfers. Empty
	// disables upload and download.
	Rendezvous string
}

// Dispatcher executes commands against the registry one at a time, in the
// order transports submit them, and routes replies and forwards through a
// Sender.
type Dispatcher struct {
	reg        *registry.Registry
	out        Sender
	logger     *slog.Logger
	rendezvous string

	inbound  chan Inbound
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher returns a Dispatcher. Call Run to start processing.
func NewDispatcher(reg *registry.Registry, out Sender, opts DispatcherOptions, logger *slog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultConfig().QueueSize
	}
	return &Dispatcher{
		reg:        reg,
		out:        out,
		logger:     orDiscard(logger).With("component", "dispatcher"),
		rendezvous: opts.Rendezvous,
		inbound:    make(chan Inbound, opts.QueueSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Submit queues a command without blocking. It reports false when the
// command was dropped.
func (d *Dispatcher) Submit(in Inbound) bool {
	select {
	case <-d.done:
		return false
	default:
	}

	select {
	case d.inbound <- in:
		return true
	default:
		d.logger.Warn("inbound queue full, dropping command", "from", in.From.String())
		return false
	}
}

// Disconnected drops the session bound to ep, if any.
func (d *Dispatcher) Disconnected(ep domain.Endpoint) {
	if d.reg.Logout(ep) {
		d.logger.Info("session dropped on disconnect", "endpoint", ep.String())
	}
}

// ShutdownRequested is closed once an admin shutdown command is accepted.
func (d *Dispatcher) ShutdownRequested() <-chan struct{} {
	return d.stop
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Run processes queued commands until ctx is cancelled. A command that has
// been dequeued always runs to completion.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			if n := len(d.inbound); n > 0 {
				d.logger.Info("dispatcher stopping with queued commands", "dropped", n)
			}
			return
		case in := <-d.inbound:
			d.process(in)
		}
	}
}

func (d *Dispatcher) process(in Inbound) {
	reply := d.Handle(in.From, string(in.Payload))
	if reply == "" {
		return
	}
	if err := d.deliver(in.From, reply); errors.Is(err, domain.ErrReplyTooLarge) {
		_ = d.deliver(in.From, protocol.Error(domain.ErrReplyTooLarge))
	}
}

func (d *Dispatcher) deliver(ep domain.Endpoint, text string) error {
	if err := d.out.Send(ep, []byte(text)); err != nil {
		d.logger.Warn("send failed", "to", ep.String(), "error", err)
		return err
	}
	return nil
}

// Handle executes one command line received from ep and returns the reply
// for ep. Forwards to other endpoints are sent before Handle returns.
func (d *Dispatcher) Handle(from domain.Endpoint, line string) string {
	cmd, err := protocol.Parse(line)
	if err != nil {
		return d.reject(from, "", err)
	}
	d.logger.Debug("command received", "from", from.String(), "keyword", string(cmd.Keyword))

	switch cmd.Keyword {
	case protocol.Login:
		return d.login(from, cmd)
	case protocol.Ping:
		return protocol.Pong()
	case protocol.Help:
		return protocol.HelpText()
	case protocol.Credits:
		return protocol.CreditsText()
	}

	sess, ok := d.reg.Resolve(from)
	if !ok {
		return d.reject(from, cmd.Keyword, fmt.Errorf("%s: %w", cmd.Keyword, domain.ErrNotLoggedIn))
	}

	var reply string
	switch cmd.Keyword {
	case protocol.Logout:
		reply, err = d.logout(from)
	case protocol.WhoAmI:
		reply = d.whoAmI(sess)
	case protocol.Message:
		reply, err = d.message(sess, cmd)
	case protocol.CreateRoom:
		reply, err = d.createRoom(sess, cmd)
	case protocol.JoinRoom:
		err = d.reg.JoinRoom(cmd.Name, sess.AccountID)
		reply = protocol.OK(protocol.JoinRoom, cmd.Name)
	case protocol.LeaveRoom:
		err = d.reg.LeaveRoom(cmd.Name, sess.AccountID)
		reply = protocol.OK(protocol.LeaveRoom, cmd.Name)
	case protocol.ListRooms:
		reply = d.listRooms()
	case protocol.ListMembers:
		reply, err = d.listMembers(cmd)
	case protocol.RoomMsg:
		reply, err = d.roomMessage(sess, cmd)
	case protocol.Upload, protocol.Download:
		reply, err = d.transfer(sess, cmd)
	case protocol.Shutdown:
		reply, err = d.shutdown(sess)
	default:
		err = fmt.Errorf("%w: unsupported command %q", domain.ErrValidation, cmd.Keyword)
	}
	if err != nil {
		return d.reject(from, cmd.Keyword, err)
	}
	return reply
}

func (d *Dispatcher) reject(from domain.Endpoint, kw protocol.Keyword, err error) string {
	d.logger.Info("command rejected",
		"from", from.String(),
		"keyword", string(kw),
		"code", domain.Code(err),
		"error", err,
	)
	return protocol.Error(err)
}

func (d *Dispatcher) login(from domain.Endpoint, cmd protocol.Command) string {
	res, err := d.reg.Login(from, cmd.Name, cmd.Secret)
	if err != nil {
		return d.reject(from, cmd.Keyword, err)
	}

	outcome := "authenticated"
	if res.Registered {
		outcome = "registered"
	}
	d.logger.Info("login", "account", res.Name, "endpoint", from.String(), "outcome", outcome)

	if res.Displaced != "" {
		d.logger.Info("session moved", "account", res.Name, "from", res.Displaced.String(), "to", from.String())
		_ = d.deliver(res.Displaced, protocol.Notice("session moved"))
	}
	return protocol.OK(protocol.Login, res.Name, res.Token, outcome)
}

func (d *Dispatcher) logout(from domain.Endpoint) (string, error) {
	if !d.reg.Logout(from) {
		return "", fmt.Errorf("logout: %w", domain.ErrNotLoggedIn)
	}
	return protocol.OK(protocol.Logout), nil
}

func (d *Dispatcher) whoAmI(sess registry.Session) string {
	rooms := d.reg.JoinedRooms(sess.AccountID)
	joined := "-"
	if len(rooms) > 0 {
		joined = strings.Join(rooms, ",")
	}
	return protocol.OK(protocol.WhoAmI, sess.Name, joined)
}

func (d *Dispatcher) message(sess registry.Session, cmd protocol.Command) (string, error) {
	ep, err := d.reg.DirectRecipient(cmd.Recipient)
	if err != nil {
		return "", err
	}
	if err := d.deliver(ep, protocol.PrivateLine(sess.Name, cmd.Body)); err != nil {
		return "", fmt.Errorf("deliver to %s: %w", cmd.Recipient, err)
	}
	return protocol.OK(protocol.Message, cmd.Recipient), nil
}

func (d *Dispatcher) createRoom(sess registry.Session, cmd protocol.Command) (string, error) {
	id, err := d.reg.CreateRoom(cmd.Name, cmd.Capacity, sess.AccountID)
	if err != nil {
		return "", err
	}
	d.logger.Info("room created", "room", cmd.Name, "id", int(id), "capacity", cmd.Capacity, "by", sess.Name)
	return protocol.OK(protocol.CreateRoom, cmd.Name, strconv.Itoa(cmd.Capacity)), nil
}

func (d *Dispatcher) listRooms() string {
	rooms := d.reg.ListRooms()
	items := make([]string, 0, len(rooms))
	for _, r := range rooms {
		items = append(items, protocol.RoomListItem(r.Name, r.Members, r.Capacity))
	}
	return protocol.OKList(protocol.ListRooms, items)
}

func (d *Dispatcher) listMembers(cmd protocol.Command) (string, error) {
	members, err := d.reg.ListMembers(cmd.Name)
	if err != nil {
		return "", err
	}
	return protocol.OKList(protocol.ListMembers, members), nil
}

func (d *Dispatcher) roomMessage(sess registry.Session, cmd protocol.Command) (string, error) {
	recipients, err := d.reg.RoomRecipients(cmd.Name, sess.AccountID)
	if err != nil {
		return "", err
	}

	line := protocol.RoomLine(cmd.Name, sess.Name, cmd.Body)
	delivered := 0
	for _, ep := range recipients {
		if d.deliver(ep, line) == nil {
			delivered++
		}
	}
	if delivered < len(recipients) {
		d.logger.Info("room broadcast partially delivered", "room", cmd.Name, "delivered", delivered, "recipients", len(recipients))
	}
	return protocol.OK(protocol.RoomMsg, cmd.Name, strconv.Itoa(delivered)), nil
}

func (d *Dispatcher) transfer(sess registry.Session, cmd protocol.Command) (string, error) {
	if d.rendezvous == "" {
		return "", fmt.Errorf("%w: file transfer is not available", domain.ErrTransport)
	}
	return protocol.OK(cmd.Keyword, cmd.Filename, d.rendezvous, sess.Token), nil
}

func (d *Dispatcher) shutdown(sess registry.Session) (string, error) {
	if sess.Name != domain.AdminName {
		return "", fmt.Errorf("shutdown by %s: %w", sess.Name, domain.ErrForbidden)
	}
	d.logger.Info("shutdown requested", "by", sess.Name, "endpoint", sess.Endpoint.String())
	d.stopOnce.Do(func() { close(d.stop) })
	return protocol.OK(protocol.Shutdown), nil
}
