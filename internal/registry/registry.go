// Package registry tracks accounts, live sessions and chat room membership.
//
// A Registry is the single owner of that state. Every exported method takes
// the same mutex, so the command dispatcher and the file-transfer workers
// always observe one consistent view of who is logged in.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
	"github.com/google/uuid"
)

// Options configures a Registry. Zero limits mean unbounded.
type Options struct {
	MaxAccounts int
	MaxRooms    int
	NewToken    func() string
	Now         func() time.Time
}

// Session describes the live binding of an account to an endpoint.
type Session struct {
	AccountID domain.AccountID
	Name      string
	Endpoint  domain.Endpoint
	Token     string
	Since     time.Time
}

// LoginResult reports the outcome of a successful login.
type LoginResult struct {
	Session
	Registered bool
	// Displaced is the endpoint the account was bound to before this login,
	// empty when there was none or it was the same endpoint.
	Displaced domain.Endpoint
}

// AccountInfo is a read-only view of an account.
type AccountInfo struct {
	ID   domain.AccountID
	Name string
}

// RoomInfo is one row of the room listing.
type RoomInfo struct {
	ID       domain.RoomID
	Name     string
	Members  int
	Capacity int
}

// Registry is the aggregate of the account directory, the session table and
// the room registry.
type Registry struct {
	mu       sync.Mutex
	accounts *accountDirectory
	sessions *sessionTable
	rooms    *roomRegistry
}

// New returns an empty Registry.
func New(opts Options) *Registry {
	if opts.NewToken == nil {
		opts.NewToken = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		accounts: newAccountDirectory(opts.MaxAccounts),
		sessions: newSessionTable(opts.NewToken, opts.Now),
		rooms:    newRoomRegistry(opts.MaxRooms),
	}
}

// FindByName looks up an account by exact, case-sensitive name.
func (r *Registry) FindByName(name string) (AccountInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts.findByName(name)
	if !ok {
		return AccountInfo{}, false
	}
	return AccountInfo{ID: a.id, Name: a.name}, true
}

// Register creates a new account. It fails with ErrConflict when the name
// is taken.
func (r *Registry) Register(name, secret string) (AccountInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.accounts.register(name, secret)
	if err != nil {
		return AccountInfo{}, err
	}
	return AccountInfo{ID: a.id, Name: a.name}, nil
}

// Verify reports whether name exists and secret matches it exactly.
func (r *Registry) Verify(name, secret string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.accounts.verify(name, secret)
}

// Login registers name on first use or checks secret against the stored
// one, then binds the account to ep. Any earlier session of the account is
// replaced. A wrong secret fails with ErrBadSecret and changes nothing.
func (r *Registry) Login(ep domain.Endpoint, name, secret string) (LoginResult, error) {
	if err := ep.Validate(); err != nil {
		return LoginResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := false
	a, ok := r.accounts.findByName(name)
	if ok {
		if !r.accounts.verify(name, secret) {
			return LoginResult{}, fmt.Errorf("login %s: %w", name, domain.ErrBadSecret)
		}
	} else {
		var err error
		a, err = r.accounts.register(name, secret)
		if err != nil {
			return LoginResult{}, err
		}
		registered = true
	}

	s, displaced := r.sessions.bind(a.id, ep)
	return LoginResult{
		Session:    r.sessionView(s),
		Registered: registered,
		Displaced:  displaced,
	}, nil
}

// Resolve returns the session bound to ep.
func (r *Registry) Resolve(ep domain.Endpoint) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.resolve(ep)
	if !ok {
		return Session{}, false
	}
	return r.sessionView(s), true
}

// ResolveToken returns the session that was issued token.
func (r *Registry) ResolveToken(token string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.byTokenValue(token)
	if !ok {
		return Session{}, false
	}
	return r.sessionView(s), true
}

// WhoIs returns the current endpoint of an account.
func (r *Registry) WhoIs(id domain.AccountID) (domain.Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessions.whoIs(id)
}

// Logout removes the session bound to ep. It reports whether one existed.
func (r *Registry) Logout(ep domain.Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions.drop(ep)
	return ok
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessions.count()
}

// DirectRecipient resolves a private-message target by name against the
// current session table.
func (r *Registry) DirectRecipient(name string) (domain.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts.findByName(name)
	if !ok {
		return "", fmt.Errorf("%w: no account named %q", domain.ErrNotFound, name)
	}
	ep, ok := r.sessions.whoIs(a.id)
	if !ok {
		return "", fmt.Errorf("%s: %w", name, domain.ErrTargetOffline)
	}
	return ep, nil
}

// CreateRoom creates a room and joins creator to it.
func (r *Registry) CreateRoom(name string, capacity int, creator domain.AccountID) (domain.RoomID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts.find(creator)
	if !ok {
		return 0, fmt.Errorf("%w: account %d", domain.ErrNotFound, creator)
	}
	room, err := r.rooms.create(name, capacity, a)
	if err != nil {
		return 0, err
	}
	return room.id, nil
}

// JoinRoom adds the account to the named room.
func (r *Registry) JoinRoom(name string, id domain.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, a, err := r.roomAndAccount(name, id)
	if err != nil {
		return err
	}
	return r.rooms.join(room, a)
}

// LeaveRoom removes the account from the named room.
func (r *Registry) LeaveRoom(name string, id domain.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, a, err := r.roomAndAccount(name, id)
	if err != nil {
		return err
	}
	return r.rooms.leave(room, a)
}

// ListRooms returns every room in creation order.
func (r *Registry) ListRooms() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomInfo, 0, len(r.rooms.rooms))
	for _, room := range r.rooms.rooms {
		out = append(out, RoomInfo{
			ID:       room.id,
			Name:     room.name,
			Members:  len(room.members),
			Capacity: room.capacity,
		})
	}
	return out
}

// ListMembers returns the account names of a room in join order.
func (r *Registry) ListMembers(name string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms.find(name)
	if !ok {
		return nil, fmt.Errorf("%w: no room named %q", domain.ErrNotFound, name)
	}
	return r.memberNames(room), nil
}

// JoinedRooms returns the names of the rooms the account belongs to, in
// room creation order.
func (r *Registry) JoinedRooms(id domain.AccountID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts.find(id)
	if !ok {
		return nil
	}
	var names []string
	for _, room := range r.rooms.rooms {
		if _, joined := a.rooms[room.id]; joined {
			names = append(names, room.name)
		}
	}
	return names
}

// RoomRecipients returns the current endpoints of the room's members that
// should receive a broadcast from sender. The sender must be a member.
// Members without a session are skipped, and so is any member whose
// endpoint is the sender's own endpoint.
func (r *Registry) RoomRecipients(name string, sender domain.AccountID) ([]domain.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, a, err := r.roomAndAccount(name, sender)
	if err != nil {
		return nil, err
	}
	if !room.isMember(a.id) {
		return nil, fmt.Errorf("%w: %s is not in %s", domain.ErrNotMember, a.name, room.name)
	}

	senderEndpoint, _ := r.sessions.whoIs(sender)
	recipients := make([]domain.Endpoint, 0, len(room.members))
	for _, member := range room.members {
		ep, online := r.sessions.whoIs(member)
		if !online || ep == senderEndpoint {
			continue
		}
		recipients = append(recipients, ep)
	}
	return recipients, nil
}

func (r *Registry) roomAndAccount(name string, id domain.AccountID) (*room, *account, error) {
	room, ok := r.rooms.find(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no room named %q", domain.ErrNotFound, name)
	}
	a, ok := r.accounts.find(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: account %d", domain.ErrNotFound, id)
	}
	return room, a, nil
}

func (r *Registry) memberNames(room *room) []string {
	names := make([]string, 0, len(room.members))
	for _, id := range room.members {
		if a, ok := r.accounts.find(id); ok {
			names = append(names, a.name)
		}
	}
	return names
}

func (r *Registry) sessionView(s *session) Session {
	name := ""
	if a, ok := r.accounts.find(s.account); ok {
		name = a.name
	}
	return Session{
		AccountID: s.account,
		Name:      name,
		Endpoint:  s.endpoint,
		Token:     s.token,
		Since:     s.since,
	}
}
