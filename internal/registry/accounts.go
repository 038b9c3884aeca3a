package registry

import (
	"fmt"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
)

type account struct {
	id    domain.AccountID
	name  string
	rooms map[domain.RoomID]struct{}
}

// accountDirectory is the canonical set of accounts. The accounts slice is
// kept in id order and is the source of truth; byName and byID are indexes
// into it.
type accountDirectory struct {
	accounts []*account
	byName   map[string]*account
	byID     map[domain.AccountID]*account
	creds    *credentialStore
	nextID   domain.AccountID
	limit    int
}

func newAccountDirectory(limit int) *accountDirectory {
	return &accountDirectory{
		byName: make(map[string]*account),
		byID:   make(map[domain.AccountID]*account),
		creds:  newCredentialStore(),
		nextID: 1,
		limit:  limit,
	}
}

func (d *accountDirectory) findByName(name string) (*account, bool) {
	a, ok := d.byName[name]
	return a, ok
}

func (d *accountDirectory) find(id domain.AccountID) (*account, bool) {
	a, ok := d.byID[id]
	return a, ok
}

// register allocates the next id for name. It fails if the name is taken or
// the directory is at its configured limit.
func (d *accountDirectory) register(name, secret string) (*account, error) {
	if !domain.ValidName(name) {
		return nil, fmt.Errorf("%w: invalid account name %q", domain.ErrValidation, name)
	}
	if !domain.ValidSecret(secret) {
		return nil, fmt.Errorf("%w: invalid secret", domain.ErrValidation)
	}
	if _, exists := d.byName[name]; exists {
		return nil, fmt.Errorf("%w: account %q already exists", domain.ErrConflict, name)
	}
	if d.limit > 0 && len(d.accounts) >= d.limit {
		return nil, fmt.Errorf("%w: account table full (%d)", domain.ErrCapacity, d.limit)
	}

	a := d.insert(d.nextID, name, secret)
	return a, nil
}

// insert adds an account with an explicit id. Callers have already checked
// that neither the id nor the name is in use.
func (d *accountDirectory) insert(id domain.AccountID, name, secret string) *account {
	a := &account{id: id, name: name, rooms: make(map[domain.RoomID]struct{})}
	d.accounts = append(d.accounts, a)
	d.byName[name] = a
	d.byID[id] = a
	d.creds.put(name, secret)
	if id >= d.nextID {
		d.nextID = id + 1
	}
	return a
}

func (d *accountDirectory) verify(name, secret string) bool {
	return d.creds.match(name, secret)
}

func (d *accountDirectory) secret(name string) string {
	s, _ := d.creds.get(name)
	return s
}

func (d *accountDirectory) reset() {
	d.accounts = nil
	d.byName = make(map[string]*account)
	d.byID = make(map[domain.AccountID]*account)
	d.creds = newCredentialStore()
	d.nextID = 1
}
