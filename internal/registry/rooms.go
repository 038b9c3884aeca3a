package registry

import (
	"fmt"
	"slices"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
)

type room struct {
	id       domain.RoomID
	name     string
	capacity int
	members  []domain.AccountID
	active   bool
}

func (r *room) isMember(id domain.AccountID) bool {
	return slices.Contains(r.members, id)
}

func (r *room) full() bool {
	return len(r.members) >= r.capacity
}

// roomRegistry owns the rooms in creation order plus a name index. Every
// membership change goes through join or leave, which update the room and
// the account's joined set together.
type roomRegistry struct {
	rooms  []*room
	byName map[string]*room
	nextID domain.RoomID
	limit  int
}

func newRoomRegistry(limit int) *roomRegistry {
	return &roomRegistry{
		byName: make(map[string]*room),
		nextID: 1,
		limit:  limit,
	}
}

func (rr *roomRegistry) find(name string) (*room, bool) {
	r, ok := rr.byName[name]
	return r, ok
}

// create adds a room and makes creator its first member. A failure of the
// creator's join does not undo the room.
func (rr *roomRegistry) create(name string, capacity int, creator *account) (*room, error) {
	if !domain.ValidName(name) {
		return nil, fmt.Errorf("%w: invalid room name %q", domain.ErrValidation, name)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("%w: capacity must be at least 1, got %d", domain.ErrValidation, capacity)
	}
	if _, exists := rr.byName[name]; exists {
		return nil, fmt.Errorf("%w: room %q already exists", domain.ErrConflict, name)
	}
	if rr.limit > 0 && len(rr.rooms) >= rr.limit {
		return nil, fmt.Errorf("%w: room table full (%d)", domain.ErrCapacity, rr.limit)
	}

	r := rr.insert(rr.nextID, name, capacity)
	if creator != nil {
		_ = rr.join(r, creator)
	}
	return r, nil
}

func (rr *roomRegistry) insert(id domain.RoomID, name string, capacity int) *room {
	r := &room{id: id, name: name, capacity: capacity, active: true}
	rr.rooms = append(rr.rooms, r)
	rr.byName[name] = r
	if id >= rr.nextID {
		rr.nextID = id + 1
	}
	return r
}

func (rr *roomRegistry) join(r *room, a *account) error {
	if r.isMember(a.id) {
		return fmt.Errorf("%w: %s is already in %s", domain.ErrAlreadyMember, a.name, r.name)
	}
	if r.full() {
		return fmt.Errorf("%w: room %s is full (%d/%d)", domain.ErrCapacity, r.name, len(r.members), r.capacity)
	}
	r.members = append(r.members, a.id)
	a.rooms[r.id] = struct{}{}
	return nil
}

func (rr *roomRegistry) leave(r *room, a *account) error {
	idx := slices.Index(r.members, a.id)
	if idx < 0 {
		return fmt.Errorf("%w: %s is not in %s", domain.ErrNotMember, a.name, r.name)
	}
	r.members = slices.Delete(r.members, idx, idx+1)
	delete(a.rooms, r.id)
	return nil
}

func (rr *roomRegistry) reset() {
	rr.rooms = nil
	rr.byName = make(map[string]*room)
	rr.nextID = 1
}
