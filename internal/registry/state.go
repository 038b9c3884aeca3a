package registry

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
)

// AccountRecord is the durable form of an account.
type AccountRecord struct {
	ID     domain.AccountID
	Name   string
	Secret string
}

// RoomRecord is the durable form of a room. Members are account names.
type RoomRecord struct {
	ID       domain.RoomID
	Name     string
	Capacity int
	Members  []string
}

// State is the durable part of a Registry. Sessions are never part of it.
type State struct {
	Accounts []AccountRecord
	Rooms    []RoomRecord
}

// RestoreStats counts what Restore had to discard.
type RestoreStats struct {
	SkippedAccounts int
	SkippedRooms    int
	DroppedMembers  int
}

// Snapshot copies the durable state. Accounts are in id order, rooms in
// creation order.
func (r *Registry) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := State{
		Accounts: make([]AccountRecord, 0, len(r.accounts.accounts)),
		Rooms:    make([]RoomRecord, 0, len(r.rooms.rooms)),
	}
	for _, a := range r.accounts.accounts {
		st.Accounts = append(st.Accounts, AccountRecord{
			ID:     a.id,
			Name:   a.name,
			Secret: r.accounts.secret(a.name),
		})
	}
	for _, room := range r.rooms.rooms {
		st.Rooms = append(st.Rooms, RoomRecord{
			ID:       room.id,
			Name:     room.name,
			Capacity: room.capacity,
			Members:  r.memberNames(room),
		})
	}
	return st
}

// Restore replaces the registry contents with st and clears all sessions.
// Records that would break an invariant are skipped rather than failing
// the whole restore: duplicate ids or names, invalid names, secrets or
// capacities, member names that resolve to no account, duplicate members
// and members beyond the room capacity.
func (r *Registry) Restore(st State) RestoreStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts.reset()
	r.rooms.reset()
	r.sessions.reset()

	var stats RestoreStats

	accounts := slices.Clone(st.Accounts)
	slices.SortStableFunc(accounts, func(a, b AccountRecord) int { return cmp.Compare(a.ID, b.ID) })
	for _, rec := range accounts {
		_, idTaken := r.accounts.find(rec.ID)
		_, nameTaken := r.accounts.findByName(rec.Name)
		if !domain.ValidID(int(rec.ID)) || idTaken || nameTaken || !domain.ValidName(rec.Name) || !domain.ValidSecret(rec.Secret) {
			stats.SkippedAccounts++
			continue
		}
		r.accounts.insert(rec.ID, rec.Name, rec.Secret)
	}

	rooms := slices.Clone(st.Rooms)
	slices.SortStableFunc(rooms, func(a, b RoomRecord) int { return cmp.Compare(a.ID, b.ID) })
	seenIDs := make(map[domain.RoomID]bool, len(rooms))
	for _, rec := range rooms {
		_, nameTaken := r.rooms.find(rec.Name)
		if !domain.ValidID(int(rec.ID)) || seenIDs[rec.ID] || nameTaken || !domain.ValidName(rec.Name) || rec.Capacity < 1 {
			stats.SkippedRooms++
			continue
		}
		seenIDs[rec.ID] = true
		room := r.rooms.insert(rec.ID, rec.Name, rec.Capacity)
		for _, member := range rec.Members {
			a, ok := r.accounts.findByName(member)
			if !ok {
				stats.DroppedMembers++
				continue
			}
			if err := r.rooms.join(room, a); err != nil {
				stats.DroppedMembers++
			}
		}
	}

	return stats
}

// CheckConsistency verifies the cross-references between accounts and
// rooms: unique names, capacity bounds and symmetric membership.
func (r *Registry) CheckConsistency() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make(map[string]bool, len(r.accounts.accounts))
	for _, a := range r.accounts.accounts {
		if names[a.name] {
			return fmt.Errorf("duplicate account name %q", a.name)
		}
		names[a.name] = true
		for roomID := range a.rooms {
			room := r.roomByID(roomID)
			if room == nil || !room.isMember(a.id) {
				return fmt.Errorf("account %s lists room %d but is not a member", a.name, roomID)
			}
		}
	}

	roomNames := make(map[string]bool, len(r.rooms.rooms))
	for _, room := range r.rooms.rooms {
		if roomNames[room.name] {
			return fmt.Errorf("duplicate room name %q", room.name)
		}
		roomNames[room.name] = true
		if len(room.members) > room.capacity {
			return fmt.Errorf("room %s has %d members over capacity %d", room.name, len(room.members), room.capacity)
		}
		seen := make(map[domain.AccountID]bool, len(room.members))
		for _, id := range room.members {
			if seen[id] {
				return fmt.Errorf("room %s lists account %d twice", room.name, id)
			}
			seen[id] = true
			a, ok := r.accounts.find(id)
			if !ok {
				return fmt.Errorf("room %s lists unknown account %d", room.name, id)
			}
			if _, joined := a.rooms[room.id]; !joined {
				return fmt.Errorf("room %s lists %s but the account does not list the room", room.name, a.name)
			}
		}
	}
	return nil
}

func (r *Registry) roomByID(id domain.RoomID) *room {
	for _, room := range r.rooms.rooms {
		if room.id == id {
			return room
		}
	}
	return nil
}
