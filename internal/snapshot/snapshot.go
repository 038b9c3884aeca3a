// Package snapshot persists the durable part of the registry as two text
// files, one line per record:
//
//	users.txt   id:name:secret
//	rooms.txt   id:name:capacity:member1,member2,...
//
// Each file is written to a temporary file in the same directory and then
// renamed over the previous one, so readers never see a partial file.
package snapshot

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
	"github.com/Tyrowin/gochat-rooms/internal/registry"
)

const (
	// UsersFile holds one account per line.
	UsersFile = "users.txt"
	// RoomsFile holds one room per line.
	RoomsFile = "rooms.txt"

	dataDirMode  = 0o700
	dataFileMode = 0o600
	tempPattern  = ".snapshot-*.tmp"
)

// Stats describes lines Load could not use.
type Stats struct {
	Accounts       int
	Rooms          int
	MalformedUsers []int // line numbers in UsersFile
	MalformedRooms []int // line numbers in RoomsFile
}

// Save writes st into dir, creating the directory when needed.
func Save(dir string, st registry.State) error {
	if err := os.MkdirAll(dir, dataDirMode); err != nil {
		return fmt.Errorf("%w: create snapshot directory: %v", domain.ErrIO, err)
	}

	var users bytes.Buffer
	if err := EncodeAccounts(&users, st.Accounts); err != nil {
		return err
	}
	var rooms bytes.Buffer
	if err := EncodeRooms(&rooms, st.Rooms); err != nil {
		return err
	}

	if err := writeAtomic(filepath.Join(dir, UsersFile), users.Bytes()); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, RoomsFile), rooms.Bytes())
}

// Load reads the snapshot in dir. Missing files yield an empty state.
// Malformed lines are skipped and reported in Stats rather than failing.
func Load(dir string) (registry.State, Stats, error) {
	var (
		st    registry.State
		stats Stats
	)

	err := readFile(filepath.Join(dir, UsersFile), func(r io.Reader) error {
		var err error
		st.Accounts, stats.MalformedUsers, err = DecodeAccounts(r)
		return err
	})
	if err != nil {
		return registry.State{}, Stats{}, err
	}

	err = readFile(filepath.Join(dir, RoomsFile), func(r io.Reader) error {
		var err error
		st.Rooms, stats.MalformedRooms, err = DecodeRooms(r)
		return err
	})
	if err != nil {
		return registry.State{}, Stats{}, err
	}

	stats.Accounts = len(st.Accounts)
	stats.Rooms = len(st.Rooms)
	return st, stats, nil
}

// EncodeAccounts writes one id:name:secret line per account, in the order
// given.
func EncodeAccounts(w io.Writer, accounts []registry.AccountRecord) error {
	bw := bufio.NewWriter(w)
	for _, a := range accounts {
		if _, err := fmt.Fprintf(bw, "%d:%s:%s\n", a.ID, a.Name, a.Secret); err != nil {
			return fmt.Errorf("%w: encode account %s: %v", domain.ErrIO, a.Name, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: encode accounts: %v", domain.ErrIO, err)
	}
	return nil
}

// EncodeRooms writes one id:name:capacity:members line per room.
func EncodeRooms(w io.Writer, rooms []registry.RoomRecord) error {
	bw := bufio.NewWriter(w)
	for _, r := range rooms {
		if _, err := fmt.Fprintf(bw, "%d:%s:%d:%s\n", r.ID, r.Name, r.Capacity, strings.Join(r.Members, ",")); err != nil {
			return fmt.Errorf("%w: encode room %s: %v", domain.ErrIO, r.Name, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: encode rooms: %v", domain.ErrIO, err)
	}
	return nil
}

// DecodeAccounts parses account lines. It returns the line numbers it had
// to skip. Blank lines and lines starting with '#' are ignored.
func DecodeAccounts(r io.Reader) ([]registry.AccountRecord, []int, error) {
	var (
		accounts  []registry.AccountRecord
		malformed []int
	)
	err := scanLines(r, func(n int, line string) {
		rec, ok := parseAccount(line)
		if !ok {
			malformed = append(malformed, n)
			return
		}
		accounts = append(accounts, rec)
	})
	return accounts, malformed, err
}

// DecodeRooms parses room lines the same way DecodeAccounts does.
func DecodeRooms(r io.Reader) ([]registry.RoomRecord, []int, error) {
	var (
		rooms     []registry.RoomRecord
		malformed []int
	)
	err := scanLines(r, func(n int, line string) {
		rec, ok := parseRoom(line)
		if !ok {
			malformed = append(malformed, n)
			return
		}
		rooms = append(rooms, rec)
	})
	return rooms, malformed, err
}

func parseAccount(line string) (registry.AccountRecord, bool) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return registry.AccountRecord{}, false
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil || !domain.ValidID(id) || !domain.ValidName(parts[1]) || !domain.ValidSecret(parts[2]) {
		return registry.AccountRecord{}, false
	}
	return registry.AccountRecord{ID: domain.AccountID(id), Name: parts[1], Secret: parts[2]}, true
}

func parseRoom(line string) (registry.RoomRecord, bool) {
	parts := strings.SplitN(line, ":", 4)
	if len(parts) != 4 {
		return registry.RoomRecord{}, false
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil || !domain.ValidID(id) || !domain.ValidName(parts[1]) {
		return registry.RoomRecord{}, false
	}
	capacity, err := strconv.Atoi(parts[2])
	if err != nil || capacity < 1 {
		return registry.RoomRecord{}, false
	}

	rec := registry.RoomRecord{ID: domain.RoomID(id), Name: parts[1], Capacity: capacity, Members: []string{}}
	if parts[3] != "" {
		for _, member := range strings.Split(parts[3], ",") {
			member = strings.TrimSpace(member)
			if member != "" {
				rec.Members = append(rec.Members, member)
			}
		}
	}
	return rec, true
}

// scanLines calls fn for every non-blank, non-comment line. Lines have no
// length limit: a room line grows with its member list.
func scanLines(r io.Reader, fn func(n int, line string)) error {
	br := bufio.NewReader(r)
	for n := 1; ; n++ {
		raw, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: read snapshot line %d: %v", domain.ErrIO, n, err)
		}
		line := strings.TrimRight(raw, "\r\n")
		if strings.TrimSpace(line) != "" && !strings.HasPrefix(line, "#") {
			fn(n, line)
		}
		if err != nil {
			return nil
		}
	}
}

func readFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: open %s: %v", domain.ErrIO, path, err)
	}
	defer func() { _ = f.Close() }()
	return fn(f)
}

func writeAtomic(path string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), tempPattern)
	if err != nil {
		return fmt.Errorf("%w: create temp file for %s: %v", domain.ErrIO, path, err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("%w: write %s: %v", domain.ErrIO, tempName, err)
	}
	if err := tempFile.Chmod(dataFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("%w: chmod %s: %v", domain.ErrIO, tempName, err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("%w: sync %s: %v", domain.ErrIO, tempName, err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", domain.ErrIO, tempName, err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("%w: replace %s: %v", domain.ErrIO, path, err)
	}

	cleanup = false
	return nil
}
