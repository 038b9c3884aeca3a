// Package domain holds the identifiers and error classes shared by the
// registry, the command protocol, snapshot persistence and the transports.
package domain

import (
	"fmt"
	"math"
	"strings"
)

// AccountID is the stable identifier of an account. It survives restarts
// through the snapshot.
type AccountID int

// RoomID is the stable identifier of a chat room.
type RoomID int

// MaxID is the largest account or room id. Ids are allocated upwards, so a
// larger stored id would leave no room for the next one.
const MaxID = math.MaxInt32

// ValidID reports whether id can name an account or room.
func ValidID(id int) bool {
	return id >= 1 && id <= MaxID
}

// AdminName is the only account allowed to run privileged commands.
const AdminName = "admin"

// Endpoint identifies a network peer on one transport, written as
// "scheme://address" (for example "udp://127.0.0.1:5000").
type Endpoint string

// NewEndpoint builds an endpoint for the given transport scheme and address.
func NewEndpoint(scheme, addr string) Endpoint {
	return Endpoint(scheme + "://" + addr)
}

// Scheme returns the transport part of the endpoint.
func (e Endpoint) Scheme() string {
	scheme, _, ok := strings.Cut(string(e), "://")
	if !ok {
		return ""
	}
	return scheme
}

// Addr returns the transport-specific address part of the endpoint.
func (e Endpoint) Addr() string {
	_, addr, ok := strings.Cut(string(e), "://")
	if !ok {
		return string(e)
	}
	return addr
}

// Validate reports whether the endpoint carries both a scheme and an address.
func (e Endpoint) Validate() error {
	if e.Scheme() == "" || e.Addr() == "" {
		return fmt.Errorf("%w: malformed endpoint %q", ErrValidation, string(e))
	}
	return nil
}

func (e Endpoint) String() string { return string(e) }
