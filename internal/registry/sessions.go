package registry

import (
	"time"

	"github.com/Tyrowin/gochat-rooms/internal/domain"
)

type session struct {
	account  domain.AccountID
	endpoint domain.Endpoint
	token    string
	since    time.Time
}

// sessionTable binds endpoints to accounts. An endpoint maps to at most one
// account and an account has at most one current endpoint; bind is the only
// place that creates bindings and it evicts whatever would break either rule.
type sessionTable struct {
	byEndpoint map[domain.Endpoint]*session
	byAccount  map[domain.AccountID]*session
	byToken    map[string]*session
	newToken   func() string
	now        func() time.Time
}

func newSessionTable(newToken func() string, now func() time.Time) *sessionTable {
	return &sessionTable{
		byEndpoint: make(map[domain.Endpoint]*session),
		byAccount:  make(map[domain.AccountID]*session),
		byToken:    make(map[string]*session),
		newToken:   newToken,
		now:        now,
	}
}

// bind makes ep the current endpoint of id with a fresh token. It returns the
// new session and the endpoint the account was previously bound to, if that
// endpoint differs from ep.
func (t *sessionTable) bind(id domain.AccountID, ep domain.Endpoint) (*session, domain.Endpoint) {
	var displaced domain.Endpoint
	if prev, ok := t.byAccount[id]; ok {
		if prev.endpoint != ep {
			displaced = prev.endpoint
		}
		t.remove(prev)
	}
	if other, ok := t.byEndpoint[ep]; ok {
		t.remove(other)
	}

	s := &session{account: id, endpoint: ep, token: t.newToken(), since: t.now()}
	t.byEndpoint[ep] = s
	t.byAccount[id] = s
	t.byToken[s.token] = s
	return s, displaced
}

func (t *sessionTable) resolve(ep domain.Endpoint) (*session, bool) {
	s, ok := t.byEndpoint[ep]
	return s, ok
}

func (t *sessionTable) whoIs(id domain.AccountID) (domain.Endpoint, bool) {
	s, ok := t.byAccount[id]
	if !ok {
		return "", false
	}
	return s.endpoint, true
}

func (t *sessionTable) byTokenValue(token string) (*session, bool) {
	s, ok := t.byToken[token]
	return s, ok
}

// drop removes the session bound to ep, if any.
func (t *sessionTable) drop(ep domain.Endpoint) (domain.AccountID, bool) {
	s, ok := t.byEndpoint[ep]
	if !ok {
		return 0, false
	}
	t.remove(s)
	return s.account, true
}

func (t *sessionTable) remove(s *session) {
	delete(t.byEndpoint, s.endpoint)
	delete(t.byAccount, s.account)
	delete(t.byToken, s.token)
}

func (t *sessionTable) count() int {
	return len(t.byEndpoint)
}

func (t *sessionTable) reset() {
	t.byEndpoint = make(map[domain.Endpoint]*session)
	t.byAccount = make(map[domain.AccountID]*session)
	t.byToken = make(map[string]*session)
}
