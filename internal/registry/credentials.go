package registry

import "crypto/subtle"

// credentialStore maps account names to secrets. Secrets are kept in plain
// text because the snapshot format stores them that way.
type credentialStore struct {
	secrets map[string]string
}

func newCredentialStore() *credentialStore {
	return &credentialStore{secrets: make(map[string]string)}
}

// put appends a new entry or replaces an existing one.
func (c *credentialStore) put(name, secret string) {
	c.secrets[name] = secret
}

func (c *credentialStore) get(name string) (string, bool) {
	secret, ok := c.secrets[name]
	return secret, ok
}

// match reports whether name exists and its secret equals secret exactly.
func (c *credentialStore) match(name, secret string) bool {
	stored, ok := c.secrets[name]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) == 1
}
