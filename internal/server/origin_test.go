package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOriginPolicy(t *testing.T) {
	t.Parallel()

	policy := newOriginPolicy([]string{"http://example.com", "  ", "not-a-url", "https://Chat.Example.org:8443"}, orDiscard(nil))

	testCases := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "exact match", origin: "http://example.com", want: true},
		{name: "upper case host", origin: "http://EXAMPLE.COM", want: true},
		{name: "upper case scheme", origin: "HTTP://example.com", want: true},
		{name: "port kept", origin: "https://chat.example.org:8443", want: true},
		{name: "wrong port", origin: "https://chat.example.org", want: false},
		{name: "other host", origin: "http://evil.example", want: false},
		{name: "missing", origin: "", want: false},
		{name: "no scheme", origin: "example.com", want: false},
		{name: "no host", origin: "http://", want: false},
		{name: "script", origin: "javascript:alert(1)", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			assert.Equal(t, tc.want, policy.check(r))
		})
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	t.Parallel()

	policy := newOriginPolicy([]string{"*"}, orDiscard(nil))

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anywhere.example")
	assert.True(t, policy.check(r))

	r.Header.Set("Origin", "garbage")
	assert.False(t, policy.check(r), "wildcard still requires a well-formed origin")

	r.Header.Del("Origin")
	assert.False(t, policy.check(r))
}
