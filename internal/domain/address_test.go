package domain

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRange(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := ParseAddressRange(s)
	require.NoError(t, err)
	return p
}

func TestAddressRulesDefaultAllow(t *testing.T) {
	r := DefaultAddressRules()
	assert.True(t, r.Admits(netip.MustParseAddr("203.0.113.9")))

	r.Forbidden = []netip.Prefix{mustRange(t, "203.0.113.0/24")}
	assert.False(t, r.Admits(netip.MustParseAddr("203.0.113.9")))
	assert.True(t, r.Admits(netip.MustParseAddr("198.51.100.1")))

	r.Allowed = []netip.Prefix{mustRange(t, "203.0.113.9")}
	assert.True(t, r.Admits(netip.MustParseAddr("203.0.113.9")))
	assert.False(t, r.Admits(netip.MustParseAddr("203.0.113.10")))
}

func TestAddressRulesDefaultDeny(t *testing.T) {
	r := AddressRules{
		Allowed:   []netip.Prefix{mustRange(t, "10.0.0.0/8")},
		Forbidden: []netip.Prefix{mustRange(t, "10.1.0.0/16")},
	}
	assert.True(t, r.Admits(netip.MustParseAddr("10.2.3.4")))
	assert.False(t, r.Admits(netip.MustParseAddr("10.1.3.4")))
	assert.False(t, r.Admits(netip.MustParseAddr("192.0.2.1")))
}

func TestAddressRulesUnmapsIPv4InIPv6(t *testing.T) {
	r := AddressRules{Allowed: []netip.Prefix{mustRange(t, "127.0.0.1")}}
	assert.True(t, r.Admits(netip.MustParseAddr("::ffff:127.0.0.1")))
}

func TestParseAddressRange(t *testing.T) {
	assert.Equal(t, "192.0.2.0/24", mustRange(t, "192.0.2.77/24").String())
	assert.Equal(t, "::1/128", mustRange(t, "::1").String())
	_, err := ParseAddressRange("not-an-address")
	assert.Error(t, err)
}
