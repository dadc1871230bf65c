package domain

import (
	"crypto/sha512"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityStringRoundTrip(t *testing.T) {
	id := NewIdentity()
	s := id.String()

	require.Len(t, s, 128)
	assert.Equal(t, strings.ToLower(s), s)
	assert.Equal(t, id, ParseIdentity(s))
}

func TestParseIdentityHashesInvalidInput(t *testing.T) {
	for _, in := range []string{"", "alice", strings.Repeat("z", 128), strings.Repeat("a", 127)} {
		got := ParseIdentity(in)
		assert.Equal(t, Identity(sha512.Sum512([]byte(in))), got, "input %q", in)
		assert.Equal(t, got, ParseIdentity(in), "hashing must be deterministic")
	}
}

func TestIdentityCompare(t *testing.T) {
	var a, b Identity
	b[0] = 1

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.True(t, a.IsZero())
	assert.False(t, b.IsZero())
}

func TestIdentityJSON(t *testing.T) {
	id := NewIdentity()
	data, err := json.Marshal(map[string]Identity{"id": id})
	require.NoError(t, err)

	var out map[string]Identity
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, id, out["id"])
}

func TestNewIdentityIsRandom(t *testing.T) {
	assert.NotEqual(t, NewIdentity(), NewIdentity())
}

func TestIdentityFromHex(t *testing.T) {
	id := NewIdentity()
	got, ok := IdentityFromHex(id.String())
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = IdentityFromHex("alice")
	assert.False(t, ok)
	_, ok = IdentityFromHex(strings.Repeat("zz", IdentitySize))
	assert.False(t, ok)
}
