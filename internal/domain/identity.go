package domain

import (
	"bytes"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
)

// IdentitySize is the width of an Identity in bytes.
const IdentitySize = 64

// Identity is an opaque 512-bit token naming a user or a slot profile.
// The zero value is a valid (all-zero) identity.
type Identity [IdentitySize]byte

// NewIdentity returns a random identity.
func NewIdentity() Identity {
	var id Identity
	_, _ = rand.Read(id[:])
	return id
}

// ParseIdentity never fails: a 128 character hex string decodes to the token
// it spells, anything else is hashed with SHA-512 so the same input always
// yields the same identity.
func ParseIdentity(s string) Identity {
	if id, ok := IdentityFromHex(s); ok {
		return id
	}
	return Identity(sha512.Sum512([]byte(s)))
}

// IdentityFromHex decodes the 128 character hex form only.
func IdentityFromHex(s string) (Identity, bool) {
	var id Identity
	if len(s) != 2*IdentitySize {
		return id, false
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return Identity{}, false
	}
	return id, true
}

func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first eight hex digits, for log lines.
func (id Identity) Short() string {
	return hex.EncodeToString(id[:4])
}

func (id Identity) IsZero() bool {
	return id == Identity{}
}

// Compare orders identities by byte value.
func (id Identity) Compare(other Identity) int {
	return bytes.Compare(id[:], other[:])
}

func (id Identity) MarshalText() ([]byte, error) {
	buf := make([]byte, 2*IdentitySize)
	hex.Encode(buf, id[:])
	return buf, nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	*id = ParseIdentity(string(text))
	return nil
}
