package domain

import (
	"net/netip"
	"slices"
)

// AddressRules filters client addresses before any identity is resolved.
type AddressRules struct {
	DefaultAllow bool
	Allowed      []netip.Prefix
	Forbidden    []netip.Prefix
}

// DefaultAddressRules admits every address.
func DefaultAddressRules() AddressRules {
	return AddressRules{DefaultAllow: true}
}

// Admits reports whether addr may connect. A range on the list opposite to
// the default decides, unless a range on the default's own list also covers
// addr: with DefaultAllow an address is refused only when a forbidden range
// matches and no allowed range does, and vice versa.
func (r AddressRules) Admits(addr netip.Addr) bool {
	addr = addr.Unmap()
	allowed := matchAny(r.Allowed, addr)
	forbidden := matchAny(r.Forbidden, addr)
	if r.DefaultAllow {
		return !forbidden || allowed
	}
	return allowed && !forbidden
}

func matchAny(prefixes []netip.Prefix, addr netip.Addr) bool {
	return slices.ContainsFunc(prefixes, func(p netip.Prefix) bool {
		return p.Contains(addr)
	})
}

// ParseAddressRange accepts a CIDR prefix or a bare address.
func ParseAddressRange(s string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
