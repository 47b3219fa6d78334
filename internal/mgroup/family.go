package mgroup

import "net/netip"

// Family tags every entity in the engine with the address family it
// serves. A single running process serves exactly one family: v4
// entities implement IGMP (RFC 3376 and predecessors), v6 entities
// implement MLD (RFC 3810 and predecessors).
type Family uint8

const (
	// FamilyV4 selects IGMP semantics over IPv4 group/source addresses.
	FamilyV4 Family = iota + 1
	// FamilyV6 selects MLD semantics over IPv6 group/source addresses.
	FamilyV6
)

// String returns the human-readable family name.
func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "IPv4"
	case FamilyV6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// ZeroSource returns the per-family zero-address sentinel used to denote
// "the group itself" (ASM state) in a join/prune notification, per
// spec.md Section 4.3.1.
func ZeroSource(family Family) netip.Addr {
	if family == FamilyV6 {
		return netip.IPv6Unspecified()
	}
	return netip.IPv4Unspecified()
}

// IsZeroSource reports whether addr is the per-family zero-address
// sentinel.
func IsZeroSource(addr netip.Addr) bool {
	return !addr.IsValid() || addr.IsUnspecified()
}
