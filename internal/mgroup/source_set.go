package mgroup

import (
	"net/netip"
	"sort"
	"time"
)

// SourceSet is an ordered mapping from source address to SourceRecord,
// owned indirectly by a GroupRecord (spec.md Section 4.2). Set-algebra
// operators return new SourceSets that share SourceRecord pointers with
// their operands — the GroupRecord is the sole owner of the underlying
// records; SourceSets are an indexing convenience over that ownership
// (spec.md Section 9 "Set algebra sharing pointers").
//
// Go has no built-in ordered map; SourceSet uses a plain map for O(1)
// membership and set algebra, and exposes SortedAddrs for callers (the
// CLI, tests) that need deterministic iteration order the way XORP's
// std::map<IPvX, ...> naturally provided.
type SourceSet map[netip.Addr]*SourceRecord

// newSourceSet returns an empty SourceSet.
func newSourceSet() SourceSet {
	return make(SourceSet)
}

// Clone returns a shallow copy: a new map with the same SourceRecord
// pointers. Used to snapshot a set before mutating it in place, per
// spec.md Section 4.3 step (i): "snapshot the old sets for later
// notification diff."
func (s SourceSet) Clone() SourceSet {
	out := make(SourceSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Addrs returns the set's member addresses as a plain address set
// (unordered; use SortedAddrs for stable iteration).
func (s SourceSet) Addrs() map[netip.Addr]struct{} {
	out := make(map[netip.Addr]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// SortedAddrs returns the set's member addresses sorted for
// deterministic display and test output.
func (s SourceSet) SortedAddrs() []netip.Addr {
	out := make([]netip.Addr, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Has reports whether addr is a member.
func (s SourceSet) Has(addr netip.Addr) bool {
	_, ok := s[addr]
	return ok
}

// Get returns the record for addr, if present.
func (s SourceSet) Get(addr netip.Addr) (*SourceRecord, bool) {
	r, ok := s[addr]
	return r, ok
}

// Union returns s ∪ other. On key collision the value from s (the left
// operand) wins, preserving its existing timer.
func (s SourceSet) Union(other SourceSet) SourceSet {
	out := make(SourceSet, len(s)+len(other))
	for k, v := range other {
		out[k] = v
	}
	for k, v := range s {
		out[k] = v
	}
	return out
}

// UnionAddrs returns s ∪ addrs, where addrs is a plain address set. Any
// address in addrs not already in s gets a freshly allocated
// SourceRecord owned by group — used to introduce sources learned from
// a report (spec.md Section 4.2).
func (s SourceSet) UnionAddrs(addrs []netip.Addr, group *GroupRecord) SourceSet {
	out := s.Clone()
	for _, a := range addrs {
		if _, ok := out[a]; !ok {
			out[a] = newSourceRecord(group, a)
		}
	}
	return out
}

// Intersect returns s ∩ other. On key collision the value from s (the
// left operand) wins.
func (s SourceSet) Intersect(other SourceSet) SourceSet {
	out := make(SourceSet)
	for k, v := range s {
		if _, ok := other[k]; ok {
			out[k] = v
		}
	}
	return out
}

// IntersectAddrs returns s ∩ addrs, where addrs is a plain address set.
func (s SourceSet) IntersectAddrs(addrs []netip.Addr) SourceSet {
	want := addrSet(addrs)
	out := make(SourceSet)
	for k, v := range s {
		if _, ok := want[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Minus returns s − other.
func (s SourceSet) Minus(other SourceSet) SourceSet {
	out := make(SourceSet)
	for k, v := range s {
		if _, ok := other[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// MinusAddrs returns s − addrs, where addrs is a plain address set.
func (s SourceSet) MinusAddrs(addrs []netip.Addr) SourceSet {
	drop := addrSet(addrs)
	out := make(SourceSet)
	for k, v := range s {
		if _, ok := drop[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// addrs(s) − set: returns the plain-address difference addrs − s
// (neither already-forwarded nor already-excluded), used directly by
// the BLOCK-while-EXCLUDE rule (spec.md Section 9 Open Question):
// "the subset of B that is neither already in the forwarded set X nor
// in the excluded set Y."
func addrsMinusSets(addrs []netip.Addr, sets ...SourceSet) []netip.Addr {
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		excluded := false
		for _, set := range sets {
			if set.Has(a) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, a)
		}
	}
	return out
}

func addrSet(addrs []netip.Addr) map[netip.Addr]struct{} {
	out := make(map[netip.Addr]struct{}, len(addrs))
	for _, a := range addrs {
		out[a] = struct{}{}
	}
	return out
}

// SetSourceTimerAll arms the source timer of every member to d.
func (s SourceSet) SetSourceTimerAll(d time.Duration) {
	for _, r := range s {
		r.SetSourceTimer(d)
	}
}

// SetSourceTimerFor arms the source timer to d for every member whose
// address is in addrs.
func (s SourceSet) SetSourceTimerFor(addrs []netip.Addr, d time.Duration) {
	want := addrSet(addrs)
	for k, r := range s {
		if _, ok := want[k]; ok {
			r.SetSourceTimer(d)
		}
	}
}

// CancelSourceTimerAll cancels the source timer of every member.
func (s SourceSet) CancelSourceTimerAll() {
	for _, r := range s {
		r.CancelSourceTimer()
	}
}

// LowerSourceTimerFor lowers the source timer toward d for every member
// whose address is in addrs.
func (s SourceSet) LowerSourceTimerFor(addrs []netip.Addr, d time.Duration) {
	want := addrSet(addrs)
	for k, r := range s {
		if _, ok := want[k]; ok {
			r.LowerSourceTimer(d)
		}
	}
}

// deletePayload cancels every member's source timer; the Group
// back-references are left in place. Called at the well-defined deletion points of
// spec.md Section 4.3 step (iv); the records themselves become
// unreachable once no set references them.
func (s SourceSet) deletePayload() {
	for _, r := range s {
		r.CancelSourceTimer()
	}
}
