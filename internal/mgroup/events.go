package mgroup

import "net/netip"

// EventType identifies one of the six report types defined by RFC 3376
// Section 6.4 (IGMPv3) and RFC 3810 Section 7.4 (MLDv2). spec.md
// Section 4.3 gives the complete state-transition table keyed on this
// type and the group's current filter mode.
type EventType uint8

const (
	// EventIsInclude is a Current-State Record of type IS_IN(B).
	EventIsInclude EventType = iota + 1
	// EventIsExclude is a Current-State Record of type IS_EX(B).
	EventIsExclude
	// EventChangeToInclude is a Filter-Mode-Change Record TO_IN(B).
	EventChangeToInclude
	// EventChangeToExclude is a Filter-Mode-Change Record TO_EX(B).
	EventChangeToExclude
	// EventAllow is a Source-List-Change Record ALLOW(B).
	EventAllow
	// EventBlock is a Source-List-Change Record BLOCK(B).
	EventBlock
)

// String returns the on-the-wire mnemonic for the event type.
func (e EventType) String() string {
	switch e {
	case EventIsInclude:
		return "IS_IN"
	case EventIsExclude:
		return "IS_EX"
	case EventChangeToInclude:
		return "TO_IN"
	case EventChangeToExclude:
		return "TO_EX"
	case EventAllow:
		return "ALLOW"
	case EventBlock:
		return "BLOCK"
	default:
		return "UNKNOWN"
	}
}

// FilterMode is a GroupRecord's current interpretation of its source
// sets (spec.md Section 3).
type FilterMode uint8

const (
	// ModeInclude forwards only sources present in ForwardSources.
	ModeInclude FilterMode = iota + 1
	// ModeExclude forwards everything except sources in DontForwardSources.
	ModeExclude
)

// String returns "INCLUDE" or "EXCLUDE".
func (m FilterMode) String() string {
	if m == ModeExclude {
		return "EXCLUDE"
	}
	return "INCLUDE"
}

// NotifyAction is the upcall emitted to downstream multicast-routing-
// protocol subscribers (spec.md Section 4.3.1, Section 6).
type NotifyAction uint8

const (
	// ActionJoin requests the downstream protocol start forwarding.
	ActionJoin NotifyAction = iota + 1
	// ActionPrune requests the downstream protocol stop forwarding.
	ActionPrune
)

// String returns "JOIN" or "PRUNE".
func (a NotifyAction) String() string {
	if a == ActionPrune {
		return "PRUNE"
	}
	return "JOIN"
}

// Report is an already-parsed membership report descriptor, as consumed
// by the state engine (spec.md Section 6: "the core consumes parsed
// report descriptors"). Wire decoding is explicitly out of scope.
type Report struct {
	// Group is the multicast group address this report concerns.
	Group netip.Addr
	// Event classifies the report per the six RFC 3376/3810 record types.
	Event EventType
	// Sources is the source-address list carried in the report. May be
	// empty (e.g. IS_EX(), ALLOW() with no new sources).
	Sources []netip.Addr
	// Reporter is the host address that sent the report.
	Reporter netip.Addr
	// MessageVersion is the protocol version of the message that carried
	// this report (1, 2, or 3 for IGMP; 1 or 2 for MLD), used to drive
	// the compatibility-mode timers of spec.md Section 4.3.4.
	MessageVersion int
	// IPTTL is the IP TTL/hop-limit the report arrived with. Valid
	// IGMP/MLD reports always carry TTL/hop-limit 1.
	IPTTL int
	// IPRouterAlert reports whether the IP Router Alert option (v4) or
	// hop-by-hop Router Alert extension header (v6) was present.
	IPRouterAlert bool
}

// Notification is one JOIN/PRUNE upcall destined for downstream
// multicast-routing-protocol subscribers (spec.md Section 6). A zero
// Source denotes the group itself (ASM state).
type Notification struct {
	VifIndex uint32
	VifName  string
	Source   netip.Addr
	Group    netip.Addr
	Action   NotifyAction
}
