// Package wire translates between the raw IP payloads the FEA ABI
// carries and the parsed mgroup.Report/mgroup.OutboundQuery values the
// state engine consumes.
//
// Full RFC-accurate IGMP/MLD wire parsing (checksum verification, every
// ancillary-data edge case) is explicitly out of scope for the core
// (spec.md §1 Non-goals: "address-family-specific parsing"). This
// package implements just enough of RFC 3376 §4 (IGMP) and RFC 3810 §5
// (MLD) to drive cmd/mgroupd end to end: it exists so the daemon binary
// is runnable, not because the core depends on it.
package wire
