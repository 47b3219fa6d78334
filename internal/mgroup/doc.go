// Package mgroup implements the router-side multicast group-membership
// state engine for IGMPv1/v2/v3 (IPv4) and MLDv1/v2 (IPv6): per-interface
// group/source records, the report-driven state machine of RFC 3376
// Section 6.4 / RFC 3810 Section 7.4, querier election, and the periodic
// group-specific and group-and-source-specific query retransmission
// engine.
package mgroup
