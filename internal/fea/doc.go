// Package fea implements the external collaborator ABIs consumed by the
// group-membership state engine through internal/rpcqueue: the
// forwarding-engine abstraction (FEA, raw packet send/receive and
// multicast group join/leave), the multicast forwarding-engine
// abstraction (MFEA, membership-notification receiver registration),
// and a minimal in-process naming service ("finder").
//
// RawSocketFEA is the production implementation, built the same way
// internal/netio builds BFD's raw UDP transport: golang.org/x/net/ipv4
// and golang.org/x/net/ipv6 raw connections configured with
// golang.org/x/sys/unix socket options for router alert and TTL/hop-limit
// control. MockFEA is a channel-based test double standing in for the
// teacher's netio.PacketConn mocks.
package fea
