package fea

import (
	"net/netip"

	"github.com/mgroupd/mgroupd/internal/rpcqueue"
)

// FEA is the raw-packet send/receive and multicast-group join/leave
// surface (spec.md Section 6's FEA ABI). RawSocketFEA is the production
// implementation; MockFEA backs state-engine tests.
type FEA interface {
	// Send transmits an already-encoded protocol message. done is
	// called exactly once with the outcome; Send itself never blocks.
	Send(msg rpcqueue.ProtocolMessage, done func(rpcqueue.Outcome))

	// JoinGroup/LeaveGroup join or leave a multicast group on the given
	// interface so that Recv starts (or stops) delivering packets for it.
	JoinGroup(ifName, vifName string, ipProto int, group netip.Addr, done func(rpcqueue.Outcome))
	LeaveGroup(ifName, vifName string, ipProto int, group netip.Addr, done func(rpcqueue.Outcome))

	// Recv registers a callback invoked for every inbound packet
	// matching ipProto on ifName, until Close is called.
	Recv(ifName string, ipProto int, onPacket func(rpcqueue.ProtocolMessage)) error

	// Close releases all sockets opened by this FEA instance.
	Close() error
}

// MFEA is the membership-notification receiver-registration surface
// (spec.md Section 6's MFEA ABI). In this daemon MFEA and the
// igmp/mld core share one process, but the interface stays distinct so
// internal/rpcqueue's task types remain polymorphic over "which
// collaborator".
type MFEA interface {
	RegisterReceiver(ifName, vifName string, ipProto int, mcastLoopback bool, done func(rpcqueue.Outcome))
	UnregisterReceiver(ifName, vifName string, ipProto int, done func(rpcqueue.Outcome))
}

// Finder is the naming-service surface (spec.md Section 6's Finder
// ABI): interest registration plus birth/death callbacks for the
// collaborators an rpcqueue.Queue depends on.
type Finder interface {
	RegisterClassEventInterest(target string, done func(rpcqueue.Outcome))
	DeregisterClassEventInterest(target string, done func(rpcqueue.Outcome))

	// OnTargetBirth/OnTargetDeath register callbacks invoked when a
	// previously-interesting target becomes reachable or unreachable.
	// A death callback is the trigger for rpcqueue.Queue.FinderDead.
	OnTargetBirth(target string, f func())
	OnTargetDeath(target string, f func())
}
