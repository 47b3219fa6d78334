package rpcqueue

import "net/netip"

// Client is the union of the FEA, MFEA, and finder ABIs consumed by the
// orchestrator (spec.md Section 6). Every call is asynchronous: it
// returns immediately and reports its outcome through done, preserving
// the no-blocking-I/O contract of spec.md Section 5.
type Client interface {
	RegisterInterest(target string, done func(Outcome))
	UnregisterInterest(target string, done func(Outcome))

	RegisterReceiver(ifName, vifName string, ipProto int, mcastLoopback bool, done func(Outcome))
	UnregisterReceiver(ifName, vifName string, ipProto int, done func(Outcome))

	JoinMulticastGroup(ifName, vifName string, ipProto int, group netip.Addr, done func(Outcome))
	LeaveMulticastGroup(ifName, vifName string, ipProto int, group netip.Addr, done func(Outcome))

	SendProtocolMessage(msg ProtocolMessage, done func(Outcome))

	RegisterClassEventInterest(target string, done func(Outcome))
	DeregisterClassEventInterest(target string, done func(Outcome))
}

// ProtocolMessage is the FEA send() ABI's argument tuple (spec.md
// Section 6). Payload encoding is out of the core's scope; the caller
// supplies already-encoded bytes.
type ProtocolMessage struct {
	IfName          string
	VifName         string
	Src             netip.Addr
	Dst             netip.Addr
	IPProto         int
	TTL             int
	TOS             int
	RouterAlert     bool
	InternetControl bool
	Payload         []byte
}

// NotifyClient is the downstream multicast-routing-protocol ABI's
// add/delete-membership pair, dispatched through the Q-notify queue.
type NotifyClient interface {
	AddMembership(vifName string, source, group netip.Addr, done func(Outcome))
	DeleteMembership(vifName string, source, group netip.Addr, done func(Outcome))
}
