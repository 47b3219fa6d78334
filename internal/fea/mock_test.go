package fea_test

import (
	"net/netip"
	"testing"

	"github.com/mgroupd/mgroupd/internal/fea"
	"github.com/mgroupd/mgroupd/internal/rpcqueue"
)

func TestMockFEARecordsSendAndDefaultsToOK(t *testing.T) {
	t.Parallel()

	m := fea.NewMockFEA()
	var got rpcqueue.Outcome
	msg := rpcqueue.ProtocolMessage{IfName: "eth0", IPProto: 2}
	m.Send(msg, func(o rpcqueue.Outcome) { got = o })

	if got != rpcqueue.OK {
		t.Fatalf("Send outcome = %s, want OK with no FailNext scripted", got)
	}
	if len(m.Sent) != 1 || m.Sent[0] != msg {
		t.Fatalf("Sent = %+v, want [%+v]", m.Sent, msg)
	}
}

func TestMockFEAFailNextAppliesOnceThenResumesOK(t *testing.T) {
	t.Parallel()

	m := fea.NewMockFEA()
	m.FailNext(rpcqueue.SendFailed)

	var first, second rpcqueue.Outcome
	m.Send(rpcqueue.ProtocolMessage{}, func(o rpcqueue.Outcome) { first = o })
	m.Send(rpcqueue.ProtocolMessage{}, func(o rpcqueue.Outcome) { second = o })

	if first != rpcqueue.SendFailed {
		t.Fatalf("first outcome = %s, want SEND_FAILED (scripted)", first)
	}
	if second != rpcqueue.OK {
		t.Fatalf("second outcome = %s, want OK once the scripted failure is consumed", second)
	}
}

func TestMockFEAJoinLeaveRecordMemberships(t *testing.T) {
	t.Parallel()

	m := fea.NewMockFEA()
	group := netip.MustParseAddr("224.1.1.1")

	m.JoinGroup("eth0", "eth0", 2, group, func(rpcqueue.Outcome) {})
	m.LeaveGroup("eth0", "eth0", 2, group, func(rpcqueue.Outcome) {})

	if len(m.Joined) != 1 || m.Joined[0].Group != group {
		t.Fatalf("Joined = %+v, want one record for %s", m.Joined, group)
	}
	if len(m.Left) != 1 || m.Left[0].Group != group {
		t.Fatalf("Left = %+v, want one record for %s", m.Left, group)
	}
}

func TestMockFEARecvAndDeliverRoutePerInterface(t *testing.T) {
	t.Parallel()

	m := fea.NewMockFEA()
	var eth0Got, eth1Got []rpcqueue.ProtocolMessage

	if err := m.Recv("eth0", 2, func(msg rpcqueue.ProtocolMessage) { eth0Got = append(eth0Got, msg) }); err != nil {
		t.Fatalf("Recv eth0: %v", err)
	}
	if err := m.Recv("eth1", 2, func(msg rpcqueue.ProtocolMessage) { eth1Got = append(eth1Got, msg) }); err != nil {
		t.Fatalf("Recv eth1: %v", err)
	}

	want := rpcqueue.ProtocolMessage{IfName: "eth0"}
	m.Deliver("eth0", want)

	if len(eth0Got) != 1 || eth0Got[0] != want {
		t.Fatalf("eth0 callback got %+v, want [%+v]", eth0Got, want)
	}
	if len(eth1Got) != 0 {
		t.Fatalf("Deliver to eth0 must not reach eth1's callback, got %+v", eth1Got)
	}
}
