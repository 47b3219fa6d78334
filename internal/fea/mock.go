package fea

import (
	"net/netip"
	"sync"

	"github.com/mgroupd/mgroupd/internal/rpcqueue"
)

// MockFEA is a channel-free, mutex-guarded FEA test double. Sent
// messages are recorded rather than transmitted; join/leave calls are
// recorded and always succeed unless FailNext has queued an outcome.
// Modeled on the teacher's netio.PacketConn mocks used in
// internal/netio/mock_test.go.
type MockFEA struct {
	mu sync.Mutex

	Sent   []rpcqueue.ProtocolMessage
	Joined []MockMembership
	Left   []MockMembership
	recv   map[string]func(rpcqueue.ProtocolMessage)

	nextOutcomes []rpcqueue.Outcome
}

// MockMembership records one join/leave call's arguments.
type MockMembership struct {
	IfName, VifName string
	IPProto         int
	Group           netip.Addr
}

// NewMockFEA returns an idle MockFEA.
func NewMockFEA() *MockFEA {
	return &MockFEA{recv: make(map[string]func(rpcqueue.ProtocolMessage))}
}

// FailNext queues outcome to be returned by the next call to any
// Send/JoinGroup/LeaveGroup instead of rpcqueue.OK.
func (m *MockFEA) FailNext(outcome rpcqueue.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOutcomes = append(m.nextOutcomes, outcome)
}

func (m *MockFEA) takeOutcome() rpcqueue.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.nextOutcomes) == 0 {
		return rpcqueue.OK
	}
	o := m.nextOutcomes[0]
	m.nextOutcomes = m.nextOutcomes[1:]
	return o
}

func (m *MockFEA) Send(msg rpcqueue.ProtocolMessage, done func(rpcqueue.Outcome)) {
	m.mu.Lock()
	m.Sent = append(m.Sent, msg)
	m.mu.Unlock()
	done(m.takeOutcome())
}

func (m *MockFEA) JoinGroup(ifName, vifName string, ipProto int, group netip.Addr, done func(rpcqueue.Outcome)) {
	m.mu.Lock()
	m.Joined = append(m.Joined, MockMembership{ifName, vifName, ipProto, group})
	m.mu.Unlock()
	done(m.takeOutcome())
}

func (m *MockFEA) LeaveGroup(ifName, vifName string, ipProto int, group netip.Addr, done func(rpcqueue.Outcome)) {
	m.mu.Lock()
	m.Left = append(m.Left, MockMembership{ifName, vifName, ipProto, group})
	m.mu.Unlock()
	done(m.takeOutcome())
}

func (m *MockFEA) Recv(ifName string, ipProto int, onPacket func(rpcqueue.ProtocolMessage)) error {
	m.mu.Lock()
	m.recv[ifName] = onPacket
	m.mu.Unlock()
	return nil
}

// Deliver synthesizes an inbound packet on ifName, for tests exercising
// the receive path without a real socket.
func (m *MockFEA) Deliver(ifName string, msg rpcqueue.ProtocolMessage) {
	m.mu.Lock()
	cb := m.recv[ifName]
	m.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

func (m *MockFEA) Close() error { return nil }
