package rpcqueue

import "net/netip"

// FailurePolicy governs how the queue reacts to a dispositionFatal
// classification for one task (spec.md Section 4.7).
type FailurePolicy uint8

const (
	// PolicyFatal: registration/interest tasks — report up for the
	// caller to decide (typically: initiate graceful shutdown).
	PolicyFatal FailurePolicy = iota + 1
	// PolicyLogAndContinue: packet-send and notify tasks — soft state,
	// will be retransmitted or resynced later.
	PolicyLogAndContinue
	// PolicyCompensate: join tasks — attempt a compensating leave.
	PolicyCompensate
)

// Task is one polymorphic unit of work dispatched by a Queue (spec.md
// Section 4.7, Section 9 "Polymorphic task queue"). Each concrete task
// type below binds its own client reference and arguments at
// construction time; Dispatch needs nothing further.
type Task interface {
	Kind() string
	IsTeardown() bool
	NoRetryOnTransient() bool
	FailurePolicy() FailurePolicy
	Dispatch(done func(Outcome))
	// Compensate returns the task to enqueue at the head of the queue
	// when this task's policy is PolicyCompensate and it failed. Only
	// meaningful when FailurePolicy returns PolicyCompensate.
	Compensate() Task
}

// baseTask supplies the common no-op Task methods; concrete types embed
// it and override only what differs.
type baseTask struct{}

func (baseTask) IsTeardown() bool             { return false }
func (baseTask) NoRetryOnTransient() bool     { return false }
func (baseTask) FailurePolicy() FailurePolicy { return PolicyFatal }
func (baseTask) Compensate() Task             { return nil }

// RegisterUnregisterInterestTask implements the
// register_class_event_interest / deregister_class_event_interest pair.
type RegisterUnregisterInterestTask struct {
	baseTask
	Client     Client
	Target     string
	IsRegister bool
}

func (t *RegisterUnregisterInterestTask) Kind() string     { return "register_unregister_interest" }
func (t *RegisterUnregisterInterestTask) IsTeardown() bool { return !t.IsRegister }
func (t *RegisterUnregisterInterestTask) Dispatch(done func(Outcome)) {
	if t.IsRegister {
		t.Client.RegisterClassEventInterest(t.Target, done)
	} else {
		t.Client.DeregisterClassEventInterest(t.Target, done)
	}
}

// RegisterUnregisterReceiverTask implements register_receiver /
// unregister_receiver.
type RegisterUnregisterReceiverTask struct {
	baseTask
	Client        Client
	IfName        string
	VifName       string
	IPProto       int
	McastLoopback bool
	IsRegister    bool
}

func (t *RegisterUnregisterReceiverTask) Kind() string     { return "register_unregister_receiver" }
func (t *RegisterUnregisterReceiverTask) IsTeardown() bool { return !t.IsRegister }
func (t *RegisterUnregisterReceiverTask) Dispatch(done func(Outcome)) {
	if t.IsRegister {
		t.Client.RegisterReceiver(t.IfName, t.VifName, t.IPProto, t.McastLoopback, done)
	} else {
		t.Client.UnregisterReceiver(t.IfName, t.VifName, t.IPProto, done)
	}
}

// JoinLeaveMulticastGroupTask implements join_multicast_group /
// leave_multicast_group. Join failures attempt a compensating leave.
type JoinLeaveMulticastGroupTask struct {
	baseTask
	Client  Client
	IfName  string
	VifName string
	IPProto int
	Group   netip.Addr
	IsJoin  bool
}

func (t *JoinLeaveMulticastGroupTask) Kind() string     { return "join_leave_multicast_group" }
func (t *JoinLeaveMulticastGroupTask) IsTeardown() bool { return !t.IsJoin }
func (t *JoinLeaveMulticastGroupTask) FailurePolicy() FailurePolicy {
	if t.IsJoin {
		return PolicyCompensate
	}
	return PolicyFatal
}
func (t *JoinLeaveMulticastGroupTask) Compensate() Task {
	if !t.IsJoin {
		return nil
	}
	leave := *t
	leave.IsJoin = false
	return &leave
}
func (t *JoinLeaveMulticastGroupTask) Dispatch(done func(Outcome)) {
	if t.IsJoin {
		t.Client.JoinMulticastGroup(t.IfName, t.VifName, t.IPProto, t.Group, done)
	} else {
		t.Client.LeaveMulticastGroup(t.IfName, t.VifName, t.IPProto, t.Group, done)
	}
}

// SendProtocolMessageTask implements send(). Protocol messages are
// soft-state: this task never retries on transient failure (spec.md
// Section 4.7, "Protocol-send specifically does NOT retry"), and a
// permanent failure is logged and dropped, not fatal.
type SendProtocolMessageTask struct {
	baseTask
	Client  Client
	Message ProtocolMessage
}

func (t *SendProtocolMessageTask) Kind() string                 { return "send_protocol_message" }
func (t *SendProtocolMessageTask) NoRetryOnTransient() bool     { return true }
func (t *SendProtocolMessageTask) FailurePolicy() FailurePolicy { return PolicyLogAndContinue }
func (t *SendProtocolMessageTask) Dispatch(done func(Outcome)) {
	t.Client.SendProtocolMessage(t.Message, done)
}

// AddDeleteMembershipTask implements the Q-notify downstream upcall.
// Failures are logged and the queue advances; membership state will be
// resynced by the next Node.AddProtocol replay or subsequent report.
type AddDeleteMembershipTask struct {
	baseTask
	Client  NotifyClient
	VifName string
	Source  netip.Addr
	Group   netip.Addr
	IsAdd   bool
}

func (t *AddDeleteMembershipTask) Kind() string                 { return "add_delete_membership" }
func (t *AddDeleteMembershipTask) IsTeardown() bool             { return !t.IsAdd }
func (t *AddDeleteMembershipTask) FailurePolicy() FailurePolicy { return PolicyLogAndContinue }
func (t *AddDeleteMembershipTask) Dispatch(done func(Outcome)) {
	if t.IsAdd {
		t.Client.AddMembership(t.VifName, t.Source, t.Group, done)
	} else {
		t.Client.DeleteMembership(t.VifName, t.Source, t.Group, done)
	}
}
