package rpcqueue_test

import (
	"net/netip"
	"testing"

	"github.com/mgroupd/mgroupd/internal/rpcqueue"
)

func TestRegisterUnregisterInterestTaskTeardownAndDispatch(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	reg := &rpcqueue.RegisterUnregisterInterestTask{Client: client, Target: "x", IsRegister: true}
	if reg.IsTeardown() {
		t.Fatalf("a register task must not be a teardown task")
	}
	if reg.FailurePolicy() != rpcqueue.PolicyFatal {
		t.Fatalf("FailurePolicy() = %v, want PolicyFatal", reg.FailurePolicy())
	}
	reg.Dispatch(func(rpcqueue.Outcome) {})
	if client.callCount("RegisterClassEventInterest") != 1 {
		t.Fatalf("Dispatch must call RegisterClassEventInterest for IsRegister=true")
	}

	unreg := &rpcqueue.RegisterUnregisterInterestTask{Client: client, Target: "x", IsRegister: false}
	if !unreg.IsTeardown() {
		t.Fatalf("an unregister task must be a teardown task")
	}
	unreg.Dispatch(func(rpcqueue.Outcome) {})
	if client.callCount("DeregisterClassEventInterest") != 1 {
		t.Fatalf("Dispatch must call DeregisterClassEventInterest for IsRegister=false")
	}
}

func TestRegisterUnregisterReceiverTaskTeardownAndDispatch(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	reg := &rpcqueue.RegisterUnregisterReceiverTask{Client: client, IfName: "eth0", VifName: "eth0", IPProto: 2, IsRegister: true}
	if reg.IsTeardown() {
		t.Fatalf("a register-receiver task must not be a teardown task")
	}
	reg.Dispatch(func(rpcqueue.Outcome) {})
	if client.callCount("RegisterReceiver") != 1 {
		t.Fatalf("Dispatch must call RegisterReceiver for IsRegister=true")
	}

	unreg := &rpcqueue.RegisterUnregisterReceiverTask{Client: client, IfName: "eth0", VifName: "eth0", IPProto: 2, IsRegister: false}
	if !unreg.IsTeardown() {
		t.Fatalf("an unregister-receiver task must be a teardown task")
	}
	unreg.Dispatch(func(rpcqueue.Outcome) {})
	if client.callCount("UnregisterReceiver") != 1 {
		t.Fatalf("Dispatch must call UnregisterReceiver for IsRegister=false")
	}
}

func TestJoinLeaveMulticastGroupTaskPolicyAndCompensate(t *testing.T) {
	t.Parallel()

	group := netip.MustParseAddr("224.1.1.1")
	join := &rpcqueue.JoinLeaveMulticastGroupTask{IfName: "eth0", VifName: "eth0", IPProto: 2, Group: group, IsJoin: true}
	if join.IsTeardown() {
		t.Fatalf("a join task must not be a teardown task")
	}
	if join.FailurePolicy() != rpcqueue.PolicyCompensate {
		t.Fatalf("join FailurePolicy() = %v, want PolicyCompensate", join.FailurePolicy())
	}
	comp := join.Compensate()
	leave, ok := comp.(*rpcqueue.JoinLeaveMulticastGroupTask)
	if !ok {
		t.Fatalf("Compensate() must return a *JoinLeaveMulticastGroupTask, got %T", comp)
	}
	if leave.IsJoin {
		t.Fatalf("the compensating task must be a leave (IsJoin=false)")
	}
	if leave.Group != group || leave.IfName != "eth0" || leave.VifName != "eth0" {
		t.Fatalf("the compensating leave must preserve the join's target: got %+v", leave)
	}

	leaveTask := &rpcqueue.JoinLeaveMulticastGroupTask{IfName: "eth0", VifName: "eth0", IPProto: 2, Group: group, IsJoin: false}
	if !leaveTask.IsTeardown() {
		t.Fatalf("a leave task must be a teardown task")
	}
	if leaveTask.FailurePolicy() != rpcqueue.PolicyFatal {
		t.Fatalf("leave FailurePolicy() = %v, want PolicyFatal", leaveTask.FailurePolicy())
	}
	if leaveTask.Compensate() != nil {
		t.Fatalf("a leave task must never itself produce a compensating task")
	}
}

func TestSendProtocolMessageTaskNeverRetriesAndLogsAndContinues(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	task := &rpcqueue.SendProtocolMessageTask{Client: client, Message: rpcqueue.ProtocolMessage{IfName: "eth0"}}
	if !task.NoRetryOnTransient() {
		t.Fatalf("SendProtocolMessageTask.NoRetryOnTransient() must be true")
	}
	if task.FailurePolicy() != rpcqueue.PolicyLogAndContinue {
		t.Fatalf("FailurePolicy() = %v, want PolicyLogAndContinue", task.FailurePolicy())
	}
	if task.IsTeardown() {
		t.Fatalf("a protocol send is never a teardown task")
	}
	task.Dispatch(func(rpcqueue.Outcome) {})
	if client.callCount("SendProtocolMessage") != 1 {
		t.Fatalf("Dispatch must call SendProtocolMessage")
	}
}

func TestAddDeleteMembershipTaskTeardownAndDispatch(t *testing.T) {
	t.Parallel()

	notify := newFakeNotifyClient()
	source := netip.MustParseAddr("10.0.0.2")
	group := netip.MustParseAddr("224.1.1.1")

	add := &rpcqueue.AddDeleteMembershipTask{Client: notify, VifName: "eth0", Source: source, Group: group, IsAdd: true}
	if add.IsTeardown() {
		t.Fatalf("an add-membership task must not be a teardown task")
	}
	if add.FailurePolicy() != rpcqueue.PolicyLogAndContinue {
		t.Fatalf("FailurePolicy() = %v, want PolicyLogAndContinue", add.FailurePolicy())
	}
	add.Dispatch(func(rpcqueue.Outcome) {})
	if notify.callCount("AddMembership") != 1 {
		t.Fatalf("Dispatch must call AddMembership for IsAdd=true")
	}

	del := &rpcqueue.AddDeleteMembershipTask{Client: notify, VifName: "eth0", Source: source, Group: group, IsAdd: false}
	if !del.IsTeardown() {
		t.Fatalf("a delete-membership task must be a teardown task")
	}
	del.Dispatch(func(rpcqueue.Outcome) {})
	if notify.callCount("DeleteMembership") != 1 {
		t.Fatalf("Dispatch must call DeleteMembership for IsAdd=false")
	}
}
