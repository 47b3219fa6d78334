package rpcqueue_test

import (
	"net/netip"
	"sync"

	"github.com/mgroupd/mgroupd/internal/rpcqueue"
)

// fakeClient is a hand-rolled stand-in for the FEA/MFEA/finder RPC
// surface: every method pops the next scripted Outcome for its name
// (defaulting to OK when none was scripted) and records the call for
// assertions. done is invoked synchronously, which is sufficient to
// drive the queue's dispatch discipline since Queue never holds its
// mutex across a Dispatch call.
type fakeClient struct {
	mu       sync.Mutex
	outcomes map[string][]rpcqueue.Outcome
	calls    []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{outcomes: make(map[string][]rpcqueue.Outcome)}
}

// script queues outcomes to be returned by successive calls to method,
// in order; once the script is exhausted, OK is returned.
func (f *fakeClient) script(method string, outcomes ...rpcqueue.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[method] = append(f.outcomes[method], outcomes...)
}

func (f *fakeClient) pop(method string) rpcqueue.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	q := f.outcomes[method]
	if len(q) == 0 {
		return rpcqueue.OK
	}
	f.outcomes[method] = q[1:]
	return q[0]
}

func (f *fakeClient) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeClient) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeClient) RegisterInterest(target string, done func(rpcqueue.Outcome)) {
	done(f.pop("RegisterInterest"))
}
func (f *fakeClient) UnregisterInterest(target string, done func(rpcqueue.Outcome)) {
	done(f.pop("UnregisterInterest"))
}
func (f *fakeClient) RegisterReceiver(ifName, vifName string, ipProto int, mcastLoopback bool, done func(rpcqueue.Outcome)) {
	done(f.pop("RegisterReceiver"))
}
func (f *fakeClient) UnregisterReceiver(ifName, vifName string, ipProto int, done func(rpcqueue.Outcome)) {
	done(f.pop("UnregisterReceiver"))
}
func (f *fakeClient) JoinMulticastGroup(ifName, vifName string, ipProto int, group netip.Addr, done func(rpcqueue.Outcome)) {
	done(f.pop("JoinMulticastGroup"))
}
func (f *fakeClient) LeaveMulticastGroup(ifName, vifName string, ipProto int, group netip.Addr, done func(rpcqueue.Outcome)) {
	done(f.pop("LeaveMulticastGroup"))
}
func (f *fakeClient) SendProtocolMessage(msg rpcqueue.ProtocolMessage, done func(rpcqueue.Outcome)) {
	done(f.pop("SendProtocolMessage"))
}
func (f *fakeClient) RegisterClassEventInterest(target string, done func(rpcqueue.Outcome)) {
	done(f.pop("RegisterClassEventInterest"))
}
func (f *fakeClient) DeregisterClassEventInterest(target string, done func(rpcqueue.Outcome)) {
	done(f.pop("DeregisterClassEventInterest"))
}

// fakeNotifyClient is the downstream add/delete-membership stand-in.
type fakeNotifyClient struct {
	mu       sync.Mutex
	outcomes map[string][]rpcqueue.Outcome
	calls    []string
}

func newFakeNotifyClient() *fakeNotifyClient {
	return &fakeNotifyClient{outcomes: make(map[string][]rpcqueue.Outcome)}
}

func (f *fakeNotifyClient) script(method string, outcomes ...rpcqueue.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[method] = append(f.outcomes[method], outcomes...)
}

func (f *fakeNotifyClient) pop(method string) rpcqueue.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	q := f.outcomes[method]
	if len(q) == 0 {
		return rpcqueue.OK
	}
	f.outcomes[method] = q[1:]
	return q[0]
}

func (f *fakeNotifyClient) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeNotifyClient) AddMembership(vifName string, source, group netip.Addr, done func(rpcqueue.Outcome)) {
	done(f.pop("AddMembership"))
}
func (f *fakeNotifyClient) DeleteMembership(vifName string, source, group netip.Addr, done func(rpcqueue.Outcome)) {
	done(f.pop("DeleteMembership"))
}
