package mgroup_test

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/mgroupd/mgroupd/internal/mgroup"
)

func vifDesc(index uint32, name string, primary netip.Addr) mgroup.VifDesc {
	return mgroup.VifDesc{
		Index:       index,
		Name:        name,
		PrimaryAddr: primary,
		Addrs: []mgroup.InterfaceAddr{
			{Addr: primary, Prefix: netip.MustParsePrefix("10.0.0.0/24")},
		},
		Settings: longSettings(),
	}
}

func TestNodeAddDeleteVif(t *testing.T) {
	t.Parallel()

	n := mgroup.NewNode(mgroup.FamilyV4)
	desc := vifDesc(1, "eth0", addr("10.0.0.1"))

	if err := n.AddVif(desc); err != nil {
		t.Fatalf("AddVif: %v", err)
	}
	if err := n.AddVif(desc); err == nil {
		t.Fatalf("AddVif must reject a duplicate name")
	}

	if _, ok := n.VifByName("eth0"); !ok {
		t.Fatalf("VifByName(eth0) not found after AddVif")
	}
	if _, ok := n.Vif(1); !ok {
		t.Fatalf("Vif(1) not found after AddVif")
	}

	if err := n.DeleteVif("eth0"); err != nil {
		t.Fatalf("DeleteVif: %v", err)
	}
	if err := n.DeleteVif("eth0"); err == nil {
		t.Fatalf("DeleteVif must fail on an already-removed vif")
	}
	if _, ok := n.VifByName("eth0"); ok {
		t.Fatalf("vif still present after DeleteVif")
	}
}

func TestNodeIsDirectlyConnected(t *testing.T) {
	t.Parallel()

	n := mgroup.NewNode(mgroup.FamilyV4)
	desc := vifDesc(1, "eth0", addr("10.0.0.1"))
	if err := n.AddVif(desc); err != nil {
		t.Fatalf("AddVif: %v", err)
	}
	vif, _ := n.Vif(1)
	vif.Start()
	defer vif.Stop()

	if !n.IsDirectlyConnected(1, addr("10.0.0.55")) {
		t.Fatalf("10.0.0.55 should be directly connected over eth0's /24")
	}
	if n.IsDirectlyConnected(1, addr("192.168.1.1")) {
		t.Fatalf("192.168.1.1 must not be directly connected")
	}
	if n.IsDirectlyConnected(99, addr("10.0.0.1")) {
		t.Fatalf("an unknown vif index must never be directly connected")
	}
}

func TestNodeReconcileVifsAddsUpdatesAndRemoves(t *testing.T) {
	t.Parallel()

	n := mgroup.NewNode(mgroup.FamilyV4)
	n.ReconcileVifs([]mgroup.VifDesc{
		vifDesc(1, "eth0", addr("10.0.0.1")),
		vifDesc(2, "eth1", addr("10.0.1.1")),
	})
	if len(n.Vifs()) != 2 {
		t.Fatalf("expected 2 vifs after initial reconcile, got %d", len(n.Vifs()))
	}

	eth0, _ := n.VifByName("eth0")
	eth0.Start()
	defer func() {
		if eth0.IsUp {
			eth0.Stop()
		}
	}()

	updated := vifDesc(1, "eth0", addr("10.0.0.1"))
	updated.Settings.RobustCount = 7
	n.ReconcileVifs([]mgroup.VifDesc{updated})

	if len(n.Vifs()) != 1 {
		t.Fatalf("expected eth1 to be removed by reconcile, got %d vifs", len(n.Vifs()))
	}
	eth0Again, ok := n.VifByName("eth0")
	if !ok {
		t.Fatalf("eth0 must survive reconcile (still wanted)")
	}
	if eth0Again != eth0 {
		t.Fatalf("reconcile must update an existing vif in place, not replace it")
	}
	if !eth0Again.IsUp {
		t.Fatalf("reconcile must not stop a vif that is still wanted")
	}
	if eth0Again.Settings().RobustCount != 7 {
		t.Fatalf("reconcile must apply updated settings in place")
	}
	if _, ok := n.VifByName("eth1"); ok {
		t.Fatalf("eth1 must be removed: no longer in the wanted set")
	}
}

func TestNodeProtoRecvDropsUnknownOrDownVif(t *testing.T) {
	t.Parallel()

	n := mgroup.NewNode(mgroup.FamilyV4)
	if err := n.AddVif(vifDesc(1, "eth0", addr("10.0.0.1"))); err != nil {
		t.Fatalf("AddVif: %v", err)
	}
	vif, _ := n.VifByName("eth0")

	// The vif is not yet started: ProtoRecv must drop silently rather
	// than post onto an event loop that is not running.
	n.ProtoRecv("eth0", mgroup.Report{Group: addr(testGroup), Event: mgroup.EventIsInclude, Reporter: addr("10.0.0.9"), MessageVersion: 3, IPTTL: 1})
	n.ProtoRecv("does-not-exist", mgroup.Report{Group: addr(testGroup), Event: mgroup.EventIsInclude, Reporter: addr("10.0.0.9"), MessageVersion: 3, IPTTL: 1})

	if _, ok := vif.Groups.Get(addr(testGroup)); ok {
		t.Fatalf("ProtoRecv must not dispatch to a vif that is not up")
	}

	vif.Start()
	n.ProtoRecv("eth0", mgroup.Report{Group: addr(testGroup), Event: mgroup.EventIsInclude, Sources: addrs("10.0.0.2"), Reporter: addr("10.0.0.9"), MessageVersion: 3, IPTTL: 1})
	vif.Stop() // synchronization point: drains the posted report before we inspect state

	if _, ok := vif.Groups.Get(addr(testGroup)); !ok {
		t.Fatalf("ProtoRecv must dispatch to a vif that is up")
	}
}

// TestNodeAddProtocolReplaysExcludeModeGroups verifies spec.md Section
// 4.6 and Section 9's subscriber re-sync: a protocol attaching after
// groups are already in EXCLUDE mode gets a JOIN(zero, group) replay for
// each one.
func TestNodeAddProtocolReplaysExcludeModeGroups(t *testing.T) {
	t.Parallel()

	n := mgroup.NewNode(mgroup.FamilyV4)
	if err := n.AddVif(vifDesc(1, "eth0", addr("10.0.0.1"))); err != nil {
		t.Fatalf("AddVif: %v", err)
	}
	vif, _ := n.Vif(1)

	vif.Groups.HandleReport(mgroup.Report{Group: addr(testGroup), Event: mgroup.EventIsExclude, Reporter: addr("10.0.0.9"), MessageVersion: 3, IPTTL: 1})
	vif.Groups.HandleReport(mgroup.Report{Group: addr("224.2.2.2"), Event: mgroup.EventIsInclude, Sources: addrs("10.0.0.2"), Reporter: addr("10.0.0.9"), MessageVersion: 3, IPTTL: 1})

	var mu sync.Mutex
	var got []mgroup.Notification
	sink := notifySinkFunc(func(ntf mgroup.Notification) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ntf)
	})

	if err := n.AddProtocol("pim", 0, 1, sink); err != nil {
		t.Fatalf("AddProtocol: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected exactly one replayed JOIN for the one EXCLUDE-mode group, got %+v", got)
	}
	if got[0].Group != addr(testGroup) || got[0].Action != mgroup.ActionJoin || !mgroup.IsZeroSource(got[0].Source) {
		t.Fatalf("replayed notification = %+v, want JOIN(zero, %s)", got[0], testGroup)
	}
}

func TestNodeJoinPruneNotifyRoutingFansOutByVif(t *testing.T) {
	t.Parallel()

	n := mgroup.NewNode(mgroup.FamilyV4)
	if err := n.AddVif(vifDesc(1, "eth0", addr("10.0.0.1"))); err != nil {
		t.Fatalf("AddVif: %v", err)
	}
	if err := n.AddVif(vifDesc(2, "eth1", addr("10.0.1.1"))); err != nil {
		t.Fatalf("AddVif: %v", err)
	}

	var mu sync.Mutex
	var vif1Count, vif2Count int
	if err := n.AddProtocol("pim", 0, 1, notifySinkFunc(func(mgroup.Notification) {
		mu.Lock()
		vif1Count++
		mu.Unlock()
	})); err != nil {
		t.Fatalf("AddProtocol vif1: %v", err)
	}
	if err := n.AddProtocol("pim", 0, 2, notifySinkFunc(func(mgroup.Notification) {
		mu.Lock()
		vif2Count++
		mu.Unlock()
	})); err != nil {
		t.Fatalf("AddProtocol vif2: %v", err)
	}

	n.JoinPruneNotifyRouting(1, addr("10.0.0.2"), addr(testGroup), mgroup.ActionJoin)

	mu.Lock()
	defer mu.Unlock()
	if vif1Count != 1 || vif2Count != 0 {
		t.Fatalf("notification must fan out only to subscribers on the addressed vif: vif1=%d vif2=%d", vif1Count, vif2Count)
	}
}

func TestNodeReadiness(t *testing.T) {
	t.Parallel()

	n := mgroup.NewNode(mgroup.FamilyV4)
	readyCh := make(chan struct{})
	n.OnReady(func() { close(readyCh) })

	n.IncrStartupRequests()
	if n.IsReady() {
		t.Fatalf("node must not be ready with an outstanding startup request")
	}

	n.SetInterfaceMirrorReady()
	if n.IsReady() {
		t.Fatalf("node must not be ready until the outstanding startup request completes")
	}

	n.DecrStartupRequests()

	select {
	case <-readyCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnReady callback was never invoked")
	}
	if !n.IsReady() {
		t.Fatalf("node must report ready after OnReady fires")
	}
}

type notifySinkFunc func(mgroup.Notification)

func (f notifySinkFunc) Notify(n mgroup.Notification) { f(n) }
