package mgroup_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/mgroupd/mgroupd/internal/mgroup"
)

// TestGroupSetReapsUnusedRecordAfterSourceExpiry verifies GroupSet's
// find-or-create-then-reap dispatch discipline (spec.md Section 4.4):
// once a group's last forwarded source's timer expires for real (routed
// through the Vif event loop, not called directly), and the group is
// left with nothing to forward, the record is removed from the set
// entirely rather than left behind empty.
func TestGroupSetReapsUnusedRecordAfterSourceExpiry(t *testing.T) {
	t.Parallel()

	settings := mgroup.Settings{
		ProtoVersion:            3,
		QueryInterval:           20 * time.Millisecond,
		QueryLastMemberInterval: 20 * time.Millisecond,
		QueryResponseInterval:   10 * time.Millisecond,
		RobustCount:             1,
	}
	v := mgroup.NewVif(1, "eth0", mgroup.FamilyV4, addr("10.0.0.1"), settings,
		func(mgroup.Notification) {},
		func(mgroup.OutboundQuery) {},
	)
	v.Start()
	defer v.Stop()

	group := addr(testGroup)
	v.Receive(report2(group, mgroup.EventIsInclude, addr("10.0.0.2")))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := v.Groups.Get(group); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("group record was not reaped after its last source's timer expired")
}

// TestGroupSetSortedGroupsOrdering verifies deterministic iteration
// order for "show group" output and subscriber resync replay.
func TestGroupSetSortedGroupsOrdering(t *testing.T) {
	t.Parallel()

	v := newTestVif(t, nil)
	v.Groups.HandleReport(report2(addr("224.3.3.3"), mgroup.EventIsInclude, addr("10.0.0.2")))
	v.Groups.HandleReport(report2(addr("224.1.1.1"), mgroup.EventIsInclude, addr("10.0.0.2")))
	v.Groups.HandleReport(report2(addr("224.2.2.2"), mgroup.EventIsInclude, addr("10.0.0.2")))

	groups := v.Groups.SortedGroups()
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	want := []string{"224.1.1.1", "224.2.2.2", "224.3.3.3"}
	for i, g := range groups {
		if g.Group.String() != want[i] {
			t.Fatalf("groups[%d] = %s, want %s (sorted order)", i, g.Group, want[i])
		}
	}
}

func report2(group netip.Addr, event mgroup.EventType, sources ...netip.Addr) mgroup.Report {
	return mgroup.Report{Group: group, Event: event, Sources: sources, Reporter: addr("10.0.0.9"), MessageVersion: 3, IPTTL: 1}
}
