package mgroup_test

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/mgroupd/mgroupd/internal/mgroup"
)

const testGroup = "224.1.1.1"

func report(event mgroup.EventType, sources ...netip.Addr) mgroup.Report {
	return mgroup.Report{
		Group:          addr(testGroup),
		Event:          event,
		Sources:        sources,
		Reporter:       addr("10.0.0.99"),
		MessageVersion: 3,
		IPTTL:          1,
	}
}

// apply sends every report in seq to the vif's GroupSet in order,
// discarding any notification produced along the way.
func apply(v *mgroup.Vif, seq ...mgroup.Report) {
	for _, r := range seq {
		v.Groups.HandleReport(r)
	}
}

func wantAddrs(t *testing.T, got mgroup.SourceSet, want ...string) {
	t.Helper()
	gotStrs := sortedAddrStrings(got)
	if len(gotStrs) != len(want) {
		t.Fatalf("got %v, want %v", gotStrs, want)
	}
	for i, w := range want {
		if gotStrs[i] != w {
			t.Fatalf("got %v, want %v", gotStrs, want)
		}
	}
}

func wantNotifications(t *testing.T, got []mgroup.Notification, want ...mgroup.Notification) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d notifications %+v, want %d %+v", len(got), got, len(want), want)
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.Source != w.Source || g.Group != w.Group || g.Action != w.Action {
			t.Fatalf("notification %d: got %+v, want %+v", i, g, w)
		}
	}
}

func joinNotif(source netip.Addr) mgroup.Notification {
	return mgroup.Notification{VifIndex: 1, VifName: "eth0", Source: source, Group: addr(testGroup), Action: mgroup.ActionJoin}
}

func pruneNotif(source netip.Addr) mgroup.Notification {
	return mgroup.Notification{VifIndex: 1, VifName: "eth0", Source: source, Group: addr(testGroup), Action: mgroup.ActionPrune}
}

// TestGroupRecordTransitions walks every (filter mode, record type)
// combination of the state-transition table (RFC 3376 Section 6.4,
// RFC 3810 Section 7.4), each seeded by a realistic setup sequence of
// prior reports rather than poking internal state directly.
func TestGroupRecordTransitions(t *testing.T) {
	t.Parallel()

	a, b, c := addr("10.0.0.2"), addr("10.0.0.3"), addr("10.0.0.4")

	tests := []struct {
		name        string
		setup       []mgroup.Report
		event       mgroup.Report
		wantMode    mgroup.FilterMode
		wantForward []string
		wantDont    []string
		wantNotifs  []mgroup.Notification
	}{
		{
			name:        "INCLUDE + IS_IN(B) unions forward set",
			setup:       []mgroup.Report{report(mgroup.EventIsInclude, a)},
			event:       report(mgroup.EventIsInclude, b),
			wantMode:    mgroup.ModeInclude,
			wantForward: []string{"10.0.0.2", "10.0.0.3"},
			wantDont:    nil,
			wantNotifs:  []mgroup.Notification{joinNotif(b)},
		},
		{
			name:        "INCLUDE + IS_EX(B) switches to EXCLUDE",
			setup:       []mgroup.Report{report(mgroup.EventIsInclude, a)},
			event:       report(mgroup.EventIsExclude, b),
			wantMode:    mgroup.ModeExclude,
			wantForward: nil,
			wantDont:    []string{"10.0.0.3"},
			wantNotifs:  []mgroup.Notification{pruneNotif(a), joinNotif(mgroup.ZeroSource(mgroup.FamilyV4)), pruneNotif(b)},
		},
		{
			name:        "INCLUDE + TO_IN(B) unions forward set and queries stale sources",
			setup:       []mgroup.Report{report(mgroup.EventIsInclude, a)},
			event:       report(mgroup.EventChangeToInclude, b),
			wantMode:    mgroup.ModeInclude,
			wantForward: []string{"10.0.0.2", "10.0.0.3"},
			wantDont:    nil,
			wantNotifs:  []mgroup.Notification{joinNotif(b)},
		},
		{
			name:        "INCLUDE + TO_EX(B) switches to EXCLUDE",
			setup:       []mgroup.Report{report(mgroup.EventIsInclude, a)},
			event:       report(mgroup.EventChangeToExclude, b),
			wantMode:    mgroup.ModeExclude,
			wantForward: nil,
			wantDont:    []string{"10.0.0.3"},
			wantNotifs:  []mgroup.Notification{pruneNotif(a), joinNotif(mgroup.ZeroSource(mgroup.FamilyV4)), pruneNotif(b)},
		},
		{
			name:        "INCLUDE + ALLOW(B) unions forward set",
			setup:       []mgroup.Report{report(mgroup.EventIsInclude, a)},
			event:       report(mgroup.EventAllow, b),
			wantMode:    mgroup.ModeInclude,
			wantForward: []string{"10.0.0.2", "10.0.0.3"},
			wantDont:    nil,
			wantNotifs:  []mgroup.Notification{joinNotif(b)},
		},
		{
			name:        "INCLUDE + BLOCK(A) schedules a query but changes no state",
			setup:       []mgroup.Report{report(mgroup.EventIsInclude, a)},
			event:       report(mgroup.EventBlock, a),
			wantMode:    mgroup.ModeInclude,
			wantForward: []string{"10.0.0.2"},
			wantDont:    nil,
			wantNotifs:  nil,
		},
		{
			name: "EXCLUDE + IS_IN(C) unions forward set",
			setup: []mgroup.Report{
				report(mgroup.EventIsExclude, b),
				report(mgroup.EventIsInclude, a),
			},
			event:       report(mgroup.EventIsInclude, c),
			wantMode:    mgroup.ModeExclude,
			wantForward: []string{"10.0.0.2", "10.0.0.4"},
			wantDont:    []string{"10.0.0.3"},
			wantNotifs:  []mgroup.Notification{joinNotif(c)},
		},
		{
			name: "EXCLUDE + IS_EX(C) replaces both sets",
			setup: []mgroup.Report{
				report(mgroup.EventIsExclude, b),
				report(mgroup.EventIsInclude, a),
			},
			event:       report(mgroup.EventIsExclude, c),
			wantMode:    mgroup.ModeExclude,
			wantForward: []string{"10.0.0.4"},
			wantDont:    nil,
			wantNotifs:  []mgroup.Notification{joinNotif(c), pruneNotif(a), joinNotif(b)},
		},
		{
			name: "EXCLUDE + TO_IN(C) unions forward set and requests queries",
			setup: []mgroup.Report{
				report(mgroup.EventIsExclude, b),
				report(mgroup.EventIsInclude, a),
			},
			event:       report(mgroup.EventChangeToInclude, c),
			wantMode:    mgroup.ModeExclude,
			wantForward: []string{"10.0.0.2", "10.0.0.4"},
			wantDont:    []string{"10.0.0.3"},
			wantNotifs:  []mgroup.Notification{joinNotif(c)},
		},
		{
			name: "EXCLUDE + TO_EX(C) replaces both sets",
			setup: []mgroup.Report{
				report(mgroup.EventIsExclude, b),
				report(mgroup.EventIsInclude, a),
			},
			event:       report(mgroup.EventChangeToExclude, c),
			wantMode:    mgroup.ModeExclude,
			wantForward: []string{"10.0.0.4"},
			wantDont:    nil,
			wantNotifs:  []mgroup.Notification{joinNotif(c), pruneNotif(a), joinNotif(b)},
		},
		{
			name: "EXCLUDE + ALLOW(C) unions forward set",
			setup: []mgroup.Report{
				report(mgroup.EventIsExclude, b),
				report(mgroup.EventIsInclude, a),
			},
			event:       report(mgroup.EventAllow, c),
			wantMode:    mgroup.ModeExclude,
			wantForward: []string{"10.0.0.2", "10.0.0.4"},
			wantDont:    []string{"10.0.0.3"},
			wantNotifs:  []mgroup.Notification{joinNotif(c)},
		},
		{
			name: "EXCLUDE + BLOCK(A) schedules a query but changes no state",
			setup: []mgroup.Report{
				report(mgroup.EventIsExclude, b),
				report(mgroup.EventIsInclude, a),
			},
			event:       report(mgroup.EventBlock, a),
			wantMode:    mgroup.ModeExclude,
			wantForward: []string{"10.0.0.2"},
			wantDont:    []string{"10.0.0.3"},
			wantNotifs:  nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var notifs []mgroup.Notification
			v := newTestVif(t, &notifs)
			apply(v, tt.setup...)
			notifs = nil // discard setup notifications, keep only the event under test

			v.Groups.HandleReport(tt.event)

			rec, ok := v.Groups.Get(addr(testGroup))
			if !ok {
				t.Fatalf("group record missing after transition")
			}
			if rec.Mode != tt.wantMode {
				t.Fatalf("mode = %s, want %s", rec.Mode, tt.wantMode)
			}
			wantAddrs(t, rec.ForwardSources, tt.wantForward...)
			wantAddrs(t, rec.DontForwardSources, tt.wantDont...)
			wantNotifications(t, notifs, tt.wantNotifs...)
		})
	}
}

// TestGroupRecordCompatMode verifies the static-floor-then-host-present-
// timer precedence of spec.md Section 4.3.4.
func TestGroupRecordCompatMode(t *testing.T) {
	t.Parallel()

	v := newTestVif(t, nil)
	apply(v, report(mgroup.EventIsInclude, addr("10.0.0.2")))
	rec, ok := v.Groups.Get(addr(testGroup))
	if !ok {
		t.Fatalf("group record missing")
	}
	if mode := rec.CompatMode(); mode != mgroup.CompatV3 {
		t.Fatalf("fresh group with v3 floor: CompatMode() = %s, want v3", mode)
	}

	v2Report := report(mgroup.EventIsInclude, addr("10.0.0.2"))
	v2Report.MessageVersion = 2
	v.Groups.HandleReport(v2Report)
	if mode := rec.CompatMode(); mode != mgroup.CompatV2 {
		t.Fatalf("after a v2 report: CompatMode() = %s, want v2 (host-present timer armed)", mode)
	}
}

// TestGroupRecordIsUnused verifies the deletion criteria of spec.md
// Section 3.
func TestGroupRecordIsUnused(t *testing.T) {
	t.Parallel()

	v := newTestVif(t, nil)
	a := addr("10.0.0.2")

	apply(v, report(mgroup.EventIsInclude, a))
	rec, _ := v.Groups.Get(addr(testGroup))
	if rec.IsUnused() {
		t.Fatalf("INCLUDE with a forwarded source must not be unused")
	}

	rec.HandleSourceExpired(a)
	if !rec.IsUnused() {
		t.Fatalf("INCLUDE with an empty forward set must be unused")
	}
}

// TestGroupRecordSourceExpiryIncludeDeletesOutright exercises spec.md
// Section 4.1's INCLUDE-mode source expiry: the source is dropped and a
// single PRUNE is emitted.
func TestGroupRecordSourceExpiryIncludeDeletesOutright(t *testing.T) {
	t.Parallel()

	a := addr("10.0.0.2")
	var notifs []mgroup.Notification
	v := newTestVif(t, &notifs)
	apply(v, report(mgroup.EventIsInclude, a))
	notifs = nil

	rec, _ := v.Groups.Get(addr(testGroup))
	rec.HandleSourceExpired(a)

	wantAddrs(t, rec.ForwardSources)
	wantNotifications(t, notifs, pruneNotif(a))
}

// TestGroupRecordSourceExpiryExcludeMigratesAndDoublePrunes exercises
// the EXCLUDE-mode migration path documented on HandleSourceExpired: the
// source moves from forward to dont-forward without deletion, and the
// generic notification diff naturally emits PRUNE twice (once as it
// leaves the forward set, once as it appears in the dont-forward set).
func TestGroupRecordSourceExpiryExcludeMigratesAndDoublePrunes(t *testing.T) {
	t.Parallel()

	a, b := addr("10.0.0.2"), addr("10.0.0.3")
	var notifs []mgroup.Notification
	v := newTestVif(t, &notifs)
	apply(v,
		report(mgroup.EventIsExclude, b),
		report(mgroup.EventIsInclude, a),
	)
	notifs = nil

	rec, _ := v.Groups.Get(addr(testGroup))
	rec.HandleSourceExpired(a)

	wantAddrs(t, rec.ForwardSources)
	wantAddrs(t, rec.DontForwardSources, "10.0.0.2", "10.0.0.3")
	wantNotifications(t, notifs, pruneNotif(a), pruneNotif(a))
}

// TestGroupTimerExpiryExcludeToInclude is one of the few tests in this
// package that let a real timer fire, to exercise the wiring from
// GroupRecord.armGroupTimer through the Vif event loop rather than
// calling the handler directly (which would need the unexported seq
// the timer callback is guarded by).
func TestGroupTimerExpiryExcludeToInclude(t *testing.T) {
	t.Parallel()

	notifyCh := make(chan mgroup.Notification, 8)
	settings := mgroup.Settings{
		ProtoVersion:            3,
		QueryInterval:           20 * time.Millisecond,
		QueryLastMemberInterval: 20 * time.Millisecond,
		QueryResponseInterval:   10 * time.Millisecond,
		RobustCount:             1,
	}
	v := mgroup.NewVif(1, "eth0", mgroup.FamilyV4, addr("10.0.0.1"), settings,
		func(n mgroup.Notification) { notifyCh <- n },
		func(mgroup.OutboundQuery) {},
	)
	v.Start()
	defer v.Stop()

	group := addr(testGroup)
	v.Receive(mgroup.Report{Group: group, Event: mgroup.EventIsExclude, Reporter: addr("10.0.0.5"), MessageVersion: 3, IPTTL: 1})

	first := recvNotification(t, notifyCh, 2*time.Second)
	if first.Action != mgroup.ActionJoin || !mgroup.IsZeroSource(first.Source) {
		t.Fatalf("expected ASM join on entering EXCLUDE, got %+v", first)
	}

	second := recvNotification(t, notifyCh, 2*time.Second)
	if second.Action != mgroup.ActionPrune || !mgroup.IsZeroSource(second.Source) {
		t.Fatalf("expected ASM prune on group timer expiry, got %+v", second)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := v.Groups.Get(group); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("group record was not reaped after becoming unused")
}

// TestGroupRecordQueryTickSuppressedInCompatV1 covers a group that
// already armed a Group-Specific Query retransmission while in v3
// compatibility, then heard an IGMPv1 Membership Report for the same
// group before the retransmission timer fired. The retransmission must
// not go out: group_query_periodic_timeout()'s is_igmpv1_mode() early
// return (xorp/mld6igmp/mld6igmp_group_record.cc) never sends a
// Group-Specific or Group-and-Source-Specific Query once the group is
// in IGMPv1 mode, even if it was armed before the v1 host appeared.
func TestGroupRecordQueryTickSuppressedInCompatV1(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var sent []mgroup.OutboundQuery
	settings := mgroup.Settings{
		ProtoVersion:            3,
		QueryInterval:           1 * time.Hour,
		QueryLastMemberInterval: 30 * time.Millisecond,
		QueryResponseInterval:   10 * time.Millisecond,
		RobustCount:             2,
	}
	v := mgroup.NewVif(1, "eth0", mgroup.FamilyV4, addr("10.0.0.1"), settings,
		func(mgroup.Notification) {},
		func(q mgroup.OutboundQuery) {
			mu.Lock()
			sent = append(sent, q)
			mu.Unlock()
		},
	)
	v.Start()
	defer v.Stop()

	group := addr(testGroup)
	// A v3 host excludes everything but 10.0.0.5; a second v3 host then
	// asks to include 10.0.0.6, which arms a Group-Specific Query
	// retransmission (requestGroupQuery).
	v.Receive(mgroup.Report{Group: group, Event: mgroup.EventIsExclude, Sources: addrs("10.0.0.5"), Reporter: addr("10.0.0.5"), MessageVersion: 3, IPTTL: 1})
	v.Receive(mgroup.Report{Group: group, Event: mgroup.EventChangeToInclude, Sources: addrs("10.0.0.6"), Reporter: addr("10.0.0.6"), MessageVersion: 3, IPTTL: 1})
	// Before that retransmission fires, a v1 host's Membership Report
	// arrives for the same group: the record stays in EXCLUDE mode, but
	// its CompatMode becomes v1.
	v.Receive(mgroup.Report{Group: group, Event: mgroup.EventIsExclude, Reporter: addr("10.0.0.7"), MessageVersion: 1, IPTTL: 1})

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, q := range sent {
		if q.Kind == mgroup.QueryGroupSpecific || q.Kind == mgroup.QueryGroupAndSource {
			t.Fatalf("unexpected %v query sent after the group fell into CompatV1: %+v", q.Kind, q)
		}
	}
}

func recvNotification(t *testing.T, ch <-chan mgroup.Notification, timeout time.Duration) mgroup.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for notification")
		return mgroup.Notification{}
	}
}
