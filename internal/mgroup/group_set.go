package mgroup

import (
	"net/netip"
	"sort"
	"time"
)

// GroupSet is the mapping group → GroupRecord owned by one Vif (spec.md
// Section 4.4). It is a thin dispatcher: locate-or-create, delegate,
// reap if the record became unused.
//
// Grounded on xorp/mld6igmp/mld6igmp_vif.cc's group-record map and the
// process_mode_is_include/... family of dispatch methods that wrap the
// equivalent GroupRecord methods with find-or-create and garbage
// collection.
type GroupSet struct {
	vif    *Vif
	groups map[netip.Addr]*GroupRecord
}

func newGroupSet(vif *Vif) *GroupSet {
	return &GroupSet{vif: vif, groups: make(map[netip.Addr]*GroupRecord)}
}

// Get returns the record for group, if one exists.
func (gs *GroupSet) Get(group netip.Addr) (*GroupRecord, bool) {
	g, ok := gs.groups[group]
	return g, ok
}

// SortedGroups returns every record sorted by group address, for
// deterministic "show group" output and subscriber resync replay.
func (gs *GroupSet) SortedGroups() []*GroupRecord {
	out := make([]*GroupRecord, 0, len(gs.groups))
	for _, g := range gs.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group.Less(out[j].Group) })
	return out
}

func (gs *GroupSet) getOrCreate(group netip.Addr) *GroupRecord {
	g, ok := gs.groups[group]
	if !ok {
		g = newGroupRecord(gs.vif, group)
		gs.groups[group] = g
	}
	return g
}

func (gs *GroupSet) reap(g *GroupRecord) {
	deleted := g.IsUnused()
	if deleted {
		delete(gs.groups, g.Group)
	}
	gs.reportMetrics(g, deleted)
}

// reportMetrics publishes the vif-groups and group-sources gauges after
// every state-changing dispatch (SPEC_FULL.md Section 4.10). Called from
// reap, which every mutating GroupSet method already invokes.
func (gs *GroupSet) reportMetrics(g *GroupRecord, deleted bool) {
	if gs.vif.metrics == nil {
		return
	}
	gs.vif.metrics.SetVifGroups(gs.vif.Name, len(gs.groups))
	n := len(g.ForwardSources)
	if deleted {
		n = 0
	}
	gs.vif.metrics.SetGroupSources(gs.vif.Name, g.Group.String(), g.Mode.String(), n)
}

// HandleReport dispatches one parsed report to its GroupRecord,
// creating the record on demand, and reaps it afterward if it became
// unused.
func (gs *GroupSet) HandleReport(report Report) {
	g := gs.getOrCreate(report.Group)
	g.HandleReport(report)
	gs.reap(g)
}

// HandleSourceExpired dispatches a source-timer expiry event to the
// owning group, guarding against a stale event whose seq no longer
// matches the record's current generation.
func (gs *GroupSet) HandleSourceExpired(group, source netip.Addr, seq uint64) {
	g, ok := gs.groups[group]
	if !ok {
		return
	}
	rec, ok := g.ForwardSources.Get(source)
	if !ok || seq != rec.currentSeq() {
		return
	}
	g.HandleSourceExpired(source)
	gs.reap(g)
}

// HandleGroupTimerExpired dispatches a group-timer expiry event.
func (gs *GroupSet) HandleGroupTimerExpired(group netip.Addr, seq uint64) {
	g, ok := gs.groups[group]
	if !ok {
		return
	}
	g.HandleGroupTimerExpired(seq)
	gs.reap(g)
}

// HandleQueryTick dispatches a group-and-source-specific-query
// retransmission tick.
func (gs *GroupSet) HandleQueryTick(group netip.Addr, seq uint64) {
	g, ok := gs.groups[group]
	if !ok {
		return
	}
	g.HandleQueryTick(seq)
	gs.reap(g)
}

// HandleV1TimerExpired dispatches a v1-host-present timer expiry.
func (gs *GroupSet) HandleV1TimerExpired(group netip.Addr, seq uint64) {
	if g, ok := gs.groups[group]; ok {
		g.HandleV1TimerExpired(seq)
	}
}

// HandleV2TimerExpired dispatches a v2/MLDv1-host-present timer expiry.
func (gs *GroupSet) HandleV2TimerExpired(group netip.Addr, seq uint64) {
	if g, ok := gs.groups[group]; ok {
		g.HandleV2TimerExpired(seq)
	}
}

// LowerGroupTimer implements spec.md Section 4.4's lower_group_timer:
// on hearing a Group-Specific Query, lower the addressed group's timer
// toward last_member_query_count × last_member_query_interval.
func (gs *GroupSet) LowerGroupTimer(group netip.Addr, d time.Duration) {
	if g, ok := gs.groups[group]; ok {
		g.LowerGroupTimer(d)
	}
}

// LowerSourceTimer implements spec.md Section 4.4's lower_source_timer:
// on hearing a Group-and-Source-Specific Query, lower the addressed
// sources' timers likewise.
func (gs *GroupSet) LowerSourceTimer(group netip.Addr, sources []netip.Addr, d time.Duration) {
	if g, ok := gs.groups[group]; ok {
		g.LowerSourceTimers(sources, d)
	}
}
