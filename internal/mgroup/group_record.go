package mgroup

import (
	"net/netip"
	"time"
)

// CompatMode is the effective per-group protocol compatibility level,
// driven by the group's static floor and its older-host-present timers
// (spec.md Section 4.3.4).
type CompatMode uint8

const (
	// CompatV1 is IGMPv1, the oldest supported mode.
	CompatV1 CompatMode = iota + 1
	// CompatV2 is IGMPv2 or MLDv1.
	CompatV2
	// CompatV3 is IGMPv3 or MLDv2, the newest supported mode.
	CompatV3
)

func (m CompatMode) String() string {
	switch m {
	case CompatV1:
		return "v1"
	case CompatV2:
		return "v2"
	default:
		return "v3"
	}
}

// GroupRecord is one (vif, group) entry (spec.md Section 3, Section
// 4.3): the heart of the engine. It holds the filter mode, the two
// source sets, the group timer, the group-and-source-specific query
// retransmission engine, and the per-version host-present timers that
// drive CompatMode.
//
// Grounded on xorp/mld6igmp/mld6igmp_group_record.cc — in particular
// process_mode_is_include, process_mode_is_exclude,
// process_change_to_include_mode, process_change_to_exclude_mode,
// process_allow_new_sources, process_block_old_sources,
// group_timer_timeout and group_query_periodic_timeout.
type GroupRecord struct {
	Group netip.Addr
	vif   *Vif

	Mode               FilterMode
	ForwardSources     SourceSet
	DontForwardSources SourceSet
	LastReportedHost   netip.Addr

	groupTimer oneShotTimer

	// queryRetransmissionCount is the group-specific Q(G) counter; the
	// source-specific counters live on the individual SourceRecords.
	queryRetransmissionCount uint
	queryTimer               oneShotTimer
	queryTimerRunning        bool

	v1Timer oneShotTimer
	v2Timer oneShotTimer
}

// newGroupRecord allocates an empty INCLUDE-mode record for group on vif.
func newGroupRecord(vif *Vif, group netip.Addr) *GroupRecord {
	return &GroupRecord{
		Group:              group,
		vif:                vif,
		Mode:               ModeInclude,
		ForwardSources:     newSourceSet(),
		DontForwardSources: newSourceSet(),
	}
}

// IsUnused reports whether the record meets the deletion criteria of
// spec.md Section 3: "INCLUDE mode with empty forward set, OR EXCLUDE
// mode with no running group timer and both sets empty." GroupSet (C4)
// owns the decision of when to actually remove the record.
func (g *GroupRecord) IsUnused() bool {
	if g.Mode == ModeInclude {
		return len(g.ForwardSources) == 0
	}
	return !g.groupTimer.running() && len(g.ForwardSources) == 0 && len(g.DontForwardSources) == 0
}

// CompatMode returns the group's effective protocol compatibility
// level per spec.md Section 4.3.4: static floor first, then whichever
// host-present timer is still running, newest otherwise.
func (g *GroupRecord) CompatMode() CompatMode {
	floor := g.vif.staticCompatMode()
	if floor == CompatV1 || g.v1Timer.running() {
		return CompatV1
	}
	if floor == CompatV2 || g.v2Timer.running() {
		return CompatV2
	}
	return CompatV3
}

// NoteReportVersion arms the appropriate host-present timer for the
// message version that carried a just-received report, independent of
// whether the report itself mutates any state (spec.md Section 4.3.4).
func (g *GroupRecord) NoteReportVersion(version int) {
	olderInterval := g.vif.olderVersionHostPresentInterval()
	switch g.vif.family {
	case FamilyV4:
		switch version {
		case 1:
			g.v1Timer.set(olderInterval, g.onV1Expired)
		case 2:
			g.v2Timer.set(olderInterval, g.onV2Expired)
		}
	case FamilyV6:
		if version == 1 {
			g.v2Timer.set(olderInterval, g.onV2Expired)
		}
	}
}

func (g *GroupRecord) onV1Expired(seq uint64) {
	g.vif.postEvent(vifEvent{kind: eventV1HostPresentExpired, group: g.Group, seq: seq})
}

func (g *GroupRecord) onV2Expired(seq uint64) {
	g.vif.postEvent(vifEvent{kind: eventV2HostPresentExpired, group: g.Group, seq: seq})
}

// HandleV1TimerExpired is invoked by the Vif event loop when the v1
// host-present timer's callback fires with a current seq.
func (g *GroupRecord) HandleV1TimerExpired(seq uint64) {
	if seq != g.v1Timer.currentSeq() {
		return
	}
	g.v1Timer.cancel()
}

// HandleV2TimerExpired is the v2/MLDv1 analogue of HandleV1TimerExpired.
func (g *GroupRecord) HandleV2TimerExpired(seq uint64) {
	if seq != g.v2Timer.currentSeq() {
		return
	}
	g.v2Timer.cancel()
}

type snapshot struct {
	mode        FilterMode
	forward     SourceSet
	dontForward SourceSet
}

func (g *GroupRecord) snapshot() snapshot {
	return snapshot{mode: g.Mode, forward: g.ForwardSources.Clone(), dontForward: g.DontForwardSources.Clone()}
}

// HandleReport applies one parsed membership report to the record,
// following the evaluation order mandated by spec.md Section 4.3:
// snapshot, compute, arm timers, delete unreferenced sources, send
// queries, emit notifications, and (by the caller, via IsUnused) delete
// the record if it became unused.
func (g *GroupRecord) HandleReport(report Report) {
	g.LastReportedHost = report.Reporter
	g.NoteReportVersion(report.MessageVersion)
	if g.vif.metrics != nil {
		g.vif.metrics.IncReports(g.vif.Name, report.Event.String())
	}

	mode := g.CompatMode()
	switch report.Event {
	case EventIsInclude:
		g.processIsInclude(report.Sources)
	case EventIsExclude:
		g.processIsExclude(report.Sources)
	case EventChangeToInclude:
		if mode == CompatV1 {
			return
		}
		g.processChangeToInclude(report.Sources)
	case EventChangeToExclude:
		sources := report.Sources
		if mode != CompatV3 {
			sources = nil
		}
		g.processChangeToExclude(sources)
	case EventAllow:
		g.processAllow(report.Sources)
	case EventBlock:
		if mode != CompatV3 {
			return
		}
		g.processBlock(report.Sources)
	}
}

func (g *GroupRecord) gmi() time.Duration { return g.vif.groupMembershipInterval() }

// recordsForAddrs builds a SourceSet for addrs, reusing an existing
// SourceRecord from the given source sets (checked in order) when the
// address already has one, allocating a fresh record owned by g
// otherwise. This is the direct construction invited by spec.md
// Section 9's Open Question, in place of the source repository's
// value-collision-dependent chain of set-algebra operations.
func (g *GroupRecord) recordsForAddrs(addrs []netip.Addr, existing ...SourceSet) SourceSet {
	out := newSourceSet()
	for _, a := range addrs {
		var rec *SourceRecord
		for _, set := range existing {
			if r, ok := set.Get(a); ok {
				rec = r
				break
			}
		}
		if rec == nil {
			rec = newSourceRecord(g, a)
		}
		out[a] = rec
	}
	return out
}

func (g *GroupRecord) processIsInclude(b []netip.Addr) {
	snap := g.snapshot()
	switch g.Mode {
	case ModeInclude:
		newA := g.ForwardSources.UnionAddrs(b, g)
		newA.SetSourceTimerFor(b, g.gmi())
		g.ForwardSources = newA
	case ModeExclude:
		x := g.ForwardSources
		y := g.DontForwardSources
		newX := x.UnionAddrs(b, g)
		newY := y.MinusAddrs(b)
		g.ForwardSources = newX
		g.DontForwardSources = newY
		newX.SetSourceTimerFor(b, g.gmi())
	}
	g.finishTransition(snap)
}

func (g *GroupRecord) processIsExclude(b []netip.Addr) {
	snap := g.snapshot()
	switch g.Mode {
	case ModeInclude:
		a := g.ForwardSources
		newX := a.IntersectAddrs(b)
		bMinusA := addrsMinusSets(b, a)
		newY := g.recordsForAddrs(bMinusA)
		newY.CancelSourceTimerAll()
		toDelete := a.MinusAddrs(b)
		toDelete.deletePayload()
		g.ForwardSources = newX
		g.DontForwardSources = newY
		g.Mode = ModeExclude
		g.armGroupTimer(g.gmi())
	case ModeExclude:
		x := g.ForwardSources
		y := g.DontForwardSources
		bMinusY := addrsMinusSets(b, y)
		newX := g.recordsForAddrs(bMinusY, x, y)
		newY := y.IntersectAddrs(b)
		bNew := addrsMinusSets(b, x, y)
		newX.SetSourceTimerFor(bNew, g.gmi())
		x.MinusAddrs(b).deletePayload()
		y.MinusAddrs(b).deletePayload()
		g.ForwardSources = newX
		g.DontForwardSources = newY
		g.armGroupTimer(g.gmi())
	}
	g.finishTransition(snap)
}

func (g *GroupRecord) processChangeToInclude(b []netip.Addr) {
	snap := g.snapshot()
	switch g.Mode {
	case ModeInclude:
		newA := g.ForwardSources.UnionAddrs(b, g)
		newA.SetSourceTimerFor(b, g.gmi())
		g.ForwardSources = newA
		g.requestSourceQuery(snap.forward.MinusAddrs(b).SortedAddrs())
	case ModeExclude:
		x := g.ForwardSources
		y := g.DontForwardSources
		newX := x.UnionAddrs(b, g)
		newY := y.MinusAddrs(b)
		g.ForwardSources = newX
		g.DontForwardSources = newY
		newX.SetSourceTimerFor(b, g.gmi())
		g.requestSourceQuery(snap.forward.MinusAddrs(b).SortedAddrs())
		g.requestGroupQuery()
	}
	g.finishTransition(snap)
}

func (g *GroupRecord) processChangeToExclude(b []netip.Addr) {
	snap := g.snapshot()
	switch g.Mode {
	case ModeInclude:
		a := g.ForwardSources
		newX := a.IntersectAddrs(b)
		bMinusA := addrsMinusSets(b, a)
		newY := g.recordsForAddrs(bMinusA)
		newY.CancelSourceTimerAll()
		toDelete := a.MinusAddrs(b)
		toDelete.deletePayload()
		g.ForwardSources = newX
		g.DontForwardSources = newY
		g.Mode = ModeExclude
		g.requestSourceQuery(currentAddrs(newX))
		g.armGroupTimer(g.gmi())
	case ModeExclude:
		x := g.ForwardSources
		y := g.DontForwardSources
		gt, _ := g.groupTimer.remaining()
		bMinusY := addrsMinusSets(b, y)
		newX := g.recordsForAddrs(bMinusY, x, y)
		newY := y.IntersectAddrs(b)
		bNew := addrsMinusSets(b, x, y)
		newX.SetSourceTimerFor(bNew, gt)
		x.MinusAddrs(b).deletePayload()
		y.MinusAddrs(b).deletePayload()
		g.ForwardSources = newX
		g.DontForwardSources = newY
		bMinusYAddrs := addrsMinusSets(b, y)
		g.requestSourceQuery(bMinusYAddrs)
		g.armGroupTimer(g.gmi())
	}
	g.finishTransition(snap)
}

func (g *GroupRecord) processAllow(b []netip.Addr) {
	snap := g.snapshot()
	switch g.Mode {
	case ModeInclude:
		newA := g.ForwardSources.UnionAddrs(b, g)
		newA.SetSourceTimerFor(b, g.gmi())
		g.ForwardSources = newA
	case ModeExclude:
		x := g.ForwardSources
		y := g.DontForwardSources
		newX := x.UnionAddrs(b, g)
		newY := y.MinusAddrs(b)
		g.ForwardSources = newX
		g.DontForwardSources = newY
		newX.SetSourceTimerFor(b, g.gmi())
	}
	g.finishTransition(snap)
}

func (g *GroupRecord) processBlock(b []netip.Addr) {
	snap := g.snapshot()
	switch g.Mode {
	case ModeInclude:
		a := g.ForwardSources
		aIntersectB := currentAddrs(a.IntersectAddrs(b))
		g.requestSourceQuery(aIntersectB)
	case ModeExclude:
		x := g.ForwardSources
		y := g.DontForwardSources
		bMinusY := addrsMinusSets(b, y)
		newX := x.UnionAddrs(bMinusY, g)
		bNew := addrsMinusSets(b, x, y)
		gt, _ := g.groupTimer.remaining()
		newX.SetSourceTimerFor(bNew, gt)
		g.ForwardSources = newX
		g.requestSourceQuery(bMinusY)
	}
	g.finishTransition(snap)
}

func currentAddrs(s SourceSet) []netip.Addr {
	return s.SortedAddrs()
}

// finishTransition emits the notification diff against snap and lets
// the caller (GroupSet) observe IsUnused afterward.
func (g *GroupRecord) finishTransition(snap snapshot) {
	g.emitTransitionNotifications(snap)
	g.checkInvariants()
}

// checkInvariants asserts spec.md Section 8's invariants 1, 2, and 4.
// A violation is a program bug (Section 7): it aborts the process
// rather than attempting to continue in an inconsistent state.
func (g *GroupRecord) checkInvariants() {
	switch g.Mode {
	case ModeInclude:
		invariant(len(g.DontForwardSources) == 0, "INCLUDE mode group has non-empty dont-forward set")
		invariant(!g.groupTimer.running(), "INCLUDE mode group has running group timer")
	case ModeExclude:
		invariant(g.groupTimer.running() || g.IsUnused(), "EXCLUDE mode group has no running group timer")
	}
	for addr, rec := range g.ForwardSources {
		invariant(rec.Running(), "forward source has no running source timer: "+addr.String())
	}
}

func (g *GroupRecord) emitTransitionNotifications(snap snapshot) {
	oldMode, oldForward, oldDontForward := snap.mode, snap.forward, snap.dontForward
	newForward, newDontForward := g.ForwardSources, g.DontForwardSources
	zero := ZeroSource(g.vif.family)

	switch {
	case oldMode == ModeInclude && g.Mode == ModeInclude:
		g.notifyAddrs(newForward.Minus(oldForward).SortedAddrs(), ActionJoin)
		g.notifyAddrs(oldForward.Minus(newForward).SortedAddrs(), ActionPrune)
	case oldMode == ModeInclude && g.Mode == ModeExclude:
		g.notifyAddrs(oldForward.Minus(newForward).SortedAddrs(), ActionPrune)
		g.notify(zero, ActionJoin)
		g.notifyAddrs(newForward.Minus(oldForward).SortedAddrs(), ActionJoin)
		g.notifyAddrs(newDontForward.Minus(oldDontForward).SortedAddrs(), ActionPrune)
	case oldMode == ModeExclude && g.Mode == ModeInclude:
		g.notifyAddrs(oldDontForward.Minus(newDontForward).SortedAddrs(), ActionJoin)
		g.notify(zero, ActionPrune)
		g.notifyAddrs(newForward.Minus(oldForward).SortedAddrs(), ActionJoin)
	default:
		g.notifyAddrs(newForward.Minus(oldForward).SortedAddrs(), ActionJoin)
		g.notifyAddrs(oldForward.Minus(newForward).SortedAddrs(), ActionPrune)
		g.notifyAddrs(oldDontForward.Minus(newDontForward).SortedAddrs(), ActionJoin)
		g.notifyAddrs(newDontForward.Minus(oldDontForward).SortedAddrs(), ActionPrune)
	}
}

func (g *GroupRecord) notifyAddrs(addrs []netip.Addr, action NotifyAction) {
	for _, a := range addrs {
		g.notify(a, action)
	}
}

func (g *GroupRecord) notify(source netip.Addr, action NotifyAction) {
	g.vif.emitNotification(Notification{
		VifIndex: g.vif.Index,
		VifName:  g.vif.Name,
		Source:   source,
		Group:    g.Group,
		Action:   action,
	})
}

func (g *GroupRecord) armGroupTimer(d time.Duration) {
	g.groupTimer.set(d, g.fireGroupTimerExpired)
}

func (g *GroupRecord) fireGroupTimerExpired(seq uint64) {
	g.vif.postEvent(vifEvent{kind: eventGroupTimerExpired, group: g.Group, seq: seq})
}

// HandleGroupTimerExpired implements spec.md Section 4.3.2: on expiry
// while in EXCLUDE mode, every dont-forward source is JOINed, the
// dont-forward set is emptied, the group itself is PRUNEd, and the
// record transitions to INCLUDE (or becomes eligible for deletion if
// forward is also empty).
func (g *GroupRecord) HandleGroupTimerExpired(seq uint64) {
	if seq != g.groupTimer.currentSeq() {
		return
	}
	if g.Mode != ModeExclude {
		return
	}
	snap := g.snapshot()
	g.groupTimer.cancel()
	g.DontForwardSources.deletePayload()
	g.DontForwardSources = newSourceSet()
	g.Mode = ModeInclude
	g.emitTransitionNotifications(snap)
	g.checkInvariants()
}

// HandleSourceExpired implements the SourceRecord expiry handler of
// spec.md Section 4.1: "Expiry handler calls GroupRecord::source_expired".
// In INCLUDE mode the source is deleted outright, emitting one PRUNE.
// In EXCLUDE mode it migrates from forward to dont-forward without
// deletion; the generic notification diff against the snapshot then
// naturally produces the documented double PRUNE (spec.md Section
// 4.3.1: "first cancels any outstanding upstream JOIN ... second
// installs PRUNE state downstream") with no special-casing required.
func (g *GroupRecord) HandleSourceExpired(source netip.Addr) {
	rec, ok := g.ForwardSources.Get(source)
	if !ok {
		return
	}
	snap := g.snapshot()
	delete(g.ForwardSources, source)
	rec.CancelSourceTimer()
	if g.Mode == ModeExclude {
		g.DontForwardSources[source] = rec
	}
	g.emitTransitionNotifications(snap)
}

// LowerGroupTimer implements the GroupSet-exposed lower_group_timer
// operation of spec.md Section 4.4, invoked on hearing a Group-Specific
// Query from another router.
func (g *GroupRecord) LowerGroupTimer(d time.Duration) {
	if g.Mode != ModeExclude {
		return
	}
	g.groupTimer.lower(d, g.fireGroupTimerExpired)
}

// LowerSourceTimers implements the GroupSet-exposed lower_source_timer
// operation, invoked on hearing a Group-and-Source-Specific Query.
func (g *GroupRecord) LowerSourceTimers(sources []netip.Addr, d time.Duration) {
	g.ForwardSources.LowerSourceTimerFor(sources, d)
}

// TimeoutSeconds returns the group timer's remaining whole seconds, for
// the "show group" timeout column (a supplemented read-only accessor;
// the source exposes the equivalent via timeout_sec()).
func (g *GroupRecord) TimeoutSeconds() int {
	d, running := g.groupTimer.remaining()
	if !running {
		return 0
	}
	return int(d / time.Second)
}

// requestSourceQuery arms the per-source query-retransmission counters
// for sources and ensures the periodic retransmission timer is running
// (spec.md Section 4.3.3). A group in CompatV1 mode never sends
// Group-and-Source-Specific Queries, matching is_igmpv1_mode() in
// group_query_periodic_timeout().
func (g *GroupRecord) requestSourceQuery(sources []netip.Addr) {
	if len(sources) == 0 || g.CompatMode() == CompatV1 {
		return
	}
	count := g.vif.robustCount() - 1
	for _, a := range sources {
		rec, ok := g.ForwardSources.Get(a)
		if !ok {
			continue
		}
		rec.QueryRetransmissionCount = count
	}
	g.ensureQueryTimerRunning()
}

// requestGroupQuery arms the group-specific query-retransmission
// counter and ensures the periodic timer is running. Suppressed in
// CompatV1 mode: Group-Specific Queries are never sent to a group with
// an IGMPv1 host present.
func (g *GroupRecord) requestGroupQuery() {
	if g.CompatMode() == CompatV1 {
		return
	}
	g.queryRetransmissionCount = g.vif.robustCount() - 1
	g.ensureQueryTimerRunning()
}

func (g *GroupRecord) ensureQueryTimerRunning() {
	if g.queryTimerRunning {
		return
	}
	g.queryTimerRunning = true
	g.armQueryTick()
}

func (g *GroupRecord) armQueryTick() {
	g.queryTimer.set(g.vif.queryLastMemberInterval(), g.fireQueryTick)
}

func (g *GroupRecord) fireQueryTick(seq uint64) {
	g.vif.postEvent(vifEvent{kind: eventGroupQueryTick, group: g.Group, seq: seq})
}

// HandleQueryTick implements the per-tick retransmission algorithm of
// spec.md Section 4.3.3. If the group has fallen into CompatV1 mode
// since the tick was armed (an IGMPv1 host-present timer started after
// arming), retransmission stops dead, matching
// group_query_periodic_timeout()'s is_igmpv1_mode() early return.
func (g *GroupRecord) HandleQueryTick(seq uint64) {
	if seq != g.queryTimer.currentSeq() {
		return
	}
	if g.CompatMode() == CompatV1 {
		g.queryRetransmissionCount = 0
		for _, rec := range g.ForwardSources {
			rec.QueryRetransmissionCount = 0
		}
		g.queryTimerRunning = false
		g.queryTimer.cancel()
		return
	}
	lmqt := g.vif.lastMemberQueryTime()

	groupSent := false
	if g.queryRetransmissionCount > 0 {
		g.queryRetransmissionCount--
		remaining, running := g.groupTimer.remaining()
		sBit := running && remaining > lmqt
		g.vif.sendGroupQuery(g.Group, nil, sBit)
		groupSent = true
	}

	var sBitTrue, sBitFalse []netip.Addr
	for _, a := range g.ForwardSources.SortedAddrs() {
		rec := g.ForwardSources[a]
		if rec.QueryRetransmissionCount == 0 {
			continue
		}
		remaining, running := rec.Remaining()
		if running && remaining > lmqt {
			sBitTrue = append(sBitTrue, a)
		} else {
			sBitFalse = append(sBitFalse, a)
		}
		rec.QueryRetransmissionCount--
	}

	if len(sBitFalse) > 0 {
		g.vif.sendGroupQuery(g.Group, sBitFalse, false)
	}
	if len(sBitTrue) > 0 && groupSent {
		g.vif.sendGroupQuery(g.Group, sBitTrue, true)
	}

	if g.anyRetransmissionPending() {
		g.armQueryTick()
	} else {
		g.queryTimerRunning = false
		g.queryTimer.cancel()
	}
}

func (g *GroupRecord) anyRetransmissionPending() bool {
	if g.queryRetransmissionCount > 0 {
		return true
	}
	for _, rec := range g.ForwardSources {
		if rec.QueryRetransmissionCount > 0 {
			return true
		}
	}
	return false
}
