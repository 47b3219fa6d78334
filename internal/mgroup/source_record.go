package mgroup

import (
	"net/netip"
	"time"
)

// SourceRecord is one source address within one GroupRecord (spec.md
// Section 3, Section 4.1). It owns its own source timer and per-source
// query-retransmission counter. A SourceRecord never outlives the
// GroupRecord that allocated it; Group is a non-owning back-reference
// (spec.md Section 9 "Cyclic back-pointers").
//
// Grounded on xorp/mld6igmp/mld6igmp_source_record.cc/.hh and on the
// timer idiom of internal/bfd/session.go (time.AfterFunc posting a
// tagged event onto the owning goroutine's event channel, rather than
// mutating shared state from the timer callback).
type SourceRecord struct {
	Source netip.Addr
	Group  *GroupRecord

	// QueryRetransmissionCount counts down the remaining Group-and-
	// Source-Specific Query retransmissions for this source
	// (spec.md Section 4.3.3).
	QueryRetransmissionCount uint

	timer    *time.Timer
	deadline time.Time
	// seq guards against a timer callback firing after the timer has
	// already been rescheduled or cancelled and a new one armed in its
	// place; only a callback whose seq matches the current seq acts.
	seq uint64
}

// newSourceRecord allocates a SourceRecord owned by the given group.
func newSourceRecord(group *GroupRecord, source netip.Addr) *SourceRecord {
	return &SourceRecord{Source: source, Group: group}
}

// SetSourceTimer (re)arms the source's one-shot timer to fire in d. Any
// previously pending fire is invalidated. Firing posts an
// eventSourceTimerExpired event onto the owning Vif's event channel;
// the Vif's event loop then calls GroupSet.HandleSourceExpired, which
// hands a current-seq event to GroupRecord.HandleSourceExpired,
// preserving run-to-completion (spec.md Section 5).
func (sr *SourceRecord) SetSourceTimer(d time.Duration) {
	sr.cancelLocked()
	sr.seq++
	seq := sr.seq
	sr.deadline = time.Now().Add(d)
	vif := sr.Group.vif
	group := sr.Group.Group
	source := sr.Source
	sr.timer = time.AfterFunc(d, func() {
		vif.postEvent(vifEvent{
			kind:   eventSourceTimerExpired,
			group:  group,
			source: source,
			seq:    seq,
		})
	})
}

// CancelSourceTimer stops the timer, if any, with no pending callback
// surviving the call (spec.md Section 5: "cancellation is synchronous").
func (sr *SourceRecord) CancelSourceTimer() {
	sr.cancelLocked()
}

func (sr *SourceRecord) cancelLocked() {
	if sr.timer != nil {
		sr.timer.Stop()
		sr.timer = nil
	}
	sr.deadline = time.Time{}
	sr.seq++
}

// LowerSourceTimer reschedules the timer to fire in d only if that is
// sooner than its current remaining time; otherwise it is a no-op
// (spec.md Section 4.1).
func (sr *SourceRecord) LowerSourceTimer(d time.Duration) {
	remaining, running := sr.Remaining()
	if running && remaining <= d {
		return
	}
	sr.SetSourceTimer(d)
}

// Running reports whether the source timer is currently armed.
func (sr *SourceRecord) Running() bool {
	return sr.timer != nil
}

// Remaining returns the time left on the source timer, and whether it
// is currently running. Go's time.Timer does not expose remaining time
// directly, so the record tracks an absolute deadline alongside it.
func (sr *SourceRecord) Remaining() (time.Duration, bool) {
	if sr.timer == nil || sr.deadline.IsZero() {
		return 0, false
	}
	d := time.Until(sr.deadline)
	if d < 0 {
		d = 0
	}
	return d, true
}

// currentSeq returns the current cancellation-guard sequence number, for
// the Vif event loop to check a fired timer event against.
func (sr *SourceRecord) currentSeq() uint64 {
	return sr.seq
}
