package mgroup

import (
	"log/slog"
	"net/netip"
	"time"
)

// ProtoVersion is the configured protocol version ceiling for a vif: 1,
// 2, or 3 for IGMP; 1 or 2 for MLD (spec.md Section 6).
type ProtoVersion int

func (v ProtoVersion) compatMode() CompatMode {
	switch v {
	case 1:
		return CompatV1
	case 2:
		return CompatV2
	default:
		return CompatV3
	}
}

// QueryKind distinguishes the three query shapes a Vif transmits.
type QueryKind uint8

const (
	// QueryGeneral solicits membership reports for all groups.
	QueryGeneral QueryKind = iota + 1
	// QueryGroupSpecific solicits reports for one group.
	QueryGroupSpecific
	// QueryGroupAndSource solicits reports for specific (group, source) pairs.
	QueryGroupAndSource
)

// OutboundQuery is a query the Vif hands to its transport sink for
// transmission (spec.md Section 4.5 "Query transmission"). Source
// address is always the vif's primary address; destination is the
// all-systems group for general queries, the group itself otherwise.
type OutboundQuery struct {
	Kind    QueryKind
	Vif     *Vif
	Group   netip.Addr
	Sources []netip.Addr
	SFlag   bool
}

// Settings are the C5 engine knobs, administratively changeable at any
// time (spec.md Section 6); changes take effect immediately and derived
// intervals are recomputed on next read.
type Settings struct {
	ProtoVersion            ProtoVersion
	RouterAlertCheck        bool
	QueryInterval           time.Duration
	QueryLastMemberInterval time.Duration
	QueryResponseInterval   time.Duration
	RobustCount             uint
}

// DefaultSettings returns the RFC default knobs of spec.md Section 6.
func DefaultSettings(version ProtoVersion) Settings {
	return Settings{
		ProtoVersion:            version,
		RouterAlertCheck:        false,
		QueryInterval:           125 * time.Second,
		QueryLastMemberInterval: 1 * time.Second,
		QueryResponseInterval:   10 * time.Second,
		RobustCount:             2,
	}
}

// vifEventKind tags the polymorphic events the Vif's single event
// channel carries. Every timer callback in this package posts one of
// these rather than touching engine state directly (spec.md Section 5).
type vifEventKind uint8

const (
	eventSourceTimerExpired vifEventKind = iota + 1
	eventGroupTimerExpired
	eventGroupQueryTick
	eventV1HostPresentExpired
	eventV2HostPresentExpired
	eventGeneralQueryTick
	eventOtherQuerierTimerExpired
	eventReport
	eventIncomingQuery
	eventStop
)

type incomingQuery struct {
	kind    QueryKind
	srcAddr netip.Addr
	group   netip.Addr
	sources []netip.Addr
}

type vifEvent struct {
	kind   vifEventKind
	group  netip.Addr
	source netip.Addr
	seq    uint64
	report *Report
	query  *incomingQuery
	done   chan struct{}
}

// Vif is one per-link interface-state object (spec.md Section 3,
// Section 4.5). All of its mutable state — querier role, timers, its
// GroupSet — is touched only from the goroutine run by Start, via the
// single events channel. Every external caller (Node, timer callbacks)
// communicates by posting a vifEvent.
//
// Grounded on xorp/mld6igmp/mld6igmp_vif.cc (querier election,
// query scheduling, derived-interval recomputation) and on the
// internal/bfd/session.go idiom of one goroutine per session driven by
// a buffered event channel.
type Vif struct {
	Index       uint32
	Name        string
	family      Family
	PrimaryAddr netip.Addr

	settings Settings

	IsUp               bool
	IsMulticastCapable bool
	IsP2P              bool
	IsLoopback         bool
	MTU                int

	Addrs []InterfaceAddr

	IsQuerier   bool
	QuerierAddr netip.Addr

	otherQuerierTimer   oneShotTimer
	generalQueryTimer   oneShotTimer
	generalQueryRunning bool

	Groups *GroupSet

	events chan vifEvent

	notifyFunc func(Notification)
	sendFunc   func(OutboundQuery)

	metrics MetricsSink
	logger  *slog.Logger
}

// SetLogger installs the logger used for debug-level report drops.
// Defaults to slog.Default() when never called.
func (v *Vif) SetLogger(l *slog.Logger) { v.logger = l }

// SetMetricsSink installs the Prometheus-backed metrics sink. A nil
// sink (the default) makes every metrics call below a no-op.
func (v *Vif) SetMetricsSink(m MetricsSink) { v.metrics = m }

func (v *Vif) logf() *slog.Logger {
	if v.logger != nil {
		return v.logger
	}
	return slog.Default()
}

// InterfaceAddr is one address/subnet (and, for point-to-point links,
// peer address) configured on a Vif (spec.md Section 3).
type InterfaceAddr struct {
	Addr   netip.Addr
	Prefix netip.Prefix
	Peer   netip.Addr
}

// Contains reports whether addr is directly reachable over this vif:
// within one of its configured subnets, or (for point-to-point links)
// equal to the configured peer address (spec.md Section 4.6
// "is_directly_connected").
func (a InterfaceAddr) Contains(addr netip.Addr) bool {
	if a.Peer.IsValid() && a.Peer == addr {
		return true
	}
	return a.Prefix.IsValid() && a.Prefix.Contains(addr)
}

// NewVif allocates a Vif in the down, not-yet-started state.
func NewVif(index uint32, name string, family Family, primaryAddr netip.Addr, settings Settings, notifyFunc func(Notification), sendFunc func(OutboundQuery)) *Vif {
	v := &Vif{
		Index:       index,
		Name:        name,
		family:      family,
		PrimaryAddr: primaryAddr,
		settings:    settings,
		notifyFunc:  notifyFunc,
		sendFunc:    sendFunc,
		events:      make(chan vifEvent, 64),
	}
	v.Groups = newGroupSet(v)
	return v
}

// postEvent enqueues an event for the Vif's run loop. Safe to call from
// any goroutine, including timer callbacks.
func (v *Vif) postEvent(e vifEvent) {
	v.events <- e
}

func (v *Vif) emitNotification(n Notification) {
	if v.metrics != nil {
		v.metrics.IncNotification(v.Name, n.Action.String())
	}
	if v.notifyFunc != nil {
		v.notifyFunc(n)
	}
}

func (v *Vif) sendGroupQuery(group netip.Addr, sources []netip.Addr, sBit bool) {
	kind := QueryGroupSpecific
	if len(sources) > 0 {
		kind = QueryGroupAndSource
	}
	if v.metrics != nil {
		v.metrics.IncQuerySent(v.Name, queryKindString(kind))
	}
	if v.sendFunc != nil {
		v.sendFunc(OutboundQuery{Kind: kind, Vif: v, Group: group, Sources: sources, SFlag: sBit})
	}
}

func (v *Vif) sendGeneralQuery() {
	if v.metrics != nil {
		v.metrics.IncQuerySent(v.Name, queryKindString(QueryGeneral))
	}
	if v.sendFunc != nil {
		v.sendFunc(OutboundQuery{Kind: QueryGeneral, Vif: v})
	}
}

// --- derived intervals (spec.md Section 4.5) ---

func (v *Vif) robustCount() uint { return v.settings.RobustCount }

func (v *Vif) groupMembershipInterval() time.Duration {
	return time.Duration(v.settings.RobustCount)*v.settings.QueryInterval + v.settings.QueryResponseInterval
}

func (v *Vif) otherQuerierPresentInterval() time.Duration {
	return time.Duration(v.settings.RobustCount)*v.settings.QueryInterval + v.settings.QueryResponseInterval/2
}

func (v *Vif) startupQueryCount() uint { return v.settings.RobustCount }

func (v *Vif) startupQueryInterval() time.Duration { return v.settings.QueryInterval / 4 }

func (v *Vif) lastMemberQueryCount() uint { return v.settings.RobustCount }

func (v *Vif) lastMemberQueryTime() time.Duration {
	return time.Duration(v.settings.RobustCount) * v.settings.QueryLastMemberInterval
}

func (v *Vif) queryLastMemberInterval() time.Duration { return v.settings.QueryLastMemberInterval }

// olderVersionHostPresentInterval is the group membership interval in
// every configuration this implementation supports; the source's
// separate RFC 2236 constant for IGMPv2-mode links is not reproduced
// here (see DESIGN.md).
func (v *Vif) olderVersionHostPresentInterval() time.Duration {
	return v.groupMembershipInterval()
}

func (v *Vif) staticCompatMode() CompatMode { return v.settings.ProtoVersion.compatMode() }

// SetSettings installs new engine knobs. Per spec.md Section 6, changes
// take effect immediately; derived intervals are recomputed lazily on
// next read since they are all pure functions of settings.
func (v *Vif) SetSettings(s Settings) { v.settings = s }

func (v *Vif) Settings() Settings { return v.settings }

// --- lifecycle ---

// Start launches the Vif's event loop goroutine and begins querier
// duties (spec.md Section 4.5 "Startup sequencing").
func (v *Vif) Start() {
	v.IsUp = true
	v.becomeQuerier()
	go v.run()
}

// Stop halts the event loop and cancels all timers belonging directly
// to the Vif (group and source timers belonging to in-flight
// GroupRecords are cancelled as part of their own teardown by the
// caller).
func (v *Vif) Stop() {
	v.IsUp = false
	v.otherQuerierTimer.cancel()
	v.generalQueryTimer.cancel()
	done := make(chan struct{})
	v.events <- vifEvent{kind: eventStop, done: done}
	<-done
}

func (v *Vif) run() {
	for e := range v.events {
		switch e.kind {
		case eventStop:
			close(e.done)
			return
		case eventSourceTimerExpired:
			v.Groups.HandleSourceExpired(e.group, e.source, e.seq)
		case eventGroupTimerExpired:
			v.Groups.HandleGroupTimerExpired(e.group, e.seq)
		case eventGroupQueryTick:
			v.Groups.HandleQueryTick(e.group, e.seq)
		case eventV1HostPresentExpired:
			v.Groups.HandleV1TimerExpired(e.group, e.seq)
		case eventV2HostPresentExpired:
			v.Groups.HandleV2TimerExpired(e.group, e.seq)
		case eventGeneralQueryTick:
			v.handleGeneralQueryTick(e.seq)
		case eventOtherQuerierTimerExpired:
			v.handleOtherQuerierTimerExpired(e.seq)
		case eventReport:
			if e.report != nil {
				v.dispatchReport(*e.report)
			}
		case eventIncomingQuery:
			if e.query != nil {
				v.handleIncomingQuery(*e.query)
			}
		}
	}
}

// Receive is the external entry point for an already-parsed membership
// report; it posts the report onto the Vif's own goroutine so the
// transition runs under the run-to-completion contract (spec.md
// Section 5) rather than racing timer callbacks.
func (v *Vif) Receive(report Report) {
	v.postEvent(vifEvent{kind: eventReport, report: &report})
}

// validateReport implements the drop-silently-log-debug half of
// spec.md Section 7's error taxonomy: bad TTL, missing router alert
// when required, and unknown message types never reach the state
// engine.
func (v *Vif) validateReport(report Report) error {
	if report.IPTTL != 1 {
		return &ReportError{Vif: v.Name, Reporter: report.Reporter.String(), Err: ErrBadTTL}
	}
	if v.settings.RouterAlertCheck && !report.IPRouterAlert {
		return &ReportError{Vif: v.Name, Reporter: report.Reporter.String(), Err: ErrMissingRouterAlert}
	}
	switch report.Event {
	case EventIsInclude, EventIsExclude, EventChangeToInclude, EventChangeToExclude, EventAllow, EventBlock:
	default:
		return &ReportError{Vif: v.Name, Reporter: report.Reporter.String(), Err: ErrUnknownMessageType}
	}
	return nil
}

func (v *Vif) dispatchReport(report Report) {
	if err := v.validateReport(report); err != nil {
		v.logf().Debug("dropping report", "vif", v.Name, "error", err)
		return
	}
	if v.family == FamilyV4 && report.MessageVersion == 1 {
		// IGMPv1 has no source-list reports; the classifying layer
		// maps a v1 Membership Report to IS_EX(∅), refreshing ASM
		// state for as long as v1 hosts are heard.
		report.Event = EventIsExclude
		report.Sources = nil
	}
	v.Groups.HandleReport(report)
}

// ReceiveQuery is the external entry point for an already-classified
// incoming query (general, group-specific, or group-and-source), used
// for querier election and timer lowering.
func (v *Vif) ReceiveQuery(kind QueryKind, srcAddr, group netip.Addr, sources []netip.Addr) {
	v.postEvent(vifEvent{kind: eventIncomingQuery, query: &incomingQuery{kind: kind, srcAddr: srcAddr, group: group, sources: sources}})
}

func (v *Vif) handleIncomingQuery(q incomingQuery) {
	if q.kind == QueryGeneral {
		v.handleGeneralQueryHeard(q.srcAddr)
		return
	}
	lmqt := v.lastMemberQueryTime()
	if q.kind == QueryGroupSpecific {
		v.Groups.LowerGroupTimer(q.group, lmqt)
		return
	}
	v.Groups.LowerSourceTimer(q.group, q.sources, lmqt)
}

// --- querier election (spec.md Section 4.5, RFC 2236 Section 7) ---

func (v *Vif) becomeQuerier() {
	wasQuerier := v.IsQuerier
	v.IsQuerier = true
	v.QuerierAddr = v.PrimaryAddr
	v.otherQuerierTimer.cancel()
	if !wasQuerier && v.metrics != nil {
		v.metrics.IncQuerierTransition(v.Name)
	}
	v.sendGeneralQuery()
	v.armGeneralQueryTimer()
}

func (v *Vif) armGeneralQueryTimer() {
	v.generalQueryTimer.set(v.settings.QueryInterval, v.fireGeneralQueryTick)
}

func (v *Vif) fireGeneralQueryTick(seq uint64) {
	v.postEvent(vifEvent{kind: eventGeneralQueryTick, seq: seq})
}

func (v *Vif) handleGeneralQueryTick(seq uint64) {
	if seq != v.generalQueryTimer.currentSeq() {
		return
	}
	if !v.IsQuerier {
		return
	}
	v.sendGeneralQuery()
	v.armGeneralQueryTimer()
}

// handleGeneralQueryHeard implements spec.md Section 4.5: on hearing a
// general query from a strictly lower address, step down as querier.
func (v *Vif) handleGeneralQueryHeard(from netip.Addr) {
	if !from.IsValid() || !v.PrimaryAddr.IsValid() {
		return
	}
	if from.Compare(v.PrimaryAddr) >= 0 {
		return
	}
	wasQuerier := v.IsQuerier
	v.IsQuerier = false
	v.QuerierAddr = from
	v.generalQueryTimer.cancel()
	v.otherQuerierTimer.set(v.otherQuerierPresentInterval(), v.fireOtherQuerierTimerExpired)
	if wasQuerier && v.metrics != nil {
		v.metrics.IncQuerierTransition(v.Name)
	}
}

func (v *Vif) fireOtherQuerierTimerExpired(seq uint64) {
	v.postEvent(vifEvent{kind: eventOtherQuerierTimerExpired, seq: seq})
}

func (v *Vif) handleOtherQuerierTimerExpired(seq uint64) {
	if seq != v.otherQuerierTimer.currentSeq() {
		return
	}
	v.becomeQuerier()
}
