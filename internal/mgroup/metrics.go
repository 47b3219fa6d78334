package mgroup

// MetricsSink receives the counter/gauge updates the engine produces as
// it runs (SPEC_FULL.md Section 4.10). The RPC orchestration layer's
// metrics.Collector implements it; a nil sink (the zero value of Vif's
// metrics field) silently drops every call, so tests and standalone use
// of this package never need one.
type MetricsSink interface {
	// SetVifGroups reports the live GroupRecord count for vif.
	SetVifGroups(vif string, n int)
	// SetGroupSources reports the source-set size of group on vif in the
	// given filter mode ("INCLUDE" or "EXCLUDE").
	SetGroupSources(vif, group, mode string, n int)
	// IncReports counts one processed report, classified by event type
	// ("IS_IN", "IS_EX", "TO_IN", "TO_EX", "ALLOW", "BLOCK").
	IncReports(vif, eventType string)
	// IncNotification counts one JOIN/PRUNE notification emitted
	// downstream.
	IncNotification(vif, action string)
	// IncQuerySent counts one query transmitted, classified by kind
	// ("general", "group_specific", "group_and_source_specific").
	IncQuerySent(vif, kind string)
	// IncQuerierTransition counts one querier/non-querier role flip.
	IncQuerierTransition(vif string)
}

func queryKindString(k QueryKind) string {
	switch k {
	case QueryGeneral:
		return "general"
	case QueryGroupSpecific:
		return "group_specific"
	default:
		return "group_and_source_specific"
	}
}
