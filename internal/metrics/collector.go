// Package metrics exposes mgroupd's runtime state as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const namespace = "mgroupd"

// Label names.
const (
	labelVif       = "vif"
	labelGroup     = "group"
	labelMode      = "mode"
	labelEventType = "event_type"
	labelAction    = "action"
	labelKind      = "kind"
	labelQueue     = "queue"
	labelTaskType  = "task_type"
)

// -------------------------------------------------------------------------
// Collector — Prometheus mgroupd Metrics
// -------------------------------------------------------------------------

// Collector holds all mgroupd Prometheus metrics.
//
// Metrics cover three layers: the per-vif group-membership table, the
// query/report/notification traffic the protocol engine generates, and
// the health of the RPC task queues that talk to the FEA/MFEA/Finder.
type Collector struct {
	// VifGroups tracks the live GroupRecord count per vif.
	VifGroups *prometheus.GaugeVec

	// GroupSources tracks the source-set size of a group on a vif,
	// labeled by its current filter mode (INCLUDE or EXCLUDE).
	GroupSources *prometheus.GaugeVec

	// ReportsTotal counts membership reports processed per vif and
	// classified event type (IS_IN/IS_EX/TO_IN/TO_EX/ALLOW/BLOCK).
	ReportsTotal *prometheus.CounterVec

	// NotificationsTotal counts JOIN/PRUNE notifications emitted
	// downstream per vif and action.
	NotificationsTotal *prometheus.CounterVec

	// QueriesSentTotal counts general/group-specific/group-and-source-
	// specific queries transmitted per vif and query kind.
	QueriesSentTotal *prometheus.CounterVec

	// QuerierTransitionsTotal counts querier/non-querier role flips per vif.
	QuerierTransitionsTotal *prometheus.CounterVec

	// RPCQueueDepth reports the current depth of a named rpcqueue task
	// queue (e.g. "primary", "notify").
	RPCQueueDepth *prometheus.GaugeVec

	// RPCRetriesTotal counts transient-failure retries scheduled by a
	// task queue, per task type.
	RPCRetriesTotal *prometheus.CounterVec
}

// NewCollector creates a Collector with all mgroupd metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.VifGroups,
		c.GroupSources,
		c.ReportsTotal,
		c.NotificationsTotal,
		c.QueriesSentTotal,
		c.QuerierTransitionsTotal,
		c.RPCQueueDepth,
		c.RPCRetriesTotal,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	groupModeLabels := []string{labelVif, labelGroup, labelMode}
	vifEventLabels := []string{labelVif, labelEventType}
	vifActionLabels := []string{labelVif, labelAction}
	vifKindLabels := []string{labelVif, labelKind}

	return &Collector{
		VifGroups: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vif_groups",
			Help:      "Live GroupRecord count per vif.",
		}, []string{labelVif}),

		GroupSources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "group_sources",
			Help:      "Source-set size of a group on a vif.",
		}, groupModeLabels),

		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Reports processed per vif and classified event type.",
		}, vifEventLabels),

		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "JOIN/PRUNE notifications emitted downstream per vif and action.",
		}, vifActionLabels),

		QueriesSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_sent_total",
			Help:      "Queries transmitted per vif and query kind.",
		}, vifKindLabels),

		QuerierTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "querier_transitions_total",
			Help:      "Querier/non-querier role transitions per vif.",
		}, []string{labelVif}),

		RPCQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rpc_queue_depth",
			Help:      "Current depth of a named RPC task queue.",
		}, []string{labelQueue}),

		RPCRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_retries_total",
			Help:      "Transient-failure retries scheduled per task type.",
		}, []string{labelTaskType}),
	}
}

// -------------------------------------------------------------------------
// Group / Source Table
// -------------------------------------------------------------------------

// SetVifGroups sets the current group count for a vif.
func (c *Collector) SetVifGroups(vif string, n int) {
	c.VifGroups.WithLabelValues(vif).Set(float64(n))
}

// SetGroupSources sets the current source count for a group on a vif in
// the given filter mode ("INCLUDE" or "EXCLUDE").
func (c *Collector) SetGroupSources(vif, group, mode string, n int) {
	c.GroupSources.WithLabelValues(vif, group, mode).Set(float64(n))
}

// -------------------------------------------------------------------------
// Protocol Traffic
// -------------------------------------------------------------------------

// IncReports increments the reports-processed counter for a vif and
// classified event type (e.g. "IS_IN", "TO_EX", "ALLOW").
func (c *Collector) IncReports(vif, eventType string) {
	c.ReportsTotal.WithLabelValues(vif, eventType).Inc()
}

// IncNotification increments the notifications-emitted counter for a
// vif and action ("JOIN" or "PRUNE").
func (c *Collector) IncNotification(vif, action string) {
	c.NotificationsTotal.WithLabelValues(vif, action).Inc()
}

// IncQuerySent increments the queries-transmitted counter for a vif and
// query kind ("general", "group_specific", "group_and_source_specific").
func (c *Collector) IncQuerySent(vif, kind string) {
	c.QueriesSentTotal.WithLabelValues(vif, kind).Inc()
}

// IncQuerierTransition increments the querier role-transition counter
// for a vif.
func (c *Collector) IncQuerierTransition(vif string) {
	c.QuerierTransitionsTotal.WithLabelValues(vif).Inc()
}

// -------------------------------------------------------------------------
// RPC Queue
// -------------------------------------------------------------------------

// SetRPCQueueDepth sets the current depth of the named task queue.
// Intended to be wired as an rpcqueue.Queue.OnDepthChange callback via a
// closure that supplies the queue name.
func (c *Collector) SetRPCQueueDepth(queue string, depth int) {
	c.RPCQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// IncRPCRetry increments the retry counter for the given task type.
// Intended to be wired as an rpcqueue.Queue.OnRetry callback via a
// closure that extracts the task's Kind().
func (c *Collector) IncRPCRetry(taskType string) {
	c.RPCRetriesTotal.WithLabelValues(taskType).Inc()
}
