package mgroup

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
)

// SendSink transmits an OutboundQuery onto the wire. The FEA/RPC
// orchestration layer (C7) implements it.
type SendSink interface {
	SendQuery(q OutboundQuery)
}

// VifDesc describes the desired configuration of one Vif, as handed to
// Node.ReconcileVifs by the configuration loader on load and on SIGHUP
// (spec.md Section 4.9, outside the core's scope but consumed here).
type VifDesc struct {
	Index       uint32
	Name        string
	PrimaryAddr netip.Addr
	Addrs       []InterfaceAddr
	Settings    Settings
}

// Key identifies a VifDesc across reconciliations; vifs are matched by
// name, not index, since index assignment is a local bookkeeping detail.
func (d VifDesc) Key() string { return d.Name }

// Node is the per-address-family singleton (spec.md Section 3, Section
// 4.6): it owns every Vif, demultiplexes inbound reports and queries to
// the right one, fans membership notifications out to downstream
// subscribers, and tracks startup/shutdown readiness.
//
// Grounded on xorp/mld6igmp/mld6igmp_node.hh (the vif table, the
// protocol-add/delete-vif lifecycle, and the startup/shutdown request
// counters) and on internal/bfd/manager.go's session-table pattern for
// guarding a shared map with a single mutex while leaving the owned
// objects (here, Vifs) free to run their own single-goroutine loops.
type Node struct {
	Family Family

	mu          sync.RWMutex
	vifs        map[uint32]*Vif
	vifsByName  map[string]*Vif
	subscribers map[subscriberKey]*subscription

	sendSink SendSink
	logger   *slog.Logger
	metrics  MetricsSink

	startupRequests      int
	interfaceMirrorReady bool
	ready                bool
	onReady              func()
}

// NewNode allocates an empty Node for the given address family.
func NewNode(family Family) *Node {
	return &Node{
		Family:      family,
		vifs:        make(map[uint32]*Vif),
		vifsByName:  make(map[string]*Vif),
		subscribers: make(map[subscriberKey]*subscription),
	}
}

// SetSendSink installs the outbound query transport, normally the RPC
// orchestrator's protocol-send task producer.
func (n *Node) SetSendSink(sink SendSink) { n.sendSink = sink }

// SetLogger installs the structured logger propagated to every Vif.
func (n *Node) SetLogger(l *slog.Logger) { n.logger = l }

// SetMetricsSink installs the metrics sink propagated to every Vif,
// existing and future (SPEC_FULL.md Section 4.10).
func (n *Node) SetMetricsSink(m MetricsSink) {
	n.metrics = m
	n.mu.Lock()
	for _, vif := range n.vifs {
		vif.SetMetricsSink(m)
	}
	n.mu.Unlock()
}

// OnReady registers a callback fired exactly once, the moment the node
// transitions to READY (spec.md Section 4.6).
func (n *Node) OnReady(f func()) { n.onReady = f }

// IncrStartupRequests brackets the start of one asynchronous startup
// step (spec.md Section 4.6).
func (n *Node) IncrStartupRequests() {
	n.mu.Lock()
	n.startupRequests++
	n.mu.Unlock()
}

// DecrStartupRequests brackets the completion of one asynchronous
// startup step, publishing READY if this was the last one outstanding
// and the interface mirror has already delivered its initial snapshot.
func (n *Node) DecrStartupRequests() {
	n.mu.Lock()
	n.startupRequests--
	n.checkReadyLocked()
	n.mu.Unlock()
}

// SetInterfaceMirrorReady is the C8 tree_complete() callback: the
// interface mirror has delivered its initial snapshot.
func (n *Node) SetInterfaceMirrorReady() {
	n.mu.Lock()
	n.interfaceMirrorReady = true
	n.checkReadyLocked()
	n.mu.Unlock()
}

func (n *Node) checkReadyLocked() {
	if n.ready || n.startupRequests > 0 || !n.interfaceMirrorReady {
		return
	}
	n.ready = true
	if n.onReady != nil {
		go n.onReady()
	}
}

// IsReady reports whether the node has published READY.
func (n *Node) IsReady() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ready
}

// --- vif table ---

func (n *Node) newVifFromDesc(desc VifDesc) *Vif {
	vif := NewVif(desc.Index, desc.Name, n.Family, desc.PrimaryAddr, desc.Settings,
		func(ntf Notification) { n.JoinPruneNotifyRouting(ntf.VifIndex, ntf.Source, ntf.Group, ntf.Action) },
		func(q OutboundQuery) {
			if n.sendSink != nil {
				n.sendSink.SendQuery(q)
			}
		},
	)
	vif.Addrs = desc.Addrs
	if n.logger != nil {
		vif.SetLogger(n.logger)
	}
	if n.metrics != nil {
		vif.SetMetricsSink(n.metrics)
	}
	return vif
}

// AddVif implements spec.md Section 6's add_vif: creates a Vif in the
// down state. Start/enable are separate operations.
func (n *Node) AddVif(desc VifDesc) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.vifsByName[desc.Name]; ok {
		return fmt.Errorf("mgroup: vif %q already exists", desc.Name)
	}
	vif := n.newVifFromDesc(desc)
	n.vifs[desc.Index] = vif
	n.vifsByName[desc.Name] = vif
	return nil
}

// DeleteVif implements delete_vif: stops the vif if running and
// removes it from the table.
func (n *Node) DeleteVif(name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	vif, ok := n.vifsByName[name]
	if !ok {
		return fmt.Errorf("mgroup: vif %q not found", name)
	}
	if vif.IsUp {
		vif.Stop()
	}
	delete(n.vifs, vif.Index)
	delete(n.vifsByName, name)
	return nil
}

// Vif returns the vif with the given index.
func (n *Node) Vif(index uint32) (*Vif, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.vifs[index]
	return v, ok
}

// VifByName returns the vif with the given name.
func (n *Node) VifByName(name string) (*Vif, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.vifsByName[name]
	return v, ok
}

// Vifs returns every vif, sorted by name, for "show vif" and reconcile
// diffing.
func (n *Node) Vifs() []*Vif {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Vif, 0, len(n.vifsByName))
	for _, v := range n.vifsByName {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ReconcileVifs diffs want against the current vif table by VifDesc.Key
// and adds, updates, or removes vifs accordingly, per spec.md Section
// 4.9's SIGHUP reload behavior. Vifs present in both are left running;
// only their Settings are updated in place (taking effect immediately,
// per spec.md Section 6).
func (n *Node) ReconcileVifs(want []VifDesc) {
	n.mu.Lock()
	wantByKey := make(map[string]VifDesc, len(want))
	for _, d := range want {
		wantByKey[d.Key()] = d
	}
	for name, vif := range n.vifsByName {
		if _, ok := wantByKey[name]; !ok {
			if vif.IsUp {
				vif.Stop()
			}
			delete(n.vifs, vif.Index)
			delete(n.vifsByName, name)
		}
	}
	for _, desc := range want {
		if existing, ok := n.vifsByName[desc.Name]; ok {
			existing.SetSettings(desc.Settings)
			existing.Addrs = desc.Addrs
			continue
		}
		vif := n.newVifFromDesc(desc)
		n.vifs[desc.Index] = vif
		n.vifsByName[desc.Name] = vif
	}
	n.mu.Unlock()
}

// IsDirectlyConnected implements spec.md Section 4.6: true iff vif is
// up and addr matches one of its configured subnets (or, for a
// point-to-point link, its peer address).
func (n *Node) IsDirectlyConnected(vifIndex uint32, addr netip.Addr) bool {
	vif, ok := n.Vif(vifIndex)
	if !ok || !vif.IsUp {
		return false
	}
	for _, a := range vif.Addrs {
		if a.Contains(addr) {
			return true
		}
	}
	return false
}

// ProtoRecv demuxes an inbound parsed report to the vif named ifName
// (spec.md Section 4.6 "demuxes incoming packets to the right Vif by
// matching the interface name").
func (n *Node) ProtoRecv(ifName string, report Report) {
	vif, ok := n.VifByName(ifName)
	if !ok || !vif.IsUp {
		return
	}
	vif.Receive(report)
}

// --- subscribers ---

// AddProtocol registers a downstream-protocol subscription and, per
// spec.md Section 4.6 and Section 9 ("Subscriber re-sync on attach"),
// replays a JOIN(zero, group) for every group currently in EXCLUDE mode
// (ASM) on vif so a late-attaching protocol resynchronizes. SSM
// forwarded sources are deliberately not replayed (documented, possibly
// a pre-existing gap — see DESIGN.md).
func (n *Node) AddProtocol(moduleInstanceName string, moduleID uint32, vifIndex uint32, sink NotifySink) error {
	vif, ok := n.Vif(vifIndex)
	if !ok {
		return fmt.Errorf("mgroup: vif index %d not found", vifIndex)
	}
	key := subscriberKey{moduleInstanceName: moduleInstanceName, moduleID: moduleID, vifIndex: vifIndex}
	n.mu.Lock()
	n.subscribers[key] = &subscription{key: key, sink: sink}
	n.mu.Unlock()

	zero := ZeroSource(n.Family)
	for _, g := range vif.Groups.SortedGroups() {
		if g.Mode == ModeExclude {
			sink.Notify(Notification{VifIndex: vif.Index, VifName: vif.Name, Source: zero, Group: g.Group, Action: ActionJoin})
		}
	}
	return nil
}

// DeleteProtocol removes a downstream-protocol subscription.
func (n *Node) DeleteProtocol(moduleInstanceName string, moduleID uint32, vifIndex uint32) {
	key := subscriberKey{moduleInstanceName: moduleInstanceName, moduleID: moduleID, vifIndex: vifIndex}
	n.mu.Lock()
	delete(n.subscribers, key)
	n.mu.Unlock()
}

// JoinPruneNotifyRouting implements spec.md Section 4.6: fan one
// (source, group, action) upcall out to every subscriber registered on
// vifIndex.
func (n *Node) JoinPruneNotifyRouting(vifIndex uint32, source, group netip.Addr, action NotifyAction) {
	vif, ok := n.Vif(vifIndex)
	vifName := ""
	if ok {
		vifName = vif.Name
	}
	n.mu.RLock()
	sinks := make([]NotifySink, 0, len(n.subscribers))
	for key, sub := range n.subscribers {
		if key.vifIndex == vifIndex {
			sinks = append(sinks, sub.sink)
		}
	}
	n.mu.RUnlock()
	for _, sink := range sinks {
		sink.Notify(Notification{VifIndex: vifIndex, VifName: vifName, Source: source, Group: group, Action: action})
	}
}
