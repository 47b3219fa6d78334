// Package ifmirror implements the Interface-Manager mirror (C8): a
// read-only observer of an externally published interface tree —
// operational state, MTU, and addresses per interface — that drives
// Node.ReconcileVifs and Node.SetInterfaceMirrorReady.
//
// The externally published tree is modeled as an OVSDB table the way
// OVN's ovn-kubernetes/ovn-controller publish interface state for
// other components to mirror; Mirror uses github.com/ovn-org/libovsdb's
// client+cache package to open a MonitorAll subscription and reduce
// its row-level Add/Update/Delete callbacks to the two upcalls
// spec.md Section 4.8 names: tree_complete (initial snapshot) and
// updates_made (incremental reconciliation).
package ifmirror
