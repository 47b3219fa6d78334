// Package rpcqueue implements the asynchronous RPC orchestration layer
// that mediates between the group-membership state engine and its
// three external collaborators: a forwarding-engine abstraction (FEA),
// a multicast forwarding-engine abstraction (MFEA), and a naming
// service ("finder"). It holds a strictly sequential, at-most-one-
// in-flight task queue per direction, classifies RPC outcomes, retries
// transient failures with a fixed back-off, and treats teardown tasks
// (unregister/leave/delete) as successful when their peer is already
// gone.
//
// Two independent queues are expected to be constructed: one for
// interest/receiver/join/send tasks ("primary"), one for downstream
// membership-change notifications ("notify"), so that the latter can
// never starve the former or vice versa.
package rpcqueue
