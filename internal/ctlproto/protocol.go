package ctlproto

import "encoding/json"

// Op names the administrative operation a Request carries, matching
// spec.md Section 6's administrative surface.
type Op string

const (
	OpAddVif    Op = "add_vif"
	OpDeleteVif Op = "delete_vif"

	OpSetVifFlags   Op = "set_vif_flags"
	OpAddVifAddr    Op = "add_vif_addr"
	OpDeleteVifAddr Op = "delete_vif_addr"

	OpEnableVif  Op = "enable_vif"
	OpDisableVif Op = "disable_vif"
	OpStartVif   Op = "start_vif"
	OpStopVif    Op = "stop_vif"

	OpSetProtoVersion            Op = "set_proto_version"
	OpSetQueryInterval           Op = "set_query_interval"
	OpSetQueryLastMemberInterval Op = "set_query_last_member_interval"
	OpSetQueryResponseInterval   Op = "set_query_response_interval"
	OpSetRobustCount             Op = "set_robust_count"

	OpShowVif     Op = "show_vif"
	OpShowGroup   Op = "show_group"
	OpShowQuerier Op = "show_querier"
)

// Request is one line of the control protocol sent from mgroupctl to
// mgroupd. Params is left as a raw message and decoded by the handler
// for the named Op, since each Op has its own parameter shape.
type Request struct {
	ID     int64           `json:"id"`
	Op     Op              `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one line of the control protocol sent back from mgroupd.
// Echoes the Request's ID so a client pipelining multiple requests on
// one connection can match replies; this implementation only ever
// sends one request at a time, but the field is part of the wire
// contract regardless.
type Response struct {
	ID     int64           `json:"id"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}
