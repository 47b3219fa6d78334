package ctlproto

// VifSelector identifies the target vif(s) of an operation. All is the
// "_all_vifs" variant of spec.md Section 6's lifecycle ops; when set,
// Name and Family are ignored.
type VifSelector struct {
	Name   string `json:"name,omitempty"`
	Family string `json:"family"`
	All    bool   `json:"all,omitempty"`
}

// AddVifParams is OpAddVif's parameter payload.
type AddVifParams struct {
	Name         string   `json:"name"`
	Family       string   `json:"family"`
	PrimaryAddr  string   `json:"primary_addr"`
	Addrs        []string `json:"addrs,omitempty"`
	ProtoVersion int      `json:"proto_version,omitempty"`
}

// DeleteVifParams is OpDeleteVif's parameter payload.
type DeleteVifParams struct {
	Name   string `json:"name"`
	Family string `json:"family"`
}

// SetVifFlagsParams is OpSetVifFlags's parameter payload. Pointer
// fields distinguish "leave unchanged" (nil) from an explicit false.
type SetVifFlagsParams struct {
	Name      string `json:"name"`
	Family    string `json:"family"`
	P2P       *bool  `json:"p2p,omitempty"`
	Loopback  *bool  `json:"loopback,omitempty"`
	Multicast *bool  `json:"multicast,omitempty"`
	Broadcast *bool  `json:"broadcast,omitempty"`
	Up        *bool  `json:"up,omitempty"`
	MTU       *int   `json:"mtu,omitempty"`
}

// AddVifAddrParams is OpAddVifAddr's parameter payload.
type AddVifAddrParams struct {
	Name      string `json:"name"`
	Family    string `json:"family"`
	Addr      string `json:"addr"`
	Subnet    string `json:"subnet"`
	Broadcast string `json:"broadcast,omitempty"`
	Peer      string `json:"peer,omitempty"`
}

// DeleteVifAddrParams is OpDeleteVifAddr's parameter payload.
type DeleteVifAddrParams struct {
	Name   string `json:"name"`
	Family string `json:"family"`
	Addr   string `json:"addr"`
}

// SetProtoVersionParams is OpSetProtoVersion's parameter payload.
type SetProtoVersionParams struct {
	VifSelector
	Version int `json:"version"`
}

// SetDurationParams is the shared shape of OpSetQueryInterval,
// OpSetQueryLastMemberInterval, and OpSetQueryResponseInterval: each
// sets one TimeVal knob of spec.md Section 6, given as a
// time.ParseDuration-compatible string (e.g. "125s").
type SetDurationParams struct {
	VifSelector
	Duration string `json:"duration"`
}

// SetRobustCountParams is OpSetRobustCount's parameter payload.
type SetRobustCountParams struct {
	VifSelector
	Count uint `json:"count"`
}

// ShowVifParams selects the vif(s) to show. An empty Name lists every
// vif of the given family (or every vif of both families if Family is
// also empty).
type ShowVifParams struct {
	Name   string `json:"name,omitempty"`
	Family string `json:"family,omitempty"`
}

// VifInfo is OpShowVif's per-vif result element.
type VifInfo struct {
	Name         string   `json:"name"`
	Family       string   `json:"family"`
	Index        uint32   `json:"index"`
	Up           bool     `json:"up"`
	IsQuerier    bool     `json:"is_querier"`
	ProtoVersion int      `json:"proto_version"`
	PrimaryAddr  string   `json:"primary_addr"`
	Addrs        []string `json:"addrs,omitempty"`
	GroupCount   int      `json:"group_count"`
}

// ShowVifResult is OpShowVif's result payload.
type ShowVifResult struct {
	Vifs []VifInfo `json:"vifs"`
}

// ShowGroupParams selects the vif whose group table to show.
type ShowGroupParams struct {
	Name   string `json:"name"`
	Family string `json:"family"`
}

// GroupInfo is one group's membership-table row.
type GroupInfo struct {
	Group          string   `json:"group"`
	CompatMode     string   `json:"compat_mode"`
	FilterMode     string   `json:"filter_mode"`
	Sources        []string `json:"sources,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// ShowGroupResult is OpShowGroup's result payload.
type ShowGroupResult struct {
	Groups []GroupInfo `json:"groups"`
}

// ShowQuerierParams selects the vif whose querier state to show.
type ShowQuerierParams struct {
	Name   string `json:"name"`
	Family string `json:"family"`
}

// ShowQuerierResult is OpShowQuerier's result payload.
type ShowQuerierResult struct {
	Vif         string `json:"vif"`
	IsQuerier   bool   `json:"is_querier"`
	QuerierAddr string `json:"querier_addr,omitempty"`
}
