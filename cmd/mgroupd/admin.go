package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/mgroupd/mgroupd/internal/ctlproto"
	"github.com/mgroupd/mgroupd/internal/mgroup"
)

// adminHandler implements ctlproto.Handler by translating each Op into
// calls against the two mgroup.Node instances (one per address family)
// and the metrics/config state that sits alongside them. It is the
// only piece of this daemon that touches both Nodes by name.
type adminHandler struct {
	nodes map[mgroup.Family]*mgroupNode
}

// mgroupNode is a thin per-family wrapper so adminHandler.nodes can be
// keyed by mgroup.Family without exposing *mgroup.Node directly.
type mgroupNode struct {
	node *mgroup.Node
}

func newAdminHandler(v4, v6 *mgroup.Node) *adminHandler {
	return &adminHandler{nodes: map[mgroup.Family]*mgroupNode{
		mgroup.FamilyV4: {node: v4},
		mgroup.FamilyV6: {node: v6},
	}}
}

func parseFamily(s string) (mgroup.Family, error) {
	switch strings.ToLower(s) {
	case "ipv4", "":
		return mgroup.FamilyV4, nil
	case "ipv6":
		return mgroup.FamilyV6, nil
	default:
		return 0, fmt.Errorf("admin: unknown family %q", s)
	}
}

func (h *adminHandler) nodeFor(family string) (*mgroup.Node, error) {
	f, err := parseFamily(family)
	if err != nil {
		return nil, err
	}
	return h.nodes[f].node, nil
}

// Handle dispatches op to its handler method. Every per-op payload is
// decoded here rather than by the caller, since each Op has its own
// parameter shape (ctlproto.Request.Params is left raw for exactly
// this reason).
func (h *adminHandler) Handle(ctx context.Context, op ctlproto.Op, params json.RawMessage) (any, error) {
	switch op {
	case ctlproto.OpAddVif:
		return h.addVif(params)
	case ctlproto.OpDeleteVif:
		return h.deleteVif(params)
	case ctlproto.OpSetVifFlags:
		return h.setVifFlags(params)
	case ctlproto.OpAddVifAddr:
		return h.addVifAddr(params)
	case ctlproto.OpDeleteVifAddr:
		return h.deleteVifAddr(params)
	case ctlproto.OpEnableVif, ctlproto.OpStartVif:
		return h.setVifUp(params, true)
	case ctlproto.OpDisableVif, ctlproto.OpStopVif:
		return h.setVifUp(params, false)
	case ctlproto.OpSetProtoVersion:
		return h.setProtoVersion(params)
	case ctlproto.OpSetQueryInterval:
		return h.setDuration(params, func(s *mgroup.Settings, d time.Duration) { s.QueryInterval = d })
	case ctlproto.OpSetQueryLastMemberInterval:
		return h.setDuration(params, func(s *mgroup.Settings, d time.Duration) { s.QueryLastMemberInterval = d })
	case ctlproto.OpSetQueryResponseInterval:
		return h.setDuration(params, func(s *mgroup.Settings, d time.Duration) { s.QueryResponseInterval = d })
	case ctlproto.OpSetRobustCount:
		return h.setRobustCount(params)
	case ctlproto.OpShowVif:
		return h.showVif(params)
	case ctlproto.OpShowGroup:
		return h.showGroup(params)
	case ctlproto.OpShowQuerier:
		return h.showQuerier(params)
	default:
		return nil, fmt.Errorf("admin: unknown op %q", op)
	}
}

func (h *adminHandler) addVif(raw json.RawMessage) (any, error) {
	var p ctlproto.AddVifParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	node, err := h.nodeFor(p.Family)
	if err != nil {
		return nil, err
	}
	family, _ := parseFamily(p.Family)
	primary, err := netip.ParseAddr(p.PrimaryAddr)
	if err != nil {
		return nil, fmt.Errorf("admin: bad primary_addr %q: %w", p.PrimaryAddr, err)
	}
	addrs := make([]mgroup.InterfaceAddr, 0, len(p.Addrs))
	for _, cidr := range p.Addrs {
		prefix, perr := netip.ParsePrefix(cidr)
		if perr != nil {
			return nil, fmt.Errorf("admin: bad addr %q: %w", cidr, perr)
		}
		addrs = append(addrs, mgroup.InterfaceAddr{Addr: primary, Prefix: prefix})
	}
	version := p.ProtoVersion
	if version == 0 {
		version = 3
		if family == mgroup.FamilyV6 {
			version = 2
		}
	}
	return nil, node.AddVif(mgroup.VifDesc{
		Index:       resolveIfIndex(p.Name),
		Name:        p.Name,
		PrimaryAddr: primary,
		Addrs:       addrs,
		Settings:    mgroup.DefaultSettings(mgroup.ProtoVersion(version)),
	})
}

func resolveIfIndex(name string) uint32 {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0
	}
	return uint32(iface.Index) //nolint:gosec // G115: OS interface indices are always small positive integers.
}

func (h *adminHandler) deleteVif(raw json.RawMessage) (any, error) {
	var p ctlproto.DeleteVifParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	node, err := h.nodeFor(p.Family)
	if err != nil {
		return nil, err
	}
	return nil, node.DeleteVif(p.Name)
}

// vif resolves one named vif in the given family.
func (h *adminHandler) vif(name, family string) (*mgroup.Vif, error) {
	node, err := h.nodeFor(family)
	if err != nil {
		return nil, err
	}
	vif, ok := node.VifByName(name)
	if !ok {
		return nil, fmt.Errorf("admin: vif %q not found", name)
	}
	return vif, nil
}

// selectedVifs resolves a VifSelector to the concrete vifs it names:
// either one named vif in one family, or every vif of every family
// when All is set (spec.md Section 6's "_all_vifs" variants).
func (h *adminHandler) selectedVifs(sel ctlproto.VifSelector) ([]*mgroup.Vif, error) {
	if !sel.All {
		v, err := h.vif(sel.Name, sel.Family)
		if err != nil {
			return nil, err
		}
		return []*mgroup.Vif{v}, nil
	}
	var out []*mgroup.Vif
	for _, mn := range h.nodes {
		out = append(out, mn.node.Vifs()...)
	}
	return out, nil
}

// setVifFlags mutates a vif's static link properties. Per the
// concurrency contract documented on mgroup.Vif, these fields are only
// safe to touch from outside the vif's own goroutine while it is
// stopped, so this op refuses to act on a running vif rather than
// racing its event loop. Only p2p, loopback, multicast and mtu are
// applied; the request's broadcast and up fields are ignored.
func (h *adminHandler) setVifFlags(raw json.RawMessage) (any, error) {
	var p ctlproto.SetVifFlagsParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	vif, err := h.vif(p.Name, p.Family)
	if err != nil {
		return nil, err
	}
	if vif.IsUp {
		return nil, fmt.Errorf("admin: vif %q must be stopped before changing flags", p.Name)
	}
	if p.P2P != nil {
		vif.IsP2P = *p.P2P
	}
	if p.Loopback != nil {
		vif.IsLoopback = *p.Loopback
	}
	if p.Multicast != nil {
		vif.IsMulticastCapable = *p.Multicast
	}
	if p.MTU != nil {
		vif.MTU = *p.MTU
	}
	return nil, nil
}

func (h *adminHandler) addVifAddr(raw json.RawMessage) (any, error) {
	var p ctlproto.AddVifAddrParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	vif, err := h.vif(p.Name, p.Family)
	if err != nil {
		return nil, err
	}
	if vif.IsUp {
		return nil, fmt.Errorf("admin: vif %q must be stopped before changing addresses", p.Name)
	}
	addr, err := netip.ParseAddr(p.Addr)
	if err != nil {
		return nil, fmt.Errorf("admin: bad addr %q: %w", p.Addr, err)
	}
	prefix, err := netip.ParsePrefix(p.Subnet)
	if err != nil {
		return nil, fmt.Errorf("admin: bad subnet %q: %w", p.Subnet, err)
	}
	ia := mgroup.InterfaceAddr{Addr: addr, Prefix: prefix}
	if p.Peer != "" {
		peer, perr := netip.ParseAddr(p.Peer)
		if perr != nil {
			return nil, fmt.Errorf("admin: bad peer %q: %w", p.Peer, perr)
		}
		ia.Peer = peer
	}
	vif.Addrs = append(vif.Addrs, ia)
	return nil, nil
}

func (h *adminHandler) deleteVifAddr(raw json.RawMessage) (any, error) {
	var p ctlproto.DeleteVifAddrParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	vif, err := h.vif(p.Name, p.Family)
	if err != nil {
		return nil, err
	}
	if vif.IsUp {
		return nil, fmt.Errorf("admin: vif %q must be stopped before changing addresses", p.Name)
	}
	addr, err := netip.ParseAddr(p.Addr)
	if err != nil {
		return nil, fmt.Errorf("admin: bad addr %q: %w", p.Addr, err)
	}
	kept := vif.Addrs[:0]
	for _, a := range vif.Addrs {
		if a.Addr != addr {
			kept = append(kept, a)
		}
	}
	vif.Addrs = kept
	return nil, nil
}

func (h *adminHandler) setVifUp(raw json.RawMessage, up bool) (any, error) {
	var sel ctlproto.VifSelector
	if err := json.Unmarshal(raw, &sel); err != nil {
		return nil, err
	}
	vifs, err := h.selectedVifs(sel)
	if err != nil {
		return nil, err
	}
	for _, vif := range vifs {
		switch {
		case up && !vif.IsUp:
			vif.Start()
		case !up && vif.IsUp:
			vif.Stop()
		}
	}
	return nil, nil
}

func (h *adminHandler) setProtoVersion(raw json.RawMessage) (any, error) {
	var p ctlproto.SetProtoVersionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	vifs, err := h.selectedVifs(p.VifSelector)
	if err != nil {
		return nil, err
	}
	for _, vif := range vifs {
		s := vif.Settings()
		s.ProtoVersion = mgroup.ProtoVersion(p.Version)
		vif.SetSettings(s)
	}
	return nil, nil
}

func (h *adminHandler) setDuration(raw json.RawMessage, apply func(*mgroup.Settings, time.Duration)) (any, error) {
	var p ctlproto.SetDurationParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(p.Duration)
	if err != nil {
		return nil, fmt.Errorf("admin: bad duration %q: %w", p.Duration, err)
	}
	vifs, err := h.selectedVifs(p.VifSelector)
	if err != nil {
		return nil, err
	}
	for _, vif := range vifs {
		s := vif.Settings()
		apply(&s, d)
		vif.SetSettings(s)
	}
	return nil, nil
}

func (h *adminHandler) setRobustCount(raw json.RawMessage) (any, error) {
	var p ctlproto.SetRobustCountParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	vifs, err := h.selectedVifs(p.VifSelector)
	if err != nil {
		return nil, err
	}
	for _, vif := range vifs {
		s := vif.Settings()
		s.RobustCount = p.Count
		vif.SetSettings(s)
	}
	return nil, nil
}

func (h *adminHandler) showVif(raw json.RawMessage) (any, error) {
	var p ctlproto.ShowVifParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}

	var families []mgroup.Family
	if p.Family != "" {
		f, err := parseFamily(p.Family)
		if err != nil {
			return nil, err
		}
		families = []mgroup.Family{f}
	} else {
		families = []mgroup.Family{mgroup.FamilyV4, mgroup.FamilyV6}
	}

	var out ctlproto.ShowVifResult
	for _, f := range families {
		node := h.nodes[f].node
		for _, vif := range node.Vifs() {
			if p.Name != "" && vif.Name != p.Name {
				continue
			}
			addrs := make([]string, 0, len(vif.Addrs))
			for _, a := range vif.Addrs {
				addrs = append(addrs, a.Prefix.String())
			}
			out.Vifs = append(out.Vifs, ctlproto.VifInfo{
				Name:         vif.Name,
				Family:       f.String(),
				Index:        vif.Index,
				Up:           vif.IsUp,
				IsQuerier:    vif.IsQuerier,
				ProtoVersion: int(vif.Settings().ProtoVersion),
				PrimaryAddr:  vif.PrimaryAddr.String(),
				Addrs:        addrs,
				GroupCount:   len(vif.Groups.SortedGroups()),
			})
		}
	}
	return out, nil
}

func (h *adminHandler) showGroup(raw json.RawMessage) (any, error) {
	var p ctlproto.ShowGroupParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	vif, err := h.vif(p.Name, p.Family)
	if err != nil {
		return nil, err
	}

	var out ctlproto.ShowGroupResult
	for _, g := range vif.Groups.SortedGroups() {
		sources := g.ForwardSources.SortedAddrs()
		if g.Mode == mgroup.ModeExclude {
			sources = g.DontForwardSources.SortedAddrs()
		}
		strs := make([]string, 0, len(sources))
		for _, s := range sources {
			strs = append(strs, s.String())
		}
		out.Groups = append(out.Groups, ctlproto.GroupInfo{
			Group:          g.Group.String(),
			CompatMode:     g.CompatMode().String(),
			FilterMode:     g.Mode.String(),
			Sources:        strs,
			TimeoutSeconds: g.TimeoutSeconds(),
		})
	}
	return out, nil
}

func (h *adminHandler) showQuerier(raw json.RawMessage) (any, error) {
	var p ctlproto.ShowQuerierParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	vif, err := h.vif(p.Name, p.Family)
	if err != nil {
		return nil, err
	}
	out := ctlproto.ShowQuerierResult{
		Vif:       vif.Name,
		IsQuerier: vif.IsQuerier,
	}
	if vif.QuerierAddr.IsValid() {
		out.QuerierAddr = vif.QuerierAddr.String()
	}
	return out, nil
}
