package wire

import (
	"encoding/binary"
	"net/netip"

	"github.com/mgroupd/mgroupd/internal/mgroup"
	"github.com/mgroupd/mgroupd/internal/rpcqueue"
)

// allSystemsV4 and allNodesV6 are the destination addresses for
// general queries (RFC 3376 §4.1.1, RFC 3810 §5.1.1).
var (
	allSystemsV4 = netip.MustParseAddr("224.0.0.1")
	allNodesV6   = netip.MustParseAddr("ff02::1")
)

const (
	maxRespCodeV4Default = 100 // 10s in 1/10s units, used when SFlag query encoding is not needed
	qqicDefault          = 125
)

// EncodeQuery renders q as the ProtocolMessage the FEA ABI's send()
// expects, choosing IGMPv3 or MLDv2 query wire format depending on
// family. The query's destination is the all-systems/all-nodes address
// for a general query, the group address otherwise (RFC 3376 §4.1,
// RFC 3810 §5.1).
func EncodeQuery(family mgroup.Family, q mgroup.OutboundQuery) rpcqueue.ProtocolMessage {
	if family == mgroup.FamilyV6 {
		return encodeMLDQuery(q)
	}
	return encodeIGMPQuery(q)
}

func encodeIGMPQuery(q mgroup.OutboundQuery) rpcqueue.ProtocolMessage {
	dst := allSystemsV4
	group := netip.IPv4Unspecified()
	if q.Kind != mgroup.QueryGeneral {
		dst = q.Group
		group = q.Group
	}

	payload := make([]byte, 12, 12+4*len(q.Sources))
	payload[0] = igmpTypeMembershipQuery
	payload[1] = maxRespCodeV4Default
	// payload[2:4] checksum left zero; computed by the sender's kernel
	// path or a lower transport layer, out of this package's scope.
	copy(payload[4:8], group.AsSlice())
	if q.SFlag {
		payload[8] = 0x08
	}
	payload[9] = qqicDefault
	binary.BigEndian.PutUint16(payload[10:12], uint16(len(q.Sources)))
	for _, s := range q.Sources {
		payload = append(payload, s.AsSlice()...)
	}

	return rpcqueue.ProtocolMessage{
		IfName:      q.Vif.Name,
		VifName:     q.Vif.Name,
		Src:         q.Vif.PrimaryAddr,
		Dst:         dst,
		IPProto:     igmpTypeMembershipQuery,
		TTL:         1,
		RouterAlert: true,
		Payload:     payload,
	}
}

func encodeMLDQuery(q mgroup.OutboundQuery) rpcqueue.ProtocolMessage {
	dst := allNodesV6
	group := netip.IPv6Unspecified()
	if q.Kind != mgroup.QueryGeneral {
		dst = q.Group
		group = q.Group
	}

	payload := make([]byte, 28, 28+16*len(q.Sources))
	payload[0] = mldTypeListenerQuery
	binary.BigEndian.PutUint16(payload[4:6], uint16(maxRespCodeV4Default*100))
	copy(payload[8:24], group.AsSlice())
	if q.SFlag {
		payload[24] = 0x08
	}
	payload[25] = qqicDefault
	binary.BigEndian.PutUint16(payload[26:28], uint16(len(q.Sources)))
	for _, s := range q.Sources {
		payload = append(payload, s.AsSlice()...)
	}

	return rpcqueue.ProtocolMessage{
		IfName:      q.Vif.Name,
		VifName:     q.Vif.Name,
		Src:         q.Vif.PrimaryAddr,
		Dst:         dst,
		IPProto:     mldTypeListenerQuery,
		TTL:         1,
		RouterAlert: true,
		Payload:     payload,
	}
}
