package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/mgroupd/mgroupd/internal/mgroup"
	"github.com/mgroupd/mgroupd/internal/rpcqueue"
)

// IGMP message types (RFC 3376 §4).
const (
	igmpTypeMembershipQuery = 0x11
	igmpTypeV1Report        = 0x12
	igmpTypeV2Report        = 0x16
	igmpTypeV2Leave         = 0x17
	igmpTypeV3Report        = 0x22
)

// ICMPv6 message types carrying MLD (RFC 3810 §5).
const (
	mldTypeListenerQuery = 130
	mldTypeV1Report      = 131
	mldTypeV1Done        = 132
	mldTypeV2Report      = 143
)

// Group/multicast-address record types shared by IGMPv3 and MLDv2
// (RFC 3376 §4.2.12, RFC 3810 §5.2.12).
const (
	recModeIsInclude   = 1
	recModeIsExclude   = 2
	recChangeToInclude = 3
	recChangeToExclude = 4
	recAllowNewSources = 5
	recBlockOldSources = 6
)

// ErrShortPacket is returned when a payload is too small for the
// message type its leading byte claims.
var ErrShortPacket = errors.New("wire: packet too short")

// ErrUnsupportedType is returned for a recognized protocol family's
// message type this package does not translate into a Report or Query
// (e.g. a stray ICMPv6 Router Advertisement delivered to the MLD
// socket's raw filter).
var ErrUnsupportedType = errors.New("wire: unsupported message type")

// Query is a parsed incoming Membership/Listener Query, consumed by
// mgroup.Vif.ReceiveQuery for querier election and timer-lowering.
type Query struct {
	Kind    mgroup.QueryKind
	SrcAddr netip.Addr
	Group   netip.Addr
	Sources []netip.Addr
}

// Decoded is the result of translating one inbound raw IP payload:
// zero or more membership reports (an IGMPv3/MLDv2 packet may carry
// several group records) and, mutually exclusively, one query.
type Decoded struct {
	Reports []mgroup.Report
	Query   *Query
}

// Decode translates msg's payload into the Decoded reports/query it
// carries, or an error if the payload is malformed or not a type this
// package translates. msg.Src, msg.TTL, and msg.RouterAlert are taken
// directly from the already-parsed IP header (spec.md §6's FEA ABI
// delivers those separately from the payload).
func Decode(family mgroup.Family, msg rpcqueue.ProtocolMessage) (Decoded, error) {
	if family == mgroup.FamilyV6 {
		return decodeMLD(msg)
	}
	return decodeIGMP(msg)
}

func decodeIGMP(msg rpcqueue.ProtocolMessage) (Decoded, error) {
	p := msg.Payload
	if len(p) < 1 {
		return Decoded{}, fmt.Errorf("igmp: %w", ErrShortPacket)
	}

	switch p[0] {
	case igmpTypeMembershipQuery:
		return decodeIGMPQuery(p)
	case igmpTypeV1Report:
		return reportDecoded(msg, mgroup.EventIsExclude, 1, nil), nil
	case igmpTypeV2Report:
		return reportDecoded(msg, mgroup.EventIsExclude, 2, nil), nil
	case igmpTypeV2Leave:
		return reportDecoded(msg, mgroup.EventChangeToInclude, 2, nil), nil
	case igmpTypeV3Report:
		return decodeIGMPv3Report(msg)
	default:
		return Decoded{}, fmt.Errorf("igmp type %#x: %w", p[0], ErrUnsupportedType)
	}
}

func decodeIGMPQuery(p []byte) (Decoded, error) {
	if len(p) < 8 {
		return Decoded{}, fmt.Errorf("igmp query: %w", ErrShortPacket)
	}
	group, ok := netip.AddrFromSlice(p[4:8])
	if !ok {
		return Decoded{}, fmt.Errorf("igmp query: invalid group address")
	}
	group = group.Unmap()

	if group.IsUnspecified() {
		return Decoded{Query: &Query{Kind: mgroup.QueryGeneral}}, nil
	}

	// A v3 query carries an extended header with a source list; v1/v2
	// queries are always group-specific with no sources.
	if len(p) >= 12 {
		numSources := int(binary.BigEndian.Uint16(p[10:12]))
		sources, err := readV4Addrs(p, 12, numSources)
		if err != nil {
			return Decoded{}, fmt.Errorf("igmp query: %w", err)
		}
		if len(sources) > 0 {
			return Decoded{Query: &Query{Kind: mgroup.QueryGroupAndSource, Group: group, Sources: sources}}, nil
		}
	}
	return Decoded{Query: &Query{Kind: mgroup.QueryGroupSpecific, Group: group}}, nil
}

func decodeIGMPv3Report(msg rpcqueue.ProtocolMessage) (Decoded, error) {
	p := msg.Payload
	if len(p) < 8 {
		return Decoded{}, fmt.Errorf("igmpv3 report: %w", ErrShortPacket)
	}
	numRecords := int(binary.BigEndian.Uint16(p[6:8]))

	reports := make([]mgroup.Report, 0, numRecords)
	offset := 8
	for i := 0; i < numRecords; i++ {
		if offset+8 > len(p) {
			return Decoded{}, fmt.Errorf("igmpv3 report: %w", ErrShortPacket)
		}
		recType := p[offset]
		auxLen := int(p[offset+1])
		numSources := int(binary.BigEndian.Uint16(p[offset+2 : offset+4]))
		group, ok := netip.AddrFromSlice(p[offset+4 : offset+8])
		if !ok {
			return Decoded{}, fmt.Errorf("igmpv3 report: invalid group address")
		}

		srcOffset := offset + 8
		sources, err := readV4Addrs(p, srcOffset, numSources)
		if err != nil {
			return Decoded{}, fmt.Errorf("igmpv3 report: %w", err)
		}

		event, ok := eventForRecordType(recType)
		if !ok {
			return Decoded{}, fmt.Errorf("igmpv3 report record type %d: %w", recType, ErrUnsupportedType)
		}

		reports = append(reports, mgroup.Report{
			Group:          group.Unmap(),
			Event:          event,
			Sources:        sources,
			Reporter:       msg.Src,
			MessageVersion: 3,
			IPTTL:          msg.TTL,
			IPRouterAlert:  msg.RouterAlert,
		})

		offset = srcOffset + numSources*4 + auxLen*4
	}

	return Decoded{Reports: reports}, nil
}

func decodeMLD(msg rpcqueue.ProtocolMessage) (Decoded, error) {
	p := msg.Payload
	if len(p) < 1 {
		return Decoded{}, fmt.Errorf("mld: %w", ErrShortPacket)
	}

	switch p[0] {
	case mldTypeListenerQuery:
		return decodeMLDQuery(p)
	case mldTypeV1Report:
		return decodeMLDv1(msg, mgroup.EventIsExclude)
	case mldTypeV1Done:
		return decodeMLDv1(msg, mgroup.EventChangeToInclude)
	case mldTypeV2Report:
		return decodeMLDv2Report(msg)
	default:
		return Decoded{}, fmt.Errorf("mld type %d: %w", p[0], ErrUnsupportedType)
	}
}

// decodeMLDv1 handles both the Multicast Listener Report (131, a join)
// and Multicast Listener Done (132, a leave) messages. Per RFC 2710
// §3 the multicast address field duplicates the IPv6 destination
// address, so msg.Dst is used directly rather than re-parsing the
// payload.
func decodeMLDv1(msg rpcqueue.ProtocolMessage, event mgroup.EventType) (Decoded, error) {
	if len(msg.Payload) < 24 {
		return Decoded{}, fmt.Errorf("mldv1: %w", ErrShortPacket)
	}
	return reportDecoded(msg, event, 1, nil), nil
}

func decodeMLDQuery(p []byte) (Decoded, error) {
	if len(p) < 24 {
		return Decoded{}, fmt.Errorf("mld query: %w", ErrShortPacket)
	}
	group, ok := netip.AddrFromSlice(p[8:24])
	if !ok {
		return Decoded{}, fmt.Errorf("mld query: invalid multicast address")
	}

	if group.IsUnspecified() {
		return Decoded{Query: &Query{Kind: mgroup.QueryGeneral}}, nil
	}

	// MLDv2 queries append a source list after a 4-byte extended
	// header; MLDv1 queries stop at the multicast address.
	if len(p) >= 28 {
		numSources := int(binary.BigEndian.Uint16(p[26:28]))
		sources, err := readV6Addrs(p, 28, numSources)
		if err != nil {
			return Decoded{}, fmt.Errorf("mld query: %w", err)
		}
		if len(sources) > 0 {
			return Decoded{Query: &Query{Kind: mgroup.QueryGroupAndSource, Group: group, Sources: sources}}, nil
		}
	}
	return Decoded{Query: &Query{Kind: mgroup.QueryGroupSpecific, Group: group}}, nil
}

func decodeMLDv2Report(msg rpcqueue.ProtocolMessage) (Decoded, error) {
	p := msg.Payload
	if len(p) < 8 {
		return Decoded{}, fmt.Errorf("mldv2 report: %w", ErrShortPacket)
	}
	numRecords := int(binary.BigEndian.Uint16(p[6:8]))

	reports := make([]mgroup.Report, 0, numRecords)
	offset := 8
	for i := 0; i < numRecords; i++ {
		if offset+20 > len(p) {
			return Decoded{}, fmt.Errorf("mldv2 report: %w", ErrShortPacket)
		}
		recType := p[offset]
		auxLen := int(p[offset+1])
		numSources := int(binary.BigEndian.Uint16(p[offset+2 : offset+4]))
		group, ok := netip.AddrFromSlice(p[offset+4 : offset+20])
		if !ok {
			return Decoded{}, fmt.Errorf("mldv2 report: invalid multicast address")
		}

		srcOffset := offset + 20
		sources, err := readV6Addrs(p, srcOffset, numSources)
		if err != nil {
			return Decoded{}, fmt.Errorf("mldv2 report: %w", err)
		}

		event, ok := eventForRecordType(recType)
		if !ok {
			return Decoded{}, fmt.Errorf("mldv2 report record type %d: %w", recType, ErrUnsupportedType)
		}

		reports = append(reports, mgroup.Report{
			Group:          group.Unmap(),
			Event:          event,
			Sources:        sources,
			Reporter:       msg.Src,
			MessageVersion: 2,
			IPTTL:          msg.TTL,
			IPRouterAlert:  msg.RouterAlert,
		})

		offset = srcOffset + numSources*16 + auxLen*4
	}

	return Decoded{Reports: reports}, nil
}

func reportDecoded(msg rpcqueue.ProtocolMessage, event mgroup.EventType, version int, sources []netip.Addr) Decoded {
	return Decoded{Reports: []mgroup.Report{{
		Group:          msg.Dst,
		Event:          event,
		Sources:        sources,
		Reporter:       msg.Src,
		MessageVersion: version,
		IPTTL:          msg.TTL,
		IPRouterAlert:  msg.RouterAlert,
	}}}
}

func eventForRecordType(t byte) (mgroup.EventType, bool) {
	switch t {
	case recModeIsInclude:
		return mgroup.EventIsInclude, true
	case recModeIsExclude:
		return mgroup.EventIsExclude, true
	case recChangeToInclude:
		return mgroup.EventChangeToInclude, true
	case recChangeToExclude:
		return mgroup.EventChangeToExclude, true
	case recAllowNewSources:
		return mgroup.EventAllow, true
	case recBlockOldSources:
		return mgroup.EventBlock, true
	default:
		return 0, false
	}
}

func readV4Addrs(p []byte, offset, n int) ([]netip.Addr, error) {
	if n == 0 {
		return nil, nil
	}
	if offset+n*4 > len(p) {
		return nil, ErrShortPacket
	}
	addrs := make([]netip.Addr, 0, n)
	for i := 0; i < n; i++ {
		a, ok := netip.AddrFromSlice(p[offset+i*4 : offset+i*4+4])
		if !ok {
			return nil, fmt.Errorf("invalid source address at index %d", i)
		}
		addrs = append(addrs, a.Unmap())
	}
	return addrs, nil
}

func readV6Addrs(p []byte, offset, n int) ([]netip.Addr, error) {
	if n == 0 {
		return nil, nil
	}
	if offset+n*16 > len(p) {
		return nil, ErrShortPacket
	}
	addrs := make([]netip.Addr, 0, n)
	for i := 0; i < n; i++ {
		a, ok := netip.AddrFromSlice(p[offset+i*16 : offset+i*16+16])
		if !ok {
			return nil, fmt.Errorf("invalid source address at index %d", i)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}
