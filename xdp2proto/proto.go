// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

// Package xdp2proto is a worked example protocol graph — Ethernet over
// IPv4/IPv6 (with one hop-by-hop extension header), GRE encapsulation, and
// TCP/UDP — built from the engine's primitives in xdp2. It exists to be
// Parsed against, and to exercise every node shape the engine supports: a
// plain node (Ethernet, IPv4, IPv6, UDP), an array node (srv6.go's IPv6
// Routing header),
// a flag-fields node (GRE's optional fields), and a TLV node (TCP options).
package xdp2proto

import (
	"encoding/binary"

	"github.com/xdp2-dev/xdp2go"
)

// EtherType values used as next-protocol keys out of the Ethernet node.
const (
	EtherTypeIPv4 = 0x0800
	EtherTypeIPv6 = 0x86DD
)

// IP protocol numbers used as next-protocol keys out of IPv4/IPv6/GRE.
const (
	ProtoHopByHop = 0
	ProtoTCP      = 6
	ProtoUDP      = 17
	ProtoGRE      = 47
)

// Metadata is the flat record xdp2proto's extract_metadata callbacks fill
// in, one instance per encapsulation frame (spec §4.3). Its layout is
// entirely local to this example graph; the engine itself only ever sees
// frames as opaque []byte.
type Metadata struct {
	EtherType  uint16
	SrcMAC     [6]byte
	DstMAC     [6]byte
	IPVersion  uint8
	IPProto    uint8
	SrcAddr    [16]byte
	DstAddr    [16]byte
	SrcPort    uint16
	DstPort    uint16
	TCPFlags   uint8
	HasGREKey  bool
	GREKey     uint32
	HasGRESeq  bool
	GRESeqno   uint32
	SACKCount  uint8
	SACKBlocks [4][2]uint32 // (left, right) edge pairs, per TCP SACK (RFC 2018)
}

func putMeta(frame []byte, m func(*Metadata)) {
	if len(frame) < metaSize {
		return
	}
	var md Metadata
	decodeMeta(frame, &md)
	m(&md)
	encodeMeta(frame, &md)
}

// metaSize is deliberately generous; Build() sizes ParserConfig.FrameSize
// from it so every frame the engine hands back is guaranteed large enough.
const metaSize = 128

// The metadata struct is encoded into the frame by hand (rather than via
// unsafe reinterpretation) field by field, matching the engine's own "the
// frame is just bytes" contract.
func decodeMeta(b []byte, m *Metadata) {
	m.EtherType = binary.BigEndian.Uint16(b[0:2])
	copy(m.SrcMAC[:], b[2:8])
	copy(m.DstMAC[:], b[8:14])
	m.IPVersion = b[14]
	m.IPProto = b[15]
	copy(m.SrcAddr[:], b[16:32])
	copy(m.DstAddr[:], b[32:48])
	m.SrcPort = binary.BigEndian.Uint16(b[48:50])
	m.DstPort = binary.BigEndian.Uint16(b[50:52])
	m.TCPFlags = b[52]
	m.HasGREKey = b[53] != 0
	m.GREKey = binary.BigEndian.Uint32(b[54:58])
	m.HasGRESeq = b[58] != 0
	if len(b) >= 63 {
		m.GRESeqno = uint32(b[59])<<24 | uint32(b[60])<<16 | uint32(b[61])<<8 | uint32(b[62])
	}
	if len(b) >= 96 {
		m.SACKCount = b[63]
		for i := range m.SACKBlocks {
			off := 64 + i*8
			m.SACKBlocks[i][0] = binary.BigEndian.Uint32(b[off : off+4])
			m.SACKBlocks[i][1] = binary.BigEndian.Uint32(b[off+4 : off+8])
		}
	}
}

func encodeMeta(b []byte, m *Metadata) {
	binary.BigEndian.PutUint16(b[0:2], m.EtherType)
	copy(b[2:8], m.SrcMAC[:])
	copy(b[8:14], m.DstMAC[:])
	b[14] = m.IPVersion
	b[15] = m.IPProto
	copy(b[16:32], m.SrcAddr[:])
	copy(b[32:48], m.DstAddr[:])
	binary.BigEndian.PutUint16(b[48:50], m.SrcPort)
	binary.BigEndian.PutUint16(b[50:52], m.DstPort)
	b[52] = m.TCPFlags
	if m.HasGREKey {
		b[53] = 1
	}
	binary.BigEndian.PutUint32(b[54:58], m.GREKey)
	if m.HasGRESeq {
		b[58] = 1
	}
	b[59] = byte(m.GRESeqno >> 24)
	b[60] = byte(m.GRESeqno >> 16)
	b[61] = byte(m.GRESeqno >> 8)
	b[62] = byte(m.GRESeqno)
	if len(b) >= 96 {
		b[63] = m.SACKCount
		for i := range m.SACKBlocks {
			off := 64 + i*8
			binary.BigEndian.PutUint32(b[off:off+4], m.SACKBlocks[i][0])
			binary.BigEndian.PutUint32(b[off+4:off+8], m.SACKBlocks[i][1])
		}
	}
}

// DecodeMetadata reads back the Metadata a Parse call left in frame.
func DecodeMetadata(frame []byte) Metadata {
	var md Metadata
	if len(frame) >= metaSize {
		decodeMeta(frame, &md)
	}
	return md
}

var ethernetNode = &xdp2.ParseNode{
	Name: "ethernet",
	Type: xdp2.NodePlain,
	Proto: &xdp2.ProtoDef{
		Name:   "ethernet",
		MinLen: 14,
		NextProto: func(hdr []byte) (int, xdp2.Status) {
			return int(binary.BigEndian.Uint16(hdr[12:14])), xdp2.OKAY
		},
	},
	Ops: xdp2.ParseNodeOps{
		ExtractMetadata: func(hdr []byte, hdrLen, hdrOff int, metameta, frame []byte, ctrl *xdp2.CtrlData) {
			putMeta(frame, func(m *Metadata) {
				m.EtherType = binary.BigEndian.Uint16(hdr[12:14])
				copy(m.DstMAC[:], hdr[0:6])
				copy(m.SrcMAC[:], hdr[6:12])
			})
		},
	},
	ProtoTable: &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{
		{Value: EtherTypeIPv4, Node: ipv4Node},
		{Value: EtherTypeIPv6, Node: ipv6Node},
	}},
	UnknownRet: xdp2.StopUnknownProto,
}

var ipv4Node = &xdp2.ParseNode{
	Name: "ipv4",
	Type: xdp2.NodePlain,
	Proto: &xdp2.ProtoDef{
		Name:   "ipv4",
		MinLen: 20,
		LenMaxlen: func(hdr []byte, remaining int) (int, xdp2.Status) {
			if hdr[0]>>4 != 4 {
				return 0, xdp2.StopUnknownProto
			}
			ihl := int(hdr[0]&0x0f) * 4
			if ihl < 20 {
				return 0, xdp2.StopLength
			}
			return ihl, xdp2.OKAY
		},
		NextProto: func(hdr []byte) (int, xdp2.Status) {
			flagsFrag := binary.BigEndian.Uint16(hdr[6:8])
			if flagsFrag&0x1fff != 0 {
				// Non-first fragment: stop, matching ipv4_proto's
				// "stop at a non-first fragment" rule.
				return 0, xdp2.StopOkay
			}
			return int(hdr[9]), xdp2.OKAY
		},
	},
	Ops: xdp2.ParseNodeOps{
		ExtractMetadata: func(hdr []byte, hdrLen, hdrOff int, metameta, frame []byte, ctrl *xdp2.CtrlData) {
			putMeta(frame, func(m *Metadata) {
				m.IPVersion = 4
				m.IPProto = hdr[9]
				copy(m.SrcAddr[12:16], hdr[12:16])
				copy(m.DstAddr[12:16], hdr[16:20])
			})
		},
	},
	ProtoTable: &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{
		{Value: ProtoTCP, Node: tcpNode},
		{Value: ProtoUDP, Node: udpNode},
		{Value: ProtoGRE, Node: greNode},
	}},
	UnknownRet: xdp2.StopOkay,
}

var ipv6Node = &xdp2.ParseNode{
	Name: "ipv6",
	Type: xdp2.NodePlain,
	Proto: &xdp2.ProtoDef{
		Name:   "ipv6",
		MinLen: 40,
		NextProto: func(hdr []byte) (int, xdp2.Status) {
			return int(hdr[6]), xdp2.OKAY
		},
	},
	Ops: xdp2.ParseNodeOps{
		ExtractMetadata: func(hdr []byte, hdrLen, hdrOff int, metameta, frame []byte, ctrl *xdp2.CtrlData) {
			putMeta(frame, func(m *Metadata) {
				m.IPVersion = 6
				m.IPProto = hdr[6]
				copy(m.SrcAddr[:], hdr[8:24])
				copy(m.DstAddr[:], hdr[24:40])
			})
		},
	},
	ProtoTable: &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{
		{Value: ProtoHopByHop, Node: hopByHopNode},
		{Value: ProtoTCP, Node: tcpNode},
		{Value: ProtoUDP, Node: udpNode},
		{Value: ProtoGRE, Node: greNode},
	}},
	UnknownRet: xdp2.StopOkay,
}

// hopByHopNode is IPv6's Hop-by-Hop Options extension header (spec §4.4,
// grounded on original_source's generic ipv6_eh_len/ipv6_eh_proto: length is
// (byte[1]+1)*8, next header is byte[0]).
var hopByHopNode = &xdp2.ParseNode{
	Name: "ipv6-hbh",
	Type: xdp2.NodeTLVs,
	Proto: &xdp2.ProtoDef{
		Name:   "ipv6-hbh",
		MinLen: 8,
		Len: func(hdr []byte) (int, xdp2.Status) {
			return (int(hdr[1]) + 1) * 8, xdp2.OKAY
		},
		NextProto: func(hdr []byte) (int, xdp2.Status) {
			return int(hdr[0]), xdp2.OKAY
		},
	},
	Ops: xdp2.ParseNodeOps{
		ExtractMetadata: func(hdr []byte, hdrLen, hdrOff int, metameta, frame []byte, ctrl *xdp2.CtrlData) {
			putMeta(frame, func(m *Metadata) {
				m.IPProto = hdr[0]
			})
		},
	},
	TLVs: &xdp2.TLVsNode{
		Proto: &xdp2.TLVsProtoDef{
			StartOffset: func(hdr []byte) int { return 2 },
			MinLen:      2,
			Pad1Enable:  true,
			Pad1Val:     0x00,
			Len: func(tlvHdr []byte, maxlen int) (int, xdp2.Status) {
				return int(tlvHdr[1]) + 2, xdp2.OKAY
			},
			Type: func(tlvHdr []byte) (int, xdp2.Status) {
				return int(tlvHdr[0]), xdp2.OKAY
			},
		},
		MaxTLVs:           64,
		UnknownTLVTypeRet: xdp2.OKAY,
	},
	ProtoTable: &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{
		{Value: ProtoTCP, Node: tcpNode},
		{Value: ProtoUDP, Node: udpNode},
		{Value: ProtoGRE, Node: greNode},
	}},
	UnknownRet: xdp2.StopOkay,
}

// greNode models GRE's optional checksum/key/sequence fields as a
// flag-fields node (spec §3: "GRE's optional fixed fields gated by flag
// bits"), keyed off the C0/K/S bits of the first two header bytes.
var greNode = &xdp2.ParseNode{
	Name: "gre",
	Type: xdp2.NodeFlagFields,
	Proto: &xdp2.ProtoDef{
		Name:   "gre",
		MinLen: 4,
		Encap:  true,
		LenMaxlen: func(hdr []byte, remaining int) (int, xdp2.Status) {
			ff := greNode.FlagFields
			flags := ff.Proto.GetFlags(hdr)
			return 4 + ff.Proto.Fields.Length(flags), xdp2.OKAY
		},
		NextProto: func(hdr []byte) (int, xdp2.Status) {
			return int(binary.BigEndian.Uint16(hdr[2:4])), xdp2.OKAY
		},
	},
	FlagFields: &xdp2.FlagFieldsNode{
		Proto: &xdp2.FlagFieldsProtoDef{
			GetFlags: func(hdr []byte) uint32 {
				return uint32(hdr[0] & 0xb0) // checksum(0x80) | key(0x20) | seq(0x10)
			},
			StartFieldsOffset: func(hdr []byte) int { return 4 },
			Fields: xdp2.FlagFieldsTableDescriptor{Fields: []xdp2.FlagField{
				{Flag: 0x80, Size: 4}, // checksum + reserved1
				{Flag: 0x20, Size: 4}, // key
				{Flag: 0x10, Size: 4}, // sequence number
			}},
		},
		Table: &xdp2.FlagFieldsTable{Entries: []xdp2.FlagFieldsTableEntry{
			{Index: 1, Node: &xdp2.FlagFieldNode{
				Name: "gre-key",
				Ops: xdp2.FlagFieldNodeOps{
					Handler: func(field, metameta, frame []byte, ctrl *xdp2.CtrlData) xdp2.Status {
						putMeta(frame, func(m *Metadata) {
							m.HasGREKey = true
							m.GREKey = binary.BigEndian.Uint32(field)
						})
						return xdp2.OKAY
					},
				},
			}},
			{Index: 2, Node: &xdp2.FlagFieldNode{
				Name: "gre-seq",
				Ops: xdp2.FlagFieldNodeOps{
					Handler: func(field, metameta, frame []byte, ctrl *xdp2.CtrlData) xdp2.Status {
						putMeta(frame, func(m *Metadata) {
							m.HasGRESeq = true
							m.GRESeqno = binary.BigEndian.Uint32(field)
						})
						return xdp2.OKAY
					},
				},
			}},
		}},
	},
	UnknownRet: xdp2.StopOkay,
}

// greNode's protocol table leads back to the IP nodes that lead to it, so it
// is wired here rather than in the declaration, which would be a package
// initialization cycle.
func init() {
	greNode.ProtoTable = &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{
		{Value: EtherTypeIPv4, Node: ipv4Node},
		{Value: EtherTypeIPv6, Node: ipv6Node},
	}}
}

// TCPOptSACK is the TCP option kind for Selective Acknowledgment (RFC 2018).
const TCPOptSACK = 5

// sackBlockNode fills in sackCount (left,right) edge pairs read starting at
// value offset 2 (past kind+len), used for every SACK overlay length.
func sackBlockNode(name string, count int) *xdp2.TLVNode {
	return &xdp2.TLVNode{
		Name:  name,
		Proto: &xdp2.TLVProtoDef{MinLen: 2 + count*8},
		Ops: xdp2.TLVNodeOps{
			Handler: func(tlvHdr []byte, tlvLen, hdrOff int, metameta, frame []byte, ctrl *xdp2.CtrlData) xdp2.Status {
				putMeta(frame, func(m *Metadata) {
					m.SACKCount = uint8(count)
					for i := 0; i < count && i < len(m.SACKBlocks); i++ {
						off := 2 + i*8
						m.SACKBlocks[i][0] = binary.BigEndian.Uint32(tlvHdr[off : off+4])
						m.SACKBlocks[i][1] = binary.BigEndian.Uint32(tlvHdr[off+4 : off+8])
					}
				})
				return xdp2.OKAY
			},
		},
	}
}

// sackNode is TCP's SACK option (spec §8 scenario 6): its value is a tagged
// union keyed by the option's own length (2 + 8*block_count), dispatched
// through an overlay table exactly as Geneve splits class/type — here the
// TLV's OverlayType is left nil, so the overlay key falls back to tlvLen
// (spec §4.4.f: "or fall back to tlv_len as the key").
var sackNode = &xdp2.TLVNode{
	Name:   "tcp-sack",
	Proto:  &xdp2.TLVProtoDef{MinLen: 2},
	OverlayTable: &xdp2.TLVTable{Entries: []xdp2.TLVTableEntry{
		{Type: 10, Node: sackBlockNode("sack-1block", 1)},
		{Type: 18, Node: sackBlockNode("sack-2block", 2)},
		{Type: 26, Node: sackBlockNode("sack-3block", 3)},
		{Type: 34, Node: sackBlockNode("sack-4block", 4)},
	}},
	UnknownOverlayRet: xdp2.OKAY,
}

var tcpNode = &xdp2.ParseNode{
	Name: "tcp",
	Type: xdp2.NodeTLVs,
	Proto: &xdp2.ProtoDef{
		Name:   "tcp",
		MinLen: 20,
		Len: func(hdr []byte) (int, xdp2.Status) {
			doff := int(hdr[12]>>4) * 4
			if doff < 20 {
				return 0, xdp2.StopLength
			}
			return doff, xdp2.OKAY
		},
	},
	Ops: xdp2.ParseNodeOps{
		ExtractMetadata: func(hdr []byte, hdrLen, hdrOff int, metameta, frame []byte, ctrl *xdp2.CtrlData) {
			putMeta(frame, func(m *Metadata) {
				m.SrcPort = binary.BigEndian.Uint16(hdr[0:2])
				m.DstPort = binary.BigEndian.Uint16(hdr[2:4])
				m.TCPFlags = hdr[13]
			})
		},
	},
	TLVs: &xdp2.TLVsNode{
		Proto: &xdp2.TLVsProtoDef{
			StartOffset: func(hdr []byte) int { return 20 },
			MinLen:      1,
			Pad1Enable:  true,
			Pad1Val:     1, // TCPOPT_NOP
			EolEnable:   true,
			EolVal:      0, // TCPOPT_EOL
			Len: func(tlvHdr []byte, maxlen int) (int, xdp2.Status) {
				if tlvHdr[0] == 0 || tlvHdr[0] == 1 {
					return 1, xdp2.OKAY
				}
				if maxlen < 2 {
					return 0, xdp2.StopTLVLength
				}
				return int(tlvHdr[1]), xdp2.OKAY
			},
			Type: func(tlvHdr []byte) (int, xdp2.Status) {
				return int(tlvHdr[0]), xdp2.OKAY
			},
		},
		Table: &xdp2.TLVTable{Entries: []xdp2.TLVTableEntry{
			{Type: TCPOptSACK, Node: sackNode},
		}},
		MaxTLVs:           40,
		UnknownTLVTypeRet: xdp2.OKAY,
	},
	UnknownRet: xdp2.StopOkay,
}

var udpNode = &xdp2.ParseNode{
	Name: "udp",
	Type: xdp2.NodePlain,
	Proto: &xdp2.ProtoDef{
		Name:   "udp",
		MinLen: 8,
		Len: func(hdr []byte) (int, xdp2.Status) {
			return int(binary.BigEndian.Uint16(hdr[4:6])), xdp2.OKAY
		},
	},
	Ops: xdp2.ParseNodeOps{
		ExtractMetadata: func(hdr []byte, hdrLen, hdrOff int, metameta, frame []byte, ctrl *xdp2.CtrlData) {
			putMeta(frame, func(m *Metadata) {
				m.SrcPort = binary.BigEndian.Uint16(hdr[0:2])
				m.DstPort = binary.BigEndian.Uint16(hdr[2:4])
			})
		},
	},
	UnknownRet: xdp2.StopOkay,
}

// Root is the entry point of the example graph, rooted at Ethernet.
var Root = ethernetNode

// Build constructs a ready-to-run Parser over Root with a frame big enough
// for Metadata and enough counters/keys for the graph's own needs (it uses
// neither, so both are zero).
func Build() (*xdp2.Parser, error) {
	return xdp2.NewParser("xdp2proto", Root, xdp2.ParserConfig{
		FrameSize: metaSize,
	})
}
