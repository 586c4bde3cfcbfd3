// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

package xdp2proto

import "github.com/xdp2-dev/xdp2go"

// ProtoRouting is IPv6's Routing extension header next-header value; in
// this example graph it always carries an SRv6 segment list.
const ProtoRouting = 43

// srv6Node parses an IPv6 Routing header whose payload is a fixed-size
// array of 16-byte segment addresses (spec §3: "Array sub-parser (SRv6
// segments)"), one of three node shapes alongside TLVs and flag-fields.
var srv6Node = &xdp2.ParseNode{
	Name: "srv6",
	Type: xdp2.NodeArray,
	Proto: &xdp2.ProtoDef{
		Name:   "srv6",
		MinLen: 8,
		Len: func(hdr []byte) (int, xdp2.Status) {
			return (int(hdr[1]) + 1) * 8, xdp2.OKAY
		},
		NextProto: func(hdr []byte) (int, xdp2.Status) {
			return int(hdr[0]), xdp2.OKAY
		},
	},
	Array: &xdp2.ArrayNode{
		Proto: &xdp2.ArrayProtoDef{
			NumEls: func(hdr []byte, hdrLen int) int {
				return int(hdr[3]) // segments_left
			},
			StartOffset: func(hdr []byte) int { return 8 },
			ElType:      func(el []byte) int { return 0 },
			ElLen:       16,
		},
		MaxEls: 16,
		Table: &xdp2.ArrayTable{Entries: []xdp2.ArrayTableEntry{
			{Type: 0, Node: &xdp2.ArrayElNode{
				Name: "srv6-segment",
				Ops: xdp2.ArrayElNodeOps{
					Handler: func(el []byte, idx int, metameta, frame []byte, ctrl *xdp2.CtrlData) xdp2.Status {
						if idx == 0 {
							putMeta(frame, func(m *Metadata) {
								copy(m.DstAddr[:], el)
							})
						}
						return xdp2.OKAY
					},
				},
			}},
		}},
	},
	ProtoTable: &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{
		{Value: ProtoTCP, Node: tcpNode},
		{Value: ProtoUDP, Node: udpNode},
		{Value: ProtoGRE, Node: greNode},
	}},
	UnknownRet: xdp2.StopOkay,
}

func init() {
	ipv6Node.ProtoTable.Entries = append(ipv6Node.ProtoTable.Entries,
		xdp2.ProtoTableEntry{Value: ProtoRouting, Node: srv6Node})
}
