// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

package xdp2

import "fmt"

// NodeType tags which of the four node shapes a ParseNode is (spec §3:
// "node_type ∈ {PLAIN, TLVS, FLAG_FIELDS, ARRAY}"). Rather than model this
// with inheritance, ParseNode is a tagged variant: NodeType selects which of
// TLVs/FlagFields/Array is non-nil.
type NodeType uint8

const (
	NodePlain NodeType = iota
	NodeTLVs
	NodeFlagFields
	NodeArray
)

func (t NodeType) String() string {
	switch t {
	case NodePlain:
		return "plain"
	case NodeTLVs:
		return "tlvs"
	case NodeFlagFields:
		return "flag-fields"
	case NodeArray:
		return "array"
	default:
		return fmt.Sprintf("NodeType(%d)", t)
	}
}

// NodeFlag is a small bitset of per-node behavior switches (spec §3: "a
// small flags bitset (e.g. ZERO_LEN_OK)").
type NodeFlag uint8

// NodeFlagZeroLenOK permits a node's effective header length to be zero
// without that being treated as a length error, for protocols that may
// legitimately contribute no bytes (e.g. a TLV overlay selected purely for
// its side effects).
const NodeFlagZeroLenOK NodeFlag = 1 << 0

// LenFunc computes a header's length from its bytes alone. A negative
// Status return is propagated as the walk's stop code.
type LenFunc func(hdr []byte) (int, Status)

// LenMaxFunc computes a header's length given how many bytes remain in the
// packet, for protocols whose length callback needs to clamp against the
// buffer (spec §3: "len_maxlen(hdr, remaining)").
type LenMaxFunc func(hdr []byte, remaining int) (int, Status)

// NextProtoFunc returns the next-protocol key embedded in a header. A
// negative return is a Status and stops the walk.
type NextProtoFunc func(hdr []byte) (int, Status)

// NextProtoKeyinFunc is like NextProtoFunc but also receives the key
// selected by the node's KeySel-addressed predecessor state, for protocols
// whose next-layer selection depends on more than their own bytes.
type NextProtoKeyinFunc func(hdr []byte, key uint32) (int, Status)

// ProtoDef is a pure descriptor of how to read one kind of header (spec §3:
// "Protocol definition"). It carries no behavior beyond its four callbacks
// and is shared, read-only, across every ParseNode that references it.
type ProtoDef struct {
	Name    string // text name, for diagnostics
	MinLen  int    // bytes required before any length call is safe
	Encap   bool   // traversal crosses an encapsulation boundary after this node
	Overlay bool   // the cursor does not advance after this node

	// At most one of Len / LenMaxlen may be set; NewParser and
	// NewOptimizedParser reject a ProtoDef that sets both (spec §9,
	// resolved open question).
	Len       LenFunc
	LenMaxlen LenMaxFunc

	// At most one of NextProto / NextProtoKeyin may be set.
	NextProto      NextProtoFunc
	NextProtoKeyin NextProtoKeyinFunc
}

func (p *ProtoDef) validate() error {
	if p.Len != nil && p.LenMaxlen != nil {
		return fmt.Errorf("xdp2: proto def %q sets both Len and LenMaxlen", p.Name)
	}
	if p.NextProto != nil && p.NextProtoKeyin != nil {
		return fmt.Errorf("xdp2: proto def %q sets both NextProto and NextProtoKeyin", p.Name)
	}
	if p.MinLen < 0 {
		return fmt.Errorf("xdp2: proto def %q has negative MinLen", p.Name)
	}
	return nil
}

// ExtractMetadataFunc copies fields out of a header into the caller's
// metadata frame. hdrOff is the header's offset in the original packet, for
// callbacks that need to record absolute positions.
type ExtractMetadataFunc func(hdr []byte, hdrLen, hdrOff int, metameta, frame []byte, ctrl *CtrlData)

// HandlerFunc runs arbitrary per-node logic and may request the walk stop
// by returning any Status other than OKAY. A handler must not move the
// cursor nor retain hdr/frame/ctrl past its own return (spec invariant 6).
type HandlerFunc func(hdr []byte, hdrLen, hdrOff int, metameta, frame []byte, ctrl *CtrlData) Status

// ParseNodeOps bundles the two (really three, counting PostHandler)
// operation callbacks a ParseNode may define, all optional (spec §3:
// "Two operation callbacks ... Both are optional").
type ParseNodeOps struct {
	ExtractMetadata ExtractMetadataFunc
	Handler         HandlerFunc
	// PostHandler runs after the node's sub-parser (TLV/flag-field/array)
	// has completed, per spec §4.8 step 6.
	PostHandler HandlerFunc
}

// ProtoTableEntry maps one integer key to a successor ParseNode (spec §3:
// "Protocol table").
type ProtoTableEntry struct {
	Value int
	Node  *ParseNode
}

// ProtoTable is an ordered, immutable sequence of key->node entries, looked
// up linearly since tables are small (spec §3).
type ProtoTable struct {
	Entries []ProtoTableEntry
}

// Lookup returns the node bound to key, or nil if no entry matches (spec
// §4.7: "Linear search of the node's proto_table for the first entry whose
// value equals the key").
func (t *ProtoTable) Lookup(key int) *ParseNode {
	if t == nil {
		return nil
	}
	for _, e := range t.Entries {
		if e.Value == key {
			return e.Node
		}
	}
	return nil
}

// ParseNode is one vertex of the protocol graph (spec §3: "Parse node").
// Exactly one of TLVs/FlagFields/Array is populated, selected by Type.
type ParseNode struct {
	Name string
	Type NodeType
	Flag NodeFlag

	Proto *ProtoDef
	Ops   ParseNodeOps

	// ProtoTable, if non-nil, is consulted with the key produced by
	// Proto.NextProto/NextProtoKeyin. WildcardNode is the successor used
	// when the key is absent from ProtoTable, or (when ProtoTable is nil)
	// as an automatic, tableless successor (spec §4.7: "Auto-next implies
	// the wildcard is followed without a protocol table").
	ProtoTable   *ProtoTable
	WildcardNode *ParseNode

	// UnknownRet is returned when neither ProtoTable nor WildcardNode
	// resolves the key.
	UnknownRet Status

	// KeySel selects which of ctrl.Key.Keys a NextProtoKeyin callback
	// should be handed, for protocols whose next-layer key depends on
	// state threaded from an earlier node.
	KeySel uint8

	TLVs       *TLVsNode
	FlagFields *FlagFieldsNode
	Array      *ArrayNode
}

func (n *ParseNode) validate(seen map[*ParseNode]bool) error {
	if n == nil || seen[n] {
		return nil
	}
	seen[n] = true

	if n.Proto == nil {
		return fmt.Errorf("xdp2: node %q has no protocol definition", n.Name)
	}
	if err := n.Proto.validate(); err != nil {
		return err
	}
	switch n.Type {
	case NodeTLVs:
		if n.TLVs == nil {
			return fmt.Errorf("xdp2: node %q is NodeTLVs but has no TLVs payload", n.Name)
		}
		if err := n.TLVs.validate(n.Name); err != nil {
			return err
		}
	case NodeFlagFields:
		if n.FlagFields == nil {
			return fmt.Errorf("xdp2: node %q is NodeFlagFields but has no FlagFields payload", n.Name)
		}
		if err := n.FlagFields.validate(n.Name); err != nil {
			return err
		}
	case NodeArray:
		if n.Array == nil {
			return fmt.Errorf("xdp2: node %q is NodeArray but has no Array payload", n.Name)
		}
		if err := n.Array.validate(n.Name); err != nil {
			return err
		}
	}

	if n.ProtoTable != nil {
		for _, e := range n.ProtoTable.Entries {
			if err := e.Node.validate(seen); err != nil {
				return err
			}
		}
	}
	if err := n.WildcardNode.validate(seen); err != nil {
		return err
	}
	return nil
}
