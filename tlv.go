// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

package xdp2

import "fmt"

// TLVTypeFunc returns the type code of a single TLV option. A negative
// return is a Status and stops the walk.
type TLVTypeFunc func(tlvHdr []byte) (int, Status)

// TLVLenFunc returns a single TLV's total length (type+length+value, or
// whatever the protocol's convention is), given the bytes remaining to the
// end of the enclosing header. A negative return is a Status.
type TLVLenFunc func(tlvHdr []byte, maxlen int) (int, Status)

// TLVStartOffsetFunc returns where, relative to the enclosing header, the
// first TLV begins (spec §3: "start_offset(hdr)").
type TLVStartOffsetFunc func(hdr []byte) int

// TLVsProtoDef describes how to find and walk the list of TLVs inside one
// kind of header (spec §3: "TLVs node extends parse node with: pointer to a
// TLV-protocol definition").
type TLVsProtoDef struct {
	Len         TLVLenFunc
	Type        TLVTypeFunc
	StartOffset TLVStartOffsetFunc

	MinLen     int  // minimum length of a single TLV
	Pad1Val    byte // sentinel byte meaning "one byte of padding"
	Pad1Enable bool
	EolVal     byte // sentinel byte meaning "end of TLV list"
	EolEnable  bool
}

// TLVProtoDef describes a single TLV type's own header shape (spec §3:
// "its own min_len for a single TLV"), distinct from TLVsProtoDef which
// describes the enclosing header.
type TLVProtoDef struct {
	MinLen int

	// OverlayType computes the overlay-table key for a TLV whose value is
	// itself a tagged union (e.g. Geneve's split class/type). If nil, the
	// TLV's own length is used as the overlay key (spec §4.4.f).
	OverlayType func(tlvHdr []byte) int

	// NestedOffset, if set, gives the start offset (relative to the TLV's
	// first byte, i.e. its type field) of a nested protocol graph entered
	// via NestedNode. If nil, the nested graph starts at the TLV's first
	// byte.
	NestedOffset func(tlvHdr []byte, maxlen int) int
}

// TLVNodeOps bundles the per-TLV-type operation callbacks (spec §3: "its own
// extract_metadata/handler pair").
type TLVNodeOps struct {
	ExtractMetadata ExtractMetadataFunc
	Handler         HandlerFunc
}

// TLVNode is the per-option descriptor inside a TLVs node (spec §3: "TLV
// parse node").
type TLVNode struct {
	Name  string
	Proto *TLVProtoDef
	Ops   TLVNodeOps

	// OverlayTable, if set, is consulted with Proto.OverlayType (or the
	// TLV's length, if OverlayType is nil) to select a second-level TLVNode
	// that shares this TLV's bytes but interprets them differently (spec
	// §3: "Geneve's split class/type").
	OverlayTable      *TLVTable
	OverlayWildcard   *TLVNode
	UnknownOverlayRet Status

	// NestedNode, if set, is a nested protocol-graph entry point walked
	// against this TLV's bytes from Proto.NestedOffset onward (spec §4.4.f).
	NestedNode *ParseNode
}

func (n *TLVNode) validate(parent string) error {
	if n == nil {
		return nil
	}
	if n.Proto == nil {
		return fmt.Errorf("xdp2: TLV node %q (in %q) has no protocol definition", n.Name, parent)
	}
	if n.Proto.OverlayType == nil && n.OverlayTable != nil {
		// Falling back to TLV length as the overlay key is legal (spec
		// says so explicitly), nothing to reject here.
		_ = n.Proto.OverlayType
	}
	var seen map[*ParseNode]bool
	if n.NestedNode != nil {
		seen = map[*ParseNode]bool{}
		if err := n.NestedNode.validate(seen); err != nil {
			return err
		}
	}
	if n.OverlayTable != nil {
		for _, e := range n.OverlayTable.Entries {
			if err := e.Node.validate(parent); err != nil {
				return err
			}
		}
	}
	return n.OverlayWildcard.validate(parent)
}

// TLVTableEntry maps one TLV type code to its TLVNode.
type TLVTableEntry struct {
	Type int
	Node *TLVNode
}

// TLVTable is a linear, immutable type->node table (spec §3: "Protocol
// table").
type TLVTable struct {
	Entries []TLVTableEntry
}

// Lookup returns the TLVNode bound to typ, or nil.
func (t *TLVTable) Lookup(typ int) *TLVNode {
	if t == nil {
		return nil
	}
	for _, e := range t.Entries {
		if e.Type == typ {
			return e.Node
		}
	}
	return nil
}

// TLVsNode is the TLV-node payload attached to a ParseNode of Type
// NodeTLVs (spec §3: "TLVs node").
type TLVsNode struct {
	Proto             *TLVsProtoDef
	Table             *TLVTable
	WildcardNode      *TLVNode
	MaxTLVs           int
	MaxTLVLen         int
	UnknownTLVTypeRet Status
}

func (t *TLVsNode) validate(parent string) error {
	if t.Proto == nil {
		return fmt.Errorf("xdp2: TLVs node %q has no TLVs protocol definition", parent)
	}
	if t.Proto.Len == nil {
		return fmt.Errorf("xdp2: TLVs node %q has no TLV length callback", parent)
	}
	if t.Table != nil {
		for _, e := range t.Table.Entries {
			if err := e.Node.validate(parent); err != nil {
				return err
			}
		}
	}
	return t.WildcardNode.validate(parent)
}

// runTLVs implements spec §4.4: it iterates the TLV list inside hdr[0:hlen),
// starting at Proto.StartOffset(hdr), dispatching each option's
// handler/extract_metadata, resolving overlays and nested graphs.
//
// off and end are relative to hdr (i.e. hdr[0] is the enclosing header's own
// first byte); baseOff is hdr's absolute offset in the original packet, used
// to report absolute offsets to callbacks and trace events.
func runTLVs(w *walker, node *ParseNode, hdr []byte, hlen, baseOff int, metameta, frame []byte) Status {
	t := node.TLVs
	start := 0
	if t.Proto.StartOffset != nil {
		start = t.Proto.StartOffset(hdr)
	}
	cursor := start
	end := hlen
	processed := 0

	for cursor < end {
		if processed >= t.MaxTLVs {
			break
		}

		b := hdr[cursor]
		if t.Proto.Pad1Enable && b == t.Proto.Pad1Val {
			cursor++
			continue
		}
		if t.Proto.EolEnable && b == t.Proto.EolVal {
			break
		}

		if end-cursor < t.Proto.MinLen {
			return StopTLVLength
		}

		tlvHdr := hdr[cursor:end]
		tlvLen, st := t.Proto.Len(tlvHdr, end-cursor)
		if st != OKAY {
			return st
		}
		if tlvLen < t.Proto.MinLen || tlvLen > end-cursor {
			return StopTLVLength
		}
		if t.MaxTLVLen > 0 && tlvLen > t.MaxTLVLen {
			return StopOptionLimit
		}

		typ, st := t.Proto.Type(tlvHdr)
		if st != OKAY {
			return st
		}

		tn := t.Table.Lookup(typ)
		unknown := false
		if tn == nil {
			if t.WildcardNode != nil {
				tn = t.WildcardNode
			} else {
				unknown = true
			}
		}

		w.trace(TraceEvent{Kind: TraceTLV, Node: node.Name, Offset: baseOff + cursor, Len: tlvLen, Hdr: tlvHdr[:tlvLen]})

		if unknown {
			if t.UnknownTLVTypeRet != OKAY {
				return t.UnknownTLVTypeRet
			}
		} else {
			valLen := tlvLen
			if valLen > len(tlvHdr) {
				valLen = len(tlvHdr)
			}
			tlvBytes := tlvHdr[:valLen]

			if tn.Ops.ExtractMetadata != nil {
				tn.Ops.ExtractMetadata(tlvBytes, tlvLen, baseOff+cursor, metameta, frame, w.ctrl)
			}

			if tn.Ops.Handler != nil {
				if hst := tn.Ops.Handler(tlvBytes, tlvLen, baseOff+cursor, metameta, frame, w.ctrl); hst != OKAY {
					return hst
				}
			}

			if st := runTLVOverlay(w, tn, tlvBytes, tlvLen, baseOff+cursor, metameta, frame); st != OKAY {
				return st
			}

			if tn.NestedNode != nil {
				nestedOff := 0
				if tn.Proto.NestedOffset != nil {
					nestedOff = tn.Proto.NestedOffset(tlvBytes, tlvLen)
				}
				if nestedOff < 0 || nestedOff > len(tlvBytes) {
					return StopBadExtract
				}
				w.ctrl.Var.TLVLevels++
				nst := w.runFrom(tn.NestedNode, tlvBytes[nestedOff:], baseOff+cursor+nestedOff, metameta, frame)
				if !nst.IsOkay() {
					return nst
				}
			}
		}

		cursor += tlvLen
		processed++
	}

	return OKAY
}

// runTLVOverlay implements the one-level overlay resolution of spec
// §4.4.f: compute the overlay key (OverlayType, or the TLV's own length if
// unset), look it up, and dispatch exactly as for a plain TLV.
func runTLVOverlay(w *walker, tn *TLVNode, tlvBytes []byte, tlvLen, off int, metameta, frame []byte) Status {
	if tn.OverlayTable == nil {
		return OKAY
	}

	key := tlvLen
	useWild := false
	if tn.Proto.OverlayType != nil {
		key = tn.Proto.OverlayType(tlvBytes)
		switch Status(key) {
		case OkayUseWild, OkayUseAltWild:
			useWild = true
		default:
			if key < 0 {
				return Status(key)
			}
		}
	}

	var on *TLVNode
	if !useWild {
		on = tn.OverlayTable.Lookup(key)
	}
	if on == nil {
		on = tn.OverlayWildcard
	}
	if on == nil {
		return tn.UnknownOverlayRet
	}

	if on.Ops.ExtractMetadata != nil {
		on.Ops.ExtractMetadata(tlvBytes, tlvLen, off, metameta, frame, w.ctrl)
	}
	if on.Ops.Handler != nil {
		if st := on.Ops.Handler(tlvBytes, tlvLen, off, metameta, frame, w.ctrl); st != OKAY {
			return st
		}
	}
	return OKAY
}
