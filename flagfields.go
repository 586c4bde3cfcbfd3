// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

package xdp2

import "fmt"

// FlagField is one descriptor in a flag-fields table: a flag fires when
// (flags & (Mask|Flag)) == Flag, and its data field is Size bytes wide
// (spec §3: "Flag-fields node ... each entry has flag, mask, and
// field_size").
type FlagField struct {
	Flag uint32
	Mask uint32
	Size int
}

// effectiveMask returns Mask|Flag, which is Flag itself when Mask is zero.
func (f FlagField) effectiveMask() uint32 {
	return f.Mask | f.Flag
}

// matches reports whether flags selects this field.
func (f FlagField) matches(flags uint32) bool {
	return flags&f.effectiveMask() == f.Flag
}

// FlagFieldsTableDescriptor is the ordered list of flag-field descriptors
// for one protocol header (spec §3: "flag-field descriptor table").
type FlagFieldsTableDescriptor struct {
	Fields []FlagField
}

// offset returns the byte offset of the targIdx'th field given flags, and
// whether that field is actually present.
func (d *FlagFieldsTableDescriptor) offset(targIdx int, flags uint32) (int, bool) {
	off := 0
	for i := 0; i < targIdx; i++ {
		if d.Fields[i].matches(flags) {
			off += d.Fields[i].Size
		}
	}
	if targIdx >= len(d.Fields) {
		return off, true
	}
	return off, d.Fields[targIdx].matches(flags)
}

// Length returns the total byte length of whichever fields flags selects —
// equivalently, the offset just past the last selected field.
func (d *FlagFieldsTableDescriptor) Length(flags uint32) int {
	off, _ := d.offset(len(d.Fields), flags)
	return off
}

// validMask is the union of every field's effective mask; any flag bit set
// outside of it is illegal (spec §4.5: "Invalid flag bits ... STOP_BAD_FLAG").
func (d *FlagFieldsTableDescriptor) validMask() uint32 {
	var m uint32
	for _, f := range d.Fields {
		m |= f.effectiveMask()
	}
	return m
}

// GetFlagsFunc reads the flags word out of a header.
type GetFlagsFunc func(hdr []byte) uint32

// StartFieldsOffsetFunc returns where the flag-gated fields begin, relative
// to the header.
type StartFieldsOffsetFunc func(hdr []byte) int

// FlagFieldsProtoDef describes how to find a header's flags word and its
// flag-gated field region (spec §4.5: "get_flags(hdr) and
// start_fields_offset(hdr)").
type FlagFieldsProtoDef struct {
	GetFlags          GetFlagsFunc
	StartFieldsOffset StartFieldsOffsetFunc
	Fields            FlagFieldsTableDescriptor
}

// FlagFieldNodeOps bundles the per-field operation callbacks (spec §3: "The
// per-field parse node carries only extract_metadata and handler").
type FlagFieldNodeOps struct {
	ExtractMetadata func(field []byte, metameta, frame []byte, ctrl *CtrlData)
	Handler         func(field []byte, metameta, frame []byte, ctrl *CtrlData) Status
}

// FlagFieldNode is the per-flag-field descriptor.
type FlagFieldNode struct {
	Name string
	Ops  FlagFieldNodeOps
}

// FlagFieldsTableEntry binds a flag-field's index in the descriptor table to
// its FlagFieldNode.
type FlagFieldsTableEntry struct {
	Index int
	Node  *FlagFieldNode
}

// FlagFieldsTable is the index->node table for a flag-fields node.
type FlagFieldsTable struct {
	Entries []FlagFieldsTableEntry
}

func (t *FlagFieldsTable) lookup(idx int) *FlagFieldNode {
	if t == nil {
		return nil
	}
	for _, e := range t.Entries {
		if e.Index == idx {
			return e.Node
		}
	}
	return nil
}

// FlagFieldsNode is the flag-fields payload attached to a ParseNode of Type
// NodeFlagFields (spec §3: "Flag-fields node").
type FlagFieldsNode struct {
	Proto *FlagFieldsProtoDef
	Table *FlagFieldsTable
}

func (n *FlagFieldsNode) validate(parent string) error {
	if n.Proto == nil {
		return fmt.Errorf("xdp2: flag-fields node %q has no protocol definition", parent)
	}
	if n.Proto.GetFlags == nil {
		return fmt.Errorf("xdp2: flag-fields node %q has no GetFlags callback", parent)
	}
	return nil
}

// runFlagFields implements spec §4.5: walk the descriptor table in order,
// dispatching to each matched field's node with a slice of exactly
// FlagField.Size bytes at the field's cumulative offset. It returns the
// total bytes consumed by present fields (the same sum
// FlagFieldsTableDescriptor.Length reports) and a Status; the node's own
// header length still comes from its Len/LenMaxlen callback.
func runFlagFields(w *walker, node *ParseNode, hdr []byte, baseOff int, metameta, frame []byte) (int, Status) {
	ff := node.FlagFields
	flags := ff.Proto.GetFlags(hdr)

	if bad := flags &^ ff.Proto.Fields.validMask(); bad != 0 {
		return 0, StopBadFlag
	}

	start := 0
	if ff.Proto.StartFieldsOffset != nil {
		start = ff.Proto.StartFieldsOffset(hdr)
	}

	cumulative := 0
	for i, desc := range ff.Proto.Fields.Fields {
		if !desc.matches(flags) {
			continue
		}
		fieldOff := start + cumulative
		if fieldOff+desc.Size > len(hdr) {
			return 0, StopLength
		}
		field := hdr[fieldOff : fieldOff+desc.Size]

		fn := ff.Table.lookup(i)
		if fn != nil {
			w.trace(TraceEvent{Kind: TraceFlagField, Node: node.Name, Offset: baseOff + fieldOff, Len: desc.Size})

			if fn.Ops.ExtractMetadata != nil {
				fn.Ops.ExtractMetadata(field, metameta, frame, w.ctrl)
			}
			if fn.Ops.Handler != nil {
				if st := fn.Ops.Handler(field, metameta, frame, w.ctrl); st != OKAY {
					return 0, st
				}
			}
		}

		cumulative += desc.Size
	}

	return cumulative, OKAY
}
