// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

package xdp2_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xdp2-dev/xdp2go"
)

// newCtrl allocates a CtrlData sized for numCounters/numKeys, zeroed.
func newCtrl(numCounters, numKeys int) *xdp2.CtrlData {
	return &xdp2.CtrlData{
		Key: xdp2.KeyData{
			Counters: make([]uint8, numCounters),
			Keys:     make([]uint32, numKeys),
		},
	}
}

// buildMeta allocates a metadata buffer sized for cfg and returns it plus
// the region past metameta (frame 0).
func buildMeta(cfg xdp2.ParserConfig) []byte {
	return make([]byte, cfg.MetaMetaSize+cfg.MaxFrames*cfg.FrameSize)
}

// leaf is a minimal fixed-length plain node with no successor, used as the
// tail of synthetic test graphs.
func leaf(name string, minLen int) *xdp2.ParseNode {
	return &xdp2.ParseNode{
		Name:  name,
		Type:  xdp2.NodePlain,
		Proto: &xdp2.ProtoDef{Name: name, MinLen: minLen},
	}
}

func TestLengthUnderrunStopsLength(t *testing.T) {
	root := &xdp2.ParseNode{
		Name:  "root",
		Type:  xdp2.NodePlain,
		Proto: &xdp2.ProtoDef{Name: "root", MinLen: 4},
	}
	p, err := xdp2.NewParser("underrun", root, xdp2.ParserConfig{})
	require.NoError(t, err)

	ctrl := newCtrl(0, 0)
	st := xdp2.Parse(p, []byte{1, 2, 3}, buildMeta(p.Config), ctrl, 0)
	assert.Equal(t, xdp2.StopLength, st)
	assert.EqualValues(t, 1, ctrl.Var.NodeCnt)
}

func TestHlenExceedsRemainingStopsLength(t *testing.T) {
	root := &xdp2.ParseNode{
		Name: "root",
		Type: xdp2.NodePlain,
		Proto: &xdp2.ProtoDef{
			Name:   "root",
			MinLen: 2,
			Len:    func(hdr []byte) (int, xdp2.Status) { return 100, xdp2.OKAY },
		},
	}
	p, err := xdp2.NewParser("over", root, xdp2.ParserConfig{})
	require.NoError(t, err)

	ctrl := newCtrl(0, 0)
	st := xdp2.Parse(p, []byte{1, 2, 3, 4}, buildMeta(p.Config), ctrl, 0)
	assert.Equal(t, xdp2.StopLength, st)
}

func TestCursorMonotonicityAcrossNodes(t *testing.T) {
	var offsets []int

	b := leaf("b", 2)
	b.Ops.Handler = func(hdr []byte, hdrLen, hdrOff int, metameta, frame []byte, ctrl *xdp2.CtrlData) xdp2.Status {
		offsets = append(offsets, hdrOff)
		return xdp2.OKAY
	}

	a := &xdp2.ParseNode{
		Name: "a",
		Type: xdp2.NodePlain,
		Proto: &xdp2.ProtoDef{
			Name:      "a",
			MinLen:    2,
			NextProto: func(hdr []byte) (int, xdp2.Status) { return 1, xdp2.OKAY },
		},
		ProtoTable: &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{{Value: 1, Node: b}}},
		Ops: xdp2.ParseNodeOps{
			Handler: func(hdr []byte, hdrLen, hdrOff int, metameta, frame []byte, ctrl *xdp2.CtrlData) xdp2.Status {
				offsets = append(offsets, hdrOff)
				return xdp2.OKAY
			},
		},
	}

	p, err := xdp2.NewParser("cursor", a, xdp2.ParserConfig{})
	require.NoError(t, err)

	ctrl := newCtrl(0, 0)
	st := xdp2.Parse(p, []byte{0, 0, 0, 0}, buildMeta(p.Config), ctrl, 0)
	assert.Equal(t, xdp2.StopOkay, st)
	require.Len(t, offsets, 2)
	assert.Equal(t, 0, offsets[0])
	assert.Equal(t, 2, offsets[1])
}

func TestOverlayNodeDoesNotAdvanceCursor(t *testing.T) {
	var offsets []int
	record := func(hdr []byte, hdrLen, hdrOff int, metameta, frame []byte, ctrl *xdp2.CtrlData) xdp2.Status {
		offsets = append(offsets, hdrOff)
		return xdp2.OKAY
	}

	b := leaf("b", 2)
	b.Ops.Handler = record

	a := &xdp2.ParseNode{
		Name: "overlay-a",
		Type: xdp2.NodePlain,
		Proto: &xdp2.ProtoDef{
			Name:      "overlay-a",
			MinLen:    2,
			Overlay:   true,
			NextProto: func(hdr []byte) (int, xdp2.Status) { return 1, xdp2.OKAY },
		},
		ProtoTable: &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{{Value: 1, Node: b}}},
		Ops:        xdp2.ParseNodeOps{Handler: record},
	}

	p, err := xdp2.NewParser("overlay", a, xdp2.ParserConfig{})
	require.NoError(t, err)

	ctrl := newCtrl(0, 0)
	st := xdp2.Parse(p, []byte{9, 9, 9, 9}, buildMeta(p.Config), ctrl, 0)
	assert.Equal(t, xdp2.StopOkay, st)
	require.Len(t, offsets, 2)
	assert.Equal(t, offsets[0], offsets[1], "overlay node's successor must read the same offset")
}

func TestMaxNodesStopsWalk(t *testing.T) {
	var loop *xdp2.ParseNode
	loop = &xdp2.ParseNode{
		Name: "loop",
		Type: xdp2.NodePlain,
		Proto: &xdp2.ProtoDef{
			Name:      "loop",
			MinLen:    1,
			NextProto: func(hdr []byte) (int, xdp2.Status) { return 0, xdp2.OKAY },
		},
	}
	loop.ProtoTable = &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{{Value: 0, Node: loop}}}

	p, err := xdp2.NewParser("loop", loop, xdp2.ParserConfig{MaxNodes: 5})
	require.NoError(t, err)

	ctrl := newCtrl(0, 0)
	pkt := make([]byte, 64)
	st := xdp2.Parse(p, pkt, buildMeta(p.Config), ctrl, 0)
	assert.Equal(t, xdp2.StopMaxNodes, st)
	assert.LessOrEqual(t, int(ctrl.Var.NodeCnt), 6)
}

func TestEncapDepthAndFrameAdvance(t *testing.T) {
	var encapLoop *xdp2.ParseNode
	encapLoop = &xdp2.ParseNode{
		Name: "encap",
		Type: xdp2.NodePlain,
		Proto: &xdp2.ProtoDef{
			Name:      "encap",
			MinLen:    1,
			Encap:     true,
			NextProto: func(hdr []byte) (int, xdp2.Status) { return 0, xdp2.OKAY },
		},
		Ops: xdp2.ParseNodeOps{
			// Each visit marks the frame it was handed.
			ExtractMetadata: func(hdr []byte, hdrLen, hdrOff int, metameta, frame []byte, ctrl *xdp2.CtrlData) {
				frame[0]++
			},
		},
	}
	encapLoop.ProtoTable = &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{{Value: 0, Node: encapLoop}}}

	cfg := xdp2.ParserConfig{MaxNodes: 100, MaxEncaps: 3, MaxFrames: 4, FrameSize: 8}
	p, err := xdp2.NewParser("encaploop", encapLoop, cfg)
	require.NoError(t, err)

	ctrl := newCtrl(0, 0)
	pkt := make([]byte, 64)
	meta := buildMeta(p.Config)
	st := xdp2.Parse(p, pkt, meta, ctrl, 0)
	assert.Equal(t, xdp2.StopEncapDepth, st)
	assert.EqualValues(t, 4, ctrl.Var.Encaps)

	// Visits 1-4 ran in frames 0-3: the frame advanced once per crossing.
	for i := 0; i < 4; i++ {
		assert.EqualValues(t, 1, meta[p.Config.MetaMetaSize+i*p.Config.FrameSize], "frame %d", i)
	}
}

func TestNoSuccessorStopsOkay(t *testing.T) {
	root := leaf("leaf-only", 2)
	p, err := xdp2.NewParser("leaf", root, xdp2.ParserConfig{})
	require.NoError(t, err)

	ctrl := newCtrl(0, 0)
	st := xdp2.Parse(p, []byte{1, 2}, buildMeta(p.Config), ctrl, 0)
	assert.Equal(t, xdp2.StopOkay, st)
}

func TestUnknownProtoWithoutWildcard(t *testing.T) {
	root := &xdp2.ParseNode{
		Name: "eth",
		Type: xdp2.NodePlain,
		Proto: &xdp2.ProtoDef{
			Name:      "eth",
			MinLen:    2,
			NextProto: func(hdr []byte) (int, xdp2.Status) { return 0x9999, xdp2.OKAY },
		},
		UnknownRet: xdp2.StopUnknownProto,
	}
	p, err := xdp2.NewParser("unknown", root, xdp2.ParserConfig{})
	require.NoError(t, err)

	ctrl := newCtrl(0, 0)
	st := xdp2.Parse(p, []byte{1, 2}, buildMeta(p.Config), ctrl, 0)
	assert.Equal(t, xdp2.StopUnknownProto, st)
	require.NotNil(t, ctrl.Var.LastNode)
	assert.Equal(t, "eth", ctrl.Var.LastNode.Name)
}

func TestWildcardAutoNextWithoutTable(t *testing.T) {
	tail := leaf("tail", 1)
	root := &xdp2.ParseNode{
		Name:         "root",
		Type:         xdp2.NodePlain,
		Proto:        &xdp2.ProtoDef{Name: "root", MinLen: 1},
		WildcardNode: tail,
	}
	p, err := xdp2.NewParser("autonext", root, xdp2.ParserConfig{})
	require.NoError(t, err)

	ctrl := newCtrl(0, 0)
	st := xdp2.Parse(p, []byte{1, 1}, buildMeta(p.Config), ctrl, 0)
	assert.Equal(t, xdp2.StopOkay, st)
	assert.EqualValues(t, 2, ctrl.Var.NodeCnt)
}

// TestNextProtoCamInstructionForcesWildcard exercises the "cam instruction"
// codes (spec §9 supplement): a next_proto callback may return OkayUseWild
// or OkayUseAltWild to force the wildcard successor even though the table
// has a matching entry for the key it also computed.
func TestNextProtoCamInstructionForcesWildcard(t *testing.T) {
	tableHit := leaf("table-hit", 1)
	wild := leaf("wild", 1)

	for _, cam := range []xdp2.Status{xdp2.OkayUseWild, xdp2.OkayUseAltWild} {
		root := &xdp2.ParseNode{
			Name: "root",
			Type: xdp2.NodePlain,
			Proto: &xdp2.ProtoDef{
				Name:      "root",
				MinLen:    1,
				NextProto: func(hdr []byte) (int, xdp2.Status) { return 1, cam },
			},
			ProtoTable:   &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{{Value: 1, Node: tableHit}}},
			WildcardNode: wild,
		}
		p, err := xdp2.NewParser("cam", root, xdp2.ParserConfig{})
		require.NoError(t, err)

		ctrl := newCtrl(0, 0)
		st := xdp2.Parse(p, []byte{1, 1}, buildMeta(p.Config), ctrl, 0)
		assert.Equal(t, xdp2.StopOkay, st)
		assert.Equal(t, "wild", ctrl.Var.LastNode.Name, "cam code %v must force wildcard over table hit", cam)
	}
}

// TestNestedTLVGraph exercises a TLV whose value is itself the root of a
// nested protocol graph (spec §4.4.f), sharing the enclosing walk's node
// counter.
func TestNestedTLVGraph(t *testing.T) {
	innerTail := leaf("inner-tail", 2)
	inner := &xdp2.ParseNode{
		Name: "inner-root",
		Type: xdp2.NodePlain,
		Proto: &xdp2.ProtoDef{
			Name:      "inner-root",
			MinLen:    1,
			NextProto: func(hdr []byte) (int, xdp2.Status) { return 1, xdp2.OKAY },
		},
		ProtoTable: &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{{Value: 1, Node: innerTail}}},
	}

	outer := &xdp2.ParseNode{
		Name: "outer",
		Type: xdp2.NodeTLVs,
		Proto: &xdp2.ProtoDef{
			Name:   "outer",
			MinLen: 1,
			Len:    func(hdr []byte) (int, xdp2.Status) { return len(hdr), xdp2.OKAY },
		},
		TLVs: &xdp2.TLVsNode{
			Proto: &xdp2.TLVsProtoDef{
				StartOffset: func(hdr []byte) int { return 0 },
				MinLen:      2,
				Len:         func(tlvHdr []byte, maxlen int) (int, xdp2.Status) { return maxlen, xdp2.OKAY },
				Type:        func(tlvHdr []byte) (int, xdp2.Status) { return 0, xdp2.OKAY },
			},
			Table: &xdp2.TLVTable{Entries: []xdp2.TLVTableEntry{
				{Type: 0, Node: &xdp2.TLVNode{
					Name:       "nested-tlv",
					Proto:      &xdp2.TLVProtoDef{MinLen: 2},
					NestedNode: inner,
				}},
			}},
			MaxTLVs: 1,
		},
	}

	p, err := xdp2.NewParser("nested", outer, xdp2.ParserConfig{})
	require.NoError(t, err)

	ctrl := newCtrl(0, 0)
	// outer's header and its single TLV both span all three bytes; the
	// inner graph walks that TLV from its first byte: inner-root reads
	// 0xff, inner-tail the two zero bytes.
	pkt := []byte{0xff, 0x00, 0x00}
	st := xdp2.Parse(p, pkt, buildMeta(p.Config), ctrl, 0)
	assert.Equal(t, xdp2.StopOkay, st)
	assert.EqualValues(t, 3, ctrl.Var.NodeCnt, "outer + inner-root + inner-tail must all be counted")
	assert.EqualValues(t, 1, ctrl.Var.TLVLevels)
}

func TestBuildRejectsBothLenCallbacks(t *testing.T) {
	root := &xdp2.ParseNode{
		Name: "bad",
		Type: xdp2.NodePlain,
		Proto: &xdp2.ProtoDef{
			Name:      "bad",
			MinLen:    1,
			Len:       func(hdr []byte) (int, xdp2.Status) { return 1, xdp2.OKAY },
			LenMaxlen: func(hdr []byte, remaining int) (int, xdp2.Status) { return 1, xdp2.OKAY },
		},
	}
	_, err := xdp2.NewParser("bad", root, xdp2.ParserConfig{})
	assert.Error(t, err)
}

func TestParseErrWrapsSentinels(t *testing.T) {
	root := &xdp2.ParseNode{Name: "root", Type: xdp2.NodePlain, Proto: &xdp2.ProtoDef{Name: "root", MinLen: 4}}
	p, err := xdp2.NewParser("err", root, xdp2.ParserConfig{})
	require.NoError(t, err)

	ctrl := newCtrl(0, 0)
	err = xdp2.ParseErr(p, []byte{1}, buildMeta(p.Config), ctrl, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, xdp2.ErrBadShape)

	var perr *xdp2.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, xdp2.StopLength, perr.Status)
	assert.Equal(t, "root", perr.Node)
}

func TestParserTableDispatch(t *testing.T) {
	v4 := leaf("v4", 1)
	v6 := leaf("v6", 1)
	wild := leaf("other", 1)

	p4, err := xdp2.NewParser("v4", v4, xdp2.ParserConfig{})
	require.NoError(t, err)
	p6, err := xdp2.NewParser("v6", v6, xdp2.ParserConfig{})
	require.NoError(t, err)
	pw, err := xdp2.NewParser("wild", wild, xdp2.ParserConfig{})
	require.NoError(t, err)

	table := &xdp2.ParserTable{
		Entries: []xdp2.ParserTableEntry{
			{Key: 0x0800, Parser: p4},
			{Key: 0x86DD, Parser: p6},
		},
		Wildcard: pw,
	}

	ctrl := newCtrl(0, 0)
	st := xdp2.ParseFromTable(table, 0x86DD, []byte{1}, buildMeta(p6.Config), ctrl, 0)
	assert.Equal(t, xdp2.StopOkay, st)
	assert.Equal(t, "v6", ctrl.Var.LastNode.Name)

	ctrl2 := newCtrl(0, 0)
	st2 := xdp2.ParseFromTable(table, 0x1234, []byte{1}, buildMeta(pw.Config), ctrl2, 0)
	assert.Equal(t, xdp2.StopOkay, st2)
	assert.Equal(t, "other", ctrl2.Var.LastNode.Name)

	ctrl3 := newCtrl(0, 0)
	table.Wildcard = nil
	st3 := xdp2.ParseFromTable(table, 0x1234, []byte{1}, buildMeta(p4.Config), ctrl3, 0)
	assert.Equal(t, xdp2.StopUnknownProto, st3)
}

// optimizedEcho is a trivial "optimized" entry point that just re-walks the
// generic graph by re-dispatching through Parse to the Generic-variant
// Parser it is given (built over the same root). It exists to exercise
// the Optimized dispatch plumbing (spec §4.10/§8's equivalence law), not to
// demonstrate a real codegen backend.
func optimizedEcho(generic *xdp2.Parser) xdp2.OptimizedFunc {
	return func(_ *xdp2.Parser, pkt []byte, metadata []byte, ctrl *xdp2.CtrlData, flags xdp2.Flags) xdp2.Status {
		return xdp2.Parse(generic, pkt, metadata, ctrl, flags)
	}
}

func TestOptimizedVariantMatchesGeneric(t *testing.T) {
	root := &xdp2.ParseNode{
		Name: "root",
		Type: xdp2.NodePlain,
		Proto: &xdp2.ProtoDef{
			Name:      "root",
			MinLen:    2,
			NextProto: func(hdr []byte) (int, xdp2.Status) { return int(hdr[0]), xdp2.OKAY },
		},
		ProtoTable: &xdp2.ProtoTable{Entries: []xdp2.ProtoTableEntry{{Value: 1, Node: leaf("tail", 1)}}},
		UnknownRet: xdp2.StopUnknownProto,
	}
	generic, err := xdp2.NewParser("generic", root, xdp2.ParserConfig{})
	require.NoError(t, err)
	optimized, err := xdp2.NewOptimizedParser("optimized", root, xdp2.ParserConfig{}, optimizedEcho(generic))
	require.NoError(t, err)

	for _, pkt := range [][]byte{{1, 0, 0}, {2, 0, 0}, {1}} {
		ctrlG := newCtrl(0, 0)
		stG := xdp2.Parse(generic, pkt, buildMeta(generic.Config), ctrlG, 0)

		ctrlO := newCtrl(0, 0)
		stO := xdp2.Parse(optimized, pkt, buildMeta(optimized.Config), ctrlO, 0)

		assert.Equal(t, stG, stO, "status must match for pkt %v", pkt)
		assert.Equal(t, ctrlG.Var.NodeCnt, ctrlO.Var.NodeCnt, "node count must match for pkt %v", pkt)
	}
}
