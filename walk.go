// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

package xdp2

// walker carries the per-invocation state of a single Parse call: the
// metadata frame cursor and the caller's trace sink. Everything else lives
// on the stack of run(), matching spec §5 ("the engine does no I/O, no
// allocation, and no locking; all state is parameters or stack").
type walker struct {
	parser *Parser
	ctrl   *CtrlData

	metameta []byte
	frame    []byte
	frameIdx int

	flags Flags
	sink  func(TraceEvent)
}

// Parse is the engine's single entry point (spec §6: "parse(parser,
// packet_bytes, packet_len, metadata_buf, ctrl, flags) -> status"). It
// dispatches to the generic walker or to a parser's optimized entry point
// per its Variant, and the two must agree bit-for-bit on status, metadata,
// and ctrl.Var for any input (spec §8, "optimized vs generic" law).
func Parse(parser *Parser, pkt []byte, metadata []byte, ctrl *CtrlData, flags Flags) Status {
	return parseWithTrace(parser, pkt, metadata, ctrl, flags, nil)
}

// ParseWithTrace is Parse plus a verbose trace sink, invoked once per node,
// TLV, flag-field, array element, and encapsulation crossing while FlagDebug
// is set in flags. sink is never called when flags does not carry FlagDebug
// or when it is nil, so passing it costs nothing when debugging is off.
func ParseWithTrace(parser *Parser, pkt []byte, metadata []byte, ctrl *CtrlData, flags Flags, sink func(TraceEvent)) Status {
	return parseWithTrace(parser, pkt, metadata, ctrl, flags, sink)
}

func parseWithTrace(parser *Parser, pkt []byte, metadata []byte, ctrl *CtrlData, flags Flags, sink func(TraceEvent)) Status {
	if len(ctrl.Key.Counters) != parser.Config.NumCounters {
		return StopFail
	}
	if len(ctrl.Key.Keys) != parser.Config.NumKeys {
		return StopFail
	}
	cfg := parser.Config
	need := cfg.MetaMetaSize + cfg.MaxFrames*cfg.FrameSize
	if len(metadata) < need {
		return StopFail
	}

	ctrl.resetForParse()

	if parser.Variant == Optimized {
		return parser.Entry(parser, pkt, metadata, ctrl, flags)
	}

	w := &walker{
		parser:   parser,
		ctrl:     ctrl,
		metameta: metadata[:cfg.MetaMetaSize],
		frame:    metadata[cfg.MetaMetaSize : cfg.MetaMetaSize+cfg.FrameSize],
		flags:    flags,
		sink:     sink,
	}
	return w.run(parser.Root, pkt, 0)
}

// run implements the main walker loop (spec §4.8) over buf, whose byte 0
// corresponds to absolute packet offset baseOff. It is called once at the
// top level (baseOff==0, buf==the whole packet) and recursively for nested
// TLV protocol graphs (spec §4.4.f).
func (w *walker) run(node *ParseNode, buf []byte, baseOff int) Status {
	return w.finish(w.runInner(node, buf, baseOff))
}

// runFrom walks a nested protocol graph rooted at node over buf, whose byte
// 0 corresponds to absolute packet offset baseOff (spec §4.4.f: "a TLV's
// value may itself be the start of a nested protocol graph"). It shares the
// enclosing walk's node/encap/frame counters so MaxNodes and MaxEncaps bound
// the whole parse, not just its top level, but reports its own terminal
// status back to the caller rather than invoking okay_node/fail_node itself
// — only the outermost run() does that.
func (w *walker) runFrom(node *ParseNode, buf []byte, baseOff int, metameta, frame []byte) Status {
	saved := w.frame
	w.frame = frame
	defer func() { w.frame = saved }()

	return w.runInner(node, buf, baseOff)
}

// runInner is run()'s loop body, factored out so runFrom can reuse it
// without re-invoking finish() (nested graphs don't own the top-level
// okay_node/fail_node terminal hooks).
func (w *walker) runInner(node *ParseNode, buf []byte, baseOff int) Status {
	cursor := 0
	remaining := len(buf)

	for {
		w.ctrl.Var.NodeCnt++
		if int(w.ctrl.Var.NodeCnt) > w.parser.Config.MaxNodes {
			return StopMaxNodes
		}
		w.ctrl.Var.LastNode = node

		hdr, st := viewAt(buf, cursor, node.Proto.MinLen)
		if st != OKAY {
			return st
		}

		hlen, st := computeHdrLen(node.Proto, hdr, remaining)
		if st != OKAY {
			return st
		}
		if hlen < node.Proto.MinLen && !(hlen == 0 && node.Flag&NodeFlagZeroLenOK != 0) {
			return StopLength
		}
		if hlen > remaining {
			return StopLength
		}

		absOff := baseOff + cursor
		body := hdr[:hlen]

		w.trace(TraceEvent{Kind: TraceNode, Node: node.Name, Offset: absOff, Len: hlen})

		if node.Ops.ExtractMetadata != nil {
			node.Ops.ExtractMetadata(body, hlen, absOff, w.metameta, w.frame, w.ctrl)
		}

		switch node.Type {
		case NodeTLVs:
			if st := runTLVs(w, node, body, hlen, absOff, w.metameta, w.frame); st != OKAY {
				return st
			}
		case NodeFlagFields:
			if _, st := runFlagFields(w, node, body, absOff, w.metameta, w.frame); st != OKAY {
				return st
			}
		case NodeArray:
			if st := runArray(w, node, body, hlen, absOff, w.metameta, w.frame); st != OKAY {
				return st
			}
		}

		if node.Ops.Handler != nil {
			if st := node.Ops.Handler(body, hlen, absOff, w.metameta, w.frame, w.ctrl); st != OKAY {
				return st
			}
		}
		if node.Ops.PostHandler != nil {
			if st := node.Ops.PostHandler(body, hlen, absOff, w.metameta, w.frame, w.ctrl); st != OKAY {
				return st
			}
		}

		if node.Proto.Encap {
			if st := w.crossEncap(); st != OKAY {
				return st
			}
		}

		next, _, haveSuccessor, st := w.resolveSuccessor(node, body)
		if st != OKAY {
			return st
		}
		if !haveSuccessor {
			return StopOkay
		}

		if !node.Proto.Overlay {
			cursor += hlen
			remaining -= hlen
		}
		node = next
	}
}

// computeHdrLen implements spec §4.2 steps 2-4: prefer LenMaxlen, then Len,
// then MinLen, and propagate a negative callback result as a Status.
func computeHdrLen(p *ProtoDef, hdr []byte, remaining int) (int, Status) {
	switch {
	case p.LenMaxlen != nil:
		return p.LenMaxlen(hdr, remaining)
	case p.Len != nil:
		return p.Len(hdr)
	default:
		return p.MinLen, OKAY
	}
}

// crossEncap implements spec §4.3: bump the encap counter, enforce
// max_encaps, advance the frame pointer at most once per crossing, and fire
// the at-encap hook purely for its side effects.
func (w *walker) crossEncap() Status {
	w.ctrl.Var.Encaps++
	if int(w.ctrl.Var.Encaps) > w.parser.Config.MaxEncaps {
		return StopEncapDepth
	}

	if int(w.ctrl.Var.Encaps) > w.frameIdx && w.frameIdx+1 < w.parser.Config.MaxFrames {
		w.frameIdx++
		cfg := w.parser.Config
		base := cfg.MetaMetaSize + w.frameIdx*cfg.FrameSize
		w.frame = metadataFrame(w.metameta, base, cfg.FrameSize)
	}

	w.trace(TraceEvent{Kind: TraceEncap, Offset: int(w.ctrl.Var.Encaps)})

	if at := w.parser.Config.AtEncapNode; at != nil {
		// The at-encap node is invoked purely for side effects (spec
		// §4.3): its return is observed into ctrl.Var.RetCode but never
		// supersedes the walk's own status (spec §9, resolved open
		// question).
		var ret Status = OKAY
		if at.Ops.Handler != nil {
			ret = at.Ops.Handler(nil, 0, 0, w.metameta, w.frame, w.ctrl)
		}
		w.ctrl.Var.RetCode = ret
	}

	return OKAY
}

// metadataFrame recovers the frame slice from the underlying metadata
// buffer. metameta was sliced out of the same backing array as frame 0, so
// we re-derive the full buffer via its capacity before re-slicing at base.
func metadataFrame(metameta []byte, base, size int) []byte {
	full := metameta[:cap(metameta)]
	return full[base : base+size]
}

// resolveSuccessor implements spec §4.2 step 6 and §4.7: obtain a key from
// whichever of NextProto/NextProtoKeyin is defined, look it up in the node's
// protocol table (falling back to the wildcard), and report whether a
// successor exists at all.
func (w *walker) resolveSuccessor(node *ParseNode, hdr []byte) (next *ParseNode, key int, have bool, st Status) {
	switch {
	case node.Proto.NextProto != nil:
		k, s := node.Proto.NextProto(hdr)
		if s == OkayUseWild || s == OkayUseAltWild {
			return useWildcard(node)
		}
		if s != OKAY {
			return nil, 0, false, s
		}
		key = k
	case node.Proto.NextProtoKeyin != nil:
		var in uint32
		if int(node.KeySel) < len(w.ctrl.Key.Keys) {
			in = w.ctrl.Key.Keys[node.KeySel]
		}
		k, s := node.Proto.NextProtoKeyin(hdr, in)
		if s == OkayUseWild || s == OkayUseAltWild {
			return useWildcard(node)
		}
		if s != OKAY {
			return nil, 0, false, s
		}
		key = k
	default:
		// No next-proto callback: an automatic wildcard successor is
		// followed without a table (spec §4.7, "Auto-next"); otherwise
		// this node is a leaf.
		if node.WildcardNode != nil && node.ProtoTable == nil {
			return node.WildcardNode, 0, true, OKAY
		}
		return nil, 0, false, OKAY
	}

	if node.ProtoTable != nil {
		if n := node.ProtoTable.Lookup(key); n != nil {
			return n, key, true, OKAY
		}
	}
	if node.WildcardNode != nil {
		return node.WildcardNode, key, true, OKAY
	}
	return nil, key, false, node.UnknownRet
}

// useWildcard forces resolution via node's wildcard successor, skipping the
// protocol table entirely, for a next-proto callback that returned
// OkayUseWild or OkayUseAltWild (spec §9 supplement: "cam instruction"
// codes). This Go port's ParseNode carries a single WildcardNode slot (spec
// §3: "Zero or one wildcard successor"), so OkayUseAltWild resolves to the
// same slot as OkayUseWild rather than a distinct alternate.
func useWildcard(node *ParseNode) (*ParseNode, int, bool, Status) {
	if node.WildcardNode != nil {
		return node.WildcardNode, 0, true, OKAY
	}
	return nil, 0, false, node.UnknownRet
}

// finish implements spec §4.8's terminal step: invoke okay_node/fail_node
// once (if configured) and record the final status into ctrl.Var.RetCode.
func (w *walker) finish(st Status) Status {
	w.ctrl.Var.RetCode = st
	w.trace(TraceEvent{Kind: TraceStop, Status: st})

	cfg := w.parser.Config
	var hook *ParseNode
	if st.IsOkay() {
		hook = cfg.OkayNode
	} else {
		hook = cfg.FailNode
	}
	if hook != nil && hook.Ops.Handler != nil {
		if ret := hook.Ops.Handler(nil, 0, 0, w.metameta, w.frame, w.ctrl); ret.IsStop() {
			st = ret
			w.ctrl.Var.RetCode = st
		}
	}
	return st
}

// ParseFromTable resolves a Parser by key in table and runs it over pkt
// (spec §7: "xdp2_parse_from_table(table, key, ...)"). StopUnknownProto is
// returned when neither an exact entry nor the table's wildcard resolves
// key.
func ParseFromTable(table *ParserTable, key int, pkt []byte, metadata []byte, ctrl *CtrlData, flags Flags) Status {
	parser := table.Lookup(key)
	if parser == nil {
		return StopUnknownProto
	}
	return Parse(parser, pkt, metadata, ctrl, flags)
}

// ParseErr is Parse plus adapting the terminal status into a *ParseError
// (nil on success), for callers that prefer Go error-handling idioms over
// inspecting a raw Status. It is not on the hot path: constructing the
// error allocates, unlike Parse itself.
func ParseErr(parser *Parser, pkt []byte, metadata []byte, ctrl *CtrlData, flags Flags) error {
	st := Parse(parser, pkt, metadata, ctrl, flags)
	if st.IsOkay() {
		return nil
	}
	name := ""
	if ctrl.Var.LastNode != nil {
		name = ctrl.Var.LastNode.Name
	}
	off := 0
	return &ParseError{Status: st, Node: name, Offset: off}
}
