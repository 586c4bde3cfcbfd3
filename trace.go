// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

package xdp2

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/xdp2-dev/xdp2go/internal/dbg"
)

// TraceKind classifies a TraceEvent.
type TraceKind uint8

const (
	TraceNode TraceKind = iota
	TraceTLV
	TraceFlagField
	TraceArrayEl
	TraceEncap
	TraceStop
)

func (k TraceKind) String() string {
	switch k {
	case TraceNode:
		return "node"
	case TraceTLV:
		return "tlv"
	case TraceFlagField:
		return "flag-field"
	case TraceArrayEl:
		return "array-el"
	case TraceEncap:
		return "encap"
	case TraceStop:
		return "stop"
	default:
		return fmt.Sprintf("TraceKind(%d)", k)
	}
}

// TraceEvent is one verbose trace line emitted while FlagDebug is set (spec
// §6: "flags bit 0 = DEBUG (verbose handler invocation)"). A Parser never
// emits these itself; the caller supplies a sink via [ParseWithTrace] and only
// pays the cost of formatting one when that sink is non-nil.
type TraceEvent struct {
	BuildID uuid.UUID // Parser.BuildID, for correlating events from concurrent parsers
	Kind    TraceKind
	Node    string
	Offset  int // absolute byte offset in the original packet
	Len     int
	Status  Status // set only on TraceStop

	// Hdr is the header's own bytes, present only for TraceTLV events; a
	// sink that formats the event gets a hex dump instead of just a length.
	Hdr []byte
}

// Format implements fmt.Formatter using the lazy-dict style of
// [github.com/xdp2-dev/xdp2go/internal/dbg], so building the trace string is
// skipped entirely unless something actually formats the event.
func (e TraceEvent) Format(s fmt.State, verb rune) {
	var hdr any
	if e.Hdr != nil {
		hdr = dbg.Bytes(e.Hdr)
	}
	dbg.Dict(e.Kind,
		"build", e.BuildID,
		"node", e.Node,
		"off", e.Offset,
		"len", e.Len,
		"hdr", hdr,
		"status", e.Status,
	).Format(s, verb)
}

// trace delivers an event to the walker's sink, if any, and only when
// FlagDebug is set — the common case (no debugging) costs one branch.
func (w *walker) trace(e TraceEvent) {
	if w.sink == nil || w.flags&FlagDebug == 0 {
		return
	}
	e.BuildID = w.parser.BuildID
	w.sink(e)
}
