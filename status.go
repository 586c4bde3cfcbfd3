// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

package xdp2

import "fmt"

// Status is the signed return code of the parser engine. Zero and negative
// values carry meaning; there is no positive status.
//
// Status doubles as the "stop code" vocabulary handlers use to request early
// termination (returning any Status other than OKAY from a handler stops the
// walk with that status) and as the engine's own verdict on malformed input,
// exhausted limits, or a graph miss.
type Status int8

// Engine return codes. Values and relative ordering match the C reference
// implementation (original_source/src/include/xdp2/parser_types.h) exactly,
// since protocol handlers written against that header may hard-code these
// numbers in comparisons.
const (
	// OKAY means continue to the next node.
	OKAY Status = 0
	// RetOkay is the encoding of OKAY when a stop code is required in a
	// context that otherwise only holds negative values (e.g. a TLV
	// overlay's unknown_overlay_ret defaulting to "okay, keep going").
	RetOkay Status = -1

	// OkayUseWild and OkayUseAltWild are "cam instruction" codes: a
	// next_proto/next_proto_keyin or TLV overlay_type callback may return
	// one of these to force resolution via the wildcard (or, respectively,
	// alternate wildcard) successor even though a table entry exists for
	// the computed key.
	OkayUseWild    Status = -2
	OkayUseAltWild Status = -3

	// StopOkay ends the walk successfully with no further node to visit.
	StopOkay Status = -4
	// StopNodeOkay and StopSubNodeOkay are success-and-stop codes a
	// handler may return; IsOkay reports both as successful. The engine
	// does not scope them to a node or sub-node (one TLV, flag-field, or
	// array element): like any other non-OKAY handler return, either one
	// ends the walk loop it was returned in, so remaining sub-nodes and
	// later nodes are not processed.
	StopNodeOkay    Status = -5
	StopSubNodeOkay Status = -6

	StopFail         Status = -12
	StopLength       Status = -13
	StopUnknownProto Status = -14
	StopEncapDepth   Status = -15
	StopUnknownTLV   Status = -16
	StopTLVLength    Status = -17
	StopBadFlag      Status = -18
	StopFailCmp      Status = -19
	StopLoopCnt      Status = -20
	StopTLVPadding   Status = -21
	StopOptionLimit  Status = -22
	StopMaxNodes     Status = -23
	StopCompare      Status = -24
	StopBadExtract   Status = -25
	StopBadCntr      Status = -26
	StopCntr1        Status = -27
	StopCntr2        Status = -28
	StopCntr3        Status = -29
	StopCntr4        Status = -30
	StopCntr5        Status = -31
	StopCntr6        Status = -32
	StopCntr7        Status = -33

	StopThreadsFail Status = -34
)

var statusText = map[Status]string{
	OKAY:             "okay",
	RetOkay:          "okay (ret encoding)",
	OkayUseWild:      "okay, use wildcard",
	OkayUseAltWild:   "okay, use alternate wildcard",
	StopOkay:         "stop: okay",
	StopNodeOkay:     "stop: node okay",
	StopSubNodeOkay:  "stop: sub-node okay",
	StopFail:         "stop: handler failure",
	StopLength:       "stop: length error",
	StopUnknownProto: "stop: unknown protocol",
	StopEncapDepth:   "stop: encapsulation depth exceeded",
	StopUnknownTLV:   "stop: unknown TLV type",
	StopTLVLength:    "stop: TLV length error",
	StopBadFlag:      "stop: invalid flag bits",
	StopFailCmp:      "stop: comparison failure",
	StopLoopCnt:      "stop: loop count exceeded",
	StopTLVPadding:   "stop: TLV padding error",
	StopOptionLimit:  "stop: option limit exceeded",
	StopMaxNodes:     "stop: max nodes exceeded",
	StopCompare:      "stop: compare failed",
	StopBadExtract:   "stop: bad metadata extraction",
	StopBadCntr:      "stop: bad counter index",
	StopCntr1:        "stop: counter 1",
	StopCntr2:        "stop: counter 2",
	StopCntr3:        "stop: counter 3",
	StopCntr4:        "stop: counter 4",
	StopCntr5:        "stop: counter 5",
	StopCntr6:        "stop: counter 6",
	StopCntr7:        "stop: counter 7",
	StopThreadsFail:  "stop: worker thread failure",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if t, ok := statusText[s]; ok {
		return t
	}
	return fmt.Sprintf("xdp2: unknown status %d", int8(s))
}

// IsOkay reports whether s is one of the "successful completion" codes:
// OKAY (continue) or StopOkay, StopNodeOkay, StopSubNodeOkay (stop, no
// error). Every other Status is a failure of some kind (input-shape,
// graph-miss, resource-limit, or handler-requested).
func (s Status) IsOkay() bool {
	return s == OKAY || s == StopOkay || s == StopNodeOkay || s == StopSubNodeOkay
}

// IsStop reports whether s terminates the walk. Per spec, codes <= StopOkay
// terminate; OKAY and the "use wildcard" cam instructions do not.
func (s Status) IsStop() bool {
	return s <= StopOkay
}

// ParseError adapts a terminal Status into a Go error, carrying the node
// where the walk stopped, for a caller that wants errors.Is/errors.As-style
// handling instead of inspecting the raw code. The engine does not record
// the byte offset at which the walk stopped, so [ParseErr] always leaves
// Offset at 0. The engine's hot path (Parse) never allocates one of these;
// call [ParseErr] when an error value is wanted.
type ParseError struct {
	Status Status
	Node   string
	Offset int
}

// Error implements error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("xdp2: %v at node %q, offset %d", e.Status, e.Node, e.Offset)
}

// Unwrap exposes the sentinel error for the status family so callers can use
// errors.Is against the Is* sentinels below.
func (e *ParseError) Unwrap() error {
	switch {
	case e.Status.IsOkay():
		return nil
	case e.Status == StopLength || e.Status == StopTLVLength || e.Status == StopTLVPadding || e.Status == StopBadFlag:
		return ErrBadShape
	case e.Status == StopUnknownProto || e.Status == StopUnknownTLV:
		return ErrUnknown
	case e.Status == StopEncapDepth || e.Status == StopOptionLimit || e.Status == StopMaxNodes || e.Status == StopLoopCnt:
		return ErrLimit
	default:
		return ErrHandler
	}
}

// Sentinel errors for the four families named in spec §7: input-shape
// failure, graph-miss failure, resource-limit failure, and
// handler-requested failure.
var (
	ErrBadShape = fmt.Errorf("xdp2: malformed header")
	ErrUnknown  = fmt.Errorf("xdp2: unrecognized protocol or TLV type")
	ErrLimit    = fmt.Errorf("xdp2: resource limit exceeded")
	ErrHandler  = fmt.Errorf("xdp2: handler requested stop")
)
