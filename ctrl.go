// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

package xdp2

// Flags carries caller-supplied parsing flags (spec §6: "flags bit 0 =
// DEBUG").
type Flags uint32

// FlagDebug enables verbose per-node trace events (see ParseWithTrace).
const FlagDebug Flags = 1 << 0

// PktData is the caller-supplied, per-invocation packet context (spec §3,
// "Control data / pkt"). It is never mutated by the engine.
type PktData struct {
	Packet    []byte // original packet buffer, as passed to Parse
	PktLen    int    // full length of the packet
	Seqno     uint32 // sequence number per ingress interface
	Timestamp uint32 // receive timestamp
	InPort    uint32 // ingress port number
	VRFID     uint32 // ingress VRF / interface identifier
	PktCsum   uint16 // caller-seeded checksum accumulator, scratch only
	PktFlags  uint16 // caller-defined per-packet flags, scratch only
}

// VarData is the cursor state the engine updates as it walks (spec §3,
// "Control data / var"). Every field here is observable by the caller after
// Parse returns, and by handlers as they run.
type VarData struct {
	LastNode  *ParseNode // node most recently visited
	RetCode   Status     // final (or, mid-walk, most recent) return code
	Encaps    uint8      // number of encapsulations crossed so far
	NodeCnt   uint8      // number of nodes visited so far
	TLVLevels uint8      // TLV nesting depth reached (nested_node recursion)
	PktCsum   uint16     // running whole-packet checksum accumulator
	HdrCsum   uint16     // checksum of the header currently being processed
}

// reset zeros var, matching XDP2_CTRL_RESET_VAR_DATA.
func (v *VarData) reset() { *v = VarData{} }

// KeyData is the caller's opaque argument plus the two variable-length
// scratch arrays handlers read and write freely (spec §3, "Control data /
// key"): counters (8-bit) and keys (32-bit), both sized at parser
// configuration time. The engine never resizes these slices — it only
// clears them — so that Parse performs no allocation, per spec §5.
type KeyData struct {
	Counters []uint8  // len must equal the parser's Config.NumCounters
	Keys     []uint32 // len must equal the parser's Config.NumKeys
	Arg      any      // caller's opaque argument, passed through untouched
}

// CtrlData is the full per-invocation control block a caller stack-allocates
// and passes to Parse (spec §3, "Control data (ctrl)"). A single CtrlData
// may be reused across repeated Parse calls; Parse resets Var itself and
// clears Key.Counters/Key.Keys, but never touches Pkt or Key.Arg — the
// caller owns those.
type CtrlData struct {
	Var VarData
	Pkt PktData
	Key KeyData
}

// resetForParse clears the per-invocation scratch the engine owns: Var is
// zeroed, and the counters/keys arrays (if present) are cleared in place.
// This never allocates.
func (c *CtrlData) resetForParse() {
	c.Var.reset()
	clear(c.Key.Counters)
	clear(c.Key.Keys)
}
