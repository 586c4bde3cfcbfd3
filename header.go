// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

package xdp2

import "encoding/binary"

// viewAt returns the minBytes-or-more byte slice of pkt starting at off, or
// StopLength if pkt does not have minBytes available there. This is the
// header-access primitive of spec §4.1: every read the engine performs
// passes through it, so no node ever sees bytes outside [0, len(pkt)).
func viewAt(pkt []byte, off, minBytes int) ([]byte, Status) {
	if off < 0 || minBytes < 0 || off+minBytes > len(pkt) {
		return nil, StopLength
	}
	return pkt[off:], OKAY
}

// GetU8 reads a single byte at off, bounds-checked against b.
func GetU8(b []byte, off int) (uint8, bool) {
	if off < 0 || off >= len(b) {
		return 0, false
	}
	return b[off], true
}

// GetU16BE reads a big-endian uint16 at off, bounds-checked against b.
func GetU16BE(b []byte, off int) (uint16, bool) {
	if off < 0 || off+2 > len(b) {
		return 0, false
	}
	return binary.BigEndian.Uint16(b[off:]), true
}

// GetU16LE reads a little-endian uint16 at off, bounds-checked against b.
func GetU16LE(b []byte, off int) (uint16, bool) {
	if off < 0 || off+2 > len(b) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b[off:]), true
}

// GetU32BE reads a big-endian uint32 at off, bounds-checked against b.
func GetU32BE(b []byte, off int) (uint32, bool) {
	if off < 0 || off+4 > len(b) {
		return 0, false
	}
	return binary.BigEndian.Uint32(b[off:]), true
}

// GetU32LE reads a little-endian uint32 at off, bounds-checked against b.
func GetU32LE(b []byte, off int) (uint32, bool) {
	if off < 0 || off+4 > len(b) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b[off:]), true
}

// GetU64BE reads a big-endian uint64 at off, bounds-checked against b.
func GetU64BE(b []byte, off int) (uint64, bool) {
	if off < 0 || off+8 > len(b) {
		return 0, false
	}
	return binary.BigEndian.Uint64(b[off:]), true
}

// GetU64LE reads a little-endian uint64 at off, bounds-checked against b.
func GetU64LE(b []byte, off int) (uint64, bool) {
	if off < 0 || off+8 > len(b) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b[off:]), true
}
