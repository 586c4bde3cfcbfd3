// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

// Package xnum holds small generic numeric helpers shared by the engine's
// limit checks.
package xnum

import "golang.org/x/exp/constraints"

// FitsUint8 reports whether v is representable without truncation in a
// uint8, used when validating ParserConfig limits against the uint8-width
// counters in CtrlData.VarData.
func FitsUint8[T constraints.Integer](v T) bool {
	return v >= 0 && uint64(v) <= 255
}
