// SPDX-License-Identifier: BSD-2-Clause-FreeBSD

// Package dbg holds lazy-formatting helpers for the parser's trace output.
//
// Every value here implements fmt.Formatter so that the cost of building a
// trace string is only paid when a %v verb actually runs, which matters
// because the engine may be asked to trace every node of every packet in a
// hot capture loop (spec: the DEBUG flag enables "verbose handler
// invocation").
package dbg

import "fmt"

// Formatter is a fmt.Formatter implementation that just calls a function.
type Formatter func(s fmt.State)

func (f Formatter) Format(s fmt.State, verb rune) {
	if verb != 'v' {
		fmt.Fprintf(s, "%%%c(%T)", verb, f)
		return
	}
	f(s)
}

// Dict pretty-prints the given entries as a dictionary, with an optional
// prefix.
func Dict(prefix any, kv ...any) Formatter {
	return Formatter(func(s fmt.State) {
		if len(kv)%2 != 0 {
			panic("dbg: length must be divisible by 2")
		}

		if prefix == nil {
			prefix = ""
		}

		first := true
		fmt.Fprintf(s, "%v{", prefix)
		for i := range len(kv) / 2 {
			k := kv[2*i]
			v := kv[2*i+1]
			if v == nil {
				continue
			}

			if !first {
				fmt.Fprint(s, ", ")
			}
			first = false
			fmt.Fprintf(s, "%v: %v", k, v)
		}
		fmt.Fprint(s, "}")
	})
}

// Bytes pretty-prints a short run of header bytes as hex, truncating long
// headers so a trace line for a jumbo TLV doesn't flood the output.
func Bytes(b []byte) Formatter {
	return Formatter(func(s fmt.State) {
		const max = 32
		n := len(b)
		trunc := b
		if n > max {
			trunc = b[:max]
		}
		fmt.Fprintf(s, "% x", trunc)
		if n > max {
			fmt.Fprintf(s, "...(%d more bytes)", n-max)
		}
	})
}
