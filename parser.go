// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

package xdp2

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/xdp2-dev/xdp2go/internal/xnum"
)

// ParserVariant selects between the generic walker and a hand- or
// generator-produced optimized entry point that must behave identically
// (spec §6: "Optimized parsers ... MUST be observationally equivalent to
// the generic walk over the same graph").
type ParserVariant uint8

const (
	Generic ParserVariant = iota
	Optimized
)

func (v ParserVariant) String() string {
	if v == Optimized {
		return "optimized"
	}
	return "generic"
}

// OptimizedFunc is the signature an Optimized parser's Entry must satisfy —
// identical to Parse's own, so Parse can dispatch to either from the same
// call site transparently.
type OptimizedFunc func(parser *Parser, pkt []byte, metadata []byte, ctrl *CtrlData, flags Flags) Status

const (
	// DefaultMaxNodes bounds how many parse nodes a single walk may visit
	// before XDP2_STOP_MAX_NODES (spec §4.8, loop-termination invariant).
	DefaultMaxNodes = 64
	// DefaultMaxEncaps bounds how many encapsulation boundaries a walk may
	// cross before XDP2_STOP_ENCAP_DEPTH.
	DefaultMaxEncaps = 4
	// DefaultMaxFrames bounds how many metadata frames a parse may use.
	DefaultMaxFrames = DefaultMaxEncaps + 1
	// DefaultFrameSize is the byte width reserved for one metadata frame.
	DefaultFrameSize = 128
	// DefaultMetaMetaSize is the byte width reserved for the shared
	// meta-metadata region ahead of the per-encapsulation frames.
	DefaultMetaMetaSize = 16
)

// ParserConfig bounds and configures one Parser (spec §3: "Parameter
// table"). Zero-value fields are filled in with their Default* constant by
// NewParser and NewOptimizedParser.
type ParserConfig struct {
	MaxNodes     int
	MaxEncaps    int
	MaxFrames    int
	MetaMetaSize int
	FrameSize    int

	NumCounters int
	NumKeys     int

	// OkayNode/FailNode, if set, are invoked exactly once as the walk's
	// terminal hook depending on whether the final status IsOkay (spec
	// §4.8 step 10). AtEncapNode is invoked on every encapsulation
	// crossing (spec §4.3).
	OkayNode    *ParseNode
	FailNode    *ParseNode
	AtEncapNode *ParseNode
}

func (c *ParserConfig) setDefaults() {
	if c.MaxNodes == 0 {
		c.MaxNodes = DefaultMaxNodes
	}
	if c.MaxEncaps == 0 {
		c.MaxEncaps = DefaultMaxEncaps
	}
	if c.MaxFrames == 0 {
		c.MaxFrames = DefaultMaxFrames
	}
	if c.MetaMetaSize == 0 {
		c.MetaMetaSize = DefaultMetaMetaSize
	}
	if c.FrameSize == 0 {
		c.FrameSize = DefaultFrameSize
	}
}

func (c ParserConfig) validate() error {
	if c.MaxNodes <= 0 {
		return fmt.Errorf("xdp2: MaxNodes must be positive")
	}
	if c.MaxEncaps < 0 {
		return fmt.Errorf("xdp2: MaxEncaps must be non-negative")
	}
	if c.MaxFrames <= c.MaxEncaps {
		return fmt.Errorf("xdp2: MaxFrames (%d) must exceed MaxEncaps (%d)", c.MaxFrames, c.MaxEncaps)
	}
	// ctrl.Var.NodeCnt/Encaps are uint8 (spec data model); a limit fires
	// only once its counter reaches limit+1, so a limit whose successor the
	// counter can't represent would silently never fire.
	if !xnum.FitsUint8(c.MaxNodes + 1) {
		return fmt.Errorf("xdp2: MaxNodes (%d) must be below 255 to fit the uint8 node counter", c.MaxNodes)
	}
	if !xnum.FitsUint8(c.MaxEncaps + 1) {
		return fmt.Errorf("xdp2: MaxEncaps (%d) must be below 255 to fit the uint8 encap counter", c.MaxEncaps)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("xdp2: FrameSize must be positive")
	}
	if c.NumCounters < 0 || c.NumKeys < 0 {
		return fmt.Errorf("xdp2: NumCounters and NumKeys must be non-negative")
	}
	return nil
}

// Parser is a built, ready-to-run protocol graph (spec §3: "Parser"). Build
// it once via NewParser or NewOptimizedParser and reuse the result
// concurrently across any number of Parse calls, each with its own CtrlData
// and buffers (spec §6: "a Parser itself holds no per-packet state and is
// safe for concurrent use").
type Parser struct {
	Name    string
	Root    *ParseNode
	Variant ParserVariant
	Config  ParserConfig
	Entry   OptimizedFunc // only read when Variant == Optimized

	// BuildID distinguishes this built Parser from any other for the
	// lifetime of the process, so TraceEvents from concurrently running
	// parsers (or successive rebuilds during development) don't get
	// attributed to the wrong one.
	BuildID uuid.UUID
}

// NewParser validates root and builds a generic Parser from it.
func NewParser(name string, root *ParseNode, cfg ParserConfig) (*Parser, error) {
	return build(name, root, cfg, Generic, nil)
}

// NewOptimizedParser builds a Parser whose Parse calls are dispatched
// directly to entry instead of walked generically. root is still validated
// and retained (Parser.Root), since diagnostics still need a graph to
// describe what entry implements.
func NewOptimizedParser(name string, root *ParseNode, cfg ParserConfig, entry OptimizedFunc) (*Parser, error) {
	if entry == nil {
		return nil, fmt.Errorf("xdp2: NewOptimizedParser %q: entry must not be nil", name)
	}
	return build(name, root, cfg, Optimized, entry)
}

func build(name string, root *ParseNode, cfg ParserConfig, variant ParserVariant, entry OptimizedFunc) (*Parser, error) {
	if root == nil {
		return nil, fmt.Errorf("xdp2: parser %q has no root node", name)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("xdp2: parser %q: %w", name, err)
	}
	if err := root.validate(map[*ParseNode]bool{}); err != nil {
		return nil, fmt.Errorf("xdp2: parser %q: %w", name, err)
	}
	for _, hook := range []*ParseNode{cfg.OkayNode, cfg.FailNode, cfg.AtEncapNode} {
		if hook == nil {
			continue
		}
		if err := hook.validate(map[*ParseNode]bool{}); err != nil {
			return nil, fmt.Errorf("xdp2: parser %q: terminal hook: %w", name, err)
		}
	}

	return &Parser{
		Name:    name,
		Root:    root,
		Variant: variant,
		Config:  cfg,
		Entry:   entry,
		BuildID: uuid.New(),
	}, nil
}

// ParserTableEntry binds an integer key (e.g. an EtherType or IP protocol
// number used to select among independently built parsers, rather than
// among nodes inside one parser) to a Parser.
type ParserTableEntry struct {
	Key    int
	Parser *Parser
}

// ParserTable dispatches ParseFromTable to one of several independently
// built Parsers by key (spec §7: "xdp2_parse_from_table selects among
// multiple top-level parsers sharing a dispatch key, e.g. demultiplexing
// raw captures by link-layer type").
type ParserTable struct {
	Entries  []ParserTableEntry
	Wildcard *Parser
}

// Lookup returns the Parser bound to key, falling back to Wildcard, or nil
// if neither resolves.
func (t *ParserTable) Lookup(key int) *Parser {
	if t == nil {
		return nil
	}
	for _, e := range t.Entries {
		if e.Key == key {
			return e.Parser
		}
	}
	return t.Wildcard
}
