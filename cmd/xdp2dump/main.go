// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

// Command xdp2dump replays a libpcap capture through the xdp2proto example
// graph, one record at a time, and optionally shows the parse live in a
// terminal UI. It is a thin adapter over three packages the engine itself
// never imports (spec §6, "Collaborator contracts"): xdp2cap (the pcap
// reader), xdp2proto (a worked protocol graph), and xdp2show (the CLI/debug
// collaborator).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/xdp2-dev/xdp2go"
	"github.com/xdp2-dev/xdp2go/xdp2cap"
	"github.com/xdp2-dev/xdp2go/xdp2proto"
	"github.com/xdp2-dev/xdp2go/xdp2show"
)

func main() {
	live := flag.Bool("live", false, "show a live terminal trace while replaying")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: xdp2dump [-live] <capture.pcap>")
		os.Exit(2)
	}

	if err := run(args[0], *live); err != nil {
		fmt.Fprintln(os.Stderr, "xdp2dump:", err)
		os.Exit(1)
	}
}

func run(path string, live bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	capReader, err := xdp2cap.NewReader(f)
	if err != nil {
		return err
	}

	parser, err := xdp2proto.Build()
	if err != nil {
		return err
	}

	var ch chan xdp2show.Snapshot
	done := make(chan error, 1)
	if live {
		ch = make(chan xdp2show.Snapshot, 64)
		go func() { done <- xdp2show.Run(ch) }()
	}

	metaBuf := make([]byte, parser.Config.MetaMetaSize+parser.Config.MaxFrames*parser.Config.FrameSize)
	ctrl := &xdp2.CtrlData{
		Key: xdp2.KeyData{
			Counters: make([]uint8, parser.Config.NumCounters),
			Keys:     make([]uint32, parser.Config.NumKeys),
		},
	}

	n := 0
	for {
		rec, err := capReader.Next()
		if err != nil {
			break
		}
		n++
		clear(metaBuf)
		ctrl.Pkt = xdp2.PktData{Packet: rec.Data, PktLen: int(rec.CapturedLen)}

		var sink func(xdp2.TraceEvent)
		if live {
			sink = func(e xdp2.TraceEvent) {
				ch <- xdp2show.Snapshot{Event: e, Var: ctrl.Var}
			}
		}

		status := xdp2.ParseWithTrace(parser, rec.Data, metaBuf, ctrl, xdp2.FlagDebug, sink)
		md := xdp2proto.DecodeMetadata(metaBuf[parser.Config.MetaMetaSize:])
		fmt.Printf("#%d status=%s ethertype=0x%04x proto=%d sport=%d dport=%d\n",
			n, status, md.EtherType, md.IPProto, md.SrcPort, md.DstPort)
	}

	if live {
		close(ch)
		return <-done
	}
	return nil
}
