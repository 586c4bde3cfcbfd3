// SPDX-License-Identifier: BSD-2-Clause-FreeBSD
// Copyright (c) 2025 XDP2 Authors

// Package xdp2cap reads classic libpcap capture files and hands each
// record's raw bytes to the engine a frame at a time, so a capture can be
// replayed through a Parser without loading the whole file into protocol
// structures first.
package xdp2cap

import (
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// LinkType identifies a capture's link-layer framing (see
// http://www.tcpdump.org/linktypes.html). Only the values this package's
// callers are expected to demultiplex on are named; any other value passes
// through as-is.
type LinkType uint32

const (
	LinkNull     LinkType = 0
	LinkEthernet LinkType = 1
	LinkRaw      LinkType = 101
	LinkIPv4     LinkType = 228
	LinkIPv6     LinkType = 229
)

const (
	magicLE   = 0xa1b2c3d4
	magicBE   = 0xd4c3b2a1
	magicNsLE = 0xa1b23c4d
	magicNsBE = 0x4d3cb2a1

	fileHeaderLen   = 24
	recordHeaderLen = 16
)

// ErrNotPcap is returned when a capture's magic number doesn't match any
// known libpcap byte order/precision combination.
var ErrNotPcap = errors.New("xdp2cap: not a pcap file")

// ErrTruncated is returned when a record's header claims more captured
// bytes than the file header's non-zero SnapLen allows. A record whose data
// ends early yields io.ErrUnexpectedEOF instead.
var ErrTruncated = errors.New("xdp2cap: truncated record")

// Header describes one capture file's global parameters (spec: "xdp2cap
// reads the per-file link type so a caller can select a ParserTable key").
type Header struct {
	MajorVersion uint16
	MinorVersion uint16
	TZCorrection int32
	SigFigs      uint32
	SnapLen      uint32
	LinkType     LinkType

	order    binary.ByteOrder
	nanosecs bool
}

// Record is one captured frame: Data is exactly CapturedLen bytes, the
// portion of the original WireLen-byte frame the capturing tool kept.
type Record struct {
	Timestamp   time.Duration
	CapturedLen uint32
	WireLen     uint32
	Data        []byte
}

// Reader streams Records out of a libpcap capture one at a time, so a large
// capture can be walked through a Parser without buffering the whole file.
type Reader struct {
	r      io.Reader
	Header Header
}

// NewReader parses src's file header and returns a Reader positioned at the
// first record.
func NewReader(src io.Reader) (*Reader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(src, magic[:]); err != nil {
		return nil, err
	}

	var order binary.ByteOrder
	var nanosecs bool
	switch binary.LittleEndian.Uint32(magic[:]) {
	case magicLE:
		order, nanosecs = binary.LittleEndian, false
	case magicBE:
		order, nanosecs = binary.BigEndian, false
	case magicNsLE:
		order, nanosecs = binary.LittleEndian, true
	case magicNsBE:
		order, nanosecs = binary.BigEndian, true
	default:
		return nil, ErrNotPcap
	}

	var rest [fileHeaderLen - 4]byte
	if _, err := io.ReadFull(src, rest[:]); err != nil {
		return nil, err
	}

	hdr := Header{
		MajorVersion: order.Uint16(rest[0:2]),
		MinorVersion: order.Uint16(rest[2:4]),
		TZCorrection: int32(order.Uint32(rest[4:8])),
		SigFigs:      order.Uint32(rest[8:12]),
		SnapLen:      order.Uint32(rest[12:16]),
		LinkType:     LinkType(order.Uint32(rest[16:20])),
		order:        order,
		nanosecs:     nanosecs,
	}
	return &Reader{r: src, Header: hdr}, nil
}

// Next reads and returns the next Record, or io.EOF once the capture is
// exhausted.
func (r *Reader) Next() (Record, error) {
	var hdr [recordHeaderLen]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		return Record{}, err
	}

	order := r.Header.order
	secs := order.Uint32(hdr[0:4])
	frac := order.Uint32(hdr[4:8])
	capLen := order.Uint32(hdr[8:12])
	wireLen := order.Uint32(hdr[12:16])

	unit := time.Microsecond
	if r.Header.nanosecs {
		unit = time.Nanosecond
	}
	ts := time.Duration(secs)*time.Second + time.Duration(frac)*unit

	if r.Header.SnapLen != 0 && capLen > r.Header.SnapLen {
		return Record{}, ErrTruncated
	}

	data := make([]byte, capLen)
	if _, err := io.ReadFull(r.r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, err
	}

	return Record{
		Timestamp:   ts,
		CapturedLen: capLen,
		WireLen:     wireLen,
		Data:        data,
	}, nil
}

// ReadAll drains r into a slice of Records. It is a convenience for small
// captures; Next is the streaming-friendly primitive.
func ReadAll(r *Reader) ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
