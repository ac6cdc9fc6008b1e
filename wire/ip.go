// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package wire is the bit-exact PGM codec: IPv4/IPv6/UDP header
// parse/serialise, the PGM common header and its option chain, the
// seven type-specific payloads, and one verify predicate per control
// type. Every multi-byte field is network byte order; the version/IHL
// and PGM type/options bytes are bitfield-packed and are always
// decoded with explicit shift/mask, never a native Go bitfield (Go
// has none, but the same discipline keeps the layout portable).
package wire

import (
	"encoding/binary"

	"github.com/pgmcore/go-pgm/pgmchecksum"
	"github.com/pgmcore/go-pgm/pgmerr"
)

// Sizes asserted at the top of the package instead of at compile time
// (Go has no struct-packing pragma): IPv4HeaderLen, IPv6HeaderLen and
// UDPHeaderLen must match RFC 791 / RFC 2460 / RFC 768 exactly.
const (
	IPv4HeaderLen = 20
	IPv6HeaderLen = 40
	UDPHeaderLen  = 8

	ProtoPGM = 113 // IP protocol number for native PGM
)

// IPv4Header is RFC 791's fixed 20-byte header; this implementation
// never emits options and skips any it encounters on receive.
type IPv4Header struct {
	Version  uint8 // always 4 on this path
	IHL      uint8 // header length in 32-bit words, >= 5
	TOS      uint8
	TotalLen uint16
	ID       uint16
	FlagsOff uint16 // 3 flag bits + 13-bit fragment offset
	TTL      uint8
	Protocol uint8
	Checksum uint16
	Src      [4]byte
	Dst      [4]byte
}

// ParseIPv4Header reads a 20-byte (no-option) IPv4 header from the
// front of buf. It does not verify the checksum; call VerifyChecksum
// separately.
func ParseIPv4Header(buf []byte) (IPv4Header, error) {
	if len(buf) < IPv4HeaderLen {
		return IPv4Header{}, pgmerr.ErrPacketLength
	}
	var h IPv4Header
	h.Version = buf[0] >> 4
	h.IHL = buf[0] & 0x0f
	h.TOS = buf[1]
	h.TotalLen = binary.BigEndian.Uint16(buf[2:4])
	h.ID = binary.BigEndian.Uint16(buf[4:6])
	h.FlagsOff = binary.BigEndian.Uint16(buf[6:8])
	h.TTL = buf[8]
	h.Protocol = buf[9]
	h.Checksum = binary.BigEndian.Uint16(buf[10:12])
	copy(h.Src[:], buf[12:16])
	copy(h.Dst[:], buf[16:20])
	if h.Version != 4 {
		return h, pgmerr.ErrPacketVersion
	}
	return h, nil
}

// HeaderBytes returns the IHL-declared header length in bytes. Options
// beyond the fixed 20 are skipped by the caller, never reinterpreted.
func (h IPv4Header) HeaderBytes() int { return int(h.IHL) * 4 }

// Serialize writes the 20-byte fixed header (no options) into buf,
// which must be at least IPv4HeaderLen bytes, and returns the
// checksum-covered slice.
func (h IPv4Header) Serialize(buf []byte) []byte {
	buf[0] = (4 << 4) | 5 // version 4, IHL 5 (no options emitted)
	buf[1] = h.TOS
	binary.BigEndian.PutUint16(buf[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(buf[4:6], h.ID)
	binary.BigEndian.PutUint16(buf[6:8], h.FlagsOff)
	buf[8] = h.TTL
	buf[9] = h.Protocol
	binary.BigEndian.PutUint16(buf[10:12], h.Checksum)
	copy(buf[12:16], h.Src[:])
	copy(buf[16:20], h.Dst[:])
	return buf[:IPv4HeaderLen]
}

// StampChecksum computes and writes the IPv4 header checksum in buf[0:20].
func StampChecksum(buf []byte) {
	buf[10], buf[11] = 0, 0
	sum := pgmchecksum.InetChecksum(buf[:IPv4HeaderLen])
	binary.BigEndian.PutUint16(buf[10:12], sum)
}

// VerifyChecksum reports whether the IPv4 header checksum in buf is
// valid, leaving buf unmodified.
func VerifyChecksum(buf []byte) bool {
	saved := binary.BigEndian.Uint16(buf[10:12])
	tmp := append([]byte(nil), buf[:IPv4HeaderLen]...)
	tmp[10], tmp[11] = 0, 0
	return pgmchecksum.InetChecksum(tmp) == saved
}

// IPv6Header is RFC 2460's fixed 40-byte header.
type IPv6Header struct {
	Version      uint8
	TrafficClass uint8
	FlowLabel    uint32 // 20 bits
	PayloadLen   uint16
	NextHeader   uint8
	HopLimit     uint8
	Src          [16]byte
	Dst          [16]byte
}

// ParseIPv6Header reads a 40-byte IPv6 header from the front of buf.
func ParseIPv6Header(buf []byte) (IPv6Header, error) {
	if len(buf) < IPv6HeaderLen {
		return IPv6Header{}, pgmerr.ErrPacketLength
	}
	vfc := binary.BigEndian.Uint32(buf[0:4])
	var h IPv6Header
	h.Version = uint8(vfc >> 28)
	h.TrafficClass = uint8(vfc >> 20)
	h.FlowLabel = vfc & 0xfffff
	h.PayloadLen = binary.BigEndian.Uint16(buf[4:6])
	h.NextHeader = buf[6]
	h.HopLimit = buf[7]
	copy(h.Src[:], buf[8:24])
	copy(h.Dst[:], buf[24:40])
	if h.Version != 6 {
		return h, pgmerr.ErrPacketVersion
	}
	return h, nil
}

// Serialize writes the 40-byte header into buf.
func (h IPv6Header) Serialize(buf []byte) []byte {
	vfc := uint32(6)<<28 | uint32(h.TrafficClass)<<20 | (h.FlowLabel & 0xfffff)
	binary.BigEndian.PutUint32(buf[0:4], vfc)
	binary.BigEndian.PutUint16(buf[4:6], h.PayloadLen)
	buf[6] = h.NextHeader
	buf[7] = h.HopLimit
	copy(buf[8:24], h.Src[:])
	copy(buf[24:40], h.Dst[:])
	return buf[:IPv6HeaderLen]
}

// UDPHeader is RFC 768's fixed 8-byte header, used only when PGM is
// UDP-encapsulated over configured unicast/multicast encapsulation
// ports.
type UDPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

func ParseUDPHeader(buf []byte) (UDPHeader, error) {
	if len(buf) < UDPHeaderLen {
		return UDPHeader{}, pgmerr.ErrPacketLength
	}
	return UDPHeader{
		SrcPort:  binary.BigEndian.Uint16(buf[0:2]),
		DstPort:  binary.BigEndian.Uint16(buf[2:4]),
		Length:   binary.BigEndian.Uint16(buf[4:6]),
		Checksum: binary.BigEndian.Uint16(buf[6:8]),
	}, nil
}

func (h UDPHeader) Serialize(buf []byte) []byte {
	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	binary.BigEndian.PutUint16(buf[6:8], h.Checksum)
	return buf[:UDPHeaderLen]
}
