// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"

	"github.com/pgmcore/go-pgm/pgmerr"
	"github.com/pgmcore/go-pgm/skb"
)

// CommonHeaderLen is the fixed 16-byte PGM common header: source port
// (2), dest port (2), type+options (1), options (1), checksum (2),
// GSI (6), TSDU length (2).
const CommonHeaderLen = 16

// Type is the PGM packet type, carried in the top 5 bits of the
// type+options byte.
type Type uint8

const (
	TypeSPM   Type = 0x00
	TypePoll  Type = 0x01
	TypePolr  Type = 0x02
	TypeODATA Type = 0x04
	TypeRDATA Type = 0x05
	TypeNAK   Type = 0x08
	TypeNNAK  Type = 0x09
	TypeNCF   Type = 0x0a
	TypeSPMR  Type = 0x0c
)

func (t Type) String() string {
	switch t {
	case TypeSPM:
		return "SPM"
	case TypePoll:
		return "POLL"
	case TypePolr:
		return "POLR"
	case TypeODATA:
		return "ODATA"
	case TypeRDATA:
		return "RDATA"
	case TypeNAK:
		return "NAK"
	case TypeNNAK:
		return "NNAK"
	case TypeNCF:
		return "NCF"
	case TypeSPMR:
		return "SPMR"
	default:
		return "UNKNOWN"
	}
}

// OptionsPresent is the high bit of the options byte: when set, an
// option chain immediately follows the type-specific header.
const OptionsPresent = 0x80

// CommonHeader is the PGM header common to every packet type.
type CommonHeader struct {
	SourcePort  uint16
	DestPort    uint16
	Type        Type
	Options     uint8 // full options summary byte; bit7 = OptionsPresent
	Checksum    uint16
	GSI         [6]byte
	TSDULength  uint16
}

// HasOptions reports whether an option chain follows the type-specific payload.
func (h CommonHeader) HasOptions() bool { return h.Options&OptionsPresent != 0 }

// ParseCommonHeader reads the 16-byte PGM common header from the
// front of buf.
func ParseCommonHeader(buf []byte) (CommonHeader, error) {
	if len(buf) < CommonHeaderLen {
		return CommonHeader{}, pgmerr.ErrPacketLength
	}
	var h CommonHeader
	h.SourcePort = binary.BigEndian.Uint16(buf[0:2])
	h.DestPort = binary.BigEndian.Uint16(buf[2:4])
	typeAndOpt := buf[4]
	h.Type = Type(typeAndOpt >> 3)
	h.Options = buf[5]
	h.Checksum = binary.BigEndian.Uint16(buf[6:8])
	copy(h.GSI[:], buf[8:14])
	h.TSDULength = binary.BigEndian.Uint16(buf[14:16])

	switch h.Type {
	case TypeSPM, TypePoll, TypePolr, TypeODATA, TypeRDATA, TypeNAK, TypeNNAK, TypeNCF, TypeSPMR:
	default:
		return h, pgmerr.ErrPacketType
	}
	return h, nil
}

// Serialize writes the 16-byte common header into buf.
func (h CommonHeader) Serialize(buf []byte) []byte {
	binary.BigEndian.PutUint16(buf[0:2], h.SourcePort)
	binary.BigEndian.PutUint16(buf[2:4], h.DestPort)
	buf[4] = byte(h.Type) << 3
	buf[5] = h.Options
	binary.BigEndian.PutUint16(buf[6:8], h.Checksum)
	copy(buf[8:14], h.GSI[:])
	binary.BigEndian.PutUint16(buf[14:16], h.TSDULength)
	return buf[:CommonHeaderLen]
}

// TSI builds the Transport Session Identifier from the common header's GSI and source port.
func (h CommonHeader) TSI() skb.TSI {
	return skb.TSI{GSI: h.GSI, SourcePort: h.SourcePort}
}
