// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"

	"github.com/pgmcore/go-pgm/pgmerr"
)

// Option type IDs (bottom 7 bits of the option type byte; the top bit
// marks the last option in the chain, OptEnd).
const (
	OptEnd      = 0x80
	OptLength   = 0x00 // must be first; payload = uint16 total chain length
	OptFragment = 0x01 // APDU-first-sqn(4) + APDU-length(4) + fragment-offset(4)
	OptNakList  = 0x02 // list of additional sqns, 4 bytes each
)

const optionHeaderLen = 3 // type(1) + length(1) + reserved(1)

// Option is one entry of the option chain: (type, length, reserved, payload).
type Option struct {
	Type    uint8 // bottom 7 bits; OptEnd is stripped out into Last
	Last    bool
	Length  uint8 // total wire length of this entry, header included
	Payload []byte
}

// ParseOptionChain parses a PGM option chain starting at buf[0],
// validating its constraints: OPT_LENGTH must be first,
// no option may declare zero length, and the running total must match
// OPT_LENGTH's declared chain length exactly, which itself must not
// run past limit (the caller passes the end of the packet).
func ParseOptionChain(buf []byte, limit int) ([]Option, int, error) {
	if limit > len(buf) {
		limit = len(buf)
	}
	var opts []Option
	offset := 0
	declaredLen := -1

	for {
		if offset+optionHeaderLen > limit {
			return nil, 0, pgmerr.ErrPacketOption
		}
		typeByte := buf[offset]
		last := typeByte&OptEnd != 0
		optType := typeByte &^ OptEnd
		length := buf[offset+1]
		if length < optionHeaderLen {
			return nil, 0, pgmerr.ErrPacketOption
		}
		if offset+int(length) > limit {
			return nil, 0, pgmerr.ErrPacketOption
		}

		if len(opts) == 0 && optType != OptLength {
			return nil, 0, pgmerr.ErrPacketOption
		}

		payload := buf[offset+optionHeaderLen : offset+int(length)]
		opts = append(opts, Option{Type: optType, Last: last, Length: length, Payload: payload})

		if optType == OptLength {
			if len(payload) < 2 {
				return nil, 0, pgmerr.ErrPacketOption
			}
			declaredLen = int(binary.BigEndian.Uint16(payload[0:2]))
		}

		offset += int(length)
		if last {
			break
		}
		if offset >= limit {
			return nil, 0, pgmerr.ErrPacketOption
		}
	}

	if declaredLen < 0 || declaredLen != offset {
		return nil, 0, pgmerr.ErrPacketOption
	}
	return opts, offset, nil
}

// SerializeOptionChain writes opts back to wire form, stamping
// OPT_LENGTH's payload with the actual total length. opts[0] must
// already be an OptLength entry (its Payload is overwritten); the
// last entry's Last flag is forced to true.
func SerializeOptionChain(opts []Option) ([]byte, error) {
	if len(opts) == 0 || opts[0].Type != OptLength {
		return nil, pgmerr.ErrPacketOption
	}
	total := 0
	for _, o := range opts {
		total += int(o.Length)
	}
	binary.BigEndian.PutUint16(opts[0].Payload[0:2], uint16(total))

	buf := make([]byte, total)
	offset := 0
	for i, o := range opts {
		typeByte := o.Type
		if i == len(opts)-1 {
			typeByte |= OptEnd
		}
		buf[offset] = typeByte
		buf[offset+1] = o.Length
		buf[offset+2] = 0
		copy(buf[offset+optionHeaderLen:offset+int(o.Length)], o.Payload)
		offset += int(o.Length)
	}
	return buf, nil
}

// NewOptionLength builds the mandatory first OPT_LENGTH entry; its
// payload is filled in by SerializeOptionChain once the full chain
// length is known.
func NewOptionLength() Option {
	return Option{Type: OptLength, Length: optionHeaderLen + 2, Payload: make([]byte, 2)}
}

// FragmentInfo is the decoded payload of an OPT_FRAGMENT option.
type FragmentInfo struct {
	APDUFirstSqn uint32
	APDULength   uint32
	FragOffset   uint32
}

func ParseFragmentOption(o Option) (FragmentInfo, error) {
	if len(o.Payload) < 12 {
		return FragmentInfo{}, pgmerr.ErrPacketOption
	}
	return FragmentInfo{
		APDUFirstSqn: binary.BigEndian.Uint32(o.Payload[0:4]),
		APDULength:   binary.BigEndian.Uint32(o.Payload[4:8]),
		FragOffset:   binary.BigEndian.Uint32(o.Payload[8:12]),
	}, nil
}

func NewFragmentOption(info FragmentInfo) Option {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], info.APDUFirstSqn)
	binary.BigEndian.PutUint32(payload[4:8], info.APDULength)
	binary.BigEndian.PutUint32(payload[8:12], info.FragOffset)
	return Option{Type: OptFragment, Length: optionHeaderLen + 12, Payload: payload}
}

// ParseNakListOption decodes the grouped sqn list carried by OPT_NAK_LIST.
func ParseNakListOption(o Option) ([]uint32, error) {
	if len(o.Payload)%4 != 0 {
		return nil, pgmerr.ErrPacketOption
	}
	sqns := make([]uint32, 0, len(o.Payload)/4)
	for i := 0; i < len(o.Payload); i += 4 {
		sqns = append(sqns, binary.BigEndian.Uint32(o.Payload[i:i+4]))
	}
	return sqns, nil
}

func NewNakListOption(sqns []uint32) Option {
	payload := make([]byte, len(sqns)*4)
	for i, s := range sqns {
		binary.BigEndian.PutUint32(payload[i*4:i*4+4], s)
	}
	return Option{Type: OptNakList, Length: uint8(optionHeaderLen + len(payload)), Payload: payload}
}
