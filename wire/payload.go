// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"net"

	"github.com/pgmcore/go-pgm/pgmerr"
)

// AFI identifies the address family of a Network-Layer Address.
type AFI uint16

const (
	AFIIPv4 AFI = 1
	AFIIPv6 AFI = 2
)

// NLA is a Network-Layer Address: the peer-path or source/group
// address carried in SPM/NAK/NCF payloads.
type NLA struct {
	AFI  AFI
	Addr net.IP // 4 bytes for AFIIPv4, 16 for AFIIPv6
}

func (n NLA) wireLen() int {
	if n.AFI == AFIIPv6 {
		return 4 + 16
	}
	return 4 + 4
}

func parseNLA(buf []byte) (NLA, int, error) {
	if len(buf) < 4 {
		return NLA{}, 0, pgmerr.ErrPacketLength
	}
	afi := AFI(binary.BigEndian.Uint16(buf[0:2]))
	switch afi {
	case AFIIPv4:
		if len(buf) < 8 {
			return NLA{}, 0, pgmerr.ErrPacketLength
		}
		return NLA{AFI: afi, Addr: net.IP(append([]byte(nil), buf[4:8]...))}, 8, nil
	case AFIIPv6:
		if len(buf) < 20 {
			return NLA{}, 0, pgmerr.ErrPacketLength
		}
		return NLA{AFI: afi, Addr: net.IP(append([]byte(nil), buf[4:20]...))}, 20, nil
	default:
		return NLA{}, 0, pgmerr.ErrPacketOption
	}
}

func (n NLA) serialize(buf []byte) int {
	binary.BigEndian.PutUint16(buf[0:2], uint16(n.AFI))
	buf[2], buf[3] = 0, 0
	if n.AFI == AFIIPv6 {
		copy(buf[4:20], n.Addr.To16())
		return 20
	}
	copy(buf[4:8], n.Addr.To4())
	return 8
}

// SPM is the Source Path Message payload.
type SPM struct {
	Trail uint32
	Lead  uint32
	Path  NLA
}

func ParseSPM(buf []byte) (SPM, []byte, error) {
	if len(buf) < 8 {
		return SPM{}, nil, pgmerr.ErrPacketLength
	}
	var s SPM
	s.Trail = binary.BigEndian.Uint32(buf[0:4])
	s.Lead = binary.BigEndian.Uint32(buf[4:8])
	nla, n, err := parseNLA(buf[8:])
	if err != nil {
		return SPM{}, nil, err
	}
	s.Path = nla
	return s, buf[8+n:], nil
}

func (s SPM) Serialize(buf []byte) []byte {
	binary.BigEndian.PutUint32(buf[0:4], s.Trail)
	binary.BigEndian.PutUint32(buf[4:8], s.Lead)
	n := s.Path.serialize(buf[8:])
	return buf[:8+n]
}

// Poll is the POLL payload.
type Poll struct {
	Trail        uint32
	PollRound    uint16
	PollInterval uint16 // backoff interval hint, milliseconds
}

func ParsePoll(buf []byte) (Poll, []byte, error) {
	if len(buf) < 8 {
		return Poll{}, nil, pgmerr.ErrPacketLength
	}
	p := Poll{
		Trail:        binary.BigEndian.Uint32(buf[0:4]),
		PollRound:    binary.BigEndian.Uint16(buf[4:6]),
		PollInterval: binary.BigEndian.Uint16(buf[6:8]),
	}
	return p, buf[8:], nil
}

func (p Poll) Serialize(buf []byte) []byte {
	binary.BigEndian.PutUint32(buf[0:4], p.Trail)
	binary.BigEndian.PutUint16(buf[4:6], p.PollRound)
	binary.BigEndian.PutUint16(buf[6:8], p.PollInterval)
	return buf[:8]
}

// Polr is the POLR (poll response) payload.
type Polr struct {
	Trail     uint32
	PollRound uint16
}

func ParsePolr(buf []byte) (Polr, []byte, error) {
	if len(buf) < 6 {
		return Polr{}, nil, pgmerr.ErrPacketLength
	}
	p := Polr{
		Trail:     binary.BigEndian.Uint32(buf[0:4]),
		PollRound: binary.BigEndian.Uint16(buf[4:6]),
	}
	return p, buf[6:], nil
}

func (p Polr) Serialize(buf []byte) []byte {
	binary.BigEndian.PutUint32(buf[0:4], p.Trail)
	binary.BigEndian.PutUint16(buf[4:6], p.PollRound)
	return buf[:6]
}

// Data is the ODATA/RDATA payload framing. The distinction between
// original and repair data is carried by CommonHeader.Type, not by
// this struct.
type Data struct {
	Sqn     uint32
	Trail   uint32
	Payload []byte
}

func ParseData(buf []byte) (Data, error) {
	if len(buf) < 8 {
		return Data{}, pgmerr.ErrPacketLength
	}
	return Data{
		Sqn:     binary.BigEndian.Uint32(buf[0:4]),
		Trail:   binary.BigEndian.Uint32(buf[4:8]),
		Payload: buf[8:],
	}, nil
}

func (d Data) Serialize(buf []byte) []byte {
	binary.BigEndian.PutUint32(buf[0:4], d.Sqn)
	binary.BigEndian.PutUint32(buf[4:8], d.Trail)
	n := copy(buf[8:], d.Payload)
	return buf[:8+n]
}

// Nak is the shared payload shape of NAK, N-NAK and NCF: a single
// requested sqn plus source and group NLAs. Additional grouped sqns,
// when present, travel in an OPT_NAK_LIST option parsed separately.
type Nak struct {
	RequestedSqn uint32
	SourceNLA    NLA
	GroupNLA     NLA
}

func ParseNak(buf []byte) (Nak, []byte, error) {
	if len(buf) < 4 {
		return Nak{}, nil, pgmerr.ErrPacketLength
	}
	var n Nak
	n.RequestedSqn = binary.BigEndian.Uint32(buf[0:4])
	rest := buf[4:]
	src, used, err := parseNLA(rest)
	if err != nil {
		return Nak{}, nil, err
	}
	n.SourceNLA = src
	rest = rest[used:]
	grp, used2, err := parseNLA(rest)
	if err != nil {
		return Nak{}, nil, err
	}
	n.GroupNLA = grp
	return n, rest[used2:], nil
}

func (n Nak) Serialize(buf []byte) []byte {
	binary.BigEndian.PutUint32(buf[0:4], n.RequestedSqn)
	off := 4
	off += n.SourceNLA.serialize(buf[off:])
	off += n.GroupNLA.serialize(buf[off:])
	return buf[:off]
}

// Spmr (SPM request) carries no type-specific payload beyond the
// common header.
type Spmr struct{}
