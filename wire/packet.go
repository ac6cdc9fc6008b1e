// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"

	"github.com/pgmcore/go-pgm/pgmchecksum"
	"github.com/pgmcore/go-pgm/pgmerr"
	"github.com/pgmcore/go-pgm/skb"
)

// Packet is a fully decoded PGM frame: the common header plus exactly
// one of the type-specific payloads (selected by Header.Type) and any
// option chain. Exactly one of SPM/Poll/Polr/Data/Nak/Spmr is
// meaningful, chosen by Header.Type; the rest are zero values.
type Packet struct {
	Header  CommonHeader
	SPM     SPM
	Poll    Poll
	Polr    Polr
	Data    Data
	Nak     Nak
	Spmr    Spmr
	Options []Option
}

// parseTypeSpecific dispatches on Header.Type to the right
// type-specific parser: a tagged-variant decode over the RFC's closed
// type set, never open polymorphism.
func parseTypeSpecific(h CommonHeader, rest []byte) (Packet, []byte, error) {
	pkt := Packet{Header: h}
	var err error
	var tail []byte
	switch h.Type {
	case TypeSPM:
		pkt.SPM, tail, err = ParseSPM(rest)
	case TypePoll:
		pkt.Poll, tail, err = ParsePoll(rest)
	case TypePolr:
		pkt.Polr, tail, err = ParsePolr(rest)
	case TypeODATA, TypeRDATA:
		var d Data
		d, err = ParseData(rest)
		tail = nil // ODATA/RDATA payload is the TSDU itself, consumed whole
		pkt.Data = d
	case TypeNAK, TypeNNAK, TypeNCF:
		pkt.Nak, tail, err = ParseNak(rest)
	case TypeSPMR:
		tail = rest
	default:
		return Packet{}, nil, pgmerr.ErrPacketType
	}
	return pkt, tail, err
}

// typeSpecificFixedLen returns how many bytes of rest were consumed by the
// fixed part of the type-specific payload (used to locate an option
// chain for types where parseTypeSpecific doesn't already return the
// tail, i.e. ODATA/RDATA where the "tail" is the TSDU payload, not an
// option boundary).
func typeSpecificFixedLen(t Type) int {
	switch t {
	case TypeSPM:
		return 8 // + NLA, variable; handled by caller via returned tail
	case TypePoll:
		return 8
	case TypePolr:
		return 6
	case TypeODATA, TypeRDATA:
		return 8
	case TypeNAK, TypeNNAK, TypeNCF:
		return 4 // + two NLAs, variable; handled via tail
	case TypeSPMR:
		return 0
	default:
		return 0
	}
}

// ParseRaw parses an skb whose data cursor points at an IPv4 header
// (the native-PGM, non-UDP-encapsulated path), advances past the IP
// header, and decodes the PGM common header, type-specific payload
// and options.
func ParseRaw(b *skb.Buffer) (Packet, error) {
	raw := b.Data()
	if len(raw) < IPv4HeaderLen {
		return Packet{}, pgmerr.ErrPacketLength
	}
	ipHdr, err := ParseIPv4Header(raw)
	if err != nil {
		return Packet{}, err
	}
	if !VerifyChecksum(raw[:IPv4HeaderLen]) {
		return Packet{}, pgmerr.ErrPacketChecksum
	}
	hdrLen := ipHdr.HeaderBytes()
	if hdrLen < IPv4HeaderLen || len(raw) < hdrLen {
		return Packet{}, pgmerr.ErrPacketLength
	}
	if _, err := b.Pull(hdrLen); err != nil {
		return Packet{}, err
	}

	pkt, err := parsePGM(b.Data())
	if err != nil {
		return Packet{}, err
	}
	b.Sqn = pkt.Data.Sqn
	b.TxwTrail = pkt.Data.Trail
	b.Type = uint8(pkt.Header.Type)
	b.TSI = pkt.Header.TSI()
	return pkt, nil
}

// ParseUDPEncap parses an skb whose data cursor already points
// directly at the PGM common header -- the socket/UDP layer has
// already been stripped by the platform layer.
func ParseUDPEncap(b *skb.Buffer) (Packet, error) {
	pkt, err := parsePGM(b.Data())
	if err != nil {
		return Packet{}, err
	}
	b.Sqn = pkt.Data.Sqn
	b.TxwTrail = pkt.Data.Trail
	b.Type = uint8(pkt.Header.Type)
	b.TSI = pkt.Header.TSI()
	return pkt, nil
}

// parsePGM decodes a PGM common header, type-specific payload and
// option chain from raw, validating the PGM checksum over the whole
// of raw with the checksum field zeroed during computation, and, for
// ODATA/RDATA, that the header's TSDU length equals the payload length.
func parsePGM(raw []byte) (Packet, error) {
	h, err := ParseCommonHeader(raw)
	if err != nil {
		return Packet{}, err
	}
	if !verifyPGMChecksum(raw, h.Checksum) {
		return Packet{}, pgmerr.ErrPacketChecksum
	}

	rest := raw[CommonHeaderLen:]
	pkt, tail, err := parseTypeSpecific(h, rest)
	if err != nil {
		return Packet{}, err
	}

	if h.HasOptions() {
		var optBuf []byte
		if pkt.Header.Type == TypeODATA || pkt.Header.Type == TypeRDATA {
			// ODATA/RDATA options, if present, precede the TSDU
			// payload rather than following a returned tail.
			fixed := typeSpecificFixedLen(h.Type)
			optBuf = rest[fixed:]
		} else {
			optBuf = tail
		}
		opts, consumed, err := ParseOptionChain(optBuf, len(optBuf))
		if err != nil {
			return Packet{}, err
		}
		pkt.Options = opts
		if pkt.Header.Type == TypeODATA || pkt.Header.Type == TypeRDATA {
			fixed := typeSpecificFixedLen(h.Type)
			pkt.Data.Payload = rest[fixed+consumed:]
		}
	}

	// TSDU length counts only the ODATA/RDATA application payload.
	if (h.Type == TypeODATA || h.Type == TypeRDATA) && len(pkt.Data.Payload) != int(h.TSDULength) {
		return Packet{}, pgmerr.ErrPacketLength
	}
	return pkt, nil
}

// verifyPGMChecksum checks the PGM checksum covering header+TSDU with
// the checksum field zeroed for computation.
func verifyPGMChecksum(headerAndTSDU []byte, want uint16) bool {
	tmp := append([]byte(nil), headerAndTSDU...)
	tmp[6], tmp[7] = 0, 0
	return pgmchecksum.InetChecksum(tmp) == want
}

// stampPGMChecksum zeroes the checksum field, computes the PGM
// checksum over header+TSDU, and writes it back.
func stampPGMChecksum(headerAndTSDU []byte) {
	headerAndTSDU[6], headerAndTSDU[7] = 0, 0
	sum := pgmchecksum.InetChecksum(headerAndTSDU)
	headerAndTSDU[6] = byte(sum >> 8)
	headerAndTSDU[7] = byte(sum)
}

// Serialize renders pkt back to wire bytes: the PGM common header,
// type-specific payload, options (if any) and -- for ODATA/RDATA --
// the TSDU payload, with the PGM checksum stamped over the whole
// region. It is the mirror of parsePGM and is used both to transmit
// and to test the parse/serialise round trip.
func Serialize(pkt Packet) ([]byte, error) {
	body := make([]byte, 0, CommonHeaderLen+int(pkt.Header.TSDULength))
	hdrBuf := make([]byte, CommonHeaderLen)
	body = append(body, pkt.Header.Serialize(hdrBuf)...)

	var typeBuf [64]byte
	switch pkt.Header.Type {
	case TypeSPM:
		body = append(body, pkt.SPM.Serialize(typeBuf[:])...)
	case TypePoll:
		body = append(body, pkt.Poll.Serialize(typeBuf[:])...)
	case TypePolr:
		body = append(body, pkt.Polr.Serialize(typeBuf[:])...)
	case TypeODATA, TypeRDATA:
		fixed := make([]byte, 8)
		binary.BigEndian.PutUint32(fixed[0:4], pkt.Data.Sqn)
		binary.BigEndian.PutUint32(fixed[4:8], pkt.Data.Trail)
		body = append(body, fixed...)
		if len(pkt.Options) > 0 {
			optBytes, err := SerializeOptionChain(pkt.Options)
			if err != nil {
				return nil, err
			}
			body = append(body, optBytes...)
		}
		body = append(body, pkt.Data.Payload...)
	case TypeNAK, TypeNNAK, TypeNCF:
		body = append(body, pkt.Nak.Serialize(typeBuf[:])...)
		if len(pkt.Options) > 0 {
			optBytes, err := SerializeOptionChain(pkt.Options)
			if err != nil {
				return nil, err
			}
			body = append(body, optBytes...)
		}
	case TypeSPMR:
		// no payload
	default:
		return nil, pgmerr.ErrPacketType
	}

	tsduLen := 0
	if pkt.Header.Type == TypeODATA || pkt.Header.Type == TypeRDATA {
		tsduLen = len(pkt.Data.Payload)
	}
	binary.BigEndian.PutUint16(body[14:16], uint16(tsduLen))
	stampPGMChecksum(body)
	return body, nil
}
