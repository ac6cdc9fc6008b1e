// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgmcore/go-pgm/pgmerr"
	"github.com/pgmcore/go-pgm/skb"
)

// buildODATA constructs the S1/S2 scenario packet: src 127.0.0.1, dst
// 127.0.0.2, sport 1000, dport 7500, GSI {1,2,3,4,5,6}:1000, sqn 0,
// trail 0xFFFFFFFF, payload "i am not a string\0" (18 bytes).
func buildODATA(t *testing.T) []byte {
	t.Helper()
	pkt := Packet{
		Header: CommonHeader{
			SourcePort: 1000,
			DestPort:   7500,
			Type:       TypeODATA,
			GSI:        [6]byte{1, 2, 3, 4, 5, 6},
		},
		Data: Data{
			Sqn:     0,
			Trail:   0xFFFFFFFF,
			Payload: append([]byte("i am not a string"), 0),
		},
	}
	body, err := Serialize(pkt)
	require.NoError(t, err)
	require.Len(t, pkt.Data.Payload, 18)
	return body
}

func TestS1ODATAParseRaw(t *testing.T) {
	pgmBody := buildODATA(t)

	ip := IPv4Header{
		TotalLen: uint16(IPv4HeaderLen + len(pgmBody)),
		TTL:      16,
		Protocol: ProtoPGM,
		Src:      [4]byte{127, 0, 0, 1},
		Dst:      [4]byte{127, 0, 0, 2},
	}
	raw := make([]byte, IPv4HeaderLen+len(pgmBody))
	ip.Serialize(raw)
	copy(raw[IPv4HeaderLen:], pgmBody)
	StampChecksum(raw)

	b := skb.Allocate(len(raw))
	require.NoError(t, b.Reserve(0))
	payload, err := b.Put(len(raw))
	require.NoError(t, err)
	copy(payload, raw)

	pkt, err := ParseRaw(b)
	require.NoError(t, err)
	require.Equal(t, uint32(0), pkt.Data.Sqn)
	require.Equal(t, TypeODATA, pkt.Header.Type)
	require.EqualValues(t, 18, pkt.Header.TSDULength)
	require.Equal(t, "i am not a string\x00", string(pkt.Data.Payload))
}

func TestS2UDPEncapParse(t *testing.T) {
	pgmBody := buildODATA(t)

	b := skb.Allocate(len(pgmBody))
	require.NoError(t, b.Reserve(0))
	payload, err := b.Put(len(pgmBody))
	require.NoError(t, err)
	copy(payload, pgmBody)

	pkt, err := ParseUDPEncap(b)
	require.NoError(t, err)
	require.Equal(t, TypeODATA, pkt.Header.Type)
	require.EqualValues(t, 18, pkt.Header.TSDULength)
}

func TestParseSerializeRoundTripODATA(t *testing.T) {
	body := buildODATA(t)
	pkt, err := parsePGM(body)
	require.NoError(t, err)

	back, err := Serialize(pkt)
	require.NoError(t, err)
	require.Equal(t, body, back)
}

func TestParseSerializeRoundTripSPM(t *testing.T) {
	pkt := Packet{
		Header: CommonHeader{
			SourcePort: 2000,
			DestPort:   7500,
			Type:       TypeSPM,
			GSI:        [6]byte{9, 8, 7, 6, 5, 4},
		},
		SPM: SPM{
			Trail: 10,
			Lead:  20,
			Path:  NLA{AFI: AFIIPv4, Addr: net.IPv4(10, 0, 0, 1).To4()},
		},
	}
	body, err := Serialize(pkt)
	require.NoError(t, err)

	parsed, err := parsePGM(body)
	require.NoError(t, err)
	require.Equal(t, pkt.SPM.Trail, parsed.SPM.Trail)
	require.Equal(t, pkt.SPM.Lead, parsed.SPM.Lead)
	require.Equal(t, pkt.SPM.Path.AFI, parsed.SPM.Path.AFI)
	require.True(t, pkt.SPM.Path.Addr.Equal(parsed.SPM.Path.Addr))

	back, err := Serialize(parsed)
	require.NoError(t, err)
	require.Equal(t, body, back)
}

func TestParseSerializeRoundTripNAKWithList(t *testing.T) {
	pkt := Packet{
		Header: CommonHeader{
			SourcePort: 3000,
			DestPort:   7500,
			Type:       TypeNAK,
			Options:    OptionsPresent,
			GSI:        [6]byte{1, 1, 1, 1, 1, 1},
		},
		Nak: Nak{
			RequestedSqn: 3,
			SourceNLA:    NLA{AFI: AFIIPv4, Addr: net.IPv4(192, 168, 1, 1).To4()},
			GroupNLA:     NLA{AFI: AFIIPv4, Addr: net.IPv4(239, 1, 1, 1).To4()},
		},
		Options: []Option{
			NewOptionLength(),
			NewNakListOption([]uint32{4, 5, 6}),
		},
	}
	body, err := Serialize(pkt)
	require.NoError(t, err)

	parsed, err := parsePGM(body)
	require.NoError(t, err)
	require.Equal(t, uint32(3), parsed.Nak.RequestedSqn)
	require.Len(t, parsed.Options, 2)
	sqns, err := ParseNakListOption(parsed.Options[1])
	require.NoError(t, err)
	require.Equal(t, []uint32{4, 5, 6}, sqns)

	back, err := Serialize(parsed)
	require.NoError(t, err)
	require.Equal(t, body, back)
}

func TestChecksumMismatchRejected(t *testing.T) {
	body := buildODATA(t)
	body[len(body)-1] ^= 0xff // corrupt the last payload byte

	_, err := parsePGM(body)
	require.ErrorIs(t, err, pgmerr.ErrPacketChecksum)
}

func TestOptionChainRejectsBadLength(t *testing.T) {
	opts := []Option{NewOptionLength()}
	optBytes, err := SerializeOptionChain(opts)
	require.NoError(t, err)
	optBytes[1] = 0 // zero-length option entry

	_, _, err = ParseOptionChain(optBytes, len(optBytes))
	require.Error(t, err)
}

func TestOptionChainRequiresLengthFirst(t *testing.T) {
	bad := NewNakListOption([]uint32{1})
	bad.Last = true
	optBytes, err := SerializeOptionChain([]Option{NewOptionLength(), bad})
	require.NoError(t, err)
	// Drop the OPT_LENGTH entry so NAK_LIST is first; chain must be rejected.
	nakListStart := int(NewOptionLength().Length)
	_, _, err = ParseOptionChain(optBytes[nakListStart:], len(optBytes)-nakListStart)
	require.Error(t, err)
}
