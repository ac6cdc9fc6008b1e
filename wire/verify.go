// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package wire

import "github.com/pgmcore/go-pgm/pgmerr"

// The Verify* predicates check invariant structural constraints for
// one control type each (minimum length, legal option combinations,
// address-family consistency). They never reinterpret data payload
// bytes -- that is the caller's job once the packet has been accepted.

func VerifySPM(pkt Packet) error {
	if pkt.Header.Type != TypeSPM {
		return pgmerr.ErrPacketType
	}
	if pkt.SPM.Path.AFI != AFIIPv4 && pkt.SPM.Path.AFI != AFIIPv6 {
		return pgmerr.ErrPacketOption
	}
	return nil
}

func VerifySPMR(pkt Packet) error {
	if pkt.Header.Type != TypeSPMR {
		return pgmerr.ErrPacketType
	}
	return nil
}

func VerifyNAK(pkt Packet) error {
	if pkt.Header.Type != TypeNAK {
		return pgmerr.ErrPacketType
	}
	return verifyNakFamily(pkt)
}

func VerifyNNAK(pkt Packet) error {
	if pkt.Header.Type != TypeNNAK {
		return pgmerr.ErrPacketType
	}
	return verifyNakFamily(pkt)
}

func VerifyNCF(pkt Packet) error {
	if pkt.Header.Type != TypeNCF {
		return pgmerr.ErrPacketType
	}
	return verifyNakFamily(pkt)
}

func verifyNakFamily(pkt Packet) error {
	if pkt.Nak.SourceNLA.AFI != pkt.Nak.GroupNLA.AFI {
		return pgmerr.ErrPacketOption
	}
	for _, o := range pkt.Options {
		if o.Type == OptNakList {
			if _, err := ParseNakListOption(o); err != nil {
				return err
			}
		}
	}
	return nil
}

func VerifyPoll(pkt Packet) error {
	if pkt.Header.Type != TypePoll {
		return pgmerr.ErrPacketType
	}
	return nil
}

func VerifyPolr(pkt Packet) error {
	if pkt.Header.Type != TypePolr {
		return pgmerr.ErrPacketType
	}
	return nil
}
