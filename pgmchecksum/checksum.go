// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package pgmchecksum implements the 16-bit one's-complement Internet
// checksum (RFC 1071) used throughout PGM: the IP header checksum, the
// UDP checksum (when encapsulating), and the PGM common-header
// checksum that covers the PGM header plus TSDU.
//
// The accumulator is carried as an unfolded 32-bit value so that
// non-contiguous regions of a packet (for example a header assembled
// in one buffer and a payload that already sits in another) can be
// checksummed independently and combined with BlockAdd.
package pgmchecksum

import "github.com/klauspost/cpuid/v2"

// wideWordPath reports whether the host can run the 64-bit-word
// accumulation loop. Chosen once at package init: RFC 1071 is silent
// on word width, and spec note §4.1/§9 leaves the choice to the
// implementation as long as results agree with the 8-bit reference
// path bit-for-bit.
var wideWordPath = cpuid.CPU.X64Level() > 0

// Partial computes the one's-complement partial sum of data, folding
// it into the prior accumulator acc. The result is itself a valid
// accumulator and may be passed back in to extend the sum, or to
// BlockAdd to combine with a sibling region.
//
// A region with an odd number of bytes treats its trailing byte as
// the high-order byte of a final 16-bit word (network byte order),
// per RFC 1071.
func Partial(data []byte, acc uint32) uint32 {
	if wideWordPath {
		return partialWide(data, acc)
	}
	return partial8(data, acc)
}

// partial8 is the byte-at-a-time reference implementation. Tests use
// it as an oracle for the wider-word path.
func partial8(data []byte, acc uint32) uint32 {
	a := uint32(acc)
	n := len(data)
	i := 0
	for n > 1 {
		a += uint32(data[i])<<8 | uint32(data[i+1])
		i += 2
		n -= 2
	}
	if n > 0 {
		a += uint32(data[i]) << 8
	}
	a = (a >> 16) + (a & 0xffff)
	a += a >> 16
	return a & 0xffff
}

// partialWide accumulates 8 bytes per iteration into a 64-bit sum, falling
// back to the byte-at-a-time loop for the remainder. Folding is
// deferred until the very end so the wider word size only pays off in
// fewer loop iterations, never in a different numeric result.
func partialWide(data []byte, acc uint32) uint32 {
	a := uint64(acc)
	n := len(data)
	i := 0
	for n >= 8 {
		a += uint64(data[i])<<8 | uint64(data[i+1])
		a += uint64(data[i+2])<<8 | uint64(data[i+3])
		a += uint64(data[i+4])<<8 | uint64(data[i+5])
		a += uint64(data[i+6])<<8 | uint64(data[i+7])
		i += 8
		n -= 8
	}
	folded := uint32(a>>32) + uint32(a&0xffffffff)
	return partial8(data[i:], folded)
}

// Fold converts a (possibly unfolded) 32-bit accumulator into its
// final 16-bit network-order checksum value. Per RFC 1624, an
// all-zero fold result is returned as 0xFFFF rather than 0x0000, so a
// legitimate checksum computation never produces the sentinel value
// that means "checksum not present".
func Fold(acc uint32) uint16 {
	for acc>>16 != 0 {
		acc = (acc >> 16) + (acc & 0xffff)
	}
	if acc == 0xffff {
		return uint16(acc)
	}
	return ^uint16(acc)
}

// BlockAdd combines two partial sums computed independently, where
// region two began at byte offset (relative to the start of the
// overall logical buffer) given by offset. When that offset is odd,
// the two regions disagree on which of their bytes line up as the
// high/low half of a 16-bit word, so region two's accumulator is
// byte-swapped before the two sums are added.
func BlockAdd(acc1, acc2 uint32, offset int) uint32 {
	if offset&1 != 0 {
		acc2 = ((acc2 & 0xff00ff) << 8) + ((acc2 >> 8) & 0xff00ff)
	}
	sum := acc1 + acc2
	if sum < acc2 {
		sum++
	}
	return sum
}

// CopyAndChecksum copies src into dst (which must be at least
// len(src) bytes) while accumulating the checksum, producing a result
// identical to copying separately and then calling Partial.
func CopyAndChecksum(dst, src []byte, acc uint32) uint32 {
	copy(dst, src)
	return Partial(src, acc)
}

// InetChecksum computes a complete, folded, complemented one's
// complement checksum over data in a single call -- the form used to
// verify or stamp the IPv4 header checksum field.
func InetChecksum(data []byte) uint16 {
	return Fold(Partial(data, 0))
}
