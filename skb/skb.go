// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package skb implements the PGM packet buffer: an owning,
// reference-counted byte region with four cursors (head/data/tail/end)
// in the BSD/Linux sk_buff tradition, plus the side-band attributes
// the wire codec attaches during parsing (TSI, header offsets,
// sequence number, arrival time).
//
// Pull/push/put/trim only move cursors; none of them ever reallocates
// the backing array, matching the fixed-size, allocation-free budget
// the transport core is meant to run inside of.
package skb

import (
	"sync/atomic"
	"time"

	"github.com/pgmcore/go-pgm/pgmerr"
)

// Buffer owns a contiguous byte region with four cursors such that
// head <= data <= tail <= end always holds.
type Buffer struct {
	store []byte

	head, data, tail, end int

	refs *int32

	// Side-band attributes, set by the wire codec (package wire) and
	// consumed by the receive/transmit windows. Opaque to I/O.
	TSI       TSI
	Type      uint8
	Sqn       uint32
	TxwTrail  uint32
	Timestamp time.Time

	// Transport is a non-owning handle back to the facade that
	// produced or is about to transmit this buffer. Deliberately not a
	// pointer the skb can use to extend the transport's lifetime;
	// callers pass whatever handle type fits.
	Transport interface{}
}

// TSI is the Transport Session Identifier: a 48-bit GSI plus a 16-bit
// source port, see package wire for the wire encoding.
type TSI struct {
	GSI        [6]byte
	SourcePort uint16
}

// Allocate returns a new Buffer with capacity bytes of backing storage
// and reference count 1. head, data and tail all start at the
// beginning of the allocation.
func Allocate(capacity int) *Buffer {
	refs := int32(1)
	return &Buffer{
		store: make([]byte, capacity),
		head:  0, data: 0, tail: 0, end: capacity,
		refs: &refs,
	}
}

// Cap returns the total allocation size (end - head).
func (b *Buffer) Cap() int { return b.end - b.head }

// Len returns the number of valid bytes currently framed (tail - data).
func (b *Buffer) Len() int { return b.tail - b.data }

// Data returns the slice of currently valid bytes, data..tail.
func (b *Buffer) Data() []byte { return b.store[b.data:b.tail] }

// Reserve advances data and tail by n bytes from the start of the
// allocation, pre-allocating headroom for a header that will be
// prepended later via Push. Fails if n exceeds the capacity.
func (b *Buffer) Reserve(n int) error {
	if n > b.Cap() {
		return pgmerr.ErrWindowOverflow
	}
	b.data = b.head + n
	b.tail = b.data
	return nil
}

// Put extends tail by n bytes, returning the newly exposed region.
// Fails rather than corrupt state if that would run past end.
func (b *Buffer) Put(n int) ([]byte, error) {
	if n < 0 || b.tail+n > b.end {
		return nil, pgmerr.ErrWindowOverflow
	}
	start := b.tail
	b.tail += n
	return b.store[start:b.tail], nil
}

// Pull advances data by n bytes, shrinking the framed region from the
// front (consuming a header once it has been parsed).
func (b *Buffer) Pull(n int) ([]byte, error) {
	if n < 0 || b.data+n > b.tail {
		return nil, pgmerr.ErrWindowUnderflow
	}
	start := b.data
	b.data += n
	return b.store[start:b.data], nil
}

// Push moves data backwards by n bytes, exposing headroom reserved
// earlier (prepending a header).
func (b *Buffer) Push(n int) ([]byte, error) {
	if n < 0 || b.data-n < b.head {
		return nil, pgmerr.ErrWindowUnderflow
	}
	b.data -= n
	return b.store[b.data : b.data+n], nil
}

// Trim shrinks tail back by n bytes (dropping trailing padding).
func (b *Buffer) Trim(n int) error {
	if n < 0 || b.tail-n < b.data {
		return pgmerr.ErrWindowUnderflow
	}
	b.tail -= n
	return nil
}

// Retain increments the reference count and returns the same buffer,
// so callers can hand a clone to one consumer while keeping their own
// reference.
func (b *Buffer) Retain() *Buffer {
	atomic.AddInt32(b.refs, 1)
	return b
}

// Release decrements the reference count, freeing the backing storage
// once it reaches zero. Returns true if this call freed the buffer.
func (b *Buffer) Release() bool {
	if atomic.AddInt32(b.refs, -1) == 0 {
		b.store = nil
		return true
	}
	return false
}

// Clone returns a new Buffer sharing the same backing storage and
// reference count, with its own copy of the cursors -- so the clone
// can be pulled/pushed/trimmed independently of the original without
// copying bytes.
func (b *Buffer) Clone() *Buffer {
	atomic.AddInt32(b.refs, 1)
	clone := *b
	return &clone
}

// RefCount reports the current reference count, for tests and
// diagnostics only.
func (b *Buffer) RefCount() int32 {
	return atomic.LoadInt32(b.refs)
}
