// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package txwin implements the per-transport transmit window: the
// source-side repair history that lets a sender answer a NAK without
// re-running the application's send call. Packets are kept retained
// (package skb's reference counting) from the moment they are pushed
// until the window's trail advances past them, at which point the
// window's reference is released.
package txwin

import (
	"github.com/pgmcore/go-pgm/pgmerr"
	"github.com/pgmcore/go-pgm/skb"
	"github.com/pgmcore/go-pgm/sqn"
)

// Config carries the transmit-side sizing knobs.
type Config struct {
	// Capacity bounds the number of outstanding (un-trailed) packets
	// the window retains for repair.
	Capacity uint32
}

// Window is the per-transport transmit window. It is not safe for
// concurrent use without external synchronisation; the owning
// transport facade serialises access to it.
type Window struct {
	cfg Config

	bootstrapped bool
	trail        uint32
	lead         uint32

	slots []*skb.Buffer // indexed by sqn % cfg.Capacity
}

// New creates an empty transmit window.
func New(cfg Config) *Window {
	if cfg.Capacity == 0 {
		cfg.Capacity = 1
	}
	return &Window{
		cfg:   cfg,
		slots: make([]*skb.Buffer, cfg.Capacity),
	}
}

func (w *Window) index(s uint32) uint32 { return s % w.cfg.Capacity }

// Trail and Lead expose the window's two cursors: trail is the oldest
// sqn still retained, lead is the most recently pushed sqn.
func (w *Window) Trail() uint32 { return w.trail }
func (w *Window) Lead() uint32  { return w.lead }

// NextSqn reports the sqn the next Push call will assign, without
// assigning it -- the caller needs this to stamp OPT_FRAGMENT's
// APDU-first-sqn into a packet before that packet's own Push call.
func (w *Window) NextSqn() uint32 {
	if !w.bootstrapped {
		return 0
	}
	return w.lead + 1
}

// Push appends buf at the next sqn (trail if the window was empty,
// otherwise lead+1), retaining it for later repair, and returns the
// sqn assigned. Pushing past capacity evicts and releases the oldest
// retained packet, advancing trail.
func (w *Window) Push(buf *skb.Buffer) uint32 {
	var s uint32
	if !w.bootstrapped {
		w.bootstrapped = true
		s = 0
		w.trail, w.lead = s, s
	} else {
		s = w.lead + 1
		w.lead = s
	}

	// Evict stale entries before writing the new one: with a ring of
	// size Capacity, the slot about to be written is exactly the one
	// that held sqn s-Capacity, so enforceCapacity must free it first
	// rather than have the write silently clobber a still-tracked
	// reference.
	w.enforceCapacity()
	w.slots[w.index(s)] = buf.Retain()
	return s
}

func (w *Window) enforceCapacity() {
	for uint64(w.lead-w.trail)+1 > uint64(w.cfg.Capacity) {
		w.evict(w.trail)
		w.trail++
	}
}

func (w *Window) evict(s uint32) {
	idx := w.index(s)
	if w.slots[idx] != nil {
		w.slots[idx].Release()
		w.slots[idx] = nil
	}
}

// Retrieve returns the retained packet for sqn s, for building an
// RDATA reply to a NAK. Returns pgmerr.ErrWindowUnderflow if s has
// already aged out of the window (the repair history no longer covers
// it) and pgmerr.ErrWindowOverflow if s has not been sent yet.
func (w *Window) Retrieve(s uint32) (*skb.Buffer, error) {
	if !w.bootstrapped || sqn.Before(s, w.trail) {
		return nil, pgmerr.ErrWindowUnderflow
	}
	if sqn.After(s, w.lead) {
		return nil, pgmerr.ErrWindowOverflow
	}
	buf := w.slots[w.index(s)]
	if buf == nil {
		return nil, pgmerr.ErrWindowUnderflow
	}
	return buf, nil
}

// AdvanceTrail moves trail forward to newTrail, but no further than
// lead+1, releasing every packet it passes over. A newTrail that does
// not advance the window is a no-op. Package transport does not call
// it; there the trail moves only when Push evicts past capacity.
func (w *Window) AdvanceTrail(newTrail uint32) {
	if !w.bootstrapped || !sqn.After(newTrail, w.trail) {
		return
	}
	end := newTrail
	if sqn.After(end, w.lead+1) {
		end = w.lead + 1
	}
	for s := w.trail; s != end; s++ {
		w.evict(s)
	}
	w.trail = end
	if sqn.After(w.trail, w.lead) {
		w.lead = w.trail - 1
	}
}

// Close releases every retained packet. The window must not be used
// afterwards.
func (w *Window) Close() {
	for i := range w.slots {
		if w.slots[i] != nil {
			w.slots[i].Release()
			w.slots[i] = nil
		}
	}
}
