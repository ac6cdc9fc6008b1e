// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package rxwin implements the per-source receive window: an ordered
// ring of slots indexed by sequence number, a small NAK
// state machine per slot, and in-order delivery with fragment
// reassembly. It is a pure function of its inputs -- it owns no
// timers itself, only per-slot deadlines that the control-plane timer
// engine (package pgmtimer) reads and acts on.
package rxwin

import (
	"math/rand"
	"time"

	"github.com/pgmcore/go-pgm/pgmerr"
	"github.com/pgmcore/go-pgm/sqn"
)

// SlotState is the small state machine each ring slot moves through.
type SlotState uint8

const (
	Empty SlotState = iota
	Missing
	WaitNCF
	WaitData
	HaveData
	Lost
	Delivered
)

// Signal reports the outcome of Add; an in-order append and a forward
// jump both report SigAppended.
type Signal uint8

const (
	SigDuplicate Signal = iota
	SigFilled
	SigAppended
)

func (s Signal) String() string {
	switch s {
	case SigDuplicate:
		return "DUPLICATE"
	case SigFilled:
		return "FILLED"
	case SigAppended:
		return "APPENDED"
	default:
		return "UNKNOWN"
	}
}

// Fragment is the decoded OPT_FRAGMENT payload for one ODATA/RDATA
// packet that is part of a larger APDU.
type Fragment struct {
	FirstSqn uint32
	Length   uint32
	Offset   uint32
}

type slot struct {
	state SlotState
	frag  *Fragment
	payload []byte

	backoffDeadline time.Time
	retryDeadline   time.Time
	ncfRetries      uint16
	dataRetries     uint16
}

// Config carries the NAK timing parameters this window needs to
// schedule and retire per-slot state.
type Config struct {
	Capacity       uint32
	TPDUPayload    uint32 // max TSDU payload bytes per TPDU, for fragment range math
	NakBackoff     time.Duration
	NakRepeat      time.Duration
	NakRDataIvl    time.Duration
	NakDataRetries uint16
	NakNCFRetries  uint16
}

// Window is the per-source receive window.
type Window struct {
	cfg Config

	bootstrapped bool
	trail        uint32
	lead         uint32
	commitLead   uint32
	slots        []slot

	lostCount uint64

	rand *rand.Rand
}

// New creates an empty receive window. lead/trail/commitLead are set
// to the sqn of the first packet Add sees, the same bootstrap the
// peer table's lookup_or_create contract relies on.
func New(cfg Config) *Window {
	if cfg.Capacity == 0 {
		cfg.Capacity = 1
	}
	return &Window{
		cfg:   cfg,
		slots: make([]slot, cfg.Capacity),
		rand:  rand.New(rand.NewSource(1)),
	}
}

func (w *Window) index(s uint32) uint32 { return s % w.cfg.Capacity }

func (w *Window) slotAt(s uint32) *slot { return &w.slots[w.index(s)] }

func (w *Window) free(s uint32) {
	*w.slotAt(s) = slot{}
}

// markDelivered frees a slot's payload but leaves a Delivered tombstone
// behind, so a later capacity eviction or txw_trail advance over this
// already-handled sqn doesn't mistake it for a slot that was never
// filled and count it as newly lost.
func (w *Window) markDelivered(s uint32) {
	*w.slotAt(s) = slot{state: Delivered}
}

// Trail, Lead and CommitLead expose the window's three cursors.
func (w *Window) Trail() uint32      { return w.trail }
func (w *Window) Lead() uint32       { return w.lead }
func (w *Window) CommitLead() uint32 { return w.commitLead }
func (w *Window) LostCount() uint64  { return w.lostCount }

func (w *Window) jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	// randomised back-off: uniform in [0.5*base, 1.5*base], the NAK
	// back-off randomised-delay rule.
	half := int64(base / 2)
	return base/2 + time.Duration(w.rand.Int63n(half*2+1))
}

// Add inserts an ODATA/RDATA payload at sqn, with the source's
// advertised txw_trail, implementing one of four cases: duplicate,
// fill of an existing gap, in-order append, or forward jump.
func (w *Window) Add(now time.Time, s uint32, srcTrail uint32, payload []byte, frag *Fragment) Signal {
	if !w.bootstrapped {
		w.bootstrapped = true
		w.trail, w.lead, w.commitLead = s, s, s
		w.setHaveData(s, payload, frag)
		w.reactiveTrailAdvance(srcTrail)
		return SigAppended
	}

	switch {
	case sqn.Before(s, w.commitLead):
		return SigDuplicate
	case !sqn.After(s, w.lead):
		if w.slotAt(s).state == HaveData {
			return SigDuplicate
		}
		w.setHaveData(s, payload, frag)
		w.reactiveTrailAdvance(srcTrail)
		return SigFilled
	default:
		oldLead := w.lead
		w.lead = s
		w.enforceCapacity()
		// Only slots that survived the capacity enforcement above are
		// worth transitioning to MISSING (so their NAK back-off can
		// run); anything further back was evicted by enforceCapacity,
		// and an evicted slot left at its Empty zero value was counted
		// as lost there.
		firstSurvivor := oldLead + 1
		if uint64(s-firstSurvivor) >= uint64(w.cfg.Capacity) {
			firstSurvivor = s - w.cfg.Capacity + 1
		}
		for g := firstSurvivor; g != s; g++ {
			w.markMissing(g, now)
		}
		w.setHaveData(s, payload, frag)
		w.reactiveTrailAdvance(srcTrail)
		return SigAppended
	}
}

func (w *Window) setHaveData(s uint32, payload []byte, frag *Fragment) {
	sl := w.slotAt(s)
	sl.state = HaveData
	sl.payload = payload
	sl.frag = frag
}

func (w *Window) markMissing(s uint32, now time.Time) {
	sl := w.slotAt(s)
	sl.state = Missing
	sl.backoffDeadline = now.Add(w.jitter(w.cfg.NakBackoff))
}

// enforceCapacity advances trail (and commitLead, if it would
// otherwise fall behind trail) until lead-trail < capacity, counting
// each evicted slot that never received data (neither HaveData nor
// Delivered) as permanently lost.
func (w *Window) enforceCapacity() {
	for uint64(w.lead-w.trail)+1 > uint64(w.cfg.Capacity) {
		if sl := w.slotAt(w.trail); sl.state != HaveData && sl.state != Delivered {
			w.lostCount++
		}
		w.free(w.trail)
		w.trail++
		if sqn.Before(w.commitLead, w.trail) {
			w.commitLead = w.trail
		}
	}
}

// reactiveTrailAdvance implements the source's txw_trail pushing the
// receiver's trail forward (carried on every ODATA/RDATA/SPM).
func (w *Window) reactiveTrailAdvance(srcTrail uint32) {
	if !sqn.After(srcTrail, w.trail) {
		return
	}
	end := srcTrail
	if sqn.After(end, w.lead+1) {
		end = w.lead + 1
	}
	for g := w.trail; g != end; g++ {
		if sl := w.slotAt(g); sl.state != HaveData && sl.state != Delivered {
			w.lostCount++
		}
		w.free(g)
	}
	w.trail = srcTrail
	if sqn.After(srcTrail, w.lead) {
		// The source's own trail has pushed past everything we have
		// ever tracked: there is no gap left to repair, so lead keeps
		// pace with trail instead of falling behind it.
		w.lead = srcTrail
	}
	if sqn.Before(w.commitLead, w.trail) {
		w.commitLead = w.trail
	}
}

// ObserveTrail applies the source's advertised txw_trail carried on a
// control packet that has no payload of its own (SPM), the same
// trail-advance rule Add applies reactively from every ODATA/RDATA.
func (w *Window) ObserveTrail(srcTrail uint32) {
	if !w.bootstrapped {
		return
	}
	w.reactiveTrailAdvance(srcTrail)
}

// DueBackoffs scans [commitLead, lead] for MISSING slots whose
// back-off has expired, transitions them to WAIT_NCF, and returns
// their sqns so the caller (package pgmtimer / the transport facade)
// can coalesce contiguous ones into a single NAK.
func (w *Window) DueBackoffs(now time.Time) []uint32 {
	var due []uint32
	w.forEachTracked(func(s uint32, sl *slot) {
		if sl.state == Missing && !sl.backoffDeadline.After(now) {
			sl.state = WaitNCF
			sl.ncfRetries = 0
			sl.retryDeadline = now.Add(w.cfg.NakRepeat)
			due = append(due, s)
		}
	})
	return due
}

// OnNCF handles an NCF confirming sqn s: WAIT_NCF -> WAIT_DATA.
func (w *Window) OnNCF(now time.Time, s uint32) {
	if !sqn.InWindow(s, w.commitLead, w.lead) {
		return
	}
	sl := w.slotAt(s)
	if sl.state == WaitNCF {
		sl.state = WaitData
		sl.retryDeadline = now.Add(w.cfg.NakRDataIvl)
	}
}

// ExpireRetries walks WAIT_NCF/WAIT_DATA slots whose retry deadline
// has passed and applies the retry-or-give-up transitions of spec
// §4.4, returning the sqns that need a NAK retransmitted (WAIT_NCF
// slots retried; WAIT_DATA timeouts revert to MISSING silently and
// are picked up again by the next DueBackoffs call).
func (w *Window) ExpireRetries(now time.Time) []uint32 {
	var resend []uint32
	w.forEachTracked(func(s uint32, sl *slot) {
		switch sl.state {
		case WaitNCF:
			if sl.retryDeadline.After(now) {
				return
			}
			if sl.ncfRetries < w.cfg.NakNCFRetries {
				sl.ncfRetries++
				sl.retryDeadline = now.Add(w.cfg.NakRepeat)
				resend = append(resend, s)
			} else {
				sl.state = Lost
				w.lostCount++
			}
		case WaitData:
			if sl.retryDeadline.After(now) {
				return
			}
			if sl.dataRetries < w.cfg.NakDataRetries {
				sl.dataRetries++
				sl.state = Missing
				sl.backoffDeadline = now.Add(w.jitter(w.cfg.NakBackoff))
			} else {
				sl.state = Lost
				w.lostCount++
			}
		}
	})
	return resend
}

func (w *Window) forEachTracked(fn func(s uint32, sl *slot)) {
	if !w.bootstrapped || sqn.After(w.commitLead, w.lead) {
		return
	}
	for s := w.commitLead; ; s++ {
		fn(s, w.slotAt(s))
		if s == w.lead {
			break
		}
	}
}

// groupRange returns the inclusive [first,last] sqn range of the APDU
// starting at first, using the fragment's declared length and the
// window's configured TPDU payload size: [first, first + ceil(length /
// tpdu_payload)).
func (w *Window) groupRange(first uint32) (last uint32) {
	sl := w.slotAt(first)
	if sl.frag == nil {
		return first
	}
	tpdu := w.cfg.TPDUPayload
	if tpdu == 0 {
		tpdu = 1
	}
	count := (sl.frag.Length + tpdu - 1) / tpdu
	if count == 0 {
		count = 1
	}
	return first + count - 1
}

// Read drains contiguous, complete, loss-free APDUs starting at
// commitLead, in sqn order, stopping at the first incomplete or
// missing slot. An APDU with any LOST sqn in its range is dropped as
// a whole and commitLead skips past it, incrementing the reported
// lost-APDU count.
func (w *Window) Read() (delivered [][]byte, lostAPDUs int) {
	if !w.bootstrapped {
		return nil, 0
	}
	for !sqn.After(w.commitLead, w.lead) {
		first := w.commitLead
		last := w.groupRange(first)

		complete := true
		anyLost := false
		for g := first; !sqn.After(g, last); g++ {
			switch w.slotAt(g).state {
			case HaveData:
			case Lost:
				anyLost = true
			default:
				complete = false
			}
			if g == last {
				break
			}
		}
		if !complete && !anyLost {
			break
		}

		if anyLost {
			for g := first; ; g++ {
				w.markDelivered(g)
				if g == last {
					break
				}
			}
			w.commitLead = last + 1
			lostAPDUs++
			continue
		}

		var apdu []byte
		for g := first; ; g++ {
			apdu = append(apdu, w.slotAt(g).payload...)
			w.markDelivered(g)
			if g == last {
				break
			}
		}
		delivered = append(delivered, apdu)
		w.commitLead = last + 1
	}
	return delivered, lostAPDUs
}

// ErrWindowInvariant is returned by CheckInvariants if the window's
// internal bookkeeping has diverged from its required invariants --
// a bug in the core, fatal to the owning transport.
var ErrWindowInvariant = pgmerr.ErrWindowUnderflow

// CheckInvariants validates trail <= commitLead <= lead+1 (commitLead
// may run one past lead once every tracked slot has been delivered or
// dropped, meaning the window is fully drained) and lead-trail <
// capacity; used by tests and by the facade's internal consistency
// checks.
func (w *Window) CheckInvariants() error {
	if !w.bootstrapped {
		return nil
	}
	if sqn.After(w.trail, w.commitLead) || sqn.After(w.commitLead, w.lead+1) {
		return ErrWindowInvariant
	}
	if uint64(w.lead-w.trail) >= uint64(w.cfg.Capacity) {
		return ErrWindowInvariant
	}
	return nil
}
