// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package peer implements the TSI-keyed peer table: the
// per-source state a receiver accumulates for every distinct PGM
// source it has heard from, keyed by Transport Session Identifier.
package peer

import (
	"time"

	"github.com/pgmcore/go-pgm/rxwin"
	"github.com/pgmcore/go-pgm/skb"
	"github.com/pgmcore/go-pgm/wire"
)

// Entry is the per-source state held for one TSI: its receive window,
// last-heard timestamp, pending-SPMR-reply flag, negotiated NLA and a
// reusable scratch buffer for coalescing NAK lists before they go on
// the wire.
type Entry struct {
	TSI skb.TSI

	Rxw *rxwin.Window

	LastHeard time.Time
	WantSPMR  bool
	NLA       wire.NLA

	nakScratch []uint32
}

// NakScratch returns the peer's reusable NAK-coalescing buffer, reset
// to length zero, so callers can append sqns into it without
// allocating on every control-plane tick.
func (e *Entry) NakScratch() []uint32 {
	e.nakScratch = e.nakScratch[:0]
	return e.nakScratch
}

// SetNakScratch stores back a (possibly grown) scratch slice, so the
// capacity built up by repeated appends is kept across calls.
func (e *Entry) SetNakScratch(s []uint32) { e.nakScratch = s }

// Table is the TSI-keyed peer map. Not safe for concurrent use; the
// owning transport serialises access to it like everything else in
// the single-threaded cooperative model.
type Table struct {
	rxwCfg  rxwin.Config
	entries map[skb.TSI]*Entry
}

// New creates an empty peer table. rxwCfg is the receive-window
// configuration every newly created peer entry is given.
func New(rxwCfg rxwin.Config) *Table {
	return &Table{
		rxwCfg:  rxwCfg,
		entries: make(map[skb.TSI]*Entry),
	}
}

// LookupOrCreate returns the existing entry for tsi, or creates one
// (with a fresh, empty receive window) if this is the first packet
// seen from it. now is recorded as the initial LastHeard timestamp.
func (t *Table) LookupOrCreate(tsi skb.TSI, nla wire.NLA, now time.Time) (entry *Entry, created bool) {
	if e, ok := t.entries[tsi]; ok {
		return e, false
	}
	e := &Entry{
		TSI:       tsi,
		Rxw:       rxwin.New(t.rxwCfg),
		LastHeard: now,
		NLA:       nla,
	}
	t.entries[tsi] = e
	return e, true
}

// Lookup returns the entry for tsi without creating one.
func (t *Table) Lookup(tsi skb.TSI) (*Entry, bool) {
	e, ok := t.entries[tsi]
	return e, ok
}

// Touch refreshes the last-heard timestamp for tsi, if present.
func (t *Table) Touch(tsi skb.TSI, now time.Time) {
	if e, ok := t.entries[tsi]; ok {
		e.LastHeard = now
	}
}

// Remove deletes tsi's entry outright (used by destroy/reset paths
// where no expiry bookkeeping is wanted).
func (t *Table) Remove(tsi skb.TSI) {
	delete(t.entries, tsi)
}

// Expire removes every peer whose LastHeard is older than
// now.Add(-peerExpiry), returning the TSIs removed. Removal carries no
// loss history forward: a later packet from the same TSI creates an
// entirely fresh entry via LookupOrCreate.
func (t *Table) Expire(now time.Time, peerExpiry time.Duration) []skb.TSI {
	var expired []skb.TSI
	deadline := now.Add(-peerExpiry)
	for tsi, e := range t.entries {
		if e.LastHeard.Before(deadline) {
			expired = append(expired, tsi)
			delete(t.entries, tsi)
		}
	}
	return expired
}

// Len reports the number of tracked peers.
func (t *Table) Len() int { return len(t.entries) }

// Range calls fn for every tracked peer. fn must not mutate the table.
func (t *Table) Range(fn func(tsi skb.TSI, e *Entry)) {
	for tsi, e := range t.entries {
		fn(tsi, e)
	}
}
