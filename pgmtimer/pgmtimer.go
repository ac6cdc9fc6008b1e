// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package pgmtimer implements the control-plane timer engine (spec
// §4.7): a deadline-ordered queue of SPM heartbeat, SPMR reply, NAK
// back-off/repeat and peer-expiry events, exposing next_wakeup/tick to
// the host event loop. It owns no sockets and performs no I/O itself;
// Tick only returns the events that are due, leaving the caller to act
// on them and reschedule as needed.
package pgmtimer

import (
	"container/heap"
	"time"

	"github.com/pgmcore/go-pgm/skb"
)

// Kind identifies which control-plane concern an event belongs to.
type Kind uint8

const (
	KindSPMHeartbeat Kind = iota
	KindSPMRReply
	KindNakBackoff
	KindNakRepeat
	KindPeerExpiry
)

func (k Kind) String() string {
	switch k {
	case KindSPMHeartbeat:
		return "SPM_HEARTBEAT"
	case KindSPMRReply:
		return "SPMR_REPLY"
	case KindNakBackoff:
		return "NAK_BACKOFF"
	case KindNakRepeat:
		return "NAK_REPEAT"
	case KindPeerExpiry:
		return "PEER_EXPIRY"
	default:
		return "UNKNOWN"
	}
}

// Event is one scheduled control-plane action. TSI is the zero value
// for transport-wide events (the source's own SPM heartbeat); it
// identifies the peer for receiver-side and expiry events.
type Event struct {
	ID       uint64
	Deadline time.Time
	Kind     Kind
	TSI      skb.TSI

	seq uint64 // insertion order, breaks deadline ties deterministically
}

type item struct {
	ev    Event
	index int
}

type eventHeap []*item

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if !h[i].ev.Deadline.Equal(h[j].ev.Deadline) {
		return h[i].ev.Deadline.Before(h[j].ev.Deadline)
	}
	return h[i].ev.seq < h[j].ev.seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *eventHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the deadline-ordered event priority queue.
type Queue struct {
	h       eventHeap
	nextID  uint64
	nextSeq uint64
	byID    map[uint64]*item
}

// NewQueue creates an empty timer queue.
func NewQueue() *Queue {
	return &Queue{byID: make(map[uint64]*item)}
}

// Schedule enqueues an event of the given kind and TSI to fire at
// deadline, returning an ID that can be passed to Cancel.
func (q *Queue) Schedule(deadline time.Time, kind Kind, tsi skb.TSI) uint64 {
	q.nextID++
	q.nextSeq++
	it := &item{ev: Event{
		ID:       q.nextID,
		Deadline: deadline,
		Kind:     kind,
		TSI:      tsi,
		seq:      q.nextSeq,
	}}
	heap.Push(&q.h, it)
	q.byID[it.ev.ID] = it
	return it.ev.ID
}

// Cancel removes a previously scheduled event by ID. Returns false if
// the ID is unknown (already fired or never existed).
func (q *Queue) Cancel(id uint64) bool {
	it, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.h, it.index)
	delete(q.byID, id)
	return true
}

// NextWakeup returns the deadline of the earliest pending event. ok is
// false if the queue is empty, meaning the host event loop may sleep
// indefinitely until new input arrives.
func (q *Queue) NextWakeup() (deadline time.Time, ok bool) {
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].ev.Deadline, true
}

// Tick pops and returns every event whose deadline is at or before
// now, in deadline order (ties broken by insertion order), per spec
// §5's ordering guarantee.
func (q *Queue) Tick(now time.Time) []Event {
	var due []Event
	for len(q.h) > 0 && !q.h[0].ev.Deadline.After(now) {
		it := heap.Pop(&q.h).(*item)
		delete(q.byID, it.ev.ID)
		due = append(due, it.ev)
	}
	return due
}

// Len reports the number of pending events.
func (q *Queue) Len() int { return len(q.h) }

// SPMSchedule computes the geometric back-off burst schedule for
// source-side SPM heartbeats: intervals start at the
// configured initial value and double on each emission until they
// reach the ambient steady-state interval, after which every
// subsequent interval is the ambient one.
type SPMSchedule struct {
	initial time.Duration
	ambient time.Duration
	current time.Duration
	started bool
}

// NewSPMSchedule creates a schedule that bursts from initial up to
// ambient. If initial is zero or exceeds ambient, the schedule is
// steady-state from the first call.
func NewSPMSchedule(initial, ambient time.Duration) *SPMSchedule {
	if initial <= 0 || initial > ambient {
		initial = ambient
	}
	return &SPMSchedule{initial: initial, ambient: ambient}
}

// NextInterval returns the interval to wait before the next SPM,
// advancing the internal burst state.
func (s *SPMSchedule) NextInterval() time.Duration {
	if !s.started {
		s.started = true
		s.current = s.initial
		return s.current
	}
	if s.current >= s.ambient {
		return s.ambient
	}
	s.current *= 2
	if s.current > s.ambient {
		s.current = s.ambient
	}
	return s.current
}

// Reset returns the schedule to its initial burst state, e.g. after a
// transport restart.
func (s *SPMSchedule) Reset() {
	s.started = false
	s.current = 0
}
