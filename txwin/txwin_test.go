// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package txwin

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgmcore/go-pgm/pgmerr"
	"github.com/pgmcore/go-pgm/skb"
)

func pushPayload(t *testing.T, w *Window, data string) (uint32, *skb.Buffer) {
	t.Helper()
	b := skb.Allocate(len(data))
	require.NoError(t, b.Reserve(0))
	payload, err := b.Put(len(data))
	require.NoError(t, err)
	copy(payload, data)

	s := w.Push(b)
	// Push retains its own reference; the caller's handle can be
	// released once it no longer needs the buffer itself.
	b.Release()
	return s, b
}

func TestPushAssignsSequentialSqns(t *testing.T) {
	w := New(Config{Capacity: 8})
	s0, _ := pushPayload(t, w, "a")
	s1, _ := pushPayload(t, w, "b")
	s2, _ := pushPayload(t, w, "c")
	require.EqualValues(t, 0, s0)
	require.EqualValues(t, 1, s1)
	require.EqualValues(t, 2, s2)
	require.EqualValues(t, 0, w.Trail())
	require.EqualValues(t, 2, w.Lead())
}

func TestRetrieveReturnsPushedPayload(t *testing.T) {
	w := New(Config{Capacity: 8})
	pushPayload(t, w, "first")
	pushPayload(t, w, "second")

	buf, err := w.Retrieve(1)
	require.NoError(t, err)
	require.Equal(t, "second", string(buf.Data()))
}

func TestRetrieveUnsentSqnFails(t *testing.T) {
	w := New(Config{Capacity: 8})
	pushPayload(t, w, "only")

	_, err := w.Retrieve(5)
	require.ErrorIs(t, err, pgmerr.ErrWindowOverflow)
}

func TestRetrieveAgedOutSqnFails(t *testing.T) {
	w := New(Config{Capacity: 2})
	pushPayload(t, w, "a")
	pushPayload(t, w, "b")
	pushPayload(t, w, "c") // evicts sqn 0

	_, err := w.Retrieve(0)
	require.ErrorIs(t, err, pgmerr.ErrWindowUnderflow)

	buf, err := w.Retrieve(2)
	require.NoError(t, err)
	require.Equal(t, "c", string(buf.Data()))
}

func TestOverflowEvictsOldestAndReleases(t *testing.T) {
	w := New(Config{Capacity: 2})
	_, first := pushPayload(t, w, "a")
	require.EqualValues(t, 1, first.RefCount()) // released by test helper, retained by window

	pushPayload(t, w, "b")
	pushPayload(t, w, "c") // must evict sqn 0 ("a")

	require.EqualValues(t, 0, first.RefCount())
	require.EqualValues(t, 1, w.Trail())
	require.EqualValues(t, 2, w.Lead())
}

func TestAdvanceTrailReleasesAndBoundsWindow(t *testing.T) {
	w := New(Config{Capacity: 8})
	pushPayload(t, w, "a")
	pushPayload(t, w, "b")
	pushPayload(t, w, "c")

	w.AdvanceTrail(2)
	require.EqualValues(t, 2, w.Trail())

	_, err := w.Retrieve(1)
	require.ErrorIs(t, err, pgmerr.ErrWindowUnderflow)

	buf, err := w.Retrieve(2)
	require.NoError(t, err)
	require.Equal(t, "c", string(buf.Data()))
}

func TestAdvanceTrailPastLeadEmptiesWindow(t *testing.T) {
	w := New(Config{Capacity: 8})
	pushPayload(t, w, "a")
	pushPayload(t, w, "b") // sqn 1 is the current lead

	// A trail advance can never run ahead of what has actually been
	// sent: requesting sqn 10 clips to lead+1, leaving the window
	// empty but still positioned right after the last real send.
	w.AdvanceTrail(10)
	require.EqualValues(t, 2, w.Trail())
	require.EqualValues(t, 1, w.Lead())

	_, errOld := w.Retrieve(1)
	require.Error(t, errOld)

	s, _ := pushPayload(t, w, "c")
	require.EqualValues(t, 2, s)
	buf, err := w.Retrieve(2)
	require.NoError(t, err)
	require.Equal(t, "c", string(buf.Data()))
}

func TestAdvanceTrailNoopWhenNotForward(t *testing.T) {
	w := New(Config{Capacity: 8})
	pushPayload(t, w, "a")
	pushPayload(t, w, "b")
	w.AdvanceTrail(0)
	require.EqualValues(t, 0, w.Trail())
	_, err := w.Retrieve(0)
	require.NoError(t, err)
}

func TestClosedWindowReleasesAllRetained(t *testing.T) {
	w := New(Config{Capacity: 4})
	_, a := pushPayload(t, w, "a")
	_, b := pushPayload(t, w, "b")
	w.Close()
	require.EqualValues(t, 0, a.RefCount())
	require.EqualValues(t, 0, b.RefCount())
}
