// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package rxwin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testCfg(capacity uint32) Config {
	return Config{
		Capacity:       capacity,
		TPDUPayload:    1024,
		NakBackoff:     50 * time.Millisecond,
		NakRepeat:      2 * time.Second,
		NakRDataIvl:    2 * time.Second,
		NakDataRetries: 2,
		NakNCFRetries:  2,
	}
}

func payloadFor(n uint32) []byte { return []byte{byte(n), byte(n >> 8)} }

func TestS3InOrderDelivery(t *testing.T) {
	w := New(testCfg(32))
	now := time.Unix(0, 0)
	for i := uint32(0); i < 10; i++ {
		sig := w.Add(now, i, 0, payloadFor(i), nil)
		if i == 0 {
			require.Equal(t, SigAppended, sig)
		} else {
			require.Equal(t, SigAppended, sig)
		}
	}
	delivered, lost := w.Read()
	require.Equal(t, 0, lost)
	require.Len(t, delivered, 10)
	for i, p := range delivered {
		require.Equal(t, payloadFor(uint32(i)), p)
	}
	require.EqualValues(t, 10, w.CommitLead())
	require.NoError(t, w.CheckInvariants())
}

func TestS4NAKRecovery(t *testing.T) {
	w := New(testCfg(32))
	now := time.Unix(0, 0)

	for _, s := range []uint32{0, 1, 2, 5, 6} {
		w.Add(now, s, 0, payloadFor(s), nil)
	}
	delivered, lost := w.Read()
	require.Equal(t, 0, lost)
	require.Len(t, delivered, 3)
	require.EqualValues(t, 3, w.CommitLead())

	// Before back-off elapses, nothing is due.
	require.Empty(t, w.DueBackoffs(now))

	later := now.Add(100 * time.Millisecond) // past the jittered back-off window ([25ms,75ms] for a 50ms base)
	due := w.DueBackoffs(later)
	require.ElementsMatch(t, []uint32{3, 4}, due)

	// NCF arrives for both.
	w.OnNCF(later, 3)
	w.OnNCF(later, 4)

	// RDATA repairs both.
	w.Add(later, 3, 0, payloadFor(3), nil)
	w.Add(later, 4, 0, payloadFor(4), nil)

	delivered, lost = w.Read()
	require.Equal(t, 0, lost)
	require.Len(t, delivered, 4) // sqns 3,4,5,6
	require.EqualValues(t, 7, w.CommitLead())
	require.NoError(t, w.CheckInvariants())
}

func TestS5PermanentLoss(t *testing.T) {
	cfg := testCfg(32)
	cfg.NakDataRetries = 0
	cfg.NakNCFRetries = 0
	w := New(cfg)
	now := time.Unix(0, 0)

	for _, s := range []uint32{0, 1, 2, 5, 6} {
		w.Add(now, s, 0, payloadFor(s), nil)
	}
	w.Read()

	later := now.Add(100 * time.Millisecond) // past the jittered back-off window ([25ms,75ms] for a 50ms base)
	due := w.DueBackoffs(later)
	require.ElementsMatch(t, []uint32{3, 4}, due)

	// No NCF, no RDATA: the WAIT_NCF deadline expires with zero
	// retries allowed, so both slots go straight to LOST.
	expireAt := later.Add(3 * time.Second)
	resend := w.ExpireRetries(expireAt)
	require.Empty(t, resend)

	delivered, lostAPDUs := w.Read()
	require.Equal(t, 2, lostAPDUs) // sqns 3 and 4 each lost as their own single-packet APDU
	require.Len(t, delivered, 2)   // sqns 5 and 6 delivered as separate APDUs
	require.EqualValues(t, 7, w.CommitLead())
	require.EqualValues(t, 2, w.LostCount())
	require.NoError(t, w.CheckInvariants())
}

func TestS6ModularWrap(t *testing.T) {
	w := New(testCfg(64))
	now := time.Unix(0, 0)

	seq := []uint32{0xFFFFFFFE, 0xFFFFFFFF, 0x00000000, 0x00000001}
	for _, s := range seq {
		sig := w.Add(now, s, 0xFFFFFFFE, payloadFor(s), nil)
		require.NotEqual(t, SigDuplicate, sig)
	}
	delivered, lost := w.Read()
	require.Equal(t, 0, lost)
	require.Len(t, delivered, 4)
	for i, s := range seq {
		require.Equal(t, payloadFor(s), delivered[i])
	}
	require.NoError(t, w.CheckInvariants())
}

func TestDuplicateBelowCommitLeadIsDiscarded(t *testing.T) {
	w := New(testCfg(32))
	now := time.Unix(0, 0)
	w.Add(now, 0, 0, payloadFor(0), nil)
	w.Read()
	sig := w.Add(now, 0, 0, payloadFor(0), nil)
	require.Equal(t, SigDuplicate, sig)
}

func TestDuplicateRetransmissionOfHaveData(t *testing.T) {
	w := New(testCfg(32))
	now := time.Unix(0, 0)
	w.Add(now, 5, 0, payloadFor(5), nil)
	sig := w.Add(now, 5, 0, payloadFor(5), nil)
	require.Equal(t, SigDuplicate, sig)
}

func TestFragmentReassemblyWaitsForAllPieces(t *testing.T) {
	w := New(testCfg(32))
	now := time.Unix(0, 0)
	frag := &Fragment{FirstSqn: 0, Length: 2048, Offset: 0} // spans ceil(2048/1024)=2 tpdus

	w.Add(now, 0, 0, []byte("first-half-"), frag)
	delivered, lost := w.Read()
	require.Equal(t, 0, lost)
	require.Empty(t, delivered) // still waiting on sqn 1

	w.Add(now, 1, 0, []byte("second-half"), frag)
	delivered, lost = w.Read()
	require.Equal(t, 0, lost)
	require.Len(t, delivered, 1)
	require.Equal(t, "first-half-second-half", string(delivered[0]))
}

func TestCapacityOverflowAdvancesTrailAndReportsLost(t *testing.T) {
	w := New(testCfg(4))
	now := time.Unix(0, 0)
	w.Add(now, 0, 0, payloadFor(0), nil)
	// sqn 10 forces lead-trail >= 4, evicting 0..6 (sqn 0 was HaveData,
	// 1..6 were never even reached by a NAK and sit at their zero value)
	// until the span fits.
	w.Add(now, 10, 0, payloadFor(10), nil)
	require.NoError(t, w.CheckInvariants())
	require.Greater(t, w.LostCount(), uint64(0))
}

func TestObserveTrailAdvancesWithoutPayload(t *testing.T) {
	w := New(testCfg(32))
	now := time.Unix(0, 0)

	// Before any data has ever been seen, an SPM's trail must not
	// bootstrap the window on its own.
	w.ObserveTrail(5)
	require.NoError(t, w.CheckInvariants())
	require.EqualValues(t, 0, w.Trail())

	for _, s := range []uint32{0, 1, 2, 5, 6} {
		w.Add(now, s, 0, payloadFor(s), nil)
	}
	require.EqualValues(t, 0, w.Trail())

	// An SPM advertising txw_trail=5 should push trail forward and
	// count the still-missing sqns 3 and 4 as lost, the same rule Add
	// applies reactively from ODATA/RDATA.
	before := w.LostCount()
	w.ObserveTrail(5)
	require.EqualValues(t, 5, w.Trail())
	require.Greater(t, w.LostCount(), before)
	require.NoError(t, w.CheckInvariants())

	// A trail that doesn't advance is a no-op.
	w.ObserveTrail(1)
	require.EqualValues(t, 5, w.Trail())
}
