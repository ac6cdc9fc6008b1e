// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pgmcore/go-pgm/clog"
	"github.com/pgmcore/go-pgm/pgmerr"
	"github.com/pgmcore/go-pgm/wire"
)

// fakeBus is the in-memory medium joining one sender and one receiver
// transport under test: frames the sender emits land in toReceiver,
// frames the receiver emits (NAKs) land in toSender.
type fakeBus struct {
	toReceiver [][]byte
	toSender   [][]byte
}

// fakeDatagram implements Datagram over a fakeBus. dropNext lets a
// test simulate the first N sends from this endpoint vanishing on the
// wire, without the sender ever learning they were lost.
type fakeDatagram struct {
	bus        *fakeBus
	fromSender bool
	dropNext   int
}

func (d *fakeDatagram) Send(frame []byte) error {
	if d.dropNext > 0 {
		d.dropNext--
		return nil
	}
	cp := append([]byte(nil), frame...)
	if d.fromSender {
		d.bus.toReceiver = append(d.bus.toReceiver, cp)
	} else {
		d.bus.toSender = append(d.bus.toSender, cp)
	}
	return nil
}

func (d *fakeDatagram) Recv() ([]byte, error) {
	q := &d.bus.toSender
	if d.fromSender {
		q = &d.bus.toReceiver
	}
	if len(*q) == 0 {
		return nil, pgmerr.ErrIOAgain
	}
	frame := (*q)[0]
	*q = (*q)[1:]
	return frame, nil
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time         { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func udpEncapConfig() Config {
	cfg := DefaultConfig()
	cfg.UDPEncapUcastPort = 7500
	cfg.UDPEncapMcastPort = 7501
	cfg.NakBoIvl = 10 * time.Millisecond
	cfg.NakRptIvl = 10 * time.Millisecond
	cfg.NakRDataIvl = 10 * time.Millisecond
	return cfg
}

func mustBind(t *testing.T, tr *Transport, own, group net.IP) {
	t.Helper()
	err := tr.Bind(
		wire.NLA{AFI: wire.AFIIPv4, Addr: own},
		wire.NLA{AFI: wire.AFIIPv4, Addr: group},
		7500, 7501,
	)
	require.NoError(t, err)
}

func TestS3InOrderDeliveryEndToEnd(t *testing.T) {
	bus := &fakeBus{}
	clock := &testClock{now: time.Unix(0, 0)}
	cfg := udpEncapConfig()

	sender, err := Create(cfg, &fakeDatagram{bus: bus, fromSender: true}, clog.NewLogger("s "), WithClock(clock))
	require.NoError(t, err)
	mustBind(t, sender, net.ParseIP("10.0.0.1"), net.ParseIP("239.192.0.1"))

	rcvCfg := cfg
	rcvCfg.RecvOnly = true
	receiver, err := Create(rcvCfg, &fakeDatagram{bus: bus, fromSender: false}, clog.NewLogger("r "), WithClock(clock))
	require.NoError(t, err)
	mustBind(t, receiver, net.ParseIP("10.0.0.2"), net.ParseIP("239.192.0.1"))

	require.NoError(t, sender.Send([]byte("hello")))
	require.NoError(t, sender.Send([]byte("world")))

	delivered, err := receiver.RecvVector(16)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("hello"), []byte("world")}, delivered)
}

func TestFragmentationAndReassemblyEndToEnd(t *testing.T) {
	bus := &fakeBus{}
	clock := &testClock{now: time.Unix(0, 0)}
	cfg := udpEncapConfig()
	cfg.MaxTPDU = 100 // forces fragmentChunkSize well below a 150-byte APDU

	sender, err := Create(cfg, &fakeDatagram{bus: bus, fromSender: true}, clog.NewLogger("s "), WithClock(clock))
	require.NoError(t, err)
	mustBind(t, sender, net.ParseIP("10.0.0.1"), net.ParseIP("239.192.0.1"))

	rcvCfg := cfg
	rcvCfg.RecvOnly = true
	receiver, err := Create(rcvCfg, &fakeDatagram{bus: bus, fromSender: false}, clog.NewLogger("r "), WithClock(clock))
	require.NoError(t, err)
	mustBind(t, receiver, net.ParseIP("10.0.0.2"), net.ParseIP("239.192.0.1"))

	payload := make([]byte, 150)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, sender.Send(payload))

	delivered, err := receiver.RecvVector(16)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	require.Equal(t, payload, delivered[0])
}

func TestS4NAKRepairEndToEnd(t *testing.T) {
	bus := &fakeBus{}
	clock := &testClock{now: time.Unix(0, 0)}
	cfg := udpEncapConfig()

	senderIO := &fakeDatagram{bus: bus, fromSender: true}
	sender, err := Create(cfg, senderIO, clog.NewLogger("s "), WithClock(clock))
	require.NoError(t, err)
	mustBind(t, sender, net.ParseIP("10.0.0.1"), net.ParseIP("239.192.0.1"))

	rcvCfg := cfg
	rcvCfg.RecvOnly = true
	receiver, err := Create(rcvCfg, &fakeDatagram{bus: bus, fromSender: false}, clog.NewLogger("r "), WithClock(clock))
	require.NoError(t, err)
	mustBind(t, receiver, net.ParseIP("10.0.0.2"), net.ParseIP("239.192.0.1"))

	// sqn 0 establishes the window; sqn 1 is silently dropped on the
	// wire; sqn 2 arrives, leaving a gap the receive window marks
	// MISSING (a loss of the very first packet a window ever sees
	// would instead be undetectable, since the window bootstraps at
	// whatever sqn it first observes).
	require.NoError(t, sender.Send([]byte("first")))
	senderIO.dropNext = 1
	require.NoError(t, sender.Send([]byte("lost")))
	require.NoError(t, sender.Send([]byte("third")))

	delivered, err := receiver.RecvVector(16)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("first")}, delivered)

	// Let the NAK back-off expire and have the receiver's control tick
	// sweep it into a NAK.
	clock.Advance(50 * time.Millisecond)
	require.NoError(t, receiver.Tick(clock.now))

	// The sender services the NAK inline within RecvVector: it reads
	// the NAK and answers with NCF + RDATA. Since that round produced
	// no APDU of the sender's own, RecvVector reports AGAIN.
	delivered, err = sender.RecvVector(16)
	require.ErrorIs(t, err, pgmerr.ErrIOAgain)
	require.Empty(t, delivered)

	delivered, err = receiver.RecvVector(16)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("lost"), []byte("third")}, delivered)
}

func TestRecvVectorReportsResetOnPermanentLoss(t *testing.T) {
	bus := &fakeBus{}
	clock := &testClock{now: time.Unix(0, 0)}
	cfg := udpEncapConfig()
	// Exhaust the NCF retry budget quickly, so the gap goes Lost on the
	// third sweep rather than after fifty retries.
	cfg.NakNCFRetries = 1
	cfg.NakDataRetries = 1

	senderIO := &fakeDatagram{bus: bus, fromSender: true}
	sender, err := Create(cfg, senderIO, clog.NewLogger("s "), WithClock(clock))
	require.NoError(t, err)
	mustBind(t, sender, net.ParseIP("10.0.0.1"), net.ParseIP("239.192.0.1"))

	rcvCfg := cfg
	rcvCfg.RecvOnly = true
	receiver, err := Create(rcvCfg, &fakeDatagram{bus: bus, fromSender: false}, clog.NewLogger("r "), WithClock(clock))
	require.NoError(t, err)
	mustBind(t, receiver, net.ParseIP("10.0.0.2"), net.ParseIP("239.192.0.1"))

	// sqn 1 is dropped on the wire and, because the receiver is never
	// given a chance to hand the sender's replies back (sender.RecvVector
	// is never called here), no NCF or RDATA ever arrives to fill it --
	// the gap runs out its NAK retry budget and is declared permanently
	// lost.
	require.NoError(t, sender.Send([]byte("first")))
	senderIO.dropNext = 1
	require.NoError(t, sender.Send([]byte("lost")))
	require.NoError(t, sender.Send([]byte("second")))

	delivered, err := receiver.RecvVector(16)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("first")}, delivered)

	// One sweep: MISSING -> WAIT_NCF, first NAK sent.
	clock.Advance(50 * time.Millisecond)
	require.NoError(t, receiver.Tick(clock.now))
	// A second sweep: the single NCF retry is spent, NAK resent.
	clock.Advance(15 * time.Millisecond)
	require.NoError(t, receiver.Tick(clock.now))
	// A third sweep: the retry budget is exhausted, the slot goes LOST,
	// and Tick's own end-of-sweep drain immediately pulls "second" (and
	// the resulting reset notice) out of the window -- no further
	// packet has to arrive for the loss to surface.
	clock.Advance(15 * time.Millisecond)
	require.NoError(t, receiver.Tick(clock.now))

	delivered, err = receiver.RecvVector(16)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("second")}, delivered)

	_, err = receiver.RecvVector(16)
	require.Error(t, err)
	require.True(t, errors.Is(err, pgmerr.ErrIOReset))

	var notice ResetNotice
	require.True(t, errors.As(err, &notice))
	require.Greater(t, notice.LostCount, uint64(0))
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTPDU = -1
	_, err := Create(cfg, &fakeDatagram{bus: &fakeBus{}}, clog.NewLogger("x "))
	require.ErrorIs(t, err, pgmerr.ErrConfigInvalid)
}

func TestSendBeforeBindFails(t *testing.T) {
	cfg := DefaultConfig()
	tr, err := Create(cfg, &fakeDatagram{bus: &fakeBus{}}, clog.NewLogger("x "))
	require.NoError(t, err)
	require.ErrorIs(t, tr.Send([]byte("x")), pgmerr.ErrConfigInvalid)
}

func TestDestroyThenOperationsFail(t *testing.T) {
	cfg := udpEncapConfig()
	tr, err := Create(cfg, &fakeDatagram{bus: &fakeBus{}, fromSender: true}, clog.NewLogger("x "))
	require.NoError(t, err)
	mustBind(t, tr, net.ParseIP("10.0.0.1"), net.ParseIP("239.192.0.1"))
	require.NoError(t, tr.Destroy())

	require.ErrorIs(t, tr.Send([]byte("x")), pgmerr.ErrIOClosed)
	_, err = tr.RecvVector(1)
	require.ErrorIs(t, err, pgmerr.ErrIOClosed)
	require.ErrorIs(t, tr.Tick(time.Now()), pgmerr.ErrIOClosed)
}
