// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package transport implements the public PGM facade:
// create/bind/send/send_vector/recv_vector/tick, binding the wire
// codec, receive and transmit windows, peer table and control-plane
// timer queue into one cooperatively-scheduled object. A Transport is
// not safe for concurrent use -- the caller drives it by alternating
// RecvVector with Tick on a single goroutine.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/xid"

	"github.com/pgmcore/go-pgm/clog"
	"github.com/pgmcore/go-pgm/peer"
	"github.com/pgmcore/go-pgm/pgmerr"
	"github.com/pgmcore/go-pgm/pgmmetrics"
	"github.com/pgmcore/go-pgm/pgmtimer"
	"github.com/pgmcore/go-pgm/rxwin"
	"github.com/pgmcore/go-pgm/skb"
	"github.com/pgmcore/go-pgm/sqn"
	"github.com/pgmcore/go-pgm/txwin"
	"github.com/pgmcore/go-pgm/wire"
)

// fragmentOptionOverhead is the wire size of the OPT_LENGTH + OPT_FRAGMENT
// chain: 5 bytes (3-byte option header + 2-byte length payload) plus
// 15 bytes (3-byte option header + 12-byte fragment payload).
const fragmentOptionOverhead = 20

// Datagram is the ambient I/O port the host platform provides:
// something that sends and receives whole wire frames without ever
// blocking. Recv must return pgmerr.ErrIOAgain, never block, when
// nothing is queued.
type Datagram interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
}

// Clock is the ambient monotonic clock source the transport reads.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ResetNotice is the IO_RESET sentinel: RecvVector returns one of
// these, wrapping pgmerr.ErrIOReset, instead
// of data when a peer's receive window has just dropped an APDU as
// permanently lost.
type ResetNotice struct {
	TSI       skb.TSI
	LostCount uint64
}

func (n ResetNotice) Error() string {
	return fmt.Sprintf("pgm: peer %x:%d reported %d lost sequences", n.TSI.GSI, n.TSI.SourcePort, n.LostCount)
}

// Unwrap lets callers test for this condition with errors.Is(err, pgmerr.ErrIOReset).
func (n ResetNotice) Unwrap() error { return pgmerr.ErrIOReset }

// Option configures optional Transport collaborators at Create time.
type Option func(*Transport)

// WithClock overrides the default wall-clock Clock, for tests.
func WithClock(c Clock) Option { return func(t *Transport) { t.clock = c } }

// WithMetrics attaches a Prometheus collector that per-peer counters
// are reported through.
func WithMetrics(m *pgmmetrics.Collector) Option { return func(t *Transport) { t.metrics = m } }

// Transport is the public PGM facade.
type Transport struct {
	cfg   Config
	io    Datagram
	clock Clock
	log   clog.Clog

	metrics *pgmmetrics.Collector

	bound    bool
	closed   bool
	udpEncap bool

	tsi      skb.TSI
	srcNLA   wire.NLA
	destNLA  wire.NLA
	srcPort  uint16
	destPort uint16

	peers  *peer.Table
	txw    *txwin.Window
	timers *pgmtimer.Queue

	spmSchedule *pgmtimer.SPMSchedule
	lastSPMR    time.Time

	pendingResets    []ResetNotice
	pendingDelivered [][]byte
}

// Create validates cfg and returns an unbound Transport. Bind must be
// called before Send/SendVector/RecvVector will do anything useful.
func Create(cfg Config, io Datagram, log clog.Clog, opts ...Option) (*Transport, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}
	t := &Transport{
		cfg:    cfg,
		io:     io,
		clock:  realClock{},
		log:    log,
		timers: pgmtimer.NewQueue(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// newGSI derives a 48-bit Global Source Identifier from xid.New()'s
// machine-id + pid + counter identity -- derived from host identity --
// rather than a bare random number.
func newGSI() [6]byte {
	id := xid.New()
	var gsi [6]byte
	copy(gsi[0:3], id.Machine())
	binary.BigEndian.PutUint16(gsi[3:5], id.Pid())
	gsi[5] = byte(id.Counter())
	return gsi
}

// Bind assigns this transport's TSI, records its own and its peer's
// network-layer addresses and ports, and schedules the initial
// control-plane timers (SPM heartbeat burst, NAK sweep, peer expiry).
// UDP encapsulation mode is selected automatically when both
// Config.UDPEncapUcastPort and UDPEncapMcastPort are non-zero.
func (t *Transport) Bind(srcNLA, destNLA wire.NLA, srcPort, destPort uint16) error {
	if t.closed {
		return pgmerr.ErrIOClosed
	}
	if t.bound {
		return pgmerr.ErrConfigInvalid
	}

	t.tsi = skb.TSI{GSI: newGSI(), SourcePort: srcPort}
	t.srcNLA = srcNLA
	t.destNLA = destNLA
	t.srcPort = srcPort
	t.destPort = destPort
	t.udpEncap = t.cfg.UDPEncapUcastPort != 0 && t.cfg.UDPEncapMcastPort != 0

	rxwCfg := rxwin.Config{
		Capacity:       t.cfg.RxwSqns,
		TPDUPayload:    uint32(t.fragmentChunkSize()),
		NakBackoff:     t.cfg.NakBoIvl,
		NakRepeat:      t.cfg.NakRptIvl,
		NakRDataIvl:    t.cfg.NakRDataIvl,
		NakDataRetries: t.cfg.NakDataRetries,
		NakNCFRetries:  t.cfg.NakNCFRetries,
	}
	t.peers = peer.New(rxwCfg)

	if !t.cfg.RecvOnly {
		t.txw = txwin.New(txwin.Config{Capacity: t.cfg.TxwSqns})
		t.spmSchedule = pgmtimer.NewSPMSchedule(t.cfg.SPMHeartbeatInitial, t.cfg.SPMAmbientInterval)
		now := t.clock.Now()
		t.timers.Schedule(now.Add(t.spmSchedule.NextInterval()), pgmtimer.KindSPMHeartbeat, skb.TSI{})
	}

	now := t.clock.Now()
	t.timers.Schedule(now.Add(t.cfg.NakBoIvl), pgmtimer.KindNakBackoff, skb.TSI{})
	t.timers.Schedule(now.Add(t.cfg.PeerExpiry), pgmtimer.KindPeerExpiry, skb.TSI{})

	t.bound = true
	return nil
}

// TSI returns this transport's own Transport Session Identifier,
// valid once Bind has returned successfully.
func (t *Transport) TSI() skb.TSI { return t.tsi }

func (t *Transport) maxSinglePayload() int {
	overhead := wire.CommonHeaderLen + 8 // sqn(4) + trail(4)
	if !t.udpEncap {
		overhead += wire.IPv4HeaderLen
	}
	return t.cfg.MaxTPDU - overhead
}

func (t *Transport) fragmentChunkSize() int {
	return t.maxSinglePayload() - fragmentOptionOverhead
}

// Send frames payload into one or more ODATA packets, fragmenting
// with OPT_FRAGMENT when it exceeds one TPDU's capacity, registers
// each in the transmit window, and transmits. Success means local
// enqueue succeeded; reliability is handled by the receive/transmit
// windows and the control-plane timers.
func (t *Transport) Send(payload []byte) error {
	return t.SendVector([][]byte{payload})
}

// SendVector sends each payload in order, stopping at the first error.
func (t *Transport) SendVector(payloads [][]byte) error {
	if t.closed {
		return pgmerr.ErrIOClosed
	}
	if !t.bound || t.cfg.RecvOnly || t.txw == nil {
		return pgmerr.ErrConfigInvalid
	}
	for _, payload := range payloads {
		if err := t.sendOne(payload); err != nil {
			return err
		}
	}
	t.checkInvariants()
	return nil
}

func (t *Transport) sendOne(payload []byte) error {
	maxPayload := t.maxSinglePayload()
	if maxPayload <= 0 {
		return pgmerr.ErrConfigInvalid
	}
	if len(payload) <= maxPayload {
		_, err := t.transmitFragment(payload, nil)
		return err
	}

	chunkSize := t.fragmentChunkSize()
	if chunkSize <= 0 {
		return pgmerr.ErrConfigInvalid
	}
	total := uint32(len(payload))

	firstSqn, err := t.transmitFragment(payload[:minInt(chunkSize, len(payload))], &wire.FragmentInfo{APDULength: total})
	if err != nil {
		return err
	}
	for offset := chunkSize; offset < len(payload); offset += chunkSize {
		end := offset + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		frag := &wire.FragmentInfo{APDUFirstSqn: firstSqn, APDULength: total, FragOffset: uint32(offset)}
		if _, err := t.transmitFragment(payload[offset:end], frag); err != nil {
			return err
		}
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// transmitFragment builds, stores (for repair) and transmits one
// ODATA packet, returning the sqn it was assigned.
func (t *Transport) transmitFragment(chunk []byte, frag *wire.FragmentInfo) (uint32, error) {
	s := t.txw.NextSqn()
	if frag != nil && frag.FragOffset == 0 {
		frag.APDUFirstSqn = s
	}

	pkt := wire.Packet{
		Header: wire.CommonHeader{
			SourcePort: t.srcPort,
			DestPort:   t.destPort,
			Type:       wire.TypeODATA,
			GSI:        t.tsi.GSI,
		},
		Data: wire.Data{Sqn: s, Trail: t.txw.Trail(), Payload: chunk},
	}
	if frag != nil {
		pkt.Header.Options = wire.OptionsPresent
		pkt.Options = []wire.Option{wire.NewOptionLength(), wire.NewFragmentOption(*frag)}
	}

	body, err := wire.Serialize(pkt)
	if err != nil {
		return 0, err
	}

	buf := skb.Allocate(len(body))
	dst, err := buf.Put(len(body))
	if err != nil {
		return 0, err
	}
	copy(dst, body)
	buf.Sqn = s

	assigned := t.txw.Push(buf)
	buf.Release() // the window keeps its own reference via Retain
	if assigned != s {
		return 0, pgmerr.ErrWindowOverflow
	}

	frame, err := t.buildFrame(body)
	if err != nil {
		return 0, err
	}
	if err := t.io.Send(frame); err != nil {
		return 0, err
	}
	t.log.Debug("pgm: ODATA sqn=%d bytes=%s", s, humanize.Bytes(uint64(len(chunk))))
	return s, nil
}

// RecvVector first drains anything Tick already pulled out of a
// window on the caller's behalf, then drains up to maxIOV queued
// frames, parsing and feeding each into the right peer's receive
// window, and returns whatever complete payloads that produced. It
// maps to one of: a non-empty slice (success), pgmerr.ErrIOAgain
// (nothing queued), a ResetNotice wrapping pgmerr.ErrIOReset (a peer
// just lost data, whether discovered here or by an earlier Tick), or
// pgmerr.ErrIOClosed (transport torn down, including a window
// invariant violation caught by checkInvariants).
func (t *Transport) RecvVector(maxIOV int) ([][]byte, error) {
	if t.closed {
		return nil, pgmerr.ErrIOClosed
	}
	if !t.bound {
		return nil, pgmerr.ErrConfigInvalid
	}

	var delivered [][]byte
	if len(t.pendingDelivered) > 0 {
		n := minInt(maxIOV, len(t.pendingDelivered))
		delivered = append(delivered, t.pendingDelivered[:n]...)
		t.pendingDelivered = t.pendingDelivered[n:]
	}

	for len(delivered) < maxIOV {
		raw, err := t.io.Recv()
		if errors.Is(err, pgmerr.ErrIOAgain) {
			break
		}
		if err != nil {
			return delivered, err
		}

		now := t.clock.Now()
		pkt, perr := t.parseFrame(raw)
		if perr != nil {
			t.log.Warn("pgm: dropping malformed packet: %v", perr)
			if t.metrics != nil {
				t.metrics.IncPacketsDropped(tsiLabel(t.tsi))
			}
			continue
		}

		payloads, notice := t.handlePacket(now, pkt)
		delivered = append(delivered, payloads...)
		if notice != nil {
			t.pendingResets = append(t.pendingResets, *notice)
		}
	}

	t.checkInvariants()

	if len(delivered) > 0 {
		return delivered, nil
	}
	if notice, ok := t.popReset(); ok {
		return nil, notice
	}
	return nil, pgmerr.ErrIOAgain
}

func (t *Transport) popReset() (ResetNotice, bool) {
	if len(t.pendingResets) == 0 {
		return ResetNotice{}, false
	}
	n := t.pendingResets[0]
	t.pendingResets = t.pendingResets[1:]
	return n, true
}

func (t *Transport) handlePacket(now time.Time, pkt wire.Packet) ([][]byte, *ResetNotice) {
	tsi := pkt.Header.TSI()

	if tsi == t.tsi {
		// A control packet addressed to us as source (or our own
		// transmission looped back by the multicast fabric).
		switch pkt.Header.Type {
		case wire.TypeNAK, wire.TypeNNAK:
			t.serviceNak(pkt)
		case wire.TypeSPMR:
			t.replyToSPMR(now)
		}
		return nil, nil
	}

	switch pkt.Header.Type {
	case wire.TypeODATA, wire.TypeRDATA:
		return t.handleData(now, tsi, pkt)
	case wire.TypeSPM:
		t.handleSPM(now, tsi, pkt)
	case wire.TypeNCF:
		t.handleNCF(now, tsi, pkt)
	}
	return nil, nil
}

func fragmentFromOption(pkt wire.Packet) *rxwin.Fragment {
	for _, o := range pkt.Options {
		if o.Type == wire.OptFragment {
			info, err := wire.ParseFragmentOption(o)
			if err != nil {
				return nil
			}
			return &rxwin.Fragment{FirstSqn: info.APDUFirstSqn, Length: info.APDULength, Offset: info.FragOffset}
		}
	}
	return nil
}

func (t *Transport) handleData(now time.Time, tsi skb.TSI, pkt wire.Packet) ([][]byte, *ResetNotice) {
	entry, _ := t.peers.LookupOrCreate(tsi, wire.NLA{}, now)
	t.peers.Touch(tsi, now)

	entry.Rxw.Add(now, pkt.Data.Sqn, pkt.Data.Trail, pkt.Data.Payload, fragmentFromOption(pkt))
	return t.drainPeer(tsi, entry)
}

// drainPeer reads whatever complete APDUs entry's receive window can
// now deliver and, if draining past a permanently-lost sqn produced
// any, turns that into a ResetNotice and updates metrics. Called both
// right after a fresh packet is added (handleData) and, with no new
// packet involved, from Tick's end-of-sweep drain: a NAK retry budget
// can run out and declare a gap LOST with nothing further ever
// arriving on the wire to trigger handleData again.
func (t *Transport) drainPeer(tsi skb.TSI, entry *peer.Entry) ([][]byte, *ResetNotice) {
	delivered, lostAPDUs := entry.Rxw.Read()
	if lostAPDUs == 0 {
		return delivered, nil
	}
	if t.metrics != nil {
		t.metrics.SetLostCount(tsiLabel(tsi), entry.Rxw.LostCount())
	}
	return delivered, &ResetNotice{TSI: tsi, LostCount: entry.Rxw.LostCount()}
}

// drainPeers runs drainPeer across every tracked peer, queueing
// whatever it turns up for the next RecvVector call to return -- Tick
// never returns data or reset notices itself.
func (t *Transport) drainPeers() {
	t.peers.Range(func(tsi skb.TSI, e *peer.Entry) {
		delivered, notice := t.drainPeer(tsi, e)
		if len(delivered) > 0 {
			t.pendingDelivered = append(t.pendingDelivered, delivered...)
		}
		if notice != nil {
			t.pendingResets = append(t.pendingResets, *notice)
		}
	})
}

// checkInvariants validates every tracked peer's receive window and
// closes the transport if any has diverged from its required
// invariants: as package pgmerr documents for window invariant
// violations, that indicates a bug in the core
// rather than a wire-level condition, so the transport refuses
// anything further starting with the next call.
func (t *Transport) checkInvariants() {
	if t.closed || t.peers == nil {
		return
	}
	t.peers.Range(func(tsi skb.TSI, e *peer.Entry) {
		if t.closed {
			return
		}
		if err := e.Rxw.CheckInvariants(); err != nil {
			t.log.Error("pgm: receive window invariant violated for peer %x:%d: %v", tsi.GSI, tsi.SourcePort, err)
			t.closed = true
		}
	})
}

func (t *Transport) handleSPM(now time.Time, tsi skb.TSI, pkt wire.Packet) {
	entry, _ := t.peers.LookupOrCreate(tsi, pkt.SPM.Path, now)
	t.peers.Touch(tsi, now)
	entry.NLA = pkt.SPM.Path
	entry.Rxw.ObserveTrail(pkt.SPM.Trail)
}

func (t *Transport) handleNCF(now time.Time, tsi skb.TSI, pkt wire.Packet) {
	entry, ok := t.peers.Lookup(tsi)
	if !ok {
		return
	}
	entry.Rxw.OnNCF(now, pkt.Nak.RequestedSqn)
	for _, o := range pkt.Options {
		if o.Type != wire.OptNakList {
			continue
		}
		extra, err := wire.ParseNakListOption(o)
		if err != nil {
			continue
		}
		for _, s := range extra {
			entry.Rxw.OnNCF(now, s)
		}
	}
}

// serviceNak answers a NAK directed at our own TSI: it confirms
// repair intent with an NCF, then replies with RDATA for every sqn
// still covered by the transmit window's repair history.
func (t *Transport) serviceNak(pkt wire.Packet) {
	if t.txw == nil {
		return
	}

	sqns := []uint32{pkt.Nak.RequestedSqn}
	for _, o := range pkt.Options {
		if o.Type != wire.OptNakList {
			continue
		}
		if extra, err := wire.ParseNakListOption(o); err == nil {
			sqns = append(sqns, extra...)
		}
	}

	t.sendNCF(pkt.Nak.RequestedSqn, sqns[1:])

	for _, s := range sqns {
		buf, err := t.txw.Retrieve(s)
		if err != nil {
			// Aged out of repair history or never sent: the
			// requester's own window will eventually mark it LOST.
			continue
		}
		rbody, err := t.toRDATA(buf.Data())
		if err != nil {
			continue
		}
		frame, err := t.buildFrame(rbody)
		if err != nil {
			continue
		}
		if err := t.io.Send(frame); err != nil {
			t.log.Warn("pgm: RDATA resend failed for sqn %d: %v", s, err)
			continue
		}
		if t.metrics != nil {
			t.metrics.IncRepairsServed(tsiLabel(t.tsi))
		}
	}
}

// toRDATA reparses a stored ODATA frame and re-serialises it with the
// type byte flipped to RDATA, restamping the checksum over the
// changed header.
func (t *Transport) toRDATA(body []byte) ([]byte, error) {
	tmp := skb.Allocate(len(body))
	dst, err := tmp.Put(len(body))
	if err != nil {
		return nil, err
	}
	copy(dst, body)

	pkt, err := wire.ParseUDPEncap(tmp)
	if err != nil {
		return nil, err
	}
	pkt.Header.Type = wire.TypeRDATA
	return wire.Serialize(pkt)
}

func (t *Transport) sendNCF(requested uint32, extra []uint32) {
	pkt := wire.Packet{
		Header: wire.CommonHeader{SourcePort: t.srcPort, DestPort: t.destPort, Type: wire.TypeNCF, GSI: t.tsi.GSI},
		Nak:    wire.Nak{RequestedSqn: requested, SourceNLA: t.srcNLA, GroupNLA: t.destNLA},
	}
	if len(extra) > 0 {
		pkt.Header.Options = wire.OptionsPresent
		pkt.Options = []wire.Option{wire.NewOptionLength(), wire.NewNakListOption(extra)}
	}
	t.serializeAndSend(pkt, "NCF")
}

func (t *Transport) replyToSPMR(now time.Time) {
	if !t.lastSPMR.IsZero() && now.Sub(t.lastSPMR) < t.cfg.SPMRExpiry {
		return
	}
	t.lastSPMR = now
	t.emitSPM(now)
}

func (t *Transport) emitSPM(now time.Time) {
	if t.txw == nil {
		return
	}
	pkt := wire.Packet{
		Header: wire.CommonHeader{SourcePort: t.srcPort, DestPort: t.destPort, Type: wire.TypeSPM, GSI: t.tsi.GSI},
		SPM:    wire.SPM{Trail: t.txw.Trail(), Lead: t.txw.Lead(), Path: t.srcNLA},
	}
	t.serializeAndSend(pkt, "SPM")
}

func (t *Transport) serializeAndSend(pkt wire.Packet, what string) {
	body, err := wire.Serialize(pkt)
	if err != nil {
		t.log.Error("pgm: failed to serialise %s: %v", what, err)
		return
	}
	frame, err := t.buildFrame(body)
	if err != nil {
		t.log.Error("pgm: failed to frame %s: %v", what, err)
		return
	}
	if err := t.io.Send(frame); err != nil {
		t.log.Warn("pgm: %s send failed: %v", what, err)
	}
}

// sweepNaks walks every peer's receive window for expired back-offs
// and retries, coalescing each peer's due sqns into one NAK.
func (t *Transport) sweepNaks(now time.Time) {
	t.peers.Range(func(tsi skb.TSI, e *peer.Entry) {
		due := e.Rxw.DueBackoffs(now)
		resend := e.Rxw.ExpireRetries(now)
		sqns := append(due, resend...)
		if len(sqns) == 0 {
			return
		}
		sort.Slice(sqns, func(i, j int) bool { return sqn.Before(sqns[i], sqns[j]) })
		t.sendNak(tsi, e, sqns)
		if t.metrics != nil {
			t.metrics.IncNAKsSent(tsiLabel(tsi))
		}
	})
}

func (t *Transport) sendNak(tsi skb.TSI, e *peer.Entry, sqns []uint32) {
	pkt := wire.Packet{
		Header: wire.CommonHeader{SourcePort: tsi.SourcePort, DestPort: t.srcPort, Type: wire.TypeNAK, GSI: tsi.GSI},
		Nak:    wire.Nak{RequestedSqn: sqns[0], SourceNLA: e.NLA, GroupNLA: t.destNLA},
	}
	if len(sqns) > 1 {
		pkt.Header.Options = wire.OptionsPresent
		pkt.Options = []wire.Option{wire.NewOptionLength(), wire.NewNakListOption(sqns[1:])}
	}
	t.serializeAndSend(pkt, "NAK")
}

func (t *Transport) expirePeers(now time.Time) {
	expired := t.peers.Expire(now, t.cfg.PeerExpiry)
	for _, tsi := range expired {
		t.log.Debug("pgm: peer %x:%d expired, idle past %s", tsi.GSI, tsi.SourcePort,
			humanize.RelTime(now.Add(-t.cfg.PeerExpiry), now, "", ""))
		if t.metrics != nil {
			t.metrics.IncPeersExpired(tsiLabel(tsi))
		}
	}
}

// Tick fires every control-plane event due at or before now: SPM
// heartbeats, NAK back-off/retry sweeps, and peer expiry. It also
// drains every peer's receive window afterwards, so a NAK retry
// budget exhausted by this same sweep (no further packet needed) is
// still queued for the next RecvVector call to report.
func (t *Transport) Tick(now time.Time) error {
	if t.closed {
		return pgmerr.ErrIOClosed
	}
	if !t.bound {
		return pgmerr.ErrConfigInvalid
	}

	for _, ev := range t.timers.Tick(now) {
		switch ev.Kind {
		case pgmtimer.KindSPMHeartbeat:
			t.emitSPM(now)
			t.timers.Schedule(now.Add(t.spmSchedule.NextInterval()), pgmtimer.KindSPMHeartbeat, skb.TSI{})
		case pgmtimer.KindNakBackoff:
			t.sweepNaks(now)
			t.timers.Schedule(now.Add(t.cfg.NakBoIvl), pgmtimer.KindNakBackoff, skb.TSI{})
		case pgmtimer.KindPeerExpiry:
			t.expirePeers(now)
			t.timers.Schedule(now.Add(t.cfg.PeerExpiry), pgmtimer.KindPeerExpiry, skb.TSI{})
		}
	}

	// A NAK retry budget can be exhausted by ExpireRetries above with no
	// further packet ever arriving to trigger handleData's own drain, so
	// Tick drains every peer's window itself and queues the result.
	t.drainPeers()
	t.checkInvariants()
	return nil
}

// NextWakeup reports the deadline of the earliest pending
// control-plane event, for the host event loop to sleep until.
func (t *Transport) NextWakeup() (time.Time, bool) {
	return t.timers.NextWakeup()
}

// Destroy releases every buffer still retained by the transmit
// window and marks the transport closed; after this, Bind, Send,
// SendVector, RecvVector and Tick return pgmerr.ErrIOClosed. Safe to
// call from any state; a second Destroy returns nil.
func (t *Transport) Destroy() error {
	if t.closed {
		return nil
	}
	if t.txw != nil {
		t.txw.Close()
	}
	t.closed = true
	return nil
}

// buildFrame wraps body (the PGM common header + type-specific
// payload) in an IPv4 header for the native-IP path, or returns it
// unwrapped for UDP encapsulation, where the platform layer's socket
// already owns the IP/UDP framing.
func (t *Transport) buildFrame(body []byte) ([]byte, error) {
	if t.udpEncap {
		return body, nil
	}

	total := wire.IPv4HeaderLen + len(body)
	buf := make([]byte, total)
	hdr := wire.IPv4Header{
		TotalLen: uint16(total),
		TTL:      uint8(t.cfg.Hops),
		Protocol: wire.ProtoPGM,
	}
	copy(hdr.Src[:], t.srcNLA.Addr.To4())
	copy(hdr.Dst[:], t.destNLA.Addr.To4())
	hdr.Serialize(buf)
	copy(buf[wire.IPv4HeaderLen:], body)
	wire.StampChecksum(buf)
	return buf, nil
}

// parseFrame decodes a received wire frame via the codec path that
// matches this transport's encapsulation mode.
func (t *Transport) parseFrame(raw []byte) (wire.Packet, error) {
	b := skb.Allocate(len(raw))
	dst, err := b.Put(len(raw))
	if err != nil {
		return wire.Packet{}, err
	}
	copy(dst, raw)

	if t.udpEncap {
		return wire.ParseUDPEncap(b)
	}
	return wire.ParseRaw(b)
}

func tsiLabel(tsi skb.TSI) string {
	return fmt.Sprintf("%x:%d", tsi.GSI, tsi.SourcePort)
}
