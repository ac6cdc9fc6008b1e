// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Command pgmdump is a minimal wiring smoke-test: it binds a
// transport.Transport to a UDP-encapsulated multicast group and prints
// every APDU it receives. It is not a feature of the protocol core,
// only proof that the pieces fit together end to end.
package main

import (
	"errors"
	"flag"
	"log"
	"net"
	"time"

	"github.com/pgmcore/go-pgm"
	"github.com/pgmcore/go-pgm/clog"
	"github.com/pgmcore/go-pgm/pgmerr"
	"github.com/pgmcore/go-pgm/pgmlog"
	"github.com/pgmcore/go-pgm/platform"
	"github.com/pgmcore/go-pgm/transport"
	"github.com/pgmcore/go-pgm/wire"
	"github.com/sirupsen/logrus"
)

// udpDatagram adapts a *net.UDPConn to transport.Datagram for the
// UDP-encapsulation wire path.
type udpDatagram struct {
	conn *net.UDPConn
	dst  *net.UDPAddr
	buf  [65535]byte
}

func (d *udpDatagram) Send(frame []byte) error {
	_, err := d.conn.WriteToUDP(frame, d.dst)
	return err
}

func (d *udpDatagram) Recv() ([]byte, error) {
	if err := d.conn.SetReadDeadline(time.Now()); err != nil {
		return nil, err
	}
	n, _, err := d.conn.ReadFromUDP(d.buf[:])
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, pgmerr.ErrIOAgain
		}
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.buf[:n])
	return out, nil
}

func main() {
	group := flag.String("group", "239.192.0.1", "multicast group address")
	ucastPort := flag.Int("ucast-port", 7500, "UDP encapsulation unicast port")
	mcastPort := flag.Int("mcast-port", 7500, "UDP encapsulation multicast port")
	iface := flag.String("iface", "", "multicast interface name")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	groupIP := net.ParseIP(*group)
	if groupIP == nil {
		log.Fatalf("pgmdump: invalid group address %q", *group)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: *mcastPort})
	if err != nil {
		log.Fatalf("pgmdump: listen: %v", err)
	}
	defer conn.Close()

	if err := platform.JoinIPv4Multicast(conn, groupIP, *iface); err != nil {
		log.Fatalf("pgmdump: join multicast: %v", err)
	}
	if err := platform.SetHops(conn, true, 16); err != nil {
		log.Fatalf("pgmdump: set hops: %v", err)
	}

	if err := pgm.Init(); err != nil {
		log.Fatalf("pgmdump: init: %v", err)
	}
	defer pgm.Shutdown()

	logger := clog.NewLogger("pgmdump ")
	if *verbose {
		logger.SetLogProvider(pgmlog.NewLogrusProvider(logrus.StandardLogger()))
		logger.LogMode(true)
	}

	cfg := transport.DefaultConfig()
	cfg.RecvOnly = true
	cfg.UDPEncapUcastPort = uint16(*ucastPort)
	cfg.UDPEncapMcastPort = uint16(*mcastPort)

	io := &udpDatagram{conn: conn, dst: &net.UDPAddr{IP: groupIP, Port: *mcastPort}}

	t, err := transport.Create(cfg, io, logger)
	if err != nil {
		log.Fatalf("pgmdump: create: %v", err)
	}
	defer t.Destroy()

	if err := t.Bind(
		wire.NLA{AFI: wire.AFIIPv4, Addr: net.IPv4zero},
		wire.NLA{AFI: wire.AFIIPv4, Addr: groupIP},
		uint16(*ucastPort), uint16(*mcastPort),
	); err != nil {
		log.Fatalf("pgmdump: bind: %v", err)
	}

	log.Printf("pgmdump: listening on %s:%d", *group, *mcastPort)
	for {
		now := time.Now()
		if err := t.Tick(now); err != nil {
			log.Fatalf("pgmdump: tick: %v", err)
		}

		apdus, err := t.RecvVector(16)
		switch {
		case err == nil:
			for _, apdu := range apdus {
				log.Printf("pgmdump: %d bytes: %q", len(apdu), apdu)
			}
		case errors.Is(err, pgmerr.ErrIOAgain):
			if wake, ok := t.NextWakeup(); ok {
				if d := time.Until(wake); d > 0 {
					time.Sleep(minDuration(d, 100*time.Millisecond))
				}
			} else {
				time.Sleep(100 * time.Millisecond)
			}
		case errors.Is(err, pgmerr.ErrIOReset):
			var notice transport.ResetNotice
			if errors.As(err, &notice) {
				log.Printf("pgmdump: reset: peer %x lost %d sequences", notice.TSI.GSI, notice.LostCount)
			}
		default:
			log.Fatalf("pgmdump: recv: %v", err)
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
