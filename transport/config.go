// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transport

import (
	"time"

	"github.com/pgmcore/go-pgm/pgmerr"
)

// Defines a PGM configuration range.
const (
	MaxTPDUMin = 64
	MaxTPDUMax = 65507

	WindowSqnsMin = 8
	WindowSqnsMax = 1 << 20

	HopsMin = 1
	HopsMax = 255

	PeerExpiryMin = time.Second
	PeerExpiryMax = 24 * time.Hour

	SPMRExpiryMin = time.Millisecond
	SPMRExpiryMax = time.Minute

	NakBoIvlMin = time.Millisecond
	NakBoIvlMax = time.Minute

	NakRptIvlMin = time.Millisecond
	NakRptIvlMax = time.Hour

	NakRDataIvlMin = time.Millisecond
	NakRDataIvlMax = time.Hour

	NakRetriesMin = 1
	NakRetriesMax = 1 << 16
)

// Config defines a PGM transport configuration. The default is applied
// for each unspecified (zero-valued) field by Valid.
type Config struct {
	// MaxTPDU bounds the size of one wire packet, default 1500 bytes.
	MaxTPDU int

	// TxwSqns and RxwSqns size the transmit and receive windows in
	// sequence numbers, default 100 each.
	TxwSqns uint32
	RxwSqns uint32

	// Hops is the IPv4 TTL / IPv6 hop limit stamped on outgoing
	// packets, default 16.
	Hops int

	// PeerExpiry is how long a peer may go unheard-from before its
	// entry is removed, default 300s.
	PeerExpiry time.Duration

	// SPMRExpiry rate-limits solicited SPM replies, default 250ms.
	SPMRExpiry time.Duration

	// NakBoIvl is the randomised NAK back-off base interval, default 50ms.
	NakBoIvl time.Duration

	// NakRptIvl is the NAK repeat (WAIT_NCF retry) interval, default 2s.
	NakRptIvl time.Duration

	// NakRDataIvl is the WAIT_DATA repair-wait interval, default 2s.
	NakRDataIvl time.Duration

	// NakDataRetries bounds WAIT_DATA retries before LOST, default 50.
	NakDataRetries uint16

	// NakNCFRetries bounds WAIT_NCF retries before LOST, default 50.
	NakNCFRetries uint16

	// SPMAmbientInterval is the steady-state SPM heartbeat period,
	// default 8192ms (matching common PGM deployments' ambient rate).
	SPMAmbientInterval time.Duration

	// SPMHeartbeatInitial is the first interval of the post-startup
	// SPM burst; it doubles geometrically up to SPMAmbientInterval.
	SPMHeartbeatInitial time.Duration

	// RecvOnly, if true, creates a receive-only transport: Send and
	// SendVector always fail with pgmerr.ErrConfigInvalid.
	RecvOnly bool

	// UDPEncapUcastPort and UDPEncapMcastPort select UDP encapsulation
	// mode when both are non-zero; otherwise native IP protocol 113
	// framing is used.
	UDPEncapUcastPort uint16
	UDPEncapMcastPort uint16
}

// Valid range-checks every set field that has Min/Max bounds and fills
// in the documented default for each zero field it examines.
// SPMAmbientInterval and SPMHeartbeatInitial are defaulted but not
// range-checked; the UDP encapsulation ports are not examined.
func (c *Config) Valid() error {
	if c == nil {
		return pgmerr.ErrConfigInvalid
	}

	if c.MaxTPDU == 0 {
		c.MaxTPDU = 1500
	} else if c.MaxTPDU < MaxTPDUMin || c.MaxTPDU > MaxTPDUMax {
		return pgmerr.ErrConfigInvalid
	}

	if c.TxwSqns == 0 {
		c.TxwSqns = 100
	} else if c.TxwSqns < WindowSqnsMin || c.TxwSqns > WindowSqnsMax {
		return pgmerr.ErrConfigInvalid
	}

	if c.RxwSqns == 0 {
		c.RxwSqns = 100
	} else if c.RxwSqns < WindowSqnsMin || c.RxwSqns > WindowSqnsMax {
		return pgmerr.ErrConfigInvalid
	}

	if c.Hops == 0 {
		c.Hops = 16
	} else if c.Hops < HopsMin || c.Hops > HopsMax {
		return pgmerr.ErrConfigInvalid
	}

	if c.PeerExpiry == 0 {
		c.PeerExpiry = 300 * time.Second
	} else if c.PeerExpiry < PeerExpiryMin || c.PeerExpiry > PeerExpiryMax {
		return pgmerr.ErrConfigInvalid
	}

	if c.SPMRExpiry == 0 {
		c.SPMRExpiry = 250 * time.Millisecond
	} else if c.SPMRExpiry < SPMRExpiryMin || c.SPMRExpiry > SPMRExpiryMax {
		return pgmerr.ErrConfigInvalid
	}

	if c.NakBoIvl == 0 {
		c.NakBoIvl = 50 * time.Millisecond
	} else if c.NakBoIvl < NakBoIvlMin || c.NakBoIvl > NakBoIvlMax {
		return pgmerr.ErrConfigInvalid
	}

	if c.NakRptIvl == 0 {
		c.NakRptIvl = 2 * time.Second
	} else if c.NakRptIvl < NakRptIvlMin || c.NakRptIvl > NakRptIvlMax {
		return pgmerr.ErrConfigInvalid
	}

	if c.NakRDataIvl == 0 {
		c.NakRDataIvl = 2 * time.Second
	} else if c.NakRDataIvl < NakRDataIvlMin || c.NakRDataIvl > NakRDataIvlMax {
		return pgmerr.ErrConfigInvalid
	}

	if c.NakDataRetries == 0 {
		c.NakDataRetries = 50
	} else if c.NakDataRetries < NakRetriesMin || c.NakDataRetries > NakRetriesMax {
		return pgmerr.ErrConfigInvalid
	}

	if c.NakNCFRetries == 0 {
		c.NakNCFRetries = 50
	} else if c.NakNCFRetries < NakRetriesMin || c.NakNCFRetries > NakRetriesMax {
		return pgmerr.ErrConfigInvalid
	}

	if c.SPMAmbientInterval == 0 {
		c.SPMAmbientInterval = 8192 * time.Millisecond
	}

	if c.SPMHeartbeatInitial == 0 {
		c.SPMHeartbeatInitial = 100 * time.Millisecond
	}

	return nil
}

// DefaultConfig returns a Config with every field at its documented
// default value.
func DefaultConfig() Config {
	c := Config{}
	_ = c.Valid() // zero-valued, so Valid only ever fills in defaults
	return c
}
