// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package pgmerr defines the PGM core's error taxonomy as package-level
// sentinel values: callers compare with errors.Is. The parsers in
// package wire return these sentinels unwrapped.
package pgmerr

import "errors"

// Parse-level errors. The offending packet is dropped and counted in
// statistics; none of these tear down a session.
var (
	ErrPacketLength   = errors.New("pgm: packet truncated")
	ErrPacketChecksum = errors.New("pgm: checksum mismatch")
	ErrPacketVersion  = errors.New("pgm: unexpected IP version")
	ErrPacketOption   = errors.New("pgm: malformed option")
	ErrPacketType     = errors.New("pgm: unknown PGM type")
)

// ErrPacketDup is informational: the packet duplicates data already
// delivered or already held. It is never returned as a hard failure;
// package rxwin reports duplicates with its own SigDuplicate signal
// rather than with this error.
var ErrPacketDup = errors.New("pgm: duplicate packet")

// Window invariant violations. These indicate a bug in the core
// itself rather than a wire-level or peer problem, and are fatal to
// the transport: the next call surfaces ErrIOClosed.
var (
	ErrWindowOverflow  = errors.New("pgm: window overflow")
	ErrWindowUnderflow = errors.New("pgm: window underflow")
)

// Configuration and I/O errors.
var (
	ErrConfigInvalid     = errors.New("pgm: invalid configuration")
	ErrIOAgain           = errors.New("pgm: no data available")
	ErrIOReset           = errors.New("pgm: peer reported lost sequences")
	ErrIOClosed          = errors.New("pgm: transport closed")
	ErrResourceExhausted = errors.New("pgm: resource exhausted")
)
