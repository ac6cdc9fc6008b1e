// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package pgm is the process-wide lifecycle entry point: init()/
// shutdown() with reference counting, so that an application linking
// several independent transports only pays the one-time process setup
// cost (GC memory-limit tuning) once, and only tears it down once the
// last caller is done with it.
package pgm

import (
	"os"
	"sync"

	"github.com/KimMachineGun/automemlimit/memlimit"
)

var (
	mu       sync.Mutex
	refCount int
)

// Init bumps the process-wide reference count, performing one-time
// setup the first time it is called. It is safe to call from multiple
// goroutines and multiple times; each call must be balanced by a
// Shutdown call.
//
// The first Init call sets a cgroup-aware Go GC memory limit via
// automemlimit, falling back to the system memory if no cgroup limit
// is visible, unless PGM_NO_GOMEMLIMIT is set -- so a process hosting
// many PGM transports doesn't need its own boilerplate for this.
func Init() error {
	mu.Lock()
	defer mu.Unlock()

	refCount++
	if refCount > 1 {
		return nil
	}

	if _, ok := os.LookupEnv("PGM_NO_GOMEMLIMIT"); ok {
		return nil
	}
	if _, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithProvider(
			memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem),
		),
	); err != nil {
		refCount--
		return err
	}
	return nil
}

// Shutdown decrements the process-wide reference count. It is a no-op
// until the last outstanding Init call is balanced.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if refCount > 0 {
		refCount--
	}
}

// RefCount reports the current process-wide reference count, for
// tests and diagnostics only.
func RefCount() int {
	mu.Lock()
	defer mu.Unlock()
	return refCount
}
