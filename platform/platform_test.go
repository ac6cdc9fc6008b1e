// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package platform

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinIPv4MulticastOnLoopbackInterface(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		t.Skipf("no UDP socket available in this sandbox: %v", err)
	}
	defer conn.Close()

	err = JoinIPv4Multicast(conn, net.IPv4(239, 1, 1, 1), "")
	if err != nil {
		t.Skipf("multicast join not permitted in this sandbox: %v", err)
	}
}

func TestSetHopsIPv4(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		t.Skipf("no UDP socket available in this sandbox: %v", err)
	}
	defer conn.Close()

	require.NoError(t, SetHops(conn, true, 16))
}

func TestEnableHeaderIncludeRequiresRawSocketPrivilege(t *testing.T) {
	conn, err := net.ListenIP("ip4:113", &net.IPAddr{IP: net.IPv4zero})
	if err != nil {
		t.Skipf("raw IP socket requires elevated privilege, unavailable here: %v", err)
	}
	defer conn.Close()

	require.NoError(t, EnableHeaderInclude(conn))
}
