// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package platform is a thin, swappable host-capability layer kept
// outside the protocol core: multicast group membership, TTL/hop-limit
// configuration and IP_HDRINCL on sockets the caller has already
// created. It does not create sockets. Its functions take concrete
// *net.UDPConn / *net.IPConn values; package transport does not use
// it. Targets Unix-like kernels, built on golang.org/x/sys/unix for the
// setsockopt calls and github.com/higebu/netfd to pull a raw fd out of
// a standard library net.PacketConn.
package platform

import (
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// JoinIPv4Multicast joins conn's underlying socket to group on the
// interface identified by ifaceName (empty for the default interface),
// via IP_ADD_MEMBERSHIP.
func JoinIPv4Multicast(conn *net.UDPConn, group net.IP, ifaceName string) error {
	fd := netfd.GetFdFromConn(conn)
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group.To4())
	if ifaceName != "" {
		ifi, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return err
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			return err
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok {
				if v4 := ipNet.IP.To4(); v4 != nil {
					copy(mreq.Interface[:], v4)
					break
				}
			}
		}
	}
	return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
}

// JoinIPv6Multicast joins conn's underlying socket to group on the
// interface with the given index, via IPV6_JOIN_GROUP.
func JoinIPv6Multicast(conn *net.UDPConn, group net.IP, ifaceIndex int) error {
	fd := netfd.GetFdFromConn(conn)
	mreq := &unix.IPv6Mreq{Interface: uint32(ifaceIndex)}
	copy(mreq.Multiaddr[:], group.To16())
	return unix.SetsockoptIPv6Mreq(fd, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq)
}

// SetHops sets the multicast TTL (IPv4, the configured "hops"
// parameter) or hop limit (IPv6) on conn's underlying socket.
func SetHops(conn *net.UDPConn, v4 bool, hops int) error {
	fd := netfd.GetFdFromConn(conn)
	if v4 {
		return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, hops)
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, hops)
}

// EnableHeaderInclude turns on IP_HDRINCL for a raw socket carrying
// native PGM (protocol 113): the caller is then responsible for
// building (and this package's wire-format peer is responsible for
// serialising) the IPv4 header itself.
func EnableHeaderInclude(conn *net.IPConn) error {
	fd := netfd.GetFdFromConn(conn)
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1)
}
