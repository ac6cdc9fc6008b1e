// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transport

import (
	"time"

	"github.com/BurntSushi/toml"
)

// parseDuration treats an empty string as "unset" (zero duration, so
// Config.Valid fills in its documented default), otherwise parsing via
// the standard Go duration syntax ("50ms", "2s").
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// tomlConfig mirrors Config with human-friendly durations expressed as
// Go duration strings ("50ms", "2s"), since time.Duration has
// no native TOML representation.
type tomlConfig struct {
	MaxTPDU             int    `toml:"max_tpdu"`
	TxwSqns             uint32 `toml:"txw_sqns"`
	RxwSqns             uint32 `toml:"rxw_sqns"`
	Hops                int    `toml:"hops"`
	PeerExpiry          string `toml:"peer_expiry"`
	SPMRExpiry          string `toml:"spmr_expiry"`
	NakBoIvl            string `toml:"nak_bo_ivl"`
	NakRptIvl           string `toml:"nak_rpt_ivl"`
	NakRDataIvl         string `toml:"nak_rdata_ivl"`
	NakDataRetries      uint16 `toml:"nak_data_retries"`
	NakNCFRetries       uint16 `toml:"nak_ncf_retries"`
	SPMAmbientInterval  string `toml:"spm_ambient_interval"`
	SPMHeartbeatInitial string `toml:"spm_heartbeat_initial"`
	RecvOnly            bool   `toml:"recv_only"`
	UDPEncapUcastPort   uint16 `toml:"udp_encap_ucast_port"`
	UDPEncapMcastPort   uint16 `toml:"udp_encap_mcast_port"`
}

// LoadTOML reads a Config from a TOML file at path, so deployments can
// supply parameters from a file instead of constructing the struct in
// code, range-checking and default-filling it via Valid before
// returning.
func LoadTOML(path string) (Config, error) {
	var tc tomlConfig
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return Config{}, err
	}

	c := Config{
		MaxTPDU:           tc.MaxTPDU,
		TxwSqns:           tc.TxwSqns,
		RxwSqns:           tc.RxwSqns,
		Hops:              tc.Hops,
		NakDataRetries:    tc.NakDataRetries,
		NakNCFRetries:     tc.NakNCFRetries,
		RecvOnly:          tc.RecvOnly,
		UDPEncapUcastPort: tc.UDPEncapUcastPort,
		UDPEncapMcastPort: tc.UDPEncapMcastPort,
	}

	var err error
	if c.PeerExpiry, err = parseDuration(tc.PeerExpiry); err != nil {
		return Config{}, err
	}
	if c.SPMRExpiry, err = parseDuration(tc.SPMRExpiry); err != nil {
		return Config{}, err
	}
	if c.NakBoIvl, err = parseDuration(tc.NakBoIvl); err != nil {
		return Config{}, err
	}
	if c.NakRptIvl, err = parseDuration(tc.NakRptIvl); err != nil {
		return Config{}, err
	}
	if c.NakRDataIvl, err = parseDuration(tc.NakRDataIvl); err != nil {
		return Config{}, err
	}
	if c.SPMAmbientInterval, err = parseDuration(tc.SPMAmbientInterval); err != nil {
		return Config{}, err
	}
	if c.SPMHeartbeatInitial, err = parseDuration(tc.SPMHeartbeatInitial); err != nil {
		return Config{}, err
	}

	if err := c.Valid(); err != nil {
		return Config{}, err
	}
	return c, nil
}
