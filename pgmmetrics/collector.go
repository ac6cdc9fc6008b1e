// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package pgmmetrics exposes per-transport protocol counters as a
// prometheus.Collector, in the Describe/Collect shape used throughout
// the retrieval pack's own socket-statistics exporters.
package pgmmetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// stats is the mutable counter state for one transport, identified by
// its TSI's string form.
type stats struct {
	naksSent       uint64
	repairsServed  uint64
	peersExpired   uint64
	lostCount      uint64
	packetsDropped uint64
}

// Collector tracks counters for any number of concurrently registered
// transports, each keyed by a caller-supplied label (typically the
// transport's TSI rendered as a string). It is safe for concurrent use.
type Collector struct {
	mu    sync.Mutex
	byTSI map[string]*stats

	naksSentDesc       *prometheus.Desc
	repairsServedDesc  *prometheus.Desc
	peersExpiredDesc   *prometheus.Desc
	lostCountDesc      *prometheus.Desc
	packetsDroppedDesc *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector. constLabels are attached to every
// metric (e.g. {"instance": "relay-1"}), mirroring the constLabels
// parameter of the pack's TCPInfoCollector constructor.
func NewCollector(constLabels prometheus.Labels) *Collector {
	labelNames := []string{"tsi"}
	return &Collector{
		byTSI: make(map[string]*stats),
		naksSentDesc: prometheus.NewDesc(
			"pgm_naks_sent_total", "Total NAKs transmitted by this transport.", labelNames, constLabels),
		repairsServedDesc: prometheus.NewDesc(
			"pgm_repairs_served_total", "Total RDATA packets served from the transmit window.", labelNames, constLabels),
		peersExpiredDesc: prometheus.NewDesc(
			"pgm_peers_expired_total", "Total peer entries removed for inactivity.", labelNames, constLabels),
		lostCountDesc: prometheus.NewDesc(
			"pgm_lost_count", "Current cumulative permanently-lost sequence count.", labelNames, constLabels),
		packetsDroppedDesc: prometheus.NewDesc(
			"pgm_packets_dropped_total", "Total packets dropped at parse time.", labelNames, constLabels),
	}
}

// entryLocked returns (creating if necessary) the stats for tsiLabel.
// Callers must hold c.mu.
func (c *Collector) entryLocked(tsiLabel string) *stats {
	s, ok := c.byTSI[tsiLabel]
	if !ok {
		s = &stats{}
		c.byTSI[tsiLabel] = s
	}
	return s
}

// IncNAKsSent records one more NAK transmitted for the given transport.
func (c *Collector) IncNAKsSent(tsiLabel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(tsiLabel).naksSent++
}

// IncRepairsServed records one more RDATA served from the repair
// history for the given transport.
func (c *Collector) IncRepairsServed(tsiLabel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(tsiLabel).repairsServed++
}

// IncPeersExpired records one more peer removed for inactivity.
func (c *Collector) IncPeersExpired(tsiLabel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(tsiLabel).peersExpired++
}

// IncPacketsDropped records one more packet rejected at parse time.
func (c *Collector) IncPacketsDropped(tsiLabel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(tsiLabel).packetsDropped++
}

// SetLostCount overwrites the current cumulative lost-sqn count for
// the given transport (a gauge, not a counter: callers read this
// straight off the receive window rather than accumulating deltas).
func (c *Collector) SetLostCount(tsiLabel string, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(tsiLabel).lostCount = n
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.naksSentDesc
	descs <- c.repairsServedDesc
	descs <- c.peersExpiredDesc
	descs <- c.lostCountDesc
	descs <- c.packetsDroppedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for tsiLabel, s := range c.byTSI {
		metrics <- prometheus.MustNewConstMetric(c.naksSentDesc, prometheus.CounterValue, float64(s.naksSent), tsiLabel)
		metrics <- prometheus.MustNewConstMetric(c.repairsServedDesc, prometheus.CounterValue, float64(s.repairsServed), tsiLabel)
		metrics <- prometheus.MustNewConstMetric(c.peersExpiredDesc, prometheus.CounterValue, float64(s.peersExpired), tsiLabel)
		metrics <- prometheus.MustNewConstMetric(c.lostCountDesc, prometheus.GaugeValue, float64(s.lostCount), tsiLabel)
		metrics <- prometheus.MustNewConstMetric(c.packetsDroppedDesc, prometheus.CounterValue, float64(s.packetsDropped), tsiLabel)
	}
}
