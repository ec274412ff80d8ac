// Package metrics collects playback and ingest counters. The Collector is a
// cheap atomic aggregate usable from hot paths; PrometheusCollector exposes
// it in Prometheus exposition format.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector aggregates engine metrics
type Collector struct {
	framesIndexed  atomic.Int64
	keyframes      atomic.Int64
	bytesParsed    atomic.Int64
	parseErrors    atomic.Int64
	seeks          atomic.Int64
	framesReplayed atomic.Int64
	snapshots      atomic.Int64
	activeSessions atomic.Int64

	startTime time.Time
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// FrameIndexed records one indexed frame.
func (c *Collector) FrameIndexed(keyframe bool) {
	c.framesIndexed.Add(1)
	if keyframe {
		c.keyframes.Add(1)
	}
}

// BytesParsed records ingested bytes.
func (c *Collector) BytesParsed(n int64) {
	c.bytesParsed.Add(n)
}

// ParseError records an ingest failure.
func (c *Collector) ParseError() {
	c.parseErrors.Add(1)
}

// Seek records a user-initiated seek.
func (c *Collector) Seek() {
	c.seeks.Add(1)
}

// FrameReplayed records one frame fed through the playback tunnel.
func (c *Collector) FrameReplayed() {
	c.framesReplayed.Add(1)
}

// SnapshotStored records a keyframe snapshot capture.
func (c *Collector) SnapshotStored() {
	c.snapshots.Add(1)
}

// SessionStarted increments the active playback session gauge.
func (c *Collector) SessionStarted() {
	c.activeSessions.Add(1)
}

// SessionEnded decrements the active playback session gauge.
func (c *Collector) SessionEnded() {
	c.activeSessions.Add(-1)
}

// Snapshot is a point-in-time copy of all metrics
type Snapshot struct {
	FramesIndexed  int64   `json:"frames_indexed"`
	Keyframes      int64   `json:"keyframes"`
	BytesParsed    int64   `json:"bytes_parsed"`
	ParseErrors    int64   `json:"parse_errors"`
	Seeks          int64   `json:"seeks"`
	FramesReplayed int64   `json:"frames_replayed"`
	Snapshots      int64   `json:"snapshots"`
	ActiveSessions int64   `json:"active_sessions"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// GetSnapshot returns a consistent-enough copy of the current counters
func (c *Collector) GetSnapshot() Snapshot {
	return Snapshot{
		FramesIndexed:  c.framesIndexed.Load(),
		Keyframes:      c.keyframes.Load(),
		BytesParsed:    c.bytesParsed.Load(),
		ParseErrors:    c.parseErrors.Load(),
		Seeks:          c.seeks.Load(),
		FramesReplayed: c.framesReplayed.Load(),
		Snapshots:      c.snapshots.Load(),
		ActiveSessions: c.activeSessions.Load(),
		UptimeSeconds:  time.Since(c.startTime).Seconds(),
	}
}
