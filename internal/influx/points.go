package influx

import (
	"strconv"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/chronoportal/server/pkg/core"
)

// AdvanceSample describes one AdvanceTo call.
type AdvanceSample struct {
	SessionID uint
	Target    core.TimeIndex
	Computed  int
	Duration  time.Duration
	StoreSize int
	At        time.Time
}

// AdvancePoint builds the engine_performance point for one advance.
func AdvancePoint(s AdvanceSample) *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement("advance").
		AddTag("session", strconv.FormatUint(uint64(s.SessionID), 10)).
		AddField("target", int64(s.Target)).
		AddField("ticks", s.Computed).
		AddField("duration_ms", float64(s.Duration.Microseconds())/1000).
		AddField("store_size", s.StoreSize)
	if !s.At.IsZero() {
		p.SetTime(s.At)
	}
	return p
}

// PortalPoint builds the game_events point for a created portal.
func PortalPoint(sessionID uint, p core.Portal, at time.Time) *influxdb2_write.Point {
	pt := influxdb2_write.NewPointWithMeasurement("portal_created").
		AddTag("session", strconv.FormatUint(uint64(sessionID), 10)).
		AddTag("player", p.Player.String()).
		AddField("portal_id", int64(p.ID)).
		AddField("compression_scale", p.Compression.Scale).
		AddField("compression_duration", p.Compression.Duration)
	if !at.IsZero() {
		pt.SetTime(at)
	}
	return pt
}
