package game

import (
	"context"
	"fmt"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/chronoportal/server/internal/dispatcher"
	"github.com/chronoportal/server/pkg/core"
)

type (
	agentRecord struct {
		def core.AgentDefinition
	}
	keyframeRecord struct {
		tick core.TimeIndex
		kf   *core.Keyframe
	}
	portalRecord struct {
		portal core.Portal
	}
	// barrier is closed by the record worker once every earlier record is handled.
	barrier chan struct{}

	metricPoint struct {
		bucket string
		point  *influxdb2_write.Point
	}
)

func (s *Server) record(payload any) {
	if err := s.events.Dispatch(dispatcher.Event{Kind: kindRecord, Payload: payload}); err != nil {
		s.log.Warn("record not queued", "error", err)
	}
}

func (s *Server) metric(bucket string, p *influxdb2_write.Point) {
	// a full metrics queue drops the point; the dispatcher counts drops
	_ = s.events.Dispatch(dispatcher.Event{Kind: kindMetrics, Payload: metricPoint{bucket: bucket, point: p}})
}

// sync waits until every record queued so far has reached storage.
func (s *Server) sync(ctx context.Context) error {
	done := make(barrier)
	if err := s.events.Dispatch(dispatcher.Event{Kind: kindRecord, Payload: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleRecord(e dispatcher.Event) error {
	backend := s.deps.Storage
	switch r := e.Payload.(type) {
	case agentRecord:
		return backend.RecordAgent(r.def)
	case keyframeRecord:
		return backend.RecordKeyframe(r.tick, r.kf)
	case portalRecord:
		return backend.RecordPortal(r.portal)
	case barrier:
		close(r)
		return nil
	default:
		return fmt.Errorf("unexpected record %T", e.Payload)
	}
}

func (s *Server) handleMetrics(e dispatcher.Event) error {
	m, ok := e.Payload.(metricPoint)
	if !ok {
		return fmt.Errorf("unexpected metric %T", e.Payload)
	}
	return s.deps.Metrics.WritePoint(m.bucket, m.point)
}
