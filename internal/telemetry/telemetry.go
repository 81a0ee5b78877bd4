// Package telemetry records relay events as otel spans and structured log
// entries.
package telemetry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/dahch/task-board-sync/relay"

	SpanPrefix     = "relay."
	EventName      = "relay.event"
	AttrPeerID     = "relay.peer_id"
	AttrTasks      = "relay.tasks"
	AttrRecipients = "relay.recipients"
	AttrDurationMS = "relay.duration_ms"
)

// EventSpan tracks the handling of one relay event.
type EventSpan struct {
	logger *log.Logger
	span   trace.Span
	event  string
	peerID string
	start  time.Time

	tasks      int
	recipients int
}

// StartEvent opens a span named relay.<event> for a frame received from peerID.
func StartEvent(ctx context.Context, logger *log.Logger, event, peerID string) (context.Context, *EventSpan) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, SpanPrefix+event,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String(AttrPeerID, peerID)),
	)
	return ctx, &EventSpan{
		logger: logger,
		span:   span,
		event:  event,
		peerID: peerID,
		start:  time.Now(),
		tasks:  -1,
	}
}

func (s *EventSpan) SetTasks(n int) {
	if n < 0 {
		n = 0
	}
	s.tasks = n
}

func (s *EventSpan) SetRecipients(n int) {
	s.recipients = n
}

// End closes the span. A non-nil err marks it failed.
func (s *EventSpan) End(err error) {
	if s == nil {
		return
	}
	elapsed := durationToMillis(time.Since(s.start))
	attrs := []attribute.KeyValue{
		attribute.Int(AttrRecipients, s.recipients),
		attribute.Float64(AttrDurationMS, elapsed),
	}
	fields := log.Fields{
		"event":       s.event,
		"peer_id":     s.peerID,
		"recipients":  s.recipients,
		"duration_ms": elapsed,
	}
	if s.tasks >= 0 {
		attrs = append(attrs, attribute.Int(AttrTasks, s.tasks))
		fields["tasks"] = s.tasks
	}
	s.span.SetAttributes(attrs...)
	s.span.AddEvent(EventName, trace.WithAttributes(attrs...))

	if sc := s.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
		if s.logger != nil {
			s.logger.WithFields(fields).WithError(err).Warn(EventName)
		}
	} else {
		s.span.SetStatus(codes.Ok, "")
		if s.logger != nil {
			s.logger.WithFields(fields).Debug(EventName)
		}
	}
	s.span.End()
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
