package telemetry

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestEventSpanRecordsAttributes(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	_, span := StartEvent(context.Background(), logger, "tasks:update", "peer-1")
	span.SetTasks(3)
	span.SetRecipients(2)
	span.End(nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	got := spans[0]
	if got.Name != "relay.tasks:update" {
		t.Fatalf("unexpected span name: %s", got.Name)
	}
	attrs := attributesToMap(got.Attributes)
	if attrs[AttrPeerID] != "peer-1" {
		t.Fatalf("unexpected peer attribute: %#v", attrs[AttrPeerID])
	}
	if attrs[AttrTasks] != int64(3) {
		t.Fatalf("unexpected tasks attribute: %#v", attrs[AttrTasks])
	}
	if attrs[AttrRecipients] != int64(2) {
		t.Fatalf("unexpected recipients attribute: %#v", attrs[AttrRecipients])
	}
	if got.Status.Code != codes.Ok {
		t.Fatalf("expected status Ok, got %v", got.Status.Code)
	}
	if len(got.Events) == 0 || got.Events[0].Name != EventName {
		t.Fatalf("expected %s span event, got %#v", EventName, got.Events)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != EventName {
		t.Fatalf("expected log entry %s, got %#v", EventName, entry)
	}
	if entry.Data["tasks"] != 3 || entry.Data["peer_id"] != "peer-1" {
		t.Fatalf("unexpected log fields: %#v", entry.Data)
	}
	if traceID, ok := entry.Data["trace_id"].(string); !ok || traceID == "" {
		t.Fatalf("expected trace_id to be recorded, got %#v", entry.Data["trace_id"])
	}
}

func TestEventSpanWithoutTasksOmitsAttribute(t *testing.T) {
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	_, span := StartEvent(context.Background(), nil, "task:interaction", "peer-1")
	span.End(nil)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	attrs := attributesToMap(exporter.GetSpans()[0].Attributes)
	if _, ok := attrs[AttrTasks]; ok {
		t.Fatalf("expected no tasks attribute, got %#v", attrs[AttrTasks])
	}
}

func TestEventSpanErrorSetsStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	tp, exporter, restore := setupTestTracer(t)
	defer restore()

	boom := errors.New("bad payload")
	_, span := StartEvent(context.Background(), logger, "tasks:update", "peer-1")
	span.End(boom)

	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("force flush spans: %v", err)
	}
	got := exporter.GetSpans()[0]
	if got.Status.Code != codes.Error || got.Status.Description != boom.Error() {
		t.Fatalf("unexpected status %#v", got.Status)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warn entry, got %#v", entry)
	}
	if entry.Data[log.ErrorKey] != boom {
		t.Fatalf("expected error field, got %#v", entry.Data[log.ErrorKey])
	}
}

func TestEndOnNilSpan(t *testing.T) {
	var span *EventSpan
	span.End(nil)
}

func setupTestTracer(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter, func()) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(prev)
	}
	return tp, exporter, cleanup
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
