package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/laundryhub/api/internal/enum"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type recordingPublisher struct {
	got []Event
	err error
}

func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	r.got = append(r.got, e)
	return r.err
}

func TestFanout(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{err: errors.New("broker down")}
	f := Fanout{a, nil, b}

	e := Event{Type: enum.EventLockAcquired, OrderID: uuid.New(), Holder: "Ana"}
	err := f.Publish(context.Background(), e)
	if err == nil || err.Error() != "broker down" {
		t.Fatalf("expected joined broker error, got %v", err)
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("every publisher should see the event: a=%d b=%d", len(a.got), len(b.got))
	}
}

type mockWriter struct {
	msgs []kafka.Message
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *mockWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	otel.SetTracerProvider(sdktrace.NewTracerProvider())
	otel.SetTextMapPropagator(propagation.TraceContext{})

	w := &mockWriter{}
	p := &KafkaPublisher{writer: w, topic: "laundry.orders"}

	e := Event{
		Type:      enum.EventOrderUpdated,
		StationID: uuid.New(),
		OrderID:   uuid.New(),
		At:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != e.OrderID.String() {
		t.Errorf("key: got %s, want %s", msg.Key, e.OrderID)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != e {
		t.Errorf("decoded event mismatch: %+v", decoded)
	}

	c := headerCarrier{msg: &msg}
	if c.Get("event_type") != enum.EventOrderUpdated {
		t.Errorf("event_type header: %q", c.Get("event_type"))
	}
	if c.Get("traceparent") == "" {
		t.Error("expected trace context to be injected")
	}
}
