package messaging

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestMessageCarrier(t *testing.T) {
	t.Run("set overwrites existing header", func(t *testing.T) {
		msg := kafka.Message{Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte("order.created")}}}
		carrier := NewMessageCarrier(&msg)

		carrier.Set(HeaderEventType, "order.cancelled")

		if len(msg.Headers) != 1 {
			t.Fatalf("expected 1 header, got %d", len(msg.Headers))
		}
		if got := carrier.Get(HeaderEventType); got != "order.cancelled" {
			t.Errorf("expected order.cancelled, got %q", got)
		}
	})

	t.Run("missing key returns empty string", func(t *testing.T) {
		carrier := NewMessageCarrier(&kafka.Message{})
		if got := carrier.Get("traceparent"); got != "" {
			t.Errorf("expected empty value, got %q", got)
		}
	})

	t.Run("round trips trace context", func(t *testing.T) {
		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		})
		ctx := trace.ContextWithSpanContext(context.Background(), sc)

		msg := kafka.Message{}
		propagator := propagation.TraceContext{}
		propagator.Inject(ctx, NewMessageCarrier(&msg))

		if len(NewMessageCarrier(&msg).Keys()) == 0 {
			t.Fatal("expected traceparent header to be injected")
		}

		extracted := trace.SpanContextFromContext(propagator.Extract(context.Background(), NewMessageCarrier(&msg)))
		if extracted.TraceID() != traceID {
			t.Errorf("expected trace id %s, got %s", traceID, extracted.TraceID())
		}
		if extracted.SpanID() != spanID {
			t.Errorf("expected span id %s, got %s", spanID, extracted.SpanID())
		}
	})
}
