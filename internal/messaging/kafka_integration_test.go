//go:build integration

package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/storefront-orders/internal/testsupport"
)

type typedEvent struct {
	OrderID string `json:"order_id"`
}

func (typedEvent) EventType() string { return "order.created" }

func TestProduceConsume(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers := testsupport.Kafka(ctx, t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	producer := NewProducer(brokers, "order.events.test")
	t.Cleanup(func() { _ = producer.Close() })

	// One key keeps both messages on one partition, in order.
	for _, id := range []string{"poison", "o-1"} {
		if err := producer.Publish(ctx, "same-key", typedEvent{OrderID: id}); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}
	}

	consumer := NewConsumer(brokers, "order.events.test", "integration-test", logger,
		WithStartOffset(kafka.FirstOffset),
		WithRetry(2, 10*time.Millisecond),
	)
	t.Cleanup(func() { _ = consumer.Close() })

	consumeCtx, stop := context.WithCancel(ctx)
	var poisonAttempts atomic.Int64
	done := make(chan string, 1)

	go func() {
		_ = consumer.Consume(consumeCtx, func(_ context.Context, eventType string, payload []byte) error {
			if eventType != "order.created" {
				t.Errorf("expected event type header, got %q", eventType)
			}
			if string(payload) == `{"order_id":"poison"}` {
				poisonAttempts.Add(1)
				return errors.New("cannot handle")
			}
			done <- string(payload)
			return nil
		})
	}()

	select {
	case payload := <-done:
		if payload != `{"order_id":"o-1"}` {
			t.Errorf("unexpected payload %s", payload)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
	stop()

	if got := poisonAttempts.Load(); got != 2 {
		t.Errorf("expected poison message to be tried twice, got %d", got)
	}
}
