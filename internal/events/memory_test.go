package events

import (
	"context"
	"encoding/json"
	"testing"
)

func TestPublishDelivers(t *testing.T) {
	producer := NewMemoryProducer(4)
	defer producer.Close()

	event := New(KindSettled, "run-1", map[string]any{"total": "4400"})
	if err := producer.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-producer.Events():
		if got.Kind != KindSettled || got.RunID != "run-1" {
			t.Fatalf("unexpected event %+v", got)
		}
		if got.At == 0 {
			t.Fatal("event must be timestamped")
		}
	default:
		t.Fatal("expected a buffered event")
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	producer := NewMemoryProducer(1)
	defer producer.Close()

	ctx := context.Background()
	if err := producer.Publish(ctx, New(KindDeposited, "run-1", nil)); err != nil {
		t.Fatalf("publish first: %v", err)
	}
	if err := producer.Publish(ctx, New(KindRedeemed, "run-2", nil)); err != nil {
		t.Fatalf("publish second: %v", err)
	}

	got := <-producer.Events()
	if got.RunID != "run-2" {
		t.Fatalf("expected the newer event to survive, got %s", got.RunID)
	}
}

func TestPublishAfterClose(t *testing.T) {
	producer := NewMemoryProducer(1)
	if err := producer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := producer.Publish(context.Background(), New(KindPaused, "", nil)); err == nil {
		t.Fatal("expected publish on a closed producer to fail")
	}
	// Close is idempotent.
	if err := producer.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestEventEncode(t *testing.T) {
	event := New(KindDepositRequested, "run-9", map[string]any{"controller": "0xabc"})
	raw, err := event.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Kind != KindDepositRequested || decoded.RunID != "run-9" {
		t.Fatalf("round-trip mismatch %+v", decoded)
	}
}
