package journal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func seedRun(id string, status Status, createdAt int64) *Run {
	return &Run{
		ID:        id,
		Submitter: "operator",
		Steps:     json.RawMessage(`[]`),
		Status:    status,
		CreatedAt: createdAt,
	}
}

func TestRecordAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := seedRun("run-1", StatusSucceeded, 100)
	run.Results = []string{"0x01"}
	if err := store.Record(ctx, run); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record(ctx, run); !errors.Is(err, ErrRunConflict) {
		t.Fatalf("expected ErrRunConflict, got %v", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Submitter != "operator" || got.Status != StatusSucceeded {
		t.Fatalf("unexpected record %+v", got)
	}

	// The stored record must be isolated from later caller mutations.
	run.Results[0] = "0xff"
	got, err = store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Results[0] != "0x01" {
		t.Fatal("stored record mutated through the caller's slice")
	}

	if _, err := store.Get(ctx, "ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRecordValidatesInput(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Record(context.Background(), nil); err == nil {
		t.Fatal("expected nil run to be rejected")
	}
	if err := store.Record(context.Background(), &Run{}); err == nil {
		t.Fatal("expected empty id to be rejected")
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, run := range []*Run{
		seedRun("run-1", StatusSucceeded, 100),
		seedRun("run-2", StatusFailed, 200),
		seedRun("run-3", StatusSucceeded, 300),
	} {
		if err := store.Record(ctx, run); err != nil {
			t.Fatalf("record %s: %v", run.ID, err)
		}
	}

	runs, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "run-3" || runs[2].ID != "run-1" {
		t.Fatalf("expected newest first, got %v", ids(runs))
	}

	runs, err = store.List(ctx, BuildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-2" {
		t.Fatalf("expected only run-2, got %v", ids(runs))
	}

	runs, err = store.List(ctx, BuildListOptions([]ListOption{WithSince(time.Unix(200, 0))}))
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 recent runs, got %v", ids(runs))
	}

	runs, err = store.List(ctx, BuildListOptions([]ListOption{WithLimit(1)}))
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-3" {
		t.Fatalf("expected newest only, got %v", ids(runs))
	}
}

func TestStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, run := range []*Run{
		seedRun("run-1", StatusSucceeded, 100),
		seedRun("run-2", StatusFailed, 200),
		seedRun("run-3", StatusSucceeded, 300),
	} {
		if err := store.Record(ctx, run); err != nil {
			t.Fatalf("record %s: %v", run.ID, err)
		}
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Succeeded != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func ids(runs []*Run) []string {
	out := make([]string, len(runs))
	for i, run := range runs {
		out[i] = run.ID
	}
	return out
}
