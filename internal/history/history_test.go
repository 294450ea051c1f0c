package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	})
	return store
}

func TestRecordAndListBatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute)

	records := []Record{
		{
			BatchID:    "batch-1",
			File:       "a.mp3",
			Name:       "Song A - Artist",
			State:      "complete",
			StartedAt:  started,
			FinishedAt: started.Add(30 * time.Second),
		},
		{
			BatchID:     "batch-1",
			File:        "b.mp3",
			Name:        "b",
			State:       "failed",
			FailureKind: "remote_generation_failed",
			Error:       "job reported ERROR",
			StartedAt:   started,
			FinishedAt:  started.Add(10 * time.Second),
		},
		{
			BatchID:    "batch-2",
			File:       "c.mp3",
			Name:       "c",
			State:      "complete",
			StartedAt:  started,
			FinishedAt: started,
		},
	}
	for _, rec := range records {
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record(%s): %v", rec.File, err)
		}
	}

	listed, err := store.ListBatch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("ListBatch: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 records for batch-1, got %d", len(listed))
	}
	if listed[0].File != "a.mp3" || listed[1].File != "b.mp3" {
		t.Fatalf("expected insertion order, got %s then %s", listed[0].File, listed[1].File)
	}
	if listed[1].FailureKind != "remote_generation_failed" || listed[1].Error != "job reported ERROR" {
		t.Fatalf("failure details lost: %+v", listed[1])
	}

	wantStart := started.Truncate(time.Millisecond)
	if !listed[0].StartedAt.Truncate(time.Millisecond).Equal(wantStart) {
		t.Fatalf("started timestamp drifted: want %s, got %s", wantStart, listed[0].StartedAt)
	}
}

func TestBatchSummaryCountsByState(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	states := []string{"complete", "complete", "failed", "timed_out"}
	for i, state := range states {
		rec := Record{
			BatchID:    "batch-1",
			File:       string(rune('a'+i)) + ".mp3",
			Name:       "n",
			State:      state,
			StartedAt:  now,
			FinishedAt: now,
		}
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	summary, err := store.BatchSummary(ctx, "batch-1")
	if err != nil {
		t.Fatalf("BatchSummary: %v", err)
	}
	if summary["complete"] != 2 || summary["failed"] != 1 || summary["timed_out"] != 1 {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestListBatchUnknownIDIsEmpty(t *testing.T) {
	store := openTestStore(t)

	listed, err := store.ListBatch(context.Background(), "nope")
	if err != nil {
		t.Fatalf("ListBatch: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no records, got %d", len(listed))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := first.Record(context.Background(), Record{BatchID: "b", File: "f", Name: "n", State: "complete", StartedAt: time.Now(), FinishedAt: time.Now()}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer second.Close()

	listed, err := second.ListBatch(context.Background(), "b")
	if err != nil {
		t.Fatalf("ListBatch: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected the record to survive reopen, got %d", len(listed))
	}
}
