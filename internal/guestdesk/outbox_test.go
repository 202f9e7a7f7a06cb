package guestdesk

import (
	"context"
	"testing"
	"time"
)

func TestMemoryOutboxEnqueueIdempotentWithinWindow(t *testing.T) {
	outbox := NewMemoryOutbox().(*memoryOutbox)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	outbox.now = func() time.Time { return now }
	ctx := context.Background()

	id1, created, err := outbox.Enqueue(ctx, 100, "hello", 7, KindStatusReceived)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !created {
		t.Fatalf("expected first enqueue to create a row")
	}

	now = base.Add(30 * time.Second)
	id2, created, err := outbox.Enqueue(ctx, 100, "hello", 7, KindStatusReceived)
	if err != nil {
		t.Fatalf("duplicate enqueue failed: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate enqueue to be absorbed")
	}
	if id2 != id1 {
		t.Fatalf("expected existing id %d, got %d", id1, id2)
	}

	now = base.Add(2 * time.Minute)
	id3, created, err := outbox.Enqueue(ctx, 100, "hello", 7, KindStatusReceived)
	if err != nil {
		t.Fatalf("post-window enqueue failed: %v", err)
	}
	if !created || id3 == id1 {
		t.Fatalf("expected a fresh row after the window, got id=%d created=%t", id3, created)
	}
}

func TestMemoryOutboxEnqueueDistinguishesPayload(t *testing.T) {
	outbox := NewMemoryOutbox()
	ctx := context.Background()

	id1, _, err := outbox.Enqueue(ctx, 100, "hello", 7, KindStatusReceived)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	id2, created, err := outbox.Enqueue(ctx, 100, "hello", 8, KindStatusReceived)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !created || id2 == id1 {
		t.Fatalf("different appeal must create a new row")
	}
	id3, created, err := outbox.Enqueue(ctx, 100, "goodbye", 7, KindStatusReceived)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !created || id3 == id1 {
		t.Fatalf("different text must create a new row")
	}
}

func TestMemoryOutboxEnqueueRejectsEmpty(t *testing.T) {
	outbox := NewMemoryOutbox()
	ctx := context.Background()
	if _, _, err := outbox.Enqueue(ctx, 0, "hello", 1, KindAdminReply); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput for missing guest, got %v", err)
	}
	if _, _, err := outbox.Enqueue(ctx, 100, "   ", 1, KindAdminReply); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput for blank text, got %v", err)
	}
}

func TestMemoryOutboxClaimDueHonorsCutoff(t *testing.T) {
	outbox := NewMemoryOutbox().(*memoryOutbox)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	outbox.now = func() time.Time { return now }
	ctx := context.Background()

	if _, _, err := outbox.Enqueue(ctx, 100, "fresh", 1, KindStatusReceived); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Cutoff before the row's creation time: nothing is due yet.
	claimed, err := outbox.ClaimDue(ctx, base.Add(-2*time.Second), 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no rows inside the grace window, got %d", len(claimed))
	}

	claimed, err = outbox.ClaimDue(ctx, base.Add(2*time.Second), 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 due row, got %d", len(claimed))
	}
	if !claimed[0].Sent {
		t.Fatalf("claimed row must be marked sent")
	}
}

func TestMemoryOutboxClaimDueOldestFirstAndBounded(t *testing.T) {
	outbox := NewMemoryOutbox().(*memoryOutbox)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	outbox.now = func() time.Time { return now }
	ctx := context.Background()

	texts := []string{"first", "second", "third"}
	for i, text := range texts {
		now = base.Add(time.Duration(i) * time.Second)
		if _, _, err := outbox.Enqueue(ctx, 100, text, int64(i+1), KindStatusReceived); err != nil {
			t.Fatalf("enqueue %q failed: %v", text, err)
		}
	}

	claimed, err := outbox.ClaimDue(ctx, base.Add(time.Minute), 2)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(claimed))
	}
	if claimed[0].Text != "first" || claimed[1].Text != "second" {
		t.Fatalf("expected oldest-first order, got %q then %q", claimed[0].Text, claimed[1].Text)
	}

	claimed, err = outbox.ClaimDue(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].Text != "third" {
		t.Fatalf("expected only the remaining row, got %v", claimed)
	}
}

func TestMemoryOutboxMarkUnsentAllowsReclaim(t *testing.T) {
	outbox := NewMemoryOutbox().(*memoryOutbox)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	outbox.now = func() time.Time { return base }
	ctx := context.Background()

	id, _, err := outbox.Enqueue(ctx, 100, "retry me", 1, KindAdminReply)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := outbox.ClaimDue(ctx, base.Add(time.Minute), 10); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	claimed, err := outbox.ClaimDue(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed row must not be claimable twice")
	}

	if err := outbox.MarkUnsent(ctx, id); err != nil {
		t.Fatalf("mark unsent failed: %v", err)
	}
	claimed, err = outbox.ClaimDue(ctx, base.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != id {
		t.Fatalf("expected reset row to be claimable again, got %v", claimed)
	}

	if err := outbox.MarkUnsent(ctx, 9999); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}
