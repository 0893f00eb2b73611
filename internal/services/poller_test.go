package services

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/device-intake/internal/domain"
	"github.com/tbourn/device-intake/internal/repo"
)

func TestPollerTick_DrainsQueue(t *testing.T) {
	db := newTestDB(t)
	q := newQueue(db)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, []map[string]any{phone("t1"), phone("t2")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	(&Poller{Queue: q, Interval: time.Second}).Tick(ctx)

	counts, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if counts.Completed != 2 {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestPollerRun_StopsWithContext(t *testing.T) {
	q := newQueue(newTestDB(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		(&Poller{Queue: q, Interval: 5 * time.Millisecond, Retention: time.Hour, PruneEvery: 5 * time.Millisecond}).Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollerRun_DisabledReturnsImmediately(t *testing.T) {
	done := make(chan struct{})
	go func() {
		(&Poller{}).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled poller blocked")
	}
}

func TestPollerPrune_PurgesExpiredIdempotency(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if _, err := repo.CreateIdempotency(ctx, db, "op:a", "POST /queue/records", "old", 202, []byte(`{}`), -time.Minute); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if _, err := repo.CreateIdempotency(ctx, db, "op:a", "POST /queue/records", "fresh", 202, []byte(`{}`), time.Hour); err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}

	(&Poller{Queue: newQueue(db)}).Prune(ctx)

	if n := countRows(t, db, &domain.Idempotency{}); n != 1 {
		t.Fatalf("idempotency rows = %d, want 1", n)
	}
}
