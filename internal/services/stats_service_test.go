package services

import (
	"context"
	"testing"
	"time"
)

func TestHealth(t *testing.T) {
	s, _ := seed(t, "A", "B")
	ctx := context.Background()
	if _, err := s.Archive(ctx, "B", "sold"); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	q := newQueue(s.DB)
	if _, err := q.Enqueue(ctx, []map[string]any{phone("C")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	h, err := (&StatsService{DB: s.DB}).Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.DB != "ok" || h.Products != 1 || h.Locations != 1 || h.InventoryRows != 1 {
		t.Fatalf("health = %+v", h)
	}
	if h.Queue.Pending != 1 || h.Queue.Total != 1 {
		t.Fatalf("queue = %+v", h.Queue)
	}
	if h.Archive.Total != 4 || h.Archive.Consumed != 0 || len(h.Archive.ByTable) != 4 {
		t.Fatalf("archive = %+v", h.Archive)
	}
}

func TestHealth_BoundedByOpTimeout(t *testing.T) {
	db := newTestDB(t)
	d := recordDeadlines(t, db)
	s := &StatsService{DB: db, OpTimeout: time.Minute}

	if _, err := s.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	seen, missing := d.counts()
	if seen == 0 || missing != 0 {
		t.Fatalf("statements = %d, without deadline = %d", seen, missing)
	}
}

func TestHealth_ExpiredContextReportsUnavailable(t *testing.T) {
	s := &StatsService{DB: newTestDB(t)}
	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()

	h, err := s.Health(ctx)
	if KindOf(err) != KindTimeout {
		t.Fatalf("Health err = %v; want timeout", err)
	}
	if h == nil || h.DB == "ok" {
		t.Fatalf("health = %+v; want db unavailable", h)
	}
}
