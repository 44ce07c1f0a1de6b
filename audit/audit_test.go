package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aspen-pdp/aspen/pdp"
	"github.com/aspen-pdp/aspen/value"
)

func sampleEvent(decision string, at time.Time) *DecisionEvent {
	return &DecisionEvent{
		ID:        decision + "-" + at.Format(time.RFC3339Nano),
		Subject:   `"alice"`,
		Action:    `"read"`,
		Resource:  `"book"`,
		Decision:  decision,
		CreatedAt: at,
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, d := range []string{"PERMIT", "DENY", "PERMIT"} {
		if err := store.Save(ctx, sampleEvent(d, now.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("failed to save: %v", err)
		}
	}

	// Newest first.
	events, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if !events[0].CreatedAt.After(events[2].CreatedAt) {
		t.Error("expected newest-first ordering")
	}

	// Decision filter.
	events, _ = store.Query(ctx, Filter{Decision: "PERMIT"})
	if len(events) != 2 {
		t.Errorf("expected 2 permits, got %d", len(events))
	}

	// Limit.
	events, _ = store.Query(ctx, Filter{Limit: 1})
	if len(events) != 1 {
		t.Errorf("expected 1 event with limit, got %d", len(events))
	}

	n, _ := store.Count(ctx, Filter{Decision: "DENY"})
	if n != 1 {
		t.Errorf("expected 1 deny, got %d", n)
	}

	removed, err := store.Purge(ctx, now.Add(90*time.Second))
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 purged, got %d", removed)
	}
	if n, _ := store.Count(ctx, Filter{}); n != 1 {
		t.Errorf("expected 1 event left, got %d", n)
	}
}

func TestGormStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	store, err := NewStorage("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Save(ctx, sampleEvent("PERMIT", now)); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := store.Save(ctx, sampleEvent("DENY", now.Add(time.Minute))); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	events, err := store.Query(ctx, Filter{Decision: "PERMIT"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 1 || events[0].Decision != "PERMIT" {
		t.Errorf("expected one permit event, got %v", events)
	}

	n, err := store.Count(ctx, Filter{})
	if err != nil || n != 2 {
		t.Errorf("expected 2 events, got %d (%v)", n, err)
	}

	removed, err := store.Purge(ctx, now.Add(30*time.Second))
	if err != nil || removed != 1 {
		t.Errorf("expected 1 purged, got %d (%v)", removed, err)
	}
}

func TestUnknownDatabaseType(t *testing.T) {
	if _, err := NewStorage("oracle", "dsn"); err == nil {
		t.Error("expected error for unregistered database type")
	}
}

func TestRecorderPersistsDecisions(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store, nil)

	sub, err := pdp.NewSubscription("alice", "read", map[string]any{"name": "Dune"}, nil)
	if err != nil {
		t.Fatalf("failed to build subscription: %v", err)
	}
	resource := value.String("redacted")
	dec := pdp.AuthorizationDecision{
		Decision:    pdp.Permit,
		Resource:    &resource,
		Obligations: []value.Val{value.String("log-it")},
	}

	rec.OnDecision(context.Background(), sub, dec, 42*time.Millisecond)

	events, err := store.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	e := events[0]
	if e.ID == "" {
		t.Error("expected a generated event ID")
	}
	if e.Decision != "PERMIT" {
		t.Errorf("expected PERMIT, got %s", e.Decision)
	}
	if !e.Transformed {
		t.Error("expected transformed flag for a resource replacement")
	}
	if e.DurationMS != 42 {
		t.Errorf("expected 42ms, got %d", e.DurationMS)
	}
	if e.Subject != `"alice"` {
		t.Errorf("expected subject JSON, got %s", e.Subject)
	}
	if e.Obligations == "" {
		t.Error("expected obligations JSON")
	}
}
