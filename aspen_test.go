package aspen

import (
	"context"
	"testing"
)

func TestNewFromDocuments(t *testing.T) {
	engine, err := NewFromDocuments(map[string]string{
		"reads.aspen": `
policy "allow reads"
permit action == "read"
`,
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	sub, err := NewSubscription("alice", "read", "book", nil)
	if err != nil {
		t.Fatalf("failed to build subscription: %v", err)
	}

	if dec := engine.Decide(context.Background(), sub); dec.Decision != Permit {
		t.Errorf("expected PERMIT, got %v", dec.Decision)
	}

	sub, _ = NewSubscription("alice", "write", "book", nil)
	if dec := engine.Decide(context.Background(), sub); dec.Decision != NotApplicable {
		t.Errorf("expected NOT_APPLICABLE, got %v", dec.Decision)
	}
}

func TestNewFromDocumentsRejectsMalformed(t *testing.T) {
	if _, err := NewFromDocuments(map[string]string{"bad.aspen": `policy "x" allow`}); err == nil {
		t.Error("expected error for malformed document")
	}
}
