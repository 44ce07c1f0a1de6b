package pdp

import (
	"context"
	"sync"

	"github.com/aspen-pdp/aspen/eval"
	"github.com/aspen-pdp/aspen/value"
)

// DocumentTrace records how one document arrived at its decision. Traces
// are diagnostics only — they are logged at debug level and never influence
// the decision.
type DocumentTrace struct {
	Document   string           `json:"document"`
	Target     string           `json:"target"`
	Clauses    []ClauseTrace    `json:"clauses,omitempty"`
	Attributes []AttributeTrace `json:"attributes,omitempty"`
	Decision   string           `json:"decision"`
}

// ClauseTrace records the outcome of one body clause.
type ClauseTrace struct {
	Kind   string `json:"kind"` // "condition" or "var"
	Name   string `json:"name,omitempty"`
	Result string `json:"result"`
}

// AttributeTrace records one value consumed from an attribute stream.
type AttributeTrace struct {
	Attribute string    `json:"attribute"`
	Value     value.Val `json:"value"`
}

func (t *DocumentTrace) targetResult(applicable bool, err error) {
	switch {
	case err != nil:
		t.Target = "error: " + err.Error()
	case applicable:
		t.Target = "true"
	default:
		t.Target = "false"
	}
}

func (t *DocumentTrace) clause(kind, name string, err error, outcome string) {
	result := outcome
	if err != nil {
		result = "error: " + err.Error()
	}
	t.Clauses = append(t.Clauses, ClauseTrace{Kind: kind, Name: name, Result: result})
}

// tracingResolver wraps an attribute resolver and records every consumed
// value into the trace.
type tracingResolver struct {
	next  eval.AttributeResolver
	mu    sync.Mutex
	trace *DocumentTrace
}

func (r *tracingResolver) Resolve(ctx context.Context, name string, args []value.Val, head bool) (value.Val, error) {
	v, err := r.next.Resolve(ctx, name, args, head)
	if err == nil {
		r.mu.Lock()
		r.trace.Attributes = append(r.trace.Attributes, AttributeTrace{Attribute: name, Value: v})
		r.mu.Unlock()
	}
	return v, err
}
