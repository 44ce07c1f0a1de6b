package pdp

import (
	"context"

	"github.com/aspen-pdp/aspen/ast"
	"github.com/aspen-pdp/aspen/eval"
)

// evaluatePolicy evaluates one policy against the environment (which holds
// the subscription, global variables, and — for policies inside a set —
// the set's shared bindings).
//
// Target false -> NOT_APPLICABLE, target error -> INDETERMINATE; in both
// cases the body is never evaluated. Body clauses run lazily in document
// order: a variable definition binds a name for subsequent clauses and
// counts as true unless its evaluation errors; the first false condition
// yields NOT_APPLICABLE, the first error INDETERMINATE. Only when every
// clause held are the entitlement, obligations, advice, and transformation
// produced.
func evaluatePolicy(ctx context.Context, p *ast.Policy, env *eval.Environment, trace *DocumentTrace, lenientConstraints bool) documentDecision {
	result := documentDecision{name: p.Name, decision: NotApplicable}

	if p.Target != nil {
		applicable, err := eval.EvaluateBoolean(ctx, p.Target, env)
		trace.targetResult(applicable, err)
		if err != nil {
			result.decision = Indeterminate
			return result
		}
		if !applicable {
			return result
		}
	} else {
		trace.Target = "true"
	}

	for _, stmt := range p.Body {
		switch clause := stmt.(type) {
		case *ast.ValueDefinition:
			v, err := eval.Evaluate(ctx, clause.Expr, env)
			trace.clause("var", clause.Name, err, "bound")
			if err != nil {
				result.decision = Indeterminate
				return result
			}
			env = env.WithVariable(clause.Name, v)
		case *ast.Condition:
			ok, err := eval.EvaluateBoolean(ctx, clause.Expr, env)
			trace.clause("condition", "", err, boolWord(ok))
			if err != nil {
				result.decision = Indeterminate
				return result
			}
			if !ok {
				return result
			}
		}
	}

	if p.Entitlement == ast.Permit {
		result.decision = Permit
	} else {
		result.decision = Deny
	}

	// Constraints are evaluated only on the entitlement path. An obligation
	// that cannot even be computed cannot be fulfilled, so by default it
	// poisons the decision to INDETERMINATE; in lenient mode it is dropped.
	for _, expr := range p.Obligations {
		v, err := eval.Evaluate(ctx, expr, env)
		if err != nil {
			if lenientConstraints {
				continue
			}
			return documentDecision{name: p.Name, decision: Indeterminate}
		}
		result.obligations = append(result.obligations, v)
	}
	for _, expr := range p.Advice {
		v, err := eval.Evaluate(ctx, expr, env)
		if err != nil {
			if lenientConstraints {
				continue
			}
			return documentDecision{name: p.Name, decision: Indeterminate}
		}
		result.advice = append(result.advice, v)
	}
	if p.Transform != nil {
		v, err := eval.Evaluate(ctx, p.Transform, env)
		if err != nil {
			return documentDecision{name: p.Name, decision: Indeterminate}
		}
		result.resource = &v
	}
	return result
}

// evaluatePolicySet evaluates a policy set: its own target, the shared
// value definitions (once, visible to every child), then the children in
// declared order, folding their decisions with the set's combining
// algorithm.
//
// Under first-applicable, evaluation stops at the first child that is not
// NOT_APPLICABLE, so later children never open attribute subscriptions.
func evaluatePolicySet(ctx context.Context, s *ast.PolicySet, env *eval.Environment, trace *DocumentTrace, lenientConstraints bool) documentDecision {
	result := documentDecision{name: s.Name, decision: NotApplicable}

	if s.Target != nil {
		applicable, err := eval.EvaluateBoolean(ctx, s.Target, env)
		trace.targetResult(applicable, err)
		if err != nil {
			result.decision = Indeterminate
			return result
		}
		if !applicable {
			return result
		}
	} else {
		trace.Target = "true"
	}

	for _, def := range s.Definitions {
		v, err := eval.Evaluate(ctx, def.Expr, env)
		trace.clause("var", def.Name, err, "bound")
		if err != nil {
			result.decision = Indeterminate
			return result
		}
		env = env.WithVariable(def.Name, v)
	}

	var children []documentDecision
	for _, child := range s.Policies {
		childTrace := &DocumentTrace{Document: child.Name}
		d := evaluatePolicy(ctx, child, env, childTrace, lenientConstraints)
		childTrace.Decision = d.decision.String()
		trace.Clauses = append(trace.Clauses, ClauseTrace{
			Kind:   "policy",
			Name:   child.Name,
			Result: d.decision.String(),
		})
		children = append(children, d)
		if s.Algorithm == ast.FirstApplicable && d.decision != NotApplicable {
			break
		}
	}

	combined := combine(s.Algorithm, children)
	result.decision = combined.Decision
	result.obligations = combined.Obligations
	result.advice = combined.Advice
	result.resource = combined.Resource
	return result
}

// evaluateDocument dispatches on the document variant.
func evaluateDocument(ctx context.Context, doc ast.Document, env *eval.Environment, trace *DocumentTrace, lenientConstraints bool) documentDecision {
	switch d := doc.(type) {
	case *ast.Policy:
		return evaluatePolicy(ctx, d, env, trace, lenientConstraints)
	case *ast.PolicySet:
		return evaluatePolicySet(ctx, d, env, trace, lenientConstraints)
	}
	return documentDecision{name: doc.DocumentName(), decision: Indeterminate}
}

func boolWord(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
