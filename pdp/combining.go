package pdp

import (
	"github.com/aspen-pdp/aspen/ast"
	"github.com/aspen-pdp/aspen/value"
)

// combine folds an ordered list of document decisions into one authorization
// decision under the given combining algorithm, then aggregates constraints:
// obligations and advice are taken only from documents whose own decision
// equals the combined one, concatenated in evaluation order without
// de-duplication.
//
// Transformation uncertainty: a PERMIT produced by more than one permitting
// document while any of them carries a transformation cannot yield a single
// resource value. The result is forced to INDETERMINATE — except under the
// default-decision algorithms, which never return INDETERMINATE and resolve
// the conflict to DENY instead.
func combine(alg ast.CombiningAlgorithm, results []documentDecision) AuthorizationDecision {
	decision := foldDecisions(alg, results)
	if decision == NotApplicable || decision == Indeterminate {
		return AuthorizationDecision{Decision: decision}
	}

	out := AuthorizationDecision{Decision: decision}
	var permitsWithTransform int
	var permits int
	var transform *value.Val
	for _, r := range results {
		if r.decision != decision {
			continue
		}
		out.Obligations = append(out.Obligations, r.obligations...)
		out.Advice = append(out.Advice, r.advice...)
		if r.decision == Permit {
			permits++
			if r.resource != nil {
				permitsWithTransform++
				transform = r.resource
			}
		}
	}

	if decision == Permit && permitsWithTransform > 0 && permits > 1 {
		// More than one transformation source (or a transform competing
		// with further permits) cannot produce a single resource.
		if hasDefaultDecision(alg) {
			forced := AuthorizationDecision{Decision: Deny}
			for _, r := range results {
				if r.decision == Deny {
					forced.Obligations = append(forced.Obligations, r.obligations...)
					forced.Advice = append(forced.Advice, r.advice...)
				}
			}
			return forced
		}
		return AuthorizationDecision{Decision: Indeterminate}
	}
	if decision == Permit && permitsWithTransform == 1 {
		out.Resource = transform
	}
	return out
}

func hasDefaultDecision(alg ast.CombiningAlgorithm) bool {
	return alg == ast.DenyUnlessPermit || alg == ast.PermitUnlessDeny
}

// foldDecisions applies the algorithm's precedence rules to the bare
// decisions.
func foldDecisions(alg ast.CombiningAlgorithm, results []documentDecision) Decision {
	switch alg {
	case ast.DenyOverrides:
		return overrides(results, Deny, Permit)
	case ast.PermitOverrides:
		return overrides(results, Permit, Deny)
	case ast.FirstApplicable:
		for _, r := range results {
			if r.decision != NotApplicable {
				return r.decision
			}
		}
		return NotApplicable
	case ast.DenyUnlessPermit:
		for _, r := range results {
			if r.decision == Permit {
				return Permit
			}
		}
		return Deny
	case ast.PermitUnlessDeny:
		for _, r := range results {
			if r.decision == Deny {
				return Deny
			}
		}
		return Permit
	case ast.OnlyOneApplicable:
		applicable := -1
		for i, r := range results {
			if r.decision == NotApplicable {
				continue
			}
			if applicable >= 0 {
				// Ambiguous document set.
				return Indeterminate
			}
			applicable = i
		}
		if applicable < 0 {
			return NotApplicable
		}
		return results[applicable].decision
	}
	// Unknown algorithms cannot produce a trustworthy decision.
	return Indeterminate
}

// overrides implements deny-overrides / permit-overrides: the winning
// decision beats everything, INDETERMINATE beats the losing decision,
// which beats NOT_APPLICABLE.
func overrides(results []documentDecision, winner, loser Decision) Decision {
	sawIndeterminate := false
	sawLoser := false
	for _, r := range results {
		switch r.decision {
		case winner:
			return winner
		case Indeterminate:
			sawIndeterminate = true
		case loser:
			sawLoser = true
		}
	}
	if sawIndeterminate {
		return Indeterminate
	}
	if sawLoser {
		return loser
	}
	return NotApplicable
}
