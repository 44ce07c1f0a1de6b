package pdp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aspen-pdp/aspen/ast"
	"github.com/aspen-pdp/aspen/value"
)

func dd(name string, d Decision) documentDecision {
	return documentDecision{name: name, decision: d}
}

func TestFoldDecisions(t *testing.T) {
	cases := []struct {
		name    string
		alg     ast.CombiningAlgorithm
		results []documentDecision
		want    Decision
	}{
		{"deny-overrides: deny wins", ast.DenyOverrides,
			[]documentDecision{dd("a", Permit), dd("b", Deny), dd("c", Indeterminate)}, Deny},
		{"deny-overrides: indeterminate beats permit", ast.DenyOverrides,
			[]documentDecision{dd("a", Permit), dd("b", Indeterminate)}, Indeterminate},
		{"deny-overrides: permit beats not applicable", ast.DenyOverrides,
			[]documentDecision{dd("a", NotApplicable), dd("b", Permit)}, Permit},
		{"deny-overrides: empty set", ast.DenyOverrides,
			nil, NotApplicable},

		{"permit-overrides: permit wins", ast.PermitOverrides,
			[]documentDecision{dd("a", Deny), dd("b", Permit), dd("c", Indeterminate)}, Permit},
		{"permit-overrides: indeterminate beats deny", ast.PermitOverrides,
			[]documentDecision{dd("a", Deny), dd("b", Indeterminate)}, Indeterminate},

		{"first-applicable: first non-NA wins", ast.FirstApplicable,
			[]documentDecision{dd("a", NotApplicable), dd("b", Deny), dd("c", Permit)}, Deny},
		{"first-applicable: indeterminate stops the scan", ast.FirstApplicable,
			[]documentDecision{dd("a", Indeterminate), dd("b", Permit)}, Indeterminate},
		{"first-applicable: all NA", ast.FirstApplicable,
			[]documentDecision{dd("a", NotApplicable)}, NotApplicable},

		{"only-one-applicable: single applicable", ast.OnlyOneApplicable,
			[]documentDecision{dd("a", NotApplicable), dd("b", Deny)}, Deny},
		{"only-one-applicable: two applicable is ambiguous", ast.OnlyOneApplicable,
			[]documentDecision{dd("a", Permit), dd("b", Permit)}, Indeterminate},
		{"only-one-applicable: none applicable", ast.OnlyOneApplicable,
			[]documentDecision{dd("a", NotApplicable)}, NotApplicable},

		{"deny-unless-permit: defaults to deny", ast.DenyUnlessPermit,
			[]documentDecision{dd("a", NotApplicable), dd("b", Indeterminate)}, Deny},
		{"deny-unless-permit: permit escapes the default", ast.DenyUnlessPermit,
			[]documentDecision{dd("a", Indeterminate), dd("b", Permit)}, Permit},
		{"deny-unless-permit: empty set denies", ast.DenyUnlessPermit,
			nil, Deny},

		{"permit-unless-deny: defaults to permit", ast.PermitUnlessDeny,
			[]documentDecision{dd("a", NotApplicable), dd("b", Indeterminate)}, Permit},
		{"permit-unless-deny: deny escapes the default", ast.PermitUnlessDeny,
			[]documentDecision{dd("a", Permit), dd("b", Deny)}, Deny},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := combine(c.alg, c.results)
			assert.Equal(t, c.want, got.Decision)
		})
	}
}

func TestCombineAggregatesConstraintsFromWinningDocumentsOnly(t *testing.T) {
	logIt := value.String("log-it")
	tellAdmin := value.String("tell-admin")
	ignored := value.String("ignored")

	results := []documentDecision{
		{name: "a", decision: Deny, obligations: []value.Val{logIt}},
		{name: "b", decision: Permit, obligations: []value.Val{ignored}},
		{name: "c", decision: Deny, advice: []value.Val{tellAdmin}},
	}

	dec := combine(ast.DenyOverrides, results)
	assert.Equal(t, Deny, dec.Decision)
	assert.Equal(t, []value.Val{logIt}, dec.Obligations)
	assert.Equal(t, []value.Val{tellAdmin}, dec.Advice)
}

func TestCombineSingleTransformation(t *testing.T) {
	redacted := value.String("redacted")
	results := []documentDecision{
		{name: "a", decision: Permit, resource: &redacted},
		{name: "b", decision: NotApplicable},
	}

	dec := combine(ast.DenyOverrides, results)
	assert.Equal(t, Permit, dec.Decision)
	if assert.NotNil(t, dec.Resource) {
		assert.True(t, dec.Resource.Equals(redacted))
	}
}

func TestCombineTransformationUncertainty(t *testing.T) {
	redacted := value.String("redacted")

	// Two permits, one carrying a transformation: no single resource exists.
	results := []documentDecision{
		{name: "a", decision: Permit, resource: &redacted},
		{name: "b", decision: Permit},
	}

	dec := combine(ast.PermitOverrides, results)
	assert.Equal(t, Indeterminate, dec.Decision)
	assert.Nil(t, dec.Resource)

	// Default-decision algorithms never return INDETERMINATE; the conflict
	// resolves to DENY instead.
	dec = combine(ast.DenyUnlessPermit, results)
	assert.Equal(t, Deny, dec.Decision)

	dec = combine(ast.PermitUnlessDeny, results)
	assert.Equal(t, Deny, dec.Decision)
}

func TestCombineTransformationUncertaintyKeepsDenyObligations(t *testing.T) {
	redacted := value.String("redacted")
	auditIt := value.String("audit-it")

	results := []documentDecision{
		{name: "a", decision: Permit, resource: &redacted},
		{name: "b", decision: Permit},
		{name: "c", decision: Deny, obligations: []value.Val{auditIt}},
	}

	dec := combine(ast.DenyUnlessPermit, results)
	assert.Equal(t, Deny, dec.Decision)
	assert.Equal(t, []value.Val{auditIt}, dec.Obligations)
}

func TestDecisionJSONRoundTrip(t *testing.T) {
	for _, d := range []Decision{Permit, Deny, NotApplicable, Indeterminate} {
		data, err := d.MarshalJSON()
		assert.NoError(t, err)

		var back Decision
		assert.NoError(t, back.UnmarshalJSON(data))
		assert.Equal(t, d, back)
	}

	var d Decision
	assert.Error(t, d.UnmarshalJSON([]byte(`"MAYBE"`)))
}
