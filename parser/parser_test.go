package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspen-pdp/aspen/ast"
)

func TestParsePolicy(t *testing.T) {
	doc, err := ParseDocument("check_age.aspen", `
import time.*

policy "check age"
permit action == "read"
where
    var age = timeBetween(subject.birthday, dateOf(|<time.now>), "years");
    age >= resource.ageRating;
`)
	require.NoError(t, err)

	pol, ok := doc.(*ast.Policy)
	require.True(t, ok, "expected a policy document")
	assert.Equal(t, "check age", pol.Name)
	assert.Equal(t, ast.Permit, pol.Entitlement)
	assert.Equal(t, []ast.Import{{Library: "time", Name: "*"}}, pol.Imports)
	require.NotNil(t, pol.Target)
	require.Len(t, pol.Body, 2)

	def, ok := pol.Body[0].(*ast.ValueDefinition)
	require.True(t, ok, "expected first statement to bind a variable")
	assert.Equal(t, "age", def.Name)
}

func TestParsePolicyConstraints(t *testing.T) {
	doc, err := ParseDocument("log.aspen", `
policy "log access"
permit
obligation { "type": "logAccess", "message": "hello" }
advice { "type": "notify" }
transform resource |- { @.content : blacken(3) }
`)
	require.NoError(t, err)

	pol := doc.(*ast.Policy)
	assert.Len(t, pol.Obligations, 1)
	assert.Len(t, pol.Advice, 1)
	require.NotNil(t, pol.Transform)

	filter, ok := pol.Transform.(*ast.FilterExpr)
	require.True(t, ok, "expected a filter expression")
	require.Len(t, filter.Statements, 1)
	assert.Equal(t, []string{"content"}, filter.Statements[0].Path)
	assert.Equal(t, "blacken", filter.Statements[0].Function)
}

func TestParsePolicySet(t *testing.T) {
	doc, err := ParseDocument("set.aspen", `
set "check age set" first-applicable
for action == "read"

var limit = 18;

policy "a" permit subject.age >= limit
policy "b" deny
`)
	require.NoError(t, err)

	set, ok := doc.(*ast.PolicySet)
	require.True(t, ok, "expected a policy set")
	assert.Equal(t, ast.FirstApplicable, set.Algorithm)
	require.Len(t, set.Definitions, 1)
	require.Len(t, set.Policies, 2)
	assert.Equal(t, ast.Deny, set.Policies[1].Entitlement)
}

func TestPolicySetRequiresTwoPolicies(t *testing.T) {
	_, err := ParseDocument("set.aspen", `
set "lonely" deny-overrides
policy "only" permit
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two policies")
}

func TestPolicySetRejectsDuplicateNames(t *testing.T) {
	_, err := ParseDocument("set.aspen", `
set "dups" deny-overrides
policy "same" permit
policy "same" deny
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate policy name")
}

func TestTargetRestrictions(t *testing.T) {
	cases := []struct {
		name   string
		source string
		msg    string
	}{
		{
			name:   "lazy and",
			source: `policy "p" permit subject == "a" && action == "read"`,
			msg:    "lazy operator",
		},
		{
			name:   "lazy or",
			source: `policy "p" permit subject == "a" || subject == "b"`,
			msg:    "lazy operator",
		},
		{
			name:   "attribute reference",
			source: `policy "p" permit <time.now> == "never"`,
			msg:    "attribute stream references are not allowed",
		},
		{
			name:   "filter",
			source: `policy "p" permit resource |- { @.x : remove } == null`,
			msg:    "filter operator is not allowed",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseDocument("p.aspen", c.source)
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.msg)
		})
	}

	// Eager forms of the same conditions are fine.
	_, err := ParseDocument("p.aspen", `policy "p" permit subject == "a" & action == "read"`)
	assert.NoError(t, err)
	_, err = ParseDocument("p.aspen", `policy "p" permit subject == "a" | subject == "b"`)
	assert.NoError(t, err)
}

func TestWhereAllowsLazyAndAttributes(t *testing.T) {
	doc, err := ParseDocument("p.aspen", `
policy "p"
permit
where
    subject.role == "admin" || <registry.flag("beta")> == true;
`)
	require.NoError(t, err)
	pol := doc.(*ast.Policy)
	require.Len(t, pol.Body, 1)
}

func TestPipeCompoundTokensLexGreedily(t *testing.T) {
	// "|" directly followed by "-" or "<" is always the compound token.
	// Spaced, it is the eager-or operator.
	doc, err := ParseDocument("p.aspen", `
policy "p"
permit
where
    var x = subject.score | -1;
    x != null;
`)
	require.NoError(t, err)
	def := doc.(*ast.Policy).Body[0].(*ast.ValueDefinition)
	bin, ok := def.Expr.(*ast.BinaryOp)
	require.True(t, ok, "expected a binary expression")
	assert.Equal(t, ast.OpEagerOr, bin.Op)

	// Unspaced, the compound token wins and the document is rejected
	// rather than silently re-interpreted.
	_, err = ParseDocument("p.aspen", `
policy "p"
permit
where
    var x = subject.score |-1;
`)
	assert.Error(t, err, "\"|-\" starts a filter, a number is not a filter function")

	_, err = ParseDocument("p.aspen", `
policy "p"
permit
where
    var x = subject.score |<registry.flag>;
`)
	assert.Error(t, err, "\"|<\" starts a head attribute reference, not an operator")
}

func TestParseErrorsCarryPosition(t *testing.T) {
	_, err := ParseDocument("broken.aspen", "policy \"p\"\nallow\n")
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "broken.aspen", perr.Document)
	assert.Equal(t, 2, perr.Line)
}

func TestReservedNamesCannotBeBound(t *testing.T) {
	for _, reserved := range []string{"subject", "action", "resource", "environment"} {
		_, err := ParseDocument("p.aspen", `
policy "p"
permit
where
    var `+reserved+` = 1;
    true;
`)
		require.Error(t, err, "binding %q should fail", reserved)
	}
}

func TestParseExpression(t *testing.T) {
	expr, err := ParseExpression(`1 + 2 * 3 == 7`)
	require.NoError(t, err)

	cmp, ok := expr.(*ast.BinaryOp)
	require.True(t, ok)
	assert.Equal(t, ast.OpEqual, cmp.Op)

	sum, ok := cmp.Left.(*ast.BinaryOp)
	require.True(t, ok)
	assert.Equal(t, ast.OpAdd, sum.Op)

	// Multiplication binds tighter than addition.
	_, ok = sum.Right.(*ast.BinaryOp)
	require.True(t, ok)
}

func TestHeadAttributeReference(t *testing.T) {
	expr, err := ParseExpression(`dateOf(|<time.now>)`)
	require.NoError(t, err)

	call, ok := expr.(*ast.FunctionCall)
	require.True(t, ok)
	require.Len(t, call.Args, 1)

	ref, ok := call.Args[0].(*ast.AttributeRef)
	require.True(t, ok)
	assert.Equal(t, "time.now", ref.Name)
	assert.True(t, ref.Head)
}

func TestComments(t *testing.T) {
	_, err := ParseDocument("p.aspen", `
// single line
policy "p" /* inline */ permit
where
    true; // trailing
`)
	require.NoError(t, err)
}
