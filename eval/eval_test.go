package eval

import (
	"context"
	"testing"

	"github.com/aspen-pdp/aspen/functions"
	"github.com/aspen-pdp/aspen/parser"
	"github.com/aspen-pdp/aspen/value"
)

// staticResolver serves attribute references from a fixed map.
type staticResolver struct {
	attrs map[string]value.Val
}

func (r *staticResolver) Resolve(_ context.Context, name string, _ []value.Val, _ bool) (value.Val, error) {
	v, ok := r.attrs[name]
	if !ok {
		return value.Null(), Errorf("unknown attribute %q", name)
	}
	return v, nil
}

func testEnv(t *testing.T) *Environment {
	t.Helper()
	subject, err := value.Parse([]byte(`{"name": "alice", "age": 17, "roles": ["reader", "writer"]}`))
	if err != nil {
		t.Fatalf("failed to build subject: %v", err)
	}
	resource, _ := value.Parse([]byte(`{"name": "Dune", "ageRating": 12}`))
	return &Environment{
		Subject:     subject,
		Action:      value.String("read"),
		Resource:    resource,
		Environment: value.Null(),
		Variables:   map[string]value.Val{"limit": value.Integer(18)},
		Functions:   functions.DefaultRegistry(),
		Imports:     map[string]string{"length": "standard.length"},
		Attributes: &staticResolver{attrs: map[string]value.Val{
			"registry.flag": value.True,
		}},
	}
}

func evalString(t *testing.T, src string, env *Environment) (value.Val, error) {
	t.Helper()
	expr, err := parser.ParseExpression(src)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", src, err)
	}
	return Evaluate(context.Background(), expr, env)
}

func mustEval(t *testing.T, src string, env *Environment) value.Val {
	t.Helper()
	v, err := evalString(t, src, env)
	if err != nil {
		t.Fatalf("failed to evaluate %q: %v", src, err)
	}
	return v
}

func TestExpressions(t *testing.T) {
	env := testEnv(t)
	cases := []struct {
		src  string
		want value.Val
	}{
		{`subject.name`, value.String("alice")},
		{`subject.roles[1]`, value.String("writer")},
		{`subject.age < limit`, value.True},
		{`action == "read"`, value.True},
		{`1 + 2 * 3`, value.Integer(7)},
		{`(1 + 2) * 3`, value.Integer(9)},
		{`10 % 3`, value.Integer(1)},
		{`-subject.age`, value.Integer(-17)},
		{`!false`, value.True},
		{`"foo" + "bar"`, value.String("foobar")},
		{`subject.name =~ "^a.*e$"`, value.True},
		{`length(subject.roles)`, value.Integer(2)},
		{`standard.asString(17)`, value.String("17")},
		{`[1, 2][0]`, value.Integer(1)},
		{`{"a": subject.age}.a`, value.Integer(17)},
		{`null == null`, value.True},
		{`subject.age != resource.ageRating`, value.True},
	}
	for _, c := range cases {
		t.Run(c.src, func(t *testing.T) {
			got := mustEval(t, c.src, env)
			if !got.Equals(c.want) {
				t.Errorf("expected %v, got %v", c.want, got)
			}
		})
	}
}

func TestErrors(t *testing.T) {
	env := testEnv(t)
	cases := []string{
		`subject.missing`,     // missing member
		`undefinedVar`,        // unbound variable
		`1 / 0`,               // division by zero
		`5 % 0`,               // modulo by zero
		`"a" + 1`,             // mixed concatenation
		`true + true`,         // addition of booleans
		`subject.age && true`, // non-boolean operand
		`unknownFn(1)`,        // unknown function
		`subject.name =~ "["`, // bad regex
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			if _, err := evalString(t, src, env); err == nil {
				t.Errorf("expected evaluation error for %q", src)
			}
		})
	}
}

func TestLazyOperatorsShortCircuit(t *testing.T) {
	env := testEnv(t)

	// The right side would fail; laziness must prevent its evaluation.
	v := mustEval(t, `false && subject.missing == 1`, env)
	if b, _ := v.BoolVal(); b {
		t.Error("expected false")
	}
	v = mustEval(t, `true || subject.missing == 1`, env)
	if b, _ := v.BoolVal(); !b {
		t.Error("expected true")
	}

	// Eager operators evaluate both sides.
	if _, err := evalString(t, `false & subject.missing == 1`, env); err == nil {
		t.Error("expected eager & to surface the error")
	}
	if _, err := evalString(t, `true | subject.missing == 1`, env); err == nil {
		t.Error("expected eager | to surface the error")
	}
}

func TestAttributeReferences(t *testing.T) {
	env := testEnv(t)

	v := mustEval(t, `<registry.flag("beta")>`, env)
	if b, _ := v.BoolVal(); !b {
		t.Error("expected true from attribute")
	}

	if _, err := evalString(t, `<registry.unknown>`, env); err == nil {
		t.Error("expected error for unknown attribute")
	}

	// Without a resolver any reference fails.
	bare := *env
	bare.Attributes = nil
	if _, err := evalString(t, `<registry.flag>`, &bare); err == nil {
		t.Error("expected error without a resolver")
	}
}

func TestFilterExpression(t *testing.T) {
	env := testEnv(t)

	v := mustEval(t, `resource |- { @.name : blacken(1) }`, &Environment{
		Subject:     env.Subject,
		Action:      env.Action,
		Resource:    env.Resource,
		Environment: env.Environment,
		Functions:   env.Functions,
		Imports:     map[string]string{"blacken": "filter.blacken"},
	})
	name, _, err := v.Member("name")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s, _ := name.StringVal(); s != "DXXX" {
		t.Errorf("expected DXXX, got %v", name)
	}

	// The source value is untouched.
	orig, _, _ := env.Resource.Member("name")
	if s, _ := orig.StringVal(); s != "Dune" {
		t.Errorf("filter mutated its input: %v", orig)
	}
}

func TestFilterRemove(t *testing.T) {
	env := testEnv(t)
	env.Imports = map[string]string{"remove": "filter.remove"}

	v := mustEval(t, `resource |- { @.ageRating : remove }`, env)
	if _, ok, _ := v.Member("ageRating"); ok {
		t.Error("expected ageRating removed")
	}
	if _, ok, _ := v.Member("name"); !ok {
		t.Error("expected name kept")
	}
}

func TestEvaluateBoolean(t *testing.T) {
	env := testEnv(t)

	expr, _ := parser.ParseExpression(`subject.age >= 17`)
	b, err := EvaluateBoolean(context.Background(), expr, env)
	if err != nil || !b {
		t.Errorf("expected true, got %v (%v)", b, err)
	}

	// Non-boolean results are errors, not truthiness.
	expr, _ = parser.ParseExpression(`subject.age`)
	if _, err := EvaluateBoolean(context.Background(), expr, env); err == nil {
		t.Error("expected error for non-boolean condition")
	}
}
