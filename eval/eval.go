// Package eval walks the expression AST and produces JSON values. Every
// failure (type mismatch, missing member, undefined variable, divide by
// zero, bad regex, unknown function, attribute source failure) surfaces as
// an *EvaluationError; the policy evaluator maps those to INDETERMINATE.
package eval

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/aspen-pdp/aspen/ast"
	"github.com/aspen-pdp/aspen/functions"
	"github.com/aspen-pdp/aspen/value"
)

// EvaluationError is a runtime failure inside an expression.
type EvaluationError struct {
	Msg   string
	Cause error
}

func (e *EvaluationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("evaluation error: %s: %v", e.Msg, e.Cause)
	}
	return "evaluation error: " + e.Msg
}

func (e *EvaluationError) Unwrap() error { return e.Cause }

// Errorf builds an EvaluationError. If the last argument is an error it
// becomes the cause.
func Errorf(format string, args ...any) *EvaluationError {
	var cause error
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			cause = err
		}
	}
	return &EvaluationError{Msg: fmt.Sprintf(format, args...), Cause: cause}
}

func wrap(err error) *EvaluationError {
	if ee, ok := err.(*EvaluationError); ok {
		return ee
	}
	return &EvaluationError{Msg: err.Error(), Cause: err}
}

// AttributeResolver supplies values for attribute stream references. A nil
// resolver (target evaluation, retrieval indexing) makes any reference fail.
type AttributeResolver interface {
	Resolve(ctx context.Context, name string, args []value.Val, head bool) (value.Val, error)
}

// Environment carries everything one expression evaluation needs: the four
// subscription slots, the variable bindings in scope, the function registry
// with the document's import aliases, and the attribute resolver.
//
// Environments are extended copy-on-write: WithVariable returns a child
// environment, so bindings never leak back into sibling or parent scopes.
type Environment struct {
	Subject     value.Val
	Action      value.Val
	Resource    value.Val
	Environment value.Val

	Variables  map[string]value.Val
	Functions  *functions.Registry
	Imports    map[string]string // bare name -> fully qualified name
	Attributes AttributeResolver
}

// WithVariable returns a copy of the environment with one extra binding.
func (e *Environment) WithVariable(name string, v value.Val) *Environment {
	child := *e
	child.Variables = make(map[string]value.Val, len(e.Variables)+1)
	for k, existing := range e.Variables {
		child.Variables[k] = existing
	}
	child.Variables[name] = v
	return &child
}

// ResolveFunction maps a (possibly imported) function name to its fully
// qualified form.
func (e *Environment) ResolveFunction(name string) (string, error) {
	if strings.Contains(name, ".") {
		if e.Functions != nil && e.Functions.Has(name) {
			return name, nil
		}
		return "", Errorf("unknown function %q", name)
	}
	if full, ok := e.Imports[name]; ok {
		return full, nil
	}
	return "", Errorf("unknown function %q (missing import?)", name)
}

// Evaluate computes the value of an expression.
func Evaluate(ctx context.Context, expr ast.Expr, env *Environment) (value.Val, error) {
	switch n := expr.(type) {
	case *ast.Literal:
		return n.Value, nil
	case *ast.ArrayLit:
		items := make([]value.Val, len(n.Items))
		for i, item := range n.Items {
			v, err := Evaluate(ctx, item, env)
			if err != nil {
				return value.Null(), err
			}
			items[i] = v
		}
		return value.Array(items...), nil
	case *ast.ObjectLit:
		members := make(map[string]value.Val, len(n.Keys))
		for i, key := range n.Keys {
			v, err := Evaluate(ctx, n.Values[i], env)
			if err != nil {
				return value.Null(), err
			}
			members[key] = v
		}
		return value.Object(members), nil
	case *ast.Identifier:
		return evaluateIdentifier(n, env)
	case *ast.MemberAccess:
		return evaluateMember(ctx, n, env)
	case *ast.IndexAccess:
		return evaluateIndex(ctx, n, env)
	case *ast.UnaryOp:
		return evaluateUnary(ctx, n, env)
	case *ast.BinaryOp:
		return evaluateBinary(ctx, n, env)
	case *ast.FunctionCall:
		return evaluateCall(ctx, n, env)
	case *ast.AttributeRef:
		return evaluateAttribute(ctx, n, env)
	case *ast.FilterExpr:
		return evaluateFilter(ctx, n, env)
	}
	return value.Null(), Errorf("unsupported expression node %T", expr)
}

// EvaluateBoolean evaluates an expression that must yield a boolean.
func EvaluateBoolean(ctx context.Context, expr ast.Expr, env *Environment) (bool, error) {
	v, err := Evaluate(ctx, expr, env)
	if err != nil {
		return false, err
	}
	b, err := v.BoolVal()
	if err != nil {
		return false, wrap(err)
	}
	return b, nil
}

func evaluateIdentifier(n *ast.Identifier, env *Environment) (value.Val, error) {
	switch n.Name {
	case "subject":
		return env.Subject, nil
	case "action":
		return env.Action, nil
	case "resource":
		return env.Resource, nil
	case "environment":
		return env.Environment, nil
	}
	if v, ok := env.Variables[n.Name]; ok {
		return v, nil
	}
	return value.Null(), Errorf("undefined variable %q", n.Name)
}

func evaluateMember(ctx context.Context, n *ast.MemberAccess, env *Environment) (value.Val, error) {
	target, err := Evaluate(ctx, n.Target, env)
	if err != nil {
		return value.Null(), err
	}
	member, ok, err := target.Member(n.Key)
	if err != nil {
		return value.Null(), Errorf("cannot access member %q: %v", n.Key, err)
	}
	if !ok {
		return value.Null(), Errorf("object has no member %q", n.Key)
	}
	return member, nil
}

func evaluateIndex(ctx context.Context, n *ast.IndexAccess, env *Environment) (value.Val, error) {
	target, err := Evaluate(ctx, n.Target, env)
	if err != nil {
		return value.Null(), err
	}
	index, err := Evaluate(ctx, n.Index, env)
	if err != nil {
		return value.Null(), err
	}
	switch target.Kind() {
	case value.KindArray:
		items, _ := target.Items()
		idx, err := index.NumberVal()
		if err != nil {
			return value.Null(), Errorf("array index must be a number: %v", err)
		}
		i := int(idx)
		if float64(i) != idx {
			return value.Null(), Errorf("array index %v is not an integer", idx)
		}
		if i < 0 || i >= len(items) {
			return value.Null(), Errorf("array index %d out of bounds (length %d)", i, len(items))
		}
		return items[i], nil
	case value.KindObject:
		key, err := index.StringVal()
		if err != nil {
			return value.Null(), Errorf("object index must be a string: %v", err)
		}
		member, ok, _ := target.Member(key)
		if !ok {
			return value.Null(), Errorf("object has no member %q", key)
		}
		return member, nil
	}
	return value.Null(), Errorf("cannot index into %s", target.Kind())
}

func evaluateUnary(ctx context.Context, n *ast.UnaryOp, env *Environment) (value.Val, error) {
	operand, err := Evaluate(ctx, n.Operand, env)
	if err != nil {
		return value.Null(), err
	}
	switch n.Op {
	case ast.OpNot:
		b, err := operand.BoolVal()
		if err != nil {
			return value.Null(), Errorf("operator ! expects a boolean: %v", err)
		}
		return value.Boolean(!b), nil
	case ast.OpNegate:
		f, err := operand.NumberVal()
		if err != nil {
			return value.Null(), Errorf("unary - expects a number: %v", err)
		}
		return value.Number(-f), nil
	}
	return value.Null(), Errorf("unsupported unary operator %s", n.Op)
}

func evaluateBinary(ctx context.Context, n *ast.BinaryOp, env *Environment) (value.Val, error) {
	switch n.Op {
	case ast.OpAnd, ast.OpOr:
		return evaluateLazy(ctx, n, env)
	case ast.OpEagerAnd, ast.OpEagerOr:
		return evaluateEager(ctx, n, env)
	}

	left, err := Evaluate(ctx, n.Left, env)
	if err != nil {
		return value.Null(), err
	}
	right, err := Evaluate(ctx, n.Right, env)
	if err != nil {
		return value.Null(), err
	}

	switch n.Op {
	case ast.OpEqual:
		return value.Boolean(left.Equals(right)), nil
	case ast.OpNotEqual:
		return value.Boolean(!left.Equals(right)), nil
	case ast.OpRegex:
		return evaluateRegex(left, right)
	case ast.OpAdd:
		if left.Kind() == value.KindString && right.Kind() == value.KindString {
			l, _ := left.StringVal()
			r, _ := right.StringVal()
			return value.String(l + r), nil
		}
		return numeric(n.Op, left, right)
	case ast.OpSubtract, ast.OpMultiply, ast.OpDivide, ast.OpModulo,
		ast.OpLess, ast.OpLessEqual, ast.OpGreater, ast.OpGreaterEqual:
		return numeric(n.Op, left, right)
	}
	return value.Null(), Errorf("unsupported binary operator %s", n.Op)
}

// evaluateLazy implements the short-circuiting && and ||.
func evaluateLazy(ctx context.Context, n *ast.BinaryOp, env *Environment) (value.Val, error) {
	left, err := EvaluateBoolean(ctx, n.Left, env)
	if err != nil {
		return value.Null(), err
	}
	if n.Op == ast.OpAnd && !left {
		return value.False, nil
	}
	if n.Op == ast.OpOr && left {
		return value.True, nil
	}
	right, err := EvaluateBoolean(ctx, n.Right, env)
	if err != nil {
		return value.Null(), err
	}
	return value.Boolean(right), nil
}

// evaluateEager implements & and |, which always evaluate both operands.
func evaluateEager(ctx context.Context, n *ast.BinaryOp, env *Environment) (value.Val, error) {
	left, err := EvaluateBoolean(ctx, n.Left, env)
	if err != nil {
		return value.Null(), err
	}
	right, err := EvaluateBoolean(ctx, n.Right, env)
	if err != nil {
		return value.Null(), err
	}
	if n.Op == ast.OpEagerAnd {
		return value.Boolean(left && right), nil
	}
	return value.Boolean(left || right), nil
}

func evaluateRegex(left, right value.Val) (value.Val, error) {
	s, err := left.StringVal()
	if err != nil {
		return value.Null(), Errorf("operator =~ expects a string on the left: %v", err)
	}
	pattern, err := right.StringVal()
	if err != nil {
		return value.Null(), Errorf("operator =~ expects a pattern string on the right: %v", err)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return value.Null(), Errorf("invalid regular expression %q: %v", pattern, err)
	}
	return value.Boolean(re.MatchString(s)), nil
}

func numeric(op ast.Operator, left, right value.Val) (value.Val, error) {
	l, err := left.NumberVal()
	if err != nil {
		return value.Null(), Errorf("operator %s expects numbers: %v", op, err)
	}
	r, err := right.NumberVal()
	if err != nil {
		return value.Null(), Errorf("operator %s expects numbers: %v", op, err)
	}
	switch op {
	case ast.OpAdd:
		return value.Number(l + r), nil
	case ast.OpSubtract:
		return value.Number(l - r), nil
	case ast.OpMultiply:
		return value.Number(l * r), nil
	case ast.OpDivide:
		if r == 0 {
			return value.Null(), Errorf("division by zero")
		}
		return value.Number(l / r), nil
	case ast.OpModulo:
		if r == 0 {
			return value.Null(), Errorf("modulo by zero")
		}
		return value.Number(math.Mod(l, r)), nil
	case ast.OpLess:
		return value.Boolean(l < r), nil
	case ast.OpLessEqual:
		return value.Boolean(l <= r), nil
	case ast.OpGreater:
		return value.Boolean(l > r), nil
	case ast.OpGreaterEqual:
		return value.Boolean(l >= r), nil
	}
	return value.Null(), Errorf("unsupported numeric operator %s", op)
}

func evaluateCall(ctx context.Context, n *ast.FunctionCall, env *Environment) (value.Val, error) {
	name, err := env.ResolveFunction(n.Name)
	if err != nil {
		return value.Null(), err
	}
	args := make([]value.Val, len(n.Args))
	for i, arg := range n.Args {
		v, err := Evaluate(ctx, arg, env)
		if err != nil {
			return value.Null(), err
		}
		args[i] = v
	}
	result, err := env.Functions.Call(name, args...)
	if err != nil {
		return value.Null(), wrap(err)
	}
	return result, nil
}

func evaluateAttribute(ctx context.Context, n *ast.AttributeRef, env *Environment) (value.Val, error) {
	if env.Attributes == nil {
		return value.Null(), Errorf("attribute <%s> is not available in this context", n.Name)
	}
	args := make([]value.Val, len(n.Args))
	for i, arg := range n.Args {
		v, err := Evaluate(ctx, arg, env)
		if err != nil {
			return value.Null(), err
		}
		args[i] = v
	}
	v, err := env.Attributes.Resolve(ctx, n.Name, args, n.Head)
	if err != nil {
		return value.Null(), wrap(err)
	}
	return v, nil
}
