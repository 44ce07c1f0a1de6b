package eval

import (
	"context"

	"github.com/aspen-pdp/aspen/ast"
	"github.com/aspen-pdp/aspen/value"
)

// filterRemoveName is treated structurally: the selected member is dropped
// from its containing object instead of being rewritten.
const filterRemoveName = "filter.remove"

// evaluateFilter applies the filter statements of a transform expression to
// the target value, statement by statement, in source order.
func evaluateFilter(ctx context.Context, n *ast.FilterExpr, env *Environment) (value.Val, error) {
	target, err := Evaluate(ctx, n.Target, env)
	if err != nil {
		return value.Null(), err
	}
	for _, stmt := range n.Statements {
		target, err = applyFilterStatement(ctx, target, stmt, env)
		if err != nil {
			return value.Null(), err
		}
	}
	return target, nil
}

func applyFilterStatement(ctx context.Context, target value.Val, stmt ast.FilterStatement, env *Environment) (value.Val, error) {
	name, err := env.ResolveFunction(stmt.Function)
	if err != nil {
		return value.Null(), err
	}
	args := make([]value.Val, len(stmt.Args))
	for i, arg := range stmt.Args {
		v, err := Evaluate(ctx, arg, env)
		if err != nil {
			return value.Null(), err
		}
		args[i] = v
	}
	return rewriteAtPath(target, stmt.Path, name, args, env)
}

// rewriteAtPath walks down the member path and replaces (or removes) the
// selected node. Containers along the path are copied, never mutated.
func rewriteAtPath(node value.Val, path []string, fn string, args []value.Val, env *Environment) (value.Val, error) {
	if len(path) == 0 {
		if fn == filterRemoveName {
			return value.Null(), Errorf("filter.remove cannot remove the filtered value itself")
		}
		return callFilterFunction(fn, node, args, env)
	}

	key := path[0]
	child, ok, err := node.Member(key)
	if err != nil {
		return value.Null(), Errorf("filter path step %q: %v", key, err)
	}
	if !ok {
		return value.Null(), Errorf("filter path selects missing member %q", key)
	}

	if len(path) == 1 && fn == filterRemoveName {
		result, err := node.WithoutMember(key)
		if err != nil {
			return value.Null(), wrap(err)
		}
		return result, nil
	}

	rewritten, err := rewriteAtPath(child, path[1:], fn, args, env)
	if err != nil {
		return value.Null(), err
	}
	result, err := node.WithMember(key, rewritten)
	if err != nil {
		return value.Null(), wrap(err)
	}
	return result, nil
}

// callFilterFunction invokes a filter function with the selected node as
// the implicit first argument.
func callFilterFunction(fn string, node value.Val, args []value.Val, env *Environment) (value.Val, error) {
	callArgs := append([]value.Val{node}, args...)
	result, err := env.Functions.Call(fn, callArgs...)
	if err != nil {
		return value.Null(), wrap(err)
	}
	return result, nil
}
