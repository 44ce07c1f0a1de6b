// Package ast defines the in-memory representation of parsed policy
// documents. A document is a closed tagged union of Policy and PolicySet;
// expressions form a tree of closed node types walked by the evaluator.
// Nodes are immutable after parsing.
package ast

import "github.com/aspen-pdp/aspen/value"

// Entitlement is the outcome a policy declares when its body succeeds.
type Entitlement int

const (
	Permit Entitlement = iota
	Deny
)

func (e Entitlement) String() string {
	if e == Permit {
		return "permit"
	}
	return "deny"
}

// CombiningAlgorithm selects how a set of child decisions is folded into one.
type CombiningAlgorithm string

const (
	DenyOverrides     CombiningAlgorithm = "deny-overrides"
	PermitOverrides   CombiningAlgorithm = "permit-overrides"
	FirstApplicable   CombiningAlgorithm = "first-applicable"
	OnlyOneApplicable CombiningAlgorithm = "only-one-applicable"
	DenyUnlessPermit  CombiningAlgorithm = "deny-unless-permit"
	PermitUnlessDeny  CombiningAlgorithm = "permit-unless-deny"
)

// ValidAlgorithm reports whether s names a supported combining algorithm.
func ValidAlgorithm(s string) bool {
	switch CombiningAlgorithm(s) {
	case DenyOverrides, PermitOverrides, FirstApplicable,
		OnlyOneApplicable, DenyUnlessPermit, PermitUnlessDeny:
		return true
	}
	return false
}

// Import makes a library function resolvable by its bare name inside one
// document. Name "*" imports every function of the library.
type Import struct {
	Library string
	Name    string
}

// Document is a parsed top-level policy document: a Policy or a PolicySet.
type Document interface {
	DocumentName() string
	// TargetExpression returns the document's applicability test, or nil
	// when the document is unconditionally applicable.
	TargetExpression() Expr
	DocumentImports() []Import
}

// Policy is a single rule document. Target and Transform may be nil;
// Body, Obligations, and Advice may be empty.
type Policy struct {
	Name        string
	Imports     []Import
	Target      Expr
	Entitlement Entitlement
	Body        []Statement
	Obligations []Expr
	Advice      []Expr
	Transform   Expr
}

func (p *Policy) DocumentName() string      { return p.Name }
func (p *Policy) TargetExpression() Expr    { return p.Target }
func (p *Policy) DocumentImports() []Import { return p.Imports }

// PolicySet groups two or more policies under one target expression and
// combining algorithm. Definitions are evaluated once and shared by every
// child policy.
type PolicySet struct {
	Name        string
	Imports     []Import
	Algorithm   CombiningAlgorithm
	Target      Expr
	Definitions []*ValueDefinition
	Policies    []*Policy
}

func (s *PolicySet) DocumentName() string      { return s.Name }
func (s *PolicySet) TargetExpression() Expr    { return s.Target }
func (s *PolicySet) DocumentImports() []Import { return s.Imports }

// Statement is one clause of a policy body: a boolean Condition or a
// ValueDefinition binding a variable for subsequent clauses.
type Statement interface{ isStatement() }

// Condition is a boolean rule expression.
type Condition struct {
	Expr Expr
}

// ValueDefinition binds the result of an expression to a name.
type ValueDefinition struct {
	Name string
	Expr Expr
}

func (*Condition) isStatement()       {}
func (*ValueDefinition) isStatement() {}

// Operator enumerates unary and binary expression operators.
type Operator int

const (
	OpNot Operator = iota // !
	OpNegate              // unary -
	OpAnd                 // && (lazy)
	OpOr                  // || (lazy)
	OpEagerAnd            // &
	OpEagerOr             // |
	OpEqual               // ==
	OpNotEqual            // !=
	OpRegex               // =~
	OpLess                // <
	OpLessEqual           // <=
	OpGreater             // >
	OpGreaterEqual        // >=
	OpAdd                 // +
	OpSubtract            // -
	OpMultiply            // *
	OpDivide              // /
	OpModulo              // %
)

var operatorNames = map[Operator]string{
	OpNot: "!", OpNegate: "-", OpAnd: "&&", OpOr: "||",
	OpEagerAnd: "&", OpEagerOr: "|", OpEqual: "==", OpNotEqual: "!=",
	OpRegex: "=~", OpLess: "<", OpLessEqual: "<=", OpGreater: ">",
	OpGreaterEqual: ">=", OpAdd: "+", OpSubtract: "-", OpMultiply: "*",
	OpDivide: "/", OpModulo: "%",
}

func (o Operator) String() string { return operatorNames[o] }

// Expr is a node of the expression tree.
type Expr interface{ isExpr() }

// Literal is a constant JSON value.
type Literal struct {
	Value value.Val
}

// ArrayLit is an array constructor.
type ArrayLit struct {
	Items []Expr
}

// ObjectLit is an object constructor. Keys and Values are parallel and keep
// source order.
type ObjectLit struct {
	Keys   []string
	Values []Expr
}

// Identifier references a subscription slot (subject, action, resource,
// environment) or a bound variable.
type Identifier struct {
	Name string
}

// MemberAccess selects an object member: target.key.
type MemberAccess struct {
	Target Expr
	Key    string
}

// IndexAccess selects an array element or object member: target[index].
type IndexAccess struct {
	Target Expr
	Index  Expr
}

// UnaryOp applies ! or unary - to its operand.
type UnaryOp struct {
	Op      Operator
	Operand Expr
}

// BinaryOp applies a binary operator.
type BinaryOp struct {
	Op    Operator
	Left  Expr
	Right Expr
}

// FunctionCall invokes a registered pure function. Name is the dotted
// library name, or a bare name resolved through the document's imports.
type FunctionCall struct {
	Name string
	Args []Expr
}

// AttributeRef subscribes to an external attribute stream
// (<namespace.identifier(args...)>). Head narrows the stream to its first
// value, releasing the subscription afterwards.
type AttributeRef struct {
	Name string
	Args []Expr
	Head bool
}

// FilterExpr rewrites selected members of the target value with function
// results. It is only meaningful inside transform expressions.
type FilterExpr struct {
	Target     Expr
	Statements []FilterStatement
}

// FilterStatement applies Function to the node reached by following Path
// (member keys relative to the filtered value). An empty Path selects the
// whole value.
type FilterStatement struct {
	Path     []string
	Function string
	Args     []Expr
}

func (*Literal) isExpr()      {}
func (*ArrayLit) isExpr()     {}
func (*ObjectLit) isExpr()    {}
func (*Identifier) isExpr()   {}
func (*MemberAccess) isExpr() {}
func (*IndexAccess) isExpr()  {}
func (*UnaryOp) isExpr()      {}
func (*BinaryOp) isExpr()     {}
func (*FunctionCall) isExpr() {}
func (*AttributeRef) isExpr() {}
func (*FilterExpr) isExpr()   {}
