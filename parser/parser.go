// Package parser turns policy document source text into the AST consumed by
// the evaluator. Parsing happens once at load time; a document that fails to
// parse is excluded from the loaded set.
//
// Target expressions (the applicability test following the entitlement, or
// the "for" clause of a set) are restricted at parse time: lazy boolean
// operators, attribute stream references, and the filter operator are
// rejected. This keeps applicability indexing side-effect free.
package parser

import (
	"fmt"
	"strconv"

	"github.com/aspen-pdp/aspen/ast"
	"github.com/aspen-pdp/aspen/value"
)

// reserved words that cannot be used as variable names.
var reservedNames = map[string]bool{
	"subject": true, "action": true, "resource": true, "environment": true,
	"true": true, "false": true, "null": true,
	"policy": true, "set": true, "permit": true, "deny": true,
	"where": true, "var": true, "obligation": true, "advice": true,
	"transform": true, "import": true, "for": true,
}

type parser struct {
	doc    string
	toks   []token
	pos    int
	target bool // restricted target-expression mode
}

// ParseDocument parses one policy document. name is used in error messages
// only (typically the source filename).
func ParseDocument(name, source string) (ast.Document, error) {
	toks, err := tokenize(source)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Document = name
		}
		return nil, err
	}
	p := &parser{doc: name, toks: toks}
	doc, err := p.parseDocument()
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Document = name
		}
		return nil, err
	}
	return doc, nil
}

// ParseExpression parses a standalone expression. Used by tests and tooling.
func ParseExpression(source string) (ast.Expr, error) {
	toks, err := tokenize(source)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if !p.at(tokEOF) {
		return nil, p.errorf("unexpected %q after expression", p.cur().text)
	}
	return expr, nil
}

func (p *parser) cur() token  { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) at(kind tokenKind) bool { return p.cur().kind == kind }

func (p *parser) atKeyword(kw string) bool {
	return p.cur().kind == tokIdent && p.cur().text == kw
}

func (p *parser) errorf(format string, args ...any) *ParseError {
	t := p.cur()
	return &ParseError{Line: t.line, Col: t.col, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	if !p.at(kind) {
		return token{}, p.errorf("expected %s, got %q", what, p.cur().text)
	}
	return p.next(), nil
}

func (p *parser) expectKeyword(kw string) error {
	if !p.atKeyword(kw) {
		return p.errorf("expected %q, got %q", kw, p.cur().text)
	}
	p.next()
	return nil
}

func (p *parser) parseDocument() (ast.Document, error) {
	imports, err := p.parseImports()
	if err != nil {
		return nil, err
	}
	switch {
	case p.atKeyword("policy"):
		pol, err := p.parsePolicy()
		if err != nil {
			return nil, err
		}
		pol.Imports = imports
		if !p.at(tokEOF) {
			return nil, p.errorf("unexpected %q after policy", p.cur().text)
		}
		return pol, nil
	case p.atKeyword("set"):
		ps, err := p.parsePolicySet()
		if err != nil {
			return nil, err
		}
		ps.Imports = imports
		if !p.at(tokEOF) {
			return nil, p.errorf("unexpected %q after policy set", p.cur().text)
		}
		return ps, nil
	}
	return nil, p.errorf("expected \"policy\" or \"set\", got %q", p.cur().text)
}

func (p *parser) parseImports() ([]ast.Import, error) {
	var imports []ast.Import
	for p.atKeyword("import") {
		p.next()
		lib, err := p.expect(tokIdent, "library name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokDot, "\".\""); err != nil {
			return nil, err
		}
		switch {
		case p.at(tokIdent):
			imports = append(imports, ast.Import{Library: lib.text, Name: p.next().text})
		case p.at(tokStar):
			p.next()
			imports = append(imports, ast.Import{Library: lib.text, Name: "*"})
		default:
			return nil, p.errorf("expected function name or \"*\" after %q.", lib.text)
		}
	}
	return imports, nil
}

func (p *parser) parsePolicy() (*ast.Policy, error) {
	if err := p.expectKeyword("policy"); err != nil {
		return nil, err
	}
	name, err := p.expect(tokString, "policy name")
	if err != nil {
		return nil, err
	}
	pol := &ast.Policy{Name: name.text}

	switch {
	case p.atKeyword("permit"):
		pol.Entitlement = ast.Permit
	case p.atKeyword("deny"):
		pol.Entitlement = ast.Deny
	default:
		return nil, p.errorf("expected \"permit\" or \"deny\", got %q", p.cur().text)
	}
	p.next()

	if p.startsExpression() {
		pol.Target, err = p.parseTargetExpression()
		if err != nil {
			return nil, err
		}
	}

	if p.atKeyword("where") {
		p.next()
		pol.Body, err = p.parseStatements()
		if err != nil {
			return nil, err
		}
	}

	for p.atKeyword("obligation") || p.atKeyword("advice") {
		kw := p.next().text
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if kw == "obligation" {
			pol.Obligations = append(pol.Obligations, expr)
		} else {
			pol.Advice = append(pol.Advice, expr)
		}
	}

	if p.atKeyword("transform") {
		p.next()
		pol.Transform, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	return pol, nil
}

func (p *parser) parsePolicySet() (*ast.PolicySet, error) {
	if err := p.expectKeyword("set"); err != nil {
		return nil, err
	}
	name, err := p.expect(tokString, "policy set name")
	if err != nil {
		return nil, err
	}
	alg, err := p.parseAlgorithm()
	if err != nil {
		return nil, err
	}
	ps := &ast.PolicySet{Name: name.text, Algorithm: alg}

	if p.atKeyword("for") {
		p.next()
		ps.Target, err = p.parseTargetExpression()
		if err != nil {
			return nil, err
		}
	}

	for p.atKeyword("var") {
		def, err := p.parseValueDefinition()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokSemicolon, "\";\""); err != nil {
			return nil, err
		}
		ps.Definitions = append(ps.Definitions, def)
	}

	names := map[string]bool{}
	for p.atKeyword("policy") {
		child, err := p.parsePolicy()
		if err != nil {
			return nil, err
		}
		if names[child.Name] {
			return nil, p.errorf("duplicate policy name %q in set %q", child.Name, ps.Name)
		}
		names[child.Name] = true
		ps.Policies = append(ps.Policies, child)
	}
	if len(ps.Policies) < 2 {
		return nil, p.errorf("policy set %q requires at least two policies", ps.Name)
	}
	return ps, nil
}

// parseAlgorithm reads a hyphenated algorithm name such as "deny-overrides".
func (p *parser) parseAlgorithm() (ast.CombiningAlgorithm, error) {
	first, err := p.expect(tokIdent, "combining algorithm")
	if err != nil {
		return "", err
	}
	name := first.text
	for p.at(tokMinus) {
		p.next()
		part, err := p.expect(tokIdent, "combining algorithm")
		if err != nil {
			return "", err
		}
		name += "-" + part.text
	}
	if !ast.ValidAlgorithm(name) {
		return "", p.errorf("unknown combining algorithm %q", name)
	}
	return ast.CombiningAlgorithm(name), nil
}

func (p *parser) parseValueDefinition() (*ast.ValueDefinition, error) {
	if err := p.expectKeyword("var"); err != nil {
		return nil, err
	}
	name, err := p.expect(tokIdent, "variable name")
	if err != nil {
		return nil, err
	}
	if reservedNames[name.text] {
		return nil, p.errorf("%q is reserved and cannot be assigned", name.text)
	}
	if _, err := p.expect(tokAssign, "\"=\""); err != nil {
		return nil, err
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &ast.ValueDefinition{Name: name.text, Expr: expr}, nil
}

func (p *parser) parseStatements() ([]ast.Statement, error) {
	var stmts []ast.Statement
	for {
		var stmt ast.Statement
		if p.atKeyword("var") {
			def, err := p.parseValueDefinition()
			if err != nil {
				return nil, err
			}
			stmt = def
		} else {
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			stmt = &ast.Condition{Expr: expr}
		}
		stmts = append(stmts, stmt)
		if p.at(tokSemicolon) {
			p.next()
			if p.startsStatement() {
				continue
			}
		}
		return stmts, nil
	}
}

func (p *parser) startsStatement() bool {
	if p.atKeyword("var") {
		return true
	}
	return p.startsExpression()
}

// startsExpression reports whether the current token can begin an
// expression. Section keywords (where, obligation, ...) do not.
func (p *parser) startsExpression() bool {
	switch p.cur().kind {
	case tokNumber, tokString, tokLParen, tokLBracket, tokLBrace,
		tokBang, tokMinus, tokLess, tokPipeLess:
		return true
	case tokIdent:
		switch p.cur().text {
		case "where", "obligation", "advice", "transform", "policy", "set", "var", "for", "import":
			return false
		}
		return true
	}
	return false
}

func (p *parser) parseTargetExpression() (ast.Expr, error) {
	p.target = true
	defer func() { p.target = false }()
	return p.parseExpression()
}

// Binding powers, low to high. The filter operator binds loosest so that
// "resource |- { ... }" filters the whole left-hand expression.
const (
	precFilter = iota + 1
	precLazyOr
	precLazyAnd
	precEagerOr
	precEagerAnd
	precEquality
	precComparison
	precAdditive
	precMultiplicative
)

type binarySpec struct {
	prec int
	op   ast.Operator
	lazy bool
}

var binarySpecs = map[tokenKind]binarySpec{
	tokPipePipe:  {precLazyOr, ast.OpOr, true},
	tokAmpAmp:    {precLazyAnd, ast.OpAnd, true},
	tokPipe:      {precEagerOr, ast.OpEagerOr, false},
	tokAmp:       {precEagerAnd, ast.OpEagerAnd, false},
	tokEq:        {precEquality, ast.OpEqual, false},
	tokNotEq:     {precEquality, ast.OpNotEqual, false},
	tokRegex:     {precEquality, ast.OpRegex, false},
	tokLess:      {precComparison, ast.OpLess, false},
	tokLessEq:    {precComparison, ast.OpLessEqual, false},
	tokGreater:   {precComparison, ast.OpGreater, false},
	tokGreaterEq: {precComparison, ast.OpGreaterEqual, false},
	tokPlus:      {precAdditive, ast.OpAdd, false},
	tokMinus:     {precAdditive, ast.OpSubtract, false},
	tokStar:      {precMultiplicative, ast.OpMultiply, false},
	tokSlash:     {precMultiplicative, ast.OpDivide, false},
	tokPercent:   {precMultiplicative, ast.OpModulo, false},
}

func (p *parser) parseExpression() (ast.Expr, error) {
	return p.parseBinary(precFilter)
}

func (p *parser) parseBinary(minPrec int) (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		if p.at(tokPipeMinus) && minPrec <= precFilter {
			if p.target {
				return nil, p.errorf("filter operator is not allowed in target expressions")
			}
			p.next()
			left, err = p.parseFilter(left)
			if err != nil {
				return nil, err
			}
			continue
		}
		spec, ok := binarySpecs[p.cur().kind]
		if !ok || spec.prec < minPrec {
			return left, nil
		}
		if spec.lazy && p.target {
			return nil, p.errorf("lazy operator %q is not allowed in target expressions (use %q)",
				p.cur().text, p.cur().text[:1])
		}
		p.next()
		right, err := p.parseBinary(spec.prec + 1)
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryOp{Op: spec.op, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (ast.Expr, error) {
	switch p.cur().kind {
	case tokBang:
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: ast.OpNot, Operand: operand}, nil
	case tokMinus:
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryOp{Op: ast.OpNegate, Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (ast.Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().kind {
		case tokDot:
			p.next()
			key, err := p.expect(tokIdent, "member name")
			if err != nil {
				return nil, err
			}
			expr = &ast.MemberAccess{Target: expr, Key: key.text}
		case tokLBracket:
			p.next()
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBracket, "\"]\""); err != nil {
				return nil, err
			}
			expr = &ast.IndexAccess{Target: expr, Index: index}
		default:
			return expr, nil
		}
	}
}

func (p *parser) parsePrimary() (ast.Expr, error) {
	switch p.cur().kind {
	case tokNumber:
		t := p.next()
		n, _ := strconv.ParseFloat(t.text, 64)
		return &ast.Literal{Value: value.Number(n)}, nil
	case tokString:
		return &ast.Literal{Value: value.String(p.next().text)}, nil
	case tokLParen:
		p.next()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "\")\""); err != nil {
			return nil, err
		}
		return expr, nil
	case tokLBracket:
		return p.parseArray()
	case tokLBrace:
		return p.parseObject()
	case tokLess:
		return p.parseAttributeRef(false)
	case tokPipeLess:
		return p.parseAttributeRef(true)
	case tokIdent:
		return p.parseIdentOrCall()
	}
	return nil, p.errorf("unexpected %q", p.cur().text)
}

func (p *parser) parseArray() (ast.Expr, error) {
	p.next() // [
	arr := &ast.ArrayLit{}
	if p.at(tokRBracket) {
		p.next()
		return arr, nil
	}
	for {
		item, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		arr.Items = append(arr.Items, item)
		if p.at(tokComma) {
			p.next()
			continue
		}
		if _, err := p.expect(tokRBracket, "\"]\""); err != nil {
			return nil, err
		}
		return arr, nil
	}
}

func (p *parser) parseObject() (ast.Expr, error) {
	p.next() // {
	obj := &ast.ObjectLit{}
	if p.at(tokRBrace) {
		p.next()
		return obj, nil
	}
	for {
		var key string
		switch p.cur().kind {
		case tokString, tokIdent:
			key = p.next().text
		default:
			return nil, p.errorf("expected object key, got %q", p.cur().text)
		}
		if _, err := p.expect(tokColon, "\":\""); err != nil {
			return nil, err
		}
		val, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		obj.Keys = append(obj.Keys, key)
		obj.Values = append(obj.Values, val)
		if p.at(tokComma) {
			p.next()
			continue
		}
		if _, err := p.expect(tokRBrace, "\"}\""); err != nil {
			return nil, err
		}
		return obj, nil
	}
}

func (p *parser) parseAttributeRef(head bool) (ast.Expr, error) {
	if p.target {
		return nil, p.errorf("attribute stream references are not allowed in target expressions")
	}
	p.next() // < or |<
	name, err := p.parseDottedName()
	if err != nil {
		return nil, err
	}
	ref := &ast.AttributeRef{Name: name, Head: head}
	if p.at(tokLParen) {
		ref.Args, err = p.parseArguments()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokGreater, "\">\""); err != nil {
		return nil, err
	}
	return ref, nil
}

func (p *parser) parseDottedName() (string, error) {
	first, err := p.expect(tokIdent, "name")
	if err != nil {
		return "", err
	}
	name := first.text
	for p.at(tokDot) && p.toks[p.pos+1].kind == tokIdent {
		p.next()
		name += "." + p.next().text
	}
	return name, nil
}

func (p *parser) parseArguments() ([]ast.Expr, error) {
	p.next() // (
	var args []ast.Expr
	if p.at(tokRParen) {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.at(tokComma) {
			p.next()
			continue
		}
		if _, err := p.expect(tokRParen, "\")\""); err != nil {
			return nil, err
		}
		return args, nil
	}
}

// parseIdentOrCall distinguishes function calls from identifier/member
// chains: a dotted identifier chain directly followed by "(" is a call.
func (p *parser) parseIdentOrCall() (ast.Expr, error) {
	first := p.next()
	switch first.text {
	case "true":
		return &ast.Literal{Value: value.True}, nil
	case "false":
		return &ast.Literal{Value: value.False}, nil
	case "null":
		return &ast.Literal{Value: value.Null()}, nil
	}

	// Look ahead through the dotted chain for a call.
	name := first.text
	mark := p.pos
	for p.at(tokDot) && p.toks[p.pos+1].kind == tokIdent {
		p.next()
		name += "." + p.next().text
	}
	if p.at(tokLParen) {
		args, err := p.parseArguments()
		if err != nil {
			return nil, err
		}
		return &ast.FunctionCall{Name: name, Args: args}, nil
	}

	// Not a call: rewind and let parsePostfix consume the chain as member
	// accesses so that index steps interleave correctly.
	p.pos = mark
	return &ast.Identifier{Name: first.text}, nil
}

func (p *parser) parseFilter(target ast.Expr) (ast.Expr, error) {
	filter := &ast.FilterExpr{Target: target}
	if p.at(tokLBrace) {
		p.next()
		for {
			stmt, err := p.parseFilterStatement()
			if err != nil {
				return nil, err
			}
			filter.Statements = append(filter.Statements, stmt)
			if p.at(tokComma) {
				p.next()
				continue
			}
			if _, err := p.expect(tokRBrace, "\"}\""); err != nil {
				return nil, err
			}
			return filter, nil
		}
	}
	// Plain form: apply one function to the whole value.
	name, err := p.parseDottedName()
	if err != nil {
		return nil, err
	}
	stmt := ast.FilterStatement{Function: name}
	if p.at(tokLParen) {
		stmt.Args, err = p.parseArguments()
		if err != nil {
			return nil, err
		}
	}
	filter.Statements = append(filter.Statements, stmt)
	return filter, nil
}

func (p *parser) parseFilterStatement() (ast.FilterStatement, error) {
	var stmt ast.FilterStatement
	if _, err := p.expect(tokAt, "\"@\""); err != nil {
		return stmt, err
	}
	for p.at(tokDot) {
		p.next()
		key, err := p.expect(tokIdent, "member name")
		if err != nil {
			return stmt, err
		}
		stmt.Path = append(stmt.Path, key.text)
	}
	if _, err := p.expect(tokColon, "\":\""); err != nil {
		return stmt, err
	}
	name, err := p.parseDottedName()
	if err != nil {
		return stmt, err
	}
	stmt.Function = name
	if p.at(tokLParen) {
		stmt.Args, err = p.parseArguments()
		if err != nil {
			return stmt, err
		}
	}
	return stmt, nil
}
