package condition

import (
	"fmt"
	"sort"
	"strings"
)

const (
	envPrefix    = "env."
	paramsPrefix = "params."
)

type refKind int

const (
	refParam refKind = iota
	refEnv
)

type ref struct {
	kind refKind
	name string
}

func (r ref) String() string {
	if r.kind == refEnv {
		return envPrefix + r.name
	}
	return r.name
}

type node interface {
	eval(in *input) bool
}

type input struct {
	params map[string]string
	env    map[string]string
}

func (in *input) lookup(r ref) (string, bool) {
	if r.kind == refEnv {
		v, ok := in.env[r.name]
		return v, ok
	}
	v, ok := in.params[r.name]
	return v, ok
}

type orNode struct{ left, right node }

func (n orNode) eval(in *input) bool { return n.left.eval(in) || n.right.eval(in) }

type andNode struct{ left, right node }

func (n andNode) eval(in *input) bool { return n.left.eval(in) && n.right.eval(in) }

type notNode struct{ operand node }

func (n notNode) eval(in *input) bool { return !n.operand.eval(in) }

type literalNode struct{ value bool }

func (n literalNode) eval(*input) bool { return n.value }

type compareNode struct {
	ref    ref
	value  string
	negate bool
}

func (n compareNode) eval(in *input) bool {
	v, ok := in.lookup(n.ref)
	equal := ok && v == n.value
	return equal != n.negate
}

type memberNode struct {
	ref ref
	set []string
}

func (n memberNode) eval(in *input) bool {
	v, ok := in.lookup(n.ref)
	if !ok {
		return false
	}
	for _, s := range n.set {
		if s == v {
			return true
		}
	}
	return false
}

// presenceNode is true when an environment variable is set. For parameters
// it reads the value as a boolean flag.
type presenceNode struct{ ref ref }

func (n presenceNode) eval(in *input) bool {
	v, ok := in.lookup(n.ref)
	if n.ref.kind == refEnv {
		return ok
	}
	return ok && strings.EqualFold(v, "true")
}

type parser struct {
	src    string
	tokens []token
	pos    int
	refs   map[ref]bool
}

// Expression is a parsed condition. It is immutable and safe for concurrent use.
type Expression struct {
	src    string
	root   node
	params []string
	env    []string
}

func Parse(src string) (*Expression, error) {
	if strings.TrimSpace(src) == "" {
		return &Expression{src: src, root: literalNode{value: true}}, nil
	}

	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{src: src, tokens: tokens, refs: make(map[ref]bool)}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %s", tok.kind)
	}

	expr := &Expression{src: src, root: root}
	for r := range p.refs {
		if r.kind == refEnv {
			expr.env = append(expr.env, r.name)
		} else {
			expr.params = append(expr.params, r.name)
		}
	}
	sort.Strings(expr.params)
	sort.Strings(expr.env)
	return expr, nil
}

func (e *Expression) String() string {
	return e.src
}

// References lists the parameter names the expression reads.
func (e *Expression) References() []string {
	return append([]string(nil), e.params...)
}

func (e *Expression) EnvReferences() []string {
	return append([]string(nil), e.env...)
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, p.errorf(tok, "expected %s, found %s", kind, tok.kind)
	}
	return tok, nil
}

func (p *parser) errorf(tok token, format string, args ...interface{}) error {
	return &SyntaxError{Expr: p.src, Pos: tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return literalNode{value: true}, nil
		case "false":
			return literalNode{value: false}, nil
		}
		r, err := p.makeRef(tok)
		if err != nil {
			return nil, err
		}
		return p.parsePredicate(r)
	default:
		return nil, p.errorf(tok, "unexpected %s", tok.kind)
	}
}

func (p *parser) makeRef(tok token) (ref, error) {
	var r ref
	switch {
	case strings.HasPrefix(tok.text, envPrefix):
		r = ref{kind: refEnv, name: strings.TrimPrefix(tok.text, envPrefix)}
	case strings.HasPrefix(tok.text, paramsPrefix):
		r = ref{kind: refParam, name: strings.TrimPrefix(tok.text, paramsPrefix)}
	default:
		r = ref{kind: refParam, name: tok.text}
	}
	if r.name == "" {
		return r, p.errorf(tok, "empty reference %q", tok.text)
	}
	p.refs[r] = true
	return r, nil
}

func (p *parser) parsePredicate(r ref) (node, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokEq || tok.kind == tokNeq:
		p.next()
		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return compareNode{ref: r, value: value, negate: tok.kind == tokNeq}, nil
	case tok.kind == tokIdent && tok.text == "in":
		p.next()
		set, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return memberNode{ref: r, set: set}, nil
	default:
		return presenceNode{ref: r}, nil
	}
}

func (p *parser) parseLiteral() (string, error) {
	tok := p.next()
	switch {
	case tok.kind == tokString || tok.kind == tokNumber:
		return tok.text, nil
	case tok.kind == tokIdent && (tok.text == "true" || tok.text == "false"):
		return tok.text, nil
	default:
		return "", p.errorf(tok, "expected a quoted string, number or boolean, found %s", tok.kind)
	}
}

func (p *parser) parseList() ([]string, error) {
	if _, err := p.expect(tokLBrack); err != nil {
		return nil, err
	}
	var set []string
	if p.peek().kind == tokRBrack {
		p.next()
		return set, nil
	}
	for {
		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		set = append(set, value)

		tok := p.next()
		switch tok.kind {
		case tokComma:
		case tokRBrack:
			return set, nil
		default:
			return nil, p.errorf(tok, "expected ',' or ']', found %s", tok.kind)
		}
	}
}
