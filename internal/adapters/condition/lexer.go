package condition

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokEq
	tokNeq
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of expression"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokNumber:
		return "number"
	case tokEq:
		return "'=='"
	case tokNeq:
		return "'!='"
	case tokAnd:
		return "'&&'"
	case tokOr:
		return "'||'"
	case tokNot:
		return "'!'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokLBrack:
		return "'['"
	case tokRBrack:
		return "']'"
	case tokComma:
		return "','"
	default:
		return "unknown"
	}
}

// SyntaxError reports a condition that cannot be parsed.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("condition %q: %s at offset %d", e.Expr, e.Msg, e.Pos)
}

func lex(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case c == '[':
			tokens = append(tokens, token{tokLBrack, "[", i})
			i++
		case c == ']':
			tokens = append(tokens, token{tokRBrack, "]", i})
			i++
		case c == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
		case c == '=':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokEq, "==", i})
				i += 2
				continue
			}
			return nil, &SyntaxError{Expr: src, Pos: i, Msg: "expected '=='"}
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokNeq, "!=", i})
				i += 2
				continue
			}
			tokens = append(tokens, token{tokNot, "!", i})
			i++
		case c == '&':
			if i+1 < len(src) && src[i+1] == '&' {
				tokens = append(tokens, token{tokAnd, "&&", i})
				i += 2
				continue
			}
			return nil, &SyntaxError{Expr: src, Pos: i, Msg: "expected '&&'"}
		case c == '|':
			if i+1 < len(src) && src[i+1] == '|' {
				tokens = append(tokens, token{tokOr, "||", i})
				i += 2
				continue
			}
			return nil, &SyntaxError{Expr: src, Pos: i, Msg: "expected '||'"}
		case c == '"' || c == '\'':
			text, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tokString, text, i})
			i = next
		case isDigit(c):
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			tokens = append(tokens, token{tokNumber, src[start:i], start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			tokens = append(tokens, token{tokIdent, src[start:i], start})
		default:
			return nil, &SyntaxError{Expr: src, Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(src)})
	return tokens, nil
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			b.WriteByte(src[i+1])
			i += 2
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, &SyntaxError{Expr: src, Pos: start, Msg: "unterminated string"}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '.' || c == '-'
}
