package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// -----------------------------------------------------------------------
// AST nodes
// -----------------------------------------------------------------------

// Expr is the common interface for all boolean AST nodes.
type Expr interface {
	exprNode()
}

// BinaryExpr represents AND / OR.
type BinaryExpr struct {
	Op    string // "AND" | "OR"
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}

// NotExpr represents NOT <expr>.
type NotExpr struct {
	Expr Expr
}

func (*NotExpr) exprNode() {}

// ComparisonExpr represents <operand> <operator> <operand>.
type ComparisonExpr struct {
	Left  Operand
	Op    Operator
	Right Operand
}

func (*ComparisonExpr) exprNode() {}

// -----------------------------------------------------------------------
// Operands
// -----------------------------------------------------------------------

// Operand produces a value: a literal, a fact lookup, or arithmetic over both.
type Operand interface {
	operandNode()
}

// LiteralOperand holds a pre-parsed constant.
type LiteralOperand struct {
	Value interface{}
}

func (*LiteralOperand) operandNode() {}

// FieldOperand holds a dot-separated fact path like "meta.account_type".
type FieldOperand struct {
	Path []string
}

func (*FieldOperand) operandNode() {}

// ArithmeticOperand combines two numeric operands with + - * / %.
type ArithmeticOperand struct {
	Op    byte
	Left  Operand
	Right Operand
}

func (*ArithmeticOperand) operandNode() {}

// Fields returns every fact path referenced by expr, in first-use order.
func Fields(expr Expr) []string {
	seen := make(map[string]struct{})
	var out []string
	var visitOperand func(Operand)
	visitOperand = func(op Operand) {
		switch o := op.(type) {
		case *FieldOperand:
			key := strings.Join(o.Path, ".")
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				out = append(out, key)
			}
		case *ArithmeticOperand:
			visitOperand(o.Left)
			visitOperand(o.Right)
		}
	}
	var visit func(Expr)
	visit = func(e Expr) {
		switch n := e.(type) {
		case *BinaryExpr:
			visit(n.Left)
			visit(n.Right)
		case *NotExpr:
			visit(n.Expr)
		case *ComparisonExpr:
			visitOperand(n.Left)
			visitOperand(n.Right)
		}
	}
	visit(expr)
	return out
}

// -----------------------------------------------------------------------
// Tokenizer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokWord   tokenKind = iota // identifier or keyword
	tokCmp                     // ==, !=, >=, <=, >, <
	tokArith                   // + - * / %
	tokString                  // "…" or '…'
	tokNumber                  // 42 | 3.14
	tokBool                    // true | false
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		if unicode.IsSpace(rune(ch)) {
			i++
			continue
		}
		switch {
		case ch == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case ch == '=' || ch == '!' || ch == '<' || ch == '>':
			if i+1 < len(expr) && expr[i+1] == '=' {
				tokens = append(tokens, token{tokCmp, expr[i : i+2], i})
				i += 2
				continue
			}
			if ch == '=' || ch == '!' {
				return nil, fmt.Errorf("unexpected %q at position %d", ch, i)
			}
			tokens = append(tokens, token{tokCmp, string(ch), i})
			i++
		case ch == '+' || ch == '*' || ch == '/' || ch == '%':
			tokens = append(tokens, token{tokArith, string(ch), i})
			i++
		case ch == '-' && !startsNegativeLiteral(tokens, expr, i):
			tokens = append(tokens, token{tokArith, "-", i})
			i++
		case ch == '"' || ch == '\'':
			quote := ch
			j := i + 1
			for j < len(expr) && expr[j] != quote {
				if expr[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(expr) {
				return nil, fmt.Errorf("unterminated string starting at position %d", i)
			}
			inner := expr[i+1 : j]
			inner = strings.ReplaceAll(inner, `\"`, `"`)
			inner = strings.ReplaceAll(inner, `\'`, `'`)
			inner = strings.ReplaceAll(inner, `\\`, `\`)
			tokens = append(tokens, token{tokString, inner, i})
			i = j + 1
		case unicode.IsDigit(rune(ch)) || ch == '-':
			j := i
			if expr[j] == '-' {
				j++
			}
			for j < len(expr) && (unicode.IsDigit(rune(expr[j])) || expr[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, expr[i:j], i})
			i = j
		case unicode.IsLetter(rune(ch)) || ch == '_':
			j := i
			for j < len(expr) && (unicode.IsLetter(rune(expr[j])) || unicode.IsDigit(rune(expr[j])) || expr[j] == '_' || expr[j] == '.') {
				j++
			}
			word := expr[i:j]
			switch strings.ToLower(word) {
			case "true", "false":
				tokens = append(tokens, token{tokBool, strings.ToLower(word), i})
			default:
				tokens = append(tokens, token{tokWord, word, i})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(expr)})
	return tokens, nil
}

// A '-' starts a negative literal only where an operand is expected
// and a digit follows.
func startsNegativeLiteral(prev []token, expr string, i int) bool {
	if i+1 >= len(expr) || !unicode.IsDigit(rune(expr[i+1])) {
		return false
	}
	if len(prev) == 0 {
		return true
	}
	switch prev[len(prev)-1].kind {
	case tokCmp, tokArith, tokLParen:
		return true
	case tokWord:
		w := strings.ToUpper(prev[len(prev)-1].val)
		return w == "AND" || w == "OR" || w == "NOT"
	}
	return false
}

// -----------------------------------------------------------------------
// Recursive-descent parser
// -----------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) consume() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.kind == tokWord && strings.ToUpper(t.val) == kw
}

// Parse parses an expression string into an AST.
func Parse(expr string) (Expr, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q at position %d", t.val, t.pos)
	}
	return node, nil
}

// or_expr = and_expr ( "OR" and_expr )*
func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		p.consume()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

// and_expr = not_expr ( "AND" not_expr )*
func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		p.consume()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

// not_expr = "NOT" not_expr | "(" or_expr ")" | comparison
//
// A parenthesis may also open an arithmetic group such as "(amount + 5) > 10";
// the parser backtracks to a comparison when the group is not boolean.
func (p *parser) parseNot() (Expr, error) {
	if p.isKeyword("NOT") {
		p.consume()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	if p.peek().kind == tokLParen {
		mark := p.pos
		p.consume()
		inner, err := p.parseOr()
		if err == nil && p.peek().kind == tokRParen {
			p.consume()
			if next := p.peek().kind; next != tokCmp && next != tokArith {
				return inner, nil
			}
		}
		p.pos = mark
	}
	return p.parseComparison()
}

// comparison = sum cmp_op sum
func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind != tokCmp {
		return nil, fmt.Errorf("expected comparison operator at position %d, got %q", t.pos, t.val)
	}
	p.consume()
	right, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	return &ComparisonExpr{Left: left, Op: Operator(t.val), Right: right}, nil
}

// sum = product ( ("+" | "-") product )*
func (p *parser) parseSum() (Operand, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.kind == tokArith && (t.val == "+" || t.val == "-"); t = p.peek() {
		p.consume()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &ArithmeticOperand{Op: t.val[0], Left: left, Right: right}
	}
	return left, nil
}

// product = primary ( ("*" | "/" | "%") primary )*
func (p *parser) parseProduct() (Operand, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for t := p.peek(); t.kind == tokArith && (t.val == "*" || t.val == "/" || t.val == "%"); t = p.peek() {
		p.consume()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &ArithmeticOperand{Op: t.val[0], Left: left, Right: right}
	}
	return left, nil
}

// primary = field_path | literal | "(" sum ")"
func (p *parser) parsePrimary() (Operand, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.consume()
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected \")\" at position %d", p.peek().pos)
		}
		p.consume()
		return inner, nil
	case tokString:
		p.consume()
		return &LiteralOperand{Value: t.val}, nil
	case tokNumber:
		p.consume()
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", t.val, t.pos)
		}
		return &LiteralOperand{Value: f}, nil
	case tokBool:
		p.consume()
		return &LiteralOperand{Value: t.val == "true"}, nil
	case tokWord:
		switch strings.ToUpper(t.val) {
		case "AND", "OR", "NOT":
			return nil, fmt.Errorf("unexpected keyword %q at position %d", t.val, t.pos)
		}
		p.consume()
		return &FieldOperand{Path: strings.Split(t.val, ".")}, nil
	default:
		return nil, fmt.Errorf("expected operand at position %d, got %q", t.pos, t.val)
	}
}
