package query

import (
	"fmt"
	"strconv"
	"strings"
)

type parser struct {
	input  string
	tokens []token
	pos    int
}

func (p *parser) peek() token  { return p.tokens[p.pos] }
func (p *parser) peek2() token { return p.tokens[min(p.pos+1, len(p.tokens)-1)] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

// errorf returns a CompileError carrying the unparsed fragment at the current
// position, so callers can see exactly where compilation gave up.
func (p *parser) errorf(format string, args ...any) error {
	frag := p.input[min(p.peek().pos, len(p.input)):]
	if len(frag) > 40 {
		frag = frag[:40]
	}
	return &CompileError{Fragment: strings.TrimSpace(frag), Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) expectKeyword(kw string) error {
	if !p.peek().keywordIs(kw) {
		return p.errorf("expected %s", kw)
	}
	p.next()
	return nil
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	if p.peek().kind != kind {
		return token{}, p.errorf("expected %s", what)
	}
	return p.next(), nil
}

// clauseKeywords are the identifiers that terminate an alias position. They are
// positional, not reserved: "top" is a legal property name inside a predicate.
func isClauseKeyword(t token) bool {
	for _, kw := range []string{"FROM", "MATCH", "JOIN", "WHERE", "RELATED"} {
		if t.keywordIs(kw) {
			return true
		}
	}
	return false
}

func parseQuery(input string) (*selectQuery, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{input: input, tokens: tokens}

	q := &selectQuery{top: 0}
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}

	// TOP n
	if p.peek().keywordIs("TOP") && p.peek2().kind == tokenNumber {
		p.next()
		n, err := strconv.Atoi(p.next().text)
		if err != nil || n < 0 {
			return nil, p.errorf("invalid TOP limit")
		}
		q.top = n
	}

	if err := p.parseProjection(q); err != nil {
		return nil, err
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	src, err := p.expect(tokenIdent, "DIGITALTWINS or RELATIONSHIPS")
	if err != nil {
		return nil, err
	}
	switch {
	case strings.EqualFold(src.text, "DIGITALTWINS"):
		q.source = sourceDigitalTwins
	case strings.EqualFold(src.text, "RELATIONSHIPS"):
		q.source = sourceRelationships
	default:
		return nil, &CompileError{Fragment: src.text, Reason: "unknown collection"}
	}

	if t := p.peek(); t.kind == tokenIdent && !isClauseKeyword(t) {
		q.alias = p.next().text
	}

	if p.peek().keywordIs("MATCH") {
		if q.source != sourceDigitalTwins {
			return nil, p.errorf("MATCH applies to DIGITALTWINS only")
		}
		p.next()
		pattern, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		q.match = pattern
	}

	for p.peek().keywordIs("JOIN") {
		if q.source != sourceDigitalTwins || q.match != nil {
			return nil, p.errorf("JOIN applies to DIGITALTWINS without MATCH")
		}
		p.next()
		join, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		q.joins = append(q.joins, join)
	}

	if p.peek().keywordIs("WHERE") {
		p.next()
		pred, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		q.where = pred
	}

	if p.peek().kind != tokenEOF {
		return nil, p.errorf("unparsed trailing clause")
	}
	return q, nil
}

// parseProjection consumes everything between SELECT and FROM. An empty
// projection and `*` both mean wildcard mode; COUNT() is recognised here so it
// can be normalised to COUNT(*) during code generation.
func (p *parser) parseProjection(q *selectQuery) error {
	if p.peek().keywordIs("FROM") {
		q.wildcard = true
		return nil
	}
	if p.peek().kind == tokenStar {
		p.next()
		q.wildcard = true
		return nil
	}
	for {
		item, err := p.parseOperand()
		if err != nil {
			return err
		}
		if call, ok := item.(callExpr); ok && strings.EqualFold(call.name, "COUNT") && len(call.args) == 0 {
			q.countAll = true
		}
		q.projection = append(q.projection, item)
		if p.peek().kind != tokenComma {
			return nil
		}
		p.next()
	}
}

// parseJoin consumes `<alias> RELATED <srcAlias>.<relName> [<edgeAlias>]`.
func (p *parser) parseJoin() (joinClause, error) {
	var j joinClause
	alias, err := p.expect(tokenIdent, "join alias")
	if err != nil {
		return j, err
	}
	j.alias = alias.text
	if err := p.expectKeyword("RELATED"); err != nil {
		return j, err
	}
	src, err := p.expect(tokenIdent, "source alias")
	if err != nil {
		return j, err
	}
	j.srcAlias = src.text
	if _, err := p.expect(tokenDot, "'.'"); err != nil {
		return j, err
	}
	rel, err := p.expect(tokenIdent, "relationship name")
	if err != nil {
		return j, err
	}
	j.relName = rel.text
	if t := p.peek(); t.kind == tokenIdent && !isClauseKeyword(t) {
		j.edgeAlias = p.next().text
	}
	return j, nil
}

// parsePattern consumes `(A)-[r:name|other]->(B)...`, an alternating node/edge
// sequence. Nodes carry only an optional alias; the compiler adds the twin
// vertex label itself.
func (p *parser) parsePattern() (*patternClause, error) {
	pattern := &patternClause{}
	node, err := p.parseNodeRef()
	if err != nil {
		return nil, err
	}
	pattern.nodes = append(pattern.nodes, node)
	for p.peek().kind == tokenMinus || p.peek().kind == tokenArrowLeft {
		edge, err := p.parseEdgeRef()
		if err != nil {
			return nil, err
		}
		node, err := p.parseNodeRef()
		if err != nil {
			return nil, err
		}
		pattern.edges = append(pattern.edges, edge)
		pattern.nodes = append(pattern.nodes, node)
	}
	return pattern, nil
}

func (p *parser) parseNodeRef() (nodeRef, error) {
	if _, err := p.expect(tokenLParen, "'('"); err != nil {
		return nodeRef{}, err
	}
	var n nodeRef
	if p.peek().kind == tokenIdent {
		n.alias = p.next().text
	}
	if _, err := p.expect(tokenRParen, "')'"); err != nil {
		return nodeRef{}, err
	}
	return n, nil
}

func (p *parser) parseEdgeRef() (edgeRef, error) {
	var e edgeRef
	switch p.peek().kind {
	case tokenArrowLeft:
		e.dir = directionLeft
		p.next()
	case tokenMinus:
		p.next()
	default:
		return e, p.errorf("expected edge")
	}

	if _, err := p.expect(tokenLBracket, "'['"); err != nil {
		return e, err
	}
	if p.peek().kind == tokenIdent {
		e.alias = p.next().text
	}
	if p.peek().kind == tokenColon {
		p.next()
		for {
			label, err := p.expect(tokenIdent, "edge label")
			if err != nil {
				return e, err
			}
			e.labels = append(e.labels, label.text)
			if p.peek().kind != tokenPipe {
				break
			}
			p.next()
		}
	}
	if p.peek().kind == tokenStar {
		p.next()
		e.hasRange = true
		if p.peek().kind == tokenNumber {
			n, _ := strconv.Atoi(p.next().text)
			e.minHops = n
			e.maxHops = n
		}
		if p.peek().kind == tokenDotDot {
			p.next()
			e.maxHops = 0 // open upper bound unless a number follows
			if p.peek().kind == tokenNumber {
				m, _ := strconv.Atoi(p.next().text)
				e.maxHops = m
			}
		}
	}
	if _, err := p.expect(tokenRBracket, "']'"); err != nil {
		return e, err
	}

	switch {
	case e.dir == directionLeft:
		if _, err := p.expect(tokenMinus, "'-'"); err != nil {
			return e, err
		}
	case p.peek().kind == tokenArrowRight:
		e.dir = directionRight
		p.next()
	case p.peek().kind == tokenMinus:
		e.dir = directionBoth
		p.next()
	default:
		return e, p.errorf("expected '->' or '-' after edge")
	}
	return e, nil
}

// Predicate grammar, loosest binding first: OR, AND, NOT, comparison/IN.

func (p *parser) parseExpr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().keywordIs("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: "OR", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().keywordIs("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: "AND", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (expr, error) {
	if p.peek().keywordIs("NOT") {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notExpr{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch p.peek().kind {
	case tokenEq, tokenNeq, tokenLt, tokenLte, tokenGt, tokenGte:
		op := p.next().text
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return binaryExpr{op: op, left: left, right: right}, nil
	}
	if p.peek().keywordIs("IN") {
		p.next()
		if _, err := p.expect(tokenLBracket, "'['"); err != nil {
			return nil, err
		}
		var list []expr
		for p.peek().kind != tokenRBracket {
			item, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			list = append(list, item)
			if p.peek().kind == tokenComma {
				p.next()
			}
		}
		p.next() // ']'
		return inExpr{operand: left, list: list}, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (expr, error) {
	t := p.peek()
	switch t.kind {
	case tokenLParen:
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokenString:
		p.next()
		return literalExpr{kind: literalString, text: t.text}, nil
	case tokenNumber:
		p.next()
		return literalExpr{kind: literalNumber, text: t.text}, nil
	case tokenMinus:
		p.next()
		num, err := p.expect(tokenNumber, "number")
		if err != nil {
			return nil, err
		}
		return literalExpr{kind: literalNumber, text: "-" + num.text}, nil
	case tokenStar:
		p.next()
		return starExpr{}, nil
	case tokenIdent:
		switch {
		case t.keywordIs("true"), t.keywordIs("false"):
			p.next()
			return literalExpr{kind: literalBool, text: strings.ToLower(t.text)}, nil
		case t.keywordIs("null"):
			p.next()
			return literalExpr{kind: literalNull, text: "null"}, nil
		}
		p.next()
		// Function call?
		if p.peek().kind == tokenLParen {
			p.next()
			var args []expr
			for p.peek().kind != tokenRParen {
				arg, err := p.parseOperand()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek().kind == tokenComma {
					p.next()
				}
			}
			if _, err := p.expect(tokenRParen, "')'"); err != nil {
				return nil, err
			}
			return callExpr{name: t.text, args: args}, nil
		}
		// Property access chain: dot and bracket spellings converge here.
		prop := propertyExpr{parts: []string{t.text}}
		for {
			switch p.peek().kind {
			case tokenDot:
				p.next()
				part, err := p.expect(tokenIdent, "property name")
				if err != nil {
					return nil, err
				}
				prop.parts = append(prop.parts, part.text)
			case tokenLBracket:
				p.next()
				part, err := p.expect(tokenString, "quoted property name")
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(tokenRBracket, "']'"); err != nil {
					return nil, err
				}
				prop.parts = append(prop.parts, part.text)
			default:
				return prop, nil
			}
		}
	}
	return nil, p.errorf("expected expression")
}
