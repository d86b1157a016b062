package query

import (
	"fmt"
	"strings"
	"unicode"
)

// The tokenizer turns twin-query text into a flat token stream for the
// recursive-descent parser. All rewriting happens later on the parsed tree;
// keeping the lexer dumb removes the order-of-replacement fragility a textual
// pipeline would have.

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
	tokenDot
	tokenDotDot
	tokenStar
	tokenPipe
	tokenColon
	tokenMinus
	tokenArrowRight // ->
	tokenArrowLeft  // <-
	tokenEq
	tokenNeq
	tokenLt
	tokenLte
	tokenGt
	tokenGte
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// keywordIs reports whether the token is an identifier spelling the given
// keyword, case-insensitively. The dialect's keywords are not reserved: a
// property may legally be called "top", so keywords are recognised by position
// in the grammar, never by the lexer.
func (t token) keywordIs(kw string) bool {
	return t.kind == tokenIdent && strings.EqualFold(t.text, kw)
}

func isIdentStart(r rune) bool {
	return r == '$' || r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '$' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// tokenize scans the whole input. It fails closed: any character it cannot
// assign a token yields an error carrying the offending fragment.
func tokenize(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
			continue
		case isIdentStart(r):
			start := i
			for i < len(runes) && isIdentPart(runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[start:i]), pos: start})
			continue
		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
			}
			// A single dot followed by a digit continues the number; a double dot is
			// a range operator and terminates it.
			if i+1 < len(runes) && runes[i] == '.' && unicode.IsDigit(runes[i+1]) {
				i++
				for i < len(runes) && unicode.IsDigit(runes[i]) {
					i++
				}
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[start:i]), pos: start})
			continue
		case r == '\'':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(runes) {
				if runes[i] == '\'' {
					// Doubled quote escapes a literal quote.
					if i+1 < len(runes) && runes[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, &CompileError{Fragment: string(runes[start:]), Reason: "unterminated string literal"}
			}
			tokens = append(tokens, token{kind: tokenString, text: sb.String(), pos: start})
			continue
		}

		two := ""
		if i+1 < len(runes) {
			two = string(runes[i : i+2])
		}
		switch two {
		case "->":
			tokens = append(tokens, token{kind: tokenArrowRight, text: two, pos: i})
			i += 2
			continue
		case "<-":
			tokens = append(tokens, token{kind: tokenArrowLeft, text: two, pos: i})
			i += 2
			continue
		case "!=":
			tokens = append(tokens, token{kind: tokenNeq, text: two, pos: i})
			i += 2
			continue
		case "<=":
			tokens = append(tokens, token{kind: tokenLte, text: two, pos: i})
			i += 2
			continue
		case ">=":
			tokens = append(tokens, token{kind: tokenGte, text: two, pos: i})
			i += 2
			continue
		case "..":
			tokens = append(tokens, token{kind: tokenDotDot, text: two, pos: i})
			i += 2
			continue
		}

		var kind tokenKind
		switch r {
		case '(':
			kind = tokenLParen
		case ')':
			kind = tokenRParen
		case '[':
			kind = tokenLBracket
		case ']':
			kind = tokenRBracket
		case ',':
			kind = tokenComma
		case '.':
			kind = tokenDot
		case '*':
			kind = tokenStar
		case '|':
			kind = tokenPipe
		case ':':
			kind = tokenColon
		case '-':
			kind = tokenMinus
		case '=':
			kind = tokenEq
		case '<':
			kind = tokenLt
		case '>':
			kind = tokenGt
		default:
			return nil, &CompileError{
				Fragment: string(runes[i:min(len(runes), i+20)]),
				Reason:   fmt.Sprintf("unexpected character %q", r),
			}
		}
		tokens = append(tokens, token{kind: kind, text: string(r), pos: i})
		i++
	}
	tokens = append(tokens, token{kind: tokenEOF, pos: len(runes)})
	return tokens, nil
}
