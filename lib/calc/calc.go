// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package calc evaluates arithmetic expressions from chat input.
//
// The grammar is deliberately closed: numeric literals, the four
// operators + - * /, unary minus, and parentheses. Any other token is
// rejected. The evaluator exists to replace dynamic evaluation of
// user-supplied expressions; it must never grow identifiers, function
// calls, or indexing.
package calc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Eval parses and evaluates an arithmetic expression. Returns an error
// for empty input, unknown tokens, malformed syntax, division by zero,
// and non-finite results.
func Eval(input string) (float64, error) {
	parser := &parser{input: input}
	parser.next()

	value, err := parser.parseExpression()
	if err != nil {
		return 0, err
	}
	if parser.token.kind != tokenEnd {
		return 0, fmt.Errorf("unexpected %s after expression", parser.token)
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return value, nil
}

type tokenKind int

const (
	tokenEnd tokenKind = iota
	tokenNumber
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenLeftParen
	tokenRightParen
	tokenInvalid
)

type token struct {
	kind  tokenKind
	value float64 // set for tokenNumber
	text  string
}

func (t token) String() string {
	switch t.kind {
	case tokenEnd:
		return "end of expression"
	case tokenNumber:
		return fmt.Sprintf("number %s", t.text)
	default:
		return fmt.Sprintf("token %q", t.text)
	}
}

type parser struct {
	input string
	pos   int
	token token
}

// next advances to the following token. Invalid input produces a
// tokenInvalid token rather than an error here, so the parse functions
// report it with surrounding context.
func (p *parser) next() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
	if p.pos >= len(p.input) {
		p.token = token{kind: tokenEnd}
		return
	}

	switch c := p.input[p.pos]; c {
	case '+', '-', '*', '/', '(', ')':
		kinds := map[byte]tokenKind{
			'+': tokenPlus, '-': tokenMinus,
			'*': tokenStar, '/': tokenSlash,
			'(': tokenLeftParen, ')': tokenRightParen,
		}
		p.token = token{kind: kinds[c], text: string(c)}
		p.pos++
		return
	}

	if isDigit(p.input[p.pos]) || p.input[p.pos] == '.' {
		start := p.pos
		for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
			p.pos++
		}
		text := p.input[start:p.pos]
		value, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.token = token{kind: tokenInvalid, text: text}
			return
		}
		p.token = token{kind: tokenNumber, value: value, text: text}
		return
	}

	// Capture the whole run of unrecognized characters for the error.
	start := p.pos
	for p.pos < len(p.input) && !strings.ContainsRune("+-*/() \t", rune(p.input[p.pos])) {
		p.pos++
	}
	p.token = token{kind: tokenInvalid, text: p.input[start:p.pos]}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// parseExpression handles + and - at the lowest precedence.
func (p *parser) parseExpression() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.token.kind {
		case tokenPlus:
			p.next()
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case tokenMinus:
			p.next()
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

// parseTerm handles * and /.
func (p *parser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.token.kind {
		case tokenStar:
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case tokenSlash:
			p.next()
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

// parseUnary handles leading minus signs.
func (p *parser) parseUnary() (float64, error) {
	if p.token.kind == tokenMinus {
		p.next()
		value, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return -value, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles literals and parenthesized expressions.
func (p *parser) parsePrimary() (float64, error) {
	switch p.token.kind {
	case tokenNumber:
		value := p.token.value
		p.next()
		return value, nil
	case tokenLeftParen:
		p.next()
		value, err := p.parseExpression()
		if err != nil {
			return 0, err
		}
		if p.token.kind != tokenRightParen {
			return 0, fmt.Errorf("expected ) but found %s", p.token)
		}
		p.next()
		return value, nil
	case tokenEnd:
		return 0, fmt.Errorf("expression ended where a number was expected")
	default:
		return 0, fmt.Errorf("unexpected %s", p.token)
	}
}

// Format renders an evaluation result the way the calc command replies:
// integers without a decimal point, everything else with up to ten
// significant digits.
func Format(value float64) string {
	if value == math.Trunc(value) && math.Abs(value) < 1e15 {
		return strconv.FormatFloat(value, 'f', 0, 64)
	}
	return strconv.FormatFloat(value, 'g', 10, 64)
}
