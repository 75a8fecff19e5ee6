// Modifications Copyright (c) 2017-2018 Uber Technologies, Inc.
// Copyright (c) 2013-2016 Errplane Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

package expr

import (
	"strings"

	"github.com/pkg/errors"
)

// Token is an operator of the expression language.
type Token int

const (
	ILLEGAL Token = iota

	operator_beg
	unary_operator_beg
	UNARY_MINUS // -
	NOT         // NOT
	unary_operator_end

	derived_unary_operator_beg
	IS_NULL     // IS NULL
	IS_NOT_NULL // IS NOT NULL
	derived_unary_operator_end

	binary_operator_beg
	ADD // +
	SUB // -
	MUL // *
	DIV // /
	MOD // %

	AND // AND
	OR  // OR

	LIKE       // LIKE
	NOT_LIKE   // NOT LIKE
	ILIKE      // ILIKE
	NOT_ILIKE  // NOT ILIKE
	REGEXP     // REGEXP
	NOT_REGEXP // NOT REGEXP

	// Do not modify the order of the following 6 operators
	EQ  // =
	NEQ // !=
	LT  // <
	LTE // <=
	GT  // >
	GTE // >=
	binary_operator_end
	operator_end
)

var tokens = map[Token]string{
	ILLEGAL: "ILLEGAL",

	UNARY_MINUS: "-",
	NOT:         "NOT",
	IS_NULL:     "IS NULL",
	IS_NOT_NULL: "IS NOT NULL",

	ADD: "+",
	SUB: "-",
	MUL: "*",
	DIV: "/",
	MOD: "%",

	AND: "AND",
	OR:  "OR",

	LIKE:       "LIKE",
	NOT_LIKE:   "NOT LIKE",
	ILIKE:      "ILIKE",
	NOT_ILIKE:  "NOT ILIKE",
	REGEXP:     "REGEXP",
	NOT_REGEXP: "NOT REGEXP",

	EQ:  "=",
	NEQ: "!=",
	LT:  "<",
	LTE: "<=",
	GT:  ">",
	GTE: ">=",
}

// names used on the wire, unary minus and subtraction share a symbol.
var tokenNames = map[Token]string{
	UNARY_MINUS: "NEG",
}

var tokensByName map[string]Token

func init() {
	tokensByName = make(map[string]Token, len(tokens))
	for tok := range tokens {
		tokensByName[tok.Name()] = tok
	}
}

// String returns the SQL representation of the token.
func (tok Token) String() string {
	if s, ok := tokens[tok]; ok {
		return s
	}
	return ""
}

// Name returns a unique name of the token.
func (tok Token) Name() string {
	if s, ok := tokenNames[tok]; ok {
		return s
	}
	return tok.String()
}

// ParseToken returns the token with the given name.
func ParseToken(name string) (Token, error) {
	if tok, ok := tokensByName[strings.ToUpper(name)]; ok {
		return tok, nil
	}
	return ILLEGAL, errors.Errorf("unknown operator %q", name)
}

// MarshalText encodes the token by name.
func (tok Token) MarshalText() ([]byte, error) {
	return []byte(tok.Name()), nil
}

// UnmarshalText decodes a token name.
func (tok *Token) UnmarshalText(b []byte) error {
	t, err := ParseToken(string(b))
	if err != nil {
		return err
	}
	*tok = t
	return nil
}

// Precedence returns the operator precedence of the binary operator token.
func (tok Token) Precedence() int {
	switch tok {
	case OR:
		return 1
	case AND:
		return 2
	case NOT:
		return 3
	case EQ, NEQ, LT, LTE, GT, GTE, LIKE, NOT_LIKE, ILIKE, NOT_ILIKE, REGEXP, NOT_REGEXP,
		IS_NULL, IS_NOT_NULL:
		return 4
	case ADD, SUB:
		return 8
	case MUL, DIV, MOD:
		return 9
	case UNARY_MINUS:
		return 11
	}
	return 0
}

// IsComparison tells whether the token compares two values.
func (tok Token) IsComparison() bool {
	return tok >= EQ && tok <= GTE
}

// Commute returns the operator obtained by swapping operands, a < b is b > a.
func (tok Token) Commute() Token {
	switch tok {
	case LT:
		return GT
	case LTE:
		return GTE
	case GT:
		return LT
	case GTE:
		return LTE
	}
	return tok
}

func (tok Token) isUnaryOperator() bool {
	return tok > unary_operator_beg && tok < unary_operator_end
}

func (tok Token) isDerivedUnaryOperator() bool {
	return tok > derived_unary_operator_beg && tok < derived_unary_operator_end
}

func (tok Token) isBinaryOperator() bool {
	return tok > binary_operator_beg && tok < binary_operator_end
}
