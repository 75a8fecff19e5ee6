//  Copyright (c) 2017-2018 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package exec

import (
	"strings"

	"github.com/grafana/regexp"
	"github.com/pkg/errors"
	"github.com/streamql/streamql/query/cipher"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/physical"
)

// evalFn evaluates a compiled expression over one row.
type evalFn func(row Row) (interface{}, error)

// compiler resolves expressions against the fields of an operator input.
type compiler struct {
	fields []physical.Field
	keys   *cipher.KeyStore
}

func constant(v interface{}) evalFn {
	return func(Row) (interface{}, error) { return v, nil }
}

func column(i int) evalFn {
	return func(row Row) (interface{}, error) { return row[i], nil }
}

// compileAll compiles every expression.
func (c *compiler) compileAll(exprs []expr.Expr) ([]evalFn, error) {
	out := make([]evalFn, len(exprs))
	for i, e := range exprs {
		fn, err := c.compile(e)
		if err != nil {
			return nil, err
		}
		out[i] = fn
	}
	return out, nil
}

func (c *compiler) compile(e expr.Expr) (evalFn, error) {
	if e == nil {
		return constant(nil), nil
	}
	if _, isRef := e.(*expr.VarRef); !isRef {
		// expressions computed below, such as group keys, are read back by name
		if i := physical.FieldIndex(c.fields, &expr.VarRef{Val: e.String()}); i >= 0 {
			return column(i), nil
		}
	}
	switch e := e.(type) {
	case *expr.VarRef:
		i := physical.FieldIndex(c.fields, e)
		if i < 0 && e.Qualifier != "" {
			i = physical.FieldIndex(c.fields, &expr.VarRef{Val: e.Val})
		}
		if i < 0 {
			return nil, queryCom.ErrInternal("column %s not found", e.String())
		}
		return column(i), nil
	case *expr.NumberLiteral:
		if e.IsInt {
			return constant(e.Int), nil
		}
		return constant(e.Val), nil
	case *expr.StringLiteral:
		return constant(e.Val), nil
	case *expr.BooleanLiteral:
		return constant(e.Val), nil
	case *expr.NullLiteral:
		return constant(nil), nil
	case *expr.IntervalLiteral:
		return constant(e.Micros), nil
	case *expr.ParenExpr:
		return c.compile(e.Expr)
	case *expr.UnaryExpr:
		return c.unary(e)
	case *expr.BinaryExpr:
		return c.binary(e)
	case *expr.InList:
		return c.inList(e)
	case *expr.Case:
		return c.caseExpr(e)
	case *expr.Call:
		if expr.IsAggregateCall(e) {
			return nil, queryCom.ErrInternal("aggregate %s evaluated outside of an aggregation", e.String())
		}
		return c.call(e)
	}
	return nil, queryCom.ErrNotImplemented("expression %s can not be evaluated", e.String())
}

func (c *compiler) unary(e *expr.UnaryExpr) (evalFn, error) {
	inner, err := c.compile(e.Expr)
	if err != nil {
		return nil, err
	}
	return func(row Row) (interface{}, error) {
		v, err := inner(row)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case expr.IS_NULL:
			return v == nil, nil
		case expr.IS_NOT_NULL:
			return v != nil, nil
		}
		if v == nil {
			return nil, nil
		}
		switch e.Op {
		case expr.NOT:
			b, ok := toBool(v)
			if !ok {
				return nil, errors.Errorf("NOT over non boolean value %v", v)
			}
			return !b, nil
		case expr.UNARY_MINUS:
			switch v := v.(type) {
			case int64:
				return -v, nil
			case float64:
				return -v, nil
			}
			f, ok := toFloat64(v)
			if !ok {
				return nil, errors.Errorf("negation of non numeric value %v", v)
			}
			return -f, nil
		}
		return nil, errors.Errorf("unsupported unary operator %s", e.Op)
	}, nil
}

func (c *compiler) binary(e *expr.BinaryExpr) (evalFn, error) {
	lhs, err := c.compile(e.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := c.compile(e.RHS)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case expr.AND, expr.OR:
		return threeValued(e.Op, lhs, rhs), nil
	case expr.LIKE, expr.NOT_LIKE, expr.ILIKE, expr.NOT_ILIKE, expr.REGEXP, expr.NOT_REGEXP:
		return c.match(e, lhs, rhs)
	}
	return func(row Row) (interface{}, error) {
		l, err := lhs(row)
		if err != nil {
			return nil, err
		}
		r, err := rhs(row)
		if err != nil {
			return nil, err
		}
		if l == nil || r == nil {
			return nil, nil
		}
		if e.Op.IsComparison() {
			cmp, ok := compareValues(l, r)
			if !ok {
				return nil, nil
			}
			return comparison(e.Op, cmp), nil
		}
		return arithmetic(e.Op, l, r)
	}, nil
}

// threeValued evaluates AND and OR with three valued logic.
func threeValued(op expr.Token, lhs, rhs evalFn) evalFn {
	return func(row Row) (interface{}, error) {
		l, err := lhs(row)
		if err != nil {
			return nil, err
		}
		lb, lok := toBool(l)
		if l != nil && lok {
			if op == expr.AND && !lb {
				return false, nil
			}
			if op == expr.OR && lb {
				return true, nil
			}
		}
		r, err := rhs(row)
		if err != nil {
			return nil, err
		}
		rb, rok := toBool(r)
		if r != nil && rok {
			if op == expr.AND && !rb {
				return false, nil
			}
			if op == expr.OR && rb {
				return true, nil
			}
		}
		if l == nil || r == nil || !lok || !rok {
			return nil, nil
		}
		return op == expr.AND, nil
	}
}

func comparison(op expr.Token, cmp int) bool {
	switch op {
	case expr.EQ:
		return cmp == 0
	case expr.NEQ:
		return cmp != 0
	case expr.LT:
		return cmp < 0
	case expr.LTE:
		return cmp <= 0
	case expr.GT:
		return cmp > 0
	case expr.GTE:
		return cmp >= 0
	}
	return false
}

func arithmetic(op expr.Token, l, r interface{}) (interface{}, error) {
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch op {
		case expr.ADD:
			return li + ri, nil
		case expr.SUB:
			return li - ri, nil
		case expr.MUL:
			return li * ri, nil
		case expr.DIV:
			if ri == 0 {
				return nil, errors.New("divide by zero")
			}
			return li / ri, nil
		case expr.MOD:
			if ri == 0 {
				return nil, errors.New("divide by zero")
			}
			return li % ri, nil
		}
		return nil, errors.Errorf("unsupported operator %s", op)
	}
	lf, lok := toFloat64(l)
	rf, rok := toFloat64(r)
	if !lok || !rok {
		return nil, errors.Errorf("arithmetic over non numeric values %v %s %v", l, op, r)
	}
	switch op {
	case expr.ADD:
		return lf + rf, nil
	case expr.SUB:
		return lf - rf, nil
	case expr.MUL:
		return lf * rf, nil
	case expr.DIV:
		if rf == 0 {
			return nil, errors.New("divide by zero")
		}
		return lf / rf, nil
	case expr.MOD:
		if rf == 0 {
			return nil, errors.New("divide by zero")
		}
		return float64(int64(lf) % int64(rf)), nil
	}
	return nil, errors.Errorf("unsupported operator %s", op)
}

// compareValues orders two non null values. Numbers compare numerically,
// a string compared with a number is parsed as one.
func compareValues(a, b interface{}) (int, bool) {
	switch a := a.(type) {
	case int64:
		if b, ok := b.(int64); ok {
			return compareInts(a, b), true
		}
	case string:
		if b, ok := b.(string); ok {
			return strings.Compare(a, b), true
		}
	case bool:
		if b, ok := b.(bool); ok {
			switch {
			case a == b:
				return 0, true
			case !a:
				return -1, true
			}
			return 1, true
		}
	}
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	return strings.Compare(toString(a), toString(b)), true
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// likeRegexp translates a LIKE pattern into an anchored regular expression.
func likeRegexp(pattern string, ignoreCase bool) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?s")
	if ignoreCase {
		b.WriteString("i")
	}
	b.WriteString(")^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func patternRegexp(op expr.Token, pattern string) (*regexp.Regexp, error) {
	switch op {
	case expr.REGEXP, expr.NOT_REGEXP:
		return regexp.Compile(pattern)
	case expr.ILIKE, expr.NOT_ILIKE:
		return likeRegexp(pattern, true)
	}
	return likeRegexp(pattern, false)
}

func (c *compiler) match(e *expr.BinaryExpr, lhs, rhs evalFn) (evalFn, error) {
	negate := e.Op == expr.NOT_LIKE || e.Op == expr.NOT_ILIKE || e.Op == expr.NOT_REGEXP
	var fixed *regexp.Regexp
	if lit, ok := e.RHS.(*expr.StringLiteral); ok {
		re, err := patternRegexp(e.Op, lit.Val)
		if err != nil {
			return nil, queryCom.WrapError(queryCom.SQLNotValid, err, "invalid pattern %s", lit.Val)
		}
		fixed = re
	}
	return func(row Row) (interface{}, error) {
		l, err := lhs(row)
		if err != nil {
			return nil, err
		}
		r, err := rhs(row)
		if err != nil {
			return nil, err
		}
		if l == nil || r == nil {
			return nil, nil
		}
		re := fixed
		if re == nil {
			if re, err = patternRegexp(e.Op, toString(r)); err != nil {
				return nil, err
			}
		}
		return re.MatchString(toString(l)) != negate, nil
	}, nil
}

// inList evaluates IN and NOT IN. NULL items never match, so NOT IN over a
// list holding NULL is still true for values outside the list.
func (c *compiler) inList(e *expr.InList) (evalFn, error) {
	value, err := c.compile(e.Expr)
	if err != nil {
		return nil, err
	}
	items, err := c.compileAll(e.List)
	if err != nil {
		return nil, err
	}
	return func(row Row) (interface{}, error) {
		v, err := value(row)
		if err != nil || v == nil {
			return nil, err
		}
		for _, item := range items {
			iv, err := item(row)
			if err != nil {
				return nil, err
			}
			if iv == nil {
				continue
			}
			if cmp, ok := compareValues(v, iv); ok && cmp == 0 {
				return !e.Not, nil
			}
		}
		return e.Not, nil
	}, nil
}

func (c *compiler) caseExpr(e *expr.Case) (evalFn, error) {
	var operand evalFn
	if e.Operand != nil {
		var err error
		if operand, err = c.compile(e.Operand); err != nil {
			return nil, err
		}
	}
	whens := make([]evalFn, len(e.WhenThens))
	thens := make([]evalFn, len(e.WhenThens))
	for i, wt := range e.WhenThens {
		var err error
		if whens[i], err = c.compile(wt.When); err != nil {
			return nil, err
		}
		if thens[i], err = c.compile(wt.Then); err != nil {
			return nil, err
		}
	}
	elseFn, err := c.compile(e.Else)
	if err != nil {
		return nil, err
	}
	return func(row Row) (interface{}, error) {
		var op interface{}
		if operand != nil {
			var err error
			if op, err = operand(row); err != nil {
				return nil, err
			}
		}
		for i, when := range whens {
			w, err := when(row)
			if err != nil {
				return nil, err
			}
			hit := false
			if operand != nil {
				if op != nil && w != nil {
					cmp, ok := compareValues(op, w)
					hit = ok && cmp == 0
				}
			} else {
				hit = isTrue(w)
			}
			if hit {
				return thens[i](row)
			}
		}
		return elseFn(row)
	}, nil
}

// isTrue tells whether v is exactly true, NULL is not.
func isTrue(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}
