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

package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/xwb1989/sqlparser"
)

// Parse parses a query into the statement model. Only SELECT queries and
// their UNIONs are accepted.
func Parse(text string) (Statement, error) {
	parsed, err := sqlparser.Parse(text)
	if err != nil {
		return nil, queryCom.WrapError(queryCom.SQLNotValid, err, "failed to parse sql")
	}
	stmt, ok := parsed.(sqlparser.SelectStatement)
	if !ok {
		return nil, queryCom.ErrSQLNotValid("only SELECT queries are supported, got %T", parsed)
	}
	var c converter
	out, err := c.statement(stmt)
	if err != nil {
		if _, ok := err.(*queryCom.QueryError); ok {
			return nil, err
		}
		return nil, queryCom.WrapError(queryCom.SQLNotValid, err, "failed to convert sql")
	}
	return out, nil
}

// ParseExpr parses a standalone expression, e.g. a filter.
func ParseExpr(text string) (expr.Expr, error) {
	stmt, err := Parse("SELECT 1 FROM t WHERE " + text)
	if err != nil {
		return nil, err
	}
	return stmt.(*Select).Where, nil
}

type converter struct{}

func (c *converter) statement(stmt sqlparser.SelectStatement) (Statement, error) {
	switch s := stmt.(type) {
	case *sqlparser.Select:
		return c.selectStmt(s)
	case *sqlparser.ParenSelect:
		return c.statement(s.Select)
	case *sqlparser.Union:
		left, err := c.statement(s.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.statement(s.Right)
		if err != nil {
			return nil, err
		}
		op := &SetOp{Type: Union, Left: left, Right: right, All: s.Type == sqlparser.UnionAllStr}
		if op.OrderBy, err = c.orderBy(s.OrderBy); err != nil {
			return nil, err
		}
		if op.Limit, err = c.limit(s.Limit); err != nil {
			return nil, err
		}
		return op, nil
	}
	return nil, queryCom.ErrNotImplemented("statement %T", stmt)
}

func (c *converter) selectStmt(s *sqlparser.Select) (*Select, error) {
	out := &Select{Distinct: s.Distinct != ""}
	var err error
	for _, se := range s.SelectExprs {
		var f *Field
		switch se := se.(type) {
		case *sqlparser.StarExpr:
			f = &Field{Expr: &expr.Wildcard{Qualifier: se.TableName.Name.String()}}
		case *sqlparser.AliasedExpr:
			e, err := c.expr(se.Expr)
			if err != nil {
				return nil, err
			}
			f = &Field{Expr: e, Alias: se.As.String()}
		default:
			return nil, queryCom.ErrNotImplemented("select expression %T", se)
		}
		out.Fields = append(out.Fields, f)
	}
	for _, te := range s.From {
		rel, err := c.relation(te)
		if err != nil {
			return nil, err
		}
		if out.From == nil {
			out.From = rel
		} else {
			out.From = &Join{Type: CrossJoin, Left: out.From, Right: rel}
		}
	}
	if s.Where != nil {
		if out.Where, err = c.expr(s.Where.Expr); err != nil {
			return nil, err
		}
	}
	for _, g := range s.GroupBy {
		e, err := c.expr(g)
		if err != nil {
			return nil, err
		}
		out.GroupBy = append(out.GroupBy, e)
	}
	if s.Having != nil {
		if out.Having, err = c.expr(s.Having.Expr); err != nil {
			return nil, err
		}
	}
	if out.OrderBy, err = c.orderBy(s.OrderBy); err != nil {
		return nil, err
	}
	if out.Limit, err = c.limit(s.Limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *converter) orderBy(orderBy sqlparser.OrderBy) ([]*OrderItem, error) {
	var items []*OrderItem
	for _, o := range orderBy {
		e, err := c.expr(o.Expr)
		if err != nil {
			return nil, err
		}
		items = append(items, &OrderItem{Expr: e, Desc: o.Direction == sqlparser.DescScr})
	}
	return items, nil
}

func (c *converter) limit(l *sqlparser.Limit) (*Limit, error) {
	if l == nil {
		return nil, nil
	}
	out := &Limit{}
	var err error
	if out.Count, err = intValue(l.Rowcount); err != nil {
		return nil, errors.Wrap(err, "invalid limit")
	}
	if l.Offset != nil {
		if out.Offset, err = intValue(l.Offset); err != nil {
			return nil, errors.Wrap(err, "invalid offset")
		}
	}
	return out, nil
}

func intValue(e sqlparser.Expr) (int64, error) {
	v, ok := e.(*sqlparser.SQLVal)
	if !ok || v.Type != sqlparser.IntVal {
		return 0, errors.Errorf("expected integer, got %s", sqlparser.String(e))
	}
	return strconv.ParseInt(string(v.Val), 10, 64)
}

func (c *converter) relation(te sqlparser.TableExpr) (Relation, error) {
	switch te := te.(type) {
	case *sqlparser.AliasedTableExpr:
		switch t := te.Expr.(type) {
		case sqlparser.TableName:
			return &Table{Qualifier: t.Qualifier.String(), Name: t.Name.String(), Alias: te.As.String()}, nil
		case *sqlparser.Subquery:
			stmt, err := c.statement(t.Select)
			if err != nil {
				return nil, err
			}
			return &SubqueryRelation{Stmt: stmt, Alias: te.As.String()}, nil
		}
		return nil, queryCom.ErrNotImplemented("table expression %T", te.Expr)
	case *sqlparser.ParenTableExpr:
		var out Relation
		for _, inner := range te.Exprs {
			rel, err := c.relation(inner)
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = rel
			} else {
				out = &Join{Type: CrossJoin, Left: out, Right: rel}
			}
		}
		return out, nil
	case *sqlparser.JoinTableExpr:
		left, err := c.relation(te.LeftExpr)
		if err != nil {
			return nil, err
		}
		right, err := c.relation(te.RightExpr)
		if err != nil {
			return nil, err
		}
		j := &Join{Left: left, Right: right}
		switch te.Join {
		case sqlparser.JoinStr:
			j.Type = InnerJoin
		case sqlparser.LeftJoinStr:
			j.Type = LeftJoin
		case sqlparser.RightJoinStr:
			j.Type = RightJoin
		default:
			return nil, queryCom.ErrNotImplemented("join type %s", te.Join)
		}
		if te.Condition.On != nil {
			if j.On, err = c.expr(te.Condition.On); err != nil {
				return nil, err
			}
		}
		for _, col := range te.Condition.Using {
			j.Using = append(j.Using, col.String())
		}
		if j.Type == InnerJoin && j.On == nil && len(j.Using) == 0 {
			j.Type = CrossJoin
		}
		return j, nil
	}
	return nil, queryCom.ErrNotImplemented("table expression %T", te)
}

var comparisonOps = map[string]expr.Token{
	sqlparser.EqualStr:        expr.EQ,
	sqlparser.NotEqualStr:     expr.NEQ,
	sqlparser.LessThanStr:     expr.LT,
	sqlparser.LessEqualStr:    expr.LTE,
	sqlparser.GreaterThanStr:  expr.GT,
	sqlparser.GreaterEqualStr: expr.GTE,
	sqlparser.LikeStr:         expr.LIKE,
	sqlparser.NotLikeStr:      expr.NOT_LIKE,
	sqlparser.RegexpStr:       expr.REGEXP,
	sqlparser.NotRegexpStr:    expr.NOT_REGEXP,
}

var arithmeticOps = map[string]expr.Token{
	sqlparser.PlusStr:   expr.ADD,
	sqlparser.MinusStr:  expr.SUB,
	sqlparser.MultStr:   expr.MUL,
	sqlparser.DivStr:    expr.DIV,
	sqlparser.IntDivStr: expr.DIV,
	sqlparser.ModStr:    expr.MOD,
}

func (c *converter) exprs(list []sqlparser.Expr) ([]expr.Expr, error) {
	out := make([]expr.Expr, 0, len(list))
	for _, e := range list {
		conv, err := c.expr(e)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, nil
}

func (c *converter) binary(op expr.Token, l, r sqlparser.Expr) (expr.Expr, error) {
	lhs, err := c.expr(l)
	if err != nil {
		return nil, err
	}
	rhs, err := c.expr(r)
	if err != nil {
		return nil, err
	}
	return &expr.BinaryExpr{Op: op, LHS: lhs, RHS: rhs}, nil
}

func (c *converter) expr(e sqlparser.Expr) (expr.Expr, error) {
	switch e := e.(type) {
	case *sqlparser.ColName:
		return &expr.VarRef{Qualifier: e.Qualifier.Name.String(), Val: e.Name.String()}, nil
	case *sqlparser.SQLVal:
		return literal(e)
	case *sqlparser.NullVal:
		return &expr.NullLiteral{}, nil
	case sqlparser.BoolVal:
		return &expr.BooleanLiteral{Val: bool(e)}, nil
	case *sqlparser.AndExpr:
		return c.binary(expr.AND, e.Left, e.Right)
	case *sqlparser.OrExpr:
		return c.binary(expr.OR, e.Left, e.Right)
	case *sqlparser.NotExpr:
		inner, err := c.expr(e.Expr)
		if err != nil {
			return nil, err
		}
		return &expr.UnaryExpr{Op: expr.NOT, Expr: inner}, nil
	case *sqlparser.ParenExpr:
		inner, err := c.expr(e.Expr)
		if err != nil {
			return nil, err
		}
		return &expr.ParenExpr{Expr: inner}, nil
	case *sqlparser.ComparisonExpr:
		return c.comparison(e)
	case *sqlparser.RangeCond:
		return c.between(e)
	case *sqlparser.IsExpr:
		inner, err := c.expr(e.Expr)
		if err != nil {
			return nil, err
		}
		switch e.Operator {
		case sqlparser.IsNullStr:
			return &expr.UnaryExpr{Op: expr.IS_NULL, Expr: inner}, nil
		case sqlparser.IsNotNullStr:
			return &expr.UnaryExpr{Op: expr.IS_NOT_NULL, Expr: inner}, nil
		case sqlparser.IsTrueStr:
			return &expr.BinaryExpr{Op: expr.EQ, LHS: inner, RHS: &expr.BooleanLiteral{Val: true}}, nil
		case sqlparser.IsFalseStr:
			return &expr.BinaryExpr{Op: expr.EQ, LHS: inner, RHS: &expr.BooleanLiteral{Val: false}}, nil
		}
		return nil, queryCom.ErrNotImplemented("operator %s", e.Operator)
	case *sqlparser.BinaryExpr:
		op, ok := arithmeticOps[e.Operator]
		if !ok {
			return nil, queryCom.ErrNotImplemented("operator %s", e.Operator)
		}
		return c.binary(op, e.Left, e.Right)
	case *sqlparser.UnaryExpr:
		inner, err := c.expr(e.Expr)
		if err != nil {
			return nil, err
		}
		switch e.Operator {
		case sqlparser.UPlusStr:
			return inner, nil
		case sqlparser.UMinusStr:
			if n, ok := inner.(*expr.NumberLiteral); ok {
				if n.IsInt {
					return expr.NewInt(-n.Int), nil
				}
				return expr.NewFloat(-n.Val), nil
			}
			return &expr.UnaryExpr{Op: expr.UNARY_MINUS, Expr: inner}, nil
		case sqlparser.BangStr:
			return &expr.UnaryExpr{Op: expr.NOT, Expr: inner}, nil
		}
		return nil, queryCom.ErrNotImplemented("operator %s", e.Operator)
	case *sqlparser.FuncExpr:
		return c.call(e)
	case *sqlparser.CaseExpr:
		out := &expr.Case{}
		var err error
		if e.Expr != nil {
			if out.Operand, err = c.expr(e.Expr); err != nil {
				return nil, err
			}
		}
		for _, w := range e.Whens {
			when, err := c.expr(w.Cond)
			if err != nil {
				return nil, err
			}
			then, err := c.expr(w.Val)
			if err != nil {
				return nil, err
			}
			out.WhenThens = append(out.WhenThens, expr.WhenThen{When: when, Then: then})
		}
		if e.Else != nil {
			if out.Else, err = c.expr(e.Else); err != nil {
				return nil, err
			}
		}
		return out, nil
	case *sqlparser.Subquery:
		stmt, err := c.statement(e.Select)
		if err != nil {
			return nil, err
		}
		return &expr.Subquery{Stmt: stmt}, nil
	case *sqlparser.IntervalExpr:
		n, err := c.expr(e.Expr)
		if err != nil {
			return nil, err
		}
		text := fmt.Sprintf("%s %s", strings.Trim(n.String(), "'"), strings.ToLower(e.Unit))
		micros, err := queryCom.ParseInterval(text)
		if err != nil {
			return nil, queryCom.WrapError(queryCom.SQLNotValid, err, "invalid interval")
		}
		return &expr.IntervalLiteral{Micros: micros, Text: text}, nil
	}
	return nil, queryCom.ErrNotImplemented("expression %s", sqlparser.String(e))
}

func literal(v *sqlparser.SQLVal) (expr.Expr, error) {
	switch v.Type {
	case sqlparser.StrVal:
		return &expr.StringLiteral{Val: string(v.Val)}, nil
	case sqlparser.IntVal:
		i, err := strconv.ParseInt(string(v.Val), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(string(v.Val), 64)
			if ferr != nil {
				return nil, errors.Wrapf(err, "invalid integer %s", v.Val)
			}
			return expr.NewFloat(f), nil
		}
		return expr.NewInt(i), nil
	case sqlparser.FloatVal:
		f, err := strconv.ParseFloat(string(v.Val), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid float %s", v.Val)
		}
		return &expr.NumberLiteral{Val: f, Expr: string(v.Val)}, nil
	}
	return nil, queryCom.ErrNotImplemented("literal %s", sqlparser.String(v))
}

func (c *converter) comparison(e *sqlparser.ComparisonExpr) (expr.Expr, error) {
	switch e.Operator {
	case sqlparser.InStr, sqlparser.NotInStr:
		lhs, err := c.expr(e.Left)
		if err != nil {
			return nil, err
		}
		not := e.Operator == sqlparser.NotInStr
		switch r := e.Right.(type) {
		case sqlparser.ValTuple:
			list, err := c.exprs(r)
			if err != nil {
				return nil, err
			}
			return &expr.InList{Expr: lhs, List: list, Not: not}, nil
		case *sqlparser.Subquery:
			stmt, err := c.statement(r.Select)
			if err != nil {
				return nil, err
			}
			return &expr.InSubquery{Expr: lhs, Subquery: &expr.Subquery{Stmt: stmt}, Not: not}, nil
		}
		return nil, queryCom.ErrNotImplemented("IN over %T", e.Right)
	}
	op, ok := comparisonOps[e.Operator]
	if !ok {
		return nil, queryCom.ErrNotImplemented("operator %s", e.Operator)
	}
	return c.binary(op, e.Left, e.Right)
}

// between lowers BETWEEN into a pair of comparisons.
func (c *converter) between(e *sqlparser.RangeCond) (expr.Expr, error) {
	lhs, err := c.expr(e.Left)
	if err != nil {
		return nil, err
	}
	from, err := c.expr(e.From)
	if err != nil {
		return nil, err
	}
	to, err := c.expr(e.To)
	if err != nil {
		return nil, err
	}
	if e.Operator == sqlparser.NotBetweenStr {
		return &expr.ParenExpr{Expr: &expr.BinaryExpr{
			Op:  expr.OR,
			LHS: &expr.BinaryExpr{Op: expr.LT, LHS: lhs, RHS: from},
			RHS: &expr.BinaryExpr{Op: expr.GT, LHS: expr.CloneExpr(lhs), RHS: to},
		}}, nil
	}
	return &expr.ParenExpr{Expr: &expr.BinaryExpr{
		Op:  expr.AND,
		LHS: &expr.BinaryExpr{Op: expr.GTE, LHS: lhs, RHS: from},
		RHS: &expr.BinaryExpr{Op: expr.LTE, LHS: expr.CloneExpr(lhs), RHS: to},
	}}, nil
}

func (c *converter) call(f *sqlparser.FuncExpr) (expr.Expr, error) {
	out := &expr.Call{Name: f.Name.Lowered(), Distinct: f.Distinct}
	for _, se := range f.Exprs {
		switch se := se.(type) {
		case *sqlparser.StarExpr:
			out.Args = append(out.Args, &expr.Wildcard{Qualifier: se.TableName.Name.String()})
		case *sqlparser.AliasedExpr:
			arg, err := c.expr(se.Expr)
			if err != nil {
				return nil, err
			}
			out.Args = append(out.Args, arg)
		default:
			return nil, queryCom.ErrNotImplemented("function argument %T", se)
		}
	}
	return out, nil
}
