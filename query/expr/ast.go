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
	"fmt"
	"strconv"
	"strings"
)

// Expr represents an expression that can be evaluated to a value.
type Expr interface {
	expr()
	String() string
}

// Statement is a nested query referenced from an expression.
type Statement interface {
	String() string
	CloneStatement() Statement
}

func (*BinaryExpr) expr()      {}
func (*BooleanLiteral) expr()  {}
func (*Call) expr()            {}
func (*Case) expr()            {}
func (*InList) expr()          {}
func (*InSubquery) expr()      {}
func (*IntervalLiteral) expr() {}
func (*NullLiteral) expr()     {}
func (*NumberLiteral) expr()   {}
func (*ParenExpr) expr()       {}
func (*StringLiteral) expr()   {}
func (*Subquery) expr()        {}
func (*UnaryExpr) expr()       {}
func (*VarRef) expr()          {}
func (*Wildcard) expr()        {}

// VarRef represents a reference to a column, optionally qualified by its relation.
type VarRef struct {
	Qualifier string
	Val       string
}

// String returns a string representation of the variable reference.
func (r *VarRef) String() string {
	if r.Qualifier != "" {
		return QuoteIdent(r.Qualifier) + "." + QuoteIdent(r.Val)
	}
	return QuoteIdent(r.Val)
}

// SortField is an ordering key used by WITHIN GROUP.
type SortField struct {
	Expr Expr
	Desc bool
}

func (s SortField) String() string {
	if s.Desc {
		return s.Expr.String() + " DESC"
	}
	return s.Expr.String() + " ASC"
}

// Call represents a function call.
type Call struct {
	Name        string
	Args        []Expr
	Distinct    bool
	WithinGroup []SortField
}

// String returns a string representation of the call.
func (c *Call) String() string {
	strs := make([]string, 0, len(c.Args))
	for _, arg := range c.Args {
		if arg == nil {
			strs = append(strs, "ERROR_ARGUMENT_NIL")
		} else {
			strs = append(strs, arg.String())
		}
	}
	var prefix string
	if c.Distinct {
		prefix = "DISTINCT "
	}
	s := fmt.Sprintf("%s(%s%s)", c.Name, prefix, strings.Join(strs, ", "))
	if len(c.WithinGroup) > 0 {
		keys := make([]string, len(c.WithinGroup))
		for i, k := range c.WithinGroup {
			keys[i] = k.String()
		}
		s += fmt.Sprintf(" WITHIN GROUP (ORDER BY %s)", strings.Join(keys, ", "))
	}
	return s
}

// WhenThen represents a when-then conditional expression pair in a case expression.
type WhenThen struct {
	When Expr
	Then Expr
}

// Case represents a CASE [operand] WHEN .. THEN .. ELSE .. END expression.
type Case struct {
	Operand   Expr
	WhenThens []WhenThen
	Else      Expr
}

// String returns a string representation of the expression.
func (c *Case) String() string {
	var b strings.Builder
	b.WriteString("CASE")
	if c.Operand != nil {
		b.WriteString(" ")
		b.WriteString(c.Operand.String())
	}
	for _, wt := range c.WhenThens {
		fmt.Fprintf(&b, " WHEN %s THEN %s", wt.When.String(), wt.Then.String())
	}
	if c.Else != nil {
		fmt.Fprintf(&b, " ELSE %s", c.Else.String())
	}
	b.WriteString(" END")
	return b.String()
}

// NumberLiteral represents a numeric literal.
type NumberLiteral struct {
	Val   float64
	Int   int64
	IsInt bool
	// Expr keeps the original text of the literal when known.
	Expr string
}

// NewInt returns an integer literal.
func NewInt(v int64) *NumberLiteral {
	return &NumberLiteral{Val: float64(v), Int: v, IsInt: true}
}

// NewFloat returns a float literal.
func NewFloat(v float64) *NumberLiteral {
	return &NumberLiteral{Val: v}
}

// String returns a string representation of the literal.
func (l *NumberLiteral) String() string {
	if l.Expr != "" {
		return l.Expr
	}
	if l.IsInt {
		return strconv.FormatInt(l.Int, 10)
	}
	return strconv.FormatFloat(l.Val, 'g', -1, 64)
}

// BooleanLiteral represents a boolean literal.
type BooleanLiteral struct {
	Val bool
}

// String returns a string representation of the literal.
func (l *BooleanLiteral) String() string {
	if l.Val {
		return "true"
	}
	return "false"
}

// IsTrue tells whether the expression is the literal true.
func IsTrue(e Expr) bool {
	b, ok := e.(*BooleanLiteral)
	return ok && b.Val
}

// IsFalse tells whether the expression is the literal false.
func IsFalse(e Expr) bool {
	b, ok := e.(*BooleanLiteral)
	return ok && !b.Val
}

// StringLiteral represents a string literal.
type StringLiteral struct {
	Val string
}

// String returns a string representation of the literal.
func (l *StringLiteral) String() string { return QuoteString(l.Val) }

// NullLiteral represents a NULL literal.
type NullLiteral struct{}

// String returns a string representation of the literal.
func (l *NullLiteral) String() string { return "NULL" }

// IntervalLiteral represents a duration such as interval '10 second'.
type IntervalLiteral struct {
	Micros int64
	Text   string
}

// String returns a string representation of the literal.
func (l *IntervalLiteral) String() string {
	return "interval " + QuoteString(l.Text)
}

// UnaryExpr represents an operation on a single expression.
type UnaryExpr struct {
	Op   Token
	Expr Expr
}

// String returns a string representation of the unary expression.
func (e *UnaryExpr) String() string {
	if e.Op.isDerivedUnaryOperator() {
		return fmt.Sprintf("%s %s", operand(e.Expr, e.Op.Precedence()+1), e.Op.String())
	}
	if e.Op == NOT {
		return fmt.Sprintf("NOT %s", operand(e.Expr, e.Op.Precedence()))
	}
	return fmt.Sprintf("%s%s", e.Op.String(), operand(e.Expr, e.Op.Precedence()))
}

// BinaryExpr represents an operation between two expressions.
type BinaryExpr struct {
	Op  Token
	LHS Expr
	RHS Expr
}

// String returns a string representation of the binary expression.
func (e *BinaryExpr) String() string {
	prec := e.Op.Precedence()
	return fmt.Sprintf("%s %s %s", operand(e.LHS, prec), e.Op.String(), operand(e.RHS, prec+1))
}

// operand prints e, parenthesized when it binds looser than minPrec.
func operand(e Expr, minPrec int) string {
	if e == nil {
		return "ERROR_OPERAND_NIL"
	}
	var prec int
	switch e := e.(type) {
	case *BinaryExpr:
		prec = e.Op.Precedence()
	case *UnaryExpr:
		prec = e.Op.Precedence()
	case *InList, *InSubquery:
		prec = 4
	default:
		return e.String()
	}
	if prec < minPrec {
		return "(" + e.String() + ")"
	}
	return e.String()
}

// ParenExpr represents a parenthesized expression.
type ParenExpr struct {
	Expr Expr
}

// String returns a string representation of the parenthesized expression.
func (e *ParenExpr) String() string {
	if e.Expr == nil {
		return "(ERROR_PAREN_EXPRESSION_NIL)"
	}
	return fmt.Sprintf("(%s)", e.Expr.String())
}

// InList represents expr [NOT] IN (v1, v2, ...).
type InList struct {
	Expr Expr
	List []Expr
	Not  bool
}

// String returns a string representation of the expression.
func (e *InList) String() string {
	items := make([]string, len(e.List))
	for i, item := range e.List {
		items[i] = item.String()
	}
	op := "IN"
	if e.Not {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", operand(e.Expr, 5), op, strings.Join(items, ", "))
}

// Subquery represents a scalar or set-valued nested query.
type Subquery struct {
	Stmt Statement
}

// String returns a string representation of the subquery.
func (e *Subquery) String() string {
	return fmt.Sprintf("(%s)", e.Stmt.String())
}

// InSubquery represents expr [NOT] IN (SELECT ...).
type InSubquery struct {
	Expr     Expr
	Subquery *Subquery
	Not      bool
}

// String returns a string representation of the expression.
func (e *InSubquery) String() string {
	op := "IN"
	if e.Not {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s %s", operand(e.Expr, 5), op, e.Subquery.String())
}

// Wildcard represents a wild card expression, optionally qualified by a relation.
type Wildcard struct {
	Qualifier string
}

// String returns a string representation of the wildcard.
func (e *Wildcard) String() string {
	if e.Qualifier != "" {
		return QuoteIdent(e.Qualifier) + ".*"
	}
	return "*"
}

// CloneExpr returns a deep copy of the expression.
func CloneExpr(expr Expr) Expr {
	if expr == nil {
		return nil
	}
	switch expr := expr.(type) {
	case *UnaryExpr:
		return &UnaryExpr{Op: expr.Op, Expr: CloneExpr(expr.Expr)}
	case *BinaryExpr:
		return &BinaryExpr{Op: expr.Op, LHS: CloneExpr(expr.LHS), RHS: CloneExpr(expr.RHS)}
	case *BooleanLiteral:
		return &BooleanLiteral{Val: expr.Val}
	case *Call:
		c := &Call{Name: expr.Name, Distinct: expr.Distinct, Args: cloneExprs(expr.Args)}
		if expr.WithinGroup != nil {
			c.WithinGroup = make([]SortField, len(expr.WithinGroup))
			for i, k := range expr.WithinGroup {
				c.WithinGroup[i] = SortField{Expr: CloneExpr(k.Expr), Desc: k.Desc}
			}
		}
		return c
	case *Case:
		conds := make([]WhenThen, len(expr.WhenThens))
		for i, cond := range expr.WhenThens {
			conds[i].When = CloneExpr(cond.When)
			conds[i].Then = CloneExpr(cond.Then)
		}
		return &Case{Operand: CloneExpr(expr.Operand), WhenThens: conds, Else: CloneExpr(expr.Else)}
	case *NumberLiteral:
		l := *expr
		return &l
	case *IntervalLiteral:
		l := *expr
		return &l
	case *ParenExpr:
		return &ParenExpr{Expr: CloneExpr(expr.Expr)}
	case *StringLiteral:
		return &StringLiteral{Val: expr.Val}
	case *NullLiteral:
		return &NullLiteral{}
	case *VarRef:
		return &VarRef{Qualifier: expr.Qualifier, Val: expr.Val}
	case *Wildcard:
		return &Wildcard{Qualifier: expr.Qualifier}
	case *InList:
		return &InList{Expr: CloneExpr(expr.Expr), List: cloneExprs(expr.List), Not: expr.Not}
	case *Subquery:
		return &Subquery{Stmt: expr.Stmt.CloneStatement()}
	case *InSubquery:
		return &InSubquery{
			Expr:     CloneExpr(expr.Expr),
			Subquery: &Subquery{Stmt: expr.Subquery.Stmt.CloneStatement()},
			Not:      expr.Not,
		}
	}
	panic("unreachable")
}

func cloneExprs(exprs []Expr) []Expr {
	if exprs == nil {
		return nil
	}
	out := make([]Expr, len(exprs))
	for i, e := range exprs {
		out[i] = CloneExpr(e)
	}
	return out
}

// Visitor can be called by Walk to traverse an AST hierarchy.
// The Visit() function is called once per expression.
type Visitor interface {
	Visit(Expr) Visitor
}

// Walk traverses an expression hierarchy in depth-first order.
// Nested statements are not entered.
func Walk(v Visitor, expr Expr) {
	if expr == nil {
		return
	}

	if v = v.Visit(expr); v == nil {
		return
	}

	switch e := expr.(type) {
	case *UnaryExpr:
		Walk(v, e.Expr)

	case *BinaryExpr:
		Walk(v, e.LHS)
		Walk(v, e.RHS)

	case *Case:
		Walk(v, e.Operand)
		for _, cond := range e.WhenThens {
			Walk(v, cond.When)
			Walk(v, cond.Then)
		}
		Walk(v, e.Else)

	case *Call:
		for _, expr := range e.Args {
			Walk(v, expr)
		}
		for _, k := range e.WithinGroup {
			Walk(v, k.Expr)
		}

	case *ParenExpr:
		Walk(v, e.Expr)

	case *InList:
		Walk(v, e.Expr)
		for _, item := range e.List {
			Walk(v, item)
		}

	case *InSubquery:
		Walk(v, e.Expr)
		Walk(v, e.Subquery)
	}
}

// WalkFunc traverses an expression hierarchy in depth-first order.
func WalkFunc(e Expr, fn func(Expr)) {
	Walk(walkFuncVisitor(fn), e)
}

type walkFuncVisitor func(Expr)

func (fn walkFuncVisitor) Visit(e Expr) Visitor { fn(e); return fn }

// Any tells whether pred holds for any node of the expression.
func Any(e Expr, pred func(Expr) bool) bool {
	found := false
	WalkFunc(e, func(n Expr) {
		if !found && pred(n) {
			found = true
		}
	})
	return found
}

// QuoteString returns a quoted string literal.
func QuoteString(s string) string {
	return "'" + strings.Replace(s, "'", "''", -1) + "'"
}

// QuoteIdent leaves plain identifiers bare and back quotes the rest.
func QuoteIdent(s string) string {
	if s == "" {
		return s
	}
	for i, c := range s {
		if c == '_' || c == '@' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(i > 0 && c >= '0' && c <= '9') {
			continue
		}
		return "`" + strings.Replace(s, "`", "``", -1) + "`"
	}
	return s
}
