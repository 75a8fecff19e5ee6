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
	"strings"

	"github.com/streamql/streamql/query/expr"
)

// Statement is a query: a Select or a SetOp.
type Statement interface {
	expr.Statement
	stmt()
}

func (*Select) stmt() {}
func (*SetOp) stmt()  {}

// Field is one projected expression with its optional alias.
type Field struct {
	Expr  expr.Expr
	Alias string
}

// Name returns the output column name of the field.
func (f *Field) Name() string {
	if f.Alias != "" {
		return f.Alias
	}
	return expr.Name(f.Expr)
}

func (f *Field) String() string {
	if f.Alias != "" {
		return fmt.Sprintf("%s AS %s", f.Expr.String(), expr.QuoteIdent(f.Alias))
	}
	return f.Expr.String()
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr expr.Expr
	Desc bool
}

func (o *OrderItem) String() string {
	if o.Desc {
		return o.Expr.String() + " DESC"
	}
	return o.Expr.String() + " ASC"
}

// Limit is LIMIT count OFFSET offset.
type Limit struct {
	Count  int64
	Offset int64
}

func (l *Limit) String() string {
	if l.Offset > 0 {
		return fmt.Sprintf("LIMIT %d OFFSET %d", l.Count, l.Offset)
	}
	return fmt.Sprintf("LIMIT %d", l.Count)
}

// Select is a SELECT query block.
type Select struct {
	Distinct bool
	Fields   []*Field
	// From is nil for SELECT without FROM.
	From    Relation
	Where   expr.Expr
	GroupBy []expr.Expr
	Having  expr.Expr
	OrderBy []*OrderItem
	Limit   *Limit
}

// String returns the canonical SQL of the query block.
func (s *Select) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if s.Distinct {
		b.WriteString("DISTINCT ")
	}
	fields := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = f.String()
	}
	b.WriteString(strings.Join(fields, ", "))
	if s.From != nil {
		b.WriteString(" FROM ")
		b.WriteString(s.From.String())
	}
	if s.Where != nil {
		b.WriteString(" WHERE ")
		b.WriteString(s.Where.String())
	}
	if len(s.GroupBy) > 0 {
		keys := make([]string, len(s.GroupBy))
		for i, k := range s.GroupBy {
			keys[i] = k.String()
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(keys, ", "))
	}
	if s.Having != nil {
		b.WriteString(" HAVING ")
		b.WriteString(s.Having.String())
	}
	writeOrderLimit(&b, s.OrderBy, s.Limit)
	return b.String()
}

func writeOrderLimit(b *strings.Builder, orderBy []*OrderItem, limit *Limit) {
	if len(orderBy) > 0 {
		keys := make([]string, len(orderBy))
		for i, k := range orderBy {
			keys[i] = k.String()
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(keys, ", "))
	}
	if limit != nil {
		b.WriteString(" ")
		b.WriteString(limit.String())
	}
}

// CloneStatement returns a deep copy of the query block.
func (s *Select) CloneStatement() expr.Statement {
	return s.Clone()
}

// Clone returns a deep copy of the query block.
func (s *Select) Clone() *Select {
	out := &Select{
		Distinct: s.Distinct,
		Fields:   make([]*Field, len(s.Fields)),
		From:     CloneRelation(s.From),
		Where:    expr.CloneExpr(s.Where),
		Having:   expr.CloneExpr(s.Having),
		OrderBy:  cloneOrder(s.OrderBy),
	}
	for i, f := range s.Fields {
		out.Fields[i] = &Field{Expr: expr.CloneExpr(f.Expr), Alias: f.Alias}
	}
	for _, g := range s.GroupBy {
		out.GroupBy = append(out.GroupBy, expr.CloneExpr(g))
	}
	if s.Limit != nil {
		l := *s.Limit
		out.Limit = &l
	}
	return out
}

func cloneOrder(items []*OrderItem) []*OrderItem {
	if items == nil {
		return nil
	}
	out := make([]*OrderItem, len(items))
	for i, o := range items {
		out[i] = &OrderItem{Expr: expr.CloneExpr(o.Expr), Desc: o.Desc}
	}
	return out
}

// SetOpType is the kind of set operation.
type SetOpType int

const (
	// Union is UNION.
	Union SetOpType = iota
	// Intersect is INTERSECT.
	Intersect
	// Except is EXCEPT.
	Except
)

// SetOpTypes is set operation strings
var SetOpTypes = [...]string{
	"UNION",
	"INTERSECT",
	"EXCEPT",
}

// SetOp is a set operation over two queries.
type SetOp struct {
	Type    SetOpType
	All     bool
	Left    Statement
	Right   Statement
	OrderBy []*OrderItem
	Limit   *Limit
}

// String returns the canonical SQL of the set operation.
func (s *SetOp) String() string {
	var b strings.Builder
	b.WriteString(s.Left.String())
	b.WriteString(" ")
	b.WriteString(SetOpTypes[s.Type])
	if s.All {
		b.WriteString(" ALL")
	}
	b.WriteString(" ")
	if _, ok := s.Right.(*SetOp); ok {
		b.WriteString("(" + s.Right.String() + ")")
	} else {
		b.WriteString(s.Right.String())
	}
	writeOrderLimit(&b, s.OrderBy, s.Limit)
	return b.String()
}

// CloneStatement returns a deep copy of the set operation.
func (s *SetOp) CloneStatement() expr.Statement {
	out := &SetOp{
		Type:    s.Type,
		All:     s.All,
		Left:    s.Left.CloneStatement().(Statement),
		Right:   s.Right.CloneStatement().(Statement),
		OrderBy: cloneOrder(s.OrderBy),
	}
	if s.Limit != nil {
		l := *s.Limit
		out.Limit = &l
	}
	return out
}

// Relation is an item of the FROM clause.
type Relation interface {
	relation()
	String() string
}

func (*Table) relation()            {}
func (*SubqueryRelation) relation() {}
func (*Join) relation()             {}

// Table is a stream reference, Qualifier optionally names the stream type.
type Table struct {
	Qualifier string
	Name      string
	Alias     string
}

// RefName is the name columns of the table are qualified with.
func (t *Table) RefName() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

func (t *Table) String() string {
	s := expr.QuoteIdent(t.Name)
	if t.Qualifier != "" {
		s = expr.QuoteIdent(t.Qualifier) + "." + s
	}
	if t.Alias != "" {
		s += " AS " + expr.QuoteIdent(t.Alias)
	}
	return s
}

// SubqueryRelation is a derived table.
type SubqueryRelation struct {
	Stmt  Statement
	Alias string
}

func (r *SubqueryRelation) String() string {
	s := "(" + r.Stmt.String() + ")"
	if r.Alias != "" {
		s += " AS " + expr.QuoteIdent(r.Alias)
	}
	return s
}

// JoinType is join type
type JoinType int

const (
	// CrossJoin is CROSS
	CrossJoin JoinType = iota
	// InnerJoin is INNER
	InnerJoin
	// LeftJoin is LEFT
	LeftJoin
	// RightJoin is RIGHT
	RightJoin
	// FullJoin is FULL
	FullJoin
)

// JoinTypes is join type strings
var JoinTypes = [...]string{
	"CROSS",
	"INNER",
	"LEFT",
	"RIGHT",
	"FULL",
}

func (t JoinType) String() string {
	return JoinTypes[t]
}

// Join is a binary join of two relations.
type Join struct {
	Type  JoinType
	Left  Relation
	Right Relation
	On    expr.Expr
	Using []string
}

func (j *Join) String() string {
	s := fmt.Sprintf("%s %s JOIN %s", j.Left.String(), j.Type.String(), j.Right.String())
	if j.On != nil {
		s += " ON " + j.On.String()
	} else if len(j.Using) > 0 {
		cols := make([]string, len(j.Using))
		for i, c := range j.Using {
			cols[i] = expr.QuoteIdent(c)
		}
		s += " USING (" + strings.Join(cols, ", ") + ")"
	}
	return s
}

// CloneRelation returns a deep copy of the relation.
func CloneRelation(r Relation) Relation {
	switch r := r.(type) {
	case *Table:
		t := *r
		return &t
	case *SubqueryRelation:
		return &SubqueryRelation{Stmt: r.Stmt.CloneStatement().(Statement), Alias: r.Alias}
	case *Join:
		j := &Join{Type: r.Type, Left: CloneRelation(r.Left), Right: CloneRelation(r.Right), On: expr.CloneExpr(r.On)}
		if r.Using != nil {
			j.Using = append([]string(nil), r.Using...)
		}
		return j
	}
	return nil
}
