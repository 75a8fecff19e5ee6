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

import "github.com/streamql/streamql/query/expr"

// WalkSelects calls fn for every query block of the statement, including
// derived tables and subqueries nested in expressions, outermost first.
func WalkSelects(stmt Statement, fn func(*Select)) {
	switch s := stmt.(type) {
	case *SetOp:
		WalkSelects(s.Left, fn)
		WalkSelects(s.Right, fn)
	case *Select:
		fn(s)
		walkRelation(s.From, fn)
		for _, e := range selectExprs(s) {
			// IN (subquery) is reached through its nested Subquery
			expr.WalkFunc(e, func(n expr.Expr) {
				if sq, ok := n.(*expr.Subquery); ok {
					WalkSelects(sq.Stmt.(Statement), fn)
				}
			})
		}
	}
}

func walkRelation(r Relation, fn func(*Select)) {
	switch r := r.(type) {
	case *SubqueryRelation:
		WalkSelects(r.Stmt, fn)
	case *Join:
		walkRelation(r.Left, fn)
		walkRelation(r.Right, fn)
	}
}

// selectExprs lists every top-level expression of the query block.
func selectExprs(s *Select) []expr.Expr {
	var out []expr.Expr
	for _, f := range s.Fields {
		out = append(out, f.Expr)
	}
	out = append(out, s.Where, s.Having)
	out = append(out, s.GroupBy...)
	for _, o := range s.OrderBy {
		out = append(out, o.Expr)
	}
	if j, ok := s.From.(*Join); ok {
		out = append(out, joinConditions(j)...)
	}
	return out
}

func joinConditions(j *Join) []expr.Expr {
	out := []expr.Expr{j.On}
	if l, ok := j.Left.(*Join); ok {
		out = append(out, joinConditions(l)...)
	}
	if r, ok := j.Right.(*Join); ok {
		out = append(out, joinConditions(r)...)
	}
	return out
}

// Tables returns every table referenced by the statement, in order of appearance.
func Tables(stmt Statement) []*Table {
	var tables []*Table
	WalkSelects(stmt, func(s *Select) {
		tables = append(tables, relationTables(s.From)...)
	})
	return tables
}

func relationTables(r Relation) []*Table {
	switch r := r.(type) {
	case *Table:
		return []*Table{r}
	case *Join:
		return append(relationTables(r.Left), relationTables(r.Right)...)
	}
	return nil
}

// HasSubquery tells whether the statement nests another query, in FROM or in an expression.
func HasSubquery(stmt Statement) bool {
	blocks := 0
	WalkSelects(stmt, func(*Select) { blocks++ })
	if op, ok := stmt.(*SetOp); ok {
		return blocks > countSetOpLeaves(op)
	}
	return blocks > 1
}

func countSetOpLeaves(op *SetOp) int {
	n := 0
	for _, side := range []Statement{op.Left, op.Right} {
		if inner, ok := side.(*SetOp); ok {
			n += countSetOpLeaves(inner)
		} else {
			n++
		}
	}
	return n
}

// HasJoin tells whether any query block joins relations.
func HasJoin(stmt Statement) bool {
	found := false
	WalkSelects(stmt, func(s *Select) {
		if _, ok := s.From.(*Join); ok {
			found = true
		}
	})
	return found
}

// RewriteExprs rewrites every expression of the query block in place of the
// block's own fields. Nested statements are left alone.
func (s *Select) RewriteExprs(fn expr.RewriteFn) bool {
	changed := false
	apply := func(e expr.Expr) expr.Expr {
		out, ok := expr.Rewrite(e, fn)
		changed = changed || ok
		return out
	}
	for _, f := range s.Fields {
		f.Expr = apply(f.Expr)
	}
	s.Where = apply(s.Where)
	s.Having = apply(s.Having)
	for i, g := range s.GroupBy {
		s.GroupBy[i] = apply(g)
	}
	for _, o := range s.OrderBy {
		o.Expr = apply(o.Expr)
	}
	return changed
}

// BlockTables returns the tables the query block reads directly, without
// entering derived tables.
func BlockTables(s *Select) []*Table {
	return relationTables(s.From)
}

// Exprs lists every expression of the query block, join conditions included.
// Nil slots are skipped.
func (s *Select) Exprs() []expr.Expr {
	var out []expr.Expr
	for _, e := range selectExprs(s) {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// IsComplex tells whether the statement needs more than a filtered scan:
// set operations, subqueries, joins, grouping, aggregation, DISTINCT or a
// wildcard projection.
func IsComplex(stmt Statement) bool {
	s, ok := stmt.(*Select)
	if !ok {
		return true
	}
	if s.Distinct || len(s.GroupBy) > 0 || s.Having != nil || HasSubquery(s) || HasJoin(s) {
		return true
	}
	if _, ok := s.From.(*Table); !ok {
		return true
	}
	for _, f := range s.Fields {
		if _, ok := f.Expr.(*expr.Wildcard); ok || expr.ContainsAggregate(f.Expr) {
			return true
		}
	}
	for _, o := range s.OrderBy {
		if expr.ContainsAggregate(o.Expr) {
			return true
		}
	}
	return false
}
