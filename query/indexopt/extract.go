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

package indexopt

import (
	"github.com/pkg/errors"
	"github.com/streamql/streamql/query/expr"
)

// FieldSet is the set of fields held by the index engine.
type FieldSet map[string]bool

// NewFieldSet creates a FieldSet.
func NewFieldSet(fields ...string) FieldSet {
	set := make(FieldSet, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// Validate checks every leaf of the condition reads an indexed field.
func Validate(c Condition, indexed FieldSet) error {
	for _, f := range Fields(c) {
		if !indexed[f] {
			return errors.Errorf("field %s of index condition is not indexed", f)
		}
	}
	return nil
}

// Extract splits a filter into the conjuncts the index can answer and the
// residual the scan still has to evaluate. Conjoining both accepts exactly
// the rows the filter accepts. The condition is nil when nothing can be
// extracted, the residual is nil when everything was.
func Extract(where expr.Expr, indexed FieldSet) (Condition, expr.Expr) {
	if where == nil || len(indexed) == 0 {
		return nil, where
	}
	var conds []Condition
	var residual []expr.Expr
	for _, conj := range expr.Conjuncts(where) {
		if c, ok := toCondition(conj, indexed); ok {
			conds = append(conds, c)
		} else {
			residual = append(residual, conj)
		}
	}
	return and(conds), expr.Conjoin(residual)
}

func and(conds []Condition) Condition {
	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	}
	return &And{Children: conds}
}

func toCondition(e expr.Expr, indexed FieldSet) (Condition, bool) {
	switch e := expr.StripParens(e).(type) {
	case *expr.BooleanLiteral:
		if e.Val {
			return &All{}, true
		}
	case *expr.BinaryExpr:
		switch e.Op {
		case expr.AND:
			var children []Condition
			for _, conj := range expr.Conjuncts(e) {
				c, ok := toCondition(conj, indexed)
				if !ok {
					return nil, false
				}
				children = append(children, c)
			}
			return &And{Children: children}, true
		case expr.OR:
			var children []Condition
			for _, disj := range expr.Disjuncts(e) {
				c, ok := toCondition(disj, indexed)
				if !ok {
					return nil, false
				}
				children = append(children, c)
			}
			return &Or{Children: children}, true
		case expr.EQ, expr.NEQ:
			field, value, ok := fieldAndString(e.LHS, e.RHS, indexed)
			if !ok {
				field, value, ok = fieldAndString(e.RHS, e.LHS, indexed)
			}
			if !ok {
				return nil, false
			}
			if e.Op == expr.EQ {
				return &Equal{Field: field, Value: value}, true
			}
			return &NotEqual{Field: field, Value: value}, true
		}
	case *expr.InList:
		ref, ok := e.Expr.(*expr.VarRef)
		if !ok || !indexed[ref.Val] || len(e.List) == 0 {
			return nil, false
		}
		children := make([]Condition, 0, len(e.List))
		for _, item := range e.List {
			s, ok := item.(*expr.StringLiteral)
			if !ok {
				return nil, false
			}
			if e.Not {
				children = append(children, &NotEqual{Field: ref.Val, Value: s.Val})
			} else {
				children = append(children, &Equal{Field: ref.Val, Value: s.Val})
			}
		}
		if len(children) == 1 {
			return children[0], true
		}
		if e.Not {
			return &And{Children: children}, true
		}
		return &Or{Children: children}, true
	case *expr.Call:
		return callCondition(e, indexed)
	}
	return nil, false
}

func callCondition(c *expr.Call, indexed FieldSet) (Condition, bool) {
	if len(c.Args) < 2 {
		return nil, false
	}
	field, term, ok := fieldAndString(c.Args[0], c.Args[1], indexed)
	if !ok {
		return nil, false
	}
	if _, ok := expr.IsCall(c, expr.StrMatchCallName, expr.MatchFieldCallName); ok && len(c.Args) == 2 {
		return &Match{Field: field, Term: term, CaseSensitive: true}, true
	}
	if _, ok := expr.IsCall(c, expr.StrMatchIgnoreCaseCallName, expr.MatchFieldIgnoreCaseCallName); ok && len(c.Args) == 2 {
		return &Match{Field: field, Term: term}, true
	}
	if _, ok := expr.IsCall(c, expr.FuzzyMatchCallName); ok && len(c.Args) == 3 {
		d, ok := c.Args[2].(*expr.NumberLiteral)
		if !ok || !d.IsInt {
			return nil, false
		}
		return &FuzzyMatch{Field: field, Term: term, Distance: int(d.Int)}, true
	}
	return nil, false
}

func fieldAndString(f, v expr.Expr, indexed FieldSet) (string, string, bool) {
	ref, ok := f.(*expr.VarRef)
	if !ok || !indexed[ref.Val] {
		return "", "", false
	}
	s, ok := v.(*expr.StringLiteral)
	if !ok {
		return "", "", false
	}
	return ref.Val, s.Val, true
}
