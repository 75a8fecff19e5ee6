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

package logical

import (
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/utils"
)

// ApplyOrder tells how a rule walks a plan.
type ApplyOrder int

const (
	// TopDown rewrites a node before its inputs.
	TopDown ApplyOrder = iota
	// BottomUp rewrites the inputs of a node first.
	BottomUp
	// Once rewrites the root only.
	Once
)

// TransformFn rewrites one node. It returns false when nothing changed.
type TransformFn func(Plan) (Plan, bool)

// Rule is an optimizer rule.
type Rule interface {
	Name() string
	ApplyOrder() ApplyOrder
	Rewrite(Plan) (Plan, bool)
}

type rule struct {
	name  string
	order ApplyOrder
	fn    TransformFn
}

// NewRule creates a rule from a node rewrite.
func NewRule(name string, order ApplyOrder, fn TransformFn) Rule {
	return &rule{name: name, order: order, fn: fn}
}

func (r *rule) Name() string                { return r.name }
func (r *rule) ApplyOrder() ApplyOrder      { return r.order }
func (r *rule) Rewrite(p Plan) (Plan, bool) { return r.fn(p) }

// TransformUp applies fn to every node, inputs first.
func TransformUp(p Plan, fn TransformFn) (Plan, bool) {
	inputs, changed := transformInputs(p, func(in Plan) (Plan, bool) { return TransformUp(in, fn) })
	if changed {
		p = p.WithInputs(inputs)
	}
	if out, ok := fn(p); ok {
		return out, true
	}
	return p, changed
}

// TransformDown applies fn to every node, the node first and then the inputs
// of the result.
func TransformDown(p Plan, fn TransformFn) (Plan, bool) {
	p, changed := fn(p)
	inputs, ok := transformInputs(p, func(in Plan) (Plan, bool) { return TransformDown(in, fn) })
	if ok {
		return p.WithInputs(inputs), true
	}
	return p, changed
}

func transformInputs(p Plan, fn TransformFn) ([]Plan, bool) {
	inputs := p.Inputs()
	if len(inputs) == 0 {
		return nil, false
	}
	out := make([]Plan, len(inputs))
	changed := false
	for i, in := range inputs {
		r, ok := fn(in)
		out[i] = r
		changed = changed || ok
	}
	return out, changed
}

// Apply runs one rule over the plan following its ApplyOrder.
func Apply(p Plan, r Rule) (Plan, bool) {
	switch r.ApplyOrder() {
	case TopDown:
		return TransformDown(p, r.Rewrite)
	case BottomUp:
		return TransformUp(p, r.Rewrite)
	default:
		return r.Rewrite(p)
	}
}

// Optimize runs the rules in order, each over the output of the previous one.
func Optimize(p Plan, rules []Rule) Plan {
	for _, r := range rules {
		var changed bool
		if p, changed = Apply(p, r); changed {
			utils.GetQueryLogger().Debugf("logical rule %s applied", r.Name())
		}
	}
	return p
}

// ExprRule creates a bottom up rule rewriting every expression of every node.
func ExprRule(name string, fn expr.RewriteFn) Rule {
	return NewRule(name, BottomUp, func(p Plan) (Plan, bool) { return MapExprs(p, fn) })
}

// MapExprs rewrites the expressions owned by the node, not its inputs.
func MapExprs(p Plan, fn expr.RewriteFn) (Plan, bool) {
	switch n := p.(type) {
	case *TableScan:
		filters, ok := rewriteExprs(n.Filters, fn)
		if ok {
			c := *n
			c.Filters = filters
			return &c, true
		}
	case *Filter:
		if pred, ok := expr.Rewrite(n.Predicate, fn); ok {
			return &Filter{Input: n.Input, Predicate: pred}, true
		}
	case *Projection:
		if exprs, ok := rewriteNamed(n.Exprs, fn); ok {
			return &Projection{Input: n.Input, Exprs: exprs}, true
		}
	case *Aggregate:
		groupBy, gok := rewriteNamed(n.GroupBy, fn)
		aggs, aok := rewriteNamed(n.Aggs, fn)
		if gok || aok {
			return &Aggregate{Input: n.Input, GroupBy: groupBy, Aggs: aggs}, true
		}
	case *Join:
		changed := false
		on := make([]EquiPair, len(n.On))
		for i, pair := range n.On {
			l, lok := expr.Rewrite(pair.Left, fn)
			r, rok := expr.Rewrite(pair.Right, fn)
			on[i] = EquiPair{Left: l, Right: r}
			changed = changed || lok || rok
		}
		filter, fok := expr.Rewrite(n.Filter, fn)
		if changed || fok {
			c := *n
			c.On, c.Filter = on, filter
			return &c, true
		}
	case *Sort:
		changed := false
		keys := make([]SortKey, len(n.Keys))
		for i, k := range n.Keys {
			e, ok := expr.Rewrite(k.Expr, fn)
			keys[i] = SortKey{Expr: e, Desc: k.Desc}
			changed = changed || ok
		}
		if changed {
			return &Sort{Input: n.Input, Keys: keys, Fetch: n.Fetch}, true
		}
	}
	return p, false
}

func rewriteExprs(exprs []expr.Expr, fn expr.RewriteFn) ([]expr.Expr, bool) {
	out := make([]expr.Expr, len(exprs))
	changed := false
	for i, e := range exprs {
		r, ok := expr.Rewrite(e, fn)
		out[i] = r
		changed = changed || ok
	}
	return out, changed
}

func rewriteNamed(exprs []NamedExpr, fn expr.RewriteFn) ([]NamedExpr, bool) {
	out := make([]NamedExpr, len(exprs))
	changed := false
	for i, e := range exprs {
		r, ok := expr.Rewrite(e.Expr, fn)
		out[i] = NamedExpr{Expr: r, Name: e.Name, Relation: e.Relation}
		changed = changed || ok
	}
	return out, changed
}

// Walk calls fn for every node, parents first.
func Walk(p Plan, fn func(Plan)) {
	fn(p)
	for _, in := range p.Inputs() {
		Walk(in, fn)
	}
}
