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

// RewriteFn replaces one node. It returns the node unchanged and false when
// it has nothing to rewrite.
type RewriteFn func(Expr) (Expr, bool)

// Rewrite applies fn bottom-up and returns the resulting tree plus whether
// anything changed. Untouched subtrees are shared with the input, changed
// ancestors are copied, so the input tree is never modified.
func Rewrite(e Expr, fn RewriteFn) (Expr, bool) {
	if e == nil {
		return nil, false
	}
	var changed bool
	switch n := e.(type) {
	case *UnaryExpr:
		if c, ok := Rewrite(n.Expr, fn); ok {
			e, changed = &UnaryExpr{Op: n.Op, Expr: c}, true
		}

	case *BinaryExpr:
		lhs, lok := Rewrite(n.LHS, fn)
		rhs, rok := Rewrite(n.RHS, fn)
		if lok || rok {
			e, changed = &BinaryExpr{Op: n.Op, LHS: lhs, RHS: rhs}, true
		}

	case *ParenExpr:
		if c, ok := Rewrite(n.Expr, fn); ok {
			e, changed = &ParenExpr{Expr: c}, true
		}

	case *Call:
		args, aok := rewriteList(n.Args, fn)
		var group []SortField
		var gok bool
		if n.WithinGroup != nil {
			group = make([]SortField, len(n.WithinGroup))
			for i, k := range n.WithinGroup {
				r, ok := Rewrite(k.Expr, fn)
				group[i] = SortField{Expr: r, Desc: k.Desc}
				gok = gok || ok
			}
		}
		if aok || gok {
			e, changed = &Call{Name: n.Name, Args: args, Distinct: n.Distinct, WithinGroup: group}, true
		}

	case *Case:
		op, ook := Rewrite(n.Operand, fn)
		els, eok := Rewrite(n.Else, fn)
		conds := make([]WhenThen, len(n.WhenThens))
		var wok bool
		for i, wt := range n.WhenThens {
			w, ok1 := Rewrite(wt.When, fn)
			t, ok2 := Rewrite(wt.Then, fn)
			conds[i] = WhenThen{When: w, Then: t}
			wok = wok || ok1 || ok2
		}
		if ook || eok || wok {
			e, changed = &Case{Operand: op, WhenThens: conds, Else: els}, true
		}

	case *InList:
		c, cok := Rewrite(n.Expr, fn)
		list, lok := rewriteList(n.List, fn)
		if cok || lok {
			e, changed = &InList{Expr: c, List: list, Not: n.Not}, true
		}

	case *InSubquery:
		if c, ok := Rewrite(n.Expr, fn); ok {
			e, changed = &InSubquery{Expr: c, Subquery: n.Subquery, Not: n.Not}, true
		}
	}

	if r, ok := fn(e); ok {
		return r, true
	}
	return e, changed
}

func rewriteList(list []Expr, fn RewriteFn) ([]Expr, bool) {
	var out []Expr
	for i, item := range list {
		r, ok := Rewrite(item, fn)
		if ok && out == nil {
			out = make([]Expr, len(list))
			copy(out, list[:i])
		}
		if out != nil {
			out[i] = r
		}
	}
	if out == nil {
		return list, false
	}
	return out, true
}

// RewriteTopDown applies fn to a node before its children. When fn rewrites
// a node its replacement is not descended into.
func RewriteTopDown(e Expr, fn RewriteFn) (Expr, bool) {
	if e == nil {
		return nil, false
	}
	if r, ok := fn(e); ok {
		return r, true
	}
	switch n := e.(type) {
	case *UnaryExpr:
		if c, ok := RewriteTopDown(n.Expr, fn); ok {
			return &UnaryExpr{Op: n.Op, Expr: c}, true
		}
	case *BinaryExpr:
		lhs, lok := RewriteTopDown(n.LHS, fn)
		rhs, rok := RewriteTopDown(n.RHS, fn)
		if lok || rok {
			return &BinaryExpr{Op: n.Op, LHS: lhs, RHS: rhs}, true
		}
	case *ParenExpr:
		if c, ok := RewriteTopDown(n.Expr, fn); ok {
			return &ParenExpr{Expr: c}, true
		}
	case *Call:
		var out []Expr
		for i, arg := range n.Args {
			r, ok := RewriteTopDown(arg, fn)
			if ok && out == nil {
				out = make([]Expr, len(n.Args))
				copy(out, n.Args[:i])
			}
			if out != nil {
				out[i] = r
			}
		}
		if out != nil {
			return &Call{Name: n.Name, Args: out, Distinct: n.Distinct, WithinGroup: n.WithinGroup}, true
		}
	}
	return e, false
}
