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

import "strings"

// constants for call names.
const (
	CountCallName      = "count"
	SumCallName        = "sum"
	MinCallName        = "min"
	MaxCallName        = "max"
	AvgCallName        = "avg"
	FirstValueCallName = "first_value"
	LastValueCallName  = "last_value"
	// percentile aggregations take their ordering column in WITHIN GROUP
	ApproxPercentileCallName = "approx_percentile_cont"
	PercentileContCallName   = "percentile_cont"
	ApproxDistinctCallName   = "approx_distinct"

	HistogramCallName = "histogram"
	DateBinCallName   = "date_bin"

	MatchAllCallName             = "match_all"
	FuzzyMatchAllCallName        = "fuzzy_match_all"
	StrMatchCallName             = "str_match"
	StrMatchIgnoreCaseCallName   = "str_match_ignore_case"
	MatchFieldCallName           = "match_field"
	MatchFieldIgnoreCaseCallName = "match_field_ignore_case"
	FuzzyMatchCallName           = "fuzzy_match"

	EncryptCallName     = "encrypt"
	DecryptCallName     = "decrypt"
	EncryptPathCallName = "encrypt_path"
	DecryptPathCallName = "decrypt_path"

	LowerCallName    = "lower"
	UpperCallName    = "upper"
	LengthCallName   = "length"
	CoalesceCallName = "coalesce"
	AbsCallName      = "abs"
)

var aggregateCalls = map[string]bool{
	CountCallName:            true,
	SumCallName:              true,
	MinCallName:              true,
	MaxCallName:              true,
	AvgCallName:              true,
	FirstValueCallName:       true,
	LastValueCallName:        true,
	ApproxPercentileCallName: true,
	PercentileContCallName:   true,
	ApproxDistinctCallName:   true,
}

// IsAggregateName tells whether name is an aggregate function.
func IsAggregateName(name string) bool {
	return aggregateCalls[strings.ToLower(name)]
}

// IsAggregateCall tells whether the expression is an aggregate function call.
func IsAggregateCall(e Expr) bool {
	c, ok := e.(*Call)
	return ok && IsAggregateName(c.Name)
}

// ContainsAggregate tells whether any node of the expression is an aggregate call.
func ContainsAggregate(e Expr) bool {
	return Any(e, IsAggregateCall)
}

// IsCountStar tells whether the expression is count(*) or count(1).
func IsCountStar(e Expr) bool {
	c, ok := e.(*Call)
	if !ok || !strings.EqualFold(c.Name, CountCallName) || c.Distinct || len(c.Args) != 1 {
		return false
	}
	switch a := c.Args[0].(type) {
	case *Wildcard:
		return a.Qualifier == ""
	case *NumberLiteral:
		return a.IsInt && a.Int == 1
	}
	return false
}

// IsCall tells whether the expression is a call to one of names.
func IsCall(e Expr, names ...string) (*Call, bool) {
	c, ok := e.(*Call)
	if !ok {
		return nil, false
	}
	for _, name := range names {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return nil, false
}

// IsMatchCall tells whether the expression is one of the field match functions.
func IsMatchCall(e Expr) bool {
	_, ok := IsCall(e, StrMatchCallName, StrMatchIgnoreCaseCallName, MatchFieldCallName,
		MatchFieldIgnoreCaseCallName, FuzzyMatchCallName, MatchAllCallName, FuzzyMatchAllCallName)
	return ok
}

// StripParens removes any enclosing parentheses.
func StripParens(e Expr) Expr {
	for {
		p, ok := e.(*ParenExpr)
		if !ok {
			return e
		}
		e = p.Expr
	}
}

// Conjuncts flattens nested ANDs into a list.
func Conjuncts(e Expr) []Expr {
	return flatten(e, AND)
}

// Disjuncts flattens nested ORs into a list.
func Disjuncts(e Expr) []Expr {
	return flatten(e, OR)
}

func flatten(e Expr, op Token) []Expr {
	if e == nil {
		return nil
	}
	e = StripParens(e)
	if b, ok := e.(*BinaryExpr); ok && b.Op == op {
		return append(flatten(b.LHS, op), flatten(b.RHS, op)...)
	}
	return []Expr{e}
}

// Conjoin joins the expressions with AND, returning nil for an empty list.
func Conjoin(exprs []Expr) Expr {
	return join(exprs, AND)
}

// Disjoin joins the expressions with OR, returning nil for an empty list.
func Disjoin(exprs []Expr) Expr {
	return join(exprs, OR)
}

func join(exprs []Expr, op Token) Expr {
	var out Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = &BinaryExpr{Op: op, LHS: out, RHS: e}
	}
	return out
}

// ColumnRefs returns the distinct column references of the expression in
// order of appearance.
func ColumnRefs(e Expr) []*VarRef {
	var refs []*VarRef
	seen := map[string]bool{}
	WalkFunc(e, func(n Expr) {
		if r, ok := n.(*VarRef); ok && !seen[r.String()] {
			seen[r.String()] = true
			refs = append(refs, r)
		}
	})
	return refs
}

// ColumnNames returns the distinct unqualified column names of the expression.
func ColumnNames(e Expr) []string {
	var names []string
	seen := map[string]bool{}
	for _, r := range ColumnRefs(e) {
		if !seen[r.Val] {
			seen[r.Val] = true
			names = append(names, r.Val)
		}
	}
	return names
}

// Equal tells whether two expressions are structurally identical.
func Equal(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// Name returns the output column name of an expression.
func Name(e Expr) string {
	switch n := StripParens(e).(type) {
	case *VarRef:
		return n.Val
	default:
		return n.String()
	}
}

// Simplify folds boolean literals out of AND/OR/NOT trees.
func Simplify(e Expr) Expr {
	out, _ := Rewrite(e, func(n Expr) (Expr, bool) {
		switch n := n.(type) {
		case *ParenExpr:
			if _, ok := n.Expr.(*BooleanLiteral); ok {
				return n.Expr, true
			}
		case *UnaryExpr:
			if b, ok := n.Expr.(*BooleanLiteral); ok && n.Op == NOT {
				return &BooleanLiteral{Val: !b.Val}, true
			}
		case *BinaryExpr:
			switch n.Op {
			case AND:
				switch {
				case IsFalse(n.LHS) || IsFalse(n.RHS):
					return &BooleanLiteral{Val: false}, true
				case IsTrue(n.LHS):
					return n.RHS, true
				case IsTrue(n.RHS):
					return n.LHS, true
				}
			case OR:
				switch {
				case IsTrue(n.LHS) || IsTrue(n.RHS):
					return &BooleanLiteral{Val: true}, true
				case IsFalse(n.LHS):
					return n.RHS, true
				case IsFalse(n.RHS):
					return n.LHS, true
				}
			}
		}
		return n, false
	})
	return out
}

// CanonicalPercentile rewrites the two argument percentile form
// approx_percentile_cont(col, p) into approx_percentile_cont(p) WITHIN GROUP
// (ORDER BY col ASC).
func CanonicalPercentile(e Expr) (Expr, bool) {
	c, ok := IsCall(e, ApproxPercentileCallName, PercentileContCallName)
	if !ok || len(c.WithinGroup) > 0 || len(c.Args) < 2 {
		return e, false
	}
	args := append([]Expr{}, c.Args[1:]...)
	return &Call{
		Name:        strings.ToLower(c.Name),
		Args:        args,
		Distinct:    c.Distinct,
		WithinGroup: []SortField{{Expr: c.Args[0]}},
	}, true
}
