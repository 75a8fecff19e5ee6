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
	"fmt"
	"sort"
	"strings"

	"github.com/streamql/streamql/index"
	"github.com/streamql/streamql/query/expr"
)

// Condition is a predicate that the index engine answers without scanning rows.
type Condition interface {
	condition()
	// String returns a human readable form for logging.
	String() string
	// Query converts the condition into a native index query.
	Query() index.Query
	// Expr converts the condition back into the filter it was extracted from.
	Expr() expr.Expr
	fields(set map[string]bool)
}

func (*Equal) condition()      {}
func (*NotEqual) condition()   {}
func (*Match) condition()      {}
func (*FuzzyMatch) condition() {}
func (*All) condition()        {}
func (*And) condition()        {}
func (*Or) condition()         {}

// Equal is field = value.
type Equal struct {
	Field string
	Value string
}

func (c *Equal) String() string { return fmt.Sprintf("%s=%s", c.Field, c.Value) }

func (c *Equal) Query() index.Query { return &index.TermQuery{Field: c.Field, Term: c.Value} }

func (c *Equal) Expr() expr.Expr {
	return &expr.BinaryExpr{Op: expr.EQ, LHS: &expr.VarRef{Val: c.Field}, RHS: &expr.StringLiteral{Val: c.Value}}
}

func (c *Equal) fields(set map[string]bool) { set[c.Field] = true }

// NotEqual is field != value, rows without the field never match.
type NotEqual struct {
	Field string
	Value string
}

func (c *NotEqual) String() string { return fmt.Sprintf("%s!=%s", c.Field, c.Value) }

func (c *NotEqual) Query() index.Query {
	return &index.BooleanQuery{Clauses: []index.BooleanClause{
		{Occur: index.BooleanMust, Query: &index.ExistsQuery{Field: c.Field}},
		{Occur: index.BooleanMustNot, Query: &index.TermQuery{Field: c.Field, Term: c.Value}},
	}}
}

func (c *NotEqual) Expr() expr.Expr {
	return &expr.BinaryExpr{Op: expr.NEQ, LHS: &expr.VarRef{Val: c.Field}, RHS: &expr.StringLiteral{Val: c.Value}}
}

func (c *NotEqual) fields(set map[string]bool) { set[c.Field] = true }

// Match is a substring match of term in field.
type Match struct {
	Field         string
	Term          string
	CaseSensitive bool
}

func (c *Match) String() string {
	if c.CaseSensitive {
		return fmt.Sprintf("str_match(%s, %s)", c.Field, c.Term)
	}
	return fmt.Sprintf("str_match_ignore_case(%s, %s)", c.Field, c.Term)
}

func (c *Match) Query() index.Query {
	return &index.SubstringQuery{Field: c.Field, Term: c.Term, CaseSensitive: c.CaseSensitive}
}

func (c *Match) Expr() expr.Expr {
	name := expr.StrMatchIgnoreCaseCallName
	if c.CaseSensitive {
		name = expr.StrMatchCallName
	}
	return &expr.Call{Name: name, Args: []expr.Expr{&expr.VarRef{Val: c.Field}, &expr.StringLiteral{Val: c.Term}}}
}

func (c *Match) fields(set map[string]bool) { set[c.Field] = true }

// FuzzyMatch matches a token of field within Distance edits of term.
type FuzzyMatch struct {
	Field    string
	Term     string
	Distance int
}

func (c *FuzzyMatch) String() string {
	return fmt.Sprintf("fuzzy_match(%s, %s, %d)", c.Field, c.Term, c.Distance)
}

func (c *FuzzyMatch) Query() index.Query {
	return &index.FuzzyQuery{Field: c.Field, Term: c.Term, MaxDistance: c.Distance}
}

func (c *FuzzyMatch) Expr() expr.Expr {
	return &expr.Call{Name: expr.FuzzyMatchCallName, Args: []expr.Expr{
		&expr.VarRef{Val: c.Field}, &expr.StringLiteral{Val: c.Term}, expr.NewInt(int64(c.Distance)),
	}}
}

func (c *FuzzyMatch) fields(set map[string]bool) { set[c.Field] = true }

// All matches every row.
type All struct{}

func (c *All) String() string { return "ALL" }

func (c *All) Query() index.Query { return &index.MatchAllQuery{} }

func (c *All) Expr() expr.Expr { return &expr.BooleanLiteral{Val: true} }

func (c *All) fields(map[string]bool) {}

// And matches rows matching every child.
type And struct {
	Children []Condition
}

func (c *And) String() string { return "(" + joinConditions(c.Children, " AND ") + ")" }

func (c *And) Query() index.Query {
	qs := make([]index.Query, len(c.Children))
	for i, child := range c.Children {
		qs[i] = child.Query()
	}
	return index.Must(qs...)
}

func (c *And) Expr() expr.Expr {
	exprs := make([]expr.Expr, len(c.Children))
	for i, child := range c.Children {
		exprs[i] = parenthesize(child.Expr())
	}
	return expr.Conjoin(exprs)
}

func (c *And) fields(set map[string]bool) {
	for _, child := range c.Children {
		child.fields(set)
	}
}

// Or matches rows matching any child.
type Or struct {
	Children []Condition
}

func (c *Or) String() string { return "(" + joinConditions(c.Children, " OR ") + ")" }

func (c *Or) Query() index.Query {
	qs := make([]index.Query, len(c.Children))
	for i, child := range c.Children {
		qs[i] = child.Query()
	}
	return index.Should(qs...)
}

func (c *Or) Expr() expr.Expr {
	exprs := make([]expr.Expr, len(c.Children))
	for i, child := range c.Children {
		exprs[i] = child.Expr()
	}
	return &expr.ParenExpr{Expr: expr.Disjoin(exprs)}
}

func (c *Or) fields(set map[string]bool) {
	for _, child := range c.Children {
		child.fields(set)
	}
}

func parenthesize(e expr.Expr) expr.Expr {
	if b, ok := e.(*expr.BinaryExpr); ok && b.Op == expr.OR {
		return &expr.ParenExpr{Expr: e}
	}
	return e
}

func joinConditions(conds []Condition, sep string) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.String()
	}
	return strings.Join(parts, sep)
}

// Fields returns the sorted set of fields the condition reads.
func Fields(c Condition) []string {
	set := map[string]bool{}
	c.fields(set)
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
