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
	"fmt"
	"strings"

	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/expr"
)

// Column is an output column of a plan node. Relation is the table name or
// alias columns are qualified with, empty for computed columns.
type Column struct {
	Relation string
	Name     string
}

func (c Column) String() string {
	if c.Relation == "" {
		return c.Name
	}
	return c.Relation + "." + c.Name
}

// Ref returns an expression referring to the column.
func (c Column) Ref() *expr.VarRef {
	return &expr.VarRef{Qualifier: c.Relation, Val: c.Name}
}

// NamedExpr is an expression producing a named output column.
type NamedExpr struct {
	Expr     expr.Expr
	Name     string
	Relation string
}

// Column returns the output column of the expression.
func (n NamedExpr) Column() Column {
	return Column{Relation: n.Relation, Name: n.Name}
}

func (n NamedExpr) String() string {
	s := n.Expr.String()
	if ref, ok := n.Expr.(*expr.VarRef); (ok && ref.Val == n.Name) || s == n.Name {
		return s
	}
	return s + " AS " + expr.QuoteIdent(n.Name)
}

// SortKey is an ordering key.
type SortKey struct {
	Expr expr.Expr
	Desc bool
}

func (k SortKey) String() string {
	if k.Desc {
		return k.Expr.String() + " DESC"
	}
	return k.Expr.String() + " ASC"
}

// Plan is a node of a logical plan. Plans are immutable, rewrites build new nodes.
type Plan interface {
	// Schema returns the output columns.
	Schema() []Column
	Inputs() []Plan
	// WithInputs returns a copy of the node over new inputs.
	WithInputs(inputs []Plan) Plan
	// String describes the node alone.
	String() string
}

// TableScan reads the projected columns of a stream. Filters are pushed down
// predicates, the query time range.
type TableScan struct {
	Stream   metaCom.StreamRef
	Relation string
	Columns  []string
	Filters  []expr.Expr
}

// Filter keeps the rows the predicate is true for.
type Filter struct {
	Input     Plan
	Predicate expr.Expr
}

// Projection evaluates expressions over its input.
type Projection struct {
	Input Plan
	Exprs []NamedExpr
}

// Aggregate groups its input and evaluates aggregate calls per group. The
// output is the group keys followed by the aggregates.
type Aggregate struct {
	Input   Plan
	GroupBy []NamedExpr
	Aggs    []NamedExpr
}

// JoinType is the type of a join.
type JoinType int

// Join types.
const (
	InnerJoin JoinType = iota
	LeftJoin
	RightJoin
	FullJoin
	LeftSemiJoin
	LeftAntiJoin
	CrossJoin
)

var joinTypeNames = map[JoinType]string{
	InnerJoin:    "Inner",
	LeftJoin:     "Left",
	RightJoin:    "Right",
	FullJoin:     "Full",
	LeftSemiJoin: "LeftSemi",
	LeftAntiJoin: "LeftAnti",
	CrossJoin:    "Cross",
}

func (t JoinType) String() string {
	return joinTypeNames[t]
}

// Swappable tells whether the join sides can be exchanged.
func (t JoinType) Swappable() bool {
	switch t {
	case InnerJoin, LeftJoin, RightJoin, FullJoin, CrossJoin:
		return true
	}
	return false
}

// Swapped returns the join type after exchanging sides.
func (t JoinType) Swapped() JoinType {
	switch t {
	case LeftJoin:
		return RightJoin
	case RightJoin:
		return LeftJoin
	}
	return t
}

// EquiPair is an equality join condition between the two sides.
type EquiPair struct {
	Left  expr.Expr
	Right expr.Expr
}

func (p EquiPair) String() string {
	return p.Left.String() + " = " + p.Right.String()
}

// Join combines two inputs. On holds the equality conditions, Filter the rest.
type Join struct {
	Left   Plan
	Right  Plan
	Type   JoinType
	On     []EquiPair
	Filter expr.Expr
}

// Sort orders its input. A non zero Fetch keeps only the first rows.
type Sort struct {
	Input Plan
	Keys  []SortKey
	Fetch int64
}

// Limit skips and fetches rows.
type Limit struct {
	Input Plan
	Skip  int64
	Fetch int64
}

// Union concatenates inputs with the same columns.
type Union struct {
	Plans []Plan
}

// EmptyRelation produces no row, or one row without columns.
type EmptyRelation struct {
	ProduceOneRow bool
	Columns       []Column
}

// SubqueryAlias renames the relation of its input columns.
type SubqueryAlias struct {
	Input Plan
	Alias string
}

// Deduplicate keeps the first row of every distinct key, up to Fetch rows.
type Deduplicate struct {
	Input Plan
	Keys  []expr.Expr
	Fetch int64
}

// Schema implements Plan.
func (p *TableScan) Schema() []Column {
	cols := make([]Column, len(p.Columns))
	for i, name := range p.Columns {
		cols[i] = Column{Relation: p.Relation, Name: name}
	}
	return cols
}

// Schema implements Plan.
func (p *Filter) Schema() []Column { return p.Input.Schema() }

// Schema implements Plan.
func (p *Projection) Schema() []Column { return namedColumns(p.Exprs) }

// Schema implements Plan.
func (p *Aggregate) Schema() []Column {
	return append(namedColumns(p.GroupBy), namedColumns(p.Aggs)...)
}

// Schema implements Plan.
func (p *Join) Schema() []Column {
	left := p.Left.Schema()
	if p.Type == LeftSemiJoin || p.Type == LeftAntiJoin {
		return left
	}
	return append(append([]Column{}, left...), p.Right.Schema()...)
}

// Schema implements Plan.
func (p *Sort) Schema() []Column { return p.Input.Schema() }

// Schema implements Plan.
func (p *Limit) Schema() []Column { return p.Input.Schema() }

// Schema implements Plan.
func (p *Union) Schema() []Column {
	cols := p.Plans[0].Schema()
	out := make([]Column, len(cols))
	for i, c := range cols {
		out[i] = Column{Name: c.Name}
	}
	return out
}

// Schema implements Plan.
func (p *EmptyRelation) Schema() []Column { return p.Columns }

// Schema implements Plan.
func (p *SubqueryAlias) Schema() []Column {
	cols := p.Input.Schema()
	out := make([]Column, len(cols))
	for i, c := range cols {
		out[i] = Column{Relation: p.Alias, Name: c.Name}
	}
	return out
}

// Schema implements Plan.
func (p *Deduplicate) Schema() []Column { return p.Input.Schema() }

func namedColumns(exprs []NamedExpr) []Column {
	cols := make([]Column, len(exprs))
	for i, e := range exprs {
		cols[i] = e.Column()
	}
	return cols
}

// Inputs implements Plan.
func (p *TableScan) Inputs() []Plan { return nil }

// Inputs implements Plan.
func (p *Filter) Inputs() []Plan { return []Plan{p.Input} }

// Inputs implements Plan.
func (p *Projection) Inputs() []Plan { return []Plan{p.Input} }

// Inputs implements Plan.
func (p *Aggregate) Inputs() []Plan { return []Plan{p.Input} }

// Inputs implements Plan.
func (p *Join) Inputs() []Plan { return []Plan{p.Left, p.Right} }

// Inputs implements Plan.
func (p *Sort) Inputs() []Plan { return []Plan{p.Input} }

// Inputs implements Plan.
func (p *Limit) Inputs() []Plan { return []Plan{p.Input} }

// Inputs implements Plan.
func (p *Union) Inputs() []Plan { return p.Plans }

// Inputs implements Plan.
func (p *EmptyRelation) Inputs() []Plan { return nil }

// Inputs implements Plan.
func (p *SubqueryAlias) Inputs() []Plan { return []Plan{p.Input} }

// Inputs implements Plan.
func (p *Deduplicate) Inputs() []Plan { return []Plan{p.Input} }

// WithInputs implements Plan.
func (p *TableScan) WithInputs([]Plan) Plan { c := *p; return &c }

// WithInputs implements Plan.
func (p *Filter) WithInputs(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithInputs implements Plan.
func (p *Projection) WithInputs(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithInputs implements Plan.
func (p *Aggregate) WithInputs(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithInputs implements Plan.
func (p *Join) WithInputs(in []Plan) Plan { c := *p; c.Left, c.Right = in[0], in[1]; return &c }

// WithInputs implements Plan.
func (p *Sort) WithInputs(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithInputs implements Plan.
func (p *Limit) WithInputs(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithInputs implements Plan.
func (p *Union) WithInputs(in []Plan) Plan { return &Union{Plans: append([]Plan{}, in...)} }

// WithInputs implements Plan.
func (p *EmptyRelation) WithInputs([]Plan) Plan { c := *p; return &c }

// WithInputs implements Plan.
func (p *SubqueryAlias) WithInputs(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithInputs implements Plan.
func (p *Deduplicate) WithInputs(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

func (p *TableScan) String() string {
	s := fmt.Sprintf("TableScan: %s projection=[%s]", p.Relation, strings.Join(p.Columns, ", "))
	if len(p.Filters) > 0 {
		s += " filters=[" + joinStrings(p.Filters) + "]"
	}
	return s
}

func (p *Filter) String() string { return "Filter: " + p.Predicate.String() }

func (p *Projection) String() string {
	return "Projection: " + joinNamed(p.Exprs)
}

func (p *Aggregate) String() string {
	return fmt.Sprintf("Aggregate: groupBy=[%s], aggr=[%s]", joinNamed(p.GroupBy), joinNamed(p.Aggs))
}

func (p *Join) String() string {
	on := make([]string, len(p.On))
	for i, pair := range p.On {
		on[i] = pair.String()
	}
	s := fmt.Sprintf("%s Join: on=[%s]", p.Type, strings.Join(on, ", "))
	if p.Filter != nil {
		s += " filter=" + p.Filter.String()
	}
	return s
}

func (p *Sort) String() string {
	keys := make([]string, len(p.Keys))
	for i, k := range p.Keys {
		keys[i] = k.String()
	}
	s := "Sort: " + strings.Join(keys, ", ")
	if p.Fetch > 0 {
		s += fmt.Sprintf(", fetch=%d", p.Fetch)
	}
	return s
}

func (p *Limit) String() string { return fmt.Sprintf("Limit: skip=%d, fetch=%d", p.Skip, p.Fetch) }

func (p *Union) String() string { return "Union" }

func (p *EmptyRelation) String() string {
	return fmt.Sprintf("EmptyRelation: produceOneRow=%t", p.ProduceOneRow)
}

func (p *SubqueryAlias) String() string { return "SubqueryAlias: " + p.Alias }

func (p *Deduplicate) String() string {
	return fmt.Sprintf("Deduplicate: keys=[%s], fetch=%d", joinStrings(p.Keys), p.Fetch)
}

func joinStrings(exprs []expr.Expr) string {
	strs := make([]string, len(exprs))
	for i, e := range exprs {
		strs[i] = e.String()
	}
	return strings.Join(strs, ", ")
}

func joinNamed(exprs []NamedExpr) string {
	strs := make([]string, len(exprs))
	for i, e := range exprs {
		strs[i] = e.String()
	}
	return strings.Join(strs, ", ")
}

// Format renders the plan as an indented tree, one node per line.
func Format(p Plan) string {
	var b strings.Builder
	format(&b, p, 0)
	return b.String()
}

func format(b *strings.Builder, p Plan, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(p.String())
	b.WriteString("\n")
	for _, in := range p.Inputs() {
		format(b, in, depth+1)
	}
}

// HasColumn tells whether the columns hold a column of that name.
func HasColumn(cols []Column, name string) bool {
	return ColumnIndex(cols, &expr.VarRef{Val: name}) >= 0
}

// ColumnIndex resolves a column reference against columns, -1 when absent.
// Unqualified references match by name only.
func ColumnIndex(cols []Column, ref *expr.VarRef) int {
	for i, c := range cols {
		if c.Name == ref.Val && (ref.Qualifier == "" || ref.Qualifier == c.Relation) {
			return i
		}
	}
	return -1
}
