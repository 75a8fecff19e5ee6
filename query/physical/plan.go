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

package physical

import (
	"fmt"
	"strings"

	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/indexopt"
	"github.com/streamql/streamql/query/logical"
)

// Field is a typed output column of an operator.
type Field struct {
	Relation string           `json:"relation,omitempty"`
	Name     string           `json:"name"`
	Type     metaCom.DataType `json:"type"`
}

func (f Field) String() string {
	return f.Column().String() + ":" + string(f.Type)
}

// Column drops the type.
func (f Field) Column() logical.Column {
	return logical.Column{Relation: f.Relation, Name: f.Name}
}

// Plan is an operator of an execution plan. Plans are immutable, rules
// build new nodes.
type Plan interface {
	// Schema returns the typed output columns.
	Schema() []Field
	Children() []Plan
	// WithChildren returns a copy of the node over new children.
	WithChildren(children []Plan) Plan
	// String describes the node alone.
	String() string
}

// AggregateMode tells which part of a two phase aggregation a node computes.
type AggregateMode int

const (
	// AggregateSingle aggregates rows into final values.
	AggregateSingle AggregateMode = iota
	// AggregatePartial aggregates rows into mergeable states.
	AggregatePartial
	// AggregateFinal merges partial states into final values.
	AggregateFinal
)

var aggregateModeNames = map[AggregateMode]string{
	AggregateSingle:  "Single",
	AggregatePartial: "Partial",
	AggregateFinal:   "Final",
}

func (m AggregateMode) String() string { return aggregateModeNames[m] }

// PartitionMode is how a hash join distributes its inputs.
type PartitionMode int

const (
	// CollectLeft builds one hash table from the whole left input.
	CollectLeft PartitionMode = iota
	// Partitioned joins matching hash partitions of both inputs.
	Partitioned
)

func (m PartitionMode) String() string {
	if m == Partitioned {
		return "Partitioned"
	}
	return "CollectLeft"
}

// TableScanExec reads the files of a stream. Filters hold the pushed down
// time range, IndexCondition prunes rows through the inverted index. Files
// are bound on the node executing the scan.
type TableScanExec struct {
	Stream            metaCom.StreamRef
	Relation          string
	Fields            []metaCom.Field
	Filters           []expr.Expr
	IndexCondition    indexopt.Condition
	IndexOptimizeMode indexopt.Mode
	Files             []metaCom.FileKey
}

// FilterExec keeps the rows the predicate is true for.
type FilterExec struct {
	Input     Plan
	Predicate expr.Expr
}

// ProjectionExec evaluates expressions over its input.
type ProjectionExec struct {
	Input Plan
	Exprs []logical.NamedExpr
}

// AggregateExec groups its input. Partial outputs the group keys followed by
// the states of every aggregate, Final groups by references to the partial
// keys and merges those states.
type AggregateExec struct {
	Input   Plan
	Mode    AggregateMode
	GroupBy []logical.NamedExpr
	Aggs    []logical.NamedExpr
}

// HashJoinExec joins on equalities, building a hash table from the left input.
// A broadcast join reads an enrichment table on every node, only the node in
// enrich mode emits the unmatched enrichment rows.
type HashJoinExec struct {
	Left      Plan
	Right     Plan
	Type      logical.JoinType
	On        []logical.EquiPair
	Filter    expr.Expr
	Mode      PartitionMode
	Broadcast bool
}

// NestedLoopJoinExec joins every pair of rows the filter accepts.
type NestedLoopJoinExec struct {
	Left   Plan
	Right  Plan
	Type   logical.JoinType
	Filter expr.Expr
}

// SortExec sorts its input. A non zero Fetch keeps the first Fetch rows only.
type SortExec struct {
	Input Plan
	Keys  []logical.SortKey
	Fetch int64
}

// SortPreservingMergeExec merges the sorted partitions of its input.
type SortPreservingMergeExec struct {
	Input Plan
	Keys  []logical.SortKey
	Fetch int64
}

// GlobalLimitExec skips and fetches rows of a single partition.
type GlobalLimitExec struct {
	Input Plan
	Skip  int64
	Fetch int64
}

// UnionExec concatenates its inputs.
type UnionExec struct {
	Inputs []Plan
}

// CoalescePartitionsExec merges the partitions of its input into one in
// arrival order.
type CoalescePartitionsExec struct {
	Input Plan
}

// RepartitionExec hash partitions its input on Keys.
type RepartitionExec struct {
	Input      Plan
	Partitions int
	Keys       []expr.Expr
}

// DeduplicationExec keeps the first row of every distinct key, up to Fetch rows.
type DeduplicationExec struct {
	Input Plan
	Keys  []expr.Expr
	Fetch int64
}

// EnrichExec reads a whole enrichment table.
type EnrichExec struct {
	Stream   metaCom.StreamRef
	Relation string
	Fields   []metaCom.Field
}

// IndexOptimizeExec answers a whole query shortcut from the inverted index.
// Every partition emits rows the leader re-aggregates.
type IndexOptimizeExec struct {
	Stream    metaCom.StreamRef
	Relation  string
	Mode      indexopt.Mode
	Condition indexopt.Condition
	Output    []Field
	// StartTime and EndTime bound the rows in microseconds, a zero EndTime
	// leaves the range open.
	StartTime int64
	EndTime   int64
	Files     []metaCom.FileKey
}

// RemoteScanExec runs its input on the cluster, one partition per node.
type RemoteScanExec struct {
	Input   Plan
	Stream  metaCom.StreamRef
	Analyze bool
}

// EmptyExec produces no row, or one row without columns.
type EmptyExec struct {
	ProduceOneRow bool
	Output        []Field
}

// AnalyzeExec runs its input and reports the operator metrics instead of rows.
type AnalyzeExec struct {
	Input   Plan
	Verbose bool
}

// Schema implements Plan.
func (p *TableScanExec) Schema() []Field { return streamFields(p.Relation, p.Fields) }

// Schema implements Plan.
func (p *FilterExec) Schema() []Field { return p.Input.Schema() }

// Schema implements Plan.
func (p *ProjectionExec) Schema() []Field { return namedFields(p.Exprs, p.Input.Schema()) }

// Schema implements Plan.
func (p *AggregateExec) Schema() []Field {
	input := p.Input.Schema()
	fields := namedFields(p.GroupBy, input)
	for _, a := range p.Aggs {
		if p.Mode == AggregatePartial {
			fields = append(fields, PartialStates(a, input)...)
			continue
		}
		typ := metaCom.Int64
		if call, ok := a.Expr.(*expr.Call); ok {
			typ = aggregateType(call, input, p.Mode == AggregateFinal, a.Name)
		}
		fields = append(fields, Field{Relation: a.Relation, Name: a.Name, Type: typ})
	}
	return fields
}

// Schema implements Plan.
func (p *HashJoinExec) Schema() []Field { return joinFields(p.Type, p.Left, p.Right) }

// Schema implements Plan.
func (p *NestedLoopJoinExec) Schema() []Field { return joinFields(p.Type, p.Left, p.Right) }

// Schema implements Plan.
func (p *SortExec) Schema() []Field { return p.Input.Schema() }

// Schema implements Plan.
func (p *SortPreservingMergeExec) Schema() []Field { return p.Input.Schema() }

// Schema implements Plan.
func (p *GlobalLimitExec) Schema() []Field { return p.Input.Schema() }

// Schema implements Plan.
func (p *UnionExec) Schema() []Field {
	fields := append([]Field{}, p.Inputs[0].Schema()...)
	for i := range fields {
		fields[i].Relation = ""
	}
	return fields
}

// Schema implements Plan.
func (p *CoalescePartitionsExec) Schema() []Field { return p.Input.Schema() }

// Schema implements Plan.
func (p *RepartitionExec) Schema() []Field { return p.Input.Schema() }

// Schema implements Plan.
func (p *DeduplicationExec) Schema() []Field { return p.Input.Schema() }

// Schema implements Plan.
func (p *EnrichExec) Schema() []Field { return streamFields(p.Relation, p.Fields) }

// Schema implements Plan.
func (p *IndexOptimizeExec) Schema() []Field { return p.Output }

// Schema implements Plan.
func (p *RemoteScanExec) Schema() []Field { return p.Input.Schema() }

// Schema implements Plan.
func (p *EmptyExec) Schema() []Field { return p.Output }

// AnalyzeColumns are the output columns of AnalyzeExec.
var AnalyzeColumns = []Field{
	{Name: "plan_type", Type: metaCom.Utf8},
	{Name: "plan", Type: metaCom.Utf8},
}

// Schema implements Plan.
func (p *AnalyzeExec) Schema() []Field { return AnalyzeColumns }

func streamFields(relation string, fields []metaCom.Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = Field{Relation: relation, Name: f.Name, Type: f.Type}
	}
	return out
}

func namedFields(exprs []logical.NamedExpr, input []Field) []Field {
	out := make([]Field, len(exprs))
	for i, e := range exprs {
		out[i] = Field{Relation: e.Relation, Name: e.Name, Type: TypeOf(e.Expr, input)}
	}
	return out
}

func joinFields(typ logical.JoinType, left, right Plan) []Field {
	l := left.Schema()
	if typ == logical.LeftSemiJoin || typ == logical.LeftAntiJoin {
		return l
	}
	return append(append([]Field{}, l...), right.Schema()...)
}

// Children implements Plan.
func (p *TableScanExec) Children() []Plan { return nil }

// Children implements Plan.
func (p *FilterExec) Children() []Plan { return []Plan{p.Input} }

// Children implements Plan.
func (p *ProjectionExec) Children() []Plan { return []Plan{p.Input} }

// Children implements Plan.
func (p *AggregateExec) Children() []Plan { return []Plan{p.Input} }

// Children implements Plan.
func (p *HashJoinExec) Children() []Plan { return []Plan{p.Left, p.Right} }

// Children implements Plan.
func (p *NestedLoopJoinExec) Children() []Plan { return []Plan{p.Left, p.Right} }

// Children implements Plan.
func (p *SortExec) Children() []Plan { return []Plan{p.Input} }

// Children implements Plan.
func (p *SortPreservingMergeExec) Children() []Plan { return []Plan{p.Input} }

// Children implements Plan.
func (p *GlobalLimitExec) Children() []Plan { return []Plan{p.Input} }

// Children implements Plan.
func (p *UnionExec) Children() []Plan { return p.Inputs }

// Children implements Plan.
func (p *CoalescePartitionsExec) Children() []Plan { return []Plan{p.Input} }

// Children implements Plan.
func (p *RepartitionExec) Children() []Plan { return []Plan{p.Input} }

// Children implements Plan.
func (p *DeduplicationExec) Children() []Plan { return []Plan{p.Input} }

// Children implements Plan.
func (p *EnrichExec) Children() []Plan { return nil }

// Children implements Plan.
func (p *IndexOptimizeExec) Children() []Plan { return nil }

// Children implements Plan.
func (p *RemoteScanExec) Children() []Plan { return []Plan{p.Input} }

// Children implements Plan.
func (p *EmptyExec) Children() []Plan { return nil }

// Children implements Plan.
func (p *AnalyzeExec) Children() []Plan { return []Plan{p.Input} }

// WithChildren implements Plan.
func (p *TableScanExec) WithChildren([]Plan) Plan { c := *p; return &c }

// WithChildren implements Plan.
func (p *FilterExec) WithChildren(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithChildren implements Plan.
func (p *ProjectionExec) WithChildren(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithChildren implements Plan.
func (p *AggregateExec) WithChildren(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithChildren implements Plan.
func (p *HashJoinExec) WithChildren(in []Plan) Plan {
	c := *p
	c.Left, c.Right = in[0], in[1]
	return &c
}

// WithChildren implements Plan.
func (p *NestedLoopJoinExec) WithChildren(in []Plan) Plan {
	c := *p
	c.Left, c.Right = in[0], in[1]
	return &c
}

// WithChildren implements Plan.
func (p *SortExec) WithChildren(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithChildren implements Plan.
func (p *SortPreservingMergeExec) WithChildren(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithChildren implements Plan.
func (p *GlobalLimitExec) WithChildren(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithChildren implements Plan.
func (p *UnionExec) WithChildren(in []Plan) Plan { return &UnionExec{Inputs: append([]Plan{}, in...)} }

// WithChildren implements Plan.
func (p *CoalescePartitionsExec) WithChildren(in []Plan) Plan {
	return &CoalescePartitionsExec{Input: in[0]}
}

// WithChildren implements Plan.
func (p *RepartitionExec) WithChildren(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithChildren implements Plan.
func (p *DeduplicationExec) WithChildren(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithChildren implements Plan.
func (p *EnrichExec) WithChildren([]Plan) Plan { c := *p; return &c }

// WithChildren implements Plan.
func (p *IndexOptimizeExec) WithChildren([]Plan) Plan { c := *p; return &c }

// WithChildren implements Plan.
func (p *RemoteScanExec) WithChildren(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

// WithChildren implements Plan.
func (p *EmptyExec) WithChildren([]Plan) Plan { c := *p; return &c }

// WithChildren implements Plan.
func (p *AnalyzeExec) WithChildren(in []Plan) Plan { c := *p; c.Input = in[0]; return &c }

func (p *TableScanExec) String() string {
	names := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		names[i] = f.Name
	}
	s := fmt.Sprintf("TableScanExec: %s projection=[%s]", p.Relation, strings.Join(names, ", "))
	if len(p.Filters) > 0 {
		s += " filters=[" + joinExprs(p.Filters) + "]"
	}
	if p.IndexCondition != nil {
		s += " index_condition=" + p.IndexCondition.String()
	}
	if p.IndexOptimizeMode != nil {
		s += " index_optimize_mode=" + p.IndexOptimizeMode.String()
	}
	if len(p.Files) > 0 {
		s += fmt.Sprintf(" files=%d", len(p.Files))
	}
	return s
}

func (p *FilterExec) String() string { return "FilterExec: " + p.Predicate.String() }

func (p *ProjectionExec) String() string { return "ProjectionExec: " + joinNamed(p.Exprs) }

func (p *AggregateExec) String() string {
	return fmt.Sprintf("AggregateExec: mode=%s, groupBy=[%s], aggr=[%s]", p.Mode, joinNamed(p.GroupBy), joinNamed(p.Aggs))
}

func (p *HashJoinExec) String() string {
	on := make([]string, len(p.On))
	for i, pair := range p.On {
		on[i] = pair.String()
	}
	s := fmt.Sprintf("HashJoinExec: mode=%s, type=%s, on=[%s]", p.Mode, p.Type, strings.Join(on, ", "))
	if p.Filter != nil {
		s += " filter=" + p.Filter.String()
	}
	if p.Broadcast {
		s += " broadcast"
	}
	return s
}

func (p *NestedLoopJoinExec) String() string {
	s := fmt.Sprintf("NestedLoopJoinExec: type=%s", p.Type)
	if p.Filter != nil {
		s += " filter=" + p.Filter.String()
	}
	return s
}

func (p *SortExec) String() string {
	s := "SortExec: " + joinKeys(p.Keys)
	if p.Fetch > 0 {
		s += fmt.Sprintf(", fetch=%d", p.Fetch)
	}
	return s
}

func (p *SortPreservingMergeExec) String() string {
	s := "SortPreservingMergeExec: " + joinKeys(p.Keys)
	if p.Fetch > 0 {
		s += fmt.Sprintf(", fetch=%d", p.Fetch)
	}
	return s
}

func (p *GlobalLimitExec) String() string {
	return fmt.Sprintf("GlobalLimitExec: skip=%d, fetch=%d", p.Skip, p.Fetch)
}

func (p *UnionExec) String() string { return "UnionExec" }

func (p *CoalescePartitionsExec) String() string { return "CoalescePartitionsExec" }

func (p *RepartitionExec) String() string {
	return fmt.Sprintf("RepartitionExec: partitions=%d, keys=[%s]", p.Partitions, joinExprs(p.Keys))
}

func (p *DeduplicationExec) String() string {
	return fmt.Sprintf("DeduplicationExec: keys=[%s], fetch=%d", joinExprs(p.Keys), p.Fetch)
}

func (p *EnrichExec) String() string { return "EnrichExec: " + p.Stream.Name }

func (p *IndexOptimizeExec) String() string {
	s := fmt.Sprintf("IndexOptimizeExec: %s mode=%s", p.Relation, p.Mode)
	if p.Condition != nil {
		s += " index_condition=" + p.Condition.String()
	}
	return s
}

func (p *RemoteScanExec) String() string { return "RemoteScanExec: " + p.Stream.String() }

func (p *EmptyExec) String() string {
	return fmt.Sprintf("EmptyExec: produceOneRow=%t", p.ProduceOneRow)
}

func (p *AnalyzeExec) String() string {
	return fmt.Sprintf("AnalyzeExec: verbose=%t", p.Verbose)
}

func joinExprs(exprs []expr.Expr) string {
	strs := make([]string, len(exprs))
	for i, e := range exprs {
		strs[i] = e.String()
	}
	return strings.Join(strs, ", ")
}

func joinNamed(exprs []logical.NamedExpr) string {
	strs := make([]string, len(exprs))
	for i, e := range exprs {
		strs[i] = e.String()
	}
	return strings.Join(strs, ", ")
}

func joinKeys(keys []logical.SortKey) string {
	strs := make([]string, len(keys))
	for i, k := range keys {
		strs[i] = k.String()
	}
	return strings.Join(strs, ", ")
}

// Format renders the plan as an indented tree, one operator per line.
func Format(p Plan) string {
	var b strings.Builder
	format(&b, p, 0)
	return b.String()
}

func format(b *strings.Builder, p Plan, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(p.String())
	b.WriteString("\n")
	for _, c := range p.Children() {
		format(b, c, depth+1)
	}
}

// Walk calls fn for every node, parents first.
func Walk(p Plan, fn func(Plan)) {
	fn(p)
	for _, c := range p.Children() {
		Walk(c, fn)
	}
}

// FieldIndex resolves a column reference against fields, -1 when absent.
// Unqualified references match by name only.
func FieldIndex(fields []Field, ref *expr.VarRef) int {
	for i, f := range fields {
		if f.Name == ref.Val && (ref.Qualifier == "" || ref.Qualifier == f.Relation) {
			return i
		}
	}
	return -1
}
