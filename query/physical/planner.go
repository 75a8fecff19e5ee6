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
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/logical"
)

// Create lowers an optimized logical plan into an execution plan running on
// a single node. Distribution is added by the physical optimizer.
func Create(qc *query.QueryContext, lp logical.Plan) (Plan, error) {
	p := &planner{
		streams:    make(map[metaCom.StreamRef]*query.StreamInfo, len(qc.Streams)),
		partitions: qc.Config().Query.TargetPartitions,
	}
	for _, st := range qc.Streams {
		p.streams[st.Ref] = st
	}
	if p.partitions <= 0 {
		p.partitions = 1
	}
	return p.create(lp)
}

type planner struct {
	streams    map[metaCom.StreamRef]*query.StreamInfo
	partitions int
}

func (p *planner) create(lp logical.Plan) (Plan, error) {
	inputs := lp.Inputs()
	children := make([]Plan, len(inputs))
	for i, in := range inputs {
		c, err := p.create(in)
		if err != nil {
			return nil, err
		}
		children[i] = c
	}

	switch n := lp.(type) {
	case *logical.TableScan:
		return p.tableScan(n)
	case *logical.Filter:
		return &FilterExec{Input: children[0], Predicate: n.Predicate}, nil
	case *logical.Projection:
		return &ProjectionExec{Input: children[0], Exprs: n.Exprs}, nil
	case *logical.Aggregate:
		return &AggregateExec{Input: children[0], Mode: AggregateSingle, GroupBy: n.GroupBy, Aggs: n.Aggs}, nil
	case *logical.Join:
		return p.join(n, children[0], children[1]), nil
	case *logical.Sort:
		return &SortExec{Input: children[0], Keys: n.Keys, Fetch: n.Fetch}, nil
	case *logical.Limit:
		return &GlobalLimitExec{Input: children[0], Skip: n.Skip, Fetch: n.Fetch}, nil
	case *logical.Union:
		return &UnionExec{Inputs: children}, nil
	case *logical.EmptyRelation:
		out := make([]Field, len(n.Columns))
		for i, c := range n.Columns {
			out[i] = Field{Relation: c.Relation, Name: c.Name, Type: metaCom.Utf8}
		}
		return &EmptyExec{ProduceOneRow: n.ProduceOneRow, Output: out}, nil
	case *logical.SubqueryAlias:
		return requalify(children[0], n.Alias), nil
	case *logical.Deduplicate:
		return &DeduplicationExec{Input: children[0], Keys: n.Keys, Fetch: n.Fetch}, nil
	}
	return nil, queryCom.ErrNotImplemented("no physical plan for %s", lp.String())
}

func (p *planner) tableScan(n *logical.TableScan) (Plan, error) {
	st, ok := p.streams[n.Stream]
	if !ok {
		return nil, queryCom.ErrInternal("stream %s is not part of the query", n.Stream)
	}
	fields := make([]metaCom.Field, len(n.Columns))
	for i, name := range n.Columns {
		f, ok := st.FullSchema.Field(name)
		if !ok {
			f = metaCom.Field{Name: name, Type: metaCom.Utf8}
		}
		fields[i] = f
	}
	return &TableScanExec{
		Stream:   n.Stream,
		Relation: n.Relation,
		Fields:   fields,
		Filters:  n.Filters,
	}, nil
}

// join builds a hash join on the equi pairs. A bounded or enrichment left
// input is collected whole, otherwise both inputs are hash partitioned.
func (p *planner) join(n *logical.Join, left, right Plan) Plan {
	if len(n.On) == 0 {
		return &NestedLoopJoinExec{Left: left, Right: right, Type: n.Type, Filter: n.Filter}
	}
	hj := &HashJoinExec{Left: left, Right: right, Type: n.Type, On: n.On, Filter: n.Filter, Mode: CollectLeft}
	if bounded(left) || IsEnrichmentScan(left) {
		return hj
	}
	lk := make([]expr.Expr, len(n.On))
	rk := make([]expr.Expr, len(n.On))
	for i, pair := range n.On {
		lk[i], rk[i] = pair.Left, pair.Right
	}
	hj.Mode = Partitioned
	hj.Left = &RepartitionExec{Input: left, Partitions: p.partitions, Keys: lk}
	hj.Right = &RepartitionExec{Input: right, Partitions: p.partitions, Keys: rk}
	return hj
}

// requalify renames the relation of every input column to alias.
func requalify(input Plan, alias string) Plan {
	fields := input.Schema()
	exprs := make([]logical.NamedExpr, len(fields))
	for i, f := range fields {
		exprs[i] = logical.NamedExpr{
			Expr:     &expr.VarRef{Qualifier: f.Relation, Val: f.Name},
			Name:     f.Name,
			Relation: alias,
		}
	}
	return &ProjectionExec{Input: input, Exprs: exprs}
}

func bounded(p Plan) bool {
	switch n := p.(type) {
	case *GlobalLimitExec:
		return true
	case *DeduplicationExec:
		return n.Fetch > 0
	case *SortExec:
		return n.Fetch > 0
	case *ProjectionExec:
		return bounded(n.Input)
	case *FilterExec:
		return bounded(n.Input)
	}
	return false
}

// IsEnrichmentScan tells whether p reads an enrichment table, possibly
// through filters, projections and repartitioning.
func IsEnrichmentScan(p Plan) bool {
	switch n := p.(type) {
	case *TableScanExec:
		return n.Stream.Type == metaCom.StreamTypeEnrichmentTables
	case *EnrichExec:
		return true
	case *FilterExec:
		return IsEnrichmentScan(n.Input)
	case *ProjectionExec:
		return IsEnrichmentScan(n.Input)
	case *RepartitionExec:
		return IsEnrichmentScan(n.Input)
	}
	return false
}
