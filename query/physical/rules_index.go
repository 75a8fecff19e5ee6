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
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/indexopt"
	"github.com/streamql/streamql/query/logical"
)

// indexFilter moves the conjuncts of a filter the inverted index answers
// into the scan below it. With filter removal only the residual is kept.
func indexFilter(p Plan, ctx *Context) (Plan, bool) {
	f, ok := p.(*FilterExec)
	if !ok {
		return p, false
	}
	scan, ok := f.Input.(*TableScanExec)
	if !ok || scan.IndexCondition != nil {
		return p, false
	}
	fields := ctx.IndexedFields[scan.Stream]
	if len(fields) == 0 {
		return p, false
	}
	cond, residual := indexopt.Extract(f.Predicate, fields)
	if cond == nil {
		return p, false
	}
	c := *scan
	c.IndexCondition = cond
	if !ctx.Config.Index.FilterRemovalEnabled {
		return &FilterExec{Input: &c, Predicate: f.Predicate}, true
	}
	if residual == nil {
		return &c, true
	}
	return &FilterExec{Input: &c, Predicate: residual}, true
}

// indexOptimize applies the optimize mode of the query. A select marks the
// scan to read the top rows by index lookup, the other modes replace the
// aggregate by a re-aggregation of what the index computes per file.
func indexOptimize(root Plan, ctx *Context) (Plan, bool) {
	switch m := ctx.IndexOptimizeMode.(type) {
	case nil:
		return root, false
	case *indexopt.SimpleSelect:
		return TransformUp(root, func(p Plan) (Plan, bool) {
			scan, ok := p.(*TableScanExec)
			if !ok || scan.IndexCondition == nil || scan.IndexOptimizeMode != nil {
				return p, false
			}
			c := *scan
			c.IndexOptimizeMode = m
			return &c, true
		})
	}
	return TransformUp(root, func(p Plan) (Plan, bool) {
		agg, ok := p.(*AggregateExec)
		if !ok || agg.Mode != AggregateSingle {
			return p, false
		}
		scan := aggregatedScan(agg.Input)
		if scan == nil || len(ctx.IndexedFields[scan.Stream]) == 0 {
			return p, false
		}
		return indexAggregate(agg, scan, ctx)
	})
}

// aggregatedScan returns the scan an aggregate reads through filters and
// column projections, or nil.
func aggregatedScan(p Plan) *TableScanExec {
	for {
		switch n := p.(type) {
		case *FilterExec:
			p = n.Input
		case *ProjectionExec:
			for _, e := range n.Exprs {
				if _, ok := e.Expr.(*expr.VarRef); !ok {
					return nil
				}
			}
			p = n.Input
		case *TableScanExec:
			if n.Stream.Type == metaCom.StreamTypeEnrichmentTables {
				return nil
			}
			return n
		default:
			return nil
		}
	}
}

func indexAggregate(agg *AggregateExec, scan *TableScanExec, ctx *Context) (Plan, bool) {
	leaf := &IndexOptimizeExec{
		Stream:    scan.Stream,
		Relation:  scan.Relation,
		Mode:      ctx.IndexOptimizeMode,
		Condition: ctx.IndexCondition,
	}
	if len(scan.Filters) > 0 {
		leaf.StartTime, leaf.EndTime = ctx.StartTime, ctx.EndTime
	}
	var count *logical.NamedExpr
	if len(agg.Aggs) == 1 && expr.IsCountStar(agg.Aggs[0].Expr) {
		count = &agg.Aggs[0]
	}

	switch m := ctx.IndexOptimizeMode.(type) {
	case *indexopt.SimpleCount:
		if len(agg.GroupBy) != 0 || count == nil {
			return agg, false
		}
		leaf.Output = []Field{{Name: count.Name, Type: metaCom.Int64}}
		sum := &AggregateExec{Input: leaf, Mode: AggregateSingle, Aggs: []logical.NamedExpr{sumOf(*count)}}
		zero := &expr.Call{
			Name: expr.CoalesceCallName,
			Args: []expr.Expr{&expr.VarRef{Val: count.Name}, expr.NewInt(0)},
		}
		return &ProjectionExec{
			Input: sum,
			Exprs: []logical.NamedExpr{{Expr: zero, Name: count.Name, Relation: count.Relation}},
		}, true
	case *indexopt.SimpleHistogram:
		if len(agg.GroupBy) != 1 || count == nil {
			return agg, false
		}
		if _, ok := expr.IsCall(agg.GroupBy[0].Expr, expr.DateBinCallName); !ok {
			return agg, false
		}
		leaf.Output = []Field{groupField(agg.GroupBy[0], metaCom.Int64), {Name: count.Name, Type: metaCom.Int64}}
		return regroup(leaf, agg.GroupBy[0], count), true
	case *indexopt.SimpleTopN:
		if len(agg.GroupBy) != 1 || count == nil || !isColumn(agg.GroupBy[0].Expr, m.Field) {
			return agg, false
		}
		// per file top terms do not add up, every term is counted
		leaf.Mode = &indexopt.SimpleTopN{Field: m.Field, Ascending: m.Ascending}
		leaf.Output = []Field{groupField(agg.GroupBy[0], metaCom.Utf8), {Name: count.Name, Type: metaCom.Int64}}
		return regroup(leaf, agg.GroupBy[0], count), true
	case *indexopt.SimpleDistinct:
		if len(agg.GroupBy) != 1 || len(agg.Aggs) != 0 || !isColumn(agg.GroupBy[0].Expr, m.Field) {
			return agg, false
		}
		leaf.Output = []Field{groupField(agg.GroupBy[0], metaCom.Utf8)}
		return regroup(leaf, agg.GroupBy[0], nil), true
	}
	return agg, false
}

func sumOf(a logical.NamedExpr) logical.NamedExpr {
	return logical.NamedExpr{
		Expr:     &expr.Call{Name: expr.SumCallName, Args: []expr.Expr{&expr.VarRef{Val: a.Name}}},
		Name:     a.Name,
		Relation: a.Relation,
	}
}

func groupField(g logical.NamedExpr, typ metaCom.DataType) Field {
	return Field{Relation: g.Relation, Name: g.Name, Type: typ}
}

// regroup groups the index output by its key, summing counts when present.
func regroup(leaf *IndexOptimizeExec, g logical.NamedExpr, count *logical.NamedExpr) Plan {
	key := logical.NamedExpr{
		Expr:     &expr.VarRef{Qualifier: g.Relation, Val: g.Name},
		Name:     g.Name,
		Relation: g.Relation,
	}
	agg := &AggregateExec{Input: leaf, Mode: AggregateSingle, GroupBy: []logical.NamedExpr{key}}
	if count != nil {
		agg.Aggs = []logical.NamedExpr{sumOf(*count)}
	}
	return agg
}

func isColumn(e expr.Expr, name string) bool {
	ref, ok := e.(*expr.VarRef)
	return ok && ref.Val == name
}
