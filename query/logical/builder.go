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

	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/sql"
)

// builder turns the compiled statement into a logical plan.
type builder struct {
	qc         *query.QueryContext
	subqueries int
}

// Build returns the unoptimized logical plan of a compiled query.
func Build(qc *query.QueryContext) (Plan, error) {
	b := &builder{qc: qc}
	return b.statement(qc.Statement)
}

func (b *builder) statement(stmt sql.Statement) (Plan, error) {
	switch s := stmt.(type) {
	case *sql.Select:
		return b.selectBlock(s)
	case *sql.SetOp:
		return b.setOp(s)
	}
	return nil, queryCom.ErrNotImplemented("unsupported statement %T", stmt)
}

func (b *builder) setOp(s *sql.SetOp) (Plan, error) {
	if s.Type != sql.Union {
		return nil, queryCom.ErrNotImplemented("%s is not supported", sql.SetOpTypes[s.Type])
	}
	left, err := b.statement(s.Left)
	if err != nil {
		return nil, err
	}
	right, err := b.statement(s.Right)
	if err != nil {
		return nil, err
	}
	if len(left.Schema()) != len(right.Schema()) {
		return nil, queryCom.ErrSQLNotValid("UNION queries have different number of columns")
	}
	var p Plan = &Union{Plans: []Plan{left, right}}
	if !s.All {
		p = distinct(p)
	}

	cols := p.Schema()
	var keys []SortKey
	for _, o := range s.OrderBy {
		ref, ok := o.Expr.(*expr.VarRef)
		if !ok || ColumnIndex(cols, &expr.VarRef{Val: ref.Val}) < 0 {
			return nil, queryCom.ErrSQLNotValid("ORDER BY %s of UNION must name an output column", o.Expr)
		}
		keys = append(keys, SortKey{Expr: &expr.VarRef{Val: ref.Val}, Desc: o.Desc})
	}
	if len(keys) > 0 {
		p = &Sort{Input: p, Keys: keys}
	}
	if s.Limit != nil {
		p = &Limit{Input: p, Skip: s.Limit.Offset, Fetch: s.Limit.Count}
	}
	return p, nil
}

// distinct groups by every column of the plan.
func distinct(p Plan) Plan {
	cols := p.Schema()
	groupBy := make([]NamedExpr, len(cols))
	for i, c := range cols {
		groupBy[i] = NamedExpr{Expr: c.Ref(), Name: c.Name, Relation: c.Relation}
	}
	return &Aggregate{Input: p, GroupBy: groupBy}
}

func (b *builder) selectBlock(s *sql.Select) (Plan, error) {
	var p Plan = &EmptyRelation{ProduceOneRow: true}
	var err error
	if s.From != nil {
		if p, err = b.relation(s.From); err != nil {
			return nil, err
		}
	}
	if p, err = b.where(p, s.Where); err != nil {
		return nil, err
	}
	for _, f := range s.Fields {
		if hasSubquery(f.Expr) {
			return nil, queryCom.ErrNotImplemented("subquery in projection %s", f)
		}
	}

	rewrite := func(e expr.Expr) expr.Expr { return e }
	if aggs := aggregateCalls(s); len(aggs) > 0 || len(s.GroupBy) > 0 {
		agg := b.aggregate(p, s, aggs)
		p = agg
		rewrite = func(e expr.Expr) expr.Expr { return aggregateRefs(e, agg) }
		if s.Having != nil {
			p = &Filter{Input: p, Predicate: rewrite(s.Having)}
		}
	}

	inputCols := p.Schema()
	var named []NamedExpr
	// position of every field in named, -1 for wildcards
	positions := make([]int, len(s.Fields))
	for i, f := range s.Fields {
		positions[i] = len(named)
		if w, ok := f.Expr.(*expr.Wildcard); ok {
			positions[i] = -1
			for _, c := range inputCols {
				if w.Qualifier == "" || w.Qualifier == c.Relation {
					named = append(named, NamedExpr{Expr: c.Ref(), Name: c.Name, Relation: c.Relation})
				}
			}
			continue
		}
		e := rewrite(f.Expr)
		ne := NamedExpr{Expr: e, Name: f.Name()}
		if ref, ok := e.(*expr.VarRef); ok && (f.Alias == "" || f.Alias == ref.Val) {
			if i := ColumnIndex(inputCols, ref); i >= 0 {
				ne.Relation = inputCols[i].Relation
			}
		}
		named = append(named, ne)
	}

	keys, hidden, err := orderKeys(s, named, positions, rewrite)
	if err != nil {
		return nil, err
	}
	proj := &Projection{Input: p, Exprs: named}
	p = proj
	if s.Distinct {
		if len(hidden) > 0 {
			return nil, queryCom.ErrSQLNotValid("for SELECT DISTINCT, ORDER BY expressions must appear in select list")
		}
		p = distinct(proj)
	} else if len(hidden) > 0 {
		proj.Exprs = append(append([]NamedExpr{}, named...), hidden...)
	}
	if len(keys) > 0 {
		p = &Sort{Input: p, Keys: keys}
	}
	if s.Limit != nil {
		p = &Limit{Input: p, Skip: s.Limit.Offset, Fetch: s.Limit.Count}
	}
	if len(hidden) > 0 {
		visible := make([]NamedExpr, len(named))
		for i, n := range named {
			visible[i] = NamedExpr{Expr: n.Column().Ref(), Name: n.Name, Relation: n.Relation}
		}
		p = &Projection{Input: p, Exprs: visible}
	}
	return p, nil
}

// orderKeys resolves ORDER BY against the projection. Keys that are not
// projected become hidden projection columns.
func orderKeys(s *sql.Select, named []NamedExpr, positions []int,
	rewrite func(expr.Expr) expr.Expr) ([]SortKey, []NamedExpr, error) {
	var keys []SortKey
	var hidden []NamedExpr
	for _, o := range s.OrderBy {
		if hasSubquery(o.Expr) {
			return nil, nil, queryCom.ErrNotImplemented("subquery in ORDER BY %s", o.Expr)
		}
		key := resolveOrderKey(o.Expr, s, named, positions, rewrite)
		if key == nil {
			e := rewrite(o.Expr)
			ne := NamedExpr{Expr: e, Name: e.String()}
			if ref, ok := e.(*expr.VarRef); ok {
				ne.Name, ne.Relation = ref.Val, ref.Qualifier
			}
			hidden = append(hidden, ne)
			key = ne.Column().Ref()
		}
		keys = append(keys, SortKey{Expr: key, Desc: o.Desc})
	}
	return keys, hidden, nil
}

func resolveOrderKey(e expr.Expr, s *sql.Select, named []NamedExpr, positions []int,
	rewrite func(expr.Expr) expr.Expr) expr.Expr {
	cols := namedColumns(named)
	if ref, ok := e.(*expr.VarRef); ok {
		if i := ColumnIndex(cols, ref); i >= 0 {
			return cols[i].Ref()
		}
	}
	rewritten := rewrite(e)
	for i, f := range s.Fields {
		if pos := positions[i]; pos >= 0 && (expr.Equal(e, f.Expr) || expr.Equal(rewritten, named[pos].Expr)) {
			return named[pos].Column().Ref()
		}
	}
	return nil
}

// where plans the filter. IN (subquery) conjuncts become semi and anti joins.
func (b *builder) where(p Plan, where expr.Expr) (Plan, error) {
	if where == nil {
		return p, nil
	}
	var rest []expr.Expr
	for _, c := range expr.Conjuncts(where) {
		if in, ok := c.(*expr.InSubquery); ok && !hasSubquery(in.Expr) {
			var err error
			if p, err = b.semiJoin(p, in); err != nil {
				return nil, err
			}
			continue
		}
		if hasSubquery(c) {
			return nil, queryCom.ErrNotImplemented("subquery in filter %s", c)
		}
		rest = append(rest, c)
	}
	if len(rest) > 0 {
		p = &Filter{Input: p, Predicate: expr.Conjoin(rest)}
	}
	return p, nil
}

func (b *builder) semiJoin(p Plan, in *expr.InSubquery) (Plan, error) {
	stmt, ok := in.Subquery.Stmt.(sql.Statement)
	if !ok {
		return nil, queryCom.ErrInternal("unexpected subquery %T", in.Subquery.Stmt)
	}
	right, err := b.statement(stmt)
	if err != nil {
		return nil, err
	}
	cols := right.Schema()
	if len(cols) != 1 {
		return nil, queryCom.ErrSQLNotValid("IN subquery must return exactly one column, got %d", len(cols))
	}
	alias := b.subqueryAlias()
	typ := LeftSemiJoin
	if in.Not {
		typ = LeftAntiJoin
	}
	return &Join{
		Left:  p,
		Right: &SubqueryAlias{Input: right, Alias: alias},
		Type:  typ,
		On:    []EquiPair{{Left: in.Expr, Right: &expr.VarRef{Qualifier: alias, Val: cols[0].Name}}},
	}, nil
}

func (b *builder) subqueryAlias() string {
	b.subqueries++
	return fmt.Sprintf("__sq_%d", b.subqueries)
}

func (b *builder) relation(r sql.Relation) (Plan, error) {
	switch r := r.(type) {
	case *sql.Table:
		st := b.qc.Stream(r)
		if st == nil {
			return nil, queryCom.ErrInternal("stream %s is not resolved", r.Name)
		}
		return &TableScan{
			Stream:   st.Ref,
			Relation: r.RefName(),
			Columns:  st.Schema.FieldNames(),
			Filters:  b.timeFilters(st, r.RefName()),
		}, nil
	case *sql.SubqueryRelation:
		in, err := b.statement(r.Stmt)
		if err != nil {
			return nil, err
		}
		alias := r.Alias
		if alias == "" {
			alias = b.subqueryAlias()
		}
		return &SubqueryAlias{Input: in, Alias: alias}, nil
	case *sql.Join:
		return b.join(r)
	}
	return nil, queryCom.ErrNotImplemented("unsupported relation %T", r)
}

var joinTypes = map[sql.JoinType]JoinType{
	sql.CrossJoin: CrossJoin,
	sql.InnerJoin: InnerJoin,
	sql.LeftJoin:  LeftJoin,
	sql.RightJoin: RightJoin,
	sql.FullJoin:  FullJoin,
}

func (b *builder) join(j *sql.Join) (Plan, error) {
	left, err := b.relation(j.Left)
	if err != nil {
		return nil, err
	}
	right, err := b.relation(j.Right)
	if err != nil {
		return nil, err
	}
	if hasSubquery(j.On) {
		return nil, queryCom.ErrNotImplemented("subquery in join condition")
	}
	join := &Join{Left: left, Right: right, Type: joinTypes[j.Type]}
	for _, col := range j.Using {
		join.On = append(join.On, EquiPair{Left: &expr.VarRef{Val: col}, Right: &expr.VarRef{Val: col}})
	}
	if j.On != nil {
		pairs, filter := splitJoinCondition(j.On, left.Schema(), right.Schema())
		join.On = append(join.On, pairs...)
		join.Filter = filter
	}
	if join.Type == CrossJoin && (len(join.On) > 0 || join.Filter != nil) {
		join.Type = InnerJoin
	}
	return join, nil
}

// splitJoinCondition extracts the equalities between one column side of each
// input. The remaining conjuncts are returned as a filter.
func splitJoinCondition(on expr.Expr, left, right []Column) ([]EquiPair, expr.Expr) {
	var pairs []EquiPair
	var rest []expr.Expr
	for _, c := range expr.Conjuncts(on) {
		if b, ok := c.(*expr.BinaryExpr); ok && b.Op == expr.EQ {
			switch {
			case resolvesIn(b.LHS, left) && resolvesIn(b.RHS, right):
				pairs = append(pairs, EquiPair{Left: b.LHS, Right: b.RHS})
				continue
			case resolvesIn(b.RHS, left) && resolvesIn(b.LHS, right):
				pairs = append(pairs, EquiPair{Left: b.RHS, Right: b.LHS})
				continue
			}
		}
		rest = append(rest, c)
	}
	return pairs, expr.Conjoin(rest)
}

// resolvesIn tells whether the expression references columns and only columns
// of cols.
func resolvesIn(e expr.Expr, cols []Column) bool {
	refs := expr.ColumnRefs(e)
	if len(refs) == 0 {
		return false
	}
	for _, ref := range refs {
		if ColumnIndex(cols, ref) < 0 {
			return false
		}
	}
	return true
}

// timeFilters bounds scans of time partitioned streams by the query range.
func (b *builder) timeFilters(st *query.StreamInfo, relation string) []expr.Expr {
	if st.Ref.Type == metaCom.StreamTypeEnrichmentTables || !st.FullSchema.HasField(metaCom.TimestampColumn) {
		return nil
	}
	ts := &expr.VarRef{Qualifier: relation, Val: metaCom.TimestampColumn}
	var filters []expr.Expr
	if b.qc.StartTime > 0 {
		filters = append(filters, &expr.BinaryExpr{Op: expr.GTE, LHS: ts, RHS: expr.NewInt(b.qc.StartTime)})
	}
	if b.qc.EndTime > 0 {
		filters = append(filters, &expr.BinaryExpr{Op: expr.LT, LHS: ts, RHS: expr.NewInt(b.qc.EndTime)})
	}
	return filters
}

// aggregate plans the grouping of a query block. Group keys naming a
// projection alias group by the aliased expression.
func (b *builder) aggregate(input Plan, s *sql.Select, aggs []*expr.Call) *Aggregate {
	inputCols := input.Schema()
	agg := &Aggregate{Input: input}
	for _, g := range s.GroupBy {
		if ref, ok := g.(*expr.VarRef); ok && ref.Qualifier == "" && ColumnIndex(inputCols, ref) < 0 {
			for _, f := range s.Fields {
				if f.Alias == ref.Val {
					g = f.Expr
					break
				}
			}
		}
		ne := NamedExpr{Expr: g, Name: g.String()}
		if ref, ok := g.(*expr.VarRef); ok {
			ne.Name = ref.Val
			if i := ColumnIndex(inputCols, ref); i >= 0 {
				ne.Relation = inputCols[i].Relation
			}
		}
		agg.GroupBy = append(agg.GroupBy, ne)
	}
	for _, call := range aggs {
		agg.Aggs = append(agg.Aggs, NamedExpr{Expr: call, Name: call.String()})
	}
	return agg
}

// aggregateCalls collects the distinct aggregate calls of the projection,
// HAVING and ORDER BY.
func aggregateCalls(s *sql.Select) []*expr.Call {
	var calls []*expr.Call
	seen := map[string]bool{}
	visit := func(e expr.Expr) {
		expr.WalkFunc(e, func(n expr.Expr) {
			if c, ok := n.(*expr.Call); ok && expr.IsAggregateCall(c) && !seen[c.String()] {
				seen[c.String()] = true
				calls = append(calls, c)
			}
		})
	}
	for _, f := range s.Fields {
		visit(f.Expr)
	}
	visit(s.Having)
	for _, o := range s.OrderBy {
		visit(o.Expr)
	}
	return calls
}

// aggregateRefs replaces group keys and aggregate calls by references to the
// aggregate output.
func aggregateRefs(e expr.Expr, agg *Aggregate) expr.Expr {
	out, _ := expr.RewriteTopDown(e, func(n expr.Expr) (expr.Expr, bool) {
		for _, g := range agg.GroupBy {
			if expr.Equal(n, g.Expr) {
				return g.Column().Ref(), true
			}
		}
		for _, a := range agg.Aggs {
			if expr.Equal(n, a.Expr) {
				return a.Column().Ref(), true
			}
		}
		return n, false
	})
	return out
}

func hasSubquery(e expr.Expr) bool {
	return expr.Any(e, func(n expr.Expr) bool {
		switch n.(type) {
		case *expr.Subquery, *expr.InSubquery:
			return true
		}
		return false
	})
}
