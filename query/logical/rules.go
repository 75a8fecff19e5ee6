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
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query"
	"github.com/streamql/streamql/query/cipher"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
)

// Rule names.
const (
	PercentileRuleName         = "canonical_percentile"
	HistogramRuleName          = "rewrite_histogram"
	CipherSwapRuleName         = "cipher_swap"
	CipherKeyRuleName          = "cipher_key_namespace"
	AddSortAndLimitRuleName    = "add_sort_and_limit"
	LimitJoinRightSideRuleName = "limit_join_right_side"
)

// DefaultRules returns the ordered rules optimizing the plan of a query.
func DefaultRules(qc *query.QueryContext) []Rule {
	return []Rule{
		ExprRule(PercentileRuleName, expr.CanonicalPercentile),
		HistogramRule(qc.HistogramInterval, qc.HistogramIntervalText),
		ExprRule(CipherSwapRuleName, cipher.Swap),
		ExprRule(CipherKeyRuleName, cipher.NamespaceKeys(qc.OrgID)),
		AddSortAndLimitRule(qc.Limit, qc.Offset, len(qc.OrderBy) > 0),
		LimitJoinRightSideRule(qc.Config().Query.MaxJoinRightSideRows),
	}
}

// HistogramRule replaces histogram(ts[, interval]) by
// date_bin(interval, ts, origin) with the resolved interval.
func HistogramRule(micros int64, text string) Rule {
	return ExprRule(HistogramRuleName, func(e expr.Expr) (expr.Expr, bool) {
		call, ok := expr.IsCall(e, expr.HistogramCallName)
		if !ok || len(call.Args) == 0 || micros <= 0 {
			return e, false
		}
		return DateBin(micros, text, call.Args[0]), true
	})
}

// DateBin builds the time bucketing call of ts.
func DateBin(micros int64, text string, ts expr.Expr) *expr.Call {
	return &expr.Call{
		Name: expr.DateBinCallName,
		Args: []expr.Expr{
			&expr.IntervalLiteral{Micros: micros, Text: text},
			ts,
			expr.NewInt(queryCom.DateBinOrigin),
		},
	}
}

// AddSortAndLimitRule bounds the query by its limit. Plans already sorted get
// the fetch pushed into the sort, plans ordered by the timestamp get a
// descending timestamp sort fetching limit+offset rows.
func AddSortAndLimitRule(limit, offset int64, timeOrdered bool) Rule {
	return NewRule(AddSortAndLimitRuleName, Once, func(p Plan) (Plan, bool) {
		if limit <= 0 {
			return p, false
		}
		return addSortAndLimit(p, limit, offset, timeOrdered)
	})
}

func addSortAndLimit(p Plan, limit, offset int64, timeOrdered bool) (Plan, bool) {
	switch n := p.(type) {
	case *EmptyRelation:
		return p, false
	case *Limit:
		if sort, ok := n.Input.(*Sort); ok && sort.Fetch == 0 && n.Fetch > 0 {
			return &Limit{Input: &Sort{Input: sort.Input, Keys: sort.Keys, Fetch: n.Skip + n.Fetch},
				Skip: n.Skip, Fetch: n.Fetch}, true
		}
		// an explicit LIMIT without ORDER BY keeps the latest rows
		if _, sorted := n.Input.(*Sort); !sorted && timeOrdered && n.Fetch > 0 {
			return SortAndLimit(n.Input, n.Fetch, n.Skip, nil), true
		}
		return p, false
	case *Sort:
		fetch := limit + offset
		if n.Fetch > 0 && n.Fetch < fetch {
			fetch = n.Fetch
		}
		return &Limit{Input: &Sort{Input: n.Input, Keys: n.Keys, Fetch: fetch}, Skip: offset, Fetch: limit}, true
	case *Projection:
		// a projection dropping hidden sort columns
		if isColumnProjection(n) {
			switch n.Input.(type) {
			case *Sort, *Limit:
				in, changed := addSortAndLimit(n.Input, limit, offset, timeOrdered)
				if !changed {
					return p, false
				}
				return &Projection{Input: in, Exprs: n.Exprs}, true
			}
		}
	}
	if timeOrdered {
		return SortAndLimit(p, limit, offset, nil), true
	}
	return &Limit{Input: p, Skip: offset, Fetch: limit}, true
}

func isColumnProjection(p *Projection) bool {
	for _, e := range p.Exprs {
		if _, ok := e.Expr.(*expr.VarRef); !ok {
			return false
		}
	}
	return true
}

// SortAndLimit returns p sorted by descending timestamp and limited. When
// dedup keys are given the first row of every key is kept, the timestamp
// order makes it the latest. A projection dropping the timestamp carries it
// through a hidden column. Without any timestamp the plan is only limited.
func SortAndLimit(p Plan, limit, offset int64, dedup []expr.Expr) Plan {
	fetch := limit + offset
	bound := func(in Plan) Plan {
		if len(dedup) > 0 {
			in = &Deduplicate{Input: in, Keys: dedup, Fetch: fetch}
		}
		return &Limit{Input: in, Skip: offset, Fetch: limit}
	}

	cols := p.Schema()
	if i := ColumnIndex(cols, &expr.VarRef{Val: metaCom.TimestampColumn}); i >= 0 {
		sort := &Sort{Input: p, Keys: []SortKey{{Expr: cols[i].Ref(), Desc: true}}}
		if len(dedup) == 0 {
			sort.Fetch = fetch
		}
		return bound(sort)
	}
	if proj, ok := p.(*Projection); ok {
		inCols := proj.Input.Schema()
		if i := ColumnIndex(inCols, &expr.VarRef{Val: metaCom.TimestampColumn}); i >= 0 {
			hidden := &Projection{
				Input: proj.Input,
				Exprs: append(append([]NamedExpr{}, proj.Exprs...),
					NamedExpr{Expr: inCols[i].Ref(), Name: metaCom.TimestampColumn, Relation: inCols[i].Relation}),
			}
			visible := make([]NamedExpr, len(proj.Exprs))
			for j, e := range proj.Exprs {
				visible[j] = NamedExpr{Expr: e.Column().Ref(), Name: e.Name, Relation: e.Relation}
			}
			return &Projection{Input: SortAndLimit(hidden, limit, offset, dedup), Exprs: visible}
		}
	}
	return bound(p)
}

// LimitJoinRightSideRule caps the right input of joins at maxRows rows. With
// equi join columns the right side is deduplicated on them.
func LimitJoinRightSideRule(maxRows int64) Rule {
	return NewRule(LimitJoinRightSideRuleName, TopDown, func(p Plan) (Plan, bool) {
		join, ok := p.(*Join)
		if !ok || maxRows <= 0 || isBounded(join.Right) {
			return p, false
		}
		var keys []expr.Expr
		for _, pair := range join.On {
			keys = append(keys, pair.Right)
		}
		c := *join
		c.Right = SortAndLimit(join.Right, maxRows, 0, keys)
		return &c, true
	})
}

// isBounded tells whether the plan already ends with a limit or reads an
// enrichment table, which is loaded whole anyway.
func isBounded(p Plan) bool {
	switch n := p.(type) {
	case *Limit, *Deduplicate:
		return true
	case *TableScan:
		return n.Stream.Type == metaCom.StreamTypeEnrichmentTables
	case *Projection:
		return isBounded(n.Input)
	case *Filter:
		return isBounded(n.Input)
	case *SubqueryAlias:
		return isBounded(n.Input)
	}
	return false
}
