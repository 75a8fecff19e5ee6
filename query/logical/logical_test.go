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
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/metastore"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
)

func testStore(t *testing.T) *metastore.MemStore {
	store := metastore.NewMemStore()
	require.NoError(t, store.PutSchema(&metaCom.Schema{
		Stream: metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeLogs, Name: "t"},
		Fields: []metaCom.Field{
			{Name: metaCom.TimestampColumn, Type: metaCom.Int64},
			{Name: "name", Type: metaCom.Utf8},
			{Name: "level", Type: metaCom.Utf8},
			{Name: "code", Type: metaCom.Int64},
		},
	}))
	require.NoError(t, store.PutSchema(&metaCom.Schema{
		Stream: metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeLogs, Name: "u"},
		Fields: []metaCom.Field{
			{Name: metaCom.TimestampColumn, Type: metaCom.Int64},
			{Name: "name", Type: metaCom.Utf8},
			{Name: "code", Type: metaCom.Int64},
		},
	}))
	return store
}

func compile(t *testing.T, req queryCom.Query) *query.QueryContext {
	cfg := common.DefaultServerConfig()
	cfg.Query.MaxJoinRightSideRows = 100
	qc := query.Compile(context.Background(), &queryCom.Request{
		OrgID:      "default",
		StreamType: metaCom.StreamTypeLogs,
		Query:      req,
	}, testStore(t), cfg)
	require.NoError(t, qc.Error)
	return qc
}

func optimized(t *testing.T, text string, size int64) (*query.QueryContext, Plan) {
	qc := compile(t, queryCom.Query{SQL: text, Size: size})
	p, err := Build(qc)
	require.NoError(t, err)
	return qc, Optimize(p, DefaultRules(qc))
}

func find(p Plan, match func(Plan) bool) Plan {
	var found Plan
	Walk(p, func(n Plan) {
		if found == nil && match(n) {
			found = n
		}
	})
	return found
}

func TestSortedQueryGetsFetch(t *testing.T) {
	_, p := optimized(t, "SELECT name FROM t ORDER BY _timestamp ASC", 2)
	assert.Equal(t, strings.Join([]string{
		"Limit: skip=0, fetch=2",
		"  Sort: t._timestamp ASC, fetch=2",
		"    Projection: name, _timestamp",
		"      TableScan: t projection=[_timestamp, name]",
		"",
	}, "\n"), Format(p))
}

func TestWildcardQueryIsLatestFirst(t *testing.T) {
	_, p := optimized(t, "SELECT * FROM t", 2)
	assert.Equal(t, strings.Join([]string{
		"Limit: skip=0, fetch=2",
		"  Sort: t._timestamp DESC, fetch=2",
		"    Projection: t._timestamp, t.name, t.level, t.code",
		"      TableScan: t projection=[_timestamp, name, level, code]",
		"",
	}, "\n"), Format(p))
}

func TestExplicitLimitIsLatestFirst(t *testing.T) {
	_, p := optimized(t, "SELECT name FROM t LIMIT 2 OFFSET 1", 100)
	assert.Equal(t, strings.Join([]string{
		"Limit: skip=1, fetch=2",
		"  Sort: t._timestamp DESC, fetch=3",
		"    Projection: name, _timestamp",
		"      TableScan: t projection=[_timestamp, name]",
		"",
	}, "\n"), Format(p))

	_, p = optimized(t, "SELECT DISTINCT name FROM t LIMIT 2", 100)
	assert.Nil(t, find(p, func(n Plan) bool { _, ok := n.(*Sort); return ok }))
}

func TestAggregateWithLimit(t *testing.T) {
	_, p := optimized(t, "SELECT level, count(*) AS cnt FROM t GROUP BY level ORDER BY cnt DESC LIMIT 3", 100)
	assert.Equal(t, strings.Join([]string{
		"Limit: skip=0, fetch=3",
		"  Sort: cnt DESC, fetch=3",
		"    Projection: t.level, `count(*)` AS cnt",
		"      Aggregate: groupBy=[level], aggr=[count(*)]",
		"        TableScan: t projection=[_timestamp, level]",
		"",
	}, "\n"), Format(p))
}

func TestHiddenOrderColumn(t *testing.T) {
	_, p := optimized(t, "SELECT name FROM t ORDER BY code DESC", 10)
	assert.Equal(t, strings.Join([]string{
		"Projection: t.name, t._timestamp",
		"  Limit: skip=0, fetch=10",
		"    Sort: code DESC, fetch=10",
		"      Projection: name, _timestamp, code",
		"        TableScan: t projection=[_timestamp, name, code]",
		"",
	}, "\n"), Format(p))
	assert.Equal(t, []Column{{Relation: "t", Name: "name"}, {Relation: "t", Name: metaCom.TimestampColumn}}, p.Schema())
}

func TestDistinctRejectsHiddenOrderColumn(t *testing.T) {
	qc := compile(t, queryCom.Query{SQL: "SELECT DISTINCT name FROM t ORDER BY code"})
	_, err := Build(qc)
	require.Error(t, err)
	assert.Equal(t, queryCom.SQLNotValid, queryCom.KindOf(err))
}

func TestTimeRangeFilters(t *testing.T) {
	qc := compile(t, queryCom.Query{SQL: "SELECT name FROM t", StartTime: 10, EndTime: 20})
	p, err := Build(qc)
	require.NoError(t, err)
	scan := find(p, func(n Plan) bool { _, ok := n.(*TableScan); return ok }).(*TableScan)
	assert.Equal(t, "t._timestamp >= 10, t._timestamp < 20", joinStrings(scan.Filters))
}

func TestHistogramBecomesDateBin(t *testing.T) {
	qc, p := optimized(t, "SELECT histogram(_timestamp, '1 minute') AS k, count(*) AS c FROM t GROUP BY k", 10)
	assert.Equal(t, 60*queryCom.MicrosPerSecond, qc.HistogramInterval)
	agg := find(p, func(n Plan) bool { _, ok := n.(*Aggregate); return ok }).(*Aggregate)
	require.Len(t, agg.GroupBy, 1)
	assert.Equal(t, "date_bin(interval '1 minute', _timestamp, 978307200000000)", agg.GroupBy[0].Expr.String())
	assert.Equal(t, "histogram(_timestamp, '1 minute')", agg.GroupBy[0].Name)

	proj := find(p, func(n Plan) bool { _, ok := n.(*Projection); return ok }).(*Projection)
	assert.Equal(t, "k", proj.Exprs[0].Name)
}

func TestCipherFilterIsSwapped(t *testing.T) {
	_, p := optimized(t, "SELECT name FROM t WHERE decrypt(name, 'k') = 'v'", 10)
	filter := find(p, func(n Plan) bool { _, ok := n.(*Filter); return ok }).(*Filter)
	assert.Equal(t, "name = encrypt('v', 'default:k')", filter.Predicate.String())
}

func TestInSubqueryBecomesSemiJoin(t *testing.T) {
	_, p := optimized(t, "SELECT name FROM t WHERE name IN (SELECT name FROM u WHERE code = 500)", 10)
	join := find(p, func(n Plan) bool { _, ok := n.(*Join); return ok }).(*Join)
	assert.Equal(t, LeftSemiJoin, join.Type)
	require.Len(t, join.On, 1)
	assert.Equal(t, "name = __sq_1.name", join.On[0].String())

	limit, ok := join.Right.(*Limit)
	require.True(t, ok)
	assert.Equal(t, int64(100), limit.Fetch)
	dedup, ok := limit.Input.(*Deduplicate)
	require.True(t, ok)
	assert.Equal(t, "__sq_1.name", joinStrings(dedup.Keys))
	_, ok = dedup.Input.(*SubqueryAlias)
	assert.True(t, ok)

	// two streams are read, no timestamp order is implied
	assert.Equal(t, []Column{{Relation: "t", Name: "name"}}, p.Schema())
	assert.IsType(t, &Limit{}, p)
}

func TestNotInSubqueryBecomesAntiJoin(t *testing.T) {
	qc := compile(t, queryCom.Query{SQL: "SELECT name FROM t WHERE name NOT IN (SELECT name FROM u)"})
	p, err := Build(qc)
	require.NoError(t, err)
	join := find(p, func(n Plan) bool { _, ok := n.(*Join); return ok }).(*Join)
	assert.Equal(t, LeftAntiJoin, join.Type)
}

func TestJoinRightSideIsCapped(t *testing.T) {
	_, p := optimized(t, "SELECT t.name, u.code FROM t JOIN u ON t.name = u.name AND t.code > u.code", 10)
	join := find(p, func(n Plan) bool { _, ok := n.(*Join); return ok }).(*Join)
	assert.Equal(t, InnerJoin, join.Type)
	assert.Equal(t, "t.name = u.name", join.On[0].String())
	assert.Equal(t, "t.code > u.code", join.Filter.String())

	assert.Equal(t, strings.Join([]string{
		"Limit: skip=0, fetch=100",
		"  Deduplicate: keys=[u.name], fetch=100",
		"    Sort: u._timestamp DESC",
		"      TableScan: u projection=[_timestamp, name, code]",
		"",
	}, "\n"), Format(join.Right))
}

func TestBoundedJoinRightSideIsKept(t *testing.T) {
	_, p := optimized(t, "SELECT t.name FROM t JOIN (SELECT name FROM u LIMIT 5) s ON t.name = s.name", 10)
	join := find(p, func(n Plan) bool { _, ok := n.(*Join); return ok }).(*Join)
	alias, ok := join.Right.(*SubqueryAlias)
	require.True(t, ok)
	assert.Equal(t, "s", alias.Alias)
}

func TestUnionDistinct(t *testing.T) {
	_, p := optimized(t, "SELECT name FROM t UNION SELECT name FROM u", 5)
	limit, ok := p.(*Limit)
	require.True(t, ok)
	assert.Equal(t, int64(5), limit.Fetch)
	agg, ok := limit.Input.(*Aggregate)
	require.True(t, ok)
	assert.Len(t, agg.GroupBy, 1)
	union, ok := agg.Input.(*Union)
	require.True(t, ok)
	assert.Len(t, union.Plans, 2)
}

func TestUnionColumnCountMismatch(t *testing.T) {
	qc := compile(t, queryCom.Query{SQL: "SELECT name, code FROM t UNION ALL SELECT name FROM u"})
	_, err := Build(qc)
	require.Error(t, err)
	assert.Equal(t, queryCom.SQLNotValid, queryCom.KindOf(err))
}

func TestSubqueryInProjectionIsNotImplemented(t *testing.T) {
	qc := compile(t, queryCom.Query{SQL: "SELECT name, (SELECT max(code) FROM u) FROM t"})
	_, err := Build(qc)
	require.Error(t, err)
	assert.Equal(t, queryCom.NotImplemented, queryCom.KindOf(err))
}

func TestTransformOrder(t *testing.T) {
	scan := &TableScan{Relation: "t", Columns: []string{"a"}}
	p := &Limit{Input: &Filter{Input: scan, Predicate: &expr.BooleanLiteral{Val: true}}, Fetch: 1}

	var down, up []string
	record := func(seen *[]string) TransformFn {
		return func(n Plan) (Plan, bool) {
			*seen = append(*seen, strings.SplitN(n.String(), ":", 2)[0])
			return n, false
		}
	}
	_, changed := TransformDown(p, record(&down))
	assert.False(t, changed)
	_, changed = TransformUp(p, record(&up))
	assert.False(t, changed)
	assert.Equal(t, []string{"Limit", "Filter", "TableScan"}, down)
	assert.Equal(t, []string{"TableScan", "Filter", "Limit"}, up)

	once := NewRule("drop_filter", Once, func(n Plan) (Plan, bool) {
		if f, ok := n.(*Filter); ok {
			return f.Input, true
		}
		return n, false
	})
	out, changed := Apply(p, once)
	assert.False(t, changed)
	assert.Same(t, p, out)

	bottomUp := NewRule("drop_filter", BottomUp, once.Rewrite)
	out, changed = Apply(p, bottomUp)
	assert.True(t, changed)
	assert.Equal(t, "Limit: skip=0, fetch=1\n  TableScan: t projection=[a]\n", Format(out))
	// the input plan is untouched
	assert.IsType(t, &Filter{}, p.Input)
}

func TestSortAndLimitWithoutTimestamp(t *testing.T) {
	scan := &TableScan{Relation: "e", Columns: []string{"k", "v"}}
	out := SortAndLimit(scan, 10, 5, nil)
	assert.Equal(t, "Limit: skip=5, fetch=10\n  TableScan: e projection=[k, v]\n", Format(out))
}
