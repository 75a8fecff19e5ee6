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

package query

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/metastore"
	metaCom "github.com/streamql/streamql/metastore/common"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/indexopt"
	"github.com/streamql/streamql/query/sql"
)

func testStore() *metastore.MemStore {
	store := metastore.NewMemStore()
	logs := func(name string) metaCom.StreamRef {
		return metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeLogs, Name: name}
	}
	Ω(store.PutSchema(&metaCom.Schema{
		Stream: logs("t"),
		Fields: []metaCom.Field{
			{Name: metaCom.TimestampColumn, Type: metaCom.Int64},
			{Name: "name", Type: metaCom.Utf8},
			{Name: "level", Type: metaCom.Utf8},
			{Name: "log", Type: metaCom.Utf8},
			{Name: "code", Type: metaCom.Int64},
		},
		Settings: metaCom.StreamSettings{IndexFields: []string{"level", "name"}},
	})).Should(Succeed())
	Ω(store.PutSchema(&metaCom.Schema{
		Stream: logs("orig"),
		Fields: []metaCom.Field{
			{Name: metaCom.TimestampColumn, Type: metaCom.Int64},
			{Name: "msg", Type: metaCom.Utf8},
			{Name: metaCom.RowIDColumn, Type: metaCom.Int64},
			{Name: metaCom.OriginalColumn, Type: metaCom.Utf8},
		},
		Settings: metaCom.StreamSettings{StoreOriginalData: true},
	})).Should(Succeed())
	Ω(store.PutSchema(&metaCom.Schema{
		Stream: metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeMetrics, Name: "cpu"},
		Fields: []metaCom.Field{
			{Name: metaCom.TimestampColumn, Type: metaCom.Int64},
			{Name: metaCom.ValueColumn, Type: metaCom.Float64},
		},
	})).Should(Succeed())
	Ω(store.PutSchema(&metaCom.Schema{
		Stream: metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeIndex, Name: "idx"},
		Fields: []metaCom.Field{
			{Name: metaCom.TimestampColumn, Type: metaCom.Int64},
			{Name: "name", Type: metaCom.Utf8},
		},
	})).Should(Succeed())
	return store
}

var _ = Describe("analyzer", func() {
	var store *metastore.MemStore
	var cfg common.ServerConfig

	BeforeEach(func() {
		store = testStore()
		cfg = common.DefaultServerConfig()
	})

	compile := func(text string, size int64) *QueryContext {
		req := &queryCom.Request{
			OrgID:      "default",
			StreamType: metaCom.StreamTypeLogs,
			TraceID:    "trace",
			Query:      queryCom.Query{SQL: text, Size: size},
		}
		return Compile(context.Background(), req, store, cfg)
	}

	mustCompile := func(text string, size int64) *QueryContext {
		qc := compile(text, size)
		Ω(qc.Error).Should(BeNil())
		return qc
	}

	It("rejects invalid queries", func() {
		for _, text := range []string{
			"",
			"SELECT FROM WHERE",
			"SELECT * FROM missing",
			"SELECT * FROM t JOIN `index`.idx ON t.name = idx.name",
			"SELECT * FROM cpu WHERE match_all('x')",
		} {
			qc := compile(text, 10)
			Ω(qc.Error).ShouldNot(BeNil(), text)
			Ω(queryCom.KindOf(qc.Error)).Should(Equal(queryCom.SQLNotValid), text)
		}
	})

	It("rejects match_all on metrics with the full text message", func() {
		req := &queryCom.Request{OrgID: "default", StreamType: metaCom.StreamTypeMetrics,
			Query: queryCom.Query{SQL: "SELECT * FROM cpu WHERE match_all('x')"}}
		qc := Compile(context.Background(), req, store, cfg)
		Ω(qc.Error).ShouldNot(BeNil())
		Ω(qc.Error.Error()).Should(ContainSubstring("full text search field"))
	})

	It("resolves streams by type qualifier", func() {
		qc := mustCompile("SELECT * FROM metrics.cpu", 10)
		Ω(qc.Streams).Should(HaveLen(1))
		Ω(qc.Streams[0].Ref.Type).Should(Equal(metaCom.StreamTypeMetrics))
		Ω(qc.Streams[0].Ref.Name).Should(Equal("cpu"))
	})

	It("rewrites total hits queries", func() {
		req := &queryCom.Request{OrgID: "default", Query: queryCom.Query{
			SQL:            "SELECT name FROM t WHERE level = 'error' ORDER BY _timestamp DESC LIMIT 10",
			TrackTotalHits: true,
		}}
		qc := Compile(context.Background(), req, store, cfg)
		Ω(qc.Error).Should(BeNil())
		Ω(qc.SQL).Should(Equal("SELECT count(*) AS zo_sql_num FROM t WHERE level = 'error'"))
		Ω(qc.IndexOptimizeMode).Should(BeNil())

		req.Query.SQL = "SELECT DISTINCT name FROM t"
		qc = Compile(context.Background(), req, store, cfg)
		Ω(qc.Error).Should(BeNil())
		Ω(qc.SQL).Should(Equal("SELECT count(*) AS zo_sql_num FROM (SELECT DISTINCT name FROM t) AS _total"))
	})

	It("eliminates dashboard placeholders", func() {
		qc := mustCompile("SELECT name FROM t WHERE level = '_o2_all_' AND code > 1", 10)
		Ω(qc.Statement.(*sql.Select).Where.String()).Should(Equal("code > 1"))

		qc = mustCompile("SELECT name FROM t WHERE level IN ('_o2_all_', 'a') AND str_match(name, '_o2_all_')", 10)
		Ω(qc.Statement.(*sql.Select).Where).Should(BeNil())

		qc = mustCompile("SELECT name FROM t WHERE level != '_o2_all_'", 10)
		Ω(expr.IsFalse(qc.Statement.(*sql.Select).Where)).Should(BeTrue())

		qc = mustCompile("SELECT name FROM t WHERE level NOT IN ('_o2_all_') OR code = 1", 10)
		Ω(qc.Statement.(*sql.Select).Where.String()).Should(Equal("code = 1"))
	})

	It("synthesizes the timestamp order of plain scans", func() {
		qc := mustCompile("SELECT name FROM t", 10)
		Ω(qc.OrderBy).Should(Equal([]OrderKey{{Column: metaCom.TimestampColumn, Desc: true}}))
		Ω(qc.SortedByTimeOnly).Should(BeTrue())
		Ω(qc.IsComplex).Should(BeFalse())
		Ω(qc.SQL).Should(Equal("SELECT name, _timestamp FROM t"))

		qc = mustCompile("SELECT name FROM t ORDER BY _timestamp ASC", 10)
		Ω(qc.OrderBy).Should(Equal([]OrderKey{{Column: metaCom.TimestampColumn}}))
		Ω(qc.SortedByTimeOnly).Should(BeFalse())

		qc = mustCompile("SELECT level, count(*) AS cnt FROM t GROUP BY level", 10)
		Ω(qc.OrderBy).Should(BeEmpty())
		Ω(qc.IsComplex).Should(BeTrue())
		Ω(qc.GroupBy).Should(Equal([]string{"level"}))
		Ω(qc.Aliases).Should(HaveKey("cnt"))

		qc = mustCompile("SELECT DISTINCT name FROM t", 10)
		Ω(qc.OrderBy).Should(BeEmpty())
	})

	It("injects the row id of streams storing original data", func() {
		qc := mustCompile("SELECT msg FROM orig", 10)
		Ω(qc.SQL).Should(Equal("SELECT msg, _timestamp, _o2_id FROM orig"))
		Ω(qc.Streams[0].Schema.FieldNames()).Should(Equal(
			[]string{metaCom.TimestampColumn, "msg", metaCom.RowIDColumn}))

		qc = mustCompile("SELECT * FROM orig", 10)
		Ω(qc.SQL).Should(Equal("SELECT * FROM orig"))
		Ω(qc.Streams[0].Schema.FieldNames()).Should(Equal(
			[]string{metaCom.TimestampColumn, "msg", metaCom.RowIDColumn, metaCom.OriginalColumn}))
	})

	It("expands match_all over the full text fields", func() {
		qc := mustCompile("SELECT name FROM t WHERE match_all('err') AND code = 1", 10)
		Ω(qc.MatchTerms).Should(Equal([]string{"err"}))
		where := qc.Statement.(*sql.Select).Where
		conjuncts := expr.Conjuncts(where)
		Ω(conjuncts).Should(HaveLen(2))
		call, ok := expr.IsCall(conjuncts[0], expr.StrMatchIgnoreCaseCallName)
		Ω(ok).Should(BeTrue())
		Ω(call.Args[0].String()).Should(Equal("log"))
		Ω(qc.Streams[0].Columns).Should(ContainElement("log"))

		qc = mustCompile("SELECT name FROM t WHERE fuzzy_match_all('err', 2)", 10)
		call, ok = expr.IsCall(expr.StripParens(qc.Statement.(*sql.Select).Where), expr.FuzzyMatchCallName)
		Ω(ok).Should(BeTrue())
		Ω(call.Args[2].String()).Should(Equal("2"))
	})

	It("projects the referenced columns", func() {
		qc := mustCompile("SELECT name FROM t WHERE code > 1", 10)
		Ω(qc.Streams[0].Schema.FieldNames()).Should(Equal([]string{metaCom.TimestampColumn, "name", "code"}))

		qc = mustCompile("SELECT * FROM t", 10)
		Ω(qc.Streams[0].Schema.FieldNames()).Should(Equal(qc.Streams[0].FullSchema.FieldNames()))
		Ω(qc.Streams[0].Wildcard).Should(BeTrue())

		cfg.Query.QuickModeNumFields = 2
		req := &queryCom.Request{OrgID: "default", Query: queryCom.Query{
			SQL: "SELECT * FROM t WHERE code > 1", QuickMode: true}}
		qc = Compile(context.Background(), req, store, cfg)
		Ω(qc.Error).Should(BeNil())
		Ω(qc.Streams[0].Schema.FieldNames()).Should(Equal([]string{metaCom.TimestampColumn, "name", "code"}))
	})

	It("canonicalizes percentile calls", func() {
		qc := mustCompile("SELECT approx_percentile_cont(code, 0.5) AS p FROM t", 10)
		Ω(qc.SQL).Should(ContainSubstring("approx_percentile_cont(0.5) WITHIN GROUP (ORDER BY code ASC) AS p"))
	})

	It("extracts the index condition and the optimize mode", func() {
		qc := mustCompile("SELECT name FROM t WHERE level = 'error' AND code > 1", 10)
		Ω(qc.IndexConditionString()).Should(Equal("level=error"))
		Ω(qc.IndexOptimizeMode).Should(BeNil())

		qc = mustCompile("SELECT name FROM t WHERE level = 'error'", 10)
		Ω(qc.IndexOptimizeMode).Should(Equal(&indexopt.SimpleSelect{Limit: 10, Ascending: false}))

		qc = mustCompile("SELECT count(*) FROM t", 10)
		Ω(qc.IndexOptimizeMode).Should(Equal(&indexopt.SimpleCount{}))

		cfg.Index.CountOptimizeEnabled = false
		qc = mustCompile("SELECT count(*) FROM t", 10)
		Ω(qc.IndexOptimizeMode).Should(BeNil())

		cfg.Index.InvertedIndexEnabled = false
		qc = mustCompile("SELECT name FROM t WHERE level = 'error'", 10)
		Ω(qc.IndexCondition).Should(BeNil())
		Ω(qc.IndexOptimizeMode).Should(BeNil())
	})

	It("resolves the histogram interval", func() {
		req := &queryCom.Request{OrgID: "default", Query: queryCom.Query{
			SQL:       "SELECT histogram(_timestamp, '1 minute') AS k, count(*) AS c FROM t GROUP BY k ORDER BY k",
			StartTime: 0,
			EndTime:   10 * queryCom.MicrosPerMinute,
		}}
		qc := Compile(context.Background(), req, store, cfg)
		Ω(qc.Error).Should(BeNil())
		Ω(qc.HistogramInterval).Should(Equal(queryCom.MicrosPerMinute))
		Ω(qc.IndexOptimizeMode).Should(Equal(&indexopt.SimpleHistogram{
			MinTs: 0, BucketWidth: queryCom.MicrosPerMinute, NumBuckets: 10}))

		req.Query.SQL = "SELECT histogram(_timestamp) AS k, count(*) AS c FROM t GROUP BY k"
		req.Query.EndTime = queryCom.MicrosPerHour
		qc = Compile(context.Background(), req, store, cfg)
		Ω(qc.Error).Should(BeNil())
		Ω(qc.HistogramIntervalText).Should(Equal("30 second"))
		Ω(qc.HistogramInterval).Should(Equal(30 * queryCom.MicrosPerSecond))

		req.Query.SQL = "SELECT histogram(_timestamp, 'soon') AS k FROM t"
		qc = Compile(context.Background(), req, store, cfg)
		Ω(queryCom.KindOf(qc.Error)).Should(Equal(queryCom.SQLNotValid))
	})

	It("resolves limit and offset", func() {
		qc := mustCompile("SELECT name FROM t", 0)
		Ω(qc.Limit).Should(Equal(cfg.Query.DefaultLimit))

		qc = mustCompile("SELECT name FROM t LIMIT 5 OFFSET 2", 10)
		Ω(qc.Limit).Should(Equal(int64(5)))
		Ω(qc.Offset).Should(Equal(int64(2)))

		qc = mustCompile("SELECT name FROM t", 3)
		Ω(qc.Limit).Should(Equal(int64(3)))
	})
})
