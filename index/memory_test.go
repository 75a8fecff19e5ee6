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

package index

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRecord(t *testing.T, ts []int64, names []string, logs []string) arrow.Record {
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "_timestamp", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "log", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues(ts, nil)
	for _, n := range names {
		if n == "" {
			b.Field(1).(*array.StringBuilder).AppendNull()
		} else {
			b.Field(1).(*array.StringBuilder).Append(n)
		}
	}
	b.Field(2).(*array.StringBuilder).AppendValues(logs, nil)
	return b.NewRecord()
}

func newTestIndex(t *testing.T) *MemIndex {
	rec := buildRecord(t,
		[]int64{1, 2, 3, 4, 5},
		[]string{"openobserve", "observe", "openobserve", "", "o2"},
		[]string{"Error: disk full", "ok", "error again", "warning", "panic in handler"},
	)
	defer rec.Release()
	idx := NewMemIndex("_timestamp")
	require.NoError(t, idx.IndexFile("f1", []arrow.Record{rec}, []string{"name", "log"}))
	return idx
}

func TestMemIndexSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	hits, err := idx.Search(ctx, "f1", &TermQuery{Field: "name", Term: "openobserve"}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []Hit{{Row: 2, Timestamp: 3}, {Row: 0, Timestamp: 1}}, hits)

	hits, err = idx.Search(ctx, "f1", &SubstringQuery{Field: "log", Term: "error", CaseSensitive: true}, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []Hit{{Row: 2, Timestamp: 3}}, hits)

	n, err := idx.Count(ctx, "f1", &SubstringQuery{Field: "log", Term: "ERROR"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// not-equal keeps only rows having the field
	n, err = idx.Count(ctx, "f1", &BooleanQuery{Clauses: []BooleanClause{
		{Occur: BooleanMust, Query: &ExistsQuery{Field: "name"}},
		{Occur: BooleanMustNot, Query: &TermQuery{Field: "name", Term: "o2"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = idx.Count(ctx, "f1", Should(&TermQuery{Field: "name", Term: "o2"}, &FuzzyQuery{Field: "log", Term: "warnin", MaxDistance: 1}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemIndexAggregations(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	counts, err := idx.Histogram(ctx, "f1", &MatchAllQuery{}, 0, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 2}, counts)

	top, err := idx.TopN(ctx, "f1", &MatchAllQuery{}, "name", 2, false)
	require.NoError(t, err)
	assert.Equal(t, []TermCount{{Term: "openobserve", Count: 2}, {Term: "o2", Count: 1}}, top)

	distinct, err := idx.Distinct(ctx, "f1", &MatchAllQuery{}, "name", 0, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"o2", "observe", "openobserve"}, distinct)

	n, err := idx.Count(ctx, "f1", Must(&TimeRangeQuery{Start: 2, End: 4}, &ExistsQuery{Field: "name"}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = idx.Count(ctx, "f1", &TimeRangeQuery{Start: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemIndexErrors(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Count(ctx, "nope", &MatchAllQuery{})
	assert.ErrorIs(t, err, ErrFileNotIndexed)

	_, err = idx.Count(ctx, "f1", &TermQuery{Field: "level", Term: "x"})
	assert.Error(t, err)

	_, err = idx.Count(ctx, "f1", &FuzzyQuery{Field: "log", Term: "x", MaxDistance: 3})
	assert.Error(t, err)

	assert.True(t, idx.Has("f1"))
	assert.True(t, idx.Size("f1") > 0)
	idx.RemoveFile("f1")
	assert.False(t, idx.Has("f1"))
}

func TestWithinDistance(t *testing.T) {
	assert.True(t, withinDistance("kitten", "sitten", 1))
	assert.False(t, withinDistance("kitten", "sitting", 2))
	assert.True(t, withinDistance("kitten", "sittin", 2))
	assert.True(t, withinDistance("", "ab", 2))
	assert.False(t, withinDistance("abc", "", 2))
}

func TestFuzzyMatchesTokens(t *testing.T) {
	assert.Equal(t, []string{"get", "api", "v1", "users"}, tokenize("GET /api/v1/Users"))
	assert.True(t, FuzzyMatches("GET /api/v1/Users", "user", 1))
	assert.False(t, FuzzyMatches("GET /api/v1/Users", "orders", 1))
}
