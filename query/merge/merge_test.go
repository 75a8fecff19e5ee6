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

package merge

import (
	"context"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/diskstore"
	"github.com/streamql/streamql/index"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/exec"
)

const second = int64(time.Second / time.Microsecond)

var metricsSchema = arrow.NewSchema([]arrow.Field{
	{Name: metaCom.TimestampColumn, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: metaCom.HashColumn, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "host", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

type point struct {
	ts    int64
	hash  string
	value float64
	host  string
}

func metricsRecord(points ...point) arrow.Record {
	b := array.NewRecordBuilder(memory.NewGoAllocator(), metricsSchema)
	defer b.Release()
	for _, p := range points {
		b.Field(0).(*array.Int64Builder).Append(p.ts)
		b.Field(1).(*array.StringBuilder).Append(p.hash)
		b.Field(2).(*array.Float64Builder).Append(p.value)
		b.Field(3).(*array.StringBuilder).Append(p.host)
	}
	return b.NewRecord()
}

func testPoints() []arrow.Record {
	return []arrow.Record{
		metricsRecord(
			point{0, "a", 1, "h1"},
			point{5 * second, "a", 3, "h2"},
		),
		metricsRecord(
			point{20 * second, "a", 5, "h1"},
			point{1 * second, "b", 10, "h3"},
		),
	}
}

func allRows(records []arrow.Record) []exec.Row {
	var rows []exec.Row
	for _, rec := range records {
		rows = append(rows, exec.Rows(rec)...)
	}
	return rows
}

func TestDownsample(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		function string
		expected []exec.Row
	}{
		{FunctionAvg, []exec.Row{
			{int64(0), "a", 2.0, "h2"},
			{int64(0), "b", 10.0, "h3"},
			{15 * second, "a", 5.0, "h1"},
		}},
		{FunctionSum, []exec.Row{
			{int64(0), "a", 4.0, "h2"},
			{int64(0), "b", 10.0, "h3"},
			{15 * second, "a", 5.0, "h1"},
		}},
		{FunctionMax, []exec.Row{
			{int64(0), "a", 3.0, "h2"},
			{int64(0), "b", 10.0, "h3"},
			{15 * second, "a", 5.0, "h1"},
		}},
		{FunctionMin, []exec.Row{
			{int64(0), "a", 1.0, "h2"},
			{int64(0), "b", 10.0, "h3"},
			{15 * second, "a", 5.0, "h1"},
		}},
		{FunctionCount, []exec.Row{
			{int64(0), "a", int64(2), "h2"},
			{int64(0), "b", int64(1), "h3"},
			{15 * second, "a", int64(1), "h1"},
		}},
		{FunctionFirst, []exec.Row{
			{int64(0), "a", 1.0, "h2"},
			{int64(0), "b", 10.0, "h3"},
			{15 * second, "a", 5.0, "h1"},
		}},
		{FunctionLast, []exec.Row{
			{int64(0), "a", 3.0, "h2"},
			{int64(0), "b", 10.0, "h3"},
			{15 * second, "a", 5.0, "h1"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.function, func(t *testing.T) {
			// a step below the minimum is widened to 15 seconds
			out, err := Downsample(ctx, testPoints(), Rule{Step: 10 * time.Second, Function: tc.function})
			require.NoError(t, err)
			assert.Equal(t, tc.expected, allRows(out))
			require.NotEmpty(t, out)
			assert.Equal(t, []string{metaCom.TimestampColumn, metaCom.HashColumn, "value", "host"},
				fieldNames(out[0].Schema()))
		})
	}
}

func TestDownsampleWideStep(t *testing.T) {
	out, err := Downsample(context.Background(), testPoints(), Rule{Step: time.Minute, Function: "SUM"})
	require.NoError(t, err)
	assert.Equal(t, []exec.Row{
		{int64(0), "a", 9.0, "h2"},
		{int64(0), "b", 10.0, "h3"},
	}, allRows(out))
}

func TestDownsampleErrors(t *testing.T) {
	ctx := context.Background()
	_, err := Downsample(ctx, testPoints(), Rule{Step: time.Minute, Function: "median"})
	assert.Error(t, err)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: metaCom.TimestampColumn, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	b.Field(0).(*array.Int64Builder).Append(1)
	_, err = Downsample(ctx, []arrow.Record{b.NewRecord()}, Rule{Step: time.Minute, Function: FunctionAvg})
	assert.Error(t, err)

	out, err := Downsample(ctx, nil, Rule{Function: FunctionAvg})
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestHits(t *testing.T) {
	columns, hits := Hits(testPoints()[:1])
	assert.Equal(t, []string{metaCom.TimestampColumn, metaCom.HashColumn, "value", "host"}, columns)
	assert.Equal(t, []map[string]interface{}{
		{metaCom.TimestampColumn: int64(0), metaCom.HashColumn: "a", "value": 1.0, "host": "h1"},
		{metaCom.TimestampColumn: 5 * second, metaCom.HashColumn: "a", "value": 3.0, "host": "h2"},
	}, hits)

	columns, hits = Hits(nil)
	assert.Empty(t, columns)
	assert.Empty(t, hits)
}

type recordsPipeline struct {
	records []arrow.Record
}

func (p *recordsPipeline) Read(ctx context.Context) (arrow.Record, error) {
	if len(p.records) == 0 {
		return nil, exec.EOF
	}
	rec := p.records[0]
	p.records = p.records[1:]
	return rec, nil
}

func (p *recordsPipeline) Close() {}

func TestCollect(t *testing.T) {
	columns, hits, err := Collect(context.Background(), &recordsPipeline{records: testPoints()})
	require.NoError(t, err)
	assert.Len(t, columns, 4)
	assert.Len(t, hits, 4)
	assert.Equal(t, "b", hits[3][metaCom.HashColumn])
}

func fieldNames(schema *arrow.Schema) []string {
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return names
}

func TestMerger(t *testing.T) {
	ctx := context.Background()
	root, err := ioutil.TempDir("", "testMerger")
	require.NoError(t, err)
	defer os.RemoveAll(root)

	stream := metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeMetrics, Name: "cpu"}
	schema := &metaCom.Schema{
		Stream: stream,
		Fields: []metaCom.Field{
			{Name: metaCom.TimestampColumn, Type: metaCom.Int64},
			{Name: metaCom.HashColumn, Type: metaCom.Utf8},
			{Name: "value", Type: metaCom.Float64},
			{Name: "host", Type: metaCom.Utf8},
		},
		Settings: metaCom.StreamSettings{IndexFields: []string{"host", "missing"}},
	}
	store := diskstore.NewLocalDiskStore(root, index.NewMemIndex(metaCom.TimestampColumn))
	var files []metaCom.FileKey
	for _, rec := range testPoints() {
		fk, err := store.WriteFile(ctx, stream, []arrow.Record{rec}, nil)
		require.NoError(t, err)
		files = append(files, fk)
	}

	t.Run("single", func(t *testing.T) {
		m := NewMerger(store, common.CompactConfig{})
		result, err := m.Merge(ctx, schema, files, nil)
		require.NoError(t, err)
		assert.Equal(t, Single, result.Kind)
		require.Len(t, result.Files, 1)
		meta := result.Files[0].Meta
		assert.Equal(t, int64(4), meta.Records)
		assert.Equal(t, int64(0), meta.MinTs)
		assert.Equal(t, 20*second, meta.MaxTs)
		assert.True(t, meta.OriginalSize > 0)

		records, err := store.ReadFile(ctx, stream, result.Files[0], nil)
		require.NoError(t, err)
		rows := allRows(records)
		require.Len(t, rows, 4)
		assert.Equal(t, 20*second, rows[0][0])
		assert.Equal(t, int64(0), rows[3][0])
	})

	t.Run("multiple", func(t *testing.T) {
		m := NewMerger(store, common.CompactConfig{MaxFileSizeBytes: 1})
		m.batchSize = 1
		result, err := m.Merge(ctx, schema, files, nil)
		require.NoError(t, err)
		assert.Equal(t, Multiple, result.Kind)
		assert.Len(t, result.Files, 4)
		for _, f := range result.Files {
			assert.Equal(t, int64(1), f.Meta.Records)
			assert.Equal(t, f.Meta.MinTs, f.Meta.MaxTs)
		}
	})

	t.Run("downsample", func(t *testing.T) {
		m := NewMerger(store, common.CompactConfig{})
		result, err := m.Merge(ctx, schema, files, &Rule{Step: time.Minute, Function: FunctionMax})
		require.NoError(t, err)
		require.Len(t, result.Files, 1)
		assert.Equal(t, int64(2), result.Files[0].Meta.Records)
	})

	t.Run("errors", func(t *testing.T) {
		m := NewMerger(store, common.CompactConfig{})
		_, err := m.Merge(ctx, schema, nil, nil)
		assert.Error(t, err)
		_, err = m.Merge(ctx, schema, files, &Rule{Function: "median"})
		assert.Error(t, err)
	})
}
