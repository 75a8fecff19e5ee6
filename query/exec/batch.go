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

package exec

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/physical"
)

// RelationMetadataKey is the arrow field metadata key holding the relation
// a column belongs to.
const RelationMetadataKey = "relation"

// Row is one row of values: nil, bool, int64, float64 or string.
type Row []interface{}

// Schema builds the arrow schema of the plan fields.
func Schema(fields []physical.Field) *arrow.Schema {
	out := make([]arrow.Field, len(fields))
	for i, f := range fields {
		out[i] = arrow.Field{Name: f.Name, Type: f.Type.ArrowType(), Nullable: true}
		if f.Relation != "" {
			out[i].Metadata = arrow.NewMetadata([]string{RelationMetadataKey}, []string{f.Relation})
		}
	}
	return arrow.NewSchema(out, nil)
}

// Fields reads plan fields back from an arrow schema.
func Fields(schema *arrow.Schema) []physical.Field {
	out := make([]physical.Field, schema.NumFields())
	for i, f := range schema.Fields() {
		out[i] = physical.Field{Name: f.Name, Type: metaCom.FromArrowType(f.Type)}
		if idx := f.Metadata.FindKey(RelationMetadataKey); idx >= 0 {
			out[i].Relation = f.Metadata.Values()[idx]
		}
	}
	return out
}

// Value reads row i of arr as a Go value.
func Value(arr arrow.Array, i int) interface{} {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Uint64:
		return int64(a.Value(i))
	case *array.Uint32:
		return int64(a.Value(i))
	case *array.Timestamp:
		return int64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.Float32:
		return float64(a.Value(i))
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.StringView:
		return a.Value(i)
	case *array.Binary:
		return string(a.Value(i))
	}
	return arr.ValueStr(i)
}

// Rows converts a record into rows.
func Rows(rec arrow.Record) []Row {
	n := int(rec.NumRows())
	rows := make([]Row, n)
	cols := rec.Columns()
	for i := 0; i < n; i++ {
		row := make(Row, len(cols))
		for j, col := range cols {
			row[j] = Value(col, i)
		}
		rows[i] = row
	}
	return rows
}

// batchBuilder appends rows to a record of a fixed schema.
type batchBuilder struct {
	schema  *arrow.Schema
	types   []metaCom.DataType
	builder *array.RecordBuilder
	rows    int
}

func newBatchBuilder(mem memory.Allocator, fields []physical.Field) *batchBuilder {
	schema := Schema(fields)
	types := make([]metaCom.DataType, len(fields))
	for i, f := range fields {
		types[i] = f.Type
	}
	return &batchBuilder{schema: schema, types: types, builder: array.NewRecordBuilder(mem, schema)}
}

func (b *batchBuilder) Append(row Row) {
	for i, typ := range b.types {
		var v interface{}
		if i < len(row) {
			v = row[i]
		}
		fb := b.builder.Field(i)
		if v == nil {
			fb.AppendNull()
			continue
		}
		switch typ {
		case metaCom.Bool:
			if bv, ok := toBool(v); ok {
				fb.(*array.BooleanBuilder).Append(bv)
			} else {
				fb.AppendNull()
			}
		case metaCom.Int64:
			if iv, ok := toInt64(v); ok {
				fb.(*array.Int64Builder).Append(iv)
			} else {
				fb.AppendNull()
			}
		case metaCom.Float64:
			if fv, ok := toFloat64(v); ok {
				fb.(*array.Float64Builder).Append(fv)
			} else {
				fb.AppendNull()
			}
		default:
			fb.(*array.StringBuilder).Append(toString(v))
		}
	}
	b.rows++
}

func (b *batchBuilder) Len() int { return b.rows }

// Build returns the record of the rows appended so far and resets the builder.
func (b *batchBuilder) Build() arrow.Record {
	if len(b.types) == 0 {
		rec := array.NewRecord(b.schema, nil, int64(b.rows))
		b.rows = 0
		return rec
	}
	b.rows = 0
	return b.builder.NewRecord()
}

// BuildBatches converts rows into records of at most size rows.
func BuildBatches(mem memory.Allocator, fields []physical.Field, rows []Row, size int) []arrow.Record {
	if size <= 0 {
		size = len(rows)
	}
	b := newBatchBuilder(mem, fields)
	var out []arrow.Record
	for _, row := range rows {
		b.Append(row)
		if b.Len() >= size {
			out = append(out, b.Build())
		}
	}
	if b.Len() > 0 {
		out = append(out, b.Build())
	}
	return out
}

// relabel gives rec the schema of fields when the column types agree.
func relabel(rec arrow.Record, schema *arrow.Schema) arrow.Record {
	if rec.Schema().Equal(schema) || int(rec.NumCols()) != schema.NumFields() {
		return rec
	}
	for i, col := range rec.Columns() {
		if !arrow.TypeEqual(col.DataType(), schema.Field(i).Type) {
			return rec
		}
	}
	return array.NewRecord(schema, rec.Columns(), rec.NumRows())
}

func toBool(v interface{}) (bool, bool) {
	switch v := v.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	case int64:
		return v != 0, true
	}
	return false, false
}

func toInt64(v interface{}) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(v, 64)
			return int64(f), ferr == nil
		}
		return i, true
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return fmt.Sprint(v)
}
