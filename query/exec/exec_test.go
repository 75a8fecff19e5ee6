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
	"context"
	"sort"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/streamql/streamql/index"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/physical"
)

var (
	streamT = metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeLogs, Name: "t"}
	streamU = metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeLogs, Name: "u"}
	streamE = metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeEnrichmentTables, Name: "e"}

	fieldsT = []metaCom.Field{
		{Name: metaCom.TimestampColumn, Type: metaCom.Int64},
		{Name: "name", Type: metaCom.Utf8},
		{Name: "level", Type: metaCom.Utf8},
		{Name: "code", Type: metaCom.Int64},
	}
	fieldsU = []metaCom.Field{
		{Name: metaCom.TimestampColumn, Type: metaCom.Int64},
		{Name: "name", Type: metaCom.Utf8},
		{Name: "team", Type: metaCom.Utf8},
	}
	fieldsE = []metaCom.Field{
		{Name: "code", Type: metaCom.Int64},
		{Name: "reason", Type: metaCom.Utf8},
	}

	// file1 is indexed, file2 is not.
	rowsT1 = []Row{
		{int64(100), "alice", "info", int64(200)},
		{int64(200), "bob", "error", int64(500)},
		{int64(300), "carol", "info", int64(200)},
	}
	rowsT2 = []Row{
		{int64(400), "dave", "warn", int64(404)},
		{int64(500), "bob", "error", int64(503)},
		{int64(600), "erin", nil, int64(200)},
	}
	rowsU = []Row{
		{int64(100), "bob", "core"},
		{int64(200), "carol", "edge"},
		{int64(300), "zed", "core"},
	}
	rowsE = []Row{
		{int64(200), "ok"},
		{int64(500), "internal error"},
		{int64(302), "found"},
	}
)

func physicalFields(relation string, fields []metaCom.Field) []physical.Field {
	out := make([]physical.Field, len(fields))
	for i, f := range fields {
		out[i] = physical.Field{Relation: relation, Name: f.Name, Type: f.Type}
	}
	return out
}

func testRecords(relation string, fields []metaCom.Field, rows []Row) []arrow.Record {
	return BuildBatches(memory.NewGoAllocator(), physicalFields(relation, fields), rows, 2)
}

// memReader serves files and enrichment tables from memory.
type memReader struct {
	files  map[string][]arrow.Record
	tables map[string][]arrow.Record
}

func (r *memReader) ReadFile(_ context.Context, _ metaCom.StreamRef, file metaCom.FileKey, _ []string) ([]arrow.Record, error) {
	records, ok := r.files[file.Key]
	if !ok {
		return nil, errors.Errorf("file %s not found", file.Key)
	}
	return records, nil
}

func (r *memReader) ReadTable(_ context.Context, stream metaCom.StreamRef) ([]arrow.Record, error) {
	records, ok := r.tables[stream.Name]
	if !ok {
		return nil, errors.Errorf("table %s not found", stream.Name)
	}
	return records, nil
}

func fileKey(key string, rows []Row) metaCom.FileKey {
	return metaCom.FileKey{Key: key, Meta: metaCom.FileMeta{Records: int64(len(rows)), OriginalSize: 100}}
}

var (
	file1 = fileKey("files/default/logs/t/1.parquet", rowsT1)
	file2 = fileKey("files/default/logs/t/2.parquet", rowsT2)
	fileU = fileKey("files/default/logs/u/1.parquet", rowsU)
)

func testContext(t *testing.T) *Context {
	reader := &memReader{
		files: map[string][]arrow.Record{
			file1.Key: testRecords("t", fieldsT, rowsT1),
			file2.Key: testRecords("t", fieldsT, rowsT2),
			fileU.Key: testRecords("u", fieldsU, rowsU),
		},
		tables: map[string][]arrow.Record{
			streamE.Name: testRecords("e", fieldsE, rowsE),
		},
	}
	idx := index.NewMemIndex(metaCom.TimestampColumn)
	require.NoError(t, idx.IndexFile(file1.Key, reader.files[file1.Key], []string{"name", "level"}))
	return &Context{Reader: reader, Enrichment: reader, Searcher: idx, BatchSize: 2}
}

func scanT(files ...metaCom.FileKey) *physical.TableScanExec {
	if len(files) == 0 {
		files = []metaCom.FileKey{file1, file2}
	}
	return &physical.TableScanExec{Stream: streamT, Relation: "t", Fields: fieldsT, Files: files}
}

func scanU() *physical.TableScanExec {
	return &physical.TableScanExec{Stream: streamU, Relation: "u", Fields: fieldsU, Files: []metaCom.FileKey{fileU}}
}

func collectRows(t *testing.T, c *Context, p physical.Plan) []Row {
	records, err := c.Collect(context.Background(), p)
	require.NoError(t, err)
	var rows []Row
	for _, rec := range records {
		rows = append(rows, Rows(rec)...)
	}
	return rows
}

// sortedRows orders rows by their text form for order insensitive checks.
func sortedRows(rows []Row) []Row {
	out := append([]Row{}, rows...)
	sort.Slice(out, func(i, j int) bool { return rowKey(out[i]) < rowKey(out[j]) })
	return out
}
