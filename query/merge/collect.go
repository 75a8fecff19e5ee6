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

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/streamql/streamql/query/exec"
)

// Hits converts records into hits keyed by column name. A later column
// overwrites an earlier one of the same name.
func Hits(records []arrow.Record) ([]string, []map[string]interface{}) {
	var columns []string
	seen := map[string]struct{}{}
	var hits []map[string]interface{}
	for _, rec := range records {
		schema := rec.Schema()
		for _, f := range schema.Fields() {
			if _, ok := seen[f.Name]; !ok {
				seen[f.Name] = struct{}{}
				columns = append(columns, f.Name)
			}
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			hit := make(map[string]interface{}, rec.NumCols())
			for j, col := range rec.Columns() {
				hit[schema.Field(j).Name] = exec.Value(col, i)
			}
			hits = append(hits, hit)
		}
	}
	return columns, hits
}

// Collect drains in and converts its batches into hits.
func Collect(ctx context.Context, in exec.Pipeline) ([]string, []map[string]interface{}, error) {
	defer in.Close()
	var records []arrow.Record
	for {
		rec, err := in.Read(ctx)
		if err == exec.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
	}
	columns, hits := Hits(records)
	return columns, hits, nil
}
