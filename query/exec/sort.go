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

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/pkg/errors"
	"github.com/streamql/streamql/query/logical"
	"github.com/streamql/streamql/query/physical"
)

type sortKey struct {
	fn   evalFn
	desc bool
}

func (c *compiler) sortKeys(keys []logical.SortKey) ([]sortKey, error) {
	out := make([]sortKey, len(keys))
	for i, k := range keys {
		fn, err := c.compile(k.Expr)
		if err != nil {
			return nil, err
		}
		out[i] = sortKey{fn: fn, desc: k.Desc}
	}
	return out, nil
}

// sortValues evaluates the sort keys of a row.
func sortValues(row Row, keys []sortKey) ([]interface{}, error) {
	values := make([]interface{}, len(keys))
	for i, k := range keys {
		v, err := k.fn(row)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// compareKeys orders two rows by their key values. NULL sorts last in
// ascending order and first in descending order.
func compareKeys(a, b []interface{}, keys []sortKey) int {
	for i, k := range keys {
		var cmp int
		switch {
		case a[i] == nil && b[i] == nil:
			cmp = 0
		case a[i] == nil:
			cmp = 1
		case b[i] == nil:
			cmp = -1
		default:
			cmp, _ = compareValues(a[i], b[i])
		}
		if k.desc {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}

type keyedRow struct {
	row    Row
	values []interface{}
}

// sortRows stably sorts rows, keeping the first fetch rows when fetch > 0.
func sortRows(rows []Row, keys []sortKey, fetch int64) ([]Row, error) {
	keyed := make([]keyedRow, len(rows))
	for i, row := range rows {
		values, err := sortValues(row, keys)
		if err != nil {
			return nil, err
		}
		keyed[i] = keyedRow{row: row, values: values}
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		return compareKeys(keyed[i].values, keyed[j].values, keys) < 0
	})
	if fetch > 0 && int64(len(keyed)) > fetch {
		keyed = keyed[:fetch]
	}
	out := make([]Row, len(keyed))
	for i, k := range keyed {
		out[i] = k.row
	}
	return out, nil
}

// cursor walks the rows of one sorted partition.
type cursor struct {
	input     int
	pipeline  Pipeline
	rows      []Row
	pos       int
	current   keyedRow
	exhausted bool
}

func (cur *cursor) advance(ctx context.Context, keys []sortKey) error {
	for cur.pos >= len(cur.rows) {
		b, err := cur.pipeline.Read(ctx)
		if errors.Is(err, EOF) {
			cur.exhausted = true
			return nil
		}
		if err != nil {
			return err
		}
		cur.rows, cur.pos = Rows(b), 0
	}
	row := cur.rows[cur.pos]
	cur.pos++
	values, err := sortValues(row, keys)
	if err != nil {
		return err
	}
	cur.current = keyedRow{row: row, values: values}
	return nil
}

// newMergePipeline k-way merges sorted partitions with a binary heap. Ties
// are broken by partition order.
func newMergePipeline(c *Context, parts []Pipeline, fields []physical.Field, keys []sortKey, fetch int64) Pipeline {
	var (
		heap    *binaryheap.Heap
		emitted int64
	)
	start := func(ctx context.Context) error {
		heap = binaryheap.NewWith(func(a, b interface{}) int {
			ca, cb := a.(*cursor), b.(*cursor)
			if cmp := compareKeys(ca.current.values, cb.current.values, keys); cmp != 0 {
				return cmp
			}
			return ca.input - cb.input
		})
		for i, p := range parts {
			cur := &cursor{input: i, pipeline: p}
			if err := cur.advance(ctx, keys); err != nil {
				return err
			}
			if !cur.exhausted {
				heap.Push(cur)
			}
		}
		return nil
	}
	return newGenericPipeline(func(ctx context.Context, _ []Pipeline) (arrow.Record, error) {
		if heap == nil {
			if err := start(ctx); err != nil {
				return nil, err
			}
		}
		builder := newBatchBuilder(c.Allocator, fields)
		for builder.Len() < c.BatchSize && (fetch <= 0 || emitted < fetch) {
			top, ok := heap.Pop()
			if !ok {
				break
			}
			cur := top.(*cursor)
			builder.Append(cur.current.row)
			emitted++
			if err := cur.advance(ctx, keys); err != nil {
				return nil, err
			}
			if !cur.exhausted {
				heap.Push(cur)
			}
		}
		if builder.Len() == 0 {
			return nil, EOF
		}
		return builder.Build(), nil
	}, parts...)
}
