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
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/pkg/errors"
	"github.com/streamql/streamql/index"
	metaCom "github.com/streamql/streamql/metastore/common"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/indexopt"
	"github.com/streamql/streamql/query/physical"
	"github.com/streamql/streamql/utils"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentFiles bounds the files of one scan read at the same time.
const maxConcurrentFiles = 4

// scanColumns extends fields with the columns exprs read that fields lack.
func scanColumns(fields []physical.Field, exprs ...expr.Expr) []physical.Field {
	out := append([]physical.Field{}, fields...)
	for _, e := range exprs {
		if e == nil {
			continue
		}
		for _, ref := range expr.ColumnRefs(e) {
			if physical.FieldIndex(out, &expr.VarRef{Val: ref.Val}) >= 0 {
				continue
			}
			typ := metaCom.Utf8
			if ref.Val == metaCom.TimestampColumn {
				typ = metaCom.Int64
			}
			out = append(out, physical.Field{Name: ref.Val, Type: typ})
		}
	}
	return out
}

func fieldNames(fields []physical.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// alignRows reads the columns named by fields out of records, missing
// columns are NULL.
func alignRows(records []arrow.Record, fields []physical.Field) []Row {
	var rows []Row
	for _, rec := range records {
		idx := make([]int, len(fields))
		for i, f := range fields {
			idx[i] = -1
			if found := rec.Schema().FieldIndices(f.Name); len(found) > 0 {
				idx[i] = found[0]
			}
		}
		n := int(rec.NumRows())
		for r := 0; r < n; r++ {
			row := make(Row, len(fields))
			for i, j := range idx {
				if j >= 0 {
					row[i] = Value(rec.Column(j), r)
				}
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// timeBounds reads the _timestamp range out of pushed down filters. A zero
// end is open.
func timeBounds(filters []expr.Expr) (start, end int64) {
	for _, f := range filters {
		for _, c := range expr.Conjuncts(f) {
			b, ok := expr.StripParens(c).(*expr.BinaryExpr)
			if !ok {
				continue
			}
			ref, isRef := b.LHS.(*expr.VarRef)
			lit, isLit := b.RHS.(*expr.NumberLiteral)
			op := b.Op
			if !isRef || !isLit {
				ref, isRef = b.RHS.(*expr.VarRef)
				lit, isLit = b.LHS.(*expr.NumberLiteral)
				op = op.Commute()
			}
			if !isRef || !isLit || !lit.IsInt || ref.Val != metaCom.TimestampColumn {
				continue
			}
			switch op {
			case expr.GTE:
				start = lit.Int
			case expr.GT:
				start = lit.Int + 1
			case expr.LT:
				end = lit.Int
			case expr.LTE:
				end = lit.Int + 1
			}
		}
	}
	return start, end
}

func indexQuery(cond indexopt.Condition, start, end int64) index.Query {
	var q index.Query = &index.MatchAllQuery{}
	if cond != nil {
		q = cond.Query()
	}
	if start == 0 && end == 0 {
		return q
	}
	return index.Must(q, &index.TimeRangeQuery{Start: start, End: end})
}

func (c *Context) filterRows(rows []Row, predicate evalFn) ([]Row, error) {
	if predicate == nil {
		return rows, nil
	}
	kept := rows[:0]
	for _, row := range rows {
		v, err := predicate(row)
		if err != nil {
			return nil, err
		}
		if isTrue(v) {
			kept = append(kept, row)
		}
	}
	return kept, nil
}

func (c *Context) reportScan(stream metaCom.StreamRef, stats queryCom.ScanStats) {
	c.Stats.AddStats(stats)
	reporter := utils.GetReporter(c.OrgID, string(stream.Type))
	reporter.GetCounter(utils.ScanFiles).Inc(stats.Files)
	reporter.GetCounter(utils.ScanRecords).Inc(stats.Records)
	reporter.GetCounter(utils.ScanBytes).Inc(stats.OriginalSize)
}

func (c *Context) executeTableScan(n *physical.TableScanExec) Pipeline {
	fields := n.Schema()
	filter := expr.Conjoin(n.Filters)
	if n.Stream.Type == metaCom.StreamTypeEnrichmentTables {
		return c.enrichmentScan(n.Stream, fields, filter)
	}
	var condExpr expr.Expr
	if n.IndexCondition != nil {
		condExpr = n.IndexCondition.Expr()
	}
	columns := scanColumns(fields, filter, condExpr)
	compiler := c.compiler(columns)
	var predicate, fallback evalFn
	var err error
	if filter != nil {
		if predicate, err = compiler.compile(filter); err != nil {
			return errorPipeline(err)
		}
	}
	if condExpr != nil {
		if fallback, err = compiler.compile(condExpr); err != nil {
			return errorPipeline(err)
		}
	}
	start, end := timeBounds(n.Filters)
	// hits come back in timestamp order, ascending keeps the file order
	limit, ascending := 0, true
	if sel, ok := n.IndexOptimizeMode.(*indexopt.SimpleSelect); ok {
		limit, ascending = int(sel.Limit), sel.Ascending
	}
	return newLazyPipeline(func(ctx context.Context) ([]arrow.Record, error) {
		begin := utils.Now()
		results := make([][]Row, len(n.Files))
		stats := make([]queryCom.ScanStats, len(n.Files))
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrentFiles)
		for i, file := range n.Files {
			i, file := i, file
			g.Go(func() error {
				records, err := c.Reader.ReadFile(ctx, n.Stream, file, fieldNames(columns))
				if err != nil {
					return errors.Wrapf(err, "failed to read %s", file.Key)
				}
				rows := alignRows(records, columns)
				stats[i] = queryCom.ScanStats{
					Files:          1,
					Records:        int64(len(rows)),
					OriginalSize:   file.Meta.OriginalSize,
					CompressedSize: file.Meta.CompressedSize,
				}
				if n.IndexCondition != nil {
					rows, err = c.indexedRows(ctx, file, rows, n.IndexCondition, start, end, limit, ascending, fallback, &stats[i])
					if err != nil {
						return err
					}
				}
				if rows, err = c.filterRows(rows, predicate); err != nil {
					return err
				}
				for r := range rows {
					rows[r] = rows[r][:len(fields)]
				}
				results[i] = rows
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		var all []Row
		var total queryCom.ScanStats
		for i := range results {
			all = append(all, results[i]...)
			total.Add(stats[i])
		}
		total.TookMillis = int64(utils.Now().Sub(begin) / time.Millisecond)
		c.reportScan(n.Stream, total)
		c.Logger.Debugf("scanned %d files of %s, %d rows", total.Files, n.Stream, len(all))
		return BuildBatches(c.Allocator, fields, all, c.BatchSize), nil
	})
}

// indexedRows keeps the rows of file the index condition matches, through
// the index when the file has one.
func (c *Context) indexedRows(ctx context.Context, file metaCom.FileKey, rows []Row, cond indexopt.Condition,
	start, end int64, limit int, ascending bool, fallback evalFn, stats *queryCom.ScanStats) ([]Row, error) {
	if c.Searcher != nil && c.Searcher.Has(file.Key) {
		begin := utils.Now()
		hits, err := c.Searcher.Search(ctx, file.Key, indexQuery(cond, start, end), limit, ascending)
		if err == nil {
			stats.IdxScanSize += c.Searcher.Size(file.Key)
			stats.IdxTookMillis += int64(utils.Now().Sub(begin) / time.Millisecond)
			kept := make([]Row, 0, len(hits))
			for _, h := range hits {
				if h.Row < len(rows) {
					kept = append(kept, rows[h.Row])
				}
			}
			return kept, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.Logger.Debugf("index search of %s failed, filtering rows: %v", file.Key, err)
	}
	return c.filterRows(rows, fallback)
}

func (c *Context) enrichmentScan(stream metaCom.StreamRef, fields []physical.Field, filter expr.Expr) Pipeline {
	if c.Enrichment == nil {
		return errorPipeline(queryCom.ErrInternal("no enrichment provider for %s", stream))
	}
	columns := scanColumns(fields, filter)
	var predicate evalFn
	if filter != nil {
		var err error
		if predicate, err = c.compiler(columns).compile(filter); err != nil {
			return errorPipeline(err)
		}
	}
	return newLazyPipeline(func(ctx context.Context) ([]arrow.Record, error) {
		records, err := c.Enrichment.ReadTable(ctx, stream)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read enrichment table %s", stream.Name)
		}
		rows, err := c.filterRows(alignRows(records, columns), predicate)
		if err != nil {
			return nil, err
		}
		for r := range rows {
			rows[r] = rows[r][:len(fields)]
		}
		return BuildBatches(c.Allocator, fields, rows, c.BatchSize), nil
	})
}

func (c *Context) executeEnrich(n *physical.EnrichExec) Pipeline {
	return c.enrichmentScan(n.Stream, n.Schema(), nil)
}
