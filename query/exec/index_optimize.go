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
	"github.com/pkg/errors"
	"github.com/streamql/streamql/index"
	metaCom "github.com/streamql/streamql/metastore/common"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/indexopt"
	"github.com/streamql/streamql/query/physical"
	"golang.org/x/sync/errgroup"
)

// fileAnswer is what one file contributes to an index optimized query.
type fileAnswer struct {
	count   int64
	buckets []int64
	terms   []index.TermCount
	values  []string
}

func (c *Context) executeIndexOptimize(n *physical.IndexOptimizeExec) Pipeline {
	var condExpr expr.Expr
	if n.Condition != nil {
		condExpr = n.Condition.Expr()
	}
	columns := []physical.Field{{Name: metaCom.TimestampColumn, Type: metaCom.Int64}}
	if field := modeField(n.Mode); field != "" {
		columns = append(columns, physical.Field{Name: field, Type: metaCom.Utf8})
	}
	columns = scanColumns(columns, condExpr)
	var predicate evalFn
	if condExpr != nil {
		var err error
		if predicate, err = c.compiler(columns).compile(condExpr); err != nil {
			return errorPipeline(err)
		}
	}
	q := indexQuery(n.Condition, n.StartTime, n.EndTime)
	return newLazyPipeline(func(ctx context.Context) ([]arrow.Record, error) {
		answers := make([]fileAnswer, len(n.Files))
		stats := make([]queryCom.ScanStats, len(n.Files))
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrentFiles)
		for i, file := range n.Files {
			i, file := i, file
			g.Go(func() error {
				stats[i] = queryCom.ScanStats{
					Files:          1,
					Records:        file.Meta.Records,
					OriginalSize:   file.Meta.OriginalSize,
					CompressedSize: file.Meta.CompressedSize,
				}
				if c.Searcher != nil && c.Searcher.Has(file.Key) {
					answer, err := c.searchIndex(ctx, file.Key, n.Mode, q)
					if err == nil {
						stats[i].IdxScanSize = c.Searcher.Size(file.Key)
						answers[i] = answer
						return nil
					}
					if ctx.Err() != nil {
						return ctx.Err()
					}
					c.Logger.Debugf("index answer of %s failed, reading rows: %v", file.Key, err)
				}
				records, err := c.Reader.ReadFile(ctx, n.Stream, file, fieldNames(columns))
				if err != nil {
					return errors.Wrapf(err, "failed to read %s", file.Key)
				}
				rows, err := c.filterRows(alignRows(records, columns), predicate)
				if err != nil {
					return err
				}
				answers[i] = answerRows(inTimeRange(rows, n.StartTime, n.EndTime), n.Mode)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		var total queryCom.ScanStats
		for _, s := range stats {
			total.Add(s)
		}
		c.reportScan(n.Stream, total)
		return BuildBatches(c.Allocator, n.Output, indexOptimizeRows(answers, n.Mode), c.BatchSize), nil
	})
}

func modeField(m indexopt.Mode) string {
	switch m := m.(type) {
	case *indexopt.SimpleTopN:
		return m.Field
	case *indexopt.SimpleDistinct:
		return m.Field
	}
	return ""
}

func (c *Context) searchIndex(ctx context.Context, file string, mode indexopt.Mode, q index.Query) (fileAnswer, error) {
	var answer fileAnswer
	var err error
	switch m := mode.(type) {
	case *indexopt.SimpleCount:
		answer.count, err = c.Searcher.Count(ctx, file, q)
	case *indexopt.SimpleHistogram:
		answer.buckets, err = c.Searcher.Histogram(ctx, file, q, m.MinTs, m.BucketWidth, m.NumBuckets)
	case *indexopt.SimpleTopN:
		// every term is kept, the leader picks the top ones after merging.
		answer.terms, err = c.Searcher.TopN(ctx, file, q, m.Field, 0, m.Ascending)
	case *indexopt.SimpleDistinct:
		answer.values, err = c.Searcher.Distinct(ctx, file, q, m.Field, int(m.Limit), m.Ascending)
	default:
		err = queryCom.ErrInternal("index optimize mode %v has no index answer", mode)
	}
	return answer, err
}

// inTimeRange keeps the rows whose first column lies in [start, end).
func inTimeRange(rows []Row, start, end int64) []Row {
	if start == 0 && end == 0 {
		return rows
	}
	kept := rows[:0]
	for _, row := range rows {
		ts, ok := toInt64(row[0])
		if !ok || ts < start || (end > 0 && ts >= end) {
			continue
		}
		kept = append(kept, row)
	}
	return kept
}

// answerRows computes the answer of mode over rows holding the timestamp
// and the mode field.
func answerRows(rows []Row, mode indexopt.Mode) fileAnswer {
	var answer fileAnswer
	switch m := mode.(type) {
	case *indexopt.SimpleCount:
		answer.count = int64(len(rows))
	case *indexopt.SimpleHistogram:
		answer.buckets = make([]int64, m.NumBuckets)
		if m.BucketWidth <= 0 {
			break
		}
		for _, row := range rows {
			ts, ok := toInt64(row[0])
			if !ok || ts < m.MinTs {
				continue
			}
			if b := (ts - m.MinTs) / m.BucketWidth; b < int64(m.NumBuckets) {
				answer.buckets[b]++
			}
		}
	case *indexopt.SimpleTopN:
		counts := make(map[string]int64)
		for _, row := range rows {
			if row[1] != nil {
				counts[toString(row[1])]++
			}
		}
		for term, count := range counts {
			answer.terms = append(answer.terms, index.TermCount{Term: term, Count: count})
		}
		sort.Slice(answer.terms, func(i, j int) bool { return answer.terms[i].Term < answer.terms[j].Term })
	case *indexopt.SimpleDistinct:
		seen := make(map[string]bool)
		for _, row := range rows {
			if row[1] == nil {
				continue
			}
			if s := toString(row[1]); !seen[s] {
				seen[s] = true
				answer.values = append(answer.values, s)
			}
		}
		sort.Strings(answer.values)
		if !m.Ascending {
			sort.Sort(sort.Reverse(sort.StringSlice(answer.values)))
		}
		if m.Limit > 0 && int64(len(answer.values)) > m.Limit {
			answer.values = answer.values[:m.Limit]
		}
	}
	return answer
}

// indexOptimizeRows turns per file answers into the partial rows the leader
// re-aggregates.
func indexOptimizeRows(answers []fileAnswer, mode indexopt.Mode) []Row {
	var rows []Row
	switch m := mode.(type) {
	case *indexopt.SimpleCount:
		var total int64
		for _, a := range answers {
			total += a.count
		}
		rows = append(rows, Row{total})
	case *indexopt.SimpleHistogram:
		buckets := make([]int64, m.NumBuckets)
		for _, a := range answers {
			for i, count := range a.buckets {
				if i < len(buckets) {
					buckets[i] += count
				}
			}
		}
		for i, count := range buckets {
			if count > 0 {
				rows = append(rows, Row{m.MinTs + int64(i)*m.BucketWidth, count})
			}
		}
	case *indexopt.SimpleTopN:
		counts := make(map[string]int64)
		var order []string
		for _, a := range answers {
			for _, tc := range a.terms {
				if _, ok := counts[tc.Term]; !ok {
					order = append(order, tc.Term)
				}
				counts[tc.Term] += tc.Count
			}
		}
		for _, term := range order {
			rows = append(rows, Row{term, counts[term]})
		}
	case *indexopt.SimpleDistinct:
		seen := make(map[string]bool)
		for _, a := range answers {
			for _, v := range a.values {
				if !seen[v] {
					seen[v] = true
					rows = append(rows, Row{v})
				}
			}
		}
	}
	return rows
}
