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
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/physical"
)

func (c *Context) executeFilter(ctx context.Context, n *physical.FilterExec) []Pipeline {
	fields := n.Input.Schema()
	predicate, err := c.compiler(fields).compile(n.Predicate)
	if err != nil {
		return []Pipeline{errorPipeline(err)}
	}
	parts := c.execute(ctx, n.Input)
	for i, in := range parts {
		parts[i] = c.mapRows(in, fields, func(rows []Row) ([]Row, error) {
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
		})
	}
	return parts
}

func (c *Context) executeProjection(ctx context.Context, n *physical.ProjectionExec) []Pipeline {
	exprs := make([]expr.Expr, len(n.Exprs))
	for i, e := range n.Exprs {
		exprs[i] = e.Expr
	}
	fns, err := c.compiler(n.Input.Schema()).compileAll(exprs)
	if err != nil {
		return []Pipeline{errorPipeline(err)}
	}
	output := n.Schema()
	parts := c.execute(ctx, n.Input)
	for i, in := range parts {
		parts[i] = c.mapRows(in, output, func(rows []Row) ([]Row, error) {
			out := make([]Row, len(rows))
			for r, row := range rows {
				projected := make(Row, len(fns))
				for j, fn := range fns {
					v, err := fn(row)
					if err != nil {
						return nil, err
					}
					projected[j] = v
				}
				out[r] = projected
			}
			return out, nil
		})
	}
	return parts
}

func (c *Context) executeAggregate(ctx context.Context, n *physical.AggregateExec) Pipeline {
	agg, err := c.compiler(n.Input.Schema()).newAggregator(n)
	if err != nil {
		return errorPipeline(err)
	}
	output := n.Schema()
	in := c.single(ctx, n.Input)
	return newLazyPipeline(func(ctx context.Context) ([]arrow.Record, error) {
		batches, err := drain(ctx, in)
		if err != nil {
			return nil, err
		}
		for _, b := range batches {
			for _, row := range Rows(b) {
				if err := agg.add(row); err != nil {
					return nil, err
				}
			}
		}
		return BuildBatches(c.Allocator, output, agg.rows(), c.BatchSize), nil
	}, in)
}

func (c *Context) executeSort(ctx context.Context, n *physical.SortExec) Pipeline {
	fields := n.Input.Schema()
	keys, err := c.compiler(fields).sortKeys(n.Keys)
	if err != nil {
		return errorPipeline(err)
	}
	in := c.single(ctx, n.Input)
	return newLazyPipeline(func(ctx context.Context) ([]arrow.Record, error) {
		batches, err := drain(ctx, in)
		if err != nil {
			return nil, err
		}
		var rows []Row
		for _, b := range batches {
			rows = append(rows, Rows(b)...)
		}
		rows, err = sortRows(rows, keys, n.Fetch)
		if err != nil {
			return nil, err
		}
		return BuildBatches(c.Allocator, fields, rows, c.BatchSize), nil
	}, in)
}

func (c *Context) executeSortPreservingMerge(ctx context.Context, n *physical.SortPreservingMergeExec) Pipeline {
	fields := n.Input.Schema()
	keys, err := c.compiler(fields).sortKeys(n.Keys)
	if err != nil {
		return errorPipeline(err)
	}
	parts := c.execute(ctx, n.Input)
	return newMergePipeline(c, parts, fields, keys, n.Fetch)
}

// newLimitPipeline skips and fetches rows across batch boundaries.
func newLimitPipeline(in Pipeline, skip, fetch int64) Pipeline {
	offsetRemaining, limitRemaining := skip, fetch
	return newGenericPipeline(func(ctx context.Context, inputs []Pipeline) (arrow.Record, error) {
		for {
			if limitRemaining <= 0 {
				return nil, EOF
			}
			b, err := inputs[0].Read(ctx)
			if err != nil {
				return nil, err
			}
			start := min(offsetRemaining, b.NumRows())
			end := min(start+limitRemaining, b.NumRows())
			offsetRemaining -= start
			limitRemaining -= end - start
			if end > start {
				return b.NewSlice(start, end), nil
			}
		}
	}, in)
}

func (c *Context) executeUnion(ctx context.Context, n *physical.UnionExec) []Pipeline {
	schema := Schema(n.Schema())
	var parts []Pipeline
	for _, input := range n.Inputs {
		for _, in := range c.execute(ctx, input) {
			parts = append(parts, newGenericPipeline(func(ctx context.Context, inputs []Pipeline) (arrow.Record, error) {
				b, err := inputs[0].Read(ctx)
				if err != nil {
					return nil, err
				}
				return relabel(b, schema), nil
			}, in))
		}
	}
	return parts
}

func (c *Context) executeRepartition(ctx context.Context, n *physical.RepartitionExec) []Pipeline {
	fields := n.Input.Schema()
	keys, err := c.compiler(fields).compileAll(n.Keys)
	if err != nil {
		return []Pipeline{errorPipeline(err)}
	}
	count := n.Partitions
	if count < 1 {
		count = 1
	}
	in := c.single(ctx, n.Input)
	var (
		once    sync.Once
		buckets = make([][]Row, count)
		failure error
	)
	fill := func(ctx context.Context) error {
		once.Do(func() {
			batches, err := drain(ctx, in)
			if err != nil {
				failure = err
				return
			}
			for _, b := range batches {
				for _, row := range Rows(b) {
					values := make([]interface{}, len(keys))
					for i, key := range keys {
						if values[i], err = key(row); err != nil {
							failure = err
							return
						}
					}
					i := xxhash.Sum64String(rowKey(values)) % uint64(count)
					buckets[i] = append(buckets[i], row)
				}
			}
		})
		return failure
	}
	parts := make([]Pipeline, count)
	for i := range parts {
		i := i
		var inputs []Pipeline
		if i == 0 {
			// the shared input is closed with the first partition
			inputs = []Pipeline{in}
		}
		parts[i] = newLazyPipeline(func(ctx context.Context) ([]arrow.Record, error) {
			if err := fill(ctx); err != nil {
				return nil, err
			}
			return BuildBatches(c.Allocator, fields, buckets[i], c.BatchSize), nil
		}, inputs...)
	}
	return parts
}

func (c *Context) executeDeduplication(ctx context.Context, n *physical.DeduplicationExec) Pipeline {
	fields := n.Input.Schema()
	keys, err := c.compiler(fields).compileAll(n.Keys)
	if err != nil {
		return errorPipeline(err)
	}
	seen := map[string]bool{}
	var emitted int64
	in := c.single(ctx, n.Input)
	return c.mapRows(in, fields, func(rows []Row) ([]Row, error) {
		var out []Row
		for _, row := range rows {
			if n.Fetch > 0 && emitted >= n.Fetch {
				break
			}
			values := make([]interface{}, len(keys))
			for i, key := range keys {
				v, err := key(row)
				if err != nil {
					return nil, err
				}
				values[i] = v
			}
			k := rowKey(values)
			if seen[k] {
				continue
			}
			seen[k] = true
			emitted++
			out = append(out, row)
		}
		return out, nil
	})
}

func (c *Context) executeRemoteScan(ctx context.Context, n *physical.RemoteScanExec) []Pipeline {
	if c.Remote == nil {
		return c.execute(ctx, n.Input)
	}
	parts, err := c.Remote.Execute(ctx, n)
	if err != nil {
		return []Pipeline{errorPipeline(err)}
	}
	if len(parts) == 0 {
		return []Pipeline{emptyPipeline()}
	}
	return parts
}

func (c *Context) executeEmpty(n *physical.EmptyExec) Pipeline {
	if !n.ProduceOneRow {
		return emptyPipeline()
	}
	return batchesPipeline(BuildBatches(c.Allocator, n.Output, []Row{make(Row, len(n.Output))}, 1)...)
}

// coalesce merges partitions into one in arrival order.
func (c *Context) coalesce(parts []Pipeline) Pipeline {
	switch len(parts) {
	case 0:
		return emptyPipeline()
	case 1:
		return parts[0]
	}
	return &coalescePipeline{inputs: parts, size: c.ChannelSize}
}

// coalescePipeline reads every input on its own goroutine.
type coalescePipeline struct {
	inputs  []Pipeline
	size    int
	started bool
	ch      chan state
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Read implements Pipeline.
func (p *coalescePipeline) Read(ctx context.Context) (arrow.Record, error) {
	if !p.started {
		p.start(ctx)
	}
	select {
	case s, ok := <-p.ch:
		if !ok {
			return nil, EOF
		}
		return s.batch, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *coalescePipeline) start(ctx context.Context) {
	p.started = true
	p.ch = make(chan state, p.size)
	ctx, p.cancel = context.WithCancel(ctx)
	for _, in := range p.inputs {
		p.wg.Add(1)
		go func(in Pipeline) {
			defer p.wg.Done()
			for {
				b, err := in.Read(ctx)
				if errors.Is(err, EOF) {
					return
				}
				select {
				case p.ch <- state{batch: b, err: err}:
				case <-ctx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}(in)
	}
	go func() {
		p.wg.Wait()
		close(p.ch)
	}()
}

// Close implements Pipeline.
func (p *coalescePipeline) Close() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
	for _, in := range p.inputs {
		in.Close()
	}
}
