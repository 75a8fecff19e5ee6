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

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/index"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/cipher"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/physical"
	"github.com/streamql/streamql/utils"
)

const defaultBatchSize = 8192

// TableReader reads the batches of stream data files.
type TableReader interface {
	// ReadFile reads the named columns of a file, every column when columns is empty.
	ReadFile(ctx context.Context, stream metaCom.StreamRef, file metaCom.FileKey, columns []string) ([]arrow.Record, error)
}

// EnrichmentProvider reads whole enrichment tables.
type EnrichmentProvider interface {
	ReadTable(ctx context.Context, stream metaCom.StreamRef) ([]arrow.Record, error)
}

// RemoteExecutor runs the input of a remote scan on the cluster and returns
// one pipeline per partition.
type RemoteExecutor interface {
	Execute(ctx context.Context, node *physical.RemoteScanExec) ([]Pipeline, error)
}

// Context holds what operators need to execute a plan on this node.
type Context struct {
	Reader     TableReader
	Enrichment EnrichmentProvider
	Searcher   index.Searcher
	Remote     RemoteExecutor
	Keys       *cipher.KeyStore
	// EnrichMode makes broadcast joins emit the unmatched rows of the
	// enrichment table. One node per query runs in enrich mode.
	EnrichMode bool
	Stats      *queryCom.StatsAccumulator
	Allocator  memory.Allocator
	BatchSize  int
	// ChannelSize bounds the batches buffered per partition when fanning in.
	ChannelSize int
	// Analyze records per operator metrics.
	Analyze bool
	OrgID   string
	Logger  common.Logger

	metrics *planMetrics
}

// NewContext creates an execution context configured by cfg.
func NewContext(cfg common.QueryConfig) *Context {
	return &Context{
		Stats:       queryCom.NewStatsAccumulator(),
		Allocator:   memory.NewGoAllocator(),
		BatchSize:   defaultBatchSize,
		ChannelSize: cfg.BatchChannelSize,
		Logger:      utils.GetQueryLogger(),
	}
}

func (c *Context) init() {
	if c.Stats == nil {
		c.Stats = queryCom.NewStatsAccumulator()
	}
	if c.Allocator == nil {
		c.Allocator = memory.NewGoAllocator()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Logger == nil {
		c.Logger = utils.GetQueryLogger()
	}
	if c.Analyze && c.metrics == nil {
		c.metrics = newPlanMetrics()
	}
}

// Execute runs p and returns the pipelines of its partitions.
func (c *Context) Execute(ctx context.Context, p physical.Plan) []Pipeline {
	c.init()
	return c.execute(ctx, p)
}

// Run runs p and merges its partitions into one pipeline whose batches carry
// the schema of the plan.
func (c *Context) Run(ctx context.Context, p physical.Plan) Pipeline {
	c.init()
	schema := Schema(p.Schema())
	in := c.coalesce(c.execute(ctx, p))
	return newGenericPipeline(func(ctx context.Context, inputs []Pipeline) (arrow.Record, error) {
		b, err := inputs[0].Read(ctx)
		if err != nil {
			return nil, err
		}
		return relabel(b, schema), nil
	}, in)
}

// Collect runs p to completion.
func (c *Context) Collect(ctx context.Context, p physical.Plan) ([]arrow.Record, error) {
	pipeline := c.Run(ctx, p)
	defer pipeline.Close()
	return drain(ctx, pipeline)
}

func (c *Context) execute(ctx context.Context, p physical.Plan) []Pipeline {
	if err := ctx.Err(); err != nil {
		return []Pipeline{errorPipeline(err)}
	}
	var parts []Pipeline
	switch n := p.(type) {
	case *physical.TableScanExec:
		parts = []Pipeline{c.executeTableScan(n)}
	case *physical.EnrichExec:
		parts = []Pipeline{c.executeEnrich(n)}
	case *physical.IndexOptimizeExec:
		parts = []Pipeline{c.executeIndexOptimize(n)}
	case *physical.FilterExec:
		parts = c.executeFilter(ctx, n)
	case *physical.ProjectionExec:
		parts = c.executeProjection(ctx, n)
	case *physical.AggregateExec:
		parts = []Pipeline{c.executeAggregate(ctx, n)}
	case *physical.HashJoinExec:
		parts = c.executeHashJoin(ctx, n)
	case *physical.NestedLoopJoinExec:
		parts = []Pipeline{c.executeNestedLoopJoin(ctx, n)}
	case *physical.SortExec:
		parts = []Pipeline{c.executeSort(ctx, n)}
	case *physical.SortPreservingMergeExec:
		parts = []Pipeline{c.executeSortPreservingMerge(ctx, n)}
	case *physical.GlobalLimitExec:
		parts = []Pipeline{newLimitPipeline(c.coalesce(c.execute(ctx, n.Input)), n.Skip, n.Fetch)}
	case *physical.UnionExec:
		parts = c.executeUnion(ctx, n)
	case *physical.CoalescePartitionsExec:
		parts = []Pipeline{c.coalesce(c.execute(ctx, n.Input))}
	case *physical.RepartitionExec:
		parts = c.executeRepartition(ctx, n)
	case *physical.DeduplicationExec:
		parts = []Pipeline{c.executeDeduplication(ctx, n)}
	case *physical.RemoteScanExec:
		parts = c.executeRemoteScan(ctx, n)
	case *physical.EmptyExec:
		parts = []Pipeline{c.executeEmpty(n)}
	case *physical.AnalyzeExec:
		parts = []Pipeline{c.executeAnalyze(ctx, n)}
	default:
		return []Pipeline{errorPipeline(queryCom.ErrNotImplemented("operator %T", p))}
	}
	if c.metrics != nil {
		for i, part := range parts {
			parts[i] = c.metrics.observe(p, part)
		}
	}
	return parts
}

// single executes p and merges its partitions.
func (c *Context) single(ctx context.Context, p physical.Plan) Pipeline {
	return c.coalesce(c.execute(ctx, p))
}

func (c *Context) compiler(fields []physical.Field) *compiler {
	return &compiler{fields: fields, keys: c.Keys}
}

// mapRows applies fn to the rows of every batch of in.
func (c *Context) mapRows(in Pipeline, output []physical.Field, fn func(rows []Row) ([]Row, error)) Pipeline {
	return newGenericPipeline(func(ctx context.Context, inputs []Pipeline) (arrow.Record, error) {
		for {
			b, err := inputs[0].Read(ctx)
			if err != nil {
				return nil, err
			}
			rows, err := fn(Rows(b))
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				continue
			}
			builder := newBatchBuilder(c.Allocator, output)
			for _, row := range rows {
				builder.Append(row)
			}
			return builder.Build(), nil
		}
	}, in)
}
