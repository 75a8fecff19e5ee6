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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/streamql/streamql/query/physical"
	"github.com/streamql/streamql/utils"
)

// Plan types reported by AnalyzeExec.
const (
	PlanWithMetrics       = "Plan with Metrics"
	RemotePlanWithMetrics = "Remote Plan with Metrics"
	OutputRowsPlanType    = "Output Rows"
)

type operatorMetrics struct {
	partitions int
	batches    int64
	rows       int64
	elapsed    time.Duration
}

// planMetrics collects output rows and elapsed time per operator.
type planMetrics struct {
	sync.Mutex
	ops    map[physical.Plan]*operatorMetrics
	remote []string
}

func newPlanMetrics() *planMetrics {
	return &planMetrics{ops: make(map[physical.Plan]*operatorMetrics)}
}

func (m *planMetrics) get(p physical.Plan) *operatorMetrics {
	op, ok := m.ops[p]
	if !ok {
		op = &operatorMetrics{}
		m.ops[p] = op
	}
	return op
}

// observe wraps one partition of p. Elapsed time includes the children.
func (m *planMetrics) observe(p physical.Plan, in Pipeline) Pipeline {
	m.Lock()
	m.get(p).partitions++
	m.Unlock()
	return newGenericPipeline(func(ctx context.Context, inputs []Pipeline) (arrow.Record, error) {
		start := utils.Now()
		b, err := inputs[0].Read(ctx)
		m.Lock()
		op := m.get(p)
		op.elapsed += utils.Now().Sub(start)
		if err == nil {
			op.batches++
			op.rows += b.NumRows()
		}
		m.Unlock()
		return b, err
	}, in)
}

func (m *planMetrics) addRemote(text string) {
	m.Lock()
	m.remote = append(m.remote, text)
	m.Unlock()
}

// format renders p with the metrics of every operator.
func (m *planMetrics) format(p physical.Plan, verbose bool) string {
	m.Lock()
	defer m.Unlock()
	var b strings.Builder
	m.formatNode(&b, p, 0, verbose)
	return b.String()
}

func (m *planMetrics) formatNode(b *strings.Builder, p physical.Plan, depth int, verbose bool) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(p.String())
	if op, ok := m.ops[p]; ok {
		fmt.Fprintf(b, ", metrics=[output_rows=%d, elapsed_compute=%s", op.rows, op.elapsed)
		if verbose {
			fmt.Fprintf(b, ", output_batches=%d, partitions=%d", op.batches, op.partitions)
		}
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, c := range p.Children() {
		m.formatNode(b, c, depth+1, verbose)
	}
}

// AddRemoteMetrics attaches the metrics a remote node reported for its part
// of the plan. It is a no-op unless the query is analyzed.
func (c *Context) AddRemoteMetrics(text string) {
	if c.metrics != nil && text != "" {
		c.metrics.addRemote(text)
	}
}

// RemoteMetrics returns the metrics text of p as run by this node, used by
// followers to report their part of an analyzed query.
func (c *Context) RemoteMetrics(p physical.Plan) string {
	if c.metrics == nil {
		return ""
	}
	return c.metrics.format(p, false)
}

// executeAnalyze runs the input to completion and reports the annotated plan.
func (c *Context) executeAnalyze(ctx context.Context, n *physical.AnalyzeExec) Pipeline {
	if c.metrics == nil {
		c.metrics = newPlanMetrics()
	}
	in := c.single(ctx, n.Input)
	return newLazyPipeline(func(ctx context.Context) ([]arrow.Record, error) {
		records, err := drain(ctx, in)
		if err != nil {
			return nil, err
		}
		var total int64
		for _, rec := range records {
			total += rec.NumRows()
		}
		rows := []Row{{PlanWithMetrics, c.metrics.format(n.Input, n.Verbose)}}
		c.metrics.Lock()
		remote := append([]string{}, c.metrics.remote...)
		c.metrics.Unlock()
		for _, text := range remote {
			rows = append(rows, Row{RemotePlanWithMetrics, text})
		}
		if n.Verbose {
			rows = append(rows, Row{OutputRowsPlanType, fmt.Sprint(total)})
		}
		return BuildBatches(c.Allocator, n.Schema(), rows, c.BatchSize), nil
	}, in)
}
