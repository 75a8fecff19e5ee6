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

package broker

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/streamql/streamql/broker/util"
	"github.com/streamql/streamql/cluster"
	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/datanode/client"
	"github.com/streamql/streamql/metastore"
	"github.com/streamql/streamql/query"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/exec"
	"github.com/streamql/streamql/query/physical"
	"github.com/streamql/streamql/utils"
)

// Executor dispatches the remote scans of queries to the cluster members.
type Executor struct {
	cfg        common.ServerConfig
	membership cluster.Membership
	files      metastore.FileLister
	transport  client.Transport
}

// NewExecutor creates an executor listing files from files and reaching
// members through transport.
func NewExecutor(cfg common.ServerConfig, membership cluster.Membership, files metastore.FileLister,
	transport client.Transport) *Executor {
	return &Executor{
		cfg:        cfg,
		membership: membership,
		files:      files,
		transport:  transport,
	}
}

// ForQuery returns the remote executor of one compiled query. Partitions fold
// their stats and partial errors into c.
func (e *Executor) ForQuery(qc *query.QueryContext, c *exec.Context) exec.RemoteExecutor {
	q := &queryExecutor{
		Executor: e,
		qc:       qc,
		exec:     c,
		reporter: utils.GetReporter(qc.OrgID, string(qc.StreamType)),
		logger:   c.Logger.With("trace_id", qc.TraceID),
	}
	if n := e.cfg.Query.MaxConcurrentPartitions; n > 0 {
		q.sem = semaphore.NewWeighted(int64(n))
	}
	return q
}

// queryExecutor is the remote executor of one query. The enrichment node is
// chosen once and shared by every remote scan of the query.
type queryExecutor struct {
	*Executor
	qc       *query.QueryContext
	exec     *exec.Context
	sem      *semaphore.Weighted
	reporter *utils.Reporter
	logger   common.Logger

	enrichOnce sync.Once
	enrichNode string
	jobs       int
	sync.Mutex
}

// roleGroup maps the search type to the querier group serving it.
func roleGroup(t queryCom.SearchEventType) cluster.RoleGroup {
	if t.IsInteractive() {
		return cluster.RoleGroupInteractive
	}
	return cluster.RoleGroupBackground
}

func (q *queryExecutor) nextJobID() string {
	q.Lock()
	defer q.Unlock()
	q.jobs++
	return fmt.Sprintf("%s-%d", q.qc.TraceID, q.jobs)
}

func (q *queryExecutor) pickEnrichNode(nodes []cluster.Node) string {
	q.enrichOnce.Do(func() {
		var queriers []string
		for _, n := range nodes {
			if n.IsQuerier() {
				queriers = append(queriers, n.ID)
			}
		}
		if len(queriers) > 0 {
			q.enrichNode = queriers[rand.Intn(len(queriers))]
		}
	})
	return q.enrichNode
}

// partitionTimeout is the timeout of the call to node.
func (q *queryExecutor) partitionTimeout(node cluster.Node) time.Duration {
	req := q.qc.Request
	timeout := q.cfg.Query.Timeout()
	if req != nil {
		timeout = req.TimeoutOr(timeout)
	}
	ingesterTimeout := q.cfg.Query.IngesterTimeout()
	if node.IsIngester() && req != nil && req.SearchType.IsInteractive() &&
		ingesterTimeout > 0 && ingesterTimeout < timeout {
		return ingesterTimeout
	}
	return timeout
}

// Execute implements exec.RemoteExecutor. It issues one call per target node.
func (q *queryExecutor) Execute(ctx context.Context, node *physical.RemoteScanExec) ([]exec.Pipeline, error) {
	req := q.qc.Request
	if req == nil {
		req = &queryCom.Request{}
	}

	start := utils.Now()
	files, err := q.files.ListFiles(ctx, node.Stream, q.qc.StartTime, q.qc.EndTime)
	if err != nil {
		return nil, utils.StackError(err, "Failed to list files of stream %s", node.Stream)
	}
	q.exec.Stats.AddStats(queryCom.ScanStats{FileListMillis: utils.MillisSince(start)})

	members, err := q.membership.Nodes(ctx)
	if err != nil {
		return nil, utils.StackError(err, "Failed to list cluster members")
	}
	nodes := cluster.Filter{
		Regions:   req.Regions,
		Clusters:  req.Clusters,
		RoleGroup: roleGroup(req.SearchType),
	}.Apply(members)
	if len(nodes) == 0 {
		return nil, queryCom.ErrInternal("no querier or ingester node is available")
	}

	assignment, err := util.CalculateFileAssignment(nodes, files)
	if err != nil {
		return nil, err
	}
	plan, err := physical.Encode(node.Input)
	if err != nil {
		return nil, queryCom.WrapError(queryCom.Internal, err, "cannot encode the plan of stream %s", node.Stream)
	}
	enrichNode := q.pickEnrichNode(nodes)
	jobID := q.nextJobID()

	q.logger.Debugf("Dispatching %d files of stream %s to %d nodes", len(files), node.Stream, len(nodes))
	parts := make([]exec.Pipeline, len(nodes))
	for i, n := range nodes {
		timeout := q.partitionTimeout(n)
		sr := &client.FlightSearchRequest{
			TraceID:    q.qc.TraceID,
			JobID:      jobID,
			OrgID:      q.qc.OrgID,
			Stream:     node.Stream,
			Partition:  i,
			Plan:       plan,
			Files:      assignment[n.ID],
			StartTime:  q.qc.StartTime,
			EndTime:    q.qc.EndTime,
			ScanLocal:  n.IsIngester(),
			EnrichMode: n.ID == enrichNode,
			Analyze:    node.Analyze,
			Timeout:    int64(timeout / time.Second),
			SearchType: req.SearchType,
		}
		if !sr.ScanLocal && !sr.EnrichMode && len(sr.Files) == 0 && !req.SuperCluster {
			q.reporter.GetCounter(utils.PartitionsSkipped).Inc(1)
			parts[i] = closedPipeline()
			continue
		}
		q.reporter.GetCounter(utils.PartitionsDispatched).Inc(1)
		parts[i] = q.dispatch(ctx, n, sr, timeout)
	}
	return parts, nil
}

// dispatch starts streaming one partition into a bounded channel.
func (q *queryExecutor) dispatch(ctx context.Context, node cluster.Node, req *client.FlightSearchRequest,
	timeout time.Duration) exec.Pipeline {
	ctx, cancel := context.WithCancel(ctx)
	p := &remotePipeline{
		ch:     make(chan remoteBatch, q.cfg.Query.BatchChannelSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(ctx, func(ctx context.Context) error {
		return q.stream(ctx, node, req, timeout, p)
	})
	return p
}

// stream runs the call of one partition. Deadline and cancellation of the
// call degrade the partition to a partial result, other errors fail the query.
func (q *queryExecutor) stream(ctx context.Context, node cluster.Node, req *client.FlightSearchRequest,
	timeout time.Duration, p *remotePipeline) error {
	if q.sem != nil {
		if err := q.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer q.sem.Release(1)
	}

	logger := q.logger.With("node", node.ID, "partition", req.Partition)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := q.drain(callCtx, node, req, p)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case client.IsDeadlineOrCanceled(err):
		q.reporter.GetCounter(utils.PartitionsPartial).Inc(1)
		logger.With("error", err.Error()).Warn("partition ended early, result is partial")
		q.exec.Stats.AddPartialError(fmt.Sprintf("partition %d on node %s: %s", req.Partition, node.Name, err.Error()))
		return nil
	default:
		q.reporter.GetCounter(utils.PartitionsFailed).Inc(1)
		logger.With("error", err.Error()).Error("partition failed")
		return fromStatus(err, "partition %d on node %s failed", req.Partition, node.Name)
	}
}

func (q *queryExecutor) drain(ctx context.Context, node cluster.Node, req *client.FlightSearchRequest,
	p *remotePipeline) error {
	s, err := q.transport.Search(ctx, node, req)
	if err != nil {
		return err
	}
	defer s.Close()
	for {
		rec, err := s.Next(ctx)
		if err == io.EOF {
			if t := s.Trailer(); t != nil {
				q.exec.Stats.AddStats(t.Stats)
				q.exec.AddRemoteMetrics(t.Metrics)
			}
			return nil
		}
		if err != nil {
			return err
		}
		q.reporter.GetCounter(utils.RemoteBatchesReceived).Inc(1)
		q.reporter.GetCounter(utils.RemoteRowsReceived).Inc(rec.NumRows())
		if !p.send(ctx, remoteBatch{rec: rec}) {
			return ctx.Err()
		}
	}
}

// fromStatus translates the status of a failed call into a query error.
func fromStatus(err error, format string, args ...interface{}) error {
	kind := queryCom.Internal
	switch status.Code(err) {
	case codes.InvalidArgument:
		kind = queryCom.SQLNotValid
	case codes.Unimplemented:
		kind = queryCom.NotImplemented
	}
	return queryCom.WrapError(kind, err, format, args...)
}

type remoteBatch struct {
	rec arrow.Record
	err error
}

// remotePipeline reads the batches a partition call pushes into its channel.
type remotePipeline struct {
	ch     chan remoteBatch
	cancel context.CancelFunc
	done   chan struct{}
}

func closedPipeline() *remotePipeline {
	p := &remotePipeline{
		ch:     make(chan remoteBatch),
		cancel: func() {},
		done:   make(chan struct{}),
	}
	close(p.ch)
	close(p.done)
	return p
}

func (p *remotePipeline) run(ctx context.Context, fn func(ctx context.Context) error) {
	defer close(p.done)
	defer close(p.ch)
	if err := fn(ctx); err != nil {
		p.send(ctx, remoteBatch{err: err})
	}
}

func (p *remotePipeline) send(ctx context.Context, b remoteBatch) bool {
	select {
	case p.ch <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

// Read implements exec.Pipeline.
func (p *remotePipeline) Read(ctx context.Context) (arrow.Record, error) {
	select {
	case b, ok := <-p.ch:
		if !ok {
			return nil, exec.EOF
		}
		return b.rec, b.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements exec.Pipeline.
func (p *remotePipeline) Close() {
	p.cancel()
	<-p.done
}
