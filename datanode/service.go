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

package datanode

import (
	"context"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/streamql/streamql/cluster"
	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/datanode/client"
	"github.com/streamql/streamql/diskstore"
	"github.com/streamql/streamql/index"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/cipher"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/exec"
	"github.com/streamql/streamql/query/merge"
	"github.com/streamql/streamql/query/physical"
	"github.com/streamql/streamql/utils"
)

// SearchHandler runs whole searches, used by the search action.
type SearchHandler interface {
	Search(ctx context.Context, req *queryCom.Request) (*queryCom.Response, error)
}

// Service executes the partitions of distributed queries on this node.
type Service struct {
	cfg      common.ServerConfig
	store    diskstore.DiskStore
	searcher index.Searcher
	keys     *cipher.KeyStore
	mem      memory.Allocator
	handler  SearchHandler
	logger   common.Logger
}

// NewService creates a service scanning the files of store through searcher.
func NewService(cfg common.ServerConfig, store diskstore.DiskStore, searcher index.Searcher, keys *cipher.KeyStore) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		searcher: searcher,
		keys:     keys,
		mem:      memory.NewGoAllocator(),
		logger:   utils.GetQueryLogger(),
	}
}

// SetSearchHandler sets the handler of whole searches.
func (s *Service) SetSearchHandler(h SearchHandler) {
	s.handler = h
}

// Open decodes the plan of a partition, binds the partition files into its
// scans and starts executing it.
func (s *Service) Open(ctx context.Context, req *client.FlightSearchRequest) (*PartitionStream, error) {
	plan, err := physical.Decode(req.Plan)
	if err != nil {
		return nil, err
	}
	files := req.Files
	if req.ScanLocal {
		local, err := s.store.ListFiles(ctx, req.Stream, req.StartTime, req.EndTime)
		if err != nil {
			return nil, utils.StackError(err, "Failed to list local files of stream %s", req.Stream)
		}
		files = mergeFiles(files, local)
	}
	plan = bindFiles(plan, req.Stream, files)

	var cancel context.CancelFunc = func() {}
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Second)
	}
	c := exec.NewContext(s.cfg.Query)
	c.Reader = s.store
	c.Enrichment = s.store
	c.Searcher = s.searcher
	c.Keys = s.keys
	c.Allocator = s.mem
	c.EnrichMode = req.EnrichMode
	c.Analyze = req.Analyze
	c.OrgID = req.OrgID
	c.Logger = s.logger.With("trace_id", req.TraceID, "org", req.OrgID, "stream", req.Stream.String())

	c.Logger.Debugf("Executing partition %d over %d files, enrich mode %v", req.Partition, len(files), req.EnrichMode)
	return &PartitionStream{
		plan:     plan,
		schema:   exec.Schema(plan.Schema()),
		ctx:      c,
		pipeline: c.Run(ctx, plan),
		runCtx:   ctx,
		cancel:   cancel,
		reporter: utils.GetReporter(req.OrgID, string(req.Stream.Type)),
		start:    utils.Now(),
	}, nil
}

// DeletePartition deletes the files of a partition path.
func (s *Service) DeletePartition(ctx context.Context, req *client.DeletePartitionRequest) (*client.DeletePartitionResponse, error) {
	n, err := s.store.DeletePartition(ctx, req.Path, req.Timestamp, req.End)
	if err != nil {
		return nil, err
	}
	utils.GetRootReporter().GetCounter(utils.PartitionsDeleted).Inc(int64(n))
	return &client.DeletePartitionResponse{Deleted: n > 0, Files: n}, nil
}

// Merge compacts the files of a stream in the requested range, the merged
// files replace the inputs once written.
func (s *Service) Merge(ctx context.Context, req *client.MergeRequest) (*client.MergeResponse, error) {
	schema := req.Schema
	files, err := s.store.ListFiles(ctx, schema.Stream, req.Start, req.End)
	if err != nil {
		return nil, utils.StackError(err, "Failed to list files of stream %s", schema.Stream)
	}
	var rule *merge.Rule
	if req.Function != "" {
		rule = &merge.Rule{Function: req.Function, Step: time.Duration(req.StepSeconds) * time.Second}
	}
	if len(files) < 2 && rule == nil {
		return &client.MergeResponse{Files: files}, nil
	}

	result, err := merge.NewMerger(s.store, s.cfg.Compact).Merge(ctx, &schema, files, rule)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = f.Key
	}
	n, err := s.store.DeleteFiles(ctx, keys)
	if err != nil {
		return nil, utils.StackError(err, "Failed to delete merged files of stream %s", schema.Stream)
	}
	return &client.MergeResponse{Merged: n, Files: result.Files}, nil
}

// Search runs a whole search through the search handler.
func (s *Service) Search(ctx context.Context, req *queryCom.Request) (*queryCom.Response, error) {
	if s.handler == nil {
		return nil, queryCom.ErrNotImplemented("search is not served by this node")
	}
	return s.handler.Search(ctx, req)
}

// bindFiles sets the files of every scan of stream. Enrichment scans read
// whole tables and are left alone.
func bindFiles(plan physical.Plan, stream metaCom.StreamRef, files []metaCom.FileKey) physical.Plan {
	out, _ := physical.TransformUp(plan, func(n physical.Plan) (physical.Plan, bool) {
		switch s := n.(type) {
		case *physical.TableScanExec:
			if s.Stream != stream {
				return n, false
			}
			c := *s
			c.Files = files
			return &c, true
		case *physical.IndexOptimizeExec:
			if s.Stream != stream {
				return n, false
			}
			c := *s
			c.Files = files
			return &c, true
		}
		return n, false
	})
	return out
}

// mergeFiles appends the files of extra missing from files.
func mergeFiles(files, extra []metaCom.FileKey) []metaCom.FileKey {
	seen := make(map[string]struct{}, len(files))
	out := make([]metaCom.FileKey, 0, len(files)+len(extra))
	for _, f := range files {
		seen[f.Key] = struct{}{}
		out = append(out, f)
	}
	for _, f := range extra {
		if _, ok := seen[f.Key]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// PartitionStream is the output of a partition executing on this node.
// Once exhausted it holds the trailer reporting the scan stats.
type PartitionStream struct {
	plan     physical.Plan
	schema   *arrow.Schema
	ctx      *exec.Context
	pipeline exec.Pipeline
	runCtx   context.Context
	cancel   context.CancelFunc
	reporter *utils.Reporter
	start    time.Time
	trailer  *client.Trailer
	failed   bool
}

// Schema returns the schema of the batches.
func (p *PartitionStream) Schema() *arrow.Schema {
	return p.schema
}

// Next implements client.RecordStream. Batches are read under the context
// the stream was opened with.
func (p *PartitionStream) Next(ctx context.Context) (arrow.Record, error) {
	if p.trailer != nil {
		return nil, io.EOF
	}
	rec, err := p.pipeline.Read(p.runCtx)
	if err == exec.EOF {
		p.trailer = &client.Trailer{
			Stats:   p.ctx.Stats.Stats(),
			Metrics: p.ctx.RemoteMetrics(p.plan),
		}
		p.reporter.GetTimer(utils.FollowerLatency).Record(utils.Now().Sub(p.start))
		return nil, io.EOF
	}
	if err != nil {
		if !p.failed {
			p.failed = true
			p.reporter.GetCounter(utils.FollowerFailures).Inc(1)
		}
		if ctxErr := p.runCtx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return rec, nil
}

// Trailer implements client.RecordStream.
func (p *PartitionStream) Trailer() *client.Trailer {
	return p.trailer
}

// Close implements client.RecordStream.
func (p *PartitionStream) Close() {
	p.pipeline.Close()
	p.cancel()
}

// LocalTransport serves the calls a node makes to itself without going
// through the network, other nodes are reached through Remote.
type LocalTransport struct {
	Self    cluster.Node
	Service *Service
	Remote  client.Transport
}

// Search implements client.Transport.
func (t *LocalTransport) Search(ctx context.Context, node cluster.Node, req *client.FlightSearchRequest) (client.RecordStream, error) {
	if node.ID != t.Self.ID {
		return t.Remote.Search(ctx, node, req)
	}
	utils.GetReporter(req.OrgID, string(req.Stream.Type)).GetCounter(utils.FollowerRequests).Inc(1)
	return t.Service.Open(ctx, req)
}

// DeletePartition implements client.Transport.
func (t *LocalTransport) DeletePartition(ctx context.Context, node cluster.Node,
	req *client.DeletePartitionRequest) (*client.DeletePartitionResponse, error) {
	if node.ID != t.Self.ID {
		return t.Remote.DeletePartition(ctx, node, req)
	}
	return t.Service.DeletePartition(ctx, req)
}

// SearchOnce implements client.Transport.
func (t *LocalTransport) SearchOnce(ctx context.Context, node cluster.Node, req *queryCom.Request) (*queryCom.Response, error) {
	if node.ID != t.Self.ID {
		return t.Remote.SearchOnce(ctx, node, req)
	}
	return t.Service.Search(ctx, req)
}

// Merge implements client.Transport.
func (t *LocalTransport) Merge(ctx context.Context, node cluster.Node, req *client.MergeRequest) (*client.MergeResponse, error) {
	if node.ID != t.Self.ID {
		return t.Remote.Merge(ctx, node, req)
	}
	return t.Service.Merge(ctx, req)
}

var _ client.Transport = (*LocalTransport)(nil)
var _ client.RecordStream = (*PartitionStream)(nil)
