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

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/metastore"
	"github.com/streamql/streamql/query"
	"github.com/streamql/streamql/query/cipher"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/exec"
	"github.com/streamql/streamql/query/logical"
	"github.com/streamql/streamql/query/merge"
	"github.com/streamql/streamql/query/physical"
	"github.com/streamql/streamql/utils"
)

// SearchService runs searches as the leader of their distributed execution.
type SearchService struct {
	cfg        common.ServerConfig
	schemas    metastore.SchemaReader
	executor   *Executor
	enrichment exec.EnrichmentProvider
	keys       *cipher.KeyStore
	tasks      *TaskRegistry
	logger     common.Logger
}

// NewSearchService creates a search service. Enrichment tables are read
// from enrichment on this node.
func NewSearchService(cfg common.ServerConfig, schemas metastore.SchemaReader, executor *Executor,
	enrichment exec.EnrichmentProvider, keys *cipher.KeyStore) *SearchService {
	return &SearchService{
		cfg:        cfg,
		schemas:    schemas,
		executor:   executor,
		enrichment: enrichment,
		keys:       keys,
		tasks:      NewTaskRegistry(),
		logger:     utils.GetQueryLogger(),
	}
}

// Running lists the running searches of org, every org when org is empty.
func (s *SearchService) Running(org string) []TaskInfo {
	return s.tasks.List(org)
}

// Cancel aborts the search of traceID.
func (s *SearchService) Cancel(traceID string) bool {
	return s.tasks.Cancel(traceID)
}

type searchResult struct {
	resp *queryCom.Response
	err  error
}

// Search runs req to completion. The search aborts with a timeout error once
// the query timeout elapses and with a canceled error when canceled by trace id.
func (s *SearchService) Search(ctx context.Context, req *queryCom.Request) (*queryCom.Response, error) {
	r := *req
	if r.TraceID == "" {
		r.TraceID = uuid.New().String()
	}
	reporter := utils.GetReporter(r.OrgID, string(r.StreamType))
	reporter.GetCounter(utils.QueryReceived).Inc(1)
	start := utils.Now()

	timeout := r.TimeoutOr(s.cfg.Query.Timeout())
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	runCtx, t, err := s.tasks.register(ctx, &r)
	if err != nil {
		reporter.GetCounter(utils.QueryFailed).Inc(1)
		return nil, err
	}
	defer s.tasks.remove(t)

	done := make(chan searchResult, 1)
	go func() {
		resp, err := s.run(runCtx, &r)
		done <- searchResult{resp: resp, err: err}
	}()

	var res searchResult
	select {
	case res = <-done:
	case <-t.canceled:
		res.err = context.Canceled
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	logger := s.logger.With("trace_id", r.TraceID, "org", r.OrgID, "sql", r.Query.SQL)
	if res.err != nil {
		switch {
		case t.isCanceled():
			res.err = queryCom.WrapError(queryCom.Canceled, res.err, "search %s canceled", r.TraceID)
			reporter.GetCounter(utils.QueryCanceled).Inc(1)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			res.err = queryCom.WrapError(queryCom.Timeout, res.err, "search %s timed out after %s", r.TraceID, timeout)
			reporter.GetCounter(utils.QueryTimedOut).Inc(1)
		default:
			if !errors.As(res.err, new(*queryCom.QueryError)) {
				res.err = queryCom.WrapError(queryCom.Internal, res.err, "search %s failed", r.TraceID)
			}
			reporter.GetCounter(utils.QueryFailed).Inc(1)
		}
		logger.With("error", res.err.Error()).Warn("search failed")
		return nil, res.err
	}

	resp := res.resp
	resp.Took = utils.MillisSince(start)
	resp.TookDetail.Total = resp.Took
	reporter.GetCounter(utils.QuerySucceeded).Inc(1)
	reporter.GetTimer(utils.QueryLatency).Record(utils.Now().Sub(start))
	reporter.GetCounter(utils.QueryRowsReturned).Inc(int64(len(resp.Hits)))
	if resp.IsPartial {
		reporter.GetCounter(utils.QueryPartial).Inc(1)
	}
	logger.Debugf("search succeeded in %dms with %d hits", resp.Took, len(resp.Hits))
	return resp, nil
}

// run compiles, plans and executes one search.
func (s *SearchService) run(ctx context.Context, req *queryCom.Request) (*queryCom.Response, error) {
	reporter := utils.GetReporter(req.OrgID, string(req.StreamType))
	var took queryCom.TookDetail

	start := utils.Now()
	qc := query.Compile(ctx, req, s.schemas, s.cfg)
	if qc.Error != nil {
		return nil, qc.Error
	}
	took.Analyze = utils.MillisSince(start)
	reporter.GetTimer(utils.QueryAnalyzeLatency).Record(utils.Now().Sub(start))

	start = utils.Now()
	lp, err := logical.Build(qc)
	if err != nil {
		return nil, err
	}
	lp = logical.Optimize(lp, logical.DefaultRules(qc))
	pp, err := physical.Create(qc, lp)
	if err != nil {
		return nil, err
	}
	pctx := physical.NewContext(qc)
	pp = physical.Optimize(pp, pctx, physical.DefaultRules(pctx))
	took.Plan = utils.MillisSince(start)
	reporter.GetTimer(utils.QueryPlanLatency).Record(utils.Now().Sub(start))
	if qc.IndexOptimizeMode != nil {
		reporter.GetCounter(utils.QueryIndexOptimized).Inc(1)
	}

	start = utils.Now()
	c := exec.NewContext(s.cfg.Query)
	c.Enrichment = s.enrichment
	c.Keys = s.keys
	c.Analyze = req.Analyze
	c.OrgID = req.OrgID
	c.Logger = s.logger.With("trace_id", qc.TraceID, "org", qc.OrgID)
	c.Remote = s.executor.ForQuery(qc, c)
	c.Logger.Debugf("executing plan\n%s", physical.Format(pp))

	columns, hits, err := merge.Collect(ctx, c.Run(ctx, pp))
	if err != nil {
		return nil, err
	}
	took.Execute = utils.MillisSince(start)

	stats := c.Stats.Stats()
	took.FileListTook = stats.FileListMillis
	return s.response(qc, columns, hits, stats, c.Stats, took), nil
}

func (s *SearchService) response(qc *query.QueryContext, columns []string, hits []map[string]interface{},
	stats queryCom.ScanStats, acc *queryCom.StatsAccumulator, took queryCom.TookDetail) *queryCom.Response {
	if hits == nil {
		hits = []map[string]interface{}{}
	}
	resp := &queryCom.Response{
		TraceID:    qc.TraceID,
		TookDetail: took,
		Columns:    columns,
		Hits:       hits,
		Total:      int64(len(hits)),
		From:       qc.Offset,
		Size:       qc.Limit,
		OrderBy:    qc.OrderByString(),
	}
	if qc.TrackTotalHits && len(hits) == 1 {
		if total, ok := hits[0][query.TotalHitsAlias].(int64); ok {
			resp.Total = total
		}
	}
	if qc.HistogramInterval > 0 {
		resp.HistogramInterval = qc.HistogramInterval / 1000000
	}
	resp.IndexOptimizeMode = qc.IndexOptimizeModeString()
	resp.SetStats(stats)
	if acc.IsPartial() {
		resp.SetPartial(acc.PartialError())
		resp.NewStartTime = qc.StartTime
		resp.NewEndTime = qc.EndTime
	}
	return resp
}
