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

package physical

import metaCom "github.com/streamql/streamql/metastore/common"

// insertRemoteScans cuts the plan where the work leaves the cluster: every
// maximal subtree the followers can run on their own shard is wrapped in a
// RemoteScanExec. Sorts, limits and decomposable aggregates right above such
// a subtree run on both sides.
func insertRemoteScans(root Plan, _ *Context) (Plan, bool) {
	changed := false
	out := distribute(root, &changed)
	return out, changed
}

func distribute(p Plan, changed *bool) Plan {
	if pushable(p) {
		*changed = true
		return &CoalescePartitionsExec{Input: remote(p)}
	}
	switch n := p.(type) {
	case *RemoteScanExec:
		return p
	case *SortExec:
		if pushable(n.Input) {
			*changed = true
			return &SortPreservingMergeExec{Input: remote(n), Keys: n.Keys, Fetch: n.Fetch}
		}
	case *GlobalLimitExec:
		if pushable(n.Input) && n.Fetch > 0 {
			*changed = true
			local := &GlobalLimitExec{Input: n.Input, Fetch: n.Skip + n.Fetch}
			return &GlobalLimitExec{
				Input: &CoalescePartitionsExec{Input: remote(local)},
				Skip:  n.Skip,
				Fetch: n.Fetch,
			}
		}
	case *AggregateExec:
		if n.Mode == AggregateSingle && pushable(n.Input) && decomposable(n) {
			*changed = true
			partial := &AggregateExec{Input: n.Input, Mode: AggregatePartial, GroupBy: n.GroupBy, Aggs: n.Aggs}
			return &AggregateExec{
				Input:   &CoalescePartitionsExec{Input: remote(partial)},
				Mode:    AggregateFinal,
				GroupBy: columnRefs(namedFields(n.GroupBy, n.Input.Schema())),
				Aggs:    n.Aggs,
			}
		}
	}
	children := p.Children()
	if len(children) == 0 {
		return p
	}
	out := make([]Plan, len(children))
	for i, c := range children {
		out[i] = distribute(c, changed)
	}
	return p.WithChildren(out)
}

// pushable tells whether every node of p can run on a follower over its own
// files without seeing the rows of other nodes.
func pushable(p Plan) bool {
	switch n := p.(type) {
	case *TableScanExec:
		return !IsEnrichmentScan(n)
	case *IndexOptimizeExec:
		return true
	case *FilterExec:
		return pushable(n.Input)
	case *ProjectionExec:
		return pushable(n.Input)
	case *HashJoinExec:
		return n.Broadcast && IsEnrichmentScan(n.Left) && pushable(n.Right)
	}
	return false
}

func decomposable(a *AggregateExec) bool {
	for _, agg := range a.Aggs {
		if !Decomposable(agg.Expr) {
			return false
		}
	}
	return true
}

func remote(p Plan) *RemoteScanExec {
	return &RemoteScanExec{Input: p, Stream: StreamOf(p)}
}

// StreamOf returns the stream a distributed subtree reads its files from.
func StreamOf(p Plan) (ref metaCom.StreamRef) {
	found := false
	Walk(p, func(n Plan) {
		if found {
			return
		}
		switch s := n.(type) {
		case *TableScanExec:
			ref, found = s.Stream, s.Stream.Type != metaCom.StreamTypeEnrichmentTables
		case *IndexOptimizeExec:
			ref, found = s.Stream, true
		}
	})
	return ref
}

// distributeAnalyze wraps the plan to report metrics, with every remote
// scan collecting the metrics of its followers.
func distributeAnalyze(root Plan, ctx *Context) (Plan, bool) {
	if !ctx.Analyze {
		return root, false
	}
	p, _ := TransformUp(root, func(n Plan) (Plan, bool) {
		if r, ok := n.(*RemoteScanExec); ok && !r.Analyze {
			c := *r
			c.Analyze = true
			return &c, true
		}
		return n, false
	})
	return &AnalyzeExec{Input: p}, true
}
