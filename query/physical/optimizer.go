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

import (
	"github.com/streamql/streamql/common"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query"
	"github.com/streamql/streamql/query/indexopt"
	"github.com/streamql/streamql/utils"
)

// Rule names.
const (
	JoinReorderRuleName         = "join_reorder"
	JoinLimitPushdownRuleName   = "join_limit_pushdown"
	EnrichmentBroadcastRuleName = "enrichment_broadcast"
	IndexFilterRuleName         = "index_filter"
	IndexOptimizeRuleName       = "index_optimize"
	RemoteScanRuleName          = "remote_scan"
	AnalyzeRuleName             = "analyze"
)

// Context is what physical rules know about the query.
type Context struct {
	Config common.ServerConfig
	// StartTime and EndTime bound the query in microseconds, EndTime exclusive.
	StartTime int64
	EndTime   int64
	// IndexedFields holds the fields of every stream the index can answer.
	IndexedFields     map[metaCom.StreamRef]indexopt.FieldSet
	IndexCondition    indexopt.Condition
	IndexOptimizeMode indexopt.Mode
	Analyze           bool
	// Advanced contributes extra rules run before distribution, may be nil.
	Advanced AdvancedOptimizer
}

// AdvancedOptimizer is an optional source of extra physical rules.
type AdvancedOptimizer interface {
	Rules() []Rule
}

// NewContext collects the optimizer inputs of a compiled query.
func NewContext(qc *query.QueryContext) *Context {
	cfg := qc.Config()
	ctx := &Context{
		Config:            cfg,
		StartTime:         qc.StartTime,
		EndTime:           qc.EndTime,
		IndexedFields:     map[metaCom.StreamRef]indexopt.FieldSet{},
		IndexCondition:    qc.IndexCondition,
		IndexOptimizeMode: qc.IndexOptimizeMode,
	}
	if qc.Request != nil {
		ctx.Analyze = qc.Request.Analyze
	}
	if cfg.Index.InvertedIndexEnabled {
		for _, st := range qc.Streams {
			if fields := st.IndexedFields(); len(fields) > 0 {
				ctx.IndexedFields[st.Ref] = fields
			}
		}
	}
	return ctx
}

// TransformFn rewrites one node. It returns false when nothing changed.
type TransformFn func(Plan) (Plan, bool)

// Rule is a physical optimizer rule.
type Rule interface {
	Name() string
	Optimize(p Plan, ctx *Context) (Plan, bool)
}

type rule struct {
	name string
	fn   func(Plan, *Context) (Plan, bool)
}

// NewRule creates a rule from a plan rewrite.
func NewRule(name string, fn func(Plan, *Context) (Plan, bool)) Rule {
	return &rule{name: name, fn: fn}
}

func (r *rule) Name() string { return r.name }

func (r *rule) Optimize(p Plan, ctx *Context) (Plan, bool) { return r.fn(p, ctx) }

// bottomUp creates a rule applying fn to every node, children first.
func bottomUp(name string, fn func(Plan, *Context) (Plan, bool)) Rule {
	return NewRule(name, func(p Plan, ctx *Context) (Plan, bool) {
		return TransformUp(p, func(n Plan) (Plan, bool) { return fn(n, ctx) })
	})
}

// topDown creates a rule applying fn to every node, parents first.
func topDown(name string, fn func(Plan, *Context) (Plan, bool)) Rule {
	return NewRule(name, func(p Plan, ctx *Context) (Plan, bool) {
		return TransformDown(p, func(n Plan) (Plan, bool) { return fn(n, ctx) })
	})
}

// TransformUp applies fn to every node, children first.
func TransformUp(p Plan, fn TransformFn) (Plan, bool) {
	children, changed := transformChildren(p, func(c Plan) (Plan, bool) { return TransformUp(c, fn) })
	if changed {
		p = p.WithChildren(children)
	}
	if out, ok := fn(p); ok {
		return out, true
	}
	return p, changed
}

// TransformDown applies fn to every node, the node first and then the
// children of the result.
func TransformDown(p Plan, fn TransformFn) (Plan, bool) {
	p, changed := fn(p)
	children, ok := transformChildren(p, func(c Plan) (Plan, bool) { return TransformDown(c, fn) })
	if ok {
		return p.WithChildren(children), true
	}
	return p, changed
}

func transformChildren(p Plan, fn TransformFn) ([]Plan, bool) {
	children := p.Children()
	if len(children) == 0 {
		return nil, false
	}
	out := make([]Plan, len(children))
	changed := false
	for i, c := range children {
		r, ok := fn(c)
		out[i] = r
		changed = changed || ok
	}
	return out, changed
}

// DefaultRules returns the ordered physical rules. Rules of the advanced
// optimizer run after the index rewrites and before distribution.
func DefaultRules(ctx *Context) []Rule {
	rules := []Rule{
		bottomUp(JoinReorderRuleName, reorderJoin),
		topDown(JoinLimitPushdownRuleName, pushLimitIntoJoin),
		NewRule(EnrichmentBroadcastRuleName, broadcastEnrichment),
		bottomUp(IndexFilterRuleName, indexFilter),
		NewRule(IndexOptimizeRuleName, indexOptimize),
	}
	if ctx.Advanced != nil {
		rules = append(rules, ctx.Advanced.Rules()...)
	}
	return append(rules,
		NewRule(RemoteScanRuleName, insertRemoteScans),
		NewRule(AnalyzeRuleName, distributeAnalyze),
	)
}

// Optimize runs the rules in order, each over the output of the previous one.
func Optimize(p Plan, ctx *Context, rules []Rule) Plan {
	for _, r := range rules {
		var changed bool
		if p, changed = r.Optimize(p, ctx); changed {
			utils.GetQueryLogger().Debugf("physical rule %s applied", r.Name())
		}
	}
	return p
}
