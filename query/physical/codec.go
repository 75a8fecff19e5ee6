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
	"github.com/golang/snappy"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/indexopt"
	"github.com/streamql/streamql/query/logical"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Node kinds on the wire.
const (
	kindTableScan      = "table_scan"
	kindFilter         = "filter"
	kindProjection     = "projection"
	kindAggregate      = "aggregate"
	kindHashJoin       = "hash_join"
	kindNestedLoopJoin = "nested_loop_join"
	kindSort           = "sort"
	kindSortMerge      = "sort_preserving_merge"
	kindGlobalLimit    = "global_limit"
	kindUnion          = "union"
	kindCoalesce       = "coalesce_partitions"
	kindRepartition    = "repartition"
	kindDeduplication  = "deduplication"
	kindEnrich         = "enrich"
	kindIndexOptimize  = "index_optimize"
	kindRemoteScan     = "remote_scan"
	kindEmpty          = "empty"
	kindAnalyze        = "analyze"
)

type wireNode struct {
	Kind     string      `json:"kind"`
	Children []*wireNode `json:"children,omitempty"`

	Stream   *metaCom.StreamRef `json:"stream,omitempty"`
	Relation string             `json:"relation,omitempty"`
	Fields   []metaCom.Field    `json:"fields,omitempty"`
	Output   []Field            `json:"output,omitempty"`
	Files    []metaCom.FileKey  `json:"files,omitempty"`

	Predicate *expr.WireExpr   `json:"predicate,omitempty"`
	Exprs     []*expr.WireExpr `json:"exprs,omitempty"`
	Named     []*wireNamed     `json:"named,omitempty"`
	GroupBy   []*wireNamed     `json:"group_by,omitempty"`
	Keys      []*wireSortKey   `json:"keys,omitempty"`
	On        []*wirePair      `json:"on,omitempty"`

	IndexCondition *indexopt.WireCondition `json:"index_condition,omitempty"`
	IndexMode      *indexopt.WireMode      `json:"index_mode,omitempty"`

	Mode       int   `json:"mode,omitempty"`
	JoinType   int   `json:"join_type,omitempty"`
	Skip       int64 `json:"skip,omitempty"`
	Fetch      int64 `json:"fetch,omitempty"`
	Partitions int   `json:"partitions,omitempty"`
	StartTime  int64 `json:"start_time,omitempty"`
	EndTime    int64 `json:"end_time,omitempty"`
	Flag       bool  `json:"flag,omitempty"`
}

type wireNamed struct {
	Expr     *expr.WireExpr `json:"expr"`
	Name     string         `json:"name"`
	Relation string         `json:"relation,omitempty"`
}

type wireSortKey struct {
	Expr *expr.WireExpr `json:"expr"`
	Desc bool           `json:"desc,omitempty"`
}

type wirePair struct {
	Left  *expr.WireExpr `json:"left"`
	Right *expr.WireExpr `json:"right"`
}

// Encode serializes a plan into snappy compressed JSON.
func Encode(p Plan) ([]byte, error) {
	w, err := encodePlan(p)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal physical plan")
	}
	return snappy.Encode(nil, data), nil
}

// Decode deserializes a plan produced by Encode.
func Decode(b []byte) (Plan, error) {
	data, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress physical plan")
	}
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal physical plan")
	}
	return decodePlan(&w)
}

// encoder collects the first error of a sequence of conversions.
type encoder struct {
	err error
}

func (e *encoder) expr(x expr.Expr) *expr.WireExpr {
	if e.err != nil {
		return nil
	}
	w, err := expr.Encode(x)
	e.err = err
	return w
}

func (e *encoder) exprs(xs []expr.Expr) []*expr.WireExpr {
	var out []*expr.WireExpr
	for _, x := range xs {
		out = append(out, e.expr(x))
	}
	return out
}

func (e *encoder) named(ns []logical.NamedExpr) []*wireNamed {
	var out []*wireNamed
	for _, n := range ns {
		out = append(out, &wireNamed{Expr: e.expr(n.Expr), Name: n.Name, Relation: n.Relation})
	}
	return out
}

func (e *encoder) keys(ks []logical.SortKey) []*wireSortKey {
	var out []*wireSortKey
	for _, k := range ks {
		out = append(out, &wireSortKey{Expr: e.expr(k.Expr), Desc: k.Desc})
	}
	return out
}

func (e *encoder) pairs(ps []logical.EquiPair) []*wirePair {
	var out []*wirePair
	for _, p := range ps {
		out = append(out, &wirePair{Left: e.expr(p.Left), Right: e.expr(p.Right)})
	}
	return out
}

func encodePlan(p Plan) (*wireNode, error) {
	enc := &encoder{}
	w := &wireNode{}
	switch n := p.(type) {
	case *TableScanExec:
		stream := n.Stream
		w.Kind, w.Stream, w.Relation, w.Fields, w.Files = kindTableScan, &stream, n.Relation, n.Fields, n.Files
		w.Exprs = enc.exprs(n.Filters)
		w.IndexCondition = indexopt.EncodeCondition(n.IndexCondition)
		w.IndexMode = indexopt.EncodeMode(n.IndexOptimizeMode)
	case *FilterExec:
		w.Kind, w.Predicate = kindFilter, enc.expr(n.Predicate)
	case *ProjectionExec:
		w.Kind, w.Named = kindProjection, enc.named(n.Exprs)
	case *AggregateExec:
		w.Kind, w.Mode = kindAggregate, int(n.Mode)
		w.GroupBy, w.Named = enc.named(n.GroupBy), enc.named(n.Aggs)
	case *HashJoinExec:
		w.Kind, w.JoinType, w.Mode, w.Flag = kindHashJoin, int(n.Type), int(n.Mode), n.Broadcast
		w.On, w.Predicate = enc.pairs(n.On), enc.expr(n.Filter)
	case *NestedLoopJoinExec:
		w.Kind, w.JoinType, w.Predicate = kindNestedLoopJoin, int(n.Type), enc.expr(n.Filter)
	case *SortExec:
		w.Kind, w.Keys, w.Fetch = kindSort, enc.keys(n.Keys), n.Fetch
	case *SortPreservingMergeExec:
		w.Kind, w.Keys, w.Fetch = kindSortMerge, enc.keys(n.Keys), n.Fetch
	case *GlobalLimitExec:
		w.Kind, w.Skip, w.Fetch = kindGlobalLimit, n.Skip, n.Fetch
	case *UnionExec:
		w.Kind = kindUnion
	case *CoalescePartitionsExec:
		w.Kind = kindCoalesce
	case *RepartitionExec:
		w.Kind, w.Partitions, w.Exprs = kindRepartition, n.Partitions, enc.exprs(n.Keys)
	case *DeduplicationExec:
		w.Kind, w.Fetch, w.Exprs = kindDeduplication, n.Fetch, enc.exprs(n.Keys)
	case *EnrichExec:
		stream := n.Stream
		w.Kind, w.Stream, w.Relation, w.Fields = kindEnrich, &stream, n.Relation, n.Fields
	case *IndexOptimizeExec:
		stream := n.Stream
		w.Kind, w.Stream, w.Relation, w.Output, w.Files = kindIndexOptimize, &stream, n.Relation, n.Output, n.Files
		w.IndexCondition = indexopt.EncodeCondition(n.Condition)
		w.IndexMode = indexopt.EncodeMode(n.Mode)
		w.StartTime, w.EndTime = n.StartTime, n.EndTime
	case *RemoteScanExec:
		stream := n.Stream
		w.Kind, w.Stream, w.Flag = kindRemoteScan, &stream, n.Analyze
	case *EmptyExec:
		w.Kind, w.Flag, w.Output = kindEmpty, n.ProduceOneRow, n.Output
	case *AnalyzeExec:
		w.Kind, w.Flag = kindAnalyze, n.Verbose
	default:
		return nil, errors.Errorf("cannot encode plan node %T", p)
	}
	if enc.err != nil {
		return nil, errors.Wrapf(enc.err, "cannot encode %s", p)
	}
	for _, c := range p.Children() {
		child, err := encodePlan(c)
		if err != nil {
			return nil, err
		}
		w.Children = append(w.Children, child)
	}
	return w, nil
}

// decoder collects the first error of a sequence of conversions.
type decoder struct {
	err error
}

func (d *decoder) expr(w *expr.WireExpr) expr.Expr {
	if d.err != nil {
		return nil
	}
	e, err := expr.Decode(w)
	d.err = err
	return e
}

func (d *decoder) exprs(ws []*expr.WireExpr) []expr.Expr {
	var out []expr.Expr
	for _, w := range ws {
		out = append(out, d.expr(w))
	}
	return out
}

func (d *decoder) named(ws []*wireNamed) []logical.NamedExpr {
	var out []logical.NamedExpr
	for _, w := range ws {
		out = append(out, logical.NamedExpr{Expr: d.expr(w.Expr), Name: w.Name, Relation: w.Relation})
	}
	return out
}

func (d *decoder) keys(ws []*wireSortKey) []logical.SortKey {
	var out []logical.SortKey
	for _, w := range ws {
		out = append(out, logical.SortKey{Expr: d.expr(w.Expr), Desc: w.Desc})
	}
	return out
}

func (d *decoder) pairs(ws []*wirePair) []logical.EquiPair {
	var out []logical.EquiPair
	for _, w := range ws {
		out = append(out, logical.EquiPair{Left: d.expr(w.Left), Right: d.expr(w.Right)})
	}
	return out
}

func (d *decoder) condition(w *indexopt.WireCondition) indexopt.Condition {
	if d.err != nil {
		return nil
	}
	c, err := indexopt.DecodeCondition(w)
	d.err = err
	return c
}

func (d *decoder) mode(w *indexopt.WireMode) indexopt.Mode {
	if d.err != nil {
		return nil
	}
	m, err := indexopt.DecodeMode(w)
	d.err = err
	return m
}

// arity of every node kind, -1 for any number of children
var arities = map[string]int{
	kindTableScan: 0, kindFilter: 1, kindProjection: 1, kindAggregate: 1, kindHashJoin: 2,
	kindNestedLoopJoin: 2, kindSort: 1, kindSortMerge: 1, kindGlobalLimit: 1, kindUnion: -1,
	kindCoalesce: 1, kindRepartition: 1, kindDeduplication: 1, kindEnrich: 0, kindIndexOptimize: 0,
	kindRemoteScan: 1, kindEmpty: 0, kindAnalyze: 1,
}

func decodePlan(w *wireNode) (Plan, error) {
	arity, ok := arities[w.Kind]
	if !ok {
		return nil, errors.Errorf("unknown plan node kind %q", w.Kind)
	}
	if (arity >= 0 && len(w.Children) != arity) || (arity < 0 && len(w.Children) == 0) {
		return nil, errors.Errorf("plan node %s has %d children", w.Kind, len(w.Children))
	}
	switch w.Kind {
	case kindTableScan, kindEnrich, kindIndexOptimize, kindRemoteScan:
		if w.Stream == nil {
			return nil, errors.Errorf("plan node %s without stream", w.Kind)
		}
	}
	children := make([]Plan, len(w.Children))
	for i, c := range w.Children {
		child, err := decodePlan(c)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}

	d := &decoder{}
	var p Plan
	switch w.Kind {
	case kindTableScan:
		p = &TableScanExec{
			Stream:            *w.Stream,
			Relation:          w.Relation,
			Fields:            w.Fields,
			Filters:           d.exprs(w.Exprs),
			IndexCondition:    d.condition(w.IndexCondition),
			IndexOptimizeMode: d.mode(w.IndexMode),
			Files:             w.Files,
		}
	case kindFilter:
		p = &FilterExec{Input: children[0], Predicate: d.expr(w.Predicate)}
	case kindProjection:
		p = &ProjectionExec{Input: children[0], Exprs: d.named(w.Named)}
	case kindAggregate:
		p = &AggregateExec{
			Input:   children[0],
			Mode:    AggregateMode(w.Mode),
			GroupBy: d.named(w.GroupBy),
			Aggs:    d.named(w.Named),
		}
	case kindHashJoin:
		p = &HashJoinExec{
			Left:      children[0],
			Right:     children[1],
			Type:      logical.JoinType(w.JoinType),
			On:        d.pairs(w.On),
			Filter:    d.expr(w.Predicate),
			Mode:      PartitionMode(w.Mode),
			Broadcast: w.Flag,
		}
	case kindNestedLoopJoin:
		p = &NestedLoopJoinExec{
			Left:   children[0],
			Right:  children[1],
			Type:   logical.JoinType(w.JoinType),
			Filter: d.expr(w.Predicate),
		}
	case kindSort:
		p = &SortExec{Input: children[0], Keys: d.keys(w.Keys), Fetch: w.Fetch}
	case kindSortMerge:
		p = &SortPreservingMergeExec{Input: children[0], Keys: d.keys(w.Keys), Fetch: w.Fetch}
	case kindGlobalLimit:
		p = &GlobalLimitExec{Input: children[0], Skip: w.Skip, Fetch: w.Fetch}
	case kindUnion:
		p = &UnionExec{Inputs: children}
	case kindCoalesce:
		p = &CoalescePartitionsExec{Input: children[0]}
	case kindRepartition:
		p = &RepartitionExec{Input: children[0], Partitions: w.Partitions, Keys: d.exprs(w.Exprs)}
	case kindDeduplication:
		p = &DeduplicationExec{Input: children[0], Keys: d.exprs(w.Exprs), Fetch: w.Fetch}
	case kindEnrich:
		p = &EnrichExec{Stream: *w.Stream, Relation: w.Relation, Fields: w.Fields}
	case kindIndexOptimize:
		p = &IndexOptimizeExec{
			Stream:    *w.Stream,
			Relation:  w.Relation,
			Mode:      d.mode(w.IndexMode),
			Condition: d.condition(w.IndexCondition),
			Output:    w.Output,
			StartTime: w.StartTime,
			EndTime:   w.EndTime,
			Files:     w.Files,
		}
	case kindRemoteScan:
		p = &RemoteScanExec{Input: children[0], Stream: *w.Stream, Analyze: w.Flag}
	case kindEmpty:
		p = &EmptyExec{ProduceOneRow: w.Flag, Output: w.Output}
	case kindAnalyze:
		p = &AnalyzeExec{Input: children[0], Verbose: w.Flag}
	}
	if d.err != nil {
		return nil, errors.Wrapf(d.err, "cannot decode %s", w.Kind)
	}
	return p, nil
}
