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

package indexopt

import (
	metaCom "github.com/streamql/streamql/metastore/common"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/sql"
)

// Query is what the classifier looks at: the analyzed query block plus the
// values resolved for it.
type Query struct {
	Stmt    *sql.Select
	Indexed FieldSet
	// StartTime and EndTime bound the query in microseconds.
	StartTime int64
	EndTime   int64
	// HistogramInterval is the resolved bucket width in microseconds.
	HistogramInterval int64
	Limit             int64
	Offset            int64
	// OrderBy is the effective ordering, including a synthesized timestamp
	// order. It defaults to the statement's.
	OrderBy []*sql.OrderItem
}

// classification is the result of Classify.
type classification struct {
	q        Query
	cond     Condition
	residual expr.Expr
}

// Classify decides the single optimize mode that answers the query from the
// index alone, or nil. The first matching shape wins, checked in the order
// select, count, histogram, top-n, distinct.
func Classify(q Query) Mode {
	s := q.Stmt
	if s == nil || len(q.Indexed) == 0 || s.Having != nil {
		return nil
	}
	if _, ok := s.From.(*sql.Table); !ok || sql.HasSubquery(s) {
		return nil
	}
	c := &classification{q: q}
	c.cond, c.residual = Extract(s.Where, q.Indexed)

	for _, check := range []func() Mode{
		c.simpleSelect,
		c.simpleCount,
		c.simpleHistogram,
		c.simpleTopN,
		c.simpleDistinct,
	} {
		if m := check(); m != nil {
			return m
		}
	}
	return nil
}

// reducible tells whether the filter is absent or fully answered by the index.
func (c *classification) reducible() bool {
	return c.q.Stmt.Where == nil || c.residual == nil
}

func (c *classification) simpleSelect() Mode {
	s := c.q.Stmt
	if s.Where == nil || c.residual != nil || c.cond == nil || s.Distinct || len(s.GroupBy) > 0 {
		return nil
	}
	for _, f := range s.Fields {
		if expr.ContainsAggregate(f.Expr) {
			return nil
		}
	}
	orderBy := c.q.OrderBy
	if orderBy == nil {
		orderBy = s.OrderBy
	}
	if len(orderBy) != 1 {
		return nil
	}
	ref, ok := orderBy[0].Expr.(*expr.VarRef)
	if !ok || ref.Val != metaCom.TimestampColumn {
		return nil
	}
	limit := c.q.Limit
	if limit <= 0 {
		return nil
	}
	return &SimpleSelect{Limit: limit + c.q.Offset, Ascending: !orderBy[0].Desc}
}

func (c *classification) simpleCount() Mode {
	s := c.q.Stmt
	if !c.reducible() || s.Distinct || len(s.GroupBy) > 0 || len(s.Fields) != 1 {
		return nil
	}
	if !expr.IsCountStar(s.Fields[0].Expr) {
		return nil
	}
	return &SimpleCount{}
}

func (c *classification) simpleHistogram() Mode {
	s := c.q.Stmt
	if !c.reducible() || s.Distinct || len(s.Fields) != 2 || c.q.HistogramInterval <= 0 ||
		c.q.EndTime <= c.q.StartTime {
		return nil
	}
	call, ok := expr.IsCall(s.Fields[0].Expr, expr.HistogramCallName)
	if !ok || len(call.Args) == 0 || !expr.IsCountStar(s.Fields[1].Expr) {
		return nil
	}
	if ref, ok := call.Args[0].(*expr.VarRef); !ok || ref.Val != metaCom.TimestampColumn {
		return nil
	}
	if len(s.GroupBy) != 1 || !refersTo(s.GroupBy[0], s.Fields[0]) {
		return nil
	}
	for _, o := range s.OrderBy {
		if !refersTo(o.Expr, s.Fields[0]) {
			return nil
		}
	}
	width := c.q.HistogramInterval
	minTs := queryCom.BucketStart(c.q.StartTime, width)
	return &SimpleHistogram{
		MinTs:       minTs,
		BucketWidth: width,
		NumBuckets:  queryCom.NumBuckets(minTs, c.q.EndTime, width),
	}
}

func (c *classification) simpleTopN() Mode {
	s := c.q.Stmt
	if !c.reducible() || s.Distinct || len(s.Fields) != 2 || c.q.Limit <= 0 {
		return nil
	}
	field, ok := c.indexedRef(s.Fields[0])
	if !ok || !expr.IsCountStar(s.Fields[1].Expr) {
		return nil
	}
	if len(s.GroupBy) != 1 || !refersTo(s.GroupBy[0], s.Fields[0]) {
		return nil
	}
	if len(s.OrderBy) != 1 || !refersTo(s.OrderBy[0].Expr, s.Fields[1]) {
		return nil
	}
	return &SimpleTopN{Field: field, Limit: c.q.Limit + c.q.Offset, Ascending: !s.OrderBy[0].Desc}
}

func (c *classification) simpleDistinct() Mode {
	s := c.q.Stmt
	if len(s.Fields) != 1 || c.q.Limit <= 0 {
		return nil
	}
	field, ok := c.indexedRef(s.Fields[0])
	if !ok {
		return nil
	}
	grouped := len(s.GroupBy) == 1 && refersTo(s.GroupBy[0], s.Fields[0])
	if !grouped && !(s.Distinct && len(s.GroupBy) == 0) {
		return nil
	}
	if len(s.OrderBy) != 1 || !refersTo(s.OrderBy[0].Expr, s.Fields[0]) {
		return nil
	}
	if s.Where != nil {
		if c.residual != nil || !isStringMatchOn(c.cond, field) {
			return nil
		}
	}
	return &SimpleDistinct{Field: field, Limit: c.q.Limit + c.q.Offset, Ascending: !s.OrderBy[0].Desc}
}

func (c *classification) indexedRef(f *sql.Field) (string, bool) {
	ref, ok := f.Expr.(*expr.VarRef)
	if !ok || !c.q.Indexed[ref.Val] {
		return "", false
	}
	return ref.Val, true
}

// isStringMatchOn tells whether cond is one match predicate on field.
func isStringMatchOn(cond Condition, field string) bool {
	switch c := cond.(type) {
	case *Match:
		return c.Field == field
	case *FuzzyMatch:
		return c.Field == field
	}
	return false
}

// refersTo tells whether e names the projected field, by alias or by expression.
func refersTo(e expr.Expr, f *sql.Field) bool {
	if ref, ok := e.(*expr.VarRef); ok && ref.Qualifier == "" && f.Alias != "" && ref.Val == f.Alias {
		return true
	}
	return expr.Equal(e, f.Expr)
}
