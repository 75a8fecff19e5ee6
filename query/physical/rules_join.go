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
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/logical"
)

// reorderJoin swaps the sides of a hash join whose right input aggregates
// and whose left input does not, so the hash table is built from the
// aggregated side.
func reorderJoin(p Plan, _ *Context) (Plan, bool) {
	j, ok := p.(*HashJoinExec)
	if !ok || j.Broadcast || !j.Type.Swappable() {
		return p, false
	}
	if !containsAggregate(j.Right) || containsAggregate(j.Left) {
		return p, false
	}
	return &ProjectionExec{Input: swapJoin(j), Exprs: columnRefs(j.Schema())}, true
}

func containsAggregate(p Plan) bool {
	found := false
	Walk(p, func(n Plan) {
		if _, ok := n.(*AggregateExec); ok {
			found = true
		}
	})
	return found
}

// swapJoin exchanges the join inputs. The output columns come right first.
func swapJoin(j *HashJoinExec) *HashJoinExec {
	on := make([]logical.EquiPair, len(j.On))
	for i, pair := range j.On {
		on[i] = logical.EquiPair{Left: pair.Right, Right: pair.Left}
	}
	return &HashJoinExec{
		Left:      j.Right,
		Right:     j.Left,
		Type:      j.Type.Swapped(),
		On:        on,
		Filter:    j.Filter,
		Mode:      j.Mode,
		Broadcast: j.Broadcast,
	}
}

// columnRefs projects fields as they are.
func columnRefs(fields []Field) []logical.NamedExpr {
	exprs := make([]logical.NamedExpr, len(fields))
	for i, f := range fields {
		exprs[i] = logical.NamedExpr{
			Expr:     &expr.VarRef{Qualifier: f.Relation, Val: f.Name},
			Name:     f.Name,
			Relation: f.Relation,
		}
	}
	return exprs
}

// pushLimitIntoJoin bounds the preserved side of an outer join without
// filter under a limit. Every preserved row yields at least one output row,
// so skip+fetch preserved rows are enough.
func pushLimitIntoJoin(p Plan, _ *Context) (Plan, bool) {
	limit, ok := p.(*GlobalLimitExec)
	if !ok || limit.Fetch <= 0 {
		return p, false
	}
	n := limit.Skip + limit.Fetch
	input := limit.Input
	proj, hasProj := input.(*ProjectionExec)
	if hasProj {
		input = proj.Input
	}

	var joined Plan
	switch j := input.(type) {
	case *HashJoinExec:
		if j.Filter != nil || j.Broadcast {
			return p, false
		}
		c := *j
		if !limitSide(j.Type, &c.Left, &c.Right, n) {
			return p, false
		}
		joined = &c
	case *NestedLoopJoinExec:
		if j.Filter != nil {
			return p, false
		}
		c := *j
		if !limitSide(j.Type, &c.Left, &c.Right, n) {
			return p, false
		}
		joined = &c
	default:
		return p, false
	}
	if hasProj {
		joined = proj.WithChildren([]Plan{joined})
	}
	return limit.WithChildren([]Plan{joined}), true
}

func limitSide(typ logical.JoinType, left, right *Plan, n int64) bool {
	side := left
	switch typ {
	case logical.LeftJoin:
	case logical.RightJoin:
		side = right
	default:
		return false
	}
	if limitedTo(*side, n) {
		return false
	}
	if r, ok := (*side).(*RepartitionExec); ok {
		c := *r
		c.Input = &GlobalLimitExec{Input: r.Input, Fetch: n}
		*side = &c
		return true
	}
	*side = &GlobalLimitExec{Input: *side, Fetch: n}
	return true
}

func limitedTo(p Plan, n int64) bool {
	switch l := p.(type) {
	case *GlobalLimitExec:
		return l.Fetch > 0 && l.Skip+l.Fetch <= n
	case *RepartitionExec:
		return limitedTo(l.Input, n)
	}
	return false
}

// broadcastEnrichment turns the only hash join of a plan into a broadcast
// join when one side reads an enrichment table and the other side only
// scans. Every node then loads the enrichment table and joins its own rows.
func broadcastEnrichment(root Plan, _ *Context) (Plan, bool) {
	var joins []*HashJoinExec
	Walk(root, func(p Plan) {
		if j, ok := p.(*HashJoinExec); ok {
			joins = append(joins, j)
		}
	})
	if len(joins) != 1 {
		return root, false
	}
	target := joins[0]
	return TransformUp(root, func(p Plan) (Plan, bool) {
		if j, ok := p.(*HashJoinExec); ok && j == target {
			return broadcastJoin(j)
		}
		return p, false
	})
}

func broadcastJoin(j *HashJoinExec) (Plan, bool) {
	switch j.Type {
	case logical.InnerJoin, logical.LeftJoin, logical.RightJoin, logical.FullJoin:
	default:
		return j, false
	}
	var restore []Field
	if !IsEnrichmentScan(j.Left) && IsEnrichmentScan(j.Right) && scansOnly(j.Left) {
		restore = j.Schema()
		j = swapJoin(j)
	}
	if !IsEnrichmentScan(j.Left) || !scansOnly(j.Right) {
		return j, false
	}
	c := *j
	c.Left = toEnrich(stripRepartition(j.Left))
	c.Right = stripRepartition(j.Right)
	c.Mode = CollectLeft
	c.Broadcast = true
	if restore != nil {
		return &ProjectionExec{Input: &c, Exprs: columnRefs(restore)}, true
	}
	return &c, true
}

// scansOnly tells whether p reads a regular stream through filters,
// projections and repartitioning only.
func scansOnly(p Plan) bool {
	switch n := p.(type) {
	case *TableScanExec:
		return n.Stream.Type != metaCom.StreamTypeEnrichmentTables
	case *FilterExec, *ProjectionExec, *RepartitionExec, *CoalescePartitionsExec:
		return scansOnly(n.Children()[0])
	}
	return false
}

func stripRepartition(p Plan) Plan {
	if r, ok := p.(*RepartitionExec); ok {
		return stripRepartition(r.Input)
	}
	return p
}

func toEnrich(p Plan) Plan {
	out, _ := TransformUp(p, func(n Plan) (Plan, bool) {
		if scan, ok := n.(*TableScanExec); ok {
			return &EnrichExec{Stream: scan.Stream, Relation: scan.Relation, Fields: scan.Fields}, true
		}
		return n, false
	})
	return out
}
