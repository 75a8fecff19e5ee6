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
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/logical"
	"github.com/streamql/streamql/query/physical"
)

// joiner joins the rows of a build side (the left input) with the rows of a
// probe side (the right input).
type joiner struct {
	typ        logical.JoinType
	filter     evalFn
	leftWidth  int
	rightWidth int
	// emitBuild emits the unmatched build rows of left and full joins.
	emitBuild bool
}

func (j *joiner) combine(left, right Row) Row {
	row := make(Row, 0, j.leftWidth+j.rightWidth)
	if left == nil {
		left = make(Row, j.leftWidth)
	}
	if right == nil {
		right = make(Row, j.rightWidth)
	}
	return append(append(row, left...), right...)
}

// join probes every probe row against the build rows candidates returns.
func (j *joiner) join(build, probe []Row, candidates func(Row) ([]int, error)) ([]Row, error) {
	var out []Row
	matched := make([]bool, len(build))
	for _, p := range probe {
		found := false
		idx, err := candidates(p)
		if err != nil {
			return nil, err
		}
		for _, b := range idx {
			row := j.combine(build[b], p)
			if j.filter != nil {
				v, err := j.filter(row)
				if err != nil {
					return nil, err
				}
				if !isTrue(v) {
					continue
				}
			}
			found = true
			matched[b] = true
			switch j.typ {
			case logical.LeftSemiJoin, logical.LeftAntiJoin:
			default:
				out = append(out, row)
			}
		}
		if !found && (j.typ == logical.RightJoin || j.typ == logical.FullJoin) {
			out = append(out, j.combine(nil, p))
		}
	}
	for b, row := range build {
		switch j.typ {
		case logical.LeftJoin, logical.FullJoin:
			if !matched[b] && j.emitBuild {
				out = append(out, j.combine(row, nil))
			}
		case logical.LeftSemiJoin:
			if matched[b] {
				out = append(out, row)
			}
		case logical.LeftAntiJoin:
			if !matched[b] {
				out = append(out, row)
			}
		}
	}
	return out, nil
}

// equiKeys compiles the join keys of both sides. A pair written in the
// order of the opposite sides is flipped.
func (c *Context) equiKeys(pairs []logical.EquiPair, left, right []physical.Field) ([]evalFn, []evalFn, error) {
	lc, rc := c.compiler(left), c.compiler(right)
	lk := make([]evalFn, len(pairs))
	rk := make([]evalFn, len(pairs))
	for i, pair := range pairs {
		l, lerr := lc.compile(pair.Left)
		r, rerr := rc.compile(pair.Right)
		if lerr != nil || rerr != nil {
			var err error
			if l, err = lc.compile(pair.Right); err != nil {
				return nil, nil, firstError(lerr, rerr)
			}
			if r, err = rc.compile(pair.Left); err != nil {
				return nil, nil, firstError(lerr, rerr)
			}
		}
		lk[i], rk[i] = l, r
	}
	return lk, rk, nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// keyOf evaluates join keys, ok is false when any of them is NULL.
func keyOf(row Row, keys []evalFn) (string, bool, error) {
	values := make([]interface{}, len(keys))
	for i, k := range keys {
		v, err := k(row)
		if err != nil {
			return "", false, err
		}
		if v == nil {
			return "", false, nil
		}
		if iv, isInt := v.(int64); isInt {
			// join keys compare numerically across integer and float columns
			v = float64(iv)
		}
		values[i] = v
	}
	return rowKey(values), true, nil
}

func (c *Context) joinFilter(filter expr.Expr, left, right []physical.Field) (evalFn, error) {
	if filter == nil {
		return nil, nil
	}
	fields := append(append([]physical.Field{}, left...), right...)
	return c.compiler(fields).compile(filter)
}

func (c *Context) executeHashJoin(ctx context.Context, n *physical.HashJoinExec) []Pipeline {
	leftFields, rightFields := n.Left.Schema(), n.Right.Schema()
	leftKeys, rightKeys, err := c.equiKeys(n.On, leftFields, rightFields)
	if err != nil {
		return []Pipeline{errorPipeline(err)}
	}
	filter, err := c.joinFilter(n.Filter, leftFields, rightFields)
	if err != nil {
		return []Pipeline{errorPipeline(err)}
	}
	j := &joiner{
		typ:        n.Type,
		filter:     filter,
		leftWidth:  len(leftFields),
		rightWidth: len(rightFields),
		emitBuild:  !n.Broadcast || c.EnrichMode,
	}
	output := n.Schema()
	run := func(left, right Pipeline) Pipeline {
		return newLazyPipeline(func(ctx context.Context) ([]arrow.Record, error) {
			build, err := drainRows(ctx, left)
			if err != nil {
				return nil, err
			}
			table := map[string][]int{}
			for i, row := range build {
				k, ok, err := keyOf(row, leftKeys)
				if err != nil {
					return nil, err
				}
				if ok {
					table[k] = append(table[k], i)
				}
			}
			probe, err := drainRows(ctx, right)
			if err != nil {
				return nil, err
			}
			rows, err := j.join(build, probe, func(p Row) ([]int, error) {
				k, ok, err := keyOf(p, rightKeys)
				if err != nil || !ok {
					return nil, err
				}
				return table[k], nil
			})
			if err != nil {
				return nil, err
			}
			return BuildBatches(c.Allocator, output, rows, c.BatchSize), nil
		}, left, right)
	}
	if n.Mode == physical.Partitioned {
		lp, rp := c.execute(ctx, n.Left), c.execute(ctx, n.Right)
		if len(lp) == len(rp) {
			parts := make([]Pipeline, len(lp))
			for i := range lp {
				parts[i] = run(lp[i], rp[i])
			}
			return parts
		}
		return []Pipeline{run(c.coalesce(lp), c.coalesce(rp))}
	}
	return []Pipeline{run(c.single(ctx, n.Left), c.single(ctx, n.Right))}
}

func (c *Context) executeNestedLoopJoin(ctx context.Context, n *physical.NestedLoopJoinExec) Pipeline {
	leftFields, rightFields := n.Left.Schema(), n.Right.Schema()
	filter, err := c.joinFilter(n.Filter, leftFields, rightFields)
	if err != nil {
		return errorPipeline(err)
	}
	j := &joiner{
		typ:        n.Type,
		filter:     filter,
		leftWidth:  len(leftFields),
		rightWidth: len(rightFields),
		emitBuild:  true,
	}
	output := n.Schema()
	left, right := c.single(ctx, n.Left), c.single(ctx, n.Right)
	return newLazyPipeline(func(ctx context.Context) ([]arrow.Record, error) {
		build, err := drainRows(ctx, left)
		if err != nil {
			return nil, err
		}
		probe, err := drainRows(ctx, right)
		if err != nil {
			return nil, err
		}
		all := make([]int, len(build))
		for i := range all {
			all[i] = i
		}
		rows, err := j.join(build, probe, func(Row) ([]int, error) { return all, nil })
		if err != nil {
			return nil, err
		}
		return BuildBatches(c.Allocator, output, rows, c.BatchSize), nil
	}, left, right)
}

// drainRows reads every row of p.
func drainRows(ctx context.Context, p Pipeline) ([]Row, error) {
	batches, err := drain(ctx, p)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for _, b := range batches {
		rows = append(rows, Rows(b)...)
	}
	return rows, nil
}
