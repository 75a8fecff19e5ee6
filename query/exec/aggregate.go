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
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/influxdata/tdigest"
	metaCom "github.com/streamql/streamql/metastore/common"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/logical"
	"github.com/streamql/streamql/query/physical"
)

// accumulator folds the rows of one group into an aggregate value.
type accumulator interface {
	// update adds the evaluated arguments of one input row, ts orders
	// first_value and last_value.
	update(args []interface{}, ts int64) error
	// merge adds the partial states of one input row.
	merge(states []interface{}) error
	// states are the partial states, in physical.PartialStates order.
	states() []interface{}
	result() interface{}
}

// aggregateFn is a compiled aggregate of an AggregateExec.
type aggregateFn struct {
	args []evalFn
	// input columns holding the partial states in final mode
	states []int
	new    func() accumulator
}

type countAcc struct {
	star bool
	n    int64
}

func (a *countAcc) update(args []interface{}, _ int64) error {
	if a.star || args[0] != nil {
		a.n++
	}
	return nil
}

func (a *countAcc) merge(states []interface{}) error {
	n, _ := toInt64(states[0])
	a.n += n
	return nil
}

func (a *countAcc) states() []interface{} { return []interface{}{a.n} }

func (a *countAcc) result() interface{} { return a.n }

type countDistinctAcc struct {
	seen map[string]struct{}
}

func (a *countDistinctAcc) update(args []interface{}, _ int64) error {
	if args[0] != nil {
		a.seen[valueKey(args[0])] = struct{}{}
	}
	return nil
}

func (a *countDistinctAcc) merge([]interface{}) error {
	return queryCom.ErrInternal("count distinct has no partial state")
}

func (a *countDistinctAcc) states() []interface{} { return nil }

func (a *countDistinctAcc) result() interface{} { return int64(len(a.seen)) }

// sumAcc stays integral until it sees a float.
type sumAcc struct {
	seen    bool
	isFloat bool
	i       int64
	f       float64
}

func (a *sumAcc) add(v interface{}) error {
	if v == nil {
		return nil
	}
	a.seen = true
	if i, ok := v.(int64); ok && !a.isFloat {
		a.i += i
		return nil
	}
	f, ok := toFloat64(v)
	if !ok {
		return queryCom.ErrSQLNotValid("sum of non numeric value %v", v)
	}
	if !a.isFloat {
		a.isFloat = true
		a.f = float64(a.i)
	}
	a.f += f
	return nil
}

func (a *sumAcc) update(args []interface{}, _ int64) error { return a.add(args[0]) }

func (a *sumAcc) merge(states []interface{}) error { return a.add(states[0]) }

func (a *sumAcc) states() []interface{} { return []interface{}{a.result()} }

func (a *sumAcc) result() interface{} {
	switch {
	case !a.seen:
		return nil
	case a.isFloat:
		return a.f
	}
	return a.i
}

type extremumAcc struct {
	max bool
	v   interface{}
}

func (a *extremumAcc) add(v interface{}) {
	if v == nil {
		return
	}
	if a.v == nil {
		a.v = v
		return
	}
	if cmp, ok := compareValues(v, a.v); ok && (cmp > 0) == a.max && cmp != 0 {
		a.v = v
	}
}

func (a *extremumAcc) update(args []interface{}, _ int64) error {
	a.add(args[0])
	return nil
}

func (a *extremumAcc) merge(states []interface{}) error {
	a.add(states[0])
	return nil
}

func (a *extremumAcc) states() []interface{} { return []interface{}{a.v} }

func (a *extremumAcc) result() interface{} { return a.v }

type avgAcc struct {
	sum float64
	n   int64
}

func (a *avgAcc) update(args []interface{}, _ int64) error {
	if args[0] == nil {
		return nil
	}
	f, ok := toFloat64(args[0])
	if !ok {
		return queryCom.ErrSQLNotValid("avg of non numeric value %v", args[0])
	}
	a.sum += f
	a.n++
	return nil
}

func (a *avgAcc) merge(states []interface{}) error {
	sum, _ := toFloat64(states[0])
	n, _ := toInt64(states[1])
	a.sum += sum
	a.n += n
	return nil
}

func (a *avgAcc) states() []interface{} { return []interface{}{a.sum, a.n} }

func (a *avgAcc) result() interface{} {
	if a.n == 0 {
		return nil
	}
	return a.sum / float64(a.n)
}

// positionalAcc keeps the value of the earliest or latest row.
type positionalAcc struct {
	last bool
	seen bool
	ts   int64
	v    interface{}
}

func (a *positionalAcc) update(args []interface{}, ts int64) error {
	if !a.seen || (a.last && ts >= a.ts) || (!a.last && ts < a.ts) {
		a.seen, a.ts, a.v = true, ts, args[0]
	}
	return nil
}

func (a *positionalAcc) merge([]interface{}) error {
	return queryCom.ErrInternal("positional aggregates have no partial state")
}

func (a *positionalAcc) states() []interface{} { return nil }

func (a *positionalAcc) result() interface{} { return a.v }

// percentileAcc approximates a continuous percentile with a t-digest.
type percentileAcc struct {
	p      float64
	n      int64
	digest *tdigest.TDigest
}

func (a *percentileAcc) update(args []interface{}, _ int64) error {
	if args[0] == nil {
		return nil
	}
	f, ok := toFloat64(args[0])
	if !ok {
		return queryCom.ErrSQLNotValid("percentile of non numeric value %v", args[0])
	}
	a.digest.Add(f, 1)
	a.n++
	return nil
}

func (a *percentileAcc) merge([]interface{}) error {
	return queryCom.ErrInternal("percentiles have no partial state")
}

func (a *percentileAcc) states() []interface{} { return nil }

func (a *percentileAcc) result() interface{} {
	if a.n == 0 {
		return nil
	}
	return a.digest.Quantile(a.p)
}

type distinctSketchAcc struct {
	hll queryCom.HLL
}

func (a *distinctSketchAcc) update(args []interface{}, _ int64) error {
	if args[0] != nil {
		a.hll.Add(xxhash.Sum64String(valueKey(args[0])))
	}
	return nil
}

func (a *distinctSketchAcc) merge(states []interface{}) error {
	if states[0] == nil {
		return nil
	}
	other, err := queryCom.DecodeHLLString(toString(states[0]))
	if err != nil {
		return err
	}
	a.hll.Merge(other)
	return nil
}

func (a *distinctSketchAcc) states() []interface{} { return []interface{}{a.hll.EncodeString()} }

func (a *distinctSketchAcc) result() interface{} { return int64(a.hll.Compute()) }

// valueKey renders a value for hashing and equality, keeping its type apart.
func valueKey(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "n"
	case int64:
		return "i" + strconv.FormatInt(v, 10)
	case float64:
		return "f" + strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return "b" + strconv.FormatBool(v)
	}
	return "s" + toString(v)
}

// rowKey renders the values of a group or join key.
func rowKey(values []interface{}) string {
	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = valueKey(v)
	}
	return strings.Join(keys, "\x00")
}

// compileAggregate builds the aggregate a over fields. Final aggregates read
// their partial states, the others evaluate their arguments.
func (c *compiler) compileAggregate(a logical.NamedExpr, mode physical.AggregateMode) (*aggregateFn, error) {
	call, ok := a.Expr.(*expr.Call)
	if !ok || !expr.IsAggregateCall(call) {
		return nil, queryCom.ErrInternal("%s is not an aggregate", a.Expr.String())
	}
	name := strings.ToLower(call.Name)
	fn := &aggregateFn{}
	if mode == physical.AggregateFinal {
		for _, state := range physical.PartialStates(a, c.fields) {
			i := physical.FieldIndex(c.fields, &expr.VarRef{Val: state.Name})
			if i < 0 {
				return nil, queryCom.ErrInternal("partial state %s not found", state.Name)
			}
			fn.states = append(fn.states, i)
		}
	}
	args := call.Args
	switch name {
	case expr.ApproxPercentileCallName, expr.PercentileContCallName:
		if len(call.WithinGroup) != 1 || len(call.Args) != 1 {
			return nil, queryCom.ErrSQLNotValid("%s needs a percentile and one WITHIN GROUP key", call.String())
		}
		lit, ok := call.Args[0].(*expr.NumberLiteral)
		if !ok || lit.Val < 0 || lit.Val > 1 {
			return nil, queryCom.ErrSQLNotValid("percentile of %s must be between 0 and 1", call.String())
		}
		p := lit.Val
		if call.WithinGroup[0].Desc {
			p = 1 - p
		}
		fn.new = func() accumulator { return &percentileAcc{p: p, digest: tdigest.New()} }
		args = []expr.Expr{call.WithinGroup[0].Expr}
	case expr.CountCallName:
		star := expr.IsCountStar(call)
		switch {
		case call.Distinct:
			fn.new = func() accumulator { return &countDistinctAcc{seen: map[string]struct{}{}} }
		default:
			fn.new = func() accumulator { return &countAcc{star: star} }
		}
		if star {
			args = nil
		}
	case expr.SumCallName:
		fn.new = func() accumulator { return &sumAcc{} }
	case expr.MinCallName, expr.MaxCallName:
		isMax := name == expr.MaxCallName
		fn.new = func() accumulator { return &extremumAcc{max: isMax} }
	case expr.AvgCallName:
		fn.new = func() accumulator { return &avgAcc{} }
	case expr.FirstValueCallName, expr.LastValueCallName:
		last := name == expr.LastValueCallName
		fn.new = func() accumulator { return &positionalAcc{last: last} }
	case expr.ApproxDistinctCallName:
		fn.new = func() accumulator { return &distinctSketchAcc{} }
	default:
		return nil, queryCom.ErrNotImplemented("aggregate %s", name)
	}
	if mode != physical.AggregateFinal {
		if name != expr.CountCallName && len(args) != 1 {
			return nil, queryCom.ErrSQLNotValid("%s takes one argument", call.String())
		}
		var err error
		if fn.args, err = c.compileAll(args); err != nil {
			return nil, err
		}
	}
	return fn, nil
}

// aggregator groups rows and folds them into accumulators in first seen
// group order.
type aggregator struct {
	mode    physical.AggregateMode
	groupBy []evalFn
	aggs    []*aggregateFn
	ts      int
	seq     int64
	groups  map[string]*group
	order   []*group
}

type group struct {
	keys Row
	accs []accumulator
}

func (c *compiler) newAggregator(node *physical.AggregateExec) (*aggregator, error) {
	agg := &aggregator{mode: node.Mode, groups: map[string]*group{}}
	var err error
	keys := make([]expr.Expr, len(node.GroupBy))
	for i, g := range node.GroupBy {
		keys[i] = g.Expr
	}
	if agg.groupBy, err = c.compileAll(keys); err != nil {
		return nil, err
	}
	for _, a := range node.Aggs {
		fn, err := c.compileAggregate(a, node.Mode)
		if err != nil {
			return nil, err
		}
		agg.aggs = append(agg.aggs, fn)
	}
	agg.ts = physical.FieldIndex(c.fields, &expr.VarRef{Val: metaCom.TimestampColumn})
	return agg, nil
}

func (a *aggregator) group(keys Row) *group {
	k := rowKey(keys)
	g, ok := a.groups[k]
	if !ok {
		g = &group{keys: keys, accs: make([]accumulator, len(a.aggs))}
		for i, fn := range a.aggs {
			g.accs[i] = fn.new()
		}
		a.groups[k] = g
		a.order = append(a.order, g)
	}
	return g
}

func (a *aggregator) add(row Row) error {
	keys := make(Row, len(a.groupBy))
	for i, fn := range a.groupBy {
		v, err := fn(row)
		if err != nil {
			return err
		}
		keys[i] = v
	}
	g := a.group(keys)
	a.seq++
	ts := a.seq
	if a.ts >= 0 {
		if v, ok := toInt64(row[a.ts]); ok {
			ts = v
		}
	}
	for i, fn := range a.aggs {
		if a.mode == physical.AggregateFinal {
			states := make([]interface{}, len(fn.states))
			for j, idx := range fn.states {
				states[j] = row[idx]
			}
			if err := g.accs[i].merge(states); err != nil {
				return err
			}
			continue
		}
		args := make([]interface{}, len(fn.args))
		for j, arg := range fn.args {
			v, err := arg(row)
			if err != nil {
				return err
			}
			args[j] = v
		}
		if len(args) == 0 {
			args = []interface{}{nil}
		}
		if err := g.accs[i].update(args, ts); err != nil {
			return err
		}
	}
	return nil
}

// rows emits one row per group. Without group keys an empty input still
// yields one row.
func (a *aggregator) rows() []Row {
	if len(a.groupBy) == 0 && len(a.order) == 0 {
		a.group(Row{})
	}
	out := make([]Row, 0, len(a.order))
	for _, g := range a.order {
		row := append(Row{}, g.keys...)
		for _, acc := range g.accs {
			if a.mode == physical.AggregatePartial {
				row = append(row, acc.states()...)
			} else {
				row = append(row, acc.result())
			}
		}
		out = append(out, row)
	}
	return out
}
