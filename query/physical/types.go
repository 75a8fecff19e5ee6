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
	"fmt"
	"strings"

	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/logical"
)

// TypeOf infers the type an expression evaluates to over the input fields.
// Unresolved columns and NULL are strings.
func TypeOf(e expr.Expr, input []Field) metaCom.DataType {
	switch e := e.(type) {
	case *expr.VarRef:
		if i := FieldIndex(input, e); i >= 0 {
			return input[i].Type
		}
	case *expr.NumberLiteral:
		if e.IsInt {
			return metaCom.Int64
		}
		return metaCom.Float64
	case *expr.BooleanLiteral, *expr.InList, *expr.InSubquery:
		return metaCom.Bool
	case *expr.IntervalLiteral:
		return metaCom.Int64
	case *expr.ParenExpr:
		return TypeOf(e.Expr, input)
	case *expr.UnaryExpr:
		if e.Op == expr.UNARY_MINUS {
			return TypeOf(e.Expr, input)
		}
		return metaCom.Bool
	case *expr.BinaryExpr:
		switch e.Op {
		case expr.ADD, expr.SUB, expr.MUL, expr.DIV, expr.MOD:
			l, r := TypeOf(e.LHS, input), TypeOf(e.RHS, input)
			if l == metaCom.Int64 && r == metaCom.Int64 {
				return metaCom.Int64
			}
			return metaCom.Float64
		}
		return metaCom.Bool
	case *expr.Case:
		for _, wt := range e.WhenThens {
			if _, null := wt.Then.(*expr.NullLiteral); !null {
				return TypeOf(wt.Then, input)
			}
		}
		if e.Else != nil {
			return TypeOf(e.Else, input)
		}
	case *expr.Call:
		if expr.IsAggregateCall(e) {
			return aggregateType(e, input, false, "")
		}
		return callType(e, input)
	}
	return metaCom.Utf8
}

func callType(c *expr.Call, input []Field) metaCom.DataType {
	switch strings.ToLower(c.Name) {
	case expr.DateBinCallName, expr.HistogramCallName, expr.LengthCallName:
		return metaCom.Int64
	case expr.StrMatchCallName, expr.StrMatchIgnoreCaseCallName, expr.MatchFieldCallName,
		expr.MatchFieldIgnoreCaseCallName, expr.FuzzyMatchCallName:
		return metaCom.Bool
	case expr.AbsCallName:
		if len(c.Args) > 0 {
			return TypeOf(c.Args[0], input)
		}
	case expr.CoalesceCallName:
		for _, arg := range c.Args {
			if _, null := arg.(*expr.NullLiteral); !null {
				return TypeOf(arg, input)
			}
		}
	}
	return metaCom.Utf8
}

// aggregateType is the output type of an aggregate call. Final aggregates
// read the type of their partial state.
func aggregateType(c *expr.Call, input []Field, final bool, name string) metaCom.DataType {
	fn := strings.ToLower(c.Name)
	switch fn {
	case expr.CountCallName, expr.ApproxDistinctCallName:
		return metaCom.Int64
	case expr.AvgCallName, expr.ApproxPercentileCallName, expr.PercentileContCallName:
		return metaCom.Float64
	}
	if final {
		if i := FieldIndex(input, &expr.VarRef{Val: StateName(name, fn)}); i >= 0 {
			return input[i].Type
		}
		return metaCom.Utf8
	}
	var arg metaCom.DataType = metaCom.Utf8
	if len(c.Args) > 0 {
		arg = TypeOf(c.Args[0], input)
	}
	if fn == expr.SumCallName && arg != metaCom.Int64 {
		return metaCom.Float64
	}
	return arg
}

// Decomposable tells whether an aggregate call can be computed as partial
// states merged by a final aggregate.
func Decomposable(e expr.Expr) bool {
	c, ok := e.(*expr.Call)
	if !ok || c.Distinct || len(c.WithinGroup) > 0 {
		return false
	}
	switch strings.ToLower(c.Name) {
	case expr.CountCallName, expr.SumCallName, expr.MinCallName, expr.MaxCallName, expr.AvgCallName,
		expr.ApproxDistinctCallName:
		return true
	}
	return false
}

// StateName is the column name of a partial aggregate state.
func StateName(name, state string) string {
	return fmt.Sprintf("%s[%s]", name, state)
}

// HLLState is the partial state name of approx_distinct, an encoded sketch.
const HLLState = "hll"

// PartialStates returns the state columns a partial aggregate emits for a:
// a count, a sum, a min, a max, a sketch for approx_distinct, or a sum and a
// count for avg.
func PartialStates(a logical.NamedExpr, input []Field) []Field {
	c, ok := a.Expr.(*expr.Call)
	if !ok {
		return nil
	}
	fn := strings.ToLower(c.Name)
	state := func(s string, t metaCom.DataType) Field {
		return Field{Name: StateName(a.Name, s), Type: t}
	}
	switch fn {
	case expr.CountCallName:
		return []Field{state(expr.CountCallName, metaCom.Int64)}
	case expr.AvgCallName:
		return []Field{state(expr.SumCallName, metaCom.Float64), state(expr.CountCallName, metaCom.Int64)}
	case expr.ApproxDistinctCallName:
		return []Field{state(HLLState, metaCom.Utf8)}
	}
	return []Field{state(fn, aggregateType(c, input, false, a.Name))}
}
