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

package merge

import (
	"context"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/pkg/errors"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/exec"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/logical"
	"github.com/streamql/streamql/query/physical"
	"github.com/streamql/streamql/utils"
)

const (
	defaultMinStep    = 15 * time.Second
	defaultValueField = "value"
)

// Downsample functions applied to the value field of a metrics stream.
const (
	FunctionAvg   = "avg"
	FunctionSum   = "sum"
	FunctionMin   = "min"
	FunctionMax   = "max"
	FunctionCount = "count"
	FunctionFirst = "first"
	FunctionLast  = "last"
)

var downsampleCalls = map[string]string{
	FunctionAvg:   expr.AvgCallName,
	FunctionSum:   expr.SumCallName,
	FunctionMin:   expr.MinCallName,
	FunctionMax:   expr.MaxCallName,
	FunctionCount: expr.CountCallName,
	FunctionFirst: expr.FirstValueCallName,
	FunctionLast:  expr.LastValueCallName,
}

// Rule folds the points of every series into buckets of Step.
type Rule struct {
	Step     time.Duration `json:"step"`
	Function string        `json:"function"`
}

// Validate checks the function of the rule.
func (r Rule) Validate() error {
	if _, ok := downsampleCalls[strings.ToLower(r.Function)]; !ok {
		return errors.Errorf("unknown downsample function %q", r.Function)
	}
	if r.Step < 0 {
		return errors.Errorf("negative downsample step %s", r.Step)
	}
	return nil
}

// effectiveStep returns the bucket width of the rule, never below the
// configured minimum step.
func (r Rule) effectiveStep() time.Duration {
	minStep := time.Duration(utils.GetConfig().Compact.DownsampleMinStepSeconds) * time.Second
	if minStep <= 0 {
		minStep = defaultMinStep
	}
	if r.Step < minStep {
		return minStep
	}
	return r.Step
}

// memoryReader serves records as the single file of a stream.
type memoryReader struct {
	records []arrow.Record
}

func (m memoryReader) ReadFile(ctx context.Context, stream metaCom.StreamRef, file metaCom.FileKey,
	columns []string) ([]arrow.Record, error) {
	return m.records, nil
}

// Downsample folds records into buckets of the rule step per series. Series
// are told apart by the hash column, buckets are aligned on the unix epoch.
// The value field is folded with the rule function, every other field keeps
// its maximum within the bucket.
func Downsample(ctx context.Context, records []arrow.Record, rule Rule) ([]arrow.Record, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	fields := unionFields(records)
	scan := &physical.TableScanExec{
		Fields: fields,
		Files:  []metaCom.FileKey{{Key: "memory"}},
	}
	plan, err := downsamplePlan(scan, fields, rule)
	if err != nil {
		return nil, err
	}
	c := exec.NewContext(utils.GetConfig().Query)
	c.Reader = memoryReader{records: records}
	return c.Collect(ctx, plan)
}

// downsamplePlan aggregates the output of input into downsampled points,
// sorted by time then series.
func downsamplePlan(input physical.Plan, fields []metaCom.Field, rule Rule) (physical.Plan, error) {
	valueField := utils.GetConfig().Compact.DownsampleValueField
	if valueField == "" {
		valueField = defaultValueField
	}
	if !hasField(fields, metaCom.TimestampColumn) {
		return nil, errors.Errorf("downsample needs the %s column", metaCom.TimestampColumn)
	}
	if !hasField(fields, valueField) {
		return nil, errors.Errorf("downsample needs the value field %s", valueField)
	}

	bucket := &expr.Call{
		Name: expr.DateBinCallName,
		Args: []expr.Expr{
			&expr.IntervalLiteral{Micros: rule.effectiveStep().Microseconds(), Text: rule.effectiveStep().String()},
			&expr.VarRef{Val: metaCom.TimestampColumn},
			&expr.NumberLiteral{IsInt: true},
		},
	}
	groupBy := []logical.NamedExpr{{Expr: bucket, Name: metaCom.TimestampColumn}}
	if hasField(fields, metaCom.HashColumn) {
		groupBy = append(groupBy, logical.NamedExpr{Expr: &expr.VarRef{Val: metaCom.HashColumn}, Name: metaCom.HashColumn})
	}
	var aggs []logical.NamedExpr
	for _, f := range fields {
		switch f.Name {
		case metaCom.TimestampColumn, metaCom.HashColumn:
			continue
		case valueField:
			call := &expr.Call{
				Name: downsampleCalls[strings.ToLower(rule.Function)],
				Args: []expr.Expr{&expr.VarRef{Val: f.Name}},
			}
			aggs = append(aggs, logical.NamedExpr{Expr: call, Name: f.Name})
		default:
			call := &expr.Call{Name: expr.MaxCallName, Args: []expr.Expr{&expr.VarRef{Val: f.Name}}}
			aggs = append(aggs, logical.NamedExpr{Expr: call, Name: f.Name})
		}
	}
	agg := &physical.AggregateExec{Input: input, Mode: physical.AggregateSingle, GroupBy: groupBy, Aggs: aggs}

	exprs := make([]logical.NamedExpr, len(fields))
	for i, f := range fields {
		exprs[i] = logical.NamedExpr{Expr: &expr.VarRef{Val: f.Name}, Name: f.Name}
	}
	keys := []logical.SortKey{{Expr: &expr.VarRef{Val: metaCom.TimestampColumn}}}
	if hasField(fields, metaCom.HashColumn) {
		keys = append(keys, logical.SortKey{Expr: &expr.VarRef{Val: metaCom.HashColumn}})
	}
	return &physical.SortExec{
		Input: &physical.ProjectionExec{Input: agg, Exprs: exprs},
		Keys:  keys,
	}, nil
}

// unionFields lists the columns of all records in first seen order. A column
// typed differently across records is read as a string.
func unionFields(records []arrow.Record) []metaCom.Field {
	var fields []metaCom.Field
	index := map[string]int{}
	for _, rec := range records {
		for _, f := range rec.Schema().Fields() {
			typ := metaCom.FromArrowType(f.Type)
			if i, ok := index[f.Name]; ok {
				if fields[i].Type != typ {
					fields[i].Type = metaCom.Utf8
				}
				continue
			}
			index[f.Name] = len(fields)
			fields = append(fields, metaCom.Field{Name: f.Name, Type: typ})
		}
	}
	return fields
}

func hasField(fields []metaCom.Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}
