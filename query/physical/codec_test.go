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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metaCom "github.com/streamql/streamql/metastore/common"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/indexopt"
	"github.com/streamql/streamql/query/logical"
)

func roundTrip(t *testing.T, p Plan) Plan {
	data, err := Encode(p)
	require.NoError(t, err)
	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, Format(p), Format(out))
	assert.Equal(t, p.Schema(), out.Schema())
	return out
}

func TestCodecRoundTripsOptimizedPlans(t *testing.T) {
	for _, sql := range []string{
		"SELECT name FROM t WHERE name = 'a'",
		"SELECT count(*) AS cnt FROM t WHERE name = 'a'",
		"SELECT name, count(*) AS cnt FROM t GROUP BY name ORDER BY cnt DESC",
		"SELECT level, avg(code) AS a FROM t WHERE code > 1 GROUP BY level HAVING avg(code) > 2",
		"SELECT name FROM t WHERE name IN (SELECT name FROM u WHERE code = 500)",
		"SELECT name FROM t UNION SELECT name FROM u",
		"SELECT CASE WHEN code < 400 THEN 'ok' ELSE 'err' END AS status FROM t ORDER BY code DESC",
	} {
		_, p := plan(t, queryCom.Query{SQL: sql, Size: 10, StartTime: 10, EndTime: 1000}, nil)
		roundTrip(t, p)
	}
}

func TestCodecKeepsNodeDetails(t *testing.T) {
	leaf := &IndexOptimizeExec{
		Stream:    streamT,
		Relation:  "t",
		Mode:      &indexopt.SimpleHistogram{MinTs: 0, BucketWidth: 60, NumBuckets: 3},
		Condition: &indexopt.Or{Children: []indexopt.Condition{&indexopt.Equal{Field: "name", Value: "a"}, &indexopt.Match{Field: "log", Term: "err"}}},
		Output:    []Field{{Name: "ts", Type: metaCom.Int64}, {Name: "count(*)", Type: metaCom.Int64}},
		StartTime: 10,
		EndTime:   190,
		Files:     []metaCom.FileKey{{Key: "files/t/1.parquet", Meta: metaCom.FileMeta{MinTs: 10, MaxTs: 20, Records: 3}}},
	}
	join := &HashJoinExec{
		Left:  &EnrichExec{Stream: streamE, Relation: "e", Fields: []metaCom.Field{{Name: "name", Type: metaCom.Utf8}}},
		Right: &FilterExec{Input: scanOf("t", "name"), Predicate: &expr.BinaryExpr{Op: expr.NEQ, LHS: &expr.VarRef{Val: "name"}, RHS: &expr.NullLiteral{}}},
		Type:  logical.FullJoin,
		On: []logical.EquiPair{{
			Left:  &expr.VarRef{Qualifier: "e", Val: "name"},
			Right: &expr.VarRef{Qualifier: "t", Val: "name"},
		}},
		Mode:      CollectLeft,
		Broadcast: true,
	}
	root := &AnalyzeExec{Input: &UnionExec{Inputs: []Plan{
		&CoalescePartitionsExec{Input: &RemoteScanExec{Input: &ProjectionExec{Input: leaf, Exprs: columnRefs(leaf.Output)}, Stream: streamT, Analyze: true}},
		&NestedLoopJoinExec{
			Left:  &EmptyExec{ProduceOneRow: true},
			Right: &DeduplicationExec{Input: join, Keys: []expr.Expr{&expr.VarRef{Qualifier: "t", Val: "name"}}, Fetch: 5},
			Type:  logical.CrossJoin,
		},
	}}, Verbose: true}

	out := roundTrip(t, root).(*AnalyzeExec)
	assert.True(t, out.Verbose)
	decoded := find(out, isType(&IndexOptimizeExec{})).(*IndexOptimizeExec)
	assert.Equal(t, leaf.Files, decoded.Files)
	assert.Equal(t, int64(190), decoded.EndTime)
	assert.Equal(t, leaf.Mode, decoded.Mode)
	assert.Equal(t, leaf.Condition.String(), decoded.Condition.String())
	assert.True(t, find(out, isType(&RemoteScanExec{})).(*RemoteScanExec).Analyze)
	decodedJoin := find(out, isType(&HashJoinExec{})).(*HashJoinExec)
	assert.True(t, decodedJoin.Broadcast)
	assert.Equal(t, logical.FullJoin, decodedJoin.Type)
}

func TestCodecRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not snappy"))
	assert.Error(t, err)

	data, err := Encode(&FilterExec{
		Input:     scanOf("t", "name"),
		Predicate: &expr.InSubquery{Expr: &expr.VarRef{Val: "name"}, Subquery: &expr.Subquery{}},
	})
	assert.Error(t, err)
	assert.Nil(t, data)
}
