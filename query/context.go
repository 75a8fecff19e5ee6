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

package query

import (
	"strings"

	"github.com/streamql/streamql/common"
	metaCom "github.com/streamql/streamql/metastore/common"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/indexopt"
	"github.com/streamql/streamql/query/sql"
)

// StreamInfo is a stream read by the query, resolved against the metadata store.
type StreamInfo struct {
	Ref metaCom.StreamRef
	// FullSchema is the stream schema, Schema the projection the query needs.
	FullSchema *metaCom.Schema
	Schema     *metaCom.Schema
	// Columns referenced by the query, in order of appearance.
	Columns []string
	// Wildcard is set when the query selects every column of the stream.
	Wildcard bool
	// FullTextFields are the fields match_all expands over.
	FullTextFields []string

	columns map[string]bool
}

func (s *StreamInfo) addColumn(name string) {
	if s.columns[name] {
		return
	}
	s.columns[name] = true
	s.Columns = append(s.Columns, name)
}

// IndexedFields are the fields an index condition may refer to: the indexed
// fields plus the full text fields.
func (s *StreamInfo) IndexedFields() indexopt.FieldSet {
	set := indexopt.FieldSet{}
	for f := range s.FullSchema.IndexedFields() {
		set[f] = true
	}
	for _, f := range s.FullTextFields {
		set[f] = true
	}
	return set
}

// OrderKey is a resolved sort key.
type OrderKey struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc"`
}

// QueryContext holds the compiled state of a search query. It is built once
// by Compile and read only afterwards.
type QueryContext struct {
	Request *queryCom.Request `json:"-"`

	TraceID    string             `json:"traceID"`
	OrgID      string             `json:"orgID"`
	StreamType metaCom.StreamType `json:"streamType"`
	Streams    []*StreamInfo      `json:"-"`

	// StartTime and EndTime bound the query in microseconds, EndTime exclusive.
	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime"`
	Limit     int64 `json:"limit"`
	Offset    int64 `json:"offset"`

	// HistogramInterval is the bucket width in microseconds, 0 without histogram.
	HistogramInterval     int64  `json:"histogramInterval,omitempty"`
	HistogramIntervalText string `json:"histogramIntervalText,omitempty"`

	OrderBy          []OrderKey `json:"orderBy,omitempty"`
	IsComplex        bool       `json:"isComplex"`
	SortedByTimeOnly bool       `json:"sortedByTimeOnly"`
	TrackTotalHits   bool       `json:"trackTotalHits,omitempty"`
	QuickMode        bool       `json:"quickMode,omitempty"`

	// Aliases maps projection aliases to their expressions.
	Aliases map[string]expr.Expr `json:"-"`
	GroupBy []string             `json:"groupBy,omitempty"`
	// MatchTerms are the match_all terms of the query.
	MatchTerms []string `json:"matchTerms,omitempty"`

	IndexCondition    indexopt.Condition `json:"-"`
	IndexOptimizeMode indexopt.Mode      `json:"-"`

	// Statement is the rewritten statement, SQL its canonical text.
	Statement sql.Statement `json:"-"`
	SQL       string        `json:"sql"`

	// Error is set when compilation fails.
	Error error `json:"error,omitempty"`

	config common.ServerConfig
	// explicit LIMIT of the outermost statement.
	sqlLimit *sql.Limit
}

// Config returns the configuration the query was compiled with.
func (qc *QueryContext) Config() common.ServerConfig {
	return qc.config
}

// Stream returns the stream a table of the statement reads, or nil.
func (qc *QueryContext) Stream(t *sql.Table) *StreamInfo {
	typ := qc.StreamType
	if t.Qualifier != "" {
		if parsed, ok := metaCom.ParseStreamType(t.Qualifier); ok {
			typ = parsed
		}
	}
	for _, s := range qc.Streams {
		if s.Ref.Type == typ && s.Ref.Name == t.Name {
			return s
		}
	}
	return nil
}

// SingleStream returns the only stream of the query, or nil.
func (qc *QueryContext) SingleStream() *StreamInfo {
	if len(qc.Streams) != 1 {
		return nil
	}
	return qc.Streams[0]
}

// IndexConditionString is the index condition for logging, empty without one.
func (qc *QueryContext) IndexConditionString() string {
	if qc.IndexCondition == nil {
		return ""
	}
	return qc.IndexCondition.String()
}

// IndexOptimizeModeString is the optimize mode for logging, empty without one.
func (qc *QueryContext) IndexOptimizeModeString() string {
	if qc.IndexOptimizeMode == nil {
		return ""
	}
	return qc.IndexOptimizeMode.String()
}

// OrderByString renders the effective ordering as "col desc, col asc".
func (qc *QueryContext) OrderByString() string {
	keys := make([]string, len(qc.OrderBy))
	for i, k := range qc.OrderBy {
		dir := "asc"
		if k.Desc {
			dir = "desc"
		}
		keys[i] = k.Column + " " + dir
	}
	return strings.Join(keys, ", ")
}

// OrderItems returns the effective ordering as statement order items.
func (qc *QueryContext) OrderItems() []*sql.OrderItem {
	items := make([]*sql.OrderItem, len(qc.OrderBy))
	for i, k := range qc.OrderBy {
		items[i] = &sql.OrderItem{Expr: &expr.VarRef{Val: k.Column}, Desc: k.Desc}
	}
	return items
}
