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

package index

import (
	"fmt"
	"strings"
)

// QueryType identifies the kind of query node.
type QueryType int

const (
	QueryTypeTerm QueryType = iota
	QueryTypeBoolean
	QueryTypeSubstring
	QueryTypeFuzzy
	QueryTypeExists
	QueryTypeMatchAll
	QueryTypeTimeRange
)

// Query is the interface for all native index queries.
type Query interface {
	Type() QueryType
	String() string
}

// TermQuery matches documents whose field equals the term exactly.
type TermQuery struct {
	Field string
	Term  string
}

func (q *TermQuery) Type() QueryType { return QueryTypeTerm }

func (q *TermQuery) String() string { return fmt.Sprintf("%s:%q", q.Field, q.Term) }

// BooleanOp defines the boolean operator.
type BooleanOp int

const (
	BooleanMust    BooleanOp = iota // AND
	BooleanShould                   // OR
	BooleanMustNot                  // NOT
)

var booleanOpNames = map[BooleanOp]string{
	BooleanMust:    "+",
	BooleanShould:  "",
	BooleanMustNot: "-",
}

// BooleanClause is a single clause within a BooleanQuery.
type BooleanClause struct {
	Occur BooleanOp
	Query Query
}

// BooleanQuery combines sub-queries with boolean logic. A document matches
// when it matches every Must clause, no MustNot clause, and at least one
// Should clause if any exist.
type BooleanQuery struct {
	Clauses []BooleanClause
}

func (q *BooleanQuery) Type() QueryType { return QueryTypeBoolean }

func (q *BooleanQuery) String() string {
	parts := make([]string, len(q.Clauses))
	for i, c := range q.Clauses {
		parts[i] = booleanOpNames[c.Occur] + c.Query.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// Must returns a boolean query requiring all of qs.
func Must(qs ...Query) Query {
	return boolean(BooleanMust, qs)
}

// Should returns a boolean query requiring any of qs.
func Should(qs ...Query) Query {
	return boolean(BooleanShould, qs)
}

func boolean(op BooleanOp, qs []Query) Query {
	if len(qs) == 1 {
		return qs[0]
	}
	b := &BooleanQuery{}
	for _, q := range qs {
		b.Clauses = append(b.Clauses, BooleanClause{Occur: op, Query: q})
	}
	return b
}

// SubstringQuery matches documents whose field contains the term.
type SubstringQuery struct {
	Field         string
	Term          string
	CaseSensitive bool
}

func (q *SubstringQuery) Type() QueryType { return QueryTypeSubstring }

func (q *SubstringQuery) String() string {
	if q.CaseSensitive {
		return fmt.Sprintf("%s:*%s*", q.Field, q.Term)
	}
	return fmt.Sprintf("%s:*%s*~i", q.Field, q.Term)
}

// FuzzyQuery matches documents having a token within an edit distance of the term.
type FuzzyQuery struct {
	Field       string
	Term        string
	MaxDistance int
}

func (q *FuzzyQuery) Type() QueryType { return QueryTypeFuzzy }

func (q *FuzzyQuery) String() string { return fmt.Sprintf("%s:%s~%d", q.Field, q.Term, q.MaxDistance) }

// ExistsQuery matches documents having a non-null value for the field.
type ExistsQuery struct {
	Field string
}

func (q *ExistsQuery) Type() QueryType { return QueryTypeExists }

func (q *ExistsQuery) String() string { return "_exists_:" + q.Field }

// MatchAllQuery matches all documents.
type MatchAllQuery struct{}

func (q *MatchAllQuery) Type() QueryType { return QueryTypeMatchAll }

func (q *MatchAllQuery) String() string { return "*:*" }

// TimeRangeQuery matches documents whose timestamp lies in [Start, End).
// A zero End leaves the range open.
type TimeRangeQuery struct {
	Start int64
	End   int64
}

func (q *TimeRangeQuery) Type() QueryType { return QueryTypeTimeRange }

func (q *TimeRangeQuery) String() string { return fmt.Sprintf("_timestamp:[%d TO %d}", q.Start, q.End) }
