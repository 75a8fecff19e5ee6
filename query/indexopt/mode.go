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

import "fmt"

// ModeKind identifies an optimize mode.
type ModeKind int

const (
	// KindNone means the query is executed by scanning rows.
	KindNone ModeKind = iota
	KindSimpleSelect
	KindSimpleCount
	KindSimpleHistogram
	KindSimpleTopN
	KindSimpleDistinct
)

var modeKindNames = map[ModeKind]string{
	KindNone:            "",
	KindSimpleSelect:    "simple_select",
	KindSimpleCount:     "simple_count",
	KindSimpleHistogram: "simple_histogram",
	KindSimpleTopN:      "simple_topn",
	KindSimpleDistinct:  "simple_distinct",
}

func (k ModeKind) String() string {
	return modeKindNames[k]
}

// Mode is a whole-query shortcut answered by the index engine alone.
// A nil Mode means no shortcut applies.
type Mode interface {
	Kind() ModeKind
	String() string
}

// SimpleSelect fetches the newest (or oldest) Limit matching rows by index lookup.
type SimpleSelect struct {
	Limit     int64
	Ascending bool
}

func (m *SimpleSelect) Kind() ModeKind { return KindSimpleSelect }

func (m *SimpleSelect) String() string {
	return fmt.Sprintf("SimpleSelect(%d, %t)", m.Limit, m.Ascending)
}

// SimpleCount counts matching rows.
type SimpleCount struct{}

func (m *SimpleCount) Kind() ModeKind { return KindSimpleCount }

func (m *SimpleCount) String() string { return "SimpleCount" }

// SimpleHistogram counts matching rows per time bucket.
type SimpleHistogram struct {
	MinTs       int64
	BucketWidth int64
	NumBuckets  int
}

func (m *SimpleHistogram) Kind() ModeKind { return KindSimpleHistogram }

func (m *SimpleHistogram) String() string {
	return fmt.Sprintf("SimpleHistogram(%d, %d, %d)", m.MinTs, m.BucketWidth, m.NumBuckets)
}

// SimpleTopN returns the Limit most frequent values of Field.
type SimpleTopN struct {
	Field     string
	Limit     int64
	Ascending bool
}

func (m *SimpleTopN) Kind() ModeKind { return KindSimpleTopN }

func (m *SimpleTopN) String() string {
	return fmt.Sprintf("SimpleTopN(%s, %d, %t)", m.Field, m.Limit, m.Ascending)
}

// SimpleDistinct returns the first Limit distinct values of Field in value order.
type SimpleDistinct struct {
	Field     string
	Limit     int64
	Ascending bool
}

func (m *SimpleDistinct) Kind() ModeKind { return KindSimpleDistinct }

func (m *SimpleDistinct) String() string {
	return fmt.Sprintf("SimpleDistinct(%s, %d, %t)", m.Field, m.Limit, m.Ascending)
}

// KindOf returns the kind of m, KindNone for nil.
func KindOf(m Mode) ModeKind {
	if m == nil {
		return KindNone
	}
	return m.Kind()
}
