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
	"github.com/pkg/errors"
)

// WireCondition is the serialized form of a Condition.
type WireCondition struct {
	Kind          string           `json:"kind"`
	Field         string           `json:"field,omitempty"`
	Value         string           `json:"value,omitempty"`
	CaseSensitive bool             `json:"case_sensitive,omitempty"`
	Distance      int              `json:"distance,omitempty"`
	Children      []*WireCondition `json:"children,omitempty"`
}

// EncodeCondition converts a condition into its wire form, nil stays nil.
func EncodeCondition(c Condition) *WireCondition {
	switch c := c.(type) {
	case *Equal:
		return &WireCondition{Kind: "equal", Field: c.Field, Value: c.Value}
	case *NotEqual:
		return &WireCondition{Kind: "not_equal", Field: c.Field, Value: c.Value}
	case *Match:
		return &WireCondition{Kind: "match", Field: c.Field, Value: c.Term, CaseSensitive: c.CaseSensitive}
	case *FuzzyMatch:
		return &WireCondition{Kind: "fuzzy_match", Field: c.Field, Value: c.Term, Distance: c.Distance}
	case *All:
		return &WireCondition{Kind: "all"}
	case *And:
		return &WireCondition{Kind: "and", Children: encodeChildren(c.Children)}
	case *Or:
		return &WireCondition{Kind: "or", Children: encodeChildren(c.Children)}
	}
	return nil
}

func encodeChildren(children []Condition) []*WireCondition {
	out := make([]*WireCondition, len(children))
	for i, c := range children {
		out[i] = EncodeCondition(c)
	}
	return out
}

// DecodeCondition converts a wire condition back, nil stays nil.
func DecodeCondition(w *WireCondition) (Condition, error) {
	if w == nil {
		return nil, nil
	}
	switch w.Kind {
	case "equal":
		return &Equal{Field: w.Field, Value: w.Value}, nil
	case "not_equal":
		return &NotEqual{Field: w.Field, Value: w.Value}, nil
	case "match":
		return &Match{Field: w.Field, Term: w.Value, CaseSensitive: w.CaseSensitive}, nil
	case "fuzzy_match":
		return &FuzzyMatch{Field: w.Field, Term: w.Value, Distance: w.Distance}, nil
	case "all":
		return &All{}, nil
	case "and", "or":
		children := make([]Condition, len(w.Children))
		for i, child := range w.Children {
			c, err := DecodeCondition(child)
			if err != nil {
				return nil, err
			}
			children[i] = c
		}
		if w.Kind == "and" {
			return &And{Children: children}, nil
		}
		return &Or{Children: children}, nil
	}
	return nil, errors.Errorf("unknown index condition kind %q", w.Kind)
}

// WireMode is the serialized form of a Mode.
type WireMode struct {
	Kind        string `json:"kind"`
	Field       string `json:"field,omitempty"`
	Limit       int64  `json:"limit,omitempty"`
	Ascending   bool   `json:"ascending,omitempty"`
	MinTs       int64  `json:"min_ts,omitempty"`
	BucketWidth int64  `json:"bucket_width,omitempty"`
	NumBuckets  int    `json:"num_buckets,omitempty"`
}

// EncodeMode converts a mode into its wire form, nil stays nil.
func EncodeMode(m Mode) *WireMode {
	switch m := m.(type) {
	case *SimpleSelect:
		return &WireMode{Kind: m.Kind().String(), Limit: m.Limit, Ascending: m.Ascending}
	case *SimpleCount:
		return &WireMode{Kind: m.Kind().String()}
	case *SimpleHistogram:
		return &WireMode{Kind: m.Kind().String(), MinTs: m.MinTs, BucketWidth: m.BucketWidth, NumBuckets: m.NumBuckets}
	case *SimpleTopN:
		return &WireMode{Kind: m.Kind().String(), Field: m.Field, Limit: m.Limit, Ascending: m.Ascending}
	case *SimpleDistinct:
		return &WireMode{Kind: m.Kind().String(), Field: m.Field, Limit: m.Limit, Ascending: m.Ascending}
	}
	return nil
}

// DecodeMode converts a wire mode back, nil stays nil.
func DecodeMode(w *WireMode) (Mode, error) {
	if w == nil {
		return nil, nil
	}
	switch w.Kind {
	case KindSimpleSelect.String():
		return &SimpleSelect{Limit: w.Limit, Ascending: w.Ascending}, nil
	case KindSimpleCount.String():
		return &SimpleCount{}, nil
	case KindSimpleHistogram.String():
		return &SimpleHistogram{MinTs: w.MinTs, BucketWidth: w.BucketWidth, NumBuckets: w.NumBuckets}, nil
	case KindSimpleTopN.String():
		return &SimpleTopN{Field: w.Field, Limit: w.Limit, Ascending: w.Ascending}, nil
	case KindSimpleDistinct.String():
		return &SimpleDistinct{Field: w.Field, Limit: w.Limit, Ascending: w.Ascending}, nil
	}
	return nil, errors.Errorf("unknown index optimize mode %q", w.Kind)
}
