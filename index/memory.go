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
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/pkg/errors"
)

// segment is the index of one file: the indexed fields as strings plus the
// timestamp of every row.
type segment struct {
	numRows    int
	timestamps []int64
	// nil entries are nulls
	fields map[string][]*string
	size   int64
}

// MemIndex is an in-memory Searcher built from the record batches of each file.
type MemIndex struct {
	sync.RWMutex
	timestampColumn string
	segments        map[string]*segment
}

// NewMemIndex creates an empty index, rows are ordered by timestampColumn.
func NewMemIndex(timestampColumn string) *MemIndex {
	return &MemIndex{timestampColumn: timestampColumn, segments: map[string]*segment{}}
}

// IndexFile indexes fields of the records of file, replacing any previous index.
func (m *MemIndex) IndexFile(file string, records []arrow.Record, fields []string) error {
	seg := &segment{fields: make(map[string][]*string, len(fields))}
	for _, rec := range records {
		n := int(rec.NumRows())
		tsIdx := rec.Schema().FieldIndices(m.timestampColumn)
		if len(tsIdx) == 0 {
			return errors.Errorf("file %s has no %s column", file, m.timestampColumn)
		}
		ts, ok := rec.Column(tsIdx[0]).(*array.Int64)
		if !ok {
			return errors.Errorf("file %s column %s is not int64", file, m.timestampColumn)
		}
		for i := 0; i < n; i++ {
			seg.timestamps = append(seg.timestamps, ts.Value(i))
		}
		for _, field := range fields {
			values := seg.fields[field]
			if values == nil {
				values = make([]*string, seg.numRows, seg.numRows+n)
			}
			idx := rec.Schema().FieldIndices(field)
			for i := 0; i < n; i++ {
				var v *string
				if len(idx) > 0 {
					v = stringValue(rec.Column(idx[0]), i)
				}
				if v != nil {
					seg.size += int64(len(*v))
				}
				values = append(values, v)
			}
			seg.fields[field] = values
		}
		seg.numRows += n
	}
	// fields absent from every record are all null
	for _, field := range fields {
		if seg.fields[field] == nil {
			seg.fields[field] = make([]*string, seg.numRows)
		}
	}
	seg.size += int64(8 * seg.numRows)

	m.Lock()
	m.segments[file] = seg
	m.Unlock()
	return nil
}

// RemoveFile drops the index of file.
func (m *MemIndex) RemoveFile(file string) {
	m.Lock()
	delete(m.segments, file)
	m.Unlock()
}

func stringValue(arr arrow.Array, i int) *string {
	if arr.IsNull(i) {
		return nil
	}
	var s string
	switch a := arr.(type) {
	case *array.String:
		s = a.Value(i)
	case *array.Int64:
		s = strconv.FormatInt(a.Value(i), 10)
	case *array.Float64:
		s = strconv.FormatFloat(a.Value(i), 'g', -1, 64)
	case *array.Boolean:
		s = strconv.FormatBool(a.Value(i))
	default:
		s = arr.ValueStr(i)
	}
	return &s
}

// Has tells whether the file is indexed.
func (m *MemIndex) Has(file string) bool {
	m.RLock()
	defer m.RUnlock()
	_, ok := m.segments[file]
	return ok
}

// Size returns the bytes held by the index of file.
func (m *MemIndex) Size(file string) int64 {
	m.RLock()
	defer m.RUnlock()
	if seg, ok := m.segments[file]; ok {
		return seg.size
	}
	return 0
}

func (m *MemIndex) segment(file string) (*segment, error) {
	m.RLock()
	defer m.RUnlock()
	seg, ok := m.segments[file]
	if !ok {
		return nil, errors.Wrap(ErrFileNotIndexed, file)
	}
	return seg, nil
}

// matches evaluates q for every row of the segment.
func (seg *segment) matches(ctx context.Context, q Query) ([]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]bool, seg.numRows)
	switch q := q.(type) {
	case *MatchAllQuery:
		for i := range out {
			out[i] = true
		}
	case *TimeRangeQuery:
		for i, ts := range seg.timestamps {
			out[i] = ts >= q.Start && (q.End == 0 || ts < q.End)
		}
	case *TermQuery:
		values, err := seg.field(q.Field)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			out[i] = v != nil && *v == q.Term
		}
	case *ExistsQuery:
		values, err := seg.field(q.Field)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			out[i] = v != nil
		}
	case *SubstringQuery:
		values, err := seg.field(q.Field)
		if err != nil {
			return nil, err
		}
		term := q.Term
		if !q.CaseSensitive {
			term = strings.ToLower(term)
		}
		for i, v := range values {
			if v == nil {
				continue
			}
			s := *v
			if !q.CaseSensitive {
				s = strings.ToLower(s)
			}
			out[i] = strings.Contains(s, term)
		}
	case *FuzzyQuery:
		if q.MaxDistance > MaxEditDistance || q.MaxDistance < 0 {
			return nil, errors.Errorf("fuzzy distance %d exceeds maximum of %d", q.MaxDistance, MaxEditDistance)
		}
		values, err := seg.field(q.Field)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			out[i] = v != nil && FuzzyMatches(*v, q.Term, q.MaxDistance)
		}
	case *BooleanQuery:
		var should []bool
		for i := range out {
			out[i] = true
		}
		for _, c := range q.Clauses {
			sub, err := seg.matches(ctx, c.Query)
			if err != nil {
				return nil, err
			}
			switch c.Occur {
			case BooleanMust:
				for i := range out {
					out[i] = out[i] && sub[i]
				}
			case BooleanMustNot:
				for i := range out {
					out[i] = out[i] && !sub[i]
				}
			case BooleanShould:
				if should == nil {
					should = make([]bool, seg.numRows)
				}
				for i := range should {
					should[i] = should[i] || sub[i]
				}
			}
		}
		if should != nil {
			for i := range out {
				out[i] = out[i] && should[i]
			}
		}
	default:
		return nil, errors.Errorf("unsupported query %T", q)
	}
	return out, nil
}

func (seg *segment) field(name string) ([]*string, error) {
	values, ok := seg.fields[name]
	if !ok {
		return nil, errors.Errorf("field %s is not indexed", name)
	}
	return values, nil
}

// Search returns matching rows ordered by timestamp.
func (m *MemIndex) Search(ctx context.Context, file string, q Query, limit int, ascending bool) ([]Hit, error) {
	seg, err := m.segment(file)
	if err != nil {
		return nil, err
	}
	match, err := seg.matches(ctx, q)
	if err != nil {
		return nil, err
	}
	var hits []Hit
	for i, ok := range match {
		if ok {
			hits = append(hits, Hit{Row: i, Timestamp: seg.timestamps[i]})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if ascending {
			return hits[i].Timestamp < hits[j].Timestamp
		}
		return hits[i].Timestamp > hits[j].Timestamp
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Count returns the number of matching rows.
func (m *MemIndex) Count(ctx context.Context, file string, q Query) (int64, error) {
	seg, err := m.segment(file)
	if err != nil {
		return 0, err
	}
	match, err := seg.matches(ctx, q)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, ok := range match {
		if ok {
			n++
		}
	}
	return n, nil
}

// Histogram counts matching rows per bucket, rows outside the buckets are ignored.
func (m *MemIndex) Histogram(ctx context.Context, file string, q Query, minTs, width int64, numBuckets int) ([]int64, error) {
	if width <= 0 {
		return nil, errors.Errorf("invalid bucket width %d", width)
	}
	seg, err := m.segment(file)
	if err != nil {
		return nil, err
	}
	match, err := seg.matches(ctx, q)
	if err != nil {
		return nil, err
	}
	counts := make([]int64, numBuckets)
	for i, ok := range match {
		if !ok || seg.timestamps[i] < minTs {
			continue
		}
		if b := int((seg.timestamps[i] - minTs) / width); b < numBuckets {
			counts[b]++
		}
	}
	return counts, nil
}

func (m *MemIndex) termCounts(ctx context.Context, file string, q Query, field string) (map[string]int64, error) {
	seg, err := m.segment(file)
	if err != nil {
		return nil, err
	}
	values, err := seg.field(field)
	if err != nil {
		return nil, err
	}
	match, err := seg.matches(ctx, q)
	if err != nil {
		return nil, err
	}
	counts := map[string]int64{}
	for i, ok := range match {
		if ok && values[i] != nil {
			counts[*values[i]]++
		}
	}
	return counts, nil
}

// TopN returns terms ordered by count, ties broken by term.
func (m *MemIndex) TopN(ctx context.Context, file string, q Query, field string, limit int, ascending bool) ([]TermCount, error) {
	counts, err := m.termCounts(ctx, file, q, field)
	if err != nil {
		return nil, err
	}
	out := make([]TermCount, 0, len(counts))
	for term, n := range counts {
		out = append(out, TermCount{Term: term, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			if ascending {
				return out[i].Count < out[j].Count
			}
			return out[i].Count > out[j].Count
		}
		return out[i].Term < out[j].Term
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Distinct returns distinct terms ordered by term.
func (m *MemIndex) Distinct(ctx context.Context, file string, q Query, field string, limit int, ascending bool) ([]string, error) {
	counts, err := m.termCounts(ctx, file, q, field)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(counts))
	for term := range counts {
		out = append(out, term)
	}
	sort.Slice(out, func(i, j int) bool {
		if ascending {
			return out[i] < out[j]
		}
		return out[i] > out[j]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Searcher = (*MemIndex)(nil)
