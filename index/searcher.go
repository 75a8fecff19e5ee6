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

	"github.com/pkg/errors"
)

// ErrFileNotIndexed is returned when a file has no index.
var ErrFileNotIndexed = errors.New("file is not indexed")

// Hit is one matching row of a file.
type Hit struct {
	Row       int
	Timestamp int64
}

// TermCount is the number of matching documents holding a term.
type TermCount struct {
	Term  string
	Count int64
}

// Searcher answers native queries against the per-file index.
type Searcher interface {
	// Has tells whether the file is indexed.
	Has(file string) bool
	// Size is the number of index bytes that a query over the file scans.
	Size(file string) int64
	// Search returns up to limit matching rows ordered by timestamp, limit <= 0 means all.
	Search(ctx context.Context, file string, q Query, limit int, ascending bool) ([]Hit, error)
	// Count returns the number of matching rows.
	Count(ctx context.Context, file string, q Query) (int64, error)
	// Histogram counts matching rows per bucket of width microseconds starting at minTs.
	Histogram(ctx context.Context, file string, q Query, minTs, width int64, numBuckets int) ([]int64, error)
	// TopN returns the terms of field with the most (or, ascending, the fewest) matching rows.
	TopN(ctx context.Context, file string, q Query, field string, limit int, ascending bool) ([]TermCount, error)
	// Distinct returns the distinct terms of field among matching rows in term order.
	Distinct(ctx context.Context, file string, q Query, field string, limit int, ascending bool) ([]string, error)
}
