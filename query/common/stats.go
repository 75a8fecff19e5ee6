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

package common

import (
	"strings"
	"sync"
)

// ScanStats holds additive counters describing the work done by a search.
type ScanStats struct {
	Files           int64 `json:"files"`
	Records         int64 `json:"records"`
	OriginalSize    int64 `json:"original_size"`
	CompressedSize  int64 `json:"compressed_size"`
	QuerierFiles    int64 `json:"querier_files"`
	IdxScanSize     int64 `json:"idx_scan_size"`
	IdxTookMillis   int64 `json:"idx_took"`
	FileListMillis  int64 `json:"file_list_took"`
	CacheHitRatio   int64 `json:"aggs_cache_ratio"`
	PeakMemoryUsage int64 `json:"peak_memory_usage"`
	TookMillis      int64 `json:"took"`
}

// Add folds other into s. Counters add up, ratios and peaks keep the maximum.
func (s *ScanStats) Add(other ScanStats) {
	s.Files += other.Files
	s.Records += other.Records
	s.OriginalSize += other.OriginalSize
	s.CompressedSize += other.CompressedSize
	s.QuerierFiles += other.QuerierFiles
	s.IdxScanSize += other.IdxScanSize
	s.IdxTookMillis += other.IdxTookMillis
	s.FileListMillis += other.FileListMillis
	if other.CacheHitRatio > s.CacheHitRatio {
		s.CacheHitRatio = other.CacheHitRatio
	}
	if other.PeakMemoryUsage > s.PeakMemoryUsage {
		s.PeakMemoryUsage = other.PeakMemoryUsage
	}
	if other.TookMillis > s.TookMillis {
		s.TookMillis = other.TookMillis
	}
}

// StatsAccumulator is the state shared by all partitions of one distributed
// execution: scan stats and the partial error text.
type StatsAccumulator struct {
	sync.Mutex
	stats        ScanStats
	partialErrs  []string
	partialCount int
}

// NewStatsAccumulator creates an empty accumulator.
func NewStatsAccumulator() *StatsAccumulator {
	return &StatsAccumulator{}
}

// AddStats folds stats of one partition.
func (a *StatsAccumulator) AddStats(stats ScanStats) {
	a.Lock()
	defer a.Unlock()
	a.stats.Add(stats)
}

// AddPartialError records that one partition degraded.
func (a *StatsAccumulator) AddPartialError(msg string) {
	a.Lock()
	defer a.Unlock()
	a.partialCount++
	if msg != "" {
		a.partialErrs = append(a.partialErrs, msg)
	}
}

// Stats returns the accumulated stats.
func (a *StatsAccumulator) Stats() ScanStats {
	a.Lock()
	defer a.Unlock()
	return a.stats
}

// IsPartial tells whether any partition degraded.
func (a *StatsAccumulator) IsPartial() bool {
	a.Lock()
	defer a.Unlock()
	return a.partialCount > 0
}

// PartialError returns the accumulated partial error text.
func (a *StatsAccumulator) PartialError() string {
	a.Lock()
	defer a.Unlock()
	return strings.Join(a.partialErrs, " \n ")
}
