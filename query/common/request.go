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
	"time"

	metaCom "github.com/streamql/streamql/metastore/common"
)

// SearchEventType tells where a search comes from.
type SearchEventType string

const (
	// SearchEventUI is an interactive search from the UI.
	SearchEventUI SearchEventType = "ui"
	// SearchEventDashboards is a dashboard panel refresh.
	SearchEventDashboards SearchEventType = "dashboards"
	// SearchEventReports is a scheduled report.
	SearchEventReports SearchEventType = "reports"
	// SearchEventAlerts is an alert evaluation.
	SearchEventAlerts SearchEventType = "alerts"
	// SearchEventOther is anything else.
	SearchEventOther SearchEventType = "other"
)

// IsInteractive tells whether the search serves a user waiting on a UI.
func (t SearchEventType) IsInteractive() bool {
	return t == "" || t == SearchEventUI || t == SearchEventDashboards
}

// Query is the query envelope sent by clients.
type Query struct {
	SQL            string `json:"sql"`
	From           int64  `json:"from"`
	Size           int64  `json:"size"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time"`
	TrackTotalHits bool   `json:"track_total_hits"`
	QuickMode      bool   `json:"quick_mode"`
	// Histogram interval used when the histogram call has none.
	HistogramInterval string `json:"histogram_interval,omitempty"`
}

// Request is a search request for one organization.
type Request struct {
	Query        Query              `json:"query"`
	OrgID        string             `json:"org_id"`
	StreamType   metaCom.StreamType `json:"stream_type"`
	TraceID      string             `json:"trace_id"`
	Timeout      int64              `json:"timeout"`
	SearchType   SearchEventType    `json:"search_type,omitempty"`
	Regions      []string           `json:"regions,omitempty"`
	Clusters     []string           `json:"clusters,omitempty"`
	SuperCluster bool               `json:"super_cluster,omitempty"`
	// Analyze asks for per-operator metrics in the response.
	Analyze bool `json:"analyze,omitempty"`
}

// TimeoutOr returns the request timeout, or def when none is set.
func (r *Request) TimeoutOr(def time.Duration) time.Duration {
	if r.Timeout > 0 {
		return time.Duration(r.Timeout) * time.Second
	}
	return def
}

// TookDetail is the per-stage timing breakdown of a search, in milliseconds.
type TookDetail struct {
	Total        int64 `json:"total"`
	Analyze      int64 `json:"analyze"`
	Plan         int64 `json:"plan"`
	Execute      int64 `json:"execute"`
	WaitInQueue  int64 `json:"wait_in_queue"`
	FileListTook int64 `json:"file_list_took"`
}

// Response is the answer of a search.
type Response struct {
	TraceID           string                   `json:"trace_id"`
	Took              int64                    `json:"took"`
	TookDetail        TookDetail               `json:"took_detail"`
	Columns           []string                 `json:"columns"`
	Hits              []map[string]interface{} `json:"hits"`
	Total             int64                    `json:"total"`
	From              int64                    `json:"from"`
	Size              int64                    `json:"size"`
	ScanFiles         int64                    `json:"scan_files"`
	ScanSize          int64                    `json:"scan_size"`
	ScanRecords       int64                    `json:"scan_records"`
	IdxScanSize       int64                    `json:"idx_scan_size"`
	CachedRatio       int64                    `json:"cached_ratio"`
	HistogramInterval int64                    `json:"histogram_interval,omitempty"`
	IsPartial         bool                     `json:"is_partial"`
	FunctionError     string                   `json:"function_error,omitempty"`
	NewStartTime      int64                    `json:"new_start_time,omitempty"`
	NewEndTime        int64                    `json:"new_end_time,omitempty"`
	OrderBy           string                   `json:"order_by,omitempty"`
	IndexOptimizeMode string                   `json:"index_optimize_mode,omitempty"`
}

// SetStats copies scan stats into the response.
func (r *Response) SetStats(stats ScanStats) {
	r.ScanFiles = stats.Files
	r.ScanSize = stats.OriginalSize / 1024 / 1024
	r.ScanRecords = stats.Records
	r.IdxScanSize = stats.IdxScanSize / 1024 / 1024
	r.CachedRatio = stats.CacheHitRatio
}

// SetPartial labels the response as partial.
func (r *Response) SetPartial(msg string) {
	r.IsPartial = true
	if r.FunctionError == "" {
		r.FunctionError = msg
	} else if msg != "" {
		r.FunctionError = r.FunctionError + " \n " + msg
	}
}
