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

package client

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/streamql/streamql/cluster"
	metaCom "github.com/streamql/streamql/metastore/common"
	queryCom "github.com/streamql/streamql/query/common"
)

// Flight action types served by data nodes.
const (
	ActionDeletePartition = "delete_partition"
	ActionSearch          = "search"
	ActionMerge           = "merge"
)

// FlightSearchRequest is the ticket of a streaming scan. It carries the
// encoded plan of one partition and the files the partition scans.
type FlightSearchRequest struct {
	TraceID   string            `json:"trace_id"`
	JobID     string            `json:"job_id,omitempty"`
	OrgID     string            `json:"org_id"`
	Stream    metaCom.StreamRef `json:"stream"`
	Partition int               `json:"partition"`
	Plan      []byte            `json:"plan"`
	Files     []metaCom.FileKey `json:"files"`
	// StartTime and EndTime bound the query in microseconds.
	StartTime int64 `json:"start_time"`
	EndTime   int64 `json:"end_time"`
	// ScanLocal makes an ingester scan its own recent files as well.
	ScanLocal bool `json:"scan_local,omitempty"`
	// EnrichMode makes the node emit the unmatched rows of broadcast joins.
	EnrichMode bool                     `json:"enrich_mode,omitempty"`
	Analyze    bool                     `json:"analyze,omitempty"`
	Timeout    int64                    `json:"timeout"`
	SearchType queryCom.SearchEventType `json:"search_type,omitempty"`
}

// Trailer is the app metadata of the last, empty, batch of a scan stream.
type Trailer struct {
	Stats queryCom.ScanStats `json:"stats"`
	// Metrics is the annotated plan of the partition when analyzed.
	Metrics string `json:"metrics,omitempty"`
}

// DeletePartitionRequest deletes the files under Path whose rows lie in
// [Timestamp, End), a zero End leaves the range open.
type DeletePartitionRequest struct {
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
	End       int64  `json:"end,omitempty"`
}

// DeletePartitionResponse tells whether any file was deleted.
type DeletePartitionResponse struct {
	Deleted bool `json:"deleted"`
	Files   int  `json:"files"`
}

// MergeRequest compacts the files of a stream overlapping [Start, End) into
// files sorted by time. A non empty Function downsamples the rows into
// buckets of StepSeconds first.
type MergeRequest struct {
	Schema      metaCom.Schema `json:"schema"`
	Start       int64          `json:"start"`
	End         int64          `json:"end"`
	Function    string         `json:"function,omitempty"`
	StepSeconds int64          `json:"step,omitempty"`
}

// MergeResponse lists the files written by a merge.
type MergeResponse struct {
	Merged int               `json:"merged"`
	Files  []metaCom.FileKey `json:"files"`
}

// RecordStream reads the batches of one partition.
type RecordStream interface {
	// Next returns the next batch, or io.EOF once the stream is exhausted.
	Next(ctx context.Context) (arrow.Record, error)
	// Trailer returns the trailer of the stream, nil until the stream ended.
	Trailer() *Trailer
	Close()
}

// Transport opens scan streams and runs actions on cluster members.
type Transport interface {
	Search(ctx context.Context, node cluster.Node, req *FlightSearchRequest) (RecordStream, error)
	DeletePartition(ctx context.Context, node cluster.Node, req *DeletePartitionRequest) (*DeletePartitionResponse, error)
	SearchOnce(ctx context.Context, node cluster.Node, req *queryCom.Request) (*queryCom.Response, error)
	Merge(ctx context.Context, node cluster.Node, req *MergeRequest) (*MergeResponse, error)
}
