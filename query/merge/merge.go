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

package merge

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/util"
	"github.com/streamql/streamql/common"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/exec"
	"github.com/streamql/streamql/query/expr"
	"github.com/streamql/streamql/query/logical"
	"github.com/streamql/streamql/query/physical"
	"github.com/streamql/streamql/utils"
)

// ResultKind tells how many files a merge produced.
type ResultKind int

const (
	// Single is a merge written as one file.
	Single ResultKind = iota
	// Multiple is a merge split into files of at most the maximum file size.
	Multiple
)

func (k ResultKind) String() string {
	if k == Multiple {
		return "Multiple"
	}
	return "Single"
}

// Result lists the files written by a merge.
type Result struct {
	Kind  ResultKind
	Files []metaCom.FileKey
}

// Store reads the input files and writes the merged ones.
type Store interface {
	exec.TableReader
	WriteFile(ctx context.Context, stream metaCom.StreamRef, records []arrow.Record,
		indexFields []string) (metaCom.FileKey, error)
}

// Merger compacts the data files of a stream.
type Merger struct {
	store       Store
	maxFileSize int64
	cfg         common.QueryConfig
	batchSize   int
	logger      common.Logger
}

// NewMerger creates a merger writing files of at most cfg.MaxFileSizeBytes
// uncompressed bytes, a zero size writes a single file.
func NewMerger(store Store, cfg common.CompactConfig) *Merger {
	return &Merger{
		store:       store,
		maxFileSize: cfg.MaxFileSizeBytes,
		cfg:         utils.GetConfig().Query,
		logger:      utils.GetLogger(),
	}
}

// Merge rewrites files of the stream described by schema into new files
// sorted by time, newest first. A non nil rule downsamples the rows first.
func (m *Merger) Merge(ctx context.Context, schema *metaCom.Schema, files []metaCom.FileKey, rule *Rule) (*Result, error) {
	if len(files) == 0 {
		return nil, utils.StackError(nil, "No files to merge for stream %s", schema.Stream)
	}
	var plan physical.Plan = &physical.TableScanExec{
		Stream: schema.Stream,
		Fields: schema.Fields,
		Files:  files,
	}
	if rule != nil {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		var err error
		if plan, err = downsamplePlan(plan, schema.Fields, *rule); err != nil {
			return nil, utils.StackError(err, "Failed to plan downsampling of stream %s", schema.Stream)
		}
	}
	plan = &physical.SortExec{
		Input: plan,
		Keys:  []logical.SortKey{{Expr: &expr.VarRef{Val: metaCom.TimestampColumn}, Desc: true}},
	}

	start := utils.Now()
	c := exec.NewContext(m.cfg)
	c.Reader = m.store
	if m.batchSize > 0 {
		c.BatchSize = m.batchSize
	}
	c.OrgID = schema.Stream.Org
	records, err := c.Collect(ctx, plan)
	if err != nil {
		return nil, utils.StackError(err, "Failed to read files of stream %s", schema.Stream)
	}
	result, err := m.write(ctx, schema, records)
	if err != nil {
		return nil, err
	}

	reporter := utils.GetReporter(schema.Stream.Org, string(schema.Stream.Type))
	reporter.GetCounter(utils.MergeOutputFiles).Inc(int64(len(result.Files)))
	var rows int64
	for _, f := range result.Files {
		rows += f.Meta.Records
	}
	reporter.GetCounter(utils.MergeOutputRecords).Inc(rows)
	m.logger.With("stream", schema.Stream.String()).Infof(
		"Merged %d files into %d (%s) with %d records in %v",
		len(files), len(result.Files), result.Kind, rows, time.Since(start))
	return result, nil
}

// write flushes records into files, starting a new file whenever the
// uncompressed size of the current one reaches the maximum file size.
func (m *Merger) write(ctx context.Context, schema *metaCom.Schema, records []arrow.Record) (*Result, error) {
	var indexFields []string
	for _, f := range schema.Settings.IndexFields {
		if schema.HasField(f) {
			indexFields = append(indexFields, f)
		}
	}
	result := &Result{Kind: Single}
	var chunk []arrow.Record
	var size int64
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		fk, err := m.store.WriteFile(ctx, schema.Stream, chunk, indexFields)
		if err != nil {
			return utils.StackError(err, "Failed to write merged file of stream %s", schema.Stream)
		}
		result.Files = append(result.Files, fk)
		chunk, size = nil, 0
		return nil
	}
	for _, rec := range records {
		if rec.NumRows() == 0 {
			continue
		}
		chunk = append(chunk, rec)
		size += util.TotalRecordSize(rec)
		if m.maxFileSize > 0 && size >= m.maxFileSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(result.Files) > 1 {
		result.Kind = Multiple
	}
	return result, nil
}
