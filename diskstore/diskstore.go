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

package diskstore

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	metaCom "github.com/streamql/streamql/metastore/common"
)

// Metadata keys written into every data file.
const (
	MetaMinTs        = "min_ts"
	MetaMaxTs        = "max_ts"
	MetaRecords      = "records"
	MetaOriginalSize = "original_size"
	// MetaIndexFields lists the fields the file is indexed on, comma separated.
	MetaIndexFields = "index_fields"
)

// DiskStore defines the interface for reading/writing the data files of streams.
type DiskStore interface {
	// Data files.

	// Writes records as a new data file of the stream and indexes it on indexFields.
	WriteFile(ctx context.Context, stream metaCom.StreamRef, records []arrow.Record,
		indexFields []string) (metaCom.FileKey, error)
	// Reads the named columns of a data file, all columns when columns is empty.
	ReadFile(ctx context.Context, stream metaCom.StreamRef, file metaCom.FileKey,
		columns []string) ([]arrow.Record, error)
	// Reads every file of an enrichment table.
	ReadTable(ctx context.Context, stream metaCom.StreamRef) ([]arrow.Record, error)
	// Lists the data files of a stream overlapping [start, end), sorted by key.
	ListFiles(ctx context.Context, stream metaCom.StreamRef, start, end int64) ([]metaCom.FileKey, error)
	// Deletes the data files of the given keys and returns how many existed.
	DeleteFiles(ctx context.Context, keys []string) (int, error)

	// Partitions.

	// Deletes the files under the partition path whose rows all lie in
	// [start, end), a zero end leaves the range open. Returns the number of
	// deleted files.
	DeletePartition(ctx context.Context, path string, start, end int64) (int, error)
}
