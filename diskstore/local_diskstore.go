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
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/util"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/streamql/streamql/index"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/utils"
)

// readBatchSize is the number of rows of the record batches read from files.
const readBatchSize = 8192

// LocalDiskStore is the implementation of DiskStore for local disk. Written
// files are indexed into an in memory index and kept in a catalog.
type LocalDiskStore struct {
	sync.RWMutex
	rootPath string
	index    *index.MemIndex
	mem      memory.Allocator
	catalog  map[string]metaCom.FileKey
}

// NewLocalDiskStore is used to init a LocalDiskStore with rootPath, idx may be nil.
func NewLocalDiskStore(rootPath string, idx *index.MemIndex) *LocalDiskStore {
	return &LocalDiskStore{
		rootPath: rootPath,
		index:    idx,
		mem:      memory.NewGoAllocator(),
		catalog:  map[string]metaCom.FileKey{},
	}
}

func (l *LocalDiskStore) pathForKey(key string) string {
	return filepath.Join(l.rootPath, filepath.FromSlash(key))
}

// Open loads the catalog from the files found on disk and rebuilds their index.
func (l *LocalDiskStore) Open(ctx context.Context) error {
	root := filepath.Join(l.rootPath, files)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, fileSuffix) {
			return nil
		}
		rel, err := filepath.Rel(l.rootPath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if _, _, err := ParseFileKey(key); err != nil {
			utils.GetLogger().Debugf("Skipping unknown file %s: %v", p, err)
			return nil
		}
		return l.load(ctx, key)
	})
	if err != nil {
		return utils.StackError(err, "Failed to open disk store at %s", l.rootPath)
	}
	return nil
}

// load reads the metadata of a file into the catalog and indexes it.
func (l *LocalDiskStore) load(ctx context.Context, key string) error {
	p := l.pathForKey(key)
	rdr, err := file.OpenParquetFile(p, false)
	if err != nil {
		return utils.StackError(err, "Failed to open data file %s", p)
	}
	kv := rdr.MetaData().KeyValueMetadata()
	meta := metaCom.FileMeta{Records: rdr.NumRows()}
	value := func(key string) string {
		if v := kv.FindValue(key); v != nil {
			return *v
		}
		return ""
	}
	meta.MinTs, _ = strconv.ParseInt(value(MetaMinTs), 10, 64)
	meta.MaxTs, _ = strconv.ParseInt(value(MetaMaxTs), 10, 64)
	meta.OriginalSize, _ = strconv.ParseInt(value(MetaOriginalSize), 10, 64)
	var indexFields []string
	if v := value(MetaIndexFields); v != "" {
		indexFields = strings.Split(v, ",")
	}
	rdr.Close()
	if info, err := os.Stat(p); err == nil {
		meta.CompressedSize = info.Size()
	}

	if l.index != nil && len(indexFields) > 0 {
		stream, _, err := ParseFileKey(key)
		if err != nil {
			return err
		}
		records, err := l.ReadFile(ctx, stream, metaCom.FileKey{Key: key}, nil)
		if err != nil {
			return err
		}
		if err := l.index.IndexFile(key, records, indexFields); err != nil {
			return utils.StackError(err, "Failed to index data file %s", key)
		}
	}
	l.Lock()
	l.catalog[key] = metaCom.FileKey{Key: key, Meta: meta}
	l.Unlock()
	return nil
}

// fileMeta computes the metadata of a data file from its records.
func fileMeta(records []arrow.Record) metaCom.FileMeta {
	var meta metaCom.FileMeta
	first := true
	for _, rec := range records {
		meta.Records += rec.NumRows()
		meta.OriginalSize += util.TotalRecordSize(rec)
		idx := rec.Schema().FieldIndices(metaCom.TimestampColumn)
		if len(idx) == 0 {
			continue
		}
		ts, ok := rec.Column(idx[0]).(*array.Int64)
		if !ok {
			continue
		}
		for i := 0; i < ts.Len(); i++ {
			if ts.IsNull(i) {
				continue
			}
			v := ts.Value(i)
			if first || v < meta.MinTs {
				meta.MinTs = v
			}
			if first || v > meta.MaxTs {
				meta.MaxTs = v
			}
			first = false
		}
	}
	return meta
}

// WriteFile writes records as a new parquet file of stream. The file carries
// its time range, row count and original size as key value metadata.
func (l *LocalDiskStore) WriteFile(ctx context.Context, stream metaCom.StreamRef, records []arrow.Record,
	indexFields []string) (metaCom.FileKey, error) {
	if len(records) == 0 {
		return metaCom.FileKey{}, utils.StackError(nil, "No records to write for stream %s", stream)
	}
	schema := records[0].Schema()
	for _, rec := range records[1:] {
		if !rec.Schema().Equal(schema) {
			return metaCom.FileKey{}, utils.StackError(nil, "Records of one file must share a schema, stream %s", stream)
		}
	}
	meta := fileMeta(records)
	key := GetKeyForFile(stream, meta.MinTs, uuid.New().String())
	p := l.pathForKey(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return metaCom.FileKey{}, utils.StackError(err, "Failed to make dirs for path: %s", p)
	}

	tmp := p + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return metaCom.FileKey{}, utils.StackError(err, "Failed to create data file %s", tmp)
	}
	err = writeParquet(f, schema, records, meta, indexFields)
	if err == nil {
		err = os.Rename(tmp, p)
	}
	if err != nil {
		os.Remove(tmp)
		return metaCom.FileKey{}, utils.StackError(err, "Failed to write data file %s", p)
	}
	if info, err := os.Stat(p); err == nil {
		meta.CompressedSize = info.Size()
	}

	if l.index != nil && len(indexFields) > 0 {
		if err := l.index.IndexFile(key, records, indexFields); err != nil {
			return metaCom.FileKey{}, utils.StackError(err, "Failed to index data file %s", key)
		}
	}
	fk := metaCom.FileKey{Key: key, Meta: meta}
	l.Lock()
	l.catalog[key] = fk
	l.Unlock()
	utils.GetLogger().Debugf("Wrote data file %s with %d records", key, meta.Records)
	return fk, nil
}

// writeParquet writes records into f and closes it.
func writeParquet(f *os.File, schema *arrow.Schema, records []arrow.Record, meta metaCom.FileMeta,
	indexFields []string) error {
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Zstd))
	w, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		f.Close()
		return err
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			w.Close()
			return err
		}
	}
	kv := [][2]string{
		{MetaMinTs, strconv.FormatInt(meta.MinTs, 10)},
		{MetaMaxTs, strconv.FormatInt(meta.MaxTs, 10)},
		{MetaRecords, strconv.FormatInt(meta.Records, 10)},
		{MetaOriginalSize, strconv.FormatInt(meta.OriginalSize, 10)},
	}
	if len(indexFields) > 0 {
		kv = append(kv, [2]string{MetaIndexFields, strings.Join(indexFields, ",")})
	}
	for _, pair := range kv {
		if err := w.AppendKeyValueMetadata(pair[0], pair[1]); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// ReadFile reads the named columns of a data file. Columns missing from the
// file are skipped.
func (l *LocalDiskStore) ReadFile(ctx context.Context, stream metaCom.StreamRef, fk metaCom.FileKey,
	columns []string) ([]arrow.Record, error) {
	p := l.pathForKey(fk.Key)
	rdr, err := file.OpenParquetFile(p, false)
	if err != nil {
		return nil, utils.StackError(err, "Failed to open data file %s of stream %s", p, stream)
	}
	defer rdr.Close()
	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{BatchSize: readBatchSize}, l.mem)
	if err != nil {
		return nil, utils.StackError(err, "Failed to read data file %s", p)
	}
	schema, err := fr.Schema()
	if err != nil {
		return nil, utils.StackError(err, "Failed to read schema of data file %s", p)
	}
	var indices []int
	if len(columns) == 0 {
		for i := range schema.Fields() {
			indices = append(indices, i)
		}
	} else {
		for _, c := range columns {
			if idx := schema.FieldIndices(c); len(idx) > 0 {
				indices = append(indices, idx[0])
			}
		}
		if len(indices) == 0 {
			// keep the row count of the file
			indices = []int{0}
		}
		sort.Ints(indices)
	}
	rr, err := fr.GetRecordReader(ctx, indices, nil)
	if err != nil {
		return nil, utils.StackError(err, "Failed to read data file %s", p)
	}
	defer rr.Release()
	var out []arrow.Record
	for rr.Next() {
		rec := rr.Record()
		rec.Retain()
		out = append(out, rec)
	}
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, utils.StackError(err, "Failed to read data file %s", p)
	}
	return out, nil
}

// ReadTable reads every file of an enrichment table in key order.
func (l *LocalDiskStore) ReadTable(ctx context.Context, stream metaCom.StreamRef) ([]arrow.Record, error) {
	fks, err := l.ListFiles(ctx, stream, 0, 0)
	if err != nil {
		return nil, err
	}
	var out []arrow.Record
	for _, fk := range fks {
		records, err := l.ReadFile(ctx, stream, fk, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

// ListFiles lists the catalog files of stream overlapping [start, end).
func (l *LocalDiskStore) ListFiles(ctx context.Context, stream metaCom.StreamRef, start, end int64) ([]metaCom.FileKey, error) {
	prefix := GetKeyForStream(stream) + "/"
	l.RLock()
	var out []metaCom.FileKey
	for key, fk := range l.catalog {
		if strings.HasPrefix(key, prefix) && fk.Meta.Overlaps(start, end) {
			out = append(out, fk)
		}
	}
	l.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DeletePartition deletes the files under the partition path, a key prefix
// such as files/default/logs/nginx/2024/03, whose rows all lie in [start, end).
func (l *LocalDiskStore) DeletePartition(ctx context.Context, partition string, start, end int64) (int, error) {
	prefix := strings.TrimSuffix(path.Clean(partition), "/") + "/"
	if !strings.HasPrefix(prefix, files+"/") {
		return 0, utils.StackError(nil, "Invalid partition path: %s", partition)
	}
	l.Lock()
	var victims []string
	for key, fk := range l.catalog {
		if !strings.HasPrefix(key, prefix) || fk.Meta.MinTs < start || (end > 0 && fk.Meta.MaxTs >= end) {
			continue
		}
		victims = append(victims, key)
		delete(l.catalog, key)
	}
	l.Unlock()
	n, err := l.removeFiles(ctx, victims)
	if err != nil {
		return n, err
	}
	utils.GetLogger().Infof("Deleted %d files of partition %s", n, partition)
	return n, nil
}

// DeleteFiles deletes the data files of the given keys, unknown keys are
// skipped.
func (l *LocalDiskStore) DeleteFiles(ctx context.Context, keys []string) (int, error) {
	l.Lock()
	var victims []string
	for _, key := range keys {
		if _, ok := l.catalog[key]; !ok {
			continue
		}
		victims = append(victims, key)
		delete(l.catalog, key)
	}
	l.Unlock()
	return l.removeFiles(ctx, victims)
}

// removeFiles removes files already taken out of the catalog from the index
// and the file system.
func (l *LocalDiskStore) removeFiles(ctx context.Context, victims []string) (int, error) {
	sort.Strings(victims)
	for i, key := range victims {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if l.index != nil {
			l.index.RemoveFile(key)
		}
		if err := os.Remove(l.pathForKey(key)); err != nil && !os.IsNotExist(err) {
			return i, utils.StackError(err, "Failed to delete data file %s", key)
		}
	}
	return len(victims), nil
}

var _ DiskStore = (*LocalDiskStore)(nil)
