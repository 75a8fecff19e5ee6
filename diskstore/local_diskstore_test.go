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
	"io/ioutil"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/streamql/streamql/index"
	metaCom "github.com/streamql/streamql/metastore/common"
)

func testRecord(ts []int64, names []string) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: metaCom.TimestampColumn, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues(ts, nil)
	b.Field(1).(*array.StringBuilder).AppendValues(names, nil)
	return b.NewRecord()
}

func names(records []arrow.Record) []string {
	var out []string
	for _, rec := range records {
		idx := rec.Schema().FieldIndices("name")
		col := rec.Column(idx[0]).(*array.String)
		for i := 0; i < col.Len(); i++ {
			out = append(out, col.Value(i))
		}
	}
	return out
}

var _ = ginkgo.Describe("LocalDiskStore", func() {
	var prefix string
	ctx := context.Background()
	stream := metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeLogs, Name: "nginx"}
	enrich := metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeEnrichmentTables, Name: "codes"}

	ginkgo.BeforeEach(func() {
		var err error
		prefix, err = ioutil.TempDir("", "testDiskStoreSuite")
		Ω(err).Should(BeNil())
	})

	ginkgo.AfterEach(func() {
		os.RemoveAll(prefix)
	})

	ginkgo.It("Writes and reads data files with metadata", func() {
		idx := index.NewMemIndex(metaCom.TimestampColumn)
		l := NewLocalDiskStore(prefix, idx)
		fk, err := l.WriteFile(ctx, stream, []arrow.Record{
			testRecord([]int64{300, 100}, []string{"carol", "alice"}),
			testRecord([]int64{200}, []string{"bob"}),
		}, []string{"name"})
		Ω(err).Should(BeNil())
		Ω(fk.Key).Should(HavePrefix("files/default/logs/nginx/1970/01/01/00/100_"))
		Ω(fk.Meta.MinTs).Should(Equal(int64(100)))
		Ω(fk.Meta.MaxTs).Should(Equal(int64(300)))
		Ω(fk.Meta.Records).Should(Equal(int64(3)))
		Ω(fk.Meta.OriginalSize).Should(BeNumerically(">", 0))
		Ω(fk.Meta.CompressedSize).Should(BeNumerically(">", 0))
		Ω(idx.Has(fk.Key)).Should(BeTrue())

		records, err := l.ReadFile(ctx, stream, fk, []string{"name", "missing"})
		Ω(err).Should(BeNil())
		Ω(names(records)).Should(Equal([]string{"carol", "alice", "bob"}))
		Ω(records[0].NumCols()).Should(Equal(int64(1)))

		count, err := idx.Count(ctx, fk.Key, &index.TermQuery{Field: "name", Term: "bob"})
		Ω(err).Should(BeNil())
		Ω(count).Should(Equal(int64(1)))

		_, err = l.ReadFile(ctx, stream, metaCom.FileKey{Key: "files/default/logs/nginx/none.parquet"}, nil)
		Ω(err).ShouldNot(BeNil())

		_, err = l.WriteFile(ctx, stream, nil, nil)
		Ω(err).ShouldNot(BeNil())
	})

	ginkgo.It("Writes a file in place and reads back every column", func() {
		l := NewLocalDiskStore(prefix, nil)
		fk, err := l.WriteFile(ctx, stream, []arrow.Record{testRecord([]int64{10, 20}, []string{"x", "y"})}, nil)
		Ω(err).Should(BeNil())

		files, err := l.ListFiles(ctx, stream, 0, 0)
		Ω(err).Should(BeNil())
		Ω(files).Should(HaveLen(1))
		Ω(files[0].Key).Should(Equal(fk.Key))

		p := l.pathForKey(fk.Key)
		_, err = os.Stat(p)
		Ω(err).Should(BeNil())
		_, err = os.Stat(p + ".tmp")
		Ω(os.IsNotExist(err)).Should(BeTrue())

		records, err := l.ReadFile(ctx, stream, fk, nil)
		Ω(err).Should(BeNil())
		Ω(records).Should(HaveLen(1))
		Ω(records[0].NumCols()).Should(Equal(int64(2)))
		Ω(names(records)).Should(Equal([]string{"x", "y"}))
	})

	ginkgo.It("Lists files by time range and reopens the catalog", func() {
		l := NewLocalDiskStore(prefix, nil)
		first, err := l.WriteFile(ctx, stream, []arrow.Record{testRecord([]int64{100, 200}, []string{"a", "b"})}, []string{"name"})
		Ω(err).Should(BeNil())
		second, err := l.WriteFile(ctx, stream, []arrow.Record{testRecord([]int64{500, 900}, []string{"c", "d"})}, nil)
		Ω(err).Should(BeNil())

		fks, err := l.ListFiles(ctx, stream, 0, 0)
		Ω(err).Should(BeNil())
		Ω(fks).Should(HaveLen(2))
		fks, err = l.ListFiles(ctx, stream, 300, 600)
		Ω(err).Should(BeNil())
		Ω(fks).Should(Equal([]metaCom.FileKey{second}))
		fks, err = l.ListFiles(ctx, stream, 0, 100)
		Ω(err).Should(BeNil())
		Ω(fks).Should(BeEmpty())

		idx := index.NewMemIndex(metaCom.TimestampColumn)
		reopened := NewLocalDiskStore(prefix, idx)
		Ω(reopened.Open(ctx)).Should(BeNil())
		fks, err = reopened.ListFiles(ctx, stream, 0, 0)
		Ω(err).Should(BeNil())
		Ω(fks).Should(HaveLen(2))
		Ω(fks[0].Meta.MinTs).Should(Equal(first.Meta.MinTs))
		Ω(fks[0].Meta.Records).Should(Equal(first.Meta.Records))
		// only files written with index fields are indexed again
		Ω(idx.Has(first.Key)).Should(BeTrue())
		Ω(idx.Has(second.Key)).Should(BeFalse())

		empty := NewLocalDiskStore(prefix+"/none", nil)
		Ω(empty.Open(ctx)).Should(BeNil())
	})

	ginkgo.It("Reads enrichment tables", func() {
		l := NewLocalDiskStore(prefix, nil)
		_, err := l.WriteFile(ctx, enrich, []arrow.Record{testRecord([]int64{1}, []string{"x"})}, nil)
		Ω(err).Should(BeNil())
		_, err = l.WriteFile(ctx, enrich, []arrow.Record{testRecord([]int64{2}, []string{"y"})}, nil)
		Ω(err).Should(BeNil())
		records, err := l.ReadTable(ctx, enrich)
		Ω(err).Should(BeNil())
		Ω(names(records)).Should(ConsistOf("x", "y"))
	})

	ginkgo.It("Deletes partitions", func() {
		idx := index.NewMemIndex(metaCom.TimestampColumn)
		l := NewLocalDiskStore(prefix, idx)
		old, err := l.WriteFile(ctx, stream, []arrow.Record{testRecord([]int64{100, 200}, []string{"a", "b"})}, []string{"name"})
		Ω(err).Should(BeNil())
		_, err = l.WriteFile(ctx, stream, []arrow.Record{testRecord([]int64{150, 900}, []string{"c", "d"})}, nil)
		Ω(err).Should(BeNil())

		_, err = l.DeletePartition(ctx, "data/nginx", 0, 0)
		Ω(err).ShouldNot(BeNil())

		deleted, err := l.DeletePartition(ctx, GetKeyForStream(stream), 0, 500)
		Ω(err).Should(BeNil())
		Ω(deleted).Should(Equal(1))
		Ω(idx.Has(old.Key)).Should(BeFalse())
		_, err = os.Stat(l.pathForKey(old.Key))
		Ω(os.IsNotExist(err)).Should(BeTrue())

		fks, err := l.ListFiles(ctx, stream, 0, 0)
		Ω(err).Should(BeNil())
		Ω(fks).Should(HaveLen(1))

		deleted, err = l.DeletePartition(ctx, GetKeyForStream(stream)+"/", 0, 0)
		Ω(err).Should(BeNil())
		Ω(deleted).Should(Equal(1))
	})

	ginkgo.It("Deletes files by key", func() {
		idx := index.NewMemIndex(metaCom.TimestampColumn)
		l := NewLocalDiskStore(prefix, idx)
		fk, err := l.WriteFile(ctx, stream, []arrow.Record{testRecord([]int64{100}, []string{"a"})}, []string{"name"})
		Ω(err).Should(BeNil())
		_, err = l.WriteFile(ctx, stream, []arrow.Record{testRecord([]int64{200}, []string{"b"})}, nil)
		Ω(err).Should(BeNil())

		deleted, err := l.DeleteFiles(ctx, []string{fk.Key, "files/default/logs/nginx/missing.parquet"})
		Ω(err).Should(BeNil())
		Ω(deleted).Should(Equal(1))
		Ω(idx.Has(fk.Key)).Should(BeFalse())

		fks, err := l.ListFiles(ctx, stream, 0, 0)
		Ω(err).Should(BeNil())
		Ω(fks).Should(HaveLen(1))
	})
})
