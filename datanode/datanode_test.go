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

package datanode

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/streamql/streamql/cluster"
	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/datanode/client"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/cipher"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/query/exec"
	"github.com/streamql/streamql/query/physical"
	"github.com/streamql/streamql/query/sql"
)

func logRecord(ts []int64, names []string) arrow.Record {
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

func readAll(ctx context.Context, s client.RecordStream) ([]string, error) {
	defer s.Close()
	var names []string
	for {
		rec, err := s.Next(ctx)
		if err == io.EOF {
			sort.Strings(names)
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		for _, row := range exec.Rows(rec) {
			names = append(names, row[1].(string))
		}
	}
}

type fakeSearchHandler struct{}

func (fakeSearchHandler) Search(ctx context.Context, req *queryCom.Request) (*queryCom.Response, error) {
	return &queryCom.Response{TraceID: req.TraceID, Total: 42}, nil
}

var _ = ginkgo.Describe("DataNode", func() {
	var (
		root      string
		d         DataNode
		transport *client.FlightTransport
		remote    cluster.Node
		files     []metaCom.FileKey
		plan      []byte
	)
	ctx := context.Background()
	stream := metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeLogs, Name: "t"}
	fields := []metaCom.Field{
		{Name: metaCom.TimestampColumn, Type: metaCom.Int64},
		{Name: "name", Type: metaCom.Utf8},
	}

	ginkgo.BeforeEach(func() {
		var err error
		root, err = ioutil.TempDir("", "testDataNode")
		Ω(err).Should(BeNil())

		cfg := common.DefaultServerConfig()
		cfg.Storage.RootPath = root
		cfg.FlightPort = 0
		cfg.Query.FlightCompression = true
		self := cluster.Node{ID: "n1", Roles: []cluster.Role{cluster.RoleQuerier, cluster.RoleIngester}}
		d = NewDataNode(cfg, self, cipher.NewKeyStore(), NewOptions())
		Ω(d.Open(ctx)).Should(Succeed())

		_, err = d.Store().WriteFile(ctx, stream, []arrow.Record{logRecord([]int64{100, 200}, []string{"alice", "bob"})}, []string{"name"})
		Ω(err).Should(BeNil())
		_, err = d.Store().WriteFile(ctx, stream, []arrow.Record{logRecord([]int64{300}, []string{"carol"})}, nil)
		Ω(err).Should(BeNil())
		files, err = d.Store().ListFiles(ctx, stream, 0, 0)
		Ω(err).Should(BeNil())
		Ω(files).Should(HaveLen(2))

		Ω(d.Listen()).Should(Succeed())
		go d.Serve()
		remote = cluster.Node{ID: "remote", GRPCAddr: d.Addr().String()}
		transport = client.NewFlightTransport()

		pred, err := sql.ParseExpr("name != 'bob'")
		Ω(err).Should(BeNil())
		plan, err = physical.Encode(&physical.FilterExec{
			Input:     &physical.TableScanExec{Stream: stream, Relation: "t", Fields: fields},
			Predicate: pred,
		})
		Ω(err).Should(BeNil())
	})

	ginkgo.AfterEach(func() {
		transport.Close()
		d.Close()
		os.RemoveAll(root)
	})

	ginkgo.It("Streams the batches of a partition with its stats", func() {
		s, err := transport.Search(ctx, remote, &client.FlightSearchRequest{
			TraceID: "t1", OrgID: "default", Stream: stream, Plan: plan, Files: files, Timeout: 10,
		})
		Ω(err).Should(BeNil())
		names, err := readAll(ctx, s)
		Ω(err).Should(BeNil())
		Ω(names).Should(Equal([]string{"alice", "carol"}))
		Ω(s.Trailer()).ShouldNot(BeNil())
		Ω(s.Trailer().Stats.Files).Should(Equal(int64(2)))
		Ω(s.Trailer().Stats.Records).Should(Equal(int64(3)))
	})

	ginkgo.It("Scans only the files of the partition", func() {
		s, err := transport.Search(ctx, remote, &client.FlightSearchRequest{
			OrgID: "default", Stream: stream, Plan: plan, Files: files[1:],
		})
		Ω(err).Should(BeNil())
		names, err := readAll(ctx, s)
		Ω(err).Should(BeNil())
		Ω(names).Should(Equal([]string{"carol"}))
	})

	ginkgo.It("Adds the local files of an ingester", func() {
		s, err := transport.Search(ctx, remote, &client.FlightSearchRequest{
			OrgID: "default", Stream: stream, Plan: plan, Files: files[1:], ScanLocal: true,
		})
		Ω(err).Should(BeNil())
		names, err := readAll(ctx, s)
		Ω(err).Should(BeNil())
		Ω(names).Should(Equal([]string{"alice", "carol"}))
	})

	ginkgo.It("Reports the metrics of analyzed partitions", func() {
		s, err := transport.Search(ctx, remote, &client.FlightSearchRequest{
			OrgID: "default", Stream: stream, Plan: plan, Files: files, Analyze: true,
		})
		Ω(err).Should(BeNil())
		_, err = readAll(ctx, s)
		Ω(err).Should(BeNil())
		Ω(s.Trailer().Metrics).Should(ContainSubstring("output_rows=2"))
	})

	ginkgo.It("Runs self calls in process", func() {
		local := &LocalTransport{Self: d.Node(), Service: d.Service(), Remote: transport}
		s, err := local.Search(ctx, d.Node(), &client.FlightSearchRequest{
			OrgID: "default", Stream: stream, Plan: plan, Files: files,
		})
		Ω(err).Should(BeNil())
		_, ok := s.(*PartitionStream)
		Ω(ok).Should(BeTrue())
		names, err := readAll(ctx, s)
		Ω(err).Should(BeNil())
		Ω(names).Should(Equal([]string{"alice", "carol"}))
		Ω(s.Trailer().Stats.Files).Should(Equal(int64(2)))

		s, err = local.Search(ctx, remote, &client.FlightSearchRequest{
			OrgID: "default", Stream: stream, Plan: plan, Files: files[:1],
		})
		Ω(err).Should(BeNil())
		names, err = readAll(ctx, s)
		Ω(err).Should(BeNil())
		Ω(names).Should(Equal([]string{"alice"}))
	})

	ginkgo.It("Fails partitions with an invalid plan", func() {
		s, err := transport.Search(ctx, remote, &client.FlightSearchRequest{
			OrgID: "default", Stream: stream, Plan: []byte("garbage"), Files: files,
		})
		if err == nil {
			_, err = readAll(ctx, s)
		}
		Ω(err).ShouldNot(BeNil())
		Ω(client.IsDeadlineOrCanceled(err)).Should(BeFalse())
	})

	ginkgo.It("Deletes partitions", func() {
		resp, err := transport.DeletePartition(ctx, remote, &client.DeletePartitionRequest{
			Path: "files/default/logs/t/", Timestamp: 0, End: 250,
		})
		Ω(err).Should(BeNil())
		Ω(resp.Deleted).Should(BeTrue())
		Ω(resp.Files).Should(Equal(1))

		left, err := d.Store().ListFiles(ctx, stream, 0, 0)
		Ω(err).Should(BeNil())
		Ω(left).Should(HaveLen(1))

		resp, err = transport.DeletePartition(ctx, remote, &client.DeletePartitionRequest{
			Path: "files/default/logs/t/", Timestamp: 0, End: 250,
		})
		Ω(err).Should(BeNil())
		Ω(resp.Deleted).Should(BeFalse())
	})

	ginkgo.It("Merges the files of a stream", func() {
		schema := metaCom.Schema{Stream: stream, Fields: fields}
		resp, err := transport.Merge(ctx, remote, &client.MergeRequest{Schema: schema})
		Ω(err).Should(BeNil())
		Ω(resp.Merged).Should(Equal(2))
		Ω(resp.Files).Should(HaveLen(1))
		Ω(resp.Files[0].Meta.Records).Should(Equal(int64(3)))
		Ω(resp.Files[0].Meta.MinTs).Should(Equal(int64(100)))
		Ω(resp.Files[0].Meta.MaxTs).Should(Equal(int64(300)))

		left, err := d.Store().ListFiles(ctx, stream, 0, 0)
		Ω(err).Should(BeNil())
		Ω(left).Should(HaveLen(1))
		Ω(left[0].Key).Should(Equal(resp.Files[0].Key))

		local := &LocalTransport{Self: d.Node(), Service: d.Service(), Remote: transport}
		resp, err = local.Merge(ctx, d.Node(), &client.MergeRequest{Schema: schema})
		Ω(err).Should(BeNil())
		Ω(resp.Merged).Should(Equal(0))
		Ω(resp.Files).Should(HaveLen(1))
	})

	ginkgo.It("Runs whole searches through the search handler", func() {
		_, err := transport.SearchOnce(ctx, remote, &queryCom.Request{TraceID: "t2"})
		Ω(status.Code(err)).Should(Equal(codes.Unimplemented))

		d.Service().SetSearchHandler(fakeSearchHandler{})
		resp, err := transport.SearchOnce(ctx, remote, &queryCom.Request{TraceID: "t2"})
		Ω(err).Should(BeNil())
		Ω(resp.TraceID).Should(Equal("t2"))
		Ω(resp.Total).Should(Equal(int64(42)))
	})
})
