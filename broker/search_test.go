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

package broker

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/streamql/streamql/cluster"
	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/datanode"
	"github.com/streamql/streamql/datanode/client"
	"github.com/streamql/streamql/metastore"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/cipher"
	queryCom "github.com/streamql/streamql/query/common"
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

type emptyStream struct{}

func (emptyStream) Next(ctx context.Context) (arrow.Record, error) {
	return nil, io.EOF
}

func (emptyStream) Trailer() *client.Trailer {
	return &client.Trailer{}
}

func (emptyStream) Close() {}

type blockingStream struct{}

func (blockingStream) Next(ctx context.Context) (arrow.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStream) Trailer() *client.Trailer {
	return nil
}

func (blockingStream) Close() {}

// fakeRemote stands for the other cluster members. It records the scan
// requests it receives and answers them with empty streams, deadline
// errors or streams that never end.
type fakeRemote struct {
	sync.Mutex
	requests map[string][]client.FlightSearchRequest
	timeouts map[string]bool
	failures map[string]bool
	blocking map[string]bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		requests: map[string][]client.FlightSearchRequest{},
		timeouts: map[string]bool{},
		failures: map[string]bool{},
		blocking: map[string]bool{},
	}
}

func (f *fakeRemote) Search(ctx context.Context, node cluster.Node, req *client.FlightSearchRequest) (client.RecordStream, error) {
	f.Lock()
	defer f.Unlock()
	f.requests[node.ID] = append(f.requests[node.ID], *req)
	switch {
	case f.timeouts[node.ID]:
		return nil, status.Error(codes.DeadlineExceeded, "context deadline exceeded")
	case f.failures[node.ID]:
		return nil, status.Error(codes.Unavailable, "connection refused")
	case f.blocking[node.ID]:
		return blockingStream{}, nil
	}
	return emptyStream{}, nil
}

func (f *fakeRemote) DeletePartition(ctx context.Context, node cluster.Node,
	req *client.DeletePartitionRequest) (*client.DeletePartitionResponse, error) {
	return &client.DeletePartitionResponse{}, nil
}

func (f *fakeRemote) SearchOnce(ctx context.Context, node cluster.Node, req *queryCom.Request) (*queryCom.Response, error) {
	return &queryCom.Response{TraceID: req.TraceID}, nil
}

func (f *fakeRemote) Merge(ctx context.Context, node cluster.Node, req *client.MergeRequest) (*client.MergeResponse, error) {
	return &client.MergeResponse{}, nil
}

func (f *fakeRemote) calls(id string) []client.FlightSearchRequest {
	f.Lock()
	defer f.Unlock()
	return f.requests[id]
}

var _ = ginkgo.Describe("SearchService", func() {
	var (
		root    string
		d       datanode.DataNode
		remote  *fakeRemote
		local   *recordingTransport
		service *SearchService
		files   []metaCom.FileKey
	)
	ctx := context.Background()
	stream := metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeLogs, Name: "t"}
	self := cluster.Node{ID: "n1", Name: "n1", Roles: []cluster.Role{cluster.RoleQuerier, cluster.RoleIngester}}

	newService := func(nodes ...cluster.Node) *SearchService {
		cfg := common.DefaultServerConfig()
		cfg.Storage.RootPath = root
		membership, err := cluster.NewStaticMembership(self.ID, append([]cluster.Node{self}, nodes...))
		Ω(err).Should(BeNil())

		schemas := metastore.NewMemStore()
		Ω(schemas.PutSchema(&metaCom.Schema{
			Stream: stream,
			Fields: []metaCom.Field{
				{Name: metaCom.TimestampColumn, Type: metaCom.Int64},
				{Name: "name", Type: metaCom.Utf8},
			},
		})).Should(Succeed())

		local = &recordingTransport{
			Transport: &datanode.LocalTransport{Self: self, Service: d.Service(), Remote: remote},
		}
		executor := NewExecutor(cfg, membership, d.Store(), local)
		return NewSearchService(cfg, schemas, executor, d.Store(), cipher.NewKeyStore())
	}

	search := func(sql string, size int64) (*queryCom.Response, error) {
		return service.Search(ctx, &queryCom.Request{
			OrgID:      "default",
			StreamType: metaCom.StreamTypeLogs,
			Query:      queryCom.Query{SQL: sql, Size: size},
		})
	}

	names := func(resp *queryCom.Response) []interface{} {
		var out []interface{}
		for _, hit := range resp.Hits {
			out = append(out, hit["name"])
		}
		return out
	}

	ginkgo.BeforeEach(func() {
		var err error
		root, err = ioutil.TempDir("", "testBroker")
		Ω(err).Should(BeNil())

		cfg := common.DefaultServerConfig()
		cfg.Storage.RootPath = root
		d = datanode.NewDataNode(cfg, self, cipher.NewKeyStore(), datanode.NewOptions())
		Ω(d.Open(ctx)).Should(Succeed())

		_, err = d.Store().WriteFile(ctx, stream, []arrow.Record{
			logRecord([]int64{1, 2}, []string{"openobserve", "observe"}),
		}, []string{"name"})
		Ω(err).Should(BeNil())
		_, err = d.Store().WriteFile(ctx, stream, []arrow.Record{
			logRecord([]int64{3, 4, 5}, []string{"openobserve", "oo", "o2"}),
		}, []string{"name"})
		Ω(err).Should(BeNil())
		files, err = d.Store().ListFiles(ctx, stream, 0, 0)
		Ω(err).Should(BeNil())
		Ω(files).Should(HaveLen(2))

		remote = newFakeRemote()
		service = newService()
	})

	ginkgo.AfterEach(func() {
		d.Close()
		os.RemoveAll(root)
	})

	ginkgo.It("Returns the oldest rows first when ordered by ascending time", func() {
		resp, err := search("SELECT name FROM t ORDER BY _timestamp ASC", 2)
		Ω(err).Should(BeNil())
		Ω(resp.IsPartial).Should(BeFalse())
		Ω(names(resp)).Should(Equal([]interface{}{"openobserve", "observe"}))
		Ω(resp.Size).Should(BeEquivalentTo(2))
	})

	ginkgo.It("Returns the latest rows first without ORDER BY", func() {
		resp, err := search("SELECT * FROM t", 2)
		Ω(err).Should(BeNil())
		Ω(resp.Hits).Should(HaveLen(2))
		Ω(resp.Hits[0][metaCom.TimestampColumn]).Should(BeEquivalentTo(5))
		Ω(resp.Hits[0]["name"]).Should(Equal("o2"))
		Ω(resp.Hits[1][metaCom.TimestampColumn]).Should(BeEquivalentTo(4))
		Ω(resp.Hits[1]["name"]).Should(Equal("oo"))
		Ω(resp.Columns).Should(ContainElement("name"))
	})

	ginkgo.It("Returns the latest rows for a LIMIT without ORDER BY", func() {
		resp, err := search("SELECT name FROM t LIMIT 2", 0)
		Ω(err).Should(BeNil())
		Ω(names(resp)).Should(Equal([]interface{}{"o2", "oo"}))

		resp, err = search("SELECT name FROM t LIMIT 2 OFFSET 1", 0)
		Ω(err).Should(BeNil())
		Ω(names(resp)).Should(Equal([]interface{}{"oo", "openobserve"}))
	})

	ginkgo.It("Filters rows of every partition", func() {
		resp, err := search("SELECT name FROM t WHERE name = 'openobserve'", 0)
		Ω(err).Should(BeNil())
		Ω(names(resp)).Should(Equal([]interface{}{"openobserve", "openobserve"}))
	})

	ginkgo.It("Issues one call per partition with a single enrich node", func() {
		peer := cluster.Node{ID: "n2", Name: "n2", Roles: []cluster.Role{cluster.RoleQuerier, cluster.RoleIngester}}
		service = newService(peer)

		resp, err := search("SELECT * FROM t", 10)
		Ω(err).Should(BeNil())
		Ω(resp.Hits).Should(HaveLen(5))

		localCalls := local.calls(self.ID)
		peerCalls := remote.calls(peer.ID)
		Ω(localCalls).Should(HaveLen(1))
		Ω(peerCalls).Should(HaveLen(1))
		Ω(localCalls[0].Partition).ShouldNot(Equal(peerCalls[0].Partition))
		Ω(localCalls[0].JobID).Should(Equal(peerCalls[0].JobID))

		enriched := 0
		assigned := map[string]int{}
		for _, req := range append(localCalls, peerCalls...) {
			if req.EnrichMode {
				enriched++
			}
			for _, f := range req.Files {
				assigned[f.Key]++
			}
		}
		Ω(enriched).Should(Equal(1))
		Ω(assigned).Should(HaveLen(len(files)))
		for _, f := range files {
			Ω(assigned[f.Key]).Should(Equal(1))
		}
	})

	ginkgo.It("Returns a partial result when a partition runs out of time", func() {
		peer := cluster.Node{ID: "n2", Name: "n2", Roles: []cluster.Role{cluster.RoleQuerier, cluster.RoleIngester}}
		remote.timeouts[peer.ID] = true
		service = newService(peer)

		resp, err := search("SELECT name FROM t ORDER BY _timestamp ASC", 10)
		Ω(err).Should(BeNil())
		Ω(resp.IsPartial).Should(BeTrue())
		Ω(resp.FunctionError).Should(ContainSubstring("n2"))
		Ω(names(resp)).Should(Equal([]interface{}{"openobserve", "observe", "openobserve", "oo", "o2"}))
		Ω(remote.calls(peer.ID)).Should(HaveLen(1))
	})

	ginkgo.It("Fails the search when a partition fails for another reason", func() {
		peer := cluster.Node{ID: "n2", Name: "n2", Roles: []cluster.Role{cluster.RoleQuerier, cluster.RoleIngester}}
		remote.failures[peer.ID] = true
		service = newService(peer)

		resp, err := search("SELECT name FROM t", 10)
		Ω(resp).Should(BeNil())
		Ω(err).ShouldNot(BeNil())
		Ω(queryCom.IsKind(err, queryCom.Internal)).Should(BeTrue())
		Ω(err.Error()).Should(ContainSubstring("node n2 failed"))
		Ω(err.Error()).Should(ContainSubstring("Unavailable"))
	})

	ginkgo.It("Aborts a search canceled by trace id", func() {
		peer := cluster.Node{ID: "n2", Name: "n2", Roles: []cluster.Role{cluster.RoleQuerier, cluster.RoleIngester}}
		remote.blocking[peer.ID] = true
		service = newService(peer)

		errs := make(chan error, 1)
		go func() {
			_, err := service.Search(ctx, &queryCom.Request{
				TraceID: "trace-cancel",
				OrgID:   "default",
				Query:   queryCom.Query{SQL: "SELECT * FROM t"},
			})
			errs <- err
		}()

		Eventually(func() int {
			return len(service.Running("default"))
		}).Should(Equal(1))
		Ω(service.Running("other")).Should(BeEmpty())
		Ω(service.Cancel("trace-cancel")).Should(BeTrue())

		var err error
		Eventually(errs).Should(Receive(&err))
		Ω(queryCom.IsKind(err, queryCom.Canceled)).Should(BeTrue())
		Ω(service.Running("")).Should(BeEmpty())
		Ω(service.Cancel("trace-cancel")).Should(BeFalse())
	})

	ginkgo.It("Rejects a query over an unknown stream", func() {
		_, err := search("SELECT * FROM missing", 0)
		Ω(err).ShouldNot(BeNil())
	})
})

// recordingTransport records the scans the leader sends to itself.
type recordingTransport struct {
	client.Transport
	sync.Mutex
	requests map[string][]client.FlightSearchRequest
}

func (r *recordingTransport) Search(ctx context.Context, node cluster.Node, req *client.FlightSearchRequest) (client.RecordStream, error) {
	r.Lock()
	if r.requests == nil {
		r.requests = map[string][]client.FlightSearchRequest{}
	}
	r.requests[node.ID] = append(r.requests[node.ID], *req)
	r.Unlock()
	return r.Transport.Search(ctx, node, req)
}

func (r *recordingTransport) calls(id string) []client.FlightSearchRequest {
	r.Lock()
	defer r.Unlock()
	return r.requests[id]
}
