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

package api

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"

	"github.com/gorilla/mux"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/streamql/streamql/broker"
	metaCom "github.com/streamql/streamql/metastore/common"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/utils"
)

type fakeSearchService struct {
	last     *queryCom.Request
	err      error
	canceled []string
}

func (f *fakeSearchService) Search(ctx context.Context, req *queryCom.Request) (*queryCom.Response, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &queryCom.Response{
		TraceID: "t1",
		Columns: []string{"name"},
		Hits:    []map[string]interface{}{{"name": "openobserve"}, {"name": "observe"}},
		Total:   2,
	}, nil
}

func (f *fakeSearchService) Cancel(traceID string) bool {
	if traceID != "t1" {
		return false
	}
	f.canceled = append(f.canceled, traceID)
	return true
}

func (f *fakeSearchService) Running(org string) []broker.TaskInfo {
	return []broker.TaskInfo{{TraceID: "t1", OrgID: org, SQL: "SELECT 1"}}
}

var _ = ginkgo.Describe("SearchHandler", func() {
	var testServer *httptest.Server
	var hostPort string
	var service *fakeSearchService

	ginkgo.BeforeEach(func() {
		service = &fakeSearchService{}
		testRouter := mux.NewRouter()
		NewSearchHandler(service).Register(testRouter, utils.WithMetrics, utils.WithLogging)
		testServer = httptest.NewUnstartedServer(WithPanicHandling(testRouter))
		testServer.Start()
		hostPort = testServer.Listener.Addr().String()
	})

	ginkgo.AfterEach(func() {
		testServer.Close()
	})

	search := func(query, body string) *http.Response {
		resp, err := http.Post(fmt.Sprintf("http://%s/api/default/_search%s", hostPort, query),
			"application/json", bytes.NewBufferString(body))
		Ω(err).Should(BeNil())
		return resp
	}

	ginkgo.It("Search should work", func() {
		resp := search("?type=metrics&search_type=reports",
			`{"query":{"sql":"SELECT name FROM t","size":2,"start_time":1,"end_time":6}}`)
		Ω(resp.StatusCode).Should(Equal(http.StatusOK))
		b, err := ioutil.ReadAll(resp.Body)
		Ω(err).Should(BeNil())

		var out queryCom.Response
		Ω(json.Unmarshal(b, &out)).Should(Succeed())
		Ω(out.Total).Should(BeEquivalentTo(2))
		Ω(out.Hits).Should(HaveLen(2))
		Ω(out.Hits[0]["name"]).Should(Equal("openobserve"))

		Ω(service.last.OrgID).Should(Equal("default"))
		Ω(service.last.StreamType).Should(Equal(metaCom.StreamTypeMetrics))
		Ω(service.last.SearchType).Should(Equal(queryCom.SearchEventReports))
		Ω(service.last.Query.SQL).Should(Equal("SELECT name FROM t"))
		Ω(service.last.Query.Size).Should(BeEquivalentTo(2))
	})

	ginkgo.It("Search should map error kinds to status codes", func() {
		service.err = queryCom.ErrSQLNotValid("syntax error")
		resp := search("", `{"query":{"sql":"SELEC"}}`)
		Ω(resp.StatusCode).Should(Equal(http.StatusBadRequest))
		b, err := ioutil.ReadAll(resp.Body)
		Ω(err).Should(BeNil())
		Ω(string(b)).Should(ContainSubstring("Search SQL not valid"))

		service.err = queryCom.NewError(queryCom.Timeout, "too slow")
		Ω(search("", `{"query":{"sql":"SELECT 1"}}`).StatusCode).Should(Equal(http.StatusRequestTimeout))

		service.err = queryCom.ErrNotImplemented("window functions")
		Ω(search("", `{"query":{"sql":"SELECT 1"}}`).StatusCode).Should(Equal(http.StatusNotImplemented))

		service.err = fmt.Errorf("boom")
		Ω(search("", `{"query":{"sql":"SELECT 1"}}`).StatusCode).Should(Equal(http.StatusInternalServerError))
	})

	ginkgo.It("Search should reject bad requests", func() {
		Ω(search("?type=bogus", `{"query":{"sql":"SELECT 1"}}`).StatusCode).Should(Equal(http.StatusBadRequest))
		Ω(search("", `{"query":`).StatusCode).Should(Equal(http.StatusBadRequest))
	})

	ginkgo.It("Cancel should work", func() {
		req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("http://%s/api/default/query_manager/t1", hostPort), nil)
		Ω(err).Should(BeNil())
		resp, err := http.DefaultClient.Do(req)
		Ω(err).Should(BeNil())
		Ω(resp.StatusCode).Should(Equal(http.StatusOK))
		b, err := ioutil.ReadAll(resp.Body)
		Ω(err).Should(BeNil())
		Ω(string(b)).Should(MatchJSON(`{"trace_id":"t1","is_success":true}`))
		Ω(service.canceled).Should(Equal([]string{"t1"}))

		req, err = http.NewRequest(http.MethodDelete, fmt.Sprintf("http://%s/api/default/query_manager/t2", hostPort), nil)
		Ω(err).Should(BeNil())
		resp, err = http.DefaultClient.Do(req)
		Ω(err).Should(BeNil())
		Ω(resp.StatusCode).Should(Equal(http.StatusNotFound))
	})

	ginkgo.It("Status should list running searches", func() {
		resp, err := http.Get(fmt.Sprintf("http://%s/api/default/query_manager/status", hostPort))
		Ω(err).Should(BeNil())
		Ω(resp.StatusCode).Should(Equal(http.StatusOK))
		b, err := ioutil.ReadAll(resp.Body)
		Ω(err).Should(BeNil())
		var tasks []broker.TaskInfo
		Ω(json.Unmarshal(b, &tasks)).Should(Succeed())
		Ω(tasks).Should(HaveLen(1))
		Ω(tasks[0].OrgID).Should(Equal("default"))
	})
})
