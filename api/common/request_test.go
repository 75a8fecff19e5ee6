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
	"bytes"
	"net/http"
	"net/http/httptest"

	"github.com/gorilla/mux"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/utils"
)

type searchRequest struct {
	OrgID      string           `path:"org"`
	StreamType string           `query:"type,optional"`
	Analyze    bool             `query:"analyze,optional"`
	Timeout    int64            `query:"timeout,optional"`
	Origin     string           `header:"RPC-Caller,optional"`
	Body       queryCom.Request `body:""`
}

type cancelRequest struct {
	TraceID string `path:"trace_id"`
	Force   int    `query:"force"`
}

var _ = ginkgo.Describe("api request", func() {

	ginkgo.It("ReadRequest should work", func() {
		query := `
	{
		"query": {
			"sql": "SELECT name FROM t ORDER BY _timestamp ASC",
			"from": 0,
			"size": 2,
			"start_time": 1,
			"end_time": 6
		},
		"search_type": "ui"
	}
	`
		var req searchRequest
		router := mux.NewRouter()
		router.HandleFunc("/api/{org}/_search", func(w http.ResponseWriter, r *http.Request) {
			rw := utils.NewResponseWriter(w)
			Ω(ReadRequest(r, &req, rw)).Should(Succeed())
		})
		r, err := http.NewRequest(http.MethodPost, "/api/default/_search?type=logs&analyze=true&timeout=30",
			bytes.NewBufferString(query))
		Ω(err).Should(BeNil())
		r.Header.Set("RPC-Caller", "tests")
		router.ServeHTTP(httptest.NewRecorder(), r)

		Ω(req.OrgID).Should(Equal("default"))
		Ω(req.StreamType).Should(Equal("logs"))
		Ω(req.Analyze).Should(BeTrue())
		Ω(req.Timeout).Should(BeEquivalentTo(30))
		Ω(req.Origin).Should(Equal("tests"))
		Ω(req.Body.Query.SQL).Should(Equal("SELECT name FROM t ORDER BY _timestamp ASC"))
		Ω(req.Body.Query.Size).Should(BeEquivalentTo(2))
		Ω(req.Body.SearchType).Should(Equal(queryCom.SearchEventUI))
	})

	ginkgo.It("ReadRequest should fail on missing parameters", func() {
		r, err := http.NewRequest(http.MethodDelete, "/query_manager/abc", nil)
		Ω(err).Should(BeNil())
		r = mux.SetURLVars(r, map[string]string{"trace_id": "abc"})
		var req cancelRequest
		Ω(ReadRequest(r, &req, nil)).Should(Equal(ErrMissingParameter))

		r, err = http.NewRequest(http.MethodDelete, "/query_manager/abc?force=yes", nil)
		Ω(err).Should(BeNil())
		r = mux.SetURLVars(r, map[string]string{"trace_id": "abc"})
		Ω(ReadRequest(r, &req, nil)).Should(Equal(ErrMissingParameter))
	})

	ginkgo.It("ReadRequest should fail on bad body", func() {
		r, err := http.NewRequest(http.MethodPost, "/api/default/_search", bytes.NewBufferString("{"))
		Ω(err).Should(BeNil())
		r = mux.SetURLVars(r, map[string]string{"org": "default"})
		var req searchRequest
		err = ReadRequest(r, &req, nil)
		Ω(err).ShouldNot(BeNil())
		Ω(err.(utils.APIError).Code).Should(Equal(http.StatusBadRequest))
		Ω(err.(utils.APIError).Message).Should(Equal(ErrMsgFailedToUnmarshalRequest))
	})

	ginkgo.It("ReadRequest should reject non struct pointers", func() {
		r, err := http.NewRequest(http.MethodGet, "/", nil)
		Ω(err).Should(BeNil())
		var s string
		Ω(ReadRequest(r, &s, nil)).ShouldNot(BeNil())
	})

	ginkgo.It("SearchError should map kinds to status codes", func() {
		Ω(SearchError(queryCom.ErrSQLNotValid("bad")).Code).Should(Equal(http.StatusBadRequest))
		Ω(SearchError(queryCom.NewError(queryCom.Canceled, "x")).Code).Should(Equal(http.StatusRequestTimeout))
		Ω(SearchError(ErrStreamDoesNotExist).Code).Should(Equal(http.StatusNotFound))
		Ω(SearchError(queryCom.ErrInternal("x")).Code).Should(Equal(http.StatusInternalServerError))
	})
})
