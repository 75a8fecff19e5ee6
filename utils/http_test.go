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

package utils

import (
	"net/http"
	"net/http/httptest"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/uber-go/tally"
)

func testHTTPHandlerFunc(rw *ResponseWriter, r *http.Request) {
	rw.WriteObject(map[string]int{"ok": 1})
}

var _ = ginkgo.Describe("http", func() {
	ginkgo.BeforeEach(func() {
		ResetDefaults()
	})

	ginkgo.It("WithMetrics should work", func() {
		r := httptest.NewRequest(http.MethodGet, "https://localhost/test", nil)
		w := httptest.NewRecorder()
		ApplyHTTPWrappers(testHTTPHandlerFunc, WithMetrics).ServeHTTP(w, r)
		Ω(w.Code).Should(Equal(http.StatusOK))
		testScope := GetRootReporter().GetRootScope().(tally.TestScope)
		Ω(testScope.Snapshot().Counters()).
			Should(HaveKey("test.http.call+component=api,handler=testHTTPHandlerFunc,origin=UNKNOWN,status_code=200"))
		Ω(testScope.Snapshot().Timers()).
			Should(HaveKey("test.http.latency+component=api,handler=testHTTPHandlerFunc,origin=UNKNOWN"))
	})

	ginkgo.It("GetOrigin should work", func() {
		r := &http.Request{}
		Ω(GetOrigin(r)).Should(Equal("UNKNOWN"))

		r.Header = make(http.Header)
		r.Header.Set("X-Origin", "test1")
		Ω(GetOrigin(r)).Should(Equal("test1"))

		r.Header.Set("RPC-Caller", "test2")
		Ω(GetOrigin(r)).Should(Equal("test2"))
	})

	ginkgo.It("WriteError should use the api error code", func() {
		w := httptest.NewRecorder()
		rw := NewResponseWriter(w)
		rw.WriteError(NewAPIError(http.StatusBadRequest, "bad sql", nil))
		Ω(w.Code).Should(Equal(http.StatusBadRequest))
		Ω(w.Body.String()).Should(MatchJSON(`{"code":400,"message":"bad sql"}`))

		w = httptest.NewRecorder()
		rw = NewResponseWriter(w)
		rw.WriteError(errors.New("boom"))
		Ω(w.Code).Should(Equal(http.StatusInternalServerError))
		Ω(rw.StatusCode()).Should(Equal(http.StatusInternalServerError))
	})
})
