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

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	queryCom "github.com/streamql/streamql/query/common"
)

var _ = ginkgo.Describe("TaskRegistry", func() {
	ginkgo.It("Tracks and cancels running searches", func() {
		r := NewTaskRegistry()
		ctx1, t1, err := r.register(context.Background(), &queryCom.Request{TraceID: "a", OrgID: "o1", Query: queryCom.Query{SQL: "SELECT 1"}})
		Ω(err).Should(BeNil())
		_, t2, err := r.register(context.Background(), &queryCom.Request{TraceID: "b", OrgID: "o2"})
		Ω(err).Should(BeNil())

		_, _, err = r.register(context.Background(), &queryCom.Request{TraceID: "a"})
		Ω(err).ShouldNot(BeNil())

		Ω(r.List("")).Should(HaveLen(2))
		infos := r.List("o1")
		Ω(infos).Should(HaveLen(1))
		Ω(infos[0].TraceID).Should(Equal("a"))
		Ω(infos[0].SQL).Should(Equal("SELECT 1"))

		Ω(r.Cancel("a")).Should(BeTrue())
		Ω(t1.isCanceled()).Should(BeTrue())
		Ω(ctx1.Err()).Should(Equal(context.Canceled))
		Ω(r.Cancel("a")).Should(BeTrue())
		Ω(t2.isCanceled()).Should(BeFalse())

		r.remove(t1)
		r.remove(t2)
		Ω(r.List("")).Should(BeEmpty())
		Ω(r.Cancel("b")).Should(BeFalse())
		Ω(t2.isCanceled()).Should(BeFalse())
	})
})
