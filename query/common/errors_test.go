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
	"net/http"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = ginkgo.Describe("query errors", func() {
	ginkgo.It("should carry kind through wrapping", func() {
		err := errors.Wrap(ErrSQLNotValid("stream %s not found", "t"), "compile")
		Ω(IsKind(err, SQLNotValid)).Should(BeTrue())
		Ω(KindOf(err)).Should(Equal(SQLNotValid))
		Ω(err.Error()).Should(Equal("compile: Search SQL not valid: stream t not found"))
		Ω(KindOf(errors.New("boom"))).Should(Equal(Internal))
	})

	ginkgo.It("should map kinds to status codes", func() {
		Ω(SQLNotValid.HTTPStatus()).Should(Equal(http.StatusBadRequest))
		Ω(Canceled.HTTPStatus()).Should(Equal(http.StatusRequestTimeout))
		Ω(Internal.HTTPStatus()).Should(Equal(http.StatusInternalServerError))
		Ω(NotImplemented.HTTPStatus()).Should(Equal(http.StatusNotImplemented))
	})

	ginkgo.It("should unwrap cause", func() {
		cause := errors.New("dial failed")
		err := WrapError(Internal, cause, "node %s", "n1")
		Ω(errors.Is(err, cause)).Should(BeTrue())
		Ω(err.Error()).Should(Equal("Internal error: node n1: dial failed"))
	})
})
