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

package util

import (
	"fmt"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/streamql/streamql/cluster"
	metaCom "github.com/streamql/streamql/metastore/common"
)

var _ = ginkgo.Describe("broker util", func() {
	querier := []cluster.Role{cluster.RoleQuerier}
	ingester := []cluster.Role{cluster.RoleIngester}

	files := make([]metaCom.FileKey, 64)
	for i := range files {
		files[i] = metaCom.FileKey{Key: fmt.Sprintf("files/default/logs/t/2024/01/01/00/%d.parquet", i)}
	}

	ginkgo.It("should work happy path", func() {
		nodes := []cluster.Node{
			{ID: "q1", Roles: querier},
			{ID: "q2", Roles: querier},
			{ID: "i1", Roles: ingester},
		}
		res, err := CalculateFileAssignment(nodes, files)
		Ω(err).Should(BeNil())
		Ω(res).Should(HaveLen(2))
		Ω(res).ShouldNot(HaveKey("i1"))
		Ω(len(res["q1"]) + len(res["q2"])).Should(Equal(len(files)))
		Ω(res["q1"]).ShouldNot(BeEmpty())
		Ω(res["q2"]).ShouldNot(BeEmpty())
	})

	ginkgo.It("should be stable", func() {
		nodes := []cluster.Node{{ID: "q1", Roles: querier}, {ID: "q2", Roles: querier}}
		first, err := CalculateFileAssignment(nodes, files)
		Ω(err).Should(BeNil())
		second, err := CalculateFileAssignment([]cluster.Node{nodes[1], nodes[0]}, files)
		Ω(err).Should(BeNil())
		Ω(second).Should(Equal(first))
	})

	ginkgo.It("should work without files", func() {
		res, err := CalculateFileAssignment([]cluster.Node{{ID: "q1", Roles: querier}}, nil)
		Ω(err).Should(BeNil())
		Ω(res["q1"]).Should(BeEmpty())
	})

	ginkgo.It("should work no available querier", func() {
		_, err := CalculateFileAssignment([]cluster.Node{{ID: "i1", Roles: ingester}}, files)
		Ω(err.Error()).Should(ContainSubstring("failed to assign querier for file"))
	})
})
