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
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	metaCom "github.com/streamql/streamql/metastore/common"
)

var _ = ginkgo.Describe("DiskStoreUtils", func() {
	stream := metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeLogs, Name: "nginx"}
	// 2024-03-01T08:00:00Z
	ts := int64(1709280000000000)

	ginkgo.It("Test Key Utils", func() {
		Ω(GetKeyForStream(stream)).Should(Equal("files/default/logs/nginx"))
		Ω(GetKeyForPartition(stream, ts)).Should(Equal("files/default/logs/nginx/2024/03/01/08"))
		Ω(GetKeyForFile(stream, ts, "abc")).
			Should(Equal("files/default/logs/nginx/2024/03/01/08/1709280000000000_abc.parquet"))
	})

	ginkgo.It("Test ParseFileKey Utils", func() {
		parsed, minTs, err := ParseFileKey(GetKeyForFile(stream, ts+5, "abc"))
		Ω(err).Should(BeNil())
		Ω(parsed).Should(Equal(stream))
		Ω(minTs).Should(Equal(ts + 5))

		_, _, err = ParseFileKey("files/default/logs/nginx/x.parquet")
		Ω(err).ShouldNot(BeNil())
		_, _, err = ParseFileKey("files/default/unknown/nginx/2024/03/01/08/1_a.parquet")
		Ω(err).ShouldNot(BeNil())
		_, _, err = ParseFileKey("files/default/logs/nginx/2024/03/01/08/x_a.parquet")
		Ω(err).ShouldNot(BeNil())
	})
})
