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
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func hllOf(prefix string, n int) *HLL {
	hll := &HLL{}
	for i := 0; i < n; i++ {
		hll.Add(xxhash.Sum64String(prefix + strconv.Itoa(i)))
	}
	return hll
}

var _ = ginkgo.Describe("hll", func() {
	ginkgo.It("estimates small cardinalities closely", func() {
		Ω(hllOf("a", 100).Compute()).Should(BeNumerically("~", 100, 3))
		Ω((&HLL{}).Compute()).Should(BeEquivalentTo(0))
	})

	ginkgo.It("ignores repeated values", func() {
		hll := hllOf("a", 50)
		for i := 0; i < 50; i++ {
			hll.Add(xxhash.Sum64String("a" + strconv.Itoa(i)))
		}
		Ω(hll.Compute()).Should(BeNumerically("~", 50, 2))
	})

	ginkgo.It("merges sketches", func() {
		hll := hllOf("a", 1000)
		other := hllOf("b", 1000)
		hll.Merge(*other)
		Ω(hll.Compute()).Should(BeNumerically("~", 2000, 100))
	})

	ginkgo.It("round trips through its text encoding", func() {
		for _, n := range []int{0, 10, 10000} {
			hll := hllOf("c", n)
			expected := hll.Compute()
			decoded, err := DecodeHLLString(hll.EncodeString())
			Ω(err).Should(BeNil())
			Ω(decoded.Compute()).Should(Equal(expected))
		}
		_, err := DecodeHLLString("not base64!")
		Ω(err).ShouldNot(BeNil())
	})
})
