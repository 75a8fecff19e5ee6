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
	"sync"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("scan stats", func() {
	ginkgo.It("Add should sum counters and keep peaks", func() {
		s := ScanStats{Files: 1, Records: 10, PeakMemoryUsage: 100, CacheHitRatio: 50}
		s.Add(ScanStats{Files: 2, Records: 5, PeakMemoryUsage: 50, CacheHitRatio: 80})
		Ω(s.Files).Should(Equal(int64(3)))
		Ω(s.Records).Should(Equal(int64(15)))
		Ω(s.PeakMemoryUsage).Should(Equal(int64(100)))
		Ω(s.CacheHitRatio).Should(Equal(int64(80)))
	})

	ginkgo.It("accumulator should be safe for concurrent partitions", func() {
		acc := NewStatsAccumulator()
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				acc.AddStats(ScanStats{Files: 1, Records: int64(i)})
				if i%4 == 0 {
					acc.AddPartialError("node timeout")
				}
			}(i)
		}
		wg.Wait()
		Ω(acc.Stats().Files).Should(Equal(int64(16)))
		Ω(acc.Stats().Records).Should(Equal(int64(120)))
		Ω(acc.IsPartial()).Should(BeTrue())
		Ω(acc.PartialError()).Should(ContainSubstring("node timeout"))
	})

	ginkgo.It("response should label partial results", func() {
		var r Response
		r.SetPartial("a")
		r.SetPartial("b")
		Ω(r.IsPartial).Should(BeTrue())
		Ω(r.FunctionError).Should(Equal("a \n b"))
	})
})
