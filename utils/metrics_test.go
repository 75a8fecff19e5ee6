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
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/uber-go/tally"
)

var _ = ginkgo.Describe("metrics", func() {
	ginkgo.It("all cached metrics definitions should be properly initialized", func() {
		reporter := GetRootReporter()
		Ω(reporter.cachedDefinitions).Should(HaveLen(int(NumMetricNames)))
		for _, def := range reporter.cachedDefinitions {
			Ω(def.name).ShouldNot(BeEmpty())
			switch def.metricType {
			case Counter:
				Ω(def.counter).ShouldNot(BeNil())
			case Gauge:
				Ω(def.gauge).ShouldNot(BeNil())
			case Timer:
				Ω(def.timer).ShouldNot(BeNil())
			}
		}
	})

	ginkgo.It("GetReporter should tag org and stream type", func() {
		scope := tally.NewTestScope("test", nil)
		rf := NewReporterFactory(scope)
		r := rf.GetReporter("default", "logs")
		Ω(r).ShouldNot(Equal(rf.GetRootReporter()))
		Ω(rf.GetReporter("default", "logs")).Should(BeIdenticalTo(r))

		r.GetCounter(ScanFiles).Inc(3)
		counters := scope.Snapshot().Counters()
		Ω(counters).Should(HaveKey("test.scan_files+component=datanode,operation=scan,org=default,stream_type=logs"))
		Ω(counters["test.scan_files+component=datanode,operation=scan,org=default,stream_type=logs"].Value()).Should(BeEquivalentTo(3))
	})

	ginkgo.It("should panic on metric type mismatch", func() {
		r := NewReporter(tally.NewTestScope("test", nil))
		Ω(r.GetTimer(QueryLatency)).ShouldNot(BeNil())
		Ω(func() { r.GetCounter(QueryLatency) }).Should(Panic())
	})
})
