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
	"time"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("interval", func() {
	ginkgo.It("ParseInterval should work", func() {
		for text, micros := range map[string]int64{
			"10 second":  10 * MicrosPerSecond,
			"10 seconds": 10 * MicrosPerSecond,
			"5m":         5 * MicrosPerMinute,
			"1 hour":     MicrosPerHour,
			"h":          MicrosPerHour,
			"2 DAY":      2 * MicrosPerDay,
			"1w":         7 * MicrosPerDay,
		} {
			v, err := ParseInterval(text)
			Ω(err).Should(BeNil())
			Ω(v).Should(Equal(micros), text)
		}

		for _, text := range []string{"", "10", "ten seconds", "0 second", "1 fortnight", "1 2 3"} {
			_, err := ParseInterval(text)
			Ω(err).ShouldNot(BeNil(), text)
		}
	})

	ginkgo.It("DefaultHistogramInterval should follow the range table", func() {
		hour := MicrosPerHour
		Ω(DefaultHistogramInterval(0, 0)).Should(Equal("1 hour"))
		Ω(DefaultHistogramInterval(0, 31*24*hour)).Should(Equal("1 day"))
		Ω(DefaultHistogramInterval(0, 8*24*hour)).Should(Equal("1 hour"))
		Ω(DefaultHistogramInterval(0, 24*hour)).Should(Equal("30 minute"))
		Ω(DefaultHistogramInterval(0, 6*hour)).Should(Equal("5 minute"))
		Ω(DefaultHistogramInterval(0, 2*hour)).Should(Equal("1 minute"))
		Ω(DefaultHistogramInterval(0, hour)).Should(Equal("30 second"))
		Ω(DefaultHistogramInterval(0, 30*MicrosPerMinute)).Should(Equal("15 second"))
		Ω(DefaultHistogramInterval(0, 14*MicrosPerMinute)).Should(Equal("10 second"))
	})

	ginkgo.It("DefaultHistogramInterval should be monotonic in the range", func() {
		prev := int64(0)
		for span := time.Minute; span <= 60*24*time.Hour; span += 7 * time.Minute {
			interval, err := ParseInterval(DefaultHistogramInterval(1, 1+span.Microseconds()))
			Ω(err).Should(BeNil())
			Ω(interval).Should(BeNumerically(">=", prev))
			prev = interval
		}
	})

	ginkgo.It("BucketStart and NumBuckets should work", func() {
		width := 10 * MicrosPerSecond
		Ω(BucketStart(DateBinOrigin+25*MicrosPerSecond, width)).Should(Equal(DateBinOrigin + 20*MicrosPerSecond))
		Ω(BucketStart(DateBinOrigin-1, width)).Should(Equal(DateBinOrigin - width))
		Ω(BucketStart(42, 0)).Should(Equal(int64(42)))
		Ω(NumBuckets(0, 25, 10)).Should(Equal(3))
		Ω(NumBuckets(0, 30, 10)).Should(Equal(3))
		Ω(NumBuckets(10, 10, 10)).Should(Equal(0))
	})
})
