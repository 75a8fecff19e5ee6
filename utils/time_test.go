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
	"time"

	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("Time", func() {
	ginkgo.AfterEach(func() {
		ResetClockImplementation()
	})

	ginkgo.It("Should use the mocked time", func() {
		now := time.Unix(1498608694, 0)
		SetClockImplementation(func() time.Time {
			return now
		})
		Ω(Now()).Should(Equal(now))

		now = time.Unix(1498608604, 0)
		SetCurrentTime(now)
		Ω(Now()).Should(Equal(now))
		Ω(NowMicros()).Should(Equal(int64(1498608604000000)))
	})

	ginkgo.It("FormatMicrosToUTC should work", func() {
		Ω(FormatMicrosToUTC(1498608694000000)).Should(Equal("2017-06-28T00:11:34Z"))
		Ω(FormatMicrosToUTC(0)).Should(Equal("1970-01-01T00:00:00Z"))
	})

	ginkgo.It("MillisSince should use the clock", func() {
		start := time.Unix(100, 0)
		SetCurrentTime(start.Add(1500 * time.Millisecond))
		Ω(MillisSince(start)).Should(Equal(int64(1500)))
	})
})
