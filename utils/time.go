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
)

// NowFunc type for function of getting current time
type NowFunc func() time.Time

var nowFunc NowFunc

func init() {
	ResetClockImplementation()
}

// ResetClockImplementation resets implementation to use time.Now
func ResetClockImplementation() {
	nowFunc = time.Now
}

// SetClockImplementation sets implementation to use passed in nowFunc
func SetClockImplementation(f NowFunc) {
	nowFunc = f
}

// SetCurrentTime sets the clock implementation to the specified time,
func SetCurrentTime(t time.Time) {
	nowFunc = func() time.Time {
		return t
	}
}

// Now returns current time using nowFunc
func Now() time.Time {
	return nowFunc()
}

// NowMicros returns the current time in microseconds since epoch.
func NowMicros() int64 {
	return nowFunc().UnixMicro()
}

// MicrosToUTC converts a microsecond timestamp to a Time in UTC.
func MicrosToUTC(ts int64) time.Time {
	return time.UnixMicro(ts).UTC()
}

// FormatMicrosToUTC formats a microsecond timestamp as RFC3339 in UTC.
func FormatMicrosToUTC(ts int64) string {
	return MicrosToUTC(ts).Format(time.RFC3339Nano)
}

// MillisSince returns the elapsed milliseconds since start according to the clock.
func MillisSince(start time.Time) int64 {
	return Now().Sub(start).Milliseconds()
}
