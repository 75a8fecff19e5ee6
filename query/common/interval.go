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
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// MicrosPerSecond is number of microseconds per second.
	MicrosPerSecond = int64(time.Second / time.Microsecond)
	// MicrosPerMinute is number of microseconds per minute.
	MicrosPerMinute = 60 * MicrosPerSecond
	// MicrosPerHour is number of microseconds per hour.
	MicrosPerHour = 60 * MicrosPerMinute
	// MicrosPerDay is number of microseconds per day.
	MicrosPerDay = 24 * MicrosPerHour

	// DateBinOrigin is 2001-01-01T00:00:00Z in microseconds, the anchor of every time bucket.
	DateBinOrigin int64 = 978307200000000
)

// used to convert supported interval units to microseconds.
var intervalUnits = map[string]int64{
	"microsecond":  1,
	"microseconds": 1,
	"us":           1,
	"millisecond":  1000,
	"milliseconds": 1000,
	"ms":           1000,
	"second":       MicrosPerSecond,
	"seconds":      MicrosPerSecond,
	"sec":          MicrosPerSecond,
	"s":            MicrosPerSecond,
	"minute":       MicrosPerMinute,
	"minutes":      MicrosPerMinute,
	"min":          MicrosPerMinute,
	"m":            MicrosPerMinute,
	"hour":         MicrosPerHour,
	"hours":        MicrosPerHour,
	"h":            MicrosPerHour,
	"day":          MicrosPerDay,
	"days":         MicrosPerDay,
	"d":            MicrosPerDay,
	"week":         7 * MicrosPerDay,
	"weeks":        7 * MicrosPerDay,
	"w":            7 * MicrosPerDay,
}

// ParseInterval converts an interval such as "10 second", "5m" or "1 hour"
// into microseconds.
func ParseInterval(s string) (int64, error) {
	text := strings.ToLower(strings.TrimSpace(s))
	if text == "" {
		return 0, errors.New("empty interval")
	}
	var num, unit string
	if fields := strings.Fields(text); len(fields) == 2 {
		num, unit = fields[0], fields[1]
	} else if len(fields) == 1 {
		i := strings.IndexFunc(text, func(r rune) bool { return r < '0' || r > '9' })
		if i < 0 {
			return 0, errors.Errorf("interval %q has no unit", s)
		}
		num, unit = text[:i], text[i:]
		if num == "" {
			num = "1"
		}
	} else {
		return 0, errors.Errorf("invalid interval %q", s)
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.Errorf("invalid interval size %q", num)
	}
	micros, ok := intervalUnits[unit]
	if !ok {
		return 0, errors.Errorf("invalid interval unit %q", unit)
	}
	return n * micros, nil
}

// defaultIntervals maps the minimum query range to the histogram interval used
// when none is given, longest range first.
var defaultIntervals = []struct {
	minRange time.Duration
	interval string
}{
	{30 * 24 * time.Hour, "1 day"},
	{7 * 24 * time.Hour, "1 hour"},
	{24 * time.Hour, "30 minute"},
	{6 * time.Hour, "5 minute"},
	{2 * time.Hour, "1 minute"},
	{time.Hour, "30 second"},
	{30 * time.Minute, "15 second"},
	{15 * time.Minute, "10 second"},
}

// DefaultHistogramInterval returns the histogram interval for a query time
// range given in microseconds. An unknown range falls back to one hour.
func DefaultHistogramInterval(startMicros, endMicros int64) string {
	if startMicros == 0 && endMicros == 0 {
		return "1 hour"
	}
	span := time.Duration(endMicros-startMicros) * time.Microsecond
	for _, d := range defaultIntervals {
		if span >= d.minRange {
			return d.interval
		}
	}
	return "10 second"
}

// BucketStart aligns ts down to the start of its bucket anchored at DateBinOrigin.
func BucketStart(ts, width int64) int64 {
	if width <= 0 {
		return ts
	}
	off := (ts - DateBinOrigin) % width
	if off < 0 {
		off += width
	}
	return ts - off
}

// NumBuckets is the number of width-sized buckets needed to cover [minTs, maxTs).
func NumBuckets(minTs, maxTs, width int64) int {
	if width <= 0 || maxTs <= minTs {
		return 0
	}
	return int((maxTs - minTs + width - 1) / width)
}
