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
	"io"
	"time"

	"github.com/uber-go/tally"
)

// Metrics is the interface for stats reporting based on tally. The process calls NewRootScope()
// at start up and closes the returned closer before shutdown.
type Metrics interface {
	NewRootScope() (tally.Scope, io.Closer, error)
}

// NewNoopMetrics returns a Metrics that reports nothing.
func NewNoopMetrics() Metrics {
	return noopMetrics{}
}

type noopMetrics struct{}

func (noopMetrics) NewRootScope() (tally.Scope, io.Closer, error) {
	return tally.NoopScope, io.NopCloser(nil), nil
}

// NewReporterMetrics returns a Metrics flushing to reporter every interval under the given prefix.
func NewReporterMetrics(prefix string, reporter tally.StatsReporter, interval time.Duration) Metrics {
	return reporterMetrics{prefix: prefix, reporter: reporter, interval: interval}
}

type reporterMetrics struct {
	prefix   string
	reporter tally.StatsReporter
	interval time.Duration
}

func (m reporterMetrics) NewRootScope() (tally.Scope, io.Closer, error) {
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:   m.prefix,
		Reporter: m.reporter,
	}, m.interval)
	return scope, closer, nil
}
