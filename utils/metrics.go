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
	"sync"

	"github.com/uber-go/tally"
)

// MetricName is the type of the metric.
type MetricName int

// List of supported metric names.
const (
	HTTPHandlerCall MetricName = iota
	HTTPHandlerLatency
	QueryReceived
	QuerySucceeded
	QueryFailed
	QueryCanceled
	QueryTimedOut
	QueryPartial
	QueryLatency
	QueryAnalyzeLatency
	QueryPlanLatency
	QueryRowsReturned
	QueryIndexOptimized
	PartitionsDispatched
	PartitionsSkipped
	PartitionsPartial
	PartitionsFailed
	RemoteRowsReceived
	RemoteBatchesReceived
	ScanFiles
	ScanRecords
	ScanBytes
	FollowerRequests
	FollowerFailures
	FollowerLatency
	MergeOutputFiles
	MergeOutputRecords
	PartitionsDeleted
	// Enum sentinel.
	NumMetricNames
)

// MetricType is the supported metric type.
type MetricType int

// MetricTypes which are supported.
const (
	Counter MetricType = iota
	Gauge
	Timer
)

type metricDefinition struct {
	name       string
	tags       map[string]string
	metricType MetricType

	counter tally.Counter
	gauge   tally.Gauge
	timer   tally.Timer
}

// Scope names.
const (
	scopeNameHTTPHandlerCall       = "http.call"
	scopeNameHTTPHandlerLatency    = "http.latency"
	scopeNameQueryReceived         = "query_received"
	scopeNameQuerySucceeded        = "query_succeeded"
	scopeNameQueryFailed           = "query_failed"
	scopeNameQueryCanceled         = "query_canceled"
	scopeNameQueryTimedOut         = "query_timed_out"
	scopeNameQueryPartial          = "query_partial"
	scopeNameQueryLatency          = "query_latency"
	scopeNameQueryAnalyzeLatency   = "analyze_latency"
	scopeNameQueryPlanLatency      = "plan_latency"
	scopeNameQueryRowsReturned     = "rows_returned"
	scopeNameQueryIndexOptimized   = "index_optimized"
	scopeNamePartitionsDispatched  = "partitions_dispatched"
	scopeNamePartitionsSkipped     = "partitions_skipped"
	scopeNamePartitionsPartial     = "partitions_partial"
	scopeNamePartitionsFailed      = "partitions_failed"
	scopeNameRemoteRowsReceived    = "remote_rows_received"
	scopeNameRemoteBatchesReceived = "remote_batches_received"
	scopeNameScanFiles             = "scan_files"
	scopeNameScanRecords           = "scan_records"
	scopeNameScanBytes             = "scan_bytes"
	scopeNameFollowerRequests      = "requests"
	scopeNameFollowerFailures      = "failures"
	scopeNameFollowerLatency       = "latency"
	scopeNameMergeOutputFiles      = "output_files"
	scopeNameMergeOutputRecords    = "output_records"
	scopeNamePartitionsDeleted     = "partitions_deleted"
)

// Metric tag names
const (
	metricsTagComponent  = "component"
	metricsTagOperation  = "operation"
	metricsTagHandler    = "handler"
	metricsTagStatusCode = "status_code"
	metricsTagOrigin     = "origin"
	metricsTagOrg        = "org"
	metricsTagStreamType = "stream_type"
)

// Metric component tag values
const (
	metricsComponentAPI      = "api"
	metricsComponentQuery    = "query"
	metricsComponentBroker   = "broker"
	metricsComponentDataNode = "datanode"
	metricsComponentMerge    = "merge"
)

// Metric operation tag values
const (
	metricsOperationDispatch = "dispatch"
	metricsOperationScan     = "scan"
	metricsOperationDoGet    = "do_get"
	metricsOperationAction   = "do_action"
	metricsOperationCompact  = "compact"
)

func queryMetric(name string, t MetricType) metricDefinition {
	return metricDefinition{
		name:       name,
		metricType: t,
		tags:       map[string]string{metricsTagComponent: metricsComponentQuery},
	}
}

func opMetric(name string, t MetricType, component, operation string) metricDefinition {
	return metricDefinition{
		name:       name,
		metricType: t,
		tags: map[string]string{
			metricsTagComponent: component,
			metricsTagOperation: operation,
		},
	}
}

var metricsDefs = map[MetricName]metricDefinition{
	HTTPHandlerCall: {
		name:       scopeNameHTTPHandlerCall,
		metricType: Counter,
		tags:       map[string]string{metricsTagComponent: metricsComponentAPI},
	},
	HTTPHandlerLatency: {
		name:       scopeNameHTTPHandlerLatency,
		metricType: Timer,
		tags:       map[string]string{metricsTagComponent: metricsComponentAPI},
	},
	QueryReceived:         queryMetric(scopeNameQueryReceived, Counter),
	QuerySucceeded:        queryMetric(scopeNameQuerySucceeded, Counter),
	QueryFailed:           queryMetric(scopeNameQueryFailed, Counter),
	QueryCanceled:         queryMetric(scopeNameQueryCanceled, Counter),
	QueryTimedOut:         queryMetric(scopeNameQueryTimedOut, Counter),
	QueryPartial:          queryMetric(scopeNameQueryPartial, Counter),
	QueryLatency:          queryMetric(scopeNameQueryLatency, Timer),
	QueryAnalyzeLatency:   queryMetric(scopeNameQueryAnalyzeLatency, Timer),
	QueryPlanLatency:      queryMetric(scopeNameQueryPlanLatency, Timer),
	QueryRowsReturned:     queryMetric(scopeNameQueryRowsReturned, Counter),
	QueryIndexOptimized:   queryMetric(scopeNameQueryIndexOptimized, Counter),
	PartitionsDispatched:  opMetric(scopeNamePartitionsDispatched, Counter, metricsComponentBroker, metricsOperationDispatch),
	PartitionsSkipped:     opMetric(scopeNamePartitionsSkipped, Counter, metricsComponentBroker, metricsOperationDispatch),
	PartitionsPartial:     opMetric(scopeNamePartitionsPartial, Counter, metricsComponentBroker, metricsOperationDispatch),
	PartitionsFailed:      opMetric(scopeNamePartitionsFailed, Counter, metricsComponentBroker, metricsOperationDispatch),
	RemoteRowsReceived:    opMetric(scopeNameRemoteRowsReceived, Counter, metricsComponentBroker, metricsOperationDispatch),
	RemoteBatchesReceived: opMetric(scopeNameRemoteBatchesReceived, Counter, metricsComponentBroker, metricsOperationDispatch),
	ScanFiles:             opMetric(scopeNameScanFiles, Counter, metricsComponentDataNode, metricsOperationScan),
	ScanRecords:           opMetric(scopeNameScanRecords, Counter, metricsComponentDataNode, metricsOperationScan),
	ScanBytes:             opMetric(scopeNameScanBytes, Counter, metricsComponentDataNode, metricsOperationScan),
	FollowerRequests:      opMetric(scopeNameFollowerRequests, Counter, metricsComponentDataNode, metricsOperationDoGet),
	FollowerFailures:      opMetric(scopeNameFollowerFailures, Counter, metricsComponentDataNode, metricsOperationDoGet),
	FollowerLatency:       opMetric(scopeNameFollowerLatency, Timer, metricsComponentDataNode, metricsOperationDoGet),
	MergeOutputFiles:      opMetric(scopeNameMergeOutputFiles, Counter, metricsComponentMerge, metricsOperationCompact),
	MergeOutputRecords:    opMetric(scopeNameMergeOutputRecords, Counter, metricsComponentMerge, metricsOperationCompact),
	PartitionsDeleted:     opMetric(scopeNamePartitionsDeleted, Counter, metricsComponentDataNode, metricsOperationAction),
}

func (def *metricDefinition) init(rootScope tally.Scope) {
	switch def.metricType {
	case Counter:
		def.counter = rootScope.Tagged(def.tags).Counter(def.name)
	case Gauge:
		def.gauge = rootScope.Tagged(def.tags).Gauge(def.name)
	case Timer:
		def.timer = rootScope.Tagged(def.tags).Timer(def.name)
	}
}

// ReporterFactory manages reporters tagged per org and stream type. Metrics not
// tied to a stream go to the root reporter.
type ReporterFactory struct {
	sync.RWMutex
	rootReporter *Reporter
	reporters    map[string]*Reporter
}

// NewReporterFactory returns a new report factory.
func NewReporterFactory(rootScope tally.Scope) *ReporterFactory {
	return &ReporterFactory{
		rootReporter: NewReporter(rootScope),
		reporters:    make(map[string]*Reporter),
	}
}

// GetReporter returns the reporter for org and stream type, creating it on first use.
func (f *ReporterFactory) GetReporter(org, streamType string) *Reporter {
	key := org + "/" + streamType
	f.RLock()
	reporter, ok := f.reporters[key]
	f.RUnlock()
	if ok {
		return reporter
	}

	f.Lock()
	defer f.Unlock()
	if reporter, ok = f.reporters[key]; ok {
		return reporter
	}
	reporter = NewReporter(f.rootReporter.GetRootScope().Tagged(map[string]string{
		metricsTagOrg:        org,
		metricsTagStreamType: streamType,
	}))
	f.reporters[key] = reporter
	return reporter
}

// GetRootReporter returns the root reporter.
func (f *ReporterFactory) GetRootReporter() *Reporter {
	return f.rootReporter
}

// Reporter is the the interface used to report stats,
type Reporter struct {
	rootScope         tally.Scope
	cachedDefinitions []metricDefinition
}

// NewReporter returns a new reporter with supplied root scope.
func NewReporter(rootScope tally.Scope) *Reporter {
	defs := make([]metricDefinition, NumMetricNames)
	for key, def := range metricsDefs {
		def.init(rootScope)
		defs[key] = def
	}
	return &Reporter{rootScope: rootScope, cachedDefinitions: defs}
}

// GetCounter returns the tally counter with corresponding tags.
func (r *Reporter) GetCounter(n MetricName) tally.Counter {
	def := r.cachedDefinitions[n]
	if def.metricType == Counter {
		return def.counter
	}
	GetLogger().Panicf("Cannot get counter given %d", n)
	return nil
}

// GetGauge returns the tally gauge with corresponding tags.
func (r *Reporter) GetGauge(n MetricName) tally.Gauge {
	def := r.cachedDefinitions[n]
	if def.metricType == Gauge {
		return def.gauge
	}
	GetLogger().Panicf("Cannot get gauge given %d", n)
	return nil
}

// GetTimer returns the tally timer with corresponding tags.
func (r *Reporter) GetTimer(n MetricName) tally.Timer {
	def := r.cachedDefinitions[n]
	if def.metricType == Timer {
		return def.timer
	}
	GetLogger().Panicf("Cannot get timer given %d", n)
	return nil
}

// GetRootScope returns the root scope wrapped by this reporter.
func (r *Reporter) GetRootScope() tally.Scope {
	return r.rootScope
}
