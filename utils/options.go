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
	"github.com/streamql/streamql/common"
	"github.com/uber-go/tally"
)

// Options represents the options for instrumentation of a long running component.
type Options interface {
	// SetLogger sets the logger.
	SetLogger(value common.Logger) Options

	// Logger returns the logger.
	Logger() common.Logger

	// SetMetricsScope sets the metrics scope.
	SetMetricsScope(value tally.Scope) Options

	// MetricsScope returns the metrics scope.
	MetricsScope() tally.Scope
}

type options struct {
	log   common.Logger
	scope tally.Scope
}

// NewOptions creates instrument options from the process defaults set by Init.
func NewOptions() Options {
	return &options{
		log:   GetLogger(),
		scope: GetRootReporter().GetRootScope(),
	}
}

func (o *options) SetLogger(value common.Logger) Options {
	opts := *o
	opts.log = value
	return &opts
}

func (o *options) Logger() common.Logger {
	return o.log
}

func (o *options) SetMetricsScope(value tally.Scope) Options {
	opts := *o
	opts.scope = value
	return &opts
}

func (o *options) MetricsScope() tally.Scope {
	return o.scope
}
