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

package datanode

import (
	"github.com/streamql/streamql/utils"
	"google.golang.org/grpc"
)

type options struct {
	instrumentOpts utils.Options
	serverOpts     []grpc.ServerOption
}

// NewOptions creates a new set of data node options with defaults
func NewOptions() Options {
	opts := options{
		instrumentOpts: utils.NewOptions(),
	}
	return &opts
}

func (o *options) SetInstrumentOptions(value utils.Options) Options {
	opts := *o
	opts.instrumentOpts = value
	return &opts
}

func (o *options) InstrumentOptions() utils.Options {
	return o.instrumentOpts
}

func (o *options) SetServerOptions(value ...grpc.ServerOption) Options {
	opts := *o
	opts.serverOpts = value
	return &opts
}

func (o *options) ServerOptions() []grpc.ServerOption {
	return o.serverOpts
}
