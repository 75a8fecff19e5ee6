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
	"context"
	"net"

	"github.com/streamql/streamql/cluster"
	"github.com/streamql/streamql/diskstore"
	"github.com/streamql/streamql/utils"
	"google.golang.org/grpc"
)

// DataNode stores the data files of a node and serves the partitions of
// distributed queries over them.
type DataNode interface {
	// Options returns the data node options.
	Options() Options

	// Node returns the cluster member this data node runs as.
	Node() cluster.Node

	// Store returns the local data files.
	Store() diskstore.DiskStore

	// Service returns the partition executor.
	Service() *Service

	// Open loads the local data files.
	Open(ctx context.Context) error

	// Listen binds the flight server to the configured port.
	Listen() error

	// Serve starts the flight server and blocks until it stops. It listens
	// first unless Listen was called.
	Serve() error

	// Addr returns the address the flight server listens on, nil before Serve.
	Addr() net.Addr

	// Close stops the flight server.
	Close()
}

// Options represents the options for a data node.
type Options interface {
	// SetInstrumentOptions sets the instrumentation options.
	SetInstrumentOptions(value utils.Options) Options

	// InstrumentOptions returns the instrumentation options.
	InstrumentOptions() utils.Options

	// SetServerOptions sets the options of the flight grpc server.
	SetServerOptions(value ...grpc.ServerOption) Options

	// ServerOptions returns the options of the flight grpc server.
	ServerOptions() []grpc.ServerOption
}
