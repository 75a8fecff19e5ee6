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
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/uber-go/tally"

	"github.com/streamql/streamql/cluster"
	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/diskstore"
	"github.com/streamql/streamql/index"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/query/cipher"
	"github.com/streamql/streamql/utils"
)

// dataNode includes the local disk store, its index and the flight server
type dataNode struct {
	sync.RWMutex

	cfg       common.ServerConfig
	self      cluster.Node
	startedAt time.Time

	index   *index.MemIndex
	store   *diskstore.LocalDiskStore
	service *Service
	server  flight.Server

	opts    Options
	logger  common.Logger
	metrics datanodeMetrics
}

type datanodeMetrics struct {
	restartTimer tally.Timer
}

// NewDataNode creates a new data node storing its files under the configured root path
func NewDataNode(cfg common.ServerConfig, self cluster.Node, keys *cipher.KeyStore, opts Options) DataNode {
	iOpts := opts.InstrumentOptions()
	scope := iOpts.MetricsScope().SubScope("datanode").
		Tagged(map[string]string{
			"datanode": self.ID,
		})

	idx := index.NewMemIndex(metaCom.TimestampColumn)
	store := diskstore.NewLocalDiskStore(cfg.Storage.RootPath, idx)
	return &dataNode{
		cfg:     cfg,
		self:    self,
		index:   idx,
		store:   store,
		service: NewService(cfg, store, idx, keys),
		opts:    opts,
		logger:  iOpts.Logger().With("datanode", self.ID),
		metrics: datanodeMetrics{restartTimer: scope.Timer("restart")},
	}
}

// Open data node for serving
func (d *dataNode) Open(ctx context.Context) error {
	d.startedAt = utils.Now()
	if err := d.store.Open(ctx); err != nil {
		return utils.StackError(err, "failed to open local disk store")
	}
	return nil
}

// Listen binds the flight server to the configured port.
func (d *dataNode) Listen() error {
	d.Lock()
	defer d.Unlock()
	if d.server != nil {
		return nil
	}
	server := flight.NewServerWithMiddleware(nil, d.opts.ServerOptions()...)
	if err := server.Init(fmt.Sprintf(":%d", d.cfg.FlightPort)); err != nil {
		return utils.StackError(err, "failed to listen on flight port %d", d.cfg.FlightPort)
	}
	server.RegisterFlightService(&flightServer{service: d.service})
	d.server = server
	return nil
}

func (d *dataNode) Serve() error {
	if err := d.Listen(); err != nil {
		return err
	}
	// record time from data node started to actually serving
	d.metrics.restartTimer.Record(utils.Now().Sub(d.startedAt))
	d.logger.Infof("Starting flight server on %s", d.Addr())
	return d.server.Serve()
}

func (d *dataNode) Addr() net.Addr {
	d.RLock()
	defer d.RUnlock()
	if d.server == nil {
		return nil
	}
	return d.server.Addr()
}

func (d *dataNode) Close() {
	d.RLock()
	server := d.server
	d.RUnlock()
	if server != nil {
		server.Shutdown()
	}
}

// Options returns the data node options.
func (d *dataNode) Options() Options {
	return d.opts
}

func (d *dataNode) Node() cluster.Node {
	return d.self
}

func (d *dataNode) Store() diskstore.DiskStore {
	return d.store
}

func (d *dataNode) Service() *Service {
	return d.service
}
