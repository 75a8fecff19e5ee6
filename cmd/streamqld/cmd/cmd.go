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

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/streamql/streamql/api"
	"github.com/streamql/streamql/broker"
	"github.com/streamql/streamql/cluster"
	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/datanode"
	"github.com/streamql/streamql/datanode/client"
	"github.com/streamql/streamql/metastore"
	"github.com/streamql/streamql/query/cipher"
	"github.com/streamql/streamql/utils"
)

// Options represents options for executing command
type Options struct {
	DefaultCfg   map[string]interface{}
	ServerLogger common.Logger
	QueryLogger  common.Logger
	Metrics      common.Metrics
	HTTPWrappers []utils.HTTPHandlerWrapper
}

// Option is for setting option
type Option func(*Options)

// Execute executes command with options
func Execute(setters ...Option) {
	options := &Options{
		Metrics: common.NewNoopMetrics(),
	}

	for _, setter := range setters {
		setter(options)
	}

	cmd := &cobra.Command{
		Use:     "streamqld",
		Short:   "StreamQL",
		Long:    `StreamQL is the distributed SQL engine over log, metric and trace streams`,
		Example: `./streamqld --config config/streamql.yaml --port 5080 --flight_port 5081`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := ReadConfig(options.DefaultCfg, cmd.Flags())
			if err != nil {
				fmt.Fprintln(os.Stderr, "failed to read configs:", err)
				os.Exit(1)
			}

			if options.ServerLogger == nil || options.QueryLogger == nil {
				loggerFactory, err := common.NewLoggerFactoryFromConfig(cfg.Log)
				if err != nil {
					fmt.Fprintln(os.Stderr, "failed to create logger:", err)
					os.Exit(1)
				}
				if options.ServerLogger == nil {
					options.ServerLogger = loggerFactory.GetDefaultLogger()
				}
				if options.QueryLogger == nil {
					options.QueryLogger = loggerFactory.GetLogger("query")
				}
			}

			start(
				cfg,
				options.ServerLogger,
				options.QueryLogger,
				options.Metrics,
				options.HTTPWrappers...,
			)
		},
	}
	AddFlags(cmd)
	cmd.Execute()
}

func start(cfg common.ServerConfig, logger common.Logger, queryLogger common.Logger, metricsCfg common.Metrics, httpWrappers ...utils.HTTPHandlerWrapper) {
	logger.With("config", cfg).Info("Bootstrapping service")

	scope, closer, err := metricsCfg.NewRootScope()
	if err != nil {
		logger.Fatal("Failed to create new root scope", err)
	}
	defer closer.Close()

	if cfg.Cluster.NodeID == "" {
		hostName, err := os.Hostname()
		if err != nil {
			logger.Fatal("Failed to get host name:", err)
		}
		cfg.Cluster.NodeID = hostName
	}

	// Init common components.
	utils.Init(cfg, logger, queryLogger, scope)

	scope.Counter("restart").Inc(1)
	serverRestartTimer := scope.Timer("restart").Start()

	keys := cipher.NewKeyStore()
	for _, k := range cfg.CipherKeys {
		if err := keys.Register(cipher.KeyName(k.Org, k.Name), k.Secret); err != nil {
			logger.Fatal("Failed to register cipher key,", err)
		}
	}

	membership, err := cluster.NewStaticMembershipFromConfig(cfg.Cluster, fmt.Sprintf("localhost:%d", cfg.FlightPort))
	if err != nil {
		logger.Fatal("Failed to create cluster membership,", err)
	}
	self := membership.Self()

	// Create the data node serving partitions of this member.
	dataNode := datanode.NewDataNode(cfg, self, keys, datanode.NewOptions())
	if err := dataNode.Open(context.Background()); err != nil {
		logger.Fatal("Failed to open data node,", err)
	}
	if err := dataNode.Listen(); err != nil {
		logger.Fatal("Failed to listen on flight port,", err)
	}
	defer dataNode.Close()

	remote := client.NewFlightTransport()
	defer remote.Close()
	transport := &datanode.LocalTransport{Self: self, Service: dataNode.Service(), Remote: remote}

	schemas := metastore.NewMemStore()
	executor := broker.NewExecutor(cfg, membership, dataNode.Store(), transport)
	searchService := broker.NewSearchService(cfg, schemas, executor, dataNode.Store(), keys)
	dataNode.Service().SetSearchHandler(searchService)

	flightErrChan := make(chan error, 1)
	go func() {
		flightErrChan <- dataNode.Serve()
	}()

	// init handlers
	router := mux.NewRouter()
	httpWrappers = append([]utils.HTTPHandlerWrapper{utils.WithMetrics, utils.WithLogging}, httpWrappers...)
	healthCheckHandler := api.NewHealthCheckHandler()
	healthCheckHandler.Register(router)
	api.NewSchemaHandler(schemas).Register(router, httpWrappers...)
	api.NewSearchHandler(searchService).Register(router, httpWrappers...)

	// Support CORS calls.
	allowOrigins := handlers.AllowedOrigins([]string{"*"})
	allowHeaders := handlers.AllowedHeaders([]string{"Accept", "Accept-Language", "Content-Language", "Origin", "Content-Type"})
	allowMethods := handlers.AllowedMethods([]string{"GET", "PUT", "POST", "DELETE", "OPTIONS"})

	utils.GetLogger().Infof("Starting HTTP server on port %d with max connection %d", cfg.Port, cfg.HTTP.MaxConnections)
	httpErrChan, server, err := utils.LimitServeAsync(cfg.Port,
		api.WithPanicHandling(handlers.CORS(allowOrigins, allowHeaders, allowMethods)(router)), cfg.HTTP)
	if err != nil {
		logger.Fatal("Failed to start http server,", err)
	}
	serverRestartTimer.Stop()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signals:
		logger.Infof("Received signal %s, shutting down", sig)
		healthCheckHandler.SetDisabled(true)
		server.Close()
	case err := <-httpErrChan:
		logger.Error("HTTP server stopped,", err)
	case err := <-flightErrChan:
		logger.Error("Flight server stopped,", err)
		server.Close()
	}
}
