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
	"github.com/spf13/viper"
	"github.com/streamql/streamql/common"
	"github.com/uber-go/tally"
)

// stores all common components together to avoid scattered references.
var (
	logger          common.Logger
	queryLogger     common.Logger
	reporterFactory *ReporterFactory
	config          common.ServerConfig
)

// init loads default implementations of common components for unit tests' purpose.
func init() {
	ResetDefaults()
}

// ResetDefaults reset default config, logger and metrics settings
func ResetDefaults() {
	logger = common.NoopLogger{}
	queryLogger = common.NoopLogger{}
	reporterFactory = NewReporterFactory(tally.NewTestScope("test", nil))

	v := viper.New()
	BindEnvironments(v)
	config = common.DefaultServerConfig()
	_ = v.Unmarshal(&config)
}

// Init loads application specific common components settings.
func Init(c common.ServerConfig, l common.Logger, ql common.Logger, s tally.Scope) {
	config = c
	logger = l
	queryLogger = ql
	reporterFactory = NewReporterFactory(s)
}

// GetLogger returns the logger.
func GetLogger() common.Logger {
	return logger
}

// GetQueryLogger returns the logger for query.
func GetQueryLogger() common.Logger {
	return queryLogger
}

// GetRootReporter returns the root metrics reporter.
func GetRootReporter() *Reporter {
	return reporterFactory.GetRootReporter()
}

// GetReporter returns the reporter tagged with the org and stream type.
func GetReporter(org, streamType string) *Reporter {
	return reporterFactory.GetReporter(org, streamType)
}

// GetConfig returns the process configuration.
func GetConfig() common.ServerConfig {
	return config
}
