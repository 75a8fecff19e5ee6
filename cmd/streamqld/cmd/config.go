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
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/streamql/streamql/common"
	"github.com/streamql/streamql/utils"
)

// AddFlags adds flags to command
func AddFlags(cmd *cobra.Command) {
	defaults := common.DefaultServerConfig()
	cmd.Flags().String("config", "config/streamql.yaml", "StreamQL config file")
	cmd.Flags().IntP("port", "p", defaults.Port, "StreamQL http service port")
	cmd.Flags().Int("flight_port", defaults.FlightPort, "StreamQL flight service port")
	cmd.Flags().StringP("root_path", "r", defaults.Storage.RootPath, "Root path of the data directory")
	cmd.Flags().String("node_id", "", "Id of this node in the cluster, defaults to the host name")
}

// ReadConfig populates ServerConfig. Values come from, in increasing
// precedence, DefaultServerConfig, defaultCfg, the config file, STREAMQL_*
// environment variables and command flags.
func ReadConfig(defaultCfg map[string]interface{}, flags *pflag.FlagSet) (common.ServerConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	// bind command flags
	v.BindPFlags(flags)
	v.BindPFlag("storage.root_path", flags.Lookup("root_path"))
	v.BindPFlag("cluster.node_id", flags.Lookup("node_id"))

	utils.BindEnvironments(v)

	// set defaults
	v.MergeConfigMap(defaultCfg)

	// merge in config file
	if cfgFile, err := flags.GetString("config"); err == nil && cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("streamql")
		v.AddConfigPath("./config")
	}

	if err := v.MergeInConfig(); err == nil {
		fmt.Println("Using config file: ", v.ConfigFileUsed())
	}

	cfg := common.DefaultServerConfig()
	err := v.Unmarshal(&cfg, func(config *mapstructure.DecoderConfig) {
		config.TagName = "yaml"
	})
	return cfg, err
}
