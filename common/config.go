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

import "time"

// QueryConfig is the static configuration for query compilation and execution.
type QueryConfig struct {
	// default query timeout in seconds, a request can override it.
	TimeoutSeconds int `yaml:"timeout"`
	// timeout in seconds for ingester partitions of interactive UI queries.
	IngesterTimeoutSeconds int `yaml:"ingester_timeout"`
	// limit applied when the client asks for no limit.
	DefaultLimit int64 `yaml:"default_limit"`
	// row ceiling for the right side of joins.
	MaxJoinRightSideRows int64 `yaml:"max_join_right_side_rows"`
	// maximum number of fields selected by a wildcard query in quick mode.
	QuickModeNumFields int  `yaml:"quick_mode_num_fields"`
	QuickModeForce     bool `yaml:"quick_mode_force_enabled"`
	// literal used by dashboards to mean "any value".
	DashboardPlaceholder string `yaml:"dashboard_placeholder"`
	// full text fields applied when present in a stream schema.
	DefaultFullTextKeys []string `yaml:"default_full_text_keys"`
	// capacity of the per partition batch channel.
	BatchChannelSize int `yaml:"batch_channel_size"`
	// maximum number of partitions dispatched at the same time, 0 means unbounded.
	MaxConcurrentPartitions int `yaml:"max_concurrent_partitions"`
	// compress flight batch frames with zstd.
	FlightCompression bool `yaml:"flight_compression"`
	// number of hash partitions of partitioned joins.
	TargetPartitions int `yaml:"target_partitions"`
}

// Timeout returns the default query timeout.
func (c QueryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IngesterTimeout returns the ingester timeout for interactive queries.
func (c QueryConfig) IngesterTimeout() time.Duration {
	return time.Duration(c.IngesterTimeoutSeconds) * time.Second
}

// IndexConfig is the static configuration for the inverted index integration.
type IndexConfig struct {
	InvertedIndexEnabled bool `yaml:"inverted_index_enabled"`
	// allow answering count style queries from the index alone.
	CountOptimizeEnabled bool `yaml:"count_optimize_enabled"`
	// drop a filter entirely when the index answers all of it.
	FilterRemovalEnabled bool `yaml:"filter_removal_enabled"`
}

// CompactConfig is the static configuration for merging and downsampling.
type CompactConfig struct {
	MaxFileSizeBytes         int64  `yaml:"max_file_size"`
	DownsampleMinStepSeconds int64  `yaml:"downsample_min_step"`
	DownsampleValueField     string `yaml:"downsample_value_field"`
}

// NodeConfig describes a cluster member in a static cluster.
type NodeConfig struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	GRPCAddr  string   `yaml:"grpc_addr"`
	Region    string   `yaml:"region"`
	Cluster   string   `yaml:"cluster"`
	Roles     []string `yaml:"roles"`
	RoleGroup string   `yaml:"role_group"`
}

// ClusterConfig is the static cluster configuration.
type ClusterConfig struct {
	Enable      bool         `yaml:"enable"`
	ClusterName string       `yaml:"cluster_name"`
	Region      string       `yaml:"region"`
	NodeID      string       `yaml:"node_id"`
	Nodes       []NodeConfig `yaml:"nodes"`
}

// HTTPConfig is the static configuration for main http server.
type HTTPConfig struct {
	MaxConnections        int `yaml:"max_connections"`
	ReadTimeOutInSeconds  int `yaml:"read_time_out_in_seconds"`
	WriteTimeOutInSeconds int `yaml:"write_time_out_in_seconds"`
}

// StorageConfig is the static configuration for local data files.
type StorageConfig struct {
	RootPath string `yaml:"root_path"`
}

// CipherKeyConfig registers a cipher key of an organization.
type CipherKeyConfig struct {
	Org    string `yaml:"org"`
	Name   string `yaml:"name"`
	Secret string `yaml:"secret"`
}

// ServerConfig is the whole process configuration.
type ServerConfig struct {
	// HTTP port for the search API.
	Port int `yaml:"port"`
	// gRPC port for the flight service.
	FlightPort int    `yaml:"flight_port"`
	Version    string `yaml:"version"`

	Log     LogConfig     `yaml:"log"`
	Query   QueryConfig   `yaml:"query"`
	Index   IndexConfig   `yaml:"index"`
	Compact CompactConfig `yaml:"compact"`
	Cluster ClusterConfig `yaml:"cluster"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`

	CipherKeys []CipherKeyConfig `yaml:"cipher_keys"`
}

// DefaultServerConfig returns the configuration used when nothing overrides it.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:       5080,
		FlightPort: 5081,
		Query: QueryConfig{
			TimeoutSeconds:         600,
			IngesterTimeoutSeconds: 60,
			DefaultLimit:           1000,
			MaxJoinRightSideRows:   50000,
			QuickModeNumFields:     500,
			DashboardPlaceholder:   "_o2_all_",
			DefaultFullTextKeys:    []string{"log", "message", "msg", "content", "data", "body"},
			BatchChannelSize:       2,
			TargetPartitions:       4,
		},
		Index: IndexConfig{
			InvertedIndexEnabled: true,
			CountOptimizeEnabled: true,
			FilterRemovalEnabled: true,
		},
		Compact: CompactConfig{
			MaxFileSizeBytes:         256 << 20,
			DownsampleMinStepSeconds: 15,
			DownsampleValueField:     "value",
		},
		HTTP: HTTPConfig{
			MaxConnections:        1000,
			ReadTimeOutInSeconds:  20,
			WriteTimeOutInSeconds: 300,
		},
		Storage: StorageConfig{RootPath: "data"},
	}
}
