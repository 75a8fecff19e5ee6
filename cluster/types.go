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

package cluster

import (
	"context"
	"fmt"
)

// Role is a responsibility a node takes in the cluster.
type Role string

// Node roles.
const (
	RoleQuerier   Role = "querier"
	RoleIngester  Role = "ingester"
	RoleCompactor Role = "compactor"
)

// RoleGroup separates querier capacity by workload.
type RoleGroup string

// Role groups. RoleGroupNone serves every workload.
const (
	RoleGroupNone        RoleGroup = ""
	RoleGroupInteractive RoleGroup = "interactive"
	RoleGroupBackground  RoleGroup = "background"
)

// Node is a cluster member.
type Node struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	GRPCAddr  string    `json:"grpc_addr"`
	Region    string    `json:"region"`
	Cluster   string    `json:"cluster"`
	Roles     []Role    `json:"roles"`
	RoleGroup RoleGroup `json:"role_group,omitempty"`
}

// HasRole tells whether the node takes role.
func (n Node) HasRole(role Role) bool {
	for _, r := range n.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsQuerier tells whether the node scans stored files.
func (n Node) IsQuerier() bool {
	return n.HasRole(RoleQuerier)
}

// IsIngester tells whether the node serves recently ingested data.
func (n Node) IsIngester() bool {
	return n.HasRole(RoleIngester)
}

func (n Node) String() string {
	return fmt.Sprintf("Node<ID=%s, Addr=%s, Roles=%v>", n.ID, n.GRPCAddr, n.Roles)
}

// Membership resolves the live cluster members.
type Membership interface {
	// Self returns the local node.
	Self() Node
	// Nodes returns the live members, including the local node.
	Nodes(ctx context.Context) ([]Node, error)
}
