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
	"sort"

	"github.com/pkg/errors"
	"github.com/streamql/streamql/common"
)

var errSelfNotInCluster = errors.New("local node is not part of the static cluster")

type staticMembership struct {
	self  Node
	nodes []Node
}

// NewStaticMembership creates a membership over a fixed node list. selfID must be one of nodes.
func NewStaticMembership(selfID string, nodes []Node) (Membership, error) {
	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, n := range sorted {
		if n.ID == selfID {
			return &staticMembership{self: n, nodes: sorted}, nil
		}
	}
	return nil, errors.Wrapf(errSelfNotInCluster, "node %s", selfID)
}

// NewStaticMembershipFromConfig creates a static membership from the cluster config.
// Without any configured node the local process forms a single node cluster with all roles.
func NewStaticMembershipFromConfig(cfg common.ClusterConfig, flightAddr string) (Membership, error) {
	if len(cfg.Nodes) == 0 {
		self := Node{
			ID:       cfg.NodeID,
			Name:     cfg.NodeID,
			GRPCAddr: flightAddr,
			Region:   cfg.Region,
			Cluster:  cfg.ClusterName,
			Roles:    []Role{RoleQuerier, RoleIngester},
		}
		return NewStaticMembership(self.ID, []Node{self})
	}
	nodes := make([]Node, 0, len(cfg.Nodes))
	for _, nc := range cfg.Nodes {
		n := Node{
			ID:        nc.ID,
			Name:      nc.Name,
			GRPCAddr:  nc.GRPCAddr,
			Region:    nc.Region,
			Cluster:   nc.Cluster,
			RoleGroup: RoleGroup(nc.RoleGroup),
		}
		for _, r := range nc.Roles {
			n.Roles = append(n.Roles, Role(r))
		}
		nodes = append(nodes, n)
	}
	return NewStaticMembership(cfg.NodeID, nodes)
}

func (m *staticMembership) Self() Node {
	return m.self
}

func (m *staticMembership) Nodes(ctx context.Context) ([]Node, error) {
	out := make([]Node, len(m.nodes))
	copy(out, m.nodes)
	return out, nil
}
