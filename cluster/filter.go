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

// Filter selects cluster members for a query.
type Filter struct {
	// Regions and Clusters restrict members when non empty.
	Regions  []string
	Clusters []string
	// RoleGroup restricts queriers to a workload group. Members without a group serve all groups.
	RoleGroup RoleGroup
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Apply returns the members matching the filter that can take part in a query:
// queriers of the requested role group and ingesters.
func (f Filter) Apply(nodes []Node) []Node {
	var out []Node
	for _, n := range nodes {
		if len(f.Regions) > 0 && !contains(f.Regions, n.Region) {
			continue
		}
		if len(f.Clusters) > 0 && !contains(f.Clusters, n.Cluster) {
			continue
		}
		if !n.IsQuerier() && !n.IsIngester() {
			continue
		}
		if n.IsQuerier() && !n.IsIngester() && f.RoleGroup != RoleGroupNone &&
			n.RoleGroup != RoleGroupNone && n.RoleGroup != f.RoleGroup {
			continue
		}
		out = append(out, n)
	}
	return out
}
