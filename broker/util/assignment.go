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

package util

import (
	"github.com/streamql/streamql/cluster"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/utils"
	"github.com/streamql/streamql/utils/consistenthasing"
)

// CalculateFileAssignment maps the files of a query to the querier nodes
// scanning them, keyed by node id. A file always goes to the same querier
// while membership is stable. Nodes without the querier role get no files.
func CalculateFileAssignment(nodes []cluster.Node, files []metaCom.FileKey) (map[string][]metaCom.FileKey, error) {
	as := make(map[string][]metaCom.FileKey, len(nodes))
	ring := consistenthasing.NewRing()
	for _, node := range nodes {
		if !node.IsQuerier() {
			continue
		}
		as[node.ID] = []metaCom.FileKey{}
		if err := ring.AddNode(node.ID); err != nil {
			return nil, utils.StackError(err, "failed to add node %s to hash ring", node.ID)
		}
	}

	for _, file := range files {
		id, err := ring.Get(file.Key)
		if err != nil {
			return nil, utils.StackError(err, "failed to assign querier for file %s", file.Key)
		}
		as[id] = append(as[id], file)
	}
	return as, nil
}
