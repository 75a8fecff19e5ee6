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

package consistenthasing

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// DefaultReplicas is the number of virtual points each node owns on the ring.
const DefaultReplicas = 64

var (
	// ErrNodeIDExists indicates a duplicated node was added to the ring
	ErrNodeIDExists = errors.New("node with same id already exists")
	// ErrEmptyRing is returned when looking up a key on a ring without nodes.
	ErrEmptyRing = errors.New("ring has no nodes")
)

type point struct {
	nodeID string
	hash   uint64
}

type points []point

func (p points) Len() int { return len(p) }
func (p points) Less(i, j int) bool {
	if p[i].hash == p[j].hash {
		return p[i].nodeID < p[j].nodeID
	}
	return p[i].hash < p[j].hash
}
func (p points) Swap(i, j int) { p[i], p[j] = p[j], p[i] }

// Ring is a hash ring with virtual nodes. It is not safe for concurrent mutation;
// build it once and share it read-only.
type Ring struct {
	replicas int
	points   points
	nodes    map[string]struct{}
}

// NewRing returns a new ring with DefaultReplicas points per node.
func NewRing() *Ring {
	return NewRingWithReplicas(DefaultReplicas)
}

// NewRingWithReplicas returns a new ring with the given number of points per node.
func NewRingWithReplicas(replicas int) *Ring {
	if replicas <= 0 {
		replicas = 1
	}
	return &Ring{replicas: replicas, nodes: map[string]struct{}{}}
}

// AddNode adds a new node.
func (r *Ring) AddNode(id string) error {
	if _, ok := r.nodes[id]; ok {
		return ErrNodeIDExists
	}
	r.nodes[id] = struct{}{}
	for i := 0; i < r.replicas; i++ {
		r.points = append(r.points, point{nodeID: id, hash: hashKey(id + "#" + strconv.Itoa(i))})
	}
	sort.Sort(r.points)
	return nil
}

// Len returns the number of distinct nodes.
func (r *Ring) Len() int {
	return len(r.nodes)
}

// Get returns the id of the node owning key.
func (r *Ring) Get(key string) (string, error) {
	if len(r.points) == 0 {
		return "", ErrEmptyRing
	}
	h := hashKey(key)
	i := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].hash >= h
	})
	if i >= len(r.points) {
		i = 0
	}
	return r.points[i].nodeID, nil
}

func hashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}
